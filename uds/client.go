package uds

import (
	"context"
	"fmt"
	"sync"
	"time"

	retry "github.com/avast/retry-go/v4"
	"github.com/n54tools/flashcore/isotp"
	"github.com/sirupsen/logrus"
)

// responsePendingExtension is how long a single 0x78 (response pending)
// NRC extends the deadline by, mirroring the teacher's responsePendingTimeout.
const responsePendingExtension = 5 * time.Second

// RequestOptions configures one logical request, including the busy-NRC
// retry policy spec §5 requires.
type RequestOptions struct {
	Timeout    time.Duration
	MaxRetries uint
	RetryDelay time.Duration
}

// DefaultRequestOptions returns the timing spec §5 specifies for ordinary
// diagnostic requests.
func DefaultRequestOptions() RequestOptions {
	return RequestOptions{
		Timeout:    500 * time.Millisecond,
		MaxRetries: 3,
		RetryDelay: 100 * time.Millisecond,
	}
}

// Client is a diagnostic session bound to one isotp.Session, offering the
// request/response pattern spec §5 and §6 describe: send a service request,
// block for the matching positive response, transparently extend the
// deadline on NRC 0x78, and retry on the busy NRCs via avast/retry-go.
type Client struct {
	session *isotp.Session
	log     *logrus.Entry

	// mu serializes Request calls: the ISO-TP session underneath permits
	// only one outstanding request/response exchange at a time (spec §5),
	// but a keep-alive TesterPresent runs concurrently with the main phase
	// sequence, so both paths must go through the same lock rather than
	// racing directly on the session.
	mu sync.Mutex
}

// New binds a Client to an already-open isotp.Session.
func New(session *isotp.Session, log *logrus.Entry) *Client {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Client{session: session, log: log}
}

// Request sends payload and returns the ECU's positive response payload
// (with the SID echo stripped), applying opts' timeout/retry policy.
func (c *Client) Request(ctx context.Context, payload []byte, opts RequestOptions) ([]byte, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("uds: request payload must not be empty")
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	requestSID := payload[0]
	expectedSID := requestSID + 0x40

	var response []byte
	err := retry.Do(
		func() error {
			resp, err := c.singleRequest(ctx, payload, opts.Timeout)
			if err != nil {
				return err
			}
			response = resp
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(opts.MaxRetries+1),
		retry.Delay(opts.RetryDelay),
		retry.RetryIf(func(err error) bool {
			var nre *NegativeResponseError
			if ok := asNegativeResponse(err, &nre); ok {
				return nre.IsRetryable()
			}
			return false
		}),
		retry.OnRetry(func(n uint, err error) {
			c.log.WithFields(logrus.Fields{"sid": fmt.Sprintf("0x%02X", requestSID), "attempt": n, "err": err}).Warn("uds: retrying request")
		}),
	)
	if err != nil {
		return nil, err
	}

	if len(response) == 0 || response[0] != expectedSID {
		return nil, &UnexpectedResponseError{Expected: expectedSID, Got: firstByte(response)}
	}
	return response[1:], nil
}

func asNegativeResponse(err error, target **NegativeResponseError) bool {
	nre, ok := err.(*NegativeResponseError)
	if !ok {
		return false
	}
	*target = nre
	return true
}

func firstByte(b []byte) byte {
	if len(b) == 0 {
		return 0
	}
	return b[0]
}

// singleRequest sends payload once and waits for the matching response,
// extending the deadline on every 0x78 ResponsePending the way ISO
// 14229-1 requires.
func (c *Client) singleRequest(ctx context.Context, payload []byte, timeout time.Duration) ([]byte, error) {
	if err := c.session.Send(ctx, payload); err != nil {
		return nil, fmt.Errorf("uds: send: %w", err)
	}

	deadline := timeout
	for {
		data, err := c.session.Receive(ctx, deadline)
		if err != nil {
			return nil, fmt.Errorf("uds: receive: %w", err)
		}

		if len(data) >= 3 && data[0] == 0x7F {
			serviceID, nrc := data[1], data[2]
			if nrc == NRCRequestCorrectlyReceivedResponsePending {
				c.log.WithField("sid", fmt.Sprintf("0x%02X", serviceID)).Debug("uds: response pending, extending deadline")
				deadline = responsePendingExtension
				continue
			}
			return nil, &NegativeResponseError{ServiceID: serviceID, NRC: nrc}
		}
		return data, nil
	}
}

// TesterPresent sends a one-shot keep-alive (SID 0x3E, sub-function 0x00)
// and discards the response, for use in a periodic keep-alive loop.
func (c *Client) TesterPresent(ctx context.Context) error {
	_, err := c.Request(ctx, BuildTesterPresent(), RequestOptions{Timeout: 500 * time.Millisecond, MaxRetries: 0})
	return err
}

// Close releases the underlying session.
func (c *Client) Close() error {
	return c.session.Close()
}
