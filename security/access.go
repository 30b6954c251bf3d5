package security

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/n54tools/flashcore/uds"
	"github.com/sirupsen/logrus"
)

// SecurityDeniedError is returned once the lockout policy trips: three
// consecutive failed key attempts within one session.
type SecurityDeniedError struct {
	Attempts int
}

func (e *SecurityDeniedError) Error() string {
	return fmt.Sprintf("security: access denied after %d failed attempts", e.Attempts)
}

const (
	maxConsecutiveFailures = 3
	defaultLockoutBackoff  = 10 * time.Second
)

// Manager runs the seed/key handshake against a uds.Client, trying every
// registered algorithm in order and caching the first algorithm that works
// for a given ECU so later unlocks in the same flashing session skip
// straight to it.
type Manager struct {
	client  *uds.Client
	log     *logrus.Entry
	cache   *ttlcache.Cache[string, string] // ecuKey -> algorithm name
	backoff time.Duration
}

// Option configures a Manager, following the same functional-options shape
// flashcore.Option uses.
type Option func(*Manager)

// WithLockoutBackoff overrides the default 10s lockout backoff, per spec
// §6's security.lockout_backoff_ms configuration key. The cache TTL for the
// last-successful algorithm is pinned to this same duration, per spec §5.
func WithLockoutBackoff(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.backoff = d
		}
	}
}

// NewManager wraps a uds.Client with the security-access policy.
func NewManager(client *uds.Client, log *logrus.Entry, opts ...Option) *Manager {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	m := &Manager{client: client, log: log, backoff: defaultLockoutBackoff}
	for _, opt := range opts {
		opt(m)
	}
	m.cache = ttlcache.New[string, string](ttlcache.WithTTL[string, string](m.backoff))
	go m.cache.Start()
	return m
}

// Unlock performs SecurityAccess level `level` against ecuKey (typically
// the ECU's ROM ID or serial), trying the cached algorithm first if one is
// known, then every remaining registered algorithm in order. It fails
// closed with SecurityDeniedError after three consecutive rejected keys.
func (m *Manager) Unlock(ctx context.Context, ecuKey string, level byte) error {
	order := m.candidateOrder(ecuKey)

	failures := 0
	var lastErr error
	for _, name := range order {
		if failures >= maxConsecutiveFailures {
			return &SecurityDeniedError{Attempts: failures}
		}

		err := m.tryAlgorithm(ctx, name, level)
		if err == nil {
			m.cache.Set(ecuKey, name, ttlcache.DefaultTTL)
			return nil
		}

		var nre *uds.NegativeResponseError
		if errors.As(err, &nre) && nre.IsSecurityDenied() {
			failures++
			m.log.WithFields(logrus.Fields{"algorithm": name, "failures": failures}).Warn("security: key rejected")
			lastErr = err
			if failures >= maxConsecutiveFailures {
				m.log.WithField("backoff", m.backoff).Warn("security: lockout backoff engaged")
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(m.backoff):
				}
				return &SecurityDeniedError{Attempts: failures}
			}
			continue
		}
		// Non-security error (timeout, transport failure): surface it
		// immediately rather than burning through the attempt budget.
		return err
	}

	if lastErr != nil {
		return lastErr
	}
	return fmt.Errorf("security: no algorithms available")
}

// candidateOrder puts a cached-good algorithm for this ECU first, followed
// by the remaining names in their default try-all order.
func (m *Manager) candidateOrder(ecuKey string) []string {
	all := Names()
	item := m.cache.Get(ecuKey)
	if item == nil {
		return all
	}
	cached := item.Value()
	ordered := []string{cached}
	for _, name := range all {
		if name != cached {
			ordered = append(ordered, name)
		}
	}
	return ordered
}

func (m *Manager) tryAlgorithm(ctx context.Context, name string, level byte) error {
	resp, err := m.client.Request(ctx, uds.BuildSecurityAccessRequestSeed(level), uds.DefaultRequestOptions())
	if err != nil {
		return err
	}
	seed := resp[1:] // strip the echoed sub-function byte
	if allZero(seed) {
		// Already unlocked: the ECU returns an all-zero seed when the
		// requested security level is already granted.
		return nil
	}

	key, err := compute(name, seed)
	if err != nil {
		return err
	}

	_, err = m.client.Request(ctx, uds.BuildSecurityAccessSendKey(level, key), uds.DefaultRequestOptions())
	return err
}

func allZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return len(b) > 0
}

// Close stops the background TTL eviction goroutine.
func (m *Manager) Close() {
	m.cache.Stop()
}
