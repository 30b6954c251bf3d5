package isotp

import (
	"context"
	"testing"
	"time"

	"github.com/n54tools/flashcore/canbus"
	"github.com/stretchr/testify/require"
)

// pipeAdapter is a full-duplex in-memory canbus.Adapter used only to give
// two Sessions a real transport to round-trip frames over in tests.
type pipeAdapter struct {
	out chan canbus.Frame
	in  chan canbus.Frame
}

func newPipePair() (*pipeAdapter, *pipeAdapter) {
	a := make(chan canbus.Frame, 64)
	b := make(chan canbus.Frame, 64)
	return &pipeAdapter{out: a, in: b}, &pipeAdapter{out: b, in: a}
}

func (p *pipeAdapter) SendFrame(f canbus.Frame) error {
	p.out <- f
	return nil
}

func (p *pipeAdapter) RecvFrame(deadline time.Time) (canbus.Frame, error) {
	timeout := time.Until(deadline)
	if timeout < 0 {
		timeout = 0
	}
	select {
	case f := <-p.in:
		return f, nil
	case <-time.After(timeout):
		return canbus.Frame{}, canbus.ErrRxTimeout
	}
}

func (p *pipeAdapter) SetRxFilter(ids []uint32) error { return nil }
func (p *pipeAdapter) Close() error                   { return nil }

func TestSession_SingleFrameRoundTrip(t *testing.T) {
	clientSide, ecuSide := newPipePair()
	addr := Address{TxID: 0x612, RxID: 0x613}
	ecuAddr := Address{TxID: 0x613, RxID: 0x612}

	client, err := NewSession(clientSide, addr, DefaultConfig())
	require.NoError(t, err)
	ecu, err := NewSession(ecuSide, ecuAddr, DefaultConfig())
	require.NoError(t, err)

	ctx := context.Background()
	go func() {
		msg, err := ecu.Receive(ctx, time.Second)
		require.NoError(t, err)
		_ = ecu.Send(ctx, append([]byte{0x50}, msg[1:]...))
	}()

	require.NoError(t, client.Send(ctx, []byte{0x10, 0x03}))
	resp, err := client.Receive(ctx, time.Second)
	require.NoError(t, err)
	require.Equal(t, []byte{0x50, 0x03}, resp)
}

func TestSession_MultiFrameRoundTrip(t *testing.T) {
	clientSide, ecuSide := newPipePair()
	addr := Address{TxID: 0x612, RxID: 0x613}
	ecuAddr := Address{TxID: 0x613, RxID: 0x612}

	cfg := DefaultConfig()
	client, err := NewSession(clientSide, addr, cfg)
	require.NoError(t, err)
	ecu, err := NewSession(ecuSide, ecuAddr, cfg)
	require.NoError(t, err)

	payload := make([]byte, 40)
	for i := range payload {
		payload[i] = byte(i)
	}

	ctx := context.Background()
	received := make(chan []byte, 1)
	go func() {
		msg, err := ecu.Receive(ctx, 2*time.Second)
		require.NoError(t, err)
		received <- msg
	}()

	require.NoError(t, client.Send(ctx, payload))

	select {
	case got := <-received:
		require.Equal(t, payload, got)
	case <-time.After(2 * time.Second):
		t.Fatal("ecu side never received the multi-frame payload")
	}
}

func TestSession_FlowControlOverflowIsReturnedAsError(t *testing.T) {
	clientSide, ecuSide := newPipePair()
	addr := Address{TxID: 0x612, RxID: 0x613}

	client, err := NewSession(clientSide, addr, DefaultConfig())
	require.NoError(t, err)

	go func() {
		time.Sleep(10 * time.Millisecond)
		_ = ecuSide.SendFrame(canbus.Frame{ID: 0x613, Data: encodeFlowControl(FlowStatusOverflow, 0, 0)})
	}()

	payload := make([]byte, 20)
	err = client.Send(context.Background(), payload)
	require.ErrorAs(t, err, &OverflowError{})
}
