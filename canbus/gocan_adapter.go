package canbus

import (
	"context"
	"fmt"
	"time"

	"github.com/roffe/gocan"
)

// GocanAdapter wraps a github.com/roffe/gocan Client, giving the core a
// vendor-driver transport without depending on any single vendor's SDK
// directly — gocan already abstracts the OBDLink/CombiAdapter/J2534 layer
// the way the spec's §4.1 "vendor-specific driver" case calls for.
type GocanAdapter struct {
	client *gocan.Client
	ctx    context.Context
	cancel context.CancelFunc
}

// NewGocanAdapter adopts an already-configured gocan.Client.
func NewGocanAdapter(client *gocan.Client) *GocanAdapter {
	ctx, cancel := context.WithCancel(context.Background())
	return &GocanAdapter{client: client, ctx: ctx, cancel: cancel}
}

func (a *GocanAdapter) SendFrame(f Frame) error {
	if err := a.client.SendFrame(f.ID, f.Data, gocan.Outgoing); err != nil {
		return fmt.Errorf("gocan send: %w", err)
	}
	return nil
}

func (a *GocanAdapter) RecvFrame(deadline time.Time) (Frame, error) {
	timeout := time.Until(deadline)
	if timeout < 0 {
		timeout = 0
	}
	resp, err := a.client.Poll(a.ctx, timeout)
	if err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrRxTimeout, err)
	}
	return Frame{ID: resp.Identifier(), Data: resp.Data()}, nil
}

func (a *GocanAdapter) SetRxFilter(ids []uint32) error {
	return a.client.SetFilter(ids)
}

func (a *GocanAdapter) Close() error {
	a.cancel()
	return a.client.Close()
}
