// Package canbus defines the narrow transport contract every CAN adapter in
// this repo implements: send a frame, receive a frame with a deadline, set
// an RX filter, close. Nothing above this layer retries — all retry policy
// lives in isotp and uds.
package canbus

import (
	"errors"
	"fmt"
	"time"
)

// Frame is one physical CAN frame: an arbitration ID and up to 8 data bytes.
// CAN-FD framing is out of scope for this core (the target controllers are
// classic 500kbit/s CAN).
type Frame struct {
	ID         uint32
	Data       []byte
	ExtendedID bool
}

func (f Frame) String() string {
	return fmt.Sprintf("ID=0x%03X DLC=%d Data=% 02X", f.ID, len(f.Data), f.Data)
}

// Sentinel transport errors from spec §4.1. No retry happens at this layer.
var (
	ErrBusOff     = errors.New("canbus: bus-off")
	ErrTxOverflow = errors.New("canbus: tx overflow")
	ErrRxTimeout  = errors.New("canbus: rx timeout")
	ErrClosed     = errors.New("canbus: adapter closed")
)

// Adapter is the contract every CAN transport implementation satisfies.
// A transport binds to at most one ISO-TP session at a time.
type Adapter interface {
	SendFrame(f Frame) error
	RecvFrame(deadline time.Time) (Frame, error)
	SetRxFilter(ids []uint32) error
	Close() error
}
