package isotp

import (
	"context"
	"time"

	"github.com/n54tools/flashcore/canbus"
)

// Session is a point-to-point ISO-TP link over a single canbus.Adapter,
// bound to one Address pair. Unlike the teacher's multiplexed Transport
// (which pumps an independent rx/tx goroutine pair and can interleave many
// logical conversations), flashing one ECU is always one request in flight
// at a time, so Session exposes blocking Send/Receive calls instead of a
// background event loop.
type Session struct {
	adapter canbus.Adapter
	addr    Address
	cfg     Config
}

// NewSession binds an adapter to an address pair and configuration.
func NewSession(adapter canbus.Adapter, addr Address, cfg Config) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := adapter.SetRxFilter([]uint32{addr.RxID}); err != nil {
		return nil, err
	}
	return &Session{adapter: adapter, addr: addr, cfg: cfg}, nil
}

// Send transmits payload as a Single Frame (<=7 bytes) or a First
// Frame/Consecutive Frame sequence, driven by FlowControl frames from the
// ECU, matching the sender side of ISO 15765-2.
func (s *Session) Send(ctx context.Context, payload []byte) error {
	if len(payload) <= 7 {
		return s.sendRaw(encodeSingleFrame(payload))
	}
	if len(payload) > 4095 {
		return FrameTooLongError{IsoTpError: NewIsoTpError("isotp: payload exceeds 4095-byte multi-frame limit")}
	}

	firstChunkLen := 6
	if err := s.sendRaw(encodeFirstFrame(len(payload), payload[:firstChunkLen])); err != nil {
		return err
	}
	remaining := payload[firstChunkLen:]

	fc, err := s.awaitFlowControl(ctx)
	if err != nil {
		return err
	}

	seq := byte(1)
	blocksSent := 0
	for len(remaining) > 0 {
		if fc.BlockSize > 0 && blocksSent == int(fc.BlockSize) {
			fc, err = s.awaitFlowControl(ctx)
			if err != nil {
				return err
			}
			blocksSent = 0
		}

		chunkLen := 7
		if chunkLen > len(remaining) {
			chunkLen = len(remaining)
		}
		if err := s.sendRaw(encodeConsecutiveFrame(seq, remaining[:chunkLen])); err != nil {
			return err
		}
		remaining = remaining[chunkLen:]
		seq = (seq + 1) & 0x0F
		blocksSent++

		if stmin := separationTime(fc.STmin); stmin > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(stmin):
			}
		}
	}
	return nil
}

// separationTime converts an ISO-TP STmin byte to a time.Duration. Values
// 0x00-0x7F are milliseconds; 0xF1-0xF9 are 100-900 microseconds.
func separationTime(stmin byte) time.Duration {
	switch {
	case stmin <= 0x7F:
		return time.Duration(stmin) * time.Millisecond
	case stmin >= 0xF1 && stmin <= 0xF9:
		return time.Duration(stmin-0xF0) * 100 * time.Microsecond
	default:
		return 0
	}
}

func (s *Session) sendRaw(pdu []byte) error {
	frame := canbus.Frame{ID: s.addr.TxID, Data: padFrame(pdu, s.cfg.PaddingByte)}
	return s.adapter.SendFrame(frame)
}

func (s *Session) awaitFlowControl(ctx context.Context) (FlowControlFrame, error) {
	for {
		frame, err := s.recvRaw(ctx, s.cfg.TimeoutN_Bs)
		if err != nil {
			return FlowControlFrame{}, FlowControlTimeoutError{IsoTpError: NewIsoTpError(err.Error())}
		}
		decoded, err := decodeFrame(frame.Data)
		if err != nil {
			return FlowControlFrame{}, err
		}
		if decoded.kind != pciFlowControl {
			continue
		}
		switch decoded.fc.Status {
		case FlowStatusContinue:
			return decoded.fc, nil
		case FlowStatusWait:
			continue
		case FlowStatusOverflow:
			return FlowControlFrame{}, OverflowError{IsoTpError: NewIsoTpError("isotp: ECU reported N_Bs overflow")}
		default:
			return FlowControlFrame{}, UnexpectedFlowControlError{}
		}
	}
}

func (s *Session) recvRaw(ctx context.Context, timeout time.Duration) (canbus.Frame, error) {
	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	for {
		frame, err := s.adapter.RecvFrame(deadline)
		if err != nil {
			return canbus.Frame{}, err
		}
		if frame.ID != s.addr.RxID {
			continue
		}
		return frame, nil
	}
}

// Receive reassembles one complete ISO-TP message, sending FlowControl
// frames as needed and enforcing N_Cr between Consecutive Frames.
func (s *Session) Receive(ctx context.Context, timeout time.Duration) ([]byte, error) {
	frame, err := s.recvRaw(ctx, timeout)
	if err != nil {
		return nil, err
	}
	decoded, err := decodeFrame(frame.Data)
	if err != nil {
		return nil, err
	}

	switch decoded.kind {
	case pciSingleFrame:
		return decoded.payload, nil

	case pciFirstFrame:
		return s.receiveMultiFrame(ctx, decoded)

	default:
		return nil, MalformedFrameError{IsoTpError: NewIsoTpError("isotp: expected SF or FF, got CF/FC")}
	}
}

func (s *Session) receiveMultiFrame(ctx context.Context, ff decodedFrame) ([]byte, error) {
	buf := make([]byte, 0, ff.ffLen)
	buf = append(buf, ff.payload...)

	if err := s.sendRaw(encodeFlowControl(FlowStatusContinue, s.cfg.BlockSize, s.cfg.STmin)); err != nil {
		return nil, err
	}

	expectedSeq := byte(1)
	blocksReceived := 0
	for len(buf) < ff.ffLen {
		frame, err := s.recvRaw(ctx, s.cfg.TimeoutN_Cr)
		if err != nil {
			return nil, ConsecutiveFrameTimeoutError{IsoTpError: NewIsoTpError(err.Error())}
		}
		decoded, err := decodeFrame(frame.Data)
		if err != nil {
			return nil, err
		}
		if decoded.kind != pciConsecutiveFrame {
			return nil, MalformedFrameError{IsoTpError: NewIsoTpError("isotp: expected consecutive frame")}
		}
		if decoded.cfIndex != expectedSeq {
			return nil, WrongSequenceNumberError{Expected: expectedSeq, Got: decoded.cfIndex}
		}

		remaining := ff.ffLen - len(buf)
		chunk := decoded.payload
		if len(chunk) > remaining {
			chunk = chunk[:remaining]
		}
		buf = append(buf, chunk...)
		expectedSeq = (expectedSeq + 1) & 0x0F
		blocksReceived++

		if s.cfg.BlockSize > 0 && blocksReceived == int(s.cfg.BlockSize) && len(buf) < ff.ffLen {
			if err := s.sendRaw(encodeFlowControl(FlowStatusContinue, s.cfg.BlockSize, s.cfg.STmin)); err != nil {
				return nil, err
			}
			blocksReceived = 0
		}
	}
	return buf, nil
}

// Close releases the underlying adapter.
func (s *Session) Close() error {
	return s.adapter.Close()
}
