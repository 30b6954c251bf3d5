package canbus

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"
)

// SerialGateway talks to a slcan-style ASCII CAN-to-serial gateway: frames
// go over the wire as "t<3-hex-id><1-hex-len><data-hex>\r" for standard IDs
// and "T<8-hex-id><1-hex-len><data-hex>\r" for extended ones, one line per
// frame, matching the line-oriented gateways roffe-txlogger and
// sagostin-goefidash both drive over go.bug.st/serial.
type SerialGateway struct {
	mu     sync.Mutex
	port   serial.Port
	reader *bufio.Reader
	closed bool
}

// OpenSerialGateway opens portPath at baud and performs the slcan open
// sequence (set bitrate, open channel).
func OpenSerialGateway(portPath string, baud int) (*SerialGateway, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(portPath, mode)
	if err != nil {
		return nil, fmt.Errorf("serial gateway: open %s: %w", portPath, err)
	}
	if err := port.SetReadTimeout(500 * time.Millisecond); err != nil {
		port.Close()
		return nil, fmt.Errorf("serial gateway: set timeout: %w", err)
	}

	g := &SerialGateway{
		port:   port,
		reader: bufio.NewReader(port),
	}

	// S6 = 500 kbit/s per the spec's bus speed; O = open channel.
	if err := g.writeLine("S6"); err != nil {
		port.Close()
		return nil, err
	}
	if err := g.writeLine("O"); err != nil {
		port.Close()
		return nil, err
	}
	return g, nil
}

func (g *SerialGateway) writeLine(s string) error {
	_, err := g.port.Write([]byte(s + "\r"))
	return err
}

func (g *SerialGateway) SendFrame(f Frame) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return ErrClosed
	}

	var sb strings.Builder
	if f.ExtendedID {
		fmt.Fprintf(&sb, "T%08X%X", f.ID, len(f.Data))
	} else {
		fmt.Fprintf(&sb, "t%03X%X", f.ID, len(f.Data))
	}
	for _, b := range f.Data {
		fmt.Fprintf(&sb, "%02X", b)
	}
	if err := g.writeLine(sb.String()); err != nil {
		return fmt.Errorf("%w: %v", ErrTxOverflow, err)
	}
	return nil
}

func (g *SerialGateway) RecvFrame(deadline time.Time) (Frame, error) {
	for {
		if time.Now().After(deadline) {
			return Frame{}, ErrRxTimeout
		}
		line, err := g.reader.ReadString('\r')
		if err != nil {
			continue
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		frame, ok := parseSlcanLine(line)
		if !ok {
			continue
		}
		return frame, nil
	}
}

func parseSlcanLine(line string) (Frame, bool) {
	if len(line) == 0 {
		return Frame{}, false
	}
	extended := line[0] == 'T'
	if line[0] != 't' && !extended {
		return Frame{}, false
	}

	idLen := 3
	if extended {
		idLen = 8
	}
	if len(line) < 1+idLen+1 {
		return Frame{}, false
	}

	id, err := strconv.ParseUint(line[1:1+idLen], 16, 32)
	if err != nil {
		return Frame{}, false
	}
	dlc, err := strconv.ParseUint(line[1+idLen:2+idLen], 16, 8)
	if err != nil || dlc > 8 {
		return Frame{}, false
	}

	dataStart := 2 + idLen
	data := make([]byte, 0, dlc)
	for i := 0; i < int(dlc); i++ {
		if dataStart+2*i+2 > len(line) {
			return Frame{}, false
		}
		b, err := strconv.ParseUint(line[dataStart+2*i:dataStart+2*i+2], 16, 8)
		if err != nil {
			return Frame{}, false
		}
		data = append(data, byte(b))
	}

	return Frame{ID: uint32(id), Data: data, ExtendedID: extended}, true
}

func (g *SerialGateway) SetRxFilter(ids []uint32) error {
	// The slcan wire protocol this gateway speaks has no native hardware
	// filter command; filtering happens one layer up in isotp.Address.
	return nil
}

func (g *SerialGateway) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return nil
	}
	g.closed = true
	_ = g.writeLine("C")
	return g.port.Close()
}
