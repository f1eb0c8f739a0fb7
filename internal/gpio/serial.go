package gpio

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"go.bug.st/serial"
)

// SerialChip drives pins on a remote I/O expander over a serial line.
//
// The wire protocol is a fixed 5-byte frame in both directions:
//
//	SOF(0x7E) opcode(1) pin(1) value(1) checksum(1)
//
// where checksum = opcode XOR pin XOR value. The expander answers a request
// with opcode|0x80 and the pin echoed; value carries the read level for
// opReadPin and 0 otherwise. A request the expander cannot serve is
// answered with opNak and an error code in value.
type SerialChip struct {
	port   serial.Port
	mu     sync.Mutex // one transaction on the wire at a time
	logger *slog.Logger
}

const (
	frameSOF uint8 = 0x7E
	frameLen       = 5

	opConfigInput  uint8 = 0x01
	opConfigOutput uint8 = 0x02
	opReadPin      uint8 = 0x03
	opWritePin     uint8 = 0x04
	opNak          uint8 = 0xFF

	respFlag uint8 = 0x80

	serialReadTimeout = 200 * time.Millisecond
	resyncLimit       = 64
)

var errReadTimeout = errors.New("gpio: expander read timeout")

// NewSerialChip opens the expander's serial port.
func NewSerialChip(portName string, baudRate int, logger *slog.Logger) (*SerialChip, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("gpio: open %s: %w", portName, err)
	}
	if err := port.SetReadTimeout(serialReadTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("gpio: set read timeout: %w", err)
	}
	return &SerialChip{port: port, logger: logger}, nil
}

func (c *SerialChip) OpenInput(pin int, cfg InputConfig) (InputPin, error) {
	if pin < 0 || pin > 255 {
		return nil, fmt.Errorf("gpio: expander pin %d out of range", pin)
	}
	if _, err := c.transact(opConfigInput, uint8(pin), uint8(cfg.Pull)); err != nil {
		return nil, fmt.Errorf("gpio: config input %d: %w", pin, err)
	}
	return &serialInput{chip: c, pin: uint8(pin), invert: cfg.Invert}, nil
}

func (c *SerialChip) OpenOutput(pin int, cfg OutputConfig) (OutputPin, error) {
	if pin < 0 || pin > 255 {
		return nil, fmt.Errorf("gpio: expander pin %d out of range", pin)
	}
	if _, err := c.transact(opConfigOutput, uint8(pin), levelByte(cfg.Initial)); err != nil {
		return nil, fmt.Errorf("gpio: config output %d: %w", pin, err)
	}
	return &serialOutput{chip: c, pin: uint8(pin)}, nil
}

func (c *SerialChip) Close() error {
	return c.port.Close()
}

// transact writes one request frame and reads the matching response.
func (c *SerialChip) transact(op, pin, value uint8) (uint8, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	frame := encodeFrame(op, pin, value)
	if _, err := c.port.Write(frame); err != nil {
		return 0, fmt.Errorf("serial write: %w", err)
	}

	respOp, respPin, respValue, err := readFrame(c.port)
	if err != nil {
		return 0, err
	}
	if respOp == opNak {
		return 0, fmt.Errorf("expander nak for op 0x%02X pin %d (code %d)", op, pin, respValue)
	}
	if respOp != op|respFlag || respPin != pin {
		return 0, fmt.Errorf("expander response mismatch: got op 0x%02X pin %d, want op 0x%02X pin %d",
			respOp, respPin, op|respFlag, pin)
	}
	return respValue, nil
}

// encodeFrame builds one wire frame.
func encodeFrame(op, pin, value uint8) []byte {
	return []byte{frameSOF, op, pin, value, op ^ pin ^ value}
}

// decodeFrame validates a complete frame and returns its fields.
func decodeFrame(buf []byte) (op, pin, value uint8, err error) {
	if len(buf) != frameLen {
		return 0, 0, 0, fmt.Errorf("gpio: frame length %d, want %d", len(buf), frameLen)
	}
	if buf[0] != frameSOF {
		return 0, 0, 0, fmt.Errorf("gpio: bad frame start 0x%02X", buf[0])
	}
	if buf[1]^buf[2]^buf[3] != buf[4] {
		return 0, 0, 0, fmt.Errorf("gpio: frame checksum mismatch")
	}
	return buf[1], buf[2], buf[3], nil
}

// readFrame reads one frame, discarding noise bytes until a start-of-frame
// is seen. A zero-length read means the port's read timeout expired.
func readFrame(r io.Reader) (op, pin, value uint8, err error) {
	var b [1]byte
	for skipped := 0; ; skipped++ {
		if skipped > resyncLimit {
			return 0, 0, 0, fmt.Errorf("gpio: no frame start within %d bytes", resyncLimit)
		}
		n, rerr := r.Read(b[:])
		if rerr != nil {
			return 0, 0, 0, fmt.Errorf("gpio: serial read: %w", rerr)
		}
		if n == 0 {
			return 0, 0, 0, errReadTimeout
		}
		if b[0] == frameSOF {
			break
		}
	}

	buf := make([]byte, frameLen)
	buf[0] = frameSOF
	for have := 1; have < frameLen; {
		n, rerr := r.Read(buf[have:])
		if rerr != nil {
			return 0, 0, 0, fmt.Errorf("gpio: serial read: %w", rerr)
		}
		if n == 0 {
			return 0, 0, 0, errReadTimeout
		}
		have += n
	}
	return decodeFrame(buf)
}

func levelByte(level bool) uint8 {
	if level {
		return 1
	}
	return 0
}

type serialInput struct {
	chip   *SerialChip
	pin    uint8
	invert bool
}

// Read asks the expander for the raw line level and applies inversion
// locally.
func (p *serialInput) Read() (bool, error) {
	v, err := p.chip.transact(opReadPin, p.pin, 0)
	if err != nil {
		return false, err
	}
	level := v != 0
	if p.invert {
		level = !level
	}
	return level, nil
}

type serialOutput struct {
	chip *SerialChip
	pin  uint8
}

func (p *serialOutput) Write(level bool) error {
	_, err := p.chip.transact(opWritePin, p.pin, levelByte(level))
	return err
}
