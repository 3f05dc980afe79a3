package midibridge

import (
	"errors"
	"fmt"

	"gitlab.com/gomidi/midi/v2"
)

var (
	// ErrEncode is returned when a message cannot be turned into wire bytes.
	ErrEncode = errors.New("cannot encode MIDI event")
	// ErrDecode is returned when a byte does not fit the current parser state.
	ErrDecode = errors.New("cannot decode MIDI byte")
	// ErrDecodeOverflow is returned when a message does not fit the parser buffer.
	ErrDecodeOverflow = errors.New("MIDI parser buffer overflow")
	// ErrCodecSize is returned for a codec created with a non-positive buffer size.
	ErrCodecSize = errors.New("invalid MIDI codec buffer size")
)

const (
	statusSysEx = 0xF0
	statusEOX   = 0xF7
)

// dataLength returns the number of data bytes following a status byte, or -1
// for status bytes that do not start a fixed-size message.
func dataLength(status byte) int {
	switch {
	case status >= 0x80 && status < 0xF0:
		switch status & 0xF0 {
		case 0xC0, 0xD0:
			return 1
		default:
			return 2
		}
	case status == 0xF1, status == 0xF3:
		return 1
	case status == 0xF2:
		return 2
	case status == 0xF6:
		return 0
	default:
		return -1
	}
}

func isRealtime(b byte) bool { return b >= 0xF8 }

// Codec converts between complete MIDI messages and the raw byte stream
// carried by a transport MIDI stream. Running status is used on encode and
// understood on decode. A Codec is not safe for concurrent use; each port owns
// one and touches it from a single task.
type Codec struct {
	size int

	// encoder
	txStatus byte

	// decoder
	rxStatus byte
	rxNeed   int
	rxSysEx  bool
	rxBuf    []byte
}

// NewCodec creates a codec whose decoder can hold messages of up to size bytes.
func NewCodec(size int) (*Codec, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrCodecSize, size)
	}
	return &Codec{size: size, rxBuf: make([]byte, 0, size)}, nil
}

// Encode writes the wire form of msg into dst and returns the number of bytes used.
func (c *Codec) Encode(msg midi.Message, dst []byte) (int, error) {
	if len(msg) == 0 {
		return 0, fmt.Errorf("%w: empty message", ErrEncode)
	}

	status := msg[0]
	if status < 0x80 {
		return 0, fmt.Errorf("%w: missing status byte in % X", ErrEncode, []byte(msg))
	}

	src := []byte(msg)
	switch {
	case isRealtime(status):
		src = src[:1]
	case status >= 0xF0:
		// system common and exclusive cancel running status
		c.txStatus = 0
	case status == c.txStatus:
		src = src[1:]
	default:
		c.txStatus = status
	}

	if len(src) > len(dst) {
		return 0, fmt.Errorf("%w: %d bytes do not fit a %d byte buffer", ErrEncode, len(src), len(dst))
	}
	return copy(dst, src), nil
}

// ResetEncoder forgets the running status, forcing the next message to carry its status byte.
func (c *Codec) ResetEncoder() {
	c.txStatus = 0
}

// Decode feeds one byte into the parser. It returns a message once one is complete.
// The returned message does not alias the internal buffer.
func (c *Codec) Decode(b byte) (midi.Message, bool, error) {
	if isRealtime(b) {
		return midi.Message{b}, true, nil
	}

	switch {
	case b == statusSysEx:
		c.rxStatus = 0
		c.rxSysEx = true
		c.rxBuf = append(c.rxBuf[:0], b)
		return nil, false, nil

	case b == statusEOX:
		if !c.rxSysEx {
			c.resetDecoder()
			return nil, false, fmt.Errorf("%w: end of exclusive without start", ErrDecode)
		}
		return c.appendAndFlush(b)

	case b >= 0x80:
		c.rxSysEx = false
		n := dataLength(b)
		if n < 0 {
			c.resetDecoder()
			return nil, false, fmt.Errorf("%w: undefined status 0x%02X", ErrDecode, b)
		}
		c.rxBuf = append(c.rxBuf[:0], b)
		c.rxNeed = n
		if b < 0xF0 {
			c.rxStatus = b
		} else {
			c.rxStatus = 0
		}
		if n == 0 {
			return c.flush()
		}
		return nil, false, nil
	}

	// data byte
	if c.rxSysEx {
		if len(c.rxBuf) >= c.size {
			c.resetDecoder()
			return nil, false, fmt.Errorf("%w: exclusive message exceeds %d bytes", ErrDecodeOverflow, c.size)
		}
		c.rxBuf = append(c.rxBuf, b)
		return nil, false, nil
	}

	if len(c.rxBuf) == 0 {
		if c.rxStatus == 0 {
			return nil, false, fmt.Errorf("%w: data byte 0x%02X without status", ErrDecode, b)
		}
		c.rxBuf = append(c.rxBuf, c.rxStatus)
		c.rxNeed = dataLength(c.rxStatus)
	}

	if len(c.rxBuf) >= c.size {
		c.resetDecoder()
		return nil, false, fmt.Errorf("%w: message exceeds %d bytes", ErrDecodeOverflow, c.size)
	}
	c.rxBuf = append(c.rxBuf, b)
	if len(c.rxBuf)-1 == c.rxNeed {
		return c.flush()
	}
	return nil, false, nil
}

func (c *Codec) appendAndFlush(b byte) (midi.Message, bool, error) {
	if len(c.rxBuf) >= c.size {
		c.resetDecoder()
		return nil, false, fmt.Errorf("%w: exclusive message exceeds %d bytes", ErrDecodeOverflow, c.size)
	}
	c.rxBuf = append(c.rxBuf, b)
	c.rxSysEx = false
	return c.flush()
}

func (c *Codec) flush() (midi.Message, bool, error) {
	msg := make(midi.Message, len(c.rxBuf))
	copy(msg, c.rxBuf)
	c.rxBuf = c.rxBuf[:0]
	return msg, true, nil
}

func (c *Codec) resetDecoder() {
	c.rxStatus = 0
	c.rxNeed = 0
	c.rxSysEx = false
	c.rxBuf = c.rxBuf[:0]
}
