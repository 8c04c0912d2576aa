package envelope

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"
)

type Framing string

const (
	// FramingRaw writes envelopes back to back and reads one bounded block.
	FramingRaw Framing = "raw"
	// FramingLengthPrefixed writes a 4-byte big-endian length before each
	// envelope. Envelope bytes are unchanged.
	FramingLengthPrefixed Framing = "framed"

	DefaultMaxRead  = 4096
	DefaultMaxFrame = 4 << 20
)

var ErrFrameTooLarge = errors.New("frame exceeds limit")

func ParseFraming(raw string) (Framing, error) {
	switch Framing(strings.ToLower(strings.TrimSpace(raw))) {
	case FramingRaw:
		return FramingRaw, nil
	case FramingLengthPrefixed, "":
		return FramingLengthPrefixed, nil
	default:
		return "", fmt.Errorf("unsupported framing %q", raw)
	}
}

// Codec moves sealed envelopes over a stream.
type Codec struct {
	Framing  Framing
	MaxRead  int
	MaxFrame int
}

func NewCodec(f Framing) Codec {
	return Codec{Framing: f, MaxRead: DefaultMaxRead, MaxFrame: DefaultMaxFrame}
}

func (c Codec) maxRead() int {
	if c.MaxRead <= 0 {
		return DefaultMaxRead
	}
	return c.MaxRead
}

func (c Codec) maxFrame() int {
	if c.MaxFrame <= 0 {
		return DefaultMaxFrame
	}
	return c.MaxFrame
}

func (c Codec) WriteEnvelope(w io.Writer, env []byte) error {
	if c.Framing != FramingLengthPrefixed {
		_, err := w.Write(env)
		return err
	}
	if len(env) > c.maxFrame() {
		return fmt.Errorf("%w: %d > %d bytes", ErrFrameTooLarge, len(env), c.maxFrame())
	}
	buf := make([]byte, 4+len(env))
	binary.BigEndian.PutUint32(buf, uint32(len(env)))
	copy(buf[4:], env)
	_, err := w.Write(buf)
	return err
}

// ReadEnvelope returns io.EOF when the peer closed before sending anything.
func (c Codec) ReadEnvelope(r io.Reader) ([]byte, error) {
	if c.Framing != FramingLengthPrefixed {
		buf := make([]byte, c.maxRead())
		n, err := r.Read(buf)
		if n > 0 {
			return buf[:n], nil
		}
		if err == nil {
			err = io.EOF
		}
		return nil, err
	}

	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("read frame header: %w", err)
		}
		return nil, err
	}
	size := binary.BigEndian.Uint32(hdr[:])
	if uint64(size) > uint64(c.maxFrame()) {
		return nil, fmt.Errorf("%w: %d > %d bytes", ErrFrameTooLarge, size, c.maxFrame())
	}
	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("read frame body: %w", err)
	}
	return body, nil
}
