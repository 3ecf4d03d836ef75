package trb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
)

const (
	// Size is the size of a TRB in bytes.
	Size = 16

	// MinLength is the default minimum buffer length accepted by Decode.
	// Buffers of MinLength..Size-1 bytes decode with the missing high bits
	// read as zero and Envelope.Truncated set.
	MinLength = 14
)

// ErrTooShort is matched by every LengthError.
var ErrTooShort = errors.New("trb: buffer too short")

// LengthError reports a buffer shorter than the decoder's minimum.
type LengthError struct {
	Length int
	Min    int
}

func (e *LengthError) Error() string {
	return fmt.Sprintf("trb: buffer too short: expected at least %d bytes, got %d", e.Min, e.Length)
}

func (e *LengthError) Is(target error) bool {
	return target == ErrTooShort
}

// RawBytes is a byte slice that encodes as a JSON array of numbers.
type RawBytes []byte

func (r RawBytes) MarshalJSON() ([]byte, error) {
	ints := make([]uint16, len(r))
	for i, b := range r {
		ints[i] = uint16(b)
	}
	return json.Marshal(ints)
}

func (r *RawBytes) UnmarshalJSON(data []byte) error {
	var ints []uint16
	if err := json.Unmarshal(data, &ints); err != nil {
		return fmt.Errorf("raw bytes: %w", err)
	}
	out := make(RawBytes, len(ints))
	for i, v := range ints {
		if v > 0xFF {
			return fmt.Errorf("raw bytes: value %d at index %d out of range", v, i)
		}
		out[i] = byte(v)
	}
	*r = out
	return nil
}

// Envelope is the result of decoding one buffer.
type Envelope struct {
	Type      Type     `json:"trb_type"`
	Name      string   `json:"type_name"`
	Fields    Fields   `json:"data"`
	Raw       RawBytes `json:"raw"`
	Truncated bool     `json:"truncated,omitempty"`
}

// Decoder decodes TRBs with a configurable length gate and optional logging.
// A Decoder holds no mutable state and may be shared between goroutines.
type Decoder struct {
	logger    *slog.Logger
	minLength int
}

// Option configures a Decoder.
type Option func(*Decoder) error

// WithLogger sets the logger decoded TRBs are reported to at debug level.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Decoder) error {
		if logger != nil {
			d.logger = logger
		}
		return nil
	}
}

// WithMinLength sets the length gate. It must lie in [MinLength, Size];
// Size rejects every buffer that cannot hold a whole TRB.
func WithMinLength(n int) Option {
	return func(d *Decoder) error {
		if n < MinLength || n > Size {
			return fmt.Errorf("min length must be between %d and %d, got %d", MinLength, Size, n)
		}
		d.minLength = n
		return nil
	}
}

// NewDecoder creates a decoder with the given options applied.
func NewDecoder(opts ...Option) (*Decoder, error) {
	d := &Decoder{
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		minLength: MinLength,
	}
	for _, opt := range opts {
		if err := opt(d); err != nil {
			return nil, err
		}
	}
	return d, nil
}

var defaultDecoder = &Decoder{
	logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	minLength: MinLength,
}

// Decode decodes buf with the default length gate and no logging.
func Decode(buf []byte) (*Envelope, error) {
	return defaultDecoder.Decode(buf)
}

// MinLength returns the decoder's length gate.
func (d *Decoder) MinLength() int {
	return d.minLength
}

// Decode classifies buf and decodes the fields of its type. buf is copied
// into the envelope and never retained.
func (d *Decoder) Decode(buf []byte) (*Envelope, error) {
	if len(buf) < d.minLength {
		return nil, &LengthError{Length: len(buf), Min: d.minLength}
	}

	t, name := Classify(buf)
	env := &Envelope{
		Type:      t,
		Name:      name,
		Fields:    Fields{},
		Raw:       append(RawBytes(nil), buf...),
		Truncated: len(buf) < Size,
	}
	if l, ok := layouts[t]; ok {
		env.Fields = l.decode(buf)
	}

	if d.logger.Enabled(context.Background(), slog.LevelDebug) {
		attrs := make([]any, 0, len(env.Fields)+3)
		attrs = append(attrs,
			slog.Int("trb_type", int(t)),
			slog.String("type_name", name),
			slog.Bool("truncated", env.Truncated),
		)
		for _, f := range env.Fields {
			attrs = append(attrs, slog.String(f.Name, f.String()))
		}
		d.logger.Debug("TRB decoded", attrs...)
	}

	return env, nil
}
