package trb

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Kind describes how a decoded value is represented.
type Kind uint8

const (
	KindUint    Kind = iota // unsigned integer up to 32 bits
	KindBit                 // single flag bit
	KindPointer             // 64-bit address
)

func (k Kind) String() string {
	switch k {
	case KindUint:
		return "uint"
	case KindBit:
		return "bit"
	case KindPointer:
		return "pointer"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Field is one decoded TRB field.
type Field struct {
	Name   string
	Offset uint // first bit of the field within the TRB
	Width  uint // width in bits
	Kind   Kind
	Value  uint64
}

// String renders pointers as zero-padded 16-digit hex and everything else in decimal.
func (f Field) String() string {
	if f.Kind == KindPointer {
		return FormatPointer(f.Value)
	}
	return strconv.FormatUint(f.Value, 10)
}

// FormatPointer renders a 64-bit address as "0x" followed by 16 hex digits.
func FormatPointer(v uint64) string {
	return fmt.Sprintf("0x%016x", v)
}

// Fields holds the decoded fields of one TRB in layout order.
type Fields []Field

// Get returns the field called name.
func (fs Fields) Get(name string) (Field, bool) {
	for _, f := range fs {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Value returns the raw value of the field called name, or 0 if absent.
func (fs Fields) Value(name string) uint64 {
	f, _ := fs.Get(name)
	return f.Value
}

// Names lists the field names in layout order.
func (fs Fields) Names() []string {
	names := make([]string, len(fs))
	for i, f := range fs {
		names[i] = f.Name
	}
	return names
}

// MarshalJSON encodes the fields as a JSON object in layout order. Pointers
// are strings so consumers without 64-bit integers keep every digit.
func (fs Fields) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range fs {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(f.Name)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		if f.Kind == KindPointer {
			buf.WriteString(strconv.Quote(FormatPointer(f.Value)))
		} else {
			buf.WriteString(strconv.FormatUint(f.Value, 10))
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
