package trb

import "testing"

// setBits writes the low width bits of value into buf at bit offset,
// least significant bit first.
func setBits(buf []byte, offset, width uint, value uint64) {
	for i := uint(0); i < width; i++ {
		bit := offset + i
		if value>>i&1 == 1 {
			buf[bit/8] |= 1 << (bit % 8)
		} else {
			buf[bit/8] &^= 1 << (bit % 8)
		}
	}
}

func TestExtractBits(t *testing.T) {
	tests := []struct {
		name     string
		buf      []byte
		start    uint
		count    uint
		expected uint32
	}{
		{
			name:     "whole first byte",
			buf:      []byte{0xA5, 0x00},
			start:    0,
			count:    8,
			expected: 0xA5,
		},
		{
			name:     "low nibble",
			buf:      []byte{0xA5},
			start:    0,
			count:    4,
			expected: 0x5,
		},
		{
			name:     "high nibble",
			buf:      []byte{0xA5},
			start:    4,
			count:    4,
			expected: 0xA,
		},
		{
			name:     "crosses byte boundary",
			buf:      []byte{0xF0, 0x0F},
			start:    4,
			count:    8,
			expected: 0xFF,
		},
		{
			name:     "little endian word",
			buf:      []byte{0x78, 0x56, 0x34, 0x12},
			start:    0,
			count:    32,
			expected: 0x12345678,
		},
		{
			name:     "odd offset across three bytes",
			buf:      []byte{0x80, 0xFF, 0x01},
			start:    7,
			count:    10,
			expected: 0x3FF,
		},
		{
			name:     "runs past end reads zeros",
			buf:      []byte{0xFF},
			start:    4,
			count:    8,
			expected: 0x0F,
		},
		{
			name:     "start at end",
			buf:      []byte{0xFF, 0xFF},
			start:    16,
			count:    8,
			expected: 0,
		},
		{
			name:     "start far beyond end",
			buf:      []byte{0xFF},
			start:    1000,
			count:    32,
			expected: 0,
		},
		{
			name:     "empty buffer",
			buf:      nil,
			start:    0,
			count:    8,
			expected: 0,
		},
		{
			name:     "count clamped to 32",
			buf:      []byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF},
			start:    0,
			count:    48,
			expected: 0xFFFFFFFF,
		},
		{
			name:     "zero count",
			buf:      []byte{0xFF},
			start:    0,
			count:    0,
			expected: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractBits(tt.buf, tt.start, tt.count)
			if got != tt.expected {
				t.Errorf("ExtractBits(%x, %d, %d) = 0x%x, expected 0x%x",
					tt.buf, tt.start, tt.count, got, tt.expected)
			}
		})
	}
}

func TestExtractBitsOutOfRangeIsZero(t *testing.T) {
	buf := []byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}
	total := uint(len(buf)) * 8

	for start := total; start < total+64; start++ {
		for _, count := range []uint{1, 5, 8, 17, 32} {
			if got := ExtractBits(buf, start, count); got != 0 {
				t.Fatalf("ExtractBits(start=%d, count=%d) = 0x%x, expected 0", start, count, got)
			}
		}
	}
}

func TestExtractBitsMatchesSetBits(t *testing.T) {
	for offset := uint(0); offset < 96; offset += 7 {
		buf := make([]byte, Size)
		setBits(buf, offset, 32, 0xDEADBEEF)
		if got := ExtractBits(buf, offset, 32); got != 0xDEADBEEF {
			t.Errorf("offset %d: got 0x%x, expected 0xdeadbeef", offset, got)
		}
	}
}

func TestGetBitField(t *testing.T) {
	buf := make([]byte, Size)
	for i := range buf {
		buf[i] = byte(i*37 + 11)
	}

	masks := map[uint32]bool{}
	for _, l := range layouts {
		for _, def := range l.fields {
			masks[def.mask] = true
		}
	}
	masks[typeMask] = true
	masks[mask28] = true
	masks[maskDword] = true

	for mask := range masks {
		if !IsLowMask(mask) {
			t.Errorf("mask 0x%x is not a contiguous low-order mask", mask)
			continue
		}
		for offset := uint(0); offset < Size*8; offset++ {
			want := ExtractBits(buf, offset, MaskWidth(mask)) & mask
			if got := GetBitField(buf, offset, mask); got != want {
				t.Fatalf("GetBitField(offset=%d, mask=0x%x) = 0x%x, expected 0x%x", offset, mask, got, want)
			}
		}
	}
}

func TestMaskWidth(t *testing.T) {
	tests := []struct {
		mask     uint32
		expected uint
	}{
		{0x0, 0},
		{0x1, 1},
		{0x3, 2},
		{0x1F, 5},
		{0x3F, 6},
		{0x3FF, 10},
		{0xFFFF, 16},
		{0x1FFFF, 17},
		{0xFFFFFF, 24},
		{0x0FFFFFFF, 28},
		{0xFFFFFFFF, 32},
		// Non-prefix masks keep the width of their highest bit.
		{0x80, 8},
		{0x30, 6},
	}

	for _, tt := range tests {
		if got := MaskWidth(tt.mask); got != tt.expected {
			t.Errorf("MaskWidth(0x%x) = %d, expected %d", tt.mask, got, tt.expected)
		}
	}
}

func TestIsLowMask(t *testing.T) {
	tests := []struct {
		mask     uint32
		expected bool
	}{
		{0x1, true},
		{0x3F, true},
		{0xFFFFFFFF, true},
		{0x0, false},
		{0x2, false},
		{0x30, false},
		{0x5, false},
	}

	for _, tt := range tests {
		if got := IsLowMask(tt.mask); got != tt.expected {
			t.Errorf("IsLowMask(0x%x) = %v, expected %v", tt.mask, got, tt.expected)
		}
	}
}
