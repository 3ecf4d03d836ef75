package trb

import "math/bits"

// ExtractBits reads count bits starting at bit start, numbering bits from the
// least significant bit of buf[0] upward. Bits past the end of buf read as
// zero, so a read that starts or runs beyond the buffer never fails.
// At most 32 bits are returned; larger counts are clamped.
func ExtractBits(buf []byte, start, count uint) uint32 {
	total := uint(len(buf)) * 8
	if start >= total {
		return 0
	}
	if count > 32 {
		count = 32
	}

	var v uint32
	for i := uint(0); i < count; i++ {
		bit := start + i
		if bit >= total {
			break
		}
		v |= uint32(buf[bit/8]>>(bit%8)&1) << i
	}
	return v
}

// GetBitField reads the field at offset whose width is implied by mask.
//
// The width is floor(log2(mask))+1, so the result is only meaningful for masks
// made of contiguous low-order ones (0x1, 0x3F, 0xFFFF, ...). Every layout in
// this package uses such a mask; IsLowMask checks the property.
func GetBitField(buf []byte, offset uint, mask uint32) uint32 {
	return ExtractBits(buf, offset, MaskWidth(mask)) & mask
}

// MaskWidth returns the field width GetBitField derives from mask.
func MaskWidth(mask uint32) uint {
	return uint(bits.Len32(mask))
}

// IsLowMask reports whether mask is a non-empty run of low-order ones.
func IsLowMask(mask uint32) bool {
	return mask != 0 && mask&(mask+1) == 0
}
