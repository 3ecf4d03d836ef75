// Package trb decodes xHCI Transfer Request Blocks.
// It implements the little-endian bit field reader, the 6-bit type dispatch at
// bit 106 and the per-type field layouts, producing an Envelope per buffer.
package trb
