package trb

// fieldDef names one (offset, mask) pair of a layout.
type fieldDef struct {
	name   string
	offset uint
	mask   uint32
}

// pointerKind selects how a layout assembles its leading 64-bit field.
type pointerKind uint8

const (
	noPointer pointerKind = iota
	// bits 0..63 as one address
	dataPointer
	// bits 4..63 of a 16-byte aligned address, low nibble implied zero
	contextPointer
)

// layout is the field table of one TRB type.
type layout struct {
	pointer     pointerKind
	pointerName string
	fields      []fieldDef
}

const (
	maskBit    = 0x1
	mask2      = 0x3
	mask5      = 0x1F
	mask8      = 0xFF
	mask10     = 0x3FF
	mask16     = 0xFFFF
	mask17     = 0x1FFFF
	mask24     = 0xFFFFFF
	mask28     = 0x0FFFFFFF
	maskDword  = 0xFFFFFFFF
	pointerLen = 64
)

// Flag and control bits shared by the transfer TRBs in dword 3.
var (
	cycleBit              = fieldDef{"cycle_bit", 96, maskBit}
	evaluateNextTRB       = fieldDef{"evaluate_next_trb", 97, maskBit}
	interruptOnShortPkt   = fieldDef{"interrupt_on_short_packet", 98, maskBit}
	noSnoop               = fieldDef{"no_snoop", 99, maskBit}
	chainBit              = fieldDef{"chain_bit", 100, maskBit}
	interruptOnCompletion = fieldDef{"interrupt_on_completion", 101, maskBit}
	immediateData         = fieldDef{"immediate_data", 102, maskBit}
	blockEventInterrupt   = fieldDef{"block_event_interrupt", 105, maskBit}
	interrupterTarget     = fieldDef{"interrupter_target", 86, mask10}
	transferLength17      = fieldDef{"trb_transfer_length", 64, mask17}
	tdSize                = fieldDef{"td_size", 81, mask5}
	completionCode        = fieldDef{"completion_code", 88, mask8}
	slotID                = fieldDef{"slot_id", 120, mask8}
)

// layouts is the dispatch table. Types without an entry decode to an
// envelope carrying only the type, its name and the raw bytes.
var layouts = map[Type]layout{
	TypeNormal: {
		pointer:     dataPointer,
		pointerName: "data_buffer_pointer",
		fields: []fieldDef{
			transferLength17,
			tdSize,
			interrupterTarget,
			cycleBit,
			evaluateNextTRB,
			interruptOnShortPkt,
			noSnoop,
			chainBit,
			interruptOnCompletion,
			immediateData,
			blockEventInterrupt,
		},
	},
	TypeSetupStage: {
		fields: []fieldDef{
			{"bm_request_type", 0, mask8},
			{"b_request", 8, mask8},
			{"w_value", 16, mask16},
			{"w_index", 32, mask16},
			{"w_length", 48, mask16},
			transferLength17,
			interrupterTarget,
			cycleBit,
			interruptOnCompletion,
			immediateData,
			{"transfer_type", 112, mask2},
		},
	},
	TypeDataStage: {
		pointer:     dataPointer,
		pointerName: "data_buffer_pointer",
		fields: []fieldDef{
			transferLength17,
			tdSize,
			interrupterTarget,
			cycleBit,
			evaluateNextTRB,
			interruptOnShortPkt,
			noSnoop,
			chainBit,
			interruptOnCompletion,
			immediateData,
			{"direction", 112, maskBit},
		},
	},
	TypeStatusStage: {
		fields: []fieldDef{
			interrupterTarget,
			cycleBit,
			evaluateNextTRB,
			chainBit,
			interruptOnCompletion,
			{"direction", 112, maskBit},
		},
	},
	TypeEventData: {
		pointer:     dataPointer,
		pointerName: "event_data",
		fields: []fieldDef{
			interrupterTarget,
			cycleBit,
			evaluateNextTRB,
			chainBit,
			interruptOnCompletion,
			blockEventInterrupt,
		},
	},
	TypeAddressDeviceCommand: {
		pointer:     contextPointer,
		pointerName: "input_context_pointer",
		fields: []fieldDef{
			cycleBit,
			{"block_set_address_request", 105, maskBit},
			slotID,
		},
	},
	TypeTransferEvent: {
		pointer:     dataPointer,
		pointerName: "trb_pointer",
		fields: []fieldDef{
			{"trb_transfer_length", 64, mask24},
			completionCode,
			cycleBit,
			{"event_data", 98, maskBit},
			{"endpoint_id", 112, mask5},
			slotID,
		},
	},
	TypeCommandCompletionEvent: {
		pointer:     contextPointer,
		pointerName: "command_trb_pointer",
		fields: []fieldDef{
			{"command_completion_parameter", 64, mask24},
			completionCode,
			cycleBit,
			{"vf_id", 112, mask8},
			slotID,
		},
	},
	TypePortStatusChangeEvent: {
		fields: []fieldDef{
			{"port_id", 24, mask8},
			completionCode,
			cycleBit,
		},
	},
}

// decode reads every field of l from buf.
func (l layout) decode(buf []byte) Fields {
	fields := make(Fields, 0, len(l.fields)+1)

	switch l.pointer {
	case dataPointer:
		fields = append(fields, Field{
			Name:   l.pointerName,
			Offset: 0,
			Width:  pointerLen,
			Kind:   KindPointer,
			Value:  readPointer(buf),
		})
	case contextPointer:
		fields = append(fields, Field{
			Name:   l.pointerName,
			Offset: 4,
			Width:  pointerLen - 4,
			Kind:   KindPointer,
			Value:  readContextPointer(buf),
		})
	}

	for _, def := range l.fields {
		kind := KindUint
		if def.mask == maskBit {
			kind = KindBit
		}
		fields = append(fields, Field{
			Name:   def.name,
			Offset: def.offset,
			Width:  MaskWidth(def.mask),
			Kind:   kind,
			Value:  uint64(GetBitField(buf, def.offset, def.mask)),
		})
	}
	return fields
}

// readPointer assembles the 64-bit value in bits 0..63 from two dword reads.
func readPointer(buf []byte) uint64 {
	lo := GetBitField(buf, 0, maskDword)
	hi := GetBitField(buf, 32, maskDword)
	return uint64(hi)<<32 | uint64(lo)
}

// readContextPointer assembles the 60-bit field in bits 4..63 and shifts it
// back into a 16-byte aligned address.
func readContextPointer(buf []byte) uint64 {
	lo := GetBitField(buf, 4, mask28)
	hi := GetBitField(buf, 32, maskDword)
	raw := uint64(hi)<<28 | uint64(lo)
	return raw << 4
}
