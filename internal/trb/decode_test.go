package trb

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"reflect"
	"strings"
	"testing"
)

// newTRB returns a 16-byte buffer with the type field set to t.
func newTRB(t Type) []byte {
	buf := make([]byte, Size)
	setBits(buf, typeOffset, 6, uint64(t))
	return buf
}

func TestClassify(t *testing.T) {
	tests := []struct {
		typ      Type
		expected string
	}{
		{TypeNormal, "Normal"},
		{TypeSetupStage, "Setup Stage"},
		{TypeDataStage, "Data Stage"},
		{TypeStatusStage, "Status Stage"},
		{TypeLink, "Link"},
		{TypeEventData, "Event Data"},
		{TypeEnableSlotCommand, "Enable Slot Command"},
		{TypeDisableSlotCommand, "Disable Slot Command"},
		{TypeAddressDeviceCommand, "Address Device Command"},
		{TypeConfigureEndpointCmd, "Configure Endpoint Command"},
		{TypeEvaluateContextCommand, "Evaluate Context Command"},
		{TypeResetEndpointCommand, "Reset Endpoint Command"},
		{TypeStopEndpointCommand, "Stop Endpoint Command"},
		{TypeSetTRDequeuePointerCmd, "Set TR Dequeue Pointer Command"},
		{TypeResetDeviceCommand, "Reset Device Command"},
		{TypeTransferEvent, "Transfer Event"},
		{TypeCommandCompletionEvent, "Command Completion Event"},
		{TypePortStatusChangeEvent, "Port Status Change Event"},
		{0, "Unknown"},
		{5, "Unknown"},
		{8, "Unknown"},
		{35, "Unknown"},
		{63, "Unknown"},
	}

	for _, tt := range tests {
		typ, name := Classify(newTRB(tt.typ))
		if typ != tt.typ {
			t.Errorf("Classify type = %d, expected %d", typ, tt.typ)
		}
		if name != tt.expected {
			t.Errorf("Classify(%d) name = %q, expected %q", tt.typ, name, tt.expected)
		}
	}
}

func TestClassifyIgnoresOtherBits(t *testing.T) {
	buf := newTRB(TypeTransferEvent)
	for i := range buf {
		buf[i] = 0xFF
	}
	setBits(buf, typeOffset, 6, uint64(TypeTransferEvent))

	typ, name := Classify(buf)
	if typ != TypeTransferEvent || name != "Transfer Event" {
		t.Errorf("Classify = (%d, %q), expected (32, \"Transfer Event\")", typ, name)
	}
}

func TestKnownTypes(t *testing.T) {
	types := KnownTypes()
	if len(types) != 18 {
		t.Fatalf("expected 18 named types, got %d", len(types))
	}

	decodable := 0
	for _, typ := range types {
		if typ.Decodable() {
			decodable++
		}
	}
	if decodable != 9 {
		t.Errorf("expected 9 decodable types, got %d", decodable)
	}

	for typ := range layouts {
		if !typ.Known() {
			t.Errorf("layout for unnamed type %d", typ)
		}
	}
}

func TestDecodeLayoutsRoundTrip(t *testing.T) {
	for typ, l := range layouts {
		t.Run(typ.String(), func(t *testing.T) {
			buf := newTRB(typ)
			expected := map[string]uint64{}

			for i, def := range l.fields {
				// Alternating bit patterns, distinct per field.
				v := uint64(0xA5A5A5A5^uint32(i*0x01010101)) & uint64(def.mask)
				if def.mask == maskBit {
					v = 1
				}
				setBits(buf, def.offset, MaskWidth(def.mask), v)
				expected[def.name] = v
			}

			switch l.pointer {
			case dataPointer:
				setBits(buf, 0, 64, 0x0123456789ABCDEF)
				expected[l.pointerName] = 0x0123456789ABCDEF
			case contextPointer:
				setBits(buf, 0, 64, 0x0123456789ABCDE7)
				expected[l.pointerName] = 0x0123456789ABCDE0
			}

			env, err := Decode(buf)
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}
			if env.Type != typ || env.Name != typ.String() {
				t.Fatalf("envelope type = (%d, %q), expected (%d, %q)", env.Type, env.Name, typ, typ.String())
			}
			if len(env.Fields) != len(expected) {
				t.Fatalf("expected %d fields, got %d (%v)", len(expected), len(env.Fields), env.Fields.Names())
			}
			for name, want := range expected {
				f, ok := env.Fields.Get(name)
				if !ok {
					t.Errorf("field %s missing", name)
					continue
				}
				if f.Value != want {
					t.Errorf("field %s = 0x%x, expected 0x%x", name, f.Value, want)
				}
			}
		})
	}
}

func TestDecodeFieldTables(t *testing.T) {
	type fieldDef struct {
		offset uint
		width  uint
	}
	tables := map[Type]map[string]fieldDef{
		TypeSetupStage: {
			"bm_request_type": {0, 8}, "b_request": {8, 8}, "w_value": {16, 16},
			"w_index": {32, 16}, "w_length": {48, 16}, "trb_transfer_length": {64, 17},
			"interrupter_target": {86, 10}, "cycle_bit": {96, 1}, "interrupt_on_completion": {101, 1},
			"immediate_data": {102, 1}, "transfer_type": {112, 2},
		},
		TypeDataStage: {
			"data_buffer_pointer": {0, 64}, "trb_transfer_length": {64, 17}, "td_size": {81, 5},
			"interrupter_target": {86, 10}, "cycle_bit": {96, 1}, "evaluate_next_trb": {97, 1},
			"interrupt_on_short_packet": {98, 1}, "no_snoop": {99, 1}, "chain_bit": {100, 1},
			"interrupt_on_completion": {101, 1}, "immediate_data": {102, 1}, "direction": {112, 1},
		},
		TypeStatusStage: {
			"interrupter_target": {86, 10}, "cycle_bit": {96, 1}, "evaluate_next_trb": {97, 1},
			"chain_bit": {100, 1}, "interrupt_on_completion": {101, 1}, "direction": {112, 1},
		},
		TypeNormal: {
			"data_buffer_pointer": {0, 64}, "trb_transfer_length": {64, 17}, "td_size": {81, 5},
			"interrupter_target": {86, 10}, "cycle_bit": {96, 1}, "evaluate_next_trb": {97, 1},
			"interrupt_on_short_packet": {98, 1}, "no_snoop": {99, 1}, "chain_bit": {100, 1},
			"interrupt_on_completion": {101, 1}, "immediate_data": {102, 1}, "block_event_interrupt": {105, 1},
		},
		TypeEventData: {
			"event_data": {0, 64}, "interrupter_target": {86, 10}, "cycle_bit": {96, 1},
			"evaluate_next_trb": {97, 1}, "chain_bit": {100, 1}, "interrupt_on_completion": {101, 1},
			"block_event_interrupt": {105, 1},
		},
		TypeTransferEvent: {
			"trb_pointer": {0, 64}, "trb_transfer_length": {64, 24}, "completion_code": {88, 8},
			"cycle_bit": {96, 1}, "event_data": {98, 1}, "endpoint_id": {112, 5}, "slot_id": {120, 8},
		},
		TypeAddressDeviceCommand: {
			"input_context_pointer": {4, 60}, "cycle_bit": {96, 1},
			"block_set_address_request": {105, 1}, "slot_id": {120, 8},
		},
		TypeCommandCompletionEvent: {
			"command_trb_pointer": {4, 60}, "command_completion_parameter": {64, 24},
			"completion_code": {88, 8}, "cycle_bit": {96, 1}, "vf_id": {112, 8}, "slot_id": {120, 8},
		},
		TypePortStatusChangeEvent: {
			"port_id": {24, 8}, "completion_code": {88, 8}, "cycle_bit": {96, 1},
		},
	}

	if len(tables) != len(layouts) {
		t.Fatalf("expected %d layouts, got %d", len(tables), len(layouts))
	}

	for typ, table := range tables {
		env, err := Decode(newTRB(typ))
		if err != nil {
			t.Fatalf("%s: Decode failed: %v", typ, err)
		}
		if len(env.Fields) != len(table) {
			t.Errorf("%s: expected %d fields, got %v", typ, len(table), env.Fields.Names())
		}
		for name, def := range table {
			f, ok := env.Fields.Get(name)
			if !ok {
				t.Errorf("%s: field %s missing", typ, name)
				continue
			}
			if f.Offset != def.offset || f.Width != def.width {
				t.Errorf("%s: field %s at %d:%d, expected %d:%d", typ, name, f.Offset, f.Width, def.offset, def.width)
			}
			if def.width == 1 && f.Kind != KindBit {
				t.Errorf("%s: field %s kind = %s, expected bit", typ, name, f.Kind)
			}
		}
	}
}

func TestDecodeTransferEvent(t *testing.T) {
	buf := newTRB(TypeTransferEvent)
	setBits(buf, 88, 8, 0x01)
	setBits(buf, 120, 8, 0x02)

	env, err := Decode(buf)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	if env.Name != "Transfer Event" {
		t.Errorf("type name = %q, expected %q", env.Name, "Transfer Event")
	}
	if got := env.Fields.Value("completion_code"); got != 1 {
		t.Errorf("completion_code = %d, expected 1", got)
	}
	if got := env.Fields.Value("slot_id"); got != 2 {
		t.Errorf("slot_id = %d, expected 2", got)
	}
	if f, _ := env.Fields.Get("trb_pointer"); f.String() != "0x0000000000000000" {
		t.Errorf("trb_pointer = %s, expected 0x0000000000000000", f.String())
	}
}

func TestDecodeUnknownType(t *testing.T) {
	buf := make([]byte, Size)
	setBits(buf, typeOffset, 7, 99)

	env, err := Decode(buf)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if env.Name != UnknownName {
		t.Errorf("type name = %q, expected %q", env.Name, UnknownName)
	}
	if env.Type != 99&typeMask {
		t.Errorf("type = %d, expected %d", env.Type, 99&typeMask)
	}
	if len(env.Fields) != 0 {
		t.Errorf("expected no fields, got %v", env.Fields.Names())
	}
	if !bytes.Equal(env.Raw, buf) {
		t.Errorf("raw = %x, expected %x", []byte(env.Raw), buf)
	}

	data, err := json.Marshal(env.Fields)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if string(data) != "{}" {
		t.Errorf("fields JSON = %s, expected {}", data)
	}
}

func TestDecodeNamedWithoutLayout(t *testing.T) {
	for _, typ := range []Type{TypeLink, TypeEnableSlotCommand, TypeResetDeviceCommand} {
		env, err := Decode(newTRB(typ))
		if err != nil {
			t.Fatalf("Decode failed: %v", err)
		}
		if env.Name != typ.String() || env.Name == UnknownName {
			t.Errorf("type %d name = %q", typ, env.Name)
		}
		if len(env.Fields) != 0 {
			t.Errorf("type %d: expected no fields, got %v", typ, env.Fields.Names())
		}
	}
}

func TestDecodeAddressDeviceContextPointer(t *testing.T) {
	tests := []struct {
		name     string
		raw60    uint64
		expected string
	}{
		{
			name:     "small pointer",
			raw60:    0x0000000012345,
			expected: "0x0000000000123450",
		},
		{
			name:     "pointer spanning both dwords",
			raw60:    0x0FEDCBA987654321,
			expected: "0xfedcba9876543210",
		},
		{
			name:     "zero",
			raw60:    0,
			expected: "0x0000000000000000",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := newTRB(TypeAddressDeviceCommand)
			setBits(buf, 4, 60, tt.raw60)
			// RsvdZ nibble must not leak into the address.
			setBits(buf, 0, 4, 0xF)

			env, err := Decode(buf)
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}
			f, ok := env.Fields.Get("input_context_pointer")
			if !ok {
				t.Fatal("input_context_pointer missing")
			}
			if f.String() != tt.expected {
				t.Errorf("input_context_pointer = %s, expected %s", f.String(), tt.expected)
			}
			if f.Value != tt.raw60<<4 {
				t.Errorf("value = 0x%x, expected 0x%x", f.Value, tt.raw60<<4)
			}
		})
	}
}

func TestDecodeCommandCompletion(t *testing.T) {
	buf := newTRB(TypeCommandCompletionEvent)
	setBits(buf, 0, 64, 0x00000000FFEE1230)
	setBits(buf, 64, 24, 0xABCDEF)
	setBits(buf, 88, 8, uint64(CompletionSuccess))
	setBits(buf, 96, 1, 1)
	setBits(buf, 112, 8, 0x07)
	setBits(buf, 120, 8, 0x05)

	env, err := Decode(buf)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	checks := map[string]uint64{
		"command_trb_pointer":          0xFFEE1230,
		"command_completion_parameter": 0xABCDEF,
		"completion_code":              1,
		"cycle_bit":                    1,
		"vf_id":                        7,
		"slot_id":                      5,
	}
	for name, want := range checks {
		if got := env.Fields.Value(name); got != want {
			t.Errorf("%s = 0x%x, expected 0x%x", name, got, want)
		}
	}
}

func TestDecodeLength(t *testing.T) {
	tests := []struct {
		name          string
		length        int
		expectError   bool
		wantTruncated bool
	}{
		{name: "empty", length: 0, expectError: true},
		{name: "13 bytes", length: 13, expectError: true},
		{name: "14 bytes", length: 14, wantTruncated: true},
		{name: "15 bytes", length: 15, wantTruncated: true},
		{name: "16 bytes", length: 16},
		{name: "oversized", length: 32},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			full := newTRB(TypeTransferEvent)
			setBits(full, 120, 8, 0xFF)
			setBits(full, 112, 5, 0x1F)
			buf := make([]byte, tt.length)
			copy(buf, full)

			env, err := Decode(buf)
			if tt.expectError {
				if err == nil {
					t.Fatal("Expected error but got none")
				}
				if !errors.Is(err, ErrTooShort) {
					t.Errorf("expected ErrTooShort, got %v", err)
				}
				var lerr *LengthError
				if !errors.As(err, &lerr) {
					t.Fatalf("expected *LengthError, got %T", err)
				}
				if lerr.Length != tt.length || lerr.Min != MinLength {
					t.Errorf("LengthError = %+v", lerr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Expected no error but got: %v", err)
			}
			if env.Truncated != tt.wantTruncated {
				t.Errorf("Truncated = %v, expected %v", env.Truncated, tt.wantTruncated)
			}
			if len(env.Raw) != tt.length {
				t.Errorf("raw length = %d, expected %d", len(env.Raw), tt.length)
			}
			if tt.length < Size {
				// Byte 15 holds the slot ID; it is missing and reads as zero.
				if got := env.Fields.Value("slot_id"); got != 0 {
					t.Errorf("slot_id = %d, expected 0 for %d-byte buffer", got, tt.length)
				}
			} else if got := env.Fields.Value("slot_id"); got != 0xFF {
				t.Errorf("slot_id = %d, expected 255", got)
			}
		})
	}
}

func TestDecoderMinLength(t *testing.T) {
	d, err := NewDecoder(WithMinLength(Size))
	if err != nil {
		t.Fatalf("NewDecoder failed: %v", err)
	}
	if d.MinLength() != Size {
		t.Errorf("MinLength = %d, expected %d", d.MinLength(), Size)
	}

	if _, err := d.Decode(make([]byte, 15)); !errors.Is(err, ErrTooShort) {
		t.Errorf("expected ErrTooShort for 15 bytes, got %v", err)
	}
	if _, err := d.Decode(newTRB(TypeNormal)); err != nil {
		t.Errorf("expected 16 bytes to decode, got %v", err)
	}

	for _, n := range []int{0, 13, 17} {
		if _, err := NewDecoder(WithMinLength(n)); err == nil {
			t.Errorf("WithMinLength(%d): expected error", n)
		}
	}
}

func TestDecodeIdempotent(t *testing.T) {
	buf := newTRB(TypeDataStage)
	for i := 0; i < 13; i++ {
		buf[i] = byte(0x11 * i)
	}

	first, err := Decode(buf)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	second, err := Decode(buf)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("decoding twice differs:\n%+v\n%+v", first, second)
	}
}

func TestDecodeCopiesInput(t *testing.T) {
	buf := newTRB(TypePortStatusChangeEvent)
	setBits(buf, 24, 8, 3)

	env, err := Decode(buf)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	buf[3] = 0xFF

	if env.Raw[3] != 3 {
		t.Errorf("raw aliases input buffer: raw[3] = 0x%x", env.Raw[3])
	}
	if got := env.Fields.Value("port_id"); got != 3 {
		t.Errorf("port_id = %d, expected 3", got)
	}
}

func TestEnvelopeJSON(t *testing.T) {
	buf := newTRB(TypeTransferEvent)
	setBits(buf, 0, 64, 0x00000001DEADBEEF)
	setBits(buf, 88, 8, 13)

	env, err := Decode(buf)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	data, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	s := string(data)

	for _, want := range []string{
		`"trb_type":32`,
		`"type_name":"Transfer Event"`,
		`"data":{"trb_pointer":"0x00000001deadbeef","trb_transfer_length":0,"completion_code":13,`,
		`"raw":[239,190,173,222,1,0,0,0,`,
	} {
		if !strings.Contains(s, want) {
			t.Errorf("JSON missing %s: %s", want, s)
		}
	}
	if strings.Contains(s, "truncated") {
		t.Errorf("full TRB should omit truncated: %s", s)
	}

	var decoded struct {
		Raw RawBytes `json:"raw"`
	}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if !bytes.Equal(decoded.Raw, buf) {
		t.Errorf("raw round trip = %x, expected %x", []byte(decoded.Raw), buf)
	}
}

func TestRawBytesUnmarshalRejectsOutOfRange(t *testing.T) {
	var r RawBytes
	if err := json.Unmarshal([]byte(`[1, 256]`), &r); err == nil {
		t.Error("expected error for value 256")
	}
	if err := json.Unmarshal([]byte(`"AQI="`), &r); err == nil {
		t.Error("expected error for base64 string")
	}
}

func TestDecoderLogsAtDebug(t *testing.T) {
	var out bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&out, &slog.HandlerOptions{Level: slog.LevelDebug}))
	d, err := NewDecoder(WithLogger(logger))
	if err != nil {
		t.Fatalf("NewDecoder failed: %v", err)
	}

	buf := newTRB(TypePortStatusChangeEvent)
	setBits(buf, 24, 8, 4)
	if _, err := d.Decode(buf); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	logged := out.String()
	for _, want := range []string{"TRB decoded", "type_name=\"Port Status Change Event\"", "port_id=4"} {
		if !strings.Contains(logged, want) {
			t.Errorf("log missing %q: %s", want, logged)
		}
	}

	out.Reset()
	quiet, _ := NewDecoder(WithLogger(slog.New(slog.NewTextHandler(&out, &slog.HandlerOptions{Level: slog.LevelInfo}))))
	if _, err := quiet.Decode(buf); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if out.Len() != 0 {
		t.Errorf("expected no output above debug, got %s", out.String())
	}
}
