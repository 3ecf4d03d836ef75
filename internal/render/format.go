package render

import (
	"fmt"
	"strings"

	"github.com/samber/lo"

	"github.com/skypro1111/trbscope/internal/trb"
)

// Standard USB request codes (USB 2.0 Table 9-4).
var standardRequests = map[uint64]string{
	0x00: "GET_STATUS",
	0x01: "CLEAR_FEATURE",
	0x03: "SET_FEATURE",
	0x05: "SET_ADDRESS",
	0x06: "GET_DESCRIPTOR",
	0x07: "SET_DESCRIPTOR",
	0x08: "GET_CONFIGURATION",
	0x09: "SET_CONFIGURATION",
	0x0A: "GET_INTERFACE",
	0x0B: "SET_INTERFACE",
	0x0C: "SYNCH_FRAME",
	0x30: "SET_SEL",
	0x31: "SET_ISOCH_DELAY",
}

const (
	requestTypeTypeMask  = 0x60
	requestTypeStandard  = 0x00
	requestTypeDirection = 0x80
)

// HexDump renders the first 16 bytes of raw as four dwords, each printed most
// significant byte first, so the words read the way the xHCI tables draw them.
func HexDump(raw []byte) string {
	if len(raw) > trb.Size {
		raw = raw[:trb.Size]
	}
	words := lo.Map(lo.Chunk(raw, 4), func(word []byte, _ int) string {
		var sb strings.Builder
		for i := len(word) - 1; i >= 0; i-- {
			fmt.Fprintf(&sb, "%02x", word[i])
		}
		return sb.String()
	})
	return strings.Join(words, " ")
}

// FormatValue renders a field value: pointers as 16 hex digits, flag bits as
// 0 or 1, other integers as zero-padded hex followed by the decimal value.
func FormatValue(f trb.Field) string {
	switch f.Kind {
	case trb.KindPointer:
		return trb.FormatPointer(f.Value)
	case trb.KindBit:
		return fmt.Sprintf("%d", f.Value)
	default:
		digits := int((f.Width + 3) / 4)
		return fmt.Sprintf("0x%0*x (%d)", digits, f.Value, f.Value)
	}
}

// Annotate returns a human-readable meaning for coded fields, or "".
func Annotate(env *trb.Envelope, f trb.Field) string {
	switch f.Name {
	case "completion_code":
		return trb.CompletionCode(f.Value).String()
	case "transfer_type":
		return trb.TransferType(f.Value).String()
	case "direction":
		if f.Value == 1 {
			return "IN"
		}
		return "OUT"
	case "bm_request_type":
		return describeRequestType(f.Value)
	case "b_request":
		if env.Fields.Value("bm_request_type")&requestTypeTypeMask != requestTypeStandard {
			return ""
		}
		if name, ok := standardRequests[f.Value]; ok {
			return name
		}
	}
	return ""
}

func describeRequestType(v uint64) string {
	dir := "Host-to-device"
	if v&requestTypeDirection != 0 {
		dir = "Device-to-host"
	}
	kind := [...]string{"Standard", "Class", "Vendor", "Reserved"}[v&requestTypeTypeMask>>5]
	recipient := "Reserved"
	switch v & 0x1F {
	case 0:
		recipient = "Device"
	case 1:
		recipient = "Interface"
	case 2:
		recipient = "Endpoint"
	case 3:
		recipient = "Other"
	}
	return dir + ", " + kind + ", " + recipient
}

// Title returns the header line for an envelope, e.g. "Type 32: Transfer Event".
func Title(env *trb.Envelope) string {
	title := fmt.Sprintf("Type %d: %s", env.Type, env.Name)
	if env.Truncated {
		title += fmt.Sprintf(" (truncated, %d bytes)", len(env.Raw))
	}
	return title
}

var setupLabels = map[string]string{
	"bm_request_type": "bmRequestType",
	"b_request":       "bRequest",
	"w_value":         "wValue",
	"w_index":         "wIndex",
	"w_length":        "wLength",
}

// Label converts a field name to display form, e.g. "slot_id" -> "Slot ID".
func Label(name string) string {
	if l, ok := setupLabels[name]; ok {
		return l
	}
	words := strings.Split(name, "_")
	for i, w := range words {
		switch w {
		case "id", "trb", "td", "vf":
			words[i] = strings.ToUpper(w)
		default:
			if w != "" {
				words[i] = strings.ToUpper(w[:1]) + w[1:]
			}
		}
	}
	return strings.Join(words, " ")
}
