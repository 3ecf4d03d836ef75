package trb

import "fmt"

// Type is the 6-bit TRB type field at bit offset 106.
type Type uint8

// TRB types with a symbolic name (xHCI 1.2 Table 6-91).
const (
	TypeNormal                 Type = 1
	TypeSetupStage             Type = 2
	TypeDataStage              Type = 3
	TypeStatusStage            Type = 4
	TypeLink                   Type = 6
	TypeEventData              Type = 7
	TypeEnableSlotCommand      Type = 9
	TypeDisableSlotCommand     Type = 10
	TypeAddressDeviceCommand   Type = 11
	TypeConfigureEndpointCmd   Type = 12
	TypeEvaluateContextCommand Type = 13
	TypeResetEndpointCommand   Type = 14
	TypeStopEndpointCommand    Type = 15
	TypeSetTRDequeuePointerCmd Type = 16
	TypeResetDeviceCommand     Type = 17
	TypeTransferEvent          Type = 32
	TypeCommandCompletionEvent Type = 33
	TypePortStatusChangeEvent  Type = 34
)

// UnknownName is reported for every type without a symbolic name.
const UnknownName = "Unknown"

const (
	typeOffset = 106
	typeMask   = 0x3F
)

var typeNames = map[Type]string{
	TypeNormal:                 "Normal",
	TypeSetupStage:             "Setup Stage",
	TypeDataStage:              "Data Stage",
	TypeStatusStage:            "Status Stage",
	TypeLink:                   "Link",
	TypeEventData:              "Event Data",
	TypeEnableSlotCommand:      "Enable Slot Command",
	TypeDisableSlotCommand:     "Disable Slot Command",
	TypeAddressDeviceCommand:   "Address Device Command",
	TypeConfigureEndpointCmd:   "Configure Endpoint Command",
	TypeEvaluateContextCommand: "Evaluate Context Command",
	TypeResetEndpointCommand:   "Reset Endpoint Command",
	TypeStopEndpointCommand:    "Stop Endpoint Command",
	TypeSetTRDequeuePointerCmd: "Set TR Dequeue Pointer Command",
	TypeResetDeviceCommand:     "Reset Device Command",
	TypeTransferEvent:          "Transfer Event",
	TypeCommandCompletionEvent: "Command Completion Event",
	TypePortStatusChangeEvent:  "Port Status Change Event",
}

// String returns the symbolic name of t, or "Unknown".
func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return UnknownName
}

// Known reports whether t has a symbolic name.
func (t Type) Known() bool {
	_, ok := typeNames[t]
	return ok
}

// Decodable reports whether t has a field layout.
func (t Type) Decodable() bool {
	_, ok := layouts[t]
	return ok
}

// KnownTypes returns every named type in ascending order.
func KnownTypes() []Type {
	types := make([]Type, 0, len(typeNames))
	for t := Type(0); t <= typeMask; t++ {
		if t.Known() {
			types = append(types, t)
		}
	}
	return types
}

// Classify reads the type field of buf and resolves its name. It never fails;
// a buffer too short to hold the type field classifies as type 0.
func Classify(buf []byte) (Type, string) {
	t := Type(GetBitField(buf, typeOffset, typeMask))
	return t, t.String()
}

// TransferType is the TRT field of a Setup Stage TRB.
type TransferType uint8

// Setup Stage transfer types.
const (
	TransferNoData   TransferType = 0
	TransferReserved TransferType = 1
	TransferOut      TransferType = 2
	TransferIn       TransferType = 3
)

func (t TransferType) String() string {
	switch t {
	case TransferNoData:
		return "No Data Stage"
	case TransferReserved:
		return "Reserved"
	case TransferOut:
		return "OUT Data Stage"
	case TransferIn:
		return "IN Data Stage"
	default:
		return fmt.Sprintf("Invalid (%d)", uint8(t))
	}
}
