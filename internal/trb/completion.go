package trb

import "fmt"

// CompletionCode is the completion status carried by event TRBs.
type CompletionCode uint8

// Completion codes (xHCI 1.2 Table 6-90).
const (
	CompletionInvalid                 CompletionCode = 0
	CompletionSuccess                 CompletionCode = 1
	CompletionDataBufferError         CompletionCode = 2
	CompletionBabbleDetected          CompletionCode = 3
	CompletionUSBTransactionError     CompletionCode = 4
	CompletionTRBError                CompletionCode = 5
	CompletionStallError              CompletionCode = 6
	CompletionResourceError           CompletionCode = 7
	CompletionBandwidthError          CompletionCode = 8
	CompletionNoSlotsAvailable        CompletionCode = 9
	CompletionInvalidStreamType       CompletionCode = 10
	CompletionSlotNotEnabled          CompletionCode = 11
	CompletionEndpointNotEnabled      CompletionCode = 12
	CompletionShortPacket             CompletionCode = 13
	CompletionRingUnderrun            CompletionCode = 14
	CompletionRingOverrun             CompletionCode = 15
	CompletionVFEventRingFull         CompletionCode = 16
	CompletionParameterError          CompletionCode = 17
	CompletionBandwidthOverrun        CompletionCode = 18
	CompletionContextStateError       CompletionCode = 19
	CompletionNoPingResponse          CompletionCode = 20
	CompletionEventRingFull           CompletionCode = 21
	CompletionIncompatibleDevice      CompletionCode = 22
	CompletionMissedService           CompletionCode = 23
	CompletionCommandRingStopped      CompletionCode = 24
	CompletionCommandAborted          CompletionCode = 25
	CompletionStopped                 CompletionCode = 26
	CompletionStoppedLengthInvalid    CompletionCode = 27
	CompletionStoppedShortPacket      CompletionCode = 28
	CompletionMaxExitLatencyTooLarge  CompletionCode = 29
	CompletionIsochBufferOverrun      CompletionCode = 31
	CompletionEventLost               CompletionCode = 32
	CompletionUndefinedError          CompletionCode = 33
	CompletionInvalidStreamID         CompletionCode = 34
	CompletionSecondaryBandwidthError CompletionCode = 35
	CompletionSplitTransactionError   CompletionCode = 36
)

var completionNames = map[CompletionCode]string{
	CompletionInvalid:                 "Invalid",
	CompletionSuccess:                 "Success",
	CompletionDataBufferError:         "Data Buffer Error",
	CompletionBabbleDetected:          "Babble Detected Error",
	CompletionUSBTransactionError:     "USB Transaction Error",
	CompletionTRBError:                "TRB Error",
	CompletionStallError:              "Stall Error",
	CompletionResourceError:           "Resource Error",
	CompletionBandwidthError:          "Bandwidth Error",
	CompletionNoSlotsAvailable:        "No Slots Available Error",
	CompletionInvalidStreamType:       "Invalid Stream Type Error",
	CompletionSlotNotEnabled:          "Slot Not Enabled Error",
	CompletionEndpointNotEnabled:      "Endpoint Not Enabled Error",
	CompletionShortPacket:             "Short Packet",
	CompletionRingUnderrun:            "Ring Underrun",
	CompletionRingOverrun:             "Ring Overrun",
	CompletionVFEventRingFull:         "VF Event Ring Full Error",
	CompletionParameterError:          "Parameter Error",
	CompletionBandwidthOverrun:        "Bandwidth Overrun Error",
	CompletionContextStateError:       "Context State Error",
	CompletionNoPingResponse:          "No Ping Response Error",
	CompletionEventRingFull:           "Event Ring Full Error",
	CompletionIncompatibleDevice:      "Incompatible Device Error",
	CompletionMissedService:           "Missed Service Error",
	CompletionCommandRingStopped:      "Command Ring Stopped",
	CompletionCommandAborted:          "Command Aborted",
	CompletionStopped:                 "Stopped",
	CompletionStoppedLengthInvalid:    "Stopped - Length Invalid",
	CompletionStoppedShortPacket:      "Stopped - Short Packet",
	CompletionMaxExitLatencyTooLarge:  "Max Exit Latency Too Large Error",
	CompletionIsochBufferOverrun:      "Isoch Buffer Overrun",
	CompletionEventLost:               "Event Lost Error",
	CompletionUndefinedError:          "Undefined Error",
	CompletionInvalidStreamID:         "Invalid Stream ID Error",
	CompletionSecondaryBandwidthError: "Secondary Bandwidth Error",
	CompletionSplitTransactionError:   "Split Transaction Error",
}

func (c CompletionCode) String() string {
	if name, ok := completionNames[c]; ok {
		return name
	}
	switch {
	case c >= 224:
		return fmt.Sprintf("Vendor Defined Info (%d)", uint8(c))
	case c >= 192:
		return fmt.Sprintf("Vendor Defined Error (%d)", uint8(c))
	default:
		return fmt.Sprintf("Reserved (%d)", uint8(c))
	}
}
