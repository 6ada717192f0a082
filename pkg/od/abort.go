package od

import "fmt"

// AbortCode is an SDO abort code. The zero value means success.
type AbortCode uint32

// Abort codes used by the dictionary and its write hooks.
const (
	AbortNone              AbortCode = 0
	AbortUnsupportedAccess AbortCode = 0x06010000
	AbortWriteOnly         AbortCode = 0x06010001
	AbortReadOnly          AbortCode = 0x06010002
	AbortNotExist          AbortCode = 0x06020000
	AbortHardware          AbortCode = 0x06060000
	AbortTypeMismatch      AbortCode = 0x06070010
	AbortSubUnknown        AbortCode = 0x06090011
	AbortValueRange        AbortCode = 0x06090030
	AbortGeneral           AbortCode = 0x08000000
	AbortDataTransfer      AbortCode = 0x08000020
)

// Error implements error.
func (a AbortCode) Error() string {
	switch a {
	case AbortNone:
		return "od: no error"
	case AbortUnsupportedAccess:
		return "od: unsupported access"
	case AbortWriteOnly:
		return "od: object is write only"
	case AbortReadOnly:
		return "od: object is read only"
	case AbortNotExist:
		return "od: object does not exist"
	case AbortHardware:
		return "od: access failed due to hardware error"
	case AbortTypeMismatch:
		return "od: data length does not match"
	case AbortSubUnknown:
		return "od: subindex does not exist"
	case AbortValueRange:
		return "od: value range exceeded"
	case AbortGeneral:
		return "od: general error"
	case AbortDataTransfer:
		return "od: data cannot be transferred or stored"
	default:
		return fmt.Sprintf("od: abort 0x%08X", uint32(a))
	}
}
