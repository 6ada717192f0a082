package lss

import (
	"encoding/binary"
	"fmt"
)

// Default COB-IDs of the LSS service.
const (
	SlaveCOBID  = 0x7E4 // slave to master
	MasterCOBID = 0x7E5 // master to slave
)

// Node id limits.
const (
	NodeIDMin          uint8 = 0x01
	NodeIDMax          uint8 = 0x7F
	NodeIDUnconfigured uint8 = 0xFF
)

// NodeIDValid reports whether id may be assigned through LSS.
func NodeIDValid(id uint8) bool {
	return (id >= NodeIDMin && id <= NodeIDMax) || id == NodeIDUnconfigured
}

// NodeIDConfigured reports whether id is a real node id.
func NodeIDConfigured(id uint8) bool {
	return id >= NodeIDMin && id <= NodeIDMax
}

// Command is an LSS command specifier (first frame byte).
type Command uint8

// Command specifiers.
const (
	CmdSwitchStateGlobal            Command = 0x04
	CmdSwitchStateSelectiveVendor   Command = 0x40
	CmdSwitchStateSelectiveProduct  Command = 0x41
	CmdSwitchStateSelectiveRevision Command = 0x42
	CmdSwitchStateSelectiveSerial   Command = 0x43
	CmdSwitchStateSelectiveResult   Command = 0x44

	CmdConfigureNodeID    Command = 0x11
	CmdConfigureBitTiming Command = 0x13
	CmdActivateBitTiming  Command = 0x15
	CmdConfigureStore     Command = 0x17
	CmdInquireVendor      Command = 0x5A
	CmdInquireProduct     Command = 0x5B
	CmdInquireRevision    Command = 0x5C
	CmdInquireSerial      Command = 0x5D
	CmdInquireNodeID      Command = 0x5E
	CmdIdentifyFastscan   Command = 0x51
	CmdIdentifySlave      Command = 0x4F
)

// String returns the command name.
func (c Command) String() string {
	switch c {
	case CmdSwitchStateGlobal:
		return "SWITCH_GLOBAL"
	case CmdSwitchStateSelectiveVendor:
		return "SELECT_VENDOR"
	case CmdSwitchStateSelectiveProduct:
		return "SELECT_PRODUCT"
	case CmdSwitchStateSelectiveRevision:
		return "SELECT_REVISION"
	case CmdSwitchStateSelectiveSerial:
		return "SELECT_SERIAL"
	case CmdSwitchStateSelectiveResult:
		return "SELECT_RESULT"
	case CmdConfigureNodeID:
		return "CONFIG_NODE_ID"
	case CmdConfigureBitTiming:
		return "CONFIG_BIT_TIMING"
	case CmdActivateBitTiming:
		return "ACTIVATE_BIT_TIMING"
	case CmdConfigureStore:
		return "CONFIG_STORE"
	case CmdInquireVendor:
		return "INQUIRE_VENDOR"
	case CmdInquireProduct:
		return "INQUIRE_PRODUCT"
	case CmdInquireRevision:
		return "INQUIRE_REVISION"
	case CmdInquireSerial:
		return "INQUIRE_SERIAL"
	case CmdInquireNodeID:
		return "INQUIRE_NODE_ID"
	case CmdIdentifyFastscan:
		return "FASTSCAN"
	case CmdIdentifySlave:
		return "IDENTIFY_SLAVE"
	default:
		return fmt.Sprintf("CMD(0x%02X)", uint8(c))
	}
}

// Switch state global modes.
const (
	ModeWaiting       uint8 = 0
	ModeConfiguration uint8 = 1
)

// Configuration reply codes (byte 1 of a configure reply).
const (
	ConfigOK           uint8 = 0
	ConfigOutOfRange   uint8 = 1 // node id / bit timing
	ConfigNotSupported uint8 = 1 // store
	ConfigAccessFailed uint8 = 2 // store: media access error
	ConfigManufacturer uint8 = 0xFF
)

// Fastscan constants.
const (
	FastscanConfirm uint8 = 0x80 // bitCheck value that resets the scan
	FastscanVendor  uint8 = 0
	FastscanProduct uint8 = 1
	FastscanRev     uint8 = 2
	FastscanSerial  uint8 = 3
)

// State is the LSS slave state.
type State uint8

// LSS states as defined by CiA 305.
const (
	// StateWaiting is the initial state. The slave can be identified but
	// not configured.
	StateWaiting State = iota
	// StateConfiguration accepts configuration and inquiry requests.
	StateConfiguration
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateWaiting:
		return "WAITING"
	case StateConfiguration:
		return "CONFIGURATION"
	default:
		return "UNKNOWN"
	}
}

// Address is the LSS address of a device, i.e. the four identity object
// (0x1018) entries. Two addresses are equal when all fields are equal.
type Address struct {
	VendorID       uint32 `json:"vendor_id" yaml:"vendor_id"`
	ProductCode    uint32 `json:"product_code" yaml:"product_code"`
	RevisionNumber uint32 `json:"revision_number" yaml:"revision_number"`
	SerialNumber   uint32 `json:"serial_number" yaml:"serial_number"`
}

// Field returns field i in fastscan order (0 vendor … 3 serial).
func (a Address) Field(i uint8) uint32 {
	switch i {
	case FastscanVendor:
		return a.VendorID
	case FastscanProduct:
		return a.ProductCode
	case FastscanRev:
		return a.RevisionNumber
	default:
		return a.SerialNumber
	}
}

// SetField sets field i in fastscan order.
func (a *Address) SetField(i uint8, v uint32) {
	switch i {
	case FastscanVendor:
		a.VendorID = v
	case FastscanProduct:
		a.ProductCode = v
	case FastscanRev:
		a.RevisionNumber = v
	default:
		a.SerialNumber = v
	}
}

// String formats the address as vendor:product:revision:serial in hex.
func (a Address) String() string {
	return fmt.Sprintf("%08X:%08X:%08X:%08X", a.VendorID, a.ProductCode, a.RevisionNumber, a.SerialNumber)
}

// BitRateAuto represents automatic bit rate detection (table index 9).
const BitRateAuto uint16 = 0

// bitRateTable maps CiA 301 bit timing indices to kbit/s. Index 5 is reserved.
var bitRateTable = [...]struct {
	kbit  uint16
	valid bool
}{
	{1000, true}, {800, true}, {500, true}, {250, true}, {125, true},
	{0, false}, {50, true}, {20, true}, {10, true}, {BitRateAuto, true},
}

// BitRateFromIndex converts a bit timing table index to kbit/s.
func BitRateFromIndex(index uint8) (uint16, bool) {
	if int(index) >= len(bitRateTable) || !bitRateTable[index].valid {
		return 0, false
	}
	return bitRateTable[index].kbit, true
}

// BitRateIndex converts kbit/s to the bit timing table index.
func BitRateIndex(kbit uint16) (uint8, bool) {
	for i, e := range bitRateTable {
		if e.valid && e.kbit == kbit {
			return uint8(i), true
		}
	}
	return 0, false
}

// frame is the 8-byte LSS payload.
type frame [8]byte

func newFrame(cmd Command) frame {
	var f frame
	f[0] = byte(cmd)
	return f
}

func (f frame) command() Command { return Command(f[0]) }

func (f frame) u32() uint32 { return binary.LittleEndian.Uint32(f[1:5]) }

func (f *frame) putU32(v uint32) { binary.LittleEndian.PutUint32(f[1:5], v) }

func (f frame) u16() uint16 { return binary.LittleEndian.Uint16(f[1:3]) }

func (f *frame) putU16(v uint16) { binary.LittleEndian.PutUint16(f[1:3], v) }

// fastscan request fields.
func (f frame) bitCheck() uint8 { return f[5] }
func (f frame) lssSub() uint8   { return f[6] }
func (f frame) lssNext() uint8  { return f[7] }

func fastscanFrame(idNumber uint32, bitCheck, sub, next uint8) frame {
	f := newFrame(CmdIdentifyFastscan)
	f.putU32(idNumber)
	f[5] = bitCheck
	f[6] = sub
	f[7] = next
	return f
}

func selectiveCommand(field uint8) Command {
	return CmdSwitchStateSelectiveVendor + Command(field)
}

func inquireCommand(field uint8) Command {
	return CmdInquireVendor + Command(field)
}
