package od

import (
	"encoding/binary"

	"github.com/martinwag/CANopenNode/pkg/lss"
)

// Communication profile indexes.
const (
	IndexDeviceType        uint16 = 0x1000
	IndexDeviceName        uint16 = 0x1008
	IndexStoreParameters   uint16 = 0x1010
	IndexRestoreDefaults   uint16 = 0x1011
	IndexProducerHeartbeat uint16 = 0x1017
	IndexIdentity          uint16 = 0x1018
	IndexApplication       uint16 = 0x2000
)

// Storage groups of the standard dictionary.
const (
	GroupComm = "comm"
	GroupApp  = "app"
)

// DeviceNameSize is the fixed size of the device name entry.
const DeviceNameSize = 16

// StandardConfig describes the device a standard dictionary is built for.
type StandardConfig struct {
	Identity   lss.Address
	DeviceType uint32
	DeviceName string

	// HeartbeatMs is the default producer heartbeat time.
	HeartbeatMs uint16

	// AppParams is the number of 32-bit application parameters at 0x2000.
	AppParams int
}

// NewStandard returns a dictionary with the communication profile entries
// the node uses. Store and restore entries are created with no hook; the
// persistence bridge installs them.
func NewStandard(cfg StandardConfig) (*Dictionary, error) {
	d := New()
	u16 := func(v uint16) []byte { return binary.LittleEndian.AppendUint16(nil, v) }
	u32 := func(v uint32) []byte { return binary.LittleEndian.AppendUint32(nil, v) }

	defs := []Def{
		{Index: IndexDeviceType, Name: "device type", Size: 4, Access: AccessRO, Default: u32(cfg.DeviceType)},
		{Index: IndexDeviceName, Name: "device name", Size: DeviceNameSize, Access: AccessRO, Default: []byte(cfg.DeviceName)},
		{Index: IndexStoreParameters, Name: "store parameters count", Size: 1, Access: AccessRO, Default: []byte{1}},
		{Index: IndexStoreParameters, Sub: 1, Name: "save all parameters", Size: 4, Access: AccessRW, Default: u32(1)},
		{Index: IndexRestoreDefaults, Name: "restore defaults count", Size: 1, Access: AccessRO, Default: []byte{1}},
		{Index: IndexRestoreDefaults, Sub: 1, Name: "restore all defaults", Size: 4, Access: AccessRW, Default: u32(1)},
		{Index: IndexProducerHeartbeat, Name: "producer heartbeat time", Size: 2, Access: AccessRW, Group: GroupComm, Default: u16(cfg.HeartbeatMs)},
		{Index: IndexIdentity, Name: "identity count", Size: 1, Access: AccessRO, Default: []byte{4}},
		{Index: IndexIdentity, Sub: 1, Name: "vendor id", Size: 4, Access: AccessRO, Default: u32(cfg.Identity.VendorID)},
		{Index: IndexIdentity, Sub: 2, Name: "product code", Size: 4, Access: AccessRO, Default: u32(cfg.Identity.ProductCode)},
		{Index: IndexIdentity, Sub: 3, Name: "revision number", Size: 4, Access: AccessRO, Default: u32(cfg.Identity.RevisionNumber)},
		{Index: IndexIdentity, Sub: 4, Name: "serial number", Size: 4, Access: AccessRO, Default: u32(cfg.Identity.SerialNumber)},
	}
	if cfg.AppParams > 0 {
		defs = append(defs, Def{Index: IndexApplication, Name: "application parameters", Size: 1, Access: AccessRO, Default: []byte{byte(cfg.AppParams)}})
		for i := 1; i <= cfg.AppParams; i++ {
			defs = append(defs, Def{Index: IndexApplication, Sub: uint8(i), Name: "application parameter", Size: 4, Access: AccessRW, Group: GroupApp})
		}
	}

	for _, def := range defs {
		if err := d.Add(def); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// Identity reads the identity object into an LSS address.
func (d *Dictionary) Identity() (lss.Address, error) {
	var a lss.Address
	for field := lss.FastscanVendor; field <= lss.FastscanSerial; field++ {
		v, err := d.Uint32(IndexIdentity, field+1)
		if err != nil {
			return lss.Address{}, err
		}
		a.SetField(field, v)
	}
	return a, nil
}
