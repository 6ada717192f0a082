package lss_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/martinwag/CANopenNode/pkg/can"
	"github.com/martinwag/CANopenNode/pkg/lss"
	"github.com/martinwag/CANopenNode/pkg/lss/mocks"
)

const step = 10 * time.Millisecond

// run calls fn until it resolves, advancing the clock by step each time.
func run(t *testing.T, fn func(elapsed time.Duration) lss.Result) lss.Result {
	t.Helper()
	for range 10000 {
		if res := fn(step); res.Done() {
			return res
		}
	}
	t.Fatal("operation never resolved")
	return lss.ResultWait
}

type network struct {
	bus    *can.VirtualBus
	master *lss.Master
}

func newNetwork(t *testing.T, timeout time.Duration) *network {
	t.Helper()
	bus := can.NewVirtualBus(nil)
	m, err := lss.NewMaster(bus.Attach("master", 125), lss.MasterConfig{Timeout: timeout, Name: "master"})
	require.NoError(t, err)
	t.Cleanup(m.Close)
	return &network{bus: bus, master: m}
}

func (n *network) addSlave(t *testing.T, addr lss.Address, nid uint8, caps lss.Capabilities) *lss.Slave {
	t.Helper()
	s, err := lss.NewSlave(n.bus.Attach(addr.String(), 125), lss.SlaveConfig{
		Address:                  addr,
		NodeID:                   nid,
		BitRate:                  125,
		Capabilities:             caps,
		FastscanUnconfiguredOnly: true,
	})
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func TestMasterSelectConfigureStore(t *testing.T) {
	storer := mocks.NewMockConfigStorer(t)
	storer.EXPECT().StoreConfig(uint8(42), uint16(125)).Return(nil).Once()

	n := newNetwork(t, 100*time.Millisecond)
	slave := n.addSlave(t, testAddr, lss.NodeIDUnconfigured, lss.Capabilities{Storer: storer})
	addr := testAddr

	require.Equal(t, lss.ResultOK, run(t, func(d time.Duration) lss.Result { return n.master.SwitchStateSelect(d, &addr) }))
	assert.True(t, n.master.Selected())
	assert.Equal(t, lss.StateConfiguration, slave.State())

	require.Equal(t, lss.ResultOK, run(t, func(d time.Duration) lss.Result { return n.master.ConfigureNodeID(d, 42) }))
	assert.Equal(t, uint8(42), slave.PendingNodeID())

	require.Equal(t, lss.ResultOK, run(t, n.master.ConfigureStore))

	var got lss.Address
	require.Equal(t, lss.ResultOK, run(t, func(d time.Duration) lss.Result { return n.master.InquireAddress(d, &got) }))
	assert.Equal(t, testAddr, got)

	slave.Process(42, 125)
	var nid uint8
	require.Equal(t, lss.ResultOK, run(t, func(d time.Duration) lss.Result { return n.master.InquireNodeID(d, &nid) }))
	assert.Equal(t, uint8(42), nid)

	require.Equal(t, lss.ResultOK, n.master.SwitchStateDeselect())
	assert.False(t, n.master.Selected())
	assert.Equal(t, lss.StateWaiting, slave.State())
}

func TestMasterSlaveObjection(t *testing.T) {
	n := newNetwork(t, 100*time.Millisecond)
	n.addSlave(t, testAddr, lss.NodeIDUnconfigured, lss.Capabilities{
		Validator: lss.BitRateValidatorFunc(func(kbit uint16) bool { return kbit <= 500 }),
	})

	require.Equal(t, lss.ResultOK, n.master.SwitchStateSelect(0, nil))

	assert.Equal(t, lss.ResultOK, run(t, func(d time.Duration) lss.Result { return n.master.ConfigureBitTiming(d, 250) }))
	assert.Equal(t, lss.ResultOKWithSlaveObjection, run(t, func(d time.Duration) lss.Result { return n.master.ConfigureBitTiming(d, 1000) }))
	code, _ := n.master.LastSlaveError()
	assert.Equal(t, lss.ConfigOutOfRange, code)

	// Store is not supported by this slave.
	assert.Equal(t, lss.ResultOKWithSlaveObjection, run(t, n.master.ConfigureStore))
	code, _ = n.master.LastSlaveError()
	assert.Equal(t, lss.ConfigNotSupported, code)
}

func TestMasterRequiresSelection(t *testing.T) {
	n := newNetwork(t, 100*time.Millisecond)

	assert.Equal(t, lss.ResultInvalidState, n.master.ConfigureNodeID(0, 5))
	assert.Equal(t, lss.ResultInvalidState, n.master.ConfigureBitTiming(0, 250))
	assert.Equal(t, lss.ResultInvalidState, n.master.ConfigureStore(0))
	assert.Equal(t, lss.ResultInvalidState, n.master.ActivateBitTiming(100*time.Millisecond))
	var nid uint8
	assert.Equal(t, lss.ResultInvalidState, n.master.InquireNodeID(0, &nid))
	assert.False(t, n.master.Busy())
}

func TestMasterIllegalArguments(t *testing.T) {
	n := newNetwork(t, 100*time.Millisecond)
	require.Equal(t, lss.ResultOK, n.master.SwitchStateSelect(0, nil))

	assert.Equal(t, lss.ResultIllegalArgument, n.master.ConfigureNodeID(0, 0))
	assert.Equal(t, lss.ResultIllegalArgument, n.master.ConfigureNodeID(0, 128))
	assert.Equal(t, lss.ResultIllegalArgument, n.master.ConfigureBitTiming(0, 300))
	assert.Equal(t, lss.ResultIllegalArgument, n.master.ActivateBitTiming(70*time.Second))
	assert.Equal(t, lss.ResultIllegalArgument, n.master.InquireAddress(0, nil))
	assert.Equal(t, lss.ResultIllegalArgument, n.master.IdentifyFastscan(0, nil))
	assert.False(t, n.master.Busy())
}

func TestMasterTimeout(t *testing.T) {
	n := newNetwork(t, 50*time.Millisecond)
	addr := testAddr

	assert.Equal(t, lss.ResultWait, n.master.SwitchStateSelect(0, &addr))
	assert.Equal(t, lss.ResultWait, n.master.SwitchStateSelect(20*time.Millisecond, &addr))
	assert.Equal(t, lss.ResultWait, n.master.SwitchStateSelect(20*time.Millisecond, &addr))
	assert.Equal(t, lss.ResultTimeout, n.master.SwitchStateSelect(20*time.Millisecond, &addr))
	assert.False(t, n.master.Selected())
	assert.False(t, n.master.Busy())
}

func TestMasterRejectsConcurrentOperation(t *testing.T) {
	n := newNetwork(t, 50*time.Millisecond)
	addr := testAddr

	require.Equal(t, lss.ResultWait, n.master.SwitchStateSelect(0, &addr))
	assert.Equal(t, lss.ResultInvalidState, n.master.ConfigureNodeID(0, 3))
	assert.Equal(t, lss.ResultInvalidState, n.master.IdentifyFastscan(0, lss.ScanAll()))
	assert.Equal(t, lss.ResultInvalidState, n.master.SwitchStateDeselect())

	n.master.Abort()
	assert.False(t, n.master.Busy())
}

func TestMasterSelectiveWhileSelected(t *testing.T) {
	n := newNetwork(t, 50*time.Millisecond)
	addr := testAddr

	require.Equal(t, lss.ResultOK, n.master.SwitchStateSelect(0, nil))
	assert.Equal(t, lss.ResultInvalidState, n.master.SwitchStateSelect(0, &addr))
}

func TestMasterActivateBitTiming(t *testing.T) {
	activator := mocks.NewMockBitRateActivator(t)
	activator.EXPECT().ActivateBitRate(time.Second).Return().Once()

	n := newNetwork(t, 50*time.Millisecond)
	n.addSlave(t, testAddr, lss.NodeIDUnconfigured, lss.Capabilities{Activator: activator})

	require.Equal(t, lss.ResultOK, n.master.SwitchStateSelect(0, nil))
	assert.Equal(t, lss.ResultOK, n.master.ActivateBitTiming(time.Second))
}

func TestMasterDriveContextCancel(t *testing.T) {
	n := newNetwork(t, time.Hour)
	addr := testAddr

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	res := n.master.Drive(ctx, 5*time.Millisecond, func(d time.Duration) lss.Result {
		return n.master.SwitchStateSelect(d, &addr)
	})

	assert.Equal(t, lss.ResultTimeout, res)
	assert.False(t, n.master.Busy())
}

func TestMasterDrive(t *testing.T) {
	n := newNetwork(t, time.Second)
	n.addSlave(t, testAddr, lss.NodeIDUnconfigured, lss.Capabilities{})
	addr := testAddr

	res := n.master.Drive(context.Background(), time.Millisecond, func(d time.Duration) lss.Result {
		return n.master.SwitchStateSelect(d, &addr)
	})
	assert.Equal(t, lss.ResultOK, res)
}

func TestFastscanAssignsAllSlaves(t *testing.T) {
	addrs := []lss.Address{
		{VendorID: 0x319, ProductCode: 0x1234, RevisionNumber: 0x10001, SerialNumber: 0x00000001},
		{VendorID: 0x319, ProductCode: 0x1234, RevisionNumber: 0x10001, SerialNumber: 0x80000000},
		{VendorID: 0x319, ProductCode: 0x4321, RevisionNumber: 0x10002, SerialNumber: 0x00000001},
		{VendorID: 0x7FFFFFFF, ProductCode: 0, RevisionNumber: 0xFFFFFFFF, SerialNumber: 0xDEADBEEF},
	}

	n := newNetwork(t, 50*time.Millisecond)
	slaves := make(map[lss.Address]*lss.Slave)
	for _, a := range addrs {
		slaves[a] = n.addSlave(t, a, lss.NodeIDUnconfigured, lss.Capabilities{})
	}

	found := make(map[lss.Address]uint8)
	nextID := uint8(10)
	for range len(addrs) {
		params := lss.ScanAll()
		require.Equal(t, lss.ResultOK, run(t, func(d time.Duration) lss.Result { return n.master.IdentifyFastscan(d, params) }))
		require.Contains(t, slaves, params.Found)
		assert.Equal(t, lss.StateConfiguration, slaves[params.Found].State())

		require.Equal(t, lss.ResultOK, run(t, func(d time.Duration) lss.Result { return n.master.ConfigureNodeID(d, nextID) }))
		found[params.Found] = nextID
		nextID++
		require.Equal(t, lss.ResultOK, n.master.SwitchStateDeselect())
	}

	require.Len(t, found, len(addrs))
	for a, nid := range found {
		assert.Equal(t, nid, slaves[a].PendingNodeID(), "slave %s", a)
	}

	assert.Equal(t, lss.ResultFastscanAllConfigured,
		run(t, func(d time.Duration) lss.Result { return n.master.IdentifyFastscan(d, lss.ScanAll()) }))
	assert.False(t, n.master.Selected())
}

func TestFastscanMatchAndSkip(t *testing.T) {
	n := newNetwork(t, 50*time.Millisecond)
	n.addSlave(t, testAddr, lss.NodeIDUnconfigured, lss.Capabilities{})

	params := &lss.FastscanParams{
		Modes: [4]lss.FastscanMode{lss.FastscanMatch, lss.FastscanMatch, lss.FastscanSkip, lss.FastscanScan},
		Match: lss.Address{VendorID: testAddr.VendorID, ProductCode: testAddr.ProductCode},
	}
	require.Equal(t, lss.ResultOK, run(t, func(d time.Duration) lss.Result { return n.master.IdentifyFastscan(d, params) }))
	assert.Equal(t, lss.Address{VendorID: testAddr.VendorID, ProductCode: testAddr.ProductCode, SerialNumber: testAddr.SerialNumber}, params.Found)
	assert.True(t, n.master.Selected())

	// Already selected.
	assert.Equal(t, lss.ResultInvalidState, n.master.IdentifyFastscan(0, lss.ScanAll()))
}

func TestFastscanNoMatch(t *testing.T) {
	n := newNetwork(t, 50*time.Millisecond)
	n.addSlave(t, testAddr, lss.NodeIDUnconfigured, lss.Capabilities{})

	params := &lss.FastscanParams{
		Modes: [4]lss.FastscanMode{lss.FastscanMatch, lss.FastscanScan, lss.FastscanScan, lss.FastscanScan},
		Match: lss.Address{VendorID: testAddr.VendorID + 1},
	}
	assert.Equal(t, lss.ResultFastscanNoMatch, run(t, func(d time.Duration) lss.Result { return n.master.IdentifyFastscan(d, params) }))
	assert.False(t, n.master.Selected())
	assert.False(t, n.master.Busy())
}

func TestFastscanRejectsInvalidModes(t *testing.T) {
	n := newNetwork(t, 50*time.Millisecond)

	skipVendor := &lss.FastscanParams{Modes: [4]lss.FastscanMode{lss.FastscanSkip, lss.FastscanScan, lss.FastscanScan, lss.FastscanScan}}
	assert.Equal(t, lss.ResultIllegalArgument, n.master.IdentifyFastscan(0, skipVendor))

	vendorOnly := &lss.FastscanParams{Modes: [4]lss.FastscanMode{lss.FastscanScan, lss.FastscanSkip, lss.FastscanSkip, lss.FastscanSkip}}
	assert.Equal(t, lss.ResultIllegalArgument, n.master.IdentifyFastscan(0, vendorOnly))
}

func TestFastscanEmptyBus(t *testing.T) {
	n := newNetwork(t, 50*time.Millisecond)
	n.master.SetFastscanTimeout(20 * time.Millisecond)

	assert.Equal(t, lss.ResultFastscanAllConfigured,
		run(t, func(d time.Duration) lss.Result { return n.master.IdentifyFastscan(d, lss.ScanAll()) }))
}
