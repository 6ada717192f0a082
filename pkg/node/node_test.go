package node

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/martinwag/CANopenNode/pkg/can"
	"github.com/martinwag/CANopenNode/pkg/lss"
	"github.com/martinwag/CANopenNode/pkg/od"
	"github.com/martinwag/CANopenNode/pkg/storage"
)

var testIdentity = lss.Address{VendorID: 0x319, ProductCode: 0x42, RevisionNumber: 1, SerialNumber: 1001}

func testConfig() Config {
	return Config{
		Identity:    testIdentity,
		BitRate:     125,
		DeviceName:  "test-node",
		HeartbeatMs: 1000,
		AppParams:   2,
		BuildID:     "build-1",
		Name:        "n1",
	}
}

func newMedium(t *testing.T, cfg Config) *storage.MemMedium {
	t.Helper()
	size, err := StorageSize(cfg)
	require.NoError(t, err)
	return storage.NewMemMedium(int(size))
}

func bootNode(t *testing.T, bus *can.VirtualBus, medium storage.Medium, cfg Config) *Node {
	t.Helper()
	n, err := New(bus.Attach(cfg.Name, 125), medium, cfg)
	require.NoError(t, err)
	require.NoError(t, n.Boot())
	t.Cleanup(n.Close)
	return n
}

func newMaster(t *testing.T, bus *can.VirtualBus) *lss.Master {
	t.Helper()
	m, err := lss.NewMaster(bus.Attach("master", 125), lss.MasterConfig{Timeout: 20 * time.Millisecond})
	require.NoError(t, err)
	t.Cleanup(m.Close)
	return m
}

func run(t *testing.T, fn func(time.Duration) lss.Result) lss.Result {
	t.Helper()
	for range 10000 {
		if res := fn(5 * time.Millisecond); res.Done() {
			return res
		}
	}
	t.Fatal("operation never resolved")
	return lss.ResultWait
}

func drain(n *Node) []Event {
	var out []Event
	for {
		ev, ok := n.Events().TryReceive()
		if !ok {
			return out
		}
		out = append(out, ev)
	}
}

func kinds(events []Event) []EventKind {
	var out []EventKind
	for _, ev := range events {
		out = append(out, ev.Kind)
	}
	return out
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	bus := can.NewVirtualBus(nil)
	cfg := testConfig()

	bad := cfg
	bad.NodeID = 200
	_, err := New(bus.Attach("x", 125), newMedium(t, cfg), bad)
	assert.ErrorIs(t, err, lss.ErrIllegalArgument)

	bad = cfg
	bad.BitRate = 0
	_, err = New(bus.Attach("x", 125), newMedium(t, cfg), bad)
	assert.ErrorIs(t, err, lss.ErrIllegalArgument)

	_, err = New(bus.Attach("x", 125), storage.NewMemMedium(8), cfg)
	assert.ErrorIs(t, err, storage.ErrOutOfMemory)
}

func TestLSSAssignmentIsAdoptedAndPersisted(t *testing.T) {
	bus := can.NewVirtualBus(nil)
	cfg := testConfig()
	medium := newMedium(t, cfg)
	n := bootNode(t, bus, medium, cfg)
	m := newMaster(t, bus)

	assert.False(t, n.NodeIDAssigned())
	assert.Empty(t, drain(n))

	params := lss.ScanAll()
	require.Equal(t, lss.ResultOK, run(t, func(d time.Duration) lss.Result { return m.IdentifyFastscan(d, params) }))
	assert.Equal(t, testIdentity, params.Found)
	require.Equal(t, lss.ResultOK, run(t, func(d time.Duration) lss.Result { return m.ConfigureNodeID(d, 7) }))
	require.Equal(t, lss.ResultOK, run(t, m.ConfigureStore))

	n.Process(time.Millisecond)
	assert.False(t, n.NodeIDAssigned(), "not adopted while in configuration state")

	require.Equal(t, lss.ResultOK, m.SwitchStateDeselect())
	n.Process(time.Millisecond)
	assert.Equal(t, uint8(7), n.NodeID())
	assert.Equal(t, []Event{{Kind: EventNodeIDChanged, NodeID: 7}}, drain(n))

	// A configured node no longer takes part in fastscan.
	assert.Equal(t, lss.ResultFastscanAllConfigured,
		run(t, func(d time.Duration) lss.Result { return m.IdentifyFastscan(d, lss.ScanAll()) }))

	n.Close()
	again := bootNode(t, can.NewVirtualBus(nil), medium, cfg)
	assert.Equal(t, uint8(7), again.NodeID())
	assert.Equal(t, []EventKind{EventNodeIDChanged}, kinds(drain(again)))
}

func TestBitRateSwitch(t *testing.T) {
	bus := can.NewVirtualBus(nil)
	cfg := testConfig()
	cfg.NodeID = 5
	cfg.SupportedBitRates = []uint16{125, 250}
	port := bus.Attach(cfg.Name, 125)
	n, err := New(port, newMedium(t, cfg), cfg)
	require.NoError(t, err)
	require.NoError(t, n.Boot())
	defer n.Close()
	drain(n)
	m := newMaster(t, bus)

	require.Equal(t, lss.ResultOK, m.SwitchStateSelect(0, nil))
	assert.Equal(t, lss.ResultOKWithSlaveObjection, run(t, func(d time.Duration) lss.Result { return m.ConfigureBitTiming(d, 500) }))
	require.Equal(t, lss.ResultOK, run(t, func(d time.Duration) lss.Result { return m.ConfigureBitTiming(d, 250) }))
	require.Equal(t, lss.ResultOK, m.ActivateBitTiming(100*time.Millisecond))

	n.Process(50 * time.Millisecond)
	assert.True(t, n.Switching())
	assert.Equal(t, uint16(125), port.BitRate())

	n.Process(60 * time.Millisecond)
	assert.Equal(t, uint16(250), port.BitRate())
	assert.Equal(t, uint16(250), n.BitRate())
	assert.True(t, n.Switching())
	assert.Empty(t, drain(n))

	n.Process(100 * time.Millisecond)
	assert.False(t, n.Switching())
	assert.Equal(t, []Event{{Kind: EventBitRateChanged, NodeID: 5, BitRate: 250}}, drain(n))
}

func TestStoreAndRestoreParameters(t *testing.T) {
	cfg := testConfig()
	cfg.NodeID = 3
	medium := newMedium(t, cfg)
	n := bootNode(t, can.NewVirtualBus(nil), medium, cfg)
	dict := n.Dictionary()

	require.NoError(t, dict.Write(od.IndexProducerHeartbeat, 0, []byte{0xF4, 0x01}))
	require.NoError(t, dict.Write(od.IndexApplication, 2, []byte{9, 0, 0, 0}))
	assert.Equal(t, od.AbortDataTransfer, dict.Write(od.IndexStoreParameters, 1, []byte("sav!")))
	require.NoError(t, dict.Write(od.IndexStoreParameters, 1, []byte("save")))

	events := drain(n)
	require.Len(t, events, 4)
	assert.Equal(t, Event{Kind: EventODWrite, Index: od.IndexStoreParameters, Sub: 1}, events[3])

	n.Close()
	rebooted := bootNode(t, can.NewVirtualBus(nil), medium, cfg)
	hb, err := rebooted.Dictionary().Uint16(od.IndexProducerHeartbeat, 0)
	require.NoError(t, err)
	assert.Equal(t, uint16(500), hb)
	app, _ := rebooted.Dictionary().Uint32(od.IndexApplication, 2)
	assert.Equal(t, uint32(9), app)

	require.NoError(t, rebooted.Dictionary().Write(od.IndexRestoreDefaults, 1, []byte("load")))
	hb, _ = rebooted.Dictionary().Uint16(od.IndexProducerHeartbeat, 0)
	assert.Equal(t, uint16(500), hb, "restore takes effect after reset")

	require.NoError(t, rebooted.ResetCommunication())
	hb, _ = rebooted.Dictionary().Uint16(od.IndexProducerHeartbeat, 0)
	assert.Equal(t, uint16(1000), hb)
	app, _ = rebooted.Dictionary().Uint32(od.IndexApplication, 2)
	assert.Zero(t, app)
}

func TestNewBuildStartsFromDefaults(t *testing.T) {
	cfg := testConfig()
	cfg.NodeID = 3
	medium := newMedium(t, cfg)
	n := bootNode(t, can.NewVirtualBus(nil), medium, cfg)
	require.NoError(t, n.Dictionary().Write(od.IndexProducerHeartbeat, 0, []byte{0x10, 0x00}))
	require.NoError(t, n.Parameters().StoreParameters(0x65766173))
	n.Close()

	cfg.BuildID = "build-2"
	upgraded := bootNode(t, can.NewVirtualBus(nil), medium, cfg)
	hb, _ := upgraded.Dictionary().Uint16(od.IndexProducerHeartbeat, 0)
	assert.Equal(t, uint16(1000), hb)
	for _, ev := range drain(upgraded) {
		assert.NotEqual(t, EventStorageError, ev.Kind)
	}
}

func TestCorruptLSSRecordFallsBackToDefaults(t *testing.T) {
	cfg := testConfig()
	medium := newMedium(t, cfg)
	n := bootNode(t, can.NewVirtualBus(nil), medium, cfg)
	slave := n.Slave()
	require.NotNil(t, slave)
	n.Close()

	// Store node id 9 directly and corrupt it.
	n2, err := New(can.NewVirtualBus(nil).Attach("n", 125), medium, cfg)
	require.NoError(t, err)
	require.NoError(t, n2.lssStore.StoreConfig(9, 125))
	medium.Corrupt(0)

	again := bootNode(t, can.NewVirtualBus(nil), medium, cfg)
	assert.False(t, again.NodeIDAssigned())
	events := drain(again)
	require.Len(t, events, 1)
	assert.Equal(t, EventStorageError, events[0].Kind)
	assert.ErrorIs(t, events[0].Err, storage.ErrCRC)
}

func TestDaisychain(t *testing.T) {
	bus := can.NewVirtualBus(nil)
	cfgA := testConfig()
	cfgA.NodeID, cfgA.Name = 10, "a"
	cfgB := testConfig()
	cfgB.NodeID, cfgB.Name = 11, "b"
	cfgB.Identity.SerialNumber++
	a := bootNode(t, bus, newMedium(t, cfgA), cfgA)
	b := bootNode(t, bus, newMedium(t, cfgB), cfgB)
	drain(a)
	drain(b)

	require.NoError(t, a.Dictionary().Write(IndexDaisychain, 0, []byte{3}))
	b.Process(time.Millisecond)

	assert.Equal(t, []Event{{Kind: EventDaisychain, Shift: 3, From: 10}}, drain(b))
}

func TestWaitForNodeID(t *testing.T) {
	cfg := testConfig()
	n := bootNode(t, can.NewVirtualBus(nil), newMedium(t, cfg), cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := n.WaitForNodeID(ctx, time.Millisecond)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	cfg.NodeID = 42
	configured := bootNode(t, can.NewVirtualBus(nil), newMedium(t, cfg), cfg)
	nid, err := configured.WaitForNodeID(context.Background(), time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, uint8(42), nid)
}

func TestResetCommunicationAppliesPendingNodeID(t *testing.T) {
	bus := can.NewVirtualBus(nil)
	cfg := testConfig()
	cfg.NodeID = 4
	n := bootNode(t, bus, newMedium(t, cfg), cfg)
	m := newMaster(t, bus)
	drain(n)

	require.Equal(t, lss.ResultOK, m.SwitchStateSelect(0, nil))
	require.Equal(t, lss.ResultOK, run(t, func(d time.Duration) lss.Result { return m.ConfigureNodeID(d, 12) }))
	require.Equal(t, lss.ResultOK, m.SwitchStateDeselect())

	n.Process(time.Millisecond)
	assert.Equal(t, uint8(4), n.NodeID(), "configured nodes change node id on reset only")

	require.NoError(t, n.ResetCommunication())
	assert.Equal(t, uint8(12), n.NodeID())
	assert.Equal(t, []Event{{Kind: EventNodeIDChanged, NodeID: 12}}, drain(n))

	var nid uint8
	require.Equal(t, lss.ResultOK, m.SwitchStateSelect(0, nil))
	n.Process(time.Millisecond)
	require.Equal(t, lss.ResultOK, run(t, func(d time.Duration) lss.Result { return m.InquireNodeID(d, &nid) }))
	assert.Equal(t, uint8(12), nid)
}

func TestNotBooted(t *testing.T) {
	cfg := testConfig()
	n, err := New(can.NewVirtualBus(nil).Attach("n", 125), newMedium(t, cfg), cfg)
	require.NoError(t, err)

	assert.ErrorIs(t, n.ResetCommunication(), ErrNotBooted)
	assert.Nil(t, n.Slave())
	assert.Equal(t, lss.StateWaiting, n.LSSState())
	n.Process(time.Millisecond)
}
