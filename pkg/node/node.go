// Package node assembles an LSS capable device: persistent configuration
// in a storage manager, the LSS responder, the object dictionary with its
// store and restore objects, a daisy chain endpoint and an event queue.
//
// The host calls Boot once and then Process periodically with the elapsed
// time. Until the node has a node id, only LSS traffic is answered.
package node

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/martinwag/CANopenNode/pkg/can"
	"github.com/martinwag/CANopenNode/pkg/daisychain"
	"github.com/martinwag/CANopenNode/pkg/log"
	"github.com/martinwag/CANopenNode/pkg/lss"
	"github.com/martinwag/CANopenNode/pkg/notify"
	"github.com/martinwag/CANopenNode/pkg/od"
	"github.com/martinwag/CANopenNode/pkg/persistence"
	"github.com/martinwag/CANopenNode/pkg/storage"
)

// Storage region names.
const (
	RegionLSS  = "lss"
	RegionComm = od.GroupComm
	RegionApp  = od.GroupApp
)

// IndexDaisychain is the dictionary entry that sends a daisy chain event
// with the written shift count.
const IndexDaisychain uint16 = 0x2112

// ErrNotBooted is returned by operations that need Boot first.
var ErrNotBooted = errors.New("node: not booted")

// Config configures a node.
type Config struct {
	// Identity is the LSS address.
	Identity lss.Address

	// NodeID and BitRate are the factory defaults used until a
	// configuration is stored. NodeID 0 means unconfigured.
	NodeID  uint8
	BitRate uint16

	// SupportedBitRates limits the rates accepted through LSS. Empty
	// accepts every rate of the bit timing table.
	SupportedBitRates []uint16

	DeviceName  string
	DeviceType  uint32
	HeartbeatMs uint16
	AppParams   int

	// BuildID derives the storage owner tag. Changing it makes stored
	// parameters fall back to their defaults.
	BuildID string

	// DaisychainCOBID selects the daisy chain identifier, 0 for the default.
	DaisychainCOBID   uint32
	DaisychainTimeout time.Duration

	// EventCapacity bounds the event queue.
	EventCapacity int

	Name           string
	Logger         *slog.Logger
	ProtocolLogger log.Logger
}

// Node is one simulated or embedded device.
type Node struct {
	cfg    Config
	bus    can.Bus
	medium storage.Medium

	mgr        *storage.Manager
	lssStore   *persistence.LSSStore
	params     *persistence.ParameterStore
	dict       *od.Dictionary
	slave      *lss.Slave
	producer   *daisychain.Producer
	consumer   *daisychain.Consumer
	events     *notify.Queue[Event]
	logger     *slog.Logger
	protocol   *log.Emitter
	switcher   can.BitRateSwitcher
	paramNames []string

	mu            sync.Mutex
	booted        bool
	activeNodeID  uint8
	activeBitRate uint16
	switchPhase   switchPhase
	switchTimer   time.Duration
	switchDelay   time.Duration
	switchTarget  uint16
}

type switchPhase uint8

const (
	switchIdle switchPhase = iota
	switchBefore
	switchAfter
)

// New builds a node on bus with its configuration persisted in medium.
// If bus also implements can.BitRateSwitcher, LSS bit rate activation
// switches it.
func New(bus can.Bus, medium storage.Medium, cfg Config) (*Node, error) {
	if bus == nil {
		return nil, fmt.Errorf("node: %w", lss.ErrNilBus)
	}
	if cfg.NodeID == 0 {
		cfg.NodeID = lss.NodeIDUnconfigured
	}
	if !lss.NodeIDValid(cfg.NodeID) {
		return nil, fmt.Errorf("node id %d: %w", cfg.NodeID, lss.ErrIllegalArgument)
	}
	if _, ok := lss.BitRateIndex(cfg.BitRate); !ok || cfg.BitRate == lss.BitRateAuto {
		return nil, fmt.Errorf("bit rate %d kbit/s: %w", cfg.BitRate, lss.ErrIllegalArgument)
	}

	n := &Node{
		cfg:           cfg,
		bus:           bus,
		medium:        medium,
		events:        notify.NewQueue[Event](cfg.EventCapacity),
		logger:        cfg.Logger,
		activeNodeID:  cfg.NodeID,
		activeBitRate: cfg.BitRate,
	}
	if n.logger == nil {
		n.logger = slog.New(slog.DiscardHandler)
	}
	n.logger = n.logger.With("component", "node", "name", cfg.Name)
	if cfg.ProtocolLogger != nil {
		n.protocol = log.NewEmitter(cfg.ProtocolLogger, log.RoleSlave, cfg.Name)
	}
	if sw, ok := bus.(can.BitRateSwitcher); ok {
		n.switcher = sw
	}

	var err error
	n.dict, err = od.NewStandard(od.StandardConfig{
		Identity:    cfg.Identity,
		DeviceType:  cfg.DeviceType,
		DeviceName:  cfg.DeviceName,
		HeartbeatMs: cfg.HeartbeatMs,
		AppParams:   cfg.AppParams,
	})
	if err != nil {
		return nil, fmt.Errorf("build dictionary: %w", err)
	}
	if err := n.dict.Add(od.Def{Index: IndexDaisychain, Name: "daisychain shift", Size: 1, Access: od.AccessWO}); err != nil {
		return nil, err
	}

	regions := []storage.Region{
		{Name: RegionLSS, Payload: persistence.NewLSSRecord(cfg.NodeID, cfg.BitRate)},
		{Name: RegionComm, Tagged: true, Payload: n.dict.Group(od.GroupComm)},
	}
	n.paramNames = []string{RegionComm}
	if cfg.AppParams > 0 {
		regions = append(regions, storage.Region{Name: RegionApp, Tagged: true, Payload: n.dict.Group(od.GroupApp)})
		n.paramNames = append(n.paramNames, RegionApp)
	}
	for i := range regions {
		regions[i].Reserved = reserve(regions[i])
	}

	n.mgr, err = storage.NewManager(medium, storage.Layout(0, regions...), storage.Config{
		OwnerTag:       storage.OwnerTag([]byte(cfg.BuildID)),
		Logger:         n.logger,
		ProtocolLogger: cfg.ProtocolLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("storage layout: %w", err)
	}
	n.lssStore, err = persistence.NewLSSStore(n.mgr, RegionLSS, cfg.SupportedBitRates)
	if err != nil {
		return nil, err
	}
	n.lssStore.SetLogger(n.logger)
	n.params, err = persistence.NewParameterStore(n.mgr, n.logger, n.paramNames...)
	if err != nil {
		return nil, err
	}
	return n, nil
}

// reserve rounds the block size of r up to a multiple of 16 bytes.
func reserve(r storage.Region) int {
	return (r.BlockSize() + 15) &^ 15
}

// StorageSize returns the medium capacity a node with cfg needs.
func StorageSize(cfg Config) (int64, error) {
	dict, err := od.NewStandard(od.StandardConfig{AppParams: cfg.AppParams})
	if err != nil {
		return 0, err
	}
	size := reserve(storage.Region{Payload: persistence.NewLSSRecord(0, 0)})
	size += reserve(storage.Region{Tagged: true, Payload: dict.Group(od.GroupComm)})
	if cfg.AppParams > 0 {
		size += reserve(storage.Region{Tagged: true, Payload: dict.Group(od.GroupApp)})
	}
	return int64(size), nil
}

// Boot loads the persistent configuration and starts the LSS responder
// and the daisy chain endpoint. Storage errors are reported as events and
// the node continues with defaults.
func (n *Node) Boot() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.booted {
		return nil
	}

	nid, kbit, err := n.lssStore.LoadConfig()
	if err != nil {
		n.storageError(err)
	}
	if !lss.NodeIDValid(nid) {
		nid = lss.NodeIDUnconfigured
	}
	if !n.lssStore.BitRateSupported(kbit) {
		kbit = n.cfg.BitRate
	}
	n.loadParametersLocked()

	if n.switcher != nil && n.switcher.BitRate() != kbit {
		if err := n.switcher.SetBitRate(kbit); err != nil {
			return fmt.Errorf("set bit rate %d kbit/s: %w", kbit, err)
		}
	}
	n.activeNodeID, n.activeBitRate = nid, kbit

	n.slave, err = lss.NewSlave(n.bus, lss.SlaveConfig{
		Address: n.cfg.Identity,
		NodeID:  nid,
		BitRate: kbit,
		Capabilities: lss.Capabilities{
			Validator: n.lssStore,
			Activator: lss.BitRateActivatorFunc(n.requestBitRateSwitch),
			Storer:    n.lssStore,
		},
		FastscanUnconfiguredOnly: true,
		Name:                     n.cfg.Name,
		Logger:                   n.logger,
		ProtocolLogger:           n.cfg.ProtocolLogger,
	})
	if err != nil {
		return err
	}

	if err := n.params.Register(n.dict); err != nil {
		n.slave.Close()
		return err
	}
	n.dict.SetWriteHook(IndexDaisychain, n.daisychainHook)
	n.dict.OnWrite(func(index uint16, sub uint8) {
		n.events.Send(Event{Kind: EventODWrite, Index: index, Sub: sub})
	})

	if n.producer, err = daisychain.NewProducer(n.bus, n.cfg.DaisychainCOBID); err != nil {
		n.slave.Close()
		return err
	}
	n.consumer, err = daisychain.NewConsumer(n.bus, daisychain.ConsumerConfig{
		COBID:   n.cfg.DaisychainCOBID,
		Timeout: n.cfg.DaisychainTimeout,
	})
	if err != nil {
		n.slave.Close()
		return err
	}

	n.booted = true
	n.logger.Info("node booted", "node_id", nid, "bit_rate", kbit, "address", n.cfg.Identity)
	if lss.NodeIDConfigured(nid) {
		n.events.Send(Event{Kind: EventNodeIDChanged, NodeID: nid})
	}
	return nil
}

func (n *Node) loadParametersLocked() {
	for _, name := range n.paramNames {
		if err := n.mgr.Load(name); err != nil {
			n.storageError(err)
		}
	}
}

func (n *Node) storageError(err error) {
	n.logger.Warn("storage error, continuing with defaults", "error", err)
	n.protocol.Error(log.LayerStorage, "load", err, nil)
	n.events.Send(Event{Kind: EventStorageError, Err: err})
}

// Close removes all receive filters.
func (n *Node) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.booted {
		return
	}
	n.slave.Close()
	n.consumer.Close()
	n.booted = false
}

// Process advances the node by elapsed. It adopts a node id assigned
// through LSS once the master releases the node, runs a requested bit rate
// switch and collects daisy chain events.
func (n *Node) Process(elapsed time.Duration) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.booted {
		return
	}

	pending, _, cont := n.slave.Process(n.activeNodeID, n.activeBitRate)
	if !lss.NodeIDConfigured(n.activeNodeID) && cont {
		n.setNodeIDLocked(pending, "lss assignment")
	}

	n.processSwitchLocked(elapsed)

	if res, shift, from := n.consumer.WaitEvent(elapsed); res == daisychain.WaitOK {
		n.events.Send(Event{Kind: EventDaisychain, Shift: shift, From: from})
	}
}

func (n *Node) setNodeIDLocked(nid uint8, reason string) {
	if nid == n.activeNodeID {
		return
	}
	n.logger.Info("node id changed", "from", n.activeNodeID, "to", nid, "reason", reason)
	n.protocol.State(log.LayerNode, nid, log.StateEntityNodeID, fmt.Sprint(n.activeNodeID), fmt.Sprint(nid), reason)
	n.activeNodeID = nid
	n.events.Send(Event{Kind: EventNodeIDChanged, NodeID: nid})
}

// requestBitRateSwitch runs on the bus goroutine; the switch itself is
// carried out by Process.
func (n *Node) requestBitRateSwitch(delay time.Duration) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.slave == nil {
		return
	}
	target := n.slave.PendingBitRate()
	if target == n.activeBitRate {
		return
	}
	n.switchPhase = switchBefore
	n.switchTimer = delay
	n.switchDelay = delay
	n.switchTarget = target
}

// processSwitchLocked keeps the node quiet for the switch delay, switches
// the controller and stays quiet for another delay.
func (n *Node) processSwitchLocked(elapsed time.Duration) {
	if n.switchPhase == switchIdle {
		return
	}
	n.switchTimer -= elapsed
	if n.switchTimer > 0 {
		return
	}

	switch n.switchPhase {
	case switchBefore:
		old := n.activeBitRate
		if n.switcher != nil {
			if err := n.switcher.SetBitRate(n.switchTarget); err != nil {
				n.logger.Error("bit rate switch failed", "bit_rate", n.switchTarget, "error", err)
				n.switchPhase = switchIdle
				return
			}
		}
		n.activeBitRate = n.switchTarget
		n.protocol.State(log.LayerNode, n.activeNodeID, log.StateEntityBitRate, fmt.Sprint(old), fmt.Sprint(n.switchTarget), "lss activate")
		n.logger.Info("bit rate switched", "from", old, "to", n.switchTarget)
		n.switchPhase = switchAfter
		n.switchTimer = n.switchDelay
	case switchAfter:
		n.switchPhase = switchIdle
		n.events.Send(Event{Kind: EventBitRateChanged, NodeID: n.activeNodeID, BitRate: n.activeBitRate})
	}
}

// Switching reports whether a bit rate switch is in progress. The host
// must not transmit while it is.
func (n *Node) Switching() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.switchPhase != switchIdle
}

// ResetCommunication applies a communication reset: the pending node id
// becomes active and the parameter regions are reloaded, so restored
// defaults take effect.
func (n *Node) ResetCommunication() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.booted {
		return ErrNotBooted
	}
	pending, _, _ := n.slave.Process(n.activeNodeID, n.activeBitRate)
	n.loadParametersLocked()
	n.setNodeIDLocked(pending, "communication reset")
	return nil
}

func (n *Node) daisychainHook(_ uint8, data []byte) od.AbortCode {
	n.mu.Lock()
	nid := n.activeNodeID
	n.mu.Unlock()
	if err := n.producer.SendEvent(data[0], nid); err != nil {
		n.logger.Warn("daisy chain event not sent", "error", err)
		return od.AbortGeneral
	}
	return od.AbortNone
}

// NodeID returns the active node id.
func (n *Node) NodeID() uint8 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.activeNodeID
}

// BitRate returns the active bit rate in kbit/s.
func (n *Node) BitRate() uint16 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.activeBitRate
}

// NodeIDAssigned reports whether the node has a node id.
func (n *Node) NodeIDAssigned() bool {
	return lss.NodeIDConfigured(n.NodeID())
}

// WaitForNodeID calls Process every tick until a node id is assigned or
// ctx ends.
func (n *Node) WaitForNodeID(ctx context.Context, tick time.Duration) (uint8, error) {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	last := time.Now()
	for {
		if nid := n.NodeID(); lss.NodeIDConfigured(nid) {
			return nid, nil
		}
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case now := <-ticker.C:
			n.Process(now.Sub(last))
			last = now
		}
	}
}

// Identity returns the LSS address.
func (n *Node) Identity() lss.Address { return n.cfg.Identity }

// Name returns the configured name.
func (n *Node) Name() string { return n.cfg.Name }

// Events returns the event queue.
func (n *Node) Events() *notify.Queue[Event] { return n.events }

// Dictionary returns the object dictionary.
func (n *Node) Dictionary() *od.Dictionary { return n.dict }

// Storage returns the storage manager.
func (n *Node) Storage() *storage.Manager { return n.mgr }

// Parameters returns the parameter store behind 0x1010 and 0x1011.
func (n *Node) Parameters() *persistence.ParameterStore { return n.params }

// Slave returns the LSS responder, nil before Boot.
func (n *Node) Slave() *lss.Slave {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.slave
}

// LSSState returns the state of the LSS responder.
func (n *Node) LSSState() lss.State {
	if s := n.Slave(); s != nil {
		return s.State()
	}
	return lss.StateWaiting
}
