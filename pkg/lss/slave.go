package lss

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/martinwag/CANopenNode/pkg/can"
	"github.com/martinwag/CANopenNode/pkg/log"
)

// SlaveConfig configures an LSS slave.
type SlaveConfig struct {
	// Address is the device identity.
	Address Address

	// NodeID and BitRate are the persistent values the pending values
	// start from. BitRate is in kbit/s.
	NodeID  uint8
	BitRate uint16

	// MasterCOBID and SlaveCOBID override the default identifiers.
	MasterCOBID uint32
	SlaveCOBID  uint32

	// Capabilities are the optional device features.
	Capabilities Capabilities

	// FastscanUnconfiguredOnly excludes slaves whose pending node id is
	// already configured from fastscan.
	FastscanUnconfiguredOnly bool

	// Name labels log output.
	Name string

	// Logger receives operational messages. Nil discards them.
	Logger *slog.Logger

	// ProtocolLogger captures frames and state changes. Nil disables capture.
	ProtocolLogger log.Logger
}

// Slave is the LSS responder of one device.
//
// Receive may be called from the bus delivery goroutine and Process from
// the host loop. The store command calls ConfigStorer synchronously on the
// receiving goroutine; hosts with a real-time receive path should defer it.
type Slave struct {
	mu  sync.Mutex
	bus can.Bus
	cfg SlaveConfig

	state     State
	selection Address
	selStep   uint8 // next selective field expected
	scanPos   uint8 // fastscan field this slave answers for

	pendingNodeID  uint8
	pendingBitRate uint16
	activeNodeID   uint8
	activeBitRate  uint16

	tx          can.Frame
	unsubscribe func()
	logger      *slog.Logger
	events      *log.Emitter
}

// NewSlave creates a slave and installs its receive filter on bus.
func NewSlave(bus can.Bus, cfg SlaveConfig) (*Slave, error) {
	if bus == nil {
		return nil, ErrNilBus
	}
	if !NodeIDValid(cfg.NodeID) {
		return nil, fmt.Errorf("node id %d: %w", cfg.NodeID, ErrIllegalArgument)
	}
	if _, ok := BitRateIndex(cfg.BitRate); !ok {
		return nil, fmt.Errorf("bit rate %d kbit/s: %w", cfg.BitRate, ErrIllegalArgument)
	}
	if cfg.MasterCOBID == 0 {
		cfg.MasterCOBID = MasterCOBID
	}
	if cfg.SlaveCOBID == 0 {
		cfg.SlaveCOBID = SlaveCOBID
	}

	s := &Slave{
		bus:            bus,
		cfg:            cfg,
		state:          StateWaiting,
		pendingNodeID:  cfg.NodeID,
		pendingBitRate: cfg.BitRate,
		activeNodeID:   cfg.NodeID,
		activeBitRate:  cfg.BitRate,
		tx:             can.Frame{ID: cfg.SlaveCOBID, DLC: 8},
		logger:         cfg.Logger,
	}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}
	s.logger = s.logger.With("component", "lss-slave", "name", cfg.Name)
	if cfg.ProtocolLogger != nil {
		s.events = log.NewEmitter(cfg.ProtocolLogger, log.RoleSlave, cfg.Name)
	}

	unsub, err := bus.Subscribe(cfg.MasterCOBID, can.MaxStdID, can.HandlerFunc(s.Receive))
	if err != nil {
		return nil, fmt.Errorf("install lss receive filter: %w", err)
	}
	s.unsubscribe = unsub
	return s, nil
}

// Close removes the receive filter.
func (s *Slave) Close() {
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
}

// Address returns the device identity.
func (s *Slave) Address() Address { return s.cfg.Address }

// State returns the current LSS state.
func (s *Slave) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// PendingNodeID returns the node id configured in this session.
func (s *Slave) PendingNodeID() uint8 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pendingNodeID
}

// PendingBitRate returns the bit rate configured in this session.
func (s *Slave) PendingBitRate() uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pendingBitRate
}

// Process records the values in effect on the bus and returns the pending
// ones. continueInit is true once a real node id is pending and the slave
// has left configuration, i.e. the host may finish its start-up.
func (s *Slave) Process(activeNodeID uint8, activeBitRate uint16) (pendingNodeID uint8, pendingBitRate uint16, continueInit bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.activeNodeID = activeNodeID
	s.activeBitRate = activeBitRate
	continueInit = NodeIDConfigured(s.pendingNodeID) && s.state == StateWaiting
	return s.pendingNodeID, s.pendingBitRate, continueInit
}

// Receive handles one frame from the master. Frames that are not 8 bytes
// long or carry an unknown command are dropped.
func (s *Slave) Receive(f can.Frame) {
	if f.DLC != 8 {
		return
	}
	var req frame
	copy(req[:], f.Data[:])
	s.events.Frame(log.DirectionIn, s.cfg.NodeID, f.ID, f.Payload())

	s.mu.Lock()
	reply, deferred := s.handleLocked(req)
	s.mu.Unlock()

	if deferred != nil {
		reply = deferred()
	}
	if reply != nil {
		s.send(*reply)
	}
}

// handleLocked applies req to the state machine. Work that calls into
// capabilities is returned as deferred and runs without the lock held.
func (s *Slave) handleLocked(req frame) (reply *frame, deferred func() *frame) {
	switch cmd := req.command(); cmd {
	case CmdSwitchStateGlobal:
		s.switchGlobalLocked(req[1])

	case CmdSwitchStateSelectiveVendor, CmdSwitchStateSelectiveProduct,
		CmdSwitchStateSelectiveRevision, CmdSwitchStateSelectiveSerial:
		return s.switchSelectiveLocked(cmd, req.u32()), nil

	case CmdConfigureNodeID:
		if s.state != StateConfiguration {
			return nil, nil
		}
		return s.configureNodeIDLocked(req[1]), nil

	case CmdConfigureBitTiming:
		if s.state != StateConfiguration {
			return nil, nil
		}
		return s.configureBitTimingLocked(req[1], req[2]), nil

	case CmdActivateBitTiming:
		if s.state != StateConfiguration || s.cfg.Capabilities.Activator == nil {
			return nil, nil
		}
		delay := time.Duration(req.u16()) * time.Millisecond
		activator := s.cfg.Capabilities.Activator
		return nil, func() *frame {
			s.logger.Info("bit rate activation requested", "switch_delay", delay)
			activator.ActivateBitRate(delay)
			return nil
		}

	case CmdConfigureStore:
		if s.state != StateConfiguration {
			return nil, nil
		}
		return s.storeLocked()

	case CmdInquireVendor, CmdInquireProduct, CmdInquireRevision, CmdInquireSerial:
		if s.state != StateConfiguration {
			return nil, nil
		}
		r := newFrame(cmd)
		r.putU32(s.cfg.Address.Field(uint8(cmd - CmdInquireVendor)))
		return &r, nil

	case CmdInquireNodeID:
		if s.state != StateConfiguration {
			return nil, nil
		}
		r := newFrame(cmd)
		r.putU32(uint32(s.activeNodeID))
		return &r, nil

	case CmdIdentifyFastscan:
		if s.state != StateWaiting {
			return nil, nil
		}
		if s.cfg.FastscanUnconfiguredOnly && NodeIDConfigured(s.pendingNodeID) {
			return nil, nil
		}
		return s.fastscanLocked(req), nil
	}
	return nil, nil
}

func (s *Slave) setStateLocked(next State, reason string) {
	if s.state == next {
		return
	}
	s.logger.Debug("lss state change", "from", s.state, "to", next, "reason", reason)
	s.events.State(log.LayerLSS, s.activeNodeID, log.StateEntityLSS, s.state.String(), next.String(), reason)
	s.state = next
}

func (s *Slave) switchGlobalLocked(mode uint8) {
	switch mode {
	case ModeWaiting:
		s.setStateLocked(StateWaiting, "switch global")
		s.selection = Address{}
		s.selStep = 0
	case ModeConfiguration:
		s.setStateLocked(StateConfiguration, "switch global")
	}
}

func (s *Slave) switchSelectiveLocked(cmd Command, value uint32) *frame {
	if s.state != StateWaiting {
		return nil
	}

	field := uint8(cmd - CmdSwitchStateSelectiveVendor)
	if field == FastscanVendor {
		s.selection = Address{}
		s.selStep = 0
	}
	if field != s.selStep {
		// Out of order or skipped field: the sequence has to start over.
		s.selection = Address{}
		s.selStep = 0
		return nil
	}
	s.selection.SetField(field, value)
	s.selStep++

	if field != FastscanSerial {
		return nil
	}
	s.selStep = 0
	matched := s.selection == s.cfg.Address
	s.selection = Address{}
	if !matched {
		return nil
	}
	s.setStateLocked(StateConfiguration, "switch selective")
	r := newFrame(CmdSwitchStateSelectiveResult)
	return &r
}

func (s *Slave) configureNodeIDLocked(nid uint8) *frame {
	r := newFrame(CmdConfigureNodeID)
	if !NodeIDValid(nid) {
		r[1] = ConfigOutOfRange
		return &r
	}
	if nid != s.pendingNodeID {
		s.events.State(log.LayerLSS, s.activeNodeID, log.StateEntityPendingNodeID,
			fmt.Sprint(s.pendingNodeID), fmt.Sprint(nid), "configure pending")
	}
	s.pendingNodeID = nid
	r[1] = ConfigOK
	return &r
}

func (s *Slave) configureBitTimingLocked(selector, index uint8) *frame {
	r := newFrame(CmdConfigureBitTiming)
	if selector != 0 {
		r[1] = ConfigOutOfRange
		return &r
	}
	validator := s.cfg.Capabilities.Validator
	if validator == nil {
		return nil
	}
	kbit, ok := BitRateFromIndex(index)
	if !ok || !validator.BitRateSupported(kbit) {
		r[1] = ConfigOutOfRange
		return &r
	}
	s.pendingBitRate = kbit
	r[1] = ConfigOK
	return &r
}

func (s *Slave) storeLocked() (*frame, func() *frame) {
	r := newFrame(CmdConfigureStore)
	storer := s.cfg.Capabilities.Storer
	if storer == nil {
		r[1] = ConfigNotSupported
		return &r, nil
	}
	nid, kbit := s.pendingNodeID, s.pendingBitRate
	return nil, func() *frame {
		if err := storer.StoreConfig(nid, kbit); err != nil {
			s.logger.Warn("storing lss configuration failed", "error", err)
			s.events.Error(log.LayerLSS, "store configuration", err, nil)
			r[1] = ConfigAccessFailed
			return &r
		}
		r[1] = ConfigOK
		return &r
	}
}

func (s *Slave) fastscanLocked(req frame) *frame {
	bitCheck, sub, next := req.bitCheck(), req.lssSub(), req.lssNext()

	if bitCheck == FastscanConfirm {
		s.scanPos = FastscanVendor
		r := newFrame(CmdIdentifySlave)
		return &r
	}
	if bitCheck > 31 || sub > FastscanSerial || next > FastscanSerial || s.scanPos != sub {
		return nil
	}

	mask := uint32(0xFFFFFFFF) << bitCheck
	if (req.u32()^s.cfg.Address.Field(sub))&mask != 0 {
		return nil
	}
	s.scanPos = next
	if bitCheck == 0 && next < sub {
		s.setStateLocked(StateConfiguration, "fastscan")
	}
	r := newFrame(CmdIdentifySlave)
	return &r
}

// send transmits r using the slave's transmit buffer. Errors are logged,
// the master notices a missing reply by its timeout.
func (s *Slave) send(r frame) {
	s.mu.Lock()
	copy(s.tx.Data[:], r[:])
	tx := s.tx
	nid := s.activeNodeID
	s.mu.Unlock()

	s.events.Frame(log.DirectionOut, nid, tx.ID, tx.Payload())
	if err := s.bus.Send(tx); err != nil {
		s.logger.Warn("lss reply not sent", "command", r.command(), "error", err)
	}
}
