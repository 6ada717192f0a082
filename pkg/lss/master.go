package lss

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/martinwag/CANopenNode/pkg/can"
	"github.com/martinwag/CANopenNode/pkg/log"
)

// DefaultTimeout is the default per-transfer timeout of the master.
const DefaultTimeout = time.Second

// MasterConfig configures an LSS master.
type MasterConfig struct {
	// Timeout is the per-transfer timeout. Zero selects DefaultTimeout.
	Timeout time.Duration

	// FastscanTimeout is the per-step fastscan timeout. Zero uses Timeout.
	FastscanTimeout time.Duration

	// MasterCOBID and SlaveCOBID override the default identifiers.
	MasterCOBID uint32
	SlaveCOBID  uint32

	// Name labels log output.
	Name string

	// Logger receives operational messages. Nil discards them.
	Logger *slog.Logger

	// ProtocolLogger captures frames. Nil disables capture.
	ProtocolLogger log.Logger
}

type operation uint8

const (
	opNone operation = iota
	opSelect
	opConfigureNodeID
	opConfigureBitTiming
	opConfigureStore
	opInquireAddress
	opInquireNodeID
	opFastscan
)

// Master drives LSS slaves through non-blocking step functions.
//
// Every step function is called repeatedly with the time elapsed since the
// previous call and returns ResultWait until the operation resolves. Only
// one operation may be in progress. Step functions must be called from a
// single goroutine; Receive may run on the bus goroutine.
type Master struct {
	bus             can.Bus
	cfg             MasterConfig
	timeout         time.Duration
	fastscanTimeout time.Duration

	selected bool
	op       operation
	timer    time.Duration

	inquireField uint8
	inquired     Address
	scan         fastscanProgress
	slaveErr     uint8
	slaveSpecErr uint8

	rxMu     sync.Mutex
	rxWanted Command
	rx       *frame

	unsubscribe func()
	logger      *slog.Logger
	events      *log.Emitter
}

// NewMaster creates a master and installs its receive filter on bus.
func NewMaster(bus can.Bus, cfg MasterConfig) (*Master, error) {
	if bus == nil {
		return nil, ErrNilBus
	}
	if cfg.Timeout < 0 || cfg.FastscanTimeout < 0 {
		return nil, fmt.Errorf("negative timeout: %w", ErrIllegalArgument)
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.FastscanTimeout == 0 {
		cfg.FastscanTimeout = cfg.Timeout
	}
	if cfg.MasterCOBID == 0 {
		cfg.MasterCOBID = MasterCOBID
	}
	if cfg.SlaveCOBID == 0 {
		cfg.SlaveCOBID = SlaveCOBID
	}

	m := &Master{
		bus:             bus,
		cfg:             cfg,
		timeout:         cfg.Timeout,
		fastscanTimeout: cfg.FastscanTimeout,
		logger:          cfg.Logger,
	}
	if m.logger == nil {
		m.logger = slog.New(slog.DiscardHandler)
	}
	m.logger = m.logger.With("component", "lss-master")
	if cfg.ProtocolLogger != nil {
		m.events = log.NewEmitter(cfg.ProtocolLogger, log.RoleMaster, cfg.Name)
	}

	unsub, err := bus.Subscribe(cfg.SlaveCOBID, can.MaxStdID, can.HandlerFunc(m.Receive))
	if err != nil {
		return nil, fmt.Errorf("install lss receive filter: %w", err)
	}
	m.unsubscribe = unsub
	return m, nil
}

// Close removes the receive filter.
func (m *Master) Close() {
	if m.unsubscribe != nil {
		m.unsubscribe()
	}
}

// SetTimeout changes the per-transfer timeout for operations started later.
func (m *Master) SetTimeout(d time.Duration) {
	if d > 0 {
		m.timeout = d
	}
}

// SetFastscanTimeout changes the per-step fastscan timeout.
func (m *Master) SetFastscanTimeout(d time.Duration) {
	if d > 0 {
		m.fastscanTimeout = d
	}
}

// Selected reports whether the master believes a slave (or all slaves)
// are in configuration state.
func (m *Master) Selected() bool { return m.selected }

// Busy reports whether an operation is in progress.
func (m *Master) Busy() bool { return m.op != opNone }

// LastSlaveError returns the error code and manufacturer-specific code of
// the last configuration reply.
func (m *Master) LastSlaveError() (code, specific uint8) {
	return m.slaveErr, m.slaveSpecErr
}

// Receive accepts a slave reply. Only the reply the current transfer waits
// for is kept, further replies are discarded.
func (m *Master) Receive(f can.Frame) {
	if f.DLC != 8 {
		return
	}
	var r frame
	copy(r[:], f.Data[:])
	m.events.Frame(log.DirectionIn, 0, f.ID, f.Payload())

	m.rxMu.Lock()
	defer m.rxMu.Unlock()
	if m.rx == nil && m.rxWanted != 0 && r.command() == m.rxWanted {
		m.rx = &r
	}
}

func (m *Master) takeReply() (frame, bool) {
	m.rxMu.Lock()
	defer m.rxMu.Unlock()
	if m.rx == nil {
		return frame{}, false
	}
	r := *m.rx
	m.rx = nil
	m.rxWanted = 0
	return r, true
}

// transmit sends f and arms reception of want (0 for no reply).
func (m *Master) transmit(f frame, want Command) error {
	m.rxMu.Lock()
	m.rx = nil
	m.rxWanted = want
	m.rxMu.Unlock()

	tx := can.Frame{ID: m.cfg.MasterCOBID, DLC: 8, Data: f}
	m.events.Frame(log.DirectionOut, 0, tx.ID, tx.Payload())
	if err := m.bus.Send(tx); err != nil {
		m.logger.Warn("lss request not sent", "command", f.command(), "error", err)
		return err
	}
	return nil
}

// request sends f, expects a reply of kind want and arms the timer.
func (m *Master) request(f frame, want Command, timeout time.Duration) bool {
	m.timer = timeout
	return m.transmit(f, want) == nil
}

// poll checks for the awaited reply and advances the timer.
func (m *Master) poll(elapsed time.Duration) (frame, Result) {
	if r, ok := m.takeReply(); ok {
		return r, ResultOK
	}
	m.timer -= elapsed
	if m.timer <= 0 {
		m.rxMu.Lock()
		m.rxWanted = 0
		m.rxMu.Unlock()
		return frame{}, ResultTimeout
	}
	return frame{}, ResultWait
}

// check guards the start of an operation: a different pending operation
// yields INVALID_STATE.
func (m *Master) check(op operation) (Result, bool) {
	if m.op != opNone && m.op != op {
		return ResultInvalidState, false
	}
	return ResultWait, true
}

func (m *Master) finish(r Result) Result {
	m.op = opNone
	return r
}

// SwitchStateSelect selects one slave by address. With a nil address all
// slaves are switched to configuration state and the call resolves
// immediately.
func (m *Master) SwitchStateSelect(elapsed time.Duration, addr *Address) Result {
	if r, ok := m.check(opSelect); !ok {
		return r
	}

	if m.op == opNone {
		if addr == nil {
			f := newFrame(CmdSwitchStateGlobal)
			f[1] = ModeConfiguration
			if err := m.transmit(f, 0); err != nil {
				return ResultTimeout
			}
			m.selected = true
			return ResultOK
		}
		if m.selected {
			return ResultInvalidState
		}

		m.op = opSelect
		for field := FastscanVendor; field < FastscanSerial; field++ {
			f := newFrame(selectiveCommand(field))
			f.putU32(addr.Field(field))
			if err := m.transmit(f, 0); err != nil {
				return m.finish(ResultTimeout)
			}
		}
		f := newFrame(CmdSwitchStateSelectiveSerial)
		f.putU32(addr.SerialNumber)
		if !m.request(f, CmdSwitchStateSelectiveResult, m.timeout) {
			return m.finish(ResultTimeout)
		}
		return ResultWait
	}

	_, res := m.poll(elapsed)
	if res == ResultOK {
		m.selected = true
	}
	if res.Done() {
		m.finish(res)
	}
	return res
}

// SwitchStateDeselect returns all slaves to waiting state. It resolves
// immediately.
func (m *Master) SwitchStateDeselect() Result {
	if m.op != opNone {
		return ResultInvalidState
	}
	f := newFrame(CmdSwitchStateGlobal)
	f[1] = ModeWaiting
	if err := m.transmit(f, 0); err != nil {
		return ResultTimeout
	}
	m.selected = false
	return ResultOK
}

// configure runs one configuration transfer and interprets its reply code.
func (m *Master) configure(elapsed time.Duration, op operation, build func() (frame, Result)) Result {
	if r, ok := m.check(op); !ok {
		return r
	}

	if m.op == opNone {
		f, res := build()
		if res != ResultWait {
			return res
		}
		if !m.selected {
			return ResultInvalidState
		}
		m.op = op
		if !m.request(f, f.command(), m.timeout) {
			return m.finish(ResultTimeout)
		}
		return ResultWait
	}

	r, res := m.poll(elapsed)
	if res != ResultOK {
		if res.Done() {
			m.finish(res)
		}
		return res
	}
	m.slaveErr, m.slaveSpecErr = r[1], r[2]
	if r[1] != ConfigOK {
		return m.finish(ResultOKWithSlaveObjection)
	}
	return m.finish(ResultOK)
}

// ConfigureNodeID assigns a node id to the selected slave.
func (m *Master) ConfigureNodeID(elapsed time.Duration, nodeID uint8) Result {
	return m.configure(elapsed, opConfigureNodeID, func() (frame, Result) {
		if !NodeIDValid(nodeID) {
			return frame{}, ResultIllegalArgument
		}
		f := newFrame(CmdConfigureNodeID)
		f[1] = nodeID
		return f, ResultWait
	})
}

// ConfigureBitTiming sets the pending bit rate (kbit/s) of the selected slave.
func (m *Master) ConfigureBitTiming(elapsed time.Duration, kbit uint16) Result {
	return m.configure(elapsed, opConfigureBitTiming, func() (frame, Result) {
		index, ok := BitRateIndex(kbit)
		if !ok {
			return frame{}, ResultIllegalArgument
		}
		f := newFrame(CmdConfigureBitTiming)
		f[1] = 0
		f[2] = index
		return f, ResultWait
	})
}

// ConfigureStore makes the selected slave persist its pending values.
func (m *Master) ConfigureStore(elapsed time.Duration) Result {
	return m.configure(elapsed, opConfigureStore, func() (frame, Result) {
		return newFrame(CmdConfigureStore), ResultWait
	})
}

// ActivateBitTiming makes all slaves in configuration state switch to
// their pending bit rate after switchDelay. No reply is expected.
func (m *Master) ActivateBitTiming(switchDelay time.Duration) Result {
	if m.op != opNone {
		return ResultInvalidState
	}
	ms := switchDelay.Milliseconds()
	if ms < 0 || ms > 0xFFFF {
		return ResultIllegalArgument
	}
	if !m.selected {
		return ResultInvalidState
	}
	f := newFrame(CmdActivateBitTiming)
	f.putU16(uint16(ms))
	if err := m.transmit(f, 0); err != nil {
		return ResultTimeout
	}
	return ResultOK
}

// InquireAddress reads the complete address of the selected slave.
func (m *Master) InquireAddress(elapsed time.Duration, out *Address) Result {
	if r, ok := m.check(opInquireAddress); !ok {
		return r
	}

	if m.op == opNone {
		if out == nil {
			return ResultIllegalArgument
		}
		if !m.selected {
			return ResultInvalidState
		}
		m.op = opInquireAddress
		m.inquireField = FastscanVendor
		m.inquired = Address{}
		if !m.request(newFrame(inquireCommand(m.inquireField)), inquireCommand(m.inquireField), m.timeout) {
			return m.finish(ResultTimeout)
		}
		return ResultWait
	}

	r, res := m.poll(elapsed)
	if res != ResultOK {
		if res.Done() {
			m.finish(res)
		}
		return res
	}
	m.inquired.SetField(m.inquireField, r.u32())
	if m.inquireField == FastscanSerial {
		*out = m.inquired
		return m.finish(ResultOK)
	}
	m.inquireField++
	if !m.request(newFrame(inquireCommand(m.inquireField)), inquireCommand(m.inquireField), m.timeout) {
		return m.finish(ResultTimeout)
	}
	return ResultWait
}

// InquireNodeID reads the active node id of the selected slave.
func (m *Master) InquireNodeID(elapsed time.Duration, out *uint8) Result {
	if r, ok := m.check(opInquireNodeID); !ok {
		return r
	}

	if m.op == opNone {
		if out == nil {
			return ResultIllegalArgument
		}
		if !m.selected {
			return ResultInvalidState
		}
		m.op = opInquireNodeID
		if !m.request(newFrame(CmdInquireNodeID), CmdInquireNodeID, m.timeout) {
			return m.finish(ResultTimeout)
		}
		return ResultWait
	}

	r, res := m.poll(elapsed)
	if res == ResultOK {
		*out = r[1]
	}
	if res.Done() {
		m.finish(res)
	}
	return res
}

// Abort drops the operation in progress without waiting for its reply.
func (m *Master) Abort() {
	m.rxMu.Lock()
	m.rx = nil
	m.rxWanted = 0
	m.rxMu.Unlock()
	m.op = opNone
}

// Drive calls step every interval with the measured elapsed time until it
// returns a terminal result. When ctx ends first, the operation is aborted
// and ResultTimeout returned.
func (m *Master) Drive(ctx context.Context, interval time.Duration, step func(elapsed time.Duration) Result) Result {
	if res := step(0); res.Done() {
		return res
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			m.Abort()
			return ResultTimeout
		case now := <-ticker.C:
			res := step(now.Sub(last))
			last = now
			if res.Done() {
				return res
			}
		}
	}
}
