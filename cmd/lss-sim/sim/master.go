package sim

import (
	"context"
	"fmt"
	"time"

	"github.com/martinwag/CANopenNode/pkg/lss"
	"github.com/martinwag/CANopenNode/pkg/persistence"
)

// check turns a terminal master result into an error.
func (s *Simulator) check(op string, r lss.Result) error {
	switch r {
	case lss.ResultOK:
		return nil
	case lss.ResultOKWithSlaveObjection:
		code, specific := s.master.LastSlaveError()
		return fmt.Errorf("%s: slave rejected (error %d, specific %d): %w", op, code, specific, ErrOperation)
	default:
		return fmt.Errorf("%s: %s: %w", op, r, ErrOperation)
	}
}

func (s *Simulator) drive(ctx context.Context, step func(time.Duration) lss.Result) lss.Result {
	return s.master.Drive(ctx, s.tick, step)
}

// Selected reports whether the master has a slave selected.
func (s *Simulator) Selected() bool {
	s.masterMu.Lock()
	defer s.masterMu.Unlock()
	return s.master.Selected()
}

// Select puts the slave with addr into configuration state.
func (s *Simulator) Select(ctx context.Context, addr lss.Address) error {
	s.masterMu.Lock()
	defer s.masterMu.Unlock()
	r := s.drive(ctx, func(e time.Duration) lss.Result { return s.master.SwitchStateSelect(e, &addr) })
	return s.check("select", r)
}

// SelectAll puts every slave into configuration state.
func (s *Simulator) SelectAll(ctx context.Context) error {
	s.masterMu.Lock()
	defer s.masterMu.Unlock()
	r := s.drive(ctx, func(e time.Duration) lss.Result { return s.master.SwitchStateSelect(e, nil) })
	return s.check("select all", r)
}

// Deselect returns all slaves to waiting state.
func (s *Simulator) Deselect() error {
	s.masterMu.Lock()
	defer s.masterMu.Unlock()
	return s.check("deselect", s.master.SwitchStateDeselect())
}

// ConfigureNodeID sets the pending node id of the selected slave.
func (s *Simulator) ConfigureNodeID(ctx context.Context, nid uint8) error {
	s.masterMu.Lock()
	defer s.masterMu.Unlock()
	r := s.drive(ctx, func(e time.Duration) lss.Result { return s.master.ConfigureNodeID(e, nid) })
	return s.check("configure node id", r)
}

// ConfigureBitRate sets the pending bit rate of the selected slave.
func (s *Simulator) ConfigureBitRate(ctx context.Context, kbit uint16) error {
	s.masterMu.Lock()
	defer s.masterMu.Unlock()
	r := s.drive(ctx, func(e time.Duration) lss.Result { return s.master.ConfigureBitTiming(e, kbit) })
	return s.check("configure bit timing", r)
}

// Store makes the selected slave persist its pending configuration.
func (s *Simulator) Store(ctx context.Context) error {
	s.masterMu.Lock()
	defer s.masterMu.Unlock()
	r := s.drive(ctx, s.master.ConfigureStore)
	return s.check("store", r)
}

// ActivateBitRate tells every slave in configuration state to switch to
// its pending bit rate and follows with the master's controller: it waits
// switchDelay, switches to kbit and waits switchDelay again.
func (s *Simulator) ActivateBitRate(ctx context.Context, kbit uint16, switchDelay time.Duration) error {
	if _, ok := lss.BitRateIndex(kbit); !ok || kbit == lss.BitRateAuto {
		return fmt.Errorf("activate: bit rate %d kbit/s: %w", kbit, lss.ErrIllegalArgument)
	}

	s.masterMu.Lock()
	defer s.masterMu.Unlock()
	if err := s.check("activate", s.master.ActivateBitTiming(switchDelay)); err != nil {
		return err
	}
	for i := range 2 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(switchDelay):
		}
		if i == 0 {
			if err := s.masterPort.SetBitRate(kbit); err != nil {
				return fmt.Errorf("activate: %w", err)
			}
			s.logger.Info("master switched bit rate", "bit_rate", kbit)
		}
	}
	return nil
}

// InquireAddress reads the full LSS address of the selected slave.
func (s *Simulator) InquireAddress(ctx context.Context) (lss.Address, error) {
	s.masterMu.Lock()
	defer s.masterMu.Unlock()
	var addr lss.Address
	r := s.drive(ctx, func(e time.Duration) lss.Result { return s.master.InquireAddress(e, &addr) })
	return addr, s.check("inquire address", r)
}

// InquireNodeID reads the active node id of the selected slave.
func (s *Simulator) InquireNodeID(ctx context.Context) (uint8, error) {
	s.masterMu.Lock()
	defer s.masterMu.Unlock()
	var nid uint8
	r := s.drive(ctx, func(e time.Duration) lss.Result { return s.master.InquireNodeID(e, &nid) })
	return nid, s.check("inquire node id", r)
}

// Fastscan identifies one unconfigured slave and leaves it selected. It
// returns false when every slave is configured.
func (s *Simulator) Fastscan(ctx context.Context) (lss.Address, bool, error) {
	s.masterMu.Lock()
	defer s.masterMu.Unlock()
	return s.fastscanLocked(ctx)
}

func (s *Simulator) fastscanLocked(ctx context.Context) (lss.Address, bool, error) {
	params := lss.ScanAll()
	r := s.drive(ctx, func(e time.Duration) lss.Result { return s.master.IdentifyFastscan(e, params) })
	if r == lss.ResultFastscanAllConfigured {
		return lss.Address{}, false, nil
	}
	if err := s.check("fastscan", r); err != nil {
		return lss.Address{}, false, err
	}
	return params.Found, true, nil
}

// Assign gives every unconfigured slave a node id. A slave found in the
// assignments file gets its previous node id back; others get the lowest
// free id from the configured first node id. Each slave is asked to store
// its configuration and is then released. The assignments made are
// returned and recorded in the assignments file, if one is configured.
func (s *Simulator) Assign(ctx context.Context) ([]persistence.Assignment, error) {
	s.masterMu.Lock()
	defer s.masterMu.Unlock()

	known, err := s.loadAssignments()
	if err != nil {
		return nil, err
	}

	reserved := make(map[uint8]bool)
	for _, nc := range s.cfg.Nodes {
		if lss.NodeIDConfigured(nc.NodeID) {
			reserved[nc.NodeID] = true
		}
	}

	var done []persistence.Assignment
	for {
		addr, found, err := s.fastscanLocked(ctx)
		if err != nil {
			return done, s.saveAssignments(known, err)
		}
		if !found {
			break
		}

		nid, ok := s.pickNodeID(known, addr, reserved)
		if !ok {
			s.master.SwitchStateDeselect()
			return done, s.saveAssignments(known, fmt.Errorf("assign %s: %w", addr, ErrNoFreeNodeID))
		}

		a, err := s.assignSelected(ctx, addr, nid)
		if err != nil {
			s.master.SwitchStateDeselect()
			return done, s.saveAssignments(known, err)
		}
		known.Put(a)
		done = append(done, a)
		s.logger.Info("node id assigned", "address", addr, "node_id", nid, "stored", a.Stored)
	}
	return done, s.saveAssignments(known, nil)
}

func (s *Simulator) pickNodeID(known *persistence.Assignments, addr lss.Address, reserved map[uint8]bool) (uint8, bool) {
	if a, ok := known.Lookup(addr); ok && !reserved[a.NodeID] {
		return a.NodeID, true
	}
	nid, ok := known.NextFreeNodeID(s.cfg.Master.FirstNodeID)
	for ok && reserved[nid] {
		nid, ok = known.NextFreeNodeID(nid + 1)
	}
	return nid, ok
}

// assignSelected configures, stores and releases the slave left selected
// by fastscan.
func (s *Simulator) assignSelected(ctx context.Context, addr lss.Address, nid uint8) (persistence.Assignment, error) {
	a := persistence.Assignment{Address: addr, NodeID: nid, AssignedAt: time.Now()}

	r := s.drive(ctx, func(e time.Duration) lss.Result { return s.master.ConfigureNodeID(e, nid) })
	if err := s.check("configure node id", r); err != nil {
		return a, err
	}

	// A slave without persistent storage objects to store; it keeps the
	// node id until reset.
	r = s.drive(ctx, s.master.ConfigureStore)
	switch r {
	case lss.ResultOK:
		a.Stored = true
	case lss.ResultOKWithSlaveObjection:
		code, _ := s.master.LastSlaveError()
		s.logger.Warn("slave did not store its configuration", "address", addr, "error", code)
	default:
		return a, s.check("store", r)
	}

	return a, s.check("deselect", s.master.SwitchStateDeselect())
}

func (s *Simulator) loadAssignments() (*persistence.Assignments, error) {
	if s.store == nil {
		return &persistence.Assignments{Version: persistence.AssignmentsVersion}, nil
	}
	a, err := s.store.Load()
	if err != nil {
		return nil, fmt.Errorf("load assignments: %w", err)
	}
	return a, nil
}

// saveAssignments records known and returns cause, or the save error if
// cause is nil.
func (s *Simulator) saveAssignments(known *persistence.Assignments, cause error) error {
	if s.store == nil {
		return cause
	}
	if err := s.store.Save(known); err != nil {
		s.logger.Warn("assignments not saved", "error", err)
		if cause == nil {
			return fmt.Errorf("save assignments: %w", err)
		}
	}
	return cause
}

// Assignments returns the recorded assignments.
func (s *Simulator) Assignments() (*persistence.Assignments, error) {
	return s.loadAssignments()
}
