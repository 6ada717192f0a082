// Package sim runs a set of LSS nodes and one LSS master on a virtual CAN
// bus, as described by an lss-sim configuration.
package sim

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/martinwag/CANopenNode/internal/config"
	"github.com/martinwag/CANopenNode/pkg/can"
	"github.com/martinwag/CANopenNode/pkg/log"
	"github.com/martinwag/CANopenNode/pkg/lss"
	"github.com/martinwag/CANopenNode/pkg/node"
	"github.com/martinwag/CANopenNode/pkg/persistence"
	"github.com/martinwag/CANopenNode/pkg/storage"
)

// Errors returned by the simulator.
var (
	ErrOperation    = errors.New("sim: lss operation failed")
	ErrUnknownNode  = errors.New("sim: unknown node")
	ErrNoFreeNodeID = errors.New("sim: no free node id")
)

// MasterPort is the name of the master's bus port.
const MasterPort = "master"

// EventHandler receives node events drained by the process loop.
type EventHandler func(nodeName string, ev node.Event)

// Simulator owns the bus, the nodes and the master.
type Simulator struct {
	cfg        *config.Config
	logger     *slog.Logger
	bus        *can.VirtualBus
	masterPort *can.Port
	master     *lss.Master
	nodes      []*node.Node
	closers    []io.Closer
	store      *persistence.AssignmentStore
	tick       time.Duration

	// masterMu serializes master operations; the master is single threaded.
	masterMu sync.Mutex

	handlerMu sync.RWMutex
	handler   EventHandler

	wg      sync.WaitGroup
	started bool
}

// New builds the simulator. Nodes are created but not booted.
func New(cfg *config.Config, logger *slog.Logger, protocol log.Logger) (*Simulator, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	s := &Simulator{
		cfg:    cfg,
		logger: logger,
		bus:    can.NewVirtualBus(protocol),
		tick:   time.Duration(cfg.Bus.TickMs) * time.Millisecond,
	}
	if cfg.Master.AssignmentsFile != "" {
		s.store = persistence.NewAssignmentStore(cfg.Master.AssignmentsFile)
	}

	s.masterPort = s.bus.Attach(MasterPort, cfg.Bus.BitRate)
	var err error
	s.master, err = lss.NewMaster(s.masterPort, lss.MasterConfig{
		Timeout:         time.Duration(cfg.Master.TimeoutMs) * time.Millisecond,
		FastscanTimeout: time.Duration(cfg.Master.FastscanTimeoutMs) * time.Millisecond,
		Name:            MasterPort,
		Logger:          logger,
		ProtocolLogger:  protocol,
	})
	if err != nil {
		return nil, fmt.Errorf("create master: %w", err)
	}

	for _, nc := range cfg.Nodes {
		n, err := s.newNode(nc, protocol)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("node %q: %w", nc.Name, err)
		}
		s.nodes = append(s.nodes, n)
	}
	return s, nil
}

func (s *Simulator) newNode(nc config.NodeConfig, protocol log.Logger) (*node.Node, error) {
	ncfg := node.Config{
		Identity:          nc.Address,
		NodeID:            nc.NodeID,
		BitRate:           nc.BitRate,
		SupportedBitRates: nc.SupportedBitRates,
		DeviceName:        nc.DeviceName,
		DeviceType:        nc.DeviceType,
		HeartbeatMs:       nc.HeartbeatMs,
		AppParams:         nc.AppParams,
		BuildID:           s.cfg.Storage.BuildID,
		DaisychainCOBID:   s.cfg.Daisychain.COBID,
		DaisychainTimeout: time.Duration(s.cfg.Daisychain.TimeoutMs) * time.Millisecond,
		Name:              nc.Name,
		Logger:            s.logger,
		ProtocolLogger:    protocol,
	}

	size, err := node.StorageSize(ncfg)
	if err != nil {
		return nil, err
	}
	medium, err := s.openMedium(nc.Name, size)
	if err != nil {
		return nil, err
	}

	port := s.bus.Attach(nc.Name, nc.BitRate)
	return node.New(port, medium, ncfg)
}

// openMedium returns a file medium in the storage directory, or a memory
// medium when none is configured.
func (s *Simulator) openMedium(name string, size int64) (storage.Medium, error) {
	if s.cfg.Storage.Dir == "" {
		return storage.NewMemMedium(int(size)), nil
	}
	if err := os.MkdirAll(s.cfg.Storage.Dir, 0755); err != nil {
		return nil, err
	}
	m, err := storage.OpenFileMedium(MediumPath(s.cfg.Storage.Dir, name), size)
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, m)
	return m, nil
}

// MediumPath is the file that backs the storage of the named node.
func MediumPath(dir, name string) string {
	return filepath.Join(dir, name+".nvm")
}

// ClearMedia removes the medium file of every configured node. Other files
// in the storage directory are left alone, and missing media are not an
// error.
func ClearMedia(cfg *config.Config) error {
	if cfg.Storage.Dir == "" {
		return nil
	}
	var errs []error
	for _, nc := range cfg.Nodes {
		err := os.Remove(MediumPath(cfg.Storage.Dir, nc.Name))
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// OnEvent sets the handler for node events. Without one, events are logged.
func (s *Simulator) OnEvent(h EventHandler) {
	s.handlerMu.Lock()
	defer s.handlerMu.Unlock()
	s.handler = h
}

// Start boots every node and runs the process loop until ctx ends.
func (s *Simulator) Start(ctx context.Context) error {
	if s.started {
		return nil
	}
	for _, n := range s.nodes {
		if err := n.Boot(); err != nil {
			return fmt.Errorf("boot %s: %w", n.Name(), err)
		}
	}
	s.started = true

	s.wg.Add(1)
	go s.run(ctx)
	s.logger.Info("simulation started", "summary", s.cfg.Summary())
	return nil
}

func (s *Simulator) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.Step(now.Sub(last))
			last = now
		}
	}
}

// Step processes every node once and dispatches their events.
func (s *Simulator) Step(elapsed time.Duration) {
	for _, n := range s.nodes {
		n.Process(elapsed)
		for {
			ev, ok := n.Events().TryReceive()
			if !ok {
				break
			}
			s.dispatch(n.Name(), ev)
		}
	}
}

func (s *Simulator) dispatch(name string, ev node.Event) {
	s.handlerMu.RLock()
	h := s.handler
	s.handlerMu.RUnlock()
	if h != nil {
		h(name, ev)
		return
	}
	s.logger.Info("node event", "node", name, "event", ev.Kind, "node_id", ev.NodeID, "bit_rate", ev.BitRate)
}

// Close stops the process loop and releases the nodes and media. The
// context passed to Start must be cancelled first.
func (s *Simulator) Close() error {
	s.wg.Wait()
	for _, n := range s.nodes {
		n.Close()
	}
	s.master.Close()
	s.bus.Close()

	var errs []error
	for _, c := range s.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

// Nodes returns the simulated nodes in configuration order.
func (s *Simulator) Nodes() []*node.Node { return s.nodes }

// Node returns the node named name.
func (s *Simulator) Node(name string) (*node.Node, error) {
	for _, n := range s.nodes {
		if n.Name() == name {
			return n, nil
		}
	}
	return nil, fmt.Errorf("%q: %w", name, ErrUnknownNode)
}

// MasterBitRate returns the bit rate of the master's controller.
func (s *Simulator) MasterBitRate() uint16 { return s.masterPort.BitRate() }

// Bus returns the virtual bus.
func (s *Simulator) Bus() *can.VirtualBus { return s.bus }
