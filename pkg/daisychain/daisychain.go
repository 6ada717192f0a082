// Package daisychain exchanges daisy chain events between nodes wired in a
// line. An event carries a shift count and the node id of its sender in a
// two-byte frame on a shared identifier.
package daisychain

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/martinwag/CANopenNode/pkg/can"
)

// DefaultCOBID is the identifier used when none is configured.
const DefaultCOBID uint32 = 0x7E6

// DefaultTimeout is the consumer wait timeout used when none is configured.
const DefaultTimeout = 100 * time.Millisecond

// ErrNilBus is returned when a producer or consumer is created without a bus.
var ErrNilBus = errors.New("daisychain: nil bus")

// Producer sends daisy chain events.
type Producer struct {
	bus   can.Bus
	cobID uint32
}

// NewProducer returns a producer sending on cobID, or DefaultCOBID if zero.
func NewProducer(bus can.Bus, cobID uint32) (*Producer, error) {
	if bus == nil {
		return nil, ErrNilBus
	}
	if cobID == 0 {
		cobID = DefaultCOBID
	}
	return &Producer{bus: bus, cobID: cobID}, nil
}

// SendEvent transmits one event.
func (p *Producer) SendEvent(shiftCount, nodeID uint8) error {
	f := can.Frame{ID: p.cobID, DLC: 2}
	f.Data[0], f.Data[1] = shiftCount, nodeID
	if err := p.bus.Send(f); err != nil {
		return fmt.Errorf("send daisy chain event: %w", err)
	}
	return nil
}

// Result is the outcome of Consumer.WaitEvent.
type Result uint8

const (
	WaitPending Result = iota
	WaitOK
	WaitTimeout
)

func (r Result) String() string {
	switch r {
	case WaitPending:
		return "WAIT"
	case WaitOK:
		return "OK"
	case WaitTimeout:
		return "TIMEOUT"
	default:
		return "UNKNOWN"
	}
}

// ConsumerConfig configures a consumer.
type ConsumerConfig struct {
	COBID   uint32
	Timeout time.Duration

	// Signal, if set, is called from the bus goroutine when an event is
	// accepted. It must not block.
	Signal func()
}

// Consumer keeps the last received event until WaitEvent collects it.
// Events arriving while one is pending are dropped.
type Consumer struct {
	timeout time.Duration
	signal  func()

	mu      sync.Mutex
	pending bool
	data    [2]byte
	timer   time.Duration

	unsubscribe func()
}

// NewConsumer installs a receive filter for the daisy chain identifier.
func NewConsumer(bus can.Bus, cfg ConsumerConfig) (*Consumer, error) {
	if bus == nil {
		return nil, ErrNilBus
	}
	if cfg.COBID == 0 {
		cfg.COBID = DefaultCOBID
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	c := &Consumer{timeout: cfg.Timeout, signal: cfg.Signal}
	unsub, err := bus.Subscribe(cfg.COBID, can.MaxStdID, can.HandlerFunc(c.Receive))
	if err != nil {
		return nil, fmt.Errorf("install daisy chain receive filter: %w", err)
	}
	c.unsubscribe = unsub
	return c, nil
}

// Close removes the receive filter.
func (c *Consumer) Close() {
	if c.unsubscribe != nil {
		c.unsubscribe()
	}
}

// Receive accepts a frame from the bus.
func (c *Consumer) Receive(f can.Frame) {
	if f.DLC != 2 {
		return
	}
	c.mu.Lock()
	if c.pending {
		c.mu.Unlock()
		return
	}
	c.data = [2]byte{f.Data[0], f.Data[1]}
	c.pending = true
	c.mu.Unlock()

	if c.signal != nil {
		c.signal()
	}
}

// WaitEvent returns a pending event, or advances the timeout by elapsed.
// The timer restarts after every event and every timeout.
func (c *Consumer) WaitEvent(elapsed time.Duration) (res Result, shiftCount, nodeID uint8) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pending {
		c.pending = false
		c.timer = 0
		return WaitOK, c.data[0], c.data[1]
	}
	c.timer += elapsed
	if c.timer >= c.timeout {
		c.timer = 0
		return WaitTimeout, 0, 0
	}
	return WaitPending, 0, 0
}
