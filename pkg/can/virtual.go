package can

import (
	"sync"

	"github.com/martinwag/CANopenNode/pkg/log"
)

// VirtualBus is an in-memory CAN segment. Each attached Port behaves like
// one controller: frames it sends are delivered to every other port that
// runs at the same bit rate and has a matching subscription.
//
// Frames sent from inside a handler are queued and delivered once the
// current delivery returns, so handlers may reply without recursion.
type VirtualBus struct {
	mu         sync.Mutex
	ports      []*Port
	queue      []pending
	delivering bool
	closed     bool
	delivered  uint64

	events *log.Emitter
}

type pending struct {
	from  *Port
	frame Frame
}

// NewVirtualBus creates an empty bus. Pass a protocol logger to capture
// every transmitted frame, or nil.
func NewVirtualBus(logger log.Logger) *VirtualBus {
	var events *log.Emitter
	if logger != nil {
		events = log.NewEmitter(logger, log.RoleBus, "vbus")
	}
	return &VirtualBus{events: events}
}

// Attach adds a controller to the bus running at kbit kbit/s.
func (b *VirtualBus) Attach(name string, kbit uint16) *Port {
	p := &Port{bus: b, name: name, bitRate: kbit}
	b.mu.Lock()
	b.ports = append(b.ports, p)
	b.mu.Unlock()
	return p
}

// Delivered returns the number of frame deliveries made to handlers.
func (b *VirtualBus) Delivered() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.delivered
}

// Close detaches all ports. Later sends fail with ErrClosed.
func (b *VirtualBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.ports = nil
	b.queue = nil
}

func (b *VirtualBus) send(from *Port, f Frame) error {
	if err := f.Validate(); err != nil {
		return err
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	b.queue = append(b.queue, pending{from: from, frame: f})
	if b.delivering {
		b.mu.Unlock()
		return nil
	}
	b.delivering = true

	for len(b.queue) > 0 {
		next := b.queue[0]
		b.queue = b.queue[1:]
		handlers := b.targetsLocked(next)
		b.delivered += uint64(len(handlers))
		b.mu.Unlock()

		b.events.Frame(log.DirectionOut, 0, next.frame.ID, next.frame.Payload())
		for _, h := range handlers {
			h.HandleFrame(next.frame)
		}

		b.mu.Lock()
	}
	b.delivering = false
	b.mu.Unlock()
	return nil
}

func (b *VirtualBus) targetsLocked(p pending) []Handler {
	var out []Handler
	for _, port := range b.ports {
		if port == p.from || port.bitRate != p.from.bitRate {
			continue
		}
		for _, s := range port.subs {
			if Matches(p.frame.ID, s.id, s.mask) {
				out = append(out, s.h)
			}
		}
	}
	return out
}

// Port is one controller attached to a VirtualBus.
type Port struct {
	bus     *VirtualBus
	name    string
	bitRate uint16 // guarded by bus.mu
	subs    []*subscription
	sent    uint64
}

type subscription struct {
	id, mask uint32
	h        Handler
}

// Name returns the port name given to Attach.
func (p *Port) Name() string { return p.name }

// Send implements Bus.
func (p *Port) Send(f Frame) error {
	p.bus.mu.Lock()
	p.sent++
	p.bus.mu.Unlock()
	return p.bus.send(p, f)
}

// Sent returns the number of frames this port transmitted.
func (p *Port) Sent() uint64 {
	p.bus.mu.Lock()
	defer p.bus.mu.Unlock()
	return p.sent
}

// Subscribe implements Bus.
func (p *Port) Subscribe(id, mask uint32, h Handler) (func(), error) {
	if h == nil {
		return nil, ErrNilHandler
	}
	s := &subscription{id: id, mask: mask, h: h}

	p.bus.mu.Lock()
	defer p.bus.mu.Unlock()
	if p.bus.closed {
		return nil, ErrClosed
	}
	p.subs = append(p.subs, s)

	return func() {
		p.bus.mu.Lock()
		defer p.bus.mu.Unlock()
		for i, cur := range p.subs {
			if cur == s {
				p.subs = append(p.subs[:i], p.subs[i+1:]...)
				return
			}
		}
	}, nil
}

// SetBitRate implements BitRateSwitcher. Frames are only exchanged between
// ports running at the same rate.
func (p *Port) SetBitRate(kbit uint16) error {
	p.bus.mu.Lock()
	defer p.bus.mu.Unlock()
	p.bitRate = kbit
	return nil
}

// BitRate implements BitRateSwitcher.
func (p *Port) BitRate() uint16 {
	p.bus.mu.Lock()
	defer p.bus.mu.Unlock()
	return p.bitRate
}

// Compile-time interface satisfaction checks.
var (
	_ Bus             = (*Port)(nil)
	_ BitRateSwitcher = (*Port)(nil)
)
