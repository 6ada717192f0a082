package can

import "errors"

// Bus errors.
var (
	ErrClosed     = errors.New("can: bus closed")
	ErrNilHandler = errors.New("can: nil handler")
)

// Handler processes received frames. Handlers run on the bus delivery
// goroutine and must not block.
type Handler interface {
	HandleFrame(f Frame)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(f Frame)

// HandleFrame calls fn(f).
func (fn HandlerFunc) HandleFrame(f Frame) { fn(f) }

// Bus is the hardware driver contract: transmit, and install a receive
// filter with its handler.
type Bus interface {
	// Send transmits a frame. It never blocks on a peer's reply.
	Send(f Frame) error

	// Subscribe delivers every frame whose identifier matches id under mask.
	// The returned function removes the subscription.
	Subscribe(id, mask uint32, h Handler) (unsubscribe func(), err error)
}

// BitRateSwitcher is implemented by buses whose controller can change its
// bit rate at runtime. kbit is in kbit/s.
type BitRateSwitcher interface {
	SetBitRate(kbit uint16) error
	BitRate() uint16
}
