package log

import (
	"time"

	"github.com/google/uuid"
)

// Logger is the interface applications implement to receive protocol log events.
// Pass nil or NoopLogger to disable logging.
type Logger interface {
	// Log records a protocol event. Implementations must be thread-safe.
	// The event should be processed quickly or queued; blocking affects performance.
	Log(event Event)
}

// NoopLogger discards all events. Use when logging is disabled.
// NoopLogger is safe for concurrent use and usable as a zero value.
type NoopLogger struct{}

// Log discards the event.
func (NoopLogger) Log(Event) {}

// Compile-time interface satisfaction check.
var _ Logger = NoopLogger{}

// Emitter stamps events of one endpoint with its session, role and source
// before forwarding them. A nil *Emitter or one without a Logger drops
// everything, so components can log unconditionally.
type Emitter struct {
	logger    Logger
	sessionID string
	role      Role
	source    string
	now       func() time.Time
}

// NewEmitter creates an Emitter with a fresh session ID.
// A nil logger yields an emitter that discards events.
func NewEmitter(logger Logger, role Role, source string) *Emitter {
	return &Emitter{
		logger:    logger,
		sessionID: uuid.NewString(),
		role:      role,
		source:    source,
		now:       time.Now,
	}
}

// SessionID returns the session ID stamped on every event.
func (e *Emitter) SessionID() string {
	if e == nil {
		return ""
	}
	return e.sessionID
}

// Enabled reports whether events reach a logger.
func (e *Emitter) Enabled() bool {
	return e != nil && e.logger != nil
}

// Emit fills the common fields and forwards the event.
func (e *Emitter) Emit(event Event) {
	if !e.Enabled() {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = e.now()
	}
	event.SessionID = e.sessionID
	event.LocalRole = e.role
	if event.Source == "" {
		event.Source = e.source
	}
	e.logger.Log(event)
}

// Frame records a CAN frame.
func (e *Emitter) Frame(dir Direction, nodeID uint8, cobID uint32, data []byte) {
	if !e.Enabled() {
		return
	}
	e.Emit(Event{
		Direction: dir,
		Layer:     LayerBus,
		Category:  CategoryFrame,
		NodeID:    nodeID,
		Frame: &FrameEvent{
			COBID: cobID,
			DLC:   uint8(len(data)),
			Data:  append([]byte(nil), data...),
		},
	})
}

// State records a state change.
func (e *Emitter) State(layer Layer, nodeID uint8, entity StateEntity, oldState, newState, reason string) {
	e.Emit(Event{
		Layer:    layer,
		Category: CategoryState,
		NodeID:   nodeID,
		StateChange: &StateChangeEvent{
			Entity:   entity,
			OldState: oldState,
			NewState: newState,
			Reason:   reason,
		},
	})
}

// Error records an error with an optional numeric code.
func (e *Emitter) Error(layer Layer, context string, err error, code *int) {
	if !e.Enabled() || err == nil {
		return
	}
	e.Emit(Event{
		Layer:    layer,
		Category: CategoryError,
		Error: &ErrorEventData{
			Layer:   layer,
			Message: err.Error(),
			Code:    code,
			Context: context,
		},
	})
}
