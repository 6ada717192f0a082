package log

import (
	"time"
)

// Event represents a protocol log event captured at any layer.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp when the event occurred (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// SessionID identifies one run of a node or master (UUID).
	SessionID string `cbor:"2,keyasint"`

	// Direction indicates frame flow relative to the local endpoint.
	Direction Direction `cbor:"3,keyasint"`

	// Layer where the event was captured.
	Layer Layer `cbor:"4,keyasint"`

	// Category classifies the event type.
	Category Category `cbor:"5,keyasint"`

	// LocalRole indicates whether this is an LSS slave, master or bus.
	LocalRole Role `cbor:"6,keyasint,omitempty"`

	// Source names the endpoint that produced the event (bus port, node name).
	Source string `cbor:"7,keyasint,omitempty"`

	// NodeID is the active node id of the local endpoint, if known.
	NodeID uint8 `cbor:"8,keyasint,omitempty"`

	// Type-specific payload (one of these will be set).
	Frame       *FrameEvent       `cbor:"10,keyasint,omitempty"` // Bus layer
	StateChange *StateChangeEvent `cbor:"12,keyasint,omitempty"` // LSS / node state
	Storage     *StorageEvent     `cbor:"13,keyasint,omitempty"` // Storage operations
	Error       *ErrorEventData   `cbor:"14,keyasint,omitempty"` // Errors at any layer
}

// Direction indicates the direction of frame flow.
type Direction uint8

const (
	// DirectionIn indicates an incoming frame.
	DirectionIn Direction = 0
	// DirectionOut indicates an outgoing frame.
	DirectionOut Direction = 1
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	default:
		return "UNKNOWN"
	}
}

// Layer indicates which part of the stack captured the event.
type Layer uint8

const (
	// LayerBus is the CAN frame layer.
	LayerBus Layer = 0
	// LayerLSS is the layer setting services protocol.
	LayerLSS Layer = 1
	// LayerStorage is the persistent region storage.
	LayerStorage Layer = 2
	// LayerNode is the device context (boot, resets, bit rate switching).
	LayerNode Layer = 3
)

// String returns the layer name.
func (l Layer) String() string {
	switch l {
	case LayerBus:
		return "BUS"
	case LayerLSS:
		return "LSS"
	case LayerStorage:
		return "STORAGE"
	case LayerNode:
		return "NODE"
	default:
		return "UNKNOWN"
	}
}

// Category classifies the event type.
type Category uint8

const (
	// CategoryFrame indicates a CAN frame.
	CategoryFrame Category = 0
	// CategoryStorage indicates a storage operation.
	CategoryStorage Category = 1
	// CategoryState indicates a state change.
	CategoryState Category = 2
	// CategoryError indicates an error event.
	CategoryError Category = 3
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryFrame:
		return "FRAME"
	case CategoryStorage:
		return "STORAGE"
	case CategoryState:
		return "STATE"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Role indicates the local endpoint's role.
type Role uint8

const (
	// RoleSlave indicates an LSS slave (a regular node).
	RoleSlave Role = 0
	// RoleMaster indicates the LSS master.
	RoleMaster Role = 1
	// RoleBus indicates the bus itself (virtual bus capture).
	RoleBus Role = 2
)

// String returns the role name.
func (r Role) String() string {
	switch r {
	case RoleSlave:
		return "SLAVE"
	case RoleMaster:
		return "MASTER"
	case RoleBus:
		return "BUS"
	default:
		return "UNKNOWN"
	}
}

// FrameEvent captures a raw CAN frame.
type FrameEvent struct {
	// COBID is the 11-bit CAN identifier.
	COBID uint32 `cbor:"1,keyasint"`

	// DLC is the data length code.
	DLC uint8 `cbor:"2,keyasint"`

	// Data is the frame payload (DLC bytes).
	Data []byte `cbor:"3,keyasint,omitempty"`
}

// StateChangeEvent captures LSS and node lifecycle events.
type StateChangeEvent struct {
	// Entity being changed.
	Entity StateEntity `cbor:"1,keyasint"`

	// OldState is the previous state (may be empty).
	OldState string `cbor:"2,keyasint,omitempty"`

	// NewState is the new state.
	NewState string `cbor:"3,keyasint"`

	// Reason for the change (if available).
	Reason string `cbor:"4,keyasint,omitempty"`
}

// StateEntity indicates what entity changed state.
type StateEntity uint8

const (
	// StateEntityLSS indicates an LSS state machine change.
	StateEntityLSS StateEntity = 0
	// StateEntityNodeID indicates a change of the active node id.
	StateEntityNodeID StateEntity = 1
	// StateEntityBitRate indicates a bit rate change.
	StateEntityBitRate StateEntity = 2
	// StateEntityPendingNodeID indicates a node id configured through LSS
	// that is not active yet.
	StateEntityPendingNodeID StateEntity = 3
)

// String returns the state entity name.
func (s StateEntity) String() string {
	switch s {
	case StateEntityLSS:
		return "LSS"
	case StateEntityNodeID:
		return "NODE_ID"
	case StateEntityBitRate:
		return "BIT_RATE"
	case StateEntityPendingNodeID:
		return "PENDING_NODE_ID"
	default:
		return "UNKNOWN"
	}
}

// StorageEvent captures one storage manager operation.
type StorageEvent struct {
	// Op is the operation performed.
	Op StorageOp `cbor:"1,keyasint"`

	// Region is the region name.
	Region string `cbor:"2,keyasint"`

	// Written is the number of bytes written to the medium.
	Written int `cbor:"3,keyasint,omitempty"`

	// Result is a short outcome description ("ok", "no-data", "crc", ...).
	Result string `cbor:"4,keyasint,omitempty"`
}

// StorageOp indicates the storage operation.
type StorageOp uint8

const (
	// StorageOpLoad indicates a region load.
	StorageOpLoad StorageOp = 0
	// StorageOpSave indicates a region save.
	StorageOpSave StorageOp = 1
	// StorageOpRestore indicates a restore-defaults request.
	StorageOpRestore StorageOp = 2
	// StorageOpErase indicates a region erase.
	StorageOpErase StorageOp = 3
)

// String returns the storage operation name.
func (o StorageOp) String() string {
	switch o {
	case StorageOpLoad:
		return "LOAD"
	case StorageOpSave:
		return "SAVE"
	case StorageOpRestore:
		return "RESTORE"
	case StorageOpErase:
		return "ERASE"
	default:
		return "UNKNOWN"
	}
}

// ErrorEventData captures errors at any layer.
type ErrorEventData struct {
	// Layer where the error occurred.
	Layer Layer `cbor:"1,keyasint"`

	// Message is the error message.
	Message string `cbor:"2,keyasint"`

	// Code is the error code (if applicable), e.g. an SDO abort code.
	Code *int `cbor:"3,keyasint,omitempty"`

	// Context describes what operation was being performed.
	Context string `cbor:"4,keyasint,omitempty"`
}
