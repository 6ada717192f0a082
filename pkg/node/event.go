package node

import "fmt"

// EventKind identifies a node event.
type EventKind uint8

const (
	// EventNodeIDChanged reports a new active node id.
	EventNodeIDChanged EventKind = iota
	// EventBitRateChanged reports that the controller switched bit rate.
	EventBitRateChanged
	// EventODWrite reports a committed external dictionary write.
	EventODWrite
	// EventDaisychain reports a received daisy chain event.
	EventDaisychain
	// EventStorageError reports a storage failure during boot or reset.
	EventStorageError
)

func (k EventKind) String() string {
	switch k {
	case EventNodeIDChanged:
		return "node-id-changed"
	case EventBitRateChanged:
		return "bit-rate-changed"
	case EventODWrite:
		return "od-write"
	case EventDaisychain:
		return "daisychain"
	case EventStorageError:
		return "storage-error"
	default:
		return fmt.Sprintf("event(%d)", uint8(k))
	}
}

// Event is delivered on the node's event queue. Only the fields relevant
// to Kind are set.
type Event struct {
	Kind    EventKind
	NodeID  uint8
	BitRate uint16

	// Index and Sub address the written entry of EventODWrite.
	Index uint16
	Sub   uint8

	// Shift and From carry the payload of EventDaisychain.
	Shift uint8
	From  uint8

	Err error
}
