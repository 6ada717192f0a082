package log

import (
	"errors"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
)

// A capture file is a plain sequence of CBOR maps, one per event, keyed
// by the small integers in the struct tags of Event. There is no header
// or index. Writers only append, so a capture of a crashed simulator
// ends in a truncated map that the reader reports as io.ErrUnexpectedEOF.

// Classical CAN limits that every captured frame must honour.
const (
	maxCOBID     = 0x7FF
	maxFrameData = 8
)

// ErrInvalidFrame is returned when a decoded frame event cannot have
// come from a classical CAN bus.
var ErrInvalidFrame = errors.New("log: frame is not a classical CAN frame")

var captureEnc, captureDec = captureModes()

func captureModes() (cbor.EncMode, cbor.DecMode) {
	// Canonical key order makes two captures of the same commissioning
	// run byte-identical apart from timestamps and session ids.
	enc, err := cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
		Time:          cbor.TimeRFC3339Nano,
	}.EncMode()
	if err != nil {
		panic(fmt.Sprintf("log: capture encoder: %v", err))
	}
	dec, err := cbor.DecOptions{
		DupMapKey:   cbor.DupMapKeyEnforcedAPF,
		IndefLength: cbor.IndefLengthForbidden,
		// Events are small. Bounding them stops a corrupt length prefix
		// from allocating the whole file.
		MaxArrayElements: 4096,
		MaxMapPairs:      64,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("log: capture decoder: %v", err))
	}
	return enc, dec
}

func checkFrame(f *FrameEvent) error {
	switch {
	case f == nil:
		return nil
	case f.COBID > maxCOBID:
		return fmt.Errorf("%w: cob-id 0x%X", ErrInvalidFrame, f.COBID)
	case f.DLC > maxFrameData || len(f.Data) > maxFrameData:
		return fmt.Errorf("%w: dlc %d with %d data bytes", ErrInvalidFrame, f.DLC, len(f.Data))
	}
	return nil
}

// EncodeEvent returns the capture encoding of a single event.
func EncodeEvent(event Event) ([]byte, error) {
	if err := checkFrame(event.Frame); err != nil {
		return nil, err
	}
	return captureEnc.Marshal(event)
}

// DecodeEvent parses one captured event.
func DecodeEvent(data []byte) (Event, error) {
	var event Event
	if err := captureDec.Unmarshal(data, &event); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	if err := checkFrame(event.Frame); err != nil {
		return Event{}, err
	}
	return event, nil
}

type eventWriter struct {
	enc *cbor.Encoder
}

func newEventWriter(w io.Writer) eventWriter {
	return eventWriter{enc: captureEnc.NewEncoder(w)}
}

func (w eventWriter) write(event Event) error {
	if err := checkFrame(event.Frame); err != nil {
		return err
	}
	return w.enc.Encode(event)
}

type eventReader struct {
	dec *cbor.Decoder
}

func newEventReader(r io.Reader) eventReader {
	return eventReader{dec: captureDec.NewDecoder(r)}
}

// read returns io.EOF only at a clean event boundary.
func (r eventReader) read() (Event, error) {
	var event Event
	if err := r.dec.Decode(&event); err != nil {
		return Event{}, err
	}
	if err := checkFrame(event.Frame); err != nil {
		return Event{}, err
	}
	return event, nil
}
