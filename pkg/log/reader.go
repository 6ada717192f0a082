package log

import (
	"errors"
	"io"
	"os"
	"time"
)

// Filter selects events from a capture. Unset fields do not restrict.
// Direction, COBID and Specifier describe frames, so a filter that sets
// any of them drops state, storage and error events.
type Filter struct {
	SessionID string
	Source    string

	// NodeID selects events of the endpoint with this active node id.
	NodeID *uint8

	Layer    *Layer
	Category *Category

	// TimeStart is inclusive, TimeEnd exclusive.
	TimeStart *time.Time
	TimeEnd   *time.Time

	Direction *Direction
	COBID     *uint32

	// Specifier selects frames by their first data byte, the command
	// specifier of LSS frames.
	Specifier *uint8
}

func (f *Filter) framesOnly() bool {
	return f.Direction != nil || f.COBID != nil || f.Specifier != nil
}

func (f *Filter) matchesFrame(event Event) bool {
	fr := event.Frame
	if fr == nil {
		return false
	}
	if f.Direction != nil && event.Direction != *f.Direction {
		return false
	}
	if f.COBID != nil && fr.COBID != *f.COBID {
		return false
	}
	if f.Specifier != nil && (len(fr.Data) == 0 || fr.Data[0] != *f.Specifier) {
		return false
	}
	return true
}

func (f *Filter) matches(event Event) bool {
	switch {
	case f.SessionID != "" && event.SessionID != f.SessionID,
		f.Source != "" && event.Source != f.Source,
		f.NodeID != nil && event.NodeID != *f.NodeID,
		f.Layer != nil && event.Layer != *f.Layer,
		f.Category != nil && event.Category != *f.Category,
		f.TimeStart != nil && event.Timestamp.Before(*f.TimeStart),
		f.TimeEnd != nil && !event.Timestamp.Before(*f.TimeEnd):
		return false
	}
	return !f.framesOnly() || f.matchesFrame(event)
}

// Reader streams the events of a capture file that pass its filter.
type Reader struct {
	file   *os.File
	events eventReader
	filter Filter
}

// NewReader opens a capture file and returns every event in it.
func NewReader(path string) (*Reader, error) {
	return NewFilteredReader(path, Filter{})
}

// NewFilteredReader opens a capture file and returns the events that
// match filter.
func NewFilteredReader(path string, filter Filter) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return &Reader{file: f, events: newEventReader(f), filter: filter}, nil
}

// Next returns the next matching event, or io.EOF at the end of the file.
// A capture cut off in the middle of an event ends with
// io.ErrUnexpectedEOF, and a frame that breaks CAN limits with
// ErrInvalidFrame.
func (r *Reader) Next() (Event, error) {
	for {
		ev, err := r.events.read()
		switch {
		case errors.Is(err, io.EOF):
			return Event{}, io.EOF
		case err != nil:
			return Event{}, err
		case r.filter.matches(ev):
			return ev, nil
		}
	}
}

// Close closes the capture file.
func (r *Reader) Close() error {
	return r.file.Close()
}
