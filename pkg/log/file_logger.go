package log

import (
	"errors"
	"os"
	"sync"
)

// FileExt is the extension lss-sim gives protocol captures.
const FileExt = ".clog"

// FileLogger appends events to a capture file. Bus callbacks must not
// block on a full disk, so write failures and frames outside CAN limits
// are counted in Dropped instead of being returned. A FileLogger may be
// shared by the bus, the master and every simulated node.
type FileLogger struct {
	mu      sync.Mutex
	f       *os.File // nil once closed
	w       eventWriter
	dropped uint64
}

// NewFileLogger opens path for appending, creating it if needed. Several
// simulator runs can share one capture and are told apart by session id.
func NewFileLogger(path string) (*FileLogger, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &FileLogger{f: f, w: newEventWriter(f)}, nil
}

// Log appends event. Events logged after Close are discarded.
func (l *FileLogger) Log(event Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return
	}
	if err := l.w.write(event); err != nil {
		l.dropped++
	}
}

// Dropped reports how many events never reached the capture.
func (l *FileLogger) Dropped() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dropped
}

// Close flushes the capture to disk and closes it. Later calls return nil.
func (l *FileLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return nil
	}
	f := l.f
	l.f = nil
	return errors.Join(f.Sync(), f.Close())
}

var _ Logger = (*FileLogger)(nil)
