package log

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func createTestLogFile(t *testing.T, events []Event) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test"+FileExt)

	logger, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("failed to create test log: %v", err)
	}
	for _, e := range events {
		logger.Log(e)
	}
	if err := logger.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	return path
}

func readAll(t *testing.T, r *Reader) []Event {
	t.Helper()
	var read []Event
	for {
		event, err := r.Next()
		if err == io.EOF {
			return read
		}
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		read = append(read, event)
	}
}

func TestFileLoggerCreatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "new"+FileExt)
	logger, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger failed: %v", err)
	}
	defer logger.Close()

	if _, err := os.Stat(path); err != nil {
		t.Errorf("log file was not created: %v", err)
	}
}

func TestFileLoggerIgnoresLogAfterClose(t *testing.T) {
	path := createTestLogFile(t, []Event{{Source: "a"}})

	logger, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger failed: %v", err)
	}
	logger.Close()
	logger.Log(Event{Source: "late"})
	if err := logger.Close(); err != nil {
		t.Errorf("second Close returned %v", err)
	}

	reader, err := NewReader(path)
	if err != nil {
		t.Fatalf("NewReader failed: %v", err)
	}
	defer reader.Close()
	if got := readAll(t, reader); len(got) != 1 {
		t.Fatalf("got %d events, want 1", len(got))
	}
}

func TestReaderIteratesInOrder(t *testing.T) {
	events := []Event{
		{Timestamp: time.Now(), Source: "n1", Layer: LayerBus, Category: CategoryFrame},
		{Timestamp: time.Now(), Source: "n2", Layer: LayerLSS, Category: CategoryState},
		{Timestamp: time.Now(), Source: "n3", Layer: LayerStorage, Category: CategoryStorage},
	}
	reader, err := NewReader(createTestLogFile(t, events))
	if err != nil {
		t.Fatalf("NewReader failed: %v", err)
	}
	defer reader.Close()

	read := readAll(t, reader)
	if len(read) != 3 {
		t.Fatalf("got %d events, want 3", len(read))
	}
	for i, want := range []string{"n1", "n2", "n3"} {
		if read[i].Source != want {
			t.Errorf("event %d: got source %q, want %q", i, read[i].Source, want)
		}
	}
}

func TestFilteredReader(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	events := []Event{
		{Timestamp: base, SessionID: "s1", Direction: DirectionOut, Layer: LayerBus, Category: CategoryFrame,
			Frame: &FrameEvent{COBID: 0x7E5, DLC: 8, Data: []byte{0x04, 0x01, 0, 0, 0, 0, 0, 0}}},
		{Timestamp: base.Add(time.Second), SessionID: "s2", Direction: DirectionIn, Layer: LayerBus, Category: CategoryFrame,
			Frame: &FrameEvent{COBID: 0x7E4, DLC: 8, Data: []byte{0x11, 0x00, 0, 0, 0, 0, 0, 0}}},
		{Timestamp: base.Add(2 * time.Second), SessionID: "s1", Layer: LayerLSS, Category: CategoryState, Source: "node-1",
			NodeID: 1, StateChange: &StateChangeEvent{Entity: StateEntityLSS, NewState: "CONFIGURATION"}},
		{Timestamp: base.Add(3 * time.Second), SessionID: "s3", Layer: LayerStorage, Category: CategoryStorage,
			Storage: &StorageEvent{Op: StorageOpSave, Region: "lss", Written: 2}},
	}
	path := createTestLogFile(t, events)

	in := DirectionIn
	out := DirectionOut
	lssLayer := LayerLSS
	cob := uint32(0x7E5)
	switchGlobal := uint8(0x04)
	configureNodeID := uint8(0x11)
	missingCS := uint8(0x5E)
	node := uint8(1)
	start := base.Add(500 * time.Millisecond)
	end := base.Add(1500 * time.Millisecond)

	tests := []struct {
		name   string
		filter Filter
		want   int
	}{
		{"all", Filter{}, 4},
		{"session", Filter{SessionID: "s1"}, 2},
		{"direction in skips storage and state", Filter{Direction: &in}, 1},
		{"direction out", Filter{Direction: &out}, 1},
		{"layer", Filter{Layer: &lssLayer}, 1},
		{"cob id", Filter{COBID: &cob}, 1},
		{"switch global specifier", Filter{Specifier: &switchGlobal}, 1},
		{"specifier and direction", Filter{Specifier: &configureNodeID, Direction: &out}, 0},
		{"unknown specifier", Filter{Specifier: &missingCS}, 0},
		{"node id", Filter{NodeID: &node}, 1},
		{"time window", Filter{TimeStart: &start, TimeEnd: &end}, 1},
		{"source", Filter{Source: "node-1"}, 1},
		{"no match", Filter{SessionID: "missing"}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reader, err := NewFilteredReader(path, tt.filter)
			if err != nil {
				t.Fatalf("NewFilteredReader failed: %v", err)
			}
			defer reader.Close()
			if got := len(readAll(t, reader)); got != tt.want {
				t.Errorf("got %d events, want %d", got, tt.want)
			}
		})
	}
}

func TestNewReaderMissingFile(t *testing.T) {
	if _, err := NewReader(filepath.Join(t.TempDir(), "missing"+FileExt)); err == nil {
		t.Fatal("expected error for missing file")
	}
}
