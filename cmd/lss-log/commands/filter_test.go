package commands

import (
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/martinwag/CANopenNode/pkg/log"
	"github.com/martinwag/CANopenNode/pkg/lss"
)

func readAll(t *testing.T, path string) []log.Event {
	t.Helper()
	reader, err := log.NewReader(path)
	if err != nil {
		t.Fatalf("failed to open output: %v", err)
	}
	defer reader.Close()

	var events []log.Event
	for {
		event, err := reader.Next()
		if err == io.EOF {
			return events
		}
		if err != nil {
			t.Fatalf("failed to read event: %v", err)
		}
		events = append(events, event)
	}
}

func TestFilterBySource(t *testing.T) {
	ts := time.Date(2026, 3, 2, 10, 15, 32, 0, time.UTC)
	events := []log.Event{
		{Timestamp: ts, Source: "node-1", Category: log.CategoryFrame},
		{Timestamp: ts, Source: "node-2", Category: log.CategoryFrame},
		{Timestamp: ts, Source: "node-1", Category: log.CategoryState},
	}
	path := createTestLogFile(t, events)
	outPath := filepath.Join(t.TempDir(), "filtered"+log.FileExt)

	n, err := RunFilter(path, FilterOptions{Output: outPath, Source: "node-1"})
	if err != nil {
		t.Fatalf("RunFilter failed: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 events, got %d", n)
	}
	for _, e := range readAll(t, outPath) {
		if e.Source != "node-1" {
			t.Errorf("expected node-1, got %s", e.Source)
		}
	}
}

func TestFilterByCOBID(t *testing.T) {
	ts := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	events := []log.Event{
		lssFrame(ts, "master", log.DirectionOut, lss.MasterCOBID, lss.CmdSwitchStateGlobal),
		lssFrame(ts, "node-1", log.DirectionOut, lss.SlaveCOBID, lss.CmdIdentifySlave),
		{Timestamp: ts, Source: "node-1", Category: log.CategoryState},
	}
	path := createTestLogFile(t, events)
	outPath := filepath.Join(t.TempDir(), "filtered"+log.FileExt)

	n, err := RunFilter(path, FilterOptions{Output: outPath, COBID: "0x7E4"})
	if err != nil {
		t.Fatalf("RunFilter failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 event, got %d", n)
	}
	got := readAll(t, outPath)
	if got[0].Frame == nil || got[0].Frame.COBID != lss.SlaveCOBID {
		t.Errorf("unexpected event: %+v", got[0])
	}
}

func TestFilterByTimeRange(t *testing.T) {
	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	events := []log.Event{
		{Timestamp: base},
		{Timestamp: base.Add(time.Minute)},
		{Timestamp: base.Add(2 * time.Minute)},
	}
	path := createTestLogFile(t, events)
	outPath := filepath.Join(t.TempDir(), "filtered"+log.FileExt)

	n, err := RunFilter(path, FilterOptions{
		Output:    outPath,
		TimeStart: base.Add(30 * time.Second).Format(time.RFC3339),
		TimeEnd:   base.Add(90 * time.Second).Format(time.RFC3339),
	})
	if err != nil {
		t.Fatalf("RunFilter failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 event in range, got %d", n)
	}
}

func TestFilterByLayerAndDirection(t *testing.T) {
	ts := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	events := []log.Event{
		lssFrame(ts, "node-1", log.DirectionIn, lss.MasterCOBID, lss.CmdSwitchStateGlobal),
		lssFrame(ts, "master", log.DirectionOut, lss.MasterCOBID, lss.CmdSwitchStateGlobal),
		{Timestamp: ts, Layer: log.LayerStorage, Category: log.CategoryStorage,
			Storage: &log.StorageEvent{Op: log.StorageOpSave, Region: "lss"}},
	}
	path := createTestLogFile(t, events)
	outPath := filepath.Join(t.TempDir(), "filtered"+log.FileExt)

	n, err := RunFilter(path, FilterOptions{Output: outPath, Layer: "bus", Direction: "out"})
	if err != nil {
		t.Fatalf("RunFilter failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 event, got %d", n)
	}

	// Storage events carry the zero direction but are not frames.
	n, err = RunFilter(path, FilterOptions{Output: outPath + ".in", Direction: "in"})
	if err != nil {
		t.Fatalf("RunFilter failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 incoming frame, got %d", n)
	}
}

func TestFilterByLSSCommand(t *testing.T) {
	ts := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	events := []log.Event{
		lssFrame(ts, "master", log.DirectionOut, lss.MasterCOBID, lss.CmdSwitchStateGlobal),
		lssFrame(ts, "master", log.DirectionOut, lss.MasterCOBID, lss.CmdInquireNodeID),
		lssFrame(ts, "node-1", log.DirectionOut, lss.SlaveCOBID, lss.CmdInquireNodeID),
		{Timestamp: ts, Source: "node-1", NodeID: 5, Category: log.CategoryState,
			StateChange: &log.StateChangeEvent{Entity: log.StateEntityNodeID, NewState: "5"}},
	}
	path := createTestLogFile(t, events)

	tests := []struct {
		name string
		opts FilterOptions
		want int
	}{
		{"by name", FilterOptions{Command: "inquire_node_id"}, 2},
		{"by specifier", FilterOptions{Command: "0x04"}, 1},
		{"name and cob-id", FilterOptions{Command: "INQUIRE_NODE_ID", COBID: "0x7E4"}, 1},
		{"node id", FilterOptions{NodeID: "5"}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.opts.Output = filepath.Join(t.TempDir(), "filtered"+log.FileExt)
			n, err := RunFilter(path, tt.opts)
			if err != nil {
				t.Fatalf("RunFilter failed: %v", err)
			}
			if n != tt.want {
				t.Errorf("got %d events, want %d", n, tt.want)
			}
			for _, e := range readAll(t, tt.opts.Output) {
				if tt.opts.Command != "" && (e.Frame == nil || len(e.Frame.Data) == 0) {
					t.Errorf("non-frame event passed a command filter: %+v", e)
				}
			}
		})
	}
}

func TestFilterRejectsInvalidOptions(t *testing.T) {
	path := createTestLogFile(t, nil)
	outPath := filepath.Join(t.TempDir(), "filtered"+log.FileExt)

	for name, opts := range map[string]FilterOptions{
		"cob-id":     {Output: outPath, COBID: "0x800"},
		"time-start": {Output: outPath, TimeStart: "yesterday"},
		"layer":      {Output: outPath, Layer: "wire"},
		"category":   {Output: outPath, Category: "message"},
		"command":    {Output: outPath, Command: "SWITCH_EVERYTHING"},
		"node id":    {Output: outPath, NodeID: "128"},
	} {
		if _, err := RunFilter(path, opts); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}
