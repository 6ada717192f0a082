// Package commands implements the lss-log CLI commands.
package commands

import (
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/martinwag/CANopenNode/pkg/daisychain"
	"github.com/martinwag/CANopenNode/pkg/log"
	"github.com/martinwag/CANopenNode/pkg/lss"
)

// ViewFilter specifies criteria for filtering events in the view command.
type ViewFilter struct {
	Layer     *log.Layer
	Direction *log.Direction
	Category  *log.Category
	Source    string
}

func (f ViewFilter) matches(e log.Event) bool {
	if f.Layer != nil && e.Layer != *f.Layer {
		return false
	}
	// Only frames have a direction.
	if f.Direction != nil && (e.Frame == nil || e.Direction != *f.Direction) {
		return false
	}
	if f.Category != nil && e.Category != *f.Category {
		return false
	}
	return f.Source == "" || e.Source == f.Source
}

// formatEvent writes a human-readable representation of the event to w.
func formatEvent(w io.Writer, event log.Event) {
	// Header line: timestamp [session] SOURCE DIRECTION LAYER Type
	ts := event.Timestamp.UTC().Format("2006-01-02T15:04:05.000000Z")
	session := shortenSessionID(event.SessionID)

	var typeLabel string
	switch {
	case event.Frame != nil:
		typeLabel = frameLabel(event.Frame)
	case event.StateChange != nil:
		typeLabel = stateLabel(event.StateChange.Entity)
	case event.Storage != nil:
		typeLabel = "Storage"
	case event.Error != nil:
		typeLabel = "Error"
	default:
		typeLabel = "Unknown"
	}

	fmt.Fprintf(w, "%s [%s] %-8s %-3s %s %s\n", ts, session, event.Source,
		event.Direction.String(), event.Layer.String(), typeLabel)
	if event.NodeID != 0 {
		fmt.Fprintf(w, "  Node: %d\n", event.NodeID)
	}

	switch {
	case event.Frame != nil:
		formatFrameDetails(w, event.Frame)
	case event.StateChange != nil:
		formatStateChangeDetails(w, event.StateChange)
	case event.Storage != nil:
		formatStorageDetails(w, event.Storage)
	case event.Error != nil:
		formatErrorDetails(w, event.Error)
	}

	fmt.Fprintln(w)
}

// shortenSessionID returns the first 8 characters of the session ID.
func shortenSessionID(id string) string {
	if len(id) >= 8 {
		return id[:8]
	}
	return id
}

// stateLabel tells a configured node id apart from the active one.
func stateLabel(e log.StateEntity) string {
	switch e {
	case log.StateEntityNodeID:
		return "Node id"
	case log.StateEntityPendingNodeID:
		return "Pending node id"
	case log.StateEntityBitRate:
		return "Bit rate"
	default:
		return "State"
	}
}

// frameLabel names the protocol of a frame by its identifier.
func frameLabel(f *log.FrameEvent) string {
	switch f.COBID {
	case lss.MasterCOBID:
		return "LSS request"
	case lss.SlaveCOBID:
		return "LSS response"
	case daisychain.DefaultCOBID:
		return "Daisychain"
	default:
		return "Frame"
	}
}

// formatFrameDetails writes frame-specific details. LSS frames also show
// their command specifier.
func formatFrameDetails(w io.Writer, f *log.FrameEvent) {
	fmt.Fprintf(w, "  COB-ID: 0x%03X  DLC: %d\n", f.COBID, f.DLC)
	if len(f.Data) > 0 {
		fmt.Fprintf(w, "  Data: %s\n", hex.EncodeToString(f.Data))
	}
	if isLSSFrame(f) && len(f.Data) > 0 {
		fmt.Fprintf(w, "  Command: %s\n", lss.Command(f.Data[0]).String())
	}
}

// formatStateChangeDetails writes state change details.
func formatStateChangeDetails(w io.Writer, sc *log.StateChangeEvent) {
	fmt.Fprintf(w, "  Entity: %s\n", sc.Entity.String())
	if sc.OldState != "" {
		fmt.Fprintf(w, "  %s -> %s\n", sc.OldState, sc.NewState)
	} else {
		fmt.Fprintf(w, "  -> %s\n", sc.NewState)
	}
	if sc.Reason != "" {
		fmt.Fprintf(w, "  Reason: %s\n", sc.Reason)
	}
}

func formatStorageDetails(w io.Writer, s *log.StorageEvent) {
	fmt.Fprintf(w, "  %s %s", s.Op.String(), s.Region)
	if s.Written > 0 {
		fmt.Fprintf(w, " (%d bytes written)", s.Written)
	}
	fmt.Fprintln(w)
	if s.Result != "" {
		fmt.Fprintf(w, "  Result: %s\n", s.Result)
	}
}

// formatErrorDetails writes error details.
func formatErrorDetails(w io.Writer, err *log.ErrorEventData) {
	fmt.Fprintf(w, "  Layer: %s\n", err.Layer.String())
	fmt.Fprintf(w, "  Message: %s\n", err.Message)
	if err.Code != nil {
		fmt.Fprintf(w, "  Code: 0x%08X\n", uint32(*err.Code))
	}
	if err.Context != "" {
		fmt.Fprintf(w, "  Context: %s\n", err.Context)
	}
}

// ParseLayerFlag parses a layer string from command-line flag (case-insensitive).
func ParseLayerFlag(s string) (log.Layer, error) {
	return parseLayer(s)
}

func parseLayer(s string) (log.Layer, error) {
	switch strings.ToLower(s) {
	case "bus":
		return log.LayerBus, nil
	case "lss":
		return log.LayerLSS, nil
	case "storage":
		return log.LayerStorage, nil
	case "node":
		return log.LayerNode, nil
	default:
		return 0, fmt.Errorf("invalid layer: %s (must be bus, lss, storage, or node)", s)
	}
}

// ParseDirectionFlag parses a direction string from command-line flag (case-insensitive).
func ParseDirectionFlag(s string) (log.Direction, error) {
	return parseDirection(s)
}

func parseDirection(s string) (log.Direction, error) {
	switch strings.ToLower(s) {
	case "in":
		return log.DirectionIn, nil
	case "out":
		return log.DirectionOut, nil
	default:
		return 0, fmt.Errorf("invalid direction: %s (must be in or out)", s)
	}
}

// ParseCategoryFlag parses a category string from command-line flag (case-insensitive).
func ParseCategoryFlag(s string) (log.Category, error) {
	return parseCategory(s)
}

func parseCategory(s string) (log.Category, error) {
	switch strings.ToLower(s) {
	case "frame":
		return log.CategoryFrame, nil
	case "storage":
		return log.CategoryStorage, nil
	case "state":
		return log.CategoryState, nil
	case "error":
		return log.CategoryError, nil
	default:
		return 0, fmt.Errorf("invalid category: %s (must be frame, storage, state, or error)", s)
	}
}

// RunView executes the view command.
func RunView(path string, filter ViewFilter, output io.Writer) error {
	reader, err := log.NewReader(path)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	for {
		event, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}
		if filter.matches(event) {
			formatEvent(output, event)
		}
	}

	return nil
}
