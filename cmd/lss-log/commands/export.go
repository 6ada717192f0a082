package commands

import (
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/martinwag/CANopenNode/pkg/daisychain"
	"github.com/martinwag/CANopenNode/pkg/log"
	"github.com/martinwag/CANopenNode/pkg/lss"
)

// Export formats.
const (
	FormatJSONL = "jsonl"
	FormatCSV   = "csv"
)

// csvColumns is one row per captured event. Direction and the frame
// columns stay empty for events that are not frames.
var csvColumns = []string{
	"timestamp", "session_id", "source", "role", "node_id", "direction",
	"layer", "category", "type", "cob_id", "lss_command", "data", "detail",
}

// RunExport converts a capture to JSON lines or CSV. An empty output
// writes to stdout.
func RunExport(path, format, output string) error {
	var write func(*log.Reader, io.Writer) error
	switch format {
	case FormatJSONL:
		write = exportJSONL
	case FormatCSV:
		write = exportCSV
	default:
		return fmt.Errorf("unknown format: %s (supported: %s, %s)", format, FormatJSONL, FormatCSV)
	}

	reader, err := log.NewReader(path)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	if output == "" {
		return write(reader, os.Stdout)
	}
	f, err := os.Create(output)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	if err := write(reader, f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// eachEvent calls fn for every event until the end of the capture.
func eachEvent(reader *log.Reader, fn func(log.Event) error) error {
	for {
		event, err := reader.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}
		if err := fn(event); err != nil {
			return err
		}
	}
}

func exportJSONL(reader *log.Reader, w io.Writer) error {
	enc := json.NewEncoder(w)
	return eachEvent(reader, func(e log.Event) error {
		if err := enc.Encode(e); err != nil {
			return fmt.Errorf("failed to encode event: %w", err)
		}
		return nil
	})
}

func exportCSV(reader *log.Reader, w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvColumns); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	err := eachEvent(reader, func(e log.Event) error {
		return cw.Write(csvRow(e))
	})
	cw.Flush()
	if err != nil {
		return err
	}
	return cw.Error()
}

func csvRow(e log.Event) []string {
	kind, dir, cobID, command, data, detail := "unknown", "", "", "", "", ""
	switch {
	case e.Frame != nil:
		kind = frameKind(e.Frame)
		dir = e.Direction.String()
		cobID = fmt.Sprintf("0x%03X", e.Frame.COBID)
		data = hex.EncodeToString(e.Frame.Data)
		if isLSSFrame(e.Frame) && len(e.Frame.Data) > 0 {
			command = lss.Command(e.Frame.Data[0]).String()
		}
	case e.StateChange != nil:
		kind = "state"
		sc := e.StateChange
		detail = fmt.Sprintf("%s -> %s", sc.Entity, sc.NewState)
		if sc.OldState != "" {
			detail = fmt.Sprintf("%s %s -> %s", sc.Entity, sc.OldState, sc.NewState)
		}
		if sc.Reason != "" {
			detail += " (" + sc.Reason + ")"
		}
	case e.Storage != nil:
		kind = "storage"
		st := e.Storage
		detail = fmt.Sprintf("%s %s %s", st.Op, st.Region, st.Result)
	case e.Error != nil:
		kind = "error"
		detail = e.Error.Message
		if e.Error.Context != "" {
			detail = e.Error.Context + ": " + detail
		}
	}

	return []string{
		e.Timestamp.UTC().Format("2006-01-02T15:04:05.000000Z"),
		e.SessionID,
		e.Source,
		e.LocalRole.String(),
		strconv.Itoa(int(e.NodeID)),
		dir,
		e.Layer.String(),
		e.Category.String(),
		kind,
		cobID,
		command,
		data,
		detail,
	}
}

func isLSSFrame(f *log.FrameEvent) bool {
	return f.COBID == lss.MasterCOBID || f.COBID == lss.SlaveCOBID
}

// frameKind is the machine-readable form of frameLabel.
func frameKind(f *log.FrameEvent) string {
	switch f.COBID {
	case lss.MasterCOBID:
		return "lss_request"
	case lss.SlaveCOBID:
		return "lss_response"
	case daisychain.DefaultCOBID:
		return "daisychain"
	default:
		return "frame"
	}
}
