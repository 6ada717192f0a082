package commands

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/martinwag/CANopenNode/pkg/log"
	"github.com/martinwag/CANopenNode/pkg/lss"
)

// FilterOptions specifies filtering criteria for the filter command.
type FilterOptions struct {
	Output    string
	SessionID string
	Source    string
	COBID     string
	Command   string
	NodeID    string
	TimeStart string
	TimeEnd   string
	Layer     string
	Direction string
	Category  string
}

func (opts FilterOptions) filter() (log.Filter, error) {
	filter := log.Filter{
		SessionID: opts.SessionID,
		Source:    opts.Source,
	}

	if opts.COBID != "" {
		id, err := strconv.ParseUint(opts.COBID, 0, 11)
		if err != nil {
			return filter, fmt.Errorf("invalid cob-id: %w", err)
		}
		cobID := uint32(id)
		filter.COBID = &cobID
	}

	if opts.Command != "" {
		cs, err := parseCommand(opts.Command)
		if err != nil {
			return filter, err
		}
		filter.Specifier = &cs
	}

	if opts.NodeID != "" {
		id, err := strconv.ParseUint(opts.NodeID, 0, 8)
		if err != nil || id == 0 || id > 127 {
			return filter, fmt.Errorf("invalid node id: %s", opts.NodeID)
		}
		nid := uint8(id)
		filter.NodeID = &nid
	}

	if opts.TimeStart != "" {
		t, err := time.Parse(time.RFC3339, opts.TimeStart)
		if err != nil {
			return filter, fmt.Errorf("invalid time-start format: %w", err)
		}
		filter.TimeStart = &t
	}

	if opts.TimeEnd != "" {
		t, err := time.Parse(time.RFC3339, opts.TimeEnd)
		if err != nil {
			return filter, fmt.Errorf("invalid time-end format: %w", err)
		}
		filter.TimeEnd = &t
	}

	if opts.Layer != "" {
		l, err := parseLayer(opts.Layer)
		if err != nil {
			return filter, err
		}
		filter.Layer = &l
	}

	if opts.Direction != "" {
		d, err := parseDirection(opts.Direction)
		if err != nil {
			return filter, err
		}
		filter.Direction = &d
	}

	if opts.Category != "" {
		c, err := parseCategory(opts.Category)
		if err != nil {
			return filter, err
		}
		filter.Category = &c
	}
	return filter, nil
}

// parseCommand accepts an LSS command name as printed by view
// (SWITCH_GLOBAL, INQUIRE_NODE_ID, ...) or a raw command specifier byte.
func parseCommand(s string) (uint8, error) {
	if v, err := strconv.ParseUint(s, 0, 8); err == nil {
		return uint8(v), nil
	}
	name := strings.ToUpper(s)
	for cs := 0; cs <= 0xFF; cs++ {
		if lss.Command(cs).String() == name {
			return uint8(cs), nil
		}
	}
	return 0, fmt.Errorf("unknown LSS command: %s", s)
}

// RunFilter filters the log file and writes matching events to a new file.
// It returns the number of events written.
func RunFilter(path string, opts FilterOptions) (int, error) {
	filter, err := opts.filter()
	if err != nil {
		return 0, err
	}

	reader, err := log.NewFilteredReader(path, filter)
	if err != nil {
		return 0, fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	logger, err := log.NewFileLogger(opts.Output)
	if err != nil {
		return 0, fmt.Errorf("failed to create output logger: %w", err)
	}
	defer logger.Close()

	count := 0
	for {
		event, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return count, fmt.Errorf("failed to read event: %w", err)
		}

		logger.Log(event)
		count++
	}
	if n := logger.Dropped(); n > 0 {
		return count, fmt.Errorf("%d events could not be written", n)
	}
	return count, nil
}
