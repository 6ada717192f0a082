package commands

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/martinwag/CANopenNode/pkg/log"
	"github.com/martinwag/CANopenNode/pkg/lss"
)

// Stats holds aggregate statistics about a log file.
type Stats struct {
	TotalEvents       int
	EventsByLayer     map[log.Layer]int
	EventsByCategory  map[log.Category]int
	EventsByDirection map[log.Direction]int
	LSSCommands       map[lss.Command]int
	Sources           map[string]*SourceStats
	Errors            int
	TimeRange         struct {
		Start time.Time
		End   time.Time
	}
}

// SourceStats holds statistics for one logging endpoint.
type SourceStats struct {
	FirstSeen time.Time
	LastSeen  time.Time
	Events    int
	Role      log.Role
	NodeID    uint8
	Sessions  map[string]struct{}
}

// RunStats analyzes the log file and prints statistics.
func RunStats(path string, w io.Writer) error {
	stats, err := collectStats(path)
	if err != nil {
		return err
	}
	printStats(w, stats)
	return nil
}

func collectStats(path string) (*Stats, error) {
	reader, err := log.NewReader(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	stats := &Stats{
		EventsByLayer:     make(map[log.Layer]int),
		EventsByCategory:  make(map[log.Category]int),
		EventsByDirection: make(map[log.Direction]int),
		LSSCommands:       make(map[lss.Command]int),
		Sources:           make(map[string]*SourceStats),
	}

	for {
		event, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read event: %w", err)
		}

		stats.TotalEvents++
		stats.EventsByLayer[event.Layer]++
		stats.EventsByCategory[event.Category]++
		stats.EventsByDirection[event.Direction]++

		if stats.TimeRange.Start.IsZero() || event.Timestamp.Before(stats.TimeRange.Start) {
			stats.TimeRange.Start = event.Timestamp
		}
		if event.Timestamp.After(stats.TimeRange.End) {
			stats.TimeRange.End = event.Timestamp
		}

		src, ok := stats.Sources[event.Source]
		if !ok {
			src = &SourceStats{
				FirstSeen: event.Timestamp,
				LastSeen:  event.Timestamp,
				Role:      event.LocalRole,
				Sessions:  make(map[string]struct{}),
			}
			stats.Sources[event.Source] = src
		}
		src.Events++
		if event.Timestamp.After(src.LastSeen) {
			src.LastSeen = event.Timestamp
		}
		if event.NodeID != 0 {
			src.NodeID = event.NodeID
		}
		if event.SessionID != "" {
			src.Sessions[event.SessionID] = struct{}{}
		}

		// Count each LSS frame once, as sent.
		if f := event.Frame; f != nil && event.Direction == log.DirectionOut && len(f.Data) > 0 &&
			(f.COBID == lss.MasterCOBID || f.COBID == lss.SlaveCOBID) {
			stats.LSSCommands[lss.Command(f.Data[0])]++
		}

		if event.Error != nil {
			stats.Errors++
		}
	}
	return stats, nil
}

func printStats(w io.Writer, stats *Stats) {
	fmt.Fprintln(w, "=== LSS Protocol Log Statistics ===")
	fmt.Fprintln(w)

	if stats.TotalEvents > 0 {
		fmt.Fprintf(w, "Time Range: %s to %s\n",
			stats.TimeRange.Start.Format(time.RFC3339),
			stats.TimeRange.End.Format(time.RFC3339))
		fmt.Fprintf(w, "Duration:   %s\n", stats.TimeRange.End.Sub(stats.TimeRange.Start).Round(time.Millisecond))
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "Total Events: %d\n", stats.TotalEvents)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Layer:")
	for _, layer := range []log.Layer{log.LayerBus, log.LayerLSS, log.LayerStorage, log.LayerNode} {
		if count := stats.EventsByLayer[layer]; count > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", layer.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Category:")
	for _, cat := range []log.Category{log.CategoryFrame, log.CategoryStorage, log.CategoryState, log.CategoryError} {
		if count := stats.EventsByCategory[cat]; count > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", cat.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Direction:")
	for _, dir := range []log.Direction{log.DirectionIn, log.DirectionOut} {
		if count := stats.EventsByDirection[dir]; count > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", dir.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	if len(stats.LSSCommands) > 0 {
		cmds := make([]lss.Command, 0, len(stats.LSSCommands))
		for c := range stats.LSSCommands {
			cmds = append(cmds, c)
		}
		sort.Slice(cmds, func(i, j int) bool { return cmds[i] < cmds[j] })

		fmt.Fprintln(w, "LSS Commands:")
		for _, c := range cmds {
			fmt.Fprintf(w, "  %-28s %d\n", c.String()+":", stats.LSSCommands[c])
		}
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "Sources: %d\n", len(stats.Sources))
	if len(stats.Sources) > 0 {
		names := make([]string, 0, len(stats.Sources))
		for name := range stats.Sources {
			names = append(names, name)
		}
		sort.Slice(names, func(i, j int) bool {
			return stats.Sources[names[i]].FirstSeen.Before(stats.Sources[names[j]].FirstSeen)
		})

		fmt.Fprintln(w)
		for _, name := range names {
			s := stats.Sources[name]
			duration := s.LastSeen.Sub(s.FirstSeen).Round(time.Millisecond)
			fmt.Fprintf(w, "  [%s] %s, %d events, %d sessions, duration %s\n",
				name, s.Role.String(), s.Events, len(s.Sessions), duration)
			if s.NodeID != 0 {
				fmt.Fprintf(w, "           Node: %d\n", s.NodeID)
			}
		}
	}

	if stats.Errors > 0 {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Errors: %d\n", stats.Errors)
	}
}
