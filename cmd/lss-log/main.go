// Command lss-log is a tool for viewing and analyzing LSS protocol log files.
//
// Log files are created by lss-sim with the -protocol-log flag. They hold
// CBOR encoded events: bus frames, LSS state changes, storage operations
// and errors.
//
// Usage:
//
//	lss-log <command> [flags] <file.clog>
//
// Commands:
//
//	view     View log file in human-readable format
//	export   Export log file to JSON or CSV format
//	filter   Filter log file and write to new file
//	stats    Show statistics about the log file
//
// Examples:
//
//	# View all events
//	lss-log view sim.clog
//
//	# View only LSS state changes of one node
//	lss-log view --layer lss --source node-1 sim.clog
//
//	# Export to JSONL
//	lss-log export --format jsonl sim.clog
//
//	# Keep only slave responses
//	lss-log filter --cob-id 0x7E4 -o responses.clog sim.clog
//
//	# Keep only node id inquiries and their replies
//	lss-log filter --command INQUIRE_NODE_ID -o inquiries.clog sim.clog
//
//	# Show statistics
//	lss-log stats sim.clog
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/martinwag/CANopenNode/cmd/lss-log/commands"
)

const usage = `lss-log - LSS Protocol Log Analyzer

Usage:
  lss-log <command> [flags] <file.clog>

Commands:
  view     View log file in human-readable format
  export   Export log file to JSON or CSV format
  filter   Filter log file and write to new file
  stats    Show statistics about the log file

Use "lss-log <command> -help" for more information about a command.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "view":
		runView(args)
	case "export":
		runExport(args)
	case "filter":
		runFilter(args)
	case "stats":
		runStats(args)
	case "-h", "-help", "--help", "help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

// parseArgs parses fs and returns the single log file argument.
func parseArgs(fs *flag.FlagSet, args []string) string {
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Error: log file path required")
		fs.Usage()
		os.Exit(1)
	}
	return fs.Arg(0)
}

func usageFunc(fs *flag.FlagSet, header string) func() {
	return func() {
		fmt.Fprint(os.Stderr, header)
		fs.PrintDefaults()
	}
}

func runView(args []string) {
	fs := flag.NewFlagSet("view", flag.ExitOnError)
	fs.Usage = usageFunc(fs, `lss-log view - View log file in human-readable format

Usage:
  lss-log view [flags] <file.clog>

Flags:
`)

	layer := fs.String("layer", "", "Filter by layer (bus, lss, storage, node)")
	direction := fs.String("direction", "", "Filter by direction (in, out)")
	category := fs.String("category", "", "Filter by category (frame, storage, state, error)")
	source := fs.String("source", "", "Filter by source (bus port or node name)")

	path := parseArgs(fs, args)

	filter := commands.ViewFilter{Source: *source}

	if *layer != "" {
		l, err := commands.ParseLayerFlag(*layer)
		if err != nil {
			fail(err)
		}
		filter.Layer = &l
	}

	if *direction != "" {
		d, err := commands.ParseDirectionFlag(*direction)
		if err != nil {
			fail(err)
		}
		filter.Direction = &d
	}

	if *category != "" {
		c, err := commands.ParseCategoryFlag(*category)
		if err != nil {
			fail(err)
		}
		filter.Category = &c
	}

	if err := commands.RunView(path, filter, os.Stdout); err != nil {
		fail(err)
	}
}

func runExport(args []string) {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	fs.Usage = usageFunc(fs, `lss-log export - Export log file to JSON or CSV format

Usage:
  lss-log export [flags] <file.clog>

Flags:
`)

	format := fs.String("format", "jsonl", "Output format (jsonl, csv)")
	output := fs.String("o", "", "Output file (default: stdout)")

	path := parseArgs(fs, args)

	if err := commands.RunExport(path, *format, *output); err != nil {
		fail(err)
	}
}

func runFilter(args []string) {
	fs := flag.NewFlagSet("filter", flag.ExitOnError)
	fs.Usage = usageFunc(fs, `lss-log filter - Filter log file and write to new file

Usage:
  lss-log filter [flags] <file.clog>

Flags:
`)

	output := fs.String("o", "", "Output file (required)")
	session := fs.String("session", "", "Filter by session ID")
	source := fs.String("source", "", "Filter by source (bus port or node name)")
	cobID := fs.String("cob-id", "", "Filter frames by CAN identifier (e.g. 0x7E5)")
	command := fs.String("command", "", "Filter frames by LSS command (e.g. INQUIRE_NODE_ID or 0x5E)")
	nodeID := fs.String("node", "", "Filter by active node id of the logging endpoint")
	timeStart := fs.String("time-start", "", "Filter by start time (RFC3339)")
	timeEnd := fs.String("time-end", "", "Filter by end time (RFC3339)")
	layer := fs.String("layer", "", "Filter by layer (bus, lss, storage, node)")
	direction := fs.String("direction", "", "Filter by direction (in, out)")
	category := fs.String("category", "", "Filter by category (frame, storage, state, error)")

	path := parseArgs(fs, args)

	if *output == "" {
		fmt.Fprintln(os.Stderr, "Error: output file (-o) required")
		fs.Usage()
		os.Exit(1)
	}

	opts := commands.FilterOptions{
		Output:    *output,
		SessionID: *session,
		Source:    *source,
		COBID:     *cobID,
		Command:   *command,
		NodeID:    *nodeID,
		TimeStart: *timeStart,
		TimeEnd:   *timeEnd,
		Layer:     *layer,
		Direction: *direction,
		Category:  *category,
	}

	n, err := commands.RunFilter(path, opts)
	if err != nil {
		fail(err)
	}
	fmt.Printf("Filtered %d events to %s\n", n, *output)
}

func runStats(args []string) {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	fs.Usage = usageFunc(fs, `lss-log stats - Show statistics about the log file

Usage:
  lss-log stats <file.clog>

`)

	path := parseArgs(fs, args)

	if err := commands.RunStats(path, os.Stdout); err != nil {
		fail(err)
	}
}
