// Package interactive provides the interactive command-line interface
// for lss-sim.
package interactive

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/martinwag/CANopenNode/cmd/lss-sim/sim"
	"github.com/martinwag/CANopenNode/pkg/lss"
	"github.com/martinwag/CANopenNode/pkg/node"
	"github.com/martinwag/CANopenNode/pkg/persistence"
)

// DefaultSwitchDelay is the activate delay used when none is given.
const DefaultSwitchDelay = 100 * time.Millisecond

// Shell handles interactive mode for lss-sim.
type Shell struct {
	sim *sim.Simulator
	rl  *readline.Instance
	out io.Writer
}

// New creates a new interactive shell.
func New(s *sim.Simulator) (*Shell, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "lss> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}

	sh := newShell(s, rl.Stdout())
	sh.rl = rl
	return sh, nil
}

func newShell(s *sim.Simulator, out io.Writer) *Shell {
	sh := &Shell{sim: s, out: out}
	s.OnEvent(sh.handleEvent)
	return sh
}

// Stdout returns a writer that properly coordinates with the readline input.
// Use this for log output to avoid interfering with the command prompt.
func (sh *Shell) Stdout() io.Writer {
	return sh.rl.Stdout()
}

// Run starts the interactive command loop.
func (sh *Shell) Run(ctx context.Context, cancel context.CancelFunc) {
	defer sh.rl.Close()

	sh.printHelp()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := sh.rl.Readline()
		if err != nil {
			// EOF or interrupt
			if err == readline.ErrInterrupt {
				continue
			}
			fmt.Fprintln(sh.out, "Exiting...")
			cancel()
			return
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}
		if input == "quit" || input == "exit" || input == "q" {
			fmt.Fprintln(sh.out, "Exiting...")
			cancel()
			return
		}

		parts := strings.Fields(input)
		if err := sh.Exec(ctx, strings.ToLower(parts[0]), parts[1:]); err != nil {
			fmt.Fprintf(sh.out, "Error: %v\n", err)
		}
	}
}

// errUsage marks a command called with wrong arguments.
var errUsage = errors.New("wrong arguments, see help")

// Exec runs one command.
func (sh *Shell) Exec(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "help", "?":
		sh.printHelp()
		return nil
	case "nodes", "n":
		sh.cmdNodes()
		return nil
	case "fastscan", "scan":
		return sh.cmdFastscan(ctx)
	case "assign":
		return sh.cmdAssign(ctx)
	case "assignments":
		return sh.cmdAssignments()
	case "select", "s":
		return sh.cmdSelect(ctx, args)
	case "deselect", "d":
		return sh.sim.Deselect()
	case "nid":
		return sh.cmdConfigureNodeID(ctx, args)
	case "bitrate":
		return sh.cmdConfigureBitRate(ctx, args)
	case "store":
		return sh.sim.Store(ctx)
	case "activate":
		return sh.cmdActivate(ctx, args)
	case "inquire", "i":
		return sh.cmdInquire(ctx, args)
	case "read", "r":
		return sh.cmdRead(args)
	case "write", "w":
		return sh.cmdWrite(args)
	case "save":
		return sh.cmdSignature(args, 0x1010, persistence.SignatureSave)
	case "restore":
		return sh.cmdSignature(args, 0x1011, persistence.SignatureLoad)
	case "reset":
		return sh.cmdReset(args)
	case "daisy":
		return sh.cmdDaisy(args)
	case "bus":
		fmt.Fprintf(sh.out, "Master at %d kbit/s, %d deliveries\n", sh.sim.MasterBitRate(), sh.sim.Bus().Delivered())
		return nil
	default:
		return fmt.Errorf("unknown command %q, type 'help' for a list", cmd)
	}
}

func (sh *Shell) printHelp() {
	fmt.Fprintln(sh.out, `
Commands:
  nodes                              List simulated nodes
  fastscan                           Identify one unconfigured node and select it
  assign                             Give every unconfigured node a node id
  assignments                        Show recorded assignments
  select <node|all>                  Select a node by name, or all nodes
  deselect                           Return all nodes to waiting state
  nid <id>                           Configure node id of the selected node
  bitrate <kbit>                     Configure bit rate of the selected node
  store                              Store the selected node's configuration
  activate <kbit> [delay-ms]         Switch selected nodes and the master to kbit
  inquire [addr|nid]                 Inquire the selected node
  read <node> <index> <sub>          Read a dictionary entry
  write <node> <index> <sub> <hex>   Write a dictionary entry
  save <node> [sub]                  Store parameters (0x1010)
  restore <node> [sub]               Restore default parameters (0x1011)
  reset <node>                       Communication reset
  daisy <node> <shift>               Send a daisy chain event
  bus                                Show bus statistics
  help                               Show this help
  quit                               Exit`)
	fmt.Fprintln(sh.out)
}

func (sh *Shell) handleEvent(name string, ev node.Event) {
	switch ev.Kind {
	case node.EventNodeIDChanged:
		fmt.Fprintf(sh.out, "[%s] node id %d\n", name, ev.NodeID)
	case node.EventBitRateChanged:
		fmt.Fprintf(sh.out, "[%s] bit rate %d kbit/s\n", name, ev.BitRate)
	case node.EventODWrite:
		fmt.Fprintf(sh.out, "[%s] wrote %04X:%02X\n", name, ev.Index, ev.Sub)
	case node.EventDaisychain:
		fmt.Fprintf(sh.out, "[%s] daisy chain event shift=%d from node %d\n", name, ev.Shift, ev.From)
	case node.EventStorageError:
		fmt.Fprintf(sh.out, "[%s] storage error: %v\n", name, ev.Err)
	}
}

func (sh *Shell) cmdNodes() {
	fmt.Fprintf(sh.out, "%-12s %-35s %-7s %-8s %s\n", "NAME", "ADDRESS", "NODE", "KBIT", "LSS")
	for _, n := range sh.sim.Nodes() {
		nid := "-"
		if n.NodeIDAssigned() {
			nid = strconv.Itoa(int(n.NodeID()))
		}
		fmt.Fprintf(sh.out, "%-12s %-35s %-7s %-8d %s\n", n.Name(), n.Identity(), nid, n.BitRate(), n.LSSState())
	}
}

func (sh *Shell) cmdFastscan(ctx context.Context) error {
	addr, found, err := sh.sim.Fastscan(ctx)
	if err != nil {
		return err
	}
	if !found {
		fmt.Fprintln(sh.out, "All nodes are configured")
		return nil
	}
	fmt.Fprintf(sh.out, "Found and selected %s\n", addr)
	return nil
}

func (sh *Shell) cmdAssign(ctx context.Context) error {
	done, err := sh.sim.Assign(ctx)
	for _, a := range done {
		stored := ""
		if !a.Stored {
			stored = " (not stored)"
		}
		fmt.Fprintf(sh.out, "%s -> node %d%s\n", a.Address, a.NodeID, stored)
	}
	if err != nil {
		return err
	}
	if len(done) == 0 {
		fmt.Fprintln(sh.out, "All nodes are configured")
	}
	return nil
}

func (sh *Shell) cmdAssignments() error {
	a, err := sh.sim.Assignments()
	if err != nil {
		return err
	}
	if len(a.Nodes) == 0 {
		fmt.Fprintln(sh.out, "No assignments recorded")
		return nil
	}
	for _, n := range a.Nodes {
		fmt.Fprintf(sh.out, "%3d  %s  stored=%t  %s\n", n.NodeID, n.Address, n.Stored, n.AssignedAt.Format(time.RFC3339))
	}
	return nil
}

func (sh *Shell) cmdSelect(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	if args[0] == "all" {
		return sh.sim.SelectAll(ctx)
	}
	n, err := sh.sim.Node(args[0])
	if err != nil {
		return err
	}
	return sh.sim.Select(ctx, n.Identity())
}

func (sh *Shell) cmdConfigureNodeID(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	nid, err := strconv.ParseUint(args[0], 0, 8)
	if err != nil {
		return fmt.Errorf("node id: %w", err)
	}
	return sh.sim.ConfigureNodeID(ctx, uint8(nid))
}

func (sh *Shell) cmdConfigureBitRate(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	kbit, err := strconv.ParseUint(args[0], 10, 16)
	if err != nil {
		return fmt.Errorf("bit rate: %w", err)
	}
	return sh.sim.ConfigureBitRate(ctx, uint16(kbit))
}

func (sh *Shell) cmdActivate(ctx context.Context, args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return errUsage
	}
	kbit, err := strconv.ParseUint(args[0], 10, 16)
	if err != nil {
		return fmt.Errorf("bit rate: %w", err)
	}
	delay := DefaultSwitchDelay
	if len(args) == 2 {
		ms, err := strconv.ParseUint(args[1], 10, 16)
		if err != nil {
			return fmt.Errorf("delay: %w", err)
		}
		delay = time.Duration(ms) * time.Millisecond
	}
	if err := sh.sim.ActivateBitRate(ctx, uint16(kbit), delay); err != nil {
		return err
	}
	fmt.Fprintf(sh.out, "Bus switched to %d kbit/s\n", kbit)
	return nil
}

func (sh *Shell) cmdInquire(ctx context.Context, args []string) error {
	what := "addr"
	if len(args) > 0 {
		what = args[0]
	}
	switch what {
	case "addr":
		addr, err := sh.sim.InquireAddress(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(sh.out, "Address: %s\n", addr)
	case "nid":
		nid, err := sh.sim.InquireNodeID(ctx)
		if err != nil {
			return err
		}
		if nid == lss.NodeIDUnconfigured {
			fmt.Fprintln(sh.out, "Node id: unconfigured")
		} else {
			fmt.Fprintf(sh.out, "Node id: %d\n", nid)
		}
	default:
		return errUsage
	}
	return nil
}

// parseEntry parses "<node> <index> <sub>" with index and sub in hex.
func (sh *Shell) parseEntry(args []string) (*node.Node, uint16, uint8, error) {
	if len(args) < 3 {
		return nil, 0, 0, errUsage
	}
	n, err := sh.sim.Node(args[0])
	if err != nil {
		return nil, 0, 0, err
	}
	index, err := strconv.ParseUint(strings.TrimPrefix(args[1], "0x"), 16, 16)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("index: %w", err)
	}
	sub, err := strconv.ParseUint(strings.TrimPrefix(args[2], "0x"), 16, 8)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("sub index: %w", err)
	}
	return n, uint16(index), uint8(sub), nil
}

func (sh *Shell) cmdRead(args []string) error {
	n, index, sub, err := sh.parseEntry(args)
	if err != nil {
		return err
	}
	data, err := n.Dictionary().Read(index, sub)
	if err != nil {
		return err
	}
	fmt.Fprintf(sh.out, "%04X:%02X = %s", index, sub, hex.EncodeToString(data))
	switch len(data) {
	case 1:
		fmt.Fprintf(sh.out, " (%d)", data[0])
	case 2:
		fmt.Fprintf(sh.out, " (%d)", binary.LittleEndian.Uint16(data))
	case 4:
		fmt.Fprintf(sh.out, " (%d)", binary.LittleEndian.Uint32(data))
	}
	fmt.Fprintln(sh.out)
	return nil
}

func (sh *Shell) cmdWrite(args []string) error {
	if len(args) != 4 {
		return errUsage
	}
	n, index, sub, err := sh.parseEntry(args)
	if err != nil {
		return err
	}
	data, err := hex.DecodeString(args[3])
	if err != nil {
		return fmt.Errorf("data: %w", err)
	}
	return n.Dictionary().Write(index, sub, data)
}

// cmdSignature writes a store or restore signature to sub 1 (all
// parameters) or the given sub index.
func (sh *Shell) cmdSignature(args []string, index uint16, signature uint32) error {
	if len(args) < 1 || len(args) > 2 {
		return errUsage
	}
	n, err := sh.sim.Node(args[0])
	if err != nil {
		return err
	}
	sub := uint64(1)
	if len(args) == 2 {
		if sub, err = strconv.ParseUint(args[1], 0, 8); err != nil {
			return fmt.Errorf("sub index: %w", err)
		}
	}
	data := binary.LittleEndian.AppendUint32(nil, signature)
	if err := n.Dictionary().Write(index, uint8(sub), data); err != nil {
		return err
	}
	fmt.Fprintf(sh.out, "%s: %04X:%02X done\n", n.Name(), index, sub)
	return nil
}

func (sh *Shell) cmdReset(args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	n, err := sh.sim.Node(args[0])
	if err != nil {
		return err
	}
	return n.ResetCommunication()
}

func (sh *Shell) cmdDaisy(args []string) error {
	if len(args) != 2 {
		return errUsage
	}
	n, err := sh.sim.Node(args[0])
	if err != nil {
		return err
	}
	shift, err := strconv.ParseUint(args[1], 0, 8)
	if err != nil {
		return fmt.Errorf("shift: %w", err)
	}
	return n.Dictionary().Write(node.IndexDaisychain, 0, []byte{uint8(shift)})
}
