package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/hnmirror/hn-mirror/pkg/config"
	"github.com/hnmirror/hn-mirror/pkg/models"
	"github.com/hnmirror/hn-mirror/pkg/storage"
	"github.com/hnmirror/hn-mirror/pkg/watch"
)

// runStatus handles the status subcommand
func runStatus(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	common := registerCommonFlags(fs)
	jsonOut := fs.Bool("json", false, "Print the raw state file contents as JSON")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: hn-mirror status [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	os.Exit(doStatus(common, *jsonOut, os.Stdout, os.Stderr))
}

// doStatus prints the state recorded in state_dir.
// Returns exit code (0 = success, 1 = error).
func doStatus(common *commonFlags, jsonOut bool, stdout, stderr io.Writer) int {
	appCfg, _, err := loadEffectiveConfig(common)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	sm := watch.NewStateManager(appCfg.StateDir)
	if err := sm.Load(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	state := sm.State()

	if jsonOut {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(state); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		return 0
	}

	if state.LastCycle == nil {
		fmt.Fprintf(stdout, "No cycle recorded in %s\n", sm.Path())
		return 0
	}

	fmt.Fprintf(stdout, "State file: %s\n\n", sm.Path())
	fmt.Fprintln(stdout, "Last cycle:")
	printCycle(stdout, *state.LastCycle)

	next := sm.NextRunTime(appCfg.PollInterval)
	fmt.Fprintf(stdout, "\nNext cycle due: %s\n", next.Format(time.RFC3339))

	t := state.Totals
	fmt.Fprintln(stdout, "\nTotals:")
	fmt.Fprintf(stdout, "  Cycles:           %d (%d failed)\n", t.Cycles, t.FailedCycles)
	fmt.Fprintf(stdout, "  Discovered:       %d\n", t.Discovered)
	fmt.Fprintf(stdout, "  Items stored:     %d (%d failed)\n", t.ItemsStored, t.ItemFailures)
	fmt.Fprintf(stdout, "  Comment pages:    %d failed\n", t.CommentFailures)
	fmt.Fprintf(stdout, "  Links stored:     %d (%d failed)\n", t.LinksStored, t.LinkFailures)
	return 0
}

// printCycle writes a one-cycle summary
func printCycle(w io.Writer, r models.CycleResult) {
	status := "success"
	if !r.Success() {
		status = "failed: " + r.Error
	}
	fmt.Fprintf(w, "  Cycle:            %s\n", r.CycleID)
	fmt.Fprintf(w, "  Started:          %s (took %v)\n", r.StartedAt.Format(time.RFC3339), r.Duration().Round(time.Millisecond))
	fmt.Fprintf(w, "  Status:           %s\n", status)
	fmt.Fprintf(w, "  Listing entries:  %d\n", r.ListingEntries)
	fmt.Fprintf(w, "  Discovered:       %d\n", r.Discovered)
	fmt.Fprintf(w, "  Items stored:     %d (%d failed)\n", r.ItemsStored, r.ItemFailures)
	fmt.Fprintf(w, "  Comment pages:    %d failed\n", r.CommentFailures)
	fmt.Fprintf(w, "  Comment links:    %d (%d stored, %d failed)\n", r.CommentLinks, r.LinksStored, r.LinkFailures)
}

// runSeen handles the seen subcommand
func runSeen(args []string) {
	fs := flag.NewFlagSet("seen", flag.ExitOnError)
	common := registerCommonFlags(fs)
	outFile := fs.String("o", "", "Write every identifier to this file instead of printing")
	limit := fs.Int("limit", 50, "Maximum entries to print, most recent first (0 = all)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: hn-mirror seen [options]\n\nOptions:\n")
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nOnly the badger dedup backend persists identifiers between runs.\n")
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	os.Exit(doSeen(common, *outFile, *limit, os.Stdout, os.Stderr))
}

// doSeen lists or exports the durable dedup store.
// Returns exit code (0 = success, 1 = error).
func doSeen(common *commonFlags, outFile string, limit int, stdout, stderr io.Writer) int {
	appCfg, _, err := loadEffectiveConfig(common)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if appCfg.Dedup.Backend != config.DedupBadger {
		fmt.Fprintf(stderr, "Dedup backend is '%s': identifiers are not persisted between runs\n", appCfg.Dedup.Backend)
		return 0
	}

	log := setupLogger(common.logLevel, stderr)
	store, err := storage.NewSeenStore(appCfg, log.WithField("component", "dedup"))
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer store.Close()

	if outFile != "" {
		if err := store.WriteSeenLog(outFile); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		return 0
	}

	entries, err := store.Snapshot(limit)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	for _, e := range entries {
		fmt.Fprintf(stdout, "%s\t%s\t%s\n", e.ID, e.FirstSeen.Format(time.RFC3339), e.LastSeen.Format(time.RFC3339))
	}
	return 0
}
