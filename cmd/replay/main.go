package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/adaptive-partition/go-controller/internal/escalation"
	"github.com/danielpatrickdp/adaptive-partition/go-controller/internal/logging"
	"github.com/danielpatrickdp/adaptive-partition/go-controller/internal/replay"
	"github.com/danielpatrickdp/adaptive-partition/go-controller/internal/state"
)

// exitDiverged is returned when replayed events differ from the fixture.
type exitDiverged struct{ n int }

func (e exitDiverged) Error() string { return fmt.Sprintf("%d steps diverge", e.n) }

// #region main

func main() {
	var (
		auditDB  string
		logLevel string
		jsonOut  bool
	)
	root := &cobra.Command{
		Use:          "replay <fixture.json>",
		Short:        "Replay a fixture through the controller and compare switch events",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFixture(cmd, args[0], auditDB, logLevel, jsonOut)
		},
	}
	root.Flags().StringVar(&auditDB, "audit-db", "", "also write switch events and snapshots to this SQLite store")
	root.Flags().StringVar(&logLevel, "log-level", "warn", "controller log level")
	root.Flags().BoolVar(&jsonOut, "json", false, "print the summary as JSON")

	if err := root.Execute(); err != nil {
		if _, ok := err.(exitDiverged); ok {
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}
}

// #endregion main

// #region fixture-mode

func runFixture(cmd *cobra.Command, path, auditDB, logLevel string, jsonOut bool) error {
	f, err := replay.LoadFixture(path)
	if err != nil {
		return err
	}
	log, err := logging.NewWithOutput(logLevel, os.Stderr)
	if err != nil {
		return err
	}

	var audit escalation.AuditSink
	if auditDB != "" {
		store, err := state.NewStore(auditDB)
		if err != nil {
			return fmt.Errorf("open audit db: %w", err)
		}
		defer store.Close()
		audit = store
	}

	h, err := replay.NewHarness(f, audit, log)
	if err != nil {
		return err
	}
	results, err := h.Run(cmd.Context(), f.Steps)
	if err != nil {
		return err
	}
	diffs := replay.Check(f.Steps, results)
	summary := replay.Summarize(results)

	if jsonOut {
		data, err := json.MarshalIndent(struct {
			Summary replay.Summary `json:"summary"`
			Diffs   []string       `json:"diffs"`
		}{summary, diffs}, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal json: %w", err)
		}
		fmt.Println(string(data))
	} else {
		printTable(f, results)
		printSummary(summary, diffs)
	}

	if len(diffs) > 0 {
		return exitDiverged{n: len(diffs)}
	}
	return nil
}

// #endregion fixture-mode

// #region output

func printTable(f *replay.Fixture, results []replay.StepResult) {
	fmt.Printf("%-4s| %-16s| %-28s| %-28s| %s\n", "Step", "Name", "Expected", "Replayed", "Match")
	fmt.Printf("%-4s+%-17s+%-29s+%-29s+%s\n",
		"----", "-----------------", "-----------------------------", "-----------------------------", "-----")
	for i, r := range results {
		var want []string
		if i < len(f.Steps) {
			for _, e := range f.Steps[i].Expect {
				want = append(want, fmt.Sprintf("%s %s->%d", e.Channel, e.Direction, e.ToLevel))
			}
		}
		var got []string
		for _, ev := range r.Cycle.SwitchEvents {
			got = append(got, fmt.Sprintf("%s %s->%d", ev.ChannelID, ev.Direction, ev.ToLevel))
		}
		exp, rep := joinOrDash(want), joinOrDash(got)
		match := "OK"
		if exp != rep {
			match = "DIFF"
		}
		fmt.Printf("%-4d| %-16s| %-28s| %-28s| %s\n", r.Step, r.Name, exp, rep, match)
	}
}

func printSummary(s replay.Summary, diffs []string) {
	fmt.Printf("\nSummary: %d cycles, %d escalated, %d de-escalated, %d cache hits, %d triggers\n",
		s.Cycles, s.Escalations, s.DeEscalations, s.CacheHits, s.Triggers)
	ids := make([]string, 0, len(s.FinalLevels))
	for id := range s.FinalLevels {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		fmt.Printf("  %-16s level %s\n", id, s.FinalLevels[id])
	}
	for _, d := range diffs {
		fmt.Println("  " + d)
	}
}

func joinOrDash(parts []string) string {
	if len(parts) == 0 {
		return "—"
	}
	return strings.Join(parts, ", ")
}

// #endregion output
