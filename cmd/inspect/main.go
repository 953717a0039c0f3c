package main

import (
	"encoding/json"
	"fmt"
	"math"
	"os"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/adaptive-partition/go-controller/internal/cache"
	"github.com/danielpatrickdp/adaptive-partition/go-controller/internal/logging"
	"github.com/danielpatrickdp/adaptive-partition/go-controller/internal/state"
)

var (
	dbPath    string
	jsonOut   bool
	channelID string
	last      int
)

// #region main

func main() {
	root := &cobra.Command{
		Use:          "inspect",
		Short:        "Read the controller's audit store",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&dbPath, "db", envOr("PARTITION_DB_PATH", "partition.db"), "path to the controller's SQLite store")
	root.PersistentFlags().BoolVar(&jsonOut, "json", false, "output as JSON instead of table")
	root.PersistentFlags().StringVar(&channelID, "channel", "", "only show this channel")
	root.PersistentFlags().IntVar(&last, "last", 20, "show N most recent rows")

	root.AddCommand(
		storeCmd("events", "List switch events, newest first", runEvents),
		storeCmd("snapshots", "List per-cycle metrics snapshots, newest first", runSnapshots),
		storeCmd("cache", "List cached adaptations", runCache),
		storeCmd("active", "Show each channel's active configuration", runActive),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// storeCmd opens the store for the duration of one subcommand.
func storeCmd(use, short string, run func(cmd *cobra.Command, store *state.Store) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(dbPath); err != nil {
				return fmt.Errorf("open db: %w", err)
			}
			store, err := state.NewStore(dbPath)
			if err != nil {
				return fmt.Errorf("open db: %w", err)
			}
			defer store.Close()
			return run(cmd, store)
		},
	}
}

// #endregion main

// #region events

func runEvents(cmd *cobra.Command, store *state.Store) error {
	events, err := store.ListSwitchEvents(cmd.Context(), channelID, last)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		fmt.Fprintln(os.Stderr, "no switch events found")
		return nil
	}
	if jsonOut {
		return printJSON(events)
	}

	fmt.Printf("%-20s  %-16s  %-12s  %-11s  %8s  %8s  %-16s  %s\n",
		"Time", "Channel", "Direction", "Levels", "p", "Tol", "Goal", "Fingerprint")
	for _, ev := range events {
		fmt.Printf("%-20s  %-16s  %-12s  %-11s  %8.4f  %8.4f  %-16s  %s\n",
			ev.Timestamp.UTC().Format("2006-01-02T15:04:05Z"),
			ev.ChannelID,
			ev.Direction,
			fmt.Sprintf("%d -> %d", ev.FromLevel, ev.ToLevel),
			ev.TriggerPFail,
			ev.TriggerTolerance,
			orDash(ev.GoalID),
			shortID(ev.ContextFingerprint),
		)
	}
	return nil
}

// #endregion events

// #region snapshots

func runSnapshots(cmd *cobra.Command, store *state.Store) error {
	snaps, err := store.ListSnapshots(cmd.Context(), channelID, last)
	if err != nil {
		return err
	}
	if len(snaps) == 0 {
		fmt.Fprintln(os.Stderr, "no snapshots found")
		return nil
	}
	if jsonOut {
		return printJSON(snaps)
	}

	fmt.Printf("%-20s  %-16s  %5s  %6s  %8s  %8s  %8s  %8s  %10s\n",
		"Time", "Channel", "Level", "N", "p", "UCB", "MI", "Cap", "Per Cost")
	for _, s := range snaps {
		m := s.Metrics
		fmt.Printf("%-20s  %-16s  %5d  %6d  %8.4f  %8s  %8.4f  %8.4f  %10s\n",
			s.Timestamp.UTC().Format("2006-01-02T15:04:05Z"),
			s.ChannelID,
			s.Level,
			m.NObservations,
			m.PFail,
			optional(m.PFailUCB),
			m.MutualInformationBits,
			m.CapacityBits,
			efficiency(m.EfficiencyPerCost),
		)
	}
	return nil
}

// #endregion snapshots

// #region cache

func runCache(cmd *cobra.Command, store *state.Store) error {
	entries, err := store.LoadAdaptations(cmd.Context())
	if err != nil {
		return err
	}
	filtered := entries[:0]
	for _, e := range entries {
		if channelID == "" || e.ChannelID == channelID {
			filtered = append(filtered, e)
		}
	}
	if len(filtered) == 0 {
		fmt.Fprintln(os.Stderr, "no cached adaptations found")
		return nil
	}
	if jsonOut {
		return printJSON(filtered)
	}

	fmt.Printf("%-10s  %-16s  %5s  %-14s  %6s  %6s  %7s  %-10s  %s\n",
		"ID", "Channel", "Level", "Competency", "Cost", "Reuse", "Success", "Context", "Changed")
	for _, e := range filtered {
		fmt.Printf("%-10s  %-16s  %5d  %-14s  %6.2f  %6d  %7.2f  %-10s  %v\n",
			shortID(e.ID),
			e.ChannelID,
			e.Payload.Level,
			e.CompetencyType,
			e.StructuralCost,
			e.ReuseCount,
			e.SuccessRate,
			shortID(e.ContextFingerprint),
			changed(e),
		)
	}
	return nil
}

func changed(e cache.CachedAdaptation) []string {
	if len(e.Payload.ChangedFields) == 0 {
		return []string{"-"}
	}
	return e.Payload.ChangedFields
}

// #endregion cache

// #region active

func runActive(cmd *cobra.Command, store *state.Store) error {
	records, err := store.ListActive(cmd.Context())
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintln(os.Stderr, "no active configurations recorded")
		return nil
	}
	if jsonOut {
		return printJSON(records)
	}
	fmt.Printf("%-16s  %-38s  %s\n", "Channel", "Configuration", "Since")
	for _, r := range records {
		if channelID != "" && r.ChannelID != channelID {
			continue
		}
		fmt.Printf("%-16s  %-38s  %s\n", r.ChannelID, r.ConfigurationID, r.UpdatedAt.UTC().Format("2006-01-02T15:04:05Z"))
	}
	return nil
}

// #endregion active

// #region output

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

func optional(p *float64) string {
	if p == nil {
		return "—"
	}
	return fmt.Sprintf("%.4f", *p)
}

func efficiency(v float64) string {
	if math.IsInf(v, 1) {
		return "inf"
	}
	return fmt.Sprintf("%.4f", logging.Round(v))
}

func orDash(s string) string {
	if s == "" {
		return "—"
	}
	return s
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// #endregion output
