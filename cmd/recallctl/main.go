// recallctl is the maintenance CLI for a recall store: batch consolidation
// runs, open-conflict inspection, decay reports, and store statistics.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/scrypster/recall/internal/config"
	"github.com/scrypster/recall/internal/engine"
	"github.com/scrypster/recall/internal/storage"
	"github.com/scrypster/recall/internal/storage/postgres"
	"github.com/scrypster/recall/internal/storage/sqlite"
	"github.com/scrypster/recall/internal/summarize"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "recallctl",
	Short: "Maintenance tooling for a recall memory store",
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print record and open-conflict counts",
	RunE:  runStats,
}

var consolidateCmd = &cobra.Command{
	Use:   "consolidate [entity-id]",
	Short: "Consolidate eligible records into summaries",
	Long: "With an entity id, consolidates that entity's eligible records. " +
		"Without arguments, sweeps every entity due for consolidation.",
	Args: cobra.MaximumNArgs(1),
	RunE: runConsolidate,
}

var conflictsCmd = &cobra.Command{
	Use:   "conflicts",
	Short: "List open conflicts",
	RunE:  runConflicts,
}

var decayCmd = &cobra.Command{
	Use:   "decay <entity-id>",
	Short: "Report effective confidence for an entity's active records",
	Args:  cobra.ExactArgs(1),
	RunE:  runDecay,
}

var conflictsEntity string

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "path to a YAML config file")
	conflictsCmd.Flags().StringVar(&conflictsEntity, "entity", "", "only conflicts for this subject entity")

	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(consolidateCmd)
	rootCmd.AddCommand(conflictsCmd)
	rootCmd.AddCommand(decayCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func loadEngine() (*engine.Engine, *config.Config, error) {
	var cfg *config.Config
	var err error
	if configFile != "" {
		cfg, err = config.LoadConfigFile(configFile)
	} else {
		cfg, err = config.LoadConfig()
	}
	if err != nil {
		return nil, nil, err
	}

	store, err := openStore(cfg)
	if err != nil {
		return nil, nil, err
	}

	eng, err := engine.New(store, cfg, summarize.NewHeuristic())
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	return eng, cfg, nil
}

func openStore(cfg *config.Config) (storage.Store, error) {
	switch cfg.Storage.Engine {
	case "sqlite", "":
		if err := os.MkdirAll(cfg.Storage.DataPath, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		return sqlite.NewStore(filepath.Join(cfg.Storage.DataPath, "recall.db"))
	case "postgres":
		return postgres.NewStore(cfg.Storage.PostgresDSN)
	default:
		return nil, fmt.Errorf("unknown storage engine %q", cfg.Storage.Engine)
	}
}

func runStats(cmd *cobra.Command, args []string) error {
	eng, _, err := loadEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	stats, err := eng.Stats(cmd.Context())
	if err != nil {
		return err
	}
	return printJSON(stats)
}

func runConsolidate(cmd *cobra.Command, args []string) error {
	eng, cfg, err := loadEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Minute)
	defer cancel()
	now := time.Now().UTC()

	if len(args) == 1 {
		summary, err := eng.Consolidate(ctx, args[0], now)
		if err != nil {
			return err
		}
		if summary == nil {
			fmt.Println("nothing to consolidate")
			return nil
		}
		fmt.Printf("created %s from %d records\n", summary.Record.ID, len(summary.SourceIDs))
		return nil
	}

	runner := engine.NewRunner(eng.Store(), eng.Consolidator(), cfg.Consolidation)
	produced, err := runner.Sweep(ctx, now)
	if err != nil {
		return err
	}
	fmt.Printf("produced %d summaries\n", produced)
	return nil
}

func runConflicts(cmd *cobra.Command, args []string) error {
	eng, _, err := loadEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	conflicts, err := eng.OpenConflicts(cmd.Context(), conflictsEntity)
	if err != nil {
		return err
	}
	return printJSON(conflicts)
}

func runDecay(cmd *cobra.Command, args []string) error {
	eng, _, err := loadEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	records, err := eng.Candidates(cmd.Context(), storage.CandidateQuery{EntityIDs: args[:1]})
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	type row struct {
		ID         string                `json:"id"`
		Predicate  string                `json:"predicate,omitempty"`
		Stored     float64               `json:"stored_confidence"`
		Confidence engine.ConfidenceView `json:"confidence"`
	}
	rows := make([]row, len(records))
	for i, rec := range records {
		rows[i] = row{
			ID:         rec.ID,
			Predicate:  rec.Predicate,
			Stored:     rec.Confidence,
			Confidence: eng.Decay().View(&records[i], now),
		}
	}
	return printJSON(rows)
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
