package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"loadplanner/internal/ingest"
	"loadplanner/internal/opt"
)

var (
	planIn      string
	planToday   string
	planWeights string
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Build a truck plan from a CSV export",
	Long: `Build a truck plan from an open-order CSV export.

Lines are filtered, bucketed by due date, grouped by destination and packed
onto trucks within the configured weight window. Underweight urgent trucks are
then topped off from less urgent trucks of the same group.`,
	Args: cobra.NoArgs,
	RunE: runPlan,
}

func runPlan(cmd *cobra.Command, args []string) error {
	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	weights, err := loadWeights(planWeights, cfg.Planner.Weights)
	if err != nil {
		return err
	}
	var today time.Time
	if planToday != "" {
		if today, err = time.ParseInLocation("2006-01-02", planToday, loc); err != nil {
			return fmt.Errorf("--today must be formatted YYYY-MM-DD: %w", err)
		}
	}

	in, err := openInput(cmd, planIn)
	if err != nil {
		return err
	}
	defer in.Close()
	batch, err := ingest.ReadCSV(in, loc)
	if err != nil {
		return err
	}

	start := time.Now()
	plan, err := opt.Build(batch.Lines, cfg.PlannerOptions(today, weights))
	if err != nil {
		return err
	}
	logger.Info("plan built",
		zap.Int("lines", len(batch.Lines)),
		zap.Int("trucks", len(plan.Trucks)),
		zap.Int("skipped", len(plan.Skipped)),
		zap.Ints("belowMinimum", plan.BelowMinimum()),
		zap.String("fingerprint", plan.Fingerprint()),
		zap.Duration("took", time.Since(start)),
	)
	return writeOutput(cmd, plan)
}

// loadWeights reads a YAML weight config, or returns def when path is empty.
func loadWeights(path string, def opt.WeightConfig) (opt.WeightConfig, error) {
	if path == "" {
		return def, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return opt.WeightConfig{}, fmt.Errorf("read weights: %w", err)
	}
	w := def
	if err := yaml.Unmarshal(raw, &w); err != nil {
		return opt.WeightConfig{}, fmt.Errorf("parse weights %s: %w", path, err)
	}
	return w, w.Validate()
}
