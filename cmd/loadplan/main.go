// Command loadplan runs the load-assignment engine against CSV exports from the
// command line, without the HTTP service.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"loadplanner/internal/config"
	"loadplanner/internal/logging"
)

var (
	logger *zap.Logger
	cfg    *config.Config

	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "loadplan",
	Short: "Assign open order lines to trucks",
	Long: `loadplan builds truck plans from open-order CSV exports.

Commands:
  plan     - Build a plan from a CSV file
  combine  - Merge selected fragments of a saved plan onto a new truck
  preview  - Show headers, row count and missing columns of a CSV file`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_ = godotenv.Load()
		var err error
		if cfg, err = config.Load(configPath); err != nil {
			return err
		}
		if logLevel != "" {
			cfg.Logging.Level = logLevel
		}
		logger, err = logging.New(cfg.Logging.Level, "console")
		return err
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("CONFIG_FILE"), "YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override logging.level")

	planCmd.Flags().StringVarP(&planIn, "in", "i", "-", "input CSV (- for stdin)")
	planCmd.Flags().StringVar(&planToday, "today", "", "processing date YYYY-MM-DD (default: today in planner timezone)")
	planCmd.Flags().StringVar(&planWeights, "weights", "", "YAML weight config overriding planner.weights")
	planCmd.Flags().StringVarP(&outFormat, "format", "f", "json", "output format: json or yaml")
	planCmd.Flags().StringVarP(&outPath, "out", "o", "-", "output file (- for stdout)")

	combineCmd.Flags().StringVarP(&combinePlan, "plan", "p", "", "saved plan (JSON or YAML)")
	combineCmd.Flags().StringArrayVarP(&combineSelect, "select", "s", nil, "fragment to move as TRUCK:FRAGMENT_ID (repeatable)")
	combineCmd.Flags().StringVar(&planWeights, "weights", "", "YAML weight config overriding planner.weights")
	combineCmd.Flags().StringVarP(&outFormat, "format", "f", "json", "output format: json or yaml")
	combineCmd.Flags().StringVarP(&outPath, "out", "o", "-", "output file (- for stdout)")
	_ = combineCmd.MarkFlagRequired("plan")

	previewCmd.Flags().StringVarP(&planIn, "in", "i", "-", "input CSV (- for stdin)")
	previewCmd.Flags().IntVarP(&previewRows, "rows", "n", 5, "sample rows to show")

	rootCmd.AddCommand(planCmd, combineCmd, previewCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
