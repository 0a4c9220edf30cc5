package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"loadplanner/internal/opt"
)

var (
	combinePlan   string
	combineSelect []string
)

var combineCmd = &cobra.Command{
	Use:   "combine",
	Short: "Move selected fragments of a saved plan onto a new truck",
	Long: `Move the selected fragments of a saved plan onto a freshly numbered truck.

All fragments must go to one destination state. When any of them carries a
zone or route, all of them must carry the same one. The combined weight may
not exceed the state's maximum under the current weight config (planner.weights,
or --weights), not the bounds recorded when the plan was built. The output holds
the combine result and the updated plan.`,
	Example: `  loadplan combine --plan plan.json --select 3:SO100-10 --select 5:SO200-20`,
	Args:    cobra.NoArgs,
	RunE:    runCombine,
}

type combineOutput struct {
	Result opt.CombineResult `json:"result"`
	Plan   opt.Plan          `json:"plan"`
}

func runCombine(cmd *cobra.Command, args []string) error {
	refs, err := parseSelection(combineSelect)
	if err != nil {
		return err
	}
	var plan opt.Plan
	if err := readDocument(combinePlan, &plan); err != nil {
		return fmt.Errorf("read plan: %w", err)
	}

	weights, err := loadWeights(planWeights, cfg.Planner.Weights)
	if err != nil {
		return err
	}

	res, err := opt.Combine(plan, refs, weights)
	if err != nil {
		var rej *opt.RejectionError
		if errors.As(err, &rej) {
			logger.Warn("combine rejected", zap.String("code", rej.Code()), zap.Error(err))
		}
		return err
	}
	logger.Info("combined",
		zap.Int("truck", res.Target.Number),
		zap.Int("fragments", len(res.Moved)),
		zap.Ints("removed", res.Removed),
		zap.Bool("belowMinimum", res.Target.BelowMinimum),
	)
	return writeOutput(cmd, combineOutput{Result: res, Plan: res.Plan})
}

// parseSelection turns TRUCK:FRAGMENT_ID pairs into refs. Fragment IDs may
// themselves contain colons; only the first one separates.
func parseSelection(pairs []string) ([]opt.FragmentRef, error) {
	if len(pairs) == 0 {
		return nil, errors.New("at least one --select is required")
	}
	refs := make([]opt.FragmentRef, 0, len(pairs))
	for _, p := range pairs {
		num, id, ok := strings.Cut(p, ":")
		if !ok || strings.TrimSpace(id) == "" {
			return nil, fmt.Errorf("bad --select %q: want TRUCK:FRAGMENT_ID", p)
		}
		n, err := strconv.Atoi(strings.TrimSpace(num))
		if err != nil {
			return nil, fmt.Errorf("bad --select %q: truck number: %w", p, err)
		}
		refs = append(refs, opt.FragmentRef{TruckNumber: n, FragmentID: strings.TrimSpace(id)})
	}
	return refs, nil
}
