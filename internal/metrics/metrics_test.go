package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObservePlan(t *testing.T) {
	RegisterDefault()
	RegisterDefault()

	before := testutil.ToFloat64(Plans.WithLabelValues("ok"))
	skippedBefore := testutil.ToFloat64(LinesSkipped.WithLabelValues("no_weight"))
	ObservePlan(3, []string{"no_weight", "no_weight"}, []string{"late"}, 5*time.Millisecond)

	assert.InDelta(t, before+1, testutil.ToFloat64(Plans.WithLabelValues("ok")), 1e-9)
	assert.InDelta(t, skippedBefore+2, testutil.ToFloat64(LinesSkipped.WithLabelValues("no_weight")), 1e-9)
	assert.GreaterOrEqual(t, testutil.ToFloat64(FillMoves.WithLabelValues("late")), 1.0)

	n, err := testutil.GatherAndCount(Registry, "plan_trucks", "plans_total")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, 2)
}
