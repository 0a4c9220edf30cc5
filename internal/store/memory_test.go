package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loadplanner/internal/model"
	"loadplanner/internal/opt"
)

func samplePlan(trucks ...int) opt.Plan {
	p := opt.Plan{Today: time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC), Weights: opt.DefaultWeightConfig()}
	for _, n := range trucks {
		p.Trucks = append(p.Trucks, opt.Truck{Number: n, Bucket: opt.BucketWithinWindow, Weight: 1000, BelowMinimum: true})
	}
	p.NextTruckNumber = len(trucks) + 1
	return p
}

func TestMemoryPlanLifecycle(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	rec, err := m.CreatePlan(ctx, model.PlanRecord{TenantID: "t1", Name: "monday", Plan: samplePlan(1, 2)})
	require.NoError(t, err)
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, 1, rec.Version)
	assert.Equal(t, rec.Plan.Fingerprint(), rec.Fingerprint)

	_, err = m.GetPlan(ctx, "t2", rec.ID)
	require.ErrorIs(t, err, ErrNotFound)

	got, err := m.GetPlan(ctx, "t1", rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec, got)

	_, err = m.UpdatePlan(ctx, "t1", rec.ID, 2, samplePlan(1))
	require.ErrorIs(t, err, ErrVersionConflict)

	upd, err := m.UpdatePlan(ctx, "t1", rec.ID, 1, samplePlan(1))
	require.NoError(t, err)
	assert.Equal(t, 2, upd.Version)
	assert.NotEqual(t, rec.Fingerprint, upd.Fingerprint)
	assert.Len(t, upd.Plan.Trucks, 1)

	_, err = m.UpdatePlan(ctx, "t1", "missing", 1, samplePlan())
	require.ErrorIs(t, err, ErrNotFound)

	_, err = m.CreatePlan(ctx, model.PlanRecord{Plan: samplePlan()})
	require.Error(t, err)
}

func TestMemoryListPlansPaging(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	var ids []string
	for range 5 {
		rec, err := m.CreatePlan(ctx, model.PlanRecord{TenantID: "t1", Plan: samplePlan(1)})
		require.NoError(t, err)
		ids = append(ids, rec.ID)
	}
	_, err := m.CreatePlan(ctx, model.PlanRecord{TenantID: "other", Plan: samplePlan(1)})
	require.NoError(t, err)

	page, next, err := m.ListPlans(ctx, "t1", "", 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, ids[1], next)
	assert.Equal(t, 1, page[0].Trucks)
	assert.Equal(t, 1, page[0].BelowMinimum)

	page, next, err = m.ListPlans(ctx, "t1", next, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{ids[2], ids[3]}, []string{page[0].ID, page[1].ID})

	page, next, err = m.ListPlans(ctx, "t1", next, 2)
	require.NoError(t, err)
	assert.Len(t, page, 1)
	assert.Empty(t, next)
}

func TestMemoryWeightConfig(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	_, found, err := m.GetWeightConfig(ctx, "t1")
	require.NoError(t, err)
	assert.False(t, found)

	cfg := opt.DefaultWeightConfig()
	cfg.HighVolumeStates = []string{"TX", "OK"}
	require.NoError(t, m.SaveWeightConfig(ctx, "t1", cfg))
	cfg.HighVolumeStates[0] = "CA"

	got, found, err := m.GetWeightConfig(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []string{"TX", "OK"}, got.HighVolumeStates)
}

func TestMemoryPlanMetrics(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	rec, err := m.CreatePlan(ctx, model.PlanRecord{TenantID: "t1", Plan: samplePlan(1, 2)})
	require.NoError(t, err)

	require.NoError(t, m.SavePlanMetrics(ctx, "t1", model.MetricsFor(rec.ID, 1, rec.Plan, time.Millisecond)))
	require.NoError(t, m.SavePlanMetrics(ctx, "t1", model.MetricsFor(rec.ID, 1, rec.Plan, 2*time.Millisecond)))
	require.NoError(t, m.SavePlanMetrics(ctx, "t1", model.MetricsFor(rec.ID, 2, samplePlan(1), time.Millisecond)))
	require.ErrorIs(t, m.SavePlanMetrics(ctx, "t2", model.MetricsFor(rec.ID, 1, rec.Plan, 0)), ErrNotFound)

	items, err := m.ListPlanMetrics(ctx, "t1", rec.ID)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, 2, items[0].Trucks)
	assert.InDelta(t, 2.0, items[0].DurationMs, 1e-9)
	assert.Equal(t, 2, items[0].Sections[string(opt.BucketWithinWindow)])
	assert.Equal(t, 1, items[1].Trucks)

	_, err = m.ListPlanMetrics(ctx, "t2", rec.ID)
	require.ErrorIs(t, err, ErrNotFound)
}
