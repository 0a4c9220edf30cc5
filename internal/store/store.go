package store

import (
	"context"
	"errors"

	"loadplanner/internal/model"
	"loadplanner/internal/opt"
)

// Store is the persistence interface used by the API server.
type Store interface {
	// Plans
	CreatePlan(ctx context.Context, rec model.PlanRecord) (model.PlanRecord, error)
	GetPlan(ctx context.Context, tenantID, id string) (model.PlanRecord, error)
	ListPlans(ctx context.Context, tenantID, cursor string, limit int) (items []model.PlanSummary, nextCursor string, err error)
	// UpdatePlan replaces the stored plan when its version still equals
	// expectedVersion, and bumps the version.
	UpdatePlan(ctx context.Context, tenantID, id string, expectedVersion int, plan opt.Plan) (model.PlanRecord, error)

	// Weight config per tenant
	GetWeightConfig(ctx context.Context, tenantID string) (cfg opt.WeightConfig, found bool, err error)
	SaveWeightConfig(ctx context.Context, tenantID string, cfg opt.WeightConfig) error

	// Metrics
	SavePlanMetrics(ctx context.Context, tenantID string, m model.PlanMetrics) error
	ListPlanMetrics(ctx context.Context, tenantID, planID string) ([]model.PlanMetrics, error)

	Ping(ctx context.Context) error
}

var (
	ErrNotFound        = errors.New("not found")
	ErrVersionConflict = errors.New("version conflict")
)

const (
	defaultPageSize = 100
	maxPageSize     = 500
)

func pageLimit(limit int) int {
	if limit <= 0 || limit > maxPageSize {
		return defaultPageSize
	}
	return limit
}
