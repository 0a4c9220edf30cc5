package store

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"loadplanner/internal/model"
	"loadplanner/internal/opt"
)

// Memory is a simple in-memory store used when no DATABASE_URL is set.
type Memory struct {
	mu      sync.Mutex
	plans   map[string]model.PlanRecord    // id -> plan
	byTen   map[string][]string            // tenant -> plan ids, oldest first
	weights map[string]opt.WeightConfig    // tenant -> config
	planMx  map[string][]model.PlanMetrics // plan id -> snapshots
	now     func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		plans:   map[string]model.PlanRecord{},
		byTen:   map[string][]string{},
		weights: map[string]opt.WeightConfig{},
		planMx:  map[string][]model.PlanMetrics{},
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (m *Memory) CreatePlan(ctx context.Context, rec model.PlanRecord) (model.PlanRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.TenantID == "" {
		return model.PlanRecord{}, fmt.Errorf("create plan: tenant required")
	}
	rec.ID = uuid.New().String()
	rec.Version = 1
	rec.Fingerprint = rec.Plan.Fingerprint()
	rec.CreatedAt = m.now()
	rec.UpdatedAt = rec.CreatedAt
	m.plans[rec.ID] = rec
	m.byTen[rec.TenantID] = append(m.byTen[rec.TenantID], rec.ID)
	return rec, nil
}

func (m *Memory) GetPlan(ctx context.Context, tenantID, id string) (model.PlanRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.plans[id]
	if !ok || rec.TenantID != tenantID {
		return model.PlanRecord{}, ErrNotFound
	}
	return rec, nil
}

func (m *Memory) ListPlans(ctx context.Context, tenantID, cursor string, limit int) ([]model.PlanSummary, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := m.byTen[tenantID]
	start := 0
	if cursor != "" {
		if i := slices.Index(ids, cursor); i >= 0 {
			start = i + 1
		}
	}
	limit = pageLimit(limit)
	out := []model.PlanSummary{}
	next := ""
	for i := start; i < len(ids); i++ {
		if len(out) == limit {
			next = out[len(out)-1].ID
			break
		}
		out = append(out, m.plans[ids[i]].Summary())
	}
	return out, next, nil
}

func (m *Memory) UpdatePlan(ctx context.Context, tenantID, id string, expectedVersion int, plan opt.Plan) (model.PlanRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.plans[id]
	if !ok || rec.TenantID != tenantID {
		return model.PlanRecord{}, ErrNotFound
	}
	if rec.Version != expectedVersion {
		return model.PlanRecord{}, fmt.Errorf("plan %s at version %d, expected %d: %w", id, rec.Version, expectedVersion, ErrVersionConflict)
	}
	rec.Plan = plan
	rec.Version++
	rec.Fingerprint = plan.Fingerprint()
	rec.UpdatedAt = m.now()
	m.plans[id] = rec
	return rec, nil
}

func (m *Memory) GetWeightConfig(ctx context.Context, tenantID string) (opt.WeightConfig, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg, ok := m.weights[tenantID]
	if !ok {
		return opt.WeightConfig{}, false, nil
	}
	cfg.HighVolumeStates = slices.Clone(cfg.HighVolumeStates)
	return cfg, true, nil
}

func (m *Memory) SaveWeightConfig(ctx context.Context, tenantID string, cfg opt.WeightConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg.HighVolumeStates = slices.Clone(cfg.HighVolumeStates)
	m.weights[tenantID] = cfg
	return nil
}

func (m *Memory) SavePlanMetrics(ctx context.Context, tenantID string, pm model.PlanMetrics) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.plans[pm.PlanID]
	if !ok || rec.TenantID != tenantID {
		return ErrNotFound
	}
	if pm.CreatedAt.IsZero() {
		pm.CreatedAt = m.now()
	}
	items := m.planMx[pm.PlanID]
	if i := slices.IndexFunc(items, func(x model.PlanMetrics) bool { return x.Version == pm.Version }); i >= 0 {
		items[i] = pm
	} else {
		items = append(items, pm)
	}
	m.planMx[pm.PlanID] = items
	return nil
}

func (m *Memory) ListPlanMetrics(ctx context.Context, tenantID, planID string) ([]model.PlanMetrics, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.plans[planID]
	if !ok || rec.TenantID != tenantID {
		return nil, ErrNotFound
	}
	return append([]model.PlanMetrics{}, m.planMx[planID]...), nil
}

func (m *Memory) Ping(ctx context.Context) error { return ctx.Err() }
