// Package model holds the request, response and record shapes shared by the
// API, the store and the CLI.
package model

import (
	"time"

	"loadplanner/internal/opt"
)

// CreatePlanRequest is the JSON body of POST /v1/plans.
type CreatePlanRequest struct {
	Name string `json:"name,omitempty"`
	// Today overrides the processing date, formatted 2006-01-02.
	Today   string            `json:"today,omitempty"`
	Weights *opt.WeightConfig `json:"weights,omitempty"`
	Lines   []opt.OrderLine   `json:"lines"`
}

// PlanRecord is a persisted plan. Version starts at 1 and increases with every
// accepted combine.
type PlanRecord struct {
	ID          string    `json:"id"`
	TenantID    string    `json:"tenantId"`
	Name        string    `json:"name,omitempty"`
	Version     int       `json:"version"`
	Fingerprint string    `json:"fingerprint"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
	Plan        opt.Plan  `json:"plan"`
}

// PlanSummary is the list view of a plan.
type PlanSummary struct {
	ID           string    `json:"id"`
	Name         string    `json:"name,omitempty"`
	Version      int       `json:"version"`
	Today        time.Time `json:"today"`
	Trucks       int       `json:"trucks"`
	Skipped      int       `json:"skipped"`
	BelowMinimum int       `json:"belowMinimum"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Summary condenses a record for listing.
func (r PlanRecord) Summary() PlanSummary {
	return PlanSummary{
		ID:           r.ID,
		Name:         r.Name,
		Version:      r.Version,
		Today:        r.Plan.Today,
		Trucks:       len(r.Plan.Trucks),
		Skipped:      len(r.Plan.Skipped),
		BelowMinimum: len(r.Plan.BelowMinimum()),
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
}

// CombineRequest is the body of POST /v1/plans/{id}/combine. A zero Version
// skips the staleness check against the stored plan.
type CombineRequest struct {
	Selection []opt.FragmentRef `json:"selection"`
	Version   int               `json:"version,omitempty"`
}

// CombineResponse reports a combine outcome. Rejections carry Success=false
// with a machine-readable Reason.
type CombineResponse struct {
	Success  bool               `json:"success"`
	Reason   string             `json:"reason,omitempty"`
	Message  string             `json:"message,omitempty"`
	PlanID   string             `json:"planId"`
	Version  int                `json:"version,omitempty"`
	Result   *opt.CombineResult `json:"result,omitempty"`
	Warnings []string           `json:"warnings,omitempty"`
}

// PlanMetrics is a per-version snapshot of a plan's shape.
type PlanMetrics struct {
	PlanID       string         `json:"planId"`
	Version      int            `json:"version"`
	Trucks       int            `json:"trucks"`
	Fragments    int            `json:"fragments"`
	Skipped      int            `json:"skipped"`
	BelowMinimum int            `json:"belowMinimum"`
	Removed      int            `json:"removedTrucks"`
	FillMoves    int            `json:"fillMoves"`
	TotalWeight  float64        `json:"totalWeight"`
	Sections     map[string]int `json:"sections"`
	DurationMs   float64        `json:"durationMs"`
	CreatedAt    time.Time      `json:"createdAt"`
}

// MetricsFor snapshots a plan version.
func MetricsFor(id string, version int, p opt.Plan, took time.Duration) PlanMetrics {
	m := PlanMetrics{
		PlanID:       id,
		Version:      version,
		Trucks:       len(p.Trucks),
		Fragments:    len(p.Fragments()),
		Skipped:      len(p.Skipped),
		BelowMinimum: len(p.BelowMinimum()),
		Removed:      len(p.Removed),
		FillMoves:    len(p.FillMoves),
		Sections:     map[string]int{},
		DurationMs:   float64(took.Microseconds()) / 1000,
	}
	for _, t := range p.Trucks {
		m.TotalWeight += t.Weight
	}
	for b, nums := range p.Sections() {
		m.Sections[string(b)] = len(nums)
	}
	return m
}
