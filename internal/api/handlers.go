package api

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"loadplanner/internal/buildinfo"
	"loadplanner/internal/ingest"
	"loadplanner/internal/metrics"
	"loadplanner/internal/model"
	"loadplanner/internal/opt"
	"loadplanner/internal/store"
)

// PlansHandler handles POST/GET /v1/plans
func (s *Server) PlansHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/v1/plans" {
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
		return
	}
	p, ok := s.principal(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodPost:
		if !p.CanPlan() {
			writeProblem(w, http.StatusForbidden, "Forbidden", "dispatcher or admin required", r.URL.Path)
			return
		}
		s.createPlan(w, r, p)
	case http.MethodGet:
		cursor := r.URL.Query().Get("cursor")
		limit := 0
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				writeProblem(w, http.StatusBadRequest, "Invalid limit", "limit must be a non-negative integer", r.URL.Path)
				return
			}
			limit = n
		}
		items, next, err := s.Store.ListPlans(r.Context(), p.Tenant, cursor, limit)
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "List plans failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items, "nextCursor": next})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// readPlanRequest accepts either a JSON CreatePlanRequest or a raw CSV export,
// in which case name and today come from the query string.
func (s *Server) readPlanRequest(w http.ResponseWriter, r *http.Request) (model.CreatePlanRequest, error) {
	var req model.CreatePlanRequest
	mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mt != "text/csv" {
		err := decodeJSON(w, r, &req)
		return req, err
	}
	loc, err := s.Config.Location()
	if err != nil {
		return req, err
	}
	batch, err := ingest.ReadCSV(http.MaxBytesReader(w, r.Body, maxBodyBytes), loc)
	if err != nil {
		return req, err
	}
	req.Lines = batch.Lines
	req.Name = r.URL.Query().Get("name")
	req.Today = r.URL.Query().Get("today")
	return req, nil
}

func (s *Server) createPlan(w http.ResponseWriter, r *http.Request, p Principal) {
	req, err := s.readPlanRequest(w, r)
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid request body", err.Error(), r.URL.Path)
		return
	}
	if err := validateCreatePlanRequest(&req); err != nil {
		metrics.Plans.WithLabelValues("invalid").Inc()
		writeProblem(w, http.StatusBadRequest, "Invalid plan request", err.Error(), r.URL.Path)
		return
	}

	weights, err := s.weightsFor(r.Context(), p.Tenant, req.Weights)
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "Load weight config failed", err.Error(), r.URL.Path)
		return
	}
	today, err := s.today(req.Today)
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid plan request", err.Error(), r.URL.Path)
		return
	}

	start := time.Now()
	plan, err := opt.Build(req.Lines, s.Config.PlannerOptions(today, weights))
	took := time.Since(start)
	if err != nil {
		if errors.Is(err, opt.ErrInvalidWeightConfig) {
			metrics.Plans.WithLabelValues("invalid").Inc()
			writeProblem(w, http.StatusBadRequest, "Invalid weight config", err.Error(), r.URL.Path)
			return
		}
		if errors.Is(err, opt.ErrRemainderUnplaceable) {
			metrics.Plans.WithLabelValues("unplaceable").Inc()
			writeProblem(w, http.StatusUnprocessableEntity, "Lines do not fit the weight config", err.Error(), r.URL.Path)
			return
		}
		metrics.Plans.WithLabelValues("error").Inc()
		s.Log.Error("plan failed", zap.String("tenant", p.Tenant), zap.Error(err))
		writeProblem(w, http.StatusInternalServerError, "Planning failed", err.Error(), r.URL.Path)
		return
	}
	metrics.ObservePlan(len(plan.Trucks), skipReasons(plan), fillPhases(plan), took)

	rec, err := s.Store.CreatePlan(r.Context(), model.PlanRecord{TenantID: p.Tenant, Name: req.Name, Plan: plan})
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "Save plan failed", err.Error(), r.URL.Path)
		return
	}
	if err := s.Store.SavePlanMetrics(r.Context(), p.Tenant, model.MetricsFor(rec.ID, rec.Version, plan, took)); err != nil {
		s.Log.Warn("save plan metrics failed", zap.String("plan_id", rec.ID), zap.Error(err))
	}
	s.publish(p.Tenant, rec.ID, "plan.created", map[string]any{
		"planId":       rec.ID,
		"version":      rec.Version,
		"trucks":       len(plan.Trucks),
		"skipped":      len(plan.Skipped),
		"belowMinimum": plan.BelowMinimum(),
	})
	s.Log.Info("plan created",
		zap.String("tenant", p.Tenant),
		zap.String("plan_id", rec.ID),
		zap.Int("lines", len(req.Lines)),
		zap.Int("trucks", len(plan.Trucks)),
		zap.Int("skipped", len(plan.Skipped)),
		zap.Int("fill_moves", len(plan.FillMoves)),
		zap.Duration("dur", took),
	)

	w.Header().Set("ETag", etag(rec))
	w.Header().Set("Location", "/v1/plans/"+rec.ID)
	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) weightsFor(ctx context.Context, tenant string, override *opt.WeightConfig) (opt.WeightConfig, error) {
	if override != nil {
		return *override, nil
	}
	cfg, found, err := s.Store.GetWeightConfig(ctx, tenant)
	if err != nil {
		return opt.WeightConfig{}, err
	}
	if !found {
		return s.Config.Planner.Weights, nil
	}
	return cfg, nil
}

// today parses an explicit processing date, or returns the zero time so the
// engine takes the current date in the planner timezone.
func (s *Server) today(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	loc, err := s.Config.Location()
	if err != nil {
		return time.Time{}, err
	}
	t, err := time.ParseInLocation(todayLayout, v, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("today must be formatted %s", todayLayout)
	}
	return t, nil
}

func skipReasons(p opt.Plan) []string {
	out := make([]string, 0, len(p.Skipped))
	for _, sk := range p.Skipped {
		out = append(out, sk.Reason)
	}
	return out
}

func fillPhases(p opt.Plan) []string {
	out := make([]string, 0, len(p.FillMoves))
	for _, m := range p.FillMoves {
		out = append(out, m.Phase)
	}
	return out
}

func etag(rec model.PlanRecord) string { return `"` + rec.Fingerprint + `"` }

// PlanByIDHandler handles /v1/plans/{id} and its sub-resources.
func (s *Server) PlanByIDHandler(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/plans/")
	if rest == r.URL.Path || rest == "" {
		writeProblem(w, http.StatusNotFound, "Not Found", "missing id", r.URL.Path)
		return
	}
	p, ok := s.principal(w, r)
	if !ok {
		return
	}
	id, sub, _ := strings.Cut(rest, "/")
	switch sub {
	case "":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		s.getPlan(w, r, p, id)
	case "combine":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !p.CanPlan() {
			writeProblem(w, http.StatusForbidden, "Forbidden", "dispatcher or admin required", r.URL.Path)
			return
		}
		s.combine(w, r, p, id)
	case "events/stream":
		s.planEventsSSE(w, r, p, id)
	case "events/ws":
		s.PlanEventsWSHandler(w, r, p, id)
	default:
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
	}
}

func (s *Server) getPlan(w http.ResponseWriter, r *http.Request, p Principal, id string) {
	rec, err := s.Store.GetPlan(r.Context(), p.Tenant, id)
	if err != nil {
		s.storeProblem(w, r, "Get plan failed", err)
		return
	}
	tag := etag(rec)
	w.Header().Set("ETag", tag)
	if r.Header.Get("If-None-Match") == tag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) combine(w http.ResponseWriter, r *http.Request, p Principal, id string) {
	var req model.CombineRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	if err := validateCombineRequest(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid combine request", err.Error(), r.URL.Path)
		return
	}
	rec, err := s.Store.GetPlan(r.Context(), p.Tenant, id)
	if err != nil {
		s.storeProblem(w, r, "Get plan failed", err)
		return
	}
	version := rec.Version
	if req.Version != 0 && req.Version != rec.Version {
		metrics.CombineRequests.WithLabelValues("conflict").Inc()
		writeProblem(w, http.StatusConflict, "Version conflict", fmt.Sprintf("plan is at version %d", rec.Version), r.URL.Path)
		return
	}

	weights, err := s.weightsFor(r.Context(), p.Tenant, nil)
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "Load weight config failed", err.Error(), r.URL.Path)
		return
	}
	res, err := opt.Combine(rec.Plan, req.Selection, weights)
	if err != nil {
		var rej *opt.RejectionError
		if errors.As(err, &rej) {
			metrics.CombineRequests.WithLabelValues(rej.Code()).Inc()
			s.Log.Info("combine rejected", zap.String("tenant", p.Tenant), zap.String("plan_id", id), zap.String("reason", rej.Code()))
			writeJSON(w, http.StatusUnprocessableEntity, model.CombineResponse{
				Success: false,
				Reason:  rej.Code(),
				Message: rej.Error(),
				PlanID:  id,
				Version: rec.Version,
			})
			return
		}
		metrics.CombineRequests.WithLabelValues("error").Inc()
		writeProblem(w, http.StatusBadRequest, "Combine failed", err.Error(), r.URL.Path)
		return
	}

	upd, err := s.Store.UpdatePlan(r.Context(), p.Tenant, id, version, res.Plan)
	if err != nil {
		if errors.Is(err, store.ErrVersionConflict) {
			metrics.CombineRequests.WithLabelValues("conflict").Inc()
		}
		s.storeProblem(w, r, "Save plan failed", err)
		return
	}
	metrics.CombineRequests.WithLabelValues("ok").Inc()
	if err := s.Store.SavePlanMetrics(r.Context(), p.Tenant, model.MetricsFor(upd.ID, upd.Version, upd.Plan, 0)); err != nil {
		s.Log.Warn("save plan metrics failed", zap.String("plan_id", upd.ID), zap.Error(err))
	}
	s.publish(p.Tenant, id, "plan.combined", map[string]any{
		"planId":        id,
		"version":       upd.Version,
		"target":        res.Target.Number,
		"removedTrucks": res.Removed,
		"moved":         len(res.Moved),
	})
	s.Log.Info("plan combined",
		zap.String("tenant", p.Tenant),
		zap.String("plan_id", id),
		zap.Int("version", upd.Version),
		zap.Int("target", res.Target.Number),
		zap.Ints("removed", res.Removed),
	)

	var warnings []string
	if res.Target.BelowMinimum {
		warnings = append(warnings, fmt.Sprintf("truck %d is below the %.0f lbs minimum", res.Target.Number, res.Target.Bounds.Min))
	}
	w.Header().Set("ETag", etag(upd))
	writeJSON(w, http.StatusOK, model.CombineResponse{
		Success:  true,
		PlanID:   id,
		Version:  upd.Version,
		Result:   &res,
		Warnings: warnings,
	})
}

func (s *Server) storeProblem(w http.ResponseWriter, r *http.Request, title string, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeProblem(w, http.StatusNotFound, "Plan not found", err.Error(), r.URL.Path)
	case errors.Is(err, store.ErrVersionConflict):
		writeProblem(w, http.StatusConflict, "Version conflict", err.Error(), r.URL.Path)
	default:
		writeProblem(w, http.StatusInternalServerError, title, err.Error(), r.URL.Path)
	}
}

// LinesPreviewHandler handles POST /v1/lines/preview with a CSV body.
func (s *Server) LinesPreviewHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if _, ok := s.principal(w, r); !ok {
		return
	}
	n := 0
	if v := r.URL.Query().Get("rows"); v != "" {
		n, _ = strconv.Atoi(v)
	}
	pv, err := ingest.PreviewCSV(http.MaxBytesReader(w, r.Body, maxBodyBytes), n)
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid CSV", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, pv)
}

// WeightConfigHandler handles GET|PUT /v1/admin/weight-config
func (s *Server) WeightConfigHandler(w http.ResponseWriter, r *http.Request) {
	p, ok := s.principal(w, r)
	if !ok {
		return
	}
	if !p.IsAdmin() {
		writeProblem(w, http.StatusForbidden, "Forbidden", "admin required", r.URL.Path)
		return
	}
	switch r.Method {
	case http.MethodGet:
		cfg, err := s.weightsFor(r.Context(), p.Tenant, nil)
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "Load weight config failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusOK, cfg)
	case http.MethodPut:
		var cfg opt.WeightConfig
		if err := decodeJSON(w, r, &cfg); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
		if err := cfg.Validate(); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid weight config", err.Error(), r.URL.Path)
			return
		}
		if err := s.Store.SaveWeightConfig(r.Context(), p.Tenant, cfg); err != nil {
			writeProblem(w, http.StatusInternalServerError, "Save weight config failed", err.Error(), r.URL.Path)
			return
		}
		s.Log.Info("weight config saved", zap.String("tenant", p.Tenant))
		writeJSON(w, http.StatusOK, cfg)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// PlanMetricsHandler handles GET /v1/admin/plan-metrics?planId=
func (s *Server) PlanMetricsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	p, ok := s.principal(w, r)
	if !ok {
		return
	}
	if !p.IsAdmin() {
		writeProblem(w, http.StatusForbidden, "Forbidden", "admin required", r.URL.Path)
		return
	}
	planID := r.URL.Query().Get("planId")
	if planID == "" {
		writeProblem(w, http.StatusBadRequest, "Missing planId", "", r.URL.Path)
		return
	}
	if _, err := s.Store.GetPlan(r.Context(), p.Tenant, planID); err != nil {
		s.storeProblem(w, r, "Get plan failed", err)
		return
	}
	items, err := s.Store.ListPlanMetrics(r.Context(), p.Tenant, planID)
	if err != nil {
		s.storeProblem(w, r, "Plan metrics failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// Health
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "build": buildinfo.Info()})
}

func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	type pinger interface{ Ping(ctx context.Context) error }
	ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
	defer cancel()
	for _, dep := range []any{s.Store, s.Broker} {
		if pg, ok := dep.(pinger); ok {
			if err := pg.Ping(ctx); err != nil {
				writeProblem(w, http.StatusServiceUnavailable, "Not Ready", err.Error(), r.URL.Path)
				return
			}
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
