package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"loadplanner/internal/model"
	"loadplanner/internal/opt"
)

//go:embed schema.sql
var schemaSQL string

type Postgres struct {
	db *sql.DB
}

func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: ping postgres: %w", err)
	}
	return &Postgres{db: db}, nil
}

// Migrate applies the embedded schema. Every statement is idempotent.
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (p *Postgres) Close() error { return p.db.Close() }

func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

const planColumns = `id::text, tenant_id, COALESCE(name, ''), version, fingerprint, created_at, updated_at, plan`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPlan(row rowScanner) (model.PlanRecord, error) {
	var rec model.PlanRecord
	var js []byte
	if err := row.Scan(&rec.ID, &rec.TenantID, &rec.Name, &rec.Version, &rec.Fingerprint, &rec.CreatedAt, &rec.UpdatedAt, &js); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.PlanRecord{}, ErrNotFound
		}
		return model.PlanRecord{}, err
	}
	plan, err := decodePlan(js)
	if err != nil {
		return model.PlanRecord{}, err
	}
	rec.Plan = plan
	return rec, nil
}

func decodePlan(js []byte) (opt.Plan, error) {
	var plan opt.Plan
	if err := json.Unmarshal(js, &plan); err != nil {
		return opt.Plan{}, fmt.Errorf("decode plan: %w", err)
	}
	return plan, nil
}

func (p *Postgres) CreatePlan(ctx context.Context, rec model.PlanRecord) (model.PlanRecord, error) {
	if rec.TenantID == "" {
		return model.PlanRecord{}, fmt.Errorf("create plan: tenant required")
	}
	js, err := json.Marshal(rec.Plan)
	if err != nil {
		return model.PlanRecord{}, err
	}
	id := uuid.New()
	row := p.db.QueryRowContext(ctx, `INSERT INTO plans (id, tenant_id, name, version, plan_date, fingerprint, plan)
        VALUES ($1,$2,$3,1,$4,$5,$6) RETURNING `+planColumns,
		id, rec.TenantID, nullIfEmpty(rec.Name), rec.Plan.Today, rec.Plan.Fingerprint(), js)
	return scanPlan(row)
}

func (p *Postgres) GetPlan(ctx context.Context, tenantID, id string) (model.PlanRecord, error) {
	if _, err := uuid.Parse(id); err != nil {
		return model.PlanRecord{}, ErrNotFound
	}
	row := p.db.QueryRowContext(ctx, `SELECT `+planColumns+` FROM plans WHERE tenant_id=$1 AND id=$2`, tenantID, id)
	return scanPlan(row)
}

// ListPlans pages by id; the cursor is the last id of the previous page.
func (p *Postgres) ListPlans(ctx context.Context, tenantID, cursor string, limit int) ([]model.PlanSummary, string, error) {
	limit = pageLimit(limit)
	var rows *sql.Rows
	var err error
	if cursor != "" {
		rows, err = p.db.QueryContext(ctx, `SELECT `+planColumns+` FROM plans WHERE tenant_id=$1 AND id::text > $2 ORDER BY id LIMIT $3`, tenantID, cursor, limit+1)
	} else {
		rows, err = p.db.QueryContext(ctx, `SELECT `+planColumns+` FROM plans WHERE tenant_id=$1 ORDER BY id LIMIT $2`, tenantID, limit+1)
	}
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()
	out := []model.PlanSummary{}
	for rows.Next() {
		rec, err := scanPlan(rows)
		if err != nil {
			return nil, "", err
		}
		out = append(out, rec.Summary())
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}
	var next string
	if len(out) > limit {
		out = out[:limit]
		next = out[limit-1].ID
	}
	return out, next, nil
}

func (p *Postgres) UpdatePlan(ctx context.Context, tenantID, id string, expectedVersion int, plan opt.Plan) (model.PlanRecord, error) {
	js, err := json.Marshal(plan)
	if err != nil {
		return model.PlanRecord{}, err
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return model.PlanRecord{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var current int
	err = tx.QueryRowContext(ctx, `SELECT version FROM plans WHERE tenant_id=$1 AND id::text=$2 FOR UPDATE`, tenantID, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return model.PlanRecord{}, ErrNotFound
	}
	if err != nil {
		return model.PlanRecord{}, err
	}
	if current != expectedVersion {
		return model.PlanRecord{}, fmt.Errorf("plan %s at version %d, expected %d: %w", id, current, expectedVersion, ErrVersionConflict)
	}
	row := tx.QueryRowContext(ctx, `UPDATE plans SET plan=$1, fingerprint=$2, version=version+1, updated_at=now()
        WHERE tenant_id=$3 AND id::text=$4 RETURNING `+planColumns,
		js, plan.Fingerprint(), tenantID, id)
	rec, err := scanPlan(row)
	if err != nil {
		return model.PlanRecord{}, err
	}
	if err := tx.Commit(); err != nil {
		return model.PlanRecord{}, err
	}
	return rec, nil
}

func (p *Postgres) GetWeightConfig(ctx context.Context, tenantID string) (opt.WeightConfig, bool, error) {
	var js []byte
	err := p.db.QueryRowContext(ctx, `SELECT config FROM weight_config WHERE tenant_id=$1`, tenantID).Scan(&js)
	if errors.Is(err, sql.ErrNoRows) {
		return opt.WeightConfig{}, false, nil
	}
	if err != nil {
		return opt.WeightConfig{}, false, err
	}
	var cfg opt.WeightConfig
	if err := json.Unmarshal(js, &cfg); err != nil {
		return opt.WeightConfig{}, false, fmt.Errorf("decode weight config: %w", err)
	}
	return cfg, true, nil
}

func (p *Postgres) SaveWeightConfig(ctx context.Context, tenantID string, cfg opt.WeightConfig) error {
	js, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `INSERT INTO weight_config (tenant_id, config, updated_at) VALUES ($1, $2, now())
        ON CONFLICT (tenant_id) DO UPDATE SET config=$2, updated_at=now()`, tenantID, js)
	return err
}

func (p *Postgres) SavePlanMetrics(ctx context.Context, tenantID string, m model.PlanMetrics) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	js, err := json.Marshal(m)
	if err != nil {
		return err
	}
	res, err := p.db.ExecContext(ctx, `INSERT INTO plan_metrics (id, tenant_id, plan_id, version, metrics, created_at)
        SELECT $1, $2, id, $4, $5, $6 FROM plans WHERE tenant_id=$2 AND id::text=$3
        ON CONFLICT (plan_id, version) DO UPDATE SET metrics=$5, created_at=$6`,
		uuid.New(), tenantID, m.PlanID, m.Version, js, m.CreatedAt)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) ListPlanMetrics(ctx context.Context, tenantID, planID string) ([]model.PlanMetrics, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT metrics FROM plan_metrics WHERE tenant_id=$1 AND plan_id::text=$2 ORDER BY version`, tenantID, planID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.PlanMetrics{}
	for rows.Next() {
		var js []byte
		if err := rows.Scan(&js); err != nil {
			return nil, err
		}
		var m model.PlanMetrics
		if err := json.Unmarshal(js, &m); err != nil {
			return nil, fmt.Errorf("decode plan metrics: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
