package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"courieropt/internal/model"
)

//go:embed schema.sql
var schemaSQL string

type Postgres struct {
	db *sql.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("verify postgres connection: %w", err)
	}
	return &Postgres{db: db}, nil
}

// Migrate applies the embedded schema. Statements are idempotent.
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

func (p *Postgres) Close() error { return p.db.Close() }

const orderColumns = `id, customer_id, partner_id, status, delivery_lat, delivery_lng, picked_up_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(r rowScanner) (model.Order, error) {
	var (
		o                 model.Order
		customer, partner sql.NullString
		lat, lng          sql.NullFloat64
		pickedUp          sql.NullTime
		status            string
	)
	if err := r.Scan(&o.ID, &customer, &partner, &status, &lat, &lng, &pickedUp, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return model.Order{}, err
	}
	o.CustomerID = customer.String
	o.PartnerID = partner.String
	o.Status = model.OrderStatus(status)
	if lat.Valid && lng.Valid {
		o.Delivery = &model.GeoPoint{Lat: lat.Float64, Lng: lng.Float64}
	}
	if pickedUp.Valid {
		t := pickedUp.Time
		o.PickedUpAt = &t
	}
	return o, nil
}

func (p *Postgres) queryOrders(ctx context.Context, q string, args ...any) ([]model.Order, error) {
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (p *Postgres) ListOrdersByStatus(ctx context.Context, status model.OrderStatus) ([]model.Order, error) {
	out, err := p.queryOrders(ctx, `SELECT `+orderColumns+` FROM orders WHERE status=$1 ORDER BY created_at, id`, string(status))
	if err != nil {
		return nil, fmt.Errorf("list orders by status: %w", err)
	}
	return out, nil
}

func (p *Postgres) ListPartnerOrders(ctx context.Context, partnerID string, status model.OrderStatus) ([]model.Order, error) {
	out, err := p.queryOrders(ctx, `SELECT `+orderColumns+` FROM orders WHERE partner_id=$1 AND status=$2 ORDER BY created_at, id`, partnerID, string(status))
	if err != nil {
		return nil, fmt.Errorf("list partner orders: %w", err)
	}
	return out, nil
}

func (p *Postgres) GetOrder(ctx context.Context, id string) (model.Order, error) {
	o, err := scanOrder(p.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Order{}, ErrNotFound
	}
	if err != nil {
		return model.Order{}, fmt.Errorf("get order: %w", err)
	}
	return o, nil
}

func (p *Postgres) UpsertOrder(ctx context.Context, o model.Order) (model.Order, error) {
	if o.ID == "" {
		o.ID = uuid.New().String()
	}
	if o.Status == "" {
		o.Status = model.OrderPlaced
	}
	lat, lng := pointArgs(o.Delivery)
	var pickedUp any
	if o.PickedUpAt != nil {
		pickedUp = *o.PickedUpAt
	}
	row := p.db.QueryRowContext(ctx, `
		INSERT INTO orders (id, customer_id, partner_id, status, delivery_lat, delivery_lng, picked_up_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (id) DO UPDATE SET
			customer_id=EXCLUDED.customer_id, partner_id=EXCLUDED.partner_id, status=EXCLUDED.status,
			delivery_lat=EXCLUDED.delivery_lat, delivery_lng=EXCLUDED.delivery_lng,
			picked_up_at=EXCLUDED.picked_up_at, updated_at=now()
		RETURNING `+orderColumns,
		o.ID, nullIfEmpty(o.CustomerID), nullIfEmpty(o.PartnerID), string(o.Status), lat, lng, pickedUp)
	out, err := scanOrder(row)
	if err != nil {
		return model.Order{}, fmt.Errorf("upsert order: %w", err)
	}
	return out, nil
}

func (p *Postgres) AssignOrder(ctx context.Context, orderID, partnerID string, status model.OrderStatus) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE orders SET partner_id=$2, status=$3, updated_at=now(),
			picked_up_at = CASE WHEN $3 = 'PICK_UP' AND picked_up_at IS NULL THEN now() ELSE picked_up_at END
		WHERE id=$1`, orderID, partnerID, string(status))
	if err != nil {
		return fmt.Errorf("assign order %s: %w", orderID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("assign order %s: %w", orderID, ErrNotFound)
	}
	return nil
}

const partnerColumns = `id, name, status, active, lat, lng, updated_at`

func scanPartner(r rowScanner) (model.Partner, error) {
	var (
		pt       model.Partner
		name     sql.NullString
		lat, lng sql.NullFloat64
		status   string
	)
	if err := r.Scan(&pt.ID, &name, &status, &pt.Active, &lat, &lng, &pt.UpdatedAt); err != nil {
		return model.Partner{}, err
	}
	pt.Name = name.String
	pt.Status = model.PartnerStatus(status)
	if lat.Valid && lng.Valid {
		pt.Location = &model.GeoPoint{Lat: lat.Float64, Lng: lng.Float64}
	}
	return pt, nil
}

func (p *Postgres) ListPartnersByStatus(ctx context.Context, status model.PartnerStatus) ([]model.Partner, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+partnerColumns+` FROM partners WHERE status=$1 ORDER BY id`, string(status))
	if err != nil {
		return nil, fmt.Errorf("list partners: %w", err)
	}
	defer rows.Close()
	out := []model.Partner{}
	for rows.Next() {
		pt, err := scanPartner(rows)
		if err != nil {
			return nil, fmt.Errorf("list partners: scan: %w", err)
		}
		out = append(out, pt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list partners: %w", err)
	}
	return out, nil
}

func (p *Postgres) GetPartner(ctx context.Context, id string) (model.Partner, error) {
	pt, err := scanPartner(p.db.QueryRowContext(ctx, `SELECT `+partnerColumns+` FROM partners WHERE id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Partner{}, ErrNotFound
	}
	if err != nil {
		return model.Partner{}, fmt.Errorf("get partner: %w", err)
	}
	return pt, nil
}

func (p *Postgres) UpsertPartner(ctx context.Context, pt model.Partner) (model.Partner, error) {
	if pt.ID == "" {
		pt.ID = uuid.New().String()
	}
	if pt.Status == "" {
		pt.Status = model.PartnerOffline
	}
	lat, lng := pointArgs(pt.Location)
	row := p.db.QueryRowContext(ctx, `
		INSERT INTO partners (id, name, status, active, lat, lng)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (id) DO UPDATE SET
			name=EXCLUDED.name, status=EXCLUDED.status, active=EXCLUDED.active,
			lat=EXCLUDED.lat, lng=EXCLUDED.lng, updated_at=now()
		RETURNING `+partnerColumns,
		pt.ID, nullIfEmpty(pt.Name), string(pt.Status), pt.Active, lat, lng)
	out, err := scanPartner(row)
	if err != nil {
		return model.Partner{}, fmt.Errorf("upsert partner: %w", err)
	}
	return out, nil
}

func (p *Postgres) UpdatePartnerLocation(ctx context.Context, partnerID string, loc model.GeoPoint, at time.Time) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("update location: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `UPDATE partners SET lat=$2, lng=$3, updated_at=$4 WHERE id=$1`, partnerID, loc.Lat, loc.Lng, at)
	if err != nil {
		return fmt.Errorf("update location: partner: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update location %s: %w", partnerID, ErrNotFound)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO location_tracking (id, partner_id, lat, lng, recorded_at) VALUES ($1,$2,$3,$4,$5)`,
		uuid.New().String(), partnerID, loc.Lat, loc.Lng, at); err != nil {
		return fmt.Errorf("update location: history: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("update location: commit: %w", err)
	}
	return nil
}

func (p *Postgres) LatestPartnerLocation(ctx context.Context, partnerID string) (model.LocationSample, error) {
	var s model.LocationSample
	err := p.db.QueryRowContext(ctx, `
		SELECT id, partner_id, lat, lng, recorded_at FROM location_tracking
		WHERE partner_id=$1 ORDER BY recorded_at DESC LIMIT 1`, partnerID).
		Scan(&s.ID, &s.PartnerID, &s.Lat, &s.Lng, &s.RecordedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.LocationSample{}, ErrNotFound
	}
	if err != nil {
		return model.LocationSample{}, fmt.Errorf("latest location: %w", err)
	}
	return s, nil
}

func (p *Postgres) RecordSolveRun(ctx context.Context, run model.SolveRun) (model.SolveRun, error) {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO solve_runs (id, kind, problem_id, run_id, hard, soft, feasible, iterations, elapsed_ms, termination, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		run.ID, run.Kind, run.ProblemID, run.RunID, run.Hard, run.Soft, run.Feasible, run.Iterations, run.ElapsedMs, run.Termination, run.CreatedAt)
	if err != nil {
		return model.SolveRun{}, fmt.Errorf("record solve run: %w", err)
	}
	return run, nil
}

func (p *Postgres) ListSolveRuns(ctx context.Context, kind string, limit int) ([]model.SolveRun, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, kind, problem_id, run_id, hard, soft, feasible, iterations, elapsed_ms, termination, created_at
		FROM solve_runs WHERE ($1 = '' OR kind = $1) ORDER BY created_at DESC LIMIT $2`, kind, limit)
	if err != nil {
		return nil, fmt.Errorf("list solve runs: %w", err)
	}
	defer rows.Close()
	out := []model.SolveRun{}
	for rows.Next() {
		var r model.SolveRun
		if err := rows.Scan(&r.ID, &r.Kind, &r.ProblemID, &r.RunID, &r.Hard, &r.Soft, &r.Feasible, &r.Iterations, &r.ElapsedMs, &r.Termination, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("list solve runs: scan: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list solve runs: %w", err)
	}
	return out, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func pointArgs(g *model.GeoPoint) (lat, lng any) {
	if g == nil {
		return nil, nil
	}
	return g.Lat, g.Lng
}
