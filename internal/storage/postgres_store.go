package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/example/blood-matching/internal/apperr"
	"github.com/example/blood-matching/internal/models"
)

// OpenPostgres opens and pings a connection pool.
func OpenPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const requestColumns = `id, type, requester_id, requester_kind, requester_name, target_kind, target_id, target_name,
	blood_group, units, status, priority, state, city, lat, lon, donor_id, donor_name, payment_ref,
	contact, notes, created_at, updated_at`

func (p *PostgresStore) SaveRequest(ctx context.Context, r *models.BloodRequest) error {
	var lat, lon sql.NullFloat64
	if r.Location != nil {
		lat = sql.NullFloat64{Float64: r.Location.Lat, Valid: true}
		lon = sql.NullFloat64{Float64: r.Location.Lon, Valid: true}
	}
	_, err := p.db.ExecContext(ctx, `INSERT INTO blood_requests(`+requestColumns+`)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23)`,
		r.ID, r.Type, r.RequesterID, r.RequesterKind, r.RequesterName, r.TargetKind, r.TargetID, r.TargetName,
		r.BloodGroup, r.Units, r.Status, r.Priority, r.Region.State, r.Region.City, lat, lon,
		r.DonorID, r.DonorName, r.PaymentRef, r.Contact, r.Notes, r.CreatedAt, r.UpdatedAt)
	return apperr.Storage("save request", err)
}

func (p *PostgresStore) GetRequest(ctx context.Context, id string) (*models.BloodRequest, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM blood_requests WHERE id = $1`, id)
	r, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("request", id)
	}
	if err != nil {
		return nil, apperr.Storage("get request", err)
	}
	return r, nil
}

func (p *PostgresStore) UpdateRequest(ctx context.Context, r *models.BloodRequest, expected models.Status) error {
	res, err := p.db.ExecContext(ctx, `UPDATE blood_requests
		SET status = $1, donor_id = $2, donor_name = $3, payment_ref = $4, updated_at = $5
		WHERE id = $6 AND status = $7`,
		r.Status, r.DonorID, r.DonorName, r.PaymentRef, r.UpdatedAt, r.ID, expected)
	if err != nil {
		return apperr.Storage("update request", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apperr.Storage("update request", err)
	}
	if n == 1 {
		return nil
	}
	var current models.Status
	err = p.db.QueryRowContext(ctx, `SELECT status FROM blood_requests WHERE id = $1`, r.ID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.NotFound("request", r.ID)
	}
	if err != nil {
		return apperr.Storage("update request", err)
	}
	return apperr.Conflict("request %s is %s, expected %s", r.ID, current, expected)
}

func (p *PostgresStore) ListByRequester(ctx context.Context, requesterID string) ([]*models.BloodRequest, error) {
	return p.list(ctx, `WHERE requester_id = $1`, requesterID)
}

func (p *PostgresStore) ListByTarget(ctx context.Context, kind models.PartyKind, targetID string) ([]*models.BloodRequest, error) {
	return p.list(ctx, `WHERE target_kind = $1 AND target_id = $2`, kind, targetID)
}

func (p *PostgresStore) ListPendingBroadcasts(ctx context.Context, state string) ([]*models.BloodRequest, error) {
	return p.list(ctx, `WHERE type = $1 AND status = $2 AND lower(state) = lower($3)`,
		models.TypeBroadcast, models.StatusPending, state)
}

func (p *PostgresStore) ListByDonor(ctx context.Context, donorID string) ([]*models.BloodRequest, error) {
	return p.list(ctx, `WHERE donor_id = $1`, donorID)
}

func (p *PostgresStore) LatestFulfilledByDonor(ctx context.Context, donorID string) (*time.Time, error) {
	var latest sql.NullTime
	err := p.db.QueryRowContext(ctx, `SELECT max(updated_at) FROM blood_requests
		WHERE donor_id = $1 AND status IN ($2, $3, $4)`,
		donorID, models.StatusApproved, models.StatusDelivering, models.StatusCompleted).Scan(&latest)
	if err != nil {
		return nil, apperr.Storage("latest donation", err)
	}
	if !latest.Valid {
		return nil, nil
	}
	return &latest.Time, nil
}

func (p *PostgresStore) list(ctx context.Context, where string, args ...any) ([]*models.BloodRequest, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+requestColumns+` FROM blood_requests `+where+` ORDER BY created_at DESC, id`, args...)
	if err != nil {
		return nil, apperr.Storage("list requests", err)
	}
	defer rows.Close()
	out := make([]*models.BloodRequest, 0)
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, apperr.Storage("scan request", err)
		}
		out = append(out, r)
	}
	return out, apperr.Storage("list requests", rows.Err())
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRequest(s scanner) (*models.BloodRequest, error) {
	var (
		r        models.BloodRequest
		lat, lon sql.NullFloat64
	)
	err := s.Scan(&r.ID, &r.Type, &r.RequesterID, &r.RequesterKind, &r.RequesterName, &r.TargetKind, &r.TargetID, &r.TargetName,
		&r.BloodGroup, &r.Units, &r.Status, &r.Priority, &r.Region.State, &r.Region.City, &lat, &lon,
		&r.DonorID, &r.DonorName, &r.PaymentRef, &r.Contact, &r.Notes, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if lat.Valid && lon.Valid {
		r.Location = &models.Coord{Lat: lat.Float64, Lon: lon.Float64}
	}
	return &r, nil
}
