package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"

	"github.com/example/blood-matching/internal/apperr"
	"github.com/example/blood-matching/internal/models"
)

// pq error code for foreign_key_violation.
const fkViolation = "23503"

type PostgresDirectory struct {
	db *sql.DB
}

func NewPostgresDirectory(db *sql.DB) *PostgresDirectory {
	return &PostgresDirectory{db: db}
}

func (p *PostgresDirectory) GetPatient(ctx context.Context, id string) (*models.Patient, error) {
	var pt models.Patient
	err := p.db.QueryRowContext(ctx, `SELECT id, name, email, blood_group, state, city, contact FROM patients WHERE id = $1`, id).
		Scan(&pt.ID, &pt.Name, &pt.Email, &pt.BloodGroup, &pt.Region.State, &pt.Region.City, &pt.Contact)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("patient", id)
	}
	if err != nil {
		return nil, apperr.Storage("get patient", err)
	}
	return &pt, nil
}

const donorColumns = `id, name, email, blood_group, state, city, availability, last_donation`

func (p *PostgresDirectory) GetDonor(ctx context.Context, id string) (*models.Donor, error) {
	d, err := scanDonor(p.db.QueryRowContext(ctx, `SELECT `+donorColumns+` FROM donors WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("donor", id)
	}
	if err != nil {
		return nil, apperr.Storage("get donor", err)
	}
	return d, nil
}

func (p *PostgresDirectory) DonorsInRegion(ctx context.Context, region models.Region) ([]*models.Donor, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+donorColumns+` FROM donors
		WHERE lower(state) = lower($1) AND ($2 = '' OR lower(city) = lower($2))`, region.State, region.City)
	if err != nil {
		return nil, apperr.Storage("donors in region", err)
	}
	defer rows.Close()
	out := make([]*models.Donor, 0)
	for rows.Next() {
		d, err := scanDonor(rows)
		if err != nil {
			return nil, apperr.Storage("scan donor", err)
		}
		out = append(out, d)
	}
	return out, apperr.Storage("donors in region", rows.Err())
}

func scanDonor(s scanner) (*models.Donor, error) {
	var (
		d    models.Donor
		last sql.NullTime
	)
	if err := s.Scan(&d.ID, &d.Name, &d.Email, &d.BloodGroup, &d.Region.State, &d.Region.City, &d.Availability, &last); err != nil {
		return nil, err
	}
	if last.Valid {
		d.LastDonation = &last.Time
	}
	return &d, nil
}

const hospitalColumns = `id, name, email, state, city, address, contact, lat, lon, location_updates_left`

func (p *PostgresDirectory) GetHospital(ctx context.Context, id string) (*models.Hospital, error) {
	hs, err := p.hospitals(ctx, `WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	if len(hs) == 0 {
		return nil, apperr.NotFound("hospital", id)
	}
	return hs[0], nil
}

func (p *PostgresDirectory) HospitalsInRegion(ctx context.Context, region models.Region) ([]*models.Hospital, error) {
	return p.hospitals(ctx, `WHERE lower(state) = lower($1) AND ($2 = '' OR lower(city) = lower($2))`, region.State, region.City)
}

func (p *PostgresDirectory) HospitalsByID(ctx context.Context, ids []string) ([]*models.Hospital, error) {
	if len(ids) == 0 {
		return []*models.Hospital{}, nil
	}
	return p.hospitals(ctx, `WHERE id = ANY($1)`, pq.Array(ids))
}

func (p *PostgresDirectory) LocatedHospitals(ctx context.Context) ([]models.HospitalLocation, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id, lat, lon FROM hospitals WHERE lat IS NOT NULL AND lon IS NOT NULL ORDER BY id`)
	if err != nil {
		return nil, apperr.Storage("list located hospitals", err)
	}
	defer rows.Close()
	out := make([]models.HospitalLocation, 0)
	for rows.Next() {
		var l models.HospitalLocation
		if err := rows.Scan(&l.HospitalID, &l.Loc.Lat, &l.Loc.Lon); err != nil {
			return nil, apperr.Storage("scan hospital location", err)
		}
		out = append(out, l)
	}
	return out, apperr.Storage("list located hospitals", rows.Err())
}

// hospitals loads hospital rows and then their stock in one extra query.
func (p *PostgresDirectory) hospitals(ctx context.Context, where string, args ...any) ([]*models.Hospital, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+hospitalColumns+` FROM hospitals `+where, args...)
	if err != nil {
		return nil, apperr.Storage("list hospitals", err)
	}
	defer rows.Close()
	out := make([]*models.Hospital, 0)
	byID := make(map[string]*models.Hospital)
	ids := make([]string, 0)
	for rows.Next() {
		var (
			h        models.Hospital
			lat, lon sql.NullFloat64
		)
		if err := rows.Scan(&h.ID, &h.Name, &h.Email, &h.Region.State, &h.Region.City, &h.Address, &h.Contact,
			&lat, &lon, &h.LocationUpdatesLeft); err != nil {
			return nil, apperr.Storage("scan hospital", err)
		}
		if lat.Valid && lon.Valid {
			h.Location = &models.Coord{Lat: lat.Float64, Lon: lon.Float64}
		}
		h.BloodStock = make(map[models.BloodGroup]int)
		out = append(out, &h)
		byID[h.ID] = &h
		ids = append(ids, h.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Storage("list hospitals", err)
	}
	if len(ids) == 0 {
		return out, nil
	}

	stock, err := p.db.QueryContext(ctx, `SELECT hospital_id, blood_group, units FROM hospital_stock WHERE hospital_id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return nil, apperr.Storage("load stock", err)
	}
	defer stock.Close()
	for stock.Next() {
		var (
			id    string
			group models.BloodGroup
			units int
		)
		if err := stock.Scan(&id, &group, &units); err != nil {
			return nil, apperr.Storage("scan stock", err)
		}
		if h, ok := byID[id]; ok {
			h.BloodStock[group] = units
		}
	}
	return out, apperr.Storage("load stock", stock.Err())
}

func (p *PostgresDirectory) AdjustStock(ctx context.Context, hospitalID string, group models.BloodGroup, delta int) (int, error) {
	var units int
	var err error
	if delta >= 0 {
		err = p.db.QueryRowContext(ctx, `INSERT INTO hospital_stock(hospital_id, blood_group, units) VALUES($1, $2, $3)
			ON CONFLICT (hospital_id, blood_group) DO UPDATE SET units = hospital_stock.units + EXCLUDED.units
			RETURNING units`, hospitalID, group, delta).Scan(&units)
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == fkViolation {
			return 0, apperr.NotFound("hospital", hospitalID)
		}
		return units, apperr.Storage("adjust stock", err)
	}

	err = p.db.QueryRowContext(ctx, `UPDATE hospital_stock SET units = units + $3
		WHERE hospital_id = $1 AND blood_group = $2 AND units + $3 >= 0
		RETURNING units`, hospitalID, group, delta).Scan(&units)
	if err == nil {
		return units, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, apperr.Storage("adjust stock", err)
	}

	// Nothing updated: either the hospital is unknown or the stock is short.
	var current int
	err = p.db.QueryRowContext(ctx, `SELECT COALESCE(s.units, 0) FROM hospitals h
		LEFT JOIN hospital_stock s ON s.hospital_id = h.id AND s.blood_group = $2
		WHERE h.id = $1`, hospitalID, group).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, apperr.NotFound("hospital", hospitalID)
	}
	if err != nil {
		return 0, apperr.Storage("adjust stock", err)
	}
	return current, apperr.InsufficientStock(hospitalID, string(group), current, -delta)
}

func (p *PostgresDirectory) RecordDonation(ctx context.Context, donorID string, at time.Time) error {
	res, err := p.db.ExecContext(ctx, `UPDATE donors SET last_donation = $2 WHERE id = $1`, donorID, at)
	if err != nil {
		return apperr.Storage("record donation", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return apperr.Storage("record donation", err)
	} else if n == 0 {
		return apperr.NotFound("donor", donorID)
	}
	return nil
}

func (p *PostgresDirectory) UpdateHospitalLocation(ctx context.Context, hospitalID string, loc models.Coord) (int, error) {
	var left int
	err := p.db.QueryRowContext(ctx, `UPDATE hospitals SET lat = $2, lon = $3, location_updates_left = location_updates_left - 1
		WHERE id = $1 AND location_updates_left > 0
		RETURNING location_updates_left`, hospitalID, loc.Lat, loc.Lon).Scan(&left)
	if err == nil {
		return left, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, apperr.Storage("update location", err)
	}
	var exists bool
	if err := p.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM hospitals WHERE id = $1)`, hospitalID).Scan(&exists); err != nil {
		return 0, apperr.Storage("update location", err)
	}
	if !exists {
		return 0, apperr.NotFound("hospital", hospitalID)
	}
	return 0, apperr.Validation("hospital %s has no location updates left", hospitalID)
}

func (p *PostgresDirectory) UpsertPatient(ctx context.Context, pt *models.Patient) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO patients(id, name, email, blood_group, state, city, contact)
		VALUES($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, email = EXCLUDED.email, blood_group = EXCLUDED.blood_group,
			state = EXCLUDED.state, city = EXCLUDED.city, contact = EXCLUDED.contact`,
		pt.ID, pt.Name, pt.Email, pt.BloodGroup, pt.Region.State, pt.Region.City, pt.Contact)
	return apperr.Storage("upsert patient", err)
}

func (p *PostgresDirectory) UpsertDonor(ctx context.Context, d *models.Donor) error {
	var last sql.NullTime
	if d.LastDonation != nil {
		last = sql.NullTime{Time: *d.LastDonation, Valid: true}
	}
	_, err := p.db.ExecContext(ctx, `INSERT INTO donors(`+donorColumns+`)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, email = EXCLUDED.email, blood_group = EXCLUDED.blood_group,
			state = EXCLUDED.state, city = EXCLUDED.city, availability = EXCLUDED.availability, last_donation = EXCLUDED.last_donation`,
		d.ID, d.Name, d.Email, d.BloodGroup, d.Region.State, d.Region.City, d.Availability, last)
	return apperr.Storage("upsert donor", err)
}

// UpsertHospital replaces the hospital row and its whole stock table in one transaction.
func (p *PostgresDirectory) UpsertHospital(ctx context.Context, h *models.Hospital) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return apperr.Storage("upsert hospital", err)
	}
	defer func() { _ = tx.Rollback() }()

	var lat, lon sql.NullFloat64
	if h.Location != nil {
		lat = sql.NullFloat64{Float64: h.Location.Lat, Valid: true}
		lon = sql.NullFloat64{Float64: h.Location.Lon, Valid: true}
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO hospitals(`+hospitalColumns+`)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, email = EXCLUDED.email, state = EXCLUDED.state,
			city = EXCLUDED.city, address = EXCLUDED.address, contact = EXCLUDED.contact, lat = EXCLUDED.lat,
			lon = EXCLUDED.lon, location_updates_left = EXCLUDED.location_updates_left`,
		h.ID, h.Name, h.Email, h.Region.State, h.Region.City, h.Address, h.Contact, lat, lon, h.LocationUpdatesLeft); err != nil {
		return apperr.Storage("upsert hospital", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM hospital_stock WHERE hospital_id = $1`, h.ID); err != nil {
		return apperr.Storage("upsert hospital", err)
	}
	for group, units := range h.BloodStock {
		if _, err := tx.ExecContext(ctx, `INSERT INTO hospital_stock(hospital_id, blood_group, units) VALUES($1, $2, $3)`,
			h.ID, group, units); err != nil {
			return apperr.Storage("upsert hospital", err)
		}
	}
	return apperr.Storage("upsert hospital", tx.Commit())
}
