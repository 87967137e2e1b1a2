package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/example/servicebook/internal/booking/domain"
)

// Schema creates the bookings table. Booking ids come from a sequence and are never reused.
const Schema = `CREATE TABLE IF NOT EXISTS bookings (
id BIGSERIAL PRIMARY KEY,
customer_id TEXT NOT NULL,
vendor_id TEXT,
service TEXT NOT NULL,
job_description TEXT NOT NULL,
date TEXT NOT NULL,
time TEXT NOT NULL,
latitude DOUBLE PRECISION NOT NULL,
longitude DOUBLE PRECISION NOT NULL,
address TEXT NOT NULL,
status TEXT NOT NULL,
otp INTEGER,
distance_km DOUBLE PRECISION,
external_vendor JSONB,
rejected_by JSONB NOT NULL DEFAULT '[]',
rejection_reason TEXT NOT NULL DEFAULT '',
created_at TIMESTAMPTZ NOT NULL,
updated_at TIMESTAMPTZ NOT NULL,
version BIGINT NOT NULL DEFAULT 1
);
CREATE INDEX IF NOT EXISTS bookings_customer_idx ON bookings (customer_id, created_at DESC);
CREATE INDEX IF NOT EXISTS bookings_vendor_idx ON bookings (vendor_id, created_at DESC)`

const bookingColumns = `id, customer_id, vendor_id, service, job_description, date, time, latitude, longitude, address,
status, otp, distance_km, external_vendor, rejected_by, rejection_reason, created_at, updated_at, version`

// PostgresRepository stores bookings through database/sql with the pgx driver.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository wraps an open database handle.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Migrate applies Schema.
func (r *PostgresRepository) Migrate(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("migrate bookings: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Create(ctx context.Context, b domain.Booking) (domain.Booking, error) {
	external, rejected, err := encodeJSONColumns(b)
	if err != nil {
		return domain.Booking{}, err
	}
	b.Version = 1
	row := r.db.QueryRowContext(ctx, `INSERT INTO bookings (customer_id, vendor_id, service, job_description, date, time,
latitude, longitude, address, status, otp, distance_km, external_vendor, rejected_by, rejection_reason, created_at, updated_at, version)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18) RETURNING id`,
		b.CustomerID, nullString(b.VendorID), b.Service, b.JobDescription, b.Date, b.Time,
		b.Location.Latitude, b.Location.Longitude, b.Location.Address, string(b.Status),
		nullInt(b.OTP), nullFloat(b.DistanceKm), external, rejected, b.RejectionReason,
		b.CreatedAt, b.UpdatedAt, b.Version,
	)
	if err := row.Scan(&b.ID); err != nil {
		return domain.Booking{}, fmt.Errorf("insert booking: %w", err)
	}
	return b, nil
}

func (r *PostgresRepository) Get(ctx context.Context, id int64) (domain.Booking, error) {
	b, err := scanBooking(r.db.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Booking{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Booking{}, fmt.Errorf("select booking: %w", err)
	}
	return b, nil
}

func (r *PostgresRepository) Update(ctx context.Context, b domain.Booking) (domain.Booking, error) {
	external, rejected, err := encodeJSONColumns(b)
	if err != nil {
		return domain.Booking{}, err
	}
	var version int64
	err = r.db.QueryRowContext(ctx, `UPDATE bookings SET vendor_id = $3, status = $4, otp = $5, distance_km = $6,
external_vendor = $7, rejected_by = $8, rejection_reason = $9, updated_at = $10, version = version + 1
WHERE id = $1 AND version = $2 RETURNING version`,
		b.ID, b.Version, nullString(b.VendorID), string(b.Status), nullInt(b.OTP), nullFloat(b.DistanceKm),
		external, rejected, b.RejectionReason, b.UpdatedAt,
	).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		if _, getErr := r.Get(ctx, b.ID); getErr != nil {
			return domain.Booking{}, getErr
		}
		return domain.Booking{}, domain.ErrStaleBooking
	}
	if err != nil {
		return domain.Booking{}, fmt.Errorf("update booking: %w", err)
	}
	b.Version = version
	return b, nil
}

func (r *PostgresRepository) ListByCustomer(ctx context.Context, customerID string, q domain.ListQuery) ([]domain.Booking, error) {
	return r.list(ctx, "customer_id", customerID, q)
}

func (r *PostgresRepository) ListByVendor(ctx context.Context, vendorID string, q domain.ListQuery) ([]domain.Booking, error) {
	return r.list(ctx, "vendor_id", vendorID, q)
}

func (r *PostgresRepository) list(ctx context.Context, column, value string, q domain.ListQuery) ([]domain.Booking, error) {
	var sb strings.Builder
	args := []any{value}
	sb.WriteString(`SELECT ` + bookingColumns + ` FROM bookings WHERE ` + column + ` = $1`)
	if q.Status != "" {
		args = append(args, string(q.Status))
		fmt.Fprintf(&sb, " AND status = $%d", len(args))
	}
	sb.WriteString(" ORDER BY created_at DESC, id DESC")
	if q.Limit > 0 {
		args = append(args, q.Limit)
		fmt.Fprintf(&sb, " LIMIT $%d", len(args))
	}
	rows, err := r.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("select bookings: %w", err)
	}
	defer rows.Close()
	var out []domain.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("scan booking: %w", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bookings: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBooking(row rowScanner) (domain.Booking, error) {
	var (
		b        domain.Booking
		status   string
		vendorID sql.NullString
		otp      sql.NullInt64
		distance sql.NullFloat64
		external []byte
		rejected []byte
	)
	err := row.Scan(&b.ID, &b.CustomerID, &vendorID, &b.Service, &b.JobDescription, &b.Date, &b.Time,
		&b.Location.Latitude, &b.Location.Longitude, &b.Location.Address,
		&status, &otp, &distance, &external, &rejected, &b.RejectionReason, &b.CreatedAt, &b.UpdatedAt, &b.Version)
	if err != nil {
		return domain.Booking{}, err
	}
	b.Status = domain.Status(status)
	if vendorID.Valid {
		v := vendorID.String
		b.VendorID = &v
	}
	if otp.Valid {
		o := int(otp.Int64)
		b.OTP = &o
	}
	if distance.Valid {
		d := distance.Float64
		b.DistanceKm = &d
	}
	if len(external) > 0 {
		var ev domain.ExternalVendor
		if err := json.Unmarshal(external, &ev); err != nil {
			return domain.Booking{}, fmt.Errorf("decode external vendor: %w", err)
		}
		b.ExternalVendor = &ev
	}
	if len(rejected) > 0 {
		if err := json.Unmarshal(rejected, &b.RejectedBy); err != nil {
			return domain.Booking{}, fmt.Errorf("decode rejected_by: %w", err)
		}
		if len(b.RejectedBy) == 0 {
			b.RejectedBy = nil
		}
	}
	return b, nil
}

func encodeJSONColumns(b domain.Booking) (any, string, error) {
	var external any
	if b.ExternalVendor != nil {
		raw, err := json.Marshal(b.ExternalVendor)
		if err != nil {
			return nil, "", fmt.Errorf("encode external vendor: %w", err)
		}
		external = string(raw)
	}
	rejectedBy := b.RejectedBy
	if rejectedBy == nil {
		rejectedBy = []string{}
	}
	rejected, err := json.Marshal(rejectedBy)
	if err != nil {
		return nil, "", fmt.Errorf("encode rejected_by: %w", err)
	}
	return external, string(rejected), nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullInt(i *int) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*i), Valid: true}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}
