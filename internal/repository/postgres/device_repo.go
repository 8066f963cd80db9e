package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/CaioWing/Fiscus/internal/domain"
)

const deviceColumns = `
	id, company_id, fiscal_device_id, serial_number, model,
	fiscal_day_status, current_fiscal_day_no, last_fiscal_day_no,
	last_receipt_counter, last_receipt_global_no,
	certificate_file, private_key_file, certificate_fingerprint, certificate_expires_at,
	version, archived_at, created_at, updated_at`

type DeviceRepo struct {
	pool *pgxpool.Pool
}

func NewDeviceRepo(pool *pgxpool.Pool) *DeviceRepo {
	return &DeviceRepo{pool: pool}
}

func scanDevice(row pgx.Row) (*domain.Device, error) {
	d := &domain.Device{}
	err := row.Scan(
		&d.ID, &d.CompanyID, &d.FiscalDeviceID, &d.SerialNumber, &d.Model,
		&d.FiscalDayStatus, &d.CurrentFiscalDayNo, &d.LastFiscalDayNo,
		&d.LastReceiptCounter, &d.LastReceiptGlobalNo,
		&d.CertificateFile, &d.PrivateKeyFile, &d.CertificateFingerprint, &d.CertificateExpiresAt,
		&d.Version, &d.ArchivedAt, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (r *DeviceRepo) Create(ctx context.Context, d *domain.Device) error {
	if d.FiscalDayStatus == "" {
		d.FiscalDayStatus = domain.FiscalDayUnregistered
	}
	err := r.pool.QueryRow(ctx, `
		INSERT INTO devices (company_id, fiscal_device_id, serial_number, model, fiscal_day_status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, version, created_at, updated_at
	`, d.CompanyID, d.FiscalDeviceID, d.SerialNumber, d.Model, d.FiscalDayStatus).
		Scan(&d.ID, &d.Version, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: fiscal device %s", domain.ErrConflict, d.FiscalDeviceID)
		}
		return fmt.Errorf("insert device: %w", err)
	}
	return nil
}

func (r *DeviceRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Device, error) {
	d, err := scanDevice(r.pool.QueryRow(ctx, `SELECT `+deviceColumns+` FROM devices WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get device: %w", err)
	}
	return d, nil
}

func (r *DeviceRepo) ListByCompany(ctx context.Context, companyID uuid.UUID) ([]*domain.Device, error) {
	return r.list(ctx, `
		SELECT `+deviceColumns+` FROM devices
		WHERE company_id = $1 AND archived_at IS NULL
		ORDER BY created_at
	`, companyID)
}

// ListRegistered returns every active device FDMS knows about, across companies.
func (r *DeviceRepo) ListRegistered(ctx context.Context) ([]*domain.Device, error) {
	return r.list(ctx, `
		SELECT `+deviceColumns+` FROM devices
		WHERE fiscal_day_status <> $1 AND archived_at IS NULL
		ORDER BY id
	`, domain.FiscalDayUnregistered)
}

func (r *DeviceRepo) list(ctx context.Context, query string, args ...any) ([]*domain.Device, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	defer rows.Close()

	devices := []*domain.Device{}
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scan device: %w", err)
		}
		devices = append(devices, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate devices: %w", err)
	}
	return devices, nil
}

func (r *DeviceRepo) Update(ctx context.Context, id uuid.UUID, patch domain.DevicePatch) (*domain.Device, error) {
	d, err := scanDevice(r.pool.QueryRow(ctx, `
		UPDATE devices SET
			fiscal_device_id = COALESCE($2, fiscal_device_id),
			serial_number    = COALESCE($3, serial_number),
			model            = COALESCE($4, model),
			version          = version + 1,
			updated_at       = now()
		WHERE id = $1
		RETURNING `+deviceColumns,
		id, patch.FiscalDeviceID, patch.SerialNumber, patch.Model,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: fiscal device id already in use", domain.ErrConflict)
		}
		return nil, fmt.Errorf("update device: %w", err)
	}
	return d, nil
}

// UpdateFiscalState is a compare-and-swap on version.
func (r *DeviceRepo) UpdateFiscalState(ctx context.Context, id uuid.UUID, expectedVersion int64, s domain.FiscalState) (*domain.Device, error) {
	d, err := scanDevice(r.pool.QueryRow(ctx, `
		UPDATE devices SET
			fiscal_day_status      = $3,
			current_fiscal_day_no  = $4,
			last_fiscal_day_no     = $5,
			last_receipt_counter   = $6,
			last_receipt_global_no = $7,
			version                = version + 1,
			updated_at             = now()
		WHERE id = $1 AND version = $2
		RETURNING `+deviceColumns,
		id, expectedVersion, s.FiscalDayStatus, s.CurrentFiscalDayNo, s.LastFiscalDayNo,
		s.LastReceiptCounter, s.LastReceiptGlobalNo,
	))
	if err == nil {
		return d, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("update fiscal state: %w", err)
	}

	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM devices WHERE id = $1)`, id).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check device: %w", err)
	}
	if !exists {
		return nil, domain.ErrNotFound
	}
	return nil, fmt.Errorf("%w: device %s changed since version %d", domain.ErrConflict, id, expectedVersion)
}

func (r *DeviceRepo) SetCertificate(ctx context.Context, id uuid.UUID, cert domain.CertificateInfo) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE devices SET
			certificate_file        = $2,
			private_key_file        = $3,
			certificate_fingerprint = $4,
			certificate_expires_at  = $5,
			version                 = version + 1,
			updated_at              = now()
		WHERE id = $1
	`, id, cert.CertificateFile, cert.PrivateKeyFile, cert.Fingerprint, cert.ExpiresAt)
	if err != nil {
		return fmt.Errorf("set certificate: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *DeviceRepo) Archive(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE devices SET archived_at = now(), version = version + 1, updated_at = now()
		WHERE id = $1 AND archived_at IS NULL
	`, id)
	if err != nil {
		return fmt.Errorf("archive device: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
