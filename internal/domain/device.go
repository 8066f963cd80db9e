package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// FiscalDayStatus is the locally cached fiscal-day status. Values outside the
// three known ones are FDMS states passed through unchanged.
type FiscalDayStatus string

const (
	FiscalDayUnregistered FiscalDayStatus = "unregistered"
	FiscalDayOpen         FiscalDayStatus = "open"
	FiscalDayClosed       FiscalDayStatus = "closed"
)

type Device struct {
	ID             uuid.UUID `json:"id"`
	CompanyID      uuid.UUID `json:"company_id"`
	FiscalDeviceID string    `json:"fiscal_device_id"`
	SerialNumber   string    `json:"serial_number"`
	Model          string    `json:"model"`

	FiscalDayStatus     FiscalDayStatus `json:"fiscal_day_status"`
	CurrentFiscalDayNo  int64           `json:"current_fiscal_day_no"`
	LastFiscalDayNo     int64           `json:"last_fiscal_day_no"`
	LastReceiptCounter  int64           `json:"last_receipt_counter"`
	LastReceiptGlobalNo int64           `json:"last_receipt_global_no"`

	CertificateFile        string     `json:"-"`
	PrivateKeyFile         string     `json:"-"`
	CertificateFingerprint string     `json:"certificate_fingerprint,omitempty"`
	CertificateExpiresAt   *time.Time `json:"certificate_expires_at,omitempty"`

	Version    int64      `json:"version"`
	ArchivedAt *time.Time `json:"archived_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// HasCertificate reports whether both halves of the client credential are on file.
func (d *Device) HasCertificate() bool {
	return d.CertificateFile != "" && d.PrivateKeyFile != ""
}

func (d *Device) Archived() bool {
	return d.ArchivedAt != nil
}

// DevicePatch carries operator-editable identity fields. Nil fields are left as is.
type DevicePatch struct {
	FiscalDeviceID *string
	SerialNumber   *string
	Model          *string
}

// FiscalState is the cached lifecycle portion of a device written back after
// reconciliation.
type FiscalState struct {
	FiscalDayStatus     FiscalDayStatus
	CurrentFiscalDayNo  int64
	LastFiscalDayNo     int64
	LastReceiptCounter  int64
	LastReceiptGlobalNo int64
}

func (d *Device) FiscalState() FiscalState {
	return FiscalState{
		FiscalDayStatus:     d.FiscalDayStatus,
		CurrentFiscalDayNo:  d.CurrentFiscalDayNo,
		LastFiscalDayNo:     d.LastFiscalDayNo,
		LastReceiptCounter:  d.LastReceiptCounter,
		LastReceiptGlobalNo: d.LastReceiptGlobalNo,
	}
}

type CertificateInfo struct {
	CertificateFile string
	PrivateKeyFile  string
	Fingerprint     string
	ExpiresAt       time.Time
}

type DeviceRepository interface {
	Create(ctx context.Context, device *Device) error
	GetByID(ctx context.Context, id uuid.UUID) (*Device, error)
	ListByCompany(ctx context.Context, companyID uuid.UUID) ([]*Device, error)
	ListRegistered(ctx context.Context) ([]*Device, error)
	Update(ctx context.Context, id uuid.UUID, patch DevicePatch) (*Device, error)
	// UpdateFiscalState writes state only if the stored version still equals
	// expectedVersion, returning ErrConflict otherwise.
	UpdateFiscalState(ctx context.Context, id uuid.UUID, expectedVersion int64, state FiscalState) (*Device, error)
	SetCertificate(ctx context.Context, id uuid.UUID, cert CertificateInfo) error
	Archive(ctx context.Context, id uuid.UUID) error
}
