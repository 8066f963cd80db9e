package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/CaioWing/Fiscus/internal/auth"
	"github.com/CaioWing/Fiscus/internal/domain"
	"github.com/CaioWing/Fiscus/internal/storage"
)

type DeviceService struct {
	repo  domain.DeviceRepository
	store storage.FileStore
	now   func() time.Time
	log   *slog.Logger
}

func NewDeviceService(repo domain.DeviceRepository, store storage.FileStore, log *slog.Logger) *DeviceService {
	return &DeviceService{repo: repo, store: store, now: time.Now, log: log}
}

type CreateDeviceInput struct {
	FiscalDeviceID string `json:"fiscal_device_id"`
	SerialNumber   string `json:"serial_number"`
	Model          string `json:"model"`
}

func (s *DeviceService) Create(ctx context.Context, companyID uuid.UUID, in CreateDeviceInput) (*domain.Device, error) {
	in.FiscalDeviceID = strings.TrimSpace(in.FiscalDeviceID)
	in.SerialNumber = strings.TrimSpace(in.SerialNumber)
	in.Model = strings.TrimSpace(in.Model)

	if companyID == uuid.Nil {
		return nil, fmt.Errorf("%w: company_id is required", domain.ErrInvalidInput)
	}
	if in.FiscalDeviceID == "" {
		return nil, fmt.Errorf("%w: fiscal_device_id is required", domain.ErrInvalidInput)
	}
	if in.SerialNumber == "" {
		return nil, fmt.Errorf("%w: serial_number is required", domain.ErrInvalidInput)
	}

	device := &domain.Device{
		CompanyID:       companyID,
		FiscalDeviceID:  in.FiscalDeviceID,
		SerialNumber:    in.SerialNumber,
		Model:           in.Model,
		FiscalDayStatus: domain.FiscalDayUnregistered,
	}
	if err := s.repo.Create(ctx, device); err != nil {
		return nil, fmt.Errorf("create device: %w", err)
	}
	s.log.Info("device created", "id", device.ID, "company_id", companyID, "fiscal_device_id", device.FiscalDeviceID)
	return device, nil
}

func (s *DeviceService) GetByID(ctx context.Context, id uuid.UUID) (*domain.Device, error) {
	return s.repo.GetByID(ctx, id)
}

// ListByCompany returns the company's devices that have not been archived.
func (s *DeviceService) ListByCompany(ctx context.Context, companyID uuid.UUID) ([]*domain.Device, error) {
	return s.repo.ListByCompany(ctx, companyID)
}

// Update edits identity fields. Once a device is registered with FDMS its
// fiscal device id and serial number are fixed.
func (s *DeviceService) Update(ctx context.Context, id uuid.UUID, patch domain.DevicePatch) (*domain.Device, error) {
	device, err := s.editable(ctx, id)
	if err != nil {
		return nil, err
	}

	registered := device.FiscalDayStatus != domain.FiscalDayUnregistered && device.FiscalDayStatus != ""
	if patch.FiscalDeviceID != nil {
		v := strings.TrimSpace(*patch.FiscalDeviceID)
		if v == "" {
			return nil, fmt.Errorf("%w: fiscal_device_id cannot be empty", domain.ErrInvalidInput)
		}
		if registered && v != device.FiscalDeviceID {
			return nil, fmt.Errorf("%w: fiscal_device_id cannot change after registration", domain.ErrPreconditionFailed)
		}
		patch.FiscalDeviceID = &v
	}
	if patch.SerialNumber != nil {
		v := strings.TrimSpace(*patch.SerialNumber)
		if v == "" {
			return nil, fmt.Errorf("%w: serial_number cannot be empty", domain.ErrInvalidInput)
		}
		if registered && v != device.SerialNumber {
			return nil, fmt.Errorf("%w: serial_number cannot change after registration", domain.ErrPreconditionFailed)
		}
		patch.SerialNumber = &v
	}
	if patch.Model != nil {
		v := strings.TrimSpace(*patch.Model)
		patch.Model = &v
	}

	updated, err := s.repo.Update(ctx, id, patch)
	if err != nil {
		return nil, fmt.Errorf("update device: %w", err)
	}
	return updated, nil
}

// UploadCertificate stores a PEM certificate and private key for the device.
func (s *DeviceService) UploadCertificate(ctx context.Context, id uuid.UUID, certPEM, keyPEM []byte) (*domain.Device, error) {
	pair, err := auth.ParseKeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	return s.saveKeyPair(ctx, id, pair)
}

// UploadPKCS12 stores the key pair contained in a PKCS#12 bundle.
func (s *DeviceService) UploadPKCS12(ctx context.Context, id uuid.UUID, bundle []byte, password string) (*domain.Device, error) {
	pair, err := auth.DecodePKCS12(bundle, password)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	return s.saveKeyPair(ctx, id, pair)
}

func (s *DeviceService) saveKeyPair(ctx context.Context, id uuid.UUID, pair *auth.KeyPair) (*domain.Device, error) {
	if !pair.NotAfter.After(s.now()) {
		return nil, fmt.Errorf("%w: certificate expired on %s", domain.ErrInvalidInput, pair.NotAfter.Format(time.DateOnly))
	}

	device, err := s.editable(ctx, id)
	if err != nil {
		return nil, err
	}

	dir := path.Join("devices", device.ID.String())
	certPath, _, err := s.store.Save(path.Join(dir, "certificate.pem"), bytes.NewReader(pair.CertificatePEM))
	if err != nil {
		return nil, fmt.Errorf("store certificate: %w", err)
	}
	keyPath, _, err := s.store.Save(path.Join(dir, "private_key.pem"), bytes.NewReader(pair.PrivateKeyPEM))
	if err != nil {
		return nil, fmt.Errorf("store private key: %w", err)
	}

	info := domain.CertificateInfo{
		CertificateFile: certPath,
		PrivateKeyFile:  keyPath,
		Fingerprint:     pair.Fingerprint,
		ExpiresAt:       pair.NotAfter,
	}
	if err := s.repo.SetCertificate(ctx, id, info); err != nil {
		return nil, fmt.Errorf("save certificate info: %w", err)
	}

	s.removeStale(device.CertificateFile, certPath)
	s.removeStale(device.PrivateKeyFile, keyPath)

	s.log.Info("device certificate uploaded",
		"id", id,
		"fingerprint", pair.Fingerprint,
		"subject", pair.Subject,
		"expires_at", pair.NotAfter,
	)
	return s.repo.GetByID(ctx, id)
}

// Archive hides the device from listings and blocks further actions. The
// record and its audit trail are kept.
func (s *DeviceService) Archive(ctx context.Context, id uuid.UUID) error {
	if _, err := s.editable(ctx, id); err != nil {
		return err
	}
	if err := s.repo.Archive(ctx, id); err != nil {
		return fmt.Errorf("archive device: %w", err)
	}
	s.log.Info("device archived", "id", id)
	return nil
}

func (s *DeviceService) editable(ctx context.Context, id uuid.UUID) (*domain.Device, error) {
	device, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if device.Archived() {
		return nil, fmt.Errorf("%w: %w", domain.ErrPreconditionFailed, domain.ErrDeviceArchived)
	}
	return device, nil
}

func (s *DeviceService) removeStale(old, current string) {
	if old == "" || old == current {
		return
	}
	if err := s.store.Delete(old); err != nil && !errors.Is(err, domain.ErrNotFound) {
		s.log.Warn("failed to remove replaced certificate file", "path", old, "err", err)
	}
}
