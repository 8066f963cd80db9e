package service

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/CaioWing/Fiscus/internal/domain"
	"github.com/CaioWing/Fiscus/internal/fdms"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func int64Ptr(v int64) *int64 {
	return &v
}

// --- Mock Device Repository ---

type mockDeviceRepo struct {
	mu      sync.RWMutex
	devices map[uuid.UUID]*domain.Device
	// conflicts makes the next n UpdateFiscalState calls fail with ErrConflict.
	conflicts   int
	updateErr   error
	stateWrites int
}

func newMockDeviceRepo() *mockDeviceRepo {
	return &mockDeviceRepo{devices: make(map[uuid.UUID]*domain.Device)}
}

func (m *mockDeviceRepo) put(d *domain.Device) *domain.Device {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	if d.Version == 0 {
		d.Version = 1
	}
	cp := *d
	m.devices[d.ID] = &cp
	return d
}

func (m *mockDeviceRepo) get(id uuid.UUID) domain.Device {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return *m.devices[id]
}

func (m *mockDeviceRepo) Create(_ context.Context, d *domain.Device) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.devices {
		if existing.FiscalDeviceID == d.FiscalDeviceID {
			return domain.ErrConflict
		}
	}
	d.ID = uuid.New()
	d.Version = 1
	d.CreatedAt = time.Now()
	d.UpdatedAt = d.CreatedAt
	cp := *d
	m.devices[d.ID] = &cp
	return nil
}

func (m *mockDeviceRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.Device, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if d, ok := m.devices[id]; ok {
		cp := *d
		return &cp, nil
	}
	return nil, domain.ErrNotFound
}

func (m *mockDeviceRepo) ListByCompany(_ context.Context, companyID uuid.UUID) ([]*domain.Device, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*domain.Device
	for _, d := range m.devices {
		if d.CompanyID == companyID && !d.Archived() {
			cp := *d
			result = append(result, &cp)
		}
	}
	return result, nil
}

func (m *mockDeviceRepo) ListRegistered(_ context.Context) ([]*domain.Device, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*domain.Device
	for _, d := range m.devices {
		if d.FiscalDayStatus != domain.FiscalDayUnregistered && !d.Archived() {
			cp := *d
			result = append(result, &cp)
		}
	}
	return result, nil
}

func (m *mockDeviceRepo) Update(_ context.Context, id uuid.UUID, patch domain.DevicePatch) (*domain.Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.devices[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if patch.FiscalDeviceID != nil {
		d.FiscalDeviceID = *patch.FiscalDeviceID
	}
	if patch.SerialNumber != nil {
		d.SerialNumber = *patch.SerialNumber
	}
	if patch.Model != nil {
		d.Model = *patch.Model
	}
	d.Version++
	cp := *d
	return &cp, nil
}

func (m *mockDeviceRepo) UpdateFiscalState(_ context.Context, id uuid.UUID, expectedVersion int64, s domain.FiscalState) (*domain.Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return nil, m.updateErr
	}
	d, ok := m.devices[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if m.conflicts > 0 {
		m.conflicts--
		d.Version++
		return nil, domain.ErrConflict
	}
	if d.Version != expectedVersion {
		return nil, domain.ErrConflict
	}
	d.FiscalDayStatus = s.FiscalDayStatus
	d.CurrentFiscalDayNo = s.CurrentFiscalDayNo
	d.LastFiscalDayNo = s.LastFiscalDayNo
	d.LastReceiptCounter = s.LastReceiptCounter
	d.LastReceiptGlobalNo = s.LastReceiptGlobalNo
	d.Version++
	m.stateWrites++
	cp := *d
	return &cp, nil
}

func (m *mockDeviceRepo) SetCertificate(_ context.Context, id uuid.UUID, cert domain.CertificateInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.devices[id]
	if !ok {
		return domain.ErrNotFound
	}
	expires := cert.ExpiresAt
	d.CertificateFile = cert.CertificateFile
	d.PrivateKeyFile = cert.PrivateKeyFile
	d.CertificateFingerprint = cert.Fingerprint
	d.CertificateExpiresAt = &expires
	d.Version++
	return nil
}

func (m *mockDeviceRepo) Archive(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.devices[id]
	if !ok {
		return domain.ErrNotFound
	}
	now := time.Now()
	d.ArchivedAt = &now
	d.Version++
	return nil
}

// --- Mock Audit Repository ---

type mockAuditRepo struct {
	mu      sync.Mutex
	entries []*domain.AuditEntry
	// failures makes the next n Create calls fail.
	failures int
	attempts int
}

func newMockAuditRepo() *mockAuditRepo {
	return &mockAuditRepo{}
}

func (m *mockAuditRepo) Create(_ context.Context, e *domain.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts++
	if m.failures > 0 {
		m.failures--
		return errors.New("connection refused")
	}
	e.ID = uuid.New()
	e.CreatedAt = time.Now()
	m.entries = append(m.entries, e)
	return nil
}

func (m *mockAuditRepo) List(_ context.Context, f domain.AuditFilter) ([]*domain.AuditEntry, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*domain.AuditEntry
	for i := len(m.entries) - 1; i >= 0; i-- {
		e := m.entries[i]
		if f.ResourceReference != nil && e.ResourceReference != *f.ResourceReference {
			continue
		}
		if f.ResourceType != nil && e.ResourceType != *f.ResourceType {
			continue
		}
		result = append(result, e)
	}
	total := len(result)
	if f.PerPage > 0 && len(result) > f.PerPage {
		result = result[:f.PerPage]
	}
	return result, total, nil
}

func (m *mockAuditRepo) all() []*domain.AuditEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*domain.AuditEntry(nil), m.entries...)
}

// --- Mock File Store ---

type mockFileStore struct {
	mu    sync.RWMutex
	files map[string][]byte
}

func newMockFileStore() *mockFileStore {
	return &mockFileStore{files: make(map[string][]byte)}
}

func (m *mockFileStore) Save(name string, reader io.Reader) (string, int64, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return "", 0, err
	}
	path := "/mock/storage/" + name
	m.mu.Lock()
	m.files[path] = data
	m.mu.Unlock()
	return path, int64(len(data)), nil
}

func (m *mockFileStore) Open(path string) (io.ReadCloser, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.files[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *mockFileStore) Delete(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.files, path)
	return nil
}

// --- Mock FDMS Gateway ---

// mockGateway simulates the remote fiscal day state of a single device.
type mockGateway struct {
	mu     sync.Mutex
	remote domain.StatusSnapshot
	calls  map[string]int
	errs   map[string]error
	// hang makes the named operation wait for its context to end.
	hang map[string]bool
	// gate, when set, blocks open-day until it is closed; entered is
	// signalled once the call is waiting.
	gate    chan struct{}
	entered chan struct{}
	// statusGate blocks only the next status call, after it has read the
	// remote state; statusEntered is signalled once it is waiting.
	statusGate    chan struct{}
	statusEntered chan struct{}

	lastOpen  fdms.OpenDayRequest
	lastClose fdms.CloseDayRequest
	lastCert  string
}

func newMockGateway(remote domain.StatusSnapshot) *mockGateway {
	return &mockGateway{
		remote: remote,
		calls:  make(map[string]int),
		errs:   make(map[string]error),
		hang:   make(map[string]bool),
	}
}

func (m *mockGateway) begin(ctx context.Context, op string) error {
	m.mu.Lock()
	m.calls[op]++
	err := m.errs[op]
	hang := m.hang[op]
	m.mu.Unlock()

	if hang {
		<-ctx.Done()
		return ctx.Err()
	}
	return err
}

func (m *mockGateway) count(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

func (m *mockGateway) total() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		n += c
	}
	return n
}

func (m *mockGateway) snapshot() *domain.StatusSnapshot {
	s := m.remote
	return &s
}

func (m *mockGateway) Register(ctx context.Context, _ fdms.DeviceRef, req fdms.RegisterRequest) (*domain.StatusSnapshot, error) {
	if err := m.begin(ctx, "register"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastCert = req.CertificatePEM
	m.remote.FiscalDayStatus = domain.FDMSFiscalDayClosed
	m.remote.OperationID = "0HMPH9AF0QKKE:00000001"
	return m.snapshot(), nil
}

func (m *mockGateway) Status(ctx context.Context, _ fdms.DeviceRef) (*domain.StatusSnapshot, error) {
	if err := m.begin(ctx, "status"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	snap := m.snapshot()
	gate := m.statusGate
	m.statusGate = nil
	m.mu.Unlock()

	if gate != nil {
		if m.statusEntered != nil {
			m.statusEntered <- struct{}{}
		}
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return snap, nil
}

func (m *mockGateway) Ping(ctx context.Context, _ fdms.DeviceRef) (*fdms.PingResult, error) {
	if err := m.begin(ctx, "ping"); err != nil {
		return nil, err
	}
	return &fdms.PingResult{ReportingFrequency: 5, OperationID: "0HMPH9AF0QKKE:00000002"}, nil
}

func (m *mockGateway) Config(ctx context.Context, _ fdms.DeviceRef) (map[string]any, error) {
	if err := m.begin(ctx, "config"); err != nil {
		return nil, err
	}
	return map[string]any{"taxPayerName": "Acme Trading", "deviceOperatingMode": "Online"}, nil
}

func (m *mockGateway) OpenDay(ctx context.Context, _ fdms.DeviceRef, req fdms.OpenDayRequest) (*domain.StatusSnapshot, error) {
	if m.gate != nil {
		if m.entered != nil {
			m.entered <- struct{}{}
		}
		select {
		case <-m.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := m.begin(ctx, "open-day"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastOpen = req
	m.remote.FiscalDayStatus = domain.FDMSFiscalDayOpened
	m.remote.LastFiscalDayNo = int64Ptr(req.FiscalDayNo - 1)
	return &domain.StatusSnapshot{FiscalDayStatus: domain.FDMSFiscalDayOpened}, nil
}

func (m *mockGateway) CloseDay(ctx context.Context, _ fdms.DeviceRef, req fdms.CloseDayRequest) (*domain.StatusSnapshot, error) {
	if err := m.begin(ctx, "close-day"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastClose = req
	m.remote.FiscalDayStatus = domain.FDMSFiscalDayClosed
	m.remote.LastFiscalDayNo = int64Ptr(req.FiscalDayNo)
	return m.snapshot(), nil
}

// --- Recording observer ---

type recordingObserver struct {
	mu     sync.Mutex
	events []domain.ActionEvent
	err    error
	// during, when set, runs inside ObserveAction before the event is recorded.
	during func(domain.ActionEvent)
}

func (r *recordingObserver) ObserveAction(_ context.Context, e domain.ActionEvent) error {
	if r.during != nil {
		r.during(e)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return r.err
}
