package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/CaioWing/Fiscus/internal/domain"
	"github.com/CaioWing/Fiscus/internal/fdms"
	"github.com/CaioWing/Fiscus/internal/fiscal"
	"github.com/CaioWing/Fiscus/internal/storage"
)

const (
	defaultCallTimeout = 30 * time.Second
	maxPersistAttempts = 3
)

// FiscalGateway is the remote FDMS surface. *fdms.Client satisfies it.
type FiscalGateway interface {
	Register(ctx context.Context, ref fdms.DeviceRef, req fdms.RegisterRequest) (*domain.StatusSnapshot, error)
	Status(ctx context.Context, ref fdms.DeviceRef) (*domain.StatusSnapshot, error)
	Ping(ctx context.Context, ref fdms.DeviceRef) (*fdms.PingResult, error)
	Config(ctx context.Context, ref fdms.DeviceRef) (map[string]any, error)
	OpenDay(ctx context.Context, ref fdms.DeviceRef, req fdms.OpenDayRequest) (*domain.StatusSnapshot, error)
	CloseDay(ctx context.Context, ref fdms.DeviceRef, req fdms.CloseDayRequest) (*domain.StatusSnapshot, error)
}

// AuditRecorder persists audit entries. *AuditService satisfies it.
type AuditRecorder interface {
	Record(ctx context.Context, entry *domain.AuditEntry) error
}

type OrchestratorConfig struct {
	// CallTimeout bounds each gateway call.
	CallTimeout time.Duration
	// Now defaults to time.Now.
	Now func() time.Time
}

// ActionResult is what a caller sees after an action. On a remote failure
// Error carries the classified message and Device is the unchanged cache.
type ActionResult struct {
	Action           domain.AuditAction      `json:"action"`
	Device           *domain.Device          `json:"device"`
	Snapshot         *domain.StatusSnapshot  `json:"snapshot,omitempty"`
	Timeline         []domain.FiscalDayEntry `json:"timeline,omitempty"`
	Config           map[string]any          `json:"config,omitempty"`
	Ping             *fdms.PingResult        `json:"ping,omitempty"`
	Error            *fdms.NormalizedError   `json:"error,omitempty"`
	AuditUnconfirmed bool                    `json:"audit_unconfirmed"`
	// Stale is set when the remote call succeeded but the cached device
	// could not be updated.
	Stale bool `json:"stale,omitempty"`
}

// Orchestrator runs fiscal lifecycle actions against the FDMS gateway. It
// checks legality locally, issues the call, reconciles the cached device and
// records one audit entry per attempted call.
type Orchestrator struct {
	devices  domain.DeviceRepository
	gateway  FiscalGateway
	audit    AuditRecorder
	store    storage.FileStore
	cfg      OrchestratorConfig
	inflight *inflightSet
	log      *slog.Logger

	obsMu     sync.RWMutex
	observers []Observer
}

func NewOrchestrator(
	devices domain.DeviceRepository,
	gateway FiscalGateway,
	audit AuditRecorder,
	store storage.FileStore,
	cfg OrchestratorConfig,
	log *slog.Logger,
) *Orchestrator {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = defaultCallTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Orchestrator{
		devices:  devices,
		gateway:  gateway,
		audit:    audit,
		store:    store,
		cfg:      cfg,
		inflight: newInflightSet(),
		log:      log,
	}
}

func (o *Orchestrator) AddObserver(obs Observer) {
	o.obsMu.Lock()
	defer o.obsMu.Unlock()
	o.observers = append(o.observers, obs)
}

func (o *Orchestrator) Register(ctx context.Context, id uuid.UUID, actor domain.Actor) (*ActionResult, error) {
	return o.Execute(ctx, id, domain.AuditActionRegister, actor)
}

func (o *Orchestrator) Status(ctx context.Context, id uuid.UUID, actor domain.Actor) (*ActionResult, error) {
	return o.Execute(ctx, id, domain.AuditActionStatus, actor)
}

func (o *Orchestrator) Ping(ctx context.Context, id uuid.UUID, actor domain.Actor) (*ActionResult, error) {
	return o.Execute(ctx, id, domain.AuditActionPing, actor)
}

func (o *Orchestrator) Config(ctx context.Context, id uuid.UUID, actor domain.Actor) (*ActionResult, error) {
	return o.Execute(ctx, id, domain.AuditActionConfig, actor)
}

func (o *Orchestrator) OpenDay(ctx context.Context, id uuid.UUID, actor domain.Actor) (*ActionResult, error) {
	return o.Execute(ctx, id, domain.AuditActionOpenDay, actor)
}

func (o *Orchestrator) CloseDay(ctx context.Context, id uuid.UUID, actor domain.Actor) (*ActionResult, error) {
	return o.Execute(ctx, id, domain.AuditActionCloseDay, actor)
}

// Overview fetches status for a detail view. When the device cannot be asked
// (network failure or not yet registered) it returns the cached device and a
// timeline built from cached counters instead of an error.
func (o *Orchestrator) Overview(ctx context.Context, id uuid.UUID, actor domain.Actor) (*ActionResult, error) {
	res, err := o.Execute(ctx, id, domain.AuditActionStatus, actor)
	if err == nil {
		return res, nil
	}

	var fe *fdms.Error
	if errors.Is(err, domain.ErrDeviceArchived) ||
		(!errors.As(err, &fe) && !errors.Is(err, domain.ErrPreconditionFailed)) {
		return nil, err
	}

	device := (*domain.Device)(nil)
	if res != nil {
		device = res.Device
	}
	if device == nil {
		device, err = o.devices.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
	}

	fallback := &ActionResult{Action: domain.AuditActionStatus, Device: device, Stale: true}
	if res != nil {
		fallback.Error = res.Error
		fallback.AuditUnconfirmed = res.AuditUnconfirmed
	}
	if _, ok := fiscal.StateOf(device).(fiscal.Unregistered); ok {
		fallback.Timeline = []domain.FiscalDayEntry{}
		return fallback, nil
	}
	snap := fiscal.SnapshotOf(device)
	fallback.Snapshot = &snap
	fallback.Timeline = fiscal.BuildTimeline(snap, o.cfg.Now())
	return fallback, nil
}

// Execute runs action on device id. Local rejections (illegal state, action
// already in flight) return an error and a nil result without touching the
// gateway or the audit trail. Remote failures return both a result carrying
// the classified error and an error wrapping *fdms.Error.
func (o *Orchestrator) Execute(ctx context.Context, id uuid.UUID, action domain.AuditAction, actor domain.Actor) (*ActionResult, error) {
	release := func() {}
	if action.Mutating() {
		var err error
		release, err = o.inflight.acquire(id, action)
		if err != nil {
			return nil, err
		}
	}
	defer release()

	device, err := o.devices.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if device.Archived() {
		return nil, fmt.Errorf("%w: %w", domain.ErrPreconditionFailed, domain.ErrDeviceArchived)
	}

	t, err := fiscal.Plan(action, fiscal.StateOf(device))
	if err != nil {
		return nil, err
	}

	var certPEM string
	if t.Call == fiscal.CallRegister {
		if !device.HasCertificate() {
			return nil, fmt.Errorf("%w: upload a certificate and private key before registering", domain.ErrPreconditionFailed)
		}
		certPEM, err = o.readCertificate(device.CertificateFile)
		if err != nil {
			return nil, err
		}
	}

	start := o.cfg.Now()
	out, callErr := o.call(ctx, device, t, certPEM)
	elapsed := o.cfg.Now().Sub(start)

	var (
		res   *ActionResult
		event *domain.ActionEvent
	)
	if callErr != nil {
		res, event, err = o.fail(ctx, device, t, actor, callErr, elapsed)
	} else {
		res, event = o.succeed(ctx, device, t, actor, out, elapsed)
	}

	// Observers run after the device is released.
	release()
	if event != nil {
		o.notify(ctx, *event)
	}
	return res, err
}

// callOutput holds whatever the gateway returned for one call.
type callOutput struct {
	snapshot  *domain.StatusSnapshot
	ping      *fdms.PingResult
	config    map[string]any
	refetched bool
}

func (o *Orchestrator) call(ctx context.Context, d *domain.Device, t fiscal.Transition, certPEM string) (callOutput, error) {
	ref := fdms.DeviceRef{FiscalDeviceID: d.FiscalDeviceID, SerialNumber: d.SerialNumber, Model: d.Model}

	callCtx, cancel := context.WithTimeout(ctx, o.cfg.CallTimeout)
	defer cancel()

	var (
		out callOutput
		err error
	)
	switch t.Call {
	case fiscal.CallRegister:
		out.snapshot, err = o.gateway.Register(callCtx, ref, fdms.RegisterRequest{
			SerialNumber:   d.SerialNumber,
			Model:          d.Model,
			CertificatePEM: certPEM,
		})
	case fiscal.CallStatus:
		out.snapshot, err = o.gateway.Status(callCtx, ref)
	case fiscal.CallPing:
		out.ping, err = o.gateway.Ping(callCtx, ref)
	case fiscal.CallConfig:
		out.config, err = o.gateway.Config(callCtx, ref)
	case fiscal.CallOpenDay:
		out.snapshot, err = o.gateway.OpenDay(callCtx, ref, fdms.OpenDayRequest{
			FiscalDayNo:     t.To.(fiscal.Open).DayNo,
			FiscalDayOpened: o.cfg.Now().UTC().Truncate(time.Second),
		})
	case fiscal.CallCloseDay:
		out.snapshot, err = o.gateway.CloseDay(callCtx, ref, fdms.CloseDayRequest{
			FiscalDayNo:    t.To.(fiscal.Closed).LastDayNo,
			ReceiptCounter: d.LastReceiptCounter,
		})
	default:
		return out, fmt.Errorf("%w: unsupported call %q", domain.ErrInvalidInput, t.Call)
	}
	if err != nil {
		return out, gatewayError(callCtx, string(t.Call), err)
	}

	if t.Mutating {
		fresh, err := o.refetch(ctx, ref)
		if err != nil {
			o.log.Warn("status refetch after action failed, applying local transition",
				"id", d.ID, "action", t.Audit, "err", err)
		} else {
			out.snapshot = fresh
			out.refetched = true
		}
	}
	return out, nil
}

func (o *Orchestrator) refetch(ctx context.Context, ref fdms.DeviceRef) (*domain.StatusSnapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.CallTimeout)
	defer cancel()
	return o.gateway.Status(ctx, ref)
}

func (o *Orchestrator) succeed(ctx context.Context, device *domain.Device, t fiscal.Transition, actor domain.Actor, out callOutput, elapsed time.Duration) (*ActionResult, *domain.ActionEvent) {
	res := &ActionResult{
		Action: t.Audit,
		Device: device,
		Config: out.config,
		Ping:   out.ping,
	}

	apply := reconcileFunc(t, out)
	if apply != nil {
		updated, superseded, err := o.persist(ctx, device, apply, t.Mutating)
		if err != nil {
			o.log.Error("failed to update cached fiscal state", "id", device.ID, "action", t.Audit, "err", err)
			local := apply(*device)
			updated = &local
			res.Stale = true
		}
		if fiscal.GlobalNoRegressed(*device, *updated) {
			o.log.Warn("global receipt number went backwards, keeping remote value",
				"id", device.ID,
				"cached", device.LastReceiptGlobalNo,
				"remote", updated.LastReceiptGlobalNo,
			)
		}
		res.Device = updated

		snap := fiscal.SnapshotOf(updated)
		if !superseded && (out.refetched || t.Call == fiscal.CallStatus) {
			snap = *out.snapshot
		}
		res.Snapshot = &snap
		res.Timeline = fiscal.BuildTimeline(snap, o.cfg.Now())
	}

	details := o.details(device, elapsed)
	if out.snapshot != nil && out.snapshot.OperationID != "" {
		details["operation_id"] = out.snapshot.OperationID
	}
	if out.ping != nil && out.ping.OperationID != "" {
		details["operation_id"] = out.ping.OperationID
	}
	if t.Mutating {
		details["refetched"] = out.refetched
	}

	entry := o.entry(device, t.Audit, actor, domain.AuditStatusSuccess, details)
	entry.ChangesSummary = changesSummary(device.FiscalState(), res.Device.FiscalState())
	res.AuditUnconfirmed = o.record(ctx, entry)

	event := &domain.ActionEvent{
		DeviceID:            device.ID,
		CompanyID:           device.CompanyID,
		FiscalDeviceID:      device.FiscalDeviceID,
		Action:              t.Audit,
		Status:              domain.AuditStatusSuccess,
		FiscalDayStatus:     res.Device.FiscalDayStatus,
		LastFiscalDayNo:     res.Device.LastFiscalDayNo,
		LastReceiptGlobalNo: res.Device.LastReceiptGlobalNo,
		Duration:            elapsed,
		DurationMS:          elapsed.Milliseconds(),
		OccurredAt:          o.cfg.Now().UTC(),
	}

	o.log.Info("fiscal action completed",
		"id", device.ID,
		"action", t.Audit,
		"fiscal_day_status", res.Device.FiscalDayStatus,
		"duration", elapsed,
	)
	return res, event
}

func (o *Orchestrator) fail(ctx context.Context, device *domain.Device, t fiscal.Transition, actor domain.Actor, err error, elapsed time.Duration) (*ActionResult, *domain.ActionEvent, error) {
	var fe *fdms.Error
	if !errors.As(err, &fe) {
		return nil, nil, err
	}

	details := o.details(device, elapsed)
	details["error_code"] = fe.Normalized.Code
	details["error_kind"] = fe.Kind()
	if fe.StatusCode != 0 {
		details["http_status"] = fe.StatusCode
	}

	entry := o.entry(device, t.Audit, actor, domain.AuditStatusError, details)
	entry.ErrorMessage = fe.Raw
	normalized := fe.Normalized

	res := &ActionResult{
		Action:           t.Audit,
		Device:           device,
		Error:            &normalized,
		AuditUnconfirmed: o.record(ctx, entry),
	}

	event := &domain.ActionEvent{
		DeviceID:            device.ID,
		CompanyID:           device.CompanyID,
		FiscalDeviceID:      device.FiscalDeviceID,
		Action:              t.Audit,
		Status:              domain.AuditStatusError,
		ErrorCode:           fe.Normalized.Code,
		ErrorKind:           fe.Kind(),
		FiscalDayStatus:     device.FiscalDayStatus,
		LastFiscalDayNo:     device.LastFiscalDayNo,
		LastReceiptGlobalNo: device.LastReceiptGlobalNo,
		Duration:            elapsed,
		DurationMS:          elapsed.Milliseconds(),
		OccurredAt:          o.cfg.Now().UTC(),
	}

	o.log.Warn("fiscal action failed",
		"id", device.ID,
		"action", t.Audit,
		"kind", fe.Kind(),
		"code", fe.Normalized.Code,
		"err", fe.Normalized.Message,
	)
	return res, event, err
}

// reconcileFunc returns how the cached device changes after a successful call,
// or nil when the call does not touch fiscal state.
func reconcileFunc(t fiscal.Transition, out callOutput) func(domain.Device) domain.Device {
	switch {
	case out.refetched || (t.Call == fiscal.CallStatus && out.snapshot != nil):
		snap := *out.snapshot
		return func(d domain.Device) domain.Device { return fiscal.Reconcile(d, snap) }
	case t.Mutating:
		var snap domain.StatusSnapshot
		if out.snapshot != nil {
			snap = *out.snapshot
		}
		snap.FiscalDayStatus = remoteStatus(t.To)
		return func(d domain.Device) domain.Device {
			return fiscal.Reconcile(fiscal.ApplyTransition(d, t), withDayNo(snap, t.To))
		}
	}
	return nil
}

// withDayNo fills in the last fiscal day number implied by the target state
// when the gateway response did not carry one.
func withDayNo(s domain.StatusSnapshot, to fiscal.State) domain.StatusSnapshot {
	if s.LastFiscalDayNo != nil {
		return s
	}
	var last int64
	switch st := to.(type) {
	case fiscal.Open:
		last = st.DayNo - 1
	case fiscal.Closed:
		last = st.LastDayNo
	default:
		return s
	}
	s.LastFiscalDayNo = &last
	return s
}

func remoteStatus(s fiscal.State) string {
	switch s.(type) {
	case fiscal.Open:
		return domain.FDMSFiscalDayOpened
	case fiscal.Closed:
		return domain.FDMSFiscalDayClosed
	}
	return string(s.Status())
}

// persist writes apply(device) with compare-and-swap. A version conflict means
// another write landed after device was read. With retry set (the snapshot was
// fetched after the action's own write) the device is re-read and apply re-run.
// Otherwise the snapshot may predate the conflicting write, so it is dropped and
// the stored device is returned with superseded set.
func (o *Orchestrator) persist(ctx context.Context, device *domain.Device, apply func(domain.Device) domain.Device, retry bool) (*domain.Device, bool, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.CallTimeout)
	defer cancel()

	current := device
	for attempt := 1; ; attempt++ {
		next := apply(*current)
		if next.FiscalState() == current.FiscalState() {
			return &next, false, nil
		}

		updated, err := o.devices.UpdateFiscalState(ctx, current.ID, current.Version, next.FiscalState())
		if err == nil {
			return updated, false, nil
		}
		if !errors.Is(err, domain.ErrConflict) || (retry && attempt >= maxPersistAttempts) {
			return nil, false, fmt.Errorf("update fiscal state: %w", err)
		}

		stored, rerr := o.devices.GetByID(ctx, current.ID)
		if rerr != nil {
			return nil, false, fmt.Errorf("reload device: %w", rerr)
		}
		if !retry {
			o.log.Debug("fiscal state changed while status was in flight, keeping stored state", "id", current.ID)
			return stored, true, nil
		}
		o.log.Debug("fiscal state version conflict, retrying", "id", current.ID, "attempt", attempt)
		current = stored
	}
}

func (o *Orchestrator) readCertificate(path string) (string, error) {
	rc, err := o.store.Open(path)
	if err != nil {
		return "", fmt.Errorf("open certificate: %w", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return "", fmt.Errorf("read certificate: %w", err)
	}
	return string(data), nil
}

func (o *Orchestrator) details(d *domain.Device, elapsed time.Duration) map[string]any {
	return map[string]any{
		"fiscal_device_id": d.FiscalDeviceID,
		"company_id":       d.CompanyID.String(),
		"duration_ms":      elapsed.Milliseconds(),
	}
}

func (o *Orchestrator) entry(d *domain.Device, action domain.AuditAction, actor domain.Actor, status domain.AuditStatus, details map[string]any) *domain.AuditEntry {
	return &domain.AuditEntry{
		Actor:             actor.ID,
		ActorType:         actor.Type,
		Action:            action,
		ResourceType:      domain.ResourceFiscalDevice,
		ResourceReference: d.ID.String(),
		Status:            status,
		Details:           details,
		IPAddress:         actor.IPAddress,
	}
}

// record returns true when the audit entry could not be confirmed.
func (o *Orchestrator) record(ctx context.Context, entry *domain.AuditEntry) bool {
	if err := o.audit.Record(ctx, entry); err != nil {
		o.log.Error("audit entry unconfirmed",
			"action", entry.Action,
			"resource", entry.ResourceReference,
			"err", err,
		)
		return true
	}
	return false
}

func (o *Orchestrator) notify(ctx context.Context, event domain.ActionEvent) {
	o.obsMu.RLock()
	observers := append([]Observer(nil), o.observers...)
	o.obsMu.RUnlock()

	ctx = context.WithoutCancel(ctx)
	for _, obs := range observers {
		if err := obs.ObserveAction(ctx, event); err != nil {
			o.log.Warn("action observer failed", "action", event.Action, "id", event.DeviceID, "err", err)
		}
	}
}

// gatewayError makes sure every gateway failure is an *fdms.Error so callers
// can classify it.
func gatewayError(ctx context.Context, op string, err error) error {
	var fe *fdms.Error
	if errors.As(err, &fe) {
		return fe
	}
	timeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded)
	raw := err.Error()
	return &fdms.Error{
		Op:         op,
		Raw:        raw,
		Normalized: fdms.Classify(raw),
		Timeout:    timeout,
		Err:        err,
	}
}

func changesSummary(before, after domain.FiscalState) string {
	var parts []string
	if before.FiscalDayStatus != after.FiscalDayStatus {
		parts = append(parts, fmt.Sprintf("fiscal_day_status: %s -> %s", before.FiscalDayStatus, after.FiscalDayStatus))
	}
	if before.LastFiscalDayNo != after.LastFiscalDayNo {
		parts = append(parts, fmt.Sprintf("last_fiscal_day_no: %d -> %d", before.LastFiscalDayNo, after.LastFiscalDayNo))
	}
	if before.LastReceiptCounter != after.LastReceiptCounter {
		parts = append(parts, fmt.Sprintf("last_receipt_counter: %d -> %d", before.LastReceiptCounter, after.LastReceiptCounter))
	}
	if before.LastReceiptGlobalNo != after.LastReceiptGlobalNo {
		parts = append(parts, fmt.Sprintf("last_receipt_global_no: %d -> %d", before.LastReceiptGlobalNo, after.LastReceiptGlobalNo))
	}
	return strings.Join(parts, "; ")
}
