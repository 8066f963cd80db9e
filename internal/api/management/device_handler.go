package management

import (
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/CaioWing/Fiscus/internal/api/middleware"
	"github.com/CaioWing/Fiscus/internal/api/response"
	"github.com/CaioWing/Fiscus/internal/domain"
	"github.com/CaioWing/Fiscus/internal/service"
)

const maxCertificateUpload = 1 << 20

type deviceService interface {
	Create(ctx context.Context, companyID uuid.UUID, in service.CreateDeviceInput) (*domain.Device, error)
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Device, error)
	ListByCompany(ctx context.Context, companyID uuid.UUID) ([]*domain.Device, error)
	Update(ctx context.Context, id uuid.UUID, patch domain.DevicePatch) (*domain.Device, error)
	UploadCertificate(ctx context.Context, id uuid.UUID, certPEM, keyPEM []byte) (*domain.Device, error)
	UploadPKCS12(ctx context.Context, id uuid.UUID, bundle []byte, password string) (*domain.Device, error)
	Archive(ctx context.Context, id uuid.UUID) error
}

type DeviceHandler struct {
	deviceSvc deviceService
}

func NewDeviceHandler(deviceSvc deviceService) *DeviceHandler {
	return &DeviceHandler{deviceSvc: deviceSvc}
}

type deviceKey struct{}

// deviceFrom returns the device loaded by Authorize.
func deviceFrom(r *http.Request) *domain.Device {
	d, _ := r.Context().Value(deviceKey{}).(*domain.Device)
	return d
}

// Authorize loads the {id} device and rejects callers whose token does not
// cover the device's company.
func (h *DeviceHandler) Authorize(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "invalid device id")
			return
		}

		device, err := h.deviceSvc.GetByID(r.Context(), id)
		if err != nil {
			writeError(w, err, "failed to get device")
			return
		}
		if !middleware.CanAccessCompany(r.Context(), device.CompanyID.String()) {
			response.Error(w, http.StatusForbidden, "no access to this device")
			return
		}

		ctx := context.WithValue(r.Context(), deviceKey{}, device)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *DeviceHandler) companyID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	companyID, err := uuid.Parse(chi.URLParam(r, "companyID"))
	if err != nil {
		response.Error(w, http.StatusBadRequest, "invalid company id")
		return uuid.Nil, false
	}
	if !middleware.CanAccessCompany(r.Context(), companyID.String()) {
		response.Error(w, http.StatusForbidden, "no access to this company")
		return uuid.Nil, false
	}
	return companyID, true
}

func (h *DeviceHandler) List(w http.ResponseWriter, r *http.Request) {
	companyID, ok := h.companyID(w, r)
	if !ok {
		return
	}

	devices, err := h.deviceSvc.ListByCompany(r.Context(), companyID)
	if err != nil {
		writeError(w, err, "failed to list devices")
		return
	}
	response.JSON(w, http.StatusOK, map[string]any{"data": devices})
}

func (h *DeviceHandler) Create(w http.ResponseWriter, r *http.Request) {
	companyID, ok := h.companyID(w, r)
	if !ok {
		return
	}

	var req service.CreateDeviceInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	device, err := h.deviceSvc.Create(r.Context(), companyID, req)
	if err != nil {
		writeError(w, err, "failed to create device")
		return
	}
	middleware.SetAuditResource(r, device.ID.String())
	response.JSON(w, http.StatusCreated, device)
}

func (h *DeviceHandler) Get(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, http.StatusOK, deviceFrom(r))
}

type updateDeviceRequest struct {
	FiscalDeviceID *string `json:"fiscal_device_id"`
	SerialNumber   *string `json:"serial_number"`
	Model          *string `json:"model"`
}

func (h *DeviceHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req updateDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	device, err := h.deviceSvc.Update(r.Context(), deviceFrom(r).ID, domain.DevicePatch{
		FiscalDeviceID: req.FiscalDeviceID,
		SerialNumber:   req.SerialNumber,
		Model:          req.Model,
	})
	if err != nil {
		writeError(w, err, "failed to update device")
		return
	}
	response.JSON(w, http.StatusOK, device)
}

func (h *DeviceHandler) Archive(w http.ResponseWriter, r *http.Request) {
	if err := h.deviceSvc.Archive(r.Context(), deviceFrom(r).ID); err != nil {
		writeError(w, err, "failed to archive device")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UploadCertificate accepts either a PEM pair (certificate, private_key) or a
// PKCS#12 bundle with its password.
func (h *DeviceHandler) UploadCertificate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxCertificateUpload)
	if err := r.ParseMultipartForm(maxCertificateUpload); err != nil {
		response.Error(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	id := deviceFrom(r).ID

	var (
		device *domain.Device
		err    error
	)
	if bundle, ok := formFile(r.MultipartForm, "bundle"); ok {
		device, err = h.deviceSvc.UploadPKCS12(r.Context(), id, bundle, r.FormValue("password"))
	} else {
		certPEM, okCert := formFile(r.MultipartForm, "certificate")
		keyPEM, okKey := formFile(r.MultipartForm, "private_key")
		if !okCert || !okKey {
			response.Error(w, http.StatusBadRequest, "certificate and private_key files are required")
			return
		}
		device, err = h.deviceSvc.UploadCertificate(r.Context(), id, certPEM, keyPEM)
	}
	if err != nil {
		writeError(w, err, "failed to store certificate")
		return
	}
	response.JSON(w, http.StatusOK, device)
}

func formFile(form *multipart.Form, field string) ([]byte, bool) {
	if form == nil || len(form.File[field]) == 0 {
		return nil, false
	}
	f, err := form.File[field][0].Open()
	if err != nil {
		return nil, false
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil || len(data) == 0 {
		return nil, false
	}
	return data, true
}
