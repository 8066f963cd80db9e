package management

import (
	"context"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/CaioWing/Fiscus/internal/api/middleware"
	"github.com/CaioWing/Fiscus/internal/api/response"
	"github.com/CaioWing/Fiscus/internal/domain"
)

type auditService interface {
	List(ctx context.Context, filter domain.AuditFilter) ([]*domain.AuditEntry, int, error)
	ListForDevice(ctx context.Context, deviceID uuid.UUID, limit int) ([]*domain.AuditEntry, error)
}

type AuditHandler struct {
	auditSvc auditService
}

func NewAuditHandler(auditSvc auditService) *AuditHandler {
	return &AuditHandler{auditSvc: auditSvc}
}

// List serves the global audit log. Tenant-restricted tokens must use the
// per-device endpoint instead.
func (h *AuditHandler) List(w http.ResponseWriter, r *http.Request) {
	if middleware.TenantRestricted(r.Context()) {
		response.Error(w, http.StatusForbidden, "global audit log requires an unrestricted token")
		return
	}

	page, perPage := response.ParsePagination(r)
	q := r.URL.Query()

	filter := domain.AuditFilter{
		Page:      page,
		PerPage:   perPage,
		SortOrder: q.Get("order"),
	}
	if v := q.Get("actor"); v != "" {
		filter.Actor = &v
	}
	if v := q.Get("action"); v != "" {
		filter.Action = &v
	}
	if v := q.Get("resource_type"); v != "" {
		filter.ResourceType = &v
	}
	if v := q.Get("resource_reference"); v != "" {
		filter.ResourceReference = &v
	}
	if v := q.Get("status"); v != "" {
		status := domain.AuditStatus(v)
		filter.Status = &status
	}

	entries, total, err := h.auditSvc.List(r.Context(), filter)
	if err != nil {
		writeError(w, err, "failed to list audit log")
		return
	}

	response.Paginated(w, http.StatusOK, entries, page, perPage, total)
}

// ListForDevice serves the most recent entries for the {id} device.
func (h *AuditHandler) ListForDevice(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			response.Error(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	entries, err := h.auditSvc.ListForDevice(r.Context(), deviceFrom(r).ID, limit)
	if err != nil {
		writeError(w, err, "failed to list audit log")
		return
	}
	response.JSON(w, http.StatusOK, map[string]any{"data": entries})
}
