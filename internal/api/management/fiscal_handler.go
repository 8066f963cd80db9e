package management

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/CaioWing/Fiscus/internal/api/middleware"
	"github.com/CaioWing/Fiscus/internal/api/response"
	"github.com/CaioWing/Fiscus/internal/domain"
	"github.com/CaioWing/Fiscus/internal/service"
)

type fiscalOrchestrator interface {
	Execute(ctx context.Context, id uuid.UUID, action domain.AuditAction, actor domain.Actor) (*service.ActionResult, error)
	Overview(ctx context.Context, id uuid.UUID, actor domain.Actor) (*service.ActionResult, error)
}

// FiscalHandler exposes FDMS lifecycle actions for one device. Routes are
// mounted behind DeviceHandler.Authorize.
type FiscalHandler struct {
	orch fiscalOrchestrator
}

func NewFiscalHandler(orch fiscalOrchestrator) *FiscalHandler {
	return &FiscalHandler{orch: orch}
}

func (h *FiscalHandler) Register(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, domain.AuditActionRegister)
}

func (h *FiscalHandler) Status(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, domain.AuditActionStatus)
}

func (h *FiscalHandler) Ping(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, domain.AuditActionPing)
}

func (h *FiscalHandler) Config(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, domain.AuditActionConfig)
}

func (h *FiscalHandler) OpenDay(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, domain.AuditActionOpenDay)
}

func (h *FiscalHandler) CloseDay(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, domain.AuditActionCloseDay)
}

func (h *FiscalHandler) Overview(w http.ResponseWriter, r *http.Request) {
	res, err := h.orch.Overview(r.Context(), deviceFrom(r).ID, middleware.ActorFrom(r))
	h.render(w, res, err)
}

func (h *FiscalHandler) run(w http.ResponseWriter, r *http.Request, action domain.AuditAction) {
	res, err := h.orch.Execute(r.Context(), deviceFrom(r).ID, action, middleware.ActorFrom(r))
	h.render(w, res, err)
}

func (h *FiscalHandler) render(w http.ResponseWriter, res *service.ActionResult, err error) {
	if err == nil {
		response.JSON(w, http.StatusOK, res)
		return
	}
	if res == nil || res.Error == nil {
		writeError(w, err, "fiscal action failed")
		return
	}
	response.JSON(w, statusFor(err), response.ErrorBody{
		Error:            err.Error(),
		Code:             res.Error.Code,
		Message:          res.Error.Message,
		AuditUnconfirmed: res.AuditUnconfirmed,
	})
}
