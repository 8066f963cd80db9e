package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/CaioWing/Fiscus/internal/domain"
)

// AuditLogger is the fire-and-forget side of the audit service.
type AuditLogger interface {
	Log(ctx context.Context, entry *domain.AuditEntry)
}

type auditResourceKey struct{}

// SetAuditResource lets a handler name the resource it created when the URL
// does not contain it.
func SetAuditResource(r *http.Request, reference string) {
	if ref, ok := r.Context().Value(auditResourceKey{}).(*string); ok {
		*ref = reference
	}
}

// AuditLog records successful device registry changes. Fiscal actions under
// /fdms/ are audited by the orchestrator and skipped here.
func AuditLog(auditSvc AuditLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var resourceRef string
			r = r.WithContext(context.WithValue(r.Context(), auditResourceKey{}, &resourceRef))

			rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rw, r)

			if r.Method == http.MethodGet || r.Method == http.MethodOptions {
				return
			}
			if rw.status >= 400 {
				return
			}

			action, ref := classifyRequest(r.Method, r.URL.Path)
			if action == "" {
				return
			}
			if resourceRef != "" {
				ref = resourceRef
			}

			actor := ActorFrom(r)
			auditSvc.Log(r.Context(), &domain.AuditEntry{
				Actor:             actor.ID,
				ActorType:         actor.Type,
				Action:            action,
				ResourceType:      domain.ResourceFiscalDevice,
				ResourceReference: ref,
				Status:            domain.AuditStatusSuccess,
				IPAddress:         actor.IPAddress,
				Details:           map[string]any{"method": r.Method, "path": r.URL.Path},
			})
		})
	}
}

// classifyRequest maps a registry request to its audit action and, when the
// path names one, the device id.
func classifyRequest(method, path string) (domain.AuditAction, string) {
	parts := strings.Split(strings.Trim(strings.TrimPrefix(path, "/api/v1/management/"), "/"), "/")

	switch {
	case len(parts) == 3 && parts[0] == "companies" && parts[2] == "devices" && method == http.MethodPost:
		return domain.AuditActionDeviceCreate, ""
	case len(parts) == 2 && parts[0] == "devices" && method == http.MethodPatch:
		return domain.AuditActionDeviceUpdate, parts[1]
	case len(parts) == 2 && parts[0] == "devices" && method == http.MethodDelete:
		return domain.AuditActionDeviceArchive, parts[1]
	case len(parts) == 3 && parts[0] == "devices" && parts[2] == "certificate" && method == http.MethodPost:
		return domain.AuditActionDeviceCertificate, parts[1]
	default:
		return "", ""
	}
}
