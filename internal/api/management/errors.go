package management

import (
	"errors"
	"net/http"

	"github.com/CaioWing/Fiscus/internal/api/response"
	"github.com/CaioWing/Fiscus/internal/domain"
	"github.com/CaioWing/Fiscus/internal/fdms"
)

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrPreconditionFailed),
		errors.Is(err, domain.ErrActionInFlight),
		errors.Is(err, domain.ErrConflict),
		errors.Is(err, domain.ErrDeviceArchived):
		return http.StatusConflict
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, fdms.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, fdms.ErrUnreachable), errors.Is(err, domain.ErrStorageUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, fdms.ErrRejected):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err. Internal errors are replaced by fallback so storage
// details do not leak to clients.
func writeError(w http.ResponseWriter, err error, fallback string) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = fallback
	}
	response.Error(w, status, msg)
}
