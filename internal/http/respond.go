package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/splax/tenantedge/internal/domain"
	"github.com/splax/tenantedge/internal/repository"
)

// writeJSON writes JSON response with status code.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError sends an error message.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeDomainError maps service errors to a status and a {code, error} body.
func writeDomainError(w http.ResponseWriter, err error) {
	var de *domain.Error
	if errors.As(err, &de) {
		writeJSON(w, statusForCode(de.Code), map[string]string{"code": string(de.Code), "error": de.Message})
		return
	}
	if errors.Is(err, repository.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"code": "not_found", "error": "not found"})
		return
	}
	writeError(w, http.StatusInternalServerError, "internal error")
}

func statusForCode(code domain.Code) int {
	switch code {
	case domain.CodeInvalidFormat, domain.CodeInvalidRecord:
		return http.StatusBadRequest
	case domain.CodeTenantNotFound:
		return http.StatusNotFound
	case domain.CodeDuplicateDomain, domain.CodeTenantInactive, domain.CodeVerificationExhausted, domain.CodeZoneNotActive:
		return http.StatusConflict
	case domain.CodeProviderError:
		return http.StatusBadGateway
	case domain.CodeProviderUnavailable, domain.CodeResolutionFailure:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
