package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/hazimsaleh/fatoora/authority"
	"github.com/hazimsaleh/fatoora/cert"
	"github.com/hazimsaleh/fatoora/rotation"
	"github.com/hazimsaleh/fatoora/sign"
	"github.com/hazimsaleh/fatoora/storage"
	"github.com/hazimsaleh/fatoora/validation"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

func mapError(w http.ResponseWriter, err error) {
	var verr *validation.Error
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
			Error:      "validation failed",
			Violations: verr.Violations,
		})
	case errors.Is(err, cert.ErrNotFound),
		errors.Is(err, storage.ErrNotFound),
		errors.Is(err, storage.ErrOrgNotFound),
		errors.Is(err, rotation.ErrNoRotation):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, cert.ErrInvalidState),
		errors.Is(err, cert.ErrActiveExists),
		errors.Is(err, cert.ErrRotationInFlight),
		errors.Is(err, sign.ErrChainIntegrity),
		errors.Is(err, storage.ErrCASFailed):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, authority.ErrRequest):
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
