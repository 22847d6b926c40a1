package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/abkawan/nivalus-ledger/internal/models"
	"go.uber.org/zap"
)

// statusFor maps a service error to its HTTP status. First match wins.
var statusFor = []struct {
	err    error
	status int
}{
	{models.ErrInvalidInput, http.StatusBadRequest},
	{models.ErrInvalidAmount, http.StatusBadRequest},
	{models.ErrInvalidStatus, http.StatusBadRequest},
	{models.ErrInvalidType, http.StatusBadRequest},
	{models.ErrDuplicateUsername, http.StatusBadRequest},
	{models.ErrDuplicateEmail, http.StatusBadRequest},
	{models.ErrInvalidPin, http.StatusBadRequest},
	{models.ErrInsufficientFunds, http.StatusBadRequest},
	{models.ErrRecipientInactive, http.StatusBadRequest},
	{models.ErrSelfTransfer, http.StatusBadRequest},
	{models.ErrUnauthenticated, http.StatusUnauthorized},
	{models.ErrInvalidCredentials, http.StatusUnauthorized},
	{models.ErrForbidden, http.StatusForbidden},
	{models.ErrAccountInactive, http.StatusForbidden},
	{models.ErrRecipientNotFound, http.StatusNotFound},
	{models.ErrNotFound, http.StatusNotFound},
	{models.ErrBusy, http.StatusServiceUnavailable},
}

// errorStatus returns the status and client-facing message for err.
func errorStatus(err error) (int, string) {
	for _, m := range statusFor {
		if errors.Is(err, m.err) {
			return m.status, clientMessage(err, m.err)
		}
	}
	return http.StatusInternalServerError, "internal server error"
}

// clientMessage keeps validation detail but never exposes storage errors.
func clientMessage(err, sentinel error) string {
	switch sentinel {
	case models.ErrInvalidInput, models.ErrInvalidAmount, models.ErrInvalidStatus, models.ErrInvalidType:
		// drop the operation prefixes wrapped around the sentinel
		msg := err.Error()
		if i := strings.Index(msg, sentinel.Error()); i >= 0 {
			return msg[i:]
		}
	}
	return sentinel.Error()
}

// respondServiceError writes the mapped error response; unmapped errors are logged.
func respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := errorStatus(err)
	if status == http.StatusInternalServerError {
		zap.L().Error("Request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
	}
	respondError(w, status, msg)
}
