// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/armonia-contable/armonia/internal/ledger"
)

// ErrUnauthorized indicates the request carries no actor identity.
var ErrUnauthorized = errors.New("unauthorized")

var statusByKind = map[string]int{
	"NotFound":                http.StatusNotFound,
	"InvalidInput":            http.StatusBadRequest,
	"Forbidden":               http.StatusForbidden,
	"SelfApprovalForbidden":   http.StatusForbidden,
	"PeriodClosed":            http.StatusConflict,
	"InvalidStatus":           http.StatusConflict,
	"DuplicateRule":           http.StatusConflict,
	"PendingVouchersExist":    http.StatusConflict,
	"CloseAborted":            http.StatusConflict,
	"BudgetCeilingExceeded":   http.StatusUnprocessableEntity,
	"NoRuleFound":             http.StatusUnprocessableEntity,
	"UnbalancedVoucher":       http.StatusUnprocessableEntity,
	"InvalidAccountReference": http.StatusUnprocessableEntity,
}

// StatusFor returns the HTTP status of a ledger failure.
func StatusFor(err error) int {
	if errors.Is(err, ErrUnauthorized) {
		return http.StatusUnauthorized
	}
	if status, ok := statusByKind[ledger.Kind(err)]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// RespondError maps domain errors to HTTP responses using RFC7807. The
// problem type carries the failure kind so clients can branch on it.
func RespondError(w http.ResponseWriter, logger *slog.Logger, err error) {
	status := StatusFor(err)
	if status == http.StatusInternalServerError {
		if logger != nil {
			logger.Error("request failed", slog.Any("error", err))
		}
		Problem(w, status, "Internal", http.StatusText(status), "")
		return
	}
	kind := ledger.Kind(err)
	if errors.Is(err, ErrUnauthorized) {
		kind = "Unauthorized"
	}
	Problem(w, status, kind, http.StatusText(status), err.Error())
}
