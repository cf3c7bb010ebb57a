package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	nativecommon "openlend/native/common"
	"openlend/native/lending"
	"openlend/native/oracle"
)

// statusForError maps engine sentinels onto HTTP status codes so API clients
// can distinguish caller mistakes from protocol-side refusals.
func statusForError(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, lending.ErrInvalidAmount),
		errors.Is(err, lending.ErrInvalidRateMode):
		return http.StatusBadRequest
	case errors.Is(err, lending.ErrNotAuthorized):
		return http.StatusForbidden
	case errors.Is(err, lending.ErrReserveNotActive):
		return http.StatusNotFound
	case errors.Is(err, lending.ErrReserveAlreadyActive),
		errors.Is(err, lending.ErrReserveFrozen),
		errors.Is(err, lending.ErrReentrancyDetected),
		errors.Is(err, lending.ErrNoDebtToRepay),
		errors.Is(err, lending.ErrNotLiquidatable),
		errors.Is(err, lending.ErrCloseFactorExceeded):
		return http.StatusConflict
	case errors.Is(err, lending.ErrInsufficientBalance),
		errors.Is(err, lending.ErrInsufficientCollateral),
		errors.Is(err, lending.ErrInsufficientLiquidity),
		errors.Is(err, lending.ErrUtilizationExceeded),
		errors.Is(err, lending.ErrBorrowCapExceeded),
		errors.Is(err, lending.ErrHealthFactorTooLow),
		errors.Is(err, lending.ErrFlashLoanNotRepaid):
		return http.StatusUnprocessableEntity
	case errors.Is(err, nativecommon.ErrProtocolPaused),
		errors.Is(err, oracle.ErrPriceUnavailable),
		errors.Is(err, oracle.ErrPriceStale):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	message := http.StatusText(status)
	if err != nil {
		if trimmed := strings.TrimSpace(err.Error()); trimmed != "" {
			message = trimmed
		}
	}
	writeJSON(w, status, map[string]string{"error": message})
}

func writeEngineError(w http.ResponseWriter, err error) {
	status := statusForError(err)
	if status == http.StatusInternalServerError {
		// Do not leak internals for unclassified failures.
		writeError(w, status, nil)
		return
	}
	writeError(w, status, err)
}
