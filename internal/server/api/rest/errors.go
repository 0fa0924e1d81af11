package rest

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/nikatrade/referrald/internal/core/accrual"
	"github.com/nikatrade/referrald/internal/core/referral"
	"github.com/nikatrade/referrald/internal/storage/relationaldb"
)

// writeError translates a core error into an HTTP status and a {detail}
// body. Rule violations surface as client errors with their message; store
// faults are logged and surface as an opaque 500.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	detail := "internal error"

	switch {
	case errors.Is(err, referral.ErrUnknownCode),
		errors.Is(err, referral.ErrSelfReferral),
		errors.Is(err, referral.ErrAlreadyReferred),
		errors.Is(err, referral.ErrCycle),
		errors.Is(err, accrual.ErrInvalidEvent),
		errors.Is(err, accrual.ErrNoBalance),
		errors.Is(err, accrual.ErrNothingToClaim):
		status = http.StatusBadRequest
		detail = err.Error()

	case errors.Is(err, relationaldb.ErrUserNotFound):
		status = http.StatusNotFound
		detail = "unknown user"

	case errors.Is(err, relationaldb.ErrConflictRetry):
		status = http.StatusConflict
		detail = "transient conflict, retry"

	case errors.Is(err, accrual.ErrMisconfigured):
		log.Printf("request failed: %v", err)
		detail = err.Error()

	default:
		log.Printf("request failed: %v", err)
	}

	writeJSON(w, status, errorResponse{Detail: detail})
}

func badRequest(w http.ResponseWriter, detail string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Detail: detail})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}
