// Package httpapi is the HTTP edge of the pipeline: it resolves tenancy
// context from request headers through an authentication provider, maps
// dispatch outcomes onto status codes, and serves the command endpoint.
package httpapi

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/bosworks/bos/core/pkg/reject"
)

// StatusFor maps a rejection code onto its HTTP status. Unlisted codes are
// business-rule denials and answer 409.
func StatusFor(code reject.Code) int {
	switch code {
	case reject.CodeRateLimitExceeded:
		return http.StatusTooManyRequests
	case reject.CodeSystemDegraded, reject.CodeFeatureDisabled, reject.CodeDocumentFeatureDisabled:
		return http.StatusServiceUnavailable
	case reject.CodeAIExecutionForbidden, reject.CodeSecurityAnomalyDetected,
		reject.CodeBusinessSuspended, reject.CodeBusinessClosed, reject.CodeBusinessLegalHold:
		return http.StatusForbidden
	case reject.CodeBusinessIDMismatch, reject.CodeBranchRequiredMissing,
		reject.CodeBranchNotInBusiness, reject.CodeNoActiveContext:
		return http.StatusBadRequest
	}

	s := string(code)
	switch {
	case strings.HasPrefix(s, "PERMISSION_"), strings.HasPrefix(s, "ACTOR_"):
		return http.StatusForbidden
	case strings.HasPrefix(s, "INVALID_"):
		return http.StatusBadRequest
	}
	return http.StatusConflict
}

// WriteRejection writes the rejection envelope verbatim with the mapped
// status. Rate-limit denials additionally carry a Retry-After header.
func WriteRejection(w http.ResponseWriter, r reject.Rejection) {
	status := StatusFor(r.Code)
	if status == http.StatusTooManyRequests && r.RetryAfterSeconds > 0 {
		w.Header().Set("Retry-After", fmt.Sprintf("%d", r.RetryAfterSeconds))
	}
	writeJSON(w, status, r)
}

// WriteInternal answers 500 without leaking the underlying error.
func WriteInternal(w http.ResponseWriter, logger *slog.Logger, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger.Error("internal server error", "error", err)
	writeJSON(w, http.StatusInternalServerError, map[string]string{
		"code":        "INTERNAL_ERROR",
		"message":     "an unexpected error occurred",
		"policy_name": "",
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
