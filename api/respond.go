package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/xraph/herald"
	"github.com/xraph/herald/facade"
)

const maxBodyBytes = 10 << 20

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error    string `json:"error"`
	JobID    string `json:"job_id,omitempty"`
	Attempts int    `json:"attempts,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v) //nolint:errcheck // client went away
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: decode request body: %v", herald.ErrValidation, err)
	}
	return nil
}

// statusFor maps herald errors to HTTP status codes.
func statusFor(err error) int {
	var jobErr *facade.JobError
	switch {
	case errors.As(err, &jobErr):
		return http.StatusBadGateway
	case errors.Is(err, herald.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, herald.ErrInsufficientBalance):
		return http.StatusPaymentRequired
	case errors.Is(err, herald.ErrJobNotFound),
		errors.Is(err, herald.ErrDLQNotFound),
		errors.Is(err, herald.ErrContactNotFound),
		errors.Is(err, herald.ErrGroupNotFound),
		errors.Is(err, herald.ErrBalanceNotFound):
		return http.StatusNotFound
	case errors.Is(err, herald.ErrQueueBackend):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	resp := ErrorResponse{Error: err.Error()}

	var jobErr *facade.JobError
	if errors.As(err, &jobErr) {
		resp.JobID = jobErr.JobID.String()
		resp.Attempts = jobErr.Attempts
	}

	if status >= http.StatusInternalServerError && status != http.StatusBadGateway {
		a.logger.Error("request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", status),
			slog.String("error", err.Error()),
		)
	}
	writeJSON(w, status, resp)
}

// queryInt parses an optional non-negative integer query parameter.
func queryInt(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", herald.ErrValidation, name)
	}
	return n, nil
}

func defaultLimit(limit int) int {
	if limit <= 0 {
		return 50
	}
	if limit > 500 {
		return 500
	}
	return limit
}
