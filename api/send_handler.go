package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/xraph/herald"
	"github.com/xraph/herald/facade"
	"github.com/xraph/herald/job"
	"github.com/xraph/herald/send"
)

type mode string

const (
	modeWait  mode = "wait"
	modeAsync mode = "async"
)

func parseMode(r *http.Request) (mode, error) {
	switch m := mode(r.URL.Query().Get("mode")); m {
	case "", modeWait:
		return modeWait, nil
	case modeAsync:
		return modeAsync, nil
	default:
		return "", fmt.Errorf("%w: mode must be wait or async, got %q", herald.ErrValidation, m)
	}
}

// DispatchResponse is returned by dispatching routes. In async mode only
// Ticket is set; in wait mode JobID and Result are.
type DispatchResponse struct {
	JobID  string         `json:"job_id,omitempty"`
	Ticket *facade.Ticket `json:"ticket,omitempty"`
	Plan   *send.Plan     `json:"plan,omitempty"`
	Result any            `json:"result,omitempty"`
}

func (a *API) sendContact(w http.ResponseWriter, r *http.Request) {
	m, err := parseMode(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	var req send.ContactRequest
	if err := decodeJSON(w, r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	payload, err := a.sends.PrepareContact(r.Context(), req)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	dispatch[send.ContactResult](a, w, r, m, send.TypeContact, payload, req.UserID, nil)
}

func (a *API) sendGroup(w http.ResponseWriter, r *http.Request) {
	m, err := parseMode(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	var req send.GroupRequest
	if err := decodeJSON(w, r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	payload, plan, err := a.sends.PrepareGroup(r.Context(), req)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	dispatch[send.BatchResult](a, w, r, m, send.TypeGroup, payload, req.UserID, &plan)
}

func (a *API) sendBulk(w http.ResponseWriter, r *http.Request) {
	m, err := parseMode(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	var req send.BulkRequest
	if err := decodeJSON(w, r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	payload, plan, err := a.sends.PrepareBulk(r.Context(), req)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	dispatch[send.BatchResult](a, w, r, m, send.TypeBulk, payload, req.UserID, &plan)
}

// dispatch enqueues payload and answers according to m.
func dispatch[R any](a *API, w http.ResponseWriter, r *http.Request, m mode, jobType string, payload any, userID string, plan *send.Plan) {
	ctx := r.Context()
	ticket, err := facade.DispatchAsync(ctx, a.facade, jobType, payload, job.WithUser(userID))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if m == modeAsync {
		writeJSON(w, http.StatusAccepted, DispatchResponse{Ticket: &ticket, Plan: plan})
		return
	}

	if a.waitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.waitTimeout)
		defer cancel()
	}
	res, err := facade.Wait[R](ctx, a.facade, ticket.JobID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, DispatchResponse{JobID: ticket.JobID.String(), Plan: plan, Result: res})
}
