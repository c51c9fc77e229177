package api

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xraph/herald"
	"github.com/xraph/herald/dlq"
	"github.com/xraph/herald/facade"
	"github.com/xraph/herald/id"
)

func (a *API) listDLQ(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	entries, err := a.eng.DLQService().List(r.Context(), dlq.ListOpts{
		Limit:   defaultLimit(limit),
		Offset:  offset,
		JobType: r.URL.Query().Get("type"),
	})
	if err != nil {
		a.writeError(w, r, fmt.Errorf("list dlq: %w", err))
		return
	}
	if entries == nil {
		entries = []*dlq.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (a *API) replayDLQ(w http.ResponseWriter, r *http.Request) {
	entryID, err := id.ParseDLQID(chi.URLParam(r, "entryId"))
	if err != nil {
		a.writeError(w, r, fmt.Errorf("%w: invalid DLQ entry ID: %v", herald.ErrValidation, err))
		return
	}

	j, err := a.eng.Replay(r.Context(), entryID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, facade.Ticket{JobID: j.ID, Type: j.Type, State: j.State})
}
