package api

import (
	"fmt"
	"net/http"

	"github.com/xraph/herald/job"
)

// StateCounts holds job counts by state.
type StateCounts struct {
	Waiting   int64 `json:"waiting"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

// StatsResponse is returned by GET /v1/stats.
type StatsResponse struct {
	Types    map[string]StateCounts `json:"types"`
	DLQCount int64                  `json:"dlq_count"`
}

func (a *API) stats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	js := a.eng.JobStore()

	resp := StatsResponse{Types: make(map[string]StateCounts)}
	for _, jobType := range a.eng.Registry().Types() {
		var c StateCounts
		for _, state := range []job.State{
			job.StateWaiting, job.StateActive, job.StateCompleted, job.StateFailed,
		} {
			n, err := js.CountJobs(ctx, job.CountOpts{Type: jobType, State: state})
			if err != nil {
				a.writeError(w, r, fmt.Errorf("count %s jobs (%s): %w", jobType, state, err))
				return
			}
			switch state {
			case job.StateWaiting:
				c.Waiting = n
			case job.StateActive:
				c.Active = n
			case job.StateCompleted:
				c.Completed = n
			case job.StateFailed:
				c.Failed = n
			}
		}
		resp.Types[jobType] = c
	}

	dlqCount, err := a.eng.DLQService().DLQStore().CountDLQ(ctx)
	if err != nil {
		a.writeError(w, r, fmt.Errorf("count dlq: %w", err))
		return
	}
	resp.DLQCount = dlqCount

	writeJSON(w, http.StatusOK, resp)
}
