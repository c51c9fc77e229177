package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xraph/herald/ledger"
	"github.com/xraph/herald/recipient"
)

// EstimateResponse is returned by the estimate route.
type EstimateResponse struct {
	UserID   string `json:"user_id"`
	Channel  string `json:"channel"`
	Kind     string `json:"kind"`
	Count    int    `json:"count"`
	UnitCost int64  `json:"unit_cost"`
	CanSend  bool   `json:"can_send"`
	Balance  int64  `json:"current_balance"`
	Required int64  `json:"required_cost"`
	Deficit  int64  `json:"deficit"`
}

func (a *API) estimate(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")
	channel := ledger.Channel(chi.URLParam(r, "channel"))

	kind := recipient.Kind(r.URL.Query().Get("kind"))
	if kind == "" {
		kind = recipient.KindSMS
	}
	count, err := queryInt(r, "count", 1)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	est, err := a.sends.Estimate(r.Context(), userID, channel, kind, count)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, EstimateResponse{
		UserID:   userID,
		Channel:  string(channel),
		Kind:     string(kind),
		Count:    count,
		UnitCost: a.sends.Pricing().UnitCost(kind),
		CanSend:  est.CanSend,
		Balance:  est.CurrentBalance,
		Required: est.RequiredCost,
		Deficit:  est.Deficit,
	})
}
