package handler

import (
	"net/http"

	"github.com/alanyoungcy/dexarb/internal/domain"
)

// TotalsSource exposes the ledger's running totals.
type TotalsSource interface {
	Totals() domain.Totals
}

// BoostSource exposes volume boost progress.
type BoostSource interface {
	State() domain.VolumeBoostState
}

// LedgerHandler serves GET /api/totals.
type LedgerHandler struct {
	totals TotalsSource
	boost  BoostSource
}

// NewLedgerHandler creates a LedgerHandler. boost may be nil outside volume
// mode.
func NewLedgerHandler(totals TotalsSource, boost BoostSource) *LedgerHandler {
	return &LedgerHandler{totals: totals, boost: boost}
}

type totalsResponse struct {
	domain.Totals
	Net   string                   `json:"net"`
	Boost *domain.VolumeBoostState `json:"volume_boost,omitempty"`
}

// Totals writes cumulative volume, profit and loss with the boost state.
func (h *LedgerHandler) Totals(w http.ResponseWriter, r *http.Request) {
	t := h.totals.Totals()
	resp := totalsResponse{Totals: t, Net: t.Net().String()}
	if h.boost != nil {
		if st := h.boost.State(); st.Enabled {
			resp.Boost = &st
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
