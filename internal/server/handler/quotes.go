package handler

import (
	"net/http"
	"sort"
	"time"

	"github.com/alanyoungcy/dexarb/internal/domain"
)

// QuoteSource exposes the monitor's latest mapping.
type QuoteSource interface {
	Snapshot() domain.QuoteSet
}

// QuoteHandler serves GET /api/quotes.
type QuoteHandler struct {
	source    QuoteSource
	staleness time.Duration
	now       func() time.Time
}

// NewQuoteHandler creates a QuoteHandler. Quotes older than staleness are
// flagged stale in the response.
func NewQuoteHandler(source QuoteSource, staleness time.Duration) *QuoteHandler {
	return &QuoteHandler{source: source, staleness: staleness, now: time.Now}
}

type quoteView struct {
	domain.Quote
	AgeMS int64 `json:"age_ms"`
	Stale bool  `json:"stale"`
}

// ListQuotes writes every known quote sorted by pair then DEX. ?pair=
// narrows the result.
func (h *QuoteHandler) ListQuotes(w http.ResponseWriter, r *http.Request) {
	now := h.now()
	pair := r.URL.Query().Get("pair")

	out := make([]quoteView, 0)
	for _, q := range h.source.Snapshot() {
		if pair != "" && q.Pair != pair {
			continue
		}
		out = append(out, quoteView{
			Quote: q,
			AgeMS: q.Age(now).Milliseconds(),
			Stale: !q.Fresh(now, h.staleness),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Pair != out[j].Pair {
			return out[i].Pair < out[j].Pair
		}
		return out[i].DEX < out[j].DEX
	})
	writeJSON(w, http.StatusOK, out)
}
