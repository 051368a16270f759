package server

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/alanyoungcy/dexarb/internal/domain"
	"github.com/alanyoungcy/dexarb/internal/server/handler"
)

type emptyTotals struct{}

func (emptyTotals) Totals() domain.Totals { return domain.Totals{} }

type emptyQuotes struct{}

func (emptyQuotes) Snapshot() domain.QuoteSet { return domain.QuoteSet{} }

func newTestServer(apiKey string) *Server {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(Config{Port: 0, APIKey: apiKey}, Handlers{
		Health:     handler.NewHealthHandler("monitor", time.Now()),
		Ledger:     handler.NewLedgerHandler(emptyTotals{}, nil),
		Quotes:     handler.NewQuoteHandler(emptyQuotes{}, time.Minute),
		Executions: handler.NewExecutionHandler(nil, logger),
	}, nil, logger)
}

func TestRoutes(t *testing.T) {
	h := newTestServer("k").Handler()

	tests := []struct {
		target string
		key    string
		want   int
	}{
		{"/api/health", "", http.StatusOK},
		{"/api/totals", "", http.StatusUnauthorized},
		{"/api/totals", "k", http.StatusOK},
		{"/api/quotes", "k", http.StatusOK},
		{"/api/executions", "k", http.StatusNotImplemented},
		{"/api/executions/o-1", "k", http.StatusNotImplemented},
		{"/ws", "k", http.StatusNotFound},
	}
	for _, tc := range tests {
		t.Run(tc.target, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, tc.target, nil)
			if tc.key != "" {
				r.Header.Set("X-API-Key", tc.key)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, r)
			assert.Equal(t, tc.want, w.Code)
		})
	}
}

func TestRoutes_MethodNotAllowed(t *testing.T) {
	w := httptest.NewRecorder()
	newTestServer("").Handler().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/totals", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}
