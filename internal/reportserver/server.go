// Package reportserver exposes a minimal read-only HTTP surface over a run's
// aggregated results, grounded on the teacher's chi+cors+httprate router.
// Printing/export of human-facing reports is an external collaborator out of
// scope for this harness core; this package only serves the underlying JSON.
package reportserver

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/fairyhunter13/benchforge/internal/aggregator"
)

// SummaryProvider supplies the latest run summary on demand. A real
// implementation reads from the orchestrator/aggregator pipeline once a run
// is complete; tests can substitute a func literal.
type SummaryProvider func() aggregator.Summary

// ParseOrigins splits a comma-separated CORS allow-list into a slice,
// trimming whitespace and dropping empty entries.
func ParseOrigins(raw string) []string {
	if raw == "" {
		return []string{"*"}
	}
	var out []string
	for _, o := range strings.Split(raw, ",") {
		o = strings.TrimSpace(o)
		if o != "" {
			out = append(out, o)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}

// BuildRouter assembles the read-only report server's routes.
func BuildRouter(allowedOrigins []string, provide SummaryProvider) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.Timeout(10 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{"GET"},
	}))
	r.Use(httprate.LimitByIP(60, time.Minute))

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/summary", func(w http.ResponseWriter, req *http.Request) {
		summary := provide()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(summary)
	})

	return otelhttp.NewHandler(r, "report-server")
}
