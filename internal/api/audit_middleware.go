package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/example/creator-ledger/internal/security"
	"github.com/example/creator-ledger/pkg/audit"
)

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Probes and scrapes would drown the chain.
var unaudited = map[string]bool{
	"/healthz": true,
	"/readyz":  true,
	"/metrics": true,
}

func AuditMiddleware(a audit.Recorder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if unaudited[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

			start := time.Now()
			next.ServeHTTP(sw, r)
			dur := time.Since(start)

			_, _ = a.Record(audit.Record{
				Action:        "http_request",
				Outcome:       strconv.Itoa(sw.status),
				CorrelationID: security.CorrelationIDFromContext(r.Context()),
				Detail:        fmt.Sprintf("method=%s path=%s dur_ms=%d", r.Method, r.URL.Path, dur.Milliseconds()),
			})
		})
	}
}
