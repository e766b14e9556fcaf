package api

import (
	"context"
	"log/slog"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/example/creator-ledger/internal/earnings"
	"github.com/example/creator-ledger/internal/engine"
	"github.com/example/creator-ledger/internal/events"
	"github.com/example/creator-ledger/internal/ledger"
	"github.com/example/creator-ledger/internal/metrics"
	"github.com/example/creator-ledger/internal/money"
	"github.com/example/creator-ledger/internal/security"
	"github.com/example/creator-ledger/pkg/audit"
)

// Ingester is the write side the webhook handler drives.
type Ingester interface {
	Ingest(ctx context.Context, ev events.Event) (engine.Result, error)
	ReconcileCharge(ctx context.Context, paymentSourceID string, reversalSourceIDs ...string) (engine.ChargeReport, error)
}

// EarningsReader serves creator-facing projections.
type EarningsReader interface {
	Earnings(ctx context.Context, creatorID, currency string) (earnings.Summary, error)
	CurrentBalance(ctx context.Context, accountID, currency string) (money.Money, error)
}

type Dependencies struct {
	Logger *slog.Logger

	Engine   Ingester
	Earnings EarningsReader
	Store    ledger.Store
	Decoder  *events.Decoder

	Audit              audit.Recorder
	RateLimiter        *security.RedisTokenBucket
	IPAllowlist        []*net.IPNet
	CORSAllowedOrigins []string
	MaxBodyBytes       int64
	DefaultCurrency    string
}

func NewRouter(deps Dependencies) (http.Handler, error) {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Decoder == nil {
		deps.Decoder = events.NewDecoder()
	}
	if deps.DefaultCurrency == "" {
		deps.DefaultCurrency = "usd"
	}

	webhookV, err := security.NewJSONSchemaValidator("webhook_event.json", webhookEventSchema, "malformed_event")
	if err != nil {
		return nil, err
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(security.CorrelationID)
	r.Use(metrics.Middleware)
	r.Use(RequestLogger(deps.Logger))
	if deps.Audit != nil {
		r.Use(AuditMiddleware(deps.Audit))
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/readyz", handleReady(deps))
	r.Handle("/metrics", metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(security.IPAllowlist(deps.IPAllowlist))
		if deps.RateLimiter != nil {
			r.Use(security.RateLimitMiddleware(deps.RateLimiter, security.KeyByRemoteIP, metrics.RateLimited.Inc))
		}
		r.Use(security.BodySizeLimit(deps.MaxBodyBytes))
		r.With(webhookV.Middleware).Post("/webhooks/payments", handleWebhook(deps))
	})

	r.Route("/v1", func(r chi.Router) {
		if len(deps.CORSAllowedOrigins) > 0 {
			r.Use(cors.Handler(cors.Options{
				AllowedOrigins: deps.CORSAllowedOrigins,
				AllowedMethods: []string{http.MethodGet, http.MethodOptions},
				AllowedHeaders: []string{"Accept", "Content-Type", security.CorrelationIDHeader},
				ExposedHeaders: []string{security.CorrelationIDHeader},
				MaxAge:         300,
			}))
		}

		r.Get("/creators/{creatorID}/earnings", handleEarnings(deps))
		r.Get("/accounts/{accountID}/balance", handleBalance(deps))
		r.Get("/accounts/{accountID}/entries", handleAccountEntries(deps))
		r.Get("/sources/{sourceObjectID}/entries", handleSourceEntries(deps))
		r.Get("/charges/{paymentSourceID}/reconciliation", handleReconciliation(deps))
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		security.WriteJSONError(w, r, http.StatusNotFound, "not_found")
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		security.WriteJSONError(w, r, http.StatusMethodNotAllowed, "method_not_allowed")
	})

	return r, nil
}
