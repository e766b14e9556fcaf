package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/example/creator-ledger/internal/engine"
	"github.com/example/creator-ledger/internal/ledger"
	"github.com/example/creator-ledger/internal/security"
)

const (
	defaultEntriesLimit = 100
	maxEntriesLimit     = 1000
)

type webhookResponse struct {
	CorrelationID string `json:"correlation_id"`
	Outcome       string `json:"outcome"`
	Entries       int    `json:"entries"`
}

type balanceResponse struct {
	CorrelationID string     `json:"correlation_id"`
	AccountID     string     `json:"account_id"`
	Currency      string     `json:"currency"`
	Balance       amountView `json:"balance"`
}

type entriesResponse struct {
	CorrelationID string         `json:"correlation_id"`
	Entries       []ledger.Entry `json:"entries"`
	Truncated     bool           `json:"truncated,omitempty"`
}

type reconciliationResponse struct {
	CorrelationID string `json:"correlation_id"`
	Balanced      bool   `json:"balanced"`
	engine.ChargeReport
}

// wireOutcome is the outcome vocabulary the processor's retry logic sees.
func wireOutcome(o engine.Outcome) string {
	if o == engine.OutcomeDuplicate {
		return "already_applied"
	}
	return string(o)
}

func handleWebhook(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Engine == nil {
			security.WriteJSONError(w, r, http.StatusServiceUnavailable, "temporarily_unavailable")
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			security.WriteJSONError(w, r, http.StatusBadRequest, "invalid_request")
			return
		}

		ev, err := deps.Decoder.Decode(body)
		if err != nil {
			deps.Logger.WarnContext(r.Context(), "rejected webhook event",
				"cid", security.CorrelationIDFromContext(r.Context()),
				"error", err,
			)
			security.WriteJSONError(w, r, http.StatusBadRequest, "malformed_event")
			return
		}

		res, err := deps.Engine.Ingest(r.Context(), ev)
		if err != nil {
			security.WriteJSONError(w, r, http.StatusServiceUnavailable, "temporarily_unavailable")
			return
		}

		writeJSON(w, r, http.StatusOK, webhookResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			Outcome:       wireOutcome(res.Outcome),
			Entries:       len(res.Entries),
		})
	}
}

func handleReady(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Store == nil {
			security.WriteJSONError(w, r, http.StatusServiceUnavailable, "store_unavailable")
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := deps.Store.Ping(ctx); err != nil {
			deps.Logger.WarnContext(r.Context(), "readiness check failed", "error", err)
			security.WriteJSONError(w, r, http.StatusServiceUnavailable, "store_unavailable")
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// currencyParam returns the requested currency or the default. ok is false
// when the value is not a lowercase ISO 4217 code.
func currencyParam(r *http.Request, fallback string) (string, bool) {
	currency := r.URL.Query().Get("currency")
	if currency == "" {
		currency = fallback
	}
	return currency, ledger.NewValidator().ValidateCurrencyCode(currency).IsValid
}

func handleEarnings(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Earnings == nil {
			security.WriteJSONError(w, r, http.StatusServiceUnavailable, "earnings_temporarily_unavailable")
			return
		}

		creatorID := chi.URLParam(r, "creatorID")
		currency, ok := currencyParam(r, deps.DefaultCurrency)
		if !ok {
			security.WriteJSONError(w, r, http.StatusBadRequest, "invalid_currency")
			return
		}

		summary, err := deps.Earnings.Earnings(r.Context(), creatorID, currency)
		if err != nil {
			deps.Logger.ErrorContext(r.Context(), "earnings query failed", "creator_id", creatorID, "error", err)
			security.WriteJSONError(w, r, http.StatusServiceUnavailable, "earnings_temporarily_unavailable")
			return
		}

		writeJSON(w, r, http.StatusOK, newEarningsResponse(security.CorrelationIDFromContext(r.Context()), summary))
	}
}

func handleBalance(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Earnings == nil {
			security.WriteJSONError(w, r, http.StatusServiceUnavailable, "temporarily_unavailable")
			return
		}

		accountID := chi.URLParam(r, "accountID")
		currency, ok := currencyParam(r, deps.DefaultCurrency)
		if !ok {
			security.WriteJSONError(w, r, http.StatusBadRequest, "invalid_currency")
			return
		}

		bal, err := deps.Earnings.CurrentBalance(r.Context(), accountID, currency)
		if err != nil {
			deps.Logger.ErrorContext(r.Context(), "balance query failed", "account_id", accountID, "error", err)
			security.WriteJSONError(w, r, http.StatusServiceUnavailable, "temporarily_unavailable")
			return
		}

		writeJSON(w, r, http.StatusOK, balanceResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			AccountID:     accountID,
			Currency:      currency,
			Balance:       newAmountView(bal),
		})
	}
}

func parseRange(r *http.Request) (ledger.Range, error) {
	var rng ledger.Range
	if v := r.URL.Query().Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return rng, err
		}
		rng.Since = t
	}
	if v := r.URL.Query().Get("until"); v != "" {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return rng, err
		}
		rng.Until = t
	}
	return rng, nil
}

func handleAccountEntries(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Store == nil {
			security.WriteJSONError(w, r, http.StatusServiceUnavailable, "temporarily_unavailable")
			return
		}

		rng, err := parseRange(r)
		if err != nil {
			security.WriteJSONError(w, r, http.StatusBadRequest, "invalid_range")
			return
		}

		limit := defaultEntriesLimit
		if v := r.URL.Query().Get("limit"); v != "" {
			i, err := strconv.Atoi(v)
			if err != nil || i <= 0 {
				security.WriteJSONError(w, r, http.StatusBadRequest, "invalid_limit")
				return
			}
			limit = min(i, maxEntriesLimit)
		}

		accountID := chi.URLParam(r, "accountID")
		resp := entriesResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			Entries:       []ledger.Entry{},
		}
		for entry, err := range deps.Store.QueryByAccount(r.Context(), accountID, rng) {
			if err != nil {
				deps.Logger.ErrorContext(r.Context(), "entries query failed", "account_id", accountID, "error", err)
				security.WriteJSONError(w, r, http.StatusServiceUnavailable, "temporarily_unavailable")
				return
			}
			if len(resp.Entries) == limit {
				resp.Truncated = true
				break
			}
			resp.Entries = append(resp.Entries, entry)
		}

		writeJSON(w, r, http.StatusOK, resp)
	}
}

func handleSourceEntries(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Store == nil {
			security.WriteJSONError(w, r, http.StatusServiceUnavailable, "temporarily_unavailable")
			return
		}

		sourceObjectID := chi.URLParam(r, "sourceObjectID")
		entries, err := deps.Store.QueryBySource(r.Context(), sourceObjectID)
		if err != nil {
			deps.Logger.ErrorContext(r.Context(), "source query failed", "source_object_id", sourceObjectID, "error", err)
			security.WriteJSONError(w, r, http.StatusServiceUnavailable, "temporarily_unavailable")
			return
		}
		if len(entries) == 0 {
			security.WriteJSONError(w, r, http.StatusNotFound, "source_not_found")
			return
		}

		writeJSON(w, r, http.StatusOK, entriesResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			Entries:       entries,
		})
	}
}

func handleReconciliation(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Engine == nil {
			security.WriteJSONError(w, r, http.StatusServiceUnavailable, "temporarily_unavailable")
			return
		}

		paymentSourceID := chi.URLParam(r, "paymentSourceID")
		report, err := deps.Engine.ReconcileCharge(r.Context(), paymentSourceID, r.URL.Query()["reversal"]...)
		switch {
		case errors.Is(err, engine.ErrChargeNotFound):
			security.WriteJSONError(w, r, http.StatusNotFound, "charge_not_found")
			return
		case err != nil:
			deps.Logger.ErrorContext(r.Context(), "reconciliation failed", "source_object_id", paymentSourceID, "error", err)
			security.WriteJSONError(w, r, http.StatusServiceUnavailable, "temporarily_unavailable")
			return
		}

		writeJSON(w, r, http.StatusOK, reconciliationResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			Balanced:      report.Balanced(),
			ChargeReport:  report,
		})
	}
}
