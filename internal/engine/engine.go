// Package engine wires event mapping, idempotent claims and persistence into
// the single entry point the webhook handler calls.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/creator-ledger/internal/events"
	"github.com/example/creator-ledger/internal/ledger"
	"github.com/example/creator-ledger/internal/metrics"
	"github.com/example/creator-ledger/internal/security"
	"github.com/example/creator-ledger/pkg/audit"
)

// Outcome is what happened to one delivered event.
type Outcome string

const (
	// OutcomeApplied means new entries were persisted.
	OutcomeApplied Outcome = "applied"
	// OutcomeDuplicate means the event was applied by an earlier delivery.
	OutcomeDuplicate Outcome = "duplicate"
	// OutcomeIgnored means the event maps to no entries.
	OutcomeIgnored Outcome = "ignored"

	outcomeFailed = "failed"
)

// Result describes one Ingest call. Entries is set only when applied.
type Result struct {
	Outcome Outcome
	Entries []ledger.Entry
}

// Options configures an Engine. Zero values select defaults.
type Options struct {
	PlatformAccountID string
	StoreTimeout      time.Duration
	Logger            *slog.Logger
	Audit             audit.Recorder
}

// Engine is safe for concurrent use; it holds no per-event state.
type Engine struct {
	store     ledger.Store
	guard     *ledger.Guard
	mapper    *events.Mapper
	validator *ledger.Validator
	audit     audit.Recorder
	logger    *slog.Logger
	timeout   time.Duration
}

// New creates an Engine writing to store.
func New(store ledger.Store, opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := opts.StoreTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	return &Engine{
		store:     store,
		guard:     ledger.NewGuard(store),
		mapper:    events.NewMapper(opts.PlatformAccountID),
		validator: ledger.NewValidator(),
		audit:     opts.Audit,
		logger:    logger,
		timeout:   timeout,
	}
}

// Ingest maps ev and persists the result at most once.
//
// A redelivered event returns OutcomeDuplicate with a nil error. A store
// failure, including a timeout, is returned wrapped; the caller must not assume
// the batch was or was not written and should let the processor retry.
func (e *Engine) Ingest(ctx context.Context, ev events.Event) (Result, error) {
	drafts := e.mapper.Map(ev)
	if len(drafts) == 0 {
		e.finish(ctx, ev, string(OutcomeIgnored), 0, nil)
		return Result{Outcome: OutcomeIgnored}, nil
	}

	storeCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	start := time.Now()
	claimed, entries, err := e.guard.Claim(storeCtx, drafts)
	metrics.ObserveStore("append_batch", start)
	if err != nil {
		e.finish(ctx, ev, outcomeFailed, 0, err)
		return Result{}, fmt.Errorf("failed to ingest %s %s: %w", ev.Kind(), ev.SourceObjectID(), err)
	}

	if !claimed {
		e.finish(ctx, ev, string(OutcomeDuplicate), 0, nil)
		return Result{Outcome: OutcomeDuplicate}, nil
	}

	for _, entry := range entries {
		metrics.EntriesAppended.WithLabelValues(string(entry.EventType)).Inc()
	}
	e.finish(ctx, ev, string(OutcomeApplied), len(entries), nil)
	return Result{Outcome: OutcomeApplied, Entries: entries}, nil
}

func (e *Engine) finish(ctx context.Context, ev events.Event, outcome string, n int, err error) {
	metrics.IngestOutcomes.WithLabelValues(kindLabel(ev.Kind()), outcome).Inc()

	cid := security.CorrelationIDFromContext(ctx)
	attrs := []any{
		"cid", cid,
		"source_object_id", ev.SourceObjectID(),
		"event_kind", ev.Kind(),
		"outcome", outcome,
		"entries", n,
	}

	rec := audit.Record{
		Action:         "ingest",
		SourceObjectID: ev.SourceObjectID(),
		EventKind:      string(ev.Kind()),
		Outcome:        outcome,
		Entries:        n,
		CorrelationID:  cid,
	}

	if err != nil {
		rec.Detail = err.Error()
		e.logger.ErrorContext(ctx, "ingest failed", append(attrs, "error", err)...)
	} else {
		e.logger.InfoContext(ctx, "ingest", attrs...)
	}

	if e.audit != nil {
		if _, aerr := e.audit.Record(rec); aerr != nil {
			e.logger.WarnContext(ctx, "audit record failed", "error", aerr)
		}
	}
}

// kindLabel bounds the metric label set; unsupported kinds are sender-chosen.
func kindLabel(k events.Kind) string {
	if !k.Supported() {
		return "other"
	}
	return string(k)
}
