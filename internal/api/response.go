package api

import (
	"encoding/json"
	"net/http"

	"github.com/example/creator-ledger/internal/earnings"
	"github.com/example/creator-ledger/internal/money"
	"github.com/example/creator-ledger/internal/security"
)

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	cid := security.CorrelationIDFromContext(r.Context())
	if cid != "" {
		w.Header().Set(security.CorrelationIDHeader, cid)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// amountView carries the exact minor units next to a display string.
type amountView struct {
	MinorUnits int64  `json:"minor_units"`
	Display    string `json:"display"`
}

func newAmountView(m money.Money) amountView {
	return amountView{MinorUnits: m.Amount, Display: m.Display()}
}

type monthlyView struct {
	Month string     `json:"month"`
	Gross amountView `json:"gross"`
	Net   amountView `json:"net"`
}

type earningsResponse struct {
	CorrelationID string        `json:"correlation_id"`
	CreatorID     string        `json:"creator_id"`
	Currency      string        `json:"currency"`
	TotalGross    amountView    `json:"total_gross"`
	TotalNet      amountView    `json:"total_net"`
	Monthly       []monthlyView `json:"monthly"`
}

func newEarningsResponse(cid string, s earnings.Summary) earningsResponse {
	resp := earningsResponse{
		CorrelationID: cid,
		CreatorID:     s.CreatorID,
		Currency:      s.Currency,
		TotalGross:    newAmountView(s.TotalGross),
		TotalNet:      newAmountView(s.TotalNet),
		Monthly:       make([]monthlyView, 0, len(s.Monthly)),
	}
	for _, b := range s.Monthly {
		resp.Monthly = append(resp.Monthly, monthlyView{
			Month: b.Month,
			Gross: newAmountView(b.Gross),
			Net:   newAmountView(b.Net),
		})
	}
	return resp
}
