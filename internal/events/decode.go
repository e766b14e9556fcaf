package events

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ErrMalformedEvent is returned when a webhook body cannot be turned into an
// Event. The processor will not fix it by retrying.
var ErrMalformedEvent = errors.New("events: malformed event")

// RawEvent is the webhook body after signature verification.
type RawEvent struct {
	EventType      string  `json:"eventType" validate:"required"`
	CreatorID      *string `json:"creatorId"`
	SourceObjectID string  `json:"sourceObjectId" validate:"required"`
	ChargeID       string  `json:"chargeId,omitempty"`
	GrossAmount    *int64  `json:"grossAmount,omitempty"`
	RefundedAmount *int64  `json:"refundedAmount,omitempty"`
	FeeAmount      *int64  `json:"feeAmount,omitempty"`
	Currency       string  `json:"currency"`
}

type paymentFields struct {
	GrossAmount *int64 `validate:"required,gte=0"`
	FeeAmount   *int64 `validate:"required,gte=0"`
	Currency    string `validate:"required,len=3"`
}

type reversalFields struct {
	RefundedAmount *int64 `validate:"required,gte=0"`
	FeeAmount      *int64 `validate:"required,gte=0"`
	Currency       string `validate:"required,len=3"`
}

// Decoder validates webhook bodies at the boundary.
type Decoder struct {
	validate *validator.Validate
}

// NewDecoder creates a Decoder.
func NewDecoder() *Decoder {
	return &Decoder{validate: validator.New()}
}

// Decode parses and validates a JSON webhook body.
func (d *Decoder) Decode(data []byte) (Event, error) {
	var raw RawEvent
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	return d.Parse(raw)
}

// Parse narrows raw into its variant. Unknown kinds are never an error; only
// the fields a supported kind needs are checked.
func (d *Decoder) Parse(raw RawEvent) (Event, error) {
	if err := d.validate.Struct(&raw); err != nil {
		return nil, malformed(err)
	}

	kind := Kind(raw.EventType)
	if !kind.Supported() {
		return Unsupported{EventKind: kind, Source: raw.SourceObjectID}, nil
	}

	switch kind {
	case KindPaymentSucceeded:
		fields := paymentFields{GrossAmount: raw.GrossAmount, FeeAmount: raw.FeeAmount, Currency: raw.Currency}
		if err := d.validate.Struct(&fields); err != nil {
			return nil, malformed(err)
		}
		if *raw.FeeAmount > *raw.GrossAmount {
			return nil, fmt.Errorf("%w: feeAmount %d exceeds grossAmount %d", ErrMalformedEvent, *raw.FeeAmount, *raw.GrossAmount)
		}
	default:
		fields := reversalFields{RefundedAmount: raw.RefundedAmount, FeeAmount: raw.FeeAmount, Currency: raw.Currency}
		// feeAmount is the fee of the original charge and may exceed a
		// partial refund; it is reversed in full.
		if err := d.validate.Struct(&fields); err != nil {
			return nil, malformed(err)
		}
	}

	if raw.CreatorID == nil || *raw.CreatorID == "" {
		return Unresolved{EventKind: kind, Source: raw.SourceObjectID}, nil
	}

	if kind == KindPaymentSucceeded {
		return PaymentSucceeded{
			CreatorID: *raw.CreatorID,
			Source:    raw.SourceObjectID,
			ChargeID:  raw.ChargeID,
			Gross:     *raw.GrossAmount,
			Fee:       *raw.FeeAmount,
			Currency:  raw.Currency,
		}, nil
	}

	return Reversal{
		Reason:    kind,
		CreatorID: *raw.CreatorID,
		Source:    raw.SourceObjectID,
		ChargeID:  raw.ChargeID,
		Refunded:  *raw.RefundedAmount,
		Fee:       *raw.FeeAmount,
		Currency:  raw.Currency,
	}, nil
}

func malformed(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
	}
	return fmt.Errorf("%w: %s", ErrMalformedEvent, strings.Join(msgs, "; "))
}
