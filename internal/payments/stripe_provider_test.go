package payments

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v78"
)

func TestNormaliseStripeEventSucceeded(t *testing.T) {
	raw, err := json.Marshal(map[string]any{
		"id":       "pi_123",
		"amount":   3450,
		"currency": "usd",
	})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}

	event := stripe.Event{
		ID:      "evt_1",
		Type:    "payment_intent.succeeded",
		Created: time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC).Unix(),
		Data:    &stripe.EventData{Raw: raw},
	}

	out, err := normaliseStripeEvent(event, time.Now())
	if err != nil {
		t.Fatalf("normalise event: %v", err)
	}
	if out.Type != EventPaymentSucceeded {
		t.Fatalf("expected succeeded event, got %q", out.Type)
	}
	if out.IntentID != "pi_123" {
		t.Fatalf("unexpected intent id %q", out.IntentID)
	}
	if out.Amount != 3450 || out.Currency != "USD" {
		t.Fatalf("unexpected amount/currency: %d %q", out.Amount, out.Currency)
	}
}

func TestNormaliseStripeEventFailureCode(t *testing.T) {
	raw, err := json.Marshal(map[string]any{
		"id": "pi_456",
		"last_payment_error": map[string]any{
			"code": "card_declined",
		},
	})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}

	event := stripe.Event{
		ID:   "evt_2",
		Type: "payment_intent.payment_failed",
		Data: &stripe.EventData{Raw: raw},
	}

	out, err := normaliseStripeEvent(event, time.Now())
	if err != nil {
		t.Fatalf("normalise event: %v", err)
	}
	if out.Type != EventPaymentFailed {
		t.Fatalf("expected failed event, got %q", out.Type)
	}
	if out.FailureCode != "card_declined" {
		t.Fatalf("unexpected failure code %q", out.FailureCode)
	}
}

func TestNormaliseStripeEventIgnoresUnknownTypes(t *testing.T) {
	event := stripe.Event{
		ID:   "evt_3",
		Type: "charge.updated",
		Data: &stripe.EventData{Raw: []byte(`{}`)},
	}

	out, err := normaliseStripeEvent(event, time.Now())
	if err != nil {
		t.Fatalf("normalise event: %v", err)
	}
	if out.Type != EventIgnored {
		t.Fatalf("expected ignored event, got %q", out.Type)
	}
}

func TestStripeIntentStatusMapping(t *testing.T) {
	cases := []struct {
		in   stripe.PaymentIntentStatus
		want Status
	}{
		{stripe.PaymentIntentStatusSucceeded, StatusSucceeded},
		{stripe.PaymentIntentStatusCanceled, StatusCancelled},
		{stripe.PaymentIntentStatusRequiresAction, StatusPending},
		{stripe.PaymentIntentStatusProcessing, StatusPending},
	}
	for _, tc := range cases {
		if got := stripeIntentStatus(tc.in); got != tc.want {
			t.Fatalf("status %q: expected %q, got %q", tc.in, tc.want, got)
		}
	}
}
