package eventing

import (
	"testing"
	"time"
)

type tradeEvent struct {
	TradeID         string    `json:"trade_id"`
	BuyerAccountID  string    `json:"buyer_account_id"`
	SellerAccountID string    `json:"seller_account_id"`
	CreditType      string    `json:"credit_type"`
	OccurredAt      time.Time `json:"occurred_at"`
}

type accountEvent struct {
	AccountID string `json:"account_id"`
}

func TestBuildEnvelopeExtractsBothParties(t *testing.T) {
	occurred := time.Date(2026, time.March, 2, 10, 0, 0, 0, time.UTC)
	env, err := BuildEnvelope(tradeEvent{
		TradeID:         "trade-1",
		BuyerAccountID:  "buyer",
		SellerAccountID: "seller",
		CreditType:      "carbon",
		OccurredAt:      occurred,
	}, Meta{})
	if err != nil {
		t.Fatalf("build envelope: %v", err)
	}
	if env.EventType != "eventing.tradeEvent" {
		t.Fatalf("event type = %q", env.EventType)
	}
	if len(env.AccountIDs) != 2 || env.AccountIDs[0] != "buyer" || env.AccountIDs[1] != "seller" {
		t.Fatalf("account ids = %v", env.AccountIDs)
	}
	if env.CreditType != "carbon" || !env.OccurredAt.Equal(occurred) {
		t.Fatalf("envelope = %+v", env)
	}
	if env.EventID == "" || env.CorrelationID != env.EventID || env.SchemaVersion != 1 {
		t.Fatalf("defaults not applied: %+v", env)
	}
	if !env.Concerns("buyer") || !env.Concerns("seller") || env.Concerns("bystander") {
		t.Fatalf("concerns misreported for %v", env.AccountIDs)
	}
}

func TestBuildEnvelopeDeduplicatesSelfTrade(t *testing.T) {
	env, err := BuildEnvelope(tradeEvent{BuyerAccountID: "acct-1", SellerAccountID: "acct-1"}, Meta{})
	if err != nil {
		t.Fatalf("build envelope: %v", err)
	}
	if len(env.AccountIDs) != 1 || env.AccountIDs[0] != "acct-1" {
		t.Fatalf("account ids = %v", env.AccountIDs)
	}
}

func TestBuildEnvelopeHonoursMetaOverrides(t *testing.T) {
	meta := Meta{
		EventID:       "event-1",
		CorrelationID: "corr-1",
		AccountIDs:    []string{"override"},
		CreditType:    "plastic",
		SchemaVersion: 3,
	}
	env, err := BuildEnvelope(&accountEvent{AccountID: "ignored"}, meta)
	if err != nil {
		t.Fatalf("build envelope: %v", err)
	}
	if env.EventType != "eventing.accountEvent" {
		t.Fatalf("pointer events must use the element type, got %q", env.EventType)
	}
	if env.EventID != "event-1" || env.CorrelationID != "corr-1" || env.SchemaVersion != 3 {
		t.Fatalf("overrides lost: %+v", env)
	}
	if len(env.AccountIDs) != 1 || env.AccountIDs[0] != "override" || env.CreditType != "plastic" {
		t.Fatalf("metadata overrides lost: %+v", env)
	}
}

func TestBuildEnvelopeRejectsNil(t *testing.T) {
	if _, err := BuildEnvelope(nil, Meta{}); err == nil {
		t.Fatalf("nil event accepted")
	}
}

func TestRegistryRoundTrip(t *testing.T) {
	registry := NewRegistry()
	registry.Register(tradeEvent{})

	env, err := BuildEnvelope(tradeEvent{TradeID: "trade-1", BuyerAccountID: "buyer"}, Meta{})
	if err != nil {
		t.Fatalf("build envelope: %v", err)
	}
	decoded, err := registry.DecodePayload(env)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	event, ok := decoded.(tradeEvent)
	if !ok || event.TradeID != "trade-1" {
		t.Fatalf("decoded = %#v", decoded)
	}

	env.EventType = "eventing.unknownEvent"
	if _, err := registry.DecodePayload(env); err == nil {
		t.Fatalf("unknown type decoded")
	}
}
