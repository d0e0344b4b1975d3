package eventing

import (
	"encoding/json"
	"errors"
	"reflect"
	"time"
)

// Envelope wraps an event payload with delivery metadata. AccountIDs lists
// every account the event concerns, so per-account consumers (dashboards,
// notification streams) can fan a trade out to both parties.
type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	OccurredAt    time.Time       `json:"occurred_at"`
	CorrelationID string          `json:"correlation_id"`
	AccountIDs    []string        `json:"account_ids,omitempty"`
	CreditType    string          `json:"credit_type,omitempty"`
	SchemaVersion int             `json:"schema_version"`
	Payload       json.RawMessage `json:"payload"`
}

// Concerns reports whether the envelope references the account.
func (e Envelope) Concerns(accountID string) bool {
	for _, id := range e.AccountIDs {
		if id == accountID {
			return true
		}
	}
	return false
}

// Meta provides envelope overrides.
type Meta struct {
	EventID       string
	OccurredAt    time.Time
	CorrelationID string
	AccountIDs    []string
	CreditType    string
	SchemaVersion int
}

// BuildEnvelope constructs an envelope from an event payload and metadata.
// Account and credit-type metadata default to the event's own AccountID,
// BuyerAccountID, SellerAccountID and CreditType fields when present.
func BuildEnvelope(event any, meta Meta) (Envelope, error) {
	if event == nil {
		return Envelope{}, errors.New("eventing: nil event")
	}

	eventType := reflect.TypeOf(event)
	for eventType.Kind() == reflect.Ptr {
		eventType = eventType.Elem()
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return Envelope{}, err
	}

	accountIDs := meta.AccountIDs
	if len(accountIDs) == 0 {
		accountIDs = extractAccountIDs(event)
	}
	creditType := meta.CreditType
	if creditType == "" {
		creditType = extractStringField(event, "CreditType")
	}
	occurredAt := meta.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = extractTimeField(event, "OccurredAt")
	}
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	eventID := meta.EventID
	if eventID == "" {
		eventID = NewEventID()
	}

	correlationID := meta.CorrelationID
	if correlationID == "" {
		correlationID = eventID
	}

	schemaVersion := meta.SchemaVersion
	if schemaVersion == 0 {
		schemaVersion = 1
	}

	return Envelope{
		EventID:       eventID,
		EventType:     eventType.String(),
		OccurredAt:    occurredAt.UTC(),
		CorrelationID: correlationID,
		AccountIDs:    accountIDs,
		CreditType:    creditType,
		SchemaVersion: schemaVersion,
		Payload:       payload,
	}, nil
}

func extractAccountIDs(event any) []string {
	var ids []string
	seen := make(map[string]struct{})
	for _, name := range []string{"AccountID", "BuyerAccountID", "SellerAccountID"} {
		id := extractStringField(event, name)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids
}

func extractStringField(event any, names ...string) string {
	value := reflect.ValueOf(event)
	for value.Kind() == reflect.Ptr {
		if value.IsNil() {
			return ""
		}
		value = value.Elem()
	}
	if value.Kind() != reflect.Struct {
		return ""
	}
	for _, name := range names {
		field := value.FieldByName(name)
		if field.IsValid() && field.Kind() == reflect.String {
			return field.String()
		}
	}
	return ""
}

func extractTimeField(event any, name string) time.Time {
	value := reflect.ValueOf(event)
	for value.Kind() == reflect.Ptr {
		if value.IsNil() {
			return time.Time{}
		}
		value = value.Elem()
	}
	if value.Kind() != reflect.Struct {
		return time.Time{}
	}
	field := value.FieldByName(name)
	if !field.IsValid() {
		return time.Time{}
	}
	if t, ok := field.Interface().(time.Time); ok {
		return t
	}
	return time.Time{}
}
