// Package memory provides in-process eventing stores for tests and
// database-less runs.
package memory

import (
	"context"
	"sync"

	"credit-exchange/internal/eventing"
)

// OutboxStore keeps outbox records in memory.
type OutboxStore struct {
	mu      sync.Mutex
	records []record
}

type record struct {
	id     string
	env    eventing.Envelope
	status string
}

// NewOutboxStore constructs an empty outbox.
func NewOutboxStore() *OutboxStore {
	return &OutboxStore{}
}

// Insert appends a pending record.
func (s *OutboxStore) Insert(_ context.Context, env eventing.Envelope) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := eventing.NewEventID()
	s.records = append(s.records, record{id: id, env: env, status: "pending"})
	return id, nil
}

// ListPending returns up to limit pending records, oldest first.
func (s *OutboxStore) ListPending(_ context.Context, limit int) ([]eventing.OutboxRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []eventing.OutboxRecord
	for _, rec := range s.records {
		if rec.status != "pending" {
			continue
		}
		result = append(result, eventing.OutboxRecord{ID: rec.id, Envelope: rec.env})
		if len(result) >= limit {
			break
		}
	}
	return result, nil
}

// MarkSent marks the record sent.
func (s *OutboxStore) MarkSent(_ context.Context, id string) error {
	return s.setStatus(id, "sent")
}

// MarkFailed marks the record failed.
func (s *OutboxStore) MarkFailed(_ context.Context, id string) error {
	return s.setStatus(id, "failed")
}

func (s *OutboxStore) setStatus(id, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.records {
		if s.records[i].id == id {
			s.records[i].status = status
			return nil
		}
	}
	return nil
}

// ProcessedStore keeps consumer idempotency marks in memory.
type ProcessedStore struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// NewProcessedStore constructs an empty processed store.
func NewProcessedStore() *ProcessedStore {
	return &ProcessedStore{seen: make(map[string]struct{})}
}

// HasProcessed reports whether the consumer handled the event.
func (s *ProcessedStore) HasProcessed(_ context.Context, eventID, consumerName string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.seen[eventID+"|"+consumerName]
	return ok, nil
}

// MarkProcessed records the event as handled.
func (s *ProcessedStore) MarkProcessed(_ context.Context, eventID, consumerName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen[eventID+"|"+consumerName] = struct{}{}
	return nil
}

// DLQStore keeps failed envelopes in memory.
type DLQStore struct {
	mu     sync.Mutex
	failed []eventing.Envelope
}

// NewDLQStore constructs an empty DLQ.
func NewDLQStore() *DLQStore {
	return &DLQStore{}
}

// RecordFailure stores the failed envelope.
func (s *DLQStore) RecordFailure(_ context.Context, env eventing.Envelope, _ error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed = append(s.failed, env)
	return nil
}

// Failed returns a copy of the recorded failures.
func (s *DLQStore) Failed() []eventing.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]eventing.Envelope(nil), s.failed...)
}
