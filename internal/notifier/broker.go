// Package notifier fans domain events out to per-account SSE streams.
package notifier

import (
	"context"
	"encoding/json"
	"sync"

	"credit-exchange/internal/eventing"
	"credit-exchange/internal/eventing/eventbus"
)

// Broker delivers event envelopes to the accounts they concern. Slow
// clients drop events rather than block the dispatch path; the ledger and
// book reads stay authoritative.
type Broker struct {
	mu      sync.Mutex
	clients map[chan []byte]string
}

// NewBroker constructs a broker.
func NewBroker() *Broker {
	return &Broker{clients: make(map[chan []byte]string)}
}

// Attach subscribes the broker to every event on the bus.
func (b *Broker) Attach(bus eventbus.EventBus) {
	if b == nil || bus == nil {
		return
	}
	bus.Subscribe(eventbus.WildcardType, b.handle)
}

func (b *Broker) handle(ctx context.Context, event any) error {
	env, ok := eventing.EnvelopeFromContext(ctx)
	if !ok {
		// Direct publishes without an envelope still reach subscribers.
		built, err := eventing.BuildEnvelope(event, eventing.MetaFromContext(ctx))
		if err != nil {
			return nil
		}
		env = built
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return nil
	}
	b.broadcast(env, payload)
	return nil
}

// Subscribe registers a client channel scoped to one account.
func (b *Broker) Subscribe(accountID string) chan []byte {
	if b == nil || accountID == "" {
		return nil
	}
	ch := make(chan []byte, 16)
	b.mu.Lock()
	b.clients[ch] = accountID
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a client channel.
func (b *Broker) Unsubscribe(ch chan []byte) {
	if b == nil || ch == nil {
		return
	}
	b.mu.Lock()
	_, ok := b.clients[ch]
	delete(b.clients, ch)
	b.mu.Unlock()
	if ok {
		close(ch)
	}
}

func (b *Broker) broadcast(env eventing.Envelope, payload []byte) {
	b.mu.Lock()
	targets := make([]chan []byte, 0, len(b.clients))
	for ch, accountID := range b.clients {
		if env.Concerns(accountID) {
			targets = append(targets, ch)
		}
	}
	b.mu.Unlock()
	for _, ch := range targets {
		select {
		case ch <- payload:
		default:
		}
	}
}
