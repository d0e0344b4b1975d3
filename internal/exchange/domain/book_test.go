package exchange

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func restingOrder(id string, side Side, price int64, quantity int64, createdAt time.Time) *Order {
	return &Order{
		OrderID:   id,
		AccountID: "acct-" + id,
		Side:      side,
		Price:     decimal.NewFromInt(price),
		Quantity:  quantity,
		Status:    OrderOpen,
		CreatedAt: createdAt,
	}
}

func TestBookPricePriority(t *testing.T) {
	book := NewBook()
	now := time.Now().UTC()

	book.Insert(restingOrder("bid-low", SideBuy, 5, 10, now))
	book.Insert(restingOrder("bid-high", SideBuy, 7, 10, now.Add(time.Second)))
	book.Insert(restingOrder("ask-high", SideSell, 9, 10, now))
	book.Insert(restingOrder("ask-low", SideSell, 6, 10, now.Add(time.Second)))

	if best := book.BestBid(); best == nil || best.OrderID != "bid-high" {
		t.Fatalf("best bid = %+v, want bid-high", best)
	}
	if best := book.BestAsk(); best == nil || best.OrderID != "ask-low" {
		t.Fatalf("best ask = %+v, want ask-low", best)
	}
}

func TestBookTimePriorityWithinLevel(t *testing.T) {
	book := NewBook()
	now := time.Now().UTC()

	book.Insert(restingOrder("first", SideBuy, 5, 10, now))
	book.Insert(restingOrder("second", SideBuy, 5, 10, now.Add(time.Second)))

	if best := book.BestBid(); best == nil || best.OrderID != "first" {
		t.Fatalf("best bid = %+v, want first", best)
	}
	book.Remove("first")
	if best := book.BestBid(); best == nil || best.OrderID != "second" {
		t.Fatalf("best bid after remove = %+v, want second", best)
	}
}

func TestBookRemoveDrainsLevel(t *testing.T) {
	book := NewBook()
	now := time.Now().UTC()
	book.Insert(restingOrder("only", SideSell, 4, 10, now))

	removed := book.Remove("only")
	if removed == nil || removed.OrderID != "only" {
		t.Fatalf("remove = %+v", removed)
	}
	if book.BestAsk() != nil {
		t.Fatalf("ask side not empty after removing only order")
	}
	if book.Remove("only") != nil {
		t.Fatalf("second remove returned an order")
	}
	if book.Len() != 0 {
		t.Fatalf("len = %d, want 0", book.Len())
	}
}

func TestBookClosedOrdersNotInserted(t *testing.T) {
	book := NewBook()
	order := restingOrder("done", SideBuy, 5, 10, time.Now().UTC())
	order.Status = OrderFilled
	book.Insert(order)
	if book.Len() != 0 {
		t.Fatalf("filled order entered the book")
	}
}

func TestBookSnapshot(t *testing.T) {
	book := NewBook()
	now := time.Now().UTC()

	book.Insert(restingOrder("b1", SideBuy, 7, 10, now))
	partial := restingOrder("b2", SideBuy, 7, 20, now.Add(time.Second))
	partial.Filled = 5
	partial.Status = OrderPartiallyFilled
	book.Insert(partial)
	book.Insert(restingOrder("b3", SideBuy, 6, 30, now))
	book.Insert(restingOrder("a1", SideSell, 8, 15, now))

	bids, asks := book.Snapshot(10)
	if len(bids) != 2 || len(asks) != 1 {
		t.Fatalf("snapshot sides: bids=%d asks=%d", len(bids), len(asks))
	}
	if !bids[0].Price.Equal(decimal.NewFromInt(7)) || bids[0].Quantity != 25 || bids[0].Orders != 2 {
		t.Fatalf("top bid level = %+v", bids[0])
	}
	if !bids[1].Price.Equal(decimal.NewFromInt(6)) || bids[1].Quantity != 30 {
		t.Fatalf("second bid level = %+v", bids[1])
	}

	bids, _ = book.Snapshot(1)
	if len(bids) != 1 {
		t.Fatalf("depth-limited snapshot = %d levels", len(bids))
	}
}
