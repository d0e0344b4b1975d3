package exchange

import (
	"github.com/shopspring/decimal"
	"github.com/tidwall/btree"
)

// priceLevel holds the FIFO queue of resting orders at one price.
type priceLevel struct {
	price decimal.Decimal
	queue []*Order
}

// Book is one market's resting orders: two price-ordered B-trees, bids with
// the highest price first and asks with the lowest price first, FIFO within
// a level. The book is not safe for concurrent use; a single market worker
// owns it.
type Book struct {
	bids   *btree.BTreeG[*priceLevel]
	asks   *btree.BTreeG[*priceLevel]
	orders map[string]*Order
}

// NewBook constructs an empty book.
func NewBook() *Book {
	return &Book{
		bids: btree.NewBTreeG(func(a, b *priceLevel) bool {
			return a.price.GreaterThan(b.price)
		}),
		asks: btree.NewBTreeG(func(a, b *priceLevel) bool {
			return a.price.LessThan(b.price)
		}),
		orders: make(map[string]*Order),
	}
}

// Insert adds an open order at the back of its price level.
func (b *Book) Insert(order *Order) {
	if order == nil || !order.IsOpen() {
		return
	}
	tree := b.treeFor(order.Side)
	probe := &priceLevel{price: order.Price}
	level, ok := tree.Get(probe)
	if !ok {
		level = probe
		tree.Set(level)
	}
	level.queue = append(level.queue, order)
	b.orders[order.OrderID] = order
}

// Remove detaches an order from the book; the order itself is untouched.
func (b *Book) Remove(orderID string) *Order {
	order := b.orders[orderID]
	if order == nil {
		return nil
	}
	delete(b.orders, orderID)
	tree := b.treeFor(order.Side)
	level, ok := tree.Get(&priceLevel{price: order.Price})
	if !ok {
		return order
	}
	kept := level.queue[:0]
	for _, resting := range level.queue {
		if resting.OrderID != orderID {
			kept = append(kept, resting)
		}
	}
	level.queue = kept
	if len(level.queue) == 0 {
		tree.Delete(level)
	}
	return order
}

// Get returns the resting order with the given id, if any.
func (b *Book) Get(orderID string) *Order {
	return b.orders[orderID]
}

// BestBid returns the highest-priced, earliest bid still on the book.
func (b *Book) BestBid() *Order {
	return best(b.bids)
}

// BestAsk returns the lowest-priced, earliest ask still on the book.
func (b *Book) BestAsk() *Order {
	return best(b.asks)
}

// Len is the number of resting orders.
func (b *Book) Len() int {
	return len(b.orders)
}

// Orders returns all resting orders (iteration order unspecified).
func (b *Book) Orders() []*Order {
	result := make([]*Order, 0, len(b.orders))
	for _, order := range b.orders {
		result = append(result, order)
	}
	return result
}

// SnapshotLevel is one aggregated price level of a book snapshot.
type SnapshotLevel struct {
	Price    decimal.Decimal `json:"price"`
	Quantity int64           `json:"quantity"`
	Orders   int             `json:"orders"`
}

// Snapshot aggregates up to depth levels per side.
func (b *Book) Snapshot(depth int) (bids, asks []SnapshotLevel) {
	return snapshotTree(b.bids, depth), snapshotTree(b.asks, depth)
}

func (b *Book) treeFor(side Side) *btree.BTreeG[*priceLevel] {
	if side == SideBuy {
		return b.bids
	}
	return b.asks
}

func best(tree *btree.BTreeG[*priceLevel]) *Order {
	level, ok := tree.Min()
	if !ok || len(level.queue) == 0 {
		return nil
	}
	return level.queue[0]
}

func snapshotTree(tree *btree.BTreeG[*priceLevel], depth int) []SnapshotLevel {
	if depth <= 0 {
		depth = 10
	}
	levels := make([]SnapshotLevel, 0, depth)
	tree.Scan(func(level *priceLevel) bool {
		if len(level.queue) == 0 {
			return true
		}
		entry := SnapshotLevel{Price: level.price, Orders: len(level.queue)}
		for _, order := range level.queue {
			entry.Quantity += order.Remaining()
		}
		levels = append(levels, entry)
		return len(levels) < depth
	})
	return levels
}
