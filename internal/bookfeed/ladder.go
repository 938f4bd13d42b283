package bookfeed

import (
	"sort"

	"derivquoter/pkg/price"
)

// Entry is an immutable order book level, handed to listeners as part of
// a fixed-length, depth-padded array.
type Entry struct {
	Instrument price.InstrumentID
	Price      price.Price
	Amount     price.Quantity
	Side       price.Side
}

// ladder is an ordered price->size mapping: bids are kept descending,
// asks ascending. A size of zero deletes the level; any positive size
// replaces it. Grounded on the teacher's Book (internal/market/book.go),
// generalized from the teacher's two-sided snapshot struct into a single
// side's incrementally-updated level map, since this protocol pushes
// snapshot+delta rather than full REST snapshots only.
type ladder struct {
	descending bool
	levels     map[price.Price]price.Quantity
}

func newLadder(descending bool) *ladder {
	return &ladder{descending: descending, levels: make(map[price.Price]price.Quantity)}
}

func (l *ladder) reset() {
	l.levels = make(map[price.Price]price.Quantity)
}

func (l *ladder) apply(p price.Price, size price.Quantity) {
	if size <= 0 {
		delete(l.levels, p)
		return
	}
	l.levels[p] = size
}

// topN returns the best n levels as a fixed-length slice, null (nil)
// padded at the tail when the ladder is shallower than n.
func (l *ladder) topN(n int, instrument price.InstrumentID, side price.Side) []*Entry {
	prices := make([]price.Price, 0, len(l.levels))
	for p := range l.levels {
		prices = append(prices, p)
	}
	if l.descending {
		sort.Slice(prices, func(i, j int) bool { return prices[i] > prices[j] })
	} else {
		sort.Slice(prices, func(i, j int) bool { return prices[i] < prices[j] })
	}

	out := make([]*Entry, n)
	for i := 0; i < n && i < len(prices); i++ {
		p := prices[i]
		out[i] = &Entry{Instrument: instrument, Price: p, Amount: l.levels[p], Side: side}
	}
	return out
}
