package quoting

import "derivquoter/pkg/price"

// liveOrder is everything the engine tracks about a resting order on one
// side: the exchange-assigned id, its price, and its remaining size.
// amount == 0 means there is no live order on this side.
type liveOrder struct {
	orderID int64
	price   price.Price
	amount  price.Quantity
}

// desiredQuote is the price and amount the engine currently wants live on
// one side.
type desiredQuote struct {
	price  price.Price
	amount price.Quantity
}

func minQty(a, b price.Quantity) price.Quantity {
	if a < b {
		return a
	}
	return b
}
