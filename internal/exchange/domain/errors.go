package exchange

import "errors"

var (
	// ErrUnknownMarket signals an unconfigured credit type.
	ErrUnknownMarket = errors.New("exchange: unknown market")
	// ErrInvalidPrice rejects zero or negative limit prices.
	ErrInvalidPrice = errors.New("exchange: invalid price")
	// ErrInvalidSide rejects sides other than buy and sell.
	ErrInvalidSide = errors.New("exchange: invalid side")
	// ErrOrderNotOpen rejects cancellation of a terminal order.
	ErrOrderNotOpen = errors.New("exchange: order not open")
	// ErrNotOwner rejects operations on another account's order.
	ErrNotOwner = errors.New("exchange: not order owner")
	// ErrOrderNotFound signals a missing order.
	ErrOrderNotFound = errors.New("exchange: order not found")
	// ErrMarketClosed signals a market whose worker has stopped.
	ErrMarketClosed = errors.New("exchange: market closed")
)
