package pricefeed

import "errors"

var (
	// ErrNilState indicates the feed has not been wired to a state backend.
	ErrNilState = errors.New("pricefeed: state not initialised")
	// ErrRouterNotSet indicates the feed has no oracle router wired.
	ErrRouterNotSet = errors.New("pricefeed: oracle router not configured")
	// ErrNoPrice indicates the feed has never observed a good price, so not
	// even a stale fallback exists.
	ErrNoPrice = errors.New("pricefeed: no trusted price recorded yet")
	// ErrInvalidDecimals indicates the configured oracle precision is
	// outside the supported range.
	ErrInvalidDecimals = errors.New("pricefeed: oracle decimals out of range")
)
