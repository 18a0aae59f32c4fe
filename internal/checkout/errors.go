package checkout

import "errors"

var (
	// ErrSessionNotFound is returned for unknown or expired session ids.
	ErrSessionNotFound = errors.New("checkout: session not found")
	// ErrEmptyCart is returned when finalizing a session without lines.
	ErrEmptyCart = errors.New("checkout: cart is empty")
	// ErrNotSettleable is returned when finalizing while a balance remains.
	ErrNotSettleable = errors.New("checkout: balance remaining")
	// ErrUpstream wraps catalog and gateway failures.
	ErrUpstream = errors.New("checkout: upstream unavailable")
)
