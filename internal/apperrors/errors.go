// Package apperrors defines the error taxonomy shared by every engine
// package. Errors are classified by Kind, not by Go type, so call sites can
// switch on the kind and decide locally whether to recover or propagate.
package apperrors

import "fmt"

// Kind classifies an error by how the caller is expected to react.
type Kind int

const (
	// KindUnknown is the zero value; never intentionally returned.
	KindUnknown Kind = iota
	// KindDataIntegrity marks malformed input data (missing column, NaN,
	// unknown ticker, non-positive price). Surfaced and aborts the run,
	// except Portfolio.Buy's rejection of a non-positive trade price, which
	// the tick loop logs as a skipped buy.
	KindDataIntegrity
	// KindMissing marks an absent (date, ticker) row. Treated as untradable
	// by callers; never guessed at.
	KindMissing
	// KindTradability marks a buy/sell attempted against a suspended or
	// limit-locked (date, ticker). Recovered locally: skip the ticker.
	KindTradability
	// KindInsufficientCash marks a buy that would overdraw the cash balance.
	KindInsufficientCash
	// KindInsufficientNotional marks a buy whose target notional rounds
	// down to fewer than one lot (100 shares).
	KindInsufficientNotional
	// KindNotHeld marks a sell against a ticker with no open lot.
	KindNotHeld
	// KindAlreadyHeld marks an attempted second lot for an already-open
	// ticker (the one-lot-per-ticker invariant).
	KindAlreadyHeld
	// KindPendingExpiry marks a pending order dropped after exceeding its
	// retry or age bound. Logged at info, never surfaced.
	KindPendingExpiry
	// KindIdempotencyConflict marks a paper-mode sub-step re-invoked on a
	// date it already completed. Logged at info, no-op, exit success.
	KindIdempotencyConflict
	// KindPersistence marks a corrupt or partial on-disk state detected on
	// reload. Always surfaced; requires operator intervention.
	KindPersistence
	// KindExternalProvider marks a failure in the ensure-data hook. Always
	// surfaced; aborts the current tick with state unchanged.
	KindExternalProvider
)

func (k Kind) String() string {
	switch k {
	case KindDataIntegrity:
		return "data_integrity"
	case KindMissing:
		return "missing"
	case KindTradability:
		return "tradability"
	case KindInsufficientCash:
		return "insufficient_cash"
	case KindInsufficientNotional:
		return "insufficient_notional"
	case KindNotHeld:
		return "not_held"
	case KindAlreadyHeld:
		return "already_held"
	case KindPendingExpiry:
		return "pending_expiry"
	case KindIdempotencyConflict:
		return "idempotency_conflict"
	case KindPersistence:
		return "persistence"
	case KindExternalProvider:
		return "external_provider"
	default:
		return "unknown"
	}
}

// Error is the typed error returned by every package in this module. Kind
// drives caller behavior; Ticker and Date are optional context for logging.
type Error struct {
	Kind    Kind
	Message string
	Ticker  string
	Date    string
	Details map[string]string
}

func (e *Error) Error() string {
	if e.Ticker != "" || e.Date != "" {
		return fmt.Sprintf("%s: %s (ticker=%s date=%s)", e.Kind, e.Message, e.Ticker, e.Date)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// New builds an Error with the given kind and message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// WithTicker attaches a ticker for logging context and returns the receiver.
func (e *Error) WithTicker(ticker string) *Error {
	e.Ticker = ticker
	return e
}

// WithDate attaches a date for logging context and returns the receiver.
func (e *Error) WithDate(date string) *Error {
	e.Date = date
	return e
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	ae, ok := err.(*Error)
	return ok && ae.Kind == kind
}

// KindOf extracts the Kind from err, returning KindUnknown if err is not an
// *Error produced by this package.
func KindOf(err error) Kind {
	if ae, ok := err.(*Error); ok {
		return ae.Kind
	}
	return KindUnknown
}
