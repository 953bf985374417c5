package trading

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionUnavailable is returned when a submit is attempted while
	// the session is not usable. No submission is attempted.
	ErrSessionUnavailable = errors.New("trading session unavailable")

	// ErrNoItems rejects a submit with an empty item list.
	ErrNoItems = errors.New("no items to request")

	// ErrNoTradeAddress rejects a submit with an empty counterparty
	// address.
	ErrNoTradeAddress = errors.New("no counterparty trade address")

	// ErrTradeBanned means the counterparty cannot receive offers. It is
	// permanent and user-actionable; it never triggers a retry.
	ErrTradeBanned = errors.New("counterparty is trade banned")

	// ErrLoginFailure means the forced relogin during the retry path
	// failed. Operator-actionable.
	ErrLoginFailure = errors.New("relogin failed")

	// ErrMaxRetryExceeded terminates the bounded retry loop.
	ErrMaxRetryExceeded = errors.New("offer submit retries exceeded")

	// ErrOfferFailed wraps failure reasons outside the closed taxonomy,
	// carrying the raw network message.
	ErrOfferFailed = errors.New("offer submission failed")

	// ErrLoginAttemptsExceeded and ErrReconnectAttemptsExceeded are fatal
	// session manager errors; the process is expected to exit.
	ErrLoginAttemptsExceeded     = errors.New("login attempts exceeded")
	ErrReconnectAttemptsExceeded = errors.New("reconnect attempts exceeded")
)

// OfferReason classifies a rejected proposal as reported by the network.
type OfferReason int

const (
	ReasonUnknown OfferReason = iota

	// ReasonNotLoggedIn means the network dropped our session between the
	// usability check and the submit. Triggers a single relogin + retry.
	ReasonNotLoggedIn

	// ReasonTradeBanned means the counterparty account cannot trade.
	ReasonTradeBanned
)

// OfferError is the classified failure returned by an OfferSender.
type OfferError struct {
	Reason  OfferReason
	Message string
}

func (e *OfferError) Error() string {
	switch e.Reason {
	case ReasonNotLoggedIn:
		return fmt.Sprintf("not logged in: %s", e.Message)
	case ReasonTradeBanned:
		return fmt.Sprintf("trade banned: %s", e.Message)
	default:
		return e.Message
	}
}
