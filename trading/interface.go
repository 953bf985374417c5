package trading

import (
	"context"
)

// SessionState tracks the authenticated session to the trading network.
type SessionState int32

const (
	LoggedOut SessionState = iota
	LoggingIn
	LoggedOn
	Reconnecting
)

func (s SessionState) String() string {
	switch s {
	case LoggedOut:
		return "logged out"
	case LoggingIn:
		return "logging in"
	case LoggedOn:
		return "logged on"
	case Reconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// EventType classifies session events reported by the network client.
type EventType int

const (
	// EventEstablished signals a completed authentication handshake.
	EventEstablished EventType = iota

	// EventCritical covers dropped connections, rate limiting, invalid or
	// expired credentials, handshake failures and account state errors.
	// The session manager reacts by scheduling a reconnect.
	EventCritical

	// EventWarning is logged and otherwise ignored. Warnings must never
	// trigger a reconnect.
	EventWarning
)

// Event is an asynchronous session-level signal from the network client.
type Event struct {
	Type EventType
	Err  error
}

// Credentials authenticate the bot account with the trading network.
// Loaded once at startup.
type Credentials struct {
	Account string
	Secret  string

	// TwoFactor, when set, returns a fresh time-based code for the
	// handshake.
	TwoFactor func() string
}

// Asset identifies one item requested from the counterparty.
type Asset struct {
	AssetID   string `json:"asset_id"`
	AppID     uint32 `json:"app_id"`
	ContextID string `json:"context_id"`
}

// OfferStatus is the proposal status reported by the trading network.
type OfferStatus int

const (
	StatusUnknown OfferStatus = iota
	StatusActive
	StatusAccepted
	StatusDeclined
	StatusCanceled
	StatusInvalidItems
	StatusExpired
)

func (s OfferStatus) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusAccepted:
		return "accepted"
	case StatusDeclined:
		return "declined"
	case StatusCanceled:
		return "canceled"
	case StatusInvalidItems:
		return "invalid items"
	case StatusExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further status transitions can occur.
func (s OfferStatus) Terminal() bool {
	switch s {
	case StatusAccepted, StatusDeclined, StatusCanceled, StatusInvalidItems, StatusExpired:
		return true
	default:
		return false
	}
}

// NetworkSession is the session-level surface of the external trading
// network. LogOn initiates the handshake; its outcome is observed
// asynchronously on Events.
type NetworkSession interface {
	LogOn(ctx context.Context) error
	LogOff()
	RefreshWebSession(ctx context.Context) error
	WebSessionValid(ctx context.Context) bool
	Events() <-chan Event
}

// OfferSender submits an asset-exchange proposal to a counterparty. The
// proposal always requests the listed assets from the counterparty; the bot
// never offers items of its own.
type OfferSender interface {
	SendOffer(ctx context.Context, tradeURL string, assets []Asset, message string) (remoteID string, err error)
}

// StatusFetcher re-queries the network for a submitted proposal's status.
type StatusFetcher interface {
	OfferStatus(ctx context.Context, remoteID string) (OfferStatus, error)
}
