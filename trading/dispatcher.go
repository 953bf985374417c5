package trading

import (
	"context"
	"errors"
	"fmt"

	"github.com/decred/slog"
)

const defaultMaxRetries = 1

// SessionGate is the slice of the session manager the dispatcher needs.
type SessionGate interface {
	IsUsable() bool
	Relogin(ctx context.Context) error
}

// DispatcherConfig configures the offer dispatcher.
type DispatcherConfig struct {
	Log     slog.Logger
	Session SessionGate
	Sender  OfferSender

	// MaxRetries is the number of extra attempts after the first submit.
	// Defaults to 1.
	MaxRetries int

	// Message is the display text attached to every proposal.
	Message string

	// OfferURLBase is prepended to the remote ID to build the display URL
	// returned to the depositing user.
	OfferURLBase string
}

// Dispatcher constructs and submits asset-exchange proposals, classifying
// failures into the closed error taxonomy and retrying at most once on a
// stale-session rejection.
type Dispatcher struct {
	log          slog.Logger
	session      SessionGate
	sender       OfferSender
	maxRetries   int
	message      string
	offerURLBase string
}

// SubmittedOffer is the handle returned on a successful submission. From
// this point the tracker owns the proposal.
type SubmittedOffer struct {
	RemoteID string
	URL      string
}

func NewDispatcher(cfg DispatcherConfig) (*Dispatcher, error) {
	if cfg.Log == nil {
		return nil, fmt.Errorf("dispatcher requires a logger")
	}
	if cfg.Session == nil {
		return nil, fmt.Errorf("dispatcher requires a session gate")
	}
	if cfg.Sender == nil {
		return nil, fmt.Errorf("dispatcher requires an offer sender")
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	return &Dispatcher{
		log:          cfg.Log,
		session:      cfg.Session,
		sender:       cfg.Sender,
		maxRetries:   cfg.MaxRetries,
		message:      cfg.Message,
		offerURLBase: cfg.OfferURLBase,
	}, nil
}

// Submit proposes an exchange requesting assets from the counterparty at
// tradeURL. A non-empty note is appended to the display message so the user
// can match the incoming proposal to their request. Every failure path
// returns a structured error; nothing panics past this boundary.
//
// The retry loop is explicit and bounded: a ReasonNotLoggedIn rejection
// forces one relogin through the session manager and one resubmission. All
// other rejections are terminal.
func (d *Dispatcher) Submit(ctx context.Context, tradeURL string, assets []Asset, note string) (*SubmittedOffer, error) {
	if len(assets) == 0 {
		return nil, ErrNoItems
	}
	if tradeURL == "" {
		return nil, ErrNoTradeAddress
	}

	message := d.message
	if note != "" {
		message = fmt.Sprintf("%s [ref: %s]", d.message, note)
	}

	for attempt := 1; attempt <= 1+d.maxRetries; attempt++ {
		if !d.session.IsUsable() {
			return nil, ErrSessionUnavailable
		}

		remoteID, err := d.sender.SendOffer(ctx, tradeURL, assets, message)
		if err == nil {
			d.log.Infof("dispatch: offer %s submitted (attempt %d)", remoteID, attempt)
			return &SubmittedOffer{
				RemoteID: remoteID,
				URL:      fmt.Sprintf("%s/%s", d.offerURLBase, remoteID),
			}, nil
		}

		var oe *OfferError
		if !errors.As(err, &oe) {
			return nil, fmt.Errorf("%w: %v", ErrOfferFailed, err)
		}

		switch oe.Reason {
		case ReasonNotLoggedIn:
			if attempt > d.maxRetries {
				return nil, ErrMaxRetryExceeded
			}
			d.log.Warnf("dispatch: network reports stale session (attempt %d); forcing relogin", attempt)
			if err := d.session.Relogin(ctx); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrLoginFailure, err)
			}

		case ReasonTradeBanned:
			return nil, ErrTradeBanned

		default:
			return nil, fmt.Errorf("%w: %s", ErrOfferFailed, oe.Message)
		}
	}

	return nil, ErrMaxRetryExceeded
}
