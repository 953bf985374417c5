package trading

import (
	"context"
	"errors"
	"testing"

	"github.com/decred/slog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGate struct {
	usable       bool
	reloginCalls int
	reloginErr   error

	// usableAfterRelogin restores usability once a relogin succeeds.
	usableAfterRelogin bool
}

func (g *fakeGate) IsUsable() bool { return g.usable }

func (g *fakeGate) Relogin(ctx context.Context) error {
	g.reloginCalls++
	if g.reloginErr != nil {
		return g.reloginErr
	}
	if g.usableAfterRelogin {
		g.usable = true
	}
	return nil
}

type fakeSender struct {
	calls       int
	lastMessage string
	results     []any // string remote ID or error, consumed per call
}

func (s *fakeSender) SendOffer(ctx context.Context, tradeURL string, assets []Asset, message string) (string, error) {
	res := s.results[s.calls]
	s.calls++
	s.lastMessage = message
	if err, ok := res.(error); ok {
		return "", err
	}
	return res.(string), nil
}

func newTestDispatcher(t *testing.T, gate SessionGate, sender OfferSender) *Dispatcher {
	t.Helper()
	d, err := NewDispatcher(DispatcherConfig{
		Log:          slog.Disabled,
		Session:      gate,
		Sender:       sender,
		Message:      "Jackpot deposit",
		OfferURLBase: "https://trade.example.com/offer",
	})
	require.NoError(t, err)
	return d
}

var testAssets = []Asset{{AssetID: "111", AppID: 730, ContextID: "2"}}

func TestSubmitSuccess(t *testing.T) {
	gate := &fakeGate{usable: true}
	sender := &fakeSender{results: []any{"987654"}}
	d := newTestDispatcher(t, gate, sender)

	offer, err := d.Submit(context.Background(), "https://trade.example.com/u/abc", testAssets, "")
	require.NoError(t, err)
	assert.Equal(t, "987654", offer.RemoteID)
	assert.Equal(t, "https://trade.example.com/offer/987654", offer.URL)
	assert.Equal(t, 0, gate.reloginCalls)
}

func TestSubmitNoteLandsInMessage(t *testing.T) {
	gate := &fakeGate{usable: true}
	sender := &fakeSender{results: []any{"987654", "987655"}}
	d := newTestDispatcher(t, gate, sender)

	_, err := d.Submit(context.Background(), "addr", testAssets, "tok123")
	require.NoError(t, err)
	assert.Equal(t, "Jackpot deposit [ref: tok123]", sender.lastMessage)

	// No note means the bare display message.
	_, err = d.Submit(context.Background(), "addr", testAssets, "")
	require.NoError(t, err)
	assert.Equal(t, "Jackpot deposit", sender.lastMessage)
}

func TestSubmitPreconditions(t *testing.T) {
	gate := &fakeGate{usable: true}
	d := newTestDispatcher(t, gate, &fakeSender{})

	_, err := d.Submit(context.Background(), "addr", nil, "")
	assert.ErrorIs(t, err, ErrNoItems)

	_, err = d.Submit(context.Background(), "", testAssets, "")
	assert.ErrorIs(t, err, ErrNoTradeAddress)

	// Session not usable: fail immediately, no submission attempted.
	gate.usable = false
	sender := &fakeSender{}
	d = newTestDispatcher(t, gate, sender)
	_, err = d.Submit(context.Background(), "addr", testAssets, "")
	assert.ErrorIs(t, err, ErrSessionUnavailable)
	assert.Equal(t, 0, sender.calls)
}

func TestSubmitNotLoggedInRetriesOnce(t *testing.T) {
	gate := &fakeGate{usable: true, usableAfterRelogin: true}
	sender := &fakeSender{results: []any{
		&OfferError{Reason: ReasonNotLoggedIn, Message: "not logged in"},
		"555",
	}}
	d := newTestDispatcher(t, gate, sender)

	offer, err := d.Submit(context.Background(), "addr", testAssets, "")
	require.NoError(t, err)
	assert.Equal(t, "555", offer.RemoteID)
	assert.Equal(t, 1, gate.reloginCalls)
	assert.Equal(t, 2, sender.calls)
}

func TestSubmitSecondNotLoggedInIsTerminal(t *testing.T) {
	// A second stale-session rejection after the resubmission must yield
	// ErrMaxRetryExceeded, not an infinite loop.
	gate := &fakeGate{usable: true, usableAfterRelogin: true}
	sender := &fakeSender{results: []any{
		&OfferError{Reason: ReasonNotLoggedIn, Message: "not logged in"},
		&OfferError{Reason: ReasonNotLoggedIn, Message: "not logged in"},
	}}
	d := newTestDispatcher(t, gate, sender)

	_, err := d.Submit(context.Background(), "addr", testAssets, "")
	assert.ErrorIs(t, err, ErrMaxRetryExceeded)
	assert.Equal(t, 1, gate.reloginCalls)
	assert.Equal(t, 2, sender.calls)
}

func TestSubmitReloginFailure(t *testing.T) {
	gate := &fakeGate{usable: true, reloginErr: errors.New("network down")}
	sender := &fakeSender{results: []any{
		&OfferError{Reason: ReasonNotLoggedIn, Message: "not logged in"},
	}}
	d := newTestDispatcher(t, gate, sender)

	_, err := d.Submit(context.Background(), "addr", testAssets, "")
	assert.ErrorIs(t, err, ErrLoginFailure)
	assert.Equal(t, 1, sender.calls)
}

func TestSubmitTradeBannedNeverRetries(t *testing.T) {
	gate := &fakeGate{usable: true}
	sender := &fakeSender{results: []any{
		&OfferError{Reason: ReasonTradeBanned, Message: "target has a trade ban"},
	}}
	d := newTestDispatcher(t, gate, sender)

	_, err := d.Submit(context.Background(), "addr", testAssets, "")
	assert.ErrorIs(t, err, ErrTradeBanned)
	assert.Equal(t, 0, gate.reloginCalls)
	assert.Equal(t, 1, sender.calls)
}

func TestSubmitUnknownReasonPassesMessageThrough(t *testing.T) {
	gate := &fakeGate{usable: true}
	sender := &fakeSender{results: []any{
		&OfferError{Reason: ReasonUnknown, Message: "inventory private"},
	}}
	d := newTestDispatcher(t, gate, sender)

	_, err := d.Submit(context.Background(), "addr", testAssets, "")
	assert.ErrorIs(t, err, ErrOfferFailed)
	assert.Contains(t, err.Error(), "inventory private")
	assert.Equal(t, 0, gate.reloginCalls)
}
