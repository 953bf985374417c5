package trading

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/decred/slog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFetcher struct {
	mu       sync.Mutex
	statuses []OfferStatus
	err      error
	calls    int
}

func (f *fakeFetcher) OfferStatus(ctx context.Context, remoteID string) (OfferStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return StatusUnknown, f.err
	}
	i := f.calls
	f.calls++
	if i >= len(f.statuses) {
		return f.statuses[len(f.statuses)-1], nil
	}
	return f.statuses[i], nil
}

type fakeLedger struct {
	mu      sync.Mutex
	credits int
	err     error
	lastUID string
	lastRID string
	lastIDs []string
}

func (l *fakeLedger) Credit(ctx context.Context, userID string, itemIDs []string, roundID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return l.err
	}
	l.credits++
	l.lastUID = userID
	l.lastRID = roundID
	l.lastIDs = itemIDs
	return nil
}

func (l *fakeLedger) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.credits
}

type fakeOutbox struct {
	mu      sync.Mutex
	stored  []string
	deleted []string
}

func (o *fakeOutbox) StorePendingCredit(ctx context.Context, remoteID, userID, roundID string, itemIDs []string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stored = append(o.stored, remoteID)
	return nil
}

func (o *fakeOutbox) DeletePendingCredit(ctx context.Context, remoteID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.deleted = append(o.deleted, remoteID)
	return nil
}

func newTestTracker(t *testing.T, fetcher StatusFetcher, ledger Crediter, outbox CreditOutbox) *Tracker {
	t.Helper()
	tr, err := NewTracker(TrackerConfig{
		Log:          slog.Disabled,
		Fetcher:      fetcher,
		Ledger:       ledger,
		Outbox:       outbox,
		PollInterval: 2 * time.Millisecond,
		MaxTracking:  time.Second,
	})
	require.NoError(t, err)
	return tr
}

func TestTrackAcceptedCreditsExactlyOnce(t *testing.T) {
	fetcher := &fakeFetcher{statuses: []OfferStatus{StatusActive, StatusActive, StatusAccepted}}
	ledger := &fakeLedger{}
	outbox := &fakeOutbox{}
	tr := newTestTracker(t, fetcher, ledger, outbox)

	tr.Track("42", "user-1", []string{"a", "b"}, "round-1")
	waitFor(t, func() bool { return len(tr.Active()) == 0 }, "tracking to finish")
	tr.Stop()

	assert.Equal(t, 1, ledger.count())
	assert.Equal(t, "user-1", ledger.lastUID)
	assert.Equal(t, "round-1", ledger.lastRID)
	assert.Equal(t, []string{"a", "b"}, ledger.lastIDs)

	// The pending record is written before the credit and cleared after.
	assert.Equal(t, []string{"42"}, outbox.stored)
	assert.Equal(t, []string{"42"}, outbox.deleted)
}

func TestTrackDeclinedHasNoLedgerEffect(t *testing.T) {
	fetcher := &fakeFetcher{statuses: []OfferStatus{StatusActive, StatusDeclined}}
	ledger := &fakeLedger{}
	tr := newTestTracker(t, fetcher, ledger, nil)

	tr.Track("42", "user-1", []string{"a"}, "round-1")
	waitFor(t, func() bool { return len(tr.Active()) == 0 }, "tracking to finish")
	tr.Stop()

	assert.Equal(t, 0, ledger.count())
}

func TestTrackOtherTerminalStopsWithoutCredit(t *testing.T) {
	fetcher := &fakeFetcher{statuses: []OfferStatus{StatusCanceled}}
	ledger := &fakeLedger{}
	tr := newTestTracker(t, fetcher, ledger, nil)

	tr.Track("42", "user-1", []string{"a"}, "round-1")
	tr.Stop()

	assert.Equal(t, 0, ledger.count())
}

func TestTrackInitialFetchFailureStops(t *testing.T) {
	fetcher := &fakeFetcher{err: errors.New("offer not found")}
	ledger := &fakeLedger{}
	tr := newTestTracker(t, fetcher, ledger, nil)

	tr.Track("42", "user-1", []string{"a"}, "round-1")
	tr.Stop()

	assert.Equal(t, 0, ledger.count())
}

func TestTrackCreditFailureKeepsPendingRecord(t *testing.T) {
	fetcher := &fakeFetcher{statuses: []OfferStatus{StatusAccepted}}
	ledger := &fakeLedger{err: errors.New("store down")}
	outbox := &fakeOutbox{}
	tr := newTestTracker(t, fetcher, ledger, outbox)

	tr.Track("42", "user-1", []string{"a"}, "round-1")
	waitFor(t, func() bool { return len(tr.Active()) == 0 }, "tracking to finish")
	tr.Stop()

	assert.Equal(t, []string{"42"}, outbox.stored)
	assert.Empty(t, outbox.deleted)
}

func TestTrackCancel(t *testing.T) {
	fetcher := &fakeFetcher{statuses: []OfferStatus{StatusActive}}
	ledger := &fakeLedger{}
	tr := newTestTracker(t, fetcher, ledger, nil)

	tr.Track("42", "user-1", []string{"a"}, "round-1")
	assert.Equal(t, []string{"42"}, tr.Active())

	assert.True(t, tr.Cancel("42"))
	tr.Stop()
	assert.Empty(t, tr.Active())
	assert.Equal(t, 0, ledger.count())

	assert.False(t, tr.Cancel("42"))
}

func TestTrackExpiresAfterMaxDuration(t *testing.T) {
	fetcher := &fakeFetcher{statuses: []OfferStatus{StatusActive}}
	ledger := &fakeLedger{}
	tr, err := NewTracker(TrackerConfig{
		Log:          slog.Disabled,
		Fetcher:      fetcher,
		Ledger:       ledger,
		PollInterval: time.Millisecond,
		MaxTracking:  10 * time.Millisecond,
	})
	require.NoError(t, err)

	tr.Track("42", "user-1", []string{"a"}, "round-1")
	waitFor(t, func() bool { return len(tr.Active()) == 0 }, "tracking to expire")
	tr.Stop()

	assert.Equal(t, 0, ledger.count())
	assert.Empty(t, tr.Active())
}

func TestTrackDuplicateRemoteIDIgnored(t *testing.T) {
	fetcher := &fakeFetcher{statuses: []OfferStatus{StatusActive}}
	ledger := &fakeLedger{}
	tr := newTestTracker(t, fetcher, ledger, nil)

	tr.Track("42", "user-1", []string{"a"}, "round-1")
	tr.Track("42", "user-1", []string{"a"}, "round-1")
	assert.Len(t, tr.Active(), 1)

	tr.Cancel("42")
	tr.Stop()
}
