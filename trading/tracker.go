package trading

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/decred/slog"
)

const (
	defaultPollInterval = 5 * time.Second
	defaultMaxTracking  = 48 * time.Hour
)

// Crediter applies the ledger mutation for an accepted exchange.
type Crediter interface {
	Credit(ctx context.Context, userID string, itemIDs []string, roundID string) error
}

// CreditOutbox durably records accepted-but-uncredited exchanges so a credit
// lost to a persistence failure can be replayed after restart.
type CreditOutbox interface {
	StorePendingCredit(ctx context.Context, remoteID, userID, roundID string, itemIDs []string) error
	DeletePendingCredit(ctx context.Context, remoteID string) error
}

// TrackerConfig configures the offer tracker.
type TrackerConfig struct {
	Log     slog.Logger
	Fetcher StatusFetcher
	Ledger  Crediter

	// Outbox is optional; when nil, accepted exchanges are credited
	// without a durable record.
	Outbox CreditOutbox

	// PollInterval between status queries. Defaults to 5s.
	PollInterval time.Duration

	// MaxTracking bounds how long a single proposal is supervised before
	// it is marked expired for operator follow-up. Defaults to 48h.
	MaxTracking time.Duration
}

// Tracker supervises submitted proposals until they reach a terminal status
// and applies the ledger credit exactly once per accepted exchange. Each
// tracked proposal runs on its own goroutine with a cancellation handle
// keyed by remote ID.
type Tracker struct {
	log      slog.Logger
	fetcher  StatusFetcher
	ledger   Crediter
	outbox   CreditOutbox
	interval time.Duration
	maxTrack time.Duration

	mu     sync.Mutex
	active map[string]context.CancelFunc
	wg     sync.WaitGroup
}

func NewTracker(cfg TrackerConfig) (*Tracker, error) {
	if cfg.Log == nil {
		return nil, fmt.Errorf("tracker requires a logger")
	}
	if cfg.Fetcher == nil {
		return nil, fmt.Errorf("tracker requires a status fetcher")
	}
	if cfg.Ledger == nil {
		return nil, fmt.Errorf("tracker requires a ledger")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.MaxTracking <= 0 {
		cfg.MaxTracking = defaultMaxTracking
	}
	return &Tracker{
		log:      cfg.Log,
		fetcher:  cfg.Fetcher,
		ledger:   cfg.Ledger,
		outbox:   cfg.Outbox,
		interval: cfg.PollInterval,
		maxTrack: cfg.MaxTracking,
		active:   make(map[string]context.CancelFunc),
	}, nil
}

// Track starts supervising the proposal identified by remoteID. It is
// fire-and-forget: all effects are side effects, and failures are only
// logged. Tracking an already-tracked remote ID is a no-op.
func (t *Tracker) Track(remoteID, userID string, itemIDs []string, roundID string) {
	ctx, cancel := context.WithCancel(context.Background())

	t.mu.Lock()
	if _, ok := t.active[remoteID]; ok {
		t.mu.Unlock()
		cancel()
		t.log.Warnf("track: offer %s is already being tracked", remoteID)
		return
	}
	t.active[remoteID] = cancel
	t.mu.Unlock()

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		defer t.remove(remoteID)
		defer cancel()
		t.run(ctx, remoteID, userID, itemIDs, roundID)
	}()
}

// Cancel aborts tracking of remoteID. Returns false when the offer is not
// being tracked.
func (t *Tracker) Cancel(remoteID string) bool {
	t.mu.Lock()
	cancel, ok := t.active[remoteID]
	t.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// Active returns the remote IDs currently being tracked.
func (t *Tracker) Active() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := make([]string, 0, len(t.active))
	for id := range t.active {
		ids = append(ids, id)
	}
	return ids
}

// Stop cancels all tracked proposals and waits for their goroutines.
func (t *Tracker) Stop() {
	t.mu.Lock()
	for _, cancel := range t.active {
		cancel()
	}
	t.mu.Unlock()
	t.wg.Wait()
}

func (t *Tracker) remove(remoteID string) {
	t.mu.Lock()
	delete(t.active, remoteID)
	t.mu.Unlock()
}

func (t *Tracker) run(ctx context.Context, remoteID, userID string, itemIDs []string, roundID string) {
	// The initial fetch failing is not self-healing; give up and leave a
	// trail for the operator.
	status, err := t.fetcher.OfferStatus(ctx, remoteID)
	if err != nil {
		t.log.Errorf("track: initial fetch of offer %s failed, giving up: %v", remoteID, err)
		return
	}
	if t.handleStatus(ctx, status, remoteID, userID, itemIDs, roundID) {
		return
	}

	tick := time.NewTicker(t.interval)
	defer tick.Stop()
	expire := time.NewTimer(t.maxTrack)
	defer expire.Stop()

	for {
		select {
		case <-ctx.Done():
			t.log.Debugf("track: offer %s tracking canceled", remoteID)
			return

		case <-expire.C:
			t.log.Errorf("track: offer %s exceeded max tracking duration (%s); marking expired, operator follow-up required",
				remoteID, t.maxTrack)
			return

		case <-tick.C:
			status, err := t.fetcher.OfferStatus(ctx, remoteID)
			if err != nil {
				t.log.Errorf("track: status fetch of offer %s failed, giving up: %v", remoteID, err)
				return
			}
			if t.handleStatus(ctx, status, remoteID, userID, itemIDs, roundID) {
				return
			}
		}
	}
}

// handleStatus applies terminal-status effects. Returns true when tracking
// must stop.
func (t *Tracker) handleStatus(ctx context.Context, status OfferStatus, remoteID, userID string, itemIDs []string, roundID string) bool {
	switch status {
	case StatusAccepted:
		t.credit(ctx, remoteID, userID, itemIDs, roundID)
		return true

	case StatusDeclined:
		// The user kept their items; no ledger effect.
		t.log.Infof("track: offer %s declined by counterparty", remoteID)
		return true

	default:
		if status.Terminal() {
			t.log.Warnf("track: offer %s reached terminal status %q; no ledger effect", remoteID, status)
			return true
		}
		return false
	}
}

// credit applies the ledger mutation exactly once, recording the pending
// credit durably first so a persistence failure can be replayed on restart.
func (t *Tracker) credit(ctx context.Context, remoteID, userID string, itemIDs []string, roundID string) {
	t.log.Infof("track: offer %s accepted; crediting user %s into round %s", remoteID, userID, roundID)

	if t.outbox != nil {
		if err := t.outbox.StorePendingCredit(ctx, remoteID, userID, roundID, itemIDs); err != nil {
			t.log.Errorf("track: failed to record pending credit for offer %s: %v", remoteID, err)
		}
	}

	if err := t.ledger.Credit(ctx, userID, itemIDs, roundID); err != nil {
		// The pending record, if any, remains for startup replay.
		t.log.Errorf("track: credit for offer %s failed: %v", remoteID, err)
		return
	}

	if t.outbox != nil {
		if err := t.outbox.DeletePendingCredit(ctx, remoteID); err != nil {
			t.log.Warnf("track: failed to clear pending credit for offer %s: %v", remoteID, err)
		}
	}
}
