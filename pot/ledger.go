package pot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/decred/slog"
)

// LedgerConfig configures the round ledger.
type LedgerConfig struct {
	Log    slog.Logger
	Store  RoundStore
	Prices PriceSource

	// Rounds and Ntfn are optional external collaborators.
	Rounds RoundManager
	Ntfn   Notifier
}

// Ledger is the single writer of round state. It credits accepted deposits
// into rounds, drives the Waiting -> InProgress transition and publishes
// participant snapshots to observers.
type Ledger struct {
	log    slog.Logger
	store  RoundStore
	prices PriceSource
	rounds RoundManager
	ntfn   Notifier
}

func NewLedger(cfg LedgerConfig) (*Ledger, error) {
	if cfg.Log == nil {
		return nil, fmt.Errorf("ledger requires a logger")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("ledger requires a store")
	}
	if cfg.Prices == nil {
		return nil, fmt.Errorf("ledger requires a price source")
	}
	return &Ledger{
		log:    cfg.Log,
		store:  cfg.Store,
		prices: cfg.Prices,
		rounds: cfg.Rounds,
		ntfn:   cfg.Ntfn,
	}, nil
}

// ActiveRound returns the round currently accepting deposits, creating one
// lazily when none exists.
func (l *Ledger) ActiveRound(ctx context.Context) (*Round, error) {
	return l.store.ActiveRound(ctx)
}

// Round returns a round by ID.
func (l *Ledger) Round(ctx context.Context, id string) (*Round, error) {
	return l.store.Round(ctx, id)
}

// Credit records userID's accepted deposit of itemIDs against roundID.
// Invoked by the offer tracker exactly once per accepted exchange.
//
// A missing item record or valuation contributes zero value rather than
// failing the credit. Store failures abort the whole operation; no partial
// state is surfaced as success. The participants snapshot is published only
// after all persistence succeeded.
func (l *Ledger) Credit(ctx context.Context, userID string, itemIDs []string, roundID string) error {
	// An item credits once no matter how often the request names it; the
	// participant entry stores a set, so the valuation must sum over the
	// same set.
	itemIDs = dedupe(itemIDs)

	if _, err := l.store.User(ctx, userID); err != nil {
		return fmt.Errorf("credit: load user %s: %w", userID, err)
	}

	added := l.valueOf(ctx, itemIDs)

	startTimer := false
	round, err := l.store.UpdateRound(ctx, roundID, func(r *Round) error {
		if !r.Open() {
			return ErrRoundCompleted
		}

		if p := r.Participant(userID); p != nil {
			p.addItems(itemIDs)
		} else {
			np := Participant{UserID: userID, Color: displayColor()}
			np.addItems(itemIDs)
			r.Participants = append(r.Participants, np)
		}

		r.TotalValue += added
		if r.Status == RoundWaiting && r.DistinctUsers() >= 2 {
			r.Status = RoundInProgress
			startTimer = true
		}
		r.UpdatedAt = time.Now()
		return nil
	})
	if err != nil {
		return fmt.Errorf("credit: round %s: %w", roundID, err)
	}

	// The credited items leave the user's holdings so they cannot be
	// redeposited into another round. The removal runs through the store's
	// atomic closure; concurrent credits for the same user must not
	// resurrect each other's items.
	_, err = l.store.UpdateUser(ctx, userID, func(u *User) error {
		u.Holdings = removeAll(u.Holdings, itemIDs)
		return nil
	})
	if err != nil {
		return fmt.Errorf("credit: update user %s: %w", userID, err)
	}

	l.log.Infof("credited user %s into round %s: %d items, %d cents (round total %d)",
		userID, roundID, len(itemIDs), added, round.TotalValue)

	if startTimer && l.rounds != nil {
		l.rounds.StartRoundTimer(round.ID)
	}
	if l.ntfn != nil {
		l.ntfn.ParticipantsChanged(round.ID, round.TotalValue, round.Snapshot())
	}
	return nil
}

// valueOf sums the valuations of the given items. Lookup misses are logged
// and count zero; a single bad valuation never fails the whole credit.
func (l *Ledger) valueOf(ctx context.Context, itemIDs []string) int64 {
	var total int64
	for _, id := range itemIDs {
		item, err := l.store.Item(ctx, id)
		if err != nil {
			if errors.Is(err, ErrItemNotFound) {
				l.log.Warnf("item %s not found; valuing at zero", id)
				continue
			}
			l.log.Errorf("item %s load failed; valuing at zero: %v", id, err)
			continue
		}
		price, ok := l.prices.Price(item.Name)
		if !ok {
			l.log.Debugf("no valuation for %q; valuing at zero", item.Name)
			continue
		}
		total += price
	}
	return total
}

// dedupe drops repeated IDs, keeping first-occurrence order.
func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func removeAll(from, remove []string) []string {
	drop := make(map[string]struct{}, len(remove))
	for _, id := range remove {
		drop[id] = struct{}{}
	}
	out := from[:0]
	for _, id := range from {
		if _, ok := drop[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}
