package jackpotdb

import (
	"context"
	"errors"
	"time"

	"github.com/vctt94/jackpotbot/pot"
)

// Round, user and item lookups report the pot package's not-found
// sentinels, so ledger-side errors.Is checks hold for any store.
var (
	ErrBucketNotFound   = errors.New("bucket not found")
	ErrPendingNotFound  = errors.New("pending credit not found")
	ErrDuplicatePending = errors.New("pending credit already stored")
)

// PendingCredit records an accepted exchange whose ledger credit has not
// been confirmed yet. Written before the credit is attempted and deleted
// after it succeeds, so restarts can replay credits lost to persistence
// failures.
type PendingCredit struct {
	RemoteID   string    `json:"remote_id"`
	UserID     string    `json:"user_id"`
	RoundID    string    `json:"round_id"`
	ItemIDs    []string  `json:"item_ids"`
	AcceptedAt time.Time `json:"accepted_at"`
}

// DB is the persistence surface of the jackpot server. It extends the
// ledger's RoundStore with user/item seeding and the pending-credit outbox.
type DB interface {
	pot.RoundStore

	SaveItem(ctx context.Context, item *pot.Item) error

	StorePendingCredit(ctx context.Context, remoteID, userID, roundID string, itemIDs []string) error
	DeletePendingCredit(ctx context.Context, remoteID string) error
	PendingCredits(ctx context.Context) ([]*PendingCredit, error)

	Close() error
}
