package pot

import (
	"context"
	"errors"
	"time"
)

var (
	ErrRoundNotFound = errors.New("round not found")
	ErrUserNotFound  = errors.New("user not found")
	ErrItemNotFound  = errors.New("item not found")

	// ErrRoundCompleted rejects mutations of a finalized round.
	ErrRoundCompleted = errors.New("round already completed")
)

// RoundStatus only moves forward: Waiting -> InProgress -> Completed.
type RoundStatus int32

const (
	RoundWaiting RoundStatus = iota
	RoundInProgress
	RoundCompleted
)

func (s RoundStatus) String() string {
	switch s {
	case RoundWaiting:
		return "waiting"
	case RoundInProgress:
		return "in progress"
	case RoundCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// Participant is one user's stake in a round. A user appears at most once;
// repeat deposits extend ItemIDs.
type Participant struct {
	UserID  string   `json:"user_id"`
	ItemIDs []string `json:"item_ids"`

	// Color is purely a UI representation aid; it carries no fairness
	// property.
	Color string `json:"color"`
}

// Round is the pooled-wager aggregate. TotalValue is the sum of the
// valuations of every item credited into the round, in cents, and never
// decreases while the round is open.
type Round struct {
	ID           string        `json:"id"`
	Status       RoundStatus   `json:"status"`
	TotalValue   int64         `json:"total_value"`
	Participants []Participant `json:"participants"`
	Winner       string        `json:"winner,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// User is a depositing user's persistent record.
type User struct {
	ID       string   `json:"id"`
	TradeURL string   `json:"trade_url"`
	Holdings []string `json:"holdings"`
}

// Item is a depositable virtual item. Name is the market name used for
// valuation lookups.
type Item struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	AssetID   string `json:"asset_id"`
	AppID     uint32 `json:"app_id"`
	ContextID string `json:"context_id"`
}

// RoundStore is the persistence boundary for the ledger. UpdateRound and
// UpdateUser must apply fn atomically with respect to their own kind, so
// interleaved credits cannot lose round updates or resurrect removed
// holdings.
type RoundStore interface {
	// ActiveRound returns the current Waiting or InProgress round,
	// creating one lazily when none exists.
	ActiveRound(ctx context.Context) (*Round, error)

	Round(ctx context.Context, id string) (*Round, error)
	UpdateRound(ctx context.Context, id string, fn func(*Round) error) (*Round, error)

	User(ctx context.Context, id string) (*User, error)
	SaveUser(ctx context.Context, u *User) error
	UpdateUser(ctx context.Context, id string, fn func(*User) error) (*User, error)

	Item(ctx context.Context, id string) (*Item, error)
}

// PriceSource values items by market name. A missing price is not an error;
// the item simply contributes zero.
type PriceSource interface {
	Price(name string) (int64, bool)
}

// RoundManager is the external owner of round finalization. StartRoundTimer
// is invoked exactly once per round, when it enters InProgress.
type RoundManager interface {
	StartRoundTimer(roundID string)
}

// Notifier publishes participant snapshots to observers after a credit has
// been fully persisted.
type Notifier interface {
	ParticipantsChanged(roundID string, totalValue int64, participants []Participant)
}
