package jackpotdb

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vctt94/jackpotbot/pot"
)

func newTestDB(t *testing.T) *BoltDB {
	t.Helper()
	db, err := NewBoltDB(filepath.Join(t.TempDir(), "jackpot.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestActiveRoundLazyCreation(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	r1, err := db.ActiveRound(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, r1.ID)
	assert.Equal(t, pot.RoundWaiting, r1.Status)

	// Same open round on repeat lookup.
	r2, err := db.ActiveRound(ctx)
	require.NoError(t, err)
	assert.Equal(t, r1.ID, r2.ID)

	// Completing the round makes the next lookup create a fresh one.
	_, err = db.UpdateRound(ctx, r1.ID, func(r *pot.Round) error {
		r.Status = pot.RoundCompleted
		return nil
	})
	require.NoError(t, err)

	r3, err := db.ActiveRound(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, r1.ID, r3.ID)
	assert.Equal(t, pot.RoundWaiting, r3.Status)
}

func TestUpdateRoundAtomicMutation(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	r, err := db.ActiveRound(ctx)
	require.NoError(t, err)

	updated, err := db.UpdateRound(ctx, r.ID, func(r *pot.Round) error {
		r.TotalValue += 800
		r.Participants = append(r.Participants, pot.Participant{UserID: "U1", ItemIDs: []string{"a"}})
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(800), updated.TotalValue)

	stored, err := db.Round(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(800), stored.TotalValue)
	require.Len(t, stored.Participants, 1)
	assert.Equal(t, "U1", stored.Participants[0].UserID)
}

func TestUpdateRoundErrors(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	_, err := db.UpdateRound(ctx, "missing", func(r *pot.Round) error { return nil })
	assert.ErrorIs(t, err, pot.ErrRoundNotFound)

	r, err := db.ActiveRound(ctx)
	require.NoError(t, err)

	// A failing mutation must not persist anything.
	_, err = db.UpdateRound(ctx, r.ID, func(r *pot.Round) error {
		r.TotalValue = 999
		return pot.ErrRoundCompleted
	})
	assert.ErrorIs(t, err, pot.ErrRoundCompleted)

	stored, err := db.Round(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stored.TotalValue)
}

func TestUserRoundTrip(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	_, err := db.User(ctx, "U1")
	assert.ErrorIs(t, err, pot.ErrUserNotFound)

	u := &pot.User{ID: "U1", TradeURL: "https://t/u1", Holdings: []string{"a", "b"}}
	require.NoError(t, db.SaveUser(ctx, u))

	got, err := db.User(ctx, "U1")
	require.NoError(t, err)
	assert.Equal(t, u, got)
}

func TestUpdateUserAtomicMutation(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	_, err := db.UpdateUser(ctx, "missing", func(u *pot.User) error { return nil })
	assert.ErrorIs(t, err, pot.ErrUserNotFound)

	require.NoError(t, db.SaveUser(ctx, &pot.User{
		ID: "U1", TradeURL: "https://t/u1", Holdings: []string{"a", "b"},
	}))

	updated, err := db.UpdateUser(ctx, "U1", func(u *pot.User) error {
		u.Holdings = []string{"b"}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, updated.Holdings)

	stored, err := db.User(ctx, "U1")
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, stored.Holdings)

	// A failing mutation must not persist anything.
	_, err = db.UpdateUser(ctx, "U1", func(u *pot.User) error {
		u.Holdings = nil
		return pot.ErrItemNotFound
	})
	assert.ErrorIs(t, err, pot.ErrItemNotFound)

	stored, err = db.User(ctx, "U1")
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, stored.Holdings)
}

func TestItemRoundTrip(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	_, err := db.Item(ctx, "a")
	assert.ErrorIs(t, err, pot.ErrItemNotFound)

	item := &pot.Item{ID: "a", Name: "AK-47 | Redline", AssetID: "1", AppID: 730, ContextID: "2"}
	require.NoError(t, db.SaveItem(ctx, item))

	got, err := db.Item(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, item, got)
}

func TestPendingCreditOutbox(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.StorePendingCredit(ctx, "42", "U1", "round-1", []string{"a"}))
	assert.ErrorIs(t, db.StorePendingCredit(ctx, "42", "U1", "round-1", []string{"a"}), ErrDuplicatePending)

	pending, err := db.PendingCredits(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "42", pending[0].RemoteID)
	assert.Equal(t, "U1", pending[0].UserID)
	assert.Equal(t, "round-1", pending[0].RoundID)
	assert.Equal(t, []string{"a"}, pending[0].ItemIDs)
	assert.False(t, pending[0].AcceptedAt.IsZero())

	require.NoError(t, db.DeletePendingCredit(ctx, "42"))
	assert.ErrorIs(t, db.DeletePendingCredit(ctx, "42"), ErrPendingNotFound)

	pending, err = db.PendingCredits(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}
