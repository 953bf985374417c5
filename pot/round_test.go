package pot

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRoundDistinctUsers(t *testing.T) {
	r := &Round{}
	assert.Equal(t, 0, r.DistinctUsers())

	r.Participants = []Participant{
		{UserID: "U1", ItemIDs: []string{"a"}},
		{UserID: "U1", ItemIDs: []string{"b"}},
	}
	// Entry count must not be mistaken for distinct users.
	assert.Equal(t, 1, r.DistinctUsers())

	r.Participants = append(r.Participants, Participant{UserID: "U2"})
	assert.Equal(t, 2, r.DistinctUsers())
}

func TestParticipantAddItemsDeduplicates(t *testing.T) {
	p := &Participant{UserID: "U1", ItemIDs: []string{"a"}}
	p.addItems([]string{"a", "b", "b", "c"})
	assert.Equal(t, []string{"a", "b", "c"}, p.ItemIDs)
}

func TestRoundSnapshotIsDeepCopy(t *testing.T) {
	r := &Round{Participants: []Participant{{UserID: "U1", ItemIDs: []string{"a"}}}}
	snap := r.Snapshot()
	snap[0].ItemIDs[0] = "mutated"
	snap[0].UserID = "mutated"

	assert.Equal(t, "U1", r.Participants[0].UserID)
	assert.Equal(t, []string{"a"}, r.Participants[0].ItemIDs)
}

func TestRoundOpen(t *testing.T) {
	assert.True(t, (&Round{Status: RoundWaiting}).Open())
	assert.True(t, (&Round{Status: RoundInProgress}).Open())
	assert.False(t, (&Round{Status: RoundCompleted}).Open())
}

func TestDisplayColorFormat(t *testing.T) {
	for i := 0; i < 10; i++ {
		c := displayColor()
		assert.Len(t, c, 7)
		assert.Equal(t, byte('#'), c[0])
	}
}
