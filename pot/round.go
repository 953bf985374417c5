package pot

import (
	"fmt"
	"math/rand"
)

// DistinctUsers counts identity-distinct user IDs across participants. The
// InProgress threshold must use this, not the entry count, so a single user
// depositing repeatedly cannot start a round alone.
func (r *Round) DistinctUsers() int {
	seen := make(map[string]struct{}, len(r.Participants))
	for _, p := range r.Participants {
		seen[p.UserID] = struct{}{}
	}
	return len(seen)
}

// Participant returns the entry for userID, or nil.
func (r *Round) Participant(userID string) *Participant {
	for i := range r.Participants {
		if r.Participants[i].UserID == userID {
			return &r.Participants[i]
		}
	}
	return nil
}

// Open reports whether the round still accepts deposits.
func (r *Round) Open() bool {
	return r.Status != RoundCompleted
}

// Snapshot returns a deep copy of the participant list, safe to hand to
// observers.
func (r *Round) Snapshot() []Participant {
	out := make([]Participant, len(r.Participants))
	for i, p := range r.Participants {
		out[i] = Participant{
			UserID:  p.UserID,
			ItemIDs: append([]string(nil), p.ItemIDs...),
			Color:   p.Color,
		}
	}
	return out
}

// addItems extends the participant's item set, skipping duplicates.
func (p *Participant) addItems(itemIDs []string) {
	have := make(map[string]struct{}, len(p.ItemIDs))
	for _, id := range p.ItemIDs {
		have[id] = struct{}{}
	}
	for _, id := range itemIDs {
		if _, ok := have[id]; ok {
			continue
		}
		have[id] = struct{}{}
		p.ItemIDs = append(p.ItemIDs, id)
	}
}

// displayColor picks a random participant color for UI display.
func displayColor() string {
	return fmt.Sprintf("#%02x%02x%02x", rand.Intn(200)+30, rand.Intn(200)+30, rand.Intn(200)+30)
}
