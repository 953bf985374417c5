package jackpotdb

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/vctt94/jackpotbot/pot"
)

var (
	roundsBucket  = []byte("rounds")
	usersBucket   = []byte("users")
	itemsBucket   = []byte("items")
	pendingBucket = []byte("pending_credits")
	metaBucket    = []byte("meta")

	activeRoundKey = []byte("active_round")
)

// BoltDB implements DB on top of a single bbolt file. Round mutations run
// inside one write transaction, which serializes interleaved credits and
// preserves the round invariants without a separate version field.
type BoltDB struct {
	db *bolt.DB
}

var _ DB = (*BoltDB)(nil)

func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{roundsBucket, usersBucket, itemsBucket, pendingBucket, metaBucket} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}
	return &BoltDB{db: db}, nil
}

func (d *BoltDB) Close() error { return d.db.Close() }

func getJSON(b *bolt.Bucket, key []byte, out any) (bool, error) {
	data := b.Get(key)
	if data == nil {
		return false, nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("unmarshal %s: %w", key, err)
	}
	return true, nil
}

func putJSON(b *bolt.Bucket, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return b.Put(key, data)
}

// ActiveRound returns the round pointed at by the meta bucket when it is
// still open, and lazily creates a fresh Waiting round otherwise.
func (d *BoltDB) ActiveRound(ctx context.Context) (*pot.Round, error) {
	var round *pot.Round
	err := d.db.Update(func(tx *bolt.Tx) error {
		meta := tx.Bucket(metaBucket)
		rounds := tx.Bucket(roundsBucket)
		if meta == nil || rounds == nil {
			return ErrBucketNotFound
		}

		if id := meta.Get(activeRoundKey); id != nil {
			var r pot.Round
			ok, err := getJSON(rounds, id, &r)
			if err != nil {
				return err
			}
			if ok && r.Open() {
				round = &r
				return nil
			}
		}

		now := time.Now()
		r := &pot.Round{
			ID:        uuid.NewString(),
			Status:    pot.RoundWaiting,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := putJSON(rounds, []byte(r.ID), r); err != nil {
			return err
		}
		if err := meta.Put(activeRoundKey, []byte(r.ID)); err != nil {
			return err
		}
		round = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return round, nil
}

func (d *BoltDB) Round(ctx context.Context, id string) (*pot.Round, error) {
	var round pot.Round
	err := d.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(roundsBucket)
		if b == nil {
			return ErrBucketNotFound
		}
		ok, err := getJSON(b, []byte(id), &round)
		if err != nil {
			return err
		}
		if !ok {
			return pot.ErrRoundNotFound
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &round, nil
}

// UpdateRound applies fn to the stored round atomically: the read, the
// mutation and the write all happen inside a single bolt write transaction.
func (d *BoltDB) UpdateRound(ctx context.Context, id string, fn func(*pot.Round) error) (*pot.Round, error) {
	var round pot.Round
	err := d.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(roundsBucket)
		if b == nil {
			return ErrBucketNotFound
		}
		ok, err := getJSON(b, []byte(id), &round)
		if err != nil {
			return err
		}
		if !ok {
			return pot.ErrRoundNotFound
		}
		if err := fn(&round); err != nil {
			return err
		}
		return putJSON(b, []byte(id), &round)
	})
	if err != nil {
		return nil, err
	}
	return &round, nil
}

func (d *BoltDB) User(ctx context.Context, id string) (*pot.User, error) {
	var user pot.User
	err := d.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(usersBucket)
		if b == nil {
			return ErrBucketNotFound
		}
		ok, err := getJSON(b, []byte(id), &user)
		if err != nil {
			return err
		}
		if !ok {
			return pot.ErrUserNotFound
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (d *BoltDB) SaveUser(ctx context.Context, u *pot.User) error {
	return d.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(usersBucket)
		if b == nil {
			return ErrBucketNotFound
		}
		return putJSON(b, []byte(u.ID), u)
	})
}

// UpdateUser applies fn to the stored user inside a single write
// transaction, mirroring UpdateRound. Concurrent holdings mutations
// serialize here instead of racing through load-modify-save.
func (d *BoltDB) UpdateUser(ctx context.Context, id string, fn func(*pot.User) error) (*pot.User, error) {
	var user pot.User
	err := d.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(usersBucket)
		if b == nil {
			return ErrBucketNotFound
		}
		ok, err := getJSON(b, []byte(id), &user)
		if err != nil {
			return err
		}
		if !ok {
			return pot.ErrUserNotFound
		}
		if err := fn(&user); err != nil {
			return err
		}
		return putJSON(b, []byte(id), &user)
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (d *BoltDB) Item(ctx context.Context, id string) (*pot.Item, error) {
	var item pot.Item
	err := d.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(itemsBucket)
		if b == nil {
			return ErrBucketNotFound
		}
		ok, err := getJSON(b, []byte(id), &item)
		if err != nil {
			return err
		}
		if !ok {
			return pot.ErrItemNotFound
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (d *BoltDB) SaveItem(ctx context.Context, item *pot.Item) error {
	return d.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(itemsBucket)
		if b == nil {
			return ErrBucketNotFound
		}
		return putJSON(b, []byte(item.ID), item)
	})
}

func (d *BoltDB) StorePendingCredit(ctx context.Context, remoteID, userID, roundID string, itemIDs []string) error {
	return d.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(pendingBucket)
		if b == nil {
			return ErrBucketNotFound
		}
		if b.Get([]byte(remoteID)) != nil {
			return ErrDuplicatePending
		}
		return putJSON(b, []byte(remoteID), &PendingCredit{
			RemoteID:   remoteID,
			UserID:     userID,
			RoundID:    roundID,
			ItemIDs:    itemIDs,
			AcceptedAt: time.Now(),
		})
	})
}

func (d *BoltDB) DeletePendingCredit(ctx context.Context, remoteID string) error {
	return d.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(pendingBucket)
		if b == nil {
			return ErrBucketNotFound
		}
		if b.Get([]byte(remoteID)) == nil {
			return ErrPendingNotFound
		}
		return b.Delete([]byte(remoteID))
	})
}

func (d *BoltDB) PendingCredits(ctx context.Context) ([]*PendingCredit, error) {
	var out []*PendingCredit
	err := d.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(pendingBucket)
		if b == nil {
			return ErrBucketNotFound
		}
		return b.ForEach(func(k, v []byte) error {
			var rec PendingCredit
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("unmarshal pending credit %s: %w", k, err)
			}
			out = append(out, &rec)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
