// Package outbox stores pending deliveries in a bbolt file so notifications
// and expense status updates survive restarts and collaborator outages.
package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.etcd.io/bbolt"

	"github.com/garyjia/expense-approval/internal/application/port"
)

const (
	pendingBucket   = "outbox_pending"
	deadBucket      = "outbox_dead"
	deliveredBucket = "outbox_delivered"
)

// ErrEntryNotFound is returned when a key is not pending
var ErrEntryNotFound = errors.New("outbox entry not found")

// BoltOutbox implements port.Outbox on bbolt. Acknowledged keys are kept in
// a delivered bucket so a replayed event is never enqueued a second time.
type BoltOutbox struct {
	db *bbolt.DB
}

var _ port.Outbox = (*BoltOutbox)(nil)

// Open opens (or creates) the outbox file at path
func Open(path string) (*BoltOutbox, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening outbox: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{pendingBucket, deadBucket, deliveredBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltOutbox{db: db}, nil
}

// Enqueue stores entry unless its key is pending, dead or already delivered
func (o *BoltOutbox) Enqueue(ctx context.Context, entry port.OutboxEntry) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if entry.Key == "" {
		return false, errors.New("outbox entry key is required")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if entry.NextAttemptAt.IsZero() {
		entry.NextAttemptAt = entry.CreatedAt
	}

	created := false
	err := o.db.Update(func(tx *bbolt.Tx) error {
		key := []byte(entry.Key)
		for _, name := range []string{pendingBucket, deadBucket, deliveredBucket} {
			if tx.Bucket([]byte(name)).Get(key) != nil {
				return nil
			}
		}
		data, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("marshaling entry: %w", err)
		}
		created = true
		return tx.Bucket([]byte(pendingBucket)).Put(key, data)
	})
	if err != nil {
		return false, err
	}
	return created, nil
}

// Due returns up to limit pending entries whose next attempt is not after
// now, oldest first
func (o *BoltOutbox) Due(ctx context.Context, now time.Time, limit int) ([]port.OutboxEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	due := make([]port.OutboxEntry, 0)
	err := o.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(pendingBucket)).ForEach(func(k, v []byte) error {
			var entry port.OutboxEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return fmt.Errorf("unmarshaling entry %s: %w", k, err)
			}
			if !entry.NextAttemptAt.After(now) {
				due = append(due, entry)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(due, func(i, j int) bool {
		if due[i].NextAttemptAt.Equal(due[j].NextAttemptAt) {
			return due[i].Key < due[j].Key
		}
		return due[i].NextAttemptAt.Before(due[j].NextAttemptAt)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

// Ack removes a delivered entry and remembers its key
func (o *BoltOutbox) Ack(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return o.db.Update(func(tx *bbolt.Tx) error {
		pending := tx.Bucket([]byte(pendingBucket))
		if pending.Get([]byte(key)) == nil {
			return fmt.Errorf("%w: %s", ErrEntryNotFound, key)
		}
		if err := pending.Delete([]byte(key)); err != nil {
			return err
		}
		stamp, err := time.Now().UTC().MarshalText()
		if err != nil {
			return err
		}
		return tx.Bucket([]byte(deliveredBucket)).Put([]byte(key), stamp)
	})
}

// Retry records a failed attempt and reschedules the entry
func (o *BoltOutbox) Retry(ctx context.Context, key string, next time.Time, lastErr string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return o.db.Update(func(tx *bbolt.Tx) error {
		pending := tx.Bucket([]byte(pendingBucket))
		entry, err := getEntry(pending, key)
		if err != nil {
			return err
		}
		entry.Attempts++
		entry.NextAttemptAt = next
		entry.LastError = lastErr
		return putEntry(pending, entry)
	})
}

// DeadLetter moves an entry out of the pending bucket for manual inspection
func (o *BoltOutbox) DeadLetter(ctx context.Context, key string, lastErr string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return o.db.Update(func(tx *bbolt.Tx) error {
		pending := tx.Bucket([]byte(pendingBucket))
		entry, err := getEntry(pending, key)
		if err != nil {
			return err
		}
		entry.Attempts++
		entry.LastError = lastErr
		if err := putEntry(tx.Bucket([]byte(deadBucket)), entry); err != nil {
			return err
		}
		return pending.Delete([]byte(key))
	})
}

// DeadLetters lists every dead-lettered entry
func (o *BoltOutbox) DeadLetters(ctx context.Context) ([]port.OutboxEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries := make([]port.OutboxEntry, 0)
	err := o.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(deadBucket)).ForEach(func(k, v []byte) error {
			var entry port.OutboxEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return fmt.Errorf("unmarshaling entry %s: %w", k, err)
			}
			entries = append(entries, entry)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// Counts reports how many entries are pending and dead
func (o *BoltOutbox) Counts() (pending, dead int, err error) {
	err = o.db.View(func(tx *bbolt.Tx) error {
		pending = tx.Bucket([]byte(pendingBucket)).Stats().KeyN
		dead = tx.Bucket([]byte(deadBucket)).Stats().KeyN
		return nil
	})
	return pending, dead, err
}

// Close closes the underlying file
func (o *BoltOutbox) Close() error {
	return o.db.Close()
}

func getEntry(bucket *bbolt.Bucket, key string) (port.OutboxEntry, error) {
	var entry port.OutboxEntry
	data := bucket.Get([]byte(key))
	if data == nil {
		return entry, fmt.Errorf("%w: %s", ErrEntryNotFound, key)
	}
	if err := json.Unmarshal(data, &entry); err != nil {
		return entry, fmt.Errorf("unmarshaling entry %s: %w", key, err)
	}
	return entry, nil
}

func putEntry(bucket *bbolt.Bucket, entry port.OutboxEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshaling entry: %w", err)
	}
	return bucket.Put([]byte(entry.Key), data)
}
