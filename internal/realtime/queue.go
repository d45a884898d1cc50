// Ranger - Security Workforce Geofencing and Real-Time Operations
// Copyright 2026 Marc W. (marcwhitt)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/marcwhitt/ranger

package realtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/marcwhitt/ranger/internal/logging"
	"github.com/marcwhitt/ranger/internal/metrics"
	"github.com/marcwhitt/ranger/internal/models"
)

// OfflineQueue buffers messages for users with no open connection.
// Per-user ordering is FIFO: messages drain on reconnect in enqueue
// order. Retention and a per-user cap bound memory; when the cap is hit
// the oldest message is dropped first.
//
// An optional Badger spill makes the queue survive process restarts.
// The in-memory map stays authoritative; Badger mirrors it.
type OfflineQueue struct {
	mu        sync.Mutex
	messages  map[string][]models.QueuedMessage
	seq       uint64
	keys      map[string][][]byte // badger key per queued message, same order
	retention time.Duration
	perUser   int
	spill     *badger.DB
}

// NewOfflineQueue creates a queue with the given retention window and
// per-user cap. spillPath enables Badger persistence when non-empty.
func NewOfflineQueue(retention time.Duration, perUser int, spillPath string) (*OfflineQueue, error) {
	q := &OfflineQueue{
		messages:  make(map[string][]models.QueuedMessage),
		keys:      make(map[string][][]byte),
		retention: retention,
		perUser:   perUser,
	}

	if spillPath != "" {
		opts := badger.DefaultOptions(spillPath).
			WithLogger(nil).
			WithCompactL0OnClose(true)
		db, err := badger.Open(opts)
		if err != nil {
			return nil, fmt.Errorf("open offline queue spill: %w", err)
		}
		q.spill = db
		if err := q.reload(); err != nil {
			if cerr := db.Close(); cerr != nil {
				logging.Warn().Err(cerr).Msg("failed to close spill after reload error")
			}
			return nil, err
		}
	}

	return q, nil
}

// Close releases the Badger spill, if any.
func (q *OfflineQueue) Close() error {
	if q.spill == nil {
		return nil
	}
	return q.spill.Close()
}

// Enqueue parks a message for an offline user. When the user's buffer is
// at capacity the oldest message is evicted first.
func (q *OfflineQueue) Enqueue(msg models.QueuedMessage) {
	q.mu.Lock()
	defer q.mu.Unlock()

	buf := q.messages[msg.UserID]
	if len(buf) >= q.perUser {
		drop := len(buf) - q.perUser + 1
		q.deleteSpillKeysLocked(msg.UserID, drop)
		buf = buf[drop:]
		metrics.OfflineQueueDropped.WithLabelValues("capacity").Add(float64(drop))
		logging.Warn().
			Str("user_id", msg.UserID).
			Int("dropped", drop).
			Msg("offline queue at capacity, dropped oldest")
	}

	q.messages[msg.UserID] = append(buf, msg)
	q.persistLocked(msg)
	metrics.OfflineQueueDepth.Set(float64(q.depthLocked()))
}

// Drain removes and returns all queued messages for a user, oldest
// first. Called on reconnect.
func (q *OfflineQueue) Drain(userID string) []models.QueuedMessage {
	q.mu.Lock()
	defer q.mu.Unlock()

	buf := q.messages[userID]
	if len(buf) == 0 {
		return nil
	}
	q.deleteSpillKeysLocked(userID, len(buf))
	delete(q.messages, userID)
	metrics.OfflineQueueDepth.Set(float64(q.depthLocked()))
	return buf
}

// Len returns the total number of queued messages.
func (q *OfflineQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.depthLocked()
}

// Sweep drops messages older than the retention window and returns how
// many were removed.
func (q *OfflineQueue) Sweep(now time.Time) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	cutoff := now.Add(-q.retention)
	removed := 0
	for userID, buf := range q.messages {
		// Messages are in enqueue order, so expired ones form a prefix.
		expired := 0
		for _, m := range buf {
			if m.EnqueuedAt.After(cutoff) {
				break
			}
			expired++
		}
		if expired == 0 {
			continue
		}
		q.deleteSpillKeysLocked(userID, expired)
		if expired == len(buf) {
			delete(q.messages, userID)
		} else {
			q.messages[userID] = buf[expired:]
		}
		removed += expired
	}

	if removed > 0 {
		metrics.OfflineQueueDropped.WithLabelValues("expired").Add(float64(removed))
		metrics.OfflineQueueDepth.Set(float64(q.depthLocked()))
		logging.Info().Int("removed", removed).Msg("offline queue sweep removed expired messages")
	}
	return removed
}

// RunSweeper sweeps on the given interval until ctx is canceled.
func (q *OfflineQueue) RunSweeper(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			q.Sweep(now)
		}
	}
}

func (q *OfflineQueue) depthLocked() int {
	total := 0
	for _, buf := range q.messages {
		total += len(buf)
	}
	return total
}

func (q *OfflineQueue) persistLocked(msg models.QueuedMessage) {
	if q.spill == nil {
		return
	}

	q.seq++
	key := []byte(fmt.Sprintf("q/%s/%020d", msg.UserID, q.seq))
	data, err := json.Marshal(msg)
	if err != nil {
		logging.Error().Err(err).Msg("failed to encode queued message for spill")
		return
	}

	err = q.spill.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry(key, data).WithTTL(q.retention)
		return txn.SetEntry(entry)
	})
	if err != nil {
		// Spill failures degrade durability, not delivery.
		logging.Error().Err(err).Msg("failed to spill queued message")
		return
	}
	q.keys[msg.UserID] = append(q.keys[msg.UserID], key)
}

func (q *OfflineQueue) deleteSpillKeysLocked(userID string, n int) {
	if q.spill == nil {
		return
	}
	keys := q.keys[userID]
	if n > len(keys) {
		n = len(keys)
	}
	if n == 0 {
		return
	}
	err := q.spill.Update(func(txn *badger.Txn) error {
		for _, key := range keys[:n] {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		logging.Error().Err(err).Msg("failed to delete spilled messages")
	}
	if n == len(keys) {
		delete(q.keys, userID)
	} else {
		q.keys[userID] = keys[n:]
	}
}

// reload restores spilled messages after a restart. Keys embed a
// monotonic sequence so lexicographic iteration preserves enqueue order.
func (q *OfflineQueue) reload() error {
	restored := 0
	err := q.spill.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			key := item.KeyCopy(nil)
			if seq, ok := parseSpillSeq(key); ok && seq > q.seq {
				q.seq = seq
			}
			err := item.Value(func(val []byte) error {
				var msg models.QueuedMessage
				if err := json.Unmarshal(val, &msg); err != nil {
					logging.Warn().Err(err).Str("key", string(key)).Msg("skipping undecodable spilled message")
					return nil
				}
				q.messages[msg.UserID] = append(q.messages[msg.UserID], msg)
				q.keys[msg.UserID] = append(q.keys[msg.UserID], key)
				restored++
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("reload offline queue: %w", err)
	}

	if restored > 0 {
		metrics.OfflineQueueDepth.Set(float64(restored))
		logging.Info().Int("restored", restored).Msg("offline queue restored from spill")
	}
	return nil
}

// parseSpillSeq extracts the sequence number from a spill key of the
// form "q/<user>/<seq>". Sequence continuity across restarts keeps key
// order aligned with enqueue order.
func parseSpillSeq(key []byte) (uint64, bool) {
	s := string(key)
	idx := len(s) - 20
	if idx < 0 || s[idx-1] != '/' {
		return 0, false
	}
	var seq uint64
	for _, c := range s[idx:] {
		if c < '0' || c > '9' {
			return 0, false
		}
		seq = seq*10 + uint64(c-'0')
	}
	return seq, true
}
