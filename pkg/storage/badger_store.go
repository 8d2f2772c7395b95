package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"github.com/hnmirror/hn-mirror/pkg/log"
	"github.com/hnmirror/hn-mirror/pkg/models"
	"github.com/hnmirror/hn-mirror/pkg/utils"
)

const seenKeyPrefix = "seen:" // Prefix for identifier keys in DB

// BadgerStore is a durable SeenStore. Every identifier carries a TTL of the
// configured retention; a repeat sighting rewrites it with a fresh TTL, so an
// identifier only expires once it has been off the listing for that long.
type BadgerStore struct {
	db        *badger.DB
	retention time.Duration
	now       func() time.Time
	log       *logrus.Entry
}

// NewBadgerStore opens (or creates) the identifier database at dbPath.
// Existing contents are kept, so identifiers survive restarts.
func NewBadgerStore(dbPath string, retention time.Duration, logger *logrus.Entry) (*BadgerStore, error) {
	if err := os.MkdirAll(dbPath, 0755); err != nil {
		return nil, fmt.Errorf("cannot create state directory %s: %w", dbPath, err)
	}

	logger.Infof("Opening seen-identifier database at: %s (retention %v)", dbPath, retention)

	badgerLogger := log.NewBadgerLogrusAdapter(logger.WithField("component", "badgerdb"))
	opts := badger.DefaultOptions(dbPath).
		WithLogger(badgerLogger).
		WithNumVersionsToKeep(1)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open badger database at %s: %w", utils.ErrDatabase, dbPath, err)
	}

	return &BadgerStore{db: db, retention: retention, now: time.Now, log: logger}, nil
}

const maxConflictRetries = 10

// dbUpdate wraps db.Update with a retry loop for BadgerDB transaction conflicts.
// Conflicts on overlapping keys resolve in microseconds, so no backoff is used.
func (s *BadgerStore) dbUpdate(fn func(txn *badger.Txn) error) error {
	for i := range maxConflictRetries {
		err := s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		s.log.Debugf("BadgerDB transaction conflict (attempt %d/%d), retrying", i+1, maxConflictRetries)
	}
	return fmt.Errorf("%w: transaction conflict not resolved after %d retries", utils.ErrDatabase, maxConflictRetries)
}

func (s *BadgerStore) newEntry(key []byte, entry models.SeenEntry) (*badger.Entry, error) {
	val, err := json.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to marshal SeenEntry for key '%s': %w", utils.ErrParsing, string(key), err)
	}
	e := badger.NewEntry(key, val)
	if s.retention > 0 {
		e = e.WithTTL(s.retention)
	}
	return e, nil
}

// MarkSeen implements SeenStore
func (s *BadgerStore) MarkSeen(id string) (bool, error) {
	if s.db == nil {
		return false, fmt.Errorf("%w: seen DB not initialized", utils.ErrDatabase)
	}
	added := false
	key := []byte(seenKeyPrefix + id)
	now := s.now()

	err := s.dbUpdate(func(txn *badger.Txn) error {
		added = false
		record := models.SeenEntry{ID: id, FirstSeen: now, LastSeen: now}

		item, errGet := txn.Get(key)
		switch {
		case errors.Is(errGet, badger.ErrKeyNotFound):
			added = true
		case errGet != nil:
			return errGet
		default:
			// Keep the original first sighting; an unreadable value is simply replaced.
			_ = item.Value(func(val []byte) error {
				var existing models.SeenEntry
				if json.Unmarshal(val, &existing) == nil && !existing.FirstSeen.IsZero() {
					record.FirstSeen = existing.FirstSeen
				}
				return nil
			})
		}

		e, err := s.newEntry(key, record)
		if err != nil {
			return err
		}
		return txn.SetEntry(e)
	})

	if err != nil {
		s.log.WithField("key", string(key)).Errorf("DB Update error in MarkSeen: %v", err)
		if errors.Is(err, utils.ErrDatabase) || errors.Is(err, utils.ErrParsing) {
			return false, err
		}
		return false, fmt.Errorf("%w: marking key '%s': %w", utils.ErrDatabase, string(key), err)
	}
	return added, nil
}

// Seen implements SeenStore
func (s *BadgerStore) Seen(id string) (bool, error) {
	found := false
	err := s.db.View(func(txn *badger.Txn) error {
		_, errGet := txn.Get([]byte(seenKeyPrefix + id))
		if errors.Is(errGet, badger.ErrKeyNotFound) {
			return nil
		}
		if errGet != nil {
			return errGet
		}
		found = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("%w: reading key for '%s': %w", utils.ErrDatabase, id, err)
	}
	return found, nil
}

// Count implements SeenStore. Expired identifiers are not counted.
func (s *BadgerStore) Count() (int, error) {
	count := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		prefix := []byte(seenKeyPrefix)
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			count++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: counting keys: %w", utils.ErrDatabase, err)
	}
	return count, nil
}

// Snapshot implements SeenStore
func (s *BadgerStore) Snapshot(limit int) ([]models.SeenEntry, error) {
	var entries []models.SeenEntry
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := []byte(seenKeyPrefix)
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			id := string(item.Key()[len(prefix):])
			errValue := item.Value(func(val []byte) error {
				var e models.SeenEntry
				if errJSON := json.Unmarshal(val, &e); errJSON != nil {
					s.log.Warnf("Failed to unmarshal SeenEntry for '%s': %v. Listing id only.", id, errJSON)
					e = models.SeenEntry{}
				}
				e.ID = id
				entries = append(entries, e)
				return nil
			})
			if errValue != nil {
				return errValue
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: scanning seen identifiers: %w", utils.ErrDatabase, err)
	}

	sort.SliceStable(entries, func(i, j int) bool { return entries[i].LastSeen.After(entries[j].LastSeen) })
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// RunGC runs BadgerDB's value log garbage collection periodically
func (s *BadgerStore) RunGC(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.log.Debug("BadgerDB GC goroutine started.")

	for {
		select {
		case <-ticker.C:
			if s.db == nil || s.db.IsClosed() {
				continue
			}
			var err error
			for err == nil {
				// Rewrite while at least half of a value log file is reclaimable
				err = s.db.RunValueLogGC(0.5)
			}
			if !errors.Is(err, badger.ErrNoRewrite) {
				s.log.Errorf("BadgerDB GC error: %v", err)
			}

		case <-ctx.Done():
			s.log.Debugf("Stopping BadgerDB garbage collection: %v", ctx.Err())
			return
		}
	}
}

// WriteSeenLog implements SeenStore
func (s *BadgerStore) WriteSeenLog(filePath string) error {
	entries, err := s.Snapshot(0)
	if err != nil {
		return err
	}

	file, err := os.Create(filePath)
	if err != nil {
		s.log.Errorf("Failed create seen log '%s': %v", filePath, err)
		return fmt.Errorf("create seen log '%s': %w", filePath, err)
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	for _, e := range entries {
		if _, err := writer.WriteString(e.ID + "\n"); err != nil {
			return fmt.Errorf("write seen log '%s': %w", filePath, err)
		}
	}
	if err := writer.Flush(); err != nil {
		return fmt.Errorf("flush seen log '%s': %w", filePath, err)
	}
	if err := file.Sync(); err != nil {
		return fmt.Errorf("sync seen log '%s': %w", filePath, err)
	}

	s.log.Infof("Wrote %d identifiers to seen log: %s", len(entries), filePath)
	return nil
}

// Close implements SeenStore
func (s *BadgerStore) Close() error {
	if s.db != nil && !s.db.IsClosed() {
		s.log.Debug("Closing seen DB...")
		if err := s.db.Close(); err != nil {
			s.log.Errorf("Error closing seen DB: %v", err)
			return err
		}
		return nil
	}
	return nil
}
