package storage

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"

	"github.com/hnmirror/hn-mirror/pkg/models"
)

// MemoryStore is an LRU-bounded SeenStore that lives for the process lifetime.
// When full, the identifier seen least recently is evicted; identifiers still
// on the listing page are refreshed every cycle and so stay resident.
type MemoryStore struct {
	mu    sync.Mutex // makes MarkSeen's lookup-then-insert atomic
	cache *lru.Cache[string, *models.SeenEntry]
	now   func() time.Time
	log   *logrus.Entry
}

// NewMemoryStore creates a MemoryStore holding at most maxEntries identifiers.
// A non-positive maxEntries never evicts.
func NewMemoryStore(maxEntries int, logger *logrus.Entry) *MemoryStore {
	size := maxEntries
	if size <= 0 {
		logger.Warn("In-memory dedup store is unbounded")
		size = math.MaxInt
	}
	s := &MemoryStore{now: time.Now, log: logger}

	// Only fails for a non-positive size
	cache, _ := lru.NewWithEvict(size, func(id string, _ *models.SeenEntry) {
		s.log.WithField("item_id", id).Debug("Evicted least recently seen identifier")
	})
	s.cache = cache
	return s
}

// MarkSeen implements SeenStore
func (s *MemoryStore) MarkSeen(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if entry, ok := s.cache.Get(id); ok {
		entry.LastSeen = now
		return false, nil
	}
	s.cache.Add(id, &models.SeenEntry{ID: id, FirstSeen: now, LastSeen: now})
	return true, nil
}

// Seen implements SeenStore. It does not refresh recency.
func (s *MemoryStore) Seen(id string) (bool, error) {
	return s.cache.Contains(id), nil
}

// Count implements SeenStore
func (s *MemoryStore) Count() (int, error) {
	return s.cache.Len(), nil
}

// Snapshot implements SeenStore, most recently seen first
func (s *MemoryStore) Snapshot(limit int) ([]models.SeenEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	values := s.cache.Values() // oldest first
	n := len(values)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]models.SeenEntry, 0, n)
	for i := len(values) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, *values[i])
	}
	return out, nil
}

// WriteSeenLog implements SeenStore
func (s *MemoryStore) WriteSeenLog(filePath string) error {
	entries, _ := s.Snapshot(0)

	file, err := os.Create(filePath)
	if err != nil {
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
	s.log.Infof("Wrote %d identifiers to seen log: %s", len(entries), filePath)
	return nil
}

// Close implements SeenStore. Contents are discarded.
func (s *MemoryStore) Close() error {
	return nil
}
