package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hnmirror/hn-mirror/pkg/config"
	"github.com/hnmirror/hn-mirror/pkg/models"
)

// SeenStore remembers which listing identifiers have already been discovered.
// An identifier is added at most once; while present it suppresses discovery.
type SeenStore interface {
	// MarkSeen records id. Returns true if it was newly added, false if it
	// was already present (in which case its recency or retention is refreshed).
	MarkSeen(id string) (added bool, err error)

	// Seen reports whether id is present without refreshing it
	Seen(id string) (bool, error)

	// Count returns the number of identifiers currently held
	Count() (int, error)

	// Snapshot returns up to limit entries, most recently seen first.
	// A limit <= 0 returns every entry.
	Snapshot(limit int) ([]models.SeenEntry, error)

	// WriteSeenLog writes one identifier per line to filePath
	WriteSeenLog(filePath string) error

	// Close releases the store's resources
	Close() error
}

// GarbageCollector is implemented by stores that need periodic compaction.
// RunGC blocks until ctx is cancelled.
type GarbageCollector interface {
	RunGC(ctx context.Context, interval time.Duration)
}

// seenDBDir is the badger directory name inside state_dir
const seenDBDir = "seen_db"

// NewSeenStore opens the store selected by cfg.Dedup.Backend
func NewSeenStore(cfg *config.AppConfig, logger *logrus.Entry) (SeenStore, error) {
	switch cfg.Dedup.Backend {
	case config.DedupBadger:
		return NewBadgerStore(filepath.Join(cfg.StateDir, seenDBDir), cfg.Dedup.Retention, logger)
	case config.DedupMemory, "":
		return NewMemoryStore(cfg.Dedup.MaxEntries, logger), nil
	default:
		return nil, fmt.Errorf("unknown dedup backend %q", cfg.Dedup.Backend)
	}
}
