package crawler

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// MappingFileName is the TSV index of stored documents inside output_dir
const MappingFileName = "url_mapping.tsv"

// OutputManager owns the TSV mapping file that ties every stored document back
// to its source URL. Comment-linked files carry opaque names, so this index is
// the only way to tell which link a file came from.
//
// Each line is: cycle_id, item_id, kind, source URL, path.
type OutputManager struct {
	mu       sync.Mutex
	file     *os.File // nil when the index could not be opened
	path     string
	cycleID  string
	recorded int
	log      *logrus.Entry
}

// NewOutputManager opens (appending) the mapping file in outputDir.
// When the file cannot be opened the manager logs and records nothing.
func NewOutputManager(outputDir, cycleID string, log *logrus.Entry) *OutputManager {
	om := &OutputManager{
		path:    filepath.Join(outputDir, MappingFileName),
		cycleID: cycleID,
		log:     log,
	}
	f, err := os.OpenFile(om.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		log.Errorf("Failed to open TSV mapping file '%s', mapping disabled for this cycle: %v", om.path, err)
		return om
	}
	om.file = f
	return om
}

// RecordDocument appends one mapping line. Safe for concurrent use.
func (om *OutputManager) RecordDocument(itemID, kind, sourceURL, path string) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if om.file == nil {
		return
	}

	fields := []string{om.cycleID, itemID, kind, sanitizeField(sourceURL), path}
	if _, err := om.file.WriteString(strings.Join(fields, "\t") + "\n"); err != nil {
		om.log.WithFields(logrus.Fields{"index": om.path, "item_id": itemID, "kind": kind}).
			Errorf("Failed to append to URL index: %v", err)
		return
	}
	om.recorded++
}

// Recorded returns how many lines were written this cycle
func (om *OutputManager) Recorded() int {
	om.mu.Lock()
	defer om.mu.Unlock()
	return om.recorded
}

// Close syncs and closes the mapping file, if it was opened
func (om *OutputManager) Close() error {
	om.mu.Lock()
	defer om.mu.Unlock()

	if om.file == nil {
		return nil
	}
	defer func() { om.file = nil }()

	if err := om.file.Sync(); err != nil {
		om.log.Errorf("Error syncing TSV mapping file '%s': %v", om.path, err)
	}
	if err := om.file.Close(); err != nil {
		return fmt.Errorf("closing TSV mapping file '%s': %w", om.path, err)
	}
	return nil
}

// sanitizeField keeps tabs and newlines in a URL from breaking the TSV layout
func sanitizeField(s string) string {
	return strings.NewReplacer("\t", "%09", "\n", "%0A", "\r", "%0D").Replace(s)
}
