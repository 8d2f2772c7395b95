package watch

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hnmirror/hn-mirror/pkg/models"
)

// StateFileName is the scheduler's state file inside state_dir
const StateFileName = "crawler_state.json"

// Totals accumulates cycle outcomes across the life of the state file
type Totals struct {
	Cycles          int64 `json:"cycles"`
	FailedCycles    int64 `json:"failed_cycles"`
	Discovered      int64 `json:"discovered"`
	ItemsStored     int64 `json:"items_stored"`
	ItemFailures    int64 `json:"item_failures"`
	CommentFailures int64 `json:"comment_failures"`
	LinksStored     int64 `json:"links_stored"`
	LinkFailures    int64 `json:"link_failures"`
}

// CrawlerState is the persistent state of the poll loop
type CrawlerState struct {
	LastCycle *models.CycleResult `json:"last_cycle,omitempty"`
	Totals    Totals              `json:"totals"`
	UpdatedAt time.Time           `json:"updated_at"`
}

// StateManager handles persisting and loading crawler state
type StateManager struct {
	stateDir  string
	statePath string
	state     CrawlerState
	mu        sync.RWMutex
}

// NewStateManager creates a new state manager
func NewStateManager(stateDir string) *StateManager {
	return &StateManager{
		stateDir:  stateDir,
		statePath: filepath.Join(stateDir, StateFileName),
	}
}

// Path returns the location of the state file
func (m *StateManager) Path() string {
	return m.statePath
}

// Load loads the state from disk. A missing file is a fresh start.
func (m *StateManager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := os.ReadFile(m.statePath)
	if err != nil {
		if os.IsNotExist(err) {
			m.state = CrawlerState{}
			return nil
		}
		return fmt.Errorf("failed to read state file: %w", err)
	}

	var loaded CrawlerState
	if err := json.Unmarshal(data, &loaded); err != nil {
		return fmt.Errorf("failed to parse state file: %w", err)
	}
	m.state = loaded
	return nil
}

// Save saves the state to disk, replacing the previous file atomically
func (m *StateManager) Save() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state.UpdatedAt = time.Now()

	if err := os.MkdirAll(m.stateDir, 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	data, err := json.MarshalIndent(m.state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	tmp := m.statePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := os.Rename(tmp, m.statePath); err != nil {
		return fmt.Errorf("failed to replace state file: %w", err)
	}
	return nil
}

// Record folds one cycle result into the state
func (m *StateManager) Record(result models.CycleResult) {
	m.mu.Lock()
	defer m.mu.Unlock()

	last := result
	m.state.LastCycle = &last

	t := &m.state.Totals
	t.Cycles++
	if !result.Success() {
		t.FailedCycles++
	}
	t.Discovered += int64(result.Discovered)
	t.ItemsStored += int64(result.ItemsStored)
	t.ItemFailures += int64(result.ItemFailures)
	t.CommentFailures += int64(result.CommentFailures)
	t.LinksStored += int64(result.LinksStored)
	t.LinkFailures += int64(result.LinkFailures)
}

// State returns a copy of the current state
func (m *StateManager) State() CrawlerState {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := m.state
	if s.LastCycle != nil {
		last := *s.LastCycle
		s.LastCycle = &last
	}
	return s
}

// NextRunTime returns when the next cycle is due: now if no cycle ever
// finished, otherwise interval after the last one ended.
func (m *StateManager) NextRunTime(interval time.Duration) time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.state.LastCycle == nil || m.state.LastCycle.FinishedAt.IsZero() {
		return time.Now()
	}
	return m.state.LastCycle.FinishedAt.Add(interval)
}
