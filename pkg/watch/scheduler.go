package watch

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hnmirror/hn-mirror/pkg/models"
	"github.com/hnmirror/hn-mirror/pkg/storage"
	"github.com/hnmirror/hn-mirror/pkg/utils"
)

// gcInterval is how often a durable dedup store is compacted while polling
const gcInterval = 10 * time.Minute

// CycleRunner runs one poll cycle
type CycleRunner interface {
	RunCycle(ctx context.Context) (models.CycleResult, error)
}

// CycleObserver is told about every cycle the scheduler records
type CycleObserver interface {
	ObserveCycle(result models.CycleResult, err error)
}

// Scheduler runs poll cycles back to back with a fixed sleep in between.
// It has a single state, polling, left only by cancellation or a cycle error.
type Scheduler struct {
	runner          CycleRunner
	interval        time.Duration
	continueOnError bool
	stateManager    *StateManager
	gc              storage.GarbageCollector // nil = no background compaction
	observer        CycleObserver            // nil = none
	log             *logrus.Entry
}

// NewScheduler creates a new poll scheduler
func NewScheduler(runner CycleRunner, interval time.Duration, continueOnError bool, stateManager *StateManager, log *logrus.Entry) *Scheduler {
	return &Scheduler{
		runner:          runner,
		interval:        interval,
		continueOnError: continueOnError,
		stateManager:    stateManager,
		log:             log,
	}
}

// WithGarbageCollector makes Run compact gc in the background while polling
func (s *Scheduler) WithGarbageCollector(gc storage.GarbageCollector) *Scheduler {
	s.gc = gc
	return s
}

// WithObserver reports every recorded cycle to o
func (s *Scheduler) WithObserver(o CycleObserver) *Scheduler {
	s.observer = o
	return s
}

// Run polls until ctx is cancelled (returns nil) or a cycle fails while
// continue-on-error is off (returns the cycle error).
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.stateManager.Load(); err != nil {
		s.log.Warnf("Failed to load crawler state: %v (starting fresh)", err)
	}
	s.logSchedule()

	if s.gc != nil {
		gcCtx, stopGC := context.WithCancel(ctx)
		done := make(chan struct{})
		go func() {
			defer close(done)
			s.gc.RunGC(gcCtx, gcInterval)
		}()
		defer func() {
			stopGC()
			<-done
		}()
	}

	for {
		result, err := s.runner.RunCycle(ctx)
		if ctx.Err() != nil {
			s.log.Info("Crawler shutting down...")
			return nil
		}

		s.stateManager.Record(result)
		if s.observer != nil {
			s.observer.ObserveCycle(result, err)
		}
		if saveErr := s.stateManager.Save(); saveErr != nil {
			s.log.Errorf("Failed to save crawler state: %v", saveErr)
		}

		if err != nil {
			if !s.continueOnError {
				return fmt.Errorf("cycle %s: %w", result.CycleID, err)
			}
			s.log.WithField("error_type", utils.CategorizeError(err)).Warnf("Cycle %s failed, continuing: %v", result.CycleID, err)
		}

		s.log.Infof("Next cycle in %s (at %s)", FormatInterval(s.interval), time.Now().Add(s.interval).Format("15:04:05"))
		timer := time.NewTimer(s.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.log.Info("Crawler shutting down...")
			return nil
		case <-timer.C:
		}
	}
}

// logSchedule logs the outcome of the last recorded cycle, if any
func (s *Scheduler) logSchedule() {
	state := s.stateManager.State()
	s.log.Infof("Polling every %s", FormatInterval(s.interval))
	if state.LastCycle == nil {
		s.log.Info("No previous cycle recorded, running immediately")
		return
	}
	status := "success"
	if !state.LastCycle.Success() {
		status = "failed"
	}
	s.log.Infof("Last cycle %s finished %s (%s, %d discovered); %d cycles recorded",
		state.LastCycle.CycleID,
		state.LastCycle.FinishedAt.Format(time.RFC3339),
		status,
		state.LastCycle.Discovered,
		state.Totals.Cycles)
}

// FormatInterval formats a duration for display
func FormatInterval(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		mins := int(d.Minutes())
		if secs := int(d.Seconds()) % 60; secs > 0 {
			return fmt.Sprintf("%dm%ds", mins, secs)
		}
		return fmt.Sprintf("%dm", mins)
	}
	if d < 24*time.Hour {
		hours := int(d.Hours())
		if mins := int(d.Minutes()) % 60; mins > 0 {
			return fmt.Sprintf("%dh%dm", hours, mins)
		}
		return fmt.Sprintf("%dh", hours)
	}
	days := int(d.Hours()) / 24
	if hours := int(d.Hours()) % 24; hours > 0 {
		return fmt.Sprintf("%dd%dh", days, hours)
	}
	return fmt.Sprintf("%dd", days)
}

// ParseInterval parses a poll interval. Plain numbers are seconds; Go
// durations and a day suffix ("1d12h") are also accepted.
func ParseInterval(s string) (time.Duration, error) {
	var secs int
	var rest string
	if n, _ := fmt.Sscanf(s, "%d%s", &secs, &rest); n == 1 {
		return time.Duration(secs) * time.Second, nil
	}

	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}

	var days int
	var remaining string
	n, _ := fmt.Sscanf(s, "%dd%s", &days, &remaining)
	if n >= 1 {
		d := time.Duration(days) * 24 * time.Hour
		if remaining != "" {
			extra, err := time.ParseDuration(remaining)
			if err != nil {
				return 0, fmt.Errorf("invalid interval format: %s", s)
			}
			d += extra
		}
		return d, nil
	}

	return 0, fmt.Errorf("invalid interval format: %s (examples: 600, 30m, 1h, 1d)", s)
}
