package orchestrate

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/hnmirror/hn-mirror/pkg/config"
	"github.com/hnmirror/hn-mirror/pkg/models"
	"github.com/hnmirror/hn-mirror/pkg/utils"
)

// Task processes one item within a fan-out round
type Task func(ctx context.Context, item models.Item) error

// RoundResult summarizes one fan-out round
type RoundResult struct {
	Name     string
	Policy   string
	Tasks    int
	Failures int64
	Duration time.Duration
	Err      error // first task error under PolicyPropagate
}

// RunRound dispatches task concurrently for every item and waits for all of
// them. Concurrency is bounded by whatever the tasks acquire (the fetcher's
// semaphores), not here.
//
// Under config.PolicyContain every task runs to completion; errors are logged
// and counted and the round never fails. Under config.PolicyPropagate the first
// error cancels the context handed to the remaining tasks and is returned.
func RunRound(ctx context.Context, name string, items []models.Item, policy string, task Task, log *logrus.Entry) (RoundResult, error) {
	roundLog := log.WithFields(logrus.Fields{"round": name, "policy": policy})
	result := RoundResult{Name: name, Policy: policy, Tasks: len(items)}
	start := time.Now()
	var failures atomic.Int64

	// report logs a task failure; under propagate, sibling cancellations are
	// expected fallout and stay at debug.
	report := func(roundCtx context.Context, item models.Item, err error) {
		failures.Add(1)
		entry := roundLog.WithFields(logrus.Fields{"item_id": item.ID, "error_type": utils.CategorizeError(err)})
		if roundCtx.Err() != nil && ctx.Err() == nil && policy == config.PolicyPropagate {
			entry.Debugf("Task abandoned after round cancellation: %v", err)
			return
		}
		entry.Errorf("Task failed: %v", err)
	}

	switch policy {
	case config.PolicyPropagate:
		g, gctx := errgroup.WithContext(ctx)
		for _, item := range items {
			g.Go(func() error {
				if err := task(gctx, item); err != nil {
					report(gctx, item, err)
					return fmt.Errorf("%s task for item %s: %w", name, item.ID, err)
				}
				return nil
			})
		}
		result.Err = g.Wait()

	case config.PolicyContain, "":
		var wg sync.WaitGroup
		for _, item := range items {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := task(ctx, item); err != nil {
					report(ctx, item, err)
				}
			}()
		}
		wg.Wait()

	default:
		return result, fmt.Errorf("%w: unknown failure policy %q", utils.ErrConfigValidation, policy)
	}

	result.Failures = failures.Load()
	result.Duration = time.Since(start)

	entry := roundLog.WithFields(logrus.Fields{"tasks": result.Tasks, "failures": result.Failures, "duration": result.Duration})
	if result.Err != nil {
		entry.Warnf("Round aborted: %v", result.Err)
	} else {
		entry.Info("Round completed")
	}
	return result, result.Err
}
