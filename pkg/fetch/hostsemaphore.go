package fetch

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
)

const defaultPerHostLimit = 2

// HostSemaphorePool caps in-flight requests per host. A pool lives for one
// cycle, so hosts are never evicted.
type HostSemaphorePool struct {
	mu    sync.Mutex
	sems  map[string]*semaphore.Weighted
	held  map[string]int64
	limit int64
	log   *logrus.Entry
}

// NewHostSemaphorePool creates a pool allowing maxPerHost concurrent
// requests to any single host.
func NewHostSemaphorePool(maxPerHost int, log *logrus.Entry) *HostSemaphorePool {
	if maxPerHost <= 0 {
		log.Warnf("Per-host limit %d is not positive, using %d", maxPerHost, defaultPerHostLimit)
		maxPerHost = defaultPerHostLimit
	}
	return &HostSemaphorePool{
		sems:  make(map[string]*semaphore.Weighted),
		held:  make(map[string]int64),
		limit: int64(maxPerHost),
		log:   log,
	}
}

func (p *HostSemaphorePool) semFor(host string) *semaphore.Weighted {
	p.mu.Lock()
	defer p.mu.Unlock()
	sem, ok := p.sems[host]
	if !ok {
		sem = semaphore.NewWeighted(p.limit)
		p.sems[host] = sem
		p.log.WithFields(logrus.Fields{"host": host, "limit": p.limit}).Trace("Host semaphore created")
	}
	return sem
}

// Acquire blocks until a permit for host is free or ctx is done.
func (p *HostSemaphorePool) Acquire(ctx context.Context, host string) error {
	if err := p.semFor(host).Acquire(ctx, 1); err != nil {
		return err
	}
	p.mu.Lock()
	p.held[host]++
	p.mu.Unlock()
	return nil
}

// Release returns a permit taken by Acquire. Releasing a host that holds no
// permit is logged and ignored.
func (p *HostSemaphorePool) Release(host string) {
	p.mu.Lock()
	if p.held[host] == 0 {
		p.mu.Unlock()
		p.log.WithField("host", host).Error("Release without a matching Acquire")
		return
	}
	p.held[host]--
	sem := p.sems[host]
	p.mu.Unlock()

	sem.Release(1)
}

// InUse returns how many permits for host are currently held
func (p *HostSemaphorePool) InUse(host string) int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.held[host]
}

// Len returns the number of hosts seen so far
func (p *HostSemaphorePool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sems)
}
