package mcp

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hnmirror/hn-mirror/pkg/models"
)

// JobStatus represents the current state of a cycle job
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Job represents one poll cycle started on demand
type Job struct {
	ID           string              `json:"id"`
	Status       JobStatus           `json:"status"`
	StartedAt    time.Time           `json:"started_at"`
	CompletedAt  time.Time           `json:"completed_at,omitempty"`
	Result       *models.CycleResult `json:"result,omitempty"`
	ErrorMessage string              `json:"error_message,omitempty"`

	ctx    context.Context
	cancel context.CancelFunc
}

func (j *Job) active() bool {
	return j.Status == JobStatusPending || j.Status == JobStatusRunning
}

// JobManager tracks on-demand cycle jobs. At most one job is active at a
// time, so two cycles never share the dedup store concurrently.
type JobManager struct {
	jobs     map[string]*Job
	activeID string
	mu       sync.RWMutex
}

// NewJobManager creates a new job manager
func NewJobManager() *JobManager {
	return &JobManager{jobs: make(map[string]*Job)}
}

// CreateJob registers a new pending job. When a job is already active it is
// returned instead, with created == false.
func (m *JobManager) CreateJob() (job *Job, created bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing := m.jobs[m.activeID]; existing != nil && existing.active() {
		return existing.snapshot(), false
	}

	ctx, cancel := context.WithCancel(context.Background())
	job = &Job{
		ID:        uuid.NewString(),
		Status:    JobStatusPending,
		StartedAt: time.Now(),
		ctx:       ctx,
		cancel:    cancel,
	}
	m.jobs[job.ID] = job
	m.activeID = job.ID
	return job.snapshot(), true
}

// snapshot copies the exported fields so callers never race with updates
func (j *Job) snapshot() *Job {
	c := *j
	if j.Result != nil {
		r := *j.Result
		c.Result = &r
	}
	return &c
}

// GetJob retrieves a copy of a job by ID, or nil
func (m *JobManager) GetJob(jobID string) *Job {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if job, ok := m.jobs[jobID]; ok {
		return job.snapshot()
	}
	return nil
}

// ActiveJob returns a copy of the pending or running job, or nil
func (m *JobManager) ActiveJob() *Job {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if job := m.jobs[m.activeID]; job != nil && job.active() {
		return job.snapshot()
	}
	return nil
}

// UpdateStatus updates the status of a job. Terminal states stamp the
// completion time and free the active slot.
func (m *JobManager) UpdateStatus(jobID string, status JobStatus, errorMsg string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[jobID]
	if !ok || !job.active() {
		return
	}
	job.Status = status
	if !job.active() {
		job.CompletedAt = time.Now()
		job.cancel()
		if m.activeID == jobID {
			m.activeID = ""
		}
	}
	if errorMsg != "" {
		job.ErrorMessage = errorMsg
	}
}

// SetResult attaches the cycle summary to a job
func (m *JobManager) SetResult(jobID string, result models.CycleResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job, ok := m.jobs[jobID]; ok {
		job.Result = &result
	}
}

// CancelJob cancels an active job
func (m *JobManager) CancelJob(jobID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[jobID]
	if !ok || !job.active() {
		return false
	}
	job.cancel()
	job.Status = JobStatusCancelled
	job.CompletedAt = time.Now()
	if m.activeID == jobID {
		m.activeID = ""
	}
	return true
}

// CancelAll cancels every active job
func (m *JobManager) CancelAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, job := range m.jobs {
		if job.active() {
			job.cancel()
			job.Status = JobStatusCancelled
			job.CompletedAt = time.Now()
		}
	}
	m.activeID = ""
}

// ListJobs returns copies of all jobs
func (m *JobManager) ListJobs() []*Job {
	m.mu.RLock()
	defer m.mu.RUnlock()

	jobs := make([]*Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		jobs = append(jobs, job.snapshot())
	}
	return jobs
}

// GetContext returns the context a job's cycle runs under
func (m *JobManager) GetContext(jobID string) context.Context {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if job, ok := m.jobs[jobID]; ok {
		return job.ctx
	}
	return context.Background()
}
