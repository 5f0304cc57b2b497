package session

import (
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/adityalohuni/snapfile/internal/capture"
)

type State string

const (
	StateRunning State = "running"
	StateDone    State = "done"
	StateFailed  State = "failed"
)

// Job is the observable state of one capture request.
type Job struct {
	ID        string            `json:"id"`
	SessionID int64             `json:"session_id,omitempty"`
	URL       string            `json:"url"`
	Client    string            `json:"client,omitempty"`
	State     State             `json:"state"`
	Phase     capture.EventType `json:"phase,omitempty"`
	Loaded    int               `json:"loaded"`
	Total     int               `json:"total"`
	ArchiveID string            `json:"archive_id,omitempty"`
	Error     string            `json:"error,omitempty"`
	StartedAt time.Time         `json:"started_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

type Registry struct {
	mu   sync.RWMutex
	jobs map[string]*Job
	now  func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{jobs: make(map[string]*Job), now: time.Now}
}

// Start records a running job and returns its id.
func (r *Registry) Start(url, client string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	id := uuid.New().String()
	r.jobs[id] = &Job{
		ID:        id,
		URL:       url,
		Client:    client,
		State:     StateRunning,
		StartedAt: now,
		UpdatedAt: now,
	}
	return id
}

// Progress folds a capture event into the job.
func (r *Registry) Progress(id string, e capture.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok || job.State != StateRunning {
		return
	}
	job.SessionID = e.SessionID
	job.Phase = e.Type
	switch e.Type {
	case capture.ResourcesInitialized:
		job.Total = e.Max
	case capture.ResourceLoaded:
		job.Loaded, job.Total = e.Index, e.Max
	}
	job.UpdatedAt = r.now()
}

func (r *Registry) Finish(id, archiveID string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return
	}
	job.UpdatedAt = r.now()
	if err != nil {
		job.State = StateFailed
		job.Error = err.Error()
		return
	}
	job.State = StateDone
	job.Phase = capture.PageEnded
	job.ArchiveID = archiveID
}

func (r *Registry) Get(id string) (Job, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *job, true
}

// List returns jobs, most recently started first.
func (r *Registry) List() []Job {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Job, 0, len(r.jobs))
	for _, j := range r.jobs {
		out = append(out, *j)
	}
	slices.SortFunc(out, func(a, b Job) int {
		return b.StartedAt.Compare(a.StartedAt)
	})
	return out
}

// Running counts jobs that have not finished.
func (r *Registry) Running() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, j := range r.jobs {
		if j.State == StateRunning {
			n++
		}
	}
	return n
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.jobs)
}

// Prune forgets finished jobs idle for longer than maxIdle.
func (r *Registry) Prune(maxIdle time.Duration) int {
	if maxIdle <= 0 {
		return 0
	}
	cutoff := r.now().Add(-maxIdle)
	r.mu.Lock()
	defer r.mu.Unlock()
	pruned := 0
	for id, j := range r.jobs {
		if j.State != StateRunning && j.UpdatedAt.Before(cutoff) {
			delete(r.jobs, id)
			pruned++
		}
	}
	return pruned
}
