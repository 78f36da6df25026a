// Package jobqueue is a sqlite-persisted FIFO queue for reconstruction
// work. Jobs are pinned to a CUDA device and gated by per-device
// concurrency limits, since a device fits one pipeline run unless
// configured otherwise. Dependencies let a workflow run children before
// their parent.
package jobqueue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chsahit/metric-sam3d/stream"
)

// DefaultDevice is used when a job does not name a CUDA device.
const DefaultDevice = "0"

// JobState is a job's position in its lifecycle.
type JobState int

const (
	StatePending JobState = iota
	StateInProgress
	StateCompleted
	StateCancelled
	StateError
)

var stateNames = map[JobState]string{
	StatePending:    "pending",
	StateInProgress: "in_progress",
	StateCompleted:  "completed",
	StateCancelled:  "cancelled",
	StateError:      "error",
}

func (s JobState) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

func (s JobState) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *JobState) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	for state, n := range stateNames {
		if n == name {
			*s = state
			return nil
		}
	}
	*s = StatePending
	return nil
}

// Job is one unit of queued work. Input is the experiment directory for
// reconstruction tasks; Device is the CUDA device the job is pinned to.
type Job struct {
	ID           string             `json:"id"`
	Command      string             `json:"command"`
	Arguments    []string           `json:"arguments"`
	Input        string             `json:"input"`
	Device       string             `json:"device"`
	Stdout       []string           `json:"-"`
	StdoutRaw    io.Reader          `json:"-"`
	Dependencies []string           `json:"dependencies"`
	State        JobState           `json:"state"`
	Ctx          context.Context    `json:"-"`
	Cancel       context.CancelFunc `json:"-"`

	CreatedAt   time.Time `json:"created_at"`
	ClaimedAt   time.Time `json:"claimed_at"`
	CompletedAt time.Time `json:"completed_at"`
	ErroredAt   time.Time `json:"errored_at"`
}

// Workflow is a tree of jobs. Children are queued first and become
// dependencies of their parent, so an archive step can wait on the
// generate and prepare steps that feed it.
type Workflow struct {
	Command   string `json:"command"`
	Arguments []string
	Input     string     `json:"input"`
	Device    string     `json:"device"`
	Children  []Workflow `json:"children"`
}

// Queue holds jobs and their ordering. Signal carries the ID of every
// newly claimable job; runners block on it instead of polling.
type Queue struct {
	mu      sync.Mutex
	jobs    map[string]*Job
	order   []string
	limits  map[string]int
	running map[string]int
	db      *sql.DB

	Signal chan string
}

// NewQueue returns an in-memory queue with no persistence.
func NewQueue() *Queue {
	return &Queue{
		jobs:    make(map[string]*Job),
		limits:  make(map[string]int),
		running: make(map[string]int),
		Signal:  make(chan string, 100),
	}
}

// NewQueueWithDB returns a queue persisted to db. Jobs saved by a
// previous run are loaded back; jobs that were in progress when the
// server stopped restart as pending.
func NewQueueWithDB(db *sql.DB) *Queue {
	q := NewQueue()
	q.db = db

	if err := q.ensureSchema(); err != nil {
		log.Printf("Failed to create jobs table: %v", err)
	}
	if err := q.restore(); err != nil {
		log.Printf("Failed to load jobs from database: %v", err)
	}
	return q
}

// notify makes the job visible to runners without blocking enqueuers.
func (q *Queue) notify(id string) {
	select {
	case q.Signal <- id:
	default:
	}
}

func newJobContext() (context.Context, context.CancelFunc) {
	return context.WithCancel(context.Background())
}

// AddJob queues a new job and returns its generated ID.
func (q *Queue) AddJob(command string, arguments []string, input, device string, dependencies []string) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if device == "" {
		device = DefaultDevice
	}

	ctx, cancel := newJobContext()
	job := &Job{
		ID:           uuid.NewString(),
		Command:      command,
		Arguments:    arguments,
		Input:        input,
		Device:       device,
		Dependencies: dependencies,
		State:        StatePending,
		Ctx:          ctx,
		Cancel:       cancel,
		CreatedAt:    time.Now(),
	}
	q.jobs[job.ID] = job
	q.order = append(q.order, job.ID)
	q.persist(job)

	q.notify(job.ID)
	if err := broadcastJobUpdate("create", job); err != nil {
		return "", err
	}
	return job.ID, nil
}

// AddWorkflow queues the tree bottom-up: children first, each parent
// depending on all of its children. Returns the root job's ID.
func (q *Queue) AddWorkflow(w Workflow) (string, error) {
	var deps []string
	for _, child := range w.Children {
		id, err := q.AddWorkflow(child)
		if err != nil {
			return "", err
		}
		deps = append(deps, id)
	}
	return q.AddJob(w.Command, w.Arguments, w.Input, w.Device, deps)
}

// CopyJob clones a job back to pending with fresh timestamps and a fresh
// context. Used to rerun a reconstruction without re-uploading.
func (q *Queue) CopyJob(id string) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	src, ok := q.jobs[id]
	if !ok {
		return "", errors.New("job not found")
	}

	ctx, cancel := newJobContext()
	clone := *src
	clone.ID = uuid.NewString()
	clone.Stdout = nil
	clone.State = StatePending
	clone.Ctx = ctx
	clone.Cancel = cancel
	clone.CreatedAt = time.Now()
	clone.ClaimedAt = time.Time{}
	clone.CompletedAt = time.Time{}
	clone.ErroredAt = time.Time{}

	q.jobs[clone.ID] = &clone
	q.order = append(q.order, clone.ID)
	q.persist(&clone)

	q.notify(clone.ID)
	if err := broadcastJobUpdate("create", &clone); err != nil {
		return "", err
	}
	return clone.ID, nil
}

// deviceLimit returns the claim limit for a device; callers hold q.mu.
func (q *Queue) deviceLimit(device string) int {
	if limit, ok := q.limits[device]; ok {
		return limit
	}
	return 1
}

// SetDeviceLimit allows more than one concurrent job on a device, for
// GPUs with memory to spare.
func (q *Queue) SetDeviceLimit(device string, limit int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.limits[device] = limit
}

// depsSatisfied reports whether every dependency completed; callers hold q.mu.
func (q *Queue) depsSatisfied(job *Job) bool {
	for _, dep := range job.Dependencies {
		d, ok := q.jobs[dep]
		if !ok || d.State != StateCompleted {
			return false
		}
	}
	return true
}

// ClaimJob returns the oldest pending job whose dependencies are complete
// and whose device has a free slot, marking it in progress. Returns
// (nil, nil) when nothing is claimable.
func (q *Queue) ClaimJob() (*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, id := range q.order {
		job := q.jobs[id]
		if job.State != StatePending || !q.depsSatisfied(job) {
			continue
		}
		if q.running[job.Device] >= q.deviceLimit(job.Device) {
			continue
		}

		job.State = StateInProgress
		job.ClaimedAt = time.Now()
		q.running[job.Device]++
		q.persist(job)

		if err := broadcastJobUpdate("update", job); err != nil {
			return nil, err
		}
		return job, nil
	}
	return nil, nil
}

// releaseDevice frees the job's device slot; callers hold q.mu.
func (q *Queue) releaseDevice(job *Job) {
	q.running[job.Device]--
}

// CompleteJob moves an in-progress job to completed and frees its device.
func (q *Queue) CompleteJob(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[id]
	if !ok {
		return errors.New("job not found")
	}
	if job.State != StateInProgress {
		return errors.New("job is not in progress, cannot complete")
	}

	job.State = StateCompleted
	job.CompletedAt = time.Now()
	q.releaseDevice(job)
	q.persist(job)

	// A completed job may unblock dependents
	q.notify(id)
	return broadcastJobUpdate("update", job)
}

// ErrorJob moves an in-progress job to the error state.
func (q *Queue) ErrorJob(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[id]
	if !ok {
		return errors.New("job not found")
	}
	if job.State != StateInProgress {
		return errors.New("job is not in progress, cannot set error")
	}

	job.State = StateError
	job.ErroredAt = time.Now()
	q.releaseDevice(job)
	q.persist(job)
	return broadcastJobUpdate("update", job)
}

// CancelJob cancels a pending or in-progress job. An in-progress job's
// context cancellation kills its pipeline process.
func (q *Queue) CancelJob(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[id]
	if !ok {
		return errors.New("job not found")
	}
	if job.State != StatePending && job.State != StateInProgress {
		return errors.New("job is not pending or in progress, cannot cancel")
	}

	job.Cancel()
	if job.State == StateInProgress {
		q.releaseDevice(job)
	}
	job.State = StateCancelled
	q.persist(job)
	return broadcastJobUpdate("update", job)
}

// PushJobStdout appends one line of pipeline output and streams it to
// watchers following the job.
func (q *Queue) PushJobStdout(id string, line string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[id]
	if !ok {
		return errors.New("job not found")
	}
	job.Stdout = append(job.Stdout, line)
	q.persist(job)
	return broadcastStdout(line, id)
}

// GetJobs returns every job, newest first.
func (q *Queue) GetJobs() []Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	jobs := make([]Job, 0, len(q.order))
	for i := len(q.order) - 1; i >= 0; i-- {
		jobs = append(jobs, *q.jobs[q.order[i]])
	}
	return jobs
}

// GetJob returns a snapshot of the job with the given ID, or nil. The
// Stdout slice is copied so callers can read it while the job is still
// appending output.
func (q *Queue) GetJob(id string) *Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[id]
	if !ok {
		return nil
	}
	snapshot := *job
	snapshot.Stdout = append([]string(nil), job.Stdout...)
	return &snapshot
}

// RemoveJob deletes a job from the queue and the database.
func (q *Queue) RemoveJob(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[id]
	if !ok {
		return errors.New("job not found")
	}
	if job.State == StateInProgress {
		q.releaseDevice(job)
	}
	q.dropLocked(id)
	return broadcastJobUpdate("delete", &Job{ID: id})
}

// ClearNonRunningJobs removes every job that is not in progress and
// returns how many were removed.
func (q *Queue) ClearNonRunningJobs() (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var remove []string
	for _, id := range q.order {
		if q.jobs[id].State != StateInProgress {
			remove = append(remove, id)
		}
	}

	for i, id := range remove {
		q.dropLocked(id)
		if err := broadcastJobUpdate("delete", &Job{ID: id}); err != nil {
			return i, err
		}
	}
	return len(remove), nil
}

// dropLocked removes a job from the maps, ordering, and database;
// callers hold q.mu.
func (q *Queue) dropLocked(id string) {
	delete(q.jobs, id)
	for i, jid := range q.order {
		if jid == id {
			q.order = append(q.order[:i], q.order[i+1:]...)
			break
		}
	}
	if err := q.unpersist(id); err != nil {
		log.Printf("Failed to remove job %s from database: %v", id, err)
	}
}

type jobEvent struct {
	UpdateType string `json:"updateType"`
	Job        Job    `json:"job"`
}

type stdoutEvent struct {
	UpdateType string `json:"updateType"`
	Line       string `json:"line"`
}

func broadcastJobUpdate(updateType string, job *Job) error {
	payload, err := json.Marshal(jobEvent{UpdateType: updateType, Job: *job})
	if err != nil {
		return err
	}
	stream.Broadcast(stream.Message{Type: updateType, Msg: string(payload)})
	return nil
}

// broadcastStdout uses the event name stdout-<job-id> so a watcher can
// subscribe to a single job's output.
func broadcastStdout(line, id string) error {
	payload, err := json.Marshal(stdoutEvent{UpdateType: "stdout", Line: line})
	if err != nil {
		return err
	}
	stream.Broadcast(stream.Message{Type: "stdout-" + id, Msg: string(payload)})
	return nil
}
