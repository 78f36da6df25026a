// Package runners executes queued jobs. The pool has no capacity of its
// own: the queue's per-device limits decide how many jobs run at once,
// and the pool just claims whatever the queue will hand out whenever its
// signal channel fires.
package runners

import (
	"context"
	"sync"

	"github.com/chsahit/metric-sam3d/jobqueue"
	"github.com/chsahit/metric-sam3d/tasks"
)

type Runners struct {
	queue  *jobqueue.Queue
	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New starts a pool draining the queue's signal channel.
func New(queue *jobqueue.Queue) *Runners {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Runners{queue: queue, ctx: ctx, cancel: cancel}

	r.wg.Add(1)
	go r.listen()
	return r
}

func (r *Runners) listen() {
	defer r.wg.Done()
	for {
		select {
		case <-r.ctx.Done():
			return
		case <-r.queue.Signal:
			r.CheckForJobs()
		}
	}
}

// Shutdown stops claiming new jobs. Jobs already running finish (or get
// cancelled) through the queue, not through the pool.
func (r *Runners) Shutdown() {
	r.cancel()
	r.wg.Wait()
}

// CheckForJobs claims and starts every job the queue is willing to hand
// out right now.
func (r *Runners) CheckForJobs() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.claimNext()
}

// claimNext claims one job and launches it; callers hold r.mu.
func (r *Runners) claimNext() {
	job, err := r.queue.ClaimJob()
	if err != nil || job == nil {
		return
	}
	go r.execute(job)
}

// execute runs the job's task and guarantees a terminal state even when
// the task returns an error without setting one.
func (r *Runners) execute(j *jobqueue.Job) {
	defer func() {
		r.mu.Lock()
		r.claimNext()
		r.mu.Unlock()
	}()

	task, ok := tasks.Lookup(j.Command)
	if !ok {
		_ = r.queue.PushJobStdout(j.ID, "Task not found: "+j.Command)
		_ = r.queue.ErrorJob(j.ID)
		return
	}

	if err := task.Fn(j, r.queue, &r.mu); err != nil {
		select {
		case <-j.Ctx.Done():
			_ = r.queue.CancelJob(j.ID)
		default:
			_ = r.queue.ErrorJob(j.ID)
		}
	}
}
