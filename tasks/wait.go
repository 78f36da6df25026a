package tasks

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/chsahit/metric-sam3d/jobqueue"
)

// waitFn sleeps for Input seconds (default 5), ticking once a second. It
// exists to exercise queueing, cancellation, and the stream without tying
// up a GPU.
func waitFn(j *jobqueue.Job, q *jobqueue.Queue, mu *sync.Mutex) error {
	seconds := 5
	if n, err := strconv.Atoi(j.Input); err == nil && n > 0 {
		seconds = n
	}

	tick := time.NewTicker(time.Second)
	defer tick.Stop()
	for elapsed := 0; elapsed < seconds; {
		select {
		case <-j.Ctx.Done():
			_ = q.PushJobStdout(j.ID, "Task was canceled")
			_ = q.CancelJob(j.ID)
			return j.Ctx.Err()
		case <-tick.C:
			elapsed++
			_ = q.PushJobStdout(j.ID, fmt.Sprintf("Waited %d/%d seconds", elapsed, seconds))
		}
	}
	_ = q.CompleteJob(j.ID)
	return nil
}
