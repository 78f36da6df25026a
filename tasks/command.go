package tasks

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"os/exec"
	"sync"

	"github.com/chsahit/metric-sam3d/jobqueue"
)

// executeCommand runs an operator-supplied helper command for a job:
// Arguments[0] is the executable, the rest its arguments, and Input (when
// set) is appended last. Used for site-specific hooks around the
// reconstruction tasks, e.g. syncing an experiment to shared storage.
func executeCommand(j *jobqueue.Job, q *jobqueue.Queue, mu *sync.Mutex) error {
	if len(j.Arguments) == 0 {
		_ = q.PushJobStdout(j.ID, "No command given")
		_ = q.ErrorJob(j.ID)
		return fmt.Errorf("job %s has no command arguments", j.ID)
	}
	log.Printf("Running script job %s: %v %s", j.ID, j.Arguments, j.Input)

	exe, err := exec.LookPath(j.Arguments[0])
	if err != nil {
		_ = q.PushJobStdout(j.ID, fmt.Sprintf("Executable not found: %s", err))
		_ = q.ErrorJob(j.ID)
		return fmt.Errorf("lookup %q: %w", j.Arguments[0], err)
	}

	args := append([]string{}, j.Arguments[1:]...)
	if j.Input != "" {
		args = append(args, j.Input)
	}
	cmd := exec.CommandContext(j.Ctx, exe, args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		_ = q.ErrorJob(j.ID)
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		_ = q.ErrorJob(j.ID)
		return fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		_ = q.PushJobStdout(j.ID, fmt.Sprintf("Failed to start command: %s", err))
		_ = q.ErrorJob(j.ID)
		return fmt.Errorf("start: %w", err)
	}

	var readers sync.WaitGroup
	stream := func(pipe io.Reader) {
		defer readers.Done()
		s := bufio.NewScanner(pipe)
		for s.Scan() {
			_ = q.PushJobStdout(j.ID, s.Text())
		}
	}
	readers.Add(2)
	go stream(stdout)
	go stream(stderr)

	readers.Wait()
	err = cmd.Wait()

	select {
	case <-j.Ctx.Done():
		_ = q.PushJobStdout(j.ID, "Task was canceled")
		_ = q.CancelJob(j.ID)
		return j.Ctx.Err()
	default:
	}

	if err != nil {
		_ = q.PushJobStdout(j.ID, fmt.Sprintf("Command failed: %s", err))
		_ = q.ErrorJob(j.ID)
		return err
	}
	_ = q.CompleteJob(j.ID)
	return nil
}
