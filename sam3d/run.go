// Package sam3d shells out to the SAM-3D-Objects reconstruction scripts.
// The model itself runs in a Python environment; this package owns process
// lifecycle, CUDA device pinning, output streaming, and timeout handling.
package sam3d

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"
)

const (
	// DefaultTimeout bounds a full pipeline run. Reconstruction of a
	// cluttered scene takes minutes per object; half an hour covers the
	// worst observed case with margin.
	DefaultTimeout = 30 * time.Minute

	// TailBytes is how much stdout/stderr is kept for error reports.
	TailBytes = 2000

	// DefaultSeed makes reconstruction runs repeatable.
	DefaultSeed = 42
)

// Inference output filenames produced per object.
const (
	MeshFileName  = "completed_rgb.obj"
	SplatFileName = "completed_rgb.ply"
)

// ErrTimeout marks a run that was killed for exceeding its deadline.
var ErrTimeout = errors.New("pipeline run exceeded timeout")

// tailWriter keeps the last limit bytes written to it.
type tailWriter struct {
	limit int
	buf   []byte
}

func (t *tailWriter) Write(p []byte) (int, error) {
	t.buf = append(t.buf, p...)
	if len(t.buf) > t.limit {
		t.buf = t.buf[len(t.buf)-t.limit:]
	}
	return len(p), nil
}

func (t *tailWriter) String() string {
	return string(t.buf)
}

// Result describes a finished run.
type Result struct {
	StdoutTail string
	StderrTail string
	Duration   time.Duration
}

// RunError carries the output tails of a failed run so callers can surface
// them to the requester.
type RunError struct {
	StdoutTail string
	StderrTail string
	ExitCode   int
	Err        error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("pipeline failed (exit %d): %v", e.ExitCode, e.Err)
}

func (e *RunError) Unwrap() error {
	return e.Err
}

// Runner invokes the reconstruction scripts. Zero values fall back to
// defaults where one exists; Script paths must be set by the caller.
type Runner struct {
	PythonPath      string // interpreter for the inference script
	InferenceScript string // single-object SAM-3D-Objects entry point
	PipelineScript  string // full capture-to-scene pipeline shell script
	CheckpointDir   string
	Seed            int
	Timeout         time.Duration

	// LineFunc, when set, receives each output line as it is produced.
	LineFunc func(line string)
}

func (r *Runner) seed() int {
	if r.Seed == 0 {
		return DefaultSeed
	}
	return r.Seed
}

func (r *Runner) timeout() time.Duration {
	if r.Timeout == 0 {
		return DefaultTimeout
	}
	return r.Timeout
}

// env builds the child environment with the CUDA device pinned.
func (r *Runner) env(device string) []string {
	env := os.Environ()
	if device != "" {
		env = append(env, "CUDA_VISIBLE_DEVICES="+device)
	}
	return env
}

// RunInference reconstructs a single masked object. The script reads the
// alpha-masked RGBA image and writes completed_rgb.obj plus a Gaussian-splat
// completed_rgb.ply into outputDir.
func (r *Runner) RunInference(ctx context.Context, imagePath, outputDir, device string) (*Result, error) {
	if r.InferenceScript == "" {
		return nil, errors.New("inference script not configured")
	}
	python := r.PythonPath
	if python == "" {
		python = "python3"
	}

	args := []string{
		r.InferenceScript,
		"--image", imagePath,
		"--output", outputDir,
		"--seed", strconv.Itoa(r.seed()),
	}
	if r.CheckpointDir != "" {
		args = append(args, "--checkpoint-dir", r.CheckpointDir)
	}
	return r.run(ctx, python, args, device)
}

// RunPipeline runs the full capture-to-scene pipeline script against a
// capture directory. The run is bounded by the configured timeout; on
// timeout the process tree is killed and ErrTimeout is returned wrapped in
// a RunError carrying the output tails.
func (r *Runner) RunPipeline(ctx context.Context, captureDir, outputDir, device string) (*Result, error) {
	if r.PipelineScript == "" {
		return nil, errors.New("pipeline script not configured")
	}
	runCtx, cancel := context.WithTimeout(ctx, r.timeout())
	defer cancel()

	// The script parses --device itself; CUDA_VISIBLE_DEVICES alone is
	// not enough for its internal bookkeeping.
	args := []string{r.PipelineScript}
	if device != "" {
		args = append(args, "--device", device)
	}
	args = append(args, captureDir, outputDir)
	return r.run(runCtx, "bash", args, device)
}

func (r *Runner) run(ctx context.Context, name string, args []string, device string) (*Result, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = r.env(device)
	// The scripts spawn Python workers that hold the GPU; cancellation
	// must take down the whole process group, not just the direct child.
	configureProcessGroup(cmd)
	// A killed pipeline script can leave grandchildren holding the output
	// pipes. WaitDelay forces the pipes closed so Wait returns promptly.
	cmd.WaitDelay = 5 * time.Second

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	stdoutTail := &tailWriter{limit: TailBytes}
	stderrTail := &tailWriter{limit: TailBytes}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", name, err)
	}

	var wg sync.WaitGroup
	scanAndTail := func(pipe io.ReadCloser, tail *tailWriter) {
		defer wg.Done()
		s := bufio.NewScanner(pipe)
		s.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for s.Scan() {
			line := s.Text()
			tail.Write([]byte(line + "\n"))
			if r.LineFunc != nil {
				r.LineFunc(line)
			}
		}
	}
	wg.Add(2)
	go scanAndTail(stdoutPipe, stdoutTail)
	go scanAndTail(stderrPipe, stderrTail)

	waitErr := cmd.Wait()
	wg.Wait()
	duration := time.Since(start)

	result := &Result{
		StdoutTail: stdoutTail.String(),
		StderrTail: stderrTail.String(),
		Duration:   duration,
	}

	if waitErr != nil {
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		wrapped := waitErr
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			wrapped = ErrTimeout
		}
		return result, &RunError{
			StdoutTail: result.StdoutTail,
			StderrTail: result.StderrTail,
			ExitCode:   exitCode,
			Err:        wrapped,
		}
	}
	return result, nil
}
