package tasks

import (
	"archive/zip"
	"context"
	"errors"
	"image"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/chsahit/metric-sam3d/camera"
	"github.com/chsahit/metric-sam3d/capture"
	"github.com/chsahit/metric-sam3d/imaging"
	"github.com/chsahit/metric-sam3d/jobqueue"
)

// TestRegisteredTasks verifies the reconstruction task set
func TestRegisteredTasks(t *testing.T) {
	for _, id := range []string{"generate", "prepare", "pipeline", "archive", "script", "wait"} {
		if _, ok := Lookup(id); !ok {
			t.Errorf("task %q not registered", id)
		}
	}
}

// claimed adds a job and claims it so a task can run against it
func claimed(t *testing.T, q *jobqueue.Queue, command, input string) *jobqueue.Job {
	t.Helper()
	id, err := q.AddJob(command, nil, input, "0", nil)
	if err != nil {
		t.Fatal(err)
	}
	j, err := q.ClaimJob()
	if err != nil || j == nil || j.ID != id {
		t.Fatalf("failed to claim job %s: %v", id, err)
	}
	return j
}

// writeExperiment builds an experiment dir with a valid capture and one
// reconstructed mesh, as generateTask would leave it.
func writeExperiment(t *testing.T) string {
	t.Helper()
	expDir := t.TempDir()
	capDir := filepath.Join(expDir, CaptureDirName)
	if err := os.MkdirAll(filepath.Join(capDir, capture.MasksDirName), 0755); err != nil {
		t.Fatal(err)
	}

	img := image.NewNRGBA(image.Rect(0, 0, 8, 8))
	if err := imaging.SavePNG(filepath.Join(capDir, capture.RGBFile), img); err != nil {
		t.Fatal(err)
	}
	depth := image.NewGray16(image.Rect(0, 0, 8, 8))
	if err := imaging.SavePNG(filepath.Join(capDir, capture.DepthFile), depth); err != nil {
		t.Fatal(err)
	}
	k := mat.NewDense(3, 3, []float64{500, 0, 4, 0, 500, 4, 0, 0, 1})
	if err := camera.WriteNPY(filepath.Join(capDir, capture.IntrinsicsFile), k); err != nil {
		t.Fatal(err)
	}
	mask := image.NewGray(image.Rect(0, 0, 8, 8))
	for i := range mask.Pix {
		mask.Pix[i] = 255
	}
	if err := imaging.SavePNG(filepath.Join(capDir, capture.MasksDirName, "0.png"), mask); err != nil {
		t.Fatal(err)
	}

	meshDir := filepath.Join(expDir, CompletionDirName)
	if err := os.MkdirAll(meshDir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(meshDir, "0.obj"), []byte("v 0 0 0\n"), 0644); err != nil {
		t.Fatal(err)
	}
	return expDir
}

// TestPrepareTask verifies the registration layout lands in the experiment
func TestPrepareTask(t *testing.T) {
	expDir := writeExperiment(t)
	q := jobqueue.NewQueue()
	j := claimed(t, q, "prepare", expDir)

	var mu sync.Mutex
	if err := prepareTask(j, q, &mu); err != nil {
		t.Fatalf("prepareTask error = %v", err)
	}

	if q.GetJob(j.ID).State != jobqueue.StateCompleted {
		t.Error("job not marked completed")
	}
	for _, rel := range []string{
		"grasp_data/cam_K.json",
		"grasp_data/0_masked.png",
		"imesh_outputs/instant-mesh-large/meshes/0_rgba.obj",
	} {
		if _, err := os.Stat(filepath.Join(expDir, rel)); err != nil {
			t.Errorf("expected %s: %v", rel, err)
		}
	}
}

// TestPrepareTaskBadCapture verifies the job ends in the error state
func TestPrepareTaskBadCapture(t *testing.T) {
	expDir := t.TempDir() // no capture inside
	q := jobqueue.NewQueue()
	j := claimed(t, q, "prepare", expDir)

	var mu sync.Mutex
	if err := prepareTask(j, q, &mu); err == nil {
		t.Fatal("prepareTask succeeded without a capture")
	}
	if q.GetJob(j.ID).State != jobqueue.StateError {
		t.Errorf("job state = %v; want error", q.GetJob(j.ID).State)
	}
}

// TestArchiveTask verifies the experiment is packed into a results zip
func TestArchiveTask(t *testing.T) {
	expDir := writeExperiment(t)
	q := jobqueue.NewQueue()
	j := claimed(t, q, "archive", expDir)

	var mu sync.Mutex
	if err := archiveTask(j, q, &mu); err != nil {
		t.Fatalf("archiveTask error = %v", err)
	}
	if q.GetJob(j.ID).State != jobqueue.StateCompleted {
		t.Error("job not marked completed")
	}

	zipPath := filepath.Join(filepath.Dir(expDir), "metric_sam3d_"+filepath.Base(expDir)+".zip")
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		t.Fatalf("results zip missing: %v", err)
	}
	defer r.Close()

	found := false
	for _, f := range r.File {
		if f.Name == CompletionDirName+"/0.obj" {
			found = true
		}
	}
	if !found {
		t.Error("results zip does not contain the reconstructed mesh")
	}
}

// TestFinishCancelled verifies finish prefers the cancelled state
func TestFinishCancelled(t *testing.T) {
	q := jobqueue.NewQueue()
	j := claimed(t, q, "wait", "")
	j.Cancel()

	err := finish(j, q, errors.New("killed"))
	if err == nil {
		t.Fatal("finish swallowed the error")
	}
	if q.GetJob(j.ID).State != jobqueue.StateCancelled {
		t.Errorf("job state = %v; want cancelled", q.GetJob(j.ID).State)
	}
}

// TestWaitTaskCancellation verifies the wait task honors its context
func TestWaitTaskCancellation(t *testing.T) {
	q := jobqueue.NewQueue()
	j := claimed(t, q, "wait", "60")
	j.Cancel()

	var mu sync.Mutex
	if err := waitFn(j, q, &mu); !errors.Is(err, context.Canceled) {
		t.Errorf("waitFn error = %v; want context.Canceled", err)
	}
	if q.GetJob(j.ID).State != jobqueue.StateCancelled {
		t.Errorf("job state = %v; want cancelled", q.GetJob(j.ID).State)
	}
}
