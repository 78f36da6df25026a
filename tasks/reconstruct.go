package tasks

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/chsahit/metric-sam3d/appconfig"
	"github.com/chsahit/metric-sam3d/archive"
	"github.com/chsahit/metric-sam3d/capture"
	"github.com/chsahit/metric-sam3d/jobqueue"
	"github.com/chsahit/metric-sam3d/sam3d"
	"github.com/chsahit/metric-sam3d/scenecomplete"
	"github.com/chsahit/metric-sam3d/storage"
)

// Reconstruction jobs take the experiment directory as Input. The layout
// inside an experiment directory is:
//
//	<exp>/capture/            normalized uploaded capture
//	<exp>/completion_output/  per-object meshes and splats
//	<exp>/grasp_data/         SceneComplete registration inputs
//	<exp>/imesh_outputs/      SceneComplete mesh/image/render inputs

// CaptureDirName is the normalized capture folder inside an experiment.
const CaptureDirName = "capture"

// CompletionDirName holds per-object reconstruction output.
const CompletionDirName = "completion_output"

func runnerFromConfig(cfg appconfig.Config) *sam3d.Runner {
	return &sam3d.Runner{
		PythonPath:      cfg.Pipeline.PythonPath,
		InferenceScript: cfg.Pipeline.InferenceScript,
		PipelineScript:  cfg.Pipeline.Script,
		CheckpointDir:   cfg.Pipeline.CheckpointDir,
		Seed:            cfg.Pipeline.Seed,
		Timeout:         time.Duration(cfg.Pipeline.TimeoutMinutes) * time.Minute,
	}
}

// finish translates a task error into the right terminal job state.
func finish(j *jobqueue.Job, q *jobqueue.Queue, err error) error {
	if err == nil {
		_ = q.CompleteJob(j.ID)
		return nil
	}
	select {
	case <-j.Ctx.Done():
		_ = q.PushJobStdout(j.ID, "Task was canceled")
		_ = q.CancelJob(j.ID)
	default:
		_ = q.PushJobStdout(j.ID, err.Error())
		_ = q.ErrorJob(j.ID)
	}
	return err
}

// generateTask reconstructs every masked object in the experiment's capture.
func generateTask(j *jobqueue.Job, q *jobqueue.Queue, mu *sync.Mutex) error {
	cfg := appconfig.Get()
	runner := runnerFromConfig(cfg)
	runner.LineFunc = func(line string) { _ = q.PushJobStdout(j.ID, line) }

	cap := capture.New(filepath.Join(j.Input, CaptureDirName))
	if _, err := cap.Validate(); err != nil {
		return finish(j, q, err)
	}

	outDir := filepath.Join(j.Input, CompletionDirName)
	result, err := runner.GenerateMeshes(j.Ctx, cap, outDir, j.Device)
	if err != nil {
		var runErr *sam3d.RunError
		if errors.As(err, &runErr) && runErr.StderrTail != "" {
			_ = q.PushJobStdout(j.ID, "stderr tail: "+runErr.StderrTail)
		}
		return finish(j, q, err)
	}

	_ = q.PushJobStdout(j.ID, fmt.Sprintf("Reconstructed %d objects", len(result.Objects)))
	return finish(j, q, nil)
}

// prepareTask stages generated meshes into the SceneComplete layout.
func prepareTask(j *jobqueue.Job, q *jobqueue.Queue, mu *sync.Mutex) error {
	cfg := appconfig.Get()

	p := &scenecomplete.Preparer{
		Capture: capture.New(filepath.Join(j.Input, CaptureDirName)),
		MeshDir: filepath.Join(j.Input, CompletionDirName),
		Layout:  scenecomplete.NewLayout(j.Input),
	}
	if cfg.RendererCommand != "" {
		p.Renderer = &scenecomplete.Renderer{Command: cfg.RendererCommand}
	}

	manifest, err := p.Prepare(j.Ctx)
	if err != nil {
		return finish(j, q, err)
	}

	_ = q.PushJobStdout(j.ID, fmt.Sprintf("Prepared registration data for %d objects", len(manifest.Objects)))
	return finish(j, q, nil)
}

// pipelineTask runs the full capture-to-scene pipeline script against the
// experiment, streaming its output.
func pipelineTask(j *jobqueue.Job, q *jobqueue.Queue, mu *sync.Mutex) error {
	cfg := appconfig.Get()
	runner := runnerFromConfig(cfg)
	runner.LineFunc = func(line string) { _ = q.PushJobStdout(j.ID, line) }

	captureDir := filepath.Join(j.Input, CaptureDirName)
	_, err := runner.RunPipeline(j.Ctx, captureDir, j.Input, j.Device)
	if err != nil {
		var runErr *sam3d.RunError
		if errors.As(err, &runErr) {
			if errors.Is(runErr.Err, sam3d.ErrTimeout) {
				_ = q.PushJobStdout(j.ID, "Pipeline run exceeded timeout")
			}
			if runErr.StderrTail != "" {
				_ = q.PushJobStdout(j.ID, "stderr tail: "+runErr.StderrTail)
			}
		}
		return finish(j, q, err)
	}
	return finish(j, q, nil)
}

// archiveTask zips the experiment directory and, when S3 is configured,
// uploads the zip.
func archiveTask(j *jobqueue.Job, q *jobqueue.Queue, mu *sync.Mutex) error {
	cfg := appconfig.Get()

	zipPath := filepath.Join(filepath.Dir(j.Input), "metric_sam3d_"+filepath.Base(j.Input)+".zip")
	if err := archive.ZipFolder(j.Input, zipPath); err != nil {
		return finish(j, q, err)
	}
	_ = q.PushJobStdout(j.ID, "Wrote "+zipPath)

	if cfg.S3.Bucket != "" {
		uploader, err := storage.NewUploader(j.Ctx, storage.S3Config{
			Bucket:          cfg.S3.Bucket,
			Region:          cfg.S3.Region,
			Prefix:          cfg.S3.Prefix,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
		})
		if err != nil {
			return finish(j, q, err)
		}
		key, err := uploader.UploadFile(j.Ctx, zipPath)
		if err != nil {
			return finish(j, q, err)
		}
		_ = q.PushJobStdout(j.ID, fmt.Sprintf("Uploaded s3://%s/%s", cfg.S3.Bucket, key))
	}
	return finish(j, q, nil)
}
