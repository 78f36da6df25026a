// Package tasks implements the reconstruction workflow steps that run
// on the job queue: mesh generation, registration data prep, the full
// pipeline, result archival, and a couple of utility tasks.
package tasks

import (
	"sort"
	"sync"

	"github.com/chsahit/metric-sam3d/jobqueue"
)

// TaskFunc executes one job. It is responsible for moving the job to a
// terminal state before returning.
type TaskFunc func(j *jobqueue.Job, q *jobqueue.Queue, mu *sync.Mutex) error

// Task is a queue command the server exposes over the API.
type Task struct {
	ID   string   `json:"id"`
	Name string   `json:"name"`
	Fn   TaskFunc `json:"-"`
}

var registry = map[string]Task{
	"wait":     {ID: "wait", Name: "Wait", Fn: waitFn},
	"generate": {ID: "generate", Name: "Generate Meshes", Fn: generateTask},
	"prepare":  {ID: "prepare", Name: "Prepare Registration Data", Fn: prepareTask},
	"pipeline": {ID: "pipeline", Name: "Run Reconstruction Pipeline", Fn: pipelineTask},
	"archive":  {ID: "archive", Name: "Archive Results", Fn: archiveTask},
	"script":   {ID: "script", Name: "Run Script", Fn: executeCommand},
}

// Lookup returns the task registered under id.
func Lookup(id string) (Task, bool) {
	t, ok := registry[id]
	return t, ok
}

// All returns every registered task, ordered by ID for stable API output.
func All() []Task {
	list := make([]Task, 0, len(registry))
	for _, t := range registry {
		list = append(list, t)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list
}
