package jobqueue

import (
	"encoding/json"
	"log"
	"time"
)

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	id TEXT PRIMARY KEY,
	command TEXT NOT NULL,
	arguments TEXT,
	input TEXT,
	device TEXT,
	stdout TEXT,
	dependencies TEXT,
	state INTEGER NOT NULL,
	created_at DATETIME NOT NULL,
	claimed_at DATETIME,
	completed_at DATETIME,
	errored_at DATETIME,
	job_order_position INTEGER
)`

func (q *Queue) ensureSchema() error {
	_, err := q.db.Exec(schema)
	return err
}

// persist writes the job row, logging rather than failing the queue
// operation on a storage error; callers hold q.mu.
func (q *Queue) persist(job *Job) {
	if q.db == nil {
		return
	}

	args, _ := json.Marshal(job.Arguments)
	stdout, _ := json.Marshal(job.Stdout)
	deps, _ := json.Marshal(job.Dependencies)

	position := -1
	for i, id := range q.order {
		if id == job.ID {
			position = i
			break
		}
	}

	_, err := q.db.Exec(`
		INSERT OR REPLACE INTO jobs (
			id, command, arguments, input, device, stdout, dependencies, state,
			created_at, claimed_at, completed_at, errored_at, job_order_position
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.Command, string(args), job.Input, job.Device,
		string(stdout), string(deps), int(job.State),
		job.CreatedAt, job.ClaimedAt, job.CompletedAt, job.ErroredAt, position,
	)
	if err != nil {
		log.Printf("Failed to save job %s to database: %v", job.ID, err)
	}
}

func (q *Queue) unpersist(id string) error {
	if q.db == nil {
		return nil
	}
	_, err := q.db.Exec("DELETE FROM jobs WHERE id = ?", id)
	return err
}

// SaveAllJobsToDB flushes the whole queue, called once during shutdown.
func (q *Queue) SaveAllJobsToDB() error {
	if q.db == nil {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, job := range q.jobs {
		q.persist(job)
	}
	return nil
}

// restore loads saved jobs in their original order. Jobs that were in
// progress when the process died restart as pending: a half-finished
// pipeline reruns from scratch and overwrites its experiment output.
func (q *Queue) restore() error {
	if q.db == nil {
		return nil
	}

	rows, err := q.db.Query(`
		SELECT id, command, arguments, input, COALESCE(device, ''),
		       stdout, dependencies, state,
		       created_at, claimed_at, completed_at, errored_at
		FROM jobs ORDER BY job_order_position`)
	if err != nil {
		return err
	}
	defer rows.Close()

	var resumed []string
	for rows.Next() {
		var job Job
		var args, stdout, deps string
		var state int
		if err := rows.Scan(&job.ID, &job.Command, &args, &job.Input, &job.Device,
			&stdout, &deps, &state,
			&job.CreatedAt, &job.ClaimedAt, &job.CompletedAt, &job.ErroredAt); err != nil {
			log.Printf("Skipping unreadable job row: %v", err)
			continue
		}

		_ = json.Unmarshal([]byte(args), &job.Arguments)
		_ = json.Unmarshal([]byte(stdout), &job.Stdout)
		_ = json.Unmarshal([]byte(deps), &job.Dependencies)

		job.State = JobState(state)
		if job.Device == "" {
			job.Device = DefaultDevice
		}
		if job.State == StateInProgress {
			job.State = StatePending
			job.ClaimedAt = time.Time{}
			resumed = append(resumed, job.ID)
		}
		job.Ctx, job.Cancel = newJobContext()

		q.jobs[job.ID] = &job
		q.order = append(q.order, job.ID)
	}

	if len(resumed) > 0 {
		log.Printf("Requeued %d interrupted jobs: %v", len(resumed), resumed)
		for _, id := range resumed {
			q.notify(id)
		}
	}
	return rows.Err()
}
