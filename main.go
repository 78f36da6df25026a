package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	_ "modernc.org/sqlite"

	"github.com/chsahit/metric-sam3d/appconfig"
	"github.com/chsahit/metric-sam3d/archive"
	"github.com/chsahit/metric-sam3d/auth"
	"github.com/chsahit/metric-sam3d/capture"
	"github.com/chsahit/metric-sam3d/checkpoints"
	"github.com/chsahit/metric-sam3d/jobqueue"
	"github.com/chsahit/metric-sam3d/platform"
	"github.com/chsahit/metric-sam3d/runners"
	"github.com/chsahit/metric-sam3d/sam3d"
	"github.com/chsahit/metric-sam3d/stream"
	"github.com/chsahit/metric-sam3d/tasks"
)

// -----------------------------------------------------------------------------
// http server so we can shut it down cleanly on exit.
// -----------------------------------------------------------------------------
var srv *http.Server

// Global dependencies variable so we can access it from shutdown
var deps *Dependencies

// Keep a copy of the currently loaded config in memory
var currentConfig appconfig.Config

// Global runners instance so we can shut it down on exit
var currentRunners *runners.Runners

// Global flag to track if we're in setup mode (missing model checkpoints)
var setupMode bool
var setupModeMutex sync.RWMutex

// maxUploadBytes caps capture archive uploads. RGB-D captures with masks
// are tens of megabytes; a gigabyte means someone zipped the wrong folder.
const maxUploadBytes = 1 << 30

// -----------------------------------------------------------------------------
// Dependencies struct to hold shared dependencies
// -----------------------------------------------------------------------------
type Dependencies struct {
	Queue *jobqueue.Queue
	DB    *sql.DB
	Auth  *auth.Service
}

// -----------------------------------------------------------------------------
// Database initialization
// -----------------------------------------------------------------------------

func initDB() (*sql.DB, error) {
	// Load config (creates default config if doesn't exist)
	cfg, _, err := appconfig.Load()
	if err != nil {
		return nil, err
	}
	currentConfig = cfg
	dbPath := cfg.DBPath
	log.Printf("Using database path from config: %s", dbPath)

	// Ensure the directory exists
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %v", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %v", err)
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %v", err)
	}

	log.Printf("Connected to SQLite database at: %s", dbPath)
	return db, nil
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next(w, r)
	}
}

func logMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next(w, r)
		log.Printf("%s %s (%v)", r.Method, r.URL.Path, time.Since(start))
	}
}

// authMiddleware enforces bearer-token auth when the config requires it.
func authMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !appconfig.Get().RequireAuth {
			next(w, r)
			return
		}
		header := r.Header.Get("Authorization")
		tokenString, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			http.Error(w, "missing bearer token", http.StatusUnauthorized)
			return
		}
		if _, err := deps.Auth.VerifyToken(tokenString); err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func applyMiddlewares(next http.HandlerFunc) http.HandlerFunc {
	return logMiddleware(corsMiddleware(authMiddleware(next)))
}

// setupModeMiddleware rejects reconstruction work while model checkpoints
// are missing. Setup, health, auth, and stream endpoints stay reachable.
func setupModeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setupModeMutex.RLock()
		inSetup := setupMode
		setupModeMutex.RUnlock()

		if inSetup {
			allowedPrefixes := []string{"/health", "/setup", "/stream", "/login", "/config", "/stats"}
			allowed := false
			for _, p := range allowedPrefixes {
				if strings.HasPrefix(r.URL.Path, p) {
					allowed = true
					break
				}
			}
			if !allowed {
				http.Error(w, "model checkpoints missing, server is in setup mode", http.StatusServiceUnavailable)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func refreshSetupMode() {
	ready := checkpoints.Ready(appconfig.Get().Pipeline.CheckpointDir)
	setupModeMutex.Lock()
	setupMode = !ready
	setupModeMutex.Unlock()
}

// -----------------------------------------------------------------------------
// Upload handling
// -----------------------------------------------------------------------------

// receiveCaptureZip saves the uploaded archive from a multipart form ("file"
// field) into destDir and returns its path.
func receiveCaptureZip(r *http.Request, destDir string) (string, error) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		return "", fmt.Errorf("invalid multipart form: %w", err)
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		return "", fmt.Errorf("missing file field: %w", err)
	}
	defer file.Close()

	name := filepath.Base(header.Filename)
	ext := strings.ToLower(filepath.Ext(name))
	if ext != ".zip" && ext != ".7z" {
		return "", fmt.Errorf("unsupported archive type %q, expected .zip or .7z", ext)
	}

	if err := os.MkdirAll(destDir, 0755); err != nil {
		return "", err
	}
	destPath := filepath.Join(destDir, name)
	out, err := os.Create(destPath)
	if err != nil {
		return "", err
	}
	defer out.Close()

	if _, err := io.Copy(out, io.LimitReader(file, maxUploadBytes)); err != nil {
		return "", fmt.Errorf("failed to save upload: %w", err)
	}
	return destPath, nil
}

// newExperimentDir extracts an uploaded capture archive into a fresh
// timestamped experiment directory and normalizes the capture layout.
// The uploaded archive may wrap the capture in a single top-level folder
// or carry the files at its root; both normalize to <exp>/capture/.
func newExperimentDir(r *http.Request) (string, capture.Capture, error) {
	cfg := appconfig.Get()
	expID := capture.NewExperimentID(time.Now())
	expDir := filepath.Join(cfg.OutputDir, expID)

	// Stage the raw archive outside the experiment tree so it never
	// pollutes the results zip.
	uploadDir := filepath.Join(platform.GetTempDir(), expID)
	zipPath, err := receiveCaptureZip(r, uploadDir)
	if err != nil {
		return "", capture.Capture{}, err
	}
	defer os.RemoveAll(uploadDir)

	if err := archive.Extract(zipPath, expDir); err != nil {
		return "", capture.Capture{}, fmt.Errorf("failed to extract archive: %w", err)
	}

	cap, err := capture.Normalize(expDir)
	if err != nil {
		return "", capture.Capture{}, err
	}
	return expDir, cap, nil
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// reconstructSyncHandler is the one-shot endpoint: upload a capture zip,
// run the full pipeline, download the result zip. Blocks for the whole run;
// 400 for a bad capture, 504 when the pipeline times out, 500 with output
// tails otherwise.
func reconstructSyncHandler(deps *Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Use POST", http.StatusMethodNotAllowed)
			return
		}

		expDir, cap, err := newExperimentDir(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		if _, err := cap.Validate(); err != nil {
			http.Error(w, fmt.Sprintf("invalid capture: %v", err), http.StatusBadRequest)
			return
		}

		cfg := appconfig.Get()
		runner := &sam3d.Runner{
			PythonPath:      cfg.Pipeline.PythonPath,
			InferenceScript: cfg.Pipeline.InferenceScript,
			PipelineScript:  cfg.Pipeline.Script,
			CheckpointDir:   cfg.Pipeline.CheckpointDir,
			Seed:            cfg.Pipeline.Seed,
			Timeout:         time.Duration(cfg.Pipeline.TimeoutMinutes) * time.Minute,
		}

		device := r.FormValue("device")
		if device == "" {
			device = cfg.Pipeline.DefaultDevice
		}

		_, err = runner.RunPipeline(r.Context(), cap.Dir, expDir, device)
		if err != nil {
			var runErr *sam3d.RunError
			if errors.As(err, &runErr) {
				body := fmt.Sprintf("pipeline failed: %v\nstdout tail:\n%s\nstderr tail:\n%s",
					runErr.Err, runErr.StdoutTail, runErr.StderrTail)
				status := http.StatusInternalServerError
				if errors.Is(runErr.Err, sam3d.ErrTimeout) {
					status = http.StatusGatewayTimeout
				}
				http.Error(w, body, status)
				return
			}
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		// The pipeline script writes its deliverables under results/; a
		// successful exit without it means the run silently produced nothing.
		resultsDir := filepath.Join(expDir, "results")
		if _, err := os.Stat(resultsDir); err != nil {
			http.Error(w, "pipeline exited successfully but produced no results directory", http.StatusInternalServerError)
			return
		}

		zipPath := filepath.Join(cfg.OutputDir, "metric_sam3d_"+filepath.Base(expDir)+".zip")
		if err := archive.ZipFolder(resultsDir, zipPath); err != nil {
			http.Error(w, fmt.Sprintf("failed to package results: %v", err), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/zip")
		w.Header().Set("Content-Disposition",
			fmt.Sprintf("attachment; filename=%q", filepath.Base(zipPath)))
		http.ServeFile(w, r, zipPath)
	}
}

// reconstructAsyncHandler queues a reconstruction instead of blocking: the
// capture is extracted, then a generate -> prepare -> archive workflow is
// queued against the experiment directory. Returns the experiment ID and
// the job IDs.
func reconstructAsyncHandler(deps *Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Use POST", http.StatusMethodNotAllowed)
			return
		}

		expDir, cap, err := newExperimentDir(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if _, err := cap.Validate(); err != nil {
			http.Error(w, fmt.Sprintf("invalid capture: %v", err), http.StatusBadRequest)
			return
		}

		cfg := appconfig.Get()
		device := r.FormValue("device")
		if device == "" {
			device = cfg.Pipeline.DefaultDevice
		}

		archiveID, err := deps.Queue.AddWorkflow(jobqueue.Workflow{
			Command: "archive",
			Input:   expDir,
			Device:  device,
			Children: []jobqueue.Workflow{{
				Command: "prepare",
				Input:   expDir,
				Device:  device,
				Children: []jobqueue.Workflow{{
					Command: "generate",
					Input:   expDir,
					Device:  device,
				}},
			}},
		})
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"experiment": filepath.Base(expDir),
			"job":        archiveID,
		})
	}
}

// resultHandler serves a finished experiment's result zip.
func resultHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		expID := r.PathValue("id")
		if strings.ContainsAny(expID, "/\\") || expID == "" || strings.Contains(expID, "..") {
			http.Error(w, "bad experiment id", http.StatusBadRequest)
			return
		}
		zipPath := filepath.Join(appconfig.Get().OutputDir, "metric_sam3d_"+expID+".zip")
		if _, err := os.Stat(zipPath); err != nil {
			http.Error(w, "no results for experiment", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/zip")
		w.Header().Set("Content-Disposition",
			fmt.Sprintf("attachment; filename=%q", filepath.Base(zipPath)))
		http.ServeFile(w, r, zipPath)
	}
}

type CreateJobHandlerRequest struct {
	Command   string   `json:"command"`
	Arguments []string `json:"arguments"`
	Input     string   `json:"input"`
	Device    string   `json:"device"`
}

func createJobHandler(deps *Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Use POST", http.StatusMethodNotAllowed)
			return
		}

		var req CreateJobHandlerRequest
		if err := readJSONBody(r, &req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		if req.Command == "" {
			http.Error(w, "missing command", http.StatusBadRequest)
			return
		}
		if _, ok := tasks.Lookup(req.Command); !ok {
			http.Error(w, fmt.Sprintf("unknown task %q", req.Command), http.StatusBadRequest)
			return
		}

		id, err := deps.Queue.AddJob(req.Command, req.Arguments, req.Input, req.Device, nil)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]string{"id": id})
	}
}

func jobsListHandler(deps *Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(deps.Queue.GetJobs())
	}
}

func jobDetailHandler(deps *Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job := deps.Queue.GetJob(r.PathValue("id"))
		if job == nil {
			http.Error(w, "job not found", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(struct {
			*jobqueue.Job
			Stdout []string `json:"stdout"`
		}{job, job.Stdout})
	}
}

func cancelHandler(deps *Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Use POST", http.StatusMethodNotAllowed)
			return
		}
		deps.Queue.CancelJob(r.PathValue("id"))

		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("Job cancelled successfully"))
	}
}

func copyHandler(deps *Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Use POST", http.StatusMethodNotAllowed)
			return
		}
		newID, err := deps.Queue.CopyJob(r.PathValue("id"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]string{"id": newID, "message": "Job copied successfully"})
	}
}

func removeHandler(deps *Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Use POST", http.StatusMethodNotAllowed)
			return
		}
		if err := deps.Queue.RemoveJob(r.PathValue("id")); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("Job removed successfully"))
	}
}

func clearNonRunningJobsHandler(deps *Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Use POST", http.StatusMethodNotAllowed)
			return
		}

		clearedCount, err := deps.Queue.ClearNonRunningJobs()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"cleared_count": clearedCount,
			"message":       fmt.Sprintf("Cleared %d non-running jobs", clearedCount),
		})
	}
}

func readJSONBody(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

// healthHandler provides system health information including stream connections
func healthHandler(deps *Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		setupModeMutex.RLock()
		inSetup := setupMode
		setupModeMutex.RUnlock()

		states := map[string]int{}
		for _, job := range deps.Queue.GetJobs() {
			states[job.State.String()]++
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"status":     "ok",
			"setup_mode": inSetup,
			"jobs":       states,
			"stream":     stream.GetConnectionStats(),
		})
	}
}

func setupStatusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cfg := appconfig.Get()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"checkpoint_dir": cfg.Pipeline.CheckpointDir,
			"ready":          checkpoints.Ready(cfg.Pipeline.CheckpointDir),
			"artifacts":      checkpoints.List(cfg.Pipeline.CheckpointDir),
		})
	}
}

// setupDownloadHandler starts a checkpoint download in the background,
// reporting progress over the stream.
func setupDownloadHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Use POST", http.StatusMethodNotAllowed)
			return
		}
		var req struct {
			ID string `json:"id"`
		}
		if err := readJSONBody(r, &req); err != nil || req.ID == "" {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		if _, ok := checkpoints.Get(req.ID); !ok {
			http.Error(w, "unknown artifact", http.StatusNotFound)
			return
		}

		dir := appconfig.Get().Pipeline.CheckpointDir
		go func() {
			progress := func(downloaded, total int64) {
				msg, _ := json.Marshal(map[string]interface{}{
					"artifact":   req.ID,
					"downloaded": downloaded,
					"total":      total,
				})
				stream.Broadcast(stream.Message{Type: "checkpoint-progress", Msg: string(msg)})
			}
			if err := checkpoints.Download(context.Background(), req.ID, dir, progress); err != nil {
				log.Printf("Checkpoint download failed for %s: %v", req.ID, err)
				stream.Broadcast(stream.Message{Type: "checkpoint-error", Msg: err.Error()})
				return
			}
			log.Printf("Checkpoint %s downloaded", req.ID)
			refreshSetupMode()
			stream.Broadcast(stream.Message{Type: "checkpoint-done", Msg: req.ID})
		}()

		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte("download started"))
	}
}

func loginHandler(deps *Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Use POST", http.StatusMethodNotAllowed)
			return
		}
		var req struct {
			Username string `json:"username"`
			Password string `json:"password"`
		}
		if err := readJSONBody(r, &req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		token, err := deps.Auth.Login(req.Username, req.Password)
		if err != nil {
			http.Error(w, "invalid credentials", http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"token": token})
	}
}

func configHandler(deps *Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			cfg := appconfig.Get()
			// Never leak secrets over the API
			cfg.JWTSecret = ""
			cfg.S3.SecretAccessKey = ""
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(cfg)
		case http.MethodPost:
			var cfg appconfig.Config
			if err := readJSONBody(r, &cfg); err != nil {
				http.Error(w, "bad json", http.StatusBadRequest)
				return
			}
			// Preserve fields the API doesn't accept
			current := appconfig.Get()
			cfg.JWTSecret = current.JWTSecret
			if cfg.S3.SecretAccessKey == "" {
				cfg.S3.SecretAccessKey = current.S3.SecretAccessKey
			}
			if _, err := appconfig.Save(cfg); err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			refreshSetupMode()
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("config saved"))
		default:
			http.Error(w, "Use GET or POST", http.StatusMethodNotAllowed)
		}
	}
}

func tasksHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(tasks.All())
	}
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

func main() {
	// ––– initialize database –––
	db, err := initDB()
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	// ––– auth –––
	authService := auth.NewService(db, currentConfig.JWTSecret)
	if err := authService.EnsureSchema(); err != nil {
		log.Fatalf("Failed to create users table: %v", err)
	}
	if currentConfig.RequireAuth {
		if err := authService.CreateDefaultUser(); err != nil {
			log.Printf("warning: failed to create default user: %v", err)
		}
	}

	// ––– job queue and runners –––
	log.Println("Initializing job queue with database persistence...")
	queue := jobqueue.NewQueueWithDB(db)
	log.Printf("Job queue initialized. Current jobs: %d", len(queue.GetJobs()))
	for device, limit := range currentConfig.Pipeline.DeviceLimits {
		queue.SetDeviceLimit(device, limit)
	}
	currentRunners = runners.New(queue)

	// ––– create dependencies struct –––
	deps = &Dependencies{
		Queue: queue,
		DB:    db,
		Auth:  authService,
	}

	// ––– check for missing model checkpoints –––
	log.Println("Checking model checkpoints...")
	refreshSetupMode()
	setupModeMutex.RLock()
	if setupMode {
		log.Printf("Missing model checkpoints in %s - setup mode enabled", currentConfig.Pipeline.CheckpointDir)
	} else {
		log.Println("All required model checkpoints present")
	}
	setupModeMutex.RUnlock()

	// ––– routes –––
	mux := http.NewServeMux()
	mux.HandleFunc("/metric_sam3d/", applyMiddlewares(reconstructSyncHandler(deps)))
	mux.HandleFunc("/reconstruct", applyMiddlewares(reconstructAsyncHandler(deps)))
	mux.HandleFunc("/results/{id}", applyMiddlewares(resultHandler()))
	mux.HandleFunc("/jobs", applyMiddlewares(jobsListHandler(deps)))
	mux.HandleFunc("/jobs/create", applyMiddlewares(createJobHandler(deps)))
	mux.HandleFunc("/jobs/clear", applyMiddlewares(clearNonRunningJobsHandler(deps)))
	mux.HandleFunc("/job/{id}", applyMiddlewares(jobDetailHandler(deps)))
	mux.HandleFunc("/job/{id}/cancel", applyMiddlewares(cancelHandler(deps)))
	mux.HandleFunc("/job/{id}/copy", applyMiddlewares(copyHandler(deps)))
	mux.HandleFunc("/job/{id}/remove", applyMiddlewares(removeHandler(deps)))
	mux.HandleFunc("/tasks", applyMiddlewares(tasksHandler()))
	mux.HandleFunc("/stream", stream.StreamHandler)
	mux.HandleFunc("/health", healthHandler(deps))
	mux.HandleFunc("/login", logMiddleware(corsMiddleware(loginHandler(deps))))
	mux.HandleFunc("/setup/status", applyMiddlewares(setupStatusHandler()))
	mux.HandleFunc("/setup/download", applyMiddlewares(setupDownloadHandler()))
	mux.HandleFunc("/config", applyMiddlewares(configHandler(deps)))

	srv = &http.Server{
		Addr:    currentConfig.ListenAddr,
		Handler: setupModeMiddleware(mux),
	}

	// start HTTP server in background
	go func() {
		log.Printf("metric-sam3d server listening on %s", currentConfig.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("metric-sam3d server: %v", err)
		}
	}()

	// block until a shutdown signal arrives
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("Received %v, shutting down", sig)
	shutdown()
}

func shutdown() {
	log.Println("Shutting down metric-sam3d server...")

	// Shutdown runners first to stop processing new jobs
	if currentRunners != nil {
		log.Println("Shutting down job runners...")
		currentRunners.Shutdown()
		log.Println("Job runners shut down successfully")
	}

	// Shutdown stream connections
	log.Println("Shutting down stream connections...")
	stream.Shutdown()

	// Save all jobs to database before shutting down
	if deps != nil && deps.Queue != nil {
		log.Println("Saving job queue to database...")
		if err := deps.Queue.SaveAllJobsToDB(); err != nil {
			log.Printf("Error saving jobs to database: %v", err)
		} else {
			log.Println("Job queue saved successfully")
		}
	}

	// Shutdown HTTP server
	log.Println("Shutting down HTTP server...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	} else {
		log.Println("HTTP server shutdown complete")
	}

	log.Println("metric-sam3d server shutdown complete")
}
