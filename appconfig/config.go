package appconfig

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/chsahit/metric-sam3d/platform"
)

// Config holds application configuration: where experiments are written,
// how the external reconstruction pipeline is invoked, and service settings.
type Config struct {
	DBPath string `json:"dbPath"`

	// Root directory for experiment outputs
	OutputDir string `json:"outputDir"`

	// Reconstruction pipeline settings
	Pipeline struct {
		Script          string `json:"script"`          // metric_sam3d_pipeline.sh
		InferenceScript string `json:"inferenceScript"` // SAM-3D-Objects entry point
		PythonPath      string `json:"pythonPath"`
		CheckpointDir   string `json:"checkpointDir"`
		DefaultDevice   string `json:"defaultDevice"`
		TimeoutMinutes  int    `json:"timeoutMinutes"`
		Seed            int    `json:"seed"`

		// Concurrent jobs allowed per CUDA device (default 1)
		DeviceLimits map[string]int `json:"deviceLimits"`
	} `json:"pipeline"`

	// Optional offscreen renderer command for correspondence renders.
	// Empty means placeholder renders are produced instead.
	RendererCommand string `json:"rendererCommand"`

	// Optional external viewer command for visualization
	ViewerCommand string `json:"viewerCommand"`

	// HTTP listen address
	ListenAddr string `json:"listenAddr"`

	// RequireAuth turns on token auth for the API. Off by default since
	// the server usually binds to localhost on a lab machine.
	RequireAuth bool `json:"requireAuth"`

	// JWT Secret for authentication
	JWTSecret string `json:"jwtSecret"`

	// Optional S3 archival of result zips. Credentials fall back to the
	// standard AWS environment/profile chain when not set here.
	S3 struct {
		Bucket          string `json:"bucket"`
		Region          string `json:"region"`
		Prefix          string `json:"prefix"`
		AccessKeyID     string `json:"accessKeyId"`
		SecretAccessKey string `json:"secretAccessKey"`
	} `json:"s3"`
}

var (
	cfgMu sync.RWMutex
	cfg   Config
)

// DefaultDBPath returns the default job database path under the
// platform data directory.
func DefaultDBPath() string {
	return filepath.Join(platform.GetDataDir(), "metric-sam3d.db")
}

// DefaultConfigDir returns the directory config.json lives in.
func DefaultConfigDir() string {
	return platform.GetDataDir()
}

func configPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

func defaultConfig() Config {
	c := Config{
		DBPath:     DefaultDBPath(),
		OutputDir:  filepath.Join(platform.GetDataDir(), "api_outputs"),
		ListenAddr: ":8018",
		JWTSecret:  uuid.New().String(),
	}
	c.Pipeline.PythonPath = "python3"
	c.Pipeline.CheckpointDir = filepath.Join(platform.GetCacheDir(), "checkpoints")
	c.Pipeline.DefaultDevice = "0"
	c.Pipeline.TimeoutMinutes = 30
	c.Pipeline.Seed = 42
	return c
}

// Get returns a copy of the current in-memory config.
func Get() Config {
	cfgMu.RLock()
	defer cfgMu.RUnlock()
	return cfg
}

// Set replaces the in-memory config.
func Set(c Config) {
	cfgMu.Lock()
	cfg = c
	cfgMu.Unlock()
}

func isJSONObject(raw []byte) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '{'
}

// deepMergeJSON overlays src onto dst. Keys that hold objects on both
// sides merge recursively so a partial config edit keeps sibling keys;
// anything else is replaced wholesale.
func deepMergeJSON(dst, src map[string]json.RawMessage) {
	for key, incoming := range src {
		existing, present := dst[key]
		if present && isJSONObject(existing) && isJSONObject(incoming) {
			var a, b map[string]json.RawMessage
			if json.Unmarshal(existing, &a) == nil && json.Unmarshal(incoming, &b) == nil {
				deepMergeJSON(a, b)
				if merged, err := json.Marshal(a); err == nil {
					dst[key] = merged
					continue
				}
			}
		}
		dst[key] = incoming
	}
}

// fillDefaults backfills zero-valued fields from the defaults. It
// reports whether a field was filled that must survive restarts (the
// DB path and the JWT secret, which would otherwise churn every boot).
func fillDefaults(c *Config) bool {
	def := defaultConfig()
	persist := false

	if c.DBPath == "" {
		c.DBPath = def.DBPath
		persist = true
	}
	if c.JWTSecret == "" {
		c.JWTSecret = def.JWTSecret
		persist = true
	}
	if c.OutputDir == "" {
		c.OutputDir = def.OutputDir
	}
	if c.ListenAddr == "" {
		c.ListenAddr = def.ListenAddr
	}
	if c.Pipeline.PythonPath == "" {
		c.Pipeline.PythonPath = def.Pipeline.PythonPath
	}
	if c.Pipeline.CheckpointDir == "" {
		c.Pipeline.CheckpointDir = def.Pipeline.CheckpointDir
	}
	if c.Pipeline.DefaultDevice == "" {
		c.Pipeline.DefaultDevice = def.Pipeline.DefaultDevice
	}
	if c.Pipeline.TimeoutMinutes == 0 {
		c.Pipeline.TimeoutMinutes = def.Pipeline.TimeoutMinutes
	}
	if c.Pipeline.Seed == 0 {
		c.Pipeline.Seed = def.Pipeline.Seed
	}
	return persist
}

// Load reads config.json, backfills defaults, and installs the result
// as the in-memory config. A missing file is created with defaults.
// Returns the loaded config and the path it came from.
func Load() (Config, string, error) {
	path := configPath()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return Config{}, "", fmt.Errorf("failed to create config directory: %v", err)
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		def := defaultConfig()
		if err := os.MkdirAll(def.OutputDir, 0755); err != nil {
			return Config{}, "", fmt.Errorf("failed to create output directory %s: %v", def.OutputDir, err)
		}
		savedPath, err := Save(def)
		if err != nil {
			return Config{}, path, fmt.Errorf("failed to create default config file: %v", err)
		}
		return def, savedPath, nil
	}
	if err != nil {
		return Config{}, path, fmt.Errorf("failed to read config file at %s: %v", path, err)
	}

	var c Config
	if err := json.Unmarshal(data, &c); err != nil {
		return Config{}, path, fmt.Errorf("failed to parse config JSON: %v", err)
	}

	persist := fillDefaults(&c)
	if err := os.MkdirAll(c.OutputDir, 0755); err != nil {
		return Config{}, path, fmt.Errorf("failed to create output directory %s: %v", c.OutputDir, err)
	}
	if persist {
		if _, err := Save(c); err != nil {
			// keep running on the in-memory config
			fmt.Printf("Warning: failed to save updated config: %v\n", err)
		}
	}

	Set(c)
	return c, path, nil
}

// Save merges c over whatever is on disk and writes the result, so
// unknown keys a user added by hand are preserved. Returns the path.
func Save(c Config) (string, error) {
	path := configPath()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return path, fmt.Errorf("failed to create config directory: %v", err)
	}

	onDisk := map[string]json.RawMessage{}
	if raw, err := os.ReadFile(path); err == nil {
		var parsed map[string]json.RawMessage
		if json.Unmarshal(raw, &parsed) == nil {
			onDisk = parsed
		}
	}

	blob, err := json.Marshal(c)
	if err != nil {
		return path, fmt.Errorf("failed to marshal config: %v", err)
	}
	incoming := map[string]json.RawMessage{}
	if err := json.Unmarshal(blob, &incoming); err != nil {
		return path, fmt.Errorf("failed to map config JSON: %v", err)
	}
	deepMergeJSON(onDisk, incoming)

	out, err := json.MarshalIndent(onDisk, "", "  ")
	if err != nil {
		return path, fmt.Errorf("failed to marshal merged config: %v", err)
	}
	if err := os.WriteFile(path, out, 0644); err != nil {
		return path, fmt.Errorf("failed to write config file: %v", err)
	}
	Set(c)
	return path, nil
}
