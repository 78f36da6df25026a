package appconfig

import (
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
)

// TestDefaultConfig verifies default configuration values
func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.ListenAddr != ":8018" {
		t.Errorf("Default ListenAddr = %q; want :8018", cfg.ListenAddr)
	}
	if cfg.Pipeline.PythonPath != "python3" {
		t.Errorf("Default PythonPath = %q; want python3", cfg.Pipeline.PythonPath)
	}
	if cfg.Pipeline.DefaultDevice != "0" {
		t.Errorf("Default DefaultDevice = %q; want 0", cfg.Pipeline.DefaultDevice)
	}
	if cfg.Pipeline.TimeoutMinutes != 30 {
		t.Errorf("Default TimeoutMinutes = %d; want 30", cfg.Pipeline.TimeoutMinutes)
	}
	if cfg.Pipeline.Seed != 42 {
		t.Errorf("Default Seed = %d; want 42", cfg.Pipeline.Seed)
	}
	if cfg.JWTSecret == "" {
		t.Error("Default JWTSecret should not be empty")
	}
	if cfg.RequireAuth {
		t.Error("Auth should be off by default")
	}
	if filepath.Base(cfg.OutputDir) != "api_outputs" {
		t.Errorf("Default OutputDir = %q; want it to end with api_outputs", cfg.OutputDir)
	}
}

// TestGetSet verifies the in-memory config round trip
func TestGetSet(t *testing.T) {
	original := Get()
	defer Set(original)

	c := defaultConfig()
	c.ListenAddr = ":9999"
	c.Pipeline.Script = "/opt/pipeline.sh"
	Set(c)

	got := Get()
	if got.ListenAddr != ":9999" {
		t.Errorf("Get().ListenAddr = %q; want :9999", got.ListenAddr)
	}
	if got.Pipeline.Script != "/opt/pipeline.sh" {
		t.Errorf("Get().Pipeline.Script = %q; want /opt/pipeline.sh", got.Pipeline.Script)
	}
}

// TestIsJSONObject verifies object detection
func TestIsJSONObject(t *testing.T) {
	cases := []struct {
		in   string
		want bool
	}{
		{`{}`, true},
		{`  {"a":1}`, true},
		{`[]`, false},
		{`"str"`, false},
		{`42`, false},
		{``, false},
	}
	for _, c := range cases {
		if got := isJSONObject([]byte(c.in)); got != c.want {
			t.Errorf("isJSONObject(%q) = %v; want %v", c.in, got, c.want)
		}
	}
}

// TestDeepMergeJSON verifies nested objects merge instead of replace
func TestDeepMergeJSON(t *testing.T) {
	dst := map[string]json.RawMessage{}
	if err := json.Unmarshal([]byte(`{
		"listenAddr": ":8018",
		"pipeline": {"pythonPath": "python3", "seed": 42},
		"extra": {"keepMe": true}
	}`), &dst); err != nil {
		t.Fatal(err)
	}

	src := map[string]json.RawMessage{}
	if err := json.Unmarshal([]byte(`{
		"pipeline": {"seed": 7}
	}`), &src); err != nil {
		t.Fatal(err)
	}

	deepMergeJSON(dst, src)

	var merged struct {
		ListenAddr string `json:"listenAddr"`
		Pipeline   struct {
			PythonPath string `json:"pythonPath"`
			Seed       int    `json:"seed"`
		} `json:"pipeline"`
		Extra struct {
			KeepMe bool `json:"keepMe"`
		} `json:"extra"`
	}
	blob, err := json.Marshal(dst)
	if err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal(blob, &merged); err != nil {
		t.Fatal(err)
	}

	if merged.Pipeline.Seed != 7 {
		t.Errorf("merged seed = %d; want 7", merged.Pipeline.Seed)
	}
	if merged.Pipeline.PythonPath != "python3" {
		t.Errorf("sibling key lost in merge: pythonPath = %q", merged.Pipeline.PythonPath)
	}
	if merged.ListenAddr != ":8018" {
		t.Errorf("untouched key lost: listenAddr = %q", merged.ListenAddr)
	}
	if !merged.Extra.KeepMe {
		t.Error("unrelated object dropped by merge")
	}
}

// TestConfigJSONRoundTrip verifies field tags survive serialization
func TestConfigJSONRoundTrip(t *testing.T) {
	c := defaultConfig()
	c.Pipeline.Script = "/opt/metric_sam3d_pipeline.sh"
	c.Pipeline.DeviceLimits = map[string]int{"0": 2}
	c.S3.Bucket = "reconstructions"

	blob, err := json.Marshal(c)
	if err != nil {
		t.Fatal(err)
	}

	var back Config
	if err := json.Unmarshal(blob, &back); err != nil {
		t.Fatal(err)
	}
	if back.Pipeline.Script != c.Pipeline.Script {
		t.Errorf("Pipeline.Script = %q; want %q", back.Pipeline.Script, c.Pipeline.Script)
	}
	if back.Pipeline.DeviceLimits["0"] != 2 {
		t.Errorf("DeviceLimits = %v; want {0:2}", back.Pipeline.DeviceLimits)
	}
	if back.S3.Bucket != "reconstructions" {
		t.Errorf("S3.Bucket = %q; want reconstructions", back.S3.Bucket)
	}
}

// TestConfigConcurrency verifies Get/Set are safe under contention
func TestConfigConcurrency(t *testing.T) {
	original := Get()
	defer Set(original)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			c := defaultConfig()
			c.ListenAddr = ":8018"
			Set(c)
		}()
		go func() {
			defer wg.Done()
			_ = Get()
		}()
	}
	wg.Wait()
}
