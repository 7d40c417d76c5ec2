package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func TestParseGPUSpec(t *testing.T) {
	tests := []struct {
		spec    string
		want    []int
		wantErr bool
	}{
		{"", nil, false},
		{"  ", nil, false},
		{"0,", []int{0}, false},
		{"0", []int{0}, false},
		{"0,1,", []int{0, 1}, false},
		{"2, 3", []int{2, 3}, false},
		{"a,", nil, true},
		{"0,,1", nil, true},
		{"-1,", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			got, err := ParseGPUSpec(tt.spec)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseGPUSpec(%q) expected error, got %v", tt.spec, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseGPUSpec(%q): %v", tt.spec, err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ParseGPUSpec(%q) = %v, want %v", tt.spec, got, tt.want)
			}
		})
	}
}

func validConfig(t *testing.T) *RunConfig {
	t.Helper()
	return &RunConfig{
		Mode:       "new",
		Name:       "cat",
		GPUs:       "0,",
		Seed:       23,
		BroadClass: -1,
		ScaleLR:    true,
		DataRoot:   t.TempDir(),
	}
}

func TestRunConfigValidate(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		if err := validConfig(t).Validate(); err != nil {
			t.Fatalf("Validate: %v", err)
		}
	})

	tests := []struct {
		name   string
		mutate func(*RunConfig)
		want   string
	}{
		{"resume without path", func(c *RunConfig) { c.Mode = "resume"; c.Resume = " "; c.Name = "" }, "resume mode requires"},
		{"name and resume", func(c *RunConfig) { c.Mode = "resume"; c.Resume = "logs/x" }, "cannot both be specified"},
		{"bad gpus", func(c *RunConfig) { c.GPUs = "x," }, "not a device index"},
		{"negative lr", func(c *RunConfig) { c.LR = -1 }, "--lr must not be negative"},
		{"negative steps", func(c *RunConfig) { c.MaxSteps = -1 }, "--max_steps must not be negative"},
		{"negative batch size", func(c *RunConfig) { c.BatchSize = -1 }, "--bs must not be negative"},
		{"broad class high", func(c *RunConfig) { c.BroadClass = 3 }, "--broad_class"},
		{"broad class low", func(c *RunConfig) { c.BroadClass = -2 }, "--broad_class"},
		{"multi-token placeholder", func(c *RunConfig) { c.PlaceholderString = "two words" }, "single token"},
		{"weight count mismatch", func(c *RunConfig) { c.InitWords = "cat"; c.InitWordWeights = []float64{1, 2} }, "--init_word_weights"},
		{"non-positive weight", func(c *RunConfig) { c.InitWords = "cat"; c.InitWordWeights = []float64{0} }, "must all be > 0"},
		{"bad skip weight", func(c *RunConfig) { c.ClipLastLayersSkipWeights = []float64{0.5, -0.5} }, "clip_last_layers_skip_weights"},
		{"negative vectors", func(c *RunConfig) { c.NumVectorsPerToken = -1 }, "--num_vectors_per_token"},
		{"bad kernel size", func(c *RunConfig) { c.UseConvAttnKernelSize = 4 }, "--use_conv_attn_kernel_size"},
		{"bad subject", func(c *RunConfig) { c.Subject = "a b" }, "invalid character"},
		{"missing data root", func(c *RunConfig) { c.DataRoot = "" }, "data_root required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %v, want substring %q", err, tt.want)
			}
		})
	}

	t.Run("broad class zero is valid", func(t *testing.T) {
		cfg := validConfig(t)
		cfg.BroadClass = 0
		if err := cfg.Validate(); err != nil {
			t.Errorf("Validate: %v", err)
		}
	})

	t.Run("kernel size sentinel values", func(t *testing.T) {
		for _, k := range []int{-1, 0, 1, 3, 5} {
			cfg := validConfig(t)
			cfg.UseConvAttnKernelSize = k
			if err := cfg.Validate(); err != nil {
				t.Errorf("kernel %d: %v", k, err)
			}
		}
	})

	t.Run("eval trainer skips data root", func(t *testing.T) {
		cfg := validConfig(t)
		cfg.Trainer = "eval"
		cfg.DataRoot = ""
		if err := cfg.Validate(); err != nil {
			t.Errorf("Validate: %v", err)
		}
	})

	t.Run("data root must be a directory", func(t *testing.T) {
		cfg := validConfig(t)
		file := filepath.Join(t.TempDir(), "img.png")
		if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
		cfg.DataRoot = file
		err := cfg.Validate()
		if err == nil || !strings.Contains(err.Error(), "not a directory") {
			t.Errorf("error = %v", err)
		}
	})
}

func TestValidateSubjectName(t *testing.T) {
	for _, ok := range []string{"cat", "cat-statue", "toy_2", "A9"} {
		if err := ValidateSubjectName(ok); err != nil {
			t.Errorf("ValidateSubjectName(%q): %v", ok, err)
		}
	}
	for _, bad := range []string{"", "  ", "a b", "a/b", "a..b", "名前"} {
		if err := ValidateSubjectName(bad); err == nil {
			t.Errorf("ValidateSubjectName(%q) expected error", bad)
		}
	}
}

func TestEnvFlagHelpers(t *testing.T) {
	const key = "TITRAIN_TEST_FLAG"

	if EnvFlagEnabled(key) {
		t.Error("unset var should be disabled")
	}
	t.Setenv(key, "1")
	if !EnvFlagEnabled(key) {
		t.Error("'1' should enable")
	}
	t.Setenv(key, "off")
	if EnvFlagEnabled(key) {
		t.Error("'off' should disable")
	}

	if !EnvFlagDefaultTrue("TITRAIN_OTHER_FLAG") {
		t.Error("unset var should default to true")
	}
	t.Setenv(key, "false")
	if EnvFlagDefaultTrue(key) {
		t.Error("'false' should override the true default")
	}

	if ParseBoolFlag("yes", false) != true || ParseBoolFlag("garbage", true) != true {
		t.Error("ParseBoolFlag mismatch")
	}
}

func TestResolveMaxParallelRuns(t *testing.T) {
	tests := []struct {
		value string
		want  int
	}{
		{"", 0},
		{"4", 4},
		{"0", 0},
		{"-2", 0},
		{"many", 0},
		{"250", 100},
	}
	for _, tt := range tests {
		t.Setenv("TITRAIN_MAX_PARALLEL_RUNS", tt.value)
		if got := ResolveMaxParallelRuns(); got != tt.want {
			t.Errorf("ResolveMaxParallelRuns() with %q = %d, want %d", tt.value, got, tt.want)
		}
	}
}
