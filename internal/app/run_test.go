package wrapper

import (
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	config "titrain-wrapper/internal/config"
)

type stubTrainer struct {
	name   string
	script string
	args   []string
}

func (s stubTrainer) Name() string                         { return s.name }
func (s stubTrainer) Script() string                       { return s.script }
func (s stubTrainer) BuildArgs(*config.RunConfig) []string { return s.args }

func silenceStderr(t *testing.T) {
	t.Helper()
	prev := stderrWriter
	stderrWriter = io.Discard
	t.Cleanup(func() { stderrWriter = prev })
}

func withTestLogger(t *testing.T) {
	t.Helper()
	lg, err := NewLoggerWithSuffix("test")
	if err != nil {
		t.Fatalf("NewLoggerWithSuffix: %v", err)
	}
	setLogger(lg)
	t.Cleanup(func() {
		if err := closeLogger(); err != nil {
			t.Errorf("closeLogger: %v", err)
		}
		_ = lg.RemoveLogFile()
	})
}

// A new finetune run must get its directory tree even when no base configs
// are given, since the run dir is announced up front.
func TestRunSingleMode_CreatesRunDirWithoutBaseConfigs(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires a unix shell")
	}
	silenceStderr(t)
	withTestLogger(t)

	prev := selectTrainerFn
	selectTrainerFn = func(string) (Trainer, error) {
		return stubTrainer{name: "finetune", script: "-c", args: []string{"true"}}, nil
	}
	t.Cleanup(func() { selectTrainerFn = prev })

	logRoot := filepath.Join(t.TempDir(), "logs")
	cfg := &config.RunConfig{
		Mode:       "new",
		Trainer:    "finetune",
		Python:     "sh",
		Name:       "cat",
		DataRoot:   t.TempDir(),
		LogDir:     logRoot,
		GPUs:       "0,",
		Seed:       23,
		BroadClass: -1,
		ScaleLR:    true,
	}

	if code := runSingleMode(cfg, "titrain"); code != 0 {
		t.Fatalf("runSingleMode = %d, want 0", code)
	}

	entries, err := os.ReadDir(logRoot)
	if err != nil {
		t.Fatalf("ReadDir(%s): %v", logRoot, err)
	}
	if len(entries) != 1 || !entries[0].IsDir() {
		t.Fatalf("log root entries = %v, want one run dir", entries)
	}
	runDir := filepath.Join(logRoot, entries[0].Name())
	for _, sub := range []string{"checkpoints", "configs"} {
		if info, err := os.Stat(filepath.Join(runDir, sub)); err != nil || !info.IsDir() {
			t.Errorf("%s/%s missing: %v", runDir, sub, err)
		}
	}
}

func TestRunSingleMode_DryRunCreatesNothing(t *testing.T) {
	silenceStderr(t)
	withTestLogger(t)

	prev := selectTrainerFn
	selectTrainerFn = func(string) (Trainer, error) {
		return stubTrainer{name: "finetune", script: "main.py"}, nil
	}
	t.Cleanup(func() { selectTrainerFn = prev })

	logRoot := filepath.Join(t.TempDir(), "logs")
	cfg := &config.RunConfig{
		Mode:       "new",
		Trainer:    "finetune",
		Name:       "cat",
		LogDir:     logRoot,
		GPUs:       "0,",
		Seed:       23,
		BroadClass: -1,
		ScaleLR:    true,
		DryRun:     true,
	}

	if code := runSingleMode(cfg, "titrain"); code != 0 {
		t.Fatalf("runSingleMode = %d, want 0", code)
	}
	if _, err := os.Stat(logRoot); !os.IsNotExist(err) {
		t.Errorf("dry run should not create %s (stat err = %v)", logRoot, err)
	}
}

func TestRunWithLoggerAndCleanup_BatchLogSuffix(t *testing.T) {
	silenceStderr(t)
	t.Setenv("TITRAIN_STARTUP_CLEANUP", "0")

	var path string
	code := runWithLoggerAndCleanup(true, func() int {
		if lg := activeLogger(); lg != nil {
			path = lg.Path()
		}
		return 0
	})
	if code != 0 {
		t.Fatalf("exit code = %d, want 0", code)
	}
	if !strings.HasSuffix(path, "-batch.log") {
		t.Errorf("batch log path = %q, want -batch.log suffix", path)
	}
}
