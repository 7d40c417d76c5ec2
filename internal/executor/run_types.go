package executor

import (
	"context"
	"time"
)

// RunSpec describes one trainer invocation.
type RunSpec struct {
	ID      string   // batch run id, empty for single runs
	Python  string   // interpreter, defaults to "python3"
	Script  string   // trainer entrypoint relative to WorkDir
	Args    []string // trainer argv
	WorkDir string   // trainer repository root
	Env     []string // extra environment entries, appended to os.Environ

	Timeout time.Duration // 0 means no deadline

	// OnStep receives step/loss updates parsed from the trainer's stdout.
	OnStep func(step int, loss float64)

	Context context.Context `json:"-"`
}

// RunResult captures the outcome of one trainer run.
type RunResult struct {
	RunID      string        `json:"run_id,omitempty"`
	ExitCode   int           `json:"exit_code"`
	FinalLoss  float64       `json:"final_loss,omitempty"`
	HasLoss    bool          `json:"-"`
	GlobalStep int           `json:"global_step"`
	Checkpoint string        `json:"checkpoint,omitempty"`
	Duration   time.Duration `json:"-"`
	Error      string        `json:"error,omitempty"`
	StderrTail string        `json:"-"`
	Skipped    bool          `json:"skipped,omitempty"`
}

// BatchRun is one run block parsed from batch-mode stdin.
type BatchRun struct {
	ID        string
	Trainer   string
	Name      string
	DataRoot  string
	Subject   string
	GPUs      string
	After     []string
	MaxSteps  int
	LR        float64
	ExtraArgs []string
}

// BatchConfig is the full parsed batch definition.
type BatchConfig struct {
	Runs []BatchRun
}

// BatchReport aggregates per-run outcomes. ExitCode is the last nonzero
// run exit code, zero when everything passed.
type BatchReport struct {
	Results  []RunResult
	ExitCode int
}
