package trainer

import (
	"strconv"
	"strings"

	config "titrain-wrapper/internal/config"
)

// EvalTrainer drives the batch evaluation script, which itself samples every
// subject checkpoint under a log directory and writes the generated images
// for scoring.
type EvalTrainer struct{}

func (EvalTrainer) Name() string   { return "eval" }
func (EvalTrainer) Script() string { return "evaluation/eval-db.py" }

func (EvalTrainer) BuildArgs(cfg *config.RunConfig) []string {
	if cfg == nil {
		panic("buildEvalArgs: nil config")
	}

	args := []string{"--method", "ada"}

	if ph := strings.TrimSpace(cfg.PlaceholderString); ph != "" {
		args = append(args, "--placeholder", ph)
	}
	if devices, err := config.ParseGPUSpec(cfg.GPUs); err == nil && len(devices) > 0 {
		args = append(args, "--gpu", strconv.Itoa(devices[0]))
	}
	if logdir := strings.TrimSpace(cfg.LogDir); logdir != "" {
		args = append(args, "--ckpt_dir", logdir)
	}
	if cfg.MaxSteps > 0 {
		args = append(args, "--ckpt_iter", strconv.Itoa(cfg.MaxSteps))
	}
	if cfg.BatchSize > 0 {
		args = append(args, "--bs", strconv.Itoa(cfg.BatchSize))
	}

	return append(args, cfg.ExtraArgs...)
}
