package trainer

import (
	"fmt"
	"strconv"
	"strings"

	config "titrain-wrapper/internal/config"
)

// SampleTrainer runs the txt2img sampling script against a trained
// checkpoint. Most knobs of the sampler keep their script defaults; the
// wrapper only forwards what it owns (config, checkpoint, device, output
// location) and leaves the rest to ExtraArgs.
type SampleTrainer struct{}

func (SampleTrainer) Name() string   { return "sample" }
func (SampleTrainer) Script() string { return "scripts/stable_txt2img.py" }

func (SampleTrainer) BuildArgs(cfg *config.RunConfig) []string {
	if cfg == nil {
		panic("buildSampleArgs: nil config")
	}

	var args []string
	if len(cfg.BaseConfigs) > 0 {
		args = append(args, "--config", cfg.BaseConfigs[0])
		if len(cfg.BaseConfigs) > 1 {
			logWarnFn(fmt.Sprintf("sampling uses a single config, ignoring %d extra --base entries", len(cfg.BaseConfigs)-1))
		}
	}
	if ckpt := strings.TrimSpace(cfg.ActualResume); ckpt != "" {
		args = append(args, "--ckpt", ckpt)
	}

	if devices, err := config.ParseGPUSpec(cfg.GPUs); err == nil && len(devices) > 0 {
		args = append(args, "--gpu", strconv.Itoa(devices[0]))
	}

	if ph := strings.TrimSpace(cfg.PlaceholderString); ph != "" {
		prompt := "a photo of a " + ph
		if tok := strings.TrimSpace(cfg.ClsDeltaToken); tok != "" {
			prompt += " " + tok
		}
		args = append(args, "--prompt", prompt)
	}

	if cfg.MaxSteps > 0 {
		args = append(args, "--ddim_steps", strconv.Itoa(cfg.MaxSteps))
	}
	if cfg.BatchSize > 0 {
		args = append(args, "--bs", strconv.Itoa(cfg.BatchSize))
	}
	if cfg.Seed >= 0 {
		args = append(args, "--seed", strconv.Itoa(cfg.Seed))
	}
	if logdir := strings.TrimSpace(cfg.LogDir); logdir != "" {
		args = append(args, "--outdir", logdir)
	}

	return append(args, cfg.ExtraArgs...)
}
