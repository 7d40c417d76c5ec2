package trainer

import (
	"strconv"
	"strings"

	config "titrain-wrapper/internal/config"
)

// FinetuneTrainer launches the textual-inversion fine-tuning entrypoint
// (main.py). The emitted flag list is the compatibility surface of the
// wrapper: flags the user never set are omitted so the trainer's own
// defaults apply.
type FinetuneTrainer struct{}

func (FinetuneTrainer) Name() string   { return "finetune" }
func (FinetuneTrainer) Script() string { return "main.py" }

func (FinetuneTrainer) BuildArgs(cfg *config.RunConfig) []string {
	return BuildFinetuneArgs(cfg)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func appendFloats(args []string, flag string, values []float64) []string {
	if len(values) == 0 {
		return args
	}
	args = append(args, flag)
	for _, v := range values {
		args = append(args, formatFloat(v))
	}
	return args
}

func BuildFinetuneArgs(cfg *config.RunConfig) []string {
	if cfg == nil {
		panic("buildFinetuneArgs: nil config")
	}

	var resumePath string
	isResume := cfg.Mode == "resume"
	if isResume {
		resumePath = strings.TrimSpace(cfg.Resume)
		if resumePath == "" {
			logErrorFn("invalid config: resume mode requires a logdir or checkpoint path")
			isResume = false
		}
	}

	var args []string
	for _, base := range cfg.BaseConfigs {
		args = append(args, "--base", base)
	}

	if cfg.Train {
		args = append(args, "-t")
	}
	if ckpt := strings.TrimSpace(cfg.ActualResume); ckpt != "" {
		args = append(args, "--actual_resume", ckpt)
	}
	if gpus := strings.TrimSpace(cfg.GPUs); gpus != "" {
		args = append(args, "--gpus", gpus)
	}
	if root := strings.TrimSpace(cfg.DataRoot); root != "" {
		args = append(args, "--data_root", root)
	}

	if isResume {
		args = append(args, "-r", resumePath)
	} else if name := strings.TrimSpace(cfg.Name); name != "" {
		args = append(args, "-n", name)
	}
	if postfix := strings.TrimSpace(cfg.Postfix); postfix != "" {
		args = append(args, "-f", postfix)
	}
	if project := strings.TrimSpace(cfg.Project); project != "" {
		args = append(args, "-p", project)
	}
	if logdir := strings.TrimSpace(cfg.LogDir); logdir != "" && logdir != "logs" {
		args = append(args, "-l", logdir)
	}

	if cfg.NoTest {
		args = append(args, "--no-test")
	}
	if cfg.Seed >= 0 {
		args = append(args, "-s", strconv.Itoa(cfg.Seed))
	}
	if cfg.MaxSteps > 0 {
		args = append(args, "--max_steps", strconv.Itoa(cfg.MaxSteps))
	}
	if cfg.BatchSize > 0 {
		args = append(args, "--bs", strconv.Itoa(cfg.BatchSize))
	}

	if ph := strings.TrimSpace(cfg.PlaceholderString); ph != "" {
		args = append(args, "--placeholder_string", ph)
	}
	if words := strings.TrimSpace(cfg.InitWords); words != "" {
		args = append(args, "--init_words", words)
	}
	args = appendFloats(args, "--init_word_weights", cfg.InitWordWeights)

	if cfg.BroadClass >= 0 {
		args = append(args, "--broad_class", strconv.Itoa(cfg.BroadClass))
	}
	if cfg.RandomizeClipSkipWeights {
		args = append(args, "--randomize_clip_skip_weights")
	}
	if cfg.NumVectorsPerToken > 0 {
		args = append(args, "--num_vectors_per_token", strconv.Itoa(cfg.NumVectorsPerToken))
	}
	if cfg.UseConvAttnKernelSize != 0 {
		args = append(args, "--use_conv_attn_kernel_size", strconv.Itoa(cfg.UseConvAttnKernelSize))
	}
	args = appendFloats(args, "--clip_last_layers_skip_weights", cfg.ClipLastLayersSkipWeights)

	if tok := strings.TrimSpace(cfg.ClsDeltaToken); tok != "" {
		args = append(args, "--cls_delta_token", tok)
	}
	if cfg.LR > 0 {
		args = append(args, "--lr", formatFloat(cfg.LR))
	}
	if !cfg.ScaleLR {
		args = append(args, "--scale_lr", "false")
	}
	if prefix := strings.TrimSpace(cfg.ComposPlaceholderPrefix); prefix != "" {
		args = append(args, "--compos_placeholder_prefix", prefix)
	}
	if cfg.Debug {
		args = append(args, "-d")
	}

	return append(args, cfg.ExtraArgs...)
}
