package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// RunConfig holds everything needed to compose one trainer invocation.
type RunConfig struct {
	Mode   string // "new" or "resume"
	Resume string // logdir or checkpoint path when Mode == "resume"

	// Run identity
	Name    string
	Postfix string
	Project string
	LogDir  string

	// Wrapper-level selection
	Trainer     string
	Python      string
	TrainerRoot string
	Subject     string

	// Forwarded trainer flags
	BaseConfigs               []string
	Train                     bool
	NoTest                    bool
	ActualResume              string
	GPUs                      string
	DataRoot                  string
	Seed                      int
	MaxSteps                  int
	LR                        float64
	ScaleLR                   bool
	BatchSize                 int
	PlaceholderString         string
	InitWords                 string
	InitWordWeights           []float64
	BroadClass                int
	RandomizeClipSkipWeights  bool
	NumVectorsPerToken        int
	UseConvAttnKernelSize     int
	ClipLastLayersSkipWeights []float64
	ClsDeltaToken             string
	ComposPlaceholderPrefix   string
	Debug                     bool

	// Wrapper behavior
	DryRun          bool
	Timeout         int
	MaxParallelRuns int
	ExtraArgs       []string
}

// EnvFlagEnabled returns true when the environment variable exists and is not
// explicitly set to a falsey value ("0/false/no/off").
func EnvFlagEnabled(key string) bool {
	val, ok := os.LookupEnv(key)
	if !ok {
		return false
	}
	val = strings.TrimSpace(strings.ToLower(val))
	switch val {
	case "", "0", "false", "no", "off":
		return false
	default:
		return true
	}
}

func ParseBoolFlag(val string, defaultValue bool) bool {
	val = strings.TrimSpace(strings.ToLower(val))
	switch val {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return defaultValue
	}
}

// EnvFlagDefaultTrue returns true unless the env var is explicitly set to
// false/0/no/off.
func EnvFlagDefaultTrue(key string) bool {
	val, ok := os.LookupEnv(key)
	if !ok {
		return true
	}
	return ParseBoolFlag(val, true)
}

func ValidateSubjectName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("subject name is empty")
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '-', r == '_':
		default:
			return fmt.Errorf("subject name %q contains invalid character %q", name, r)
		}
	}
	return nil
}

// ParseGPUSpec parses the trainer's --gpus device list. A trailing comma is
// allowed ("0," means one device). An empty spec means CPU.
func ParseGPUSpec(spec string) ([]int, error) {
	spec = strings.TrimSpace(spec)
	spec = strings.TrimSuffix(spec, ",")
	if spec == "" {
		return nil, nil
	}
	parts := strings.Split(spec, ",")
	devices := make([]int, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			return nil, fmt.Errorf("gpu spec %q has an empty device entry", spec)
		}
		id, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("gpu spec %q: %q is not a device index", spec, part)
		}
		if id < 0 {
			return nil, fmt.Errorf("gpu spec %q: device index %d is negative", spec, id)
		}
		devices = append(devices, id)
	}
	return devices, nil
}

var validConvAttnKernelSizes = map[int]bool{-1: true, 1: true, 3: true, 5: true}

// Validate checks the hyperparameter surface before anything is spawned.
func (cfg *RunConfig) Validate() error {
	if cfg.Mode == "resume" {
		if strings.TrimSpace(cfg.Resume) == "" {
			return fmt.Errorf("resume mode requires a logdir or checkpoint path")
		}
		if strings.TrimSpace(cfg.Name) != "" {
			return fmt.Errorf("-n/--name and -r/--resume cannot both be specified")
		}
	}

	if _, err := ParseGPUSpec(cfg.GPUs); err != nil {
		return err
	}

	// Zero means "unset, keep the trainer default".
	if cfg.LR < 0 {
		return fmt.Errorf("--lr must not be negative, got %g", cfg.LR)
	}
	if cfg.MaxSteps < 0 {
		return fmt.Errorf("--max_steps must not be negative, got %d", cfg.MaxSteps)
	}
	if cfg.BatchSize < 0 {
		return fmt.Errorf("--bs must not be negative, got %d", cfg.BatchSize)
	}

	// -1 means "not set, let the trainer default apply".
	if cfg.BroadClass != -1 && (cfg.BroadClass < 0 || cfg.BroadClass > 2) {
		return fmt.Errorf("--broad_class must be 0 (object), 1 (human/animal) or 2 (cartoon), got %d", cfg.BroadClass)
	}

	if ph := strings.TrimSpace(cfg.PlaceholderString); ph != "" && strings.ContainsAny(ph, " \t\n") {
		return fmt.Errorf("--placeholder_string %q must be a single token", cfg.PlaceholderString)
	}

	if len(cfg.InitWordWeights) > 0 {
		words := strings.Fields(cfg.InitWords)
		if len(words) != len(cfg.InitWordWeights) {
			return fmt.Errorf("--init_word_weights has %d values but --init_words has %d words",
				len(cfg.InitWordWeights), len(words))
		}
		for _, w := range cfg.InitWordWeights {
			if w <= 0 {
				return fmt.Errorf("--init_word_weights must all be > 0, got %g", w)
			}
		}
	}

	for _, w := range cfg.ClipLastLayersSkipWeights {
		if w <= 0 {
			return fmt.Errorf("--clip_last_layers_skip_weights must all be > 0, got %g", w)
		}
	}

	if cfg.NumVectorsPerToken < 0 {
		return fmt.Errorf("--num_vectors_per_token must not be negative, got %d", cfg.NumVectorsPerToken)
	}

	if cfg.UseConvAttnKernelSize != 0 && !validConvAttnKernelSizes[cfg.UseConvAttnKernelSize] {
		return fmt.Errorf("--use_conv_attn_kernel_size must be one of -1, 1, 3, 5, got %d", cfg.UseConvAttnKernelSize)
	}

	if cfg.Subject != "" {
		if err := ValidateSubjectName(cfg.Subject); err != nil {
			return err
		}
	}

	// Sampling and evaluation read checkpoints, not training images.
	needsData := cfg.Trainer == "" || cfg.Trainer == "finetune"
	if needsData && !cfg.DryRun && cfg.Mode != "resume" {
		root := strings.TrimSpace(cfg.DataRoot)
		if root == "" {
			return fmt.Errorf("data_root required")
		}
		info, err := os.Stat(root)
		if err != nil {
			return fmt.Errorf("data_root %q: %w", root, err)
		}
		if !info.IsDir() {
			return fmt.Errorf("data_root %q is not a directory", root)
		}
	}

	return nil
}

const maxParallelRunsLimit = 100

// ResolveMaxParallelRuns reads TITRAIN_MAX_PARALLEL_RUNS. It returns 0 for
// "unlimited".
func ResolveMaxParallelRuns() int {
	raw := strings.TrimSpace(os.Getenv("TITRAIN_MAX_PARALLEL_RUNS"))
	if raw == "" {
		return 0
	}

	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return 0
	}
	if value > maxParallelRunsLimit {
		return maxParallelRunsLimit
	}
	return value
}
