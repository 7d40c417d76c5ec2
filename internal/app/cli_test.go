package wrapper

import (
	"strings"
	"testing"

	config "titrain-wrapper/internal/config"
	executor "titrain-wrapper/internal/executor"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func isolateSubjects(t *testing.T) {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("USERPROFILE", home)
	t.Cleanup(config.ResetSubjectsConfigCacheForTest)
	config.ResetSubjectsConfigCacheForTest()
}

func parseTestConfig(t *testing.T, v *viper.Viper, argv ...string) (*config.RunConfig, error) {
	t.Helper()
	opts := &cliOptions{}
	cmd := &cobra.Command{SilenceErrors: true, SilenceUsage: true, Args: cobra.ArbitraryArgs}
	addRootFlags(cmd.Flags(), opts)
	if err := cmd.ParseFlags(argv); err != nil {
		t.Fatalf("ParseFlags(%v): %v", argv, err)
	}
	if v == nil {
		v = viper.New()
	}
	return buildRunConfig(cmd, cmd.Flags().Args(), argv, opts, v)
}

func TestBuildRunConfig_Defaults(t *testing.T) {
	isolateSubjects(t)

	cfg, err := parseTestConfig(t, nil, "--dry-run", "-t", "--base", "configs/v1-finetune-ada.yaml")
	if err != nil {
		t.Fatalf("buildRunConfig: %v", err)
	}
	if cfg.Mode != "new" {
		t.Errorf("Mode = %q, want new", cfg.Mode)
	}
	if !cfg.Train {
		t.Error("-t not picked up")
	}
	if cfg.GPUs != "0," {
		t.Errorf("GPUs = %q, want default 0,", cfg.GPUs)
	}
	if cfg.Seed != 23 {
		t.Errorf("Seed = %d, want default 23", cfg.Seed)
	}
	if !cfg.ScaleLR {
		t.Error("ScaleLR should default to true")
	}
	if cfg.LogDir != "logs" {
		t.Errorf("LogDir = %q, want logs", cfg.LogDir)
	}
	if len(cfg.BaseConfigs) != 1 || cfg.BaseConfigs[0] != "configs/v1-finetune-ada.yaml" {
		t.Errorf("BaseConfigs = %v", cfg.BaseConfigs)
	}
}

func TestBuildRunConfig_ResumeMode(t *testing.T) {
	isolateSubjects(t)

	cfg, err := parseTestConfig(t, nil, "--dry-run", "-r", "logs/cat2026_cat")
	if err != nil {
		t.Fatalf("buildRunConfig: %v", err)
	}
	if cfg.Mode != "resume" || cfg.Resume != "logs/cat2026_cat" {
		t.Errorf("Mode/Resume = %q/%q", cfg.Mode, cfg.Resume)
	}

	_, err = parseTestConfig(t, nil, "--dry-run", "-r", "logs/x", "-n", "y")
	if err == nil || !strings.Contains(err.Error(), "cannot both be specified") {
		t.Errorf("expected name/resume conflict error, got %v", err)
	}
}

func TestBuildRunConfig_SubjectPreset(t *testing.T) {
	isolateSubjects(t)

	cfg, err := parseTestConfig(t, nil, "--dry-run", "--subject", "person")
	if err != nil {
		t.Fatalf("buildRunConfig: %v", err)
	}
	if cfg.PlaceholderString != "z" {
		t.Errorf("PlaceholderString = %q, want z", cfg.PlaceholderString)
	}
	if cfg.InitWords != "person" {
		t.Errorf("InitWords = %q, want person", cfg.InitWords)
	}
	if cfg.BroadClass != 1 {
		t.Errorf("BroadClass = %d, want 1", cfg.BroadClass)
	}
	if cfg.ClsDeltaToken != "person" {
		t.Errorf("ClsDeltaToken = %q, want person", cfg.ClsDeltaToken)
	}
	if cfg.Name != "person" {
		t.Errorf("Name = %q, want subject fallback", cfg.Name)
	}
}

func TestBuildRunConfig_FlagAfterSubjectWins(t *testing.T) {
	isolateSubjects(t)

	cfg, err := parseTestConfig(t, nil, "--dry-run", "--subject", "person", "--broad_class", "2")
	if err != nil {
		t.Fatalf("buildRunConfig: %v", err)
	}
	if cfg.BroadClass != 2 {
		t.Errorf("BroadClass = %d, want explicit flag value 2", cfg.BroadClass)
	}

	cfg, err = parseTestConfig(t, nil, "--dry-run", "--broad_class", "2", "--subject", "person")
	if err != nil {
		t.Fatalf("buildRunConfig: %v", err)
	}
	if cfg.BroadClass != 1 {
		t.Errorf("BroadClass = %d, want preset value 1 (subject given last)", cfg.BroadClass)
	}
}

func TestBuildRunConfig_ViperFallback(t *testing.T) {
	isolateSubjects(t)

	v := viper.New()
	v.Set("gpus", "1,")
	v.Set("max_steps", 500)
	v.Set("trainer", "finetune")

	cfg, err := parseTestConfig(t, v, "--dry-run")
	if err != nil {
		t.Fatalf("buildRunConfig: %v", err)
	}
	if cfg.GPUs != "1," {
		t.Errorf("GPUs = %q, want viper value 1,", cfg.GPUs)
	}
	if cfg.MaxSteps != 500 {
		t.Errorf("MaxSteps = %d, want 500", cfg.MaxSteps)
	}
	if cfg.Trainer != "finetune" {
		t.Errorf("Trainer = %q", cfg.Trainer)
	}
}

func TestBuildRunConfig_FlagBeatsViper(t *testing.T) {
	isolateSubjects(t)

	v := viper.New()
	v.Set("gpus", "1,")

	cfg, err := parseTestConfig(t, v, "--dry-run", "--gpus", "2,3,")
	if err != nil {
		t.Fatalf("buildRunConfig: %v", err)
	}
	if cfg.GPUs != "2,3," {
		t.Errorf("GPUs = %q, want explicit flag to win", cfg.GPUs)
	}
}

func TestBuildRunConfig_ExtraArgsPassthrough(t *testing.T) {
	isolateSubjects(t)

	cfg, err := parseTestConfig(t, nil, "--dry-run", "--", "--embedding_manager_ckpt", "prev.pt")
	if err != nil {
		t.Fatalf("buildRunConfig: %v", err)
	}
	if len(cfg.ExtraArgs) != 2 || cfg.ExtraArgs[0] != "--embedding_manager_ckpt" {
		t.Errorf("ExtraArgs = %v", cfg.ExtraArgs)
	}
}

func TestBuildRunConfig_PositionalDataRoot(t *testing.T) {
	isolateSubjects(t)
	dir := t.TempDir()

	cfg, err := parseTestConfig(t, nil, "-t", dir)
	if err != nil {
		t.Fatalf("buildRunConfig: %v", err)
	}
	if cfg.DataRoot != dir {
		t.Errorf("DataRoot = %q, want positional %q", cfg.DataRoot, dir)
	}
	if len(cfg.ExtraArgs) != 0 {
		t.Errorf("ExtraArgs = %v, want none", cfg.ExtraArgs)
	}

	cfg, err = parseTestConfig(t, nil, dir, "--", "--scale", "10")
	if err != nil {
		t.Fatalf("buildRunConfig: %v", err)
	}
	if cfg.DataRoot != dir {
		t.Errorf("DataRoot = %q, want %q", cfg.DataRoot, dir)
	}
	if len(cfg.ExtraArgs) != 2 || cfg.ExtraArgs[0] != "--scale" {
		t.Errorf("ExtraArgs = %v, want the post-dash args only", cfg.ExtraArgs)
	}

	_, err = parseTestConfig(t, nil, "--dry-run", "--data_root", dir, dir)
	if err == nil || !strings.Contains(err.Error(), "both") {
		t.Errorf("expected flag/positional conflict error, got %v", err)
	}

	_, err = parseTestConfig(t, nil, "--dry-run", dir, "second")
	if err == nil || !strings.Contains(err.Error(), "unexpected positional") {
		t.Errorf("expected extra-positional error, got %v", err)
	}
}

func TestBuildRunConfig_DebugEnvToggle(t *testing.T) {
	isolateSubjects(t)

	t.Setenv("TITRAIN_DEBUG", "1")
	cfg, err := parseTestConfig(t, nil, "--dry-run")
	if err != nil {
		t.Fatalf("buildRunConfig: %v", err)
	}
	if !cfg.Debug {
		t.Error("TITRAIN_DEBUG=1 should enable debug mode")
	}

	t.Setenv("TITRAIN_DEBUG", "off")
	cfg, err = parseTestConfig(t, nil, "--dry-run")
	if err != nil {
		t.Fatalf("buildRunConfig: %v", err)
	}
	if cfg.Debug {
		t.Error("TITRAIN_DEBUG=off should not enable debug mode")
	}
}

func TestStartupCleanupEnabled(t *testing.T) {
	tests := []struct {
		value string
		want  bool
	}{
		{"", true},
		{"1", true},
		{"yes", true},
		{"0", false},
		{"false", false},
	}
	for _, tt := range tests {
		t.Setenv("TITRAIN_STARTUP_CLEANUP", tt.value)
		if got := startupCleanupEnabled(); got != tt.want {
			t.Errorf("startupCleanupEnabled() with %q = %t, want %t", tt.value, got, tt.want)
		}
	}
}

func TestBuildRunConfig_ValidationErrors(t *testing.T) {
	isolateSubjects(t)

	tests := []struct {
		name string
		argv []string
		want string
	}{
		{"bad gpus", []string{"--dry-run", "--gpus", "a,b"}, "not a device index"},
		{"bad broad_class", []string{"--dry-run", "--broad_class", "7"}, "--broad_class"},
		{"weights without words", []string{"--dry-run", "--init_word_weights", "1,2"}, "--init_word_weights"},
		{"bad kernel", []string{"--dry-run", "--use_conv_attn_kernel_size", "2"}, "--use_conv_attn_kernel_size"},
		{"missing data root", []string{"-t"}, "data_root"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseTestConfig(t, nil, tt.argv...)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %v, want substring %q", err, tt.want)
			}
		})
	}
}

func TestLastFlagIndex(t *testing.T) {
	argv := []string{"--subject", "person", "--broad_class", "2", "--subject=cat"}
	tests := []struct {
		name string
		want int
	}{
		{"subject", 4},
		{"broad_class", 2},
		{"missing", -1},
		{"", -1},
	}
	for _, tt := range tests {
		if got := lastFlagIndex(argv, tt.name); got != tt.want {
			t.Errorf("lastFlagIndex(%q) = %d, want %d", tt.name, got, tt.want)
		}
	}
	if got := lastFlagIndex(nil, "subject"); got != -1 {
		t.Errorf("lastFlagIndex(nil) = %d, want -1", got)
	}
}

func TestResolveTimeout(t *testing.T) {
	tests := []struct {
		value string
		want  int
	}{
		{"", 0},
		{"120", 120},
		{"0", 0},
		{"-5", 0},
		{"soon", 0},
	}
	for _, tt := range tests {
		t.Setenv("TITRAIN_TIMEOUT", tt.value)
		if got := resolveTimeout(); got != tt.want {
			t.Errorf("resolveTimeout() with %q = %d, want %d", tt.value, got, tt.want)
		}
	}
}

func TestBatchRunConfig_Overrides(t *testing.T) {
	isolateSubjects(t)

	base := &config.RunConfig{
		Mode:    "new",
		Trainer: "finetune",
		GPUs:    "0,",
		Seed:    23,
		ScaleLR: true,
		DryRun:  true,
	}

	run := executor.BatchRun{
		ID:        "cat",
		Trainer:   "eval",
		GPUs:      "1,",
		MaxSteps:  2000,
		LR:        0.001,
		ExtraArgs: []string{"--range", "1-5"},
	}

	cfg, err := batchRunConfig(base, run)
	if err != nil {
		t.Fatalf("batchRunConfig: %v", err)
	}
	if cfg.Trainer != "eval" || cfg.GPUs != "1," || cfg.MaxSteps != 2000 || cfg.LR != 0.001 {
		t.Errorf("overrides not applied: %+v", cfg)
	}
	if cfg.Name != "cat" {
		t.Errorf("Name = %q, want run id fallback", cfg.Name)
	}
	if len(cfg.ExtraArgs) != 2 {
		t.Errorf("ExtraArgs = %v", cfg.ExtraArgs)
	}
	if base.Trainer != "finetune" || base.GPUs != "0," {
		t.Errorf("base config mutated: %+v", base)
	}
}

func TestBatchRunConfig_SubjectPreset(t *testing.T) {
	isolateSubjects(t)

	base := &config.RunConfig{Mode: "new", GPUs: "0,", Seed: 23, ScaleLR: true, DryRun: true}
	cfg, err := batchRunConfig(base, executor.BatchRun{ID: "toy", Subject: "object"})
	if err != nil {
		t.Fatalf("batchRunConfig: %v", err)
	}
	if cfg.BroadClass != 0 || cfg.InitWords != "object" || cfg.PlaceholderString != "z" {
		t.Errorf("preset not applied: %+v", cfg)
	}

	if _, err := batchRunConfig(base, executor.BatchRun{ID: "bad", Subject: "no/slash"}); err == nil {
		t.Error("expected invalid subject name error")
	}
}
