package wrapper

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	config "titrain-wrapper/internal/config"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type exitError struct {
	code int
}

func (e exitError) Error() string {
	return fmt.Sprintf("exit %d", e.code)
}

var (
	exitFn                 = os.Exit
	stdinReader  io.Reader = os.Stdin
	stderrWriter io.Writer = os.Stderr
)

type cliOptions struct {
	ConfigFile string
	Version    bool
	Cleanup    bool
	Batch      bool
	DryRun     bool

	Trainer     string
	Python      string
	TrainerRoot string
	Subject     string

	BaseConfigs               []string
	Train                     bool
	NoTest                    bool
	ActualResume              string
	GPUs                      string
	DataRoot                  string
	Name                      string
	Resume                    string
	Postfix                   string
	Project                   string
	LogDir                    string
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
}

func Main() {
	Run()
}

// Run is the program entrypoint for cmd/titrain/main.go.
func Run() {
	exitFn(run())
}

func run() int {
	cmd := newRootCommand()
	cmd.SetArgs(os.Args[1:])
	if err := cmd.Execute(); err != nil {
		var ee exitError
		if errors.As(err, &ee) {
			return ee.code
		}
		return 1
	}
	return 0
}

func newRootCommand() *cobra.Command {
	name := currentWrapperName()
	opts := &cliOptions{}

	cmd := &cobra.Command{
		Use:           fmt.Sprintf("%s [flags] [data_root] [-- extra trainer args]", name),
		Short:         "Go wrapper for textual-inversion fine-tuning runs",
		SilenceErrors: true,
		SilenceUsage:  true,
		Args:          cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Version {
				fmt.Printf("%s version %s\n", name, version)
				return nil
			}
			if opts.Cleanup {
				code := runCleanupMode()
				if code == 0 {
					return nil
				}
				return exitError{code: code}
			}

			exitCode := runWithLoggerAndCleanup(opts.Batch, func() int {
				v, err := config.NewViper(opts.ConfigFile)
				if err != nil {
					logError(err.Error())
					return 1
				}

				if opts.Batch {
					return runBatchMode(cmd, args, opts, v, name)
				}

				logInfo("Wrapper started")

				cfg, err := buildRunConfig(cmd, args, os.Args[1:], opts, v)
				if err != nil {
					logError(err.Error())
					fmt.Fprintf(stderrWriter, "ERROR: %v\n", err)
					return 1
				}
				logInfo(fmt.Sprintf("Parsed args: mode=%s, trainer=%s, data_root=%s, subject=%s",
					cfg.Mode, cfg.Trainer, cfg.DataRoot, cfg.Subject))
				return runSingleMode(cfg, name)
			})

			if exitCode == 0 {
				return nil
			}
			return exitError{code: exitCode}
		},
	}
	cmd.CompletionOptions.DisableDefaultCmd = true

	addRootFlags(cmd.Flags(), opts)
	cmd.AddCommand(newVersionCommand(name), newCleanupCommand(), newSubjectsCommand())

	return cmd
}

func addRootFlags(fs *pflag.FlagSet, opts *cliOptions) {
	fs.StringVar(&opts.ConfigFile, "config", "", "Config file path (default: $HOME/.titrain/config.*)")
	fs.BoolVarP(&opts.Version, "version", "v", false, "Print version and exit")
	fs.BoolVar(&opts.Cleanup, "cleanup", false, "Clean up old logs and exit")

	fs.BoolVar(&opts.Batch, "batch", false, "Run multiple trainings (run definitions from stdin)")
	fs.BoolVar(&opts.DryRun, "dry-run", false, "Print the trainer command without running it")

	fs.StringVar(&opts.Trainer, "trainer", "", "Trainer entrypoint (finetune, sample, eval)")
	fs.StringVar(&opts.Python, "python", "", "Python interpreter (default: python3)")
	fs.StringVar(&opts.TrainerRoot, "trainer-root", "", "Directory containing the trainer scripts")
	fs.StringVar(&opts.Subject, "subject", "", "Subject preset name (from ~/.titrain/subjects.json)")

	fs.StringArrayVar(&opts.BaseConfigs, "base", nil, "Base YAML config, repeatable, merged left-to-right")
	fs.BoolVarP(&opts.Train, "train", "t", false, "Enable training")
	fs.StringVar(&opts.ActualResume, "actual_resume", "", "Model checkpoint to initialize from")
	fs.StringVar(&opts.GPUs, "gpus", "0,", "GPU device list, trailing comma allowed")
	fs.StringVar(&opts.DataRoot, "data_root", "", "Directory with the subject's training images")
	fs.StringVarP(&opts.Name, "name", "n", "", "Run name (mutually exclusive with --resume)")
	fs.StringVarP(&opts.Resume, "resume", "r", "", "Resume from a run directory or checkpoint")
	fs.StringVarP(&opts.Postfix, "postfix", "f", "", "Postfix appended to the run name")
	fs.StringVarP(&opts.Project, "project", "p", "", "Project name for run grouping")
	fs.StringVarP(&opts.LogDir, "logdir", "l", "logs", "Parent directory for run directories")
	fs.BoolVar(&opts.NoTest, "no-test", false, "Skip the test pass after training")
	fs.IntVarP(&opts.Seed, "seed", "s", 23, "Random seed (-1 to leave unset)")
	fs.IntVar(&opts.MaxSteps, "max_steps", 0, "Stop after this many optimizer steps")
	fs.Float64Var(&opts.LR, "lr", 0, "Base learning rate override")
	fs.BoolVar(&opts.ScaleLR, "scale_lr", true, "Scale base LR by accumulate*ngpu*batch_size")
	fs.IntVar(&opts.BatchSize, "bs", 0, "Batch size override")
	fs.StringVar(&opts.PlaceholderString, "placeholder_string", "", "Placeholder token for the subject")
	fs.StringVar(&opts.InitWords, "init_words", "", "Words initializing the subject embedding")
	fs.Float64SliceVar(&opts.InitWordWeights, "init_word_weights", nil, "Per-word weights for --init_words")
	fs.IntVar(&opts.BroadClass, "broad_class", -1, "Subject class: 0 object, 1 human/animal, 2 cartoon")
	fs.BoolVar(&opts.RandomizeClipSkipWeights, "randomize_clip_skip_weights", false, "Randomize CLIP skip weights during training")
	fs.IntVar(&opts.NumVectorsPerToken, "num_vectors_per_token", 0, "Embedding vectors per placeholder token")
	fs.IntVar(&opts.UseConvAttnKernelSize, "use_conv_attn_kernel_size", 0, "Conv attention kernel size (-1, 1, 3 or 5)")
	fs.Float64SliceVar(&opts.ClipLastLayersSkipWeights, "clip_last_layers_skip_weights", nil, "Weights for the last CLIP layers")
	fs.StringVar(&opts.ClsDeltaToken, "cls_delta_token", "", "Class token for the delta loss")
	fs.StringVar(&opts.ComposPlaceholderPrefix, "compos_placeholder_prefix", "", "Prefix for compositional placeholder prompts")
	fs.BoolVarP(&opts.Debug, "debug", "d", false, "Forward debug mode to the trainer")
}

func newVersionCommand(name string) *cobra.Command {
	return &cobra.Command{
		Use:           "version",
		Short:         "Print version and exit",
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("%s version %s\n", name, version)
			return nil
		},
	}
}

func newCleanupCommand() *cobra.Command {
	return &cobra.Command{
		Use:           "cleanup",
		Short:         "Clean up old logs and exit",
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			code := runCleanupMode()
			if code == 0 {
				return nil
			}
			return exitError{code: code}
		},
	}
}

func runWithLoggerAndCleanup(batch bool, fn func() int) (exitCode int) {
	var logger *Logger
	var err error
	if batch {
		// Batch runs get their own log name so the file stays
		// distinguishable from a single run's.
		logger, err = NewLoggerWithSuffix("batch")
	} else {
		logger, err = NewLogger()
	}
	if err != nil {
		fmt.Fprintf(stderrWriter, "ERROR: failed to initialize logger: %v\n", err)
		return 1
	}
	setLogger(logger)

	defer func() {
		logger := activeLogger()
		if logger != nil {
			logger.Flush()
		}
		if err := closeLogger(); err != nil {
			fmt.Fprintf(stderrWriter, "ERROR: failed to close logger: %v\n", err)
		}
		if logger == nil {
			return
		}

		if exitCode != 0 {
			if entries := logger.ExtractRecentErrors(10); len(entries) > 0 {
				fmt.Fprintln(stderrWriter, "\n=== Recent Errors ===")
				for _, entry := range entries {
					fmt.Fprintln(stderrWriter, entry)
				}
				fmt.Fprintf(stderrWriter, "Log file: %s (deleted)\n", logger.Path())
			}
		}
		_ = logger.RemoveLogFile()
	}()

	// Clean up stale logs from previous runs.
	if startupCleanupEnabled() {
		scheduleStartupCleanup()
	}

	return fn()
}

// startupCleanupEnabled honors TITRAIN_STARTUP_CLEANUP. Unset means on.
func startupCleanupEnabled() bool {
	return config.EnvFlagDefaultTrue("TITRAIN_STARTUP_CLEANUP")
}

func scheduleStartupCleanup() {
	go func() {
		if _, err := cleanupOldLogs(); err != nil {
			logWarn("startup log cleanup: " + err.Error())
		}
	}()
}

// resolveTimeout reads TITRAIN_TIMEOUT (seconds). 0 means no deadline.
func resolveTimeout() int {
	raw := strings.TrimSpace(os.Getenv("TITRAIN_TIMEOUT"))
	if raw == "" {
		return 0
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		logWarn(fmt.Sprintf("Ignoring invalid TITRAIN_TIMEOUT=%q", raw))
		return 0
	}
	return value
}

// subjectPresetFields are the hyperparameters a subject preset can supply.
// When --subject appears after one of these on the command line, the preset
// wins; otherwise the explicit flag does.
var subjectPresetFields = []string{
	"placeholder_string", "init_words", "init_word_weights",
	"cls_delta_token", "broad_class", "data_root",
}

func buildRunConfig(cmd *cobra.Command, args []string, rawArgv []string, opts *cliOptions, v *viper.Viper) (*config.RunConfig, error) {
	flags := cmd.Flags()

	// Everything after -- is forwarded to the trainer verbatim. A bare
	// positional before it names the data root, same as --data_root.
	positional := args
	var extraArgs []string
	if dash := flags.ArgsLenAtDash(); dash >= 0 {
		positional = args[:dash]
		extraArgs = args[dash:]
	}
	if len(positional) > 1 {
		return nil, fmt.Errorf("unexpected positional arguments: %s", strings.Join(positional[1:], " "))
	}
	if len(positional) == 1 && flags.Changed("data_root") {
		return nil, fmt.Errorf("data root given both as --data_root and as a positional argument")
	}

	subjectName := ""
	if flags.Changed("subject") {
		subjectName = strings.TrimSpace(opts.Subject)
		if subjectName == "" {
			return nil, fmt.Errorf("--subject flag requires a value")
		}
	} else {
		subjectName = strings.TrimSpace(v.GetString("subject"))
	}
	if subjectName != "" {
		if err := config.ValidateSubjectName(subjectName); err != nil {
			return nil, fmt.Errorf("--subject flag invalid value: %w", err)
		}
	}

	getString := func(flagName, viperKey, flagVal string) string {
		if flags.Changed(flagName) {
			return strings.TrimSpace(flagVal)
		}
		if val := strings.TrimSpace(v.GetString(viperKey)); val != "" {
			return val
		}
		return strings.TrimSpace(flagVal)
	}
	getInt := func(flagName, viperKey string, flagVal int) int {
		if flags.Changed(flagName) {
			return flagVal
		}
		if v.IsSet(viperKey) {
			return v.GetInt(viperKey)
		}
		return flagVal
	}
	getBool := func(flagName, viperKey string, flagVal bool) bool {
		if flags.Changed(flagName) {
			return flagVal
		}
		if v.IsSet(viperKey) {
			return v.GetBool(viperKey)
		}
		return flagVal
	}

	cfg := &config.RunConfig{
		Trainer:     getString("trainer", "trainer", opts.Trainer),
		Python:      getString("python", "python", opts.Python),
		TrainerRoot: getString("trainer-root", "trainer-root", opts.TrainerRoot),
		Subject:     subjectName,

		BaseConfigs:  append([]string(nil), opts.BaseConfigs...),
		Train:        opts.Train,
		NoTest:       getBool("no-test", "no-test", opts.NoTest),
		ActualResume: getString("actual_resume", "actual_resume", opts.ActualResume),
		GPUs:         getString("gpus", "gpus", opts.GPUs),
		DataRoot:     getString("data_root", "data_root", opts.DataRoot),
		Name:         getString("name", "name", opts.Name),
		Resume:       strings.TrimSpace(opts.Resume),
		Postfix:      getString("postfix", "postfix", opts.Postfix),
		Project:      getString("project", "project", opts.Project),
		LogDir:       getString("logdir", "logdir", opts.LogDir),

		Seed:                      getInt("seed", "seed", opts.Seed),
		MaxSteps:                  getInt("max_steps", "max_steps", opts.MaxSteps),
		BatchSize:                 getInt("bs", "bs", opts.BatchSize),
		ScaleLR:                   getBool("scale_lr", "scale_lr", opts.ScaleLR),
		PlaceholderString:         getString("placeholder_string", "placeholder_string", opts.PlaceholderString),
		InitWords:                 getString("init_words", "init_words", opts.InitWords),
		InitWordWeights:           append([]float64(nil), opts.InitWordWeights...),
		BroadClass:                getInt("broad_class", "broad_class", opts.BroadClass),
		RandomizeClipSkipWeights:  getBool("randomize_clip_skip_weights", "randomize_clip_skip_weights", opts.RandomizeClipSkipWeights),
		NumVectorsPerToken:        getInt("num_vectors_per_token", "num_vectors_per_token", opts.NumVectorsPerToken),
		UseConvAttnKernelSize:     getInt("use_conv_attn_kernel_size", "use_conv_attn_kernel_size", opts.UseConvAttnKernelSize),
		ClipLastLayersSkipWeights: append([]float64(nil), opts.ClipLastLayersSkipWeights...),
		ClsDeltaToken:             getString("cls_delta_token", "cls_delta_token", opts.ClsDeltaToken),
		ComposPlaceholderPrefix:   getString("compos_placeholder_prefix", "compos_placeholder_prefix", opts.ComposPlaceholderPrefix),
		Debug:                     opts.Debug || config.EnvFlagEnabled("TITRAIN_DEBUG"),

		DryRun:          opts.DryRun,
		Timeout:         resolveTimeout(),
		MaxParallelRuns: config.ResolveMaxParallelRuns(),
		ExtraArgs:       append([]string(nil), extraArgs...),
	}

	if len(positional) == 1 {
		if root := strings.TrimSpace(positional[0]); root != "" {
			cfg.DataRoot = root
		}
	}

	if flags.Changed("lr") {
		cfg.LR = opts.LR
	} else if v.IsSet("lr") {
		cfg.LR = v.GetFloat64("lr")
	}

	if len(cfg.BaseConfigs) == 0 {
		cfg.BaseConfigs = v.GetStringSlice("base")
	}

	cfg.Mode = "new"
	if cfg.Resume != "" {
		cfg.Mode = "resume"
	}

	if subjectName != "" {
		applySubjectPreset(cfg, subjectName, flags, rawArgv)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applySubjectPreset fills preset-backed fields. An explicit flag beats the
// preset unless --subject appears later on the command line, mirroring how
// argument order resolves conflicts elsewhere.
func applySubjectPreset(cfg *config.RunConfig, subjectName string, flags *pflag.FlagSet, rawArgv []string) {
	preset := config.ResolveSubjectPreset(subjectName)
	subjectIdx := lastFlagIndex(rawArgv, "subject")

	presetWins := func(flagName string) bool {
		if !flags.Changed(flagName) {
			return true
		}
		return subjectIdx > lastFlagIndex(rawArgv, flagName)
	}

	if preset.Placeholder != "" && presetWins("placeholder_string") {
		cfg.PlaceholderString = preset.Placeholder
	}
	if preset.InitWords != "" && presetWins("init_words") {
		cfg.InitWords = preset.InitWords
	}
	if len(preset.InitWordWeights) > 0 && presetWins("init_word_weights") {
		cfg.InitWordWeights = append([]float64(nil), preset.InitWordWeights...)
	}
	if preset.ClsDeltaToken != "" && presetWins("cls_delta_token") {
		cfg.ClsDeltaToken = preset.ClsDeltaToken
	}
	if preset.BroadClass != nil && presetWins("broad_class") {
		cfg.BroadClass = *preset.BroadClass
	}
	if preset.DataRoot != "" && presetWins("data_root") && cfg.DataRoot == "" {
		cfg.DataRoot = preset.DataRoot
	}
	if cfg.Name == "" && cfg.Mode != "resume" {
		cfg.Name = subjectName
	}
}

func lastFlagIndex(argv []string, name string) int {
	if len(argv) == 0 {
		return -1
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return -1
	}

	needle := "--" + name
	prefix := needle + "="
	last := -1
	for i, arg := range argv {
		if arg == needle || strings.HasPrefix(arg, prefix) {
			last = i
		}
	}
	return last
}
