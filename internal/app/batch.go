package wrapper

import (
	"context"
	"fmt"
	"io"
	"time"

	config "titrain-wrapper/internal/config"
	executor "titrain-wrapper/internal/executor"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func runBatchMode(cmd *cobra.Command, args []string, opts *cliOptions, v *viper.Viper, name string) int {
	if len(args) > 0 {
		fmt.Fprintln(stderrWriter, "ERROR: --batch reads its run definitions from stdin; no positional arguments are allowed.")
		fmt.Fprintln(stderrWriter, "Usage examples:")
		fmt.Fprintf(stderrWriter, "  %s --batch < runs.txt\n", name)
		fmt.Fprintf(stderrWriter, "  %s --batch <<'EOF'\n", name)
		return 1
	}
	if cmd.Flags().Changed("name") || cmd.Flags().Changed("resume") {
		fmt.Fprintln(stderrWriter, "ERROR: --batch names its runs in the stdin blocks; --name and --resume are not allowed.")
		return 1
	}

	data, err := io.ReadAll(stdinReader)
	if err != nil {
		fmt.Fprintf(stderrWriter, "ERROR: failed to read stdin: %v\n", err)
		return 1
	}

	batch, err := executor.ParseBatchConfig(data)
	if err != nil {
		fmt.Fprintf(stderrWriter, "ERROR: %v\n", err)
		return 1
	}

	// Shared defaults for every run; per-block metadata overrides them.
	base, err := buildBatchBaseConfig(cmd, opts, v)
	if err != nil {
		logError(err.Error())
		fmt.Fprintf(stderrWriter, "ERROR: %v\n", err)
		return 1
	}

	maxParallel := base.MaxParallelRuns
	logInfo(fmt.Sprintf("Batch mode: %d run(s), max parallel %d", len(batch.Runs), maxParallel))

	launch := func(ctx context.Context, run executor.BatchRun) executor.RunResult {
		cfg, err := batchRunConfig(base, run)
		if err != nil {
			logError(fmt.Sprintf("run %q: %v", run.ID, err))
			return executor.RunResult{RunID: run.ID, ExitCode: 1, Error: err.Error()}
		}

		tr, err := selectTrainerFn(cfg.Trainer)
		if err != nil {
			logError(fmt.Sprintf("run %q: %v", run.ID, err))
			return executor.RunResult{RunID: run.ID, ExitCode: 1, Error: err.Error()}
		}

		python := cfg.Python
		if python == "" {
			python = "python3"
		}

		return executor.RunTraining(executor.RunSpec{
			ID:      run.ID,
			Python:  python,
			Script:  tr.Script(),
			Args:    tr.BuildArgs(cfg),
			WorkDir: cfg.TrainerRoot,
			Timeout: time.Duration(cfg.Timeout) * time.Second,
			Context: ctx,
		})
	}

	report, err := executor.ExecuteBatch(context.Background(), batch, maxParallel, launch)
	if err != nil {
		fmt.Fprintf(stderrWriter, "ERROR: %v\n", err)
		return 1
	}

	fmt.Print(executor.FormatBatchReport(report))
	return report.ExitCode
}

// buildBatchBaseConfig resolves the shared flag/config-file surface without
// the single-run requirements (no data_root check, no name/resume).
func buildBatchBaseConfig(cmd *cobra.Command, opts *cliOptions, v *viper.Viper) (*config.RunConfig, error) {
	clone := *opts
	clone.DryRun = true // skip single-run filesystem validation
	cfg, err := buildRunConfig(cmd, nil, nil, &clone, v)
	if err != nil {
		return nil, err
	}
	cfg.DryRun = opts.DryRun
	return cfg, nil
}

func batchRunConfig(base *config.RunConfig, run executor.BatchRun) (*config.RunConfig, error) {
	cfg := *base
	cfg.BaseConfigs = append([]string(nil), base.BaseConfigs...)
	cfg.InitWordWeights = append([]float64(nil), base.InitWordWeights...)
	cfg.ClipLastLayersSkipWeights = append([]float64(nil), base.ClipLastLayersSkipWeights...)
	cfg.ExtraArgs = append(append([]string(nil), base.ExtraArgs...), run.ExtraArgs...)

	cfg.Mode = "new"
	cfg.Name = run.Name
	if cfg.Name == "" {
		cfg.Name = run.ID
	}
	if run.Trainer != "" {
		cfg.Trainer = run.Trainer
	}
	if run.DataRoot != "" {
		cfg.DataRoot = run.DataRoot
	}
	if run.GPUs != "" {
		cfg.GPUs = run.GPUs
	}
	if run.MaxSteps > 0 {
		cfg.MaxSteps = run.MaxSteps
	}
	if run.LR > 0 {
		cfg.LR = run.LR
	}
	if run.Subject != "" {
		if err := config.ValidateSubjectName(run.Subject); err != nil {
			return nil, err
		}
		cfg.Subject = run.Subject
		preset := config.ResolveSubjectPreset(run.Subject)
		if preset.Placeholder != "" {
			cfg.PlaceholderString = preset.Placeholder
		}
		if preset.InitWords != "" {
			cfg.InitWords = preset.InitWords
		}
		if len(preset.InitWordWeights) > 0 {
			cfg.InitWordWeights = append([]float64(nil), preset.InitWordWeights...)
		}
		if preset.ClsDeltaToken != "" {
			cfg.ClsDeltaToken = preset.ClsDeltaToken
		}
		if preset.BroadClass != nil {
			cfg.BroadClass = *preset.BroadClass
		}
		if cfg.DataRoot == "" && preset.DataRoot != "" {
			cfg.DataRoot = preset.DataRoot
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
