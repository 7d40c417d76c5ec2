package wrapper

import (
	"fmt"
	"os"
	"strings"
	"time"

	config "titrain-wrapper/internal/config"
	executor "titrain-wrapper/internal/executor"
	runfs "titrain-wrapper/internal/runfs"
)

func runSingleMode(cfg *config.RunConfig, name string) int {
	tr, err := selectTrainerFn(cfg.Trainer)
	if err != nil {
		logError(err.Error())
		fmt.Fprintf(stderrWriter, "ERROR: %v\n", err)
		return 1
	}
	logInfo(fmt.Sprintf("Selected trainer: %s (%s)", tr.Name(), tr.Script()))

	if cfg.Mode == "resume" {
		target, err := runfs.ResolveResume(cfg.Resume)
		if err != nil {
			logError(err.Error())
			fmt.Fprintf(stderrWriter, "ERROR: %v\n", err)
			return 1
		}
		// Saved snapshots come first so later --base entries still win.
		cfg.BaseConfigs = append(append([]string(nil), target.BaseConfigs...), cfg.BaseConfigs...)
		logInfo(fmt.Sprintf("Resuming run %s from %s (%d saved configs)",
			target.RunName, target.Checkpoint, len(target.BaseConfigs)))
	}

	args := tr.BuildArgs(cfg)
	logDebug("Trainer argv: " + strings.Join(args, " "))

	logger := activeLogger()
	if logger == nil {
		fmt.Fprintln(stderrWriter, "ERROR: logger is not initialized")
		return 1
	}

	python := strings.TrimSpace(cfg.Python)
	if python == "" {
		python = "python3"
	}

	fmt.Fprintf(stderrWriter, "[%s]\n", name)
	fmt.Fprintf(stderrWriter, "  Trainer: %s\n", tr.Name())
	fmt.Fprintf(stderrWriter, "  Command: %s %s %s\n", python, tr.Script(), strings.Join(args, " "))
	fmt.Fprintf(stderrWriter, "  PID: %d\n", os.Getpid())
	fmt.Fprintf(stderrWriter, "  Log: %s\n", logger.Path())

	var paths runfs.RunPaths
	newFinetune := tr.Name() == "finetune" && cfg.Mode != "resume"
	if newFinetune {
		paths = runfs.NewRunPaths(cfg.LogDir, cfg.Name, cfg.Postfix, cfg.DataRoot, cfg.BaseConfigs)
		fmt.Fprintf(stderrWriter, "  Run dir: %s\n", paths.LogDir)
		logInfo("Run directory: " + paths.LogDir)
		if !cfg.DryRun {
			if err := paths.MkdirAll(); err != nil {
				logError(err.Error())
				fmt.Fprintf(stderrWriter, "ERROR: %v\n", err)
				return 1
			}
		}
	}

	if len(cfg.BaseConfigs) > 0 {
		merged, err := runfs.MergeBaseConfigs(cfg.BaseConfigs)
		if err != nil {
			logWarn("Could not merge base configs: " + err.Error())
		} else {
			devices, gpuErr := config.ParseGPUSpec(cfg.GPUs)
			ngpu := len(devices)
			if gpuErr != nil || ngpu == 0 {
				ngpu = 1
			}
			report := runfs.ComputeLRReport(merged, cfg.LR, cfg.BatchSize, ngpu, cfg.ScaleLR)
			fmt.Fprintf(stderrWriter, "  %s\n", report.String())
			logInfo(report.String())

			if newFinetune && !cfg.DryRun {
				if _, err := runfs.WriteSnapshot(paths.CfgDir, paths.Timesig, merged); err != nil {
					logWarn("Could not write config snapshot: " + err.Error())
				}
			}
		}
	}

	if cfg.DryRun {
		fmt.Printf("%s %s %s\n", python, tr.Script(), strings.Join(args, " "))
		return 0
	}

	logInfo(fmt.Sprintf("%s running...", tr.Name()))

	bar := newTrainProgress(cfg.MaxSteps, tr.Name())
	result := executor.RunTraining(executor.RunSpec{
		Python:  python,
		Script:  tr.Script(),
		Args:    args,
		WorkDir: cfg.TrainerRoot,
		Timeout: time.Duration(cfg.Timeout) * time.Second,
		OnStep:  progressStepFn(bar),
	})
	finishProgress(bar)

	fmt.Fprintln(stderrWriter, executor.FormatRunSummary(result))
	if result.ExitCode != 0 {
		logError(fmt.Sprintf("Trainer failed: exit=%d err=%s", result.ExitCode, result.Error))
	}
	return result.ExitCode
}
