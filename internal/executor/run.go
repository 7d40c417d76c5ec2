package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	parser "titrain-wrapper/internal/parser"
	utils "titrain-wrapper/internal/utils"
)

const stderrTailBytes = 4 * 1024

// forceKillDelay is the grace period in seconds between SIGTERM and SIGKILL.
var forceKillDelay atomic.Int32

func init() {
	forceKillDelay.Store(5)
}

type processHandle interface {
	Signal(sig os.Signal) error
	Kill() error
}

// commandRunner abstracts exec.Cmd so tests can fake the trainer process.
type commandRunner interface {
	Start() error
	Wait() error
	StdoutPipe() (io.ReadCloser, error)
	StderrPipe() (io.ReadCloser, error)
	SetDir(dir string)
	SetEnv(env []string)
	Process() processHandle
}

type realCmd struct {
	cmd *exec.Cmd
}

func (r *realCmd) Start() error { return r.cmd.Start() }
func (r *realCmd) Wait() error { return r.cmd.Wait() }
func (r *realCmd) StdoutPipe() (io.ReadCloser, error) { return r.cmd.StdoutPipe() }
func (r *realCmd) StderrPipe() (io.ReadCloser, error) { return r.cmd.StderrPipe() }
func (r *realCmd) SetDir(dir string) { r.cmd.Dir = dir }
func (r *realCmd) SetEnv(env []string) { r.cmd.Env = env }

func (r *realCmd) Process() processHandle {
	if r.cmd.Process == nil {
		return nil
	}
	return r.cmd.Process
}

var commandContext = exec.CommandContext

var newCommandRunner = func(ctx context.Context, name string, args ...string) commandRunner {
	cmd := commandContext(ctx, name, args...)
	// Let the watchdog terminate gracefully instead of the context's
	// immediate SIGKILL.
	cmd.Cancel = nil
	return &realCmd{cmd: cmd}
}

// RunTraining spawns one trainer process and blocks until it exits. Stdout
// is parsed for metrics, stderr goes to the wrapper log with its last 4 KiB
// retained for the report. On context cancellation or timeout the process
// gets SIGTERM, a grace period, then SIGKILL. The trainer's exit code is
// forwarded unchanged.
func RunTraining(spec RunSpec) (result RunResult) {
	result = RunResult{RunID: spec.ID, GlobalStep: -1}
	started := time.Now()
	defer func() { result.Duration = time.Since(started) }()

	ctx := spec.Context
	if ctx == nil {
		ctx = context.Background()
	}
	var cancel context.CancelFunc
	timedOut := &atomic.Bool{}
	if spec.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, spec.Timeout)
		defer cancel()
	}

	python := spec.Python
	if python == "" {
		python = "python3"
	}
	argv := append([]string{spec.Script}, spec.Args...)

	// The watchdog owns termination, so the exec context stays Background.
	cmd := newCommandRunner(context.Background(), python, argv...)
	if spec.WorkDir != "" {
		cmd.SetDir(spec.WorkDir)
	}
	if len(spec.Env) > 0 {
		cmd.SetEnv(append(os.Environ(), spec.Env...))
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		result.ExitCode = -1
		result.Error = fmt.Sprintf("stdout pipe: %v", err)
		return result
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		result.ExitCode = -1
		result.Error = fmt.Sprintf("stderr pipe: %v", err)
		return result
	}

	if err := cmd.Start(); err != nil {
		result.ExitCode = -1
		result.Error = fmt.Sprintf("start %s %s: %v", python, spec.Script, err)
		return result
	}
	logInfo(fmt.Sprintf("spawned trainer: %s %s (run=%s)", python, spec.Script, spec.ID))

	var wg sync.WaitGroup
	var parsed parser.TrainResult

	wg.Add(1)
	go func() {
		defer wg.Done()
		parsed = parser.ParseTrainStream(stdout, logWarn, logInfo, spec.OnStep)
	}()

	tail := &tailBuffer{limit: stderrTailBytes}
	stderrLog := newLogWriter("[trainer stderr] ", trainerLogLineLimit)
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = io.Copy(io.MultiWriter(stderrLog, tail), stderr)
		stderrLog.Flush()
	}()

	watchdogDone := make(chan struct{})
	go func() {
		select {
		case <-watchdogDone:
		case <-ctx.Done():
			timedOut.Store(errors.Is(ctx.Err(), context.DeadlineExceeded))
			terminateProcess(cmd.Process(), watchdogDone)
		}
	}()

	wg.Wait()
	waitErr := cmd.Wait()
	close(watchdogDone)

	result.FinalLoss = parsed.FinalLoss
	result.HasLoss = parsed.HasLoss
	result.GlobalStep = parsed.LastStep
	result.Checkpoint = parsed.CheckpointPath
	result.StderrTail = utils.SanitizeOutput(tail.String())

	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		} else {
			result.ExitCode = -1
		}
		switch {
		case timedOut.Load():
			result.Error = fmt.Sprintf("trainer timed out after %s", spec.Timeout)
		case ctx.Err() != nil:
			result.Error = "trainer canceled"
		default:
			result.Error = waitErr.Error()
		}
		logError(fmt.Sprintf("trainer exited: code=%d err=%s (run=%s)", result.ExitCode, result.Error, spec.ID))
		return result
	}

	logInfo(fmt.Sprintf("trainer finished: step=%d loss_reported=%t ckpt=%q (run=%s)",
		result.GlobalStep, result.HasLoss, result.Checkpoint, spec.ID))
	return result
}

// terminateProcess asks the trainer to stop and escalates to SIGKILL after
// the grace period. done short-circuits the wait when the process exits on
// its own.
func terminateProcess(proc processHandle, done <-chan struct{}) {
	if proc == nil {
		return
	}
	if err := sendTermSignal(proc); err != nil {
		logWarn("failed to signal trainer: " + err.Error())
	}

	delay := time.Duration(forceKillDelay.Load()) * time.Second
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-done:
	case <-timer.C:
		logWarn(fmt.Sprintf("trainer still alive %s after termination request, killing", delay))
		if err := proc.Kill(); err != nil {
			logWarn("failed to kill trainer: " + err.Error())
		}
	}
}
