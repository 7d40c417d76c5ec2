package executor

import (
	"context"
	"os/exec"
)

type CommandRunner = commandRunner
type ProcessHandle = processHandle

func SetForceKillDelay(seconds int32) (restore func()) {
	prev := forceKillDelay.Load()
	forceKillDelay.Store(seconds)
	return func() { forceKillDelay.Store(prev) }
}

func SetCommandContextFn(fn func(context.Context, string, ...string) *exec.Cmd) (restore func()) {
	prev := commandContext
	if fn != nil {
		commandContext = fn
	} else {
		commandContext = exec.CommandContext
	}
	return func() { commandContext = prev }
}

func SetNewCommandRunner(fn func(context.Context, string, ...string) CommandRunner) (restore func()) {
	prev := newCommandRunner
	if fn != nil {
		newCommandRunner = fn
	} else {
		newCommandRunner = func(ctx context.Context, name string, args ...string) commandRunner {
			cmd := commandContext(ctx, name, args...)
			cmd.Cancel = nil
			return &realCmd{cmd: cmd}
		}
	}
	return func() { newCommandRunner = prev }
}

func SetLogFuncsForTest(info, warn, errFn func(string)) (restore func()) {
	prevInfo, prevWarn, prevErr := logInfoFn, logWarnFn, logErrorFn
	if info != nil {
		logInfoFn = info
	}
	if warn != nil {
		logWarnFn = warn
	}
	if errFn != nil {
		logErrorFn = errFn
	}
	return func() {
		logInfoFn, logWarnFn, logErrorFn = prevInfo, prevWarn, prevErr
	}
}
