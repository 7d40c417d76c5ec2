package logger

import (
	"os"
	"path/filepath"
	"time"
)

// Test seams for the cleanup path. Each setter installs a replacement and
// returns a restore func; passing nil reinstalls the production default.

func SetProcessRunningCheck(fn func(int) bool) (restore func()) {
	prev := processRunningCheck
	processRunningCheck = fn
	if fn == nil {
		processRunningCheck = isProcessRunning
	}
	return func() { processRunningCheck = prev }
}

func SetProcessStartTimeFn(fn func(int) time.Time) (restore func()) {
	prev := processStartTimeFn
	processStartTimeFn = fn
	if fn == nil {
		processStartTimeFn = getProcessStartTime
	}
	return func() { processStartTimeFn = prev }
}

func SetRemoveLogFileFn(fn func(string) error) (restore func()) {
	prev := removeLogFileFn
	removeLogFileFn = fn
	if fn == nil {
		removeLogFileFn = os.Remove
	}
	return func() { removeLogFileFn = prev }
}

func SetGlobLogFilesFn(fn func(string) ([]string, error)) (restore func()) {
	prev := globLogFiles
	globLogFiles = fn
	if fn == nil {
		globLogFiles = filepath.Glob
	}
	return func() { globLogFiles = prev }
}

func SetFileStatFn(fn func(string) (os.FileInfo, error)) (restore func()) {
	prev := fileStatFn
	fileStatFn = fn
	if fn == nil {
		fileStatFn = os.Lstat
	}
	return func() { fileStatFn = prev }
}

func SetEvalSymlinksFn(fn func(string) (string, error)) (restore func()) {
	prev := evalSymlinksFn
	evalSymlinksFn = fn
	if fn == nil {
		evalSymlinksFn = filepath.EvalSymlinks
	}
	return func() { evalSymlinksFn = prev }
}
