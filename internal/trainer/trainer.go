package trainer

import config "titrain-wrapper/internal/config"

// Trainer defines the contract for invoking the different entrypoints of the
// external training codebase. Each trainer supplies the script to execute and
// builds the argument list from the wrapper config.
type Trainer interface {
	Name() string
	Script() string
	BuildArgs(cfg *config.RunConfig) []string
}

var (
	logWarnFn  = func(string) {}
	logErrorFn = func(string) {}
)

// SetLogFuncs configures optional logging hooks used by some trainers.
// Callers can safely pass nil to disable the hook.
func SetLogFuncs(warnFn, errorFn func(string)) {
	if warnFn != nil {
		logWarnFn = warnFn
	} else {
		logWarnFn = func(string) {}
	}
	if errorFn != nil {
		logErrorFn = errorFn
	} else {
		logErrorFn = func(string) {}
	}
}
