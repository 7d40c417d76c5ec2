package runfs

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// TimesigFormat is the timestamp layout embedded in run directory names and
// config snapshots. It stays filesystem-safe on every platform.
const TimesigFormat = "2006-01-02T15-04-05"

var nowFn = time.Now

// Timesig returns the time signature for a run started now.
func Timesig() string {
	return nowFn().Format(TimesigFormat)
}

// RunPaths describes the on-disk layout of one training run.
type RunPaths struct {
	Name    string // final run name, e.g. "cat-statue2026-08-24T10-30-00_mycat"
	LogDir  string // <logdir>/<name>
	CkptDir string // <logdir>/<name>/checkpoints
	CfgDir  string // <logdir>/<name>/configs
	Timesig string
}

// NewRunPaths composes the run name and directory layout for a fresh run.
// The data root basename leads the name so runs group by subject when the
// log directory is listed; a "*" in the basename (multi-subject globs)
// becomes "all".
func NewRunPaths(logRoot, name, postfix, dataRoot string, baseConfigs []string) RunPaths {
	timesig := Timesig()

	suffix := ""
	if name != "" {
		suffix = "_" + name
	} else if len(baseConfigs) > 0 {
		base := filepath.Base(baseConfigs[0])
		suffix = "_" + strings.TrimSuffix(base, filepath.Ext(base))
	}

	prefix := ""
	if dataRoot != "" {
		prefix = strings.ReplaceAll(filepath.Base(filepath.Clean(dataRoot)), "*", "all")
	}

	runName := prefix + timesig + suffix + postfix
	logDir := filepath.Join(logRoot, runName)
	return RunPaths{
		Name:    runName,
		LogDir:  logDir,
		CkptDir: filepath.Join(logDir, "checkpoints"),
		CfgDir:  filepath.Join(logDir, "configs"),
		Timesig: timesig,
	}
}

// MkdirAll creates the run directory tree.
func (p RunPaths) MkdirAll() error {
	for _, dir := range []string{p.LogDir, p.CkptDir, p.CfgDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create run directory %s: %w", dir, err)
		}
	}
	return nil
}

// ResumeTarget is the result of resolving a --resume argument.
type ResumeTarget struct {
	LogDir      string   // run directory of the interrupted run
	Checkpoint  string   // checkpoint file to resume from
	BaseConfigs []string // saved configs/*.yaml of the run, sorted
	RunName     string
}

// ResolveResume accepts either a checkpoint file inside a run directory or
// the run directory itself. A file resolves the run directory two path
// components up (<logdir>/checkpoints/<file>); a directory resumes from its
// checkpoints/last.ckpt. The run's saved config snapshots are returned so
// the caller can prepend them to the base config list.
func ResolveResume(resume string) (ResumeTarget, error) {
	resume = strings.TrimSpace(resume)
	if resume == "" {
		return ResumeTarget{}, fmt.Errorf("resume path is empty")
	}

	info, err := os.Stat(resume)
	if err != nil {
		return ResumeTarget{}, fmt.Errorf("cannot find resume target %s: %w", resume, err)
	}

	var target ResumeTarget
	if info.IsDir() {
		target.LogDir = strings.TrimRight(resume, "/")
		target.Checkpoint = filepath.Join(target.LogDir, "checkpoints", "last.ckpt")
	} else {
		target.Checkpoint = resume
		target.LogDir = filepath.Dir(filepath.Dir(resume))
	}
	target.RunName = filepath.Base(target.LogDir)

	configs, err := filepath.Glob(filepath.Join(target.LogDir, "configs", "*.yaml"))
	if err != nil {
		return ResumeTarget{}, fmt.Errorf("scan saved configs under %s: %w", target.LogDir, err)
	}
	sort.Strings(configs)
	target.BaseConfigs = configs

	return target, nil
}

// SetNowFuncForTest overrides the clock and returns a restore func.
func SetNowFuncForTest(fn func() time.Time) func() {
	old := nowFn
	nowFn = fn
	return func() { nowFn = old }
}
