package logger

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// CleanupStats summarizes one stale-log sweep.
type CleanupStats struct {
	Scanned      int
	Deleted      int
	Kept         int
	Errors       int
	DeletedFiles []string
	KeptFiles    []string
}

// Indirections for tests.
var (
	processRunningCheck = isProcessRunning
	processStartTimeFn  = getProcessStartTime
	removeLogFileFn     = os.Remove
	globLogFiles        = filepath.Glob
	fileStatFn          = os.Lstat
	evalSymlinksFn      = filepath.EvalSymlinks
)

// When a process start time cannot be determined, logs older than this are
// treated as orphans even if a process with the same PID is alive.
const pidReuseAgeThreshold = 7 * 24 * time.Hour

// parsePIDFromLog extracts the writer PID from a log file name of the form
// <prefix>-<pid>[-suffix].log.
func parsePIDFromLog(path string) (int, bool) {
	base := filepath.Base(path)
	if !strings.HasSuffix(base, ".log") {
		return 0, false
	}
	base = strings.TrimSuffix(base, ".log")

	for _, name := range LogPrefixes() {
		prefix := name + "-"
		if !strings.HasPrefix(base, prefix) {
			continue
		}
		rest := base[len(prefix):]
		if idx := strings.IndexByte(rest, '-'); idx >= 0 {
			rest = rest[:idx]
		}
		if rest == "" {
			return 0, false
		}

		pid, err := strconv.Atoi(rest)
		if err != nil || pid <= 0 {
			return 0, false
		}
		return pid, true
	}
	return 0, false
}

// isPIDReused guards against deleting (or keeping) a log based on a PID that
// has been recycled since the log was written.
func isPIDReused(path string, pid int) bool {
	info, err := fileStatFn(path)
	if err != nil {
		return false
	}

	start := processStartTimeFn(pid)
	if start.IsZero() {
		// Unknown start time: only distrust very old files.
		return time.Since(info.ModTime()) > pidReuseAgeThreshold
	}
	return start.After(info.ModTime())
}

// isUnsafeFile rejects deletion targets that are symlinks or resolve outside
// the temp dir.
func isUnsafeFile(path, tempDir string) (bool, string) {
	info, err := fileStatFn(path)
	if err != nil {
		return true, fmt.Sprintf("stat failed: %v", err)
	}
	if info.Mode()&os.ModeSymlink != 0 {
		return true, "refusing to delete symlink"
	}

	resolved, err := evalSymlinksFn(path)
	if err != nil {
		return true, fmt.Sprintf("resolve failed: %v", err)
	}
	resolvedDir, err := evalSymlinksFn(tempDir)
	if err != nil {
		resolvedDir = tempDir
	}

	rel, err := filepath.Rel(resolvedDir, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return true, "file is outside tempDir"
	}
	return false, ""
}

// cleanupOldLogs removes log files whose writing process is gone. It is
// conservative: live PIDs keep their logs unless the PID was clearly reused.
func cleanupOldLogs() (CleanupStats, error) {
	var stats CleanupStats

	tempDir := os.TempDir()
	var files []string
	for _, prefix := range LogPrefixes() {
		matches, err := globLogFiles(filepath.Join(tempDir, prefix+"-*.log"))
		if err != nil {
			return stats, err
		}
		files = append(files, matches...)
	}

	var errs []error
	for _, path := range files {
		stats.Scanned++

		pid, ok := parsePIDFromLog(path)
		if !ok {
			stats.Kept++
			stats.KeptFiles = append(stats.KeptFiles, path)
			continue
		}

		if processRunningCheck(pid) && !isPIDReused(path, pid) {
			stats.Kept++
			stats.KeptFiles = append(stats.KeptFiles, path)
			continue
		}

		if unsafe, reason := isUnsafeFile(path, tempDir); unsafe {
			stats.Errors++
			errs = append(errs, fmt.Errorf("%s: %s", path, reason))
			continue
		}

		if err := removeLogFileFn(path); err != nil {
			stats.Errors++
			errs = append(errs, fmt.Errorf("remove %s: %w", path, err))
			continue
		}
		stats.Deleted++
		stats.DeletedFiles = append(stats.DeletedFiles, path)
	}

	return stats, errors.Join(errs...)
}

func CleanupOldLogs() (CleanupStats, error) { return cleanupOldLogs() }
