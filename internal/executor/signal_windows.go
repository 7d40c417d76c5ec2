//go:build windows
// +build windows

package executor

// sendTermSignal falls back to Kill on Windows, which has no SIGTERM.
func sendTermSignal(proc processHandle) error {
	if proc == nil {
		return nil
	}
	return proc.Kill()
}
