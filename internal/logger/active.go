package logger

import "sync/atomic"

// The process-wide logger is swapped atomically so trainer goroutines can log
// while the wrapper tears the file down at exit.
var loggerPtr atomic.Pointer[Logger]

func SetLogger(l *Logger) {
	loggerPtr.Store(l)
}

// CloseLogger detaches the active logger and closes its file. Safe to call
// when no logger was ever installed.
func CloseLogger() error {
	l := loggerPtr.Swap(nil)
	if l == nil {
		return nil
	}
	return l.Close()
}

func ActiveLogger() *Logger {
	return loggerPtr.Load()
}

func LogDebug(msg string) {
	if l := ActiveLogger(); l != nil {
		l.Debug(msg)
	}
}

func LogInfo(msg string) {
	if l := ActiveLogger(); l != nil {
		l.Info(msg)
	}
}

func LogWarn(msg string) {
	if l := ActiveLogger(); l != nil {
		l.Warn(msg)
	}
}

func LogError(msg string) {
	if l := ActiveLogger(); l != nil {
		l.Error(msg)
	}
}
