package executor

import (
	"bytes"

	utils "titrain-wrapper/internal/utils"
)

const trainerLogLineLimit = 2048

// logWriter splits a stderr stream into lines, clips each to maxLen and
// forwards them to the wrapper log with a prefix. Training jobs can emit
// megabytes of progress output; only bounded lines reach the log file.
type logWriter struct {
	prefix  string
	maxLen  int
	buf     bytes.Buffer
	dropped bool
}

func newLogWriter(prefix string, maxLen int) *logWriter {
	if maxLen <= 0 {
		maxLen = trainerLogLineLimit
	}
	return &logWriter{prefix: prefix, maxLen: maxLen}
}

func (lw *logWriter) Write(p []byte) (int, error) {
	if lw == nil {
		return len(p), nil
	}
	total := len(p)
	for len(p) > 0 {
		idx := bytes.IndexByte(p, '\n')
		if idx < 0 {
			lw.accumulate(p)
			break
		}
		lw.accumulate(p[:idx])
		lw.emit(true)
		p = p[idx+1:]
	}
	return total, nil
}

// Flush logs whatever partial line is still buffered.
func (lw *logWriter) Flush() {
	if lw == nil || lw.buf.Len() == 0 {
		return
	}
	lw.emit(false)
}

func (lw *logWriter) emit(force bool) {
	line := lw.buf.String()
	overflowed := lw.dropped
	lw.dropped = false
	lw.buf.Reset()
	if line == "" && !force {
		return
	}
	logInfo(lw.prefix + clipLine(line, lw.maxLen, overflowed))
}

// clipLine bounds a line to maxLen bytes, marking the cut with "...".
func clipLine(line string, maxLen int, overflowed bool) string {
	if maxLen <= 0 || (!overflowed && len(line) <= maxLen) {
		return line
	}
	if maxLen <= 3 {
		return line[:min(len(line), maxLen)]
	}
	return utils.Truncate(line, maxLen-3)
}

// accumulate buffers up to maxLen bytes of the current line and records
// whether anything beyond that was discarded.
func (lw *logWriter) accumulate(p []byte) {
	if len(p) == 0 {
		return
	}
	if lw.maxLen <= 0 {
		lw.buf.Write(p)
		return
	}

	remaining := lw.maxLen - lw.buf.Len()
	if remaining <= 0 {
		lw.dropped = true
		return
	}
	if len(p) > remaining {
		p = p[:remaining]
		lw.dropped = true
	}
	lw.buf.Write(p)
}

// tailBuffer keeps the last limit bytes written to it. The stderr tail ends
// up in the failure report.
type tailBuffer struct {
	limit int
	data  []byte
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	if b.limit <= 0 {
		return len(p), nil
	}

	if len(p) >= b.limit {
		b.data = append(b.data[:0], p[len(p)-b.limit:]...)
		return len(p), nil
	}

	if overflow := len(b.data) + len(p) - b.limit; overflow > 0 {
		b.data = b.data[overflow:]
	}
	b.data = append(b.data, p...)
	return len(p), nil
}

func (b *tailBuffer) String() string {
	return string(b.data)
}
