package executor

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	utils "titrain-wrapper/internal/utils"
)

// extractErrorDetail pulls the most telling lines out of a trainer's stderr
// tail for the one-line report. Python tracebacks repeat "File ..." frames;
// only the exception line and surrounding context matter.
func extractErrorDetail(message string, maxLen int) string {
	if message == "" || maxLen <= 0 {
		return ""
	}

	lines := strings.Split(message, "\n")
	var errorLines []string

	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "File \"") && strings.Contains(line, "line ") {
			// traceback frame, the exception line below carries the signal
			continue
		}

		lower := strings.ToLower(line)
		if strings.Contains(lower, "error") ||
			strings.Contains(lower, "exception") ||
			strings.Contains(lower, "traceback") ||
			strings.Contains(lower, "assert") ||
			strings.Contains(lower, "out of memory") ||
			strings.Contains(lower, "cuda") ||
			strings.Contains(lower, "timeout") ||
			strings.Contains(lower, "not found") ||
			strings.Contains(lower, "cannot") {
			errorLines = append(errorLines, line)
		}
	}

	if len(errorLines) == 0 {
		start := len(lines) - 5
		if start < 0 {
			start = 0
		}
		for _, line := range lines[start:] {
			line = strings.TrimSpace(line)
			if line != "" {
				errorLines = append(errorLines, line)
			}
		}
	}

	result := strings.Join(errorLines, " | ")
	return utils.SafeTruncate(result, maxLen)
}

// FormatRunSummary renders one run's outcome as a single report line.
func FormatRunSummary(res RunResult) string {
	var sb strings.Builder
	id := res.RunID
	if id == "" {
		id = "run"
	}

	if res.Skipped {
		fmt.Fprintf(&sb, "%s: SKIPPED (%s)", id, res.Error)
		return sb.String()
	}

	status := "ok"
	if res.ExitCode != 0 {
		status = fmt.Sprintf("FAILED exit=%d", res.ExitCode)
	}
	fmt.Fprintf(&sb, "%s: %s", id, status)

	if res.GlobalStep >= 0 {
		fmt.Fprintf(&sb, " steps=%s", humanize.Comma(int64(res.GlobalStep+1)))
	}
	if res.HasLoss {
		fmt.Fprintf(&sb, " loss=%.4g", res.FinalLoss)
	}
	if res.Checkpoint != "" {
		fmt.Fprintf(&sb, " ckpt=%s", res.Checkpoint)
	}
	if res.Duration > 0 {
		fmt.Fprintf(&sb, " took=%s", res.Duration.Round(time.Second))
	}

	if res.ExitCode != 0 && res.Error != "" && !res.Skipped {
		if detail := extractErrorDetail(res.StderrTail, 160); detail != "" {
			fmt.Fprintf(&sb, " (%s)", detail)
		} else {
			fmt.Fprintf(&sb, " (%s)", res.Error)
		}
	}
	return sb.String()
}

// FormatBatchReport renders the whole batch outcome, one line per run.
func FormatBatchReport(report BatchReport) string {
	var sb strings.Builder
	passed := 0
	for _, res := range report.Results {
		if res.ExitCode == 0 {
			passed++
		}
	}
	fmt.Fprintf(&sb, "batch finished: %d/%d runs succeeded\n", passed, len(report.Results))
	for _, res := range report.Results {
		sb.WriteString("  " + FormatRunSummary(res) + "\n")
	}
	return sb.String()
}
