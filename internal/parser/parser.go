package parser

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"sync"

	"github.com/goccy/go-json"
)

const (
	lineReaderSize   = 64 * 1024
	lineMaxBytes     = 10 * 1024 * 1024
	linePreviewBytes = 256
)

type lineScratch struct {
	buf     []byte
	preview []byte
}

const maxPooledLineScratchCap = 1 << 20 // 1 MiB

var lineScratchPool = sync.Pool{
	New: func() any {
		return &lineScratch{
			buf:     make([]byte, 0, lineReaderSize),
			preview: make([]byte, 0, linePreviewBytes),
		}
	},
}

// Lightning's tqdm progress lines and the LR banner printed before the fit
// loop starts. The progress bar repaints with \r, so a single stdout line
// can hold many frames; the regexes match the latest frame's fields.
var (
	epochRe     = regexp.MustCompile(`Epoch (\d+)`)
	lossRe      = regexp.MustCompile(`\bloss=([0-9][0-9.eE+-]*)`)
	stepRe      = regexp.MustCompile(`\b(?:global_)?step=([0-9]+)`)
	lrBannerRe  = regexp.MustCompile(`Setting learning rate to ([0-9.eE+-]+)`)
	ckptSavedRe = regexp.MustCompile(`[Ss]av(?:ed|ing) (?:checkpoint|model)(?: to| at)? ['"]?([^'"\s]+\.ckpt)`)
)

// ParseTrainStream consumes the trainer's stdout line by line until EOF.
// JSONL metric events and plain lightning progress lines are both
// understood; anything else is passed through to infoFn untouched. onStep
// fires for every step advance and feeds the progress bar. Malformed lines
// are warned about and skipped.
func ParseTrainStream(r io.Reader, warnFn func(string), infoFn func(string), onStep func(step int, loss float64)) TrainResult {
	reader := bufio.NewReaderSize(r, lineReaderSize)
	scratch := lineScratchPool.Get().(*lineScratch)
	if scratch.buf == nil {
		scratch.buf = make([]byte, 0, lineReaderSize)
	} else {
		scratch.buf = scratch.buf[:0]
	}
	if scratch.preview == nil {
		scratch.preview = make([]byte, 0, linePreviewBytes)
	} else {
		scratch.preview = scratch.preview[:0]
	}
	defer func() {
		if cap(scratch.buf) > maxPooledLineScratchCap {
			scratch.buf = nil
		} else if scratch.buf != nil {
			scratch.buf = scratch.buf[:0]
		}
		if cap(scratch.preview) > linePreviewBytes*4 {
			scratch.preview = nil
		} else if scratch.preview != nil {
			scratch.preview = scratch.preview[:0]
		}
		lineScratchPool.Put(scratch)
	}()

	if warnFn == nil {
		warnFn = func(string) {}
	}
	if infoFn == nil {
		infoFn = func(string) {}
	}

	result := TrainResult{LastStep: -1}

	notifyStep := func(step int, loss float64) {
		if onStep != nil {
			onStep(step, loss)
		}
	}

	for {
		line, tooLong, err := readLineWithLimit(reader, lineMaxBytes, linePreviewBytes, scratch)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			warnFn("Read stdout error: " + err.Error())
			break
		}

		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}

		if tooLong {
			warnFn(fmt.Sprintf("Skipped overlong output line (> %d bytes): %s", lineMaxBytes, TruncateBytes(line, 100)))
			continue
		}

		if line[0] == '{' {
			parseMetricLine(line, &result, warnFn, infoFn, notifyStep)
			continue
		}

		parseTextLine(line, &result, infoFn, notifyStep)
	}

	infoFn(fmt.Sprintf("stdout stream done: events=%d, last_step=%d, has_loss=%t, ckpt=%q",
		result.Events, result.LastStep, result.HasLoss, result.CheckpointPath))
	return result
}

func parseMetricLine(line []byte, result *TrainResult, warnFn, infoFn func(string), notifyStep func(int, float64)) {
	event := TrainEvent{Step: -1}
	if err := json.Unmarshal(line, &event); err != nil {
		warnFn(fmt.Sprintf("Failed to parse metric event: %s", TruncateBytes(line, 100)))
		return
	}
	result.Events++

	if event.Step >= 0 && event.Step >= result.LastStep {
		result.LastStep = event.Step
		if event.Loss != 0 {
			result.FinalLoss = event.Loss
			result.HasLoss = true
		}
		notifyStep(event.Step, event.Loss)
	}
	if event.Epoch > result.LastEpoch {
		result.LastEpoch = event.Epoch
	}
	if event.LR > 0 {
		result.EffectiveLR = event.LR
	}
	if event.Ckpt != "" {
		result.CheckpointPath = event.Ckpt
		infoFn(fmt.Sprintf("checkpoint written: %s", event.Ckpt))
	}
}

func parseTextLine(line []byte, result *TrainResult, infoFn func(string), notifyStep func(int, float64)) {
	text := string(line)

	if m := lrBannerRe.FindStringSubmatch(text); m != nil {
		if lr, err := strconv.ParseFloat(m[1], 64); err == nil {
			result.EffectiveLR = lr
			infoFn(text)
			return
		}
	}

	if m := ckptSavedRe.FindStringSubmatch(text); m != nil {
		result.CheckpointPath = m[1]
		infoFn(text)
		return
	}

	epochMatch := epochRe.FindStringSubmatch(text)
	if epochMatch == nil {
		return
	}
	result.Events++
	if epoch, err := strconv.Atoi(epochMatch[1]); err == nil && epoch > result.LastEpoch {
		result.LastEpoch = epoch
	}

	// Progress repaints can pack several frames into one line; the last
	// match is the freshest.
	step := -1
	if steps := stepRe.FindAllStringSubmatch(text, -1); len(steps) > 0 {
		if v, err := strconv.Atoi(steps[len(steps)-1][1]); err == nil {
			step = v
		}
	}

	loss := 0.0
	hasLoss := false
	if losses := lossRe.FindAllStringSubmatch(text, -1); len(losses) > 0 {
		if v, err := strconv.ParseFloat(losses[len(losses)-1][1], 64); err == nil {
			loss = v
			hasLoss = true
		}
	}

	if hasLoss {
		result.FinalLoss = loss
		result.HasLoss = true
	}
	if step >= 0 && step >= result.LastStep {
		result.LastStep = step
		notifyStep(step, loss)
	}
}

func readLineWithLimit(r *bufio.Reader, maxBytes int, previewBytes int, scratch *lineScratch) (line []byte, tooLong bool, err error) {
	if r == nil {
		return nil, false, errors.New("reader is nil")
	}
	if maxBytes <= 0 {
		return nil, false, errors.New("maxBytes must be > 0")
	}
	if previewBytes < 0 {
		previewBytes = 0
	}

	part, isPrefix, err := r.ReadLine()
	if err != nil {
		return nil, false, err
	}

	if !isPrefix {
		if len(part) > maxBytes {
			return part[:min(len(part), previewBytes)], true, nil
		}
		return part, false, nil
	}

	if scratch == nil {
		scratch = &lineScratch{}
	}
	if scratch.preview == nil {
		scratch.preview = make([]byte, 0, min(previewBytes, len(part)))
	}
	if scratch.buf == nil {
		scratch.buf = make([]byte, 0, min(maxBytes, len(part)*2))
	}

	preview := scratch.preview[:0]
	if previewBytes > 0 {
		preview = append(preview, part[:min(previewBytes, len(part))]...)
	}

	buf := scratch.buf[:0]
	total := 0
	if len(part) > maxBytes {
		tooLong = true
	} else {
		buf = append(buf, part...)
		total = len(part)
	}

	for isPrefix {
		part, isPrefix, err = r.ReadLine()
		if err != nil {
			return nil, tooLong, err
		}

		if previewBytes > 0 && len(preview) < previewBytes {
			preview = append(preview, part[:min(previewBytes-len(preview), len(part))]...)
		}

		if !tooLong {
			if total+len(part) > maxBytes {
				tooLong = true
				continue
			}
			buf = append(buf, part...)
			total += len(part)
		}
	}

	if tooLong {
		scratch.preview = preview
		scratch.buf = buf
		return preview, true, nil
	}
	scratch.preview = preview
	scratch.buf = buf
	return buf, false, nil
}

func TruncateBytes(b []byte, maxLen int) string {
	if len(b) <= maxLen {
		return string(b)
	}
	if maxLen < 0 {
		return ""
	}
	return string(b[:maxLen]) + "..."
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
