package wrapper

import (
	"fmt"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"
)

// newTrainProgress builds the stderr progress bar for one run. With an
// unknown step budget the bar degrades to a spinner.
func newTrainProgress(maxSteps int, description string) *progressbar.ProgressBar {
	total := int64(maxSteps)
	if total <= 0 {
		total = -1
	}
	return progressbar.NewOptions64(total,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
		progressbar.OptionSetElapsedTime(true),
		progressbar.OptionThrottle(200*time.Millisecond),
		progressbar.OptionOnCompletion(func() { fmt.Fprintln(os.Stderr) }),
	)
}

// progressStepFn adapts a bar to the executor's step callback.
func progressStepFn(bar *progressbar.ProgressBar) func(step int, loss float64) {
	if bar == nil {
		return nil
	}
	return func(step int, loss float64) {
		_ = bar.Set(step + 1)
		if loss > 0 {
			bar.Describe(fmt.Sprintf("loss=%.4g", loss))
		}
	}
}

func finishProgress(bar *progressbar.ProgressBar) {
	if bar == nil {
		return
	}
	_ = bar.Finish()
}
