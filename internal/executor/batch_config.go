package executor

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

// ParseBatchConfig parses the stdin batch format: blocks separated by
// ---RUN---, each block holding metadata lines ("key: value") followed by a
// ---CONTENT--- separator and raw trainer arguments, one per line. Blank
// metadata lines are skipped. Run ids must be unique and non-empty.
func ParseBatchConfig(data []byte) (*BatchConfig, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("batch config is empty")
	}

	blocks := strings.Split(string(trimmed), "---RUN---")
	var cfg BatchConfig
	seen := make(map[string]struct{})

	blockIndex := 0
	for _, block := range blocks {
		block = strings.TrimSpace(block)
		if block == "" {
			continue
		}
		blockIndex++

		parts := strings.SplitN(block, "---CONTENT---", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("run block #%d missing ---CONTENT--- separator", blockIndex)
		}

		meta := strings.TrimSpace(parts[0])
		content := strings.TrimSpace(parts[1])

		var run BatchRun
		for _, line := range strings.Split(meta, "\n") {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			kv := strings.SplitN(line, ":", 2)
			if len(kv) != 2 {
				continue
			}
			key := strings.TrimSpace(kv[0])
			value := strings.TrimSpace(kv[1])

			switch key {
			case "id":
				run.ID = value
			case "trainer":
				run.Trainer = value
			case "name":
				run.Name = value
			case "data_root":
				run.DataRoot = value
			case "subject":
				run.Subject = value
			case "gpus":
				run.GPUs = value
			case "after":
				for _, dep := range strings.Split(value, ",") {
					dep = strings.TrimSpace(dep)
					if dep != "" {
						run.After = append(run.After, dep)
					}
				}
			case "max_steps":
				steps, err := strconv.Atoi(value)
				if err != nil || steps <= 0 {
					return nil, fmt.Errorf("run block #%d has invalid max_steps %q", blockIndex, value)
				}
				run.MaxSteps = steps
			case "lr":
				lr, err := strconv.ParseFloat(value, 64)
				if err != nil || lr <= 0 {
					return nil, fmt.Errorf("run block #%d has invalid lr %q", blockIndex, value)
				}
				run.LR = lr
			}
		}

		if run.ID == "" {
			return nil, fmt.Errorf("run block #%d missing id field", blockIndex)
		}
		if _, exists := seen[run.ID]; exists {
			return nil, fmt.Errorf("run block #%d has duplicate id: %s", blockIndex, run.ID)
		}

		if content != "" {
			for _, line := range strings.Split(content, "\n") {
				line = strings.TrimSpace(line)
				if line != "" {
					run.ExtraArgs = append(run.ExtraArgs, line)
				}
			}
		}

		cfg.Runs = append(cfg.Runs, run)
		seen[run.ID] = struct{}{}
	}

	if len(cfg.Runs) == 0 {
		return nil, fmt.Errorf("no runs found")
	}

	for _, run := range cfg.Runs {
		for _, dep := range run.After {
			if _, ok := seen[dep]; !ok {
				return nil, fmt.Errorf("run %q depends on unknown run %q", run.ID, dep)
			}
			if dep == run.ID {
				return nil, fmt.Errorf("run %q depends on itself", run.ID)
			}
		}
	}

	return &cfg, nil
}
