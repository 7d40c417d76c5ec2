package executor

import (
	"context"
	"fmt"
	"sync"
)

// layerRuns groups runs into dependency layers via Kahn's algorithm: every
// run in layer N only depends on runs in layers < N. A cycle is an error
// naming one of the runs stuck in it.
func layerRuns(runs []BatchRun) ([][]int, error) {
	index := make(map[string]int, len(runs))
	for i, run := range runs {
		index[run.ID] = i
	}

	indegree := make([]int, len(runs))
	dependents := make([][]int, len(runs))
	for i, run := range runs {
		for _, dep := range run.After {
			j, ok := index[dep]
			if !ok {
				return nil, fmt.Errorf("run %q depends on unknown run %q", run.ID, dep)
			}
			indegree[i]++
			dependents[j] = append(dependents[j], i)
		}
	}

	var layers [][]int
	var current []int
	for i := range runs {
		if indegree[i] == 0 {
			current = append(current, i)
		}
	}

	placed := 0
	for len(current) > 0 {
		layers = append(layers, current)
		placed += len(current)

		var next []int
		for _, i := range current {
			for _, j := range dependents[i] {
				indegree[j]--
				if indegree[j] == 0 {
					next = append(next, j)
				}
			}
		}
		current = next
	}

	if placed != len(runs) {
		for i, deg := range indegree {
			if deg > 0 {
				return nil, fmt.Errorf("dependency cycle involving run %q", runs[i].ID)
			}
		}
	}
	return layers, nil
}

// LaunchFunc executes one batch run and reports its outcome.
type LaunchFunc func(ctx context.Context, run BatchRun) RunResult

// ExecuteBatch runs a parsed batch layer by layer. Within a layer runs
// execute concurrently, bounded by maxParallel (0 means unlimited). A
// failed run marks every transitive dependent skipped without launching
// it. The report's exit code is the last nonzero run exit code.
func ExecuteBatch(ctx context.Context, cfg *BatchConfig, maxParallel int, launch LaunchFunc) (BatchReport, error) {
	var report BatchReport
	if cfg == nil || len(cfg.Runs) == 0 {
		return report, fmt.Errorf("batch config has no runs")
	}

	layers, err := layerRuns(cfg.Runs)
	if err != nil {
		return report, err
	}

	results := make([]RunResult, len(cfg.Runs))
	failed := make([]bool, len(cfg.Runs))
	index := make(map[string]int, len(cfg.Runs))
	for i, run := range cfg.Runs {
		index[run.ID] = i
	}

	var sem chan struct{}
	if maxParallel > 0 {
		sem = make(chan struct{}, maxParallel)
	}

	for layerNum, layer := range layers {
		logInfo(fmt.Sprintf("starting layer %d/%d with %d run(s)", layerNum+1, len(layers), len(layer)))

		var wg sync.WaitGroup
		for _, i := range layer {
			run := cfg.Runs[i]

			blocked := ""
			for _, dep := range run.After {
				if failed[index[dep]] {
					blocked = dep
					break
				}
			}
			if blocked != "" {
				failed[i] = true
				results[i] = RunResult{
					RunID:    run.ID,
					ExitCode: -1,
					Skipped:  true,
					Error:    fmt.Sprintf("skipped: dependency %q failed", blocked),
				}
				logWarn(fmt.Sprintf("run %q skipped, dependency %q failed", run.ID, blocked))
				continue
			}

			wg.Add(1)
			go func(i int, run BatchRun) {
				defer wg.Done()
				if sem != nil {
					sem <- struct{}{}
					defer func() { <-sem }()
				}
				results[i] = launch(ctx, run)
				if results[i].ExitCode != 0 {
					failed[i] = true
				}
			}(i, run)
		}
		wg.Wait()
	}

	report.Results = results
	for _, res := range results {
		if res.ExitCode != 0 {
			report.ExitCode = res.ExitCode
		}
	}
	return report, nil
}
