package runfs

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// MergeBaseConfigs loads each YAML file and merges them left to right.
// Later files win on scalar conflicts; nested maps are merged key by key,
// everything else (lists included) is replaced wholesale. This mirrors how
// the trainer itself composes its --base list, so the snapshot the wrapper
// writes matches what the trainer will actually see.
func MergeBaseConfigs(paths []string) (map[string]any, error) {
	merged := map[string]any{}
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read base config %s: %w", path, err)
		}
		var doc map[string]any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parse base config %s: %w", path, err)
		}
		merged = mergeMaps(merged, doc)
	}
	return merged, nil
}

func mergeMaps(dst, src map[string]any) map[string]any {
	if dst == nil {
		dst = map[string]any{}
	}
	for key, val := range src {
		srcMap, srcIsMap := val.(map[string]any)
		dstMap, dstIsMap := dst[key].(map[string]any)
		if srcIsMap && dstIsMap {
			dst[key] = mergeMaps(dstMap, srcMap)
			continue
		}
		dst[key] = val
	}
	return dst
}

// WriteSnapshot saves the merged config into the run's configs directory as
// <timesig>-project.yaml. Resumed runs pick these snapshots up as base
// configs.
func WriteSnapshot(cfgDir, timesig string, merged map[string]any) (string, error) {
	data, err := yaml.Marshal(merged)
	if err != nil {
		return "", fmt.Errorf("marshal config snapshot: %w", err)
	}
	path := filepath.Join(cfgDir, timesig+"-project.yaml")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write config snapshot %s: %w", path, err)
	}
	return path, nil
}

// LRReport summarizes how the trainer will derive its learning rate from
// the merged config and command line.
type LRReport struct {
	BaseLR     float64
	BatchSize  int
	Accumulate int
	NGPU       int
	ScaleLR    bool
	Effective  float64
}

// ComputeLRReport reads batch_size, base_lr and accumulate_grad_batches out
// of the merged config and computes the effective learning rate the trainer
// will use. CLI overrides (lr > 0, batchSize > 0) take precedence over the
// config values. With scale_lr off the effective rate is base_lr unchanged.
func ComputeLRReport(merged map[string]any, lr float64, batchSize, ngpu int, scaleLR bool) LRReport {
	report := LRReport{
		BaseLR:     lookupFloat(merged, "model", "base_lr"),
		BatchSize:  int(lookupFloat(merged, "data", "params", "batch_size")),
		Accumulate: 1,
		NGPU:       ngpu,
		ScaleLR:    scaleLR,
	}
	if acc := lookupFloat(merged, "lightning", "trainer", "accumulate_grad_batches"); acc > 0 {
		report.Accumulate = int(acc)
	}
	if lr > 0 {
		report.BaseLR = lr
	}
	if batchSize > 0 {
		report.BatchSize = batchSize
	}
	if report.NGPU < 1 {
		report.NGPU = 1
	}

	if scaleLR {
		report.Effective = float64(report.Accumulate) * float64(report.NGPU) * float64(report.BatchSize) * report.BaseLR
	} else {
		report.Effective = report.BaseLR
	}
	return report
}

func (r LRReport) String() string {
	if !r.ScaleLR {
		return fmt.Sprintf("learning rate %.2e (scale_lr off)", r.Effective)
	}
	return fmt.Sprintf("learning rate %.2e = %d (accumulate_grad_batches) * %d (num_gpus) * %d (batch_size) * %.2e (base_lr)",
		r.Effective, r.Accumulate, r.NGPU, r.BatchSize, r.BaseLR)
}

// lookupFloat walks nested maps by key and coerces the leaf to float64.
// Missing keys or non-numeric leaves yield 0.
func lookupFloat(doc map[string]any, keys ...string) float64 {
	var cur any = doc
	for _, key := range keys {
		m, ok := cur.(map[string]any)
		if !ok {
			return 0
		}
		cur, ok = m[key]
		if !ok {
			return 0
		}
	}
	switch v := cur.(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return 0
	}
}
