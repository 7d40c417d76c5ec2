package trainer

import (
	"fmt"
	"strings"
)

var registry = map[string]Trainer{
	"finetune": FinetuneTrainer{},
	"sample":   SampleTrainer{},
	"eval":     EvalTrainer{},
}

// Registry exposes the available trainers. Intended for internal inspection/tests.
func Registry() map[string]Trainer {
	return registry
}

func Select(name string) (Trainer, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		key = "finetune"
	}
	if trainer, ok := registry[key]; ok {
		return trainer, nil
	}
	return nil, fmt.Errorf("unsupported trainer %q (known: finetune, sample, eval)", name)
}
