package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	ilogger "titrain-wrapper/internal/logger"

	"github.com/goccy/go-json"
)

// SubjectPreset pins the personalization hyperparameters for one subject so
// runs are reproducible without retyping the token setup every time.
type SubjectPreset struct {
	Placeholder     string    `json:"placeholder"`
	InitWords       string    `json:"init_words"`
	InitWordWeights []float64 `json:"init_word_weights,omitempty"`
	ClsDeltaToken   string    `json:"cls_delta_token,omitempty"`
	BroadClass      *int      `json:"broad_class,omitempty"`
	DataRoot        string    `json:"data_root,omitempty"`
	Description     string    `json:"description,omitempty"`
}

type SubjectsConfig struct {
	DefaultPlaceholder string                   `json:"default_placeholder"`
	DefaultClsDelta    string                   `json:"default_cls_delta_token"`
	Subjects           map[string]SubjectPreset `json:"subjects"`
}

func intPtr(v int) *int { return &v }

// Built-in presets cover the three broad classes the trainer distinguishes
// (0: object, 1: human/animal, 2: cartoon).
var defaultSubjectsConfig = SubjectsConfig{
	DefaultPlaceholder: "z",
	DefaultClsDelta:    "person",
	Subjects: map[string]SubjectPreset{
		"object":  {Placeholder: "z", InitWords: "object", ClsDeltaToken: "object", BroadClass: intPtr(0), Description: "Generic object"},
		"person":  {Placeholder: "z", InitWords: "person", ClsDeltaToken: "person", BroadClass: intPtr(1), Description: "Human or animal subject"},
		"cartoon": {Placeholder: "z", InitWords: "cartoon", ClsDeltaToken: "cartoon", BroadClass: intPtr(2), Description: "Cartoon character"},
	},
}

var (
	subjectsConfigOnce   sync.Once
	subjectsConfigCached *SubjectsConfig
)

func subjectsConfig() *SubjectsConfig {
	subjectsConfigOnce.Do(func() {
		subjectsConfigCached = loadSubjectsConfig()
	})
	if subjectsConfigCached == nil {
		return &defaultSubjectsConfig
	}
	return subjectsConfigCached
}

func loadSubjectsConfig() *SubjectsConfig {
	home, err := os.UserHomeDir()
	if err != nil {
		ilogger.LogWarn(fmt.Sprintf("Failed to resolve home directory for subjects config: %v; using defaults", err))
		return &defaultSubjectsConfig
	}

	configDir := filepath.Clean(filepath.Join(home, ".titrain"))
	configPath := filepath.Clean(filepath.Join(configDir, "subjects.json"))
	rel, err := filepath.Rel(configDir, configPath)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return &defaultSubjectsConfig
	}

	data, err := os.ReadFile(configPath) // #nosec G304 -- path is fixed under user home and validated to stay within configDir
	if err != nil {
		if !os.IsNotExist(err) {
			ilogger.LogWarn(fmt.Sprintf("Failed to read subjects config %s: %v; using defaults", configPath, err))
		}
		return &defaultSubjectsConfig
	}

	var cfg SubjectsConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		ilogger.LogWarn(fmt.Sprintf("Failed to parse subjects config %s: %v; using defaults", configPath, err))
		return &defaultSubjectsConfig
	}

	cfg.DefaultPlaceholder = strings.TrimSpace(cfg.DefaultPlaceholder)
	if cfg.DefaultPlaceholder == "" {
		cfg.DefaultPlaceholder = defaultSubjectsConfig.DefaultPlaceholder
	}
	cfg.DefaultClsDelta = strings.TrimSpace(cfg.DefaultClsDelta)
	if cfg.DefaultClsDelta == "" {
		cfg.DefaultClsDelta = defaultSubjectsConfig.DefaultClsDelta
	}

	// Merge with defaults
	for name, preset := range defaultSubjectsConfig.Subjects {
		if _, exists := cfg.Subjects[name]; !exists {
			if cfg.Subjects == nil {
				cfg.Subjects = make(map[string]SubjectPreset)
			}
			cfg.Subjects[name] = preset
		}
	}

	return &cfg
}

// LoadDynamicSubject resolves a preset for a subject that only has an image
// directory under ~/.titrain/subjects/<name> but no entry in subjects.json.
func LoadDynamicSubject(name string) (SubjectPreset, bool) {
	if err := ValidateSubjectName(name); err != nil {
		return SubjectPreset{}, false
	}

	home, err := os.UserHomeDir()
	if err != nil || strings.TrimSpace(home) == "" {
		return SubjectPreset{}, false
	}

	absPath := filepath.Join(home, ".titrain", "subjects", name)
	info, err := os.Stat(absPath)
	if err != nil || !info.IsDir() {
		return SubjectPreset{}, false
	}

	return SubjectPreset{DataRoot: absPath}, true
}

// ResolveSubjectPreset returns the preset for a named subject, falling back
// to a dynamic directory preset and finally to class defaults.
func ResolveSubjectPreset(name string) SubjectPreset {
	cfg := subjectsConfig()
	if preset, ok := cfg.Subjects[name]; ok {
		if strings.TrimSpace(preset.Placeholder) == "" {
			preset.Placeholder = cfg.DefaultPlaceholder
		}
		if strings.TrimSpace(preset.ClsDeltaToken) == "" {
			preset.ClsDeltaToken = cfg.DefaultClsDelta
		}
		return preset
	}

	if dynamic, ok := LoadDynamicSubject(name); ok {
		dynamic.Placeholder = cfg.DefaultPlaceholder
		dynamic.ClsDeltaToken = cfg.DefaultClsDelta
		return dynamic
	}

	return SubjectPreset{
		Placeholder:   cfg.DefaultPlaceholder,
		ClsDeltaToken: cfg.DefaultClsDelta,
	}
}

// SubjectPresetNames lists every configured preset name, built-ins included.
func SubjectPresetNames() []string {
	cfg := subjectsConfig()
	names := make([]string, 0, len(cfg.Subjects))
	for name := range cfg.Subjects {
		names = append(names, name)
	}
	return names
}

func ResetSubjectsConfigCacheForTest() {
	subjectsConfigCached = nil
	subjectsConfigOnce = sync.Once{}
}
