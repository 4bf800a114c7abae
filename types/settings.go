package types

import (
	"fmt"
	"os"
	"regexp"

	"github.com/ethereum/go-ethereum/log"
	"gopkg.in/yaml.v3"
)

const (
	DefaultEngineID          = "testng"
	DefaultEngineDisplayName = "TestNG"
)

// EngineSettings names the engine root node
type EngineSettings struct {
	ID          string `yaml:"id"`
	DisplayName string `yaml:"display_name"`
}

// ClassFilterSettings selects which classes become nodes
type ClassFilterSettings struct {
	Include []string `yaml:"include,omitempty"`
	Exclude []string `yaml:"exclude,omitempty"`
}

// Settings is the optional bridge settings file
type Settings struct {
	Engine  EngineSettings      `yaml:"engine"`
	Classes ClassFilterSettings `yaml:"classes"`
	Policy  Policy              `yaml:"policy,omitempty"`
}

// DefaultSettings returns settings used when no file is given
func DefaultSettings() *Settings {
	return &Settings{
		Engine: EngineSettings{
			ID:          DefaultEngineID,
			DisplayName: DefaultEngineDisplayName,
		},
		Policy: DefaultPolicy(),
	}
}

// LoadSettings reads a YAML settings file, filling unset fields with defaults
func LoadSettings(path string) (*Settings, error) {
	log.Debug("Reading bridge settings file", "path", path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading settings file: %w", err)
	}

	settings := DefaultSettings()
	if err := yaml.Unmarshal(data, settings); err != nil {
		return nil, fmt.Errorf("parsing settings file: %w", err)
	}
	if settings.Engine.ID == "" {
		settings.Engine.ID = DefaultEngineID
	}
	if settings.Engine.DisplayName == "" {
		settings.Engine.DisplayName = settings.Engine.ID
	}
	if err := settings.Policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid policy: %w", err)
	}
	if _, err := settings.ClassFilter(); err != nil {
		return nil, err
	}
	return settings, nil
}

// ClassFilter compiles the include and exclude patterns into a predicate.
// With no include patterns every class not excluded passes.
func (s *Settings) ClassFilter() (func(className string) bool, error) {
	include, err := compileAll(s.Classes.Include)
	if err != nil {
		return nil, fmt.Errorf("invalid include pattern: %w", err)
	}
	exclude, err := compileAll(s.Classes.Exclude)
	if err != nil {
		return nil, fmt.Errorf("invalid exclude pattern: %w", err)
	}
	return func(className string) bool {
		for _, re := range exclude {
			if re.MatchString(className) {
				return false
			}
		}
		if len(include) == 0 {
			return true
		}
		for _, re := range include {
			if re.MatchString(className) {
				return true
			}
		}
		return false
	}, nil
}

func compileAll(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("%q: %w", p, err)
		}
		out = append(out, re)
	}
	return out, nil
}
