package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/dailyclearing/digest-back/internal/domain"
)

// LoadPreferences reads default user preferences from a YAML file. Callers
// decide what an empty path means; here it is simply "no defaults".
func LoadPreferences(path string) (*domain.UserPreferences, error) {
	if path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read preferences file: %w", err)
	}

	var preferences domain.UserPreferences
	if err := yaml.Unmarshal(data, &preferences); err != nil {
		return nil, fmt.Errorf("parse preferences file: %w", err)
	}
	if len(preferences.EnabledTopics()) == 0 {
		return nil, fmt.Errorf("preferences file %s enables no topics", path)
	}
	return &preferences, nil
}
