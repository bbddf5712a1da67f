// Package config loads YAML configuration files with environment variable
// expansion and watches them for changes.
package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Validator is an interface for configuration validation.
type Validator interface {
	Validate() error
}

// Load reads filename into target. See Decode.
func Load[T any](filename string, target *T) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", filename, err)
	}
	if err := Decode(data, target); err != nil {
		return fmt.Errorf("config: %s: %w", filename, err)
	}
	return nil
}

// Decode expands ${VAR} references in data, unmarshals it over target and
// validates the result when target implements Validator. Fields absent from
// data keep the values target already holds.
func Decode[T any](data []byte, target *T) error {
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), target); err != nil {
		return fmt.Errorf("parse: %w", err)
	}
	return validate(target)
}

// LoadOptional is Load for a file that may not exist. A missing file leaves
// target as is, validates it and reports found == false.
func LoadOptional[T any](filename string, target *T) (found bool, err error) {
	if _, err := os.Stat(filename); errors.Is(err, os.ErrNotExist) {
		if err := validate(target); err != nil {
			return false, fmt.Errorf("config: defaults: %w", err)
		}
		return false, nil
	}
	return true, Load(filename, target)
}

func validate(target any) error {
	if v, ok := target.(Validator); ok {
		if err := v.Validate(); err != nil {
			return fmt.Errorf("validation failed: %w", err)
		}
	}
	return nil
}
