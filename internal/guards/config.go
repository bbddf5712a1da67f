package guards

import (
	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Config toggles and tunes each guard. It maps onto the guards section of
// the application config.
type Config struct {
	Citation      CitationConfig  `yaml:"citation"`
	Authority     ThresholdConfig `yaml:"authority"`
	Confidence    ThresholdConfig `yaml:"confidence"`
	ContentLength LengthConfig    `yaml:"content_length"`
	Duplicate     ThresholdConfig `yaml:"duplicate"`
	Relevance     ThresholdConfig `yaml:"relevance"`
}

// CitationConfig configures the citation guard.
type CitationConfig struct {
	Enabled bool `yaml:"enabled"`
	Min     int  `yaml:"min"`
}

// ThresholdConfig configures a guard with a single [0,1] threshold.
type ThresholdConfig struct {
	Enabled   bool    `yaml:"enabled"`
	Threshold float64 `yaml:"threshold"`
}

// LengthConfig configures the content length guard, in characters.
type LengthConfig struct {
	Enabled bool `yaml:"enabled"`
	Min     int  `yaml:"min"`
	Max     int  `yaml:"max"`
}

// DefaultConfig enables every guard with its default threshold.
func DefaultConfig() Config {
	return Config{
		Citation:      CitationConfig{Enabled: true, Min: 1},
		Authority:     ThresholdConfig{Enabled: true, Threshold: 0.6},
		Confidence:    ThresholdConfig{Enabled: true, Threshold: 0.5},
		ContentLength: LengthConfig{Enabled: true, Min: 50, Max: 2000},
		Duplicate:     ThresholdConfig{Enabled: true, Threshold: 0.85},
		Relevance:     ThresholdConfig{Enabled: true, Threshold: 0.3},
	}
}

// Validate validates the guard configuration.
func (c *Config) Validate() error {
	if err := validation.ValidateStruct(&c.Citation,
		validation.Field(&c.Citation.Min, validation.Min(0)),
	); err != nil {
		return err
	}
	for _, t := range []*ThresholdConfig{&c.Authority, &c.Confidence, &c.Duplicate, &c.Relevance} {
		if err := t.Validate(); err != nil {
			return err
		}
	}
	return validation.ValidateStruct(&c.ContentLength,
		validation.Field(&c.ContentLength.Min, validation.Min(0)),
		validation.Field(&c.ContentLength.Max, validation.Min(c.ContentLength.Min)),
	)
}

// Validate checks that the threshold lies in [0,1].
func (c *ThresholdConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Threshold, validation.Min(0.0), validation.Max(1.0)),
	)
}
