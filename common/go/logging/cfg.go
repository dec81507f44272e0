package logging

import (
	"fmt"

	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// Encoding selects the log line format.
type Encoding string

const (
	// EncodingConsole writes human-readable lines, colored on a terminal.
	EncodingConsole Encoding = "console"
	// EncodingJSON writes one JSON object per line.
	EncodingJSON Encoding = "json"
)

// Config is the configuration for the logging subsystem.
type Config config

type config struct {
	// Level is the logging level.
	Level zapcore.Level `yaml:"level"`
	// Encoding is either "console" or "json".
	Encoding Encoding `yaml:"encoding"`
	// Output is the list of sinks, "stderr" by default.
	Output []string `yaml:"output"`
}

// DefaultConfig returns the default logging configuration.
func DefaultConfig() *Config {
	return &Config{
		Level:    zapcore.InfoLevel,
		Encoding: EncodingConsole,
		Output:   []string{"stderr"},
	}
}

// UnmarshalYAML decodes the configuration over the current values and
// validates the result.
func (m *Config) UnmarshalYAML(value *yaml.Node) error {
	if err := value.Decode((*config)(m)); err != nil {
		return err
	}

	switch m.Encoding {
	case EncodingConsole, EncodingJSON:
	default:
		return fmt.Errorf("unknown log encoding %q", m.Encoding)
	}
	if len(m.Output) == 0 {
		return fmt.Errorf("at least one log output is required")
	}

	return nil
}
