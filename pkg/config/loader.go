package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Environment variables that override the file.
const (
	EnvFarmBotURL      = "PONDSYNC_FARMBOT_URL"
	EnvFarmBotEmail    = "PONDSYNC_FARMBOT_EMAIL"
	EnvFarmBotPassword = "PONDSYNC_FARMBOT_PASSWORD"
	EnvListen          = "PONDSYNC_LISTEN"
	EnvJournalPath     = "PONDSYNC_JOURNAL_PATH"
	EnvSweepInterval   = "PONDSYNC_SWEEP_INTERVAL"
)

// ValidationError lists every problem found in a configuration.
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	return "invalid configuration: " + strings.Join(e.Issues, "; ")
}

// Loader reads configuration files.
type Loader struct {
	schema   *SchemaValidator
	validate *validator.Validate
	lookup   func(string) (string, bool)
}

// NewLoader creates a loader that reads overrides from the process
// environment.
func NewLoader() (*Loader, error) {
	schema, err := NewSchemaValidator()
	if err != nil {
		return nil, err
	}
	return &Loader{
		schema:   schema,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		lookup:   os.LookupEnv,
	}, nil
}

// WithEnv replaces the environment lookup. Used by tests.
func (l *Loader) WithEnv(lookup func(string) (string, bool)) *Loader {
	l.lookup = lookup
	return l
}

// Load reads path, applies environment overrides and validates the result.
// An empty path loads defaults plus environment.
func (l *Loader) Load(path string) (*Config, error) {
	var data []byte
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}
	cfg, err := l.Parse(data)
	if err != nil {
		if path != "" {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return nil, err
	}
	return cfg, nil
}

// Parse decodes a YAML document over the defaults, applies environment
// overrides and validates the result.
func (l *Loader) Parse(data []byte) (*Config, error) {
	cfg := Default()

	if len(bytes.TrimSpace(data)) > 0 {
		var raw map[string]any
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
		if err := l.schema.Validate(raw); err != nil {
			return nil, err
		}

		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil {
			return nil, fmt.Errorf("failed to decode config: %w", err)
		}
	}

	if err := l.applyEnv(cfg); err != nil {
		return nil, err
	}

	if err := l.Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks struct constraints and cross-field rules.
func (l *Loader) Validate(cfg *Config) error {
	var problems []string

	if err := l.validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("failed to validate config: %w", err)
		}
		for _, fe := range verrs {
			problems = append(problems, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
		}
	}

	if _, err := cfg.Naming(); err != nil {
		problems = append(problems, err.Error())
	}

	if err := cfg.Telemetry.Validate(); err != nil {
		problems = append(problems, err.Error())
	}

	if len(problems) > 0 {
		return &ValidationError{Issues: problems}
	}
	return nil
}

func (l *Loader) applyEnv(cfg *Config) error {
	if v, ok := l.lookup(EnvFarmBotURL); ok && v != "" {
		cfg.FarmBot.URL = v
	}
	if v, ok := l.lookup(EnvFarmBotEmail); ok && v != "" {
		cfg.FarmBot.Email = v
	}
	if v, ok := l.lookup(EnvFarmBotPassword); ok && v != "" {
		cfg.FarmBot.Password = v
	}
	if v, ok := l.lookup(EnvListen); ok && v != "" {
		cfg.Server.Listen = v
	}
	if v, ok := l.lookup(EnvJournalPath); ok && v != "" {
		cfg.Journal.Path = v
	}
	if v, ok := l.lookup(EnvSweepInterval); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvSweepInterval, err)
		}
		cfg.Sweep.Interval = d
	}
	return nil
}
