// Package config loads and validates the benchmark configuration from YAML,
// applying defaults for everything left unset.
package config

import (
	"encoding/json"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/trussbench/trussbench/pkg/models"
)

// Duration is a time.Duration that unmarshals from YAML strings like "10m".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("%w: %q is not a duration", ErrInvalidValue, s)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// MarshalJSON emits the duration string ("2m0s"); RunConfig travels over
// the dashboard WebSocket as the current_parameters payload.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON accepts the same string form.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("%w: %q is not a duration", ErrInvalidValue, s)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the standard-library duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// ServerConfig configures the dashboard HTTP/WS server.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// EventQueueSize is the per-client WS send queue capacity.
	EventQueueSize int `yaml:"event_queue_size"`
}

// TargetConfig describes the inference endpoint under load.
type TargetConfig struct {
	URL   string `yaml:"url"`
	Model string `yaml:"model"`

	// APIShape selects the request adapter: "openai" or "plain".
	APIShape string `yaml:"api_shape"`

	// APIKey is the bearer token. Usually injected via {{.ENV_VAR}}
	// expansion; AuthProfile takes precedence when both are set.
	APIKey string `yaml:"api_key"`

	// AuthProfile names a ~/.trussrc profile to pull url/key from.
	AuthProfile string `yaml:"auth_profile"`

	EnableStreaming *bool    `yaml:"enable_streaming"`
	IgnoreEOS       bool     `yaml:"ignore_eos"`
	RequestTimeout  Duration `yaml:"request_timeout"`
}

// Streaming reports whether streaming responses are requested (default true).
func (t TargetConfig) Streaming() bool {
	return t.EnableStreaming == nil || *t.EnableStreaming
}

// RunConfig is the benchmark plan.
type RunConfig struct {
	MaxRequestsPerRun int      `yaml:"max_requests_per_run" json:"max_requests_per_run"`
	MaxTimePerRun     Duration `yaml:"max_time_per_run" json:"max_time_per_run"`
	NumConcurrency    []int    `yaml:"num_concurrency" json:"num_concurrency"`
	TrafficScenario   []string `yaml:"traffic_scenario" json:"traffic_scenario"`

	// Task is the traffic kind: "text-to-text" (default) or
	// "text-to-embeddings".
	Task string `yaml:"task" json:"task"`
}

// Config is the complete trussbench configuration.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Target TargetConfig `yaml:"target"`
	Run    RunConfig    `yaml:"run"`
}

// DefaultConfig returns the built-in defaults. User YAML merges on top.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           8080,
			EventQueueSize: 256,
		},
		Target: TargetConfig{
			URL:      "http://localhost:8000",
			APIShape: "openai",
		},
		Run: RunConfig{
			MaxRequestsPerRun: 100,
			NumConcurrency:    []int{1},
			TrafficScenario:   []string{"D(100,100)"},
			Task:              string(models.TaskChat),
		},
	}
}

// Validate rejects configurations the runtime cannot act on.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return NewValidationError("server", "port", fmt.Errorf("%w: %d", ErrInvalidValue, c.Server.Port))
	}
	if c.Target.URL == "" {
		return NewValidationError("target", "url", ErrMissingRequiredField)
	}
	switch c.Target.APIShape {
	case "openai", "plain":
	default:
		return NewValidationError("target", "api_shape",
			fmt.Errorf("%w: %q (want openai or plain)", ErrInvalidValue, c.Target.APIShape))
	}
	switch models.Task(c.Run.Task) {
	case models.TaskChat, models.TaskImageChat, models.TaskEmbeddings:
	default:
		return NewValidationError("run", "task",
			fmt.Errorf("%w: %q", ErrInvalidValue, c.Run.Task))
	}
	if len(c.Run.NumConcurrency) == 0 {
		return NewValidationError("run", "num_concurrency", ErrMissingRequiredField)
	}
	for _, n := range c.Run.NumConcurrency {
		if n <= 0 {
			return NewValidationError("run", "num_concurrency",
				fmt.Errorf("%w: %d", ErrInvalidValue, n))
		}
	}
	if len(c.Run.TrafficScenario) == 0 {
		return NewValidationError("run", "traffic_scenario", ErrMissingRequiredField)
	}
	if c.Run.MaxRequestsPerRun <= 0 && c.Run.MaxTimePerRun <= 0 {
		return NewValidationError("run", "max_requests_per_run",
			fmt.Errorf("%w: either max_requests_per_run or max_time_per_run must be set", ErrInvalidValue))
	}
	return nil
}
