// Package config loads Dispatcher configuration from agent.yaml/config.yaml.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// WorkerConfig holds the worker-subprocess invocation options (spec.md §6).
type WorkerConfig struct {
	Command         string        `yaml:"command"`
	Timeout         time.Duration `yaml:"timeout"`
	OutputFormat    string        `yaml:"output_format"`
	Verbose         bool          `yaml:"verbose"`
	SkipPermissions bool          `yaml:"skip_permissions"`
}

// UnmarshalYAML accepts the worker timeout either as a bare integer
// (seconds, matching this config's other "_seconds" fields) or as a
// duration string like "10m" — time.Duration has no YAML unmarshaler of
// its own, so a bare `timeout: 600` would otherwise decode as 600ns.
// Fields are pre-seeded from the receiver so a document that only sets
// one worker field doesn't zero the rest.
func (w *WorkerConfig) UnmarshalYAML(unmarshal func(interface{}) error) error {
	type rawWorkerConfig struct {
		Command         string      `yaml:"command"`
		Timeout         interface{} `yaml:"timeout"`
		OutputFormat    string      `yaml:"output_format"`
		Verbose         bool        `yaml:"verbose"`
		SkipPermissions bool        `yaml:"skip_permissions"`
	}
	raw := rawWorkerConfig{
		Command:         w.Command,
		OutputFormat:    w.OutputFormat,
		Verbose:         w.Verbose,
		SkipPermissions: w.SkipPermissions,
	}
	if err := unmarshal(&raw); err != nil {
		return err
	}

	w.Command = raw.Command
	w.OutputFormat = raw.OutputFormat
	w.Verbose = raw.Verbose
	w.SkipPermissions = raw.SkipPermissions

	switch t := raw.Timeout.(type) {
	case nil:
		// timeout not present in this document; keep the receiver's value.
	case string:
		d, err := time.ParseDuration(t)
		if err != nil {
			return fmt.Errorf("invalid worker timeout %q: %w", t, err)
		}
		w.Timeout = d
	case int:
		w.Timeout = time.Duration(t) * time.Second
	case int64:
		w.Timeout = time.Duration(t) * time.Second
	case float64:
		w.Timeout = time.Duration(t * float64(time.Second))
	default:
		return fmt.Errorf("invalid worker timeout: expected a number of seconds or a duration string, got %T", t)
	}
	return nil
}

// Config is the full Dispatcher configuration (spec.md §6).
type Config struct {
	MaxParallelWorkers int           `yaml:"max_parallel_workers"`
	PollIntervalSeconds int          `yaml:"poll_interval_seconds"`
	PortRangeStart     int           `yaml:"port_range_start"`
	PortRangeEnd       int           `yaml:"port_range_end"`
	TestCommand        string        `yaml:"test_command"`
	PushToRemote       bool          `yaml:"push_to_remote"`
	MaxMergeRetries    int           `yaml:"max_merge_retries"`
	SymlinkFiles       []string      `yaml:"symlink_files"`
	CopyFiles          []string      `yaml:"copy_files"`
	Worker             WorkerConfig  `yaml:"worker"`
}

// PollInterval returns PollIntervalSeconds as a time.Duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// Default returns the built-in default configuration (spec.md §6).
func Default() *Config {
	return &Config{
		MaxParallelWorkers:  5,
		PollIntervalSeconds: 10,
		PortRangeStart:      9200,
		PortRangeEnd:        9299,
		TestCommand:         "pytest",
		PushToRemote:        true,
		MaxMergeRetries:     3,
		SymlinkFiles:        []string{},
		CopyFiles:           []string{"CLAUDE.md", "PROGRESS.md"},
		Worker: WorkerConfig{
			Command:      "claude",
			Timeout:      600 * time.Second,
			OutputFormat: "stream-json",
			Verbose:      true,
		},
	}
}

// candidateNames are tried in order inside the project root.
var candidateNames = []string{"agent.yaml", "config.yaml"}

// Load reads the first of agent.yaml/config.yaml found under projectDir,
// merging it over Default(). Both files are optional; a missing file
// simply yields the defaults.
func Load(projectDir string) (*Config, error) {
	cfg := Default()

	var path string
	for _, name := range candidateNames {
		candidate := filepath.Join(projectDir, name)
		if _, err := os.Stat(candidate); err == nil {
			path = candidate
			break
		}
	}
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks structural invariants that Default() always satisfies
// but a user-supplied file might violate.
func (c *Config) Validate() error {
	if c.MaxParallelWorkers < 1 {
		return fmt.Errorf("max_parallel_workers must be >= 1")
	}
	if c.PortRangeStart > c.PortRangeEnd {
		return fmt.Errorf("port_range_start must be <= port_range_end")
	}
	if c.MaxMergeRetries < 0 {
		return fmt.Errorf("max_merge_retries must be >= 0")
	}
	// Open Question (b): only newline-delimited JSON streaming is supported.
	if c.Worker.OutputFormat != "" && c.Worker.OutputFormat != "stream-json" {
		return fmt.Errorf("unsupported worker output_format %q: only \"stream-json\" is implemented", c.Worker.OutputFormat)
	}
	return nil
}

// ProjectDir resolves the project root: BATON_PROJECT_DIR env var if set,
// otherwise the provided fallback (typically the current working directory).
func ProjectDir(fallback string) string {
	if env := os.Getenv("BATON_PROJECT_DIR"); env != "" {
		return env
	}
	return fallback
}
