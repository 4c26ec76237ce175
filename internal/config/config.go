package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	defaultPollInterval   = 100 * time.Millisecond
	defaultLaunchTimeout  = 15 * time.Second
	defaultReadyTimeout   = 20 * time.Second
	defaultWindowTimeout  = 5 * time.Second
	defaultTerminateGrace = 5 * time.Second
)

// Config stores runtime settings loaded from TOML files.
type Config struct {
	// TargetPath is the application binary under test.
	TargetPath string
	// TargetArgs are extra arguments passed to the target on launch.
	TargetArgs []string
	// Env is the caller-supplied environment overlay. Test-mode defaults
	// (NODE_ENV, ELECTRON_IS_DEV, DISABLE_AUTO_UPDATER) are applied first
	// and entries here override them.
	Env map[string]string

	PollInterval   time.Duration
	LaunchTimeout  time.Duration
	ReadyTimeout   time.Duration
	WindowTimeout  time.Duration
	TerminateGrace time.Duration

	// ReportPath, when set, receives the JSON report after a run.
	ReportPath string
}

type fileConfig struct {
	Target   *targetConfig  `toml:"target"`
	Timeouts *timeoutConfig `toml:"timeouts"`
	Report   *reportConfig  `toml:"report"`
}

type targetConfig struct {
	Path *string           `toml:"path"`
	Args []string          `toml:"args"`
	Env  map[string]string `toml:"env"`
}

type timeoutConfig struct {
	Poll           *string `toml:"poll"`
	Launch         *string `toml:"launch"`
	Ready          *string `toml:"ready"`
	Window         *string `toml:"window"`
	TerminateGrace *string `toml:"terminate_grace"`
}

type reportConfig struct {
	Path *string `toml:"path"`
}

// Load reads config from ~/.speakmcp-e2e/config.toml and overlays a
// project-local .speakmcp-e2e/config.toml.
func Load(ctx context.Context) (*Config, error) {
	cfg := Defaults()

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve home directory: %w", err)
	}

	workingDir, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("resolve working directory: %w", err)
	}

	paths := []string{
		filepath.Join(homeDir, ".speakmcp-e2e", "config.toml"),
		filepath.Join(workingDir, ".speakmcp-e2e", "config.toml"),
	}

	for _, path := range paths {
		if err := overlayFromFile(&cfg, path); err != nil {
			return nil, err
		}
	}

	_ = ctx
	return &cfg, nil
}

// Defaults returns the built-in configuration values.
func Defaults() Config {
	return Config{
		Env:            map[string]string{},
		PollInterval:   defaultPollInterval,
		LaunchTimeout:  defaultLaunchTimeout,
		ReadyTimeout:   defaultReadyTimeout,
		WindowTimeout:  defaultWindowTimeout,
		TerminateGrace: defaultTerminateGrace,
	}
}

func overlayFromFile(cfg *Config, path string) error {
	if cfg == nil {
		return errors.New("config must not be nil")
	}

	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("stat config file %q: %w", path, err)
	}

	var decoded fileConfig
	if _, err := toml.DecodeFile(path, &decoded); err != nil {
		return fmt.Errorf("decode config file %q: %w", path, err)
	}

	if decoded.Target != nil {
		if decoded.Target.Path != nil {
			cfg.TargetPath = *decoded.Target.Path
		}
		if decoded.Target.Args != nil {
			cfg.TargetArgs = decoded.Target.Args
		}
		for key, value := range decoded.Target.Env {
			cfg.Env[key] = value
		}
	}

	if decoded.Report != nil && decoded.Report.Path != nil {
		cfg.ReportPath = *decoded.Report.Path
	}

	return applyTimeoutOverrides(cfg, decoded.Timeouts, path)
}

func applyTimeoutOverrides(cfg *Config, timeouts *timeoutConfig, path string) error {
	if timeouts == nil {
		return nil
	}

	overrides := []struct {
		key   string
		value *string
		dst   *time.Duration
	}{
		{"timeouts.poll", timeouts.Poll, &cfg.PollInterval},
		{"timeouts.launch", timeouts.Launch, &cfg.LaunchTimeout},
		{"timeouts.ready", timeouts.Ready, &cfg.ReadyTimeout},
		{"timeouts.window", timeouts.Window, &cfg.WindowTimeout},
		{"timeouts.terminate_grace", timeouts.TerminateGrace, &cfg.TerminateGrace},
	}

	for _, override := range overrides {
		if override.value == nil {
			continue
		}
		parsed, err := parseDuration(*override.value, override.key, path)
		if err != nil {
			return err
		}
		if parsed <= 0 {
			return fmt.Errorf("%s in %q must be positive, got %q", override.key, path, *override.value)
		}
		*override.dst = parsed
	}

	return nil
}

func parseDuration(value, key, path string) (time.Duration, error) {
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("parse %s in %q: %w", key, path, err)
	}
	return parsed, nil
}
