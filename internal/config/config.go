// Package config loads the immutable gateway configuration: yaml file first,
// environment overrides second, validation last. The record is built once in
// main and passed down; nothing mutates it afterwards.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/docker/go-units"
	"gopkg.in/yaml.v3"
)

// Variant selects the execution engine built at startup.
const (
	VariantR      = "r"      // persistent in-container evaluator
	VariantPython = "python" // one-shot interpreter invocation per call
)

// Limits holds the per-container resource caps applied at creation. Memory
// is a go-units size string ("512m"); the CPU quota applies per scheduling
// period, both in microseconds.
type Limits struct {
	Memory    string `yaml:"memory"`
	CPUPeriod int64  `yaml:"cpu_period"`
	CPUQuota  int64  `yaml:"cpu_quota"`
	PidsLimit int64  `yaml:"pids_limit"`

	// Tmpfs mount options for the writable paths. TmpfsWork applies only
	// when the session has no workspace bind mount.
	TmpfsTmp  string `yaml:"tmpfs_tmp"`
	TmpfsWork string `yaml:"tmpfs_sandbox"`
}

// DB is the database endpoint injected into every session container.
type DB struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
}

type Config struct {
	ListenAddr      string `yaml:"listen_addr"`
	Variant         string `yaml:"variant"`
	ImageName       string `yaml:"image_name"`
	RuntimeEndpoint string `yaml:"runtime_endpoint"`
	NetworkMode     string `yaml:"network_mode"`
	LogLevel        string `yaml:"log_level"`

	IdleTimeoutSeconds        int `yaml:"idle_timeout_seconds"`
	MaxSessions               int `yaml:"max_sessions"`
	DefaultExecTimeoutSeconds int `yaml:"default_exec_timeout_seconds"`
	EvaluatorReadySeconds     int `yaml:"evaluator_ready_seconds"`

	MaxOutputBytes int `yaml:"max_output_bytes"`
	MaxFileBytes   int `yaml:"max_file_bytes"`
	MaxCodeChars   int `yaml:"max_code_chars"`

	WorkspaceRoot string `yaml:"workspace_root"`
	JournalPath   string `yaml:"journal_path"`
	PoolSize      int    `yaml:"pool_size"`

	Limits Limits `yaml:"limits"`
	DB     DB     `yaml:"db"`

	PackageSourceToken string `yaml:"package_source_token"`
}

// MemoryBytes parses Limits.Memory.
func (c *Config) MemoryBytes() (int64, error) {
	return units.RAMInBytes(c.Limits.Memory)
}

// Persistent reports whether the configured variant keeps evaluator state
// across calls (and therefore needs the port mapping).
func (c *Config) Persistent() bool {
	return c.Variant == VariantR
}

func Load(yamlPath string) (*Config, error) {
	cfg := &Config{
		ListenAddr:                "127.0.0.1:8643",
		Variant:                   VariantR,
		ImageName:                 "glaskasten-r:latest",
		NetworkMode:               "",
		LogLevel:                  "info",
		IdleTimeoutSeconds:        300,
		MaxSessions:               10,
		DefaultExecTimeoutSeconds: 30,
		EvaluatorReadySeconds:     10,
		MaxOutputBytes:            5 * 1024 * 1024,
		MaxFileBytes:              10 * 1024 * 1024,
		MaxCodeChars:              200_000,
		JournalPath:               "./glaskasten.db",
		Limits: Limits{
			Memory:    "512m",
			CPUPeriod: 100000,
			CPUQuota:  50000,
			PidsLimit: 256,
			TmpfsTmp:  "rw,noexec,nosuid,size=100m",
			TmpfsWork: "rw,noexec,nosuid,size=500m",
		},
		DB: DB{Port: 5432},
	}

	if yamlPath != "" {
		data, err := os.ReadFile(yamlPath)
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, err
			}
		} else if !os.IsNotExist(err) {
			return nil, err
		}
	}

	applyEnvOverrides(cfg)

	if cfg.NetworkMode == "" {
		// The persistent evaluator needs the default bridge for its port
		// mapping; the one-shot variant runs detached from any network.
		if cfg.Persistent() {
			cfg.NetworkMode = "bridge"
		} else {
			cfg.NetworkMode = "none"
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Variant != VariantR && c.Variant != VariantPython {
		return fmt.Errorf("config: unknown variant %q", c.Variant)
	}
	if c.ImageName == "" {
		return fmt.Errorf("config: image_name is required")
	}
	if c.IdleTimeoutSeconds <= 0 {
		return fmt.Errorf("config: idle_timeout_seconds must be > 0")
	}
	if c.MaxSessions <= 0 {
		return fmt.Errorf("config: max_sessions must be > 0")
	}
	if c.DefaultExecTimeoutSeconds <= 0 {
		return fmt.Errorf("config: default_exec_timeout_seconds must be > 0")
	}
	if c.MaxOutputBytes <= 0 || c.MaxFileBytes <= 0 || c.MaxCodeChars <= 0 {
		return fmt.Errorf("config: byte and size caps must be > 0")
	}
	if c.Persistent() && c.NetworkMode == "none" {
		return fmt.Errorf("config: variant %q needs a network for the evaluator port mapping", c.Variant)
	}
	if _, err := c.MemoryBytes(); err != nil {
		return fmt.Errorf("config: limits.memory: %w", err)
	}
	if c.PoolSize < 0 {
		return fmt.Errorf("config: pool_size must be >= 0")
	}
	if c.PoolSize > 0 && c.WorkspaceRoot != "" {
		return fmt.Errorf("config: pool cannot be combined with workspace_root (per-session bind mounts)")
	}
	return nil
}

// applyEnvOverrides reads the documented deployment variables. The DB_*,
// SANDBOX_TIMEOUT, MAX_SANDBOXES, DOCKER_IMAGE, DOCKER_HOST, WORKSPACE_ROOT
// and LOG_LEVEL names are the operational contract; the remaining knobs use
// the GLASKASTEN_ prefix.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SANDBOX_TIMEOUT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.IdleTimeoutSeconds = n
		}
	}
	if v := os.Getenv("MAX_SANDBOXES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxSessions = n
		}
	}
	if v := os.Getenv("DOCKER_IMAGE"); v != "" {
		cfg.ImageName = v
	}
	if v := os.Getenv("DOCKER_HOST"); v != "" {
		cfg.RuntimeEndpoint = v
	}
	if v := os.Getenv("WORKSPACE_ROOT"); v != "" {
		cfg.WorkspaceRoot = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}
	if v := os.Getenv("DB_HOST"); v != "" {
		cfg.DB.Host = v
	}
	if v := os.Getenv("DB_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.DB.Port = n
		}
	}
	if v := os.Getenv("DB_USER"); v != "" {
		cfg.DB.User = v
	}
	if v := os.Getenv("DB_PASSWORD"); v != "" {
		cfg.DB.Password = v
	}
	if v := os.Getenv("DB_NAME"); v != "" {
		cfg.DB.Name = v
	}
	if v := os.Getenv("PACKAGE_SOURCE_TOKEN"); v != "" {
		cfg.PackageSourceToken = v
	}

	if v := os.Getenv("GLASKASTEN_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("GLASKASTEN_VARIANT"); v != "" {
		cfg.Variant = v
	}
	if v := os.Getenv("GLASKASTEN_NETWORK_MODE"); v != "" {
		cfg.NetworkMode = v
	}
	if v := os.Getenv("GLASKASTEN_JOURNAL_PATH"); v != "" {
		cfg.JournalPath = v
	}
	if v := os.Getenv("GLASKASTEN_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.PoolSize = n
		}
	}
}
