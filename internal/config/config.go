package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full configuration for healthdeploy. It is loaded once at
// startup and passed explicitly into component constructors; nothing reads
// it from process-wide state.
type Config struct {
	Store struct {
		Endpoint  string `yaml:"endpoint"`
		AccessKey string `yaml:"access_key"`
		SecretKey string `yaml:"secret_key"`
		Region    string `yaml:"region"`
		UseSSL    bool   `yaml:"use_ssl"`
		Bucket    string `yaml:"bucket"`
	} `yaml:"store"`

	Fleet struct {
		TargetKey   string `yaml:"target_key"`
		TargetValue string `yaml:"target_value"`
		Hosts       []Host `yaml:"hosts"`
	} `yaml:"fleet"`

	Sources struct {
		Workspace string `yaml:"workspace"`
		Repos     []Repo `yaml:"repos"`
	} `yaml:"sources"`

	Build struct {
		Projects    []Project `yaml:"projects"`
		ArchiveKey  string    `yaml:"archive_key"`
		FrontendKey string    `yaml:"frontend_key"`
		FrontendSrc string    `yaml:"frontend_src"`
	} `yaml:"build"`

	Deploy struct {
		Domain            string   `yaml:"domain"`
		CertEmail         string   `yaml:"cert_email"`
		RegisterRenewCron bool     `yaml:"register_renew_cron"`
		ComposeVersion    string   `yaml:"compose_version"`
		WorkDir           string   `yaml:"work_dir"`
		WarmupSeconds     int      `yaml:"warmup_seconds"`
		Processes         []string `yaml:"processes"`
		TestTarget        string   `yaml:"test_target"`
	} `yaml:"deploy"`

	Dispatch struct {
		// CommandTimeoutSeconds is the single reconciled timeout: it bounds
		// both the remote command itself and the dispatcher's poll budget.
		CommandTimeoutSeconds int    `yaml:"command_timeout_seconds"`
		PollIntervalSeconds   int    `yaml:"poll_interval_seconds"`
		Transport             string `yaml:"transport"`
		AgentPort             int    `yaml:"agent_port"`
		Concurrency           int    `yaml:"concurrency"`
	} `yaml:"dispatch"`

	SSH struct {
		KeyDir     string `yaml:"key_dir"`
		KnownHosts string `yaml:"known_hosts"`
		User       string `yaml:"user"`
		Port       int    `yaml:"port"`
		Retries    int    `yaml:"retries"`
	} `yaml:"ssh"`

	History struct {
		Path string `yaml:"path"`
	} `yaml:"history"`

	Telemetry struct {
		Enabled bool `yaml:"enabled"`
	} `yaml:"telemetry"`
}

// Host is one machine of the target fleet. Tags address it for dispatch.
type Host struct {
	Name string            `yaml:"name"`
	IP   string            `yaml:"ip"`
	User string            `yaml:"user"`
	Port int               `yaml:"port"`
	Tags map[string]string `yaml:"tags"`
}

// Repo is one tracked source repository checked out by the Source stage.
type Repo struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
	Ref  string `yaml:"ref"`
}

// Project is one buildable source tree inside the workspace.
type Project struct {
	Name string   `yaml:"name"`
	Dir  string   `yaml:"dir"`
	Argv []string `yaml:"argv"`
}

// Load reads YAML configuration from a path. If path is empty, it resolves
// $XDG_CONFIG_HOME/healthdeploy/config.yaml or ~/.config/healthdeploy/config.yaml.
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		path = DefaultPath()
	}
	f, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// DefaultPath resolves the standard config location.
func DefaultPath() string {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, _ := os.UserHomeDir()
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "healthdeploy", "config.yaml")
}

// ApplyDefaults fills zero values with the defaults the original stack used.
func (c *Config) ApplyDefaults() {
	if c.Store.Region == "" {
		c.Store.Region = "us-east-1"
	}
	if c.Store.Bucket == "" {
		c.Store.Bucket = "health-artifacts"
	}
	if c.Fleet.TargetKey == "" {
		c.Fleet.TargetKey = "HealthEnv"
	}
	if c.Fleet.TargetValue == "" {
		c.Fleet.TargetValue = "dev"
	}
	if c.Build.ArchiveKey == "" {
		c.Build.ArchiveKey = "docker_workspace.tar.gz"
	}
	if c.Build.FrontendKey == "" {
		c.Build.FrontendKey = "frontend.conf"
	}
	if c.Deploy.WarmupSeconds == 0 {
		c.Deploy.WarmupSeconds = 180
	}
	if c.Deploy.ComposeVersion == "" {
		c.Deploy.ComposeVersion = "1.29.2"
	}
	if c.Deploy.WorkDir == "" {
		c.Deploy.WorkDir = "/opt/health"
	}
	if c.Deploy.TestTarget == "" {
		c.Deploy.TestTarget = "integration-tests"
	}
	if len(c.Deploy.Processes) == 0 {
		c.Deploy.Processes = []string{"frontend", "health-backend", "health-dao", "health-sao"}
	}
	if c.Dispatch.CommandTimeoutSeconds == 0 {
		c.Dispatch.CommandTimeoutSeconds = 600
	}
	if c.Dispatch.PollIntervalSeconds == 0 {
		c.Dispatch.PollIntervalSeconds = 30
	}
	if c.Dispatch.Transport == "" {
		c.Dispatch.Transport = "ssh"
	}
	if c.Dispatch.AgentPort == 0 {
		c.Dispatch.AgentPort = 8088
	}
	if c.Dispatch.Concurrency == 0 {
		c.Dispatch.Concurrency = 10
	}
	if c.SSH.User == "" {
		c.SSH.User = "health"
	}
	if c.SSH.Port == 0 {
		c.SSH.Port = 22
	}
	if c.SSH.Retries == 0 {
		c.SSH.Retries = 2
	}
	if c.SSH.KeyDir == "" || c.SSH.KnownHosts == "" || c.History.Path == "" {
		base := filepath.Dir(DefaultPath())
		if c.SSH.KeyDir == "" {
			c.SSH.KeyDir = filepath.Join(base, "ssh")
		}
		if c.SSH.KnownHosts == "" {
			c.SSH.KnownHosts = filepath.Join(base, "known_hosts")
		}
		if c.History.Path == "" {
			c.History.Path = filepath.Join(base, "history.db")
		}
	}
	if c.Sources.Workspace == "" {
		c.Sources.Workspace = filepath.Join(os.TempDir(), "healthdeploy-workspace")
	}
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	if strings.Contains(c.Store.Endpoint, "://") {
		return fmt.Errorf("store endpoint must not include scheme: %q", c.Store.Endpoint)
	}
	if c.Dispatch.PollIntervalSeconds <= 0 {
		return errors.New("dispatch poll interval must be positive")
	}
	if c.Dispatch.CommandTimeoutSeconds < c.Dispatch.PollIntervalSeconds {
		return errors.New("dispatch command timeout must be at least one poll interval")
	}
	switch c.Dispatch.Transport {
	case "ssh", "agent":
	default:
		return fmt.Errorf("unknown dispatch transport: %q", c.Dispatch.Transport)
	}
	for _, r := range c.Sources.Repos {
		if r.Name == "" || r.URL == "" {
			return fmt.Errorf("source repo requires name and url: %+v", r)
		}
	}
	for _, p := range c.Build.Projects {
		if len(p.Argv) == 0 {
			return fmt.Errorf("build project %q has no command", p.Name)
		}
	}
	return nil
}

// CommandTimeout returns the reconciled remote command timeout.
func (c *Config) CommandTimeout() time.Duration {
	return time.Duration(c.Dispatch.CommandTimeoutSeconds) * time.Second
}

// PollInterval returns the dispatcher's inter-attempt delay.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Dispatch.PollIntervalSeconds) * time.Second
}

// PollAttempts derives the poll budget from the single command timeout so the
// dispatcher never gives up before the remote command's own allowance expires.
func (c *Config) PollAttempts() int {
	t := c.Dispatch.CommandTimeoutSeconds
	i := c.Dispatch.PollIntervalSeconds
	return (t + i - 1) / i
}
