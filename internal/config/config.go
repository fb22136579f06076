package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/loykin/apprun/internal/env"
	"github.com/loykin/apprun/internal/logger"
	"github.com/loykin/apprun/internal/process"
	"github.com/loykin/apprun/internal/runstate"
)

// EnvPrefix prefixes environment overrides, e.g. APPRUN_SERVER_COMMAND.
const EnvPrefix = "APPRUN"

// Environment handed to the supervised server.
const (
	EnvRuntimeDir   = "APPRUN_RUNTIME_DIR"
	EnvEndpointFile = "APPRUN_ENDPOINT_FILE"
)

// Config is the top-level TOML structure.
type Config struct {
	RuntimeDir string        `toml:"runtime_dir" mapstructure:"runtime_dir"`
	Server     ServerConfig  `toml:"server" mapstructure:"server"`
	Launch     LaunchConfig  `toml:"launch" mapstructure:"launch"`
	Stop       StopConfig    `toml:"stop" mapstructure:"stop"`
	Serve      ServeConfig   `toml:"serve" mapstructure:"serve"`
	Log        logger.Config `toml:"log" mapstructure:"log"`
	History    HistoryConfig `toml:"history" mapstructure:"history"`
	Metrics    MetricsConfig `toml:"metrics" mapstructure:"metrics"`

	// File is the config file that was read; empty when running on defaults.
	File string `toml:"-" mapstructure:"-"`
}

type ServerConfig struct {
	Command  string   `toml:"command" mapstructure:"command"`
	WorkDir  string   `toml:"work_dir" mapstructure:"work_dir"`
	Env      []string `toml:"env" mapstructure:"env"`
	EnvFiles []string `toml:"env_files" mapstructure:"env_files"`
	UseOSEnv bool     `toml:"use_os_env" mapstructure:"use_os_env"`
}

type LaunchConfig struct {
	ReadyInterval time.Duration `toml:"ready_interval" mapstructure:"ready_interval"`
	ReadyAttempts int           `toml:"ready_attempts" mapstructure:"ready_attempts"`
	NoBrowser     bool          `toml:"no_browser" mapstructure:"no_browser"`
	Lock          bool          `toml:"lock" mapstructure:"lock"`
}

type StopConfig struct {
	Interval time.Duration `toml:"interval" mapstructure:"interval"`
	Attempts int           `toml:"attempts" mapstructure:"attempts"`
}

// ServeConfig configures the bundled reference server.
type ServeConfig struct {
	Root string `toml:"root" mapstructure:"root"`
	Addr string `toml:"addr" mapstructure:"addr"`
}

type HistoryConfig struct {
	DSN string `toml:"dsn" mapstructure:"dsn"`
}

type MetricsConfig struct {
	Textfile string `toml:"textfile" mapstructure:"textfile"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("runtime_dir", "runtime")
	v.SetDefault("server.command", "")
	v.SetDefault("server.work_dir", "")
	v.SetDefault("server.env", []string{})
	v.SetDefault("server.env_files", []string{})
	v.SetDefault("server.use_os_env", true)
	v.SetDefault("launch.ready_interval", "100ms")
	v.SetDefault("launch.ready_attempts", 50)
	v.SetDefault("launch.no_browser", false)
	v.SetDefault("launch.lock", false)
	v.SetDefault("stop.interval", "100ms")
	v.SetDefault("stop.attempts", 20)
	v.SetDefault("serve.root", "web")
	v.SetDefault("serve.addr", "127.0.0.1:0")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", logger.DefaultMaxSizeMB)
	v.SetDefault("log.max_backups", logger.DefaultMaxBackups)
	v.SetDefault("log.max_age_days", logger.DefaultMaxAgeDays)
	v.SetDefault("log.compress", false)
	v.SetDefault("history.dsn", "")
	v.SetDefault("metrics.textfile", "")
}

// Load reads the TOML file at path (optional) and APPRUN_* environment
// overrides on top of the defaults. Relative paths are resolved against the
// config file directory, or the working directory when no file is given.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	c.File = path

	base := "."
	if path != "" {
		base = filepath.Dir(path)
	}
	if err := c.resolve(base); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) resolve(base string) error {
	abs := func(p string) (string, error) {
		if p == "" || filepath.IsAbs(p) {
			return p, nil
		}
		return filepath.Abs(filepath.Join(base, p))
	}
	var err error
	if c.RuntimeDir, err = abs(c.RuntimeDir); err != nil {
		return fmt.Errorf("resolve runtime_dir: %w", err)
	}
	if c.Server.WorkDir, err = abs(c.Server.WorkDir); err != nil {
		return fmt.Errorf("resolve server.work_dir: %w", err)
	}
	for i, f := range c.Server.EnvFiles {
		if c.Server.EnvFiles[i], err = abs(f); err != nil {
			return fmt.Errorf("resolve server.env_files: %w", err)
		}
	}
	if c.Serve.Root, err = abs(c.Serve.Root); err != nil {
		return fmt.Errorf("resolve serve.root: %w", err)
	}
	if c.Log.File, err = abs(c.Log.File); err != nil {
		return fmt.Errorf("resolve log.file: %w", err)
	}
	if c.Metrics.Textfile, err = abs(c.Metrics.Textfile); err != nil {
		return fmt.Errorf("resolve metrics.textfile: %w", err)
	}
	if strings.TrimSpace(c.Server.Command) == "" {
		c.Server.Command = selfServeCommand(c.Serve.Root)
	}
	return nil
}

// selfServeCommand runs this binary's serve command as the supervised server.
func selfServeCommand(root string) string {
	exe, err := os.Executable()
	if err != nil {
		exe = "apprun"
	}
	return shellQuote(exe) + " serve --root " + shellQuote(root)
}

func shellQuote(s string) string {
	if s != "" && !strings.ContainsAny(s, " \t'\"$`\\") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.RuntimeDir) == "" {
		return errors.New("runtime_dir must not be empty")
	}
	if strings.TrimSpace(c.Server.Command) == "" {
		return errors.New("server.command must not be empty")
	}
	if c.Launch.ReadyInterval <= 0 {
		return fmt.Errorf("launch.ready_interval must be positive, got %s", c.Launch.ReadyInterval)
	}
	if c.Launch.ReadyAttempts <= 0 {
		return fmt.Errorf("launch.ready_attempts must be positive, got %d", c.Launch.ReadyAttempts)
	}
	if c.Stop.Interval <= 0 {
		return fmt.Errorf("stop.interval must be positive, got %s", c.Stop.Interval)
	}
	if c.Stop.Attempts <= 0 {
		return fmt.Errorf("stop.attempts must be positive, got %d", c.Stop.Attempts)
	}
	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json", "color":
	default:
		return fmt.Errorf("unknown log.format %q", c.Log.Format)
	}
	for i, kv := range c.Server.Env {
		if k, _, ok := strings.Cut(kv, "="); !ok || strings.TrimSpace(k) == "" {
			return fmt.Errorf("server.env[%d] %q must be in KEY=VALUE format", i, kv)
		}
	}
	return nil
}

// Store returns the file-backed runtime state store for RuntimeDir.
func (c *Config) Store() *runstate.FileStore {
	return runstate.NewFileStore(c.RuntimeDir)
}

// ServerSpec builds the supervised command. Its environment layers the OS
// environment (when enabled), env files and explicit pairs, then the runtime
// locations the server needs to announce its endpoint.
func (c *Config) ServerSpec() (process.Spec, error) {
	store := c.Store()
	e := env.New(c.Server.UseOSEnv)
	for _, f := range c.Server.EnvFiles {
		if err := e.LoadFile(f); err != nil {
			return process.Spec{}, fmt.Errorf("load env file: %w", err)
		}
	}
	if err := e.SetPairs(c.Server.Env); err != nil {
		return process.Spec{}, err
	}
	e.Set(EnvRuntimeDir, c.RuntimeDir)
	e.Set(EnvEndpointFile, store.EndpointPath())
	return process.Spec{
		Name:    "server",
		Command: c.Server.Command,
		WorkDir: c.Server.WorkDir,
		Env:     e.Environ(),
		LogPath: store.LogPath(),
	}, nil
}
