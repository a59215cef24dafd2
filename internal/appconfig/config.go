// Package appconfig manages application configuration and runtime file paths.
package appconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tunnelmaster/stm/internal/util"
	"gopkg.in/yaml.v3"
)

const (
	appName      = "stm"
	dataDirName  = "ssh_tunnel_master"
	logFileName  = "ssh_tunnel_master.log"
	registryName = "hosts.conf"
)

// BinariesConfig names the external executables stm shells out to.
type BinariesConfig struct {
	AutoSSH string `yaml:"autossh"`
	SSH     string `yaml:"ssh"`
	SCP     string `yaml:"scp"`
}

// TunnelConfig tunes tunnel construction.
type TunnelConfig struct {
	PrimarySettleMS    int `yaml:"primary_settle_ms"`
	ServiceSettleMS    int `yaml:"service_settle_ms"`
	LockTimeoutSeconds int `yaml:"lock_timeout_seconds"`
	AutoPortStart      int `yaml:"auto_port_start"`
	// Prober selects the liveness check: "proc" (process table) or "pgrep".
	Prober string `yaml:"prober"`
}

// LogConfig controls the rotating log file.
type LogConfig struct {
	Level      string `yaml:"level"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

// Config holds application-level configuration.
type Config struct {
	// JumpHost is the upstream user@host every primary tunnel rides through.
	JumpHost    string         `yaml:"jump_host"`
	DataDir     string         `yaml:"data_dir"`
	KnownHosts  string         `yaml:"known_hosts"`
	BashAliases string         `yaml:"bash_aliases"`
	StmAliases  string         `yaml:"stm_aliases"`
	Launcher    string         `yaml:"launcher"`
	Binaries    BinariesConfig `yaml:"binaries"`
	Tunnel      TunnelConfig   `yaml:"tunnel"`
	Log         LogConfig      `yaml:"log"`
}

// Default returns the default configuration. Paths are left empty and filled
// from the home directory by Load.
func Default() Config {
	return Config{
		Launcher: "inline",
		Binaries: BinariesConfig{AutoSSH: "autossh", SSH: "ssh", SCP: "scp"},
		Tunnel: TunnelConfig{
			PrimarySettleMS:    int(util.PrimarySettle / time.Millisecond),
			ServiceSettleMS:    int(util.ServiceSettle / time.Millisecond),
			LockTimeoutSeconds: int(util.LockTimeout / time.Second),
			AutoPortStart:      util.AutoPortStart,
			Prober:             "proc",
		},
		Log: LogConfig{Level: "info", MaxSizeMB: 10, MaxBackups: 5},
	}
}

// ConfigDir returns the application config directory path.
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config/stm.
func ConfigDir() (string, error) {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, appName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home: %w", err)
	}
	return filepath.Join(home, ".config", appName), nil
}

// RegistryPath returns the full path to hosts.conf.
func (c Config) RegistryPath() string {
	return filepath.Join(c.DataDir, registryName)
}

// LogDir returns the directory holding rotated log files.
func (c Config) LogDir() string {
	return filepath.Join(c.DataDir, "logs")
}

// LogPath returns the active log file path.
func (c Config) LogPath() string {
	return filepath.Join(c.LogDir(), logFileName)
}

func (c Config) PrimarySettle() time.Duration {
	return time.Duration(c.Tunnel.PrimarySettleMS) * time.Millisecond
}

func (c Config) ServiceSettle() time.Duration {
	return time.Duration(c.Tunnel.ServiceSettleMS) * time.Millisecond
}

func (c Config) LockTimeout() time.Duration {
	return time.Duration(c.Tunnel.LockTimeoutSeconds) * time.Second
}

// Init creates the data and log directories. It is safe to call repeatedly.
func Init(cfg Config) error {
	for _, dir := range []string{cfg.DataDir, cfg.LogDir()} {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

// Load reads config.yaml from the config directory.
// If the file doesn't exist, creates it with defaults.
func Load() (Config, error) {
	d, err := ConfigDir()
	if err != nil {
		return Config{}, err
	}
	if err := os.MkdirAll(d, 0o700); err != nil {
		return Config{}, err
	}
	path := filepath.Join(d, "config.yaml")
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg := Default()
			if err := Save(cfg); err != nil {
				return cfg, err
			}
			return normalize(cfg)
		}
		return Config{}, err
	}
	cfg := Default()
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return normalize(cfg)
}

// Save writes config to config.yaml.
func Save(cfg Config) error {
	d, err := ConfigDir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(d, 0o700); err != nil {
		return err
	}
	path := filepath.Join(d, "config.yaml")
	b, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o600)
}

func normalize(cfg Config) (Config, error) {
	def := Default()
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, fmt.Errorf("resolve home: %w", err)
	}
	if jump := strings.TrimSpace(os.Getenv("STM_JUMP_HOST")); jump != "" {
		cfg.JumpHost = jump
	}
	cfg.JumpHost = strings.TrimSpace(cfg.JumpHost)
	cfg.DataDir = expandHome(util.DefaultString(cfg.DataDir, filepath.Join(home, ".local", "share", dataDirName)), home)
	cfg.KnownHosts = expandHome(util.DefaultString(cfg.KnownHosts, filepath.Join(home, ".ssh", "known_hosts")), home)
	cfg.BashAliases = expandHome(util.DefaultString(cfg.BashAliases, filepath.Join(home, ".bash_aliases")), home)
	cfg.StmAliases = expandHome(util.DefaultString(cfg.StmAliases, filepath.Join(home, ".bash_stm_aliases")), home)
	cfg.Launcher = util.DefaultString(cfg.Launcher, def.Launcher)
	cfg.Binaries.AutoSSH = util.DefaultString(cfg.Binaries.AutoSSH, def.Binaries.AutoSSH)
	cfg.Binaries.SSH = util.DefaultString(cfg.Binaries.SSH, def.Binaries.SSH)
	cfg.Binaries.SCP = util.DefaultString(cfg.Binaries.SCP, def.Binaries.SCP)
	if cfg.Tunnel.PrimarySettleMS < 0 {
		cfg.Tunnel.PrimarySettleMS = def.Tunnel.PrimarySettleMS
	}
	if cfg.Tunnel.ServiceSettleMS < 0 {
		cfg.Tunnel.ServiceSettleMS = def.Tunnel.ServiceSettleMS
	}
	if cfg.Tunnel.LockTimeoutSeconds <= 0 {
		cfg.Tunnel.LockTimeoutSeconds = def.Tunnel.LockTimeoutSeconds
	}
	cfg.Tunnel.Prober = util.DefaultString(strings.ToLower(strings.TrimSpace(cfg.Tunnel.Prober)), def.Tunnel.Prober)
	if util.ValidatePort(cfg.Tunnel.AutoPortStart) != nil {
		cfg.Tunnel.AutoPortStart = def.Tunnel.AutoPortStart
	}
	if cfg.Log.MaxSizeMB <= 0 {
		cfg.Log.MaxSizeMB = def.Log.MaxSizeMB
	}
	if cfg.Log.MaxBackups < 0 {
		cfg.Log.MaxBackups = def.Log.MaxBackups
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Log.Level)) {
	case "debug", "info", "warn", "error":
		cfg.Log.Level = strings.ToLower(strings.TrimSpace(cfg.Log.Level))
	default:
		cfg.Log.Level = def.Log.Level
	}
	return cfg, nil
}

func expandHome(path, home string) string {
	if path == "~" {
		return home
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(home, path[2:])
	}
	return path
}
