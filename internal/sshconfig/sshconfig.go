// Package sshconfig answers questions about the user's OpenSSH client
// configuration: where the jump host really points and which names are
// already declared as Host blocks.
package sshconfig

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/kevinburke/ssh_config"
)

// Config is a decoded ~/.ssh/config. The zero value behaves like an empty
// file.
type Config struct {
	Path string
	cfg  *ssh_config.Config
}

// DefaultPath returns ~/.ssh/config.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return filepath.Join(home, ".ssh", "config"), nil
}

// Load decodes path. A missing file yields an empty config.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{Path: path}, nil
		}
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	cfg, err := ssh_config.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &Config{Path: path, cfg: cfg}, nil
}

// Get returns the effective value of key for host, falling back to the
// OpenSSH default.
func (c *Config) Get(host, key string) string {
	if c != nil && c.cfg != nil {
		if v, err := c.cfg.Get(host, key); err == nil && v != "" {
			return v
		}
	}
	return ssh_config.Default(key)
}

// Endpoint is a destination after ssh_config expansion.
type Endpoint struct {
	Alias        string
	User         string
	HostName     string
	Port         int
	IdentityFile string
	ProxyJump    string
}

// Resolve expands a [user@]host destination the way ssh would.
func (c *Config) Resolve(dest string) Endpoint {
	user, alias := splitUserHost(dest)
	ep := Endpoint{Alias: alias, User: user}
	if ep.User == "" {
		ep.User = c.Get(alias, "User")
	}
	ep.HostName = c.Get(alias, "HostName")
	if ep.HostName == "" {
		ep.HostName = alias
	}
	ep.Port = 22
	if p, err := strconv.Atoi(c.Get(alias, "Port")); err == nil && p > 0 {
		ep.Port = p
	}
	ep.IdentityFile = expandTilde(c.Get(alias, "IdentityFile"))
	ep.ProxyJump = c.Get(alias, "ProxyJump")
	return ep
}

// Declares reports whether name appears literally as a Host pattern.
// Wildcard patterns never count.
func (c *Config) Declares(name string) bool {
	if c == nil || c.cfg == nil {
		return false
	}
	for _, h := range c.cfg.Hosts {
		for _, p := range h.Patterns {
			s := p.String()
			if strings.ContainsAny(s, "*?") {
				continue
			}
			if s == name {
				return true
			}
		}
	}
	return false
}

func splitUserHost(dest string) (user, host string) {
	dest = strings.TrimSpace(dest)
	if i := strings.LastIndex(dest, "@"); i > 0 {
		return dest[:i], dest[i+1:]
	}
	return "", dest
}

func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}
