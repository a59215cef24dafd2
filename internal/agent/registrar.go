// Package agent validates and records new registry entries: users on hosts
// reached through the jump host, and services layered over their tunnels.
// The interactive form in internal/ui drives it one field at a time.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/tunnelmaster/stm/internal/model"
	"github.com/tunnelmaster/stm/internal/ports"
	"github.com/tunnelmaster/stm/internal/registry"
	"github.com/tunnelmaster/stm/internal/shellalias"
	"github.com/tunnelmaster/stm/internal/sshconfig"
	"github.com/tunnelmaster/stm/internal/util"
)

// DNS is the subset of *net.Resolver the registrar needs.
type DNS interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
	LookupAddr(ctx context.Context, addr string) ([]string, error)
}

// Saver persists the registry. *registry.Store satisfies it.
type Saver interface {
	Save(reg *model.Registry) error
}

// Registrar owns one loaded registry for the duration of a wizard run.
type Registrar struct {
	Reg     *model.Registry
	Store   Saver
	Alloc   *ports.Allocator
	Known   *ports.KnownHosts
	Aliases shellalias.Files
	DNS     DNS
	// SSH is optional; when set, aliases that are also ~/.ssh/config hosts
	// produce a warning.
	SSH *sshconfig.Config
}

// HostRef is a host chosen or typed during client registration.
type HostRef struct {
	Alias    string
	Host     string
	Port     int
	Existing bool
}

// Hosts lists the registered hosts in registry order.
func (r *Registrar) Hosts() []HostRef {
	var out []HostRef
	r.Reg.Hosts.Each(func(key string, h model.HostEntry) bool {
		out = append(out, HostRef{Alias: key, Host: h.Host, Port: h.Port, Existing: true})
		return true
	})
	return out
}

// AliasChoice is a host-level alias services can ride on.
type AliasChoice struct {
	Alias string
	Host  string
}

// UserAliases lists every user alias in registry order.
func (r *Registrar) UserAliases() []AliasChoice {
	var out []AliasChoice
	r.Reg.Hosts.Each(func(_ string, h model.HostEntry) bool {
		for _, user := range sortedUsers(h) {
			out = append(out, AliasChoice{Alias: h.Users[user], Host: h.Host})
		}
		return true
	})
	return out
}

// ResolveHost turns operator input into a host. IP input is reverse
// resolved for display; DNS input must resolve. A host already in the
// registry keeps its key and port.
func (r *Registrar) ResolveHost(ctx context.Context, input string) (HostRef, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return HostRef{}, errors.New("empty host is not allowed")
	}
	ip, fqdn := input, input
	if isIP(input) {
		if names, err := r.DNS.LookupAddr(ctx, input); err == nil && len(names) > 0 {
			fqdn = strings.TrimSuffix(names[0], ".")
		}
	} else {
		addrs, err := r.DNS.LookupHost(ctx, input)
		if err != nil || len(addrs) == 0 {
			return HostRef{}, fmt.Errorf("hostname not found: %s", input)
		}
		ip = addrs[0]
	}
	ref := HostRef{Alias: HostAliasFor(ip, fqdn), Host: fqdn}
	if h, ok := r.Reg.Hosts.Get(ref.Alias); ok {
		ref.Host = h.Host
		ref.Port = h.Port
		ref.Existing = true
	}
	return ref, nil
}

// ResolveServiceHost validates a service host the way ResolveHost does and
// returns the name to store.
func (r *Registrar) ResolveServiceHost(ctx context.Context, input string) (string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", errors.New("empty host is not allowed")
	}
	if isIP(input) {
		if names, err := r.DNS.LookupAddr(ctx, input); err == nil && len(names) > 0 {
			return strings.TrimSuffix(names[0], "."), nil
		}
		return input, nil
	}
	if _, err := r.DNS.LookupHost(ctx, input); err != nil {
		return "", fmt.Errorf("hostname not found: %s", input)
	}
	return input, nil
}

// ValidateAlias rejects malformed aliases and names already bound in the
// registry or in the user's bash alias files.
func (r *Registrar) ValidateAlias(alias string) error {
	if err := registry.ValidateAliasSyntax(alias); err != nil {
		return err
	}
	if registry.AliasTaken(r.Reg, alias) {
		return fmt.Errorf("alias already assigned: %s", alias)
	}
	taken, err := r.Aliases.Exists(alias)
	if err != nil {
		return err
	}
	if taken {
		return fmt.Errorf("alias already assigned in bash aliases: %s", alias)
	}
	if r.SSH != nil && r.SSH.Declares(alias) {
		slog.Warn("alias shadows an ~/.ssh/config host", "alias", alias)
	}
	return nil
}

// ValidateUsername rejects empty names and users already on host.
func (r *Registrar) ValidateUsername(host HostRef, user string) error {
	user = strings.TrimSpace(user)
	if user == "" {
		return errors.New("user must be assigned")
	}
	if h, ok := r.Reg.Hosts.Get(host.Alias); ok {
		if _, dup := h.Users[user]; dup {
			return fmt.Errorf("user already exists: %s", user)
		}
	}
	return nil
}

// SuggestedPort is the automatic port offered as the default.
func (r *Registrar) SuggestedPort() int {
	return r.Alloc.Next()
}

// AllocatePort reserves requested, or the next automatic port when nil.
// A known_hosts collision is returned as a *model.PortConflictError so the
// caller can choose between ForgetKnownHost and SkipPort.
func (r *Registrar) AllocatePort(requested *int) (int, error) {
	return r.Alloc.Allocate(requested)
}

// ForgetKnownHost drops the stale [localhost]:port host keys.
func (r *Registrar) ForgetKnownHost(port int) error {
	n, err := r.Known.Remove(port)
	if err != nil {
		return err
	}
	slog.Info("removed stale known_hosts entries", "port", port, "lines", n)
	return nil
}

// SkipPort moves automatic allocation past port.
func (r *Registrar) SkipPort(port int) {
	r.Alloc.Skip(port)
}

// Client is a completed client registration.
type Client struct {
	Host     HostRef
	Port     int
	Username string
	Alias    string
}

// AddClient records a user on a host, creating the host when it is new, and
// persists the registry and the bash alias.
func (r *Registrar) AddClient(c Client) error {
	if err := r.ValidateUsername(c.Host, c.Username); err != nil {
		return err
	}
	if err := r.ValidateAlias(c.Alias); err != nil {
		return err
	}
	h, exists := r.Reg.Hosts.Get(c.Host.Alias)
	if !exists {
		if err := r.checkFreePort(c.Port); err != nil {
			return err
		}
		h = model.HostEntry{Alias: c.Host.Alias, Host: c.Host.Host, Port: c.Port, Users: map[string]string{}}
	}
	h.Users[strings.TrimSpace(c.Username)] = c.Alias
	r.Reg.Hosts.Set(c.Host.Alias, h)
	if !exists {
		r.Alloc.Commit(r.Reg, c.Port)
	}
	if err := r.persist(c.Alias); err != nil {
		return err
	}
	slog.Info("registered client", "alias", c.Alias, "host", h.Host, "port", h.Port, "user", c.Username)
	return nil
}

// Service is a completed service registration. A zero ServicePort means the
// type's default.
type Service struct {
	Alias             string
	RemoteTunnelAlias string
	Port              int
	ServiceHost       string
	ServiceType       string
	ServicePort       int
	SQLUsername       string
	SQLPassword       string
	SQLDatabase       string
}

// ValidateRemoteTunnel requires alias to be a registered user alias.
func (r *Registrar) ValidateRemoteTunnel(alias string) error {
	if _, ok := registry.NewResolver(r.Reg).ResolveHostAlias(alias); !ok {
		return &model.NotFoundError{Kind: "remote tunnel alias", Name: alias}
	}
	return nil
}

// AddService records a service layered over an existing user alias.
func (r *Registrar) AddService(s Service) error {
	if err := r.ValidateRemoteTunnel(s.RemoteTunnelAlias); err != nil {
		return err
	}
	if err := r.ValidateAlias(s.Alias); err != nil {
		return err
	}
	if err := r.checkFreePort(s.Port); err != nil {
		return err
	}
	st, ok := model.ParseServiceType(s.ServiceType)
	if !ok {
		return fmt.Errorf("unknown service type %q (want one of %v)", s.ServiceType, model.KnownServiceTypes())
	}
	if strings.TrimSpace(s.ServiceHost) == "" {
		return errors.New("empty host is not allowed")
	}
	if s.ServicePort == 0 {
		profile, _ := st.Profile()
		s.ServicePort = profile.DefaultPort
	}
	if err := util.ValidatePort(s.ServicePort); err != nil {
		return err
	}
	for _, f := range [][2]string{
		{"SQL username", s.SQLUsername},
		{"SQL password", s.SQLPassword},
		{"SQL database name", s.SQLDatabase},
	} {
		if strings.TrimSpace(f[1]) == "" {
			return fmt.Errorf("empty %s is not allowed", f[0])
		}
	}
	r.Reg.Services.Set(s.Alias, model.ServiceEntry{
		Alias:             s.Alias,
		LocalPort:         s.Port,
		RemoteTunnelAlias: s.RemoteTunnelAlias,
		ServiceHost:       s.ServiceHost,
		ServicePort:       s.ServicePort,
		ServiceType:       st,
		SQLUsername:       s.SQLUsername,
		SQLPassword:       s.SQLPassword,
		SQLDatabase:       s.SQLDatabase,
	})
	r.Alloc.Commit(r.Reg, s.Port)
	if err := r.persist(s.Alias); err != nil {
		return err
	}
	slog.Info("registered service", "alias", s.Alias, "type", st, "service_host", s.ServiceHost, "port", s.Port)
	return nil
}

func (r *Registrar) checkFreePort(port int) error {
	if util.ValidatePort(port) != nil {
		return &model.PortConflictError{Port: port, Reason: model.ConflictInvalid}
	}
	if _, taken := r.Reg.PortSet()[port]; taken {
		return &model.PortConflictError{Port: port, Reason: model.ConflictInUse}
	}
	return nil
}

func (r *Registrar) persist(alias string) error {
	if err := r.Store.Save(r.Reg); err != nil {
		return err
	}
	if err := r.Aliases.Append(alias); err != nil {
		// The registry entry is usable without the shortcut.
		slog.Warn("failed to append bash alias", "alias", alias, "error", err)
	}
	return nil
}

func sortedUsers(h model.HostEntry) []string {
	names := make([]string, 0, len(h.Users))
	for name := range h.Users {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
