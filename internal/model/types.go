// Package model holds the registry data model shared by every stm component.
package model

import (
	"sort"
	"strconv"
)

// HostEntry is one remote host reachable through the jump host. Users maps
// remote usernames to globally unique aliases.
type HostEntry struct {
	Alias string            `json:"-"`
	Host  string            `json:"host"`
	Port  int               `json:"port"`
	Users map[string]string `json:"users"`
}

// UsernameFor reverse-maps alias to the username that owns it.
func (h HostEntry) UsernameFor(alias string) (string, bool) {
	// Sorted so a hand-edited file with a duplicated alias resolves the same
	// way on every run.
	names := make([]string, 0, len(h.Users))
	for name := range h.Users {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if h.Users[name] == alias {
			return name, true
		}
	}
	return "", false
}

// ServiceEntry is a service forward (typically a database) layered over the
// primary tunnel of RemoteTunnelAlias.
type ServiceEntry struct {
	Alias             string      `json:"-"`
	LocalPort         int         `json:"port"`
	RemoteTunnelAlias string      `json:"remote_tunnel"`
	ServiceHost       string      `json:"service_host"`
	ServicePort       int         `json:"service_port"`
	ServiceType       ServiceType `json:"service_type"`
	SQLUsername       string      `json:"sql_username"`
	SQLPassword       string      `json:"sql_password"`
	SQLDatabase       string      `json:"sql_database"`
}

// Misc carries registry bookkeeping.
type Misc struct {
	LastAutoPort int `json:"last_auto_port,omitempty"`
}

// Registry is the persisted aggregate of hosts and services.
type Registry struct {
	Hosts    OrderedMap[HostEntry]    `json:"hosts"`
	Services OrderedMap[ServiceEntry] `json:"services"`
	Misc     Misc                     `json:"misc"`
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Normalize copies map keys into the entries' Alias fields and replaces nil
// user maps. It is applied after every decode.
func (r *Registry) Normalize() {
	for _, k := range r.Hosts.Keys() {
		h, _ := r.Hosts.Get(k)
		h.Alias = k
		if h.Users == nil {
			h.Users = map[string]string{}
		}
		r.Hosts.Set(k, h)
	}
	for _, k := range r.Services.Keys() {
		s, _ := r.Services.Get(k)
		s.Alias = k
		r.Services.Set(k, s)
	}
}

// AliasInfo is an AliasIndex record.
type AliasInfo struct {
	HostAlias string
	Host      string
	Port      int
}

// AliasIndex maps every user alias to its host. The first host in registry
// order wins when the file carries a duplicate.
func (r *Registry) AliasIndex() map[string]AliasInfo {
	idx := make(map[string]AliasInfo)
	r.Hosts.Each(func(key string, h HostEntry) bool {
		for _, alias := range h.Users {
			if _, ok := idx[alias]; ok {
				continue
			}
			idx[alias] = AliasInfo{HostAlias: key, Host: h.Host, Port: h.Port}
		}
		return true
	})
	return idx
}

// PortSet returns every local port assigned to a host or a service.
func (r *Registry) PortSet() map[int]struct{} {
	ports := make(map[int]struct{})
	r.Hosts.Each(func(_ string, h HostEntry) bool {
		ports[h.Port] = struct{}{}
		return true
	})
	r.Services.Each(func(_ string, s ServiceEntry) bool {
		ports[s.LocalPort] = struct{}{}
		return true
	})
	return ports
}

// Target is a resolved host-level alias: where the primary tunnel points and
// which user the sub-tunnel logs in as.
type Target struct {
	HostAlias string
	Host      string
	Port      int
	Username  string
}

// Destination renders user@localhost, the address every sub-tunnel dials.
func (t Target) Destination() string {
	return t.Username + "@localhost"
}

// PortString is Port as a command line argument.
func (t Target) PortString() string {
	return strconv.Itoa(t.Port)
}
