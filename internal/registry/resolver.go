package registry

import (
	"github.com/tunnelmaster/stm/internal/model"
)

// Resolver answers alias lookups against a loaded registry.
type Resolver struct {
	reg *model.Registry
}

// NewResolver wraps reg.
func NewResolver(reg *model.Registry) *Resolver {
	return &Resolver{reg: reg}
}

// ResolveHostAlias finds the first host, in registry order, whose users map
// contains alias and returns it with the owning username.
func (r *Resolver) ResolveHostAlias(alias string) (model.Target, bool) {
	var (
		target model.Target
		found  bool
	)
	r.reg.Hosts.Each(func(key string, h model.HostEntry) bool {
		user, ok := h.UsernameFor(alias)
		if !ok {
			return true
		}
		target = model.Target{HostAlias: key, Host: h.Host, Port: h.Port, Username: user}
		found = true
		return false
	})
	return target, found
}

// ResolveService looks a service up by its exact alias.
func (r *Resolver) ResolveService(alias string) (model.ServiceEntry, bool) {
	return r.reg.Services.Get(alias)
}

// ResolveRemoteTunnelTarget anchors a service to its host-level alias.
func (r *Resolver) ResolveRemoteTunnelTarget(svc model.ServiceEntry) (model.Target, bool) {
	return r.ResolveHostAlias(svc.RemoteTunnelAlias)
}

// Route is a fully resolved request: the primary hop, and the service hop
// when the alias named a service.
type Route struct {
	Alias   string
	Primary model.Target
	Service *model.ServiceEntry
}

// Resolve maps a requested alias to its route. Service aliases take
// precedence over host aliases. Any miss, including a service whose backing
// alias is gone, is reported as the requested alias not being found.
func (r *Resolver) Resolve(alias string) (Route, error) {
	hostAlias := alias
	svc, isService := r.ResolveService(alias)
	if isService {
		hostAlias = svc.RemoteTunnelAlias
	}
	target, ok := r.ResolveHostAlias(hostAlias)
	if !ok {
		return Route{}, &model.NotFoundError{Kind: "alias", Name: alias}
	}
	route := Route{Alias: alias, Primary: target}
	if isService {
		route.Service = &svc
	}
	return route, nil
}
