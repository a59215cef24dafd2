package registry

import (
	"fmt"
	"regexp"
	"sort"

	"github.com/tunnelmaster/stm/internal/model"
)

var aliasRx = regexp.MustCompile(`^\w+$`)

// ValidateAliasSyntax accepts names usable as a bash alias.
func ValidateAliasSyntax(alias string) error {
	if alias == "" {
		return fmt.Errorf("alias must be assigned")
	}
	if !aliasRx.MatchString(alias) {
		return fmt.Errorf("alias %q may only contain letters, digits and underscores", alias)
	}
	return nil
}

// AliasTaken reports whether alias is already bound to a user or a service.
func AliasTaken(reg *model.Registry, alias string) bool {
	if _, ok := reg.AliasIndex()[alias]; ok {
		return true
	}
	_, ok := reg.Services.Get(alias)
	return ok
}

// Problem is one registry invariant violation.
type Problem struct {
	Check   string
	Target  string
	Message string
}

// Check verifies the invariants Load deliberately skips: alias and port
// uniqueness and service references.
func Check(reg *model.Registry) []Problem {
	var problems []Problem

	aliasOwners := map[string][]string{}
	reg.Hosts.Each(func(key string, h model.HostEntry) bool {
		for user, alias := range h.Users {
			aliasOwners[alias] = append(aliasOwners[alias], key+"/"+user)
		}
		return true
	})
	reg.Services.Each(func(key string, _ model.ServiceEntry) bool {
		aliasOwners[key] = append(aliasOwners[key], "service")
		return true
	})
	for alias, owners := range aliasOwners {
		if len(owners) < 2 {
			continue
		}
		sort.Strings(owners)
		problems = append(problems, Problem{
			Check:   "duplicate-alias",
			Target:  alias,
			Message: fmt.Sprintf("alias is bound %d times (%v)", len(owners), owners),
		})
	}

	portOwners := map[int][]string{}
	reg.Hosts.Each(func(key string, h model.HostEntry) bool {
		portOwners[h.Port] = append(portOwners[h.Port], "host "+key)
		return true
	})
	reg.Services.Each(func(key string, s model.ServiceEntry) bool {
		portOwners[s.LocalPort] = append(portOwners[s.LocalPort], "service "+key)
		return true
	})
	for port, owners := range portOwners {
		if len(owners) < 2 {
			continue
		}
		sort.Strings(owners)
		problems = append(problems, Problem{
			Check:   "duplicate-port",
			Target:  fmt.Sprintf("%d", port),
			Message: fmt.Sprintf("port is assigned %d times (%v)", len(owners), owners),
		})
	}

	res := NewResolver(reg)
	reg.Services.Each(func(key string, s model.ServiceEntry) bool {
		if _, ok := res.ResolveRemoteTunnelTarget(s); !ok {
			problems = append(problems, Problem{
				Check:   "dangling-service",
				Target:  key,
				Message: fmt.Sprintf("remote tunnel alias %q does not exist", s.RemoteTunnelAlias),
			})
		}
		if _, ok := s.ServiceType.Profile(); !ok {
			problems = append(problems, Problem{
				Check:   "unknown-service-type",
				Target:  key,
				Message: fmt.Sprintf("service type %q has no client profile", s.ServiceType),
			})
		}
		return true
	})

	sort.Slice(problems, func(i, j int) bool {
		if problems[i].Check != problems[j].Check {
			return problems[i].Check < problems[j].Check
		}
		return problems[i].Target < problems[j].Target
	})
	return problems
}
