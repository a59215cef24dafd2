// Package ports hands out local tunnel ports that collide neither with the
// registry nor with stale [localhost]:<port> host keys.
package ports

import (
	"github.com/tunnelmaster/stm/internal/model"
	"github.com/tunnelmaster/stm/internal/util"
)

// Allocator picks local ports. It is seeded from the registry and writes the
// advanced counter back through Commit.
type Allocator struct {
	inUse    map[int]struct{}
	lastAuto int
	known    *KnownHosts
}

// NewAllocator seeds an allocator from reg. start is used when the registry
// has never recorded an automatic port. known may be nil to skip the
// known_hosts reconciliation.
func NewAllocator(reg *model.Registry, start int, known *KnownHosts) *Allocator {
	last := reg.Misc.LastAutoPort
	if last <= 0 {
		last = start
	}
	return &Allocator{inUse: reg.PortSet(), lastAuto: last, known: known}
}

// LastAutoPort is the counter value to persist.
func (a *Allocator) LastAutoPort() int { return a.lastAuto }

// Next returns the port an automatic allocation would try first, without
// checking known_hosts. The wizard shows it as the default.
func (a *Allocator) Next() int {
	p := a.lastAuto
	for a.taken(p) {
		p += util.AutoPortStep
	}
	return p
}

// Allocate returns requested when it is free, or the next automatic port when
// requested is nil. Either way the port is checked against known_hosts; a
// *model.PortConflictError with ConflictKnownHosts leaves the decision
// (KnownHosts.Remove or Skip) to the caller.
func (a *Allocator) Allocate(requested *int) (int, error) {
	if requested != nil {
		port := *requested
		if util.ValidatePort(port) != nil {
			return 0, &model.PortConflictError{Port: port, Reason: model.ConflictInvalid}
		}
		if a.taken(port) {
			return 0, &model.PortConflictError{Port: port, Reason: model.ConflictInUse}
		}
		return port, a.checkKnownHosts(port)
	}

	port := a.Next()
	if util.ValidatePort(port) != nil {
		return 0, &model.PortConflictError{Port: port, Reason: model.ConflictInvalid}
	}
	a.lastAuto = port
	return port, a.checkKnownHosts(port)
}

// Skip abandons the current automatic candidate so the next Allocate moves
// past it. Used when the operator refuses to drop a stale host key.
func (a *Allocator) Skip(port int) {
	a.inUse[port] = struct{}{}
}

// Commit records port as assigned and writes the counter into reg.
func (a *Allocator) Commit(reg *model.Registry, port int) {
	a.inUse[port] = struct{}{}
	if a.lastAuto > reg.Misc.LastAutoPort {
		reg.Misc.LastAutoPort = a.lastAuto
	}
}

func (a *Allocator) taken(port int) bool {
	_, ok := a.inUse[port]
	return ok
}

func (a *Allocator) checkKnownHosts(port int) error {
	if a.known == nil {
		return nil
	}
	conflict, err := a.known.HasLocalhostPort(port)
	if err != nil {
		return err
	}
	if conflict {
		return &model.PortConflictError{Port: port, Reason: model.ConflictKnownHosts}
	}
	return nil
}
