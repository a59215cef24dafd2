// Package util provides common utility functions and constants used across the
// stm application. This package is intentionally kept dependency-free
// (no imports from other internal/* packages) to serve as a shared foundation
// without introducing circular dependencies.
package util

import "time"

const (
	// DefaultSSHPort is the port every primary tunnel forwards to on the
	// target host.
	DefaultSSHPort = 22

	// AutoPortStart seeds the port allocator when the registry has no
	// persisted last_auto_port.
	AutoPortStart = 10000

	// AutoPortStep is the increment the allocator advances by while looking
	// for a free local port.
	AutoPortStep = 5

	// PrimarySettle is how long the constructor waits after spawning a
	// primary tunnel before handing its local port to the next hop.
	PrimarySettle = 500 * time.Millisecond

	// ServiceSettle is the equivalent wait after a service forward spawn.
	ServiceSettle = time.Second

	// LockTimeout bounds how long a tunnel request waits for another stm
	// process constructing the same hop.
	LockTimeout = 30 * time.Second

	// LoopbackHost is the destination used by every sub-tunnel hop.
	LoopbackHost = "localhost"
)
