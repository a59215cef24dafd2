package model

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrPersistence        = errors.New("persistence failure")
	ErrPortConflict       = errors.New("port conflict")
	ErrTunnelConstruction = errors.New("tunnel construction failed")
	ErrSessionLaunch      = errors.New("session launch failed")
)

// NotFoundError reports an alias or service lookup miss.
type NotFoundError struct {
	Kind string
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.Name)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// PersistenceError wraps a registry read or write failure.
type PersistenceError struct {
	Op   string
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func (e *PersistenceError) Is(target error) bool { return target == ErrPersistence }

// ConflictReason says why a port cannot be used.
type ConflictReason string

const (
	ConflictInUse      ConflictReason = "in-use"
	ConflictKnownHosts ConflictReason = "known-hosts"
	ConflictInvalid    ConflictReason = "invalid"
)

// PortConflictError rejects a port allocation.
type PortConflictError struct {
	Port   int
	Reason ConflictReason
}

func (e *PortConflictError) Error() string {
	switch e.Reason {
	case ConflictKnownHosts:
		return fmt.Sprintf("port %d already has a [localhost]:%d entry in known_hosts", e.Port, e.Port)
	case ConflictInvalid:
		return fmt.Sprintf("port %d is not a valid TCP port", e.Port)
	default:
		return fmt.Sprintf("port %d already assigned", e.Port)
	}
}

func (e *PortConflictError) Is(target error) bool { return target == ErrPortConflict }

// TunnelConstructionError reports a failed hop spawn.
type TunnelConstructionError struct {
	Alias string
	Hop   string
	Err   error
}

func (e *TunnelConstructionError) Error() string {
	return fmt.Sprintf("build %s tunnel for %s: %v", e.Hop, e.Alias, e.Err)
}

func (e *TunnelConstructionError) Unwrap() error { return e.Err }

func (e *TunnelConstructionError) Is(target error) bool { return target == ErrTunnelConstruction }

// SessionLaunchError reports a terminal automation failure. The tunnel it was
// meant to use stays up.
type SessionLaunchError struct {
	Launcher string
	Err      error
}

func (e *SessionLaunchError) Error() string {
	return fmt.Sprintf("launch session via %s: %v", e.Launcher, e.Err)
}

func (e *SessionLaunchError) Unwrap() error { return e.Err }

func (e *SessionLaunchError) Is(target error) bool { return target == ErrSessionLaunch }
