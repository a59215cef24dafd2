package tunnel

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/juju/clock"
	"github.com/juju/mutex/v2"
)

// Locker serialises construction of one tunnel key across processes.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// MachineLocker holds a machine-wide named mutex per tunnel key, so two stm
// invocations racing for the same forward spawn at most one autossh.
type MachineLocker struct {
	Timeout time.Duration
	Delay   time.Duration
	Clock   clock.Clock

	acquire func(mutex.Spec) (mutex.Releaser, error)
}

// NewMachineLocker waits up to timeout for a busy key.
func NewMachineLocker(timeout time.Duration) *MachineLocker {
	return &MachineLocker{
		Timeout: timeout,
		Delay:   100 * time.Millisecond,
		Clock:   clock.WallClock,
		acquire: mutex.Acquire,
	}
}

func (m *MachineLocker) Lock(ctx context.Context, key string) (func(), error) {
	spec := mutex.Spec{
		Name:    LockName(key),
		Clock:   m.Clock,
		Delay:   m.Delay,
		Timeout: m.Timeout,
		Cancel:  ctx.Done(),
	}
	r, err := m.acquire(spec)
	if err != nil {
		if errors.Is(err, mutex.ErrTimeout) {
			return nil, fmt.Errorf("timed out after %s waiting for %s", m.Timeout, key)
		}
		return nil, fmt.Errorf("lock %s: %w", key, err)
	}
	return r.Release, nil
}

// LockName derives a mutex name for key. Names are restricted to lowercase
// letters, digits, dots and dashes, so the key is hashed.
func LockName(key string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return fmt.Sprintf("stm-%08x", h.Sum32())
}

// NopLocker never blocks.
type NopLocker struct{}

func (NopLocker) Lock(context.Context, string) (func(), error) { return func() {}, nil }
