package ports

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tunnelmaster/stm/internal/model"
)

func intPtr(v int) *int { return &v }

func TestAllocateEmptyRegistryStartsAtSeed(t *testing.T) {
	reg := model.NewRegistry()
	reg.Misc.LastAutoPort = 10000
	a := NewAllocator(reg, 10000, nil)

	port, err := a.Allocate(nil)
	require.NoError(t, err)
	assert.Equal(t, 10000, port)
	a.Commit(reg, port)
	assert.Equal(t, 10000, reg.Misc.LastAutoPort)
}

func TestAllocateSkipsUsedPortsInSteps(t *testing.T) {
	reg := model.NewRegistry()
	reg.Hosts.Set("h1", model.HostEntry{Host: "x", Port: 10000})
	reg.Services.Set("db", model.ServiceEntry{LocalPort: 10005})
	a := NewAllocator(reg, 10000, nil)

	port, err := a.Allocate(nil)
	require.NoError(t, err)
	assert.Equal(t, 10010, port)
	a.Commit(reg, port)
	assert.Equal(t, 10010, reg.Misc.LastAutoPort)

	port, err = a.Allocate(nil)
	require.NoError(t, err)
	assert.Equal(t, 10015, port)
}

func TestAllocateUsesDefaultSeed(t *testing.T) {
	a := NewAllocator(model.NewRegistry(), 12000, nil)
	assert.Equal(t, 12000, a.Next())
}

func TestAllocateRequestedPortConflict(t *testing.T) {
	reg := model.NewRegistry()
	reg.Hosts.Set("h1", model.HostEntry{Host: "x", Port: 10000})
	a := NewAllocator(reg, 10000, nil)

	_, err := a.Allocate(intPtr(10000))
	require.Error(t, err)
	var pc *model.PortConflictError
	require.True(t, errors.As(err, &pc))
	assert.Equal(t, model.ConflictInUse, pc.Reason)
	assert.True(t, errors.Is(err, model.ErrPortConflict))

	port, err := a.Allocate(intPtr(2222))
	require.NoError(t, err)
	assert.Equal(t, 2222, port)

	_, err = a.Allocate(intPtr(70000))
	require.True(t, errors.As(err, &pc))
	assert.Equal(t, model.ConflictInvalid, pc.Reason)
}

func TestRequestedPortDoesNotMoveCounter(t *testing.T) {
	reg := model.NewRegistry()
	reg.Misc.LastAutoPort = 10020
	a := NewAllocator(reg, 10000, nil)
	port, err := a.Allocate(intPtr(2222))
	require.NoError(t, err)
	a.Commit(reg, port)
	assert.Equal(t, 10020, reg.Misc.LastAutoPort)
}

func TestAllocateFlagsKnownHostsCollision(t *testing.T) {
	path := filepath.Join(t.TempDir(), "known_hosts")
	require.NoError(t, os.WriteFile(path, []byte("[localhost]:10000 ssh-ed25519 AAAA\n"), 0o600))
	reg := model.NewRegistry()
	a := NewAllocator(reg, 10000, NewKnownHosts(path))

	port, err := a.Allocate(nil)
	var pc *model.PortConflictError
	require.True(t, errors.As(err, &pc))
	assert.Equal(t, model.ConflictKnownHosts, pc.Reason)
	assert.Equal(t, 10000, port)

	// Operator picks a different port.
	a.Skip(port)
	port, err = a.Allocate(nil)
	require.NoError(t, err)
	assert.Equal(t, 10005, port)
	a.Commit(reg, port)
	assert.Equal(t, 10005, reg.Misc.LastAutoPort)
}

func TestAllocateKnownHostsRequestedThenRemoved(t *testing.T) {
	path := filepath.Join(t.TempDir(), "known_hosts")
	require.NoError(t, os.WriteFile(path, []byte("[localhost]:2222 ssh-rsa AAAA\n"), 0o600))
	kh := NewKnownHosts(path)
	a := NewAllocator(model.NewRegistry(), 10000, kh)

	_, err := a.Allocate(intPtr(2222))
	require.True(t, errors.Is(err, model.ErrPortConflict))

	n, err := kh.Remove(2222)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	port, err := a.Allocate(intPtr(2222))
	require.NoError(t, err)
	assert.Equal(t, 2222, port)
}
