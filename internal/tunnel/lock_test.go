package tunnel

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/juju/mutex/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockNameIsValidMutexName(t *testing.T) {
	valid := regexp.MustCompile(`^[a-z]+[a-z0-9.-]*$`)
	for _, key := range []string{"10000:db1.internal", "3310:MySQL_Primary", ""} {
		name := LockName(key)
		assert.Regexp(t, valid, name)
	}
	assert.Equal(t, LockName("10000:db1"), LockName("10000:db1"))
	assert.NotEqual(t, LockName("10000:db1"), LockName("10005:db1"))
}

type releaser struct{ released *bool }

func (r releaser) Release() { *r.released = true }

func TestMachineLockerPassesSpec(t *testing.T) {
	var got mutex.Spec
	released := false
	l := NewMachineLocker(3 * time.Second)
	l.acquire = func(s mutex.Spec) (mutex.Releaser, error) {
		got = s
		return releaser{&released}, nil
	}
	unlock, err := l.Lock(context.Background(), "10000:db1.internal")
	require.NoError(t, err)
	assert.Equal(t, LockName("10000:db1.internal"), got.Name)
	assert.Equal(t, 3*time.Second, got.Timeout)
	assert.NotNil(t, got.Cancel)
	unlock()
	assert.True(t, released)
}

func TestMachineLockerTimeout(t *testing.T) {
	l := NewMachineLocker(time.Second)
	l.acquire = func(mutex.Spec) (mutex.Releaser, error) { return nil, mutex.ErrTimeout }
	_, err := l.Lock(context.Background(), "10000:db1.internal")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")

	l.acquire = func(mutex.Spec) (mutex.Releaser, error) { return nil, errors.New("boom") }
	_, err = l.Lock(context.Background(), "k")
	assert.ErrorContains(t, err, "boom")
}

func TestMachineLockerRealMutex(t *testing.T) {
	l := NewMachineLocker(2 * time.Second)
	key := "stm-test-" + time.Now().Format("150405.000000000")
	unlock, err := l.Lock(context.Background(), key)
	if err != nil {
		t.Skipf("machine mutex unavailable here: %v", err)
	}
	unlock()
	unlock2, err := l.Lock(context.Background(), key)
	require.NoError(t, err)
	unlock2()
}
