package probe

import (
	"context"
	"os/exec"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startMarker runs a long sleep whose argv carries the forward spec, standing
// in for an autossh process.
func startMarker(t *testing.T, spec string) {
	t.Helper()
	cmd := exec.Command("sh", "-c", "sleep 30; exit 0", "-L", spec)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	require.NoError(t, cmd.Start())
	t.Cleanup(func() {
		_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		_ = cmd.Wait()
	})
	time.Sleep(100 * time.Millisecond)
}

func TestProcessTableFindsMarker(t *testing.T) {
	startMarker(t, "47123:probe-test.invalid:22")
	p := NewProcessTable()
	ctx := context.Background()

	active, err := p.Active(ctx, 47123, "probe-test.invalid")
	require.NoError(t, err)
	assert.True(t, active)

	active, err = p.Active(ctx, 47124, "probe-test.invalid")
	require.NoError(t, err)
	assert.False(t, active)
}

func TestPgrepFindsMarker(t *testing.T) {
	if _, err := exec.LookPath("pgrep"); err != nil {
		t.Skip("pgrep not available")
	}
	startMarker(t, "47133:pgrep-test.invalid:22")

	active, err := Pgrep{}.Active(context.Background(), 47133, "pgrep-test.invalid")
	require.NoError(t, err)
	assert.True(t, active)

	active, err = Pgrep{}.Active(context.Background(), 47134, "pgrep-test.invalid")
	require.NoError(t, err)
	assert.False(t, active)
}

func TestNew(t *testing.T) {
	p, err := New("")
	require.NoError(t, err)
	assert.IsType(t, &ProcessTable{}, p)
	p, err = New("pgrep")
	require.NoError(t, err)
	assert.IsType(t, Pgrep{}, p)
	_, err = New("socket")
	assert.Error(t, err)
}
