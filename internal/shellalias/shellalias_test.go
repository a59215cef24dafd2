package shellalias

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendWritesHeaderOnce(t *testing.T) {
	dir := t.TempDir()
	f := Files{Own: filepath.Join(dir, ".bash_stm_aliases")}

	require.NoError(t, f.Append("bobalias"))
	require.NoError(t, f.Append("shop"))

	b, err := os.ReadFile(f.Own)
	require.NoError(t, err)
	content := string(b)
	assert.True(t, strings.HasPrefix(content, "#!/bin/bash\n\n"))
	assert.Equal(t, 1, strings.Count(content, "#!/bin/bash"))
	assert.Contains(t, content, `alias bobalias='stm ssh --service="${KONSOLE_DBUS_SERVICE:-}" --alias bobalias'`)
	assert.Contains(t, content, `alias shop='stm ssh`)
}

func TestLineDefersExpansionToUse(t *testing.T) {
	line := Line("bobalias")
	require.True(t, strings.HasPrefix(line, "alias bobalias='"))
	body := strings.TrimSuffix(strings.TrimPrefix(line, "alias bobalias='"), "'\n")
	assert.NotContains(t, body, "'")
	assert.Contains(t, body, `--service="${KONSOLE_DBUS_SERVICE:-}"`)
}

func TestExistsChecksAllFiles(t *testing.T) {
	dir := t.TempDir()
	user := filepath.Join(dir, ".bash_aliases")
	require.NoError(t, os.WriteFile(user, []byte("# mine\nalias ll='ls -l'\nalias gs=\"git status\"\n"), 0o644))
	f := Files{Own: filepath.Join(dir, ".bash_stm_aliases"), Others: []string{user, filepath.Join(dir, "missing")}}
	require.NoError(t, f.Append("bobalias"))

	for alias, want := range map[string]bool{"ll": true, "gs": true, "bobalias": true, "bob": false, "mine": false} {
		got, err := f.Exists(alias)
		require.NoError(t, err)
		assert.Equal(t, want, got, alias)
	}
}

func TestAppendWithoutFile(t *testing.T) {
	assert.Error(t, Files{}.Append("x"))
}
