package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kballard/go-shellquote"
	"github.com/tunnelmaster/stm/internal/events"
	"github.com/tunnelmaster/stm/internal/history"
	"github.com/tunnelmaster/stm/internal/shellalias"
)

const registryJSON = `{
  "hosts": {
    "ba-a-d-h": {"host": "db1.internal", "port": 10000, "users": {"bob": "db1bob", "amy": "db1amy"}}
  },
  "services": {
    "shopdb": {"port": 10005, "remote_tunnel": "db1bob", "service_host": "mysql.internal",
      "service_port": 3306, "service_type": "mysql", "sql_username": "app",
      "sql_password": "s3cret", "sql_database": "shop"}
  },
  "misc": {"last_auto_port": 10005}
}`

func setupHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("STM_JUMP_HOST", "")
	return home
}

func writeRegistry(t *testing.T, home string) {
	t.Helper()
	writeRegistryContent(t, home, registryJSON)
}

func writeRegistryContent(t *testing.T, home, content string) string {
	t.Helper()
	dir := filepath.Join(home, ".local", "share", "ssh_tunnel_master")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "hosts.conf")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

// aliasArgs expands the generated shell alias for alias the way bash does
// when it runs, and returns the arguments passed to stm.
func aliasArgs(t *testing.T, alias string) []string {
	t.Helper()
	line := strings.TrimSpace(shellalias.Line(alias))
	prefix := "alias " + alias + "='"
	if !strings.HasPrefix(line, prefix) || !strings.HasSuffix(line, "'") {
		t.Fatalf("unexpected alias line: %s", line)
	}
	body := strings.TrimSuffix(strings.TrimPrefix(line, prefix), "'")
	expanded := os.Expand(body, func(name string) string {
		return os.Getenv(strings.TrimSuffix(name, ":-"))
	})
	argv, err := shellquote.Split(expanded)
	if err != nil {
		t.Fatalf("split %q: %v", expanded, err)
	}
	if len(argv) == 0 || argv[0] != "stm" {
		t.Fatalf("alias does not run stm: %v", argv)
	}
	return argv[1:]
}

func execute(args ...string) (string, error) {
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestInfoAliasesListsUsersAndServices(t *testing.T) {
	home := setupHome(t)
	writeRegistry(t, home)

	out, err := execute("info", "--aliases")
	if err != nil {
		t.Fatalf("info --aliases: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 aliases, got: %s", out)
	}
	if want := fmt.Sprintf("%-30s - %s:%d", "db1amy", "db1.internal", 10000); !strings.HasPrefix(lines[0], want) {
		t.Fatalf("expected %q first, got %q", want, lines[0])
	}
	if !strings.Contains(lines[2], "shopdb") || !strings.Contains(lines[2], "mysql.internal:3306 via db1bob") {
		t.Fatalf("unexpected service line: %q", lines[2])
	}
	if !strings.Contains(lines[2], "[inactive]") {
		t.Fatalf("expected inactive state, got %q", lines[2])
	}
}

func TestInfoAliasesRecentOrdering(t *testing.T) {
	home := setupHome(t)
	writeRegistry(t, home)
	if err := history.Touch("shopdb"); err != nil {
		t.Fatal(err)
	}

	out, err := execute("info", "--aliases", "--recent")
	if err != nil {
		t.Fatalf("info --recent: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if !strings.HasPrefix(lines[0], "shopdb") {
		t.Fatalf("expected shopdb first, got: %s", out)
	}
}

func TestInfoAliasesRecentKeepsRepeatedAlias(t *testing.T) {
	home := setupHome(t)
	writeRegistryContent(t, home, strings.Replace(registryJSON, `"amy": "db1amy"`, `"amy": "db1amy", "carl": "shopdb"`, 1))
	if err := history.Touch("shopdb"); err != nil {
		t.Fatal(err)
	}

	out, err := execute("info", "--aliases", "--recent")
	if err != nil {
		t.Fatalf("info --recent: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 4 {
		t.Fatalf("expected 4 rows, got: %s", out)
	}
	if !strings.HasPrefix(lines[0], "shopdb") || !strings.Contains(lines[0], "db1.internal:10000") {
		t.Fatalf("expected the shopdb user row first, got %q", lines[0])
	}
	if !strings.HasPrefix(lines[1], "shopdb") || !strings.Contains(lines[1], "mysql.internal:3306 via db1bob") {
		t.Fatalf("expected the shopdb service row second, got %q", lines[1])
	}
}

func TestMalformedRegistryFallsBackToEmpty(t *testing.T) {
	home := setupHome(t)
	writeRegistryContent(t, home, "{not json")

	out, err := execute("info", "--aliases")
	if err != nil {
		t.Fatalf("info --aliases: %v", err)
	}
	if !strings.Contains(out, "no aliases registered") {
		t.Fatalf("expected the empty-registry message, got: %s", out)
	}
	if !strings.Contains(out, "continuing with an empty registry") {
		t.Fatalf("expected a warning about the registry, got: %s", out)
	}

	t.Setenv("STM_JUMP_HOST", "ops@jump.example.com")
	_, err = execute("ssh", "--alias", "x", "--launch", "0")
	if err == nil || !strings.Contains(err.Error(), "alias not found: x") {
		t.Fatalf("expected alias not found, got %v", err)
	}
}

func TestAgentRefusesMalformedRegistry(t *testing.T) {
	home := setupHome(t)
	path := writeRegistryContent(t, home, "{not json")

	_, err := execute("agent", "--type", "client")
	if err == nil || !strings.Contains(err.Error(), "parse") {
		t.Fatalf("expected a parse error, got %v", err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != "{not json" {
		t.Fatalf("registry was rewritten: %q", b)
	}
}

func TestInfoSummary(t *testing.T) {
	home := setupHome(t)
	writeRegistry(t, home)
	t.Setenv("STM_JUMP_HOST", "ops@jump.example.com")

	out, err := execute("info")
	if err != nil {
		t.Fatalf("info: %v", err)
	}
	if !strings.Contains(out, "ops@jump.example.com") || !strings.Contains(out, "1 hosts, 2 users, 1 services") {
		t.Fatalf("unexpected info output: %s", out)
	}
}

func TestSSHUnknownAlias(t *testing.T) {
	home := setupHome(t)
	writeRegistry(t, home)
	t.Setenv("STM_JUMP_HOST", "ops@jump.example.com")

	_, err := execute("ssh", "--alias", "ghost", "--launch", "0")
	if err == nil {
		t.Fatal("expected error for unknown alias")
	}
	if !strings.Contains(err.Error(), "alias not found: ghost") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestSSHRequiresJumpHost(t *testing.T) {
	home := setupHome(t)
	writeRegistry(t, home)

	_, err := execute("ssh", "--alias", "db1bob")
	if err == nil || !strings.Contains(err.Error(), "no jump host configured") {
		t.Fatalf("expected jump host error, got %v", err)
	}
}

func TestGeneratedAliasRunsOutsideKonsole(t *testing.T) {
	home := setupHome(t)
	writeRegistry(t, home)
	t.Setenv("STM_JUMP_HOST", "ops@jump.example.com")
	t.Setenv("KONSOLE_DBUS_SERVICE", "")
	os.Unsetenv("KONSOLE_DBUS_SERVICE")

	args := append(aliasArgs(t, "ghost"), "3")
	if args[1] != "--service=" {
		t.Fatalf("expected an empty --service value, got %v", args)
	}
	_, err := execute(args...)
	if err == nil || !strings.Contains(err.Error(), "alias not found: ghost") {
		t.Fatalf("expected the alias to reach the resolver, got %v", err)
	}
}

func TestSSHArgumentValidation(t *testing.T) {
	setupHome(t)
	t.Setenv("STM_JUMP_HOST", "jump")

	cases := []struct {
		args []string
		want string
	}{
		{[]string{"ssh", "--alias", "db1bob", "0"}, "count must be at least 1"},
		{[]string{"ssh", "--alias", "db1bob", "two"}, "count must be a number"},
		{[]string{"ssh", "--alias", "db1bob", "--launch", "2"}, "--launch must be 0 or 1"},
		{[]string{"ssh", "--alias", "db1bob", "--service", "xterm"}, "unknown launcher"},
	}
	for _, tc := range cases {
		_, err := execute(tc.args...)
		if err == nil || !strings.Contains(err.Error(), tc.want) {
			t.Fatalf("%v: expected %q, got %v", tc.args, tc.want, err)
		}
	}
}

func TestSCPRejectsDirection(t *testing.T) {
	setupHome(t)
	_, err := execute("scp", "--alias", "db1bob", "--direction", "sideways", "--from-files", "a", "--to-files", "b")
	if err == nil || !strings.Contains(err.Error(), "--direction must be up or down") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestSCPRejectsServiceAlias(t *testing.T) {
	home := setupHome(t)
	writeRegistry(t, home)
	t.Setenv("STM_JUMP_HOST", "ops@jump.example.com")

	_, err := execute("scp", "--alias", "shopdb", "--direction", "down", "--from-files", "a", "--to-files", "b")
	if err == nil || !strings.Contains(err.Error(), "shopdb is a service, use its tunnel alias db1bob") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestAgentRejectsUnknownType(t *testing.T) {
	setupHome(t)
	_, err := execute("agent", "--type", "server")
	if err == nil || !strings.Contains(err.Error(), "unknown agent type") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestDoctorJSONOutput(t *testing.T) {
	home := setupHome(t)
	writeRegistry(t, home)

	out, err := execute("doctor", "--json")
	if err != nil {
		t.Fatalf("doctor json: %v", err)
	}
	var payload struct {
		Issues []struct {
			Check string `json:"check"`
		} `json:"issues"`
	}
	if err := json.Unmarshal([]byte(out), &payload); err != nil {
		t.Fatalf("invalid doctor json: %v; output=%s", err, out)
	}
	found := false
	for _, i := range payload.Issues {
		if i.Check == "jump-host" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected jump-host issue without a configured jump host: %s", out)
	}
}

func TestEventsJSONOutput(t *testing.T) {
	setupHome(t)
	store := events.NewStore()
	for _, alias := range []string{"db1bob", "shopdb"} {
		if err := store.Append(events.Event{
			Timestamp:  time.Now().UTC(),
			Alias:      alias,
			Hop:        "primary",
			LocalPort:  10000,
			RemoteHost: "db1.internal",
			EventType:  events.TypeSpawned,
		}); err != nil {
			t.Fatalf("append event: %v", err)
		}
	}

	out, err := execute("events", "--alias", "shopdb", "--json")
	if err != nil {
		t.Fatalf("events json: %v", err)
	}
	var payload []map[string]any
	if err := json.Unmarshal([]byte(out), &payload); err != nil {
		t.Fatalf("invalid events json: %v; output=%s", err, out)
	}
	if len(payload) != 1 || payload[0]["alias"] != "shopdb" {
		t.Fatalf("unexpected events: %v", payload)
	}
	if payload[0]["event_type"] != "spawned" {
		t.Fatalf("unexpected event: %v", payload[0]["event_type"])
	}
}
