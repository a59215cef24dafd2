package security

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tunnelmaster/stm/internal/appconfig"
	"github.com/tunnelmaster/stm/internal/model"
)

func auditConfig(t *testing.T) appconfig.Config {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	cfg := appconfig.Default()
	cfg.DataDir = filepath.Join(home, "data")
	cfg.KnownHosts = filepath.Join(home, ".ssh", "known_hosts")
	cfg.StmAliases = filepath.Join(home, ".bash_stm_aliases")
	if err := appconfig.Init(cfg); err != nil {
		t.Fatal(err)
	}
	return cfg
}

func TestRunLocalAudit_WorldReadableRegistryIsHigh(t *testing.T) {
	cfg := auditConfig(t)
	if err := os.WriteFile(cfg.RegistryPath(), []byte(`{"hosts":{}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	// WriteFile honours the umask; force the mode under test.
	if err := os.Chmod(cfg.RegistryPath(), 0o644); err != nil {
		t.Fatal(err)
	}

	report := RunLocalAudit(cfg, nil)
	if !report.HasHigh() {
		t.Fatalf("expected high severity finding, got %+v", report.Findings)
	}
	if report.Findings[0].Target != cfg.RegistryPath() {
		t.Fatalf("expected registry finding first, got %+v", report.Findings[0])
	}
}

func TestRunLocalAudit_CleanTree(t *testing.T) {
	cfg := auditConfig(t)
	if err := os.WriteFile(cfg.RegistryPath(), []byte(`{}`), 0o600); err != nil {
		t.Fatal(err)
	}
	report := RunLocalAudit(cfg, nil)
	if len(report.Findings) != 0 {
		t.Fatalf("expected no findings, got %+v", report.Findings)
	}
}

func TestRunLocalAudit_FindsLoosePermissions(t *testing.T) {
	cfg := auditConfig(t)
	home, _ := os.UserHomeDir()
	sshDir := filepath.Join(home, ".ssh")
	if err := os.MkdirAll(sshDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.Chmod(sshDir, 0o755); err != nil {
		t.Fatal(err)
	}
	cfgPath := filepath.Join(sshDir, "config")
	if err := os.WriteFile(cfgPath, []byte("Host test\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Chmod(cfgPath, 0o644); err != nil {
		t.Fatal(err)
	}

	report := RunLocalAudit(cfg, nil)
	if len(report.Findings) != 2 {
		t.Fatalf("expected two permission findings, got %+v", report.Findings)
	}
	if report.HasHigh() {
		t.Fatal("loose ssh permissions are medium severity")
	}
}

func TestRedactMessage(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	msg := home + "/.ssh/id_ed25519 permission denied"
	got := RedactMessage(msg)
	if got == msg {
		t.Fatalf("expected message to be redacted")
	}
	if strings.Contains(got, home) {
		t.Fatalf("home directory leaked: %s", got)
	}
}

func TestRedactCommand(t *testing.T) {
	argv := []string{"mysql", "-h", "127.0.0.1", "-P", "3310", "-u", "app", "-phunter2", "shop"}
	got := RedactCommand(argv)
	if got[7] != "-p[redacted]" {
		t.Fatalf("password not masked: %v", got)
	}
	if argv[7] != "-phunter2" {
		t.Fatal("input slice must not be modified")
	}
	got = RedactCommand([]string{"ssh", "bob@localhost", "-p", "10000"})
	if strings.Join(got, " ") != "ssh bob@localhost -p 10000" {
		t.Fatalf("ssh port must survive: %v", got)
	}
	got = RedactCommand([]string{"sqlcmd", "--password", "s3cret", "--password=x"})
	if strings.Join(got, " ") != "sqlcmd --password [redacted] --password=[redacted]" {
		t.Fatalf("unexpected: %v", got)
	}
}

func TestDebugMessageRedactsInlinePasswords(t *testing.T) {
	err := Classify("could not open mysql session", fmt.Errorf("exec mysql -u app -phunter2 shop: %w", model.ErrSessionLaunch))
	if got := DebugMessage(err); strings.Contains(got, "hunter2") {
		t.Fatalf("password leaked: %s", got)
	}
	if UserMessage(err, false) != "could not open mysql session" {
		t.Fatalf("unexpected user message: %s", UserMessage(err, false))
	}
	if !errors.Is(err, model.ErrSessionLaunch) {
		t.Fatal("classified error must unwrap")
	}
}
