package doctor

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/tunnelmaster/stm/internal/appconfig"
	"github.com/tunnelmaster/stm/internal/model"
	"github.com/tunnelmaster/stm/internal/ports"
)

func baseInputs(t *testing.T) Inputs {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cfg := appconfig.Default()
	cfg.JumpHost = "ops@jump.example.com"
	cfg.DataDir = filepath.Join(home, "ssh_tunnel_master")
	cfg.KnownHosts = filepath.Join(home, "known_hosts")
	return Inputs{
		Config:   cfg,
		Registry: model.NewRegistry(),
		Known:    ports.NewKnownHosts(cfg.KnownHosts),
		LookPath: func(string) error { return nil },
		LookupHost: func(context.Context, string) ([]string, error) {
			return []string{"192.0.2.10"}, nil
		},
	}
}

func hasCheck(r Report, check string) bool {
	for _, i := range r.Issues {
		if i.Check == check {
			return true
		}
	}
	return false
}

func TestRunCleanEnvironment(t *testing.T) {
	report := Run(context.Background(), baseInputs(t))
	if len(report.Issues) != 0 {
		t.Fatalf("expected no issues, got %+v", report.Issues)
	}
}

func TestRunReportsMissingBinaries(t *testing.T) {
	in := baseInputs(t)
	in.LookPath = func(name string) error {
		if name == "autossh" {
			return errors.New("autossh binary not found in PATH")
		}
		return nil
	}
	report := Run(context.Background(), in)
	if !report.HasHigh() || !hasCheck(report, "binary") {
		t.Fatalf("expected high binary issue, got %+v", report.Issues)
	}
	if report.Issues[0].Target != "autossh" {
		t.Fatalf("expected autossh first, got %+v", report.Issues[0])
	}
}

func TestRunJumpHost(t *testing.T) {
	in := baseInputs(t)
	in.Config.JumpHost = ""
	if !hasCheck(Run(context.Background(), in), "jump-host") {
		t.Fatal("expected jump-host issue for empty config")
	}

	in = baseInputs(t)
	var looked string
	in.LookupHost = func(_ context.Context, host string) ([]string, error) {
		looked = host
		return nil, errors.New("no such host")
	}
	report := Run(context.Background(), in)
	if !hasCheck(report, "jump-host") {
		t.Fatalf("expected unresolvable jump host issue, got %+v", report.Issues)
	}
	if looked != "jump.example.com" {
		t.Fatalf("expected lookup of host part, got %q", looked)
	}
}

func TestRunRegistryProblems(t *testing.T) {
	in := baseInputs(t)
	in.Registry.Hosts.Set("a", model.HostEntry{Host: "db1", Port: 10000, Users: map[string]string{"bob": "x"}})
	in.Registry.Hosts.Set("b", model.HostEntry{Host: "db2", Port: 10000, Users: map[string]string{"amy": "x"}})
	in.Registry.Services.Set("svc", model.ServiceEntry{LocalPort: 10005, RemoteTunnelAlias: "ghost", ServiceType: model.ServiceMySQL})
	in.Registry.Normalize()

	report := Run(context.Background(), in)
	for _, check := range []string{"registry-duplicate-alias", "registry-duplicate-port", "registry-dangling-service"} {
		if !hasCheck(report, check) {
			t.Fatalf("expected %s, got %+v", check, report.Issues)
		}
	}
}

func TestRunRegistryLoadError(t *testing.T) {
	in := baseInputs(t)
	in.Registry = nil
	in.RegistryErr = errors.New("unexpected end of JSON input")
	report := Run(context.Background(), in)
	if !hasCheck(report, "registry-load") {
		t.Fatalf("expected registry-load issue, got %+v", report.Issues)
	}
}

func TestRunKnownHostsOrphans(t *testing.T) {
	in := baseInputs(t)
	in.Registry.Hosts.Set("a", model.HostEntry{Host: "db1", Port: 10000, Users: map[string]string{"bob": "x"}})
	in.Registry.Normalize()
	content := "[localhost]:10000 ssh-ed25519 AAAA\n[localhost]:10005 ssh-ed25519 BBBB\ngithub.com ssh-ed25519 CCCC\n"
	if err := os.WriteFile(in.Config.KnownHosts, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	report := Run(context.Background(), in)
	var orphans []string
	for _, i := range report.Issues {
		if i.Check == "known-hosts-orphan" {
			orphans = append(orphans, i.Target)
		}
	}
	if len(orphans) != 1 || orphans[0] != "[localhost]:10005" {
		t.Fatalf("expected only [localhost]:10005, got %v", orphans)
	}
}

func TestRunJSONShapeDeterministic(t *testing.T) {
	in := baseInputs(t)
	in.Config.JumpHost = ""
	in.LookPath = func(name string) error { return errors.New(name + " missing") }

	first, err := json.Marshal(Run(context.Background(), in))
	if err != nil {
		t.Fatal(err)
	}
	second, err := json.Marshal(Run(context.Background(), in))
	if err != nil {
		t.Fatal(err)
	}
	if string(first) != string(second) {
		t.Fatalf("report order is not deterministic:\n%s\n%s", first, second)
	}

	var decoded map[string]any
	if err := json.Unmarshal(first, &decoded); err != nil {
		t.Fatal(err)
	}
	if _, ok := decoded["issues"]; !ok {
		t.Fatalf("expected issues key in json output: %s", string(first))
	}
}
