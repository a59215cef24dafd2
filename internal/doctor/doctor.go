package doctor

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strconv"
	"time"

	"github.com/tunnelmaster/stm/internal/appconfig"
	"github.com/tunnelmaster/stm/internal/model"
	"github.com/tunnelmaster/stm/internal/ports"
	"github.com/tunnelmaster/stm/internal/registry"
	"github.com/tunnelmaster/stm/internal/security"
	"github.com/tunnelmaster/stm/internal/sshclient"
	"github.com/tunnelmaster/stm/internal/sshconfig"
)

type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

type Issue struct {
	Severity       Severity `json:"severity"`
	Check          string   `json:"check"`
	Target         string   `json:"target"`
	Message        string   `json:"message"`
	Recommendation string   `json:"recommendation"`
}

type Report struct {
	Issues []Issue `json:"issues"`
}

// HasHigh reports whether any issue blocks tunnel construction.
func (r Report) HasHigh() bool {
	for _, i := range r.Issues {
		if i.Severity == SeverityHigh {
			return true
		}
	}
	return false
}

// Inputs is everything the diagnostics look at. Registry may be nil when
// RegistryErr explains why it could not be loaded.
type Inputs struct {
	Config      appconfig.Config
	Registry    *model.Registry
	RegistryErr error
	SSH         *sshconfig.Config
	Known       *ports.KnownHosts

	// Overridable for tests.
	LookPath   func(name string) error
	LookupHost func(ctx context.Context, host string) ([]string, error)
}

// Run executes local diagnostics for stm operations.
func Run(ctx context.Context, in Inputs) Report {
	if in.LookPath == nil {
		in.LookPath = sshclient.EnsureBinary
	}
	if in.LookupHost == nil {
		in.LookupHost = net.DefaultResolver.LookupHost
	}

	var issues []Issue
	issues = append(issues, binaryIssues(in)...)
	issues = append(issues, jumpHostIssues(ctx, in)...)

	if in.RegistryErr != nil {
		issues = append(issues, Issue{
			Severity:       SeverityHigh,
			Check:          "registry-load",
			Target:         in.Config.RegistryPath(),
			Message:        in.RegistryErr.Error(),
			Recommendation: "register a host with `stm agent --type client` or repair the JSON file",
		})
	}
	if in.Registry != nil {
		issues = append(issues, registryIssues(in.Registry)...)
		issues = append(issues, knownHostsIssues(in)...)
	}

	for _, f := range security.RunLocalAudit(in.Config, in.SSH).Findings {
		sev := SeverityLow
		if f.Severity == security.SeverityMedium {
			sev = SeverityMedium
		}
		if f.Severity == security.SeverityHigh {
			sev = SeverityHigh
		}
		issues = append(issues, Issue{
			Severity:       sev,
			Check:          "security-audit",
			Target:         f.Target,
			Message:        f.Message,
			Recommendation: f.Recommendation,
		})
	}

	sort.Slice(issues, func(i, j int) bool {
		ri := severityRank(issues[i].Severity)
		rj := severityRank(issues[j].Severity)
		if ri != rj {
			return ri > rj
		}
		if issues[i].Check != issues[j].Check {
			return issues[i].Check < issues[j].Check
		}
		if issues[i].Target != issues[j].Target {
			return issues[i].Target < issues[j].Target
		}
		return issues[i].Message < issues[j].Message
	})
	return Report{Issues: issues}
}

func binaryIssues(in Inputs) []Issue {
	bin := in.Config.Binaries
	var issues []Issue
	for _, name := range []string{bin.AutoSSH, bin.SSH, bin.SCP} {
		if name == "" {
			continue
		}
		if err := in.LookPath(name); err != nil {
			issues = append(issues, Issue{
				Severity:       SeverityHigh,
				Check:          "binary",
				Target:         name,
				Message:        err.Error(),
				Recommendation: "install " + name + " and ensure it is on PATH",
			})
		}
	}
	return issues
}

func jumpHostIssues(ctx context.Context, in Inputs) []Issue {
	if in.Config.JumpHost == "" {
		return []Issue{{
			Severity:       SeverityHigh,
			Check:          "jump-host",
			Target:         "config.yaml",
			Message:        "no jump host configured",
			Recommendation: "set jump_host in config.yaml or export STM_JUMP_HOST",
		}}
	}
	// A nil *sshconfig.Config resolves with OpenSSH defaults.
	ep := in.SSH.Resolve(in.Config.JumpHost)
	if ep.ProxyJump != "" {
		// Name resolution happens on the proxy.
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if _, err := in.LookupHost(ctx, ep.HostName); err != nil {
		return []Issue{{
			Severity:       SeverityMedium,
			Check:          "jump-host",
			Target:         in.Config.JumpHost,
			Message:        fmt.Sprintf("jump host %s does not resolve: %v", ep.HostName, err),
			Recommendation: "check the jump host name and its ~/.ssh/config entry",
		}}
	}
	return nil
}

func registryIssues(reg *model.Registry) []Issue {
	var issues []Issue
	for _, p := range registry.Check(reg) {
		sev := SeverityMedium
		rec := "edit the registry so every alias and port is unique"
		switch p.Check {
		case "duplicate-alias", "duplicate-port":
			sev = SeverityHigh
		case "dangling-service":
			rec = "re-register the remote tunnel alias or remove the service"
		case "unknown-service-type":
			rec = "set service_type to one of mssql, mysql, psql"
		}
		issues = append(issues, Issue{
			Severity:       sev,
			Check:          "registry-" + p.Check,
			Target:         p.Target,
			Message:        p.Message,
			Recommendation: rec,
		})
	}
	return issues
}

// knownHostsIssues flags loopback host keys for ports no registry entry owns.
// They block automatic allocation of those ports.
func knownHostsIssues(in Inputs) []Issue {
	if in.Known == nil {
		return nil
	}
	stale, err := in.Known.Ports()
	if err != nil {
		return []Issue{{
			Severity:       SeverityLow,
			Check:          "known-hosts",
			Target:         in.Known.Path,
			Message:        err.Error(),
			Recommendation: "verify the known_hosts path in config.yaml",
		}}
	}
	assigned := in.Registry.PortSet()
	var issues []Issue
	seen := map[int]bool{}
	for _, port := range stale {
		if _, ok := assigned[port]; ok || seen[port] {
			continue
		}
		seen[port] = true
		issues = append(issues, Issue{
			Severity:       SeverityLow,
			Check:          "known-hosts-orphan",
			Target:         ports.Marker(port),
			Message:        "host key for a loopback port no registry entry uses",
			Recommendation: "ssh-keygen -R '[localhost]:" + strconv.Itoa(port) + "'",
		})
	}
	return issues
}

func severityRank(s Severity) int {
	switch s {
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	default:
		return 1
	}
}
