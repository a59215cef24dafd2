package security

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/tunnelmaster/stm/internal/appconfig"
	"github.com/tunnelmaster/stm/internal/sshconfig"
)

type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

type Finding struct {
	Severity       Severity `json:"severity"`
	Target         string   `json:"target"`
	Message        string   `json:"message"`
	Recommendation string   `json:"recommendation"`
}

type AuditReport struct {
	Findings []Finding `json:"findings"`
}

func (r AuditReport) HasHigh() bool {
	for _, f := range r.Findings {
		if f.Severity == SeverityHigh {
			return true
		}
	}
	return false
}

// RunLocalAudit inspects the permissions of stm's own files and the OpenSSH
// files the tunnels depend on. ssh may be nil.
func RunLocalAudit(cfg appconfig.Config, ssh *sshconfig.Config) AuditReport {
	var findings []Finding

	// hosts.conf holds database passwords in clear text.
	if mode, ok := permOf(&findings, cfg.RegistryPath()); ok && mode&0o077 != 0 {
		findings = append(findings, Finding{
			Severity:       SeverityHigh,
			Target:         cfg.RegistryPath(),
			Message:        fmt.Sprintf("registry is readable by other users (%#o) and stores database passwords", mode),
			Recommendation: "chmod 600 " + cfg.RegistryPath(),
		})
	}
	checkPathPerm(&findings, cfg.DataDir, 0o700, false)
	checkPathPerm(&findings, cfg.StmAliases, 0o644, true)

	if home, err := os.UserHomeDir(); err == nil {
		checkPathPerm(&findings, filepath.Join(home, ".ssh"), 0o700, false)
		checkPathPerm(&findings, filepath.Join(home, ".ssh", "config"), 0o600, true)
	}
	checkPathPerm(&findings, cfg.KnownHosts, 0o644, true)

	if cfgDir, err := appconfig.ConfigDir(); err == nil {
		checkPathPerm(&findings, cfgDir, 0o700, false)
		checkPathPerm(&findings, filepath.Join(cfgDir, "config.yaml"), 0o600, true)
	}

	if ssh != nil && cfg.JumpHost != "" {
		if identity := ssh.Resolve(cfg.JumpHost).IdentityFile; identity != "" {
			checkPathPerm(&findings, identity, 0o600, true)
		}
	}

	sort.Slice(findings, func(i, j int) bool {
		if findings[i].Severity != findings[j].Severity {
			return severityRank(findings[i].Severity) > severityRank(findings[j].Severity)
		}
		if findings[i].Target != findings[j].Target {
			return findings[i].Target < findings[j].Target
		}
		return findings[i].Message < findings[j].Message
	})
	return AuditReport{Findings: findings}
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

func permOf(findings *[]Finding, path string) (os.FileMode, bool) {
	st, err := os.Stat(path)
	if err != nil {
		if !os.IsNotExist(err) {
			*findings = append(*findings, Finding{
				Severity:       SeverityLow,
				Target:         path,
				Message:        fmt.Sprintf("unable to inspect permissions: %v", err),
				Recommendation: "verify path and permissions manually",
			})
		}
		return 0, false
	}
	return st.Mode().Perm(), true
}

func checkPathPerm(findings *[]Finding, path string, max os.FileMode, isFile bool) {
	if path == "" {
		return
	}
	mode, ok := permOf(findings, path)
	if !ok {
		return
	}
	if mode&^max != 0 {
		kind := "directory"
		if isFile {
			kind = "file"
		}
		*findings = append(*findings, Finding{
			Severity:       SeverityMedium,
			Target:         path,
			Message:        fmt.Sprintf("%s permissions are too broad (%#o)", kind, mode),
			Recommendation: fmt.Sprintf("restrict permissions to %#o or tighter", max),
		})
	}
}
