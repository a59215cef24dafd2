package model

import (
	"sort"
	"strconv"
	"strings"
)

// ServiceType names the kind of service behind a ServiceEntry.
type ServiceType string

const (
	ServiceMySQL    ServiceType = "mysql"
	ServicePostgres ServiceType = "psql"
	ServiceMSSQL    ServiceType = "mssql"
)

// ClientParams feeds a service client command template.
type ClientParams struct {
	LocalPort int
	Username  string
	Password  string
	Database  string
}

// ServiceProfile describes how to talk to one service type.
type ServiceProfile struct {
	DefaultPort int
	Label       string
	client      func(p ClientParams) []string
}

// ClientArgs returns the argv of the interactive client for p.
func (sp ServiceProfile) ClientArgs(p ClientParams) []string {
	return sp.client(p)
}

var serviceProfiles = map[ServiceType]ServiceProfile{
	ServiceMySQL: {
		DefaultPort: 3306,
		Label:       "MySQL",
		client: func(p ClientParams) []string {
			return []string{"mysql", "-h", "127.0.0.1", "-P", strconv.Itoa(p.LocalPort), "-u", p.Username, "-p" + p.Password, p.Database}
		},
	},
	ServicePostgres: {
		DefaultPort: 5432,
		Label:       "PSQL",
		client: func(p ClientParams) []string {
			return []string{"psql", "-h", "127.0.0.1", "-p", strconv.Itoa(p.LocalPort), "-U", p.Username, p.Database}
		},
	},
	ServiceMSSQL: {
		DefaultPort: 1433,
		Label:       "MSSQL",
		client: func(p ClientParams) []string {
			return []string{"sqlcmd", "-S", "127.0.0.1," + strconv.Itoa(p.LocalPort), "-U", p.Username, "-P", p.Password, "-d", p.Database}
		},
	},
}

// ParseServiceType maps user input onto a known ServiceType.
func ParseServiceType(s string) (ServiceType, bool) {
	t := ServiceType(strings.ToLower(strings.TrimSpace(s)))
	if t == "postgres" || t == "postgresql" {
		t = ServicePostgres
	}
	_, ok := serviceProfiles[t]
	return t, ok
}

// Profile returns the client table entry for t.
func (t ServiceType) Profile() (ServiceProfile, bool) {
	p, ok := serviceProfiles[t]
	return p, ok
}

// KnownServiceTypes lists the supported types alphabetically.
func KnownServiceTypes() []ServiceType {
	out := make([]ServiceType, 0, len(serviceProfiles))
	for t := range serviceProfiles {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ClientParams builds the template parameters for s.
func (s ServiceEntry) ClientParams() ClientParams {
	return ClientParams{
		LocalPort: s.LocalPort,
		Username:  s.SQLUsername,
		Password:  s.SQLPassword,
		Database:  s.SQLDatabase,
	}
}
