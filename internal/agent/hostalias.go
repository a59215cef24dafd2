package agent

import (
	"net"
	"strings"
)

// HostAliasFor derives the registry key of a host. IPv4 addresses map each
// digit to a letter (0→a … 9→j) and every separator to '-', so 10.0.3.7
// becomes "ba-a-d-h". Addresses holding letters (IPv6) fall back to the first
// label of fqdn.
func HostAliasFor(ip, fqdn string) string {
	if ip != "" && !strings.ContainsAny(strings.ToLower(ip), "abcdef") {
		var b strings.Builder
		for _, r := range ip {
			if r >= '0' && r <= '9' {
				b.WriteByte(byte('a' + (r - '0')))
			} else {
				b.WriteByte('-')
			}
		}
		return b.String()
	}
	label, _, _ := strings.Cut(strings.TrimSuffix(fqdn, "."), ".")
	return label
}

func isIP(s string) bool {
	return net.ParseIP(s) != nil
}
