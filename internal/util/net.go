// Package util provides common utility functions and constants used across the
// stm application.
package util

import (
	"fmt"
	"strings"
)

// ForwardSpec renders the "<localPort>:<remoteHost>:<remotePort>" argument
// handed to ssh -L.
//
// The "<localPort>:<remoteHost>" prefix of this string is also what the
// activity prober searches for in the process table, so both sides must be
// built from the same helper. See ProbePattern.
func ForwardSpec(localPort int, remoteHost string, remotePort int) string {
	return fmt.Sprintf("%d:%s:%d", localPort, strings.TrimSpace(remoteHost), remotePort)
}

// ProbePattern returns the command line substring identifying a tunnel
// process forwarding localPort to remoteHost.
//
// Examples:
//
//	ProbePattern(10000, "db.internal") → "10000:db.internal"
//	ProbePattern(3310, " 10.0.0.5 ")   → "3310:10.0.0.5"
func ProbePattern(localPort int, remoteHost string) string {
	return fmt.Sprintf("%d:%s", localPort, strings.TrimSpace(remoteHost))
}
