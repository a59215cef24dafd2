package security

import (
	"regexp"
	"strings"
)

const redacted = "[redacted]"

// RedactCommand returns a copy of argv safe to log. It masks mysql style
// "-p<secret>" and both forms of "--password". A bare "-p" is left alone
// since ssh and psql use it for the port.
func RedactCommand(argv []string) []string {
	out := make([]string, len(argv))
	maskNext := false
	for i, a := range argv {
		switch {
		case maskNext:
			out[i] = redacted
			maskNext = false
		case a == "--password":
			out[i] = a
			maskNext = true
		case strings.HasPrefix(a, "--password="):
			out[i] = "--password=" + redacted
		case len(a) > 2 && strings.HasPrefix(a, "-p"):
			out[i] = "-p" + redacted
		default:
			out[i] = a
		}
	}
	return out
}

var (
	inlineShortPassword = regexp.MustCompile(`(^|\s)-p\S+`)
	inlineLongPassword  = regexp.MustCompile(`--password[= ]\S+`)
)

func redactInline(s string) string {
	s = inlineShortPassword.ReplaceAllString(s, "${1}-p"+redacted)
	return inlineLongPassword.ReplaceAllString(s, "--password="+redacted)
}
