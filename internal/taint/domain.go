package taint

import (
	"net/url"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/idna"
)

// UndetectableDomains are origins known to load integrity-sensitive scripts in
// ways the observer never sees, e.g. through non-script mechanisms. They are
// re-applied on every initialization.
var UndetectableDomains = []string{
	"identi.ca",
	"minigames.mail.ru",
	"passport.twitch.tv",
	"ya.ru",
	"yadi.sk",
}

// NormalizeDomain reduces a host, origin or URL to the bare lowercase ASCII
// host used as a taint key. It reports false when nothing usable remains.
func NormalizeDomain(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", false
	}

	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return "", false
		}
		s = u.Hostname()
	} else {
		if i := strings.IndexAny(s, "/?#"); i >= 0 {
			s = s[:i]
		}
		s = stripPort(s)
	}

	s = strings.TrimSuffix(strings.ToLower(s), ".")
	if s == "" {
		return "", false
	}

	if !isASCII(s) {
		ascii, err := idna.Lookup.ToASCII(s)
		if err != nil || ascii == "" {
			return "", false
		}
		s = ascii
	}
	return s, true
}

// stripPort removes a trailing :port and the brackets around IPv6 literals.
func stripPort(s string) string {
	if strings.HasPrefix(s, "[") {
		if end := strings.Index(s, "]"); end > 0 {
			return s[1:end]
		}
		return s
	}
	// A bare IPv6 literal has several colons and no port.
	if strings.Count(s, ":") == 1 {
		return s[:strings.Index(s, ":")]
	}
	return s
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}
