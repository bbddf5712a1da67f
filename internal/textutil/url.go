package textutil

import (
	"net"
	"net/url"
	"strings"
)

// blockedHosts are names that always resolve to the local machine.
var blockedHosts = map[string]struct{}{
	"localhost":             {},
	"localhost.localdomain": {},
	"ip6-localhost":         {},
	"ip6-loopback":          {},
}

// ValidateURL reports whether raw is an absolute http(s) URL whose host is not
// a loopback, private, link-local or unspecified address. It keeps the fetcher
// from being used to probe internal networks.
func ValidateURL(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	host := strings.ToLower(strings.TrimSuffix(u.Hostname(), "."))
	if host == "" {
		return false
	}
	if _, ok := blockedHosts[host]; ok || strings.HasSuffix(host, ".localhost") {
		return false
	}
	if ip := net.ParseIP(host); ip != nil {
		return publicIP(ip)
	}
	// inet_aton style shorthand (127.1, 2130706433, 0x7f.0.0.1) is resolved
	// to an address by some resolvers.
	if numericHost(host) {
		return false
	}
	return true
}

// numericHost reports whether every dot-separated label of host is a decimal
// or 0x-prefixed hex number. No registered top-level domain is numeric.
func numericHost(host string) bool {
	for _, label := range strings.Split(host, ".") {
		if label == "" {
			return false
		}
		digits, base := label, "0123456789"
		if strings.HasPrefix(label, "0x") {
			digits, base = label[2:], "0123456789abcdef"
		}
		if strings.Trim(digits, base) != "" {
			return false
		}
	}
	return true
}

func publicIP(ip net.IP) bool {
	switch {
	case ip.IsLoopback(), ip.IsPrivate(), ip.IsUnspecified(),
		ip.IsLinkLocalUnicast(), ip.IsLinkLocalMulticast(), ip.IsMulticast():
		return false
	}
	return true
}

// ExtractDomain returns the lower-cased host of raw without a leading "www.".
// Input that cannot be parsed is returned unchanged.
func ExtractDomain(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return raw
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}
