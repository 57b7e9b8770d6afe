package crawler

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

const wwwPrefix = "www."

// NormalizeDomain reduces raw input such as "https://Example.com/path/" to a
// bare lower-cased host ("example.com"). A port is kept when present.
func NormalizeDomain(raw string) (string, error) {
	value := strings.ToLower(strings.TrimSpace(raw))
	if value == "" {
		return "", fmt.Errorf("domain is empty")
	}
	if i := strings.Index(value, "://"); i >= 0 {
		value = value[i+3:]
	}
	if i := strings.IndexAny(value, "/?#"); i >= 0 {
		value = value[:i]
	}
	if i := strings.LastIndex(value, "@"); i >= 0 {
		value = value[i+1:]
	}
	value = strings.TrimSuffix(value, ".")
	if value == "" {
		return "", fmt.Errorf("domain %q has no host", raw)
	}
	if strings.ContainsAny(value, " \t\r\n\\") {
		return "", fmt.Errorf("domain %q contains invalid characters", raw)
	}
	parsed, err := url.Parse("//" + value)
	if err != nil || parsed.Hostname() == "" {
		return "", fmt.Errorf("domain %q is not a valid host", raw)
	}
	return value, nil
}

// HostVariant returns the www-toggled form of host: "www." is added to a bare
// host and removed from a www host. IP literals and localhost have no variant.
func HostVariant(host string) (string, bool) {
	name := host
	if h, _, err := net.SplitHostPort(host); err == nil {
		name = h
	}
	if name == "localhost" || net.ParseIP(name) != nil {
		return "", false
	}
	if strings.HasPrefix(host, wwwPrefix) {
		bare := strings.TrimPrefix(host, wwwPrefix)
		if bare == "" {
			return "", false
		}
		return bare, true
	}
	return wwwPrefix + host, true
}

func originURL(scheme, host string) string {
	return scheme + "://" + host
}

// resolveReference resolves ref against base and returns an absolute http(s)
// URL, or false when ref cannot be used.
func resolveReference(base, ref string) (string, bool) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", false
	}
	refURL, err := url.Parse(ref)
	if err != nil {
		return "", false
	}
	if !refURL.IsAbs() {
		baseURL, err := url.Parse(base)
		if err != nil {
			return "", false
		}
		refURL = baseURL.ResolveReference(refURL)
	}
	if refURL.Scheme != "http" && refURL.Scheme != "https" {
		return "", false
	}
	if refURL.Host == "" {
		return "", false
	}
	return refURL.String(), true
}
