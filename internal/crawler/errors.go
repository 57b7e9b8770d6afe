package crawler

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// TLSError reports a certificate validation failure that persisted through
// the insecure fallback attempt.
type TLSError struct {
	URL string
	Err error
}

func (e *TLSError) Error() string {
	return fmt.Sprintf("tls verification failed for %s: %v", e.URL, e.Err)
}

func (e *TLSError) Unwrap() error { return e.Err }

// TransientFetchError reports a network-level failure that survived the
// retry budget. StatusCode is zero when no HTTP response was received.
type TransientFetchError struct {
	URL        string
	Attempts   int
	StatusCode int
	Err        error
}

func (e *TransientFetchError) Error() string {
	return fmt.Sprintf("fetch %s failed after %d attempts: %v", e.URL, e.Attempts, e.Err)
}

func (e *TransientFetchError) Unwrap() error { return e.Err }

// HTTPStatusError reports a status code that is not worth retrying.
type HTTPStatusError struct {
	URL  string
	Code int
}

func (e *HTTPStatusError) Error() string {
	switch e.Code {
	case http.StatusForbidden:
		return fmt.Sprintf("access forbidden (403) for %s", e.URL)
	case http.StatusNotFound:
		return fmt.Sprintf("not found (404): %s", e.URL)
	default:
		return fmt.Sprintf("unexpected HTTP status %d for %s", e.Code, e.URL)
	}
}

// MalformedDocumentError reports a body that is not well-formed XML or does
// not match the urlset/sitemapindex schemas.
type MalformedDocumentError struct {
	URL    string
	Reason string
	Err    error
}

func (e *MalformedDocumentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed sitemap %s: %s: %v", e.URL, e.Reason, e.Err)
	}
	return fmt.Sprintf("malformed sitemap %s: %s", e.URL, e.Reason)
}

func (e *MalformedDocumentError) Unwrap() error { return e.Err }

// DiscoveryError reports that no sitemap entry point was found on any host
// variant of the domain.
type DiscoveryError struct {
	Domain string
	Hosts  []string
}

func (e *DiscoveryError) Error() string {
	if len(e.Hosts) == 0 {
		return fmt.Sprintf("no valid sitemap found for %s", e.Domain)
	}
	return fmt.Sprintf("no valid sitemap found for %s (tried %s)", e.Domain, strings.Join(e.Hosts, ", "))
}

// IsUnreachable reports whether err means the host never produced an HTTP
// response, as opposed to answering with an error status.
func IsUnreachable(err error) bool {
	var tlsErr *TLSError
	if errors.As(err, &tlsErr) {
		return true
	}
	var transient *TransientFetchError
	if errors.As(err, &transient) {
		return transient.StatusCode == 0
	}
	return false
}

// StatusCode extracts the HTTP status carried by err, or zero.
func StatusCode(err error) int {
	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		return statusErr.Code
	}
	var transient *TransientFetchError
	if errors.As(err, &transient) {
		return transient.StatusCode
	}
	return 0
}
