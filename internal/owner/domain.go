package owner

import (
	"errors"
	"net"
	"net/http"
	"net/url"
	"strings"
	"unicode"
)

// MaxDomainLength bounds a stored binding domain, scheme and port included.
const MaxDomainLength = 300

// ErrInvalidDomain indicates a binding domain that cannot match any request.
var ErrInvalidDomain = errors.New("invalid domain")

// RequestOrigin is the site a request was made from.
type RequestOrigin struct {
	Scheme string
	Host   string
	Port   string
}

// RequestDomain derives the requesting site from the Origin header, else the
// Referer header, else the Host header. The first one that is present and
// parseable wins.
func RequestDomain(r *http.Request) (RequestOrigin, bool) {
	if o, ok := parseOrigin(r.Header.Get("Origin")); ok {
		return o, true
	}
	if o, ok := parseOrigin(r.Header.Get("Referer")); ok {
		return o, true
	}
	return parseHost(r)
}

// DomainVariants returns the binding keys to try for a request, in precedence
// order: host:port, host, scheme://host:port, scheme://host. Entries are
// lower-cased and duplicates removed.
func DomainVariants(r *http.Request) []string {
	o, ok := RequestDomain(r)
	if !ok {
		return nil
	}
	return o.Variants()
}

// Variants returns the candidate binding keys for the origin.
func (o RequestOrigin) Variants() []string {
	if o.Host == "" {
		return nil
	}

	candidates := make([]string, 0, 4)
	if o.Port != "" {
		candidates = append(candidates, net.JoinHostPort(o.Host, o.Port))
	}
	candidates = append(candidates, o.Host)
	if o.Port != "" {
		candidates = append(candidates, o.Scheme+"://"+net.JoinHostPort(o.Host, o.Port))
	}
	candidates = append(candidates, o.Scheme+"://"+o.Host)

	seen := make(map[string]bool, len(candidates))
	variants := candidates[:0]
	for _, c := range candidates {
		c = strings.ToLower(c)
		if seen[c] {
			continue
		}
		seen[c] = true
		variants = append(variants, c)
	}
	return variants
}

func parseOrigin(raw string) (RequestOrigin, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "null" {
		return RequestOrigin{}, false
	}

	u, err := url.Parse(raw)
	if err != nil {
		return RequestOrigin{}, false
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return RequestOrigin{}, false
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return RequestOrigin{}, false
	}

	return RequestOrigin{Scheme: scheme, Host: host, Port: u.Port()}, true
}

// parseHost builds an origin from the Host header. The scheme comes from
// X-Forwarded-Proto when a proxy set it, else from the connection.
func parseHost(r *http.Request) (RequestOrigin, bool) {
	raw := strings.TrimSpace(r.Host)
	if raw == "" {
		return RequestOrigin{}, false
	}

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := strings.ToLower(strings.TrimSpace(r.Header.Get("X-Forwarded-Proto"))); proto == "http" || proto == "https" {
		scheme = proto
	}

	return parseOrigin(scheme + "://" + raw)
}

// NormalizeDomain canonicalizes a binding domain so that it compares equal to
// one of the request variants. It accepts "host", "host:port" and
// "scheme://host[:port]" and drops any path, query or trailing slash.
func NormalizeDomain(raw string) (string, error) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if raw == "" || len(raw) > MaxDomainLength {
		return "", ErrInvalidDomain
	}
	for _, r := range raw {
		// Internationalized names must be stored in punycode form.
		if r > unicode.MaxASCII || unicode.IsSpace(r) {
			return "", ErrInvalidDomain
		}
	}

	withScheme := strings.Contains(raw, "://")
	if !withScheme {
		raw = "http://" + raw
	}

	o, ok := parseOrigin(raw)
	if !ok || !validHost(o.Host) {
		return "", ErrInvalidDomain
	}
	u, _ := url.Parse(raw)
	if u.User != nil {
		return "", ErrInvalidDomain
	}

	host := o.Host
	if o.Port != "" {
		host = net.JoinHostPort(o.Host, o.Port)
	}
	if withScheme {
		return o.Scheme + "://" + host, nil
	}
	return host, nil
}

func validHost(host string) bool {
	if ip := net.ParseIP(host); ip != nil {
		return true
	}
	if len(host) > 253 {
		return false
	}
	for _, label := range strings.Split(host, ".") {
		if label == "" || len(label) > 63 || label[0] == '-' || label[len(label)-1] == '-' {
			return false
		}
		for _, c := range label {
			if !(c >= 'a' && c <= 'z' || c >= '0' && c <= '9' || c == '-') {
				return false
			}
		}
	}
	return true
}
