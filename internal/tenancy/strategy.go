package tenancy

import (
	"fmt"
	"net"
	"net/http"
	"strings"

	"golang.org/x/net/idna"
)

// Strategy extracts a tenant identifier (id or slug) from an inbound request.
type Strategy interface {
	Name() string
	Identifier(r *http.Request) (string, bool)
}

// ClaimReader returns the tenant id carried by a verified bearer token.
// Implementations must return false for unverifiable tokens.
type ClaimReader interface {
	TenantClaim(r *http.Request) (string, bool)
}

// Strategy names accepted by ParseStrategies.
const (
	StrategyHeader    = "header"
	StrategySubdomain = "subdomain"
	StrategyPath      = "path"
	StrategyClaim     = "claim"

	DefaultHeader     = "X-Tenant-ID"
	DefaultPathPrefix = "/t/"
)

// HeaderStrategy reads the identifier from a request header.
type HeaderStrategy struct {
	Header string
}

func (s HeaderStrategy) Name() string { return StrategyHeader }

func (s HeaderStrategy) Identifier(r *http.Request) (string, bool) {
	header := s.Header
	if header == "" {
		header = DefaultHeader
	}
	v := strings.TrimSpace(r.Header.Get(header))
	return v, v != ""
}

// SubdomainStrategy reads the slug from the first label of the host,
// e.g. acme.example.com with BaseDomain example.com yields acme.
type SubdomainStrategy struct {
	BaseDomain string
}

func (s SubdomainStrategy) Name() string { return StrategySubdomain }

func (s SubdomainStrategy) Identifier(r *http.Request) (string, bool) {
	if s.BaseDomain == "" {
		return "", false
	}

	host := r.Host
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}

	host, err := idna.Lookup.ToASCII(strings.TrimSuffix(host, "."))
	if err != nil {
		return "", false
	}
	base, err := idna.Lookup.ToASCII(s.BaseDomain)
	if err != nil {
		return "", false
	}

	label, ok := strings.CutSuffix(strings.ToLower(host), "."+strings.ToLower(base))
	if !ok || label == "" || strings.Contains(label, ".") {
		return "", false
	}
	return label, true
}

// PathStrategy reads the identifier from a path prefix such as /t/acme/v1/me.
// The prefix and identifier are stripped before the request reaches the router.
type PathStrategy struct {
	Prefix string
}

func (s PathStrategy) Name() string { return StrategyPath }

func (s PathStrategy) prefix() string {
	if s.Prefix == "" {
		return DefaultPathPrefix
	}
	return "/" + strings.Trim(s.Prefix, "/") + "/"
}

func (s PathStrategy) Identifier(r *http.Request) (string, bool) {
	rest, ok := strings.CutPrefix(r.URL.Path, s.prefix())
	if !ok {
		return "", false
	}
	id, _, _ := strings.Cut(rest, "/")
	return id, id != ""
}

// strip removes the tenant segment so routes are registered without it.
func (s PathStrategy) strip(r *http.Request) *http.Request {
	rest, ok := strings.CutPrefix(r.URL.Path, s.prefix())
	if !ok {
		return r
	}
	_, tail, _ := strings.Cut(rest, "/")

	r2 := r.Clone(r.Context())
	r2.URL.Path = "/" + tail
	r2.URL.RawPath = ""
	return r2
}

// ClaimStrategy reads the tenantId claim of a verified bearer token.
type ClaimStrategy struct {
	Reader ClaimReader
}

func (s ClaimStrategy) Name() string { return StrategyClaim }

func (s ClaimStrategy) Identifier(r *http.Request) (string, bool) {
	if s.Reader == nil {
		return "", false
	}
	return s.Reader.TenantClaim(r)
}

// StrategyConfig holds the settings shared by ParseStrategies.
type StrategyConfig struct {
	Header     string
	BaseDomain string
	PathPrefix string
	Claims     ClaimReader
}

// ParseStrategies builds strategies from configured names; order is precedence.
func ParseStrategies(names []string, cfg StrategyConfig) ([]Strategy, error) {
	strategies := make([]Strategy, 0, len(names))
	seen := make(map[string]bool, len(names))

	for _, name := range names {
		name = strings.ToLower(strings.TrimSpace(name))
		if seen[name] {
			return nil, fmt.Errorf("tenant strategy %q listed twice", name)
		}
		seen[name] = true

		switch name {
		case StrategyHeader:
			strategies = append(strategies, HeaderStrategy{Header: cfg.Header})
		case StrategySubdomain:
			if cfg.BaseDomain == "" {
				return nil, fmt.Errorf("subdomain tenant strategy requires a base domain")
			}
			strategies = append(strategies, SubdomainStrategy{BaseDomain: cfg.BaseDomain})
		case StrategyPath:
			strategies = append(strategies, PathStrategy{Prefix: cfg.PathPrefix})
		case StrategyClaim:
			if cfg.Claims == nil {
				return nil, fmt.Errorf("claim tenant strategy requires a token verifier")
			}
			strategies = append(strategies, ClaimStrategy{Reader: cfg.Claims})
		default:
			return nil, fmt.Errorf("unknown tenant strategy %q", name)
		}
	}

	if len(strategies) == 0 {
		return nil, fmt.Errorf("at least one tenant strategy is required")
	}

	return strategies, nil
}
