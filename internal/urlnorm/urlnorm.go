// Package urlnorm implements URL canonicalization and the permutation
// cross-product used for similarity-based crawl dedup (spec.md §4.E).
// No teacher package does URL canonicalization directly; this is
// adapted from internal/procurement/scraping/compliance.go's
// url.Parse-based domain extraction, generalized into the full
// permutation set spec.md requires, backed by
// golang.org/x/net/publicsuffix for correct multi-part-TLD handling
// (the teacher already depends on golang.org/x/net but never imported
// this subpackage).
package urlnorm

import (
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// Options configures Normalize.
type Options struct {
	IgnoreQueryParameters bool
}

// Normalize parses a URL, drops its fragment, optionally drops its
// query string, lowercases the hostname, and returns the canonical
// string form. Idempotent: Normalize(Normalize(u)) == Normalize(u).
func Normalize(raw string, opts Options) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", err
	}
	u.Fragment = ""
	if opts.IgnoreQueryParameters {
		u.RawQuery = ""
	}
	u.Host = strings.ToLower(u.Host)
	return u.String(), nil
}

// Permutations generates the 4-axis cross product of {www,no-www} x
// {http,https} x {index.html,index.php,trailing-slash,bare}, deduped
// by stringified URL. For non-http(s) schemes the scheme axis is
// collapsed to just the original scheme.
func Permutations(raw string) ([]string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}

	hosts := hostVariants(u.Host)
	schemes := schemeVariants(u.Scheme)
	paths := pathVariants(u.Path)

	seen := make(map[string]struct{})
	var out []string
	for _, h := range hosts {
		for _, sch := range schemes {
			for _, p := range paths {
				cp := *u
				cp.Host = h
				cp.Scheme = sch
				cp.Path = p
				s := cp.String()
				if _, dup := seen[s]; dup {
					continue
				}
				seen[s] = struct{}{}
				out = append(out, s)
			}
		}
	}
	return out, nil
}

func hostVariants(host string) []string {
	host = strings.ToLower(host)
	if strings.HasPrefix(host, "www.") {
		return []string{host, strings.TrimPrefix(host, "www.")}
	}
	return []string{host, "www." + host}
}

func schemeVariants(scheme string) []string {
	if scheme == "http" || scheme == "https" {
		return []string{"http", "https"}
	}
	return []string{scheme}
}

func pathVariants(path string) []string {
	bare := strings.TrimSuffix(path, "/")
	bare = strings.TrimSuffix(bare, "/index.html")
	bare = strings.TrimSuffix(bare, "/index.php")
	if bare == "" {
		bare = "/"
	}
	trimmedSlash := bare
	if !strings.HasSuffix(trimmedSlash, "/") {
		trimmedSlash += "/"
	}

	variants := []string{
		bare,
		trimmedSlash,
		strings.TrimSuffix(trimmedSlash, "/") + "/index.html",
		strings.TrimSuffix(trimmedSlash, "/") + "/index.php",
	}

	seen := make(map[string]struct{})
	var out []string
	for _, v := range variants {
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// SameDomain reports whether a and b share the same effective TLD+1
// (registrable domain), using public-suffix logic for multi-part TLDs
// such as co.uk.
func SameDomain(a, b string) bool {
	da, err1 := ExtractBaseDomain(a)
	db, err2 := ExtractBaseDomain(b)
	if err1 != nil || err2 != nil {
		return false
	}
	return da == db
}

// SameSubdomain reports whether a and b share the exact same
// hostname (including subdomain).
func SameSubdomain(a, b string) bool {
	ua, err1 := url.Parse(a)
	ub, err2 := url.Parse(b)
	if err1 != nil || err2 != nil {
		return false
	}
	return strings.EqualFold(ua.Hostname(), ub.Hostname())
}

// ExtractBaseDomain returns the registrable domain (eTLD+1) of a URL,
// e.g. "https://docs.example.co.uk/x" -> "example.co.uk".
func ExtractBaseDomain(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		host = strings.ToLower(raw)
	}
	base, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		// publicsuffix rejects bare IPs/single-label hosts (e.g. "localhost");
		// fall back to the hostname itself rather than failing the whole
		// normalization pipeline over an edge-case host.
		return host, nil
	}
	return base, nil
}
