package crawler

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// ErrRelativeURL is returned for links without a scheme and host.
var ErrRelativeURL = errors.New("url is not absolute")

// NormalizeLink parses rawURL and removes its fragment. Anything beyond
// anchor stripping is left untouched, so two links that differ only in query
// order remain distinct.
func NormalizeLink(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", ErrRelativeURL
	}
	u.Fragment = ""
	u.RawFragment = ""
	return u.String(), nil
}

// NormalizeLinks normalizes every link and drops duplicates and links that
// cannot be parsed. The result keeps first-seen order.
func NormalizeLinks(links []string) []string {
	seen := make(map[string]struct{}, len(links))
	out := make([]string, 0, len(links))
	for _, raw := range links {
		link, err := NormalizeLink(raw)
		if err != nil {
			continue
		}
		if _, dup := seen[link]; dup {
			continue
		}
		seen[link] = struct{}{}
		out = append(out, link)
	}
	return out
}

// RegistrableDomain returns the host of rawURL minus its subdomains, using the
// public suffix list. IP addresses and single-label hosts are returned as-is.
func RegistrableDomain(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	host := strings.ToLower(strings.TrimSuffix(u.Hostname(), "."))
	if host == "" {
		return "", ErrRelativeURL
	}
	if net.ParseIP(host) != nil || !strings.Contains(host, ".") {
		return host, nil
	}
	domain, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		// Hosts that are themselves a public suffix have no registrable part.
		return host, nil //nolint:nilerr // fall back to the bare host
	}
	return domain, nil
}
