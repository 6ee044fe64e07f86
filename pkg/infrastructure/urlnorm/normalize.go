// Package urlnorm canonicalizes URLs so that trivially different
// spellings of the same address collapse to one queue entry.
package urlnorm

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// trackingParams are query parameters that never change page identity.
var trackingParams = map[string]bool{
	"fbclid":       true,
	"gclid":        true,
	"mc_cid":       true,
	"mc_eid":       true,
	"ref":          true,
	"tm":           true,
	"utm_campaign": true,
	"utm_content":  true,
	"utm_medium":   true,
	"utm_source":   true,
	"utm_term":     true,
}

// Normalizer implements service.URLNormalizer.
type Normalizer struct{}

func New() *Normalizer { return &Normalizer{} }

// Normalize lowercases scheme and host, strips the fragment, tracking
// parameters, default ports, and any trailing slash, and sorts the
// remaining query parameters. Only http and https URLs are accepted.
func (n *Normalizer) Normalize(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("parse %q: %w", rawURL, err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q in %q", u.Scheme, rawURL)
	}
	u.Scheme = scheme
	u.Host = strings.ToLower(u.Host)
	if u.Host == "" {
		return "", fmt.Errorf("missing host in %q", rawURL)
	}
	if scheme == "http" {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	} else {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}
	u.Fragment = ""
	u.Path = strings.TrimRight(u.Path, "/")
	if q := u.Query(); len(q) > 0 {
		keys := make([]string, 0, len(q))
		for k := range q {
			if trackingParams[strings.ToLower(k)] {
				continue
			}
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var b strings.Builder
		for _, k := range keys {
			for _, v := range q[k] {
				if b.Len() > 0 {
					b.WriteByte('&')
				}
				b.WriteString(url.QueryEscape(k))
				b.WriteByte('=')
				b.WriteString(url.QueryEscape(v))
			}
		}
		u.RawQuery = b.String()
	}
	return u.String(), nil
}

// Host returns the lowercased host component of rawURL, without port.
func (n *Normalizer) Host(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse %q: %w", rawURL, err)
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", fmt.Errorf("missing host in %q", rawURL)
	}
	return host, nil
}

// InScope reports whether linkURL shares a registrable domain (eTLD+1)
// with rootURL, so www.example.com and news.example.com stay in scope
// for a source rooted at example.com.
func (n *Normalizer) InScope(linkURL, rootURL string) bool {
	linkHost, err := n.Host(linkURL)
	if err != nil {
		return false
	}
	rootHost, err := n.Host(rootURL)
	if err != nil {
		return false
	}
	if linkHost == rootHost {
		return true
	}
	linkDomain, err := publicsuffix.EffectiveTLDPlusOne(linkHost)
	if err != nil {
		return false
	}
	rootDomain, err := publicsuffix.EffectiveTLDPlusOne(rootHost)
	if err != nil {
		return false
	}
	return linkDomain == rootDomain
}
