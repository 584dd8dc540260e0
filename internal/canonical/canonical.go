// Package canonical implements the URL Canonicalizer: a pure,
// deterministic raw-URL -> canonical-URL transformation applied before any
// enqueue, lookup, hash, or persistence.
package canonical

import (
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"

	"github.com/sitewarden/crawler/internal/crawlerr"
)

// trackingParams is the fixed set of query parameters stripped during
// canonicalization. The list is fixed by the spec, not configurable.
var trackingParams = map[string]struct{}{
	"utm_source":   {},
	"utm_medium":   {},
	"utm_campaign": {},
	"utm_term":     {},
	"utm_content":  {},
	"fbclid":       {},
	"gclid":        {},
	"ref":          {},
	"session":      {},
	"sessionid":    {},
	"sid":          {},
	"orderby":      {},
	"sort":         {},
	"order":        {},
	"add-to-cart":  {},
}

var repeatedSlash = regexp.MustCompile(`/+`)

// malformedScheme matches "scheme:host/..." missing the "//" after the
// colon, e.g. "https:example.com/path".
var malformedScheme = regexp.MustCompile(`^(https?):([A-Za-z0-9].*)$`)

// Canonicalize applies the §4.1 rules in order and returns the canonical
// form of raw. seedHost is the site's seed host; if non-empty, the result
// must share its registrable domain or Canonicalize fails with OUT_OF_SCOPE.
func Canonicalize(raw, seedHost string) (string, error) {
	repaired := RepairMalformedScheme(strings.TrimSpace(raw))

	u, err := url.Parse(repaired)
	if err != nil {
		return "", crawlerr.New(crawlerr.InvalidURL, raw, err)
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", crawlerr.New(crawlerr.InvalidURL, raw, fmt.Errorf("non-web scheme %q", u.Scheme))
	}
	if u.Host == "" {
		return "", crawlerr.New(crawlerr.InvalidURL, raw, fmt.Errorf("missing host"))
	}

	// Scheme is normalized to https: http and https identify the same page
	// for canonicalization purposes (scenario: "http://www.example.com/" ->
	// "https://example.com/"), since the registrable domain, not the
	// transport, is what defines page identity.
	u.Scheme = "https"
	u.Host = strings.ToLower(u.Host)
	u.Host = strings.TrimPrefix(u.Host, "www.")

	u.Fragment = ""
	u.RawFragment = ""

	if u.RawQuery != "" {
		u.RawQuery = filterAndSortQuery(u.Query())
	}

	u.Path = normalizePath(u.Path)
	if len(u.Path) > 1 && strings.HasSuffix(u.Path, "/") {
		u.Path = strings.TrimSuffix(u.Path, "/")
	}

	if seedHost != "" && registrableDomain(u.Host) != registrableDomain(seedHost) {
		return "", crawlerr.New(crawlerr.OutOfScope, raw, fmt.Errorf("host %q out of scope for %q", u.Host, seedHost))
	}

	return u.String(), nil
}

// RepairMalformedScheme fixes the common "scheme:host/path" typo (missing
// "//" after the colon) shared by the canonicalizer and link extraction.
func RepairMalformedScheme(raw string) string {
	if strings.Contains(raw, "://") {
		return raw
	}
	m := malformedScheme.FindStringSubmatch(raw)
	if m == nil {
		return raw
	}
	return m[1] + "://" + m[2]
}

func filterAndSortQuery(q url.Values) string {
	kept := url.Values{}
	for k, vs := range q {
		if _, blocked := trackingParams[strings.ToLower(k)]; blocked {
			continue
		}
		for _, v := range vs {
			kept.Add(k, v)
		}
	}
	if len(kept) == 0 {
		return ""
	}

	keys := make([]string, 0, len(kept))
	for k := range kept {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var parts []string
	for _, k := range keys {
		vs := kept[k]
		sort.Strings(vs)
		for _, v := range vs {
			if v == "" {
				parts = append(parts, url.QueryEscape(k))
			} else {
				parts = append(parts, url.QueryEscape(k)+"="+url.QueryEscape(v))
			}
		}
	}
	return strings.Join(parts, "&")
}

// normalizePath collapses repeated slashes, resolves "." and ".." segments,
// and re-encodes so unreserved characters are decoded and reserved ones stay
// percent-encoded.
func normalizePath(path string) string {
	if path == "" {
		return "/"
	}

	path = repeatedSlash.ReplaceAllString(path, "/")

	segments := strings.Split(path, "/")
	resolved := make([]string, 0, len(segments))
	for _, seg := range segments {
		switch seg {
		case ".":
		case "..":
			if len(resolved) > 0 && resolved[len(resolved)-1] != "" {
				resolved = resolved[:len(resolved)-1]
			}
		default:
			resolved = append(resolved, reencodeSegment(seg))
		}
	}

	joined := strings.Join(resolved, "/")
	if joined == "" {
		return "/"
	}
	return joined
}

// reencodeSegment decodes then re-encodes a path segment so that
// percent-decoded unreserved characters stay decoded and reserved
// characters stay (or become) percent-encoded.
func reencodeSegment(seg string) string {
	decoded, err := url.PathUnescape(seg)
	if err != nil {
		return seg
	}
	return (&url.URL{Path: decoded}).EscapedPath()
}

// registrableDomain returns the last two labels of a host, stripping a port
// if present. This is the same coarse approximation the teacher's
// ExtractDomain uses; a full public-suffix list is not required by the
// spec's scope check, which only needs www/apex equivalence.
func registrableDomain(host string) string {
	if idx := strings.LastIndex(host, ":"); idx != -1 && !strings.Contains(host[idx:], "]") {
		host = host[:idx]
	}
	host = strings.TrimPrefix(host, "www.")
	parts := strings.Split(host, ".")
	if len(parts) >= 2 {
		return strings.Join(parts[len(parts)-2:], ".")
	}
	return host
}
