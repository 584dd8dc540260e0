// Package blockrules implements the worker's block classifier (§4.3 step
// 2): deny-by-path and deny-by-extension rules, plus the per-rule-class
// counters surfaced in the end-of-job BLOCKED URL REPORT (§6).
//
// Consolidated from the scattered deny checks the original crawler applied
// inline; here they are one typed module so the report can attribute a
// count to each rule class.
package blockrules

import (
	"net/url"
	"regexp"
	"strings"
)

// Rule identifies why a URL was blocked.
type Rule string

const (
	TagPage    Rule = "TAG_PAGE"
	AuthorPage Rule = "AUTHOR_PAGE"
	Pagination Rule = "PAGINATION"
	Assets     Rule = "ASSETS"
	StaticExt  Rule = "STATIC_EXT"
	QueryReject Rule = "QUERY_REJECT"
)

var (
	tagPageRe    = regexp.MustCompile(`/(product-)?tag/`)
	authorPageRe = regexp.MustCompile(`/author/`)
	paginationRe = regexp.MustCompile(`/page/\d+/?`)
	assetsRe     = regexp.MustCompile(`/(assets|static)/`)
)

var staticExtensions = map[string]struct{}{
	".png": {}, ".jpg": {}, ".jpeg": {}, ".gif": {}, ".svg": {},
	".css": {}, ".js": {}, ".pdf": {}, ".zip": {}, ".rar": {},
	".mp3": {}, ".mp4": {}, ".webm": {}, ".woff": {}, ".woff2": {},
	".ttf": {}, ".ico": {},
}

var queryRejectKeys = map[string]struct{}{
	"orderby":     {},
	"sort":        {},
	"order":       {},
	"add-to-cart": {},
}

// Classify reports whether u should be blocked and, if so, which rule class
// matched. The static-extension rule is checked first: a static asset under
// an /assets/ or /static/ path (§8 scenario 3) is attributed to STATIC_EXT,
// not ASSETS, since the file extension is the more specific reason it's
// blocked. Path rules and the query rule follow.
func Classify(u *url.URL) (Rule, bool) {
	path := u.Path

	if ext := extensionOf(path); ext != "" {
		if _, blocked := staticExtensions[ext]; blocked {
			return StaticExt, true
		}
	}

	switch {
	case tagPageRe.MatchString(path):
		return TagPage, true
	case authorPageRe.MatchString(path):
		return AuthorPage, true
	case paginationRe.MatchString(path):
		return Pagination, true
	case assetsRe.MatchString(path):
		return Assets, true
	}

	for key := range u.Query() {
		if _, blocked := queryRejectKeys[strings.ToLower(key)]; blocked {
			return QueryReject, true
		}
	}

	return "", false
}

func extensionOf(path string) string {
	idx := strings.LastIndex(path, ".")
	if idx == -1 {
		return ""
	}
	return strings.ToLower(path[idx:])
}

// Counts accumulates per-rule-class block counts for the end-of-job report.
// It is owned by a single site job runner, not shared across sites.
type Counts struct {
	counts map[Rule]int
}

// NewCounts returns an empty Counts accumulator.
func NewCounts() *Counts {
	return &Counts{counts: make(map[Rule]int)}
}

// Record increments the counter for rule.
func (c *Counts) Record(rule Rule) {
	c.counts[rule]++
}

// Snapshot returns a copy of the current counts, keyed by rule class.
func (c *Counts) Snapshot() map[Rule]int {
	out := make(map[Rule]int, len(c.counts))
	for k, v := range c.counts {
		out[k] = v
	}
	return out
}

// Total returns the sum of all recorded counts.
func (c *Counts) Total() int {
	total := 0
	for _, v := range c.counts {
		total += v
	}
	return total
}
