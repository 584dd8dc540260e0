// Package fingerprint implements the semantic normalizer, structural
// fingerprint, link extractor and content/structural hashers (§4.6, §4.7).
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/net/html"
	"golang.org/x/text/unicode/norm"

	"github.com/sitewarden/crawler/internal/canonical"
)

// Version stamps the normalization algorithm. A baseline recorded under one
// Version can never be safely diffed against a live fetch normalized under
// another; the comparator treats a mismatch as VERSION_MISMATCH.
const Version = "v1"

// noiseTags are removed wholesale before text or structure is derived from
// the document: they carry no author-visible content, or content that is
// expected to vary run to run regardless of defacement.
var noiseTags = map[string]struct{}{
	"script":   {},
	"style":    {},
	"noscript": {},
	"iframe":   {},
}

// dynamicAttrPatterns match attribute values that framework runtimes mint
// fresh on every render (React/Ember/Angular/Vue hydration ids, CSRF
// nonces) and which would otherwise make the structural fingerprint churn
// on every crawl of an unchanged page.
var dynamicAttrPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^react-[0-9a-f-]+$`),
	regexp.MustCompile(`^ember\d+$`),
	regexp.MustCompile(`^ng-[a-z0-9]+-\d+$`),
	regexp.MustCompile(`^data-v-[0-9a-f]+$`),
}

// dynamicAttrKeyRe matches attribute names whose value looks like a one-time
// nonce regardless of content (CSRF tokens and similar).
var dynamicAttrKeyRe = regexp.MustCompile(`(?i)(csrf|nonce|token)`)

// displayNoneRe is a coarse inline-style sniff; the spec scopes removal to
// the common "display:none" author pattern, not full CSS cascade evaluation.
var displayNoneRe = regexp.MustCompile(`display\s*:\s*none`)

// Document holds the parsed tree plus derived artifacts for a single page,
// produced once by SemanticNormalize and consumed by the worker, comparator
// and link extractor so the HTML is parsed exactly once per fetch.
type Document struct {
	Text         string
	TagPaths     []string
	ScriptHashes []string
}

// SemanticNormalize implements the §4.6 six-step algorithm: lenient parse,
// noise-subtree removal, dynamic-attribute stripping, NFC + whitespace
// normalization of text, and derivation of the sorted tag-path multiset used
// for the structural fingerprint.
func SemanticNormalize(rawHTML string) (*Document, error) {
	root, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return nil, err
	}

	scriptHashes := collectScriptHashes(root)
	removeNoise(root)
	stripDynamicAttrs(root)

	var textParts []string
	var tagPaths []string
	walkForTextAndPaths(root, nil, &textParts, &tagPaths)

	text := normalizeWhitespace(strings.Join(textParts, " "))
	sort.Strings(tagPaths)

	return &Document{
		Text:         text,
		TagPaths:     tagPaths,
		ScriptHashes: scriptHashes,
	}, nil
}

// collectScriptHashes hashes each inline and external <script> tag's
// identity (its src, or its inline body) before noise removal strips the
// nodes out of the tree. The comparator uses these to detect
// SCRIPT_ADDED/SCRIPT_REMOVED indicators.
func collectScriptHashes(n *html.Node) []string {
	var hashes []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "script" {
			identity := attr(n, "src")
			if identity == "" {
				identity = innerText(n)
			}
			hashes = append(hashes, ContentHash(strings.TrimSpace(identity)))
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	sort.Strings(hashes)
	return hashes
}

// removeNoise deletes script/style/noscript/iframe elements, comment nodes,
// and elements carrying an inline display:none style, in place.
func removeNoise(n *html.Node) {
	var next *html.Node
	for c := n.FirstChild; c != nil; c = next {
		next = c.NextSibling
		if shouldRemove(c) {
			n.RemoveChild(c)
			continue
		}
		removeNoise(c)
	}
}

func shouldRemove(n *html.Node) bool {
	if n.Type == html.CommentNode {
		return true
	}
	if n.Type != html.ElementNode {
		return false
	}
	if _, ok := noiseTags[n.Data]; ok {
		return true
	}
	if style := attr(n, "style"); style != "" && displayNoneRe.MatchString(style) {
		return true
	}
	return false
}

// stripDynamicAttrs removes attributes whose name looks like a nonce/token
// key, or whose value matches one of the known framework hydration-id
// patterns, from every element in the tree.
func stripDynamicAttrs(n *html.Node) {
	if n.Type == html.ElementNode {
		kept := make([]html.Attribute, 0, len(n.Attr))
		for _, a := range n.Attr {
			if dynamicAttrKeyRe.MatchString(a.Key) {
				continue
			}
			if matchesDynamicPattern(a.Val) {
				continue
			}
			kept = append(kept, a)
		}
		n.Attr = kept
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		stripDynamicAttrs(c)
	}
}

func matchesDynamicPattern(val string) bool {
	for _, re := range dynamicAttrPatterns {
		if re.MatchString(val) {
			return true
		}
	}
	return false
}

// walkForTextAndPaths collects visible text nodes and, for every element,
// its tag-path (the "/"-joined chain of ancestor tag names) into tagPaths.
func walkForTextAndPaths(n *html.Node, path []string, text *[]string, tagPaths *[]string) {
	switch n.Type {
	case html.TextNode:
		if t := strings.TrimSpace(n.Data); t != "" {
			*text = append(*text, t)
		}
	case html.ElementNode:
		path = append(path, n.Data)
		*tagPaths = append(*tagPaths, strings.Join(path, "/"))
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walkForTextAndPaths(c, path, text, tagPaths)
	}
}

// normalizeWhitespace NFC-normalizes text and collapses runs of whitespace
// to single spaces, trimming the result.
func normalizeWhitespace(text string) string {
	nfc := norm.NFC.String(text)
	var b strings.Builder
	lastSpace := true
	for _, r := range nfc {
		if unicode.IsSpace(r) {
			if !lastSpace {
				b.WriteRune(' ')
			}
			lastSpace = true
			continue
		}
		lastSpace = false
		b.WriteRune(r)
	}
	return strings.TrimSpace(b.String())
}

// StructuralFingerprint returns the sorted tag-path multiset used to derive
// the structural hash, already computed by SemanticNormalize.
func (d *Document) StructuralFingerprint() []string {
	return d.TagPaths
}

// ContentHash returns SHA-256(text) as 64 lowercase hex characters (§4.7).
func ContentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// StructuralHash returns SHA-256 of the sorted tag-paths joined by newline
// (§4.7).
func StructuralHash(tagPaths []string) string {
	sorted := append([]string(nil), tagPaths...)
	sort.Strings(sorted)
	sum := sha256.Sum256([]byte(strings.Join(sorted, "\n")))
	return hex.EncodeToString(sum[:])
}

// urlBearingTags maps each element we extract links from to the attribute
// carrying the URL.
var urlBearingTags = map[string]string{
	"a":      "href",
	"img":    "src",
	"link":   "href",
	"script": "src",
	"iframe": "src",
}

// ExtractURLs walks the raw (pre-normalization) document for every a/img/
// link/script/iframe href or src, resolves it against base, repairs the
// common malformed-scheme typo, discards fragment-only references, and
// returns the deduplicated, order-preserving result.
func ExtractURLs(rawHTML, base string) ([]string, error) {
	baseURL, err := url.Parse(base)
	if err != nil {
		return nil, err
	}

	root, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	var out []string

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if attrName, ok := urlBearingTags[n.Data]; ok {
				if resolved := resolveLink(attr(n, attrName), baseURL); resolved != "" {
					if _, dup := seen[resolved]; !dup {
						seen[resolved] = struct{}{}
						out = append(out, resolved)
					}
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)

	return out, nil
}

func resolveLink(raw string, base *url.URL) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.HasPrefix(raw, "#") {
		return ""
	}
	if strings.HasPrefix(raw, "javascript:") || strings.HasPrefix(raw, "mailto:") || strings.HasPrefix(raw, "tel:") || strings.HasPrefix(raw, "data:") {
		return ""
	}

	repaired := canonical.RepairMalformedScheme(raw)
	ref, err := url.Parse(repaired)
	if err != nil {
		return ""
	}

	resolved := base.ResolveReference(ref)
	resolved.Fragment = ""
	resolved.RawFragment = ""
	return resolved.String()
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func innerText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}
