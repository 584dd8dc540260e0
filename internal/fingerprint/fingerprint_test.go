package fingerprint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSemanticNormalize_StripsScriptStyleAndComments(t *testing.T) {
	html := `<html><body>
		<!-- tracking pixel -->
		<style>.x{color:red}</style>
		<script>var x = 1;</script>
		<p>Hello   World</p>
	</body></html>`

	doc, err := SemanticNormalize(html)
	require.NoError(t, err)

	assert.Equal(t, "Hello World", doc.Text)
}

func TestSemanticNormalize_RemovesDisplayNoneSubtree(t *testing.T) {
	html := `<html><body><div style="display:none">hidden</div><p>visible</p></body></html>`

	doc, err := SemanticNormalize(html)
	require.NoError(t, err)

	assert.Equal(t, "visible", doc.Text)
}

func TestSemanticNormalize_StripsDynamicHydrationAttrs(t *testing.T) {
	a := `<html><body><div id="react-abc123" data-reactid="1"><p>x</p></div></body></html>`
	b := `<html><body><div id="react-def456" data-reactid="1"><p>x</p></div></body></html>`

	docA, err := SemanticNormalize(a)
	require.NoError(t, err)
	docB, err := SemanticNormalize(b)
	require.NoError(t, err)

	assert.Equal(t, StructuralHash(docA.TagPaths), StructuralHash(docB.TagPaths))
}

func TestSemanticNormalize_WhitespaceAndCommentInsensitive(t *testing.T) {
	a := `<html><body><p>Welcome to our site</p></body></html>`
	b := `<html><body>
		<!-- cache: LiteSpeed -->
		<p>Welcome    to   our
		   site</p>
	</body></html>`

	docA, err := SemanticNormalize(a)
	require.NoError(t, err)
	docB, err := SemanticNormalize(b)
	require.NoError(t, err)

	assert.Equal(t, ContentHash(docA.Text), ContentHash(docB.Text))
	assert.Equal(t, StructuralHash(docA.TagPaths), StructuralHash(docB.TagPaths))
}

func TestContentHash_IsStableSHA256Hex(t *testing.T) {
	h1 := ContentHash("hello world")
	h2 := ContentHash("hello world")
	h3 := ContentHash("hello world!")

	assert.Equal(t, h1, h2)
	assert.NotEqual(t, h1, h3)
	assert.Len(t, h1, 64)
}

func TestStructuralHash_OrderInsensitiveInput(t *testing.T) {
	paths := []string{"html/body/p", "html/body/div"}
	h := StructuralHash(paths)
	assert.Len(t, h, 64)
	assert.Equal(t, h, StructuralHash([]string{"html/body/div", "html/body/p"}))
}

func TestExtractURLs_ResolvesAndDedups(t *testing.T) {
	html := `<html><body>
		<a href="/about">About</a>
		<a href="/about">Again</a>
		<a href="https://other.test/x">External</a>
		<a href="#section">Skip fragment</a>
		<a href="javascript:void(0)">Skip js</a>
		<img src="/img/logo.png">
		<script src="app.js"></script>
		<link rel="stylesheet" href="/css/site.css">
	</body></html>`

	urls, err := ExtractURLs(html, "https://example.test/blog/")
	require.NoError(t, err)

	assert.Contains(t, urls, "https://example.test/about")
	assert.Contains(t, urls, "https://other.test/x")
	assert.Contains(t, urls, "https://example.test/img/logo.png")
	assert.Contains(t, urls, "https://example.test/blog/app.js")
	assert.Contains(t, urls, "https://example.test/css/site.css")

	for _, u := range urls {
		assert.NotContains(t, u, "#")
		assert.NotContains(t, u, "javascript:")
	}

	count := 0
	for _, u := range urls {
		if u == "https://example.test/about" {
			count++
		}
	}
	assert.Equal(t, 1, count, "duplicate href should be deduplicated")
}

func TestExtractURLs_RepairsMalformedScheme(t *testing.T) {
	html := `<html><body><a href="https:example.test/promo">promo</a></body></html>`

	urls, err := ExtractURLs(html, "https://example.test/")
	require.NoError(t, err)

	assert.Contains(t, urls, "https://example.test/promo")
}

func TestScriptHashes_DetectAddedScript(t *testing.T) {
	before := `<html><body><p>hi</p></body></html>`
	after := `<html><body><p>hi</p><script src="https://evil.test/inject.js"></script></body></html>`

	docBefore, err := SemanticNormalize(before)
	require.NoError(t, err)
	docAfter, err := SemanticNormalize(after)
	require.NoError(t, err)

	assert.Empty(t, docBefore.ScriptHashes)
	assert.Len(t, docAfter.ScriptHashes, 1)
}
