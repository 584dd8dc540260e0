package blockrules

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify_Scenarios(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Rule
	}{
		{"pagination", "https://x.test/page/42/", Pagination},
		{"static asset extension", "https://x.test/assets/img.png", StaticExt},
		{"tag page", "https://x.test/tag/golang/", TagPage},
		{"author page", "https://x.test/author/jdoe", AuthorPage},
		{"assets path", "https://x.test/assets/bundle.bin", Assets},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := url.Parse(tt.raw)
			require.NoError(t, err)

			rule, blocked := Classify(u)
			assert.True(t, blocked)
			assert.Equal(t, tt.want, rule)
		})
	}
}

func TestClassify_AllowsOrdinaryPage(t *testing.T) {
	u, err := url.Parse("https://x.test/blog/post-1")
	require.NoError(t, err)

	_, blocked := Classify(u)
	assert.False(t, blocked)
}

func TestClassify_QueryReject(t *testing.T) {
	u, err := url.Parse("https://x.test/shop?sort=price")
	require.NoError(t, err)

	rule, blocked := Classify(u)
	assert.True(t, blocked)
	assert.Equal(t, QueryReject, rule)
}

func TestCounts_Accumulates(t *testing.T) {
	c := NewCounts()
	c.Record(Pagination)
	c.Record(Pagination)
	c.Record(StaticExt)

	snap := c.Snapshot()
	assert.Equal(t, 2, snap[Pagination])
	assert.Equal(t, 1, snap[StaticExt])
	assert.Equal(t, 3, c.Total())
}
