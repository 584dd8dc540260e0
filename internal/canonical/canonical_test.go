package canonical

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sitewarden/crawler/internal/crawlerr"
)

func TestCanonicalize_Scenarios(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{
			name: "lowercases, strips www, drops fragment and utm, sorts query",
			raw:  "HTTPS://WWW.Example.com/Blog/?utm_source=tw&id=1#top",
			want: "https://example.com/Blog?id=1",
		},
		{
			name: "www http upgrades to canonical host form",
			raw:  "http://www.example.com/",
			want: "https://example.com/",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Canonicalize(tt.raw, "")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCanonicalize_InvalidScheme(t *testing.T) {
	_, err := Canonicalize("mailto:a@b", "")
	require.Error(t, err)

	var cerr *crawlerr.CrawlError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, crawlerr.InvalidURL, cerr.Kind)
}

func TestCanonicalize_Dedup(t *testing.T) {
	inputs := []string{
		"https://x.test/a",
		"http://x.test/a/",
		"https://www.x.test/a?utm_source=y",
	}

	var canon string
	for i, raw := range inputs {
		got, err := Canonicalize(raw, "")
		require.NoError(t, err)
		got2, err := Canonicalize(got, "")
		require.NoError(t, err)
		assert.Equal(t, got, got2, "canonicalization must be idempotent")

		if i == 0 {
			canon = got
		} else {
			assert.Equal(t, canon, got)
		}
	}
}

func TestCanonicalize_OutOfScope(t *testing.T) {
	_, err := Canonicalize("https://other.test/x", "example.com")
	require.Error(t, err)

	var cerr *crawlerr.CrawlError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, crawlerr.OutOfScope, cerr.Kind)
}

func TestCanonicalize_InScopeWWWAndApex(t *testing.T) {
	_, err := Canonicalize("https://www.example.com/x", "example.com")
	require.NoError(t, err)

	_, err = Canonicalize("https://example.com/x", "www.example.com")
	require.NoError(t, err)
}
