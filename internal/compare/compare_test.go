package compare

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCompare_HashMatchIsClean(t *testing.T) {
	live := Page{NormalizedText: "welcome to our site", ContentHash: "abc", StructuralHash: "s1", TagPaths: []string{"html/body/p"}, NormVersion: "v1"}
	baseline := Page{NormalizedText: "welcome to our site", ContentHash: "abc", StructuralHash: "s1", TagPaths: []string{"html/body/p"}, NormVersion: "v1"}

	v := Compare(live, baseline, Policy{})

	assert.Equal(t, StatusClean, v.Status)
	assert.Equal(t, SeverityNone, v.Severity)
	assert.Equal(t, 1.0, v.Confidence)
	assert.Contains(t, v.Indicators, IndicatorHashMatch)
}

func TestCompare_ScriptInjectionIsDefacedHigh(t *testing.T) {
	baseline := Page{
		NormalizedText: "welcome home friends and family",
		ContentHash:    "base-hash",
		TagPaths:       []string{"html/body/p", "html/body/div"},
		ScriptSrcs:     []string{"a.js"},
		NormVersion:    "v1",
	}
	live := Page{
		NormalizedText: "welcome home buddies and family group",
		ContentHash:    "live-hash",
		TagPaths:       []string{"html/body/p", "html/body/div"},
		ScriptSrcs:     []string{"a.js", "evil.js"},
		NormVersion:    "v1",
	}

	v := Compare(live, baseline, Policy{})

	assert.Equal(t, StatusDefaced, v.Status)
	assert.Equal(t, SeverityHigh, v.Severity)
	assert.Equal(t, 0.9, v.Confidence)
	assert.Contains(t, v.Indicators, IndicatorScriptAdded)
}

func TestCompare_ScriptInjectionWithStructuralCollapseEscalatesToCritical(t *testing.T) {
	baseline := Page{
		NormalizedText: "about us products contact support",
		TagPaths:       []string{"html/body/header", "html/body/nav", "html/body/main", "html/body/footer"},
		ScriptSrcs:     []string{"a.js"},
		NormVersion:    "v1",
	}
	live := Page{
		NormalizedText: "hacked by anonymous",
		TagPaths:       []string{"html/body/div"},
		ScriptSrcs:     []string{"a.js", "evil.js"},
		NormVersion:    "v1",
	}

	v := Compare(live, baseline, Policy{})

	assert.Equal(t, StatusDefaced, v.Status)
	assert.Equal(t, SeverityCritical, v.Severity)
	assert.Contains(t, v.Indicators, IndicatorScriptAdded)
	assert.Contains(t, v.Indicators, IndicatorStructuralCollapse)
}

func TestCompare_TextReplacementWithoutScriptChangeIsPotentialMedium(t *testing.T) {
	baseline := Page{
		NormalizedText: "our company sells widgets and gadgets to customers worldwide every day",
		TagPaths:       []string{"html/body/p", "html/body/div"},
		ScriptSrcs:     []string{"a.js"},
		NormVersion:    "v1",
	}
	live := Page{
		NormalizedText: "zzz yyy xxx www vvv uuu ttt sss rrr qqq ppp ooo nnn",
		TagPaths:       []string{"html/body/p", "html/body/div"},
		ScriptSrcs:     []string{"a.js"},
		NormVersion:    "v1",
	}

	v := Compare(live, baseline, Policy{})

	require := assert.New(t)
	require.GreaterOrEqual(v.ContentDrift, 0.7)
	require.Equal(StatusPotential, v.Status)
	require.Equal(SeverityMedium, v.Severity)
	require.Contains(v.Indicators, IndicatorTextReplacement)
	require.NotContains(v.Indicators, IndicatorScriptAdded)
}

func TestCompare_BelowNoiseFloorIsClean(t *testing.T) {
	live := Page{NormalizedText: "hello world", TagPaths: []string{"html/body/p"}, NormVersion: "v1"}
	baseline := Page{NormalizedText: "hello world", TagPaths: []string{"html/body/p"}, NormVersion: "v1"}

	v := Compare(live, baseline, Policy{NoiseFloor: 0.05})

	assert.Equal(t, StatusClean, v.Status)
	assert.Equal(t, SeverityNone, v.Severity)
}

func TestCompare_SmallDriftWithoutIndicatorsIsPotentialLow(t *testing.T) {
	live := Page{NormalizedText: "hello big world out there", TagPaths: []string{"html/body/p", "html/body/div"}, NormVersion: "v1"}
	baseline := Page{NormalizedText: "hello small world out there", TagPaths: []string{"html/body/p", "html/body/div"}, NormVersion: "v1"}

	v := Compare(live, baseline, Policy{})

	assert.Equal(t, StatusPotential, v.Status)
	assert.Equal(t, SeverityLow, v.Severity)
	assert.Equal(t, 0.5, v.Confidence)
}

func TestCompare_VersionMismatchIsFailed(t *testing.T) {
	live := Page{NormalizedText: "x", NormVersion: "v2"}
	baseline := Page{NormalizedText: "x", NormVersion: "v1"}

	v := Compare(live, baseline, Policy{})

	assert.Equal(t, StatusFailed, v.Status)
	assert.Equal(t, SeverityNone, v.Severity)
	assert.Equal(t, 0.0, v.Confidence)
	assert.Contains(t, v.Indicators, IndicatorVersionMismatch)
}

func TestCompare_IsDeterministic(t *testing.T) {
	live := Page{NormalizedText: "some live text here", TagPaths: []string{"html/body/p"}, ScriptSrcs: []string{"a.js"}, NormVersion: "v1"}
	baseline := Page{NormalizedText: "some baseline text here", TagPaths: []string{"html/body/div"}, ScriptSrcs: []string{"a.js"}, NormVersion: "v1"}

	v1 := Compare(live, baseline, Policy{})
	v2 := Compare(live, baseline, Policy{})

	assert.Equal(t, v1, v2)
}
