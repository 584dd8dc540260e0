// Package compare implements the Comparator / verdict engine (§4.10): a
// pure function from a live page plus its baseline to a Verdict, never
// touching storage or the frontier.
package compare

import (
	"math"
	"strings"

	"github.com/sitewarden/crawler/internal/fingerprint"
)

// Status is the verdict's outcome bucket.
type Status string

const (
	StatusClean     Status = "CLEAN"
	StatusDefaced   Status = "DEFACED"
	StatusPotential Status = "POTENTIAL_DEFACEMENT"
	StatusFailed    Status = "FAILED"
)

// Severity ranks a verdict's urgency.
type Severity string

const (
	SeverityNone     Severity = "NONE"
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Indicator is a signal label attached to a Verdict explaining what drove
// the classification.
type Indicator string

const (
	IndicatorScriptAdded        Indicator = "SCRIPT_ADDED"
	IndicatorScriptRemoved      Indicator = "SCRIPT_REMOVED"
	IndicatorStructuralCollapse Indicator = "STRUCTURAL_COLLAPSE"
	IndicatorTextReplacement    Indicator = "TEXT_REPLACEMENT"
	IndicatorHashMatch          Indicator = "HASH_MATCH"
	IndicatorVersionMismatch    Indicator = "VERSION_MISMATCH"
	IndicatorNoBaseline         Indicator = "NO_BASELINE"
)

// Page is one side of a comparison: the live fetch or the stored baseline.
type Page struct {
	NormalizedText string
	ContentHash    string
	StructuralHash string
	TagPaths       []string
	ScriptSrcs     []string
	NormVersion    string
}

// Policy carries the comparator's tunables; NoiseFloor defaults to 0.05 per
// §4.10 step 5 when zero.
type Policy struct {
	NoiseFloor float64
}

// Verdict is the Comparator's pure output.
type Verdict struct {
	Status          Status
	Severity        Severity
	Confidence      float64
	StructuralDrift float64
	ContentDrift    float64
	Indicators      []Indicator
}

// Compare implements the §4.10 decision table exactly: version mismatch is
// checked first, hash match short-circuits everything else, and the
// remaining indicators are evaluated in the table's stated order.
func Compare(live, baseline Page, policy Policy) Verdict {
	if policy.NoiseFloor <= 0 {
		policy.NoiseFloor = 0.05
	}

	if live.NormVersion != baseline.NormVersion {
		return Verdict{
			Status:     StatusFailed,
			Severity:   SeverityNone,
			Confidence: 0,
			Indicators: []Indicator{IndicatorVersionMismatch},
		}
	}

	structuralDrift := jaccardDistance(live.TagPaths, baseline.TagPaths)
	contentDrift := 1 - cosineSimilarity(tokenize(live.NormalizedText), tokenize(baseline.NormalizedText))

	indicators := detectIndicators(live, baseline, structuralDrift, contentDrift)
	status, severity, confidence := classify(structuralDrift, contentDrift, indicators, policy)

	return Verdict{
		Status:          status,
		Severity:        severity,
		Confidence:      confidence,
		StructuralDrift: structuralDrift,
		ContentDrift:    contentDrift,
		Indicators:      indicators,
	}
}

func detectIndicators(live, baseline Page, structuralDrift, contentDrift float64) []Indicator {
	var indicators []Indicator

	// HASH_MATCH compares the content hashes of the two normalized texts, so
	// it does not depend on whatever ContentHash a caller stored on a Page.
	if fingerprint.ContentHash(live.NormalizedText) == fingerprint.ContentHash(baseline.NormalizedText) {
		indicators = append(indicators, IndicatorHashMatch)
	}
	if len(setDiff(live.ScriptSrcs, baseline.ScriptSrcs)) > 0 {
		indicators = append(indicators, IndicatorScriptAdded)
	}
	if len(setDiff(baseline.ScriptSrcs, live.ScriptSrcs)) > 0 {
		indicators = append(indicators, IndicatorScriptRemoved)
	}
	if structuralDrift >= 0.6 {
		indicators = append(indicators, IndicatorStructuralCollapse)
	}
	if contentDrift >= 0.7 {
		indicators = append(indicators, IndicatorTextReplacement)
	}

	return indicators
}

func classify(structuralDrift, contentDrift float64, indicators []Indicator, policy Policy) (Status, Severity, float64) {
	if has(indicators, IndicatorHashMatch) {
		return StatusClean, SeverityNone, 1.0
	}

	if has(indicators, IndicatorScriptAdded) {
		severity := SeverityHigh
		if has(indicators, IndicatorStructuralCollapse) || has(indicators, IndicatorTextReplacement) {
			severity = SeverityCritical
		}
		return StatusDefaced, severity, 0.9
	}

	if has(indicators, IndicatorStructuralCollapse) {
		return StatusDefaced, SeverityHigh, 0.85
	}

	if has(indicators, IndicatorTextReplacement) {
		return StatusPotential, SeverityMedium, 0.7
	}

	if structuralDrift < policy.NoiseFloor && contentDrift < policy.NoiseFloor {
		return StatusClean, SeverityNone, 1.0 - math.Max(structuralDrift, contentDrift)
	}

	return StatusPotential, SeverityLow, 0.5
}

func has(indicators []Indicator, target Indicator) bool {
	for _, ind := range indicators {
		if ind == target {
			return true
		}
	}
	return false
}

// jaccardDistance computes 1 - |A∩B|/|A∪B| over the two tag-path bags,
// matching the structural fingerprint's multiset semantics: a tag-path
// appearing twice in one page and once in the other contributes 1 to the
// intersection and 2 to the union.
func jaccardDistance(a, b []string) float64 {
	bagA := toBag(a)
	bagB := toBag(b)

	all := make(map[string]struct{})
	for k := range bagA {
		all[k] = struct{}{}
	}
	for k := range bagB {
		all[k] = struct{}{}
	}
	if len(all) == 0 {
		return 0
	}

	var intersection, union int
	for k := range all {
		ca, cb := bagA[k], bagB[k]
		intersection += minInt(ca, cb)
		union += maxInt(ca, cb)
	}
	if union == 0 {
		return 0
	}
	return 1.0 - float64(intersection)/float64(union)
}

func toBag(items []string) map[string]int {
	bag := make(map[string]int, len(items))
	for _, it := range items {
		bag[it]++
	}
	return bag
}

// tokenize splits normalized text into whitespace-delimited words.
func tokenize(text string) []string {
	if text == "" {
		return nil
	}
	return strings.Fields(text)
}

// cosineSimilarity computes cosine similarity between the token multisets
// of a and b, treated as word-frequency vectors over their joint
// vocabulary.
func cosineSimilarity(a, b []string) float64 {
	freqA := toBag(a)
	freqB := toBag(b)
	if len(freqA) == 0 && len(freqB) == 0 {
		return 1.0
	}

	var dot, normA, normB float64
	for k, va := range freqA {
		normA += float64(va) * float64(va)
		if vb, ok := freqB[k]; ok {
			dot += float64(va) * float64(vb)
		}
	}
	for _, vb := range freqB {
		normB += float64(vb) * float64(vb)
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func setDiff(a, b []string) []string {
	inB := make(map[string]struct{}, len(b))
	for _, v := range b {
		inB[v] = struct{}{}
	}
	var diff []string
	for _, v := range a {
		if _, ok := inB[v]; !ok {
			diff = append(diff, v)
		}
	}
	return diff
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
