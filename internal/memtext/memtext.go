// Package memtext provides the pure text functions used on the memory
// write path: whitespace normalization, length bounding, display
// compression, and the lexical importance heuristic.
package memtext

import (
	"regexp"
	"strings"
)

// ImportanceHint is an optional caller-supplied prior for the
// importance estimate.
type ImportanceHint string

const (
	HintLow    ImportanceHint = "low"
	HintMedium ImportanceHint = "medium"
	HintHigh   ImportanceHint = "high"
)

// Valid reports whether h is empty or one of the known hints.
func (h ImportanceHint) Valid() bool {
	switch h {
	case "", HintLow, HintMedium, HintHigh:
		return true
	}
	return false
}

var whitespaceRun = regexp.MustCompile(`\s+`)

// Normalize trims s and collapses internal whitespace runs to single
// spaces. Deterministic; no locale dependence.
func Normalize(s string) string {
	return whitespaceRun.ReplaceAllString(strings.TrimSpace(s), " ")
}

// Truncate hard-cuts s to max characters if longer.
func Truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max]
}

// Compress returns s unchanged when it fits in max characters; otherwise
// a head...tail summary with each half trimmed of surrounding whitespace.
// The result is a display summary, not reversible.
func Compress(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	half := max / 2
	head := strings.TrimSpace(s[:half])
	tail := strings.TrimSpace(s[len(s)-half:])
	return head + " ... " + tail
}

var (
	numberPattern   = regexp.MustCompile(`\d{2,}`)
	currencyPattern = regexp.MustCompile(`(?i)(\$|€|£|¥|kr|sek|usd|eur)\s?\d+`)
	datePattern     = regexp.MustCompile(`(?i)(\d{4}-\d{2}-\d{2}|\d{1,2}/\d{1,2}/\d{2,4}|yesterday|today|tomorrow|monday|tuesday|wednesday|thursday|friday|saturday|sunday)`)
	decisionPattern = regexp.MustCompile(`(?i)(bought|purchased|decided|planned|scheduled|deadline|deliver|ordered|signed|contract)`)
	productPattern  = regexp.MustCompile(`(?i)(iphone|samsung|pixel|macbook|tesla|gpt|chatgpt|azure|aws|google|microsoft|apple)`)
	// Two or more capitalized words in a row, e.g. a person or place name.
	properNounPattern = regexp.MustCompile(`[A-Z][a-z]+(?:\s[A-Z][a-z]+)+`)
)

func hintPrior(hint ImportanceHint) float64 {
	switch hint {
	case HintHigh:
		return 0.9
	case HintMedium:
		return 0.6
	case HintLow:
		return 0.3
	}
	return 0.5
}

// EstimateImportance derives a 0-1 importance estimate from lexical
// signals in text plus the optional hint prior. This is a heuristic, not
// a model: longer text, concrete numbers, money amounts, dates,
// decision/transaction keywords, and named products or people all push
// the score up. The result is monotonic in text length and preserves
// hint ordering for identical text.
func EstimateImportance(text string, hint ImportanceHint, maxTextLength int) float64 {
	normalized := Normalize(text)

	lengthCap := maxTextLength
	if lengthCap <= 0 || lengthCap > 800 {
		lengthCap = 800
	}
	lengthFactor := clamp01(float64(len(normalized)) / float64(lengthCap))

	base := 0.2 + lengthFactor*0.25
	if numberPattern.MatchString(normalized) {
		base += 0.08
	}
	if currencyPattern.MatchString(normalized) {
		base += 0.10
	}
	if datePattern.MatchString(normalized) {
		base += 0.08
	}
	if decisionPattern.MatchString(normalized) {
		base += 0.15
	}
	if productPattern.MatchString(normalized) || properNounPattern.MatchString(text) {
		base += 0.12
	}

	return clamp01((base + hintPrior(hint)) / 2)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
