// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package intent

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/research-assistant/pkg/types"
)

// Rule maps a keyword combination to an intent with a base confidence.
// Rules are matched in order; the first rule whose keywords all appear in
// the query wins. Multi-keyword rules are listed before single-keyword ones
// so confidence stays monotonic in match strength.
type Rule struct {
	Keywords   []string         `yaml:"keywords"`
	Intent     types.IntentType `yaml:"intent"`
	Confidence float64          `yaml:"confidence"`
}

// defaultRules is the built-in classification table. An operator can
// override it with a YAML rules file (AnalyzerConfig.RulesFile).
var defaultRules = []Rule{
	// Citation analysis. Listed before author rules so "papers cited by X"
	// does not match the "papers by" author rule.
	{Keywords: []string{"citation", "network"}, Intent: types.IntentCitationAnalysis, Confidence: 0.9},
	{Keywords: []string{"citation", "analysis"}, Intent: types.IntentCitationAnalysis, Confidence: 0.9},
	{Keywords: []string{"cited", "by"}, Intent: types.IntentCitationAnalysis, Confidence: 0.85},
	{Keywords: []string{"cites"}, Intent: types.IntentCitationAnalysis, Confidence: 0.7},

	// Author information. Listed before paper search so "find papers by X"
	// resolves to the author intent.
	{Keywords: []string{"papers", "by"}, Intent: types.IntentAuthorInfo, Confidence: 0.85},
	{Keywords: []string{"author", "information"}, Intent: types.IntentAuthorInfo, Confidence: 0.9},
	{Keywords: []string{"who", "is"}, Intent: types.IntentAuthorInfo, Confidence: 0.7},
	{Keywords: []string{"works", "by"}, Intent: types.IntentAuthorInfo, Confidence: 0.8},

	// Paper search.
	{Keywords: []string{"find", "papers"}, Intent: types.IntentSearchPapers, Confidence: 0.9},
	{Keywords: []string{"search", "papers"}, Intent: types.IntentSearchPapers, Confidence: 0.9},
	{Keywords: []string{"papers", "about"}, Intent: types.IntentSearchPapers, Confidence: 0.85},
	{Keywords: []string{"related", "papers"}, Intent: types.IntentSearchPapers, Confidence: 0.8},
	{Keywords: []string{"literature", "on"}, Intent: types.IntentSearchPapers, Confidence: 0.8},

	// Trend analysis.
	{Keywords: []string{"trending", "papers"}, Intent: types.IntentTrendAnalysis, Confidence: 0.9},
	{Keywords: []string{"research", "trends"}, Intent: types.IntentTrendAnalysis, Confidence: 0.9},
	{Keywords: []string{"hot", "topics"}, Intent: types.IntentTrendAnalysis, Confidence: 0.8},

	// Keyword analysis.
	{Keywords: []string{"top", "keywords"}, Intent: types.IntentKeywordAnalysis, Confidence: 0.9},
	{Keywords: []string{"keyword", "analysis"}, Intent: types.IntentKeywordAnalysis, Confidence: 0.9},

	// Single-keyword fallbacks, weaker by construction.
	{Keywords: []string{"papers"}, Intent: types.IntentSearchPapers, Confidence: 0.65},
	{Keywords: []string{"author"}, Intent: types.IntentAuthorInfo, Confidence: 0.65},
	{Keywords: []string{"citations"}, Intent: types.IntentCitationAnalysis, Confidence: 0.65},
	{Keywords: []string{"trending"}, Intent: types.IntentTrendAnalysis, Confidence: 0.6},
	{Keywords: []string{"trends"}, Intent: types.IntentTrendAnalysis, Confidence: 0.6},
	{Keywords: []string{"keywords"}, Intent: types.IntentKeywordAnalysis, Confidence: 0.6},
}

// LoadRules reads a YAML rule table. Every rule must name a valid intent.
func LoadRules(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading rules file %s: %w", path, err)
	}

	var rules []Rule
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("parsing rules file %s: %w", path, err)
	}
	for i, r := range rules {
		if !r.Intent.Valid() {
			return nil, fmt.Errorf("rules file %s: rule %d has unknown intent %q", path, i, r.Intent)
		}
		if len(r.Keywords) == 0 {
			return nil, fmt.Errorf("rules file %s: rule %d has no keywords", path, i)
		}
	}
	return rules, nil
}

// matchRules returns the first matching rule's intent and confidence, or
// unknown with a floor confidence when nothing matches.
func matchRules(rules []Rule, text string) (types.IntentType, float64) {
	lower := strings.ToLower(text)
	for _, r := range rules {
		matched := true
		for _, kw := range r.Keywords {
			if !strings.Contains(lower, kw) {
				matched = false
				break
			}
		}
		if matched {
			return r.Intent, r.Confidence
		}
	}
	return types.IntentUnknown, 0.3
}

// --- slot extraction ---

// arxivIDPattern matches modern arXiv identifiers (e.g. "2301.07041").
var arxivIDPattern = regexp.MustCompile(`\b\d{4}\.\d{4,5}\b`)

// quotedPattern captures a double-quoted phrase.
var quotedPattern = regexp.MustCompile(`"([^"]+)"`)

// topicMarkers introduce the subject of a paper search.
var topicMarkers = []string{" about ", " on ", " regarding ", " related to ", " concerning "}

// stopwords are dropped when falling back to word-level keywords.
var stopwords = map[string]bool{
	"a": true, "an": true, "the": true, "find": true, "search": true,
	"for": true, "me": true, "show": true, "papers": true, "paper": true,
	"recent": true, "please": true, "some": true, "list": true, "get": true,
	"what": true, "are": true, "is": true, "in": true, "of": true,
}

// extractKeywords pulls the search topic from a query. A phrase following a
// topic marker ("papers about X") is kept whole; otherwise the quoted phrase
// is used; otherwise the remaining content words become individual keywords.
func extractKeywords(text string) []string {
	lower := strings.ToLower(text)

	for _, marker := range topicMarkers {
		if idx := strings.Index(lower, marker); idx >= 0 {
			topic := strings.TrimSpace(lower[idx+len(marker):])
			topic = strings.Trim(topic, ".!?")
			if topic != "" {
				return splitTopics(topic)
			}
		}
	}

	if m := quotedPattern.FindStringSubmatch(text); m != nil {
		return []string{m[1]}
	}

	var words []string
	for _, w := range strings.Fields(lower) {
		w = strings.Trim(w, ".,!?\"'")
		if w != "" && !stopwords[w] {
			words = append(words, w)
		}
	}
	return words
}

// splitTopics breaks "X and Y" / "X, Y" topic phrases into separate keywords.
func splitTopics(topic string) []string {
	parts := regexp.MustCompile(`\s*(?:,|\band\b)\s*`).Split(topic, -1)
	var out []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// authorMarkers introduce an author name.
var authorMarkers = []string{"papers by ", "works by ", "written by ", "who is ", "about author ", "author "}

// extractAuthorName pulls a person name from the query: the capitalized
// word run following an author marker.
func extractAuthorName(text string) string {
	lower := strings.ToLower(text)
	for _, marker := range authorMarkers {
		idx := strings.Index(lower, marker)
		if idx < 0 {
			continue
		}
		rest := strings.TrimSpace(text[idx+len(marker):])
		if name := leadingNameRun(rest); name != "" {
			return name
		}
	}
	return ""
}

// leadingNameRun returns the leading run of capitalized words ("Geoffrey
// Hinton" from "Geoffrey Hinton and his students").
func leadingNameRun(s string) string {
	var name []string
	for _, w := range strings.Fields(s) {
		trimmed := strings.Trim(w, ".,!?\"'")
		if trimmed == "" || trimmed[0] < 'A' || trimmed[0] > 'Z' {
			break
		}
		name = append(name, trimmed)
	}
	return strings.Join(name, " ")
}

// extractPaperRef pulls a paper reference: an arXiv ID, a quoted title, or
// the phrase following a citation marker.
func extractPaperRef(text string) (id, title string) {
	if m := arxivIDPattern.FindString(text); m != "" {
		return m, ""
	}
	if m := quotedPattern.FindStringSubmatch(text); m != nil {
		return "", m[1]
	}

	lower := strings.ToLower(text)
	for _, marker := range []string{"citations of ", "citations for ", "citing ", "cites "} {
		if idx := strings.Index(lower, marker); idx >= 0 {
			phrase := strings.TrimSpace(text[idx+len(marker):])
			phrase = strings.Trim(phrase, ".!?")
			if phrase != "" {
				return "", phrase
			}
		}
	}
	return "", ""
}

// extractField pulls the research field for trend and keyword queries:
// the phrase after "in" ("trending papers in robotics").
func extractField(text string) string {
	lower := strings.ToLower(text)
	for _, marker := range []string{" in the field of ", " in "} {
		if idx := strings.Index(lower, marker); idx >= 0 {
			field := strings.TrimSpace(lower[idx+len(marker):])
			field = strings.Trim(field, ".!?")
			if field != "" {
				return field
			}
		}
	}
	return ""
}
