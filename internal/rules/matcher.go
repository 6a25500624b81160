package rules

import (
	"strings"

	"github.com/rs/zerolog"
)

// Matcher evaluates rule tables against issue text. It never fails: if the
// source cannot produce a snapshot the built-in defaults are used.
type Matcher struct {
	source Source
	logger zerolog.Logger
}

// NewMatcher creates a Matcher reading from source.
func NewMatcher(source Source, logger zerolog.Logger) *Matcher {
	return &Matcher{source: source, logger: logger}
}

func (m *Matcher) snapshot() Rules {
	if m.source == nil {
		return Defaults()
	}
	r, err := m.source.Snapshot()
	if err != nil {
		m.logger.Warn().Err(err).Msg("rule source unavailable, using built-in rules")
		return Defaults()
	}
	return r
}

// MatchLabels returns every label with at least one trigger token that is
// a case-insensitive substring of text.
func (m *Matcher) MatchLabels(text string) []string {
	return MatchLabels(m.snapshot().Labels, text)
}

// MatchOwners returns owners for every path prefix found in text, in
// first-seen order without duplicates.
func (m *Matcher) MatchOwners(text string) []string {
	return MatchOwners(m.snapshot().Owners, text)
}

// MatchLabels applies a label table to text.
func MatchLabels(table Table, text string) []string {
	lowerText := strings.ToLower(text)
	seen := make(map[string]bool)
	var labels []string

	for _, rule := range table {
		if seen[rule.Key] || !containsAny(lowerText, rule.Values) {
			continue
		}
		seen[rule.Key] = true
		labels = append(labels, rule.Key)
	}
	return labels
}

// MatchOwners applies an owner table to text. Prefixes are case-sensitive.
func MatchOwners(table Table, text string) []string {
	seen := make(map[string]bool)
	var owners []string

	for _, rule := range table {
		if rule.Key == "" || !strings.Contains(text, rule.Key) {
			continue
		}
		for _, owner := range rule.Values {
			if owner == "" || seen[owner] {
				continue
			}
			seen[owner] = true
			owners = append(owners, owner)
		}
	}
	return owners
}

// containsAny reports whether lowerText contains any non-empty token,
// compared case-insensitively.
func containsAny(lowerText string, tokens []string) bool {
	for _, token := range tokens {
		if token == "" {
			continue
		}
		if strings.Contains(lowerText, strings.ToLower(token)) {
			return true
		}
	}
	return false
}
