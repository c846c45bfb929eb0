package detection

import (
	"fmt"
	"strings"

	"guardian-server/pkg/keywords"
)

// Severity is the risk tier derived from the weighted keyword score
type Severity int

const (
	SeverityNone Severity = iota
	SeverityMild
	SeverityHigh
	SeverityCritical
)

// String returns the canonical lower-case label for the severity
func (s Severity) String() string {
	switch s {
	case SeverityCritical:
		return "critical"
	case SeverityHigh:
		return "high"
	case SeverityMild:
		return "mild"
	default:
		return "none"
	}
}

// Level returns the numeric level (0..3) exposed to callers
func (s Severity) Level() int {
	return int(s)
}

// contextWindow limits how much conversational history influences scoring.
// Only the most recent messages carry signal about the current situation.
const contextWindow = 5

// Result is the outcome of scoring one message. It is ephemeral: the
// orchestrator consumes it immediately and nothing persists it.
type Result struct {
	Score             int
	RawScore          int
	ContextBoost      int
	Severity          Severity
	MatchedCategories []string
	Summary           string
}

// CorpusProvider supplies the active keyword corpus. Implemented by
// keywords.Provider; tests supply fixed corpora.
type CorpusProvider interface {
	Corpus() *keywords.Corpus
}

// Scorer computes a risk score for a message against the keyword corpus.
// Scoring is deterministic and has no side effects; the scorer holds no
// mutable state of its own.
type Scorer struct {
	provider CorpusProvider
}

// NewScorer creates a scorer backed by the given corpus provider
func NewScorer(provider CorpusProvider) *Scorer {
	return &Scorer{provider: provider}
}

// Score evaluates a message plus recent context and returns the weighted
// score, severity tier and matched categories.
//
// Tiers are tested critical first, then high, then mild, so the summary
// lists the gravest categories first. Context boosters only amplify an
// already positive base score; they never create risk on their own.
func (s *Scorer) Score(message string, contextMessages []string) Result {
	corpus := s.provider.Corpus()
	lowered := strings.ToLower(message)

	result := Result{MatchedCategories: []string{}}
	seen := make(map[string]bool)

	match := func(rules []keywords.Rule) {
		for _, rule := range rules {
			if rule.Pattern.MatchString(lowered) {
				result.RawScore += rule.Weight
				if !seen[rule.Category] {
					seen[rule.Category] = true
					result.MatchedCategories = append(result.MatchedCategories, rule.Category)
				}
			}
		}
	}

	match(corpus.Critical)
	match(corpus.High)
	match(corpus.Mild)

	if result.RawScore > 0 && len(contextMessages) > 0 {
		recent := contextMessages
		if len(recent) > contextWindow {
			recent = recent[len(recent)-contextWindow:]
		}
		joined := strings.ToLower(strings.Join(recent, " "))
		for _, booster := range corpus.Boosters {
			if booster.Pattern.MatchString(joined) {
				result.ContextBoost += booster.Boost
			}
		}
	}

	result.Score = result.RawScore + result.ContextBoost

	switch {
	case result.Score >= corpus.Thresholds.Critical:
		result.Severity = SeverityCritical
	case result.Score >= corpus.Thresholds.High:
		result.Severity = SeverityHigh
	case result.Score >= corpus.Thresholds.Mild:
		result.Severity = SeverityMild
	default:
		result.Severity = SeverityNone
	}

	if len(result.MatchedCategories) > 0 {
		result.Summary = fmt.Sprintf("%s risk (score %d): %s",
			result.Severity, result.Score, strings.Join(result.MatchedCategories, ", "))
	} else {
		result.Summary = "no risk indicators"
	}

	return result
}
