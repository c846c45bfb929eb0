package keywords

import (
	"fmt"
	"regexp"

	"guardian-server/pkg/errors"
)

// RuleSpec is the external (JSON) form of a weighted keyword rule
type RuleSpec struct {
	Pattern  string `json:"pattern"`
	Weight   int    `json:"weight"`
	Category string `json:"category"`
}

// BoosterSpec is the external form of a context booster pattern
type BoosterSpec struct {
	Pattern string `json:"pattern"`
	Boost   int    `json:"boost"`
}

// ThresholdSpec holds the severity thresholds, checked highest first
type ThresholdSpec struct {
	Critical int `json:"critical"`
	High     int `json:"high"`
	Mild     int `json:"mild"`
}

// CorpusSpec is the full external form of the keyword corpus. It is what
// operators edit to tune weights and thresholds without a rebuild.
type CorpusSpec struct {
	Version    string        `json:"version"`
	Critical   []RuleSpec    `json:"critical"`
	High       []RuleSpec    `json:"high"`
	Mild       []RuleSpec    `json:"mild"`
	Boosters   []BoosterSpec `json:"boosters"`
	Thresholds ThresholdSpec `json:"thresholds"`
}

// Rule is a compiled weighted keyword rule
type Rule struct {
	Pattern  *regexp.Regexp
	Weight   int
	Category string
}

// Booster is a compiled context booster pattern
type Booster struct {
	Pattern *regexp.Regexp
	Boost   int
}

// Corpus holds the compiled, immutable keyword tables. A Corpus is never
// mutated after Compile; hot reloads swap the whole value.
type Corpus struct {
	Version    string
	Critical   []Rule
	High       []Rule
	Mild       []Rule
	Boosters   []Booster
	Thresholds ThresholdSpec
}

// Validate checks a corpus spec for structural problems before compiling
func (s *CorpusSpec) Validate() error {
	if len(s.Critical)+len(s.High)+len(s.Mild) == 0 {
		return errors.NewInvalidCorpus("no keyword rules defined")
	}

	for tier, rules := range map[string][]RuleSpec{"critical": s.Critical, "high": s.High, "mild": s.Mild} {
		for i, rule := range rules {
			if rule.Weight <= 0 {
				return errors.NewInvalidCorpus(
					fmt.Sprintf("rule %d in %s tier has non-positive weight %d", i, tier, rule.Weight))
			}
			if rule.Category == "" {
				return errors.NewInvalidCorpus(
					fmt.Sprintf("rule %d in %s tier has empty category", i, tier))
			}
			if _, err := regexp.Compile(rule.Pattern); err != nil {
				return errors.NewInvalidCorpus(
					fmt.Sprintf("rule %d in %s tier has invalid pattern %q: %v", i, tier, rule.Pattern, err))
			}
		}
	}

	for i, booster := range s.Boosters {
		if booster.Boost <= 0 {
			return errors.NewInvalidCorpus(
				fmt.Sprintf("booster %d has non-positive boost %d", i, booster.Boost))
		}
		if _, err := regexp.Compile(booster.Pattern); err != nil {
			return errors.NewInvalidCorpus(
				fmt.Sprintf("booster %d has invalid pattern %q: %v", i, booster.Pattern, err))
		}
	}

	t := s.Thresholds
	if t.Mild <= 0 || t.High <= t.Mild || t.Critical <= t.High {
		return errors.NewInvalidCorpus(
			fmt.Sprintf("thresholds must satisfy 0 < mild < high < critical, got %d/%d/%d", t.Mild, t.High, t.Critical))
	}

	return nil
}

// Compile validates a spec and compiles it into an immutable Corpus
func Compile(spec *CorpusSpec) (*Corpus, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	corpus := &Corpus{
		Version:    spec.Version,
		Thresholds: spec.Thresholds,
	}

	compileTier := func(rules []RuleSpec) []Rule {
		compiled := make([]Rule, 0, len(rules))
		for _, rule := range rules {
			compiled = append(compiled, Rule{
				Pattern:  regexp.MustCompile(rule.Pattern),
				Weight:   rule.Weight,
				Category: rule.Category,
			})
		}
		return compiled
	}

	corpus.Critical = compileTier(spec.Critical)
	corpus.High = compileTier(spec.High)
	corpus.Mild = compileTier(spec.Mild)

	corpus.Boosters = make([]Booster, 0, len(spec.Boosters))
	for _, booster := range spec.Boosters {
		corpus.Boosters = append(corpus.Boosters, Booster{
			Pattern: regexp.MustCompile(booster.Pattern),
			Boost:   booster.Boost,
		})
	}

	return corpus, nil
}

// RuleCount returns the total number of rules across all tiers
func (c *Corpus) RuleCount() int {
	return len(c.Critical) + len(c.High) + len(c.Mild)
}
