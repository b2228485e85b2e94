// Package suggest proposes follow-up questions and detects questions too
// vague to send to the model.
//
// Both are plain keyword rules. Nothing here calls the model.
package suggest

import (
	"sort"
	"strings"
)

// DefaultMax is the number of follow-ups returned when Config.Max is
// unset.
const DefaultMax = 3

// Ambiguity is the clarification offered for one vague term.
type Ambiguity struct {
	Clarification string
	Options       []string
}

// Config holds the suggestion rules.
type Config struct {
	// FollowUps maps a table name to questions worth asking after it
	// was queried.
	FollowUps map[string][]string
	// Starters maps a role to questions offered when no table was
	// queried.
	Starters map[string][]string
	// Ambiguous maps a lowercase term to its clarification.
	Ambiguous map[string]Ambiguity
	// HiddenTopics maps a role to lowercase phrases; clarification
	// options mentioning one are not offered to that role.
	HiddenTopics map[string][]string
	// Max caps the number of follow-ups.
	Max int
}

// Clarification asks the user to narrow a vague question.
type Clarification struct {
	Clarification string   `json:"clarification"`
	Options       []string `json:"options"`
}

// Engine applies a Config. It is immutable and safe for concurrent use.
type Engine struct {
	cfg   Config
	terms []string
}

// New creates an engine. Ambiguous terms are matched in sorted order so
// results do not depend on map iteration.
func New(cfg Config) *Engine {
	if cfg.Max <= 0 {
		cfg.Max = DefaultMax
	}
	terms := make([]string, 0, len(cfg.Ambiguous))
	for term := range cfg.Ambiguous {
		terms = append(terms, term)
	}
	sort.Strings(terms)
	return &Engine{cfg: cfg, terms: terms}
}

// FollowUps returns up to Max questions related to the tables the answer
// used, falling back to the role's starters. Suggestions overlapping the
// question are skipped.
func (e *Engine) FollowUps(question string, tablesQueried []string, role string) []string {
	tables := append([]string(nil), tablesQueried...)
	sort.Strings(tables)

	var candidates []string
	seen := make(map[string]bool)
	for _, table := range tables {
		for _, s := range e.cfg.FollowUps[table] {
			if !seen[s] {
				seen[s] = true
				candidates = append(candidates, s)
			}
		}
	}
	if len(candidates) == 0 {
		candidates = e.cfg.Starters[role]
	}

	q := strings.ToLower(strings.TrimSpace(question))
	out := make([]string, 0, e.cfg.Max)
	for _, s := range candidates {
		if len(out) == e.cfg.Max {
			break
		}
		ls := strings.ToLower(s)
		if q != "" && (strings.Contains(ls, q) || strings.Contains(q, ls)) {
			continue
		}
		out = append(out, s)
	}
	return out
}

// Starters returns the role's starter questions.
func (e *Engine) Starters(role string) []string {
	return append([]string(nil), e.cfg.Starters[role]...)
}

// Clarify returns a clarification for questions of at most two words that
// contain an ambiguous term, or nil when the question can go to the
// model as is.
func (e *Engine) Clarify(question, role string) *Clarification {
	q := strings.ToLower(strings.TrimSpace(question))
	if len(strings.Fields(q)) > 2 {
		return nil
	}
	for _, term := range e.terms {
		if !strings.Contains(q, term) {
			continue
		}
		amb := e.cfg.Ambiguous[term]
		options := e.visibleOptions(amb.Options, role)
		if len(options) == 0 {
			continue
		}
		return &Clarification{Clarification: amb.Clarification, Options: options}
	}
	return nil
}

func (e *Engine) visibleOptions(options []string, role string) []string {
	hidden := e.cfg.HiddenTopics[role]
	out := make([]string, 0, len(options))
next:
	for _, o := range options {
		lo := strings.ToLower(o)
		for _, h := range hidden {
			if strings.Contains(lo, h) {
				continue next
			}
		}
		out = append(out, o)
	}
	return out
}
