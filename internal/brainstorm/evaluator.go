package brainstorm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/colloquy-ai/colloquy/internal/dialogue"
)

// Proposed is a follow-up question an evaluation wants asked.
type Proposed struct {
	Type   dialogue.QuestionType
	Text   string
	Config dialogue.Config
}

// Evaluation is the outcome of evaluating one branch: either wait (nothing
// set), ask more (Question set), or done (Done with a Finding).
type Evaluation struct {
	Done     bool
	Finding  string
	Question *Proposed
}

// An Evaluator decides how a branch proceeds from its history. Evaluate is
// the built-in rule-based one; an LLM-backed strategy can be swapped in by
// the orchestration loop.
type Evaluator func(b *Branch) Evaluation

const (
	maxAnswersPerBranch = 3
	freeTextLimit       = 100
)

// Evaluate is pure and deterministic; rules apply in order, first match
// wins:
//
//  1. any unanswered question → wait
//  2. enough answers gathered → done, synthesize the finding
//  3. last answer was a confirmation: yes → done, no → free-text follow-up
//  4. one answer → scope-aware single-choice, two answers → confirmation
//  5. otherwise → done with a best-effort finding
func Evaluate(b *Branch) Evaluation {
	var answered []BranchQuestion
	for _, q := range b.Questions {
		if !q.Answered() {
			return Evaluation{}
		}
		answered = append(answered, q)
	}

	if len(answered) >= maxAnswersPerBranch {
		return finish(b, answered)
	}

	if len(answered) > 0 {
		last := answered[len(answered)-1]
		if last.Type == dialogue.TypeConfirm {
			if yes, ok := confirmAnswer(last.Answer); ok {
				if yes {
					return finish(b, answered)
				}
				text := fmt.Sprintf("What would you change about the current direction for %s?", b.Scope)
				return Evaluation{Question: &Proposed{
					Type:   dialogue.TypeText,
					Text:   text,
					Config: dialogue.TextConfig(text, "Describe what should be different"),
				}}
			}
		}
	}

	switch len(answered) {
	case 1:
		text := fmt.Sprintf("What matters most for %s?", b.Scope)
		return Evaluation{Question: &Proposed{
			Type:   dialogue.TypeSelect,
			Text:   text,
			Config: dialogue.SelectConfig(text, scopeOptions(b.Scope)...),
		}}
	case 2:
		text := fmt.Sprintf("Is the direction for %s clear enough to conclude?", b.Scope)
		return Evaluation{Question: &Proposed{
			Type:   dialogue.TypeConfirm,
			Text:   text,
			Config: dialogue.ConfirmConfig(text),
		}}
	}

	return finish(b, answered)
}

// scopeOptions picks the single-choice option set by keyword match against
// the branch scope. First matching family wins.
func scopeOptions(scope string) []dialogue.Option {
	s := strings.ToLower(scope)
	contains := func(words ...string) bool {
		for _, w := range words {
			if strings.Contains(s, w) {
				return true
			}
		}
		return false
	}

	switch {
	case contains("database", "db", "storage", "persistence", "sql"):
		return options("consistency", "performance", "scalability", "simplicity")
	case contains("api", "endpoint", "rest", "grpc", "rpc"):
		return options("simplicity", "latency", "compatibility", "documentation")
	case contains("auth", "security", "login", "credential", "permission"):
		return options("security", "usability", "standards", "simplicity")
	case contains("ui", "design", "frontend", "interface", "ux"):
		return options("user experience", "performance", "accessibility", "simplicity")
	default:
		return options("simplicity", "performance", "flexibility", "maintainability")
	}
}

func options(ids ...string) []dialogue.Option {
	out := make([]dialogue.Option, 0, len(ids))
	for _, id := range ids {
		label := strings.ToUpper(id[:1]) + id[1:]
		out = append(out, dialogue.Option{ID: id, Label: label})
	}
	return out
}

// finish synthesizes the branch finding: the first answer is the primary
// decision, later distinct values become additional considerations.
func finish(b *Branch, answered []BranchQuestion) Evaluation {
	if len(answered) == 0 {
		return Evaluation{
			Done:    true,
			Finding: fmt.Sprintf("No conclusive answers were gathered for %s.", b.Scope),
		}
	}

	primary := answerValue(answered[0])
	seen := map[string]bool{primary: true}
	var extras []string
	for _, q := range answered[1:] {
		v := answerValue(q)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		extras = append(extras, v)
	}

	finding := fmt.Sprintf("Decision for %s: %s.", b.Scope, primary)
	if len(extras) > 0 {
		finding += " Additional considerations: " + strings.Join(extras, "; ") + "."
	}
	return Evaluation{Done: true, Finding: finding}
}

// answerValue extracts a display value from an answer payload using the
// question's type; shapes it does not special-case fall through to a compact
// rendering of the raw payload.
func answerValue(q BranchQuestion) string {
	switch q.Type {
	case dialogue.TypeSelect, dialogue.TypeMultiSelect:
		var sel struct {
			Selected selectedIDs `json:"selected"`
		}
		if json.Unmarshal(q.Answer, &sel) == nil && len(sel.Selected) > 0 {
			return strings.Join(sel.Selected, ", ")
		}
	case dialogue.TypeConfirm:
		if yes, ok := confirmAnswer(q.Answer); ok {
			if yes {
				return "yes"
			}
			return "no"
		}
	case dialogue.TypeText:
		var t struct {
			Text string `json:"text"`
		}
		if json.Unmarshal(q.Answer, &t) == nil && t.Text != "" {
			return truncate(t.Text, freeTextLimit)
		}
	case dialogue.TypeSlider:
		var v struct {
			Value *float64 `json:"value"`
		}
		if json.Unmarshal(q.Answer, &v) == nil && v.Value != nil {
			return fmt.Sprintf("%g", *v.Value)
		}
	case dialogue.TypeRank:
		var r struct {
			Ranks map[string]int `json:"ranks"`
		}
		if json.Unmarshal(q.Answer, &r) == nil && len(r.Ranks) > 0 {
			return joinByScore(r.Ranks, true, len(r.Ranks))
		}
	case dialogue.TypeRate:
		var r struct {
			Ratings map[string]int `json:"ratings"`
		}
		if json.Unmarshal(q.Answer, &r) == nil && len(r.Ratings) > 0 {
			return joinTopRated(r.Ratings, 3)
		}
	}
	return compactRaw(q.Answer)
}

// selectedIDs accepts both a single id and a list of ids.
type selectedIDs []string

func (s *selectedIDs) UnmarshalJSON(b []byte) error {
	var one string
	if err := json.Unmarshal(b, &one); err == nil {
		*s = selectedIDs{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(b, &many); err != nil {
		return err
	}
	*s = selectedIDs(many)
	return nil
}

func confirmAnswer(raw json.RawMessage) (yes bool, ok bool) {
	var c struct {
		Confirmed *bool `json:"confirmed"`
	}
	if json.Unmarshal(raw, &c) == nil && c.Confirmed != nil {
		return *c.Confirmed, true
	}
	return false, false
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "..."
}

// joinByScore orders keys by score (ascending when asc) with the key as a
// deterministic tiebreak.
func joinByScore(scores map[string]int, asc bool, limit int) string {
	keys := make([]string, 0, len(scores))
	for k := range scores {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := scores[keys[i]], scores[keys[j]]
		if a != b {
			if asc {
				return a < b
			}
			return a > b
		}
		return keys[i] < keys[j]
	})
	if limit < len(keys) {
		keys = keys[:limit]
	}
	return strings.Join(keys, ", ")
}

func joinTopRated(ratings map[string]int, top int) string {
	keys := make([]string, 0, len(ratings))
	for k := range ratings {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := ratings[keys[i]], ratings[keys[j]]
		if a != b {
			return a > b
		}
		return keys[i] < keys[j]
	})
	if top < len(keys) {
		keys = keys[:top]
	}
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s (%d)", k, ratings[k]))
	}
	return strings.Join(parts, ", ")
}

// compactRaw renders an uninterpreted payload; bare JSON strings lose their
// quotes.
func compactRaw(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return truncate(s, freeTextLimit)
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return truncate(buf.String(), freeTextLimit)
}
