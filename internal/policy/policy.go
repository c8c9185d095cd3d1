// Package policy implements the tutoring decision procedure: given a
// classified intent and the disclosure state for a question, it decides
// whether to answer with canned text, reveal a hidden value or the formula,
// or escalate to an LLM-generated Socratic response, and which state
// mutation the caller must apply once the response is committed.
//
// Deciding never performs I/O. LLM outcomes carry a fully built request;
// the caller owns the call, its timeout, and committing the mutation only
// after the call succeeds.
package policy

import (
	"context"
	"regexp"
	"strings"

	"github.com/pavelanni/socratic/internal/classify"
	"github.com/pavelanni/socratic/internal/grade"
	"github.com/pavelanni/socratic/internal/i18n"
	"github.com/pavelanni/socratic/internal/llm"
	"github.com/pavelanni/socratic/internal/model"
	"github.com/pavelanni/socratic/internal/prompt"
)

// Disclosure thresholds over the discovery ratio.
const (
	// FormulaThreshold gates revealing the formula outright.
	FormulaThreshold = 0.5
	// AnswerThreshold gates the guided walkthrough (together with the
	// formula having been revealed).
	AnswerThreshold = 0.75
)

// Kind says how the caller should produce the response.
type Kind string

const (
	// KindText is a ready student-facing response; no LLM call.
	KindText Kind = "text"
	// KindPrompt means the caller must run Outcome.Prompt through the LLM.
	KindPrompt Kind = "prompt"
)

// Mutation is the disclosure-state change to apply when the response commits.
type Mutation struct {
	RevealValue   string // hidden value name to add, empty for none
	RevealFormula bool
	IncrementHint bool
}

// Outcome is the policy decision for one student query.
type Outcome struct {
	Kind   Kind
	Text   string      // set for KindText
	Prompt llm.Request // set for KindPrompt

	Mutation            Mutation
	HiddenValueResponse bool // marks the chat entry as a value reveal
}

// Engine holds the tunable constants of the decision procedure.
type Engine struct {
	historyWindow   int
	stuckWindow     int
	stuckSimilarity float64
}

// NewEngine creates a policy engine from the tutor configuration.
func NewEngine(cfg model.TutorConfig) *Engine {
	e := &Engine{
		historyWindow:   cfg.HistoryWindow,
		stuckWindow:     cfg.StuckWindow,
		stuckSimilarity: cfg.StuckSimilarity,
	}
	if e.historyWindow <= 0 {
		e.historyWindow = prompt.DefaultHistoryWindow
	}
	if e.stuckWindow <= 0 {
		e.stuckWindow = 3
	}
	if e.stuckSimilarity <= 0 {
		e.stuckSimilarity = 0.6
	}
	return e
}

// Decide maps (intent, state, question, exam mode) to an outcome.
//
// For a non-practice exam only hidden-value lookups are served; everything
// else gets a fixed refusal before the decision table applies. Hard hint
// mode then disables formula, answer, and hint help. Canned refusals carry
// no mutation and cause no LLM call.
func (e *Engine) Decide(ctx context.Context, query string, intent classify.Intent, arg string, state *model.DisclosureState, q model.Question, isPracticeExam bool) Outcome {
	if !isPracticeExam && intent != classify.IntentHiddenValueRequest {
		return Outcome{Kind: KindText, Text: i18n.T(ctx, "RealTestRefusal")}
	}

	hard := q.HintMode == model.HintModeHard
	ratio := state.DiscoveryRatio(len(q.HiddenValues))

	switch intent {
	case classify.IntentAnswerAttempt:
		if _, ok := grade.ParseNumber(arg); !ok {
			return Outcome{Kind: KindText, Text: i18n.T(ctx, "AnswerUnclear")}
		}
		if grade.Grade(arg, q.Answer) {
			return Outcome{Kind: KindText, Text: i18n.T(ctx, "CorrectAnswer")}
		}
		return Outcome{Kind: KindText, Text: i18n.T(ctx, "IncorrectAnswer")}

	case classify.IntentHiddenValueRequest:
		// Value lookups are public-ish clarifications: allowed in every
		// mode, including hard mode and graded tests.
		return Outcome{
			Kind: KindText,
			Text: i18n.Td(ctx, "HiddenValueReveal", map[string]any{
				"Name":  arg,
				"Value": prompt.FormatValue(q.HiddenValues[arg]),
			}),
			Mutation:            Mutation{RevealValue: arg},
			HiddenValueResponse: true,
		}

	case classify.IntentFormulaRequest:
		if hard {
			return Outcome{Kind: KindText, Text: i18n.T(ctx, "HardModeFormulaRefusal")}
		}
		if ratio >= FormulaThreshold {
			return Outcome{
				Kind:     KindText,
				Text:     i18n.Td(ctx, "FormulaReveal", map[string]any{"Formula": q.Formula}),
				Mutation: Mutation{RevealFormula: true},
			}
		}
		return e.promptOutcome(q, state, query, prompt.VariantFormulaShape, Mutation{})

	case classify.IntentAnswerRequest:
		if hard {
			return Outcome{Kind: KindText, Text: i18n.T(ctx, "HardModeAnswerRefusal")}
		}
		if ratio >= AnswerThreshold && state.FormulaRevealed {
			return e.promptOutcome(q, state, query, prompt.VariantWalkthrough, Mutation{})
		}
		return e.promptOutcome(q, state, query, prompt.VariantRedirect, Mutation{})

	case classify.IntentHintRequest:
		if hard {
			return Outcome{Kind: KindText, Text: i18n.T(ctx, "HardModeHintRefusal")}
		}
		return e.promptOutcome(q, state, query, prompt.VariantGuidance, Mutation{IncrementHint: true})

	default: // general question
		if hard {
			return Outcome{Kind: KindText, Text: i18n.T(ctx, "HardModeHintRefusal")}
		}
		return e.promptOutcome(q, state, query, prompt.VariantGuidance, Mutation{})
	}
}

// promptOutcome builds the LLM request for an escalated response. When the
// mutation bumps the hint level, the prompt is built against the bumped level
// so the response matches the tier the student is about to reach; the durable
// mutation still commits only after the LLM call succeeds.
func (e *Engine) promptOutcome(q model.Question, state *model.DisclosureState, query string, variant prompt.Variant, mut Mutation) Outcome {
	effective := state
	if mut.IncrementHint {
		cp := *state
		cp.IncreaseHintLevel()
		effective = &cp
	}
	req := prompt.Build(q, effective, query, variant, prompt.Options{
		HistoryWindow: e.historyWindow,
		StudentStuck:  e.IsStuck(state, query),
	})
	return Outcome{Kind: KindPrompt, Prompt: req, Mutation: mut}
}

var stuckKeywordRe = regexp.MustCompile(`(?i)\bstuck\b|\bconfused\b|\blost\b|\bno\s+idea\b|\bdon'?t\s+(?:understand|get\s+it|know)\b|\bgive\s+up\b`)

// IsStuck reports whether the student appears to be going in circles:
// no hidden value was revealed in the recent exchanges, and the query either
// contains a stuck keyword or largely repeats the previous query. Advisory
// only: it adds a proactive guiding question to the prompt, nothing more.
func (e *Engine) IsStuck(state *model.DisclosureState, query string) bool {
	if recentReveal(state.ChatHistory, e.stuckWindow) {
		return false
	}
	if stuckKeywordRe.MatchString(query) {
		return true
	}
	prev := lastStudentMessage(state.ChatHistory)
	return prev != "" && wordOverlap(query, prev) > e.stuckSimilarity
}

func recentReveal(history []model.ChatMessage, window int) bool {
	seen := 0
	for i := len(history) - 1; i >= 0 && seen < window; i-- {
		if history[i].Role != model.RoleTutor {
			continue
		}
		if history[i].IsHiddenValueResponse {
			return true
		}
		seen++
	}
	return false
}

func lastStudentMessage(history []model.ChatMessage) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == model.RoleStudent {
			return history[i].Content
		}
	}
	return ""
}

// wordOverlap is the Jaccard ratio over lowercase whitespace-tokenized word
// sets of the two strings.
func wordOverlap(a, b string) float64 {
	as := wordSet(a)
	bs := wordSet(b)
	if len(as) == 0 || len(bs) == 0 {
		return 0
	}
	inter := 0
	for w := range as {
		if bs[w] {
			inter++
		}
	}
	union := len(as) + len(bs) - inter
	return float64(inter) / float64(union)
}

func wordSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(s)) {
		set[w] = true
	}
	return set
}
