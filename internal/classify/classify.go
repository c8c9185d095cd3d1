// Package classify categorizes raw student queries into tutoring intents.
// Classification is purely syntactic: case-insensitive regular expression
// matching with a fixed precedence order and no external state.
package classify

import (
	"regexp"
	"strings"
)

// Intent is the classified purpose of a student query.
type Intent string

const (
	// IntentAnswerAttempt is a bare number or "the answer is N" submission.
	IntentAnswerAttempt Intent = "answer_attempt"
	// IntentHiddenValueRequest asks for a named hidden value of the problem.
	IntentHiddenValueRequest Intent = "hidden_value_request"
	// IntentFormulaRequest asks for the formula or how to solve.
	IntentFormulaRequest Intent = "formula_request"
	// IntentAnswerRequest asks for the answer or solution directly.
	IntentAnswerRequest Intent = "answer_request"
	// IntentHintRequest asks for a hint or signals being stuck.
	IntentHintRequest Intent = "hint_request"
	// IntentGeneralQuestion is the default fallback.
	IntentGeneralQuestion Intent = "general_question"
)

var (
	bareNumberRe = regexp.MustCompile(`^\s*-?\d+(?:\.\d+)?\s*[.!?]?\s*$`)
	answerIsRe   = regexp.MustCompile(`(?i)\b(?:my\s+answer\s+is|the\s+answer\s+is|i\s+(?:think|got|get))\s+(-?\d+(?:\.\d+)?)\b`)

	// Request phrasings that, combined with a known hidden value name in the
	// query, make a hidden value request: "what is X", "tell/give me X",
	// "the value of X", "how big/much/many is X".
	hiddenTriggerRe = regexp.MustCompile(`(?i)\bwhat(?:'s|\s+is|\s+are)\b|\b(?:tell|give)\s+me\b|\bvalue\s+of\b|\bhow\s+(?:big|much|many)\b`)

	formulaRe = regexp.MustCompile(`(?i)\b(?:formula|equation)\b|\bhow\s+(?:do|can|should|would)\s+(?:i|we|you)\s+(?:solve|calculate|compute|work\s+this\s+out)\b`)
	answerRe  = regexp.MustCompile(`(?i)\b(?:the\s+)?(?:answer|solution|result)\b`)
	hintRe    = regexp.MustCompile(`(?i)\bhint\b|\bstuck\b|\bhelp\b|\bhow\s+do\s+i\s+(?:start|begin)\b|\bwhere\s+do\s+i\s+(?:start|begin)\b|\bi\s+don'?t\s+know\b`)
)

// Classify categorizes a student query against the question's hidden value
// names. It returns the intent plus an extracted argument: the numeric literal
// for an answer attempt, or the canonical hidden value name for a hidden value
// request. Precedence is fixed: an answer attempt wins over everything (a
// student typing "13" must not be misread as anything else), then hidden
// value, formula, answer, and hint requests, then the general fallback.
func Classify(query string, hiddenNames []string) (Intent, string) {
	q := strings.TrimSpace(query)
	if q == "" {
		return IntentGeneralQuestion, ""
	}

	if bareNumberRe.MatchString(q) {
		return IntentAnswerAttempt, strings.Trim(strings.TrimSpace(q), ".!?")
	}
	if m := answerIsRe.FindStringSubmatch(q); m != nil {
		return IntentAnswerAttempt, m[1]
	}

	// A hidden value pattern only counts when the extracted identifier
	// matches a known hidden value name; otherwise it falls through.
	if name := matchHiddenValue(q, hiddenNames); name != "" {
		return IntentHiddenValueRequest, name
	}

	if formulaRe.MatchString(q) {
		return IntentFormulaRequest, ""
	}
	if answerRe.MatchString(q) {
		return IntentAnswerRequest, ""
	}
	if hintRe.MatchString(q) {
		return IntentHintRequest, ""
	}
	return IntentGeneralQuestion, ""
}

// matchHiddenValue returns the canonical hidden value name the query asks
// for, or empty. The query must use a request phrasing and contain the name
// on word boundaries; names may span multiple words.
func matchHiddenValue(query string, hiddenNames []string) string {
	if !hiddenTriggerRe.MatchString(query) {
		return ""
	}
	lower := strings.ToLower(query)
	for _, name := range hiddenNames {
		if containsWord(lower, strings.ToLower(name)) {
			return name
		}
	}
	return ""
}

func containsWord(s, phrase string) bool {
	if phrase == "" {
		return false
	}
	for i := 0; ; {
		j := strings.Index(s[i:], phrase)
		if j < 0 {
			return false
		}
		start := i + j
		end := start + len(phrase)
		if (start == 0 || !isWordChar(s[start-1])) && (end == len(s) || !isWordChar(s[end])) {
			return true
		}
		i = start + 1
	}
}

func isWordChar(c byte) bool {
	return c == '_' ||
		('a' <= c && c <= 'z') ||
		('A' <= c && c <= 'Z') ||
		('0' <= c && c <= '9')
}
