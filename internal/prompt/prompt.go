// Package prompt assembles the instruction payload sent to the LLM. Building
// is a pure function of the question, the disclosure state, and the query:
// no I/O and no hidden state, so every invariant is unit-testable by string
// inspection.
//
// The central invariant is leak prevention: a hidden value the student has not
// earned never appears anywhere in the built request.
package prompt

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pavelanni/socratic/internal/llm"
	"github.com/pavelanni/socratic/internal/model"
)

// Variant selects the behavioral instruction for the LLM call.
type Variant string

const (
	// VariantGuidance asks for a Socratic guiding response.
	VariantGuidance Variant = "guidance"
	// VariantFormulaShape asks for a partial hint about the formula's shape
	// without stating the formula.
	VariantFormulaShape Variant = "formula_shape"
	// VariantWalkthrough asks for a step-by-step walkthrough that still leaves
	// the final computation to the student.
	VariantWalkthrough Variant = "walkthrough"
	// VariantRedirect steers the student back toward undiscovered values.
	VariantRedirect Variant = "redirect"
)

// Options tunes prompt assembly.
type Options struct {
	// HistoryWindow bounds how many exchanges (student/tutor pairs) of
	// conversation history are included. Zero means DefaultHistoryWindow.
	HistoryWindow int
	// StudentStuck adds an instruction to proactively offer a guiding
	// question because the student appears stuck.
	StudentStuck bool
}

// DefaultHistoryWindow is the number of exchanges kept when Options does not
// say otherwise.
const DefaultHistoryWindow = 8

// hintTiers maps the hint level (0..5) to how explicit the guidance may be.
var hintTiers = [model.MaxHintLevel + 1]string{
	"Give only a very general nudge about what kind of problem this is.",
	"Point at the concept involved without mentioning specific quantities.",
	"Ask a guiding question about which quantities matter here.",
	"Discuss the relationship between the known quantities in words.",
	"Walk through the approach concretely, stopping short of any arithmetic.",
	"Be very explicit about each step, but the student must still compute the final number themselves.",
}

// Build assembles the LLM request for one tutoring turn.
func Build(q model.Question, state *model.DisclosureState, query string, variant Variant, opts Options) llm.Request {
	return llm.Request{
		System:  systemInstruction(q, state, variant, opts),
		Context: contextBlock(q, state),
		Query:   query,
		History: boundedHistory(state.ChatHistory, opts.HistoryWindow),
	}
}

func systemInstruction(q model.Question, state *model.DisclosureState, variant Variant, opts Options) string {
	var sb strings.Builder
	sb.WriteString("You are a Socratic physics and math tutor. Guide the student toward the solution; never state the final answer.\n")

	switch variant {
	case VariantFormulaShape:
		sb.WriteString("The student asked about the formula but has not discovered enough of the problem's values yet. Describe the general shape of the relationship involved without writing the formula itself.\n")
	case VariantWalkthrough:
		sb.WriteString("The student has discovered the key values and knows the formula. Walk them through applying it step by step, but leave the final computation to them.\n")
	case VariantRedirect:
		sb.WriteString("The student is asking for the answer too early. Redirect them: point out that the problem has values they have not asked about yet, without naming those values.\n")
	default:
		sb.WriteString("Respond with a guiding question or a hint that moves the student one step forward.\n")
	}

	tier := state.HintLevel
	if tier > model.MaxHintLevel {
		tier = model.MaxHintLevel
	}
	sb.WriteString("Hint explicitness: " + hintTiers[tier] + "\n")

	if opts.StudentStuck {
		sb.WriteString("The student appears to be stuck and repeating themselves. End your response with one concrete guiding question they can act on.\n")
	}

	// Disclosure guardrails for the model itself.
	sb.WriteString("Never solve the problem outright unless the student has discovered at least 75% of the hidden values and knows the formula.\n")
	sb.WriteString("Only refer to values listed in the context below. Never invent or guess values the student has not been told.\n")

	if q.TeacherInstructions != "" {
		sb.WriteString("\nTeacher instructions: " + q.TeacherInstructions + "\n")
	}
	return sb.String()
}

// contextBlock renders the problem context the model may see. Only revealed
// values appear; the formula appears only once revealed; the canonical answer
// never appears.
func contextBlock(q model.Question, state *model.DisclosureState) string {
	var sb strings.Builder
	sb.WriteString("Problem: " + q.PublicQuestion + "\n")
	if q.Subject != "" {
		sb.WriteString("Subject: " + q.Subject + "\n")
	}
	if q.Topic != "" {
		sb.WriteString("Topic: " + q.Topic + "\n")
	}

	var revealed []string
	for _, name := range q.HiddenValueNames() {
		if state.HasRevealed(name) {
			revealed = append(revealed, name+": "+FormatValue(q.HiddenValues[name]))
		}
	}
	if len(revealed) > 0 {
		sb.WriteString("Values the student has discovered so far:\n")
		for _, line := range revealed {
			sb.WriteString("  " + line + "\n")
		}
	} else {
		sb.WriteString("The student has not discovered any of the problem's values yet.\n")
	}

	if state.FormulaRevealed && q.Formula != "" {
		sb.WriteString("Formula (already revealed to the student): " + q.Formula + "\n")
	}
	return sb.String()
}

func boundedHistory(history []model.ChatMessage, window int) []llm.Message {
	if window <= 0 {
		window = DefaultHistoryWindow
	}
	// window counts exchanges; each exchange is two messages.
	keep := window * 2
	if len(history) > keep {
		history = history[len(history)-keep:]
	}
	msgs := make([]llm.Message, 0, len(history))
	for _, m := range history {
		msgs = append(msgs, llm.Message{Role: string(m.Role), Content: m.Content})
	}
	return msgs
}

// FormatValue renders a hidden value for display. JSON numbers arrive as
// float64; integral values print without a decimal part.
func FormatValue(v any) string {
	switch n := v.(type) {
	case float64:
		return strconv.FormatFloat(n, 'f', -1, 64)
	case string:
		return n
	default:
		return fmt.Sprintf("%v", v)
	}
}
