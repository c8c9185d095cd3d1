package policy

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/pavelanni/socratic/internal/classify"
	"github.com/pavelanni/socratic/internal/i18n"
	"github.com/pavelanni/socratic/internal/model"
)

func TestMain(m *testing.M) {
	if err := i18n.Init("en"); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

func newTestEngine() *Engine {
	return NewEngine(model.DefaultTutorConfig())
}

// newPhysicsQuestion has four hidden values so the 0.5 and 0.75 discovery
// thresholds land on whole reveal counts.
func newPhysicsQuestion(mode model.HintMode) model.Question {
	return model.Question{
		ID:             1,
		PublicQuestion: "A train travels for some time at constant speed. How far does it go?",
		HiddenValues: map[string]any{
			"speed":        60.0,
			"time":         2.0,
			"start delay":  0.5,
			"acceleration": 0.0,
		},
		Formula:  "distance = speed * time",
		Answer:   "120",
		HintMode: mode,
		Subject:  "physics",
		Topic:    "kinematics",
	}
}

func newState(revealed ...string) *model.DisclosureState {
	s := model.NewDisclosureState("u1", 1, 1)
	for _, name := range revealed {
		s.RevealValue(name)
	}
	return s
}

func decide(t *testing.T, e *Engine, q model.Question, s *model.DisclosureState, query string, practice bool) Outcome {
	t.Helper()
	intent, arg := classify.Classify(query, q.HiddenValueNames())
	return e.Decide(context.Background(), query, intent, arg, s, q, practice)
}

func TestRealTestGate(t *testing.T) {
	e := newTestEngine()
	q := newPhysicsQuestion(model.HintModeEasy)

	queries := []string{
		"what formula should I use?",
		"just tell me the answer",
		"can I get a hint?",
		"why does speed matter here?",
		"my answer is 120",
	}
	for _, query := range queries {
		out := decide(t, e, q, newState(), query, false)
		if out.Kind != KindText {
			t.Errorf("query %q: got kind %q, want canned refusal", query, out.Kind)
		}
		if out.Mutation != (Mutation{}) {
			t.Errorf("query %q: refusal must not mutate state, got %+v", query, out.Mutation)
		}
		if !strings.Contains(out.Text, "hidden values") {
			t.Errorf("query %q: got %q, want real-test refusal", query, out.Text)
		}
	}

	// Hidden-value lookups still work on a graded test.
	out := decide(t, e, q, newState(), "what is the speed?", false)
	if out.Mutation.RevealValue != "speed" {
		t.Errorf("hidden value lookup on real test: got mutation %+v", out.Mutation)
	}
	if !out.HiddenValueResponse {
		t.Error("hidden value lookup must be flagged as a reveal")
	}
	if !strings.Contains(out.Text, "speed") || !strings.Contains(out.Text, "60") {
		t.Errorf("reveal text = %q, want name and value", out.Text)
	}
}

func TestHardModeRefusals(t *testing.T) {
	e := newTestEngine()
	q := newPhysicsQuestion(model.HintModeHard)
	// Even with everything discovered hard mode stays closed.
	s := newState("speed", "time", "start delay", "acceleration")
	s.RevealFormula()

	for _, query := range []string{
		"what formula should I use?",
		"just tell me the answer",
		"give me a hint",
		"why does speed matter here?",
	} {
		out := decide(t, e, q, s, query, true)
		if out.Kind != KindText {
			t.Errorf("query %q: hard mode must not reach the LLM, got kind %q", query, out.Kind)
		}
		if out.Mutation != (Mutation{}) {
			t.Errorf("query %q: hard mode refusal mutated state: %+v", query, out.Mutation)
		}
	}

	// Hidden values and answer attempts are exempt from hard mode.
	out := decide(t, e, q, newState(), "what is the time?", true)
	if out.Mutation.RevealValue != "time" {
		t.Errorf("hard mode hidden value: got %+v", out.Mutation)
	}
	out = decide(t, e, q, s, "my answer is 120", true)
	if !strings.Contains(out.Text, "correct, well done") {
		t.Errorf("hard mode answer attempt: got %q", out.Text)
	}
}

func TestFormulaGating(t *testing.T) {
	e := newTestEngine()
	q := newPhysicsQuestion(model.HintModeMedium)

	// Below half discovered: partial hint via the LLM, no reveal.
	out := decide(t, e, q, newState("speed"), "what formula should I use?", true)
	if out.Kind != KindPrompt {
		t.Fatalf("1/4 discovered: got kind %q, want prompt", out.Kind)
	}
	if out.Mutation.RevealFormula {
		t.Error("formula must not be revealed below the threshold")
	}
	if !strings.Contains(out.Prompt.System, "general shape") {
		t.Errorf("want formula-shape variant, system = %q", out.Prompt.System)
	}

	// At half discovered: canned reveal with mutation.
	out = decide(t, e, q, newState("speed", "time"), "what formula should I use?", true)
	if out.Kind != KindText || !out.Mutation.RevealFormula {
		t.Fatalf("2/4 discovered: got kind %q mutation %+v", out.Kind, out.Mutation)
	}
	if !strings.Contains(out.Text, q.Formula) {
		t.Errorf("reveal text = %q, want formula", out.Text)
	}
}

func TestAnswerRequestGating(t *testing.T) {
	e := newTestEngine()
	q := newPhysicsQuestion(model.HintModeMedium)

	// Enough values but formula never revealed: redirect.
	s := newState("speed", "time", "start delay")
	out := decide(t, e, q, s, "just tell me the answer", true)
	if out.Kind != KindPrompt || !strings.Contains(out.Prompt.System, "Redirect") {
		t.Errorf("without formula: want redirect prompt, system = %q", out.Prompt.System)
	}

	// Formula revealed and 3/4 discovered: guided walkthrough.
	s.RevealFormula()
	out = decide(t, e, q, s, "just tell me the answer", true)
	if out.Kind != KindPrompt || !strings.Contains(out.Prompt.System, "step by step") {
		t.Errorf("3/4 + formula: want walkthrough prompt, system = %q", out.Prompt.System)
	}
	if out.Mutation != (Mutation{}) {
		t.Errorf("answer request must not mutate state, got %+v", out.Mutation)
	}
}

func TestAnswerAttemptGrading(t *testing.T) {
	e := newTestEngine()
	q := newPhysicsQuestion(model.HintModeEasy)

	tests := []struct {
		query string
		want  string
	}{
		{"my answer is 120", "correct, well done"},
		{"120", "correct, well done"},
		{"i got 125", "not quite right"},
	}
	for _, tt := range tests {
		out := decide(t, e, q, newState(), tt.query, true)
		if out.Kind != KindText || !strings.Contains(out.Text, tt.want) {
			t.Errorf("query %q: got %q, want containing %q", tt.query, out.Text, tt.want)
		}
	}
}

func TestHintRequestIncrementsWithoutMutatingInput(t *testing.T) {
	e := newTestEngine()
	q := newPhysicsQuestion(model.HintModeEasy)
	s := newState()

	out := decide(t, e, q, s, "give me a hint", true)
	if out.Kind != KindPrompt {
		t.Fatalf("got kind %q, want prompt", out.Kind)
	}
	if !out.Mutation.IncrementHint {
		t.Error("hint request must carry an increment mutation")
	}
	// The mutation is the caller's to apply after the LLM call commits.
	if s.HintLevel != 0 {
		t.Errorf("Decide mutated the input state, hint level = %d", s.HintLevel)
	}

	// A general question reuses the guidance variant without escalating.
	out = decide(t, e, q, s, "why does speed matter here?", true)
	if out.Mutation.IncrementHint {
		t.Error("general question must not escalate the hint level")
	}
}

func TestIsStuck(t *testing.T) {
	e := newTestEngine()
	now := time.Now()

	exchange := func(s *model.DisclosureState, query, reply string, reveal bool) {
		s.ChatHistory = append(s.ChatHistory,
			model.ChatMessage{Role: model.RoleStudent, Content: query, Timestamp: now},
			model.ChatMessage{Role: model.RoleTutor, Content: reply, Timestamp: now, IsHiddenValueResponse: reveal},
		)
	}

	t.Run("keyword", func(t *testing.T) {
		s := newState()
		if !e.IsStuck(s, "I'm stuck, I don't understand this at all") {
			t.Error("stuck keyword not detected")
		}
		if e.IsStuck(s, "why does speed matter here?") {
			t.Error("ordinary question flagged as stuck")
		}
	})

	t.Run("repetition", func(t *testing.T) {
		s := newState()
		exchange(s, "how do I start solving this problem", "Think about what distance depends on.", false)
		if !e.IsStuck(s, "how do I even start solving this problem") {
			t.Error("near-identical repeat not detected")
		}
		if e.IsStuck(s, "what units should the result have") {
			t.Error("distinct follow-up flagged as stuck")
		}
	})

	t.Run("recent reveal suppresses", func(t *testing.T) {
		s := newState()
		exchange(s, "how do I start solving this problem", "Think about what distance depends on.", false)
		exchange(s, "what is the speed?", "speed is 60.", true)
		if e.IsStuck(s, "how do I even start solving this problem") {
			t.Error("fresh reveal should suppress the stuck flag")
		}
	})
}
