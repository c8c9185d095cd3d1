package i18n

import (
	"context"
	"strings"
	"testing"
)

func TestInitAndTranslate(t *testing.T) {
	if err := Init("en"); err != nil {
		t.Fatalf("Init: %v", err)
	}

	ctx := WithLocalizer(context.Background(), NewLocalizer("en"))

	got := T(ctx, "CorrectAnswer")
	if !strings.Contains(got, "correct") {
		t.Errorf("unexpected translation: %q", got)
	}

	got = Td(ctx, "HiddenValueReveal", map[string]any{"Name": "x", "Value": "3"})
	if !strings.Contains(got, "x") || !strings.Contains(got, "3") {
		t.Errorf("template data not interpolated: %q", got)
	}
}

func TestRussianLocale(t *testing.T) {
	if err := Init("en"); err != nil {
		t.Fatalf("Init: %v", err)
	}
	ctx := WithLocalizer(context.Background(), NewLocalizer("ru"))

	got := T(ctx, "CorrectAnswer")
	if !strings.Contains(got, "Верно") {
		t.Errorf("expected Russian translation, got %q", got)
	}
}

func TestMissingTranslationFallsBackToID(t *testing.T) {
	if err := Init("en"); err != nil {
		t.Fatalf("Init: %v", err)
	}
	ctx := WithLocalizer(context.Background(), NewLocalizer("en"))

	if got := T(ctx, "NoSuchMessage"); got != "NoSuchMessage" {
		t.Errorf("expected message ID fallback, got %q", got)
	}
}

func TestNoLocalizerInContext(t *testing.T) {
	if err := Init("en"); err != nil {
		t.Fatalf("Init: %v", err)
	}
	// Falls back to the English localizer.
	got := T(context.Background(), "IncorrectAnswer")
	if !strings.Contains(got, "not quite right") {
		t.Errorf("unexpected fallback translation: %q", got)
	}
}
