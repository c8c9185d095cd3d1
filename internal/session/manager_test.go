package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pavelanni/socratic/internal/model"
)

func newTestManager(t *testing.T) (*Manager, *MemoryKV) {
	t.Helper()
	kv := NewMemoryKV()
	return NewManager(kv, time.Hour), kv
}

func TestGetOrCreateState(t *testing.T) {
	m, kv := newTestManager(t)
	ctx := context.Background()

	state, err := m.GetOrCreateState(ctx, "alice", 1, 10)
	if err != nil {
		t.Fatalf("GetOrCreateState: %v", err)
	}
	if state.UserID != "alice" || state.TestID != 1 || state.QuestionID != 10 {
		t.Errorf("fresh state identity = %s/%d/%d", state.UserID, state.TestID, state.QuestionID)
	}
	if kv.Len() != 1 {
		t.Errorf("fresh state not persisted, store has %d entries", kv.Len())
	}

	// A second access returns the stored state, not a new one.
	state.RevealValue("speed")
	if err := m.saveJSON(ctx, QuestionKey("alice", 1, 10), state); err != nil {
		t.Fatalf("save: %v", err)
	}
	again, err := m.GetOrCreateState(ctx, "alice", 1, 10)
	if err != nil {
		t.Fatalf("GetOrCreateState: %v", err)
	}
	if !again.HasRevealed("speed") {
		t.Error("second access lost the stored reveal")
	}
}

func TestUpdateStateRoundTrip(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	_, err := m.UpdateState(ctx, "alice", 1, 10, func(s *model.DisclosureState) error {
		s.RevealValue("speed")
		s.RevealFormula()
		s.IncreaseHintLevel()
		s.AddExchange("what is the speed?", "speed is 60.", true)
		return nil
	})
	if err != nil {
		t.Fatalf("UpdateState: %v", err)
	}

	state, err := m.GetOrCreateState(ctx, "alice", 1, 10)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if !state.HasRevealed("speed") || !state.FormulaRevealed || state.HintLevel != 1 {
		t.Errorf("reloaded state lost fields: %+v", state)
	}
	if len(state.ChatHistory) != 2 || state.AttemptCount != 1 {
		t.Errorf("history round trip: %d messages, %d attempts", len(state.ChatHistory), state.AttemptCount)
	}
	if !state.ChatHistory[1].IsHiddenValueResponse {
		t.Error("reveal flag lost in round trip")
	}
}

func TestUpdateStateSerializesPerKey(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	const workers = 16
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.UpdateState(ctx, "alice", 1, 10, func(s *model.DisclosureState) error {
				s.AddExchange("q", "a", false)
				return nil
			})
			if err != nil {
				t.Errorf("UpdateState: %v", err)
			}
		}()
	}
	wg.Wait()

	state, err := m.GetOrCreateState(ctx, "alice", 1, 10)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if state.AttemptCount != workers {
		t.Errorf("lost updates: %d attempts recorded, want %d", state.AttemptCount, workers)
	}
}

func TestStartTestIdempotent(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	test := model.Test{ID: 1, Name: "Kinematics", Code: "KIN1", IsPracticeExam: true}

	sess, created, err := m.StartTest(ctx, "alice", test, []int64{10, 11, 12})
	if err != nil {
		t.Fatalf("StartTest: %v", err)
	}
	if !created {
		t.Error("first start should create the session")
	}
	if sess.Status != model.StatusInProgress || sess.TotalQuestions != 3 {
		t.Errorf("fresh session = %+v", sess)
	}

	// Record progress, then start again: the existing session survives.
	if _, err := m.UpdateSession(ctx, "alice", 1, func(s *model.TestSession) error {
		s.MarkCompleted(10)
		return nil
	}); err != nil {
		t.Fatalf("UpdateSession: %v", err)
	}
	sess, created, err = m.StartTest(ctx, "alice", test, []int64{10, 11, 12})
	if err != nil {
		t.Fatalf("second StartTest: %v", err)
	}
	if created {
		t.Error("second start must not create a new session")
	}
	if len(sess.CompletedQuestions) != 1 {
		t.Errorf("second start lost progress: %+v", sess)
	}
}

func TestClearTest(t *testing.T) {
	m, kv := newTestManager(t)
	ctx := context.Background()
	test := model.Test{ID: 1, Code: "KIN1", IsPracticeExam: true}

	if _, _, err := m.StartTest(ctx, "alice", test, []int64{10, 11}); err != nil {
		t.Fatalf("StartTest: %v", err)
	}
	for _, qid := range []int64{10, 11} {
		if _, err := m.GetOrCreateState(ctx, "alice", 1, qid); err != nil {
			t.Fatalf("GetOrCreateState: %v", err)
		}
	}
	if kv.Len() != 3 {
		t.Fatalf("expected 3 entries before clear, got %d", kv.Len())
	}

	if err := m.ClearTest(ctx, "alice", 1, []int64{10, 11}); err != nil {
		t.Fatalf("ClearTest: %v", err)
	}
	if kv.Len() != 0 {
		t.Errorf("expected empty store after clear, got %d entries", kv.Len())
	}
	if _, ok, err := m.GetSession(ctx, "alice", 1); err != nil || ok {
		t.Errorf("session survived clear: ok=%v err=%v", ok, err)
	}
}

type failingKV struct{ err error }

func (f failingKV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return nil, false, f.err
}
func (f failingKV) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return f.err
}
func (f failingKV) Delete(ctx context.Context, keys ...string) error { return f.err }

func TestStoreFailureSurfacesTypedError(t *testing.T) {
	down := errors.New("connection refused")
	m := NewManager(failingKV{err: down}, time.Hour)
	ctx := context.Background()

	_, err := m.GetOrCreateState(ctx, "alice", 1, 10)
	var se *StoreError
	if !errors.As(err, &se) {
		t.Fatalf("want *StoreError, got %v", err)
	}
	if !errors.Is(err, down) {
		t.Errorf("cause not preserved: %v", err)
	}
	if se.Op != "get" || se.Key != QuestionKey("alice", 1, 10) {
		t.Errorf("error identity = %s %s", se.Op, se.Key)
	}
}

func TestMemoryKVExpiry(t *testing.T) {
	kv := NewMemoryKV()
	ctx := context.Background()

	if err := kv.Set(ctx, "k", []byte("v"), 10*time.Millisecond); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, ok, _ := kv.Get(ctx, "k"); !ok {
		t.Fatal("value missing before expiry")
	}
	time.Sleep(20 * time.Millisecond)
	if _, ok, _ := kv.Get(ctx, "k"); ok {
		t.Error("value survived past its TTL")
	}
}
