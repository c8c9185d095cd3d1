package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pavelanni/socratic/internal/model"
)

// QuestionKey is the store key for one question's disclosure state.
func QuestionKey(userID string, testID, questionID int64) string {
	return fmt.Sprintf("%s:%d:%d", userID, testID, questionID)
}

// SessionKey is the store key for one student's test session.
func SessionKey(userID string, testID int64) string {
	return fmt.Sprintf("%s:%d", userID, testID)
}

// Manager owns session-state persistence. All read-modify-write cycles on a
// key go through Update* methods, which serialize per key so concurrent
// requests for the same student and question cannot lose updates. Requests
// for different keys do not contend.
type Manager struct {
	kv  KV
	ttl time.Duration

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewManager creates a manager storing entries with the given TTL.
func NewManager(kv KV, ttl time.Duration) *Manager {
	return &Manager{
		kv:    kv,
		ttl:   ttl,
		locks: make(map[string]*sync.Mutex),
	}
}

func (m *Manager) keyLock(key string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[key]
	if !ok {
		l = &sync.Mutex{}
		m.locks[key] = l
	}
	return l
}

// GetOrCreateState loads the disclosure state for a question, creating and
// persisting a fresh one on first access. Creation starts the question's
// timing window.
func (m *Manager) GetOrCreateState(ctx context.Context, userID string, testID, questionID int64) (*model.DisclosureState, error) {
	key := QuestionKey(userID, testID, questionID)
	l := m.keyLock(key)
	l.Lock()
	defer l.Unlock()

	state, err := m.loadState(ctx, key)
	if err != nil {
		return nil, err
	}
	if state != nil {
		return state, nil
	}

	state = model.NewDisclosureState(userID, testID, questionID)
	if err := m.saveJSON(ctx, key, state); err != nil {
		return nil, err
	}
	slog.Debug("created disclosure state", "key", key)
	return state, nil
}

// UpdateState applies fn to the question's disclosure state under the key's
// lock and persists the result, refreshing the TTL. fn receives the freshly
// loaded state, so mutations decided from a stale snapshot must be re-derived
// inside fn. If fn returns an error nothing is written.
func (m *Manager) UpdateState(ctx context.Context, userID string, testID, questionID int64, fn func(*model.DisclosureState) error) (*model.DisclosureState, error) {
	key := QuestionKey(userID, testID, questionID)
	l := m.keyLock(key)
	l.Lock()
	defer l.Unlock()

	state, err := m.loadState(ctx, key)
	if err != nil {
		return nil, err
	}
	if state == nil {
		state = model.NewDisclosureState(userID, testID, questionID)
	}
	if err := fn(state); err != nil {
		return nil, err
	}
	if err := m.saveJSON(ctx, key, state); err != nil {
		return nil, err
	}
	return state, nil
}

func (m *Manager) loadState(ctx context.Context, key string) (*model.DisclosureState, error) {
	data, ok, err := m.kv.Get(ctx, key)
	if err != nil {
		return nil, &StoreError{Op: "get", Key: key, Err: err}
	}
	if !ok {
		return nil, nil
	}
	var state model.DisclosureState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("decode state %s: %w", key, err)
	}
	return &state, nil
}

// GetSession loads the test session, reporting whether it exists.
func (m *Manager) GetSession(ctx context.Context, userID string, testID int64) (*model.TestSession, bool, error) {
	key := SessionKey(userID, testID)
	data, ok, err := m.kv.Get(ctx, key)
	if err != nil {
		return nil, false, &StoreError{Op: "get", Key: key, Err: err}
	}
	if !ok {
		return nil, false, nil
	}
	var sess model.TestSession
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, false, fmt.Errorf("decode session: %w", err)
	}
	return &sess, true, nil
}

// UpdateSession applies fn to the test session under the session key's lock
// and persists the result. It fails if the session does not exist.
func (m *Manager) UpdateSession(ctx context.Context, userID string, testID int64, fn func(*model.TestSession) error) (*model.TestSession, error) {
	key := SessionKey(userID, testID)
	l := m.keyLock(key)
	l.Lock()
	defer l.Unlock()

	sess, ok, err := m.GetSession(ctx, userID, testID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("no active session for user %s test %d", userID, testID)
	}
	if err := fn(sess); err != nil {
		return nil, err
	}
	if err := m.saveJSON(ctx, key, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// StartTest creates the test session, or returns the existing one unchanged
// when the student already started this test. The boolean reports whether a
// new session was created.
func (m *Manager) StartTest(ctx context.Context, userID string, test model.Test, questionIDs []int64) (*model.TestSession, bool, error) {
	key := SessionKey(userID, test.ID)
	l := m.keyLock(key)
	l.Lock()
	defer l.Unlock()

	sess, ok, err := m.GetSession(ctx, userID, test.ID)
	if err != nil {
		return nil, false, err
	}
	if ok {
		return sess, false, nil
	}

	sess = &model.TestSession{
		UserID:         userID,
		TestID:         test.ID,
		TestCode:       test.Code,
		Status:         model.StatusInProgress,
		StartTime:      time.Now().UTC(),
		QuestionIDs:    questionIDs,
		TotalQuestions: len(questionIDs),
	}
	if err := m.saveJSON(ctx, key, sess); err != nil {
		return nil, false, err
	}
	slog.Info("test session started", "user", userID, "test", test.Code, "questions", len(questionIDs))
	return sess, true, nil
}

// ClearTest removes the session entry and every question state for the test.
// Called once the aggregate test result is durably written; a finish that
// failed before that point leaves the state in place so it can be retried.
func (m *Manager) ClearTest(ctx context.Context, userID string, testID int64, questionIDs []int64) error {
	keys := make([]string, 0, len(questionIDs)+1)
	for _, qid := range questionIDs {
		keys = append(keys, QuestionKey(userID, testID, qid))
	}
	keys = append(keys, SessionKey(userID, testID))
	if err := m.kv.Delete(ctx, keys...); err != nil {
		return &StoreError{Op: "delete", Key: SessionKey(userID, testID), Err: err}
	}
	return nil
}

func (m *Manager) saveJSON(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := m.kv.Set(ctx, key, data, m.ttl); err != nil {
		return &StoreError{Op: "set", Key: key, Err: err}
	}
	return nil
}
