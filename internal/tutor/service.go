// Package tutor coordinates a student's run through a test: it resolves tests
// and questions from durable storage, drives the per-query tutoring policy,
// calls the LLM when the policy escalates, and persists disclosure state and
// final results.
package tutor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pavelanni/socratic/internal/classify"
	"github.com/pavelanni/socratic/internal/grade"
	"github.com/pavelanni/socratic/internal/i18n"
	"github.com/pavelanni/socratic/internal/llm"
	"github.com/pavelanni/socratic/internal/model"
	"github.com/pavelanni/socratic/internal/policy"
	"github.com/pavelanni/socratic/internal/session"
	"github.com/pavelanni/socratic/internal/store"
)

var (
	ErrTestNotFound     = errors.New("test not found")
	ErrQuestionNotFound = errors.New("question not found")
	ErrNoActiveSession  = errors.New("no active test session")
)

// Service is the tutoring coordinator.
type Service struct {
	store    *store.Store
	sessions *session.Manager
	llm      llm.Client
	policy   *policy.Engine
	cfg      model.TutorConfig
}

// New wires the coordinator.
func New(st *store.Store, sessions *session.Manager, client llm.Client, cfg model.TutorConfig) *Service {
	return &Service{
		store:    st,
		sessions: sessions,
		llm:      client,
		policy:   policy.NewEngine(cfg),
		cfg:      cfg,
	}
}

// StartResult reports the session a student is working in after a start call.
type StartResult struct {
	Session *model.TestSession `json:"session"`
	Test    *model.Test        `json:"test"`
	Resumed bool               `json:"resumed"`
}

// StartTest begins a test for a student, or resumes the existing session when
// the student already started it. The student record is created on first use.
func (s *Service) StartTest(ctx context.Context, username, code string) (*StartResult, error) {
	test, questions, err := s.resolveTest(code)
	if err != nil {
		return nil, err
	}
	if _, err := s.store.EnsureUser(username); err != nil {
		return nil, fmt.Errorf("ensure user %s: %w", username, err)
	}

	ids := make([]int64, len(questions))
	for i, q := range questions {
		ids[i] = q.ID
	}
	sess, created, err := s.sessions.StartTest(ctx, username, *test, ids)
	if err != nil {
		return nil, err
	}
	return &StartResult{Session: sess, Test: test, Resumed: !created}, nil
}

// ChatReply is the tutor's response to one student query.
type ChatReply struct {
	Response            string          `json:"response"`
	Intent              classify.Intent `json:"intent"`
	HiddenValueResponse bool            `json:"hidden_value_response,omitempty"`
	DiscoveryRatio      float64         `json:"discovery_ratio"`
	HintLevel           int             `json:"hint_level"`
}

// ProcessQuery runs one chat turn for a question. The policy decision is made
// from a snapshot of the disclosure state; the LLM call (when needed) happens
// outside any lock, and the resulting state change commits only after a
// response exists. A canceled request commits nothing.
func (s *Service) ProcessQuery(ctx context.Context, username, code string, questionIndex int, query string) (*ChatReply, error) {
	test, q, err := s.resolveQuestion(code, questionIndex)
	if err != nil {
		return nil, err
	}
	if err := s.requireActiveSession(ctx, username, test.ID); err != nil {
		return nil, err
	}

	state, err := s.sessions.GetOrCreateState(ctx, username, test.ID, q.ID)
	if err != nil {
		return nil, err
	}

	intent, arg := classify.Classify(query, q.HiddenValueNames())
	outcome := s.policy.Decide(ctx, query, intent, arg, state, *q, test.IsPracticeExam)

	response := outcome.Text
	mutation := outcome.Mutation
	if outcome.Kind == policy.KindPrompt {
		response, mutation, err = s.generate(ctx, outcome)
		if err != nil {
			return nil, err
		}
	}

	state, err = s.sessions.UpdateState(ctx, username, test.ID, q.ID, func(st *model.DisclosureState) error {
		if mutation.RevealValue != "" {
			st.RevealValue(mutation.RevealValue)
		}
		if mutation.RevealFormula {
			st.RevealFormula()
		}
		if mutation.IncrementHint {
			st.IncreaseHintLevel()
		}
		st.AddExchange(query, response, outcome.HiddenValueResponse)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &ChatReply{
		Response:            response,
		Intent:              intent,
		HiddenValueResponse: outcome.HiddenValueResponse,
		DiscoveryRatio:      state.DiscoveryRatio(len(q.HiddenValues)),
		HintLevel:           state.HintLevel,
	}, nil
}

// generate runs the LLM call with the configured timeout. An unavailable or
// timed-out model degrades to a canned apology and drops the pending state
// mutation, so a hint that was never delivered is not charged to the student.
// Cancellation propagates so a disconnected request commits nothing.
func (s *Service) generate(ctx context.Context, outcome policy.Outcome) (string, policy.Mutation, error) {
	llmCtx, cancel := context.WithTimeout(ctx, s.cfg.LLMTimeout)
	defer cancel()

	text, err := s.llm.Generate(llmCtx, outcome.Prompt)
	if err == nil {
		return text, outcome.Mutation, nil
	}
	if errors.Is(err, context.Canceled) {
		return "", policy.Mutation{}, err
	}
	var unavailable *llm.ErrUnavailable
	if errors.As(err, &unavailable) {
		slog.Warn("LLM unavailable, sending apology", "error", err)
		return i18n.T(ctx, "LLMApology"), policy.Mutation{}, nil
	}
	return "", policy.Mutation{}, err
}

// AnswerResult reports a formal answer submission.
type AnswerResult struct {
	Correct  bool    `json:"correct"`
	Feedback string  `json:"feedback"`
	Progress float64 `json:"progress"`
}

// SubmitAnswer grades a formal answer submission, records it on the question's
// state, and marks the question completed in the session. Resubmitting
// overwrites the recorded answer but does not grow the completed set.
func (s *Service) SubmitAnswer(ctx context.Context, username, code string, questionIndex int, answer string) (*AnswerResult, error) {
	test, q, err := s.resolveQuestion(code, questionIndex)
	if err != nil {
		return nil, err
	}
	if err := s.requireActiveSession(ctx, username, test.ID); err != nil {
		return nil, err
	}

	correct := grade.Grade(answer, q.Answer)
	if _, err := s.sessions.UpdateState(ctx, username, test.ID, q.ID, func(st *model.DisclosureState) error {
		st.RecordAnswer(answer, correct)
		return nil
	}); err != nil {
		return nil, err
	}

	sess, err := s.sessions.UpdateSession(ctx, username, test.ID, func(sess *model.TestSession) error {
		sess.MarkCompleted(q.ID)
		return nil
	})
	if err != nil {
		return nil, err
	}

	feedbackID := "IncorrectAnswer"
	if correct {
		feedbackID = "CorrectAnswer"
	}
	slog.Info("answer submitted", "user", username, "test", code, "question", q.ID, "correct", correct)
	return &AnswerResult{
		Correct:  correct,
		Feedback: i18n.T(ctx, feedbackID),
		Progress: sess.Progress(),
	}, nil
}

// FinishResult reports a completed test.
type FinishResult struct {
	TestResultID     int64   `json:"test_result_id,omitempty"`
	Score            float64 `json:"score"`
	TotalQuestions   int     `json:"total_questions"`
	CorrectQuestions int     `json:"correct_questions"`
	AlreadyFinished  bool    `json:"already_finished,omitempty"`
	Warnings         int     `json:"warnings,omitempty"`
}

// FinishTest closes the student's run: it snapshots every question's state,
// writes the durable result records, and only then clears the session store.
// A failure writing the aggregate test result leaves the session intact so
// finish can be retried. Once the aggregate is written, a failed question
// result or chat message write is logged and counted as a warning rather
// than failing the finish. Finishing an already-finished test returns the
// recorded result.
func (s *Service) FinishTest(ctx context.Context, username, code string) (*FinishResult, error) {
	test, _, err := s.resolveTest(code)
	if err != nil {
		return nil, err
	}

	sess, ok, err := s.sessions.GetSession(ctx, username, test.ID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return s.recordedResult(code, username)
	}

	total := sess.TotalQuestions
	correct := 0
	states := make([]*model.DisclosureState, 0, len(sess.QuestionIDs))
	for _, qid := range sess.QuestionIDs {
		st, err := s.sessions.GetOrCreateState(ctx, username, test.ID, qid)
		if err != nil {
			return nil, err
		}
		states = append(states, st)
		if st.IsCorrect {
			correct++
		}
	}

	score := 0.0
	if total > 0 {
		score = float64(correct) / float64(total) * 100
	}
	now := time.Now().UTC()
	trID, err := s.store.CreateTestResult(model.TestResult{
		TestCode:         test.Code,
		Username:         username,
		Score:            score,
		TotalQuestions:   total,
		CorrectQuestions: correct,
		StartTime:        sess.StartTime,
		EndTime:          &now,
	})
	if err != nil {
		return nil, fmt.Errorf("persist test result: %w", err)
	}

	warnings := 0
	for _, st := range states {
		answer := ""
		if st.StudentAnswer != nil {
			answer = *st.StudentAnswer
		}
		qrID, err := s.store.CreateQuestionResult(model.QuestionResult{
			TestResultID:  trID,
			QuestionID:    st.QuestionID,
			StudentAnswer: answer,
			IsCorrect:     st.IsCorrect,
			TimeSpent:     st.TimeSpent,
			StartTime:     st.StartTime,
			EndTime:       st.EndTime,
		})
		if err != nil {
			slog.Error("failed to persist question result", "user", username, "test", code, "question", st.QuestionID, "error", err)
			warnings++
			continue
		}
		for _, m := range st.ChatHistory {
			if _, err := s.store.CreateChatMessage(model.StoredChatMessage{
				QuestionResultID: qrID,
				Sender:           string(m.Role),
				Content:          m.Content,
				Timestamp:        m.Timestamp,
			}); err != nil {
				slog.Error("failed to persist chat message", "user", username, "test", code, "question", st.QuestionID, "error", err)
				warnings++
			}
		}
	}

	if err := s.sessions.ClearTest(ctx, username, test.ID, sess.QuestionIDs); err != nil {
		// Results are safe; leftover session state just expires via TTL.
		slog.Warn("failed to clear session state after finish", "user", username, "test", code, "error", err)
	}

	slog.Info("test finished", "user", username, "test", code, "score", score, "correct", correct, "total", total, "warnings", warnings)
	return &FinishResult{
		TestResultID:     trID,
		Score:            score,
		TotalQuestions:   total,
		CorrectQuestions: correct,
		Warnings:         warnings,
	}, nil
}

// recordedResult serves a finish call that arrives after the session was
// already closed and cleared.
func (s *Service) recordedResult(code, username string) (*FinishResult, error) {
	results, err := s.store.ListTestResults(code)
	if err != nil {
		return nil, err
	}
	for _, r := range results {
		if r.Username == username {
			return &FinishResult{
				TestResultID:     r.ID,
				Score:            r.Score,
				TotalQuestions:   r.TotalQuestions,
				CorrectQuestions: r.CorrectQuestions,
				AlreadyFinished:  true,
			}, nil
		}
	}
	return nil, ErrNoActiveSession
}

// QuestionView is the student-facing projection of a question. Hidden values,
// formula, and answer never appear here.
type QuestionView struct {
	Index          int            `json:"index"`
	Total          int            `json:"total"`
	PublicQuestion string         `json:"public_question"`
	Subject        string         `json:"subject,omitempty"`
	Topic          string         `json:"topic,omitempty"`
	HintMode       model.HintMode `json:"hint_mode"`
}

// GetQuestion returns the public view of a question within a test.
func (s *Service) GetQuestion(code string, questionIndex int) (*QuestionView, error) {
	test, q, err := s.resolveQuestion(code, questionIndex)
	if err != nil {
		return nil, err
	}
	questions, err := s.store.GetTestQuestions(test.ID)
	if err != nil {
		return nil, err
	}
	return &QuestionView{
		Index:          questionIndex,
		Total:          len(questions),
		PublicQuestion: q.PublicQuestion,
		Subject:        q.Subject,
		Topic:          q.Topic,
		HintMode:       q.HintMode,
	}, nil
}

// History returns the conversation recorded so far for a question.
func (s *Service) History(ctx context.Context, username, code string, questionIndex int) ([]model.ChatMessage, error) {
	test, q, err := s.resolveQuestion(code, questionIndex)
	if err != nil {
		return nil, err
	}
	state, err := s.sessions.GetOrCreateState(ctx, username, test.ID, q.ID)
	if err != nil {
		return nil, err
	}
	return state.ChatHistory, nil
}

func (s *Service) resolveTest(code string) (*model.Test, []model.Question, error) {
	test, err := s.store.GetTestByCode(code)
	if err != nil {
		return nil, nil, err
	}
	if test == nil {
		return nil, nil, ErrTestNotFound
	}
	questions, err := s.store.GetTestQuestions(test.ID)
	if err != nil {
		return nil, nil, err
	}
	return test, questions, nil
}

func (s *Service) resolveQuestion(code string, questionIndex int) (*model.Test, *model.Question, error) {
	test, err := s.store.GetTestByCode(code)
	if err != nil {
		return nil, nil, err
	}
	if test == nil {
		return nil, nil, ErrTestNotFound
	}
	q, err := s.store.GetTestQuestion(test.ID, questionIndex)
	if err != nil {
		return nil, nil, err
	}
	if q == nil {
		return nil, nil, ErrQuestionNotFound
	}
	return test, q, nil
}

func (s *Service) requireActiveSession(ctx context.Context, username string, testID int64) error {
	sess, ok, err := s.sessions.GetSession(ctx, username, testID)
	if err != nil {
		return err
	}
	if !ok || sess.Status != model.StatusInProgress {
		return ErrNoActiveSession
	}
	return nil
}
