package model

import (
	"sort"
	"time"
)

// UserRole represents a user's access level.
type UserRole string

const (
	// UserRoleStudent is a student user role.
	UserRoleStudent UserRole = "student"
	// UserRoleTeacher is a teacher user role.
	UserRoleTeacher UserRole = "teacher"
	// UserRoleAdmin is an admin user role.
	UserRoleAdmin UserRole = "admin"
)

// User represents a system user.
type User struct {
	ID           int64
	Username     string
	DisplayName  string
	PasswordHash string
	Role         UserRole
	Active       bool
	CreatedAt    time.Time
}

// Role represents a chat message role.
type Role string

const (
	RoleStudent Role = "student"
	RoleTutor   Role = "tutor"
)

// HintMode controls how much help the tutor is allowed to give on a question.
type HintMode string

const (
	HintModeEasy   HintMode = "easy"
	HintModeMedium HintMode = "medium"
	HintModeHard   HintMode = "hard"
)

// TestStatus represents the status of a running test session.
type TestStatus string

const (
	StatusInProgress TestStatus = "in_progress"
	StatusCompleted  TestStatus = "completed"
)

// Question represents one problem in a test. The public question text is shown
// to the student; hidden values, formula, and answer are revealed only through
// the tutoring policy.
type Question struct {
	ID                  int64          `json:"id"`
	PublicQuestion      string         `json:"public_question"`
	HiddenValues        map[string]any `json:"hidden_values"`
	Formula             string         `json:"formula"`
	Answer              string         `json:"answer"`
	TeacherInstructions string         `json:"teacher_instructions"`
	HintMode            HintMode       `json:"hint_mode"`
	Subject             string         `json:"subject"`
	Topic               string         `json:"topic"`
}

// HiddenValueNames returns the names of the question's hidden values, sorted.
func (q Question) HiddenValueNames() []string {
	names := make([]string, 0, len(q.HiddenValues))
	for name := range q.HiddenValues {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Test represents a named collection of questions identified by a shareable code.
type Test struct {
	ID             int64  `json:"id"`
	Name           string `json:"test_name"`
	Code           string `json:"code"`
	IsPracticeExam bool   `json:"is_practice_exam"`
}

// ChatMessage is a single entry in a question's conversation.
type ChatMessage struct {
	Role                  Role      `json:"role"`
	Content               string    `json:"content"`
	Timestamp             time.Time `json:"timestamp"`
	IsHiddenValueResponse bool      `json:"is_hidden_value_response,omitempty"`
}

// DisclosureState tracks how much of one question has been revealed to one
// student: which hidden values they have been told, whether the formula is out,
// how far the hint ladder has climbed, and the full conversation.
//
// Revealed values and the formula flag only ever grow; the hint level never
// decreases. The Session Manager owns persistence.
type DisclosureState struct {
	UserID     string `json:"user_id"`
	TestID     int64  `json:"test_id"`
	QuestionID int64  `json:"question_id"`

	RevealedValues  []string      `json:"revealed_values"`
	FormulaRevealed bool          `json:"formula_revealed"`
	HintLevel       int           `json:"hint_level"`
	ChatHistory     []ChatMessage `json:"chat_history"`
	AttemptCount    int           `json:"attempt_count"`

	StudentAnswer *string    `json:"student_answer,omitempty"`
	IsCorrect     bool       `json:"is_correct"`
	StartTime     time.Time  `json:"start_time"`
	EndTime       *time.Time `json:"end_time,omitempty"`
	TimeSpent     float64    `json:"time_spent"`
}

// MaxHintLevel caps the hint ladder.
const MaxHintLevel = 5

// NewDisclosureState returns a zero-valued state for one (user, test, question).
func NewDisclosureState(userID string, testID, questionID int64) *DisclosureState {
	return &DisclosureState{
		UserID:     userID,
		TestID:     testID,
		QuestionID: questionID,
		StartTime:  time.Now().UTC(),
	}
}

// HasRevealed reports whether the named hidden value has been revealed.
func (s *DisclosureState) HasRevealed(name string) bool {
	for _, v := range s.RevealedValues {
		if v == name {
			return true
		}
	}
	return false
}

// RevealValue marks a hidden value as revealed. Adding the same name twice
// is a no-op, so the set only grows.
func (s *DisclosureState) RevealValue(name string) {
	if s.HasRevealed(name) {
		return
	}
	s.RevealedValues = append(s.RevealedValues, name)
}

// RevealFormula marks the formula as revealed. The flag never flips back.
func (s *DisclosureState) RevealFormula() {
	s.FormulaRevealed = true
}

// IncreaseHintLevel bumps the hint level, capped at MaxHintLevel.
func (s *DisclosureState) IncreaseHintLevel() {
	if s.HintLevel < MaxHintLevel {
		s.HintLevel++
	}
}

// DiscoveryRatio returns the fraction of the question's hidden values the
// student has been told. A question with no hidden values counts as fully
// discovered.
func (s *DisclosureState) DiscoveryRatio(totalHidden int) float64 {
	if totalHidden == 0 {
		return 1.0
	}
	return float64(len(s.RevealedValues)) / float64(totalHidden)
}

// AddExchange appends a student query and the tutor's response to the chat
// history and counts the attempt.
func (s *DisclosureState) AddExchange(query, response string, hiddenValueResponse bool) {
	now := time.Now().UTC()
	s.ChatHistory = append(s.ChatHistory,
		ChatMessage{Role: RoleStudent, Content: query, Timestamp: now},
		ChatMessage{Role: RoleTutor, Content: response, Timestamp: now, IsHiddenValueResponse: hiddenValueResponse},
	)
	s.AttemptCount++
}

// RecordAnswer stores the student's final answer and closes the question's
// timing window. Correctness is decided by the caller (the grader).
func (s *DisclosureState) RecordAnswer(answer string, correct bool) {
	now := time.Now().UTC()
	s.StudentAnswer = &answer
	s.IsCorrect = correct
	s.EndTime = &now
	s.TimeSpent = now.Sub(s.StartTime).Seconds()
}

// TestSession is the aggregate state of one student working through one test.
type TestSession struct {
	UserID             string     `json:"user_id"`
	TestID             int64      `json:"test_id"`
	TestCode           string     `json:"test_code"`
	Status             TestStatus `json:"status"`
	StartTime          time.Time  `json:"start_time"`
	QuestionIDs        []int64    `json:"question_ids"`
	CompletedQuestions []int64    `json:"completed_questions"`
	TotalQuestions     int        `json:"total_questions"`
}

// MarkCompleted records a question as answered. Duplicate submissions for the
// same question do not grow the completed set.
func (t *TestSession) MarkCompleted(questionID int64) {
	for _, id := range t.CompletedQuestions {
		if id == questionID {
			return
		}
	}
	t.CompletedQuestions = append(t.CompletedQuestions, questionID)
}

// Progress returns completion as a percentage in [0, 100].
func (t *TestSession) Progress() float64 {
	if t.TotalQuestions == 0 {
		return 0
	}
	return float64(len(t.CompletedQuestions)) / float64(t.TotalQuestions) * 100
}

// TestResult is the durable record of a finished test.
type TestResult struct {
	ID               int64      `json:"id"`
	TestCode         string     `json:"test_code"`
	Username         string     `json:"username"`
	Score            float64    `json:"score"`
	TotalQuestions   int        `json:"total_questions"`
	CorrectQuestions int        `json:"correct_questions"`
	StartTime        time.Time  `json:"start_time"`
	EndTime          *time.Time `json:"end_time,omitempty"`
}

// QuestionResult is the durable per-question record within a TestResult.
type QuestionResult struct {
	ID            int64      `json:"id"`
	TestResultID  int64      `json:"test_result_id"`
	QuestionID    int64      `json:"question_id"`
	StudentAnswer string     `json:"student_answer"`
	IsCorrect     bool       `json:"is_correct"`
	TimeSpent     float64    `json:"time_spent"`
	StartTime     time.Time  `json:"start_time"`
	EndTime       *time.Time `json:"end_time,omitempty"`
}

// StoredChatMessage is the durable form of one chat message.
type StoredChatMessage struct {
	ID               int64     `json:"id"`
	QuestionResultID int64     `json:"question_result_id"`
	Sender           string    `json:"sender"`
	Content          string    `json:"content"`
	Timestamp        time.Time `json:"timestamp"`
}

// QuestionImport is used for loading test definitions from JSON.
type QuestionImport struct {
	PublicQuestion      string         `json:"public_question"`
	HiddenValues        map[string]any `json:"hidden_values"`
	Formula             string         `json:"formula"`
	Answer              string         `json:"answer"`
	TeacherInstructions string         `json:"teacher_instructions"`
	HintMode            HintMode       `json:"hint_mode"`
	Subject             string         `json:"subject"`
	Topic               string         `json:"topic"`
}

// TestImport is the top-level JSON structure for test definition files.
type TestImport struct {
	Name           string           `json:"name"`
	Code           string           `json:"code"`
	IsPracticeExam bool             `json:"is_practice_exam"`
	Questions      []QuestionImport `json:"questions"`
}

// TutorConfig holds runtime tutoring parameters set via CLI flags.
type TutorConfig struct {
	SessionTTL      time.Duration // expiry for session-store entries
	LLMTimeout      time.Duration // per-call deadline for LLM generation
	HistoryWindow   int           // exchanges of history included in prompts
	StuckWindow     int           // prior exchanges examined by stuck detection
	StuckSimilarity float64       // word-overlap threshold for stuck detection
}

// DefaultTutorConfig returns the default tuning used by the serve command.
func DefaultTutorConfig() TutorConfig {
	return TutorConfig{
		SessionTTL:      24 * time.Hour,
		LLMTimeout:      90 * time.Second,
		HistoryWindow:   8,
		StuckWindow:     3,
		StuckSimilarity: 0.6,
	}
}
