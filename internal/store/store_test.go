package store

import (
	"testing"
	"time"

	"github.com/pavelanni/socratic/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("newTestStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func importTestDefinition(t *testing.T, s *Store) int64 {
	t.Helper()
	id, err := s.CreateTest(model.TestImport{
		Name:           "Kinematics Practice",
		Code:           "KIN1",
		IsPracticeExam: true,
		Questions: []model.QuestionImport{
			{
				PublicQuestion: "A train travels at constant speed. How far does it go?",
				HiddenValues:   map[string]any{"speed": 60.0, "time": 2.0},
				Formula:        "distance = speed * time",
				Answer:         "120",
				HintMode:       model.HintModeEasy,
				Subject:        "physics",
				Topic:          "kinematics",
			},
			{
				PublicQuestion: "A ball falls from rest. How fast is it moving when it lands?",
				HiddenValues:   map[string]any{"height": 20.0, "g": 9.8},
				Answer:         "19.8",
			},
		},
	})
	if err != nil {
		t.Fatalf("CreateTest: %v", err)
	}
	return id
}

func TestCreateAndGetTest(t *testing.T) {
	s := newTestStore(t)

	// Empty DB.
	count, err := s.TestCount()
	if err != nil {
		t.Fatalf("TestCount: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected 0 tests, got %d", count)
	}
	test, err := s.GetTestByCode("KIN1")
	if err != nil {
		t.Fatalf("GetTestByCode: %v", err)
	}
	if test != nil {
		t.Fatalf("expected nil for missing test, got %+v", test)
	}

	id := importTestDefinition(t, s)
	test, err = s.GetTestByCode("KIN1")
	if err != nil {
		t.Fatalf("GetTestByCode: %v", err)
	}
	if test == nil || test.ID != id {
		t.Fatalf("expected test %d, got %+v", id, test)
	}
	if test.Name != "Kinematics Practice" || !test.IsPracticeExam {
		t.Errorf("test fields lost: %+v", test)
	}
}

func TestGetTestQuestions(t *testing.T) {
	s := newTestStore(t)
	id := importTestDefinition(t, s)

	questions, err := s.GetTestQuestions(id)
	if err != nil {
		t.Fatalf("GetTestQuestions: %v", err)
	}
	if len(questions) != 2 {
		t.Fatalf("expected 2 questions, got %d", len(questions))
	}
	q := questions[0]
	if q.Formula != "distance = speed * time" {
		t.Errorf("expected formula, got %q", q.Formula)
	}
	if q.HintMode != model.HintModeEasy {
		t.Errorf("expected easy hint mode, got %q", q.HintMode)
	}
	// Hidden values survive the JSON round trip through the column.
	if v, ok := q.HiddenValues["speed"].(float64); !ok || v != 60.0 {
		t.Errorf("hidden value speed = %v", q.HiddenValues["speed"])
	}
	// Unspecified hint mode defaults to medium.
	if questions[1].HintMode != model.HintModeMedium {
		t.Errorf("expected default hint mode medium, got %q", questions[1].HintMode)
	}

	// By position.
	q1, err := s.GetTestQuestion(id, 1)
	if err != nil {
		t.Fatalf("GetTestQuestion: %v", err)
	}
	if q1 == nil || q1.Answer != "19.8" {
		t.Fatalf("position 1 = %+v", q1)
	}
	missing, err := s.GetTestQuestion(id, 5)
	if err != nil {
		t.Fatalf("GetTestQuestion: %v", err)
	}
	if missing != nil {
		t.Errorf("expected nil past the last position, got %+v", missing)
	}

	// By ID.
	byID, err := s.GetQuestion(q1.ID)
	if err != nil {
		t.Fatalf("GetQuestion: %v", err)
	}
	if byID == nil || byID.PublicQuestion != q1.PublicQuestion {
		t.Errorf("GetQuestion mismatch: %+v", byID)
	}
}

func TestResultSink(t *testing.T) {
	s := newTestStore(t)
	importTestDefinition(t, s)

	start := time.Now().Add(-10 * time.Minute)
	end := time.Now()
	trID, err := s.CreateTestResult(model.TestResult{
		TestCode:         "KIN1",
		Username:         "alice",
		Score:            50,
		TotalQuestions:   2,
		CorrectQuestions: 1,
		StartTime:        start,
		EndTime:          &end,
	})
	if err != nil {
		t.Fatalf("CreateTestResult: %v", err)
	}

	qrID, err := s.CreateQuestionResult(model.QuestionResult{
		TestResultID:  trID,
		QuestionID:    1,
		StudentAnswer: "120",
		IsCorrect:     true,
		TimeSpent:     300,
		StartTime:     start,
		EndTime:       &end,
	})
	if err != nil {
		t.Fatalf("CreateQuestionResult: %v", err)
	}

	for _, m := range []model.StoredChatMessage{
		{QuestionResultID: qrID, Sender: "student", Content: "what is the speed?", Timestamp: start},
		{QuestionResultID: qrID, Sender: "tutor", Content: "speed is 60.", Timestamp: end},
	} {
		if _, err := s.CreateChatMessage(m); err != nil {
			t.Fatalf("CreateChatMessage: %v", err)
		}
	}

	results, err := s.ListTestResults("KIN1")
	if err != nil {
		t.Fatalf("ListTestResults: %v", err)
	}
	if len(results) != 1 || results[0].Score != 50 || results[0].Username != "alice" {
		t.Fatalf("results = %+v", results)
	}

	qrs, err := s.GetQuestionResults(trID)
	if err != nil {
		t.Fatalf("GetQuestionResults: %v", err)
	}
	if len(qrs) != 1 || !qrs[0].IsCorrect || qrs[0].StudentAnswer != "120" {
		t.Fatalf("question results = %+v", qrs)
	}

	msgs, err := s.GetChatMessages(qrID)
	if err != nil {
		t.Fatalf("GetChatMessages: %v", err)
	}
	if len(msgs) != 2 || msgs[0].Sender != "student" || msgs[1].Content != "speed is 60." {
		t.Fatalf("messages = %+v", msgs)
	}
}

func TestExportResults(t *testing.T) {
	s := newTestStore(t)
	importTestDefinition(t, s)

	start := time.Now().Add(-10 * time.Minute)
	trID, err := s.CreateTestResult(model.TestResult{
		TestCode: "KIN1", Username: "alice", Score: 100,
		TotalQuestions: 2, CorrectQuestions: 2, StartTime: start,
	})
	if err != nil {
		t.Fatalf("CreateTestResult: %v", err)
	}
	qrID, err := s.CreateQuestionResult(model.QuestionResult{
		TestResultID: trID, QuestionID: 1, StudentAnswer: "120", IsCorrect: true, StartTime: start,
	})
	if err != nil {
		t.Fatalf("CreateQuestionResult: %v", err)
	}
	if _, err := s.CreateChatMessage(model.StoredChatMessage{
		QuestionResultID: qrID, Sender: "student", Content: "hi", Timestamp: start,
	}); err != nil {
		t.Fatalf("CreateChatMessage: %v", err)
	}

	export, err := s.ExportResults("KIN1")
	if err != nil {
		t.Fatalf("ExportResults: %v", err)
	}
	if export.TestName != "Kinematics Practice" || len(export.Results) != 1 {
		t.Fatalf("export = %+v", export)
	}
	r := export.Results[0]
	if r.Username != "alice" || len(r.Questions) != 1 || len(r.Questions[0].Conversation) != 1 {
		t.Fatalf("exported result = %+v", r)
	}

	if _, err := s.ExportResults("NOPE"); err == nil {
		t.Error("expected error for unknown test code")
	}
}

func TestUsers(t *testing.T) {
	s := newTestStore(t)

	u, err := s.GetUserByUsername("alice")
	if err != nil {
		t.Fatalf("GetUserByUsername: %v", err)
	}
	if u != nil {
		t.Fatalf("expected nil for missing user, got %+v", u)
	}

	u, err = s.EnsureUser("alice")
	if err != nil {
		t.Fatalf("EnsureUser: %v", err)
	}
	if u.Role != model.UserRoleStudent || !u.Active {
		t.Errorf("ensured user = %+v", u)
	}

	again, err := s.EnsureUser("alice")
	if err != nil {
		t.Fatalf("EnsureUser again: %v", err)
	}
	if again.ID != u.ID {
		t.Errorf("EnsureUser created a duplicate: %d vs %d", again.ID, u.ID)
	}

	count, err := s.UserCount()
	if err != nil {
		t.Fatalf("UserCount: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 user, got %d", count)
	}
}

func TestImportedFiles(t *testing.T) {
	s := newTestStore(t)

	sha, err := s.GetImportedFileHash("tests.json")
	if err != nil {
		t.Fatalf("GetImportedFileHash: %v", err)
	}
	if sha != "" {
		t.Fatalf("empty DB reported hash %q", sha)
	}

	if err := s.SetImportedFileHash("tests.json", "abc123"); err != nil {
		t.Fatalf("SetImportedFileHash: %v", err)
	}
	// Re-recording updates the hash.
	if err := s.SetImportedFileHash("tests.json", "def456"); err != nil {
		t.Fatalf("SetImportedFileHash repeat: %v", err)
	}

	sha, err = s.GetImportedFileHash("tests.json")
	if err != nil {
		t.Fatalf("GetImportedFileHash: %v", err)
	}
	if sha != "def456" {
		t.Errorf("hash = %q, want def456", sha)
	}
}
