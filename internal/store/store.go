package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pavelanni/socratic/internal/model"

	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL UNIQUE,
		display_name TEXT NOT NULL DEFAULT '',
		password_hash TEXT NOT NULL DEFAULT '',
		role TEXT NOT NULL DEFAULT 'student',
		active BOOLEAN NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS tests (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		code TEXT NOT NULL UNIQUE,
		is_practice_exam BOOLEAN NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS questions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		test_id INTEGER NOT NULL,
		position INTEGER NOT NULL,
		public_question TEXT NOT NULL,
		hidden_values TEXT NOT NULL DEFAULT '{}',
		formula TEXT NOT NULL DEFAULT '',
		answer TEXT NOT NULL DEFAULT '',
		teacher_instructions TEXT NOT NULL DEFAULT '',
		hint_mode TEXT NOT NULL DEFAULT 'medium',
		subject TEXT NOT NULL DEFAULT '',
		topic TEXT NOT NULL DEFAULT '',
		FOREIGN KEY (test_id) REFERENCES tests(id)
	);

	CREATE TABLE IF NOT EXISTS test_results (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		test_code TEXT NOT NULL,
		username TEXT NOT NULL,
		score REAL NOT NULL DEFAULT 0,
		total_questions INTEGER NOT NULL DEFAULT 0,
		correct_questions INTEGER NOT NULL DEFAULT 0,
		start_time DATETIME NOT NULL,
		end_time DATETIME
	);

	CREATE TABLE IF NOT EXISTS question_results (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		test_result_id INTEGER NOT NULL,
		question_id INTEGER NOT NULL,
		student_answer TEXT NOT NULL DEFAULT '',
		is_correct BOOLEAN NOT NULL DEFAULT 0,
		time_spent REAL NOT NULL DEFAULT 0,
		start_time DATETIME NOT NULL,
		end_time DATETIME,
		FOREIGN KEY (test_result_id) REFERENCES test_results(id)
	);

	CREATE TABLE IF NOT EXISTS chat_messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		question_result_id INTEGER NOT NULL,
		sender TEXT NOT NULL,
		content TEXT NOT NULL,
		timestamp DATETIME NOT NULL,
		FOREIGN KEY (question_result_id) REFERENCES question_results(id)
	);

	CREATE TABLE IF NOT EXISTS imported_files (
		path TEXT PRIMARY KEY,
		sha256 TEXT NOT NULL,
		imported_at DATETIME NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// CreateTest inserts a test with its questions in one transaction.
func (s *Store) CreateTest(imp model.TestImport) (int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	res, err := tx.Exec(
		`INSERT INTO tests (name, code, is_practice_exam, created_at) VALUES (?, ?, ?, ?)`,
		imp.Name, imp.Code, imp.IsPracticeExam, time.Now(),
	)
	if err != nil {
		return 0, fmt.Errorf("insert test %s: %w", imp.Code, err)
	}
	testID, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	for i, q := range imp.Questions {
		hidden, err := json.Marshal(q.HiddenValues)
		if err != nil {
			return 0, fmt.Errorf("encode hidden values for question %d: %w", i, err)
		}
		mode := q.HintMode
		if mode == "" {
			mode = model.HintModeMedium
		}
		_, err = tx.Exec(
			`INSERT INTO questions (test_id, position, public_question, hidden_values, formula, answer, teacher_instructions, hint_mode, subject, topic)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			testID, i, q.PublicQuestion, string(hidden), q.Formula, q.Answer, q.TeacherInstructions, mode, q.Subject, q.Topic,
		)
		if err != nil {
			return 0, fmt.Errorf("insert question %d: %w", i, err)
		}
	}

	return testID, tx.Commit()
}

// GetTestByCode returns a test by its shareable code, nil if absent.
func (s *Store) GetTestByCode(code string) (*model.Test, error) {
	var t model.Test
	err := s.db.QueryRow(
		`SELECT id, name, code, is_practice_exam FROM tests WHERE code = ?`, code,
	).Scan(&t.ID, &t.Name, &t.Code, &t.IsPracticeExam)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ListTests returns all tests, newest first.
func (s *Store) ListTests() ([]model.Test, error) {
	rows, err := s.db.Query(`SELECT id, name, code, is_practice_exam FROM tests ORDER BY id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var tests []model.Test
	for rows.Next() {
		var t model.Test
		if err := rows.Scan(&t.ID, &t.Name, &t.Code, &t.IsPracticeExam); err != nil {
			return nil, err
		}
		tests = append(tests, t)
	}
	return tests, rows.Err()
}

const questionColumns = `id, public_question, hidden_values, formula, answer, teacher_instructions, hint_mode, subject, topic`

func scanQuestion(row interface{ Scan(...any) error }) (model.Question, error) {
	var q model.Question
	var hidden string
	err := row.Scan(&q.ID, &q.PublicQuestion, &hidden, &q.Formula, &q.Answer, &q.TeacherInstructions, &q.HintMode, &q.Subject, &q.Topic)
	if err != nil {
		return q, err
	}
	if err := json.Unmarshal([]byte(hidden), &q.HiddenValues); err != nil {
		return q, fmt.Errorf("decode hidden values for question %d: %w", q.ID, err)
	}
	return q, nil
}

// GetTestQuestions returns a test's questions in authored order.
func (s *Store) GetTestQuestions(testID int64) ([]model.Question, error) {
	rows, err := s.db.Query(
		`SELECT `+questionColumns+` FROM questions WHERE test_id = ? ORDER BY position`, testID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var questions []model.Question
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, err
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

// GetTestQuestion returns the question at the given zero-based position within
// a test, nil if the test has no such position.
func (s *Store) GetTestQuestion(testID int64, position int) (*model.Question, error) {
	row := s.db.QueryRow(
		`SELECT `+questionColumns+` FROM questions WHERE test_id = ? AND position = ?`, testID, position,
	)
	q, err := scanQuestion(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &q, nil
}

// GetQuestion returns a question by ID, nil if absent.
func (s *Store) GetQuestion(id int64) (*model.Question, error) {
	row := s.db.QueryRow(`SELECT `+questionColumns+` FROM questions WHERE id = ?`, id)
	q, err := scanQuestion(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &q, nil
}

// CreateTestResult inserts the top-level record of a finished test.
func (s *Store) CreateTestResult(r model.TestResult) (int64, error) {
	res, err := s.db.Exec(
		`INSERT INTO test_results (test_code, username, score, total_questions, correct_questions, start_time, end_time)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.TestCode, r.Username, r.Score, r.TotalQuestions, r.CorrectQuestions, r.StartTime, r.EndTime,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// CreateQuestionResult inserts one question's record under a test result.
func (s *Store) CreateQuestionResult(r model.QuestionResult) (int64, error) {
	res, err := s.db.Exec(
		`INSERT INTO question_results (test_result_id, question_id, student_answer, is_correct, time_spent, start_time, end_time)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.TestResultID, r.QuestionID, r.StudentAnswer, r.IsCorrect, r.TimeSpent, r.StartTime, r.EndTime,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// CreateChatMessage inserts one chat message under a question result.
func (s *Store) CreateChatMessage(m model.StoredChatMessage) (int64, error) {
	res, err := s.db.Exec(
		`INSERT INTO chat_messages (question_result_id, sender, content, timestamp) VALUES (?, ?, ?, ?)`,
		m.QuestionResultID, m.Sender, m.Content, m.Timestamp,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ListTestResults returns the results recorded for a test code, newest first.
func (s *Store) ListTestResults(testCode string) ([]model.TestResult, error) {
	rows, err := s.db.Query(
		`SELECT id, test_code, username, score, total_questions, correct_questions, start_time, end_time
		 FROM test_results WHERE test_code = ? ORDER BY id DESC`, testCode,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var results []model.TestResult
	for rows.Next() {
		var r model.TestResult
		if err := rows.Scan(&r.ID, &r.TestCode, &r.Username, &r.Score, &r.TotalQuestions, &r.CorrectQuestions, &r.StartTime, &r.EndTime); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// GetQuestionResults returns the per-question records of a test result.
func (s *Store) GetQuestionResults(testResultID int64) ([]model.QuestionResult, error) {
	rows, err := s.db.Query(
		`SELECT id, test_result_id, question_id, student_answer, is_correct, time_spent, start_time, end_time
		 FROM question_results WHERE test_result_id = ? ORDER BY id`, testResultID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var results []model.QuestionResult
	for rows.Next() {
		var r model.QuestionResult
		if err := rows.Scan(&r.ID, &r.TestResultID, &r.QuestionID, &r.StudentAnswer, &r.IsCorrect, &r.TimeSpent, &r.StartTime, &r.EndTime); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// GetChatMessages returns the conversation recorded for a question result.
func (s *Store) GetChatMessages(questionResultID int64) ([]model.StoredChatMessage, error) {
	rows, err := s.db.Query(
		`SELECT id, question_result_id, sender, content, timestamp
		 FROM chat_messages WHERE question_result_id = ? ORDER BY id`, questionResultID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var messages []model.StoredChatMessage
	for rows.Next() {
		var m model.StoredChatMessage
		if err := rows.Scan(&m.ID, &m.QuestionResultID, &m.Sender, &m.Content, &m.Timestamp); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// GetImportedFileHash returns the recorded checksum for a test file path,
// empty if the file was never imported.
func (s *Store) GetImportedFileHash(path string) (string, error) {
	var sha string
	err := s.db.QueryRow(`SELECT sha256 FROM imported_files WHERE path = ?`, path).Scan(&sha)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return sha, err
}

// SetImportedFileHash records a test file's checksum so reimports are skipped.
func (s *Store) SetImportedFileHash(path, sha string) error {
	_, err := s.db.Exec(
		`INSERT INTO imported_files (path, sha256, imported_at) VALUES (?, ?, ?)
		 ON CONFLICT(path) DO UPDATE SET sha256 = ?, imported_at = ?`,
		path, sha, time.Now(), sha, time.Now(),
	)
	return err
}

// TestCount returns the number of tests in the database.
func (s *Store) TestCount() (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM tests`).Scan(&count)
	return count, err
}
