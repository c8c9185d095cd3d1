package model

import "time"

// ResultsExport is the top-level JSON structure for test result export.
type ResultsExport struct {
	TestCode string           `json:"test_code"`
	TestName string           `json:"test_name"`
	Exported time.Time        `json:"exported"`
	Results  []ExportedResult `json:"results"`
}

// ExportedResult holds one student's finished test for export.
type ExportedResult struct {
	Username         string             `json:"username"`
	Score            float64            `json:"score"`
	TotalQuestions   int                `json:"total_questions"`
	CorrectQuestions int                `json:"correct_questions"`
	StartTime        time.Time          `json:"start_time"`
	EndTime          *time.Time         `json:"end_time,omitempty"`
	Questions        []ExportedQuestion `json:"questions"`
}

// ExportedQuestion holds per-question data for export.
type ExportedQuestion struct {
	QuestionID    int64         `json:"question_id"`
	StudentAnswer string        `json:"student_answer"`
	IsCorrect     bool          `json:"is_correct"`
	TimeSpent     float64       `json:"time_spent"`
	Conversation  []ExportedMsg `json:"conversation"`
}

// ExportedMsg is a single message in an exported conversation.
type ExportedMsg struct {
	Sender  string    `json:"sender"`
	Content string    `json:"content"`
	At      time.Time `json:"at"`
}
