package store

import (
	"fmt"
	"time"

	"github.com/pavelanni/socratic/internal/model"
)

// ExportResults builds the export-ready view of every result recorded for a
// test code, including per-question records and full conversations.
func (s *Store) ExportResults(testCode string) (*model.ResultsExport, error) {
	test, err := s.GetTestByCode(testCode)
	if err != nil {
		return nil, fmt.Errorf("get test %s: %w", testCode, err)
	}
	if test == nil {
		return nil, fmt.Errorf("no test with code %s", testCode)
	}

	results, err := s.ListTestResults(testCode)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}

	export := &model.ResultsExport{
		TestCode: test.Code,
		TestName: test.Name,
		Exported: time.Now().UTC(),
	}
	for _, r := range results {
		qrs, err := s.GetQuestionResults(r.ID)
		if err != nil {
			return nil, fmt.Errorf("get question results for %d: %w", r.ID, err)
		}

		var questions []model.ExportedQuestion
		for _, qr := range qrs {
			msgs, err := s.GetChatMessages(qr.ID)
			if err != nil {
				return nil, fmt.Errorf("get messages for %d: %w", qr.ID, err)
			}
			var conv []model.ExportedMsg
			for _, m := range msgs {
				conv = append(conv, model.ExportedMsg{
					Sender:  m.Sender,
					Content: m.Content,
					At:      m.Timestamp,
				})
			}
			questions = append(questions, model.ExportedQuestion{
				QuestionID:    qr.QuestionID,
				StudentAnswer: qr.StudentAnswer,
				IsCorrect:     qr.IsCorrect,
				TimeSpent:     qr.TimeSpent,
				Conversation:  conv,
			})
		}

		export.Results = append(export.Results, model.ExportedResult{
			Username:         r.Username,
			Score:            r.Score,
			TotalQuestions:   r.TotalQuestions,
			CorrectQuestions: r.CorrectQuestions,
			StartTime:        r.StartTime,
			EndTime:          r.EndTime,
			Questions:        questions,
		})
	}

	return export, nil
}
