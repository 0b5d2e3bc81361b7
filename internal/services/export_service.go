package services

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/topik-vn/mock-exam-service/internal/models"
	"github.com/topik-vn/mock-exam-service/internal/repositories"
	"github.com/xuri/excelize/v2"
)

type exportService struct {
	repo   repositories.Repository
	logger *slog.Logger
}

func NewExportService(repo repositories.Repository, logger *slog.Logger) ExportService {
	return &exportService{
		repo:   repo,
		logger: logger,
	}
}

// ExportAttempt renders a completed attempt as an XLSX answer sheet with a
// summary sheet and one row per question.
func (s *exportService) ExportAttempt(ctx context.Context, attemptID uint, userID string) ([]byte, error) {
	attempt, err := loadOwnedAttempt(ctx, s.repo, attemptID, userID, "export")
	if err != nil {
		return nil, err
	}
	if attempt.Status != models.AttemptCompleted {
		return nil, ErrAttemptNotCompleted
	}

	result, err := buildStoredResult(ctx, s.repo, attempt, defaultLanguage)
	if err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := writeSummarySheet(f, result); err != nil {
		return nil, err
	}
	if err := writeAnswerSheet(f, result); err != nil {
		return nil, err
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to write Excel file: %w", err)
	}

	s.logger.Info("Attempt exported",
		"attempt_id", attemptID,
		"user_id", userID,
		"rows", len(result.Review))
	return buf.Bytes(), nil
}

func writeSummarySheet(f *excelize.File, result *SubmissionResult) error {
	sheetName := "Summary"
	if err := f.SetSheetName(f.GetSheetName(0), sheetName); err != nil {
		return fmt.Errorf("failed to create Excel sheet: %w", err)
	}
	f.SetActiveSheet(0)

	rows := [][]interface{}{
		{"Attempt", result.AttemptID},
		{"Exam Type", string(result.ExamType)},
		{"Mode", string(result.Mode)},
		{"Started At", result.StartedAt.Format(time.RFC3339)},
		{"Finished At", result.FinishedAt.Format(time.RFC3339)},
		{"Time Spent (seconds)", result.TimeSpentSeconds},
		{"End Reason", string(result.EndReason)},
		{"Answered", result.AnsweredCount},
		{"Correct", result.CorrectCount},
		{"Total Questions", result.TotalQuestions},
		{"Score", result.TotalScore},
	}
	for i, row := range rows {
		f.SetCellValue(sheetName, fmt.Sprintf("A%d", i+1), row[0])
		f.SetCellValue(sheetName, fmt.Sprintf("B%d", i+1), row[1])
	}
	return nil
}

func writeAnswerSheet(f *excelize.File, result *SubmissionResult) error {
	sheetName := "Answers"
	if _, err := f.NewSheet(sheetName); err != nil {
		return fmt.Errorf("failed to create Excel sheet: %w", err)
	}

	headers := []string{
		"No.", "Question ID", "Section", "Prompt", "Your Answer", "Correct Answer",
		"Result", "Explanation", "AI Score", "AI Feedback",
	}
	for i, header := range headers {
		cell := fmt.Sprintf("%c1", 'A'+i)
		f.SetCellValue(sheetName, cell, header)
	}

	for rowIndex, review := range result.Review {
		row := reviewToRow(rowIndex+1, review)
		for colIndex, value := range row {
			cell := fmt.Sprintf("%c%d", 'A'+colIndex, rowIndex+2)
			f.SetCellValue(sheetName, cell, value)
		}
	}
	return nil
}

func reviewToRow(number int, review QuestionReview) []interface{} {
	yourAnswer := ""
	switch {
	case review.SelectedIndex != nil:
		yourAnswer = strconv.Itoa(*review.SelectedIndex + 1)
	case review.TextAnswer != nil:
		yourAnswer = *review.TextAnswer
	}

	correctAnswer := ""
	if review.CorrectIndex != nil {
		correctAnswer = strconv.Itoa(*review.CorrectIndex + 1)
	}

	outcome := "Unanswered"
	switch {
	case review.IsCorrect != nil && *review.IsCorrect:
		outcome = "Correct"
	case review.IsCorrect != nil:
		outcome = "Wrong"
	case review.TextAnswer != nil:
		outcome = "Not graded"
	}

	var aiScore interface{} = ""
	if review.AIScore != nil {
		aiScore = *review.AIScore
	}
	aiFeedback := ""
	if review.AIFeedback != nil {
		aiFeedback = *review.AIFeedback
	}

	return []interface{}{
		number, review.QuestionID, string(review.Section), review.Prompt, yourAnswer, correctAnswer,
		outcome, review.Explanation, aiScore, aiFeedback,
	}
}
