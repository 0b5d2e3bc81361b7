package services

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/topik-vn/mock-exam-service/internal/models"
	"github.com/topik-vn/mock-exam-service/internal/repositories/memory"
	"github.com/xuri/excelize/v2"
)

func TestExportService_ExportAttempt(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()

	right := choiceQuestion(models.ExamTopik2, models.SectionReading, 1, 2)
	wrong := choiceQuestion(models.ExamTopik2, models.SectionReading, 1, 4)
	skipped := choiceQuestion(models.ExamTopik2, models.SectionReading, 1, 1)
	essay := writingQuestion(models.ExamTopik2)
	store.AddQuestions(right, wrong, skipped, essay)

	correct, incorrect := true, false
	attempt := completedAttempt(t, store, "u1", []*models.Question{right, wrong, skipped, essay}, map[uint]*models.AttemptAnswer{
		right.ID: {QuestionID: right.ID, SelectedAnswer: intPtr(2), IsCorrect: &correct},
		wrong.ID: {QuestionID: wrong.ID, SelectedAnswer: intPtr(1), IsCorrect: &incorrect},
		essay.ID: {QuestionID: essay.ID, TextAnswer: strPtr("에세이")},
	})

	svc := NewExportService(store, testLogger())
	data, err := svc.ExportAttempt(ctx, attempt.ID, "u1")
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{"Summary", "Answers"}, f.GetSheetList())

	summary, err := f.GetRows("Summary")
	require.NoError(t, err)
	assert.Equal(t, []string{"Score", "25"}, summary[len(summary)-1])

	rows, err := f.GetRows("Answers")
	require.NoError(t, err)
	require.Len(t, rows, 5)
	assert.Equal(t, "Your Answer", rows[0][4])
	assert.Equal(t, []string{"2", "2", "Correct"}, rows[1][4:7])
	assert.Equal(t, []string{"1", "4", "Wrong"}, rows[2][4:7])
	assert.Equal(t, []string{"", "1", "Unanswered"}, rows[3][4:7])
	assert.Equal(t, []string{"에세이", "", "Not graded"}, rows[4][4:7])

	_, err = svc.ExportAttempt(ctx, attempt.ID, "u2")
	assert.True(t, IsUnauthorized(err))

	open := &models.ExamAttempt{UserID: "u1", ExamType: models.ExamTopik2, Status: models.AttemptInProgress, StartedAt: t0}
	require.NoError(t, store.Attempt().Create(ctx, open))
	_, err = svc.ExportAttempt(ctx, open.ID, "u1")
	assert.ErrorIs(t, err, ErrAttemptNotCompleted)
}
