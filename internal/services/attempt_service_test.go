package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/topik-vn/mock-exam-service/internal/config"
	"github.com/topik-vn/mock-exam-service/internal/events"
	"github.com/topik-vn/mock-exam-service/internal/models"
	"github.com/topik-vn/mock-exam-service/internal/repositories"
)

const waitFor = 2 * time.Second

func timedPartConfig(seconds int) config.ExamConfig {
	cfg := config.DefaultExamConfig()
	cfg.TimeLimits[config.TimeLimitKey{
		ExamType: models.ExamTopik1,
		Mode:     models.ModePart,
		Section:  models.SectionReading,
	}] = seconds
	return cfg
}

func TestAttemptService_Start(t *testing.T) {
	ctx := context.Background()

	t.Run("fresh part attempt", func(t *testing.T) {
		f := newServiceFixture(t, config.DefaultExamConfig())
		seedPart(f.store, 20)

		resp := f.start(t, partRequest(), "u1")
		assert.False(t, resp.Resumed)
		assert.Nil(t, resp.AutoSubmitted)

		view := resp.Session
		assert.Equal(t, models.AttemptInProgress, view.Status)
		assert.Equal(t, 15, view.TotalQuestions)
		assert.Len(t, view.Questions, 15)
		assert.True(t, view.ImmediateFeedback)
		assert.True(t, view.Pausable)
		assert.Equal(t, TimerInactive, view.Timer.State)

		stored := f.storedAttempt(t, view.AttemptID)
		ids, err := stored.OrderedQuestionIDs()
		require.NoError(t, err)
		for i, q := range view.Questions {
			assert.Equal(t, ids[i], q.ID)
		}
		assert.Nil(t, stored.TimeLimitSeconds)
		assert.Len(t, f.publisher.EventsOfType(events.EventAttemptStarted), 1)
	})

	t.Run("untimed full exam has an inactive countdown", func(t *testing.T) {
		f := newServiceFixture(t, untimedConfig())
		seedPart(f.store, 5)

		resp := f.start(t, &StartAttemptRequest{ExamType: models.ExamTopik1, Mode: models.ModeFull}, "u1")
		assert.Equal(t, TimerInactive, resp.Session.Timer.State)
		assert.Equal(t, 0, resp.Session.Timer.LimitSeconds)
		assert.False(t, resp.Session.ImmediateFeedback)
	})

	t.Run("timed full exam starts its countdown", func(t *testing.T) {
		f := newServiceFixture(t, config.DefaultExamConfig())
		seedPart(f.store, 5)

		resp := f.start(t, &StartAttemptRequest{ExamType: models.ExamTopik1, Mode: models.ModeFull}, "u1")
		assert.Equal(t, TimerRunning, resp.Session.Timer.State)
		assert.Equal(t, 100*60, resp.Session.Timer.RemainingSeconds)
	})

	t.Run("no content writes no attempt", func(t *testing.T) {
		f := newServiceFixture(t, config.DefaultExamConfig())

		_, err := f.svc.Start(ctx, partRequest(), "u1")
		assert.ErrorIs(t, err, ErrContentUnavailable)

		list, err := f.svc.List(ctx, &ListAttemptsRequest{}, "u1")
		require.NoError(t, err)
		assert.EqualValues(t, 0, list.Total)
	})

	t.Run("invalid request", func(t *testing.T) {
		f := newServiceFixture(t, config.DefaultExamConfig())

		_, err := f.svc.Start(ctx, &StartAttemptRequest{ExamType: models.ExamTopik1, Mode: models.ModePart}, "u1")
		assert.True(t, IsValidation(err))

		_, err = f.svc.Start(ctx, &StartAttemptRequest{ExamType: "topik3", Mode: models.ModeFull}, "u1")
		assert.True(t, IsValidation(err))

		_, err = f.svc.Start(ctx, &StartAttemptRequest{ExamType: models.ExamTopik1, Mode: models.ModeWeakness}, "u1")
		assert.True(t, IsValidation(err))
	})

	t.Run("second start returns the live attempt", func(t *testing.T) {
		f := newServiceFixture(t, config.DefaultExamConfig())
		seedPart(f.store, 20)

		first := f.start(t, partRequest(), "u1")
		second := f.start(t, partRequest(), "u1")
		assert.True(t, second.Resumed)
		assert.Equal(t, first.Session.AttemptID, second.Session.AttemptID)
	})

	t.Run("restart abandons the open attempt", func(t *testing.T) {
		f := newServiceFixture(t, config.DefaultExamConfig())
		seedPart(f.store, 20)

		first := f.start(t, partRequest(), "u1")
		req := partRequest()
		req.Restart = true
		second := f.start(t, req, "u1")

		assert.False(t, second.Resumed)
		assert.NotEqual(t, first.Session.AttemptID, second.Session.AttemptID)
		old := f.storedAttempt(t, first.Session.AttemptID)
		assert.Equal(t, models.AttemptAbandoned, old.Status)
		assert.Equal(t, models.EndReasonAbandoned, *old.EndReason)
	})

	t.Run("users and exam types are independent", func(t *testing.T) {
		f := newServiceFixture(t, config.DefaultExamConfig())
		seedPart(f.store, 20)
		f.store.AddQuestions(choiceQuestion(models.ExamTopik2, models.SectionReading, 1, 1))

		a := f.start(t, partRequest(), "u1")
		b := f.start(t, partRequest(), "u2")
		c := f.start(t, &StartAttemptRequest{ExamType: models.ExamTopik2, Mode: models.ModeFull}, "u1")

		assert.NotEqual(t, a.Session.AttemptID, b.Session.AttemptID)
		assert.NotEqual(t, a.Session.AttemptID, c.Session.AttemptID)
		assert.False(t, b.Resumed)
		assert.False(t, c.Resumed)
	})

	t.Run("concurrent starts share one attempt", func(t *testing.T) {
		f := newServiceFixture(t, config.DefaultExamConfig())
		seedPart(f.store, 20)

		var wg sync.WaitGroup
		ids := make([]uint, 5)
		for i := range ids {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				resp, err := f.svc.Start(ctx, partRequest(), "u1")
				if assert.NoError(t, err) {
					ids[i] = resp.Session.AttemptID
				}
			}(i)
		}
		wg.Wait()

		for _, id := range ids[1:] {
			assert.Equal(t, ids[0], id)
		}
		assert.Len(t, f.publisher.EventsOfType(events.EventAttemptStarted), 1)
	})
}

func TestAttemptService_RecordAnswer(t *testing.T) {
	ctx := context.Background()

	t.Run("immediate feedback maps the 1-based key", func(t *testing.T) {
		f := newServiceFixture(t, config.DefaultExamConfig())
		seedPart(f.store, 15)
		view := f.start(t, partRequest(), "u1").Session
		q := view.Questions[0].ID

		right := f.answer(t, view.AttemptID, q, 2, "u1")
		require.NotNil(t, right.IsCorrect)
		assert.True(t, *right.IsCorrect)
		assert.Equal(t, 2, *right.CorrectIndex)
		require.NotNil(t, right.Explanation)
		assert.Equal(t, "giải thích", *right.Explanation)

		wrong := f.answer(t, view.AttemptID, view.Questions[1].ID, 1, "u1")
		assert.False(t, *wrong.IsCorrect)
		assert.Equal(t, 2, *wrong.CorrectIndex)
	})

	t.Run("explanation follows the requested language", func(t *testing.T) {
		f := newServiceFixture(t, config.DefaultExamConfig())
		seedPart(f.store, 15)
		view := f.start(t, partRequest(), "u1").Session

		feedback, err := f.svc.RecordAnswer(ctx, view.AttemptID, view.Questions[0].ID, &RecordAnswerRequest{SelectedIndex: intPtr(0), Language: "en"}, "u1")
		require.NoError(t, err)
		assert.Equal(t, "explanation", *feedback.Explanation)

		feedback, err = f.svc.RecordAnswer(ctx, view.AttemptID, view.Questions[1].ID, &RecordAnswerRequest{SelectedIndex: intPtr(0), Language: "ko"}, "u1")
		require.NoError(t, err)
		assert.Equal(t, "giải thích", *feedback.Explanation)
	})

	t.Run("wrong answer is logged as a mistake at once", func(t *testing.T) {
		f := newServiceFixture(t, config.DefaultExamConfig())
		seedPart(f.store, 15)
		view := f.start(t, partRequest(), "u1").Session
		q := view.Questions[3].ID

		f.answer(t, view.AttemptID, q, 0, "u1")
		f.answer(t, view.AttemptID, q, 1, "u1")

		mistake, err := f.store.Mistake().GetByUserAndQuestion(ctx, "u1", q)
		require.NoError(t, err)
		assert.Equal(t, 1, mistake.ReviewCount)
		assert.Equal(t, view.AttemptID, mistake.AttemptID)
	})

	t.Run("exam mode hides correctness", func(t *testing.T) {
		f := newServiceFixture(t, config.DefaultExamConfig())
		seedPart(f.store, 15)
		view := f.start(t, &StartAttemptRequest{
			ExamType: models.ExamTopik1,
			Mode:     models.ModeSection,
			Section:  sectionPtr(models.SectionReading),
		}, "u1").Session

		feedback := f.answer(t, view.AttemptID, view.Questions[0].ID, 0, "u1")
		assert.True(t, feedback.Recorded)
		assert.Nil(t, feedback.IsCorrect)
		assert.Nil(t, feedback.CorrectIndex)

		current, err := f.svc.GetSession(ctx, view.AttemptID, "u1")
		require.NoError(t, err)
		require.Len(t, current.Answers, 1)
		assert.Nil(t, current.Answers[0].IsCorrect)

		_, err = f.store.Mistake().GetByUserAndQuestion(ctx, "u1", view.Questions[0].ID)
		assert.True(t, repositories.IsNotFoundError(err))
	})

	t.Run("rejected answers", func(t *testing.T) {
		f := newServiceFixture(t, config.DefaultExamConfig())
		seedPart(f.store, 15)
		view := f.start(t, partRequest(), "u1").Session
		q := view.Questions[0].ID

		_, err := f.svc.RecordAnswer(ctx, view.AttemptID, q, &RecordAnswerRequest{SelectedIndex: intPtr(4)}, "u1")
		assert.True(t, IsValidation(err))

		_, err = f.svc.RecordAnswer(ctx, view.AttemptID, q, &RecordAnswerRequest{}, "u1")
		assert.True(t, IsValidation(err))

		_, err = f.svc.RecordAnswer(ctx, view.AttemptID, q, &RecordAnswerRequest{SelectedIndex: intPtr(1), TextAnswer: strPtr("x")}, "u1")
		assert.True(t, IsValidation(err))

		_, err = f.svc.RecordAnswer(ctx, view.AttemptID, q, &RecordAnswerRequest{TextAnswer: strPtr("x")}, "u1")
		assert.ErrorIs(t, err, ErrAnswerTypeMismatch)

		_, err = f.svc.RecordAnswer(ctx, view.AttemptID, 99999, &RecordAnswerRequest{SelectedIndex: intPtr(0)}, "u1")
		assert.ErrorIs(t, err, ErrQuestionNotInExam)
		assert.True(t, IsNotFound(err))

		_, err = f.svc.RecordAnswer(ctx, view.AttemptID, q, &RecordAnswerRequest{SelectedIndex: intPtr(0)}, "intruder")
		assert.True(t, IsUnauthorized(err))

		current, err := f.svc.GetSession(ctx, view.AttemptID, "u1")
		require.NoError(t, err)
		assert.Equal(t, 0, current.AnsweredCount)
	})

	t.Run("writing answers are stored verbatim", func(t *testing.T) {
		f := newServiceFixture(t, untimedConfig())
		essay := writingQuestion(models.ExamTopik2)
		choice := choiceQuestion(models.ExamTopik2, models.SectionWriting, 51, 1)
		f.store.AddQuestions(essay, choice)

		view := f.start(t, &StartAttemptRequest{
			ExamType: models.ExamTopik2,
			Mode:     models.ModeSection,
			Section:  sectionPtr(models.SectionWriting),
		}, "u1").Session

		text := "  저는 환경 보호가 중요하다고 생각합니다.\n"
		feedback, err := f.svc.RecordAnswer(ctx, view.AttemptID, essay.ID, &RecordAnswerRequest{TextAnswer: &text}, "u1")
		require.NoError(t, err)
		assert.Nil(t, feedback.IsCorrect)

		_, err = f.svc.RecordAnswer(ctx, view.AttemptID, essay.ID, &RecordAnswerRequest{SelectedIndex: intPtr(0)}, "u1")
		assert.ErrorIs(t, err, ErrAnswerTypeMismatch)

		result, err := f.svc.Submit(ctx, view.AttemptID, "u1")
		require.NoError(t, err)
		assert.Equal(t, 0, result.CorrectCount)
		assert.Equal(t, 1, result.AnsweredCount)

		answers, err := f.store.Answer().GetByAttempt(ctx, view.AttemptID)
		require.NoError(t, err)
		require.Len(t, answers, 2)
		byQuestion := map[uint]*models.AttemptAnswer{}
		for _, a := range answers {
			byQuestion[a.QuestionID] = a
		}
		require.Contains(t, byQuestion, essay.ID)
		assert.Equal(t, text, *byQuestion[essay.ID].TextAnswer)
		assert.Nil(t, byQuestion[essay.ID].SelectedAnswer)
		assert.Nil(t, byQuestion[essay.ID].IsCorrect)
		assert.False(t, byQuestion[choice.ID].IsAnswered())
	})
}

func TestAttemptService_Submit(t *testing.T) {
	ctx := context.Background()

	t.Run("scores and persists every answer", func(t *testing.T) {
		f := newServiceFixture(t, config.DefaultExamConfig())
		seedPart(f.store, 15)
		view := f.start(t, partRequest(), "u1").Session

		for i, q := range view.Questions[:6] {
			index := 2
			if i%2 == 1 {
				index = 0
			}
			f.answer(t, view.AttemptID, q.ID, index, "u1")
		}
		// The last write wins for a re-answered question.
		f.answer(t, view.AttemptID, view.Questions[1].ID, 2, "u1")

		f.clock.Advance(90 * time.Second)
		result, err := f.svc.Submit(ctx, view.AttemptID, "u1")
		require.NoError(t, err)

		assert.Equal(t, 4, result.CorrectCount)
		assert.Equal(t, 15, result.TotalQuestions)
		assert.Equal(t, 6, result.AnsweredCount)
		assert.Equal(t, 27, result.TotalScore)
		assert.Equal(t, 90, result.TimeSpentSeconds)
		assert.Equal(t, models.EndReasonSubmitted, result.EndReason)
		assert.Equal(t, 0, result.NewMistakes)
		require.Len(t, result.Review, 15)
		assert.Equal(t, 2, *result.Review[0].CorrectIndex)

		stored := f.storedAttempt(t, view.AttemptID)
		assert.Equal(t, models.AttemptCompleted, stored.Status)
		assert.True(t, stored.IsCompleted)
		assert.Equal(t, 4, stored.CorrectCount)
		assert.Equal(t, 27, *stored.TotalScore)
		assert.Equal(t, 90, *stored.TimeSpentSeconds)
		assert.Equal(t, t0.Add(90*time.Second), *stored.FinishedAt)

		// Every question gets a row; the unanswered ones carry no response.
		answers, err := f.store.Answer().GetByAttempt(ctx, view.AttemptID)
		require.NoError(t, err)
		require.Len(t, answers, 15)
		byQuestion := map[uint]*models.AttemptAnswer{}
		for _, a := range answers {
			byQuestion[a.QuestionID] = a
		}
		for _, q := range view.Questions {
			require.Contains(t, byQuestion, q.ID)
		}
		assert.Equal(t, 3, *byQuestion[view.Questions[1].ID].SelectedAnswer)
		assert.True(t, *byQuestion[view.Questions[1].ID].IsCorrect)
		unanswered := byQuestion[view.Questions[10].ID]
		assert.False(t, unanswered.IsAnswered())
		assert.Nil(t, unanswered.IsCorrect)

		seen, err := f.store.Answer().GetAnsweredQuestionIDs(ctx, "u1", models.ExamTopik1)
		require.NoError(t, err)
		assert.Len(t, seen, 6)

		reloaded, err := f.svc.GetResult(ctx, view.AttemptID, "u1")
		require.NoError(t, err)
		assert.Equal(t, 6, reloaded.AnsweredCount)

		submitted := f.publisher.EventsOfType(events.EventAttemptSubmitted)
		require.Len(t, submitted, 1)
		data := submitted[0].Data.(events.AttemptSubmittedEvent)
		assert.Equal(t, 27, data.TotalScore)
	})

	t.Run("wrong answers are swept into mistakes in exam modes", func(t *testing.T) {
		f := newServiceFixture(t, config.DefaultExamConfig())
		seedPart(f.store, 15)
		view := f.start(t, &StartAttemptRequest{
			ExamType: models.ExamTopik1,
			Mode:     models.ModeSection,
			Section:  sectionPtr(models.SectionReading),
		}, "u1").Session

		f.answer(t, view.AttemptID, view.Questions[0].ID, 0, "u1")
		f.answer(t, view.AttemptID, view.Questions[1].ID, 1, "u1")
		f.answer(t, view.AttemptID, view.Questions[2].ID, 2, "u1")

		result, err := f.svc.Submit(ctx, view.AttemptID, "u1")
		require.NoError(t, err)
		assert.Equal(t, 2, result.NewMistakes)
		assert.Equal(t, 1, result.CorrectCount)

		mistakes, err := NewMistakeService(f.store, testLogger(), f.svc.validator).List(ctx, &ListMistakesRequest{}, "u1")
		require.NoError(t, err)
		assert.EqualValues(t, 2, mistakes.Total)
		assert.ElementsMatch(t, []uint{view.Questions[0].ID, view.Questions[1].ID}, mistakes.QuestionIDs)
	})

	t.Run("a mistake repeated across attempts counts twice", func(t *testing.T) {
		f := newServiceFixture(t, config.DefaultExamConfig())
		seedPart(f.store, 15)
		view := f.start(t, partRequest(), "u1").Session
		q := view.Questions[0].ID

		f.answer(t, view.AttemptID, q, 0, "u1")
		_, err := f.svc.Submit(ctx, view.AttemptID, "u1")
		require.NoError(t, err)

		retry := f.start(t, &StartAttemptRequest{
			ExamType:    models.ExamTopik1,
			Mode:        models.ModeWeakness,
			QuestionIDs: []uint{q},
		}, "u1").Session
		require.Len(t, retry.Questions, 1)

		f.answer(t, retry.AttemptID, q, 3, "u1")
		result, err := f.svc.Submit(ctx, retry.AttemptID, "u1")
		require.NoError(t, err)
		assert.Equal(t, 0, result.NewMistakes)

		mistake, err := f.store.Mistake().GetByUserAndQuestion(ctx, "u1", q)
		require.NoError(t, err)
		assert.Equal(t, 2, mistake.ReviewCount)
		assert.Equal(t, retry.AttemptID, mistake.AttemptID)
	})

	t.Run("submitting twice returns the same result", func(t *testing.T) {
		f := newServiceFixture(t, config.DefaultExamConfig())
		seedPart(f.store, 15)
		view := f.start(t, partRequest(), "u1").Session
		f.answer(t, view.AttemptID, view.Questions[0].ID, 2, "u1")

		first, err := f.svc.Submit(ctx, view.AttemptID, "u1")
		require.NoError(t, err)
		second, err := f.svc.Submit(ctx, view.AttemptID, "u1")
		require.NoError(t, err)

		assert.Equal(t, first.TotalScore, second.TotalScore)
		assert.Equal(t, first.CorrectCount, second.CorrectCount)
		assert.Equal(t, first.EndReason, second.EndReason)
		assert.Len(t, f.publisher.EventsOfType(events.EventAttemptSubmitted), 1)

		_, err = f.svc.RecordAnswer(ctx, view.AttemptID, view.Questions[1].ID, &RecordAnswerRequest{SelectedIndex: intPtr(0)}, "u1")
		assert.ErrorIs(t, err, ErrAttemptNotActive)
	})

	t.Run("concurrent submissions finalize once", func(t *testing.T) {
		f := newServiceFixture(t, config.DefaultExamConfig())
		seedPart(f.store, 15)
		view := f.start(t, partRequest(), "u1").Session
		session := f.svc.sessions.get(view.AttemptID)
		require.NotNil(t, session)

		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := session.Submit(ctx, models.EndReasonSubmitted)
				if err != nil {
					assert.ErrorIs(t, err, ErrSubmissionInProgress)
				}
			}()
		}
		wg.Wait()

		assert.Len(t, f.publisher.EventsOfType(events.EventAttemptSubmitted), 1)
		assert.Equal(t, models.AttemptCompleted, f.storedAttempt(t, view.AttemptID).Status)
	})

	t.Run("failed persistence keeps the attempt open for a retry", func(t *testing.T) {
		f := newServiceFixture(t, config.DefaultExamConfig())
		flaky := newFlakyRepo(f.store)
		f.repo = flaky
		f.rebuild()
		seedPart(f.store, 15)
		view := f.start(t, partRequest(), "u1").Session
		f.answer(t, view.AttemptID, view.Questions[0].ID, 2, "u1")

		flaky.set(func(r *flakyRepo) { r.failComplete = true })
		_, err := f.svc.Submit(ctx, view.AttemptID, "u1")
		require.Error(t, err)
		assert.True(t, IsRetryable(err))
		assert.ErrorIs(t, err, errInjected)

		stored := f.storedAttempt(t, view.AttemptID)
		assert.Equal(t, models.AttemptInProgress, stored.Status)
		answers, err := f.store.Answer().GetByAttempt(ctx, view.AttemptID)
		require.NoError(t, err)
		assert.Empty(t, answers)

		flaky.set(func(r *flakyRepo) { r.failComplete = false })
		result, err := f.svc.Submit(ctx, view.AttemptID, "u1")
		require.NoError(t, err)
		assert.Equal(t, 1, result.CorrectCount)
		assert.Equal(t, models.AttemptCompleted, f.storedAttempt(t, view.AttemptID).Status)
	})

	t.Run("failed persistence keeps the clock running", func(t *testing.T) {
		f := newServiceFixture(t, timedPartConfig(60))
		flaky := newFlakyRepo(f.store)
		f.repo = flaky
		f.rebuild()
		seedPart(f.store, 15)
		view := f.start(t, partRequest(), "u1").Session
		f.answer(t, view.AttemptID, view.Questions[0].ID, 2, "u1")

		flaky.set(func(r *flakyRepo) { r.failComplete = true })
		_, err := f.svc.Submit(ctx, view.AttemptID, "u1")
		require.Error(t, err)
		assert.True(t, IsRetryable(err))

		current, err := f.svc.GetSession(ctx, view.AttemptID, "u1")
		require.NoError(t, err)
		assert.Equal(t, TimerRunning, current.Timer.State)

		f.clock.Advance(10 * time.Second)
		require.Eventually(t, func() bool {
			current, err := f.svc.GetSession(ctx, view.AttemptID, "u1")
			return err == nil && current.Timer.RemainingSeconds == 50
		}, waitFor, 10*time.Millisecond)

		// The deadline still applies while the store keeps failing.
		f.clock.Advance(time.Hour)
		require.Eventually(t, func() bool {
			current, err := f.svc.GetSession(ctx, view.AttemptID, "u1")
			return err == nil && current.Timer.State == TimerExpired
		}, waitFor, 10*time.Millisecond)

		_, err = f.svc.RecordAnswer(ctx, view.AttemptID, view.Questions[1].ID, &RecordAnswerRequest{SelectedIndex: intPtr(2)}, "u1")
		assert.ErrorIs(t, err, ErrAttemptTimeExpired)
		assert.Equal(t, models.AttemptInProgress, f.storedAttempt(t, view.AttemptID).Status)

		flaky.set(func(r *flakyRepo) { r.failComplete = false })
		result, err := f.svc.Submit(ctx, view.AttemptID, "u1")
		require.NoError(t, err)
		assert.Equal(t, 1, result.CorrectCount)
		assert.Equal(t, models.AttemptCompleted, f.storedAttempt(t, view.AttemptID).Status)
	})

	t.Run("unknown and foreign attempts", func(t *testing.T) {
		f := newServiceFixture(t, config.DefaultExamConfig())
		seedPart(f.store, 15)
		view := f.start(t, partRequest(), "u1").Session

		_, err := f.svc.Submit(ctx, 424242, "u1")
		assert.ErrorIs(t, err, ErrAttemptNotFound)

		_, err = f.svc.Submit(ctx, view.AttemptID, "u2")
		assert.True(t, IsUnauthorized(err))
		assert.Equal(t, models.AttemptInProgress, f.storedAttempt(t, view.AttemptID).Status)
	})
}

func TestAttemptService_Timer(t *testing.T) {
	ctx := context.Background()

	t.Run("expiry forces one submission with the answers given", func(t *testing.T) {
		f := newServiceFixture(t, timedPartConfig(60))
		seedPart(f.store, 15)
		view := f.start(t, partRequest(), "u1").Session
		require.Equal(t, TimerRunning, view.Timer.State)

		for _, q := range view.Questions[:3] {
			f.answer(t, view.AttemptID, q.ID, 2, "u1")
		}

		f.clock.Advance(60 * time.Second)

		require.Eventually(t, func() bool {
			return f.attemptStatus(view.AttemptID) == models.AttemptCompleted
		}, waitFor, 10*time.Millisecond)

		stored := f.storedAttempt(t, view.AttemptID)
		assert.Equal(t, models.EndReasonTimeout, *stored.EndReason)
		assert.Equal(t, 3, stored.CorrectCount)
		assert.Equal(t, 20, *stored.TotalScore)
		assert.Equal(t, 60, *stored.TimeSpentSeconds)

		answers, err := f.store.Answer().GetByAttempt(ctx, view.AttemptID)
		require.NoError(t, err)
		assert.Len(t, answers, 15)

		f.clock.Advance(10 * time.Second)
		assert.Len(t, f.publisher.EventsOfType(events.EventAttemptSubmitted), 1)

		result, err := f.svc.Submit(ctx, view.AttemptID, "u1")
		require.NoError(t, err)
		assert.Equal(t, models.EndReasonTimeout, result.EndReason)
	})

	t.Run("pause stops the clock in practice modes", func(t *testing.T) {
		f := newServiceFixture(t, timedPartConfig(600))
		seedPart(f.store, 15)
		view := f.start(t, partRequest(), "u1").Session

		remaining := func() int {
			current, err := f.svc.GetSession(ctx, view.AttemptID, "u1")
			if err != nil {
				return -1
			}
			return current.Timer.RemainingSeconds
		}

		f.clock.Advance(10 * time.Second)
		require.Eventually(t, func() bool { return remaining() == 590 }, waitFor, 10*time.Millisecond)

		timer, err := f.svc.PauseTimer(ctx, view.AttemptID, "u1")
		require.NoError(t, err)
		assert.Equal(t, TimerPaused, timer.State)

		_, err = f.svc.PauseTimer(ctx, view.AttemptID, "u1")
		assert.ErrorIs(t, err, ErrTimerNotRunning)

		f.clock.Advance(100 * time.Second)
		assert.Equal(t, 590, remaining())

		timer, err = f.svc.ResumeTimer(ctx, view.AttemptID, "u1")
		require.NoError(t, err)
		assert.Equal(t, TimerRunning, timer.State)

		_, err = f.svc.ResumeTimer(ctx, view.AttemptID, "u1")
		assert.ErrorIs(t, err, ErrTimerNotPaused)

		f.clock.Advance(5 * time.Second)
		require.Eventually(t, func() bool { return remaining() == 585 }, waitFor, 10*time.Millisecond)
	})

	t.Run("exam modes cannot pause", func(t *testing.T) {
		f := newServiceFixture(t, config.DefaultExamConfig())
		seedPart(f.store, 15)
		view := f.start(t, &StartAttemptRequest{
			ExamType: models.ExamTopik1,
			Mode:     models.ModeSection,
			Section:  sectionPtr(models.SectionReading),
		}, "u1").Session
		assert.Equal(t, 60*60, view.Timer.LimitSeconds)

		_, err := f.svc.PauseTimer(ctx, view.AttemptID, "u1")
		assert.ErrorIs(t, err, ErrTimerNotPausable)
		assert.True(t, IsConflict(err))
	})
}

func TestAttemptService_Autosave(t *testing.T) {
	ctx := context.Background()

	f := newServiceFixture(t, config.DefaultExamConfig())
	flaky := newFlakyRepo(f.store)
	f.repo = flaky
	f.rebuild()
	seedPart(f.store, 15)
	view := f.start(t, partRequest(), "u1").Session

	f.answer(t, view.AttemptID, view.Questions[0].ID, 2, "u1")
	f.answer(t, view.AttemptID, view.Questions[1].ID, 0, "u1")

	flaky.set(func(r *flakyRepo) { r.failAnswers = true })
	f.clock.Advance(30 * time.Second)

	// A failed pass leaves the session usable.
	f.answer(t, view.AttemptID, view.Questions[2].ID, 2, "u1")
	current, err := f.svc.GetSession(ctx, view.AttemptID, "u1")
	require.NoError(t, err)
	assert.Equal(t, models.AttemptInProgress, current.Status)
	assert.Equal(t, 3, current.AnsweredCount)

	flaky.set(func(r *flakyRepo) { r.failAnswers = false })
	f.clock.Advance(30 * time.Second)

	require.Eventually(t, func() bool {
		answers, err := f.store.Answer().GetByAttempt(ctx, view.AttemptID)
		return err == nil && len(answers) == 3
	}, waitFor, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		attempt, err := f.store.Attempt().GetByID(ctx, view.AttemptID)
		return err == nil && attempt.CorrectCount == 2
	}, waitFor, 10*time.Millisecond)
	assert.Equal(t, models.AttemptInProgress, f.storedAttempt(t, view.AttemptID).Status)
}

func TestAttemptService_Resume(t *testing.T) {
	ctx := context.Background()

	t.Run("restores order, answers and flags state after a restart", func(t *testing.T) {
		f := newServiceFixture(t, config.DefaultExamConfig())
		seedPart(f.store, 15)
		view := f.start(t, partRequest(), "u1").Session

		f.answer(t, view.AttemptID, view.Questions[4].ID, 2, "u1")
		f.answer(t, view.AttemptID, view.Questions[7].ID, 1, "u1")
		require.NoError(t, f.svc.Shutdown(ctx))
		assert.Equal(t, models.AttemptInProgress, f.storedAttempt(t, view.AttemptID).Status)

		f.rebuild()
		resp := f.start(t, partRequest(), "u1")
		assert.True(t, resp.Resumed)
		assert.Equal(t, view.AttemptID, resp.Session.AttemptID)
		for i, q := range resp.Session.Questions {
			assert.Equal(t, view.Questions[i].ID, q.ID)
		}
		require.Len(t, resp.Session.Answers, 2)
		assert.Equal(t, view.Questions[4].ID, resp.Session.Answers[0].QuestionID)
		assert.Equal(t, 2, *resp.Session.Answers[0].SelectedIndex)
		assert.True(t, *resp.Session.Answers[0].IsCorrect)
		assert.Len(t, f.publisher.EventsOfType(events.EventAttemptResumed), 1)

		// The live-logged mistake is not logged a second time on submit.
		result, err := f.svc.Submit(ctx, view.AttemptID, "u1")
		require.NoError(t, err)
		assert.Equal(t, 0, result.NewMistakes)
		mistake, err := f.store.Mistake().GetByUserAndQuestion(ctx, "u1", view.Questions[7].ID)
		require.NoError(t, err)
		assert.Equal(t, 1, mistake.ReviewCount)
	})

	t.Run("any command reloads an attempt missing from memory", func(t *testing.T) {
		f := newServiceFixture(t, config.DefaultExamConfig())
		seedPart(f.store, 15)
		view := f.start(t, partRequest(), "u1").Session
		require.NoError(t, f.svc.Shutdown(ctx))

		f.rebuild()
		flag, err := f.svc.ToggleFlag(ctx, view.AttemptID, view.Questions[2].ID, "u1")
		require.NoError(t, err)
		assert.True(t, flag.Flagged)

		current, err := f.svc.GetCurrent(ctx, models.ExamTopik1, "u1")
		require.NoError(t, err)
		assert.Equal(t, view.AttemptID, current.AttemptID)
		assert.Equal(t, []uint{view.Questions[2].ID}, current.FlaggedQuestions)
	})

	t.Run("remaining time counts from the original start", func(t *testing.T) {
		f := newServiceFixture(t, timedPartConfig(600))
		seedPart(f.store, 15)
		view := f.start(t, partRequest(), "u1").Session
		require.NoError(t, f.svc.Shutdown(ctx))

		f.clock.Set(t0.Add(250 * time.Second))
		f.rebuild()
		resp := f.start(t, partRequest(), "u1")
		assert.True(t, resp.Resumed)
		assert.Equal(t, view.AttemptID, resp.Session.AttemptID)
		assert.Equal(t, 350, resp.Session.Timer.RemainingSeconds)
		assert.Equal(t, TimerRunning, resp.Session.Timer.State)
	})

	t.Run("expired attempt is submitted on resume", func(t *testing.T) {
		f := newServiceFixture(t, timedPartConfig(60))
		seedPart(f.store, 15)
		view := f.start(t, partRequest(), "u1").Session
		f.answer(t, view.AttemptID, view.Questions[0].ID, 2, "u1")
		require.NoError(t, f.svc.Shutdown(ctx))

		f.clock.Set(t0.Add(61 * time.Second))
		f.rebuild()
		resp := f.start(t, partRequest(), "u1")

		assert.True(t, resp.Resumed)
		require.NotNil(t, resp.AutoSubmitted)
		assert.Equal(t, models.EndReasonTimeout, resp.AutoSubmitted.EndReason)
		assert.Equal(t, 1, resp.AutoSubmitted.CorrectCount)
		assert.Equal(t, models.AttemptCompleted, resp.Session.Status)
		assert.Equal(t, TimerExpired, resp.Session.Timer.State)

		stored := f.storedAttempt(t, view.AttemptID)
		assert.Equal(t, models.AttemptCompleted, stored.Status)
		assert.Equal(t, 61, *stored.TimeSpentSeconds)

		_, err := f.svc.GetCurrent(ctx, models.ExamTopik1, "u1")
		assert.ErrorIs(t, err, ErrAttemptNotFound)
	})

	t.Run("stale attempt is closed and a fresh one started", func(t *testing.T) {
		f := newServiceFixture(t, config.DefaultExamConfig())
		old := seedPart(f.store, 15)
		view := f.start(t, partRequest(), "u1").Session
		require.NoError(t, f.svc.Shutdown(ctx))

		for _, q := range old {
			q.IsActive = false
		}
		f.store.AddQuestions(old...)
		seedPart(f.store, 15)

		f.rebuild()
		resp := f.start(t, partRequest(), "u1")
		assert.False(t, resp.Resumed)
		assert.NotEqual(t, view.AttemptID, resp.Session.AttemptID)

		stale := f.storedAttempt(t, view.AttemptID)
		assert.Equal(t, models.AttemptAbandoned, stale.Status)
		assert.Equal(t, models.EndReasonStale, *stale.EndReason)
	})
}

func TestAttemptService_SessionCommands(t *testing.T) {
	ctx := context.Background()

	t.Run("flags toggle and list in question order", func(t *testing.T) {
		f := newServiceFixture(t, config.DefaultExamConfig())
		seedPart(f.store, 15)
		view := f.start(t, partRequest(), "u1").Session
		qs := view.Questions

		for _, q := range []QuestionView{qs[9], qs[2], qs[5]} {
			flag, err := f.svc.ToggleFlag(ctx, view.AttemptID, q.ID, "u1")
			require.NoError(t, err)
			assert.True(t, flag.Flagged)
		}
		flag, err := f.svc.ToggleFlag(ctx, view.AttemptID, qs[5].ID, "u1")
		require.NoError(t, err)
		assert.False(t, flag.Flagged)

		current, err := f.svc.GetSession(ctx, view.AttemptID, "u1")
		require.NoError(t, err)
		assert.Equal(t, []uint{qs[2].ID, qs[9].ID}, current.FlaggedQuestions)

		_, err = f.svc.ToggleFlag(ctx, view.AttemptID, 99999, "u1")
		assert.ErrorIs(t, err, ErrQuestionNotInExam)
	})

	t.Run("abandon closes without scoring", func(t *testing.T) {
		f := newServiceFixture(t, config.DefaultExamConfig())
		seedPart(f.store, 15)
		view := f.start(t, partRequest(), "u1").Session
		f.answer(t, view.AttemptID, view.Questions[0].ID, 2, "u1")

		require.NoError(t, f.svc.Abandon(ctx, view.AttemptID, "u1"))

		stored := f.storedAttempt(t, view.AttemptID)
		assert.Equal(t, models.AttemptAbandoned, stored.Status)
		assert.Nil(t, stored.TotalScore)
		answers, err := f.store.Answer().GetByAttempt(ctx, view.AttemptID)
		require.NoError(t, err)
		assert.Len(t, answers, 1)

		assert.ErrorIs(t, f.svc.Abandon(ctx, view.AttemptID, "u1"), ErrAttemptNotActive)
		_, err = f.svc.GetResult(ctx, view.AttemptID, "u1")
		assert.ErrorIs(t, err, ErrAttemptNotCompleted)
		assert.Len(t, f.publisher.EventsOfType(events.EventAttemptAbandoned), 1)

		next := f.start(t, partRequest(), "u1")
		assert.False(t, next.Resumed)
	})

	t.Run("shutdown flushes answers and leaves attempts open", func(t *testing.T) {
		f := newServiceFixture(t, config.DefaultExamConfig())
		seedPart(f.store, 15)
		view := f.start(t, partRequest(), "u1").Session
		f.answer(t, view.AttemptID, view.Questions[0].ID, 2, "u1")
		f.answer(t, view.AttemptID, view.Questions[1].ID, 2, "u1")

		require.NoError(t, f.svc.Shutdown(ctx))

		answers, err := f.store.Answer().GetByAttempt(ctx, view.AttemptID)
		require.NoError(t, err)
		assert.Len(t, answers, 2)
		stored := f.storedAttempt(t, view.AttemptID)
		assert.Equal(t, models.AttemptInProgress, stored.Status)
		assert.Equal(t, 2, stored.CorrectCount)
		assert.Nil(t, f.svc.sessions.get(view.AttemptID))
	})
}

func TestAttemptService_History(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t, config.DefaultExamConfig())
	seedPart(f.store, 15)

	first := f.start(t, partRequest(), "u1").Session
	f.answer(t, first.AttemptID, first.Questions[0].ID, 2, "u1")
	_, err := f.svc.Submit(ctx, first.AttemptID, "u1")
	require.NoError(t, err)
	f.start(t, partRequest(), "u1")

	all, err := f.svc.List(ctx, &ListAttemptsRequest{}, "u1")
	require.NoError(t, err)
	assert.EqualValues(t, 2, all.Total)
	assert.Equal(t, 20, all.Limit)

	completed := models.AttemptCompleted
	done, err := f.svc.List(ctx, &ListAttemptsRequest{Status: &completed}, "u1")
	require.NoError(t, err)
	require.Len(t, done.Attempts, 1)
	assert.Equal(t, first.AttemptID, done.Attempts[0].ID)

	result, err := f.svc.GetResult(ctx, first.AttemptID, "u1")
	require.NoError(t, err)
	assert.Equal(t, 7, result.TotalScore)
	require.Len(t, result.Review, 15)
	assert.Equal(t, 2, *result.Review[0].SelectedIndex)
	assert.True(t, *result.Review[0].IsCorrect)
	assert.Nil(t, result.Review[1].SelectedIndex)

	_, err = f.svc.GetResult(ctx, first.AttemptID, "u2")
	assert.True(t, IsUnauthorized(err))

	_, err = f.svc.List(ctx, &ListAttemptsRequest{Limit: 500}, "u1")
	assert.True(t, IsValidation(err))
}
