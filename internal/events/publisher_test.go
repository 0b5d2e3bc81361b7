package events

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/topik-vn/mock-exam-service/internal/models"
)

func TestNewExamEventEnvelope(t *testing.T) {
	event := NewExamEvent(EventAttemptStarted, AttemptStartedEvent{AttemptID: 4, UserID: "u1", ExamType: models.ExamTopik1})

	assert.NotEmpty(t, event.ID)
	assert.Equal(t, EventSource, event.Source)
	assert.Equal(t, EventVersion, event.Version)
	assert.False(t, event.Timestamp.IsZero())

	other := NewExamEvent(EventAttemptStarted, nil)
	assert.NotEqual(t, event.ID, other.ID)
}

func TestMockEventPublisher(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	publisher := NewMockEventPublisher(logger)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			eventType := EventAttemptStarted
			if i%2 == 0 {
				eventType = EventAttemptSubmitted
			}
			assert.NoError(t, publisher.Publish(ctx, NewExamEvent(eventType, nil)))
		}(i)
	}
	wg.Wait()

	assert.Len(t, publisher.GetPublishedEvents(), 20)
	assert.Len(t, publisher.EventsOfType(EventAttemptSubmitted), 10)

	publisher.ClearEvents()
	assert.Empty(t, publisher.GetPublishedEvents())
}
