package audit

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pagemill/governor/internal/model"
	"github.com/pagemill/governor/internal/resilience"
)

// ParkedBatch is an audit batch whose store write failed past its bounded
// retries. It waits in the dead letter queue until a later flush replays it.
type ParkedBatch struct {
	ID        string             `json:"id"`
	Events    []model.AuditEvent `json:"events"`
	Error     string             `json:"error"`
	ErrorType string             `json:"error_type"` // "transient" or "permanent"
	Attempts  int                `json:"attempts"`
	ParkedAt  time.Time          `json:"parked_at"`
	LastTried time.Time          `json:"last_tried"`
}

// deadLetterQueue keeps failed batches in arrival order. Events parked here
// are still in memory, so the trail survives a store outage as long as the
// process does.
type deadLetterQueue struct {
	mu      sync.Mutex
	batches []*ParkedBatch
}

func classifyError(err error) string {
	if resilience.IsTransient(err) {
		return "transient"
	}
	return "permanent"
}

func (q *deadLetterQueue) park(events []model.AuditEvent, err error) {
	now := time.Now().UTC()
	b := &ParkedBatch{
		ID:        uuid.New().String(),
		Events:    events,
		Error:     err.Error(),
		ErrorType: classifyError(err),
		Attempts:  1,
		ParkedAt:  now,
		LastTried: now,
	}

	q.mu.Lock()
	q.batches = append(q.batches, b)
	q.mu.Unlock()

	zap.L().Error("audit: batch parked in dead letter queue",
		zap.String("batch_id", b.ID),
		zap.Int("events", len(b.Events)),
		zap.String("error_type", b.ErrorType),
		zap.Error(err),
	)
}

// take removes every parked batch; the caller re-parks what still fails.
func (q *deadLetterQueue) take() []*ParkedBatch {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.batches
	q.batches = nil
	return out
}

func (q *deadLetterQueue) requeue(b *ParkedBatch, err error) {
	b.Attempts++
	b.LastTried = time.Now().UTC()
	b.Error = err.Error()
	b.ErrorType = classifyError(err)

	q.mu.Lock()
	q.batches = append(q.batches, b)
	q.mu.Unlock()
}

func (q *deadLetterQueue) depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.batches)
}
