// Package audit maintains the append-only governance audit trail. Writes are
// buffered off the critical path but are never dropped: a full buffer falls
// back to a synchronous write, terminal state transitions flush before
// returning, and a batch whose write fails past its retries parks in a dead
// letter queue for replay instead of being discarded.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pagemill/governor/internal/model"
	"github.com/pagemill/governor/internal/resilience"
	"github.com/pagemill/governor/internal/store"
)

// Appender is the write side of the audit store.
type Appender interface {
	AppendAuditEvents(ctx context.Context, events []model.AuditEvent) error
}

// Reader is the query side of the audit store.
type Reader interface {
	ListAuditByArtifact(ctx context.Context, artifactID string, filter store.AuditFilter) ([]model.AuditEvent, error)
	ListAuditByJob(ctx context.Context, jobID string, filter store.AuditFilter) ([]model.AuditEvent, error)
}

const (
	defaultBufferSize    = 256
	defaultMaxBatch      = 64
	defaultFlushInterval = 2 * time.Second
)

// Recorder buffers audit events and writes them in batches through a
// background flusher. A batch that fails past its retries parks in a dead
// letter queue and is replayed on later flushes.
type Recorder struct {
	appender Appender
	reader   Reader
	retry    resilience.RetryConfig
	dlq      deadLetterQueue

	ch     chan model.AuditEvent
	flushc chan chan error
	stopc  chan struct{}
	donec  chan struct{}

	flushInterval time.Duration
	maxBatch      int
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithBufferSize sets the event channel capacity.
func WithBufferSize(n int) Option {
	return func(r *Recorder) {
		r.ch = make(chan model.AuditEvent, n)
	}
}

// WithFlushInterval sets how often the background flusher drains the buffer.
func WithFlushInterval(d time.Duration) Option {
	return func(r *Recorder) {
		r.flushInterval = d
	}
}

// WithRetryConfig overrides the write retry policy.
func WithRetryConfig(cfg resilience.RetryConfig) Option {
	return func(r *Recorder) {
		r.retry = cfg
	}
}

// NewRecorder creates a Recorder and starts its background flusher.
func NewRecorder(appender Appender, reader Reader, opts ...Option) *Recorder {
	retry := resilience.DefaultRetryConfig()
	// Audit writes are retried regardless of error classification: losing an
	// event is worse than a redundant write attempt.
	retry.ShouldRetry = func(error) bool { return true }
	retry.OnRetry = resilience.RetryLogger("store", "append_audit_events")

	r := &Recorder{
		appender:      appender,
		reader:        reader,
		retry:         retry,
		ch:            make(chan model.AuditEvent, defaultBufferSize),
		flushc:        make(chan chan error),
		stopc:         make(chan struct{}),
		donec:         make(chan struct{}),
		flushInterval: defaultFlushInterval,
		maxBatch:      defaultMaxBatch,
	}
	for _, opt := range opts {
		opt(r)
	}

	go r.loop()
	return r
}

// NewEvent builds an audit event with identity, timestamp, and payload hash
// filled in.
func NewEvent(eventType model.AuditEventType, actor, artifactID, jobID, outcome string, inputs map[string]any) model.AuditEvent {
	return model.AuditEvent{
		ID:          uuid.New().String(),
		Timestamp:   time.Now().UTC(),
		Actor:       actor,
		EventType:   eventType,
		ArtifactID:  artifactID,
		JobID:       jobID,
		Inputs:      inputs,
		Outcome:     outcome,
		PayloadHash: model.HashPayload(inputs),
	}
}

// Record enqueues an event. When the buffer is full the event is written
// synchronously instead; it is never dropped.
func (r *Recorder) Record(ctx context.Context, e model.AuditEvent) {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if e.PayloadHash == "" {
		e.PayloadHash = model.HashPayload(e.Inputs)
	}

	select {
	case r.ch <- e:
	default:
		if err := r.write(ctx, []model.AuditEvent{e}); err != nil {
			r.dlq.park([]model.AuditEvent{e}, err)
		}
	}
}

// Flush drains everything recorded so far and blocks until it is persisted.
// Called by the engine after terminal state transitions.
func (r *Recorder) Flush(ctx context.Context) error {
	reply := make(chan error, 1)
	select {
	case r.flushc <- reply:
	case <-r.donec:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the background flusher after a final drain.
func (r *Recorder) Close() {
	close(r.stopc)
	<-r.donec
}

// History returns the audit trail for an artifact.
func (r *Recorder) History(ctx context.Context, artifactID string, filter store.AuditFilter) ([]model.AuditEvent, error) {
	return r.reader.ListAuditByArtifact(ctx, artifactID, filter)
}

// JobHistory returns the audit trail for a job.
func (r *Recorder) JobHistory(ctx context.Context, jobID string, filter store.AuditFilter) ([]model.AuditEvent, error) {
	return r.reader.ListAuditByJob(ctx, jobID, filter)
}

func (r *Recorder) loop() {
	defer close(r.donec)

	ticker := time.NewTicker(r.flushInterval)
	defer ticker.Stop()

	var batch []model.AuditEvent
	flushBatch := func() error {
		// Parked batches go first so the store sees older events before
		// newer ones after an outage clears.
		err := r.replayParked(context.Background())

		batch = append(batch, r.drain()...)
		if len(batch) > 0 {
			if werr := r.write(context.Background(), batch); werr != nil {
				r.dlq.park(batch, werr)
				err = werr
			}
			batch = nil
		}
		return err
	}

	for {
		select {
		case e := <-r.ch:
			batch = append(batch, e)
			if len(batch) >= r.maxBatch {
				flushBatch() //nolint:errcheck
			}
		case <-ticker.C:
			flushBatch() //nolint:errcheck
		case reply := <-r.flushc:
			reply <- flushBatch()
		case <-r.stopc:
			flushBatch() //nolint:errcheck
			if n := r.dlq.depth(); n > 0 {
				zap.L().Error("audit: closing with unreplayed batches", zap.Int("batches", n))
			}
			return
		}
	}
}

// replayParked retries every dead-lettered batch, re-parking what still
// fails. Returns the last replay error so Flush reports an unhealthy trail.
func (r *Recorder) replayParked(ctx context.Context) error {
	parked := r.dlq.take()
	var lastErr error
	for _, b := range parked {
		if err := r.write(ctx, b.Events); err != nil {
			r.dlq.requeue(b, err)
			lastErr = err
			continue
		}
		zap.L().Info("audit: parked batch replayed",
			zap.String("batch_id", b.ID),
			zap.Int("events", len(b.Events)),
			zap.Int("attempts", b.Attempts),
		)
	}
	return lastErr
}

// Parked reports how many failed batches await replay.
func (r *Recorder) Parked() int {
	return r.dlq.depth()
}

// drain empties the channel without blocking.
func (r *Recorder) drain() []model.AuditEvent {
	var out []model.AuditEvent
	for {
		select {
		case e := <-r.ch:
			out = append(out, e)
		default:
			return out
		}
	}
}

func (r *Recorder) write(ctx context.Context, events []model.AuditEvent) error {
	err := resilience.Do(ctx, r.retry, func(ctx context.Context) error {
		return r.appender.AppendAuditEvents(ctx, events)
	})
	if err != nil {
		zap.L().Error("audit: batch write failed after retries",
			zap.Int("events", len(events)),
			zap.Error(err),
		)
	}
	return err
}
