package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gymbook/internal/events"
	"gymbook/internal/metrics"
	"gymbook/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	defaultBatchSize = 20
	deadLetterKey    = "audit:deadletter"
)

// AuditSink receives audit events copied out of the database.
type AuditSink interface {
	AppendEvents(ctx context.Context, events []*models.AuditEvent) error
}

// AuditSyncWorker copies committed audit events to an external sink. Events
// arrive from the event bus, are batched, and retried with backoff. A batch
// that exhausts its retries is parked in a Redis dead-letter list when Redis
// is configured, otherwise it is only logged.
type AuditSyncWorker struct {
	sink        AuditSink
	redis       *redis.Client
	retryPolicy RetryPolicy
	queue       chan *models.AuditEvent
	batchSize   int
	logger      *zerolog.Logger
	sleep       func(ctx context.Context, d time.Duration) error
}

func NewAuditSyncWorker(sink AuditSink, redisClient *redis.Client, retry RetryPolicy, logger *zerolog.Logger) *AuditSyncWorker {
	l := logger.With().Str("component", "audit_sync").Logger()
	return &AuditSyncWorker{
		sink:        sink,
		redis:       redisClient,
		retryPolicy: retry.WithDefaults(),
		queue:       make(chan *models.AuditEvent, models.WorkerQueueSize),
		batchSize:   defaultBatchSize,
		logger:      &l,
		sleep:       sleepCtx,
	}
}

// Enqueue never blocks; it reports false when the queue is full.
func (w *AuditSyncWorker) Enqueue(e *models.AuditEvent) bool {
	select {
	case w.queue <- e:
		return true
	default:
		w.logger.Warn().Str("event_id", e.ID).Msg("audit sync queue full, event dropped")
		metrics.IncAuditSync("dropped")
		return false
	}
}

// HandleEvent is an events.EventHandler for events.EventAuditRecorded.
func (w *AuditSyncWorker) HandleEvent(event *events.Event) error {
	var e models.AuditEvent
	if err := event.Decode(&e); err != nil {
		return fmt.Errorf("decode audit event: %w", err)
	}
	w.Enqueue(&e)
	return nil
}

// Start drains the queue until ctx is done.
func (w *AuditSyncWorker) Start(ctx context.Context) {
	w.logger.Info().Msg("audit sync worker started")
	defer w.logger.Info().Msg("audit sync worker stopped")

	for {
		select {
		case <-ctx.Done():
			return
		case first := <-w.queue:
			w.deliver(ctx, w.collect(first))
		}
	}
}

func (w *AuditSyncWorker) collect(first *models.AuditEvent) []*models.AuditEvent {
	batch := []*models.AuditEvent{first}
	for len(batch) < w.batchSize {
		select {
		case e := <-w.queue:
			batch = append(batch, e)
		default:
			return batch
		}
	}
	return batch
}

// deliver returns true when the sink accepted the batch.
func (w *AuditSyncWorker) deliver(ctx context.Context, batch []*models.AuditEvent) bool {
	var lastErr error
	for attempt := 1; attempt <= w.retryPolicy.MaxRetries; attempt++ {
		lastErr = w.sink.AppendEvents(ctx, batch)
		if lastErr == nil {
			metrics.IncAuditSync("ok")
			return true
		}
		if attempt == w.retryPolicy.MaxRetries {
			break
		}

		delay := w.retryPolicy.NextDelay(attempt)
		w.logger.Warn().Err(lastErr).Int("attempt", attempt).Dur("retry_in", delay).Int("events", len(batch)).Msg("audit sync failed, retrying")
		if err := w.sleep(ctx, delay); err != nil {
			lastErr = err
			break
		}
	}

	metrics.IncAuditSync("failed")
	w.logger.Error().Err(lastErr).Int("events", len(batch)).Msg("audit sync gave up")
	w.pushDeadLetter(ctx, batch)
	return false
}

func (w *AuditSyncWorker) pushDeadLetter(ctx context.Context, batch []*models.AuditEvent) {
	if w.redis == nil {
		return
	}
	// the batch is parked even when ctx is already cancelled
	ctx = context.WithoutCancel(ctx)
	for _, e := range batch {
		data, err := json.Marshal(e)
		if err != nil {
			w.logger.Error().Err(err).Str("event_id", e.ID).Msg("encode dead letter")
			continue
		}
		if err := w.redis.LPush(ctx, deadLetterKey, data).Err(); err != nil {
			w.logger.Error().Err(err).Str("event_id", e.ID).Msg("dead letter push failed")
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
