package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jaico1231/paola-sub001/internal/core/domain"
	"github.com/jaico1231/paola-sub001/internal/core/ports"
	"github.com/jaico1231/paola-sub001/internal/platform/metrics"
)

const (
	defaultOutboxInterval = 2 * time.Second
	defaultOutboxBatch    = 50
	defaultOutboxMaxRetry = 5
)

// Delivery outcomes, also used as metric labels.
const (
	deliveryDispatched = "success"
	deliveryRetry      = "failure"
	deliveryDead       = "dead"
)

// ChangeLookup resolves the change record a notification announces.
type ChangeLookup interface {
	Get(ctx context.Context, id int64) (domain.ChangeRecord, error)
}

type DispatcherOption func(*OutboxDispatcher)

func WithDispatchInterval(d time.Duration) DispatcherOption {
	return func(o *OutboxDispatcher) {
		if d > 0 {
			o.interval = d
		}
	}
}

func WithDispatchBatch(n int) DispatcherOption {
	return func(o *OutboxDispatcher) {
		if n > 0 {
			o.batchSize = n
		}
	}
}

func WithDispatchMaxRetry(n int) DispatcherOption {
	return func(o *OutboxDispatcher) {
		if n > 0 {
			o.maxRetry = n
		}
	}
}

// WithChangeLookup makes the dispatcher drop notifications whose change
// record no longer exists, typically after a purge.
func WithChangeLookup(changes ChangeLookup) DispatcherOption {
	return func(o *OutboxDispatcher) { o.changes = changes }
}

func WithDispatchMetrics(m *metrics.Metrics) DispatcherOption {
	return func(o *OutboxDispatcher) { o.metrics = m }
}

// OutboxDispatcher delivers queued change notifications in the background.
// Delivery failures never reach the write path. Provider failures are retried
// with quadratic backoff and parked as dead after maxRetry attempts; a
// notification that can never be delivered is parked at once.
type OutboxDispatcher struct {
	repo      ports.OutboxRepository
	publisher ports.EventPublisher
	changes   ChangeLookup
	interval  time.Duration
	batchSize int
	maxRetry  int
	now       func() time.Time
	log       *logrus.Logger
	metrics   *metrics.Metrics

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewOutboxDispatcher(repo ports.OutboxRepository, publisher ports.EventPublisher, log *logrus.Logger, opts ...DispatcherOption) *OutboxDispatcher {
	d := &OutboxDispatcher{
		repo:      repo,
		publisher: publisher,
		interval:  defaultOutboxInterval,
		batchSize: defaultOutboxBatch,
		maxRetry:  defaultOutboxMaxRetry,
		now:       func() time.Time { return time.Now().UTC() },
		log:       log,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *OutboxDispatcher) Start(parent context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(parent)
	d.cancel = cancel
	d.wg.Add(1)
	go d.loop(ctx)
}

func (d *OutboxDispatcher) Close() error {
	d.mu.Lock()
	cancel := d.cancel
	d.cancel = nil
	d.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	d.wg.Wait()
	return nil
}

func (d *OutboxDispatcher) loop(ctx context.Context) {
	defer d.wg.Done()
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		if err := d.dispatchBatch(ctx); err != nil && ctx.Err() == nil {
			d.log.WithError(err).Warn("outbox dispatch batch")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// dispatchBatch delivers one page of due notifications. Only repository
// errors stop the batch.
func (d *OutboxDispatcher) dispatchBatch(ctx context.Context) error {
	events, err := d.repo.FetchPending(ctx, d.batchSize)
	if err != nil {
		return err
	}
	for _, event := range events {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := d.deliver(ctx, event); err != nil {
			return err
		}
	}
	return nil
}

func (d *OutboxDispatcher) deliver(ctx context.Context, event domain.OutboxEvent) error {
	var envelope domain.EventEnvelope
	if err := json.Unmarshal(event.PayloadJSON, &envelope); err != nil {
		return d.park(ctx, event, "", fmt.Sprintf("decode payload: %v", err))
	}
	log := d.log.WithFields(logrus.Fields{
		"topic":     event.Topic,
		"event_id":  event.EventID,
		"entity":    envelope.EntityID,
		"object_id": envelope.ObjectID,
		"change_id": envelope.ChangeID,
	})
	if envelope.SchemaVersion > domain.CurrentEventSchemaVersion {
		return d.park(ctx, event, envelope.EntityID, fmt.Sprintf("unsupported schema version %d", envelope.SchemaVersion))
	}

	if d.changes != nil && envelope.ChangeID > 0 {
		_, err := d.changes.Get(ctx, envelope.ChangeID)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			log.Info("change record purged; dropping notification")
			return d.park(ctx, event, envelope.EntityID, fmt.Sprintf("change record %d purged", envelope.ChangeID))
		case err != nil:
			return d.retry(ctx, event, envelope.EntityID, fmt.Sprintf("load change record: %v", err))
		}
	}

	if err := d.publisher.Publish(ctx, event.Topic, envelope); err != nil {
		log.WithError(fmt.Errorf("%w: %v", domain.ErrProviderFailure, err)).
			WithField("attempt", event.Attempts+1).
			Warn("publish notification")
		return d.retry(ctx, event, envelope.EntityID, err.Error())
	}
	if err := d.repo.MarkDispatched(ctx, event.ID); err != nil {
		return err
	}
	d.metrics.OutboxDispatched(envelope.EntityID, deliveryDispatched)
	return nil
}

// retry schedules the next attempt, or parks the event once the retry budget
// is spent.
func (d *OutboxDispatcher) retry(ctx context.Context, event domain.OutboxEvent, entity, errMsg string) error {
	attempts := event.Attempts + 1
	if attempts >= d.maxRetry {
		return d.markDead(ctx, event.ID, attempts, entity, errMsg)
	}
	next := d.now().Add(backoffDuration(attempts)).Format(time.RFC3339Nano)
	if err := d.repo.MarkFailed(ctx, event.ID, attempts, next, errMsg); err != nil {
		return err
	}
	d.metrics.OutboxDispatched(entity, deliveryRetry)
	return nil
}

// park dead-letters an event that no retry can fix.
func (d *OutboxDispatcher) park(ctx context.Context, event domain.OutboxEvent, entity, errMsg string) error {
	return d.markDead(ctx, event.ID, event.Attempts+1, entity, errMsg)
}

func (d *OutboxDispatcher) markDead(ctx context.Context, id int64, attempts int, entity, errMsg string) error {
	if err := d.repo.MarkDead(ctx, id, attempts, errMsg); err != nil {
		return err
	}
	d.log.WithFields(logrus.Fields{"outbox_id": id, "entity": entity, "attempts": attempts}).
		Warn("notification dead-lettered: " + errMsg)
	d.metrics.OutboxDispatched(entity, deliveryDead)
	return nil
}

func backoffDuration(attempt int) time.Duration {
	if attempt <= 1 {
		return time.Second
	}
	d := time.Duration(attempt*attempt) * time.Second
	if d > 5*time.Minute {
		return 5 * time.Minute
	}
	return d
}
