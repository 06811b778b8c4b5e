// Package hooks turns entity writes into change records.
package hooks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/jaico1231/paola-sub001/internal/core/domain"
	"github.com/jaico1231/paola-sub001/internal/core/ports"
	"github.com/jaico1231/paola-sub001/internal/core/registry"
	"github.com/jaico1231/paola-sub001/internal/core/uow"
	"github.com/jaico1231/paola-sub001/internal/platform/metrics"
)

type Recorder struct {
	registry *registry.Registry
	audit    ports.AuditStore
	log      *logrus.Logger
	metrics  *metrics.Metrics
	notify   bool
}

type Option func(*Recorder)

// WithNotifications queues an outbox event next to every entity change record.
func WithNotifications() Option {
	return func(r *Recorder) { r.notify = true }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Recorder) { r.metrics = m }
}

func NewRecorder(reg *registry.Registry, audit ports.AuditStore, log *logrus.Logger, opts ...Option) *Recorder {
	r := &Recorder{registry: reg, audit: audit, log: log}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

var _ ports.WriteHook = (*Recorder)(nil)

func (r *Recorder) OnBeforeWrite(ctx context.Context, tx ports.HookTx, desc *domain.EntityDescriptor, id int64) error {
	if !r.tracked(desc) {
		return nil
	}
	scope := uow.From(ctx)
	if scope == nil {
		r.log.WithField("entity", desc.ID()).Warn("write outside a unit of work, prior state not captured")
		return nil
	}
	row, err := tx.Load(desc, id)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return r.swallow(ctx, "load_prior", desc, err)
	}
	scope.Stash(instanceKey(desc, id), row)
	return nil
}

func (r *Recorder) OnAfterWrite(ctx context.Context, tx ports.HookTx, desc *domain.EntityDescriptor, id int64, created bool, opts domain.WriteOptions) error {
	if !r.tracked(desc) {
		return nil
	}
	scope := uow.From(ctx)
	var prior domain.Row
	if scope != nil {
		prior, _ = scope.Take(instanceKey(desc, id))
	}

	action := domain.ActionUpdate
	if created {
		action = domain.ActionCreate
	}
	if !desc.Audits(action) {
		return nil
	}

	current, err := tx.Load(desc, id)
	if err != nil {
		return r.swallow(ctx, "load_current", desc, err)
	}
	rec := newRecord(scope, desc, action, id)
	title := desc.Title(current)

	after, afterErr := BuildSnapshot(desc, current, tx.Display)
	var before domain.Snapshot
	var beforeErr error
	if !created {
		before, beforeErr = BuildSnapshot(desc, prior, tx.Display)
	}
	if err := errors.Join(afterErr, beforeErr); err != nil {
		return r.appendUnserializable(ctx, tx, rec, desc, title, err)
	}

	rec.After = after
	rec.Description = describe(action, desc, title)
	if !created {
		changed := ChangedFields(desc, before, after)
		if len(changed) == 0 && !opts.Touch {
			return nil
		}
		rec.Before = before
		if len(changed) > 0 {
			rec.Description += " (" + strings.Join(changed, ", ") + ")"
		}
	}
	return r.append(ctx, tx, rec)
}

func (r *Recorder) OnAfterDelete(ctx context.Context, tx ports.HookTx, desc *domain.EntityDescriptor, id int64) error {
	if !r.tracked(desc) {
		return nil
	}
	scope := uow.From(ctx)
	var prior domain.Row
	if scope != nil {
		prior, _ = scope.Take(instanceKey(desc, id))
	}
	if !desc.Audits(domain.ActionDelete) {
		return nil
	}

	rec := newRecord(scope, desc, domain.ActionDelete, id)
	title := "#" + rec.ObjectID
	if prior != nil {
		title = desc.Title(prior)
	}
	before, err := BuildSnapshot(desc, prior, tx.Display)
	if err != nil {
		return r.appendUnserializable(ctx, tx, rec, desc, title, err)
	}
	rec.Before = before
	rec.Description = describe(domain.ActionDelete, desc, title)
	return r.append(ctx, tx, rec)
}

// SessionEvent describes a LOGIN, LOGOUT, VIEW or OTHER record. Entity is optional.
type SessionEvent struct {
	Action      domain.Action
	Entity      *domain.EntityDescriptor
	ObjectID    string
	Description string
}

// OnSessionEvent appends a record without snapshots in its own transaction.
// Failures are logged and reported as id 0.
func (r *Recorder) OnSessionEvent(ctx context.Context, ev SessionEvent) int64 {
	if ev.Entity != nil && !r.tracked(ev.Entity) {
		return 0
	}
	scope := uow.From(ctx)
	rec := &domain.ChangeRecord{
		Timestamp:   scope.Now(),
		ActorID:     scope.ActorID(),
		Action:      ev.Action,
		ObjectID:    ev.ObjectID,
		Description: ev.Description,
	}
	if scope != nil {
		rec.ClientIP = scope.ClientIP
		rec.UserAgent = scope.UserAgent
		rec.RequestID = scope.RequestID
	}
	if ev.Entity != nil {
		rec.EntityID = ev.Entity.ID()
		rec.TableName = ev.Entity.Table
	}
	id, err := r.audit.Append(ctx, rec)
	if err != nil {
		r.log.WithError(err).WithField("action", ev.Action).Warn("append session event")
		r.metrics.AuditFailed("append")
		return 0
	}
	r.metrics.ChangeRecorded(string(ev.Action))
	return id
}

func (r *Recorder) tracked(desc *domain.EntityDescriptor) bool {
	if r.registry.Registered(desc.ID()) {
		return true
	}
	r.log.WithField("entity", desc.ID()).Warn("audit requested for unregistered entity, skipping")
	return false
}

func (r *Recorder) appendUnserializable(ctx context.Context, tx ports.HookTx, rec *domain.ChangeRecord, desc *domain.EntityDescriptor, title string, cause error) error {
	r.log.WithError(cause).WithFields(logrus.Fields{"entity": desc.ID(), "object_id": rec.ObjectID}).Warn("snapshot serialization failed")
	r.metrics.AuditFailed("serialization")
	rec.Before = nil
	rec.After = nil
	rec.Description = fmt.Sprintf("%s [snapshot unavailable: %v]", describe(rec.Action, desc, title), cause)
	return r.append(ctx, tx, rec)
}

func (r *Recorder) append(ctx context.Context, tx ports.HookTx, rec *domain.ChangeRecord) error {
	id, err := tx.AppendChange(rec)
	if err != nil {
		return r.swallow(ctx, "append", nil, err)
	}
	rec.ID = id
	r.metrics.ChangeRecorded(string(rec.Action))

	if !r.notify {
		return nil
	}
	event, err := notification(rec)
	if err != nil {
		return r.swallow(ctx, "notify", nil, err)
	}
	if err := tx.Enqueue(event); err != nil {
		return r.swallow(ctx, "notify", nil, err)
	}
	return nil
}

// swallow keeps audit problems from aborting the business write. Cancellation
// still propagates so the transaction rolls back.
func (r *Recorder) swallow(ctx context.Context, reason string, desc *domain.EntityDescriptor, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	entry := r.log.WithError(err).WithField("reason", reason)
	if desc != nil {
		entry = entry.WithField("entity", desc.ID())
	}
	entry.Warn("audit failure ignored")
	r.metrics.AuditFailed(reason)
	return nil
}

func newRecord(scope *uow.Context, desc *domain.EntityDescriptor, action domain.Action, id int64) *domain.ChangeRecord {
	rec := &domain.ChangeRecord{
		Timestamp: scope.Now(),
		ActorID:   scope.ActorID(),
		Action:    action,
		EntityID:  desc.ID(),
		ObjectID:  strconv.FormatInt(id, 10),
		TableName: desc.Table,
	}
	if scope != nil {
		rec.ClientIP = scope.ClientIP
		rec.UserAgent = scope.UserAgent
		rec.RequestID = scope.RequestID
	}
	return rec
}

func describe(action domain.Action, desc *domain.EntityDescriptor, title string) string {
	label := desc.DisplaySingular
	if label == "" {
		label = desc.Name
	}
	return fmt.Sprintf("%s en %s: %s", action, label, title)
}

func instanceKey(desc *domain.EntityDescriptor, id int64) string {
	return desc.Table + "#" + strconv.FormatInt(id, 10)
}

func notification(rec *domain.ChangeRecord) (domain.OutboxEvent, error) {
	payload, err := json.Marshal(map[string]any{
		"description": rec.Description,
		"before":      rec.Before,
		"after":       rec.After,
	})
	if err != nil {
		return domain.OutboxEvent{}, fmt.Errorf("marshal notification payload: %w", err)
	}
	envelope := domain.EventEnvelope{
		EventID:       uuid.NewString(),
		EventType:     "audit." + strings.ToLower(string(rec.Action)),
		SchemaVersion: domain.CurrentEventSchemaVersion,
		ChangeID:      rec.ID,
		EntityID:      rec.EntityID,
		ObjectID:      rec.ObjectID,
		ActorID:       rec.ActorID,
		RequestID:     rec.RequestID,
		OccurredAt:    rec.Timestamp,
		Payload:       payload,
	}
	body, err := json.Marshal(envelope)
	if err != nil {
		return domain.OutboxEvent{}, fmt.Errorf("marshal notification: %w", err)
	}
	return domain.OutboxEvent{
		EventID:       envelope.EventID,
		Topic:         "contaerp." + rec.EntityID + "." + envelope.EventType,
		PayloadJSON:   body,
		Status:        "pending",
		NextAttemptAt: rec.Timestamp,
		CreatedAt:     time.Now().UTC(),
	}, nil
}
