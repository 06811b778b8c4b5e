package events

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/jaico1231/paola-sub001/internal/core/domain"
)

// LogPublisher writes change notifications to the process log. It is the
// publisher used when no webhook is configured.
type LogPublisher struct {
	log *logrus.Logger
}

func NewLogPublisher(log *logrus.Logger) *LogPublisher {
	return &LogPublisher{log: log}
}

func (p *LogPublisher) Publish(_ context.Context, topic string, event domain.EventEnvelope) error {
	p.log.WithFields(logrus.Fields{
		"topic":      topic,
		"event_id":   event.EventID,
		"event_type": event.EventType,
		"change_id":  event.ChangeID,
		"entity":     event.EntityID,
		"object_id":  event.ObjectID,
		"request_id": event.RequestID,
	}).Info("change notification")
	return nil
}
