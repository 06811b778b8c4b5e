package usecase

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jaico1231/paola-sub001/internal/core/domain"
	"github.com/jaico1231/paola-sub001/internal/core/hooks"
	"github.com/jaico1231/paola-sub001/internal/core/ports"
	"github.com/jaico1231/paola-sub001/internal/core/uow"
)

const (
	PermissionViewAudit = "audit.view_changerecord"
	DefaultLocation     = "America/Bogota"
)

// AuditService is the read side of the change log plus the superuser purge.
type AuditService struct {
	store    ports.AuditStore
	recorder SessionRecorder
	location *time.Location
	log      *logrus.Logger
}

// NewAuditService resolves named periods in loc; nil means UTC.
func NewAuditService(store ports.AuditStore, recorder SessionRecorder, loc *time.Location, log *logrus.Logger) *AuditService {
	if loc == nil {
		loc = time.UTC
	}
	return &AuditService{store: store, recorder: recorder, location: loc, log: log}
}

func (s *AuditService) Query(ctx context.Context, filter domain.AuditFilter) (domain.AuditPage, error) {
	if err := authorize(ctx, PermissionViewAudit); err != nil {
		return domain.AuditPage{}, err
	}
	filter, err := s.resolve(ctx, filter)
	if err != nil {
		return domain.AuditPage{}, err
	}
	return s.store.Query(ctx, filter)
}

func (s *AuditService) Get(ctx context.Context, id int64) (domain.ChangeRecord, error) {
	if err := authorize(ctx, PermissionViewAudit); err != nil {
		return domain.ChangeRecord{}, err
	}
	return s.store.Get(ctx, id)
}

// ExportCSV writes every record matching filter, newest first.
func (s *AuditService) ExportCSV(ctx context.Context, filter domain.AuditFilter, w io.Writer) error {
	if err := authorize(ctx, PermissionViewAudit); err != nil {
		return err
	}
	filter, err := s.resolve(ctx, filter)
	if err != nil {
		return err
	}
	out := csv.NewWriter(w)
	if err := out.Write([]string{"id", "timestamp", "actor", "action", "entity", "object_id", "description", "client_ip", "user_agent"}); err != nil {
		return err
	}

	filter.PageSize = domain.MaxPageSize
	for filter.Page = 1; ; filter.Page++ {
		page, err := s.store.Query(ctx, filter)
		if err != nil {
			return err
		}
		for _, rec := range page.Records {
			if err := out.Write([]string{
				strconv.FormatInt(rec.ID, 10),
				rec.Timestamp.In(s.location).Format(time.RFC3339),
				rec.Actor(),
				string(rec.Action),
				rec.EntityID,
				rec.ObjectID,
				rec.Description,
				rec.ClientIP,
				rec.UserAgent,
			}); err != nil {
				return err
			}
		}
		if int64(filter.Page*filter.PageSize) >= page.Total || len(page.Records) == 0 {
			break
		}
	}
	out.Flush()
	return out.Error()
}

// Purge removes matching records. Only superusers hold the capability; the
// purge itself is recorded as an OTHER entry.
func (s *AuditService) Purge(ctx context.Context, pred domain.PurgePredicate) (int64, error) {
	scope := uow.From(ctx)
	if scope == nil || scope.User == nil {
		return 0, domain.ErrUnauthenticated
	}
	capability, err := scope.User.PurgeCapability()
	if err != nil {
		return 0, err
	}
	removed, err := s.store.Purge(ctx, capability, pred)
	if err != nil {
		return 0, err
	}

	desc := fmt.Sprintf("PURGA de registros de auditoría: %d eliminados", removed)
	if !pred.Before.IsZero() {
		desc += " anteriores a " + pred.Before.In(s.location).Format(domain.DateLayout)
	}
	if pred.Action != "" {
		desc += " con acción " + string(pred.Action)
	}
	s.recorder.OnSessionEvent(ctx, hooks.SessionEvent{Action: domain.ActionOther, Description: desc})
	s.log.WithFields(logrus.Fields{"removed": removed, "actor": scope.ActorName()}).Warn("change records purged")
	return removed, nil
}

// resolve turns a named period into an explicit range in the service's
// location.
func (s *AuditService) resolve(ctx context.Context, filter domain.AuditFilter) (domain.AuditFilter, error) {
	if filter.Period == "" {
		return filter, nil
	}
	from, to, ok := filter.Period.Range(uow.From(ctx).Now().In(s.location))
	if !ok {
		return filter, fmt.Errorf("%w: period %q", domain.ErrInvalidFilter, filter.Period)
	}
	filter.From, filter.To, filter.Period = from, to, ""
	return filter, nil
}
