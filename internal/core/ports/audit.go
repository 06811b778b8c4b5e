package ports

import (
	"context"

	"github.com/jaico1231/paola-sub001/internal/core/domain"
)

type AuditStore interface {
	Append(ctx context.Context, rec *domain.ChangeRecord) (int64, error)
	Get(ctx context.Context, id int64) (domain.ChangeRecord, error)
	Query(ctx context.Context, filter domain.AuditFilter) (domain.AuditPage, error)
	Purge(ctx context.Context, capability domain.PurgeCapability, pred domain.PurgePredicate) (int64, error)
}
