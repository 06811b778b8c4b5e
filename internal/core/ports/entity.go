package ports

import (
	"context"

	"github.com/jaico1231/paola-sub001/internal/core/domain"
)

// EntityStore persists rows of any registered entity. Every write goes through
// Write so the hooks observe it inside the same transaction.
type EntityStore interface {
	Get(ctx context.Context, desc *domain.EntityDescriptor, id int64) (domain.Row, error)
	List(ctx context.Context, desc *domain.EntityDescriptor, q domain.ListQuery) ([]domain.Row, int64, error)
	Stamp(ctx context.Context, desc *domain.EntityDescriptor, q domain.ListQuery) (domain.DataStamp, error)
	Write(ctx context.Context, fn func(tx EntityTx) error) error
}

type EntityTx interface {
	Get(desc *domain.EntityDescriptor, id int64) (domain.Row, error)
	FindBy(desc *domain.EntityDescriptor, field string, value any) (domain.Row, error)
	Exists(table string, id int64) (bool, error)
	Insert(desc *domain.EntityDescriptor, values domain.Row) (int64, error)
	Update(desc *domain.EntityDescriptor, id int64, values domain.Row, opts domain.WriteOptions) error
	Delete(desc *domain.EntityDescriptor, id int64) error
}

// WriteHook observes entity writes. Calls happen inside the write transaction.
type WriteHook interface {
	OnBeforeWrite(ctx context.Context, tx HookTx, desc *domain.EntityDescriptor, id int64) error
	OnAfterWrite(ctx context.Context, tx HookTx, desc *domain.EntityDescriptor, id int64, created bool, opts domain.WriteOptions) error
	OnAfterDelete(ctx context.Context, tx HookTx, desc *domain.EntityDescriptor, id int64) error
}

// HookTx is the slice of the write transaction visible to hooks.
type HookTx interface {
	Load(desc *domain.EntityDescriptor, id int64) (domain.Row, error)
	Display(rel domain.Relation, id int64) (string, error)
	AppendChange(rec *domain.ChangeRecord) (int64, error)
	Enqueue(event domain.OutboxEvent) error
}
