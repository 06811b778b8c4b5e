package ports

import (
	"context"
	"io"

	"github.com/jaico1231/paola-sub001/internal/core/domain"
)

type ImportBatchRepository interface {
	Save(ctx context.Context, batch domain.ImportBatch) error
	Get(ctx context.Context, id string) (domain.ImportBatch, error)
}

type ExportRenderer interface {
	Format() domain.ExportFormat
	ContentType() string
	Render(w io.Writer, doc domain.ExportDocument) error
}

type MenuRepository interface {
	Replace(ctx context.Context, items []domain.MenuItem) (added, removed int, err error)
	List(ctx context.Context) ([]domain.MenuItem, error)
}
