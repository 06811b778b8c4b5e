package sqlite

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/jaico1231/paola-sub001/internal/adapters/sqlite/gormsqlite"
	"github.com/jaico1231/paola-sub001/internal/core/domain"
	"github.com/jaico1231/paola-sub001/internal/core/ports"
)

type importBatchModel struct {
	ID         string                                  `gorm:"column:id;primaryKey"`
	EntityID   string                                  `gorm:"column:entity_id;not null"`
	FileName   string                                  `gorm:"column:file_name;not null"`
	Encoding   string                                  `gorm:"column:encoding;not null"`
	Atomic     bool                                    `gorm:"column:atomic;not null"`
	State      string                                  `gorm:"column:state;not null"`
	Created    int                                     `gorm:"column:created;not null"`
	Updated    int                                     `gorm:"column:updated;not null"`
	Skipped    int                                     `gorm:"column:skipped;not null"`
	Errors     int                                     `gorm:"column:errors;not null"`
	Message    string                                  `gorm:"column:message;not null"`
	Report     datatypes.JSONType[[]domain.RowOutcome] `gorm:"column:report_json"`
	ActorID    *int64                                  `gorm:"column:actor_id"`
	StartedAt  time.Time                               `gorm:"column:started_at;not null"`
	FinishedAt *time.Time                              `gorm:"column:finished_at"`
}

func (importBatchModel) TableName() string {
	return "import_batches"
}

type ImportBatchRepository struct {
	db *gormsqlite.DB
}

func NewImportBatchRepository(db *gormsqlite.DB) *ImportBatchRepository {
	return &ImportBatchRepository{db: db}
}

var _ ports.ImportBatchRepository = (*ImportBatchRepository)(nil)

// Save inserts the batch or overwrites its progress.
func (r *ImportBatchRepository) Save(ctx context.Context, batch domain.ImportBatch) error {
	model := importBatchModel{
		ID:         batch.ID,
		EntityID:   batch.EntityID,
		FileName:   batch.FileName,
		Encoding:   batch.Encoding,
		Atomic:     batch.Atomic,
		State:      string(batch.State),
		Created:    batch.Created,
		Updated:    batch.Updated,
		Skipped:    batch.Skipped,
		Errors:     batch.Errors,
		Message:    batch.Message,
		Report:     datatypes.NewJSONType(batch.Rows),
		ActorID:    batch.ActorID,
		StartedAt:  batch.StartedAt.UTC(),
		FinishedAt: batch.FinishedAt,
	}
	err := r.db.WriteTX(ctx, func(tx *gormsqlite.Tx) error {
		return tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"state", "created", "updated", "skipped", "errors", "message", "report_json", "finished_at",
			}),
		}).Create(&model).Error
	})
	if err != nil {
		return fmt.Errorf("save import batch: %w", err)
	}
	return nil
}

func (r *ImportBatchRepository) Get(ctx context.Context, id string) (domain.ImportBatch, error) {
	var model importBatchModel
	err := r.db.ReadTX(ctx, func(tx *gormsqlite.Tx) error {
		return tx.Where("id = ?", id).First(&model).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.ImportBatch{}, domain.ErrNotFound
		}
		return domain.ImportBatch{}, fmt.Errorf("get import batch: %w", err)
	}
	return domain.ImportBatch{
		ID:         model.ID,
		EntityID:   model.EntityID,
		FileName:   model.FileName,
		Encoding:   model.Encoding,
		Atomic:     model.Atomic,
		State:      domain.BatchState(model.State),
		Created:    model.Created,
		Updated:    model.Updated,
		Skipped:    model.Skipped,
		Errors:     model.Errors,
		Message:    model.Message,
		Rows:       model.Report.Data(),
		ActorID:    model.ActorID,
		StartedAt:  model.StartedAt,
		FinishedAt: model.FinishedAt,
	}, nil
}
