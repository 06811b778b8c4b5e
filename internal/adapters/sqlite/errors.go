package sqlite

import (
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/jaico1231/paola-sub001/internal/core/domain"
)

const (
	uniqueFailure     = "UNIQUE constraint failed"
	foreignKeyFailure = "FOREIGN KEY constraint failed"
)

// mapWriteError turns driver constraint failures into domain errors.
func mapWriteError(desc *domain.EntityDescriptor, err error, deleting bool) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.ErrNotFound
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, uniqueFailure):
		return &domain.DuplicateKeyError{Field: uniqueField(desc, msg)}
	case strings.Contains(msg, foreignKeyFailure):
		if deleting {
			return fmt.Errorf("%s: %w", desc.ID(), domain.ErrReferentialIntegrity)
		}
		ve := domain.NewValidationError()
		ve.Add("", "a related record does not exist")
		return ve
	}
	return err
}

// uniqueField extracts the first column of "UNIQUE constraint failed: t.col[, t.col2]"
// and returns it when the descriptor declares it.
func uniqueField(desc *domain.EntityDescriptor, msg string) string {
	idx := strings.Index(msg, uniqueFailure)
	rest := strings.TrimPrefix(msg[idx+len(uniqueFailure):], ":")
	rest = strings.TrimSpace(rest)
	if cut := strings.IndexAny(rest, ", ("); cut >= 0 {
		rest = rest[:cut]
	}
	if dot := strings.LastIndex(rest, "."); dot >= 0 {
		rest = rest[dot+1:]
	}
	if desc == nil {
		return ""
	}
	if _, ok := desc.Field(rest); ok {
		return rest
	}
	return ""
}

func quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}
