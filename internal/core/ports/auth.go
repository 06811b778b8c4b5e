package ports

import (
	"context"

	"github.com/jaico1231/paola-sub001/internal/core/domain"
)

type UserRepository interface {
	FindByUsername(ctx context.Context, username string) (domain.User, error)
	FindByID(ctx context.Context, id int64) (domain.User, error)
	Upsert(ctx context.Context, user domain.User) (domain.User, error)
	TouchLogin(ctx context.Context, id int64) error
}

type SessionRepository interface {
	Create(ctx context.Context, s domain.Session) error
	Find(ctx context.Context, tokenHash string) (domain.Session, error)
	Delete(ctx context.Context, tokenHash string) error
}
