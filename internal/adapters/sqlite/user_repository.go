package sqlite

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/jaico1231/paola-sub001/internal/adapters/sqlite/gormsqlite"
	"github.com/jaico1231/paola-sub001/internal/core/domain"
	"github.com/jaico1231/paola-sub001/internal/core/ports"
)

type userModel struct {
	ID           int64      `gorm:"column:id;primaryKey;autoIncrement"`
	Username     string     `gorm:"column:username;not null;uniqueIndex"`
	PasswordHash string     `gorm:"column:password_hash;not null"`
	FullName     string     `gorm:"column:full_name;not null"`
	Email        string     `gorm:"column:email;not null"`
	Superuser    bool       `gorm:"column:is_superuser;not null"`
	Active       bool       `gorm:"column:is_active;not null"`
	CreatedAt    time.Time  `gorm:"column:created_at;not null"`
	LastLoginAt  *time.Time `gorm:"column:last_login_at"`
}

func (userModel) TableName() string {
	return "users"
}

type userPermissionModel struct {
	UserID   int64  `gorm:"column:user_id;primaryKey"`
	Codename string `gorm:"column:codename;primaryKey"`
}

func (userPermissionModel) TableName() string {
	return "user_permissions"
}

type userGroupModel struct {
	UserID    int64  `gorm:"column:user_id;primaryKey"`
	GroupName string `gorm:"column:group_name;primaryKey"`
}

func (userGroupModel) TableName() string {
	return "user_groups"
}

type UserRepository struct {
	db *gormsqlite.DB
}

func NewUserRepository(db *gormsqlite.DB) *UserRepository {
	return &UserRepository{db: db}
}

var _ ports.UserRepository = (*UserRepository)(nil)

func (r *UserRepository) FindByUsername(ctx context.Context, username string) (domain.User, error) {
	return r.find(ctx, "username = ?", username)
}

func (r *UserRepository) FindByID(ctx context.Context, id int64) (domain.User, error) {
	return r.find(ctx, "id = ?", id)
}

func (r *UserRepository) find(ctx context.Context, cond string, arg any) (domain.User, error) {
	var user domain.User
	err := r.db.ReadTX(ctx, func(tx *gormsqlite.Tx) error {
		var model userModel
		if err := tx.Where(cond, arg).First(&model).Error; err != nil {
			return err
		}
		var perms []userPermissionModel
		if err := tx.Where("user_id = ?", model.ID).Find(&perms).Error; err != nil {
			return err
		}
		var groups []userGroupModel
		if err := tx.Where("user_id = ?", model.ID).Order("group_name").Find(&groups).Error; err != nil {
			return err
		}
		user = model.toDomain(perms, groups)
		return nil
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, domain.ErrNotFound
		}
		return domain.User{}, fmt.Errorf("find user: %w", err)
	}
	return user, nil
}

// Upsert creates or replaces a user by username, including its permissions
// and groups.
func (r *UserRepository) Upsert(ctx context.Context, user domain.User) (domain.User, error) {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	model := userModel{
		Username:     user.Username,
		PasswordHash: user.PasswordHash,
		FullName:     user.FullName,
		Email:        user.Email,
		Superuser:    user.Superuser,
		Active:       user.Active,
		CreatedAt:    user.CreatedAt,
	}

	err := r.db.WriteTX(ctx, func(tx *gormsqlite.Tx) error {
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "username"}},
			DoUpdates: clause.AssignmentColumns([]string{"password_hash", "full_name", "email", "is_superuser", "is_active"}),
		}).Create(&model).Error; err != nil {
			return err
		}
		if err := tx.Where("username = ?", user.Username).First(&model).Error; err != nil {
			return err
		}

		if err := tx.Where("user_id = ?", model.ID).Delete(&userPermissionModel{}).Error; err != nil {
			return err
		}
		if err := tx.Where("user_id = ?", model.ID).Delete(&userGroupModel{}).Error; err != nil {
			return err
		}
		codes := make([]string, 0, len(user.Permissions))
		for code, ok := range user.Permissions {
			if ok {
				codes = append(codes, code)
			}
		}
		sort.Strings(codes)
		for _, code := range codes {
			if err := tx.Create(&userPermissionModel{UserID: model.ID, Codename: code}).Error; err != nil {
				return err
			}
		}
		for _, g := range user.Groups {
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&userGroupModel{UserID: model.ID, GroupName: g}).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return domain.User{}, fmt.Errorf("upsert user: %w", err)
	}
	user.ID = model.ID
	user.CreatedAt = model.CreatedAt
	return user, nil
}

func (r *UserRepository) TouchLogin(ctx context.Context, id int64) error {
	now := time.Now().UTC()
	err := r.db.WriteTX(ctx, func(tx *gormsqlite.Tx) error {
		return tx.Model(&userModel{}).Where("id = ?", id).Update("last_login_at", &now).Error
	})
	if err != nil {
		return fmt.Errorf("touch login: %w", err)
	}
	return nil
}

func (m userModel) toDomain(perms []userPermissionModel, groups []userGroupModel) domain.User {
	u := domain.User{
		ID:           m.ID,
		Username:     m.Username,
		PasswordHash: m.PasswordHash,
		FullName:     m.FullName,
		Email:        m.Email,
		Superuser:    m.Superuser,
		Active:       m.Active,
		Permissions:  make(map[string]bool, len(perms)),
		CreatedAt:    m.CreatedAt,
		LastLoginAt:  m.LastLoginAt,
	}
	for _, p := range perms {
		u.Permissions[p.Codename] = true
	}
	for _, g := range groups {
		u.Groups = append(u.Groups, g.GroupName)
	}
	return u
}

type sessionModel struct {
	TokenHash string    `gorm:"column:token_hash;primaryKey"`
	UserID    int64     `gorm:"column:user_id;not null"`
	ClientIP  string    `gorm:"column:client_ip;not null"`
	UserAgent string    `gorm:"column:user_agent;not null"`
	CreatedAt time.Time `gorm:"column:created_at;not null"`
	ExpiresAt time.Time `gorm:"column:expires_at;not null"`
}

func (sessionModel) TableName() string {
	return "sessions"
}

type SessionRepository struct {
	db *gormsqlite.DB
}

func NewSessionRepository(db *gormsqlite.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

var _ ports.SessionRepository = (*SessionRepository)(nil)

func (r *SessionRepository) Create(ctx context.Context, s domain.Session) error {
	model := sessionModel{
		TokenHash: s.TokenHash,
		UserID:    s.UserID,
		ClientIP:  s.ClientIP,
		UserAgent: s.UserAgent,
		CreatedAt: s.CreatedAt.UTC(),
		ExpiresAt: s.ExpiresAt.UTC(),
	}
	err := r.db.WriteTX(ctx, func(tx *gormsqlite.Tx) error {
		return tx.Create(&model).Error
	})
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

func (r *SessionRepository) Find(ctx context.Context, tokenHash string) (domain.Session, error) {
	var model sessionModel
	err := r.db.ReadTX(ctx, func(tx *gormsqlite.Tx) error {
		return tx.Where("token_hash = ?", tokenHash).First(&model).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Session{}, domain.ErrNotFound
		}
		return domain.Session{}, fmt.Errorf("find session: %w", err)
	}
	return domain.Session{
		TokenHash: model.TokenHash,
		UserID:    model.UserID,
		ClientIP:  model.ClientIP,
		UserAgent: model.UserAgent,
		CreatedAt: model.CreatedAt,
		ExpiresAt: model.ExpiresAt,
	}, nil
}

func (r *SessionRepository) Delete(ctx context.Context, tokenHash string) error {
	err := r.db.WriteTX(ctx, func(tx *gormsqlite.Tx) error {
		return tx.Where("token_hash = ?", tokenHash).Delete(&sessionModel{}).Error
	})
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}
