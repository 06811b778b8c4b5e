package domain

import "time"

type User struct {
	ID           int64
	Username     string
	PasswordHash string
	FullName     string
	Email        string
	Superuser    bool
	Active       bool
	Groups       []string
	Permissions  map[string]bool
	CreatedAt    time.Time
	LastLoginAt  *time.Time
}

func (u *User) Can(codename string) bool {
	if u == nil || !u.Active {
		return false
	}
	return u.Superuser || u.Permissions[codename]
}

// PurgeCapability grants purge rights to superusers only.
func (u *User) PurgeCapability() (PurgeCapability, error) {
	if u == nil || !u.Active || !u.Superuser {
		return PurgeCapability{}, ErrUnauthorized
	}
	return PurgeCapability{grantedTo: u.ID, valid: true}, nil
}

func (u *User) DisplayName() string {
	if u.FullName != "" {
		return u.FullName
	}
	return u.Username
}

type Session struct {
	TokenHash string
	UserID    int64
	ClientIP  string
	UserAgent string
	CreatedAt time.Time
	ExpiresAt time.Time
}
