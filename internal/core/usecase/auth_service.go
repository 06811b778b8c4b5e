package usecase

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mssola/useragent"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"github.com/jaico1231/paola-sub001/internal/core/domain"
	"github.com/jaico1231/paola-sub001/internal/core/hooks"
	"github.com/jaico1231/paola-sub001/internal/core/ports"
	"github.com/jaico1231/paola-sub001/internal/core/uow"
)

const DefaultSessionTTL = 12 * time.Hour

type LoginResult struct {
	Token     string
	User      domain.User
	Redirect  string
	ExpiresAt time.Time
}

type AuthService struct {
	users     ports.UserRepository
	sessions  ports.SessionRepository
	recorder  SessionRecorder
	redirects map[string]string
	ttl       time.Duration
	log       *logrus.Logger
}

// NewAuthService builds the login service. redirects maps a group name to the
// landing path returned after login; users outside every group land on "/".
func NewAuthService(users ports.UserRepository, sessions ports.SessionRepository, recorder SessionRecorder, redirects map[string]string, ttl time.Duration, log *logrus.Logger) *AuthService {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &AuthService{users: users, sessions: sessions, recorder: recorder, redirects: redirects, ttl: ttl, log: log}
}

func (s *AuthService) Login(ctx context.Context, username, password string) (LoginResult, error) {
	user, err := s.users.FindByUsername(ctx, strings.TrimSpace(username))
	if errors.Is(err, domain.ErrNotFound) {
		return LoginResult{}, domain.ErrUnauthenticated
	}
	if err != nil {
		return LoginResult{}, err
	}
	if !user.Active || bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return LoginResult{}, domain.ErrUnauthenticated
	}

	token, err := newToken()
	if err != nil {
		return LoginResult{}, err
	}
	scope := uow.From(ctx)
	now := scope.Now()
	session := domain.Session{
		TokenHash: HashToken(token),
		UserID:    user.ID,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}
	if scope != nil {
		session.ClientIP = scope.ClientIP
		session.UserAgent = scope.UserAgent
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return LoginResult{}, err
	}
	if err := s.users.TouchLogin(ctx, user.ID); err != nil {
		s.log.WithError(err).WithField("user", user.Username).Warn("touch last login")
	}

	actx, release := uow.Begin(ctx, &uow.Context{User: &user})
	defer release()
	s.recorder.OnSessionEvent(actx, hooks.SessionEvent{
		Action:      domain.ActionLogin,
		Description: "Inicio de sesión" + browserSuffix(session.UserAgent),
	})

	return LoginResult{Token: token, User: user, Redirect: s.redirectFor(user), ExpiresAt: session.ExpiresAt}, nil
}

// Logout revokes token. The LOGOUT record is written in the caller's scope,
// which still carries the user.
func (s *AuthService) Logout(ctx context.Context, token string) error {
	if err := s.sessions.Delete(ctx, HashToken(token)); err != nil {
		return err
	}
	ua := ""
	if scope := uow.From(ctx); scope != nil {
		ua = scope.UserAgent
	}
	s.recorder.OnSessionEvent(ctx, hooks.SessionEvent{
		Action:      domain.ActionLogout,
		Description: "Cierre de sesión" + browserSuffix(ua),
	})
	return nil
}

// Authenticate resolves a bearer token to its active user.
func (s *AuthService) Authenticate(ctx context.Context, token string) (domain.User, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return domain.User{}, domain.ErrUnauthenticated
	}
	session, err := s.sessions.Find(ctx, HashToken(token))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.User{}, domain.ErrUnauthenticated
		}
		return domain.User{}, err
	}
	if !session.ExpiresAt.After(time.Now().UTC()) {
		return domain.User{}, domain.ErrUnauthenticated
	}
	user, err := s.users.FindByID(ctx, session.UserID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.User{}, domain.ErrUnauthenticated
		}
		return domain.User{}, err
	}
	if !user.Active {
		return domain.User{}, domain.ErrUnauthenticated
	}
	return user, nil
}

// EnsureSuperuser creates or resets the bootstrap administrator.
func (s *AuthService) EnsureSuperuser(ctx context.Context, username, password string) (domain.User, error) {
	if username == "" || password == "" {
		return domain.User{}, fmt.Errorf("bootstrap admin needs a username and a password")
	}
	hash, err := HashPassword(password)
	if err != nil {
		return domain.User{}, err
	}
	return s.users.Upsert(ctx, domain.User{
		Username:     username,
		PasswordHash: hash,
		FullName:     username,
		Superuser:    true,
		Active:       true,
	})
}

func (s *AuthService) redirectFor(user domain.User) string {
	for _, g := range user.Groups {
		if path, ok := s.redirects[g]; ok {
			return path
		}
	}
	return "/"
}

func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

func HashToken(token string) string {
	digest := sha256.Sum256([]byte(token))
	return hex.EncodeToString(digest[:])
}

func newToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

func browserSuffix(ua string) string {
	if strings.TrimSpace(ua) == "" {
		return ""
	}
	parsed := useragent.New(ua)
	name, version := parsed.Browser()
	if name == "" {
		return ""
	}
	out := " desde " + strings.TrimSpace(name+" "+version)
	if os := parsed.OS(); os != "" {
		out += " en " + os
	}
	return out
}
