// Package uow binds actor identity and network context to one unit of work.
package uow

import (
	"context"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/jaico1231/paola-sub001/internal/core/domain"
)

const MaxUserAgentBytes = 1024

type ctxKey struct{}

type Context struct {
	User      *domain.User
	ClientIP  string
	UserAgent string
	RequestID string
	Clock     func() time.Time

	parent   *Context
	mu       sync.Mutex
	priors   map[string]domain.Row
	released bool
}

// ActorID is nil for the system actor.
func (c *Context) ActorID() *int64 {
	if c == nil || c.User == nil {
		return nil
	}
	id := c.User.ID
	return &id
}

func (c *Context) ActorName() string {
	if c == nil || c.User == nil {
		return "system"
	}
	return c.User.Username
}

func (c *Context) Now() time.Time {
	if c != nil && c.Clock != nil {
		return c.Clock().UTC()
	}
	return time.Now().UTC()
}

func (c *Context) Can(codename string) bool {
	return c != nil && c.User.Can(codename)
}

// Stash keeps the persisted state of an instance read before a write.
func (c *Context) Stash(key string, row domain.Row) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released {
		return
	}
	if c.priors == nil {
		c.priors = map[string]domain.Row{}
	}
	c.priors[key] = row
}

// Take removes and returns the stashed state for key.
func (c *Context) Take(key string) (domain.Row, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	row, ok := c.priors[key]
	delete(c.priors, key)
	return row, ok
}

func (c *Context) Released() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.released
}

func (c *Context) release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.released = true
	c.priors = nil
}

// Begin attaches c to ctx. Network fields left empty are inherited from an
// enclosing scope; the actor is always c's own. The returned release func must
// be called on every exit path and is safe to call more than once.
func Begin(ctx context.Context, c *Context) (context.Context, func()) {
	if c == nil {
		c = &Context{}
	}
	if parent := From(ctx); parent != nil {
		c.parent = parent
		if c.ClientIP == "" {
			c.ClientIP = parent.ClientIP
		}
		if c.UserAgent == "" {
			c.UserAgent = parent.UserAgent
		}
		if c.RequestID == "" {
			c.RequestID = parent.RequestID
		}
		if c.Clock == nil {
			c.Clock = parent.Clock
		}
	}
	c.UserAgent = TruncateUserAgent(c.UserAgent)

	var once sync.Once
	return context.WithValue(ctx, ctxKey{}, c), func() {
		once.Do(c.release)
	}
}

// From returns the innermost scope, or nil outside any scope.
func From(ctx context.Context) *Context {
	c, _ := ctx.Value(ctxKey{}).(*Context)
	return c
}

// Ensure returns ctx unchanged when a live scope exists, otherwise it opens a
// system scope with no actor.
func Ensure(ctx context.Context) (context.Context, func()) {
	if c := From(ctx); c != nil && !c.Released() {
		return ctx, func() {}
	}
	return Begin(ctx, &Context{})
}

func TruncateUserAgent(ua string) string {
	if len(ua) <= MaxUserAgentBytes {
		return ua
	}
	cut := ua[:MaxUserAgentBytes]
	for len(cut) > 0 && !utf8.ValidString(cut) {
		cut = cut[:len(cut)-1]
	}
	return cut
}
