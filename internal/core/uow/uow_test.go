package uow

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jaico1231/paola-sub001/internal/core/domain"
)

func TestBeginAndRelease(t *testing.T) {
	user := &domain.User{ID: 7, Username: "ana", Active: true}
	ctx, release := Begin(context.Background(), &Context{User: user, ClientIP: "190.24.1.9"})

	c := From(ctx)
	require.NotNil(t, c)
	assert.Equal(t, int64(7), *c.ActorID())
	c.Stash("partners#1", domain.Row{"id": int64(1)})

	release()
	release()
	assert.True(t, c.Released())
	_, ok := c.Take("partners#1")
	assert.False(t, ok)
}

func TestNestedScopeInnermostActorWins(t *testing.T) {
	outer := &domain.User{ID: 1, Username: "admin", Active: true}
	inner := &domain.User{ID: 2, Username: "ana", Active: true}

	ctx, releaseOuter := Begin(context.Background(), &Context{User: outer, ClientIP: "181.50.2.3", UserAgent: "Firefox", RequestID: "req-1"})
	defer releaseOuter()
	nested, releaseInner := Begin(ctx, &Context{User: inner})

	c := From(nested)
	assert.Equal(t, int64(2), *c.ActorID())
	assert.Equal(t, "181.50.2.3", c.ClientIP)
	assert.Equal(t, "Firefox", c.UserAgent)
	assert.Equal(t, "req-1", c.RequestID)

	releaseInner()
	assert.Equal(t, int64(1), *From(ctx).ActorID())
	assert.False(t, From(ctx).Released())
}

func TestEnsureOpensSystemScope(t *testing.T) {
	ctx, release := Ensure(context.Background())
	defer release()

	c := From(ctx)
	require.NotNil(t, c)
	assert.Nil(t, c.ActorID())
	assert.Equal(t, "system", c.ActorName())

	same, noop := Ensure(ctx)
	defer noop()
	assert.Same(t, c, From(same))
}

func TestUserAgentIsTruncated(t *testing.T) {
	ua := strings.Repeat("a", MaxUserAgentBytes-1) + "ñ" + "tail"
	ctx, release := Begin(context.Background(), &Context{UserAgent: ua})
	defer release()

	got := From(ctx).UserAgent
	assert.LessOrEqual(t, len(got), MaxUserAgentBytes)
	assert.True(t, strings.HasPrefix(ua, got))
}

func TestClockIsUTC(t *testing.T) {
	bogota := time.FixedZone("COT", -5*3600)
	fixed := time.Date(2024, 3, 1, 8, 0, 0, 0, bogota)
	c := &Context{Clock: func() time.Time { return fixed }}
	assert.Equal(t, time.UTC, c.Now().Location())
	assert.True(t, c.Now().Equal(fixed))
}
