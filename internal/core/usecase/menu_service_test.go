package usecase

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jaico1231/paola-sub001/internal/adapters/sqlite"
	"github.com/jaico1231/paola-sub001/internal/core/domain"
	"github.com/jaico1231/paola-sub001/internal/platform/logging"
)

func TestMenuSyncFollowsRegistry(t *testing.T) {
	e := newEnv(t)
	labels := map[string]string{"third_party": "Terceros", "geography": "Geografía", "accounting": "Contabilidad"}
	menu := NewMenuService(e.registry, sqlite.NewMenuRepository(e.db), labels, logging.Discard())
	ctx := context.Background()

	added, removed, err := menu.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 8, added)
	assert.Zero(t, removed)

	added, removed, err = menu.Sync(ctx)
	require.NoError(t, err)
	assert.Zero(t, added)
	assert.Zero(t, removed)

	items := menu.Items()
	assert.Equal(t, "Terceros", items[0].Label)
	assert.Equal(t, "/third_party/partner/list", items[1].URL)
	assert.Equal(t, "third_party.view_partner", items[1].Permission)
}

func TestMenuVisibleFiltersByPermission(t *testing.T) {
	e := newEnv(t)
	menu := NewMenuService(e.registry, sqlite.NewMenuRepository(e.db), nil, logging.Discard())
	_, _, err := menu.Sync(context.Background())
	require.NoError(t, err)

	_, err = menu.Visible(context.Background())
	assert.ErrorIs(t, err, domain.ErrUnauthenticated)

	items, err := menu.Visible(e.as(t, e.clerk))
	require.NoError(t, err)
	keys := make([]string, 0, len(items))
	for _, item := range items {
		keys = append(keys, item.Key)
	}
	assert.Equal(t, []string{"third_party", "third_party.partner"}, keys)

	items, err = menu.Visible(e.as(t, e.admin))
	require.NoError(t, err)
	assert.Len(t, items, 8)
}
