package registry

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jaico1231/paola-sub001/internal/core/domain"
)

func partnerDescriptor() *domain.EntityDescriptor {
	return &domain.EntityDescriptor{
		App:   "third_party",
		Name:  "partner",
		Table: "partners",
		Fields: []domain.Field{
			{Name: "document_number", Kind: domain.KindText},
			{Name: "first_name", Kind: domain.KindText},
			{Name: "email", Kind: domain.KindText},
		},
		SearchFields: []string{"first_name"},
	}
}

func TestRegisterIsIdempotent(t *testing.T) {
	reg := New()
	d := partnerDescriptor()

	require.NoError(t, reg.Register(d))
	require.NoError(t, reg.Register(d))
	require.NoError(t, reg.Register(partnerDescriptor()))
	assert.Len(t, reg.All(), 1)
}

func TestRegisterConflictingDescriptorFails(t *testing.T) {
	reg := New()
	require.NoError(t, reg.Register(partnerDescriptor()))

	other := partnerDescriptor()
	other.Table = "terceros"
	err := reg.Register(other)
	assert.ErrorIs(t, err, domain.ErrDuplicateDescriptor)
}

func TestLookupUnknownEntity(t *testing.T) {
	_, err := New().Lookup("accounting.account")
	assert.ErrorIs(t, err, domain.ErrUnknownEntity)
}

func TestAllKeepsRegistrationOrder(t *testing.T) {
	reg := New()
	ids := []string{"b.second", "a.first", "c.third"}
	for _, id := range ids {
		parts := strings.SplitN(id, ".", 2)
		require.NoError(t, reg.Register(&domain.EntityDescriptor{App: parts[0], Name: parts[1], Table: parts[1]}))
	}

	var got []string
	for _, d := range reg.All() {
		got = append(got, d.ID())
	}
	assert.Equal(t, ids, got)
}

func TestBuildOverlaysConfig(t *testing.T) {
	cfg, err := LoadConfig(strings.NewReader(`
entities:
  - id: third_party.partner
    audit_on: [create, view]
    search_fields: [first_name, email]
    order_by: [-first_name]
    display_plural: Terceros
`))
	require.NoError(t, err)

	base := partnerDescriptor()
	reg, err := Build([]*domain.EntityDescriptor{base}, cfg)
	require.NoError(t, err)

	d, err := reg.Lookup("third_party.partner")
	require.NoError(t, err)
	assert.Equal(t, []string{"first_name", "email"}, d.SearchFields)
	assert.Equal(t, []string{"-first_name"}, d.OrderBy)
	assert.Equal(t, "Terceros", d.DisplayPlural)
	assert.True(t, d.Audits(domain.ActionView))
	assert.False(t, d.Audits(domain.ActionDelete))

	// the catalog descriptor is untouched
	assert.Equal(t, []string{"first_name"}, base.SearchFields)
}

func TestBuildRejectsUnknownEntityAndField(t *testing.T) {
	base := []*domain.EntityDescriptor{partnerDescriptor()}

	_, err := Build(base, Config{Entities: []EntityConfig{{ID: "accounting.account"}}})
	assert.ErrorIs(t, err, domain.ErrUnknownEntity)

	_, err = Build(base, Config{Entities: []EntityConfig{{ID: "third_party.partner", ListFields: []string{"nickname"}}}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nickname")
}

func TestBuildDefaultsAuditSet(t *testing.T) {
	reg, err := Build([]*domain.EntityDescriptor{partnerDescriptor()}, Config{Entities: []EntityConfig{{ID: "third_party.partner"}}})
	require.NoError(t, err)
	d, _ := reg.Lookup("third_party.partner")
	assert.True(t, d.Audits(domain.ActionCreate))
	assert.True(t, d.Audits(domain.ActionUpdate))
	assert.True(t, d.Audits(domain.ActionDelete))
	assert.False(t, d.Audits(domain.ActionView))

	reg, err = Build([]*domain.EntityDescriptor{partnerDescriptor()}, Config{Entities: []EntityConfig{{ID: "third_party.partner", AuditOn: []string{"none"}}}})
	require.NoError(t, err)
	d, _ = reg.Lookup("third_party.partner")
	assert.False(t, d.Audits(domain.ActionCreate))
}
