package usecase

import (
	"bytes"
	"context"
	"encoding/csv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jaico1231/paola-sub001/internal/core/domain"
	"github.com/jaico1231/paola-sub001/internal/core/hooks"
	"github.com/jaico1231/paola-sub001/internal/core/uow"
	"github.com/jaico1231/paola-sub001/internal/platform/logging"
)

var bogota = time.FixedZone("COT", -5*60*60)

func newAuditService(e *env) *AuditService {
	return NewAuditService(e.audit, e.recorder, bogota, logging.Discard())
}

func at(t *testing.T, user domain.User, now time.Time) context.Context {
	t.Helper()
	ctx, release := uow.Begin(context.Background(), &uow.Context{User: &user, Clock: func() time.Time { return now }})
	t.Cleanup(release)
	return ctx
}

func TestAuditQueryNeedsPermission(t *testing.T) {
	e := newEnv(t)
	svc := newAuditService(e)

	_, err := svc.Query(context.Background(), domain.AuditFilter{})
	assert.ErrorIs(t, err, domain.ErrUnauthenticated)
	_, err = svc.Query(e.as(t, e.clerk), domain.AuditFilter{})
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
	_, err = svc.Get(e.as(t, e.clerk), 1)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestAuditPeriodsResolveInConfiguredZone(t *testing.T) {
	e := newEnv(t)
	svc := newAuditService(e)
	now := time.Date(2024, 5, 10, 3, 0, 0, 0, time.UTC)

	e.recorder.OnSessionEvent(at(t, e.admin, time.Date(2024, 5, 9, 6, 0, 0, 0, time.UTC)), hooks.SessionEvent{Action: domain.ActionOther, Description: "early"})
	e.recorder.OnSessionEvent(at(t, e.admin, now), hooks.SessionEvent{Action: domain.ActionOther, Description: "late"})

	ctx := at(t, e.admin, now)
	page, err := svc.Query(ctx, domain.AuditFilter{Period: domain.PeriodToday})
	require.NoError(t, err)
	assert.Equal(t, int64(2), page.Total)

	page, err = svc.Query(ctx, domain.AuditFilter{Period: domain.PeriodYesterday})
	require.NoError(t, err)
	assert.Zero(t, page.Total)

	_, err = svc.Query(ctx, domain.AuditFilter{Period: "fortnight"})
	assert.ErrorIs(t, err, domain.ErrInvalidFilter)
}

func TestAuditPurgeIsSuperuserOnlyAndRecorded(t *testing.T) {
	e := newEnv(t)
	svc := newAuditService(e)
	ctx := e.as(t, e.admin)
	for range 3 {
		e.recorder.OnSessionEvent(ctx, hooks.SessionEvent{Action: domain.ActionLogin, Description: "LOGIN"})
	}

	e.clerk.Permissions[PermissionViewAudit] = true
	_, err := svc.Purge(e.as(t, e.clerk), domain.PurgePredicate{Action: domain.ActionLogin})
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
	assert.Equal(t, int64(3), e.countRecords(t))

	removed, err := svc.Purge(ctx, domain.PurgePredicate{Action: domain.ActionLogin})
	require.NoError(t, err)
	assert.Equal(t, int64(3), removed)

	page, err := svc.Query(ctx, domain.AuditFilter{})
	require.NoError(t, err)
	require.Len(t, page.Records, 1)
	assert.Equal(t, domain.ActionOther, page.Records[0].Action)
	assert.Contains(t, page.Records[0].Description, "3 eliminados")
}

func TestAuditExportCSVWritesEveryMatchingRecord(t *testing.T) {
	e := newEnv(t)
	svc := newAuditService(e)
	ctx := e.as(t, e.admin)
	_, err := e.crud.Create(ctx, partnerID, acme())
	require.NoError(t, err)
	e.recorder.OnSessionEvent(ctx, hooks.SessionEvent{Action: domain.ActionLogout, Description: "LOGOUT"})

	var buf bytes.Buffer
	require.NoError(t, svc.ExportCSV(ctx, domain.AuditFilter{EntityID: partnerID}, &buf))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "actor", rows[0][2])
	assert.Equal(t, "admin", rows[1][2])
	assert.Equal(t, "CREATE", rows[1][3])
	assert.Equal(t, "181.50.2.3", rows[1][7])
}
