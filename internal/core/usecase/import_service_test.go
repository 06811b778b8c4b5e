package usecase

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/charmap"

	"github.com/jaico1231/paola-sub001/internal/adapters/sqlite"
	"github.com/jaico1231/paola-sub001/internal/core/domain"
	"github.com/jaico1231/paola-sub001/internal/platform/logging"
)

func newImporter(e *env) (*ImportService, *sqlite.ImportBatchRepository) {
	batches := sqlite.NewImportBatchRepository(e.db)
	return NewImportService(e.crud, e.store, batches, nil, logging.Discard()), batches
}

func partnersFile() *bytes.Buffer {
	return bytes.NewBufferString(strings.Join([]string{
		"document_type;document_number;first_name;third_party_type",
		"CC;1001;Ana;Persona Natural",
		"ZZ;1002;Luis;Persona Natural",
		"NIT;900123456-1;Acme;Persona Jurídica",
	}, "\n") + "\n")
}

func TestImportIsolatesBadRows(t *testing.T) {
	e := newEnv(t)
	imp, batches := newImporter(e)
	ctx := e.as(t, e.admin)

	batch, err := imp.Import(ctx, partnerID, partnersFile(), domain.ImportOptions{FileName: "terceros.csv"})
	require.NoError(t, err)
	assert.Equal(t, domain.BatchPartial, batch.State)
	assert.Equal(t, 2, batch.Created)
	assert.Equal(t, 1, batch.Errors)
	assert.Equal(t, "Creados: 2, actualizados: 0, omitidos: 0, errores: 1", batch.Message)

	require.Len(t, batch.Rows, 3)
	bad := batch.Rows[1]
	assert.Equal(t, 2, bad.Row)
	assert.Equal(t, domain.OutcomeError, bad.Outcome)
	assert.Equal(t, "document_type", bad.Field)
	assert.True(t, strings.HasPrefix(bad.Message, "Fila 2: document_type:"), bad.Message)

	stored, err := batches.Get(context.Background(), batch.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BatchPartial, stored.State)
	assert.Equal(t, "terceros.csv", stored.FileName)
	require.Len(t, stored.Rows, 3)
	assert.NotNil(t, stored.FinishedAt)

	assert.Len(t, e.records(t, domain.AuditFilter{EntityID: partnerID, Action: domain.ActionCreate}), 2)
}

func TestImportTwiceSkipsUnchangedRows(t *testing.T) {
	e := newEnv(t)
	imp, _ := newImporter(e)
	ctx := e.as(t, e.admin)

	_, err := imp.Import(ctx, partnerID, partnersFile(), domain.ImportOptions{})
	require.NoError(t, err)
	again, err := imp.Import(ctx, partnerID, partnersFile(), domain.ImportOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0, again.Created)
	assert.Equal(t, 2, again.Skipped)
	assert.Equal(t, 1, again.Errors)
	assert.Len(t, e.records(t, domain.AuditFilter{EntityID: partnerID}), 2)
}

func TestAtomicImportRollsBackEverything(t *testing.T) {
	e := newEnv(t)
	imp, _ := newImporter(e)

	batch, err := imp.Import(e.as(t, e.admin), partnerID, partnersFile(), domain.ImportOptions{Atomic: true})
	require.NoError(t, err)
	assert.Equal(t, domain.BatchFailed, batch.State)
	assert.Equal(t, 0, batch.Created)
	assert.Equal(t, 1, batch.Errors)
	require.Len(t, batch.Rows, 1)
	assert.Equal(t, 2, batch.Rows[0].Row)

	var partners int64
	require.NoError(t, e.db.R.Table("partners").Count(&partners).Error)
	assert.Zero(t, partners)
	assert.Zero(t, e.countRecords(t))
}

func TestImportRejectsHeaderProblems(t *testing.T) {
	e := newEnv(t)
	imp, batches := newImporter(e)
	ctx := e.as(t, e.admin)

	cases := map[string]string{
		"unknown column":  "document_number;first_name;third_party_type;colour\n1;Ana;X;red\n",
		"missing column":  "document_number;first_name\n1;Ana\n",
		"repeated column": "document_number;first_name;FIRST_NAME;third_party_type\n1;Ana;Ana;X\n",
		"empty file":      "",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			batch, err := imp.Import(ctx, partnerID, strings.NewReader(body), domain.ImportOptions{})
			assert.ErrorIs(t, err, domain.ErrInvalidHeader)
			assert.Equal(t, domain.BatchFailed, batch.State)

			stored, err := batches.Get(context.Background(), batch.ID)
			require.NoError(t, err)
			assert.Equal(t, domain.BatchFailed, stored.State)
			assert.NotEmpty(t, stored.Message)
		})
	}
}

func TestImportDecodesDeclaredEncoding(t *testing.T) {
	e := newEnv(t)
	imp, _ := newImporter(e)
	ctx := e.as(t, e.admin)

	latin, err := charmap.ISO8859_1.NewEncoder().String("document_number;first_name;third_party_type\n1001;Peña;Persona Natural\n")
	require.NoError(t, err)

	_, err = imp.Import(ctx, partnerID, strings.NewReader(latin), domain.ImportOptions{})
	assert.ErrorIs(t, err, domain.ErrInvalidEncoding)

	_, err = imp.Import(ctx, partnerID, strings.NewReader(latin), domain.ImportOptions{Encoding: "utf-16"})
	assert.ErrorIs(t, err, domain.ErrInvalidEncoding)

	batch, err := imp.Import(ctx, partnerID, strings.NewReader(latin), domain.ImportOptions{Encoding: "latin-1"})
	require.NoError(t, err)
	require.Equal(t, domain.BatchSuccess, batch.State)

	row, err := e.crud.Get(ctx, partnerID, batch.Rows[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "Peña", row["first_name"])
}

func TestImportStripsBOMAndHonoursDelimiter(t *testing.T) {
	e := newEnv(t)
	imp, _ := newImporter(e)

	body := "\xef\xbb\xbfDocument_Number,First_Name,Third_Party_Type\n1001,Ana,Persona Natural\n1002,Luis\n"
	batch, err := imp.Import(e.as(t, e.admin), partnerID, strings.NewReader(body), domain.ImportOptions{Delimiter: ','})
	require.NoError(t, err)
	assert.Equal(t, 1, batch.Created)
	require.Len(t, batch.Rows, 2)
	assert.Contains(t, batch.Rows[1].Message, "se esperaban 3 columnas")
}

func TestImportNeedsAddPermission(t *testing.T) {
	e := newEnv(t)
	imp, _ := newImporter(e)

	_, err := imp.Import(e.as(t, e.clerk), partnerID, partnersFile(), domain.ImportOptions{})
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	var n int64
	require.NoError(t, e.db.R.Table("import_batches").Count(&n).Error)
	assert.Zero(t, n)
}

func TestImportReportsMalformedLineAndKeepsGoing(t *testing.T) {
	e := newEnv(t)
	imp, _ := newImporter(e)
	ctx := e.as(t, e.admin)

	body := strings.Join([]string{
		"document_type;document_number;first_name;third_party_type",
		"CC;1001;Ana;Persona Natural",
		`CC;1002;Lu"is;Persona Natural`,
		"CC;1003;Marta;Persona Natural",
	}, "\n") + "\n"

	batch, err := imp.Import(ctx, partnerID, strings.NewReader(body), domain.ImportOptions{})
	require.NoError(t, err)
	assert.Equal(t, domain.BatchPartial, batch.State)
	assert.Equal(t, 2, batch.Created)
	assert.Equal(t, 1, batch.Errors)
	require.Len(t, batch.Rows, 3)
	assert.Equal(t, 2, batch.Rows[1].Row)
	assert.Equal(t, "parse", batch.Rows[1].Kind)
	assert.True(t, strings.HasPrefix(batch.Rows[1].Message, "Fila 2: formato inválido"), batch.Rows[1].Message)
	assert.Equal(t, domain.OutcomeCreated, batch.Rows[2].Outcome)

	atomic, err := imp.Import(ctx, partnerID, strings.NewReader(strings.Replace(body, "1001", "2001", 1)), domain.ImportOptions{Atomic: true})
	require.NoError(t, err)
	assert.Equal(t, domain.BatchFailed, atomic.State)
	assert.Zero(t, atomic.Created)
	require.Len(t, atomic.Rows, 1)
	assert.Equal(t, "parse", atomic.Rows[0].Kind)
}

func TestImportUpdateLeavesMissingColumnsAlone(t *testing.T) {
	e := newEnv(t)
	imp, _ := newImporter(e)
	ctx := e.as(t, e.admin)

	desc, err := e.registry.Lookup(partnerID)
	require.NoError(t, err)
	for i := range desc.Fields {
		if desc.Fields[i].Name == "is_active" {
			desc.Fields[i].Default = true
		}
	}

	id, err := e.crud.Create(ctx, partnerID, map[string]any{"document_number": "1001", "first_name": "Ana", "third_party_type": "Persona Natural"})
	require.NoError(t, err)
	active, err := e.crud.ToggleStatus(ctx, partnerID, id)
	require.NoError(t, err)
	require.False(t, active)

	body := "document_number;first_name;third_party_type\n1001;Ana María;Persona Natural\n1002;Luis;Persona Natural\n"
	batch, err := imp.Import(ctx, partnerID, strings.NewReader(body), domain.ImportOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, batch.Updated)
	assert.Equal(t, 1, batch.Created)

	updated, err := e.crud.Get(ctx, partnerID, id)
	require.NoError(t, err)
	assert.Equal(t, "Ana María", updated["first_name"])
	assert.False(t, domain.AsBool(updated["is_active"]))

	created, err := e.crud.Get(ctx, partnerID, batch.Rows[1].ID)
	require.NoError(t, err)
	assert.True(t, domain.AsBool(created["is_active"]))
}

func TestImportWithoutChangePermissionOnlyCreates(t *testing.T) {
	e := newEnv(t)
	imp, _ := newImporter(e)

	id, err := e.crud.Create(e.as(t, e.admin), partnerID, map[string]any{"document_number": "1001", "first_name": "Ana", "third_party_type": "Persona Natural"})
	require.NoError(t, err)

	loader, err := e.users.Upsert(context.Background(), domain.User{
		Username:     "loader",
		PasswordHash: "x",
		Active:       true,
		Permissions:  map[string]bool{"third_party.add_partner": true},
	})
	require.NoError(t, err)

	body := "document_number;first_name;third_party_type\n1001;Ana María;Persona Natural\n1002;Luis;Persona Natural\n1001;Ana;Persona Natural\n"
	batch, err := imp.Import(e.as(t, loader), partnerID, strings.NewReader(body), domain.ImportOptions{})
	require.NoError(t, err)
	assert.Equal(t, domain.BatchPartial, batch.State)
	assert.Equal(t, 1, batch.Created)
	assert.Equal(t, 1, batch.Skipped)
	assert.Equal(t, 1, batch.Errors)
	require.Len(t, batch.Rows, 3)
	assert.Equal(t, "unauthorized", batch.Rows[0].Kind)

	stored, err := e.crud.Get(e.as(t, e.admin), partnerID, id)
	require.NoError(t, err)
	assert.Equal(t, "Ana", stored["first_name"])
}
