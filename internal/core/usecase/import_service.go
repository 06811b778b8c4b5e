package usecase

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/text/encoding/charmap"

	"github.com/jaico1231/paola-sub001/internal/core/domain"
	"github.com/jaico1231/paola-sub001/internal/core/ports"
	"github.com/jaico1231/paola-sub001/internal/core/uow"
	"github.com/jaico1231/paola-sub001/internal/platform/metrics"
)

const (
	DefaultImportDelimiter = ';'
	DefaultImportEncoding  = "utf-8"
)

var errAtomicAbort = errors.New("atomic import aborted")

// ImportService loads delimited files into an entity, one CREATE (or upsert)
// per data row. Updating an existing row also needs the change permission.
type ImportService struct {
	crud    *CrudService
	store   ports.EntityStore
	batches ports.ImportBatchRepository
	metrics *metrics.Metrics
	log     *logrus.Logger
}

func NewImportService(crud *CrudService, store ports.EntityStore, batches ports.ImportBatchRepository, m *metrics.Metrics, log *logrus.Logger) *ImportService {
	return &ImportService{crud: crud, store: store, batches: batches, metrics: m, log: log}
}

// Import runs a batch through received → validating → processing and settles
// it. The batch is persisted at every step. A header or encoding problem fails
// the batch and is also returned as the error.
func (s *ImportService) Import(ctx context.Context, entityID string, r io.Reader, opts domain.ImportOptions) (domain.ImportBatch, error) {
	desc, err := s.crud.Descriptor(ctx, entityID, domain.VerbAdd)
	if err != nil {
		return domain.ImportBatch{}, err
	}
	allowUpdate := authorize(ctx, desc.Permission(domain.VerbChange)) == nil
	if opts.Encoding == "" {
		opts.Encoding = DefaultImportEncoding
	}
	if opts.Delimiter == 0 {
		opts.Delimiter = DefaultImportDelimiter
	}

	scope := uow.From(ctx)
	batch := domain.ImportBatch{
		ID:        uuid.NewString(),
		EntityID:  desc.ID(),
		FileName:  opts.FileName,
		Encoding:  opts.Encoding,
		Atomic:    opts.Atomic,
		State:     domain.BatchReceived,
		ActorID:   scope.ActorID(),
		StartedAt: scope.Now(),
	}
	if err := s.batches.Save(ctx, batch); err != nil {
		return batch, err
	}

	if err := batch.Advance(domain.BatchValidating); err != nil {
		return batch, err
	}
	header, records, err := readTable(r, opts)
	if err == nil {
		err = checkHeader(desc, header)
	}
	if err != nil {
		return s.fail(ctx, batch, err)
	}

	if err := batch.Advance(domain.BatchProcessing); err != nil {
		return batch, err
	}
	if err := s.batches.Save(ctx, batch); err != nil {
		return batch, err
	}

	if opts.Atomic {
		err = s.processAtomic(ctx, desc, header, records, allowUpdate, &batch)
	} else {
		err = s.processRows(ctx, desc, header, records, allowUpdate, &batch)
	}
	if err != nil {
		return s.fail(ctx, batch, err)
	}

	final := batch.Settle()
	if err := batch.Advance(final); err != nil {
		return batch, err
	}
	batch.Message = summary(batch)
	finished := scope.Now()
	batch.FinishedAt = &finished
	if err := s.batches.Save(ctx, batch); err != nil {
		return batch, err
	}

	s.log.WithFields(logrus.Fields{
		"entity":  desc.ID(),
		"batch":   batch.ID,
		"state":   batch.State,
		"created": batch.Created,
		"updated": batch.Updated,
		"skipped": batch.Skipped,
		"errors":  batch.Errors,
	}).Info("import finished")
	return batch, nil
}

func (s *ImportService) Batch(ctx context.Context, id string) (domain.ImportBatch, error) {
	return s.batches.Get(ctx, id)
}

// processRows gives each row its own transaction so one bad row never undoes
// the others.
func (s *ImportService) processRows(ctx context.Context, desc *domain.EntityDescriptor, header []string, records []tableRow, allowUpdate bool, batch *domain.ImportBatch) error {
	for i, rec := range records {
		if err := ctx.Err(); err != nil {
			return err
		}
		n := i + 1
		row, outcome := s.prepare(desc, header, rec, n, allowUpdate)
		if outcome != nil {
			s.record(batch, desc, *outcome)
			continue
		}
		var kind domain.RowOutcomeKind
		var id int64
		err := s.store.Write(ctx, func(tx ports.EntityTx) error {
			var err error
			kind, id, err = s.crud.upsert(tx, desc, row)
			return err
		})
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			s.record(batch, desc, rowError(n, err))
			continue
		}
		s.record(batch, desc, domain.RowOutcome{Row: n, Outcome: kind, ID: id})
	}
	return nil
}

// processAtomic applies every row in one transaction. Row errors are still
// collected so the report lists all of them, then the whole batch rolls back.
func (s *ImportService) processAtomic(ctx context.Context, desc *domain.EntityDescriptor, header []string, records []tableRow, allowUpdate bool, batch *domain.ImportBatch) error {
	var outcomes []domain.RowOutcome
	failed := false
	err := s.store.Write(ctx, func(tx ports.EntityTx) error {
		for i, rec := range records {
			if err := ctx.Err(); err != nil {
				return err
			}
			n := i + 1
			row, outcome := s.prepare(desc, header, rec, n, allowUpdate)
			if outcome != nil {
				outcomes = append(outcomes, *outcome)
				failed = true
				continue
			}
			kind, id, err := s.crud.upsert(tx, desc, row)
			if err != nil {
				outcomes = append(outcomes, rowError(n, err))
				failed = true
				continue
			}
			outcomes = append(outcomes, domain.RowOutcome{Row: n, Outcome: kind, ID: id})
		}
		if failed {
			return errAtomicAbort
		}
		return nil
	})
	if err != nil && !errors.Is(err, errAtomicAbort) {
		return err
	}
	for _, o := range outcomes {
		if failed && o.Outcome != domain.OutcomeError {
			continue
		}
		s.record(batch, desc, o)
	}
	return nil
}

// prepare cleans and validates one record. A non-nil outcome reports a row
// that must not be written.
func (s *ImportService) prepare(desc *domain.EntityDescriptor, header []string, rec tableRow, n int, allowUpdate bool) (upsertRow, *domain.RowOutcome) {
	if rec.err != nil {
		o := domain.RowOutcome{
			Row:     n,
			Outcome: domain.OutcomeError,
			Kind:    "parse",
			Message: fmt.Sprintf("Fila %d: formato inválido: %v", n, rec.err),
		}
		return upsertRow{}, &o
	}
	if len(rec.cells) != len(header) {
		o := domain.RowOutcome{
			Row:     n,
			Outcome: domain.OutcomeError,
			Kind:    "validation",
			Message: fmt.Sprintf("Fila %d: se esperaban %d columnas y se recibieron %d", n, len(header), len(rec.cells)),
		}
		return upsertRow{}, &o
	}
	raw := make(map[string]any, len(header))
	for i, name := range header {
		cell := strings.TrimSpace(rec.cells[i])
		if clean, ok := desc.Cleaners[name]; ok {
			cell = clean(cell)
		}
		raw[name] = cell
	}
	values, ve := s.crud.validator.Clean(desc, raw, false)
	if ve != nil {
		o := rowError(n, ve)
		return upsertRow{}, &o
	}
	return newUpsertRow(values, raw, allowUpdate), nil
}

func (s *ImportService) record(batch *domain.ImportBatch, desc *domain.EntityDescriptor, o domain.RowOutcome) {
	batch.Record(o)
	s.metrics.ImportRow(desc.ID(), string(o.Outcome))
}

func (s *ImportService) fail(ctx context.Context, batch domain.ImportBatch, cause error) (domain.ImportBatch, error) {
	if err := batch.Advance(domain.BatchFailed); err != nil {
		return batch, errors.Join(cause, err)
	}
	batch.Created, batch.Updated, batch.Skipped = 0, 0, 0
	batch.Message = cause.Error()
	finished := uow.From(ctx).Now()
	batch.FinishedAt = &finished
	if err := s.batches.Save(context.WithoutCancel(ctx), batch); err != nil {
		s.log.WithError(err).WithField("batch", batch.ID).Warn("persist failed import batch")
	}
	return batch, cause
}

func rowError(n int, err error) domain.RowOutcome {
	o := domain.RowOutcome{Row: n, Outcome: domain.OutcomeError, Kind: "error"}
	var ve *domain.ValidationError
	var dup *domain.DuplicateKeyError
	switch {
	case errors.As(err, &ve):
		o.Kind = "validation"
		o.Field = ve.FirstField()
		o.Message = fmt.Sprintf("Fila %d: %s: %s", n, o.Field, strings.Join(ve.Fields[o.Field], ", "))
		if o.Field == "" {
			o.Message = fmt.Sprintf("Fila %d: %s", n, strings.Join(ve.Fields[""], ", "))
		}
		return o
	case errors.As(err, &dup):
		o.Kind = "duplicate_key"
		o.Field = dup.Field
		o.Message = fmt.Sprintf("Fila %d: %s: ya existe un registro con este valor", n, dup.Field)
		return o
	case errors.Is(err, domain.ErrUnauthorized):
		o.Kind = "unauthorized"
		o.Message = fmt.Sprintf("Fila %d: no tiene permiso para modificar el registro existente", n)
		return o
	}
	o.Message = fmt.Sprintf("Fila %d: %v", n, err)
	return o
}

func summary(b domain.ImportBatch) string {
	return fmt.Sprintf("Creados: %d, actualizados: %d, omitidos: %d, errores: %d", b.Created, b.Updated, b.Skipped, b.Errors)
}

// tableRow is one data record, or the parse error that replaced it.
type tableRow struct {
	cells []string
	err   error
}

// readTable decodes r with the declared encoding and splits it into a header
// and data records. Blank lines are skipped by the csv reader. A malformed
// data line becomes a row carrying its parse error; reading resumes on the
// next line.
func readTable(r io.Reader, opts domain.ImportOptions) ([]string, []tableRow, error) {
	body, err := io.ReadAll(r)
	if err != nil {
		return nil, nil, fmt.Errorf("read upload: %w", err)
	}
	body, err = decode(body, opts.Encoding)
	if err != nil {
		return nil, nil, err
	}

	reader := csv.NewReader(bytes.NewReader(body))
	reader.Comma = opts.Delimiter
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil, fmt.Errorf("%w: empty file", domain.ErrInvalidHeader)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", domain.ErrInvalidHeader, err)
	}

	var rows []tableRow
	for {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		var perr *csv.ParseError
		if errors.As(err, &perr) {
			rows = append(rows, tableRow{err: perr.Err})
			continue
		}
		if err != nil {
			return nil, nil, fmt.Errorf("read upload: %w", err)
		}
		rows = append(rows, tableRow{cells: rec})
	}
	return header, rows, nil
}

func decode(body []byte, encoding string) ([]byte, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "utf-8", "utf8":
		if !utf8.Valid(body) {
			return nil, fmt.Errorf("%w: file is not valid utf-8", domain.ErrInvalidEncoding)
		}
		return bytes.TrimPrefix(body, []byte("\xef\xbb\xbf")), nil
	case "latin-1", "latin1", "iso-8859-1":
		out, err := charmap.ISO8859_1.NewDecoder().Bytes(body)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrInvalidEncoding, err)
		}
		return out, nil
	case "windows-1252", "cp1252":
		out, err := charmap.Windows1252.NewDecoder().Bytes(body)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrInvalidEncoding, err)
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: %q", domain.ErrInvalidEncoding, encoding)
}

// checkHeader normalizes header cells in place and rejects unknown columns
// and missing required ones.
func checkHeader(desc *domain.EntityDescriptor, header []string) error {
	allowed := importFields(desc)
	known := make(map[string]bool, len(allowed))
	for _, name := range allowed {
		known[name] = true
	}
	seen := make(map[string]bool, len(header))
	var unknown []string
	for i, cell := range header {
		name := strings.ToLower(strings.TrimSpace(cell))
		header[i] = name
		if !known[name] {
			unknown = append(unknown, cell)
			continue
		}
		if seen[name] {
			return fmt.Errorf("%w: column %q repeated", domain.ErrInvalidHeader, name)
		}
		seen[name] = true
	}
	if len(unknown) > 0 {
		return fmt.Errorf("%w: unknown columns %s", domain.ErrInvalidHeader, strings.Join(unknown, ", "))
	}
	var missing []string
	for _, name := range allowed {
		if f, ok := desc.Field(name); ok && f.Required && f.Default == nil && !seen[name] {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing required columns %s", domain.ErrInvalidHeader, strings.Join(missing, ", "))
	}
	return nil
}

func importFields(desc *domain.EntityDescriptor) []string {
	if len(desc.ImportFields) > 0 {
		return desc.ImportFields
	}
	names := make([]string, 0, len(desc.Fields))
	for _, f := range desc.StoredFields() {
		names = append(names, f.Name)
	}
	return names
}
