package usecase

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sirupsen/logrus"

	"github.com/jaico1231/paola-sub001/internal/core/domain"
	"github.com/jaico1231/paola-sub001/internal/core/ports"
	"github.com/jaico1231/paola-sub001/internal/core/uow"
	"github.com/jaico1231/paola-sub001/internal/platform/metrics"
)

const (
	DefaultPDFCacheTTL  = 10 * time.Minute
	defaultPDFCacheSize = 128
)

// ExportService renders list results in the requested format. Rendered PDFs
// are cached by content: the key changes whenever any matched row does.
type ExportService struct {
	crud      *CrudService
	store     ports.EntityStore
	renderers map[domain.ExportFormat]ports.ExportRenderer
	cache     *expirable.LRU[string, []byte]
	logo      string
	metrics   *metrics.Metrics
	log       *logrus.Logger
}

type ExportOption func(*ExportService)

func WithLogo(path string) ExportOption {
	return func(s *ExportService) { s.logo = path }
}

func WithPDFCacheTTL(ttl time.Duration) ExportOption {
	return func(s *ExportService) {
		if ttl > 0 {
			s.cache = expirable.NewLRU[string, []byte](defaultPDFCacheSize, nil, ttl)
		}
	}
}

func WithExportMetrics(m *metrics.Metrics) ExportOption {
	return func(s *ExportService) { s.metrics = m }
}

func NewExportService(crud *CrudService, store ports.EntityStore, renderers []ports.ExportRenderer, log *logrus.Logger, opts ...ExportOption) *ExportService {
	s := &ExportService{
		crud:      crud,
		store:     store,
		renderers: make(map[domain.ExportFormat]ports.ExportRenderer, len(renderers)),
		cache:     expirable.NewLRU[string, []byte](defaultPDFCacheSize, nil, DefaultPDFCacheTTL),
		log:       log,
	}
	for _, r := range renderers {
		s.renderers[r.Format()] = r
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Export renders every row matching q. refresh skips the PDF cache and
// replaces the cached entry.
func (s *ExportService) Export(ctx context.Context, entityID string, format domain.ExportFormat, q domain.ListQuery, refresh bool) (domain.ExportResult, error) {
	desc, err := s.crud.Descriptor(ctx, entityID, domain.VerbView)
	if err != nil {
		return domain.ExportResult{}, err
	}
	renderer, ok := s.renderers[format]
	if !ok {
		return domain.ExportResult{}, fmt.Errorf("unsupported export format %q", format)
	}
	q.All = true
	now := uow.From(ctx).Now()
	result := domain.ExportResult{
		ContentType: renderer.ContentType(),
		FileName:    fmt.Sprintf("%s_%s.%s", desc.Name, now.Format("20060102_150405"), format),
	}

	var key string
	if format == domain.FormatPDF {
		stamp, err := s.store.Stamp(ctx, desc, q)
		if err != nil {
			return domain.ExportResult{}, err
		}
		key = cacheKey(desc, q, stamp)
		if !refresh {
			if body, ok := s.cache.Get(key); ok {
				s.metrics.ExportCache(desc.ID(), true)
				result.Body = body
				result.Cached = true
				return result, nil
			}
		}
		s.metrics.ExportCache(desc.ID(), false)
	}

	rows, _, err := s.store.List(ctx, desc, q)
	if err != nil {
		return domain.ExportResult{}, err
	}
	doc := domain.ExportDocument{
		Title:       plural(desc),
		GeneratedAt: now,
		Columns:     desc.Columns(exportFields(desc)),
		Logo:        s.logo,
	}
	for _, row := range rows {
		doc.Rows = append(doc.Rows, cells(desc, present(desc, row), doc.Columns))
	}

	var buf bytes.Buffer
	if err := renderer.Render(&buf, doc); err != nil {
		return domain.ExportResult{}, fmt.Errorf("render %s export: %w", format, err)
	}
	result.Body = buf.Bytes()
	if key != "" {
		s.cache.Add(key, result.Body)
	}
	s.metrics.Exported(desc.ID(), string(format))
	s.log.WithFields(logrus.Fields{"entity": desc.ID(), "format": format, "rows": len(rows)}).Debug("export rendered")
	return result, nil
}

// cacheKey hashes everything that determines the rendered bytes.
func cacheKey(desc *domain.EntityDescriptor, q domain.ListQuery, stamp domain.DataStamp) string {
	h := sha256.New()
	for _, part := range []string{
		desc.ID(),
		q.Fingerprint(),
		stamp.LastModified,
		strconv.FormatInt(stamp.Count, 10),
		strconv.FormatInt(stamp.MaxID, 10),
		stamp.Related,
	} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// cells renders one row for display: relations show their label, booleans
// read Sí/No.
func cells(desc *domain.EntityDescriptor, row domain.Row, cols []domain.ColumnHint) []string {
	out := make([]string, len(cols))
	for i, col := range cols {
		v := row[col.Name]
		switch col.Kind {
		case domain.KindRelation:
			if label, ok := row[col.Name+"_display"]; ok && label != nil {
				v = label
			}
		case domain.KindBoolean:
			if v != nil {
				v = domain.AsBool(v)
			}
		}
		out[i] = domain.Stringify(v)
	}
	return out
}

func exportFields(desc *domain.EntityDescriptor) []string {
	if len(desc.ExportFields) > 0 {
		return desc.ExportFields
	}
	return listFields(desc)
}
