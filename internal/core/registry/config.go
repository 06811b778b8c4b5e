package registry

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/jaico1231/paola-sub001/internal/core/domain"
)

// EntityConfig overrides the catalog defaults of one entity.
type EntityConfig struct {
	ID               string   `yaml:"id"`
	AuditOn          []string `yaml:"audit_on"`
	ListFields       []string `yaml:"list_fields"`
	SearchFields     []string `yaml:"search_fields"`
	ImportFields     []string `yaml:"import_fields"`
	ExportFields     []string `yaml:"export_fields"`
	OrderBy          []string `yaml:"order_by"`
	PermissionPrefix string   `yaml:"permission_prefix"`
	DisplaySingular  string   `yaml:"display_singular"`
	DisplayPlural    string   `yaml:"display_plural"`
}

type Config struct {
	Entities []EntityConfig `yaml:"entities"`
}

func LoadConfig(r io.Reader) (Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode entity config: %w", err)
	}
	return cfg, nil
}

// Build registers every entity enumerated by cfg, overlaying its options on the
// matching base descriptor. Entities missing from cfg are not registered.
func Build(base []*domain.EntityDescriptor, cfg Config) (*Registry, error) {
	byID := make(map[string]*domain.EntityDescriptor, len(base))
	for _, d := range base {
		byID[d.ID()] = d
	}

	reg := New()
	for _, ec := range cfg.Entities {
		d, ok := byID[ec.ID]
		if !ok {
			return nil, fmt.Errorf("entity config: %w: %s", domain.ErrUnknownEntity, ec.ID)
		}
		merged, err := apply(d.Clone(), ec)
		if err != nil {
			return nil, fmt.Errorf("entity config %s: %w", ec.ID, err)
		}
		if err := reg.Register(merged); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func apply(d *domain.EntityDescriptor, ec EntityConfig) (*domain.EntityDescriptor, error) {
	if ec.AuditOn != nil {
		set, err := domain.ParseAuditSet(ec.AuditOn)
		if err != nil {
			return nil, err
		}
		d.AuditOn = set
	}
	if d.AuditOn == nil {
		d.AuditOn = domain.DefaultAuditSet()
	}

	lists := []struct {
		name string
		src  []string
		dst  *[]string
	}{
		{"list_fields", ec.ListFields, &d.ListFields},
		{"search_fields", ec.SearchFields, &d.SearchFields},
		{"import_fields", ec.ImportFields, &d.ImportFields},
		{"export_fields", ec.ExportFields, &d.ExportFields},
	}
	for _, l := range lists {
		if l.src == nil {
			continue
		}
		if err := knownFields(d, l.name, l.src); err != nil {
			return nil, err
		}
		*l.dst = append([]string(nil), l.src...)
	}
	if ec.OrderBy != nil {
		names := make([]string, 0, len(ec.OrderBy))
		for _, o := range ec.OrderBy {
			names = append(names, trimDesc(o))
		}
		if err := knownFields(d, "order_by", names); err != nil {
			return nil, err
		}
		d.OrderBy = append([]string(nil), ec.OrderBy...)
	}
	if ec.PermissionPrefix != "" {
		d.PermissionPrefix = ec.PermissionPrefix
	}
	if ec.DisplaySingular != "" {
		d.DisplaySingular = ec.DisplaySingular
	}
	if ec.DisplayPlural != "" {
		d.DisplayPlural = ec.DisplayPlural
	}
	return d, nil
}

func knownFields(d *domain.EntityDescriptor, option string, names []string) error {
	for _, n := range names {
		if n == "id" {
			continue
		}
		if _, ok := d.Field(n); !ok {
			return fmt.Errorf("%s: unknown field %q", option, n)
		}
	}
	return nil
}

func trimDesc(s string) string {
	if len(s) > 0 && s[0] == '-' {
		return s[1:]
	}
	return s
}
