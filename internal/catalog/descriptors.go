// Package catalog holds the entities of the ERP: their base descriptors, the
// YAML overlay that tunes them per deployment and the canonical seed data.
package catalog

import (
	"strconv"
	"strings"
	"time"

	"github.com/jaico1231/paola-sub001/internal/core/domain"
)

const (
	PersonNatural  = "Persona Natural"
	PersonJuridica = "Persona Jurídica"

	// InactivityWindow is how long a partner may go without activity before
	// the inactive filter matches it.
	InactivityWindow = 180 * 24 * time.Hour
)

var documentTypes = []string{"CC", "NIT", "CE", "TI", "PP", "RC", "NUIP"}

// AppLabels names the menu group of each app.
var AppLabels = map[string]string{
	"base":        "Datos básicos",
	"third_party": "Terceros",
	"accounting":  "Contabilidad",
}

// Descriptors returns fresh base descriptors in registration order. Relations
// point at entities earlier in the list.
func Descriptors() []*domain.EntityDescriptor {
	return []*domain.EntityDescriptor{
		country(),
		state(),
		city(),
		docType(),
		thirdPartyType(),
		partner(),
		account(),
		journalEntry(),
	}
}

func country() *domain.EntityDescriptor {
	return &domain.EntityDescriptor{
		App:             "base",
		Name:            "country",
		Table:           "countries",
		DisplaySingular: "País",
		DisplayPlural:   "Países",
		DisplayFields:   []string{"name"},
		SearchFields:    []string{"code", "name"},
		OrderBy:         []string{"name"},
		Fields: []domain.Field{
			{Name: "code", Label: "Código", Kind: domain.KindText, Required: true, Unique: true, MaxLength: 3},
			{Name: "name", Label: "Nombre", Kind: domain.KindText, Required: true, MaxLength: 100},
		},
		Cleaners:   map[string]domain.Cleaner{"code": strings.ToUpper},
		UniqueKey:  "code",
		Timestamps: true,
		AuditOn:    domain.DefaultAuditSet(),
	}
}

func state() *domain.EntityDescriptor {
	return &domain.EntityDescriptor{
		App:             "base",
		Name:            "state",
		Table:           "states",
		DisplaySingular: "Departamento",
		DisplayPlural:   "Departamentos",
		DisplayFields:   []string{"name"},
		SearchFields:    []string{"code", "name"},
		OrderBy:         []string{"name"},
		ListFields:      []string{"code", "name", "country_id"},
		Fields: []domain.Field{
			{Name: "code", Label: "Código", Kind: domain.KindText, Required: true, Unique: true, MaxLength: 5},
			{Name: "name", Label: "Nombre", Kind: domain.KindText, Required: true, MaxLength: 100},
			{Name: "country_id", Label: "País", Kind: domain.KindRelation, Required: true, Relation: &domain.Relation{Table: "countries", Display: []string{"name"}}},
		},
		UniqueKey:  "code",
		Timestamps: true,
		AuditOn:    domain.DefaultAuditSet(),
	}
}

func city() *domain.EntityDescriptor {
	return &domain.EntityDescriptor{
		App:             "base",
		Name:            "city",
		Table:           "cities",
		DisplaySingular: "Ciudad",
		DisplayPlural:   "Ciudades",
		DisplayFields:   []string{"name"},
		SearchFields:    []string{"code", "name"},
		OrderBy:         []string{"name"},
		ListFields:      []string{"code", "name", "state_id"},
		Fields: []domain.Field{
			{Name: "code", Label: "Código DANE", Kind: domain.KindText, Required: true, Unique: true, MaxLength: 8},
			{Name: "name", Label: "Nombre", Kind: domain.KindText, Required: true, MaxLength: 100},
			{Name: "state_id", Label: "Departamento", Kind: domain.KindRelation, Required: true, Relation: &domain.Relation{Table: "states", Display: []string{"name"}}},
		},
		UniqueKey:  "code",
		Timestamps: true,
		AuditOn:    domain.DefaultAuditSet(),
	}
}

func docType() *domain.EntityDescriptor {
	return &domain.EntityDescriptor{
		App:             "base",
		Name:            "doc_type",
		Table:           "doc_types",
		DisplaySingular: "Tipo de documento",
		DisplayPlural:   "Tipos de documento",
		DisplayFields:   []string{"code", "name"},
		SearchFields:    []string{"code", "name"},
		OrderBy:         []string{"code"},
		Fields: []domain.Field{
			{Name: "code", Label: "Código", Kind: domain.KindText, Required: true, Unique: true, MaxLength: 10},
			{Name: "name", Label: "Nombre", Kind: domain.KindText, Required: true, MaxLength: 100},
			{Name: "is_active", Label: "Activo", Kind: domain.KindBoolean, Default: true},
		},
		Cleaners:    map[string]domain.Cleaner{"code": strings.ToUpper},
		UniqueKey:   "code",
		StatusField: "is_active",
		Timestamps:  true,
		AuditOn:     domain.DefaultAuditSet(),
	}
}

func thirdPartyType() *domain.EntityDescriptor {
	return &domain.EntityDescriptor{
		App:             "third_party",
		Name:            "third_party_type",
		Table:           "third_party_types",
		DisplaySingular: "Tipo de tercero",
		DisplayPlural:   "Tipos de tercero",
		DisplayFields:   []string{"name"},
		SearchFields:    []string{"code", "name"},
		OrderBy:         []string{"name"},
		Fields: []domain.Field{
			{Name: "code", Label: "Código", Kind: domain.KindText, Required: true, Unique: true, MaxLength: 10},
			{Name: "name", Label: "Nombre", Kind: domain.KindText, Required: true, MaxLength: 100},
			{Name: "is_active", Label: "Activo", Kind: domain.KindBoolean, Default: true},
		},
		UniqueKey:   "code",
		StatusField: "is_active",
		Timestamps:  true,
		AuditOn:     domain.DefaultAuditSet(),
	}
}

func partner() *domain.EntityDescriptor {
	return &domain.EntityDescriptor{
		App:             "third_party",
		Name:            "partner",
		Table:           "partners",
		DisplaySingular: "Tercero",
		DisplayPlural:   "Terceros",
		DisplayFields:   []string{"first_name", "last_name"},
		SearchFields:    []string{"document_number", "first_name", "last_name", "company_name", "trade_name", "email"},
		OrderBy:         []string{"last_name", "first_name"},
		ListFields:      []string{"document_number", "first_name", "last_name", "company_name", "city_id", "is_active"},
		ImportFields: []string{
			"document_type", "document_number", "first_name", "last_name", "company_name", "trade_name",
			"third_party_type", "email", "mobile", "landline", "address", "city_id",
		},
		Fields: []domain.Field{
			{Name: "document_type", Label: "Tipo de documento", Kind: domain.KindEnum, Choices: documentTypes},
			{Name: "document_number", Label: "Número de documento", Kind: domain.KindText, Required: true, Unique: true, MaxLength: 20},
			{Name: "first_name", Label: "Nombre", Kind: domain.KindText, Required: true, MaxLength: 100},
			{Name: "last_name", Label: "Apellido", Kind: domain.KindText, MaxLength: 100},
			{Name: "company_name", Label: "Razón social", Kind: domain.KindText, MaxLength: 200},
			{Name: "trade_name", Label: "Nombre comercial", Kind: domain.KindText, MaxLength: 200},
			{Name: "third_party_type", Label: "Tipo de tercero", Kind: domain.KindEnum, Required: true, Choices: []string{PersonNatural, PersonJuridica}},
			{Name: "email", Label: "Correo electrónico", Kind: domain.KindText, Unique: true, MaxLength: 254, Pattern: `^[^@\s]+@[^@\s]+\.[^@\s]+$`},
			{Name: "mobile", Label: "Celular", Kind: domain.KindText, MaxLength: 20},
			{Name: "landline", Label: "Teléfono fijo", Kind: domain.KindText, MaxLength: 20},
			{Name: "address", Label: "Dirección", Kind: domain.KindText, MaxLength: 200},
			{Name: "city_id", Label: "Ciudad", Kind: domain.KindRelation, Relation: &domain.Relation{Table: "cities", Display: []string{"name"}}},
			{Name: "image", Label: "Imagen", Kind: domain.KindImage},
			{Name: "last_activity", Label: "Última actividad", Kind: domain.KindDateTime},
			{Name: "is_active", Label: "Activo", Kind: domain.KindBoolean, Default: true},
		},
		Cleaners: map[string]domain.Cleaner{
			"document_type": strings.ToUpper,
			"email":         strings.ToLower,
		},
		Filters: map[string]domain.NamedFilter{
			"missing":  missingContact,
			"inactive": inactiveSince,
		},
		Validate:      requireCompanyName,
		UniqueKey:     "document_number",
		StatusField:   "is_active",
		TracksAuthors: true,
		Timestamps:    true,
		AuditOn:       domain.DefaultAuditSet(),
	}
}

// requireCompanyName rejects juridical persons without a registered name.
func requireCompanyName(row domain.Row) *domain.ValidationError {
	if domain.Stringify(row["third_party_type"]) != PersonJuridica {
		return nil
	}
	if strings.TrimSpace(domain.Stringify(row["company_name"])) != "" {
		return nil
	}
	ve := domain.NewValidationError()
	ve.Add("company_name", "La razón social es obligatoria para personas jurídicas.")
	return ve
}

func missingContact(value string, _ time.Time) ([]domain.Predicate, bool) {
	switch value {
	case "email":
		return []domain.Predicate{{{Field: "email", Op: domain.OpEmpty}}}, true
	case "phone":
		return []domain.Predicate{
			{{Field: "mobile", Op: domain.OpEmpty}},
			{{Field: "landline", Op: domain.OpEmpty}},
		}, true
	case "address":
		return []domain.Predicate{{{Field: "address", Op: domain.OpEmpty}}}, true
	}
	return nil, false
}

func inactiveSince(value string, now time.Time) ([]domain.Predicate, bool) {
	if !domain.AsBool(value) {
		return nil, false
	}
	cutoff := now.Add(-InactivityWindow).UTC().Format(domain.TimeLayout)
	return []domain.Predicate{{
		{Field: "last_activity", Op: domain.OpEmpty},
		{Field: "last_activity", Op: domain.OpBefore, Value: cutoff},
	}}, true
}

func account() *domain.EntityDescriptor {
	return &domain.EntityDescriptor{
		App:             "accounting",
		Name:            "account",
		Table:           "accounts",
		DisplaySingular: "Cuenta",
		DisplayPlural:   "Plan de cuentas",
		DisplayFields:   []string{"code", "name"},
		SearchFields:    []string{"code", "name"},
		OrderBy:         []string{"code"},
		ListFields:      []string{"code", "name", "nature", "level", "parent_id", "is_active"},
		Fields: []domain.Field{
			{Name: "code", Label: "Código", Kind: domain.KindText, Required: true, Unique: true, MaxLength: 12, Pattern: `^[0-9]+$`},
			{Name: "name", Label: "Nombre", Kind: domain.KindText, Required: true, MaxLength: 150},
			{Name: "nature", Label: "Naturaleza", Kind: domain.KindEnum, Required: true, Choices: []string{"Débito", "Crédito"}},
			{Name: "level", Label: "Nivel", Kind: domain.KindNumber, Required: true},
			{Name: "parent_id", Label: "Cuenta padre", Kind: domain.KindRelation, Relation: &domain.Relation{Table: "accounts", Display: []string{"code", "name"}}},
			{Name: "is_active", Label: "Activa", Kind: domain.KindBoolean, Default: true},
		},
		UniqueKey:     "code",
		StatusField:   "is_active",
		SoftDelete:    true,
		TracksAuthors: true,
		Timestamps:    true,
		AuditOn:       domain.DefaultAuditSet(),
	}
}

func journalEntry() *domain.EntityDescriptor {
	return &domain.EntityDescriptor{
		App:             "accounting",
		Name:            "journal_entry",
		Table:           "journal_entries",
		DisplaySingular: "Asiento contable",
		DisplayPlural:   "Asientos contables",
		DisplayFields:   []string{"number"},
		SearchFields:    []string{"number", "description"},
		OrderBy:         []string{"-entry_date", "number"},
		ListFields:      []string{"number", "entry_date", "partner_id", "account_id", "debit", "credit"},
		Fields: []domain.Field{
			{Name: "number", Label: "Número", Kind: domain.KindText, Required: true, Unique: true, MaxLength: 20},
			{Name: "entry_date", Label: "Fecha", Kind: domain.KindDate, Required: true},
			{Name: "partner_id", Label: "Tercero", Kind: domain.KindRelation, Relation: &domain.Relation{Table: "partners", Display: []string{"first_name", "last_name"}}},
			{Name: "account_id", Label: "Cuenta", Kind: domain.KindRelation, Required: true, Relation: &domain.Relation{Table: "accounts", Display: []string{"code", "name"}}},
			{Name: "description", Label: "Descripción", Kind: domain.KindText, MaxLength: 255},
			{Name: "debit", Label: "Débito", Kind: domain.KindNumber, Default: 0},
			{Name: "credit", Label: "Crédito", Kind: domain.KindNumber, Default: 0},
		},
		Validate:      singleSided,
		UniqueKey:     "number",
		TracksAuthors: true,
		Timestamps:    true,
		AuditOn:       domain.DefaultAuditSet(),
	}
}

// singleSided rejects lines that carry both a debit and a credit.
func singleSided(row domain.Row) *domain.ValidationError {
	if amount(row["debit"]) == 0 || amount(row["credit"]) == 0 {
		return nil
	}
	ve := domain.NewValidationError()
	ve.Add("", "Un movimiento no puede tener débito y crédito a la vez.")
	return ve
}

func amount(v any) float64 {
	f, err := strconv.ParseFloat(domain.Stringify(v), 64)
	if err != nil {
		return 0
	}
	return f
}
