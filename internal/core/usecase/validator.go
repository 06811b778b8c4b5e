package usecase

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	santhosh "github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/jaico1231/paola-sub001/internal/core/domain"
)

const requiredMessage = "Este campo es obligatorio."

// Validator coerces raw form or import values to field kinds and checks them
// against a JSON schema derived from the entity descriptor.
type Validator struct {
	cache sync.Map // key: entity id → *santhosh.Schema
}

func NewValidator() *Validator {
	return &Validator{}
}

// Clean returns the coerced values for the stored fields present in raw. With
// partial=false every required field must be present and non-empty.
func (v *Validator) Clean(desc *domain.EntityDescriptor, raw map[string]any, partial bool) (domain.Row, *domain.ValidationError) {
	ve := domain.NewValidationError()
	out := domain.Row{}
	for _, f := range desc.StoredFields() {
		value, present := raw[f.Name]
		if !present {
			if partial {
				continue
			}
			if f.Default != nil {
				value, present = f.Default, true
			}
		}
		if present {
			coerced, msg := coerce(f, value)
			if msg != "" {
				ve.Add(f.Name, msg)
				continue
			}
			value = coerced
			out[f.Name] = value
		}
		if f.Required && value == nil {
			ve.Add(f.Name, requiredMessage)
		}
	}
	if !ve.Empty() {
		return nil, ve
	}

	sch, err := v.schema(desc)
	if err != nil {
		ve.Add("", fmt.Sprintf("schema: %v", err))
		return nil, ve
	}
	if fieldErrs := runValidation(sch, out); !fieldErrs.Empty() {
		return nil, fieldErrs
	}
	return out, nil
}

// Check runs the descriptor's cross-field rule over the merged row.
func (v *Validator) Check(desc *domain.EntityDescriptor, merged domain.Row) *domain.ValidationError {
	if desc.Validate == nil {
		return nil
	}
	if ve := desc.Validate(merged); !ve.Empty() {
		return ve
	}
	return nil
}

func (v *Validator) schema(desc *domain.EntityDescriptor) (*santhosh.Schema, error) {
	if cached, ok := v.cache.Load(desc.ID()); ok {
		return cached.(*santhosh.Schema), nil
	}
	doc, err := json.Marshal(descriptorSchema(desc))
	if err != nil {
		return nil, err
	}
	compiled, err := compileSchema(doc)
	if err != nil {
		return nil, fmt.Errorf("compile schema for %s: %w", desc.ID(), err)
	}
	v.cache.Store(desc.ID(), compiled)
	return compiled, nil
}

// descriptorSchema builds a draft-7 document with one property per stored
// field. Every property admits null; presence is checked before.
func descriptorSchema(desc *domain.EntityDescriptor) map[string]any {
	props := map[string]any{}
	for _, f := range desc.StoredFields() {
		prop := map[string]any{}
		switch f.Kind {
		case domain.KindNumber:
			prop["type"] = []string{"number", "null"}
		case domain.KindRelation:
			prop["type"] = []string{"integer", "null"}
			prop["minimum"] = 1
		case domain.KindBoolean:
			prop["type"] = []string{"boolean", "null"}
		case domain.KindDate:
			prop["type"] = []string{"string", "null"}
			prop["format"] = "date"
		case domain.KindDateTime:
			prop["type"] = []string{"string", "null"}
			prop["format"] = "date-time"
		default:
			prop["type"] = []string{"string", "null"}
		}
		if f.MaxLength > 0 {
			prop["maxLength"] = f.MaxLength
		}
		if f.Pattern != "" {
			prop["pattern"] = f.Pattern
		}
		if len(f.Choices) > 0 {
			choices := make([]any, 0, len(f.Choices)+1)
			for _, c := range f.Choices {
				choices = append(choices, c)
			}
			prop["enum"] = append(choices, nil)
		}
		props[f.Name] = prop
	}
	return map[string]any{
		"$schema":    "http://json-schema.org/draft-07/schema#",
		"type":       "object",
		"properties": props,
	}
}

func compileSchema(schemaJSON []byte) (*santhosh.Schema, error) {
	compiler := santhosh.NewCompiler()
	compiler.Draft = santhosh.Draft7
	compiler.AssertFormat = true
	if err := compiler.AddResource("schema.json", bytes.NewReader(schemaJSON)); err != nil {
		return nil, err
	}
	return compiler.Compile("schema.json")
}

// runValidation round-trips row through JSON so the validator sees the same
// value types a decoded document would carry.
func runValidation(sch *santhosh.Schema, row domain.Row) *domain.ValidationError {
	ve := domain.NewValidationError()
	body, err := json.Marshal(row)
	if err != nil {
		ve.Add("", err.Error())
		return ve
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		ve.Add("", err.Error())
		return ve
	}
	if err := sch.Validate(doc); err != nil {
		var sve *santhosh.ValidationError
		if errors.As(err, &sve) {
			collectValidationErrors(sve, ve)
			return ve
		}
		ve.Add("", err.Error())
	}
	return ve
}

func collectValidationErrors(sve *santhosh.ValidationError, into *domain.ValidationError) {
	for _, cause := range sve.Causes {
		collectValidationErrors(cause, into)
	}
	if len(sve.Causes) == 0 {
		field := strings.TrimPrefix(sve.InstanceLocation, "/")
		if i := strings.Index(field, "/"); i >= 0 {
			field = field[:i]
		}
		into.Add(field, sve.Message)
	}
}

// coerce maps one raw value to the Go type stored for the field kind. Empty
// strings become nil. A non-empty message reports a value that cannot be coerced.
func coerce(f domain.Field, value any) (any, string) {
	if value == nil {
		return nil, ""
	}
	if s, ok := value.(string); ok {
		s = strings.TrimSpace(s)
		if s == "" && f.Kind != domain.KindBoolean {
			return nil, ""
		}
		value = s
	}

	switch f.Kind {
	case domain.KindBoolean:
		return domain.AsBool(value), ""
	case domain.KindNumber:
		switch n := value.(type) {
		case int, int64, float64, json.Number:
			return n, ""
		case string:
			n = strings.ReplaceAll(n, ",", ".")
			if _, err := strconv.ParseFloat(n, 64); err != nil {
				return nil, "Introduzca un número."
			}
			return json.Number(n), ""
		}
		return nil, "Introduzca un número."
	case domain.KindRelation:
		id, ok := domain.AsInt64(value)
		if !ok {
			return nil, "Seleccione una opción válida."
		}
		return id, ""
	case domain.KindDate:
		switch d := value.(type) {
		case time.Time:
			return d.Format(domain.DateLayout), ""
		case string:
			for _, layout := range []string{domain.DateLayout, "02/01/2006"} {
				if t, err := time.Parse(layout, d); err == nil {
					return t.Format(domain.DateLayout), ""
				}
			}
		}
		return nil, "Introduzca una fecha válida."
	case domain.KindDateTime:
		switch d := value.(type) {
		case time.Time:
			return d.UTC().Format(domain.TimeLayout), ""
		case string:
			for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04", "2006-01-02 15:04:05"} {
				if t, err := time.Parse(layout, d); err == nil {
					return t.UTC().Format(domain.TimeLayout), ""
				}
			}
		}
		return nil, "Introduzca una fecha y hora válidas."
	}
	return domain.Stringify(value), ""
}
