package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrNotFound             = errors.New("not found")
	ErrUnauthenticated      = errors.New("unauthenticated")
	ErrUnauthorized         = errors.New("unauthorized")
	ErrDuplicateKey         = errors.New("duplicate key")
	ErrReferentialIntegrity = errors.New("in use, cannot delete")
	ErrUnknownEntity        = errors.New("unknown entity")
	ErrDuplicateDescriptor  = errors.New("duplicate descriptor")
	ErrSerialization        = errors.New("snapshot serialization failed")
	ErrProviderFailure      = errors.New("provider failure")
	ErrInvalidEncoding      = errors.New("unsupported or invalid encoding")
	ErrInvalidHeader        = errors.New("invalid header")
	ErrInvalidFilter        = errors.New("invalid filter")
	ErrNotToggleable        = errors.New("entity has no status field")
)

// ValidationError carries user-correctable messages keyed by field name.
// The empty key holds form-level messages.
type ValidationError struct {
	Fields map[string][]string
}

func NewValidationError() *ValidationError {
	return &ValidationError{Fields: map[string][]string{}}
}

func (e *ValidationError) Add(field, message string) {
	if e.Fields == nil {
		e.Fields = map[string][]string{}
	}
	e.Fields[field] = append(e.Fields[field], message)
}

func (e *ValidationError) Empty() bool {
	return e == nil || len(e.Fields) == 0
}

// FirstField returns the alphabetically first field with an error.
func (e *ValidationError) FirstField() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if len(keys) == 0 {
		return ""
	}
	return keys[0]
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		label := k
		if label == "" {
			label = "__all__"
		}
		parts = append(parts, fmt.Sprintf("%s: %s", label, strings.Join(e.Fields[k], ", ")))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// DuplicateKeyError names the field whose unique constraint was hit, when it
// could be recognized.
type DuplicateKeyError struct {
	Field string
}

func (e *DuplicateKeyError) Error() string {
	if e.Field == "" {
		return ErrDuplicateKey.Error()
	}
	return fmt.Sprintf("%s on %s", ErrDuplicateKey, e.Field)
}

func (e *DuplicateKeyError) Unwrap() error {
	return ErrDuplicateKey
}
