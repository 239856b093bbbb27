package models

import (
	"bytes"
	"encoding/json"
)

// Field carries one optional column of a partial update payload. It tells an
// absent key apart from an explicit null, which merge-patching depends on.
type Field[T any] struct {
	Value T
	Set   bool
	Null  bool
}

// Some returns a present, non-null field.
func Some[T any](v T) Field[T] {
	return Field[T]{Value: v, Set: true}
}

// Null returns a present field holding JSON null.
func Null[T any]() Field[T] {
	return Field[T]{Set: true, Null: true}
}

// UnmarshalJSON is only invoked for keys present in the document.
func (f *Field[T]) UnmarshalJSON(b []byte) error {
	f.Set = true
	if bytes.Equal(b, []byte("null")) {
		f.Null = true
		var zero T
		f.Value = zero
		return nil
	}
	f.Null = false
	return json.Unmarshal(b, &f.Value)
}

// MarshalJSON writes null for absent and null fields.
func (f Field[T]) MarshalJSON() ([]byte, error) {
	if !f.Set || f.Null {
		return []byte("null"), nil
	}
	return json.Marshal(f.Value)
}

// Get returns the value when the field is present and not null.
func (f Field[T]) Get() (T, bool) {
	return f.Value, f.Set && !f.Null
}

// Apply overwrites dst when the field is present. Null resets dst to its
// zero value.
func (f Field[T]) Apply(dst *T) {
	if !f.Set {
		return
	}
	if f.Null {
		var zero T
		*dst = zero
		return
	}
	*dst = f.Value
}
