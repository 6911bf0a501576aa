package jsonx

import (
	"bytes"
	"encoding/json"
)

// Field[T] tracks presence (key appeared) and holds a pointer value:
//   - IsSet() == true  => key existed, even if it was null
//   - val == nil       => value was JSON null
//
// A missing key and an explicit false both decode to false with a plain bool;
// Field keeps them apart so handlers can require a key.
type Field[T any] struct {
	set bool
	val *T
}

func (o Field[T]) IsSet() bool  { return o.set }
func (o Field[T]) IsNull() bool { return o.set && o.val == nil }
func (o Field[T]) Value() *T    { return o.val }

// Get returns the value and whether a non-null value was present.
func (o Field[T]) Get() (T, bool) {
	if o.val == nil {
		var zero T
		return zero, false
	}
	return *o.val, true
}

func (o *Field[T]) UnmarshalJSON(b []byte) error {
	if string(bytes.TrimSpace(b)) == "null" {
		o.set, o.val = true, nil
		return nil
	}
	var v T
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	o.set, o.val = true, &v
	return nil
}
