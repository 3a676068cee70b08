package handler

import (
	"encoding/json"
	"fmt"
)

// Args is a wrapper that decodes an array of positional parameters into
// concrete locations.
//
// Unmarshaling a JSON value into an Args value v succeeds if the JSON value
// is an array of length len(v), and unmarshaling each subvalue i into the
// corresponding v[i] succeeds. As a special case, if v[i] == nil the
// corresponding subvalue is discarded.
//
// Marshaling an Args value v produces a JSON array of length len(v)
// containing the encoded values of the elements of v.
//
// Usage example:
//
//	func Handler(ctx context.Context, req *jsonrpc2.Request) (any, error) {
//	   var x, y int
//	   var s string
//
//	   if err := req.UnmarshalParams(&handler.Args{&x, &y, &s}); err != nil {
//	      return nil, err
//	   }
//	   // do useful work with x, y, and s
//	}
type Args []any

// UnmarshalJSON decodes data as an array with exactly len(a) elements.
func (a Args) UnmarshalJSON(data []byte) error {
	var elts []json.RawMessage
	if err := json.Unmarshal(data, &elts); err != nil {
		return fmt.Errorf("decoding args: %w", err)
	} else if len(elts) != len(a) {
		return fmt.Errorf("wrong number of args (got %d, want %d)", len(elts), len(a))
	}
	for i, elt := range elts {
		if a[i] == nil {
			continue
		} else if err := json.Unmarshal(elt, a[i]); err != nil {
			return fmt.Errorf("decoding argument %d: %w", i+1, err)
		}
	}
	return nil
}

// MarshalJSON encodes a as a JSON array of its element values.
func (a Args) MarshalJSON() ([]byte, error) {
	if len(a) == 0 {
		return []byte(`[]`), nil
	}
	return json.Marshal([]any(a))
}

// Obj is a wrapper that maps object fields into concrete locations.
//
// Unmarshaling a JSON text into an Obj value v succeeds if the JSON text is
// an object, and unmarshaling each subvalue for a key of v into the
// corresponding v[key] succeeds. Keys of the object that are not present in
// v are discarded; keys of v that are not present in the object are left
// unmodified.
//
// Marshaling an Obj value v produces a JSON object containing the encoded
// values of the elements of v.
type Obj map[string]any

// UnmarshalJSON decodes data as an object with the keys of o.
func (o Obj) UnmarshalJSON(data []byte) error {
	var base map[string]json.RawMessage
	if err := json.Unmarshal(data, &base); err != nil {
		return fmt.Errorf("decoding object: %w", err)
	}
	for key, arg := range o {
		val, ok := base[key]
		if !ok {
			continue
		}
		if err := json.Unmarshal(val, arg); err != nil {
			return fmt.Errorf("decoding %q: %w", key, err)
		}
	}
	return nil
}

// MarshalJSON encodes o as a JSON object with its keys and element values.
func (o Obj) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any(o))
}
