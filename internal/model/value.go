package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
)

// ValueKind tags the shape held by a FieldValue.
type ValueKind string

// Supported field value shapes.
const (
	KindString      ValueKind = "string"
	KindStringArray ValueKind = "string_array"
	KindObject      ValueKind = "object"
)

// FieldValue is a tagged union of the shapes a metadata field can hold:
// a single string, an array of strings, or a structured object.
type FieldValue struct {
	Kind   ValueKind      `json:"kind"`
	Text   string         `json:"string,omitempty"`
	List   []string       `json:"strings,omitempty"`
	Object map[string]any `json:"object,omitempty"`
}

// Text builds a string value.
func Text(s string) FieldValue {
	return FieldValue{Kind: KindString, Text: s}
}

// List builds a string-array value.
func List(values ...string) FieldValue {
	return FieldValue{Kind: KindStringArray, List: values}
}

// Object builds a structured value.
func Object(m map[string]any) FieldValue {
	return FieldValue{Kind: KindObject, Object: m}
}

// FromAny converts a decoded JSON value into a FieldValue. Strings become
// string values, arrays must contain only strings, and objects are kept as is.
func FromAny(v any) (FieldValue, error) {
	switch t := v.(type) {
	case string:
		return Text(t), nil
	case []string:
		return List(t...), nil
	case []any:
		out := make([]string, 0, len(t))
		for i, item := range t {
			s, ok := item.(string)
			if !ok {
				return FieldValue{}, eris.Errorf("value: array element %d is %T, want string", i, item)
			}
			out = append(out, s)
		}
		return List(out...), nil
	case map[string]any:
		return Object(t), nil
	case nil:
		return FieldValue{}, eris.New("value: null is not a field value")
	default:
		return FieldValue{}, eris.Errorf("value: unsupported type %T", v)
	}
}

// Validate checks that the tag matches the populated payload.
func (v FieldValue) Validate() error {
	switch v.Kind {
	case KindString:
		if len(v.List) > 0 || v.Object != nil {
			return eris.New("value: string value carries array or object payload")
		}
	case KindStringArray:
		if v.Text != "" || v.Object != nil {
			return eris.New("value: array value carries string or object payload")
		}
	case KindObject:
		if v.Object == nil {
			return eris.New("value: object value is empty")
		}
		if v.Text != "" || len(v.List) > 0 {
			return eris.New("value: object value carries string or array payload")
		}
	default:
		return eris.Errorf("value: unknown kind %q", v.Kind)
	}
	return nil
}

// Strings returns the string elements of a string or array value. Object
// values have no elements.
func (v FieldValue) Strings() []string {
	switch v.Kind {
	case KindString:
		return []string{v.Text}
	case KindStringArray:
		return v.List
	default:
		return nil
	}
}

// Equal compares two values structurally. Nil and empty arrays are equal.
func (v FieldValue) Equal(o FieldValue) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindString:
		return v.Text == o.Text
	case KindStringArray:
		if len(v.List) != len(o.List) {
			return false
		}
		for i := range v.List {
			if v.List[i] != o.List[i] {
				return false
			}
		}
		return true
	case KindObject:
		a, errA := json.Marshal(v.Object)
		b, errB := json.Marshal(o.Object)
		return errA == nil && errB == nil && bytes.Equal(a, b)
	}
	return false
}

// String renders the value for logs and tables.
func (v FieldValue) String() string {
	switch v.Kind {
	case KindString:
		return v.Text
	case KindStringArray:
		return "[" + strings.Join(v.List, ", ") + "]"
	case KindObject:
		b, err := json.Marshal(v.Object)
		if err != nil {
			return fmt.Sprintf("%v", v.Object)
		}
		return string(b)
	}
	return ""
}

// MarshalValue encodes v for storage. A nil value encodes to nil.
func MarshalValue(v *FieldValue) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, eris.Wrap(err, "value: marshal")
	}
	return b, nil
}

// UnmarshalValue decodes a stored value. Empty input decodes to nil.
func UnmarshalValue(b []byte) (*FieldValue, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var v FieldValue
	if err := json.Unmarshal(b, &v); err != nil {
		return nil, eris.Wrap(err, "value: unmarshal")
	}
	return &v, nil
}
