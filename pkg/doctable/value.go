package doctable

import (
	"google.golang.org/protobuf/types/known/structpb"
)

// Scalar field values are structpb values so that documents have a single
// structured representation across every backend, and so "null" is a real
// stored value distinct from "field not present".

// String returns a string field value.
func String(s string) *structpb.Value {
	return structpb.NewStringValue(s)
}

// Int returns a numeric field value. Stored as a double, same as every
// document store that speaks JSON; safe for integers up to 2^53.
func Int(i int64) *structpb.Value {
	return structpb.NewNumberValue(float64(i))
}

// Float returns a numeric field value.
func Float(f float64) *structpb.Value {
	return structpb.NewNumberValue(f)
}

// Bool returns a boolean field value.
func Bool(b bool) *structpb.Value {
	return structpb.NewBoolValue(b)
}

// Null returns the explicit null field value.
func Null() *structpb.Value {
	return structpb.NewNullValue()
}

// normalizeValue maps a nil value to the explicit null representation.
// A document never stores the store's own "absent" sentinel as a field value.
func normalizeValue(v *structpb.Value) *structpb.Value {
	if v == nil {
		return structpb.NewNullValue()
	}
	return v
}

// Precondition asserts that a scalar field currently holds an expected value.
// An update commits only if every precondition holds at the instant of the
// transactional check.
type Precondition struct {
	Field string
	Want  *structpb.Value
}
