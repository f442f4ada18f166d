// Package value implements the typed values stored in the database: booleans,
// integers, doubles, strings, and arrays and tuples of those.
//
// Every value has a canonical text literal (see String and Parse) and a
// compact binary form based on msgpack (see AppendBinary and Decode). Both
// forms are deterministic, so equal values always produce identical bytes.
package value

import (
	"errors"
	"fmt"
	"math"
)

var ErrInvalidValue = errors.New("invalid value")

type Kind uint8

const (
	Invalid Kind = iota
	Bool
	Int
	Double
	String
	Array
	Tuple
)

func (k Kind) String() string {
	switch k {
	case Invalid:
		return "invalid"
	case Bool:
		return "bool"
	case Int:
		return "int"
	case Double:
		return "double"
	case String:
		return "string"
	case Array:
		return "array"
	case Tuple:
		return "tuple"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Value is an immutable typed value. The zero Value is invalid and is used
// to mean "no value".
type Value struct {
	kind  Kind
	num   uint64 // bool, int64 bits or float64 bits
	str   string
	items []Value
}

func NewBool(v bool) Value {
	if v {
		return Value{kind: Bool, num: 1}
	}
	return Value{kind: Bool}
}

func NewInt(v int64) Value { return Value{kind: Int, num: uint64(v)} }

func NewDouble(v float64) Value { return Value{kind: Double, num: math.Float64bits(v)} }

func NewString(v string) Value { return Value{kind: String, str: v} }

// NewArray builds an array. Elements must all have the same kind, except
// that integers are promoted to doubles when mixed with doubles.
func NewArray(items ...Value) (Value, error) {
	items, err := unifyArray(items)
	if err != nil {
		return Value{}, err
	}
	return Value{kind: Array, items: items}, nil
}

func NewTuple(items ...Value) Value {
	return Value{kind: Tuple, items: append([]Value(nil), items...)}
}

func unifyArray(items []Value) ([]Value, error) {
	items = append([]Value(nil), items...)
	if len(items) == 0 {
		return items, nil
	}
	var hasInt, hasDouble bool
	for _, item := range items {
		switch item.kind {
		case Invalid:
			return nil, fmt.Errorf("%w: array element is invalid", ErrInvalidValue)
		case Int:
			hasInt = true
		case Double:
			hasDouble = true
		}
	}
	if hasInt && hasDouble {
		for i, item := range items {
			if item.kind == Int {
				items[i] = NewDouble(float64(item.Int()))
			}
		}
	}
	first := items[0].kind
	for _, item := range items[1:] {
		if item.kind != first {
			return nil, fmt.Errorf("%w: array mixes %v and %v elements", ErrInvalidValue, first, item.kind)
		}
	}
	return items, nil
}

func (v Value) Kind() Kind      { return v.kind }
func (v Value) IsValid() bool   { return v.kind != Invalid }
func (v Value) Bool() bool      { return v.num != 0 }
func (v Value) Int() int64      { return int64(v.num) }
func (v Value) Double() float64 { return math.Float64frombits(v.num) }
func (v Value) Str() string     { return v.str }
func (v Value) Len() int        { return len(v.items) }
func (v Value) Index(i int) Value {
	return v.items[i]
}

// Items returns a copy of the elements of an array or tuple.
func (v Value) Items() []Value {
	return append([]Value(nil), v.items...)
}

// Equal reports structural equality. Doubles are compared bit for bit, so
// NaN equals NaN with the same payload and 0.0 differs from -0.0.
func Equal(a, b Value) bool {
	if a.kind != b.kind || a.num != b.num || a.str != b.str || len(a.items) != len(b.items) {
		return false
	}
	for i := range a.items {
		if !Equal(a.items[i], b.items[i]) {
			return false
		}
	}
	return true
}

func (v Value) Equal(other Value) bool {
	return Equal(v, other)
}

func (v Value) GoString() string {
	return fmt.Sprintf("value.MustParse(%q)", v.String())
}
