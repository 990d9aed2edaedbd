package datasource

import (
	"errors"
	"fmt"
)

type ValueType uint8

const (
	Float64 ValueType = iota
	Uint64
	Int64
)

func (t ValueType) String() string {
	switch t {
	case Float64:
		return "DOUBLE"
	case Uint64:
		return "UINT64"
	case Int64:
		return "INT64"
	default:
		return fmt.Sprintf("ValueType(%d)", uint8(t))
	}
}

var ErrValueType = errors.New("physical value accessed with wrong type")

// PhysicalValue holds exactly one decoded signal value.
// The type is fixed at construction, accessors with a different type fail.
type PhysicalValue struct {
	kind ValueType
	f    float64
	u    uint64
	i    int64
}

func Float64Value(v float64) PhysicalValue { return PhysicalValue{kind: Float64, f: v} }
func Uint64Value(v uint64) PhysicalValue   { return PhysicalValue{kind: Uint64, u: v} }
func Int64Value(v int64) PhysicalValue     { return PhysicalValue{kind: Int64, i: v} }

// NewPhysicalValue converts v to the representation of kind.
// Unknown kinds are stored as float64.
func NewPhysicalValue(v float64, kind ValueType) PhysicalValue {
	switch kind {
	case Uint64:
		return Uint64Value(uint64(v))
	case Int64:
		return Int64Value(int64(v))
	default:
		return Float64Value(v)
	}
}

func (v PhysicalValue) Type() ValueType {
	return v.kind
}

func (v PhysicalValue) Float64() (float64, error) {
	if v.kind != Float64 {
		return 0, fmt.Errorf("%w : %v is %v", ErrValueType, Float64, v.kind)
	}
	return v.f, nil
}

func (v PhysicalValue) Uint64() (uint64, error) {
	if v.kind != Uint64 {
		return 0, fmt.Errorf("%w : %v is %v", ErrValueType, Uint64, v.kind)
	}
	return v.u, nil
}

func (v PhysicalValue) Int64() (int64, error) {
	if v.kind != Int64 {
		return 0, fmt.Errorf("%w : %v is %v", ErrValueType, Int64, v.kind)
	}
	return v.i, nil
}

// Any returns the value with its native Go type.
func (v PhysicalValue) Any() any {
	switch v.kind {
	case Uint64:
		return v.u
	case Int64:
		return v.i
	default:
		return v.f
	}
}

func (v PhysicalValue) String() string {
	return fmt.Sprintf("%v(%v)", v.kind, v.Any())
}

// A signal decoded from a CAN frame
type DecodedSignal struct {
	SignalID uint32
	RawValue int64
	Value    PhysicalValue
}
