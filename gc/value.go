package gc

import (
	"fmt"
	"math"

	"github.com/andypeng2015/esgc/internal/gclayout"
)

// Ref is the address of a heap object: chunkID<<gclayout.ChunkShift | offset.
// Chunk 0 is never allocated, so the zero Ref is the null reference.
type Ref uint32

func (r Ref) chunkID() uint32 { return uint32(r) >> gclayout.ChunkShift }
func (r Ref) offset() uint32  { return uint32(r) & gclayout.OffsetMask }

func makeRef(chunkID, offset uint32) Ref {
	return Ref(chunkID<<gclayout.ChunkShift | offset)
}

func (r Ref) String() string {
	return fmt.Sprintf("0x%08x", uint32(r))
}

// Value is a NaN-boxed ECMAScript value. Every bit pattern below boxBase is
// a float64; boxed values keep their tag in the top 16 bits.
type Value uint64

const (
	boxShift = 48
	boxMask  = 0xffff << boxShift

	boxUndefined = 0xfff9 << boxShift
	boxNull      = 0xfffa << boxShift
	boxBool      = 0xfffb << boxShift
	boxInt       = 0xfffc << boxShift
	boxObject    = 0xfffd << boxShift
	boxString    = 0xfffe << boxShift

	boxBase = boxUndefined

	canonicalNaN = 0x7ff8000000000000
)

const (
	Undefined Value = boxUndefined
	Null      Value = boxNull
	True      Value = boxBool | 1
	False     Value = boxBool
)

// Number boxes a float64. NaNs are canonicalized so they never collide with
// a boxed tag.
func Number(f float64) Value {
	if math.IsNaN(f) {
		return canonicalNaN
	}
	return Value(math.Float64bits(f))
}

// Int boxes an int32.
func Int(i int32) Value { return Value(boxInt | uint64(uint32(i))) }

// Bool boxes a boolean.
func Bool(b bool) Value {
	if b {
		return True
	}
	return False
}

// ObjectValue boxes a reference to an object kind. A null ref gives Null.
func ObjectValue(r Ref) Value {
	if r == 0 {
		return Null
	}
	return Value(boxObject | uint64(r))
}

// StringValue boxes a reference to a string kind. A null ref gives Null.
func StringValue(r Ref) Value {
	if r == 0 {
		return Null
	}
	return Value(boxString | uint64(r))
}

func (v Value) box() uint64 { return uint64(v) & boxMask }

func (v Value) IsNumber() bool    { return uint64(v) < boxBase }
func (v Value) IsUndefined() bool { return v == Undefined }
func (v Value) IsNull() bool      { return v == Null }
func (v Value) IsBool() bool      { return v.box() == boxBool }
func (v Value) IsInt() bool       { return v.box() == boxInt }
func (v Value) IsObject() bool    { return v.box() == boxObject }
func (v Value) IsString() bool    { return v.box() == boxString }

// IsRef reports whether the value refers to a heap object.
func (v Value) IsRef() bool {
	b := v.box()
	return b == boxObject || b == boxString
}

// Ref returns the referenced object, or 0 for values that are not heap
// references.
func (v Value) Ref() Ref {
	if !v.IsRef() {
		return 0
	}
	return Ref(uint32(v))
}

func (v Value) Float() float64 {
	switch {
	case v.IsNumber():
		return math.Float64frombits(uint64(v))
	case v.IsInt():
		return float64(int32(uint32(v)))
	}
	return math.NaN()
}

func (v Value) Int32() int32 {
	if v.IsInt() {
		return int32(uint32(v))
	}
	return int32(v.Float())
}

func (v Value) Truthy() bool {
	switch {
	case v == True:
		return true
	case v.IsInt():
		return int32(uint32(v)) != 0
	case v.IsNumber():
		f := v.Float()
		return f != 0 && !math.IsNaN(f)
	case v.IsRef():
		return true
	}
	return false
}

func (v Value) String() string {
	switch {
	case v.IsNumber():
		return fmt.Sprint(v.Float())
	case v == Undefined:
		return "undefined"
	case v == Null:
		return "null"
	case v == True:
		return "true"
	case v == False:
		return "false"
	case v.IsInt():
		return fmt.Sprint(int32(uint32(v)))
	case v.IsObject():
		return "object@" + v.Ref().String()
	case v.IsString():
		return "string@" + v.Ref().String()
	}
	return fmt.Sprintf("!value(%#x)", uint64(v))
}
