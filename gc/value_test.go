package gc

import (
	"math"
	"testing"
)

func TestValueBoxing(t *testing.T) {
	for _, f := range []float64{0, -1.5, math.Inf(1), math.MaxFloat64} {
		v := Number(f)
		if !v.IsNumber() || v.Float() != f {
			t.Errorf("Number(%v): got %v", f, v)
		}
	}
	if v := Number(math.NaN()); !v.IsNumber() || !math.IsNaN(v.Float()) {
		t.Errorf("NaN boxed as %#x", uint64(v))
	}
	if v := Int(-7); !v.IsInt() || v.Int32() != -7 || v.Float() != -7 {
		t.Errorf("Int(-7): got %v", v)
	}
	r := makeRef(3, 128)
	if v := ObjectValue(r); !v.IsObject() || !v.IsRef() || v.Ref() != r {
		t.Errorf("ObjectValue(%v): got %v", r, v)
	}
	if v := StringValue(r); !v.IsString() || v.Ref() != r {
		t.Errorf("StringValue(%v): got %v", r, v)
	}
	if ObjectValue(0) != Null || Null.Ref() != 0 || Int(1).Ref() != 0 {
		t.Error("null reference boxing")
	}
	for v, want := range map[Value]bool{
		True: true, False: false, Undefined: false, Null: false,
		Int(0): false, Int(2): true, Number(0.5): true, Number(math.NaN()): false,
		ObjectValue(r): true,
	} {
		if got := v.Truthy(); got != want {
			t.Errorf("%v truthy: got %v, want %v", v, got, want)
		}
	}
}
