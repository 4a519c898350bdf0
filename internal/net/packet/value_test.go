package packet

import (
	"errors"
	"testing"
)

type point struct{ X, Y int32 }

func (p *point) Serialize(w *Writer) {
	w.WriteVarint(int64(p.X))
	w.WriteVarint(int64(p.Y))
}

func (p *point) Deserialize(r *Reader) error {
	p.X = int32(r.ReadVarint())
	p.Y = int32(r.ReadVarint())
	return r.Err()
}

func TestValuesRoundTrip(t *testing.T) {
	params := []Param{
		{Kind: KindBool},
		{Kind: KindInt},
		{Kind: KindUint},
		{Kind: KindFloat32},
		{Kind: KindString},
		{Kind: ArrayOf(KindInt)},
		{Kind: KindObject, New: func() Serializable { return &point{} }},
	}
	args := []Value{
		Bool(true),
		Int(-42),
		Uint(99999),
		Float32(1.5),
		String("hello"),
		Array(KindInt, Int(1), Int(-2), Int(3)),
		Object(&point{X: -5, Y: 7}),
	}
	if err := CheckValues(params, args); err != nil {
		t.Fatalf("CheckValues: %v", err)
	}
	w := NewWriter()
	WriteValues(w, args)

	got, err := ReadValues(NewReader(w.Bytes()), params)
	if err != nil {
		t.Fatalf("ReadValues: %v", err)
	}
	if !got[0].Bool() || got[1].Int() != -42 || got[2].Uint() != 99999 || got[3].Float32() != 1.5 || got[4].Str() != "hello" {
		t.Fatalf("scalar mismatch: %+v", got[:5])
	}
	items := got[5].Items()
	if len(items) != 3 || items[1].Int() != -2 {
		t.Fatalf("array mismatch: %+v", items)
	}
	p := got[6].Serializable().(*point)
	if p.X != -5 || p.Y != 7 {
		t.Fatalf("object mismatch: %+v", p)
	}
}

func TestCheckValuesMismatch(t *testing.T) {
	params := []Param{{Kind: KindInt}}
	if err := CheckValues(params, []Value{String("x")}); !errors.Is(err, ErrKindMismatch) {
		t.Fatalf("err = %v, want ErrKindMismatch", err)
	}
	if err := CheckValues(params, nil); !errors.Is(err, ErrKindMismatch) {
		t.Fatalf("arity err = %v", err)
	}
}

func TestReadValueTruncatedArray(t *testing.T) {
	w := NewWriter()
	w.WriteUvarint(50000)
	if _, err := ReadValue(NewReader(w.Bytes()), Param{Kind: ArrayOf(KindBool)}); !errors.Is(err, ErrBadLength) {
		t.Fatalf("err = %v, want ErrBadLength", err)
	}
}
