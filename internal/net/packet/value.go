package packet

import (
	"errors"
	"fmt"
)

// Kind tags a Value. Array kinds set the high bit over their element kind.
type Kind byte

const (
	KindBool Kind = iota + 1
	KindInt
	KindUint
	KindFloat32
	KindFloat64
	KindString
	KindBytes
	KindObject

	KindArray Kind = 0x80
)

// ArrayOf returns the array kind whose elements are k.
func ArrayOf(k Kind) Kind { return k | KindArray }

// IsArray reports whether k is an array kind.
func (k Kind) IsArray() bool { return k&KindArray != 0 }

// Elem returns the element kind of an array kind.
func (k Kind) Elem() Kind { return k &^ KindArray }

func (k Kind) String() string {
	if k.IsArray() {
		return "[]" + k.Elem().String()
	}
	switch k {
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindUint:
		return "uint"
	case KindFloat32:
		return "float32"
	case KindFloat64:
		return "float64"
	case KindString:
		return "string"
	case KindBytes:
		return "bytes"
	case KindObject:
		return "object"
	default:
		return fmt.Sprintf("kind(%d)", byte(k))
	}
}

// Serializable is implemented by types that write and read themselves.
type Serializable interface {
	Serialize(w *Writer)
	Deserialize(r *Reader) error
}

// Param declares one typed parameter. New is required for KindObject and
// arrays of objects.
type Param struct {
	Kind Kind
	New  func() Serializable
}

// maxArrayLen caps decoded array lengths on untrusted input.
const maxArrayLen = 1 << 16

var (
	ErrKindMismatch = errors.New("packet: value kind mismatch")
	ErrNoFactory    = errors.New("packet: object param without factory")
)

// Value is a tagged variant carried as an RPC or request parameter.
type Value struct {
	Kind Kind
	b    bool
	i    int64
	u    uint64
	f    float64
	s    string
	raw  []byte
	arr  []Value
	obj  Serializable
}

func Bool(v bool) Value { return Value{Kind: KindBool, b: v} }
func Int(v int64) Value { return Value{Kind: KindInt, i: v} }
func Uint(v uint64) Value { return Value{Kind: KindUint, u: v} }
func Float32(v float32) Value { return Value{Kind: KindFloat32, f: float64(v)} }
func Float64(v float64) Value { return Value{Kind: KindFloat64, f: v} }
func String(v string) Value { return Value{Kind: KindString, s: v} }
func Bytes(v []byte) Value { return Value{Kind: KindBytes, raw: v} }
func Object(v Serializable) Value { return Value{Kind: KindObject, obj: v} }

// Array builds an array value; every element must have kind elem.
func Array(elem Kind, items ...Value) Value {
	return Value{Kind: ArrayOf(elem), arr: items}
}

func (v Value) Bool() bool { return v.b }
func (v Value) Int() int64 { return v.i }
func (v Value) Uint() uint64 { return v.u }
func (v Value) Float32() float32 { return float32(v.f) }
func (v Value) Float64() float64 { return v.f }
func (v Value) Str() string { return v.s }
func (v Value) Raw() []byte { return v.raw }
func (v Value) Items() []Value { return v.arr }
func (v Value) Serializable() Serializable { return v.obj }

// WriteValue encodes v. The receiver knows the declared kind, so no tag is
// written.
func WriteValue(w *Writer, v Value) {
	if v.Kind.IsArray() {
		w.WriteUvarint(uint64(len(v.arr)))
		for _, item := range v.arr {
			WriteValue(w, item)
		}
		return
	}
	switch v.Kind {
	case KindBool:
		w.WriteBool(v.b)
	case KindInt:
		w.WriteVarint(v.i)
	case KindUint:
		w.WriteUvarint(v.u)
	case KindFloat32:
		w.WriteFloat32(float32(v.f))
	case KindFloat64:
		w.WriteFloat64(v.f)
	case KindString:
		w.WriteString(v.s)
	case KindBytes:
		w.WriteBlob(v.raw)
	case KindObject:
		v.obj.Serialize(w)
	}
}

// ReadValue decodes one value declared by p.
func ReadValue(r *Reader, p Param) (Value, error) {
	if p.Kind.IsArray() {
		n := r.ReadUvarint()
		if r.Err() != nil {
			return Value{}, r.Err()
		}
		if n > maxArrayLen || n > uint64(r.Remaining()) {
			return Value{}, ErrBadLength
		}
		elem := Param{Kind: p.Kind.Elem(), New: p.New}
		items := make([]Value, 0, n)
		for i := uint64(0); i < n; i++ {
			item, err := ReadValue(r, elem)
			if err != nil {
				return Value{}, err
			}
			items = append(items, item)
		}
		return Array(elem.Kind, items...), nil
	}
	var v Value
	switch p.Kind {
	case KindBool:
		v = Bool(r.ReadBool())
	case KindInt:
		v = Int(r.ReadVarint())
	case KindUint:
		v = Uint(r.ReadUvarint())
	case KindFloat32:
		v = Float32(r.ReadFloat32())
	case KindFloat64:
		v = Float64(r.ReadFloat64())
	case KindString:
		v = String(r.ReadString())
	case KindBytes:
		v = Bytes(r.ReadBlob())
	case KindObject:
		if p.New == nil {
			return Value{}, ErrNoFactory
		}
		obj := p.New()
		if err := obj.Deserialize(r); err != nil {
			return Value{}, fmt.Errorf("deserialize object: %w", err)
		}
		v = Object(obj)
	default:
		return Value{}, fmt.Errorf("%w: undeclared kind %s", ErrKindMismatch, p.Kind)
	}
	return v, r.Err()
}

// CheckValues verifies args against declared params before anything is sent.
func CheckValues(params []Param, args []Value) error {
	if len(params) != len(args) {
		return fmt.Errorf("%w: want %d args, got %d", ErrKindMismatch, len(params), len(args))
	}
	for i, p := range params {
		if err := checkValue(p.Kind, args[i]); err != nil {
			return fmt.Errorf("arg %d: %w", i, err)
		}
	}
	return nil
}

func checkValue(k Kind, v Value) error {
	if v.Kind != k {
		return fmt.Errorf("%w: want %s, got %s", ErrKindMismatch, k, v.Kind)
	}
	if k == KindObject && v.obj == nil {
		return fmt.Errorf("%w: nil object", ErrKindMismatch)
	}
	if k.IsArray() {
		for _, item := range v.arr {
			if err := checkValue(k.Elem(), item); err != nil {
				return err
			}
		}
	}
	return nil
}

// WriteValues encodes an ordered argument list.
func WriteValues(w *Writer, args []Value) {
	for _, a := range args {
		WriteValue(w, a)
	}
}

// ReadValues decodes an ordered argument list declared by params.
func ReadValues(r *Reader, params []Param) ([]Value, error) {
	out := make([]Value, 0, len(params))
	for i, p := range params {
		v, err := ReadValue(r, p)
		if err != nil {
			return nil, fmt.Errorf("arg %d: %w", i, err)
		}
		out = append(out, v)
	}
	return out, nil
}
