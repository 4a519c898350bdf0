package syncvar

import (
	"github.com/replinet/server/internal/entity"
	"github.com/replinet/server/internal/net/packet"
)

// Var is a single replicated value.
type Var[T comparable] struct {
	Base
	value T
	codec Codec[T]
}

// NewVar creates a value on channel ch.
func NewVar[T comparable](codec Codec[T], ch uint8, initial T) *Var[T] {
	v := &Var[T]{value: initial, codec: codec}
	v.channel = ch
	return v
}

func (v *Var[T]) Bind(e *entity.Entity, id uint8) { v.bind(v, e, id) }
func (v *Var[T]) State() *Base { return &v.Base }

// Get returns the current value.
func (v *Var[T]) Get() T { return v.value }

// Set changes the value and marks it dirty when it differs.
func (v *Var[T]) Set(x T) {
	if x == v.value {
		return
	}
	v.value = x
	v.changed()
}

func (v *Var[T]) Serialize(w *packet.Writer) {
	v.codec.Write(w, v.value)
}

func (v *Var[T]) Apply(tick uint32, r *packet.Reader) error {
	x := v.codec.Read(r)
	if err := r.Err(); err != nil {
		return err
	}
	if !v.accept(tick) {
		return nil
	}
	v.value = x
	v.notify()
	return nil
}
