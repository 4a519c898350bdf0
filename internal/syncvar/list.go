package syncvar

import (
	"fmt"

	"github.com/replinet/server/internal/entity"
	"github.com/replinet/server/internal/net/packet"
)

// MaxListLen caps decoded list sizes on untrusted input.
const MaxListLen = 1 << 14

// List is a replicated ordered collection. Every transmission carries the
// full contents.
type List[T any] struct {
	Base
	items []T
	codec Codec[T]
}

// NewList creates an empty list on channel ch.
func NewList[T any](codec Codec[T], ch uint8) *List[T] {
	l := &List[T]{codec: codec}
	l.channel = ch
	return l
}

func (l *List[T]) Bind(e *entity.Entity, id uint8) { l.bind(l, e, id) }
func (l *List[T]) State() *Base { return &l.Base }

func (l *List[T]) Len() int { return len(l.items) }
func (l *List[T]) At(i int) T { return l.items[i] }
func (l *List[T]) Items() []T { return append([]T(nil), l.items...) }

func (l *List[T]) Append(items ...T) {
	if len(items) == 0 {
		return
	}
	l.items = append(l.items, items...)
	l.changed()
}

func (l *List[T]) Set(i int, v T) {
	l.items[i] = v
	l.changed()
}

func (l *List[T]) RemoveAt(i int) {
	l.items = append(l.items[:i], l.items[i+1:]...)
	l.changed()
}

func (l *List[T]) Clear() {
	if len(l.items) == 0 {
		return
	}
	l.items = l.items[:0]
	l.changed()
}

// Teardown drops the contents when the owning entity is destroyed.
func (l *List[T]) Teardown() {
	l.items = nil
}

func (l *List[T]) Serialize(w *packet.Writer) {
	w.WriteUvarint(uint64(len(l.items)))
	for _, it := range l.items {
		l.codec.Write(w, it)
	}
}

func (l *List[T]) Apply(tick uint32, r *packet.Reader) error {
	n := r.ReadUvarint()
	if err := r.Err(); err != nil {
		return err
	}
	if n > MaxListLen || n > uint64(r.Remaining()) {
		return fmt.Errorf("list length %d: %w", n, packet.ErrBadLength)
	}
	items := make([]T, 0, n)
	for i := uint64(0); i < n; i++ {
		items = append(items, l.codec.Read(r))
	}
	if err := r.Err(); err != nil {
		return err
	}
	if !l.accept(tick) {
		return nil
	}
	l.items = items
	l.notify()
	return nil
}
