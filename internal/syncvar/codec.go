package syncvar

import (
	"github.com/replinet/server/internal/entity"
	"github.com/replinet/server/internal/net/packet"
)

// Codec reads and writes one value of T.
type Codec[T any] struct {
	Write func(w *packet.Writer, v T)
	Read  func(r *packet.Reader) T
}

var (
	BoolCodec = Codec[bool]{
		Write: func(w *packet.Writer, v bool) { w.WriteBool(v) },
		Read:  func(r *packet.Reader) bool { return r.ReadBool() },
	}
	Int32Codec = Codec[int32]{
		Write: func(w *packet.Writer, v int32) { w.WriteVarint(int64(v)) },
		Read:  func(r *packet.Reader) int32 { return int32(r.ReadVarint()) },
	}
	Int64Codec = Codec[int64]{
		Write: func(w *packet.Writer, v int64) { w.WriteVarint(v) },
		Read:  func(r *packet.Reader) int64 { return r.ReadVarint() },
	}
	Uint32Codec = Codec[uint32]{
		Write: func(w *packet.Writer, v uint32) { w.WriteUvarint(uint64(v)) },
		Read:  func(r *packet.Reader) uint32 { return uint32(r.ReadUvarint()) },
	}
	Float32Codec = Codec[float32]{
		Write: func(w *packet.Writer, v float32) { w.WriteFloat32(v) },
		Read:  func(r *packet.Reader) float32 { return r.ReadFloat32() },
	}
	StringCodec = Codec[string]{
		Write: func(w *packet.Writer, v string) { w.WriteString(v) },
		Read:  func(r *packet.Reader) string { return r.ReadString() },
	}
	Vec3Codec = Codec[entity.Vec3]{
		Write: func(w *packet.Writer, v entity.Vec3) { WriteVec3(w, v) },
		Read:  func(r *packet.Reader) entity.Vec3 { return ReadVec3(r) },
	}
)

// WriteVec3 writes three float32s.
func WriteVec3(w *packet.Writer, v entity.Vec3) {
	w.WriteFloat32(v.X)
	w.WriteFloat32(v.Y)
	w.WriteFloat32(v.Z)
}

// ReadVec3 reads three float32s.
func ReadVec3(r *packet.Reader) entity.Vec3 {
	return entity.Vec3{X: r.ReadFloat32(), Y: r.ReadFloat32(), Z: r.ReadFloat32()}
}
