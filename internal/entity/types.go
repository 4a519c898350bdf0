package entity

import (
	"errors"
	"fmt"
	"math"
)

// ObjectID identifies a replicated entity on the wire. Zero is never assigned.
type ObjectID uint32

// ConnID identifies a connection. ServerConn marks server ownership.
type ConnID int32

const ServerConn ConnID = -1

// Vec3 is a position or a set of euler angles.
type Vec3 struct {
	X, Y, Z float32
}

// DistanceSq returns the squared distance between two points.
func (v Vec3) DistanceSq(o Vec3) float32 {
	dx, dy, dz := v.X-o.X, v.Y-o.Y, v.Z-o.Z
	return dx*dx + dy*dy + dz*dz
}

// Distance returns the distance between two points.
func (v Vec3) Distance(o Vec3) float32 {
	return float32(math.Sqrt(float64(v.DistanceSq(o))))
}

// DestroyReason travels in Destroy sync states.
type DestroyReason byte

const (
	ReasonDestroyed    DestroyReason = iota // entity destroyed by the server
	ReasonUnsubscribed                      // removed from the observer's subscribings
	ReasonSceneChange                       // scene unloaded
	ReasonOwnerLeft                         // owner disconnected
)

func (r DestroyReason) String() string {
	switch r {
	case ReasonDestroyed:
		return "destroyed"
	case ReasonUnsubscribed:
		return "unsubscribed"
	case ReasonSceneChange:
		return "scene_change"
	case ReasonOwnerLeft:
		return "owner_left"
	default:
		return fmt.Sprintf("reason(%d)", byte(r))
	}
}

// MaxMembers is the size of the per-entity member table (uint8 index range).
const MaxMembers = 255

var (
	ErrUnknownEntityType = errors.New("unknown entity type")
	ErrNotFound          = errors.New("entity not found")
	ErrDuplicateID       = errors.New("object id already in use")
	ErrCapacity          = errors.New("member table full")
	ErrIDExhausted       = errors.New("object id space exhausted")
	ErrUnknownPlayer     = errors.New("unknown player")
)

// Handle is the host engine's opaque reference to an instantiated entity.
type Handle any

// Host is implemented by the engine that owns the visual/physical instances.
type Host interface {
	Instantiate(assetID uint32, pos, rot Vec3) (Handle, error)
	DestroyInstance(h Handle)
	ReadTransform(h Handle) (pos, rot Vec3)
	WriteTransform(h Handle, pos, rot Vec3)
}

// NopHost keeps transforms in memory for headless servers and tests.
type NopHost struct{}

type nopInstance struct {
	pos, rot Vec3
}

func (NopHost) Instantiate(_ uint32, pos, rot Vec3) (Handle, error) {
	return &nopInstance{pos: pos, rot: rot}, nil
}

func (NopHost) DestroyInstance(Handle) {}

func (NopHost) ReadTransform(h Handle) (Vec3, Vec3) {
	if in, ok := h.(*nopInstance); ok {
		return in.pos, in.rot
	}
	return Vec3{}, Vec3{}
}

func (NopHost) WriteTransform(h Handle, pos, rot Vec3) {
	if in, ok := h.(*nopInstance); ok {
		in.pos, in.rot = pos, rot
	}
}
