package event

// Host-facing lifecycle notifications. Emitted by the entity registry during
// tick N and delivered to subscribers at the start of tick N+1.

type EntitySpawned struct {
	ObjectID uint32
	AssetID  uint32
	Owner    int32
	Handle   any
}

type EntityDestroyed struct {
	ObjectID uint32
	Handle   any
	Reason   byte
}

type OwnerChanged struct {
	ObjectID uint32
	Handle   any
	Previous int32
	Owner    int32
}

type PlayerJoined struct {
	ConnID int32
}

type PlayerLeft struct {
	ConnID int32
}
