package ecs

// World owns the entity pool and the component stores registered with it.
// Destruction is deferred: ids queued with MarkForDestruction stay alive
// until FlushDestroyQueue, which CleanupSystem calls at the end of a tick.
type World struct {
	pool         *EntityPool
	stores       []Removable
	destroyQueue []EntityID
}

func NewWorld() *World {
	return &World{
		pool:         NewEntityPool(),
		destroyQueue: make([]EntityID, 0, 64),
	}
}

// Register adds a store to be cleared on destroy.
func (w *World) Register(store Removable) {
	w.stores = append(w.stores, store)
}

func (w *World) CreateEntity() EntityID { return w.pool.Create() }
func (w *World) Alive(id EntityID) bool { return w.pool.Alive(id) }
func (w *World) Live() int              { return w.pool.Live() }
func (w *World) PendingDestroy() int    { return len(w.destroyQueue) }

// MarkForDestruction queues id for end-of-tick cleanup.
func (w *World) MarkForDestruction(id EntityID) {
	w.destroyQueue = append(w.destroyQueue, id)
}

// FlushDestroyQueue destroys queued ids and clears their components.
func (w *World) FlushDestroyQueue() {
	for _, id := range w.destroyQueue {
		for _, s := range w.stores {
			s.Remove(id)
		}
		w.pool.Destroy(id)
	}
	w.destroyQueue = w.destroyQueue[:0]
}
