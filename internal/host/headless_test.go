package host

import (
	"testing"

	"github.com/replinet/server/internal/core/event"
	"github.com/replinet/server/internal/entity"
	"go.uber.org/zap"
)

func TestHeadlessBacksRegistry(t *testing.T) {
	h := NewHeadless()
	reg := entity.NewRegistry(h, event.NewBus(), zap.NewNop())
	if err := reg.RegisterPrefab(entity.Prefab{AssetID: 3, Name: "crate", Build: func(*entity.Entity) error { return nil }}); err != nil {
		t.Fatal(err)
	}

	e, err := reg.Spawn(entity.SpawnParams{AssetID: 3, Owner: entity.ServerConn, Position: entity.Vec3{X: 1}})
	if err != nil {
		t.Fatal(err)
	}
	h.WriteTransform(e.Handle, entity.Vec3{X: 4, Y: 2}, entity.Vec3{})
	reg.PullTransforms()
	if e.Position.X != 4 || e.Position.Y != 2 {
		t.Fatalf("position = %+v", e.Position)
	}
	if got := h.CountByAsset()[3]; got != 1 {
		t.Fatalf("instances of asset 3 = %d", got)
	}

	if err := reg.Destroy(e.ID, entity.ReasonDestroyed); err != nil {
		t.Fatal(err)
	}
	if h.World().PendingDestroy() != 1 {
		t.Fatal("destroy not queued")
	}
	h.World().FlushDestroyQueue()
	if h.World().Live() != 0 || len(h.CountByAsset()) != 0 {
		t.Fatal("instance survived flush")
	}
	if pos, _ := h.ReadTransform(e.Handle); pos != (entity.Vec3{}) {
		t.Fatalf("stale handle read %+v", pos)
	}
}
