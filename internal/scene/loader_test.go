package scene

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/replinet/server/internal/core/event"
	"github.com/replinet/server/internal/data"
	"github.com/replinet/server/internal/entity"
	"go.uber.org/zap"
)

type memberless struct{}

func (memberless) Bind(*entity.Entity, uint8) {}

// gatedSource blocks each fetch until released or cancelled.
type gatedSource struct {
	scenes    map[string]*data.Scene
	release   chan struct{}
	cancelled chan string
}

func (s *gatedSource) Fetch(ctx context.Context, name string) (*data.Scene, error) {
	select {
	case <-s.release:
	case <-ctx.Done():
		s.cancelled <- name
		return nil, ctx.Err()
	}
	sc, ok := s.scenes[name]
	if !ok {
		return nil, ErrUnknownScene
	}
	return sc, nil
}

func newTestRegistry(t *testing.T) *entity.Registry {
	t.Helper()
	reg := entity.NewRegistry(nil, event.NewBus(), zap.NewNop())
	err := reg.RegisterPrefab(entity.Prefab{AssetID: 1, Name: "rock", Build: func(e *entity.Entity) error {
		_, err := e.AddMember(memberless{})
		return err
	}})
	if err != nil {
		t.Fatal(err)
	}
	return reg
}

func placements(ids ...uint32) []data.Placement {
	out := make([]data.Placement, len(ids))
	for i, id := range ids {
		out[i] = data.Placement{ID: id, Asset: 1}
	}
	return out
}

// tickUntil ticks until the loader reaches want.
func tickUntil(t *testing.T, l *Loader, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for l.State() != want {
		if time.Now().After(deadline) {
			t.Fatalf("stuck in %s, want %s", l.State(), want)
		}
		l.Tick()
		time.Sleep(time.Millisecond)
	}
}

func TestLoaderPhases(t *testing.T) {
	reg := newTestRegistry(t)
	scenes := &gatedSource{
		scenes:    map[string]*data.Scene{"lobby": {Name: "lobby", Entities: placements(3, 5, 9)}},
		release:   make(chan struct{}),
		cancelled: make(chan string, 1),
	}
	close(scenes.release)

	var ready string
	l := NewLoader(reg, scenes, Options{SpawnBatch: 2, OnReady: func(n string) { ready = n }}, zap.NewNop())
	l.Load(context.Background(), "lobby")
	if l.State() != StateDownloading {
		t.Fatalf("state = %s", l.State())
	}
	tickUntil(t, l, StateLoading)

	l.Tick()
	if l.State() != StateSpawningScene || reg.IDs().Highest() != 9 {
		t.Fatalf("state = %s highest = %d", l.State(), reg.IDs().Highest())
	}
	l.Tick()
	if reg.Count() != 2 || l.State() != StateSpawningScene {
		t.Fatalf("first batch: count=%d state=%s", reg.Count(), l.State())
	}
	l.Tick()
	if reg.Count() != 3 || !l.Ready() || ready != "lobby" {
		t.Fatalf("count=%d state=%s ready=%q", reg.Count(), l.State(), ready)
	}
	e, ok := reg.Get(5)
	if !ok || !e.IsScene || e.Owner != entity.ServerConn {
		t.Fatalf("scene entity 5 = %+v", e)
	}
}

func TestLoadSupersedesInFlight(t *testing.T) {
	reg := newTestRegistry(t)
	src := &gatedSource{
		scenes: map[string]*data.Scene{
			"a": {Name: "a", Entities: placements(1)},
			"b": {Name: "b", Entities: placements(2, 4)},
		},
		release:   make(chan struct{}),
		cancelled: make(chan string, 1),
	}
	l := NewLoader(reg, src, Options{}, zap.NewNop())

	l.Load(context.Background(), "a")
	l.Tick() // still downloading
	l.Load(context.Background(), "b")

	select {
	case name := <-src.cancelled:
		if name != "a" {
			t.Fatalf("cancelled %q", name)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("first load not cancelled")
	}

	close(src.release)
	tickUntil(t, l, StateReady)
	if l.Name() != "b" || reg.Count() != 2 {
		t.Fatalf("name=%s count=%d", l.Name(), reg.Count())
	}
	if _, ok := reg.Lookup(1); ok {
		t.Fatal("entity from superseded scene spawned")
	}
}

func TestLoadClearsPreviousScene(t *testing.T) {
	reg := newTestRegistry(t)
	tbl := map[string]*data.Scene{
		"a": {Name: "a", Entities: placements(1, 2)},
		"b": {Name: "b", Entities: placements(7)},
	}
	src := &gatedSource{scenes: tbl, release: make(chan struct{}), cancelled: make(chan string, 1)}
	close(src.release)
	l := NewLoader(reg, src, Options{}, zap.NewNop())

	l.Load(context.Background(), "a")
	tickUntil(t, l, StateReady)
	l.Load(context.Background(), "b")
	if reg.Count() != 0 {
		t.Fatalf("old scene still live: %d", reg.Count())
	}
	tickUntil(t, l, StateReady)
	if _, ok := reg.Get(7); !ok || reg.Count() != 1 {
		t.Fatal("new scene not spawned")
	}
}

func TestLoadFailure(t *testing.T) {
	reg := newTestRegistry(t)
	src := &gatedSource{
		scenes:    map[string]*data.Scene{"bad": {Name: "bad", Entities: []data.Placement{{ID: 1, Asset: 42}}}},
		release:   make(chan struct{}),
		cancelled: make(chan string, 1),
	}
	close(src.release)
	l := NewLoader(reg, src, Options{}, zap.NewNop())

	l.Load(context.Background(), "missing")
	tickUntil(t, l, StateIdle)
	if !errors.Is(l.Err(), ErrUnknownScene) {
		t.Fatalf("err = %v", l.Err())
	}

	l.Load(context.Background(), "bad")
	tickUntil(t, l, StateLoading)
	l.Tick()
	if l.State() != StateIdle || !errors.Is(l.Err(), entity.ErrUnknownEntityType) {
		t.Fatalf("state=%s err=%v", l.State(), l.Err())
	}
}

func TestMirrorSkipsSpawning(t *testing.T) {
	reg := newTestRegistry(t)
	src := &gatedSource{
		scenes:    map[string]*data.Scene{"lobby": {Name: "lobby", Entities: placements(12)}},
		release:   make(chan struct{}),
		cancelled: make(chan string, 1),
	}
	close(src.release)
	l := NewLoader(reg, src, Options{Mirror: true}, zap.NewNop())
	l.Load(context.Background(), "lobby")
	tickUntil(t, l, StateReady)
	if reg.Count() != 0 || reg.IDs().Highest() != 12 {
		t.Fatalf("count=%d highest=%d", reg.Count(), reg.IDs().Highest())
	}
}

func TestSceneSwitchRejectsAllocatedIDs(t *testing.T) {
	reg := newTestRegistry(t)
	tbl := map[string]*data.Scene{
		"lobby": {Name: "lobby", Entities: placements(1, 2)},
		"clash": {Name: "clash", Entities: placements(4)},
		"arena": {Name: "arena", Entities: placements(1, 10)},
	}
	src := &gatedSource{scenes: tbl, release: make(chan struct{}), cancelled: make(chan string, 1)}
	close(src.release)
	l := NewLoader(reg, src, Options{}, zap.NewNop())

	l.Load(context.Background(), "lobby")
	tickUntil(t, l, StateReady)
	var dynamic []*entity.Entity
	for i := 0; i < 3; i++ {
		e, err := reg.Spawn(entity.SpawnParams{AssetID: 1, Owner: entity.ServerConn})
		if err != nil {
			t.Fatal(err)
		}
		dynamic = append(dynamic, e)
	}
	if err := reg.Destroy(dynamic[1].ID, entity.ReasonDestroyed); err != nil {
		t.Fatal(err)
	}

	// id 4 belonged to a destroyed dynamic entity
	l.Load(context.Background(), "clash")
	tickUntil(t, l, StateIdle)
	if !errors.Is(l.Err(), ErrIDConflict) {
		t.Fatalf("err = %v, want ErrIDConflict", l.Err())
	}

	l.Load(context.Background(), "arena")
	tickUntil(t, l, StateReady)
	if _, ok := reg.Get(10); !ok {
		t.Fatal("arena entity 10 not spawned")
	}
	if _, ok := reg.Get(dynamic[2].ID); !ok {
		t.Fatal("dynamic entity lost in scene switch")
	}
}
