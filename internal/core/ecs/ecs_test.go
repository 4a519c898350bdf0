package ecs

import "testing"

func TestPoolReusesSlotsWithNewGeneration(t *testing.T) {
	p := NewEntityPool()
	a := p.Create()
	b := p.Create()
	p.Destroy(a)
	if p.Alive(a) || !p.Alive(b) {
		t.Fatal("liveness wrong after destroy")
	}
	c := p.Create()
	if c.Index() != a.Index() || c.Generation() != a.Generation()+1 {
		t.Fatalf("reused id = %d/%d", c.Index(), c.Generation())
	}
	p.Destroy(a) // stale
	if !p.Alive(c) || p.Live() != 2 {
		t.Fatalf("stale destroy affected slot: live=%d", p.Live())
	}
}

func TestDeferredDestroyClearsStores(t *testing.T) {
	type pos struct{ x float32 }
	type tag struct{ asset uint32 }
	w := NewWorld()
	positions, tags := NewStore[pos](), NewStore[tag]()
	w.Register(positions)
	w.Register(tags)

	a, b := w.CreateEntity(), w.CreateEntity()
	positions.Set(a, &pos{1})
	positions.Set(b, &pos{2})
	tags.Set(b, &tag{7})

	n := 0
	Each2(positions, tags, func(id EntityID, p *pos, tg *tag) {
		if id != b || tg.asset != 7 {
			t.Fatalf("joined %d", id)
		}
		n++
	})
	if n != 1 {
		t.Fatalf("Each2 visited %d", n)
	}

	w.MarkForDestruction(b)
	if !w.Alive(b) || w.PendingDestroy() != 1 {
		t.Fatal("destroy not deferred")
	}
	w.FlushDestroyQueue()
	if w.Alive(b) || positions.Len() != 1 || tags.Len() != 0 || w.Live() != 1 {
		t.Fatalf("after flush: alive=%v positions=%d tags=%d", w.Alive(b), positions.Len(), tags.Len())
	}
}
