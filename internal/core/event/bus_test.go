package event

import "testing"

func TestBusDeliversNextTick(t *testing.T) {
	b := NewBus()
	var got []uint32
	Subscribe(b, func(ev EntitySpawned) { got = append(got, ev.ObjectID) })

	Emit(b, EntitySpawned{ObjectID: 7})
	b.DispatchAll()
	if len(got) != 0 {
		t.Fatalf("event delivered in the same tick: %v", got)
	}
	if b.Pending() != 1 {
		t.Fatalf("Pending = %d, want 1", b.Pending())
	}

	b.SwapBuffers()
	b.DispatchAll()
	if len(got) != 1 || got[0] != 7 {
		t.Fatalf("got %v, want [7]", got)
	}

	b.SwapBuffers()
	b.DispatchAll()
	if len(got) != 1 {
		t.Fatalf("event redelivered: %v", got)
	}
}

func TestEmitNilBus(t *testing.T) {
	Emit[PlayerLeft](nil, PlayerLeft{ConnID: 1})
}
