package syncvar

import (
	"testing"

	"github.com/replinet/server/internal/net/packet"
)

func TestThreeChangesOneSyncOneConfirm(t *testing.T) {
	ch := Channel{SendInterval: 5}
	v := NewVar(Int32Codec, 0, 0)
	v.MarkSentReliable() // spawned: receivers hold a copy

	var unreliable, reliable int
	count := func(k SendKind) {
		switch k {
		case SendUnreliable:
			unreliable++
		case SendReliable:
			reliable++
		}
	}

	for tick := uint32(1); tick <= 20; tick++ {
		switch tick {
		case 1, 2, 3:
			v.Set(int32(tick))
		}
		count(v.Advance(tick, ch, false))
	}
	if unreliable != 1 || reliable != 1 {
		t.Fatalf("unreliable=%d reliable=%d, want 1 and 1", unreliable, reliable)
	}
	if !v.Settled() {
		t.Fatalf("element not settled: step=%s dirty=%v", v.Step(), v.Dirty())
	}
}

func TestStepSequence(t *testing.T) {
	ch := Channel{SendInterval: 2}
	v := NewVar(Int32Codec, 0, 0)
	v.MarkSentReliable()

	v.Set(1)
	if k := v.Advance(10, ch, false); k != SendUnreliable || v.Step() != StepSyncing {
		t.Fatalf("first send = %v step %s", k, v.Step())
	}
	if k := v.Advance(11, ch, false); k != SendNone {
		t.Fatalf("send inside interval = %v", k)
	}
	if k := v.Advance(12, ch, false); k != SendReliable || v.Step() != StepConfirming {
		t.Fatalf("confirm = %v step %s", k, v.Step())
	}
	if k := v.Advance(14, ch, false); k != SendNone || v.Step() != StepNone {
		t.Fatalf("settle = %v step %s", k, v.Step())
	}
}

func TestReliableOnlyWaitsForBaseline(t *testing.T) {
	ch := Channel{SendInterval: 1, ReliableOnly: true}
	v := NewVar(StringCodec, 0, "")
	v.MarkSentReliable()
	v.Set("a")
	if k := v.Advance(1, ch, false); k != SendNone {
		t.Fatalf("reliable-only element sent outside baseline: %v", k)
	}
	if k := v.Advance(2, ch, true); k != SendReliable {
		t.Fatalf("baseline send = %v", k)
	}
}

func TestNeverSentElementForcedIntoBaseline(t *testing.T) {
	ch := Channel{SendInterval: 1}
	v := NewVar(Int32Codec, 0, 0)
	v.Set(9)
	if k := v.Advance(1, ch, false); k != SendNone {
		t.Fatalf("never-sent element sent as delta: %v", k)
	}
	if k := v.Advance(2, ch, true); k != SendReliable || !v.CanDelta() {
		t.Fatalf("baseline send = %v canDelta=%v", k, v.CanDelta())
	}
}

func TestStaleApplyRejected(t *testing.T) {
	src := NewVar(Int32Codec, 0, 0)
	dst := NewVar(Int32Codec, 0, 0)
	changes := 0
	dst.OnChange = func() { changes++ }

	send := func(val int32, tick uint32) {
		src.Set(val)
		w := packet.NewWriter()
		src.Serialize(w)
		if err := dst.Apply(tick, packet.NewReader(w.Bytes())); err != nil {
			t.Fatal(err)
		}
	}
	send(5, 10)
	send(3, 9)
	send(4, 10)
	if dst.Get() != 5 || changes != 1 {
		t.Fatalf("value=%d changes=%d, want 5 and 1", dst.Get(), changes)
	}
	send(7, 11)
	if dst.Get() != 7 || dst.LastApplied() != 11 {
		t.Fatalf("value=%d last=%d", dst.Get(), dst.LastApplied())
	}
}

func TestListRoundTrip(t *testing.T) {
	src := NewList(StringCodec, 1)
	src.Append("a", "b", "c")
	src.RemoveAt(1)
	src.Set(0, "z")

	w := packet.NewWriter()
	src.Serialize(w)
	dst := NewList(StringCodec, 1)
	if err := dst.Apply(1, packet.NewReader(w.Bytes())); err != nil {
		t.Fatal(err)
	}
	got := dst.Items()
	if len(got) != 2 || got[0] != "z" || got[1] != "c" {
		t.Fatalf("items = %v", got)
	}
}

func TestListRejectsOversizedLength(t *testing.T) {
	w := packet.NewWriter()
	w.WriteUvarint(MaxListLen + 1)
	dst := NewList(Int32Codec, 0)
	if err := dst.Apply(1, packet.NewReader(w.Bytes())); err == nil {
		t.Fatal("expected length error")
	}
}

func TestChannelsCapacity(t *testing.T) {
	defs := make([]Channel, MaxChannels+1)
	if _, err := NewChannels(defs...); err == nil {
		t.Fatal("expected capacity error")
	}
	c, err := NewChannels(Channel{Name: "a"}, Channel{Name: "b", ReliableOnly: true})
	if err != nil {
		t.Fatal(err)
	}
	if ch, ok := c.Get(1); !ok || ch.ID != 1 || !ch.ReliableOnly {
		t.Fatalf("Get(1) = %+v %v", ch, ok)
	}
	if ch, ok := c.Get(9); ok || ch.ID != 0 {
		t.Fatalf("unknown channel fallback = %+v %v", ch, ok)
	}
}
