package replication

import (
	"errors"
	"testing"

	"github.com/replinet/server/internal/core/event"
	"github.com/replinet/server/internal/entity"
	"github.com/replinet/server/internal/interest"
	"github.com/replinet/server/internal/net/packet"
	"github.com/replinet/server/internal/syncvar"
	"go.uber.org/zap"
)

type sent struct {
	conn entity.ConnID
	ch   packet.Channel
	data []byte
}

type recorder struct{ out []sent }

func (r *recorder) SendTo(conn entity.ConnID, ch packet.Channel, data []byte) {
	r.out = append(r.out, sent{conn: conn, ch: ch, data: append([]byte(nil), data...)})
}

func (r *recorder) to(conn entity.ConnID) []sent {
	var out []sent
	for _, s := range r.out {
		if s.conn == conn {
			out = append(out, s)
		}
	}
	return out
}

const avatarAsset = 1

// avatar: element 0 health (int32), element 1 name (string)
func avatarPrefab(extra bool) entity.Prefab {
	return entity.Prefab{AssetID: avatarAsset, Name: "avatar", Build: func(e *entity.Entity) error {
		if _, err := e.AddMember(syncvar.NewVar(syncvar.Int32Codec, 0, int32(100))); err != nil {
			return err
		}
		if !extra {
			return nil
		}
		_, err := e.AddMember(syncvar.NewVar(syncvar.StringCodec, 0, "anon"))
		return err
	}}
}

func health(e *entity.Entity) *syncvar.Var[int32] {
	return e.Members()[0].(*syncvar.Var[int32])
}

func name(e *entity.Entity) *syncvar.Var[string] {
	return e.Members()[1].(*syncvar.Var[string])
}

type fixture struct {
	reg *entity.Registry
	en  *Engine
	rec *recorder
}

func newFixture(t *testing.T, cfg Config, chans ...syncvar.Channel) *fixture {
	t.Helper()
	reg := entity.NewRegistry(nil, event.NewBus(), zap.NewNop())
	if err := reg.RegisterPrefab(avatarPrefab(true)); err != nil {
		t.Fatal(err)
	}
	channels, err := syncvar.NewChannels(chans...)
	if err != nil {
		t.Fatal(err)
	}
	rec := &recorder{}
	return &fixture{reg: reg, en: NewEngine(reg, channels, rec, cfg, zap.NewNop()), rec: rec}
}

func (f *fixture) ready(conn entity.ConnID) *entity.Player {
	p := f.reg.AddPlayer(conn, false)
	p.Ready = true
	return p
}

func (f *fixture) spawn(t *testing.T, owner entity.ConnID, pos entity.Vec3) *entity.Entity {
	t.Helper()
	e, err := f.reg.Spawn(entity.SpawnParams{AssetID: avatarAsset, Owner: owner, Position: pos})
	if err != nil {
		t.Fatal(err)
	}
	return e
}

type tuple struct {
	kind   StateType
	id     entity.ObjectID
	reason entity.DestroyReason
	elems  []uint64
}

// decodeSafe parses a safe-mode sync packet without a registry.
func decodeSafe(t *testing.T, data []byte) (packet.MsgType, uint32, []tuple) {
	t.Helper()
	r := packet.NewMessageReader(data)
	r.ReadUint8()
	tick := uint32(r.ReadUvarint())
	count := r.ReadInt32()
	var out []tuple
	elements := func() []uint64 {
		n := r.ReadUvarint()
		var ids []uint64
		for i := uint64(0); i < n; i++ {
			ids = append(ids, r.ReadUvarint())
			r.Skip(int(r.ReadInt32()))
		}
		return ids
	}
	for i := int32(0); i < count; i++ {
		tp := tuple{kind: StateType(r.ReadUint8()), id: entity.ObjectID(r.ReadUvarint())}
		switch tp.kind {
		case StateSpawn:
			r.ReadBool()
			r.ReadUvarint()
			for j := 0; j < 6; j++ {
				r.ReadFloat32()
			}
			r.ReadVarint()
			tp.elems = elements()
		case StateDestroy:
			tp.reason = entity.DestroyReason(r.ReadUint8())
		case StateData:
			tp.elems = elements()
		}
		out = append(out, tp)
	}
	if r.Err() != nil || r.Remaining() != 0 {
		t.Fatalf("decode: err=%v remaining=%d", r.Err(), r.Remaining())
	}
	return r.Type(), tick, out
}

func TestSpawnInNextBaselineAfterInterestRebuild(t *testing.T) {
	f := newFixture(t, Config{BaselineInterval: 30, Safe: true})
	f.ready(5)
	p7 := f.ready(7)
	im := interest.NewRebuildManager(f.reg, &interest.Policy{DefaultRange: 30}, 10, zap.NewNop())

	b := f.spawn(t, 7, entity.Vec3{X: 100})
	a := f.spawn(t, 5, entity.Vec3{})
	f.en.Tick(1)
	f.rec.out = nil

	b.Position = entity.Vec3{X: 10}
	im.Tick(10)
	if !p7.IsSubscribed(a.ID) {
		t.Fatal("B's observer not subscribed to A after rebuild")
	}
	f.en.Tick(10)

	got := f.rec.to(7)
	if len(got) != 1 || got[0].ch != packet.Reliable {
		t.Fatalf("observer 7 packets = %+v", got)
	}
	typ, tick, tuples := decodeSafe(t, got[0].data)
	if typ != packet.MsgSyncBaseline || tick != 10 {
		t.Fatalf("type=%s tick=%d", typ, tick)
	}
	if len(tuples) != 1 || tuples[0].kind != StateSpawn || tuples[0].id != a.ID {
		t.Fatalf("tuples = %+v", tuples)
	}
	if len(tuples[0].elems) != 2 {
		t.Fatalf("spawn elements = %v", tuples[0].elems)
	}
	if f.en.Pending(7) != 0 {
		t.Fatal("pending state not cleared after flush")
	}
}

func TestDeltaThenConfirmation(t *testing.T) {
	f := newFixture(t, Config{BaselineInterval: 1000, Safe: true}, syncvar.Channel{Name: "default", SendInterval: 5})
	f.ready(3)
	e := f.spawn(t, entity.ServerConn, entity.Vec3{})
	f.reg.Subscribe(mustPlayer(t, f.reg, 3), e)
	f.en.Tick(1) // spawn
	f.rec.out = nil

	for tick := uint32(2); tick <= 12; tick++ {
		if tick <= 4 {
			health(e).Set(int32(90 - tick))
		}
		f.en.Tick(tick)
	}
	var deltas, baselines int
	for _, s := range f.rec.to(3) {
		typ, _, tuples := decodeSafe(t, s.data)
		if len(tuples) != 1 || tuples[0].kind != StateData || tuples[0].elems[0] != 0 {
			t.Fatalf("unexpected tuples %+v", tuples)
		}
		switch typ {
		case packet.MsgSyncDelta:
			deltas++
			if s.ch != packet.Unreliable {
				t.Fatal("delta sent reliably")
			}
		case packet.MsgSyncBaseline:
			baselines++
		}
	}
	if deltas != 1 || baselines != 1 {
		t.Fatalf("deltas=%d baselines=%d, want 1 and 1", deltas, baselines)
	}
	if f.en.ActiveCount() != 0 {
		t.Fatalf("active elements = %d after settling", f.en.ActiveCount())
	}
}

func TestReliableOnlyChannelWaitsForBaseline(t *testing.T) {
	f := newFixture(t, Config{BaselineInterval: 10, Safe: true},
		syncvar.Channel{Name: "default", SendInterval: 1, ReliableOnly: true})
	f.ready(3)
	e := f.spawn(t, 3, entity.Vec3{})
	f.en.Tick(10)
	f.rec.out = nil

	health(e).Set(1)
	for tick := uint32(11); tick < 20; tick++ {
		f.en.Tick(tick)
	}
	if len(f.rec.out) != 0 {
		t.Fatalf("reliable-only element sent before baseline: %d packets", len(f.rec.out))
	}
	f.en.Tick(20)
	if got := f.rec.to(3); len(got) != 1 || got[0].ch != packet.Reliable {
		t.Fatalf("baseline packets = %+v", got)
	}
}

func TestDestroyOverwritesPendingStates(t *testing.T) {
	f := newFixture(t, Config{BaselineInterval: 1, Safe: true})
	p := f.ready(3)
	e := f.spawn(t, entity.ServerConn, entity.Vec3{})
	f.reg.Subscribe(p, e)
	health(e).Set(5)
	if err := f.reg.Destroy(e.ID, entity.ReasonDestroyed); err != nil {
		t.Fatal(err)
	}
	f.en.Tick(1)

	got := f.rec.to(3)
	if len(got) != 1 {
		t.Fatalf("packets = %d", len(got))
	}
	_, _, tuples := decodeSafe(t, got[0].data)
	if len(tuples) != 1 || tuples[0].kind != StateDestroy || tuples[0].reason != entity.ReasonDestroyed {
		t.Fatalf("tuples = %+v", tuples)
	}
}

func TestDataSuppressedWhileSpawnPending(t *testing.T) {
	f := newFixture(t, Config{BaselineInterval: 1, Safe: true})
	f.ready(3)
	e := f.spawn(t, entity.ServerConn, entity.Vec3{})
	f.en.Tick(1)
	f.reg.Subscribe(mustPlayer(t, f.reg, 3), e)
	health(e).Set(7)
	f.en.Tick(2)

	got := f.rec.to(3)
	if len(got) != 1 {
		t.Fatalf("packets = %d", len(got))
	}
	_, _, tuples := decodeSafe(t, got[0].data)
	if len(tuples) != 1 || tuples[0].kind != StateSpawn {
		t.Fatalf("tuples = %+v", tuples)
	}
}

func TestLocalPlayerReceivesNothing(t *testing.T) {
	f := newFixture(t, Config{BaselineInterval: 1})
	host := f.reg.AddPlayer(0, true)
	host.Ready = true
	e := f.spawn(t, 0, entity.Vec3{})
	health(e).Set(3)
	f.en.Tick(1)
	f.en.Tick(2)
	if len(f.rec.out) != 0 {
		t.Fatalf("host connection received %d packets", len(f.rec.out))
	}
}

func TestUnreadyObserverQueuesUntilReady(t *testing.T) {
	f := newFixture(t, Config{BaselineInterval: 1})
	p := f.reg.AddPlayer(4, false)
	f.spawn(t, 4, entity.Vec3{})
	f.en.Tick(1)
	if len(f.rec.out) != 0 || f.en.Pending(4) != 1 {
		t.Fatalf("sent=%d pending=%d", len(f.rec.out), f.en.Pending(4))
	}
	p.Ready = true
	f.en.Tick(2)
	if len(f.rec.to(4)) != 1 || f.en.Pending(4) != 0 {
		t.Fatal("queued spawn not flushed once ready")
	}
}

func mustPlayer(t *testing.T, reg *entity.Registry, conn entity.ConnID) *entity.Player {
	t.Helper()
	p, ok := reg.Player(conn)
	if !ok {
		t.Fatalf("no player %d", conn)
	}
	return p
}

// client builds a receiving registry; extra controls whether the avatar has
// its second element.
func client(t *testing.T, safe, extra bool) (*entity.Registry, *Applier) {
	t.Helper()
	reg := entity.NewRegistry(nil, event.NewBus(), zap.NewNop())
	if err := reg.RegisterPrefab(avatarPrefab(extra)); err != nil {
		t.Fatal(err)
	}
	return reg, NewApplier(reg, safe, zap.NewNop())
}

func applyAll(t *testing.T, a *Applier, out []sent) error {
	t.Helper()
	for _, s := range out {
		if err := a.Apply(packet.NewMessageReader(s.data)); err != nil {
			return err
		}
	}
	return nil
}

func TestApplierMirrorsServer(t *testing.T) {
	for _, safe := range []bool{true, false} {
		f := newFixture(t, Config{BaselineInterval: 1, Safe: safe})
		p := f.ready(2)
		e := f.spawn(t, entity.ServerConn, entity.Vec3{X: 1, Y: 2, Z: 3})
		name(e).Set("crate")
		f.reg.Subscribe(p, e)
		f.en.Tick(1)

		creg, a := client(t, safe, true)
		if err := applyAll(t, a, f.rec.out); err != nil {
			t.Fatalf("safe=%v: %v", safe, err)
		}
		ce, ok := creg.Get(e.ID)
		if !ok {
			t.Fatalf("safe=%v: entity not spawned on client", safe)
		}
		if ce.Position != e.Position || name(ce).Get() != "crate" {
			t.Fatalf("safe=%v: client state pos=%v name=%q", safe, ce.Position, name(ce).Get())
		}

		f.rec.out = nil
		health(e).Set(42)
		f.en.Tick(2)
		if err := applyAll(t, a, f.rec.out); err != nil {
			t.Fatal(err)
		}
		if health(ce).Get() != 42 {
			t.Fatalf("safe=%v: health = %d", safe, health(ce).Get())
		}

		f.rec.out = nil
		if err := f.reg.Destroy(e.ID, entity.ReasonDestroyed); err != nil {
			t.Fatal(err)
		}
		f.en.Tick(3)
		if err := applyAll(t, a, f.rec.out); err != nil {
			t.Fatal(err)
		}
		if _, ok := creg.Get(e.ID); ok {
			t.Fatalf("safe=%v: entity survived destroy", safe)
		}
	}
}

func TestSafeModeSkipsUnresolvedElement(t *testing.T) {
	f := newFixture(t, Config{BaselineInterval: 1, Safe: true})
	p := f.ready(2)
	e := f.spawn(t, entity.ServerConn, entity.Vec3{})
	f.reg.Subscribe(p, e)
	health(e).Set(12)
	name(e).Set("x")
	f.en.Tick(1)

	_, a := client(t, true, false)
	if err := applyAll(t, a, f.rec.out); err != nil {
		t.Fatal(err)
	}
	if st := a.Stats(); st.Applied != 1 || st.Skipped != 1 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestUnsafeModeAbortsOnUnresolvedElement(t *testing.T) {
	f := newFixture(t, Config{BaselineInterval: 1})
	p := f.ready(2)
	e := f.spawn(t, entity.ServerConn, entity.Vec3{})
	f.reg.Subscribe(p, e)
	f.en.Tick(1)

	_, a := client(t, false, false)
	if err := applyAll(t, a, f.rec.out); !errors.Is(err, ErrUnresolved) {
		t.Fatalf("err = %v, want ErrUnresolved", err)
	}
}

func TestStaleDeltaDoesNotRollBack(t *testing.T) {
	f := newFixture(t, Config{BaselineInterval: 1000}, syncvar.Channel{Name: "default", SendInterval: 1})
	p := f.ready(2)
	e := f.spawn(t, entity.ServerConn, entity.Vec3{})
	f.reg.Subscribe(p, e)
	f.en.Tick(1000)
	creg, a := client(t, false, true)
	if err := applyAll(t, a, f.rec.out); err != nil {
		t.Fatal(err)
	}
	ce, _ := creg.Get(e.ID)

	f.rec.out = nil
	health(e).Set(50)
	f.en.Tick(1001) // unreliable send
	health(e).Set(60)
	f.en.Tick(1002) // reliable confirmation with latest value
	f.en.Tick(1003)
	if len(f.rec.out) != 2 {
		t.Fatalf("packets = %d", len(f.rec.out))
	}
	// deliver newest first
	if err := applyAll(t, a, []sent{f.rec.out[1], f.rec.out[0]}); err != nil {
		t.Fatal(err)
	}
	if health(ce).Get() != 60 {
		t.Fatalf("health = %d, stale delta rolled state back", health(ce).Get())
	}
}

func TestMalformedCountRejected(t *testing.T) {
	_, a := client(t, true, true)
	w := packet.NewMessageWriter(packet.MsgSyncDelta)
	w.WriteUint8(0)
	w.WriteUvarint(1)
	w.WriteInt32(1000)
	if err := a.Apply(packet.NewMessageReader(w.Bytes())); !errors.Is(err, ErrMalformed) {
		t.Fatalf("err = %v", err)
	}
}
