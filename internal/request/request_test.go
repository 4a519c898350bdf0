package request

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/replinet/server/internal/entity"
	"github.com/replinet/server/internal/net/packet"
	"go.uber.org/zap"
)

type sent struct {
	conn entity.ConnID
	data []byte
}

type recorder struct {
	mu  sync.Mutex
	out []sent
}

func (r *recorder) SendTo(conn entity.ConnID, _ packet.Channel, data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.out = append(r.out, sent{conn: conn, data: append([]byte(nil), data...)})
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newLayer() (*Layer, *recorder, *clock) {
	rec := &recorder{}
	clk := &clock{t: time.Unix(1_700_000_000, 0)}
	return New(rec, zap.NewNop(), WithClock(clk.now)), rec, clk
}

func TestTimeoutFiresOnceAndRemovesEntry(t *testing.T) {
	l, _, clk := newLayer()
	var got []Response
	ack := l.Send(3, 1, nil, 2000*time.Millisecond, func(r Response) { got = append(got, r) })

	clk.advance(1999 * time.Millisecond)
	if n := l.Sweep(); n != 0 || len(got) != 0 {
		t.Fatalf("fired before timeout: n=%d got=%v", n, got)
	}
	clk.advance(time.Millisecond)
	if n := l.Sweep(); n != 1 {
		t.Fatalf("Sweep = %d, want 1", n)
	}
	if len(got) != 1 || got[0].Code != CodeTimeout || got[0].AckID != ack || got[0].From != 3 {
		t.Fatalf("responses = %+v", got)
	}
	if l.Pending() != 0 {
		t.Fatal("pending entry kept after timeout")
	}
	clk.advance(time.Hour)
	l.Sweep()
	if len(got) != 1 {
		t.Fatal("continuation fired twice")
	}
}

func TestZeroTimeoutNeverExpires(t *testing.T) {
	l, _, clk := newLayer()
	l.Send(1, 1, nil, 0, func(Response) { t.Fatal("fired") })
	clk.advance(24 * time.Hour)
	if l.Sweep() != 0 || l.Pending() != 1 {
		t.Fatal("zero-timeout request expired")
	}
}

// roundTrip delivers every request in from's outbox to to, and every
// response back.
func roundTrip(t *testing.T, client *Layer, clientOut *recorder, server *Layer, serverOut *recorder) {
	t.Helper()
	for _, s := range clientOut.out {
		r := packet.NewMessageReader(s.data)
		if r.Type() != packet.MsgRequest {
			t.Fatalf("client sent %s", r.Type())
		}
		if err := server.HandleRequest(7, r); err != nil {
			t.Fatal(err)
		}
	}
	for _, s := range serverOut.out {
		r := packet.NewMessageReader(s.data)
		if s.conn != 7 || r.Type() != packet.MsgResponse {
			t.Fatalf("server sent %s to %d", r.Type(), s.conn)
		}
		if err := client.HandleResponse(entity.ServerConn, r); err != nil {
			t.Fatal(err)
		}
	}
}

func TestResponseBeatsTimeout(t *testing.T) {
	client, clientOut, clk := newLayer()
	server, serverOut, _ := newLayer()
	server.Handle(5, func(from entity.ConnID, r *packet.Reader) (Code, []byte) {
		w := packet.NewWriter()
		w.WriteString("echo:" + r.ReadString())
		return CodeSuccess, w.Bytes()
	})

	body := packet.NewWriter()
	body.WriteString("hi")
	var got []Response
	client.Send(entity.ServerConn, 5, body.Bytes(), time.Second, func(r Response) { got = append(got, r) })
	roundTrip(t, client, clientOut, server, serverOut)

	clk.advance(time.Minute)
	client.Sweep()
	if len(got) != 1 || got[0].Code != CodeSuccess {
		t.Fatalf("responses = %+v", got)
	}
	if s := packet.NewReader(got[0].Payload).ReadString(); s != "echo:hi" {
		t.Fatalf("payload = %q", s)
	}
}

func TestUnregisteredTypeUnimplemented(t *testing.T) {
	client, clientOut, _ := newLayer()
	server, serverOut, _ := newLayer()
	var code Code
	client.Send(entity.ServerConn, 42, nil, time.Second, func(r Response) { code = r.Code })
	roundTrip(t, client, clientOut, server, serverOut)
	if code != CodeUnimplemented {
		t.Fatalf("code = %s", code)
	}
}

func TestLateResponseDropped(t *testing.T) {
	client, clientOut, clk := newLayer()
	server, serverOut, _ := newLayer()
	server.Handle(1, func(entity.ConnID, *packet.Reader) (Code, []byte) { return CodeSuccess, nil })
	var got []Code
	client.Send(entity.ServerConn, 1, nil, time.Second, func(r Response) { got = append(got, r.Code) })
	clk.advance(2 * time.Second)
	client.Sweep()
	roundTrip(t, client, clientOut, server, serverOut)
	if len(got) != 1 || got[0] != CodeTimeout {
		t.Fatalf("codes = %v", got)
	}
}

func TestConcurrentResponseAndSweepFireOnce(t *testing.T) {
	for i := 0; i < 200; i++ {
		client, _, clk := newLayer()
		var fired atomic.Int32
		ack := client.Send(entity.ServerConn, 1, nil, time.Millisecond, func(Response) { fired.Add(1) })
		clk.advance(time.Second)

		w := packet.NewMessageWriter(packet.MsgResponse)
		w.WriteUvarint(uint64(ack))
		w.WriteUint8(byte(CodeSuccess))
		w.WriteBlob(nil)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = client.HandleResponse(entity.ServerConn, packet.NewMessageReader(w.Bytes()))
		}()
		go func() {
			defer wg.Done()
			client.Sweep()
		}()
		wg.Wait()
		if n := fired.Load(); n != 1 {
			t.Fatalf("iteration %d: fired %d times", i, n)
		}
	}
}

func TestAckIDsUnique(t *testing.T) {
	l, _, _ := newLayer()
	seen := map[uint32]bool{}
	for i := 0; i < 100; i++ {
		ack := l.Send(1, 1, nil, 0, nil)
		if ack == 0 || seen[ack] {
			t.Fatalf("ack %d reused or zero", ack)
		}
		seen[ack] = true
	}
}

func response(ack uint32, code Code, payload string) []byte {
	w := packet.NewMessageWriter(packet.MsgResponse)
	w.WriteUvarint(uint64(ack))
	w.WriteUint8(byte(code))
	w.WriteBlob([]byte(payload))
	return w.Bytes()
}

func TestResponseFromOtherPeerIgnored(t *testing.T) {
	l, _, _ := newLayer()
	var got []Response
	ack := l.Send(3, 1, nil, 0, func(r Response) { got = append(got, r) })

	if err := l.HandleResponse(9, packet.NewMessageReader(response(ack, CodeSuccess, "forged"))); err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 || l.Pending() != 1 {
		t.Fatalf("foreign response consumed request: got=%+v pending=%d", got, l.Pending())
	}

	if err := l.HandleResponse(3, packet.NewMessageReader(response(ack, CodeSuccess, "real"))); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].From != 3 || string(got[0].Payload) != "real" {
		t.Fatalf("responses = %+v", got)
	}
}

func TestDropFailsRequestsForConn(t *testing.T) {
	l, _, _ := newLayer()
	var codes []Code
	cont := func(r Response) { codes = append(codes, r.Code) }
	l.Send(4, 1, nil, 0, cont)
	l.Send(4, 1, nil, time.Second, cont)
	l.Send(5, 1, nil, 0, cont)

	if n := l.Drop(4); n != 2 {
		t.Fatalf("Drop = %d, want 2", n)
	}
	if len(codes) != 2 || codes[0] != CodeError || codes[1] != CodeError {
		t.Fatalf("codes = %v", codes)
	}
	if l.Pending() != 1 {
		t.Fatalf("pending = %d, want 1", l.Pending())
	}
	if l.Drop(4) != 0 {
		t.Fatal("second drop fired again")
	}
}
