package persist

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

func openTestDB(t *testing.T) *ObjectStore {
	t.Helper()
	ctx := context.Background()
	db, err := OpenSQLite(ctx, ":memory:", zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(db.Close)
	if err := RunMigrations(ctx, db); err != nil {
		t.Fatal(err)
	}
	return NewObjectStore(db)
}

func TestHighestObjectIDNeverDecreases(t *testing.T) {
	s := openTestDB(t)
	ctx := context.Background()

	if id, err := s.HighestObjectID(ctx); err != nil || id != 0 {
		t.Fatalf("empty store = %d, %v", id, err)
	}
	for _, id := range []uint32{10, 42, 7} {
		if err := s.SaveHighestObjectID(ctx, id); err != nil {
			t.Fatal(err)
		}
	}
	if id, err := s.HighestObjectID(ctx); err != nil || id != 42 {
		t.Fatalf("highest = %d, %v; want 42", id, err)
	}
}

func TestAppendOwnership(t *testing.T) {
	s := openTestDB(t)
	ctx := context.Background()
	at := time.UnixMilli(1_700_000_000_000)

	err := s.AppendOwnership(ctx, []OwnershipRecord{
		{ObjectID: 5, Prev: -1, Owner: 2, Tick: 100, At: at},
		{ObjectID: 6, Prev: -1, Owner: 3, Tick: 100, At: at},
		{ObjectID: 5, Prev: 2, Owner: -1, Tick: 140, At: at},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.AppendOwnership(ctx, nil); err != nil {
		t.Fatal(err)
	}

	hist, err := s.Ownership(ctx, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(hist) != 2 {
		t.Fatalf("history = %+v", hist)
	}
	if hist[0].Owner != 2 || hist[1].Prev != 2 || hist[1].Owner != -1 || hist[1].Tick != 140 {
		t.Fatalf("history order wrong: %+v", hist)
	}
	if !hist[0].At.Equal(at) {
		t.Fatalf("at = %v, want %v", hist[0].At, at)
	}
}

func TestRecordSession(t *testing.T) {
	s := openTestDB(t)
	ctx := context.Background()
	rec := SessionRecord{
		TraceID:        uuid.New(),
		ConnID:         4,
		RemoteAddr:     "127.0.0.1:5000",
		ConnectedAt:    time.Now().Add(-time.Minute),
		DisconnectedAt: time.Now(),
		Reason:         "closed",
	}
	if err := s.RecordSession(ctx, rec); err != nil {
		t.Fatal(err)
	}
	if err := s.RecordSession(ctx, rec); err == nil {
		t.Fatal("duplicate trace id accepted")
	}
	if n, err := s.SessionCount(ctx); err != nil || n != 1 {
		t.Fatalf("sessions = %d, %v", n, err)
	}
}

func TestRebind(t *testing.T) {
	pg := &DB{Dialect: DialectPostgres}
	if got := pg.rebind("a = ? AND b = ?"); got != "a = $1 AND b = $2" {
		t.Fatalf("rebind = %q", got)
	}
	lite := &DB{Dialect: DialectSQLite}
	if got := lite.rebind("a = ?"); got != "a = ?" {
		t.Fatalf("sqlite rebind = %q", got)
	}
}

func TestJournalFlush(t *testing.T) {
	s := openTestDB(t)
	ctx := context.Background()

	var j Journal
	j.RecordOwnership(OwnershipRecord{ObjectID: 1, Prev: -1, Owner: 4, Tick: 3})
	j.RecordSession(SessionRecord{TraceID: uuid.New(), ConnID: 4, RemoteAddr: "pipe"})
	if j.Len() != 2 {
		t.Fatalf("len = %d", j.Len())
	}
	if err := j.Flush(ctx, s); err != nil {
		t.Fatal(err)
	}
	if j.Len() != 0 {
		t.Fatalf("journal not drained: %d", j.Len())
	}
	if hist, _ := s.Ownership(ctx, 1); len(hist) != 1 || hist[0].Owner != 4 {
		t.Fatalf("history = %+v", hist)
	}
	if n, _ := s.SessionCount(ctx); n != 1 {
		t.Fatalf("sessions = %d", n)
	}
}
