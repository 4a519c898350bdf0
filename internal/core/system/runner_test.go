package system

import (
	"testing"
	"time"
)

type recorder struct {
	name  string
	phase Phase
	log   *[]string
	clock *Clock
	ticks []uint32
}

func (r *recorder) Phase() Phase { return r.phase }
func (r *recorder) Update(time.Duration) {
	*r.log = append(*r.log, r.name)
	r.ticks = append(r.ticks, r.clock.Now())
}

func TestRunnerOrdersByPhaseThenRegistration(t *testing.T) {
	var log []string
	run := NewRunner()
	mk := func(name string, p Phase) *recorder {
		return &recorder{name: name, phase: p, log: &log, clock: run.Clock()}
	}
	out1 := mk("replication", PhaseOutput)
	run.Register(out1)
	run.Register(mk("flush", PhaseOutput))
	run.Register(mk("interest", PhasePostUpdate))
	run.Register(mk("input", PhaseInput))

	run.Tick(time.Millisecond)
	want := []string{"input", "interest", "replication", "flush"}
	for i := range want {
		if log[i] != want[i] {
			t.Fatalf("order = %v, want %v", log, want)
		}
	}

	run.Tick(time.Millisecond)
	if len(out1.ticks) != 2 || out1.ticks[0] != 1 || out1.ticks[1] != 2 {
		t.Fatalf("ticks = %v", out1.ticks)
	}

	log = log[:0]
	run.TickPhase(PhaseInput, time.Millisecond)
	if len(log) != 1 || log[0] != "input" || run.Clock().Now() != 2 {
		t.Fatalf("TickPhase ran %v at tick %d", log, run.Clock().Now())
	}
}
