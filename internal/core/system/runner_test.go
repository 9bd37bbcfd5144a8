package system

import (
	"reflect"
	"testing"
	"time"
)

type recorder struct {
	name  string
	phase Phase
	log   *[]string
}

func (r recorder) Phase() Phase           { return r.phase }
func (r recorder) Update(_ time.Duration) { *r.log = append(*r.log, r.name) }

func TestRunnerOrdersByPhaseStable(t *testing.T) {
	var log []string
	r := NewRunner()
	r.Register(recorder{"cleanup", PhaseCleanup, &log})
	r.Register(recorder{"steer", PhaseSteer, &log})
	r.Register(recorder{"move-a", PhaseMove, &log})
	r.Register(recorder{"move-b", PhaseMove, &log})
	r.Register(recorder{"events", PhasePreUpdate, &log})

	r.Tick(time.Millisecond)
	want := []string{"events", "move-a", "move-b", "steer", "cleanup"}
	if !reflect.DeepEqual(log, want) {
		t.Fatalf("order = %v, want %v", log, want)
	}
	if r.Ticks() != 1 {
		t.Errorf("Ticks=%d", r.Ticks())
	}

	log = log[:0]
	r.TickPhase(PhaseMove, time.Millisecond)
	if !reflect.DeepEqual(log, []string{"move-a", "move-b"}) {
		t.Errorf("TickPhase ran %v", log)
	}
	if r.Ticks() != 1 {
		t.Errorf("TickPhase advanced the counter")
	}
}

func TestPhaseString(t *testing.T) {
	if PhaseSteer.String() != "steer" || Phase(42).String() != "unknown" {
		t.Errorf("unexpected names %q %q", PhaseSteer, Phase(42))
	}
}
