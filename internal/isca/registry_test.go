package isca

import (
	"errors"
	"reflect"
	"testing"
)

func Test_registry_add(t *testing.T) {
	r := newRegistry()

	if err := r.add(&Locus{ID: "dnaA", Ref: "chr1", Start: 100, End: 200}); err != nil {
		t.Fatalf("failed to add locus: %v", err)
	}

	err := r.add(&Locus{ID: "dnaA", Ref: "chr1", Start: 400, End: 600})
	var dup *DuplicateLocusError
	if !errors.As(err, &dup) {
		t.Errorf("add() on a repeat ID = %v, want DuplicateLocusError", err)
	}
	if dup != nil && dup.ID != "dnaA" {
		t.Errorf("DuplicateLocusError.ID = %s, want dnaA", dup.ID)
	}

	if l, _ := r.get("dnaA"); l.End != 200 {
		t.Errorf("first registration overwritten, End = %d, want 200", l.End)
	}
}

func Test_registry_transition(t *testing.T) {
	tests := []struct {
		name  string
		path  []LocusState
		next  LocusState
		valid bool
	}{
		{
			"pending to in_progress",
			[]LocusState{},
			StateInProgress,
			true,
		},
		{
			"pending straight to resolved",
			[]LocusState{},
			StateResolved,
			false,
		},
		{
			"in_progress to resolved",
			[]LocusState{StateInProgress},
			StateResolved,
			true,
		},
		{
			"in_progress to unresolved",
			[]LocusState{StateInProgress},
			StateUnresolved,
			true,
		},
		{
			"unresolved back to in_progress",
			[]LocusState{StateInProgress, StateUnresolved},
			StateInProgress,
			true,
		},
		{
			"unresolved to exhausted",
			[]LocusState{StateInProgress, StateUnresolved},
			StateExhausted,
			true,
		},
		{
			"resolved is terminal",
			[]LocusState{StateInProgress, StateResolved},
			StateInProgress,
			false,
		},
		{
			"exhausted is terminal",
			[]LocusState{StateInProgress, StateUnresolved, StateExhausted},
			StateInProgress,
			false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRegistry()
			if err := r.add(&Locus{ID: "tt", Ref: "chr1"}); err != nil {
				t.Fatal(err)
			}
			for _, s := range tt.path {
				if err := r.transition("tt", s); err != nil {
					t.Fatalf("failed to walk to %s: %v", s, err)
				}
			}

			err := r.transition("tt", tt.next)
			if tt.valid && err != nil {
				t.Errorf("transition() = %v, want nil", err)
			}
			if !tt.valid {
				var inv *InvalidTransitionError
				if !errors.As(err, &inv) {
					t.Errorf("transition() = %v, want InvalidTransitionError", err)
				}
			}
		})
	}
}

func Test_registry_retryConsumesStrategy(t *testing.T) {
	r := newRegistry()
	if err := r.add(&Locus{ID: "rpoB", Ref: "chr1"}); err != nil {
		t.Fatal(err)
	}

	// first dispatch stays on strategy 0
	if err := r.transition("rpoB", StateInProgress); err != nil {
		t.Fatal(err)
	}
	if got := r.strategyIndex("rpoB"); got != 0 {
		t.Errorf("strategyIndex after first dispatch = %d, want 0", got)
	}

	if err := r.fail("rpoB", Attempt{Iteration: 1, Strategy: "gsnap+spades", Reason: ReasonBelowThreshold}); err != nil {
		t.Fatal(err)
	}

	// a retry advances to the next strategy
	if err := r.transition("rpoB", StateInProgress); err != nil {
		t.Fatal(err)
	}
	if got := r.strategyIndex("rpoB"); got != 1 {
		t.Errorf("strategyIndex after retry = %d, want 1", got)
	}
}

func Test_registry_snapshot(t *testing.T) {
	r := newRegistry()
	for _, id := range []string{"a", "b", "c"} {
		if err := r.add(&Locus{ID: id, Ref: "chr1"}); err != nil {
			t.Fatal(err)
		}
	}

	if err := r.transition("a", StateInProgress); err != nil {
		t.Fatal(err)
	}
	if err := r.resolve("a", Attempt{Iteration: 1, Strategy: "gsnap+spades", Score: 99.1, Resolved: true}); err != nil {
		t.Fatal(err)
	}
	if err := r.transition("b", StateInProgress); err != nil {
		t.Fatal(err)
	}
	if err := r.fail("b", Attempt{Iteration: 1, Strategy: "gsnap+spades", Reason: ReasonNoReads}); err != nil {
		t.Fatal(err)
	}

	want := map[string]LocusState{
		"a": StateResolved,
		"b": StateUnresolved,
		"c": StatePending,
	}
	if got := r.snapshot(); !reflect.DeepEqual(got, want) {
		t.Errorf("snapshot() = %v, want %v", got, want)
	}

	// mutating the snapshot must not touch the registry
	snap := r.snapshot()
	snap["a"] = StateExhausted
	if r.state("a") != StateResolved {
		t.Error("snapshot is not a copy")
	}

	if got, want := r.unfinished(), []string{"b", "c"}; !reflect.DeepEqual(got, want) {
		t.Errorf("unfinished() = %v, want %v", got, want)
	}
	if r.done() {
		t.Error("done() = true with pending loci")
	}
}

func Test_registry_counts(t *testing.T) {
	r := newRegistry()
	for _, id := range []string{"a", "b", "c", "d"} {
		if err := r.add(&Locus{ID: id, Ref: "chr1"}); err != nil {
			t.Fatal(err)
		}
	}

	for _, id := range []string{"a", "b"} {
		if err := r.transition(id, StateInProgress); err != nil {
			t.Fatal(err)
		}
	}
	if err := r.resolve("a", Attempt{Resolved: true}); err != nil {
		t.Fatal(err)
	}
	if err := r.fail("b", Attempt{Reason: ReasonTimeout}); err != nil {
		t.Fatal(err)
	}
	if err := r.exhaust("b", ReasonStrategiesExhausted); err != nil {
		t.Fatal(err)
	}

	want := map[LocusState]int{
		StateResolved:  1,
		StateExhausted: 1,
		StatePending:   2,
	}
	if got := r.counts(); !reflect.DeepEqual(got, want) {
		t.Errorf("counts() = %v, want %v", got, want)
	}

	l, _ := r.get("b")
	if l.reason != ReasonStrategiesExhausted {
		t.Errorf("exhaust reason = %s, want %s", l.reason, ReasonStrategiesExhausted)
	}
}

func Test_Locus_ExpectedLen(t *testing.T) {
	tests := []struct {
		name  string
		locus Locus
		want  int
	}{
		{
			"from coordinates",
			Locus{ID: "l1", Start: 100, End: 250},
			150,
		},
		{
			"from extracted sequence",
			Locus{ID: "l2", Start: 100, End: 250, Seq: "ATGC"},
			4,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.locus.ExpectedLen(); got != tt.want {
				t.Errorf("ExpectedLen() = %d, want %d", got, tt.want)
			}
		})
	}
}
