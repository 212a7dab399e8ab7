package isca

import (
	"fmt"
	"sort"
	"sync"
)

// LocusState is the lifecycle state of a locus in the registry.
type LocusState int

const (
	// StatePending is a registered locus that has never been dispatched.
	StatePending LocusState = iota

	// StateInProgress is a locus with an assembly job in flight.
	StateInProgress

	// StateResolved is a locus with an assembly that met the thresholds. Terminal.
	StateResolved

	// StateUnresolved is a locus whose last attempt failed but that may be retried.
	StateUnresolved

	// StateExhausted is a locus that failed every available strategy. Terminal.
	StateExhausted
)

// String returns the state name used in logs, the verdict log and the summary.
func (s LocusState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateInProgress:
		return "in_progress"
	case StateResolved:
		return "resolved"
	case StateUnresolved:
		return "unresolved"
	case StateExhausted:
		return "exhausted"
	}

	return "unknown"
}

// Reason explains why a locus failed an attempt or left the retry loop.
type Reason string

const (
	// ReasonNone is the zero reason, set on loci that have not failed.
	ReasonNone Reason = ""

	// ReasonNoReads marks a locus that no reads classified to.
	ReasonNoReads Reason = "NO_READS"

	// ReasonNamingConflict marks a locus whose sanitized ID collided with
	// another locus's directory name.
	ReasonNamingConflict Reason = "NAMING_CONFLICT"

	// ReasonExecFailed marks a locus whose aligner or assembler exited non-zero.
	ReasonExecFailed Reason = "EXECUTION_FAILED"

	// ReasonTimeout marks a locus whose aligner or assembler hit the execution timeout.
	ReasonTimeout Reason = "TIMEOUT"

	// ReasonBelowThreshold marks an assembly that completed but missed the quality thresholds.
	ReasonBelowThreshold Reason = "BELOW_THRESHOLD"

	// ReasonStrategiesExhausted marks a locus that failed with every configured strategy.
	ReasonStrategiesExhausted Reason = "STRATEGIES_EXHAUSTED"

	// ReasonIterationLimit marks a locus cut off by the max-iterations bound.
	ReasonIterationLimit Reason = "ITERATION_LIMIT"
)

// Attempt records one dispatch of a locus through a strategy.
type Attempt struct {
	// Iteration the attempt ran in, 1-based
	Iteration int `json:"iteration"`

	// Strategy name, eg "gsnap+spades"
	Strategy string `json:"strategy"`

	// Score is the best percent identity the attempt achieved, 0-100
	Score float64 `json:"score"`

	// Resolved is whether the attempt met the thresholds
	Resolved bool `json:"resolved"`

	// Reason the attempt failed, empty when resolved
	Reason Reason `json:"reason,omitempty"`
}

// Locus is one target region to assemble. Coordinates are 0-based
// half-open against the named reference sequence.
type Locus struct {
	// ID of the locus from the annotation, unique per run
	ID string

	// Ref is the reference sequence name the locus lies on
	Ref string

	// Start of the locus on Ref
	Start int

	// End of the locus on Ref
	End int

	// Strand is '+' or '-'
	Strand byte

	// Seq is the reference allele sequence, extracted from the reference FASTA
	Seq string

	// state fields below are owned by the registry and guarded by its mutex

	state         LocusState
	strategyIndex int
	reason        Reason
	attempts      []Attempt
}

// ExpectedLen is the reference length assemblies are measured against.
func (l *Locus) ExpectedLen() int {
	if l.Seq != "" {
		return len(l.Seq)
	}
	return l.End - l.Start
}

// DuplicateLocusError is returned when registering a locus ID twice.
type DuplicateLocusError struct {
	ID string
}

func (e *DuplicateLocusError) Error() string {
	return fmt.Sprintf("duplicate locus id %s", e.ID)
}

// InvalidTransitionError is returned for a state change the lifecycle does not allow.
type InvalidTransitionError struct {
	ID   string
	From LocusState
	To   LocusState
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition for locus %s: %s -> %s", e.ID, e.From, e.To)
}

// registry is the single authority over locus state. All reads and writes
// of locus lifecycle fields go through it, under one mutex.
type registry struct {
	mu sync.Mutex

	// loci by ID
	loci map[string]*Locus

	// ids in registration order, for deterministic iteration
	ids []string
}

// newRegistry creates an empty locus registry.
func newRegistry() *registry {
	return &registry{
		loci: make(map[string]*Locus),
	}
}

// add registers a locus in StatePending. Locus IDs are unique per run.
func (r *registry) add(l *Locus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, seen := r.loci[l.ID]; seen {
		return &DuplicateLocusError{ID: l.ID}
	}

	l.state = StatePending
	r.loci[l.ID] = l
	r.ids = append(r.ids, l.ID)

	return nil
}

// transition moves a locus to a new state, erroring on edges the
// lifecycle does not allow. A retry dispatch (unresolved -> in_progress)
// consumes the locus's next strategy.
func (r *registry) transition(id string, to LocusState) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.transitionLocked(id, to)
}

func (r *registry) transitionLocked(id string, to LocusState) error {
	l, ok := r.loci[id]
	if !ok {
		return fmt.Errorf("failed to find locus %s in the registry", id)
	}

	if !validTransition(l.state, to) {
		return &InvalidTransitionError{ID: id, From: l.state, To: to}
	}

	if l.state == StateUnresolved && to == StateInProgress {
		l.strategyIndex++
	}

	l.state = to
	return nil
}

// validTransition is the lifecycle edge table. Resolved and exhausted are terminal.
func validTransition(from, to LocusState) bool {
	switch from {
	case StatePending:
		return to == StateInProgress
	case StateInProgress:
		return to == StateResolved || to == StateUnresolved
	case StateUnresolved:
		return to == StateInProgress || to == StateExhausted
	}

	return false
}

// resolve commits a passing attempt and moves the locus to StateResolved.
func (r *registry) resolve(id string, a Attempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.transitionLocked(id, StateResolved); err != nil {
		return err
	}

	l := r.loci[id]
	l.reason = ReasonNone
	l.attempts = append(l.attempts, a)

	return nil
}

// fail commits a failed attempt and moves the locus to StateUnresolved.
func (r *registry) fail(id string, a Attempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.transitionLocked(id, StateUnresolved); err != nil {
		return err
	}

	l := r.loci[id]
	l.reason = a.Reason
	l.attempts = append(l.attempts, a)

	return nil
}

// exhaust retires an unresolved locus that has no strategies or iterations left.
func (r *registry) exhaust(id string, reason Reason) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.transitionLocked(id, StateExhausted); err != nil {
		return err
	}

	r.loci[id].reason = reason
	return nil
}

// get returns the locus with the ID passed.
func (r *registry) get(id string) (*Locus, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	l, ok := r.loci[id]
	return l, ok
}

// state returns the current state of one locus.
func (r *registry) state(id string) LocusState {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.loci[id].state
}

// strategyIndex returns the index of the strategy the locus is on.
func (r *registry) strategyIndex(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.loci[id].strategyIndex
}

// reason returns the locus's recorded failure reason, empty for none.
func (r *registry) reason(id string) Reason {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.loci[id].reason
}

// attempts returns a copy of the locus's attempt history.
func (r *registry) attempts(id string) []Attempt {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]Attempt(nil), r.loci[id].attempts...)
}

// snapshot returns a copy of every locus's state keyed by ID. Used for
// reporting so callers never see a half-committed batch.
func (r *registry) snapshot() map[string]LocusState {
	r.mu.Lock()
	defer r.mu.Unlock()

	states := make(map[string]LocusState, len(r.loci))
	for id, l := range r.loci {
		states[id] = l.state
	}

	return states
}

// byState returns the IDs in a state, sorted, for deterministic reporting.
func (r *registry) byState(s LocusState) (ids []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, l := range r.loci {
		if l.state == s {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	return
}

// unfinished returns loci still in the retry loop (pending or unresolved),
// in registration order.
func (r *registry) unfinished() (ids []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, id := range r.ids {
		s := r.loci[id].state
		if s == StatePending || s == StateUnresolved {
			ids = append(ids, id)
		}
	}

	return
}

// ordered returns every locus ID in registration order.
func (r *registry) ordered() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]string(nil), r.ids...)
}

// done is whether every locus reached a terminal state.
func (r *registry) done() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, l := range r.loci {
		if l.state != StateResolved && l.state != StateExhausted {
			return false
		}
	}

	return true
}

// counts tallies loci per state for the end of run summary.
func (r *registry) counts() map[LocusState]int {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := make(map[LocusState]int)
	for _, l := range r.loci {
		c[l.state]++
	}

	return c
}

// len is the number of registered loci.
func (r *registry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.loci)
}
