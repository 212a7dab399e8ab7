package isca

import (
	"errors"
	"strings"
)

// Threshold is the quality bar an assembled locus must clear.
type Threshold struct {
	// MinIdentity is the minimum identity percent against the best
	// matching allele, 0 to 100
	MinIdentity float64

	// MinLengthFraction is how much of the locus's expected length the
	// contig's aligned span must cover, 0 to 1
	MinLengthFraction float64
}

// Verdict is the evaluator's ruling on one locus attempt. One verdict is
// appended to the log per attempted locus per iteration.
type Verdict struct {
	// Locus ruled on
	Locus string `json:"locus"`

	// Iteration of the attempt, 1-based
	Iteration int `json:"iteration"`

	// Strategy that ran the attempt
	Strategy string `json:"strategy"`

	// Resolved is whether the best contig cleared the threshold
	Resolved bool `json:"resolved"`

	// Reason the locus stayed unresolved, empty when resolved
	Reason Reason `json:"reason,omitempty"`

	// Score is the identity metric the ruling used: plain identity for
	// read fed assemblers, no-gap identity for alignment fed ones
	Score float64 `json:"score"`

	// MinIdentity the ruling held the score against
	MinIdentity float64 `json:"min_identity,omitempty"`

	// MinLengthFraction the ruling held the aligned span against
	MinLengthFraction float64 `json:"min_length_fraction,omitempty"`

	// Contig is the best contig's ID, empty when nothing was assessed
	Contig string `json:"contig,omitempty"`

	// Isolate whose allele the best contig matched
	Isolate string `json:"isolate,omitempty"`

	// Identity percent of the best pairing, gaps counted
	Identity float64 `json:"identity,omitempty"`

	// NoGapIdentity percent of the best pairing
	NoGapIdentity float64 `json:"no_gap_identity,omitempty"`

	// RefAlignedLen is the reference bases covered by the best contig
	RefAlignedLen int `json:"ref_aligned_len,omitempty"`

	// AssembledLen of the best contig's aligned sequence
	AssembledLen int `json:"assembled_len,omitempty"`

	// Coverage is reference length over assembled length
	Coverage float64 `json:"coverage,omitempty"`

	// Reverse is whether the best contig matched as reverse complement
	Reverse bool `json:"reverse,omitempty"`

	// ReadCount binned for the attempt
	ReadCount int `json:"read_count"`

	// Digest of the attempt's ordered read set, echoed for rerun checks
	Digest string `json:"digest,omitempty"`

	// File is the best pairing's assessment report
	File string `json:"file,omitempty"`

	// Seq is the best contig's sequence, oriented to the reference.
	// Kept for the final extraction, not logged.
	Seq string `json:"-"`
}

// Evaluate rules on one attempt. Pure: the registry is not touched, the
// caller commits the transition. The best pairing is the one with the
// highest metric for the strategy's assembler input, ties broken toward
// the priority isolate prefix and then toward assessment order.
func Evaluate(res AssemblyResult, th Threshold, priority string) Verdict {
	v := Verdict{
		Locus:             res.Unit.Locus.ID,
		Iteration:         res.Unit.Iteration,
		Strategy:          res.Unit.Strategy.Name,
		ReadCount:         res.Unit.ReadCount,
		Digest:            res.Unit.Digest,
		MinIdentity:       th.MinIdentity,
		MinLengthFraction: th.MinLengthFraction,
	}

	if res.Err != nil {
		var execErr *AssemblyExecutionError
		if errors.As(res.Err, &execErr) && execErr.TimedOut {
			v.Reason = ReasonTimeout
		} else {
			v.Reason = ReasonExecFailed
		}
		return v
	}

	if len(res.Metrics) == 0 {
		v.Reason = ReasonBelowThreshold
		return v
	}

	best := -1
	bestMetric := 0.0
	for i, m := range res.Metrics {
		metric := rulingMetric(m, res.Unit.Strategy.Input)
		switch {
		case best < 0 || metric > bestMetric:
			best, bestMetric = i, metric
		case metric == bestMetric && priority != "" &&
			!strings.HasPrefix(res.Metrics[best].Isolate, priority) &&
			strings.HasPrefix(m.Isolate, priority):
			best = i
		}
	}

	m := res.Metrics[best]
	v.Score = bestMetric
	v.Contig = m.Contig
	v.Isolate = m.Isolate
	v.Identity = m.Identity
	v.NoGapIdentity = m.NoGapIdentity
	v.RefAlignedLen = m.RefAlignedLen
	v.AssembledLen = m.AssembledLen
	v.Coverage = m.Coverage
	v.Reverse = m.Reverse
	v.File = m.File
	v.Seq = orientedSeq(res.Contigs, m)

	expected := res.Unit.Locus.ExpectedLen()
	longEnough := expected <= 0 || float64(m.RefAlignedLen) >= th.MinLengthFraction*float64(expected)
	if bestMetric >= th.MinIdentity && longEnough {
		v.Resolved = true
	} else {
		v.Reason = ReasonBelowThreshold
	}

	return v
}

// rulingMetric picks which identity answers for a pairing: assemblers fed
// raw reads are judged on plain identity, assemblers fed an alignment on
// no-gap identity.
func rulingMetric(m alignMetrics, input AssemblerInput) float64 {
	if input == InputAlignment {
		return m.NoGapIdentity
	}
	return m.Identity
}

// orientedSeq returns the winning contig's sequence, reverse complemented
// when that is how it matched the reference.
func orientedSeq(contigs []Contig, m alignMetrics) string {
	for _, c := range contigs {
		if c.ID == m.Contig {
			if m.Reverse {
				return revComp(c.Seq)
			}
			return c.Seq
		}
	}

	return ""
}
