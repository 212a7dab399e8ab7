package isca

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/pelletier/go-toml/v2"
)

// runSummary is the manifest written next to the final assemblies. The
// verdict log stays the auditable ground truth; this is the operator's
// at-a-glance record of what ran and how it ended.
type runSummary struct {
	RunID    string `toml:"run-id" comment:"Run"`
	Started  string `toml:"started"`
	WallTime string `toml:"wall-time"`

	Loci       int            `toml:"loci" comment:"Outcome"`
	Resolved   int            `toml:"resolved"`
	Exhausted  int            `toml:"exhausted"`
	Iterations int            `toml:"iterations"`
	Final      int            `toml:"final-sequences"`
	Reasons    map[string]int `toml:"reasons,omitempty"`

	Workers           int      `toml:"workers" comment:"Configuration"`
	Timeout           string   `toml:"timeout"`
	MinIdentity       float64  `toml:"min-identity"`
	MinLengthFraction float64  `toml:"min-length-fraction"`
	MaxIterations     int      `toml:"max-iterations"`
	Strategies        []string `toml:"strategies"`
	Filter            bool     `toml:"filter"`
	Priority          string   `toml:"priority,omitempty"`
}

// summarize tallies terminal states, iterations run, and what felled the
// exhausted loci. An exhausted locus is counted under its last attempt's
// reason, which is more telling than the retirement itself.
func summarize(reg *registry) (resolved, exhausted, iterations int, reasons map[string]int) {
	reasons = make(map[string]int)
	for _, id := range reg.ordered() {
		attempts := reg.attempts(id)
		for _, a := range attempts {
			if a.Iteration > iterations {
				iterations = a.Iteration
			}
		}

		switch reg.state(id) {
		case StateResolved:
			resolved++
		case StateExhausted:
			exhausted++
			reason := reg.reason(id)
			if n := len(attempts); n > 0 {
				reason = attempts[n-1].Reason
			}
			reasons[string(reason)]++
		}
	}
	if len(reasons) == 0 {
		reasons = nil
	}

	return resolved, exhausted, iterations, reasons
}

// writeStateTable prints the per locus outcome table.
func writeStateTable(out io.Writer, reg *registry) {
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', tabwriter.TabIndent)
	fmt.Fprintln(w, "locus\tstate\tattempts\tstrategy\tscore\treason")
	for _, id := range reg.ordered() {
		attempts := reg.attempts(id)
		strategy := ""
		score := 0.0
		if n := len(attempts); n > 0 {
			strategy = attempts[n-1].Strategy
			score = attempts[n-1].Score
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%.1f\t%s\n", id, reg.state(id), len(attempts), strategy, score, reg.reason(id))
	}
	w.Flush()
}

// writeSummaryFile writes the TOML manifest.
func writeSummaryFile(path string, s *runSummary) error {
	data, err := toml.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode summary: %v", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write summary %s: %v", path, err)
	}

	return nil
}
