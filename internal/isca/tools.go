package isca

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

// outputTailLimit caps how much tool output an attempt retains. The full
// output stays in the tool's own log files inside the work directory.
const outputTailLimit = 4 * 1024

// AssemblyExecutionError is an aligner, assembler or assessor invocation
// that did not produce a usable result. It fails one locus attempt, never
// the run.
type AssemblyExecutionError struct {
	// Tool is the executable that failed
	Tool string

	// Stage is "align", "assemble" or "assess"
	Stage string

	// TimedOut is whether the deadline killed the tool
	TimedOut bool

	// Output is the tail of the tool's combined stdout and stderr
	Output string

	Err error
}

func (e *AssemblyExecutionError) Error() string {
	if e.TimedOut {
		return fmt.Sprintf("%s timed out during %s", e.Tool, e.Stage)
	}
	return fmt.Sprintf("failed to run %s during %s: %v", e.Tool, e.Stage, e.Err)
}

func (e *AssemblyExecutionError) Unwrap() error { return e.Err }

// toolExec is one external tool invocation inside a work unit's directory,
// with the unit's paths substituted into the tool's argument template.
type toolExec struct {
	// spec holds the bin and argument template
	spec ToolSpec

	// stage for error reporting: "align", "assemble", "assess"
	stage string

	// dir the tool runs in
	dir string

	// subs are the placeholder substitutions for this unit
	subs map[string]string

	// timeout for the whole invocation, 0 for none
	timeout time.Duration
}

// argv substitutes the unit's paths into the argument template.
func (t *toolExec) argv() []string {
	pairs := make([]string, 0, len(t.subs)*2)
	for k, v := range t.subs {
		pairs = append(pairs, k, v)
	}
	rep := strings.NewReplacer(pairs...)

	args := make([]string, len(t.spec.Args))
	for i, a := range t.spec.Args {
		args[i] = rep.Replace(a)
	}

	return args
}

// contigsPath is where the tool's spec says the contigs land, after
// substitution. Empty for tools that are not assemblers.
func (t *toolExec) contigsPath() string {
	if t.spec.Contigs == "" {
		return ""
	}

	pairs := make([]string, 0, len(t.subs)*2)
	for k, v := range t.subs {
		pairs = append(pairs, k, v)
	}

	return strings.NewReplacer(pairs...).Replace(t.spec.Contigs)
}

// run executes the tool and waits for it. A non-zero exit or a deadline
// kill comes back as an AssemblyExecutionError carrying the output tail.
// Cancellation of the parent context is passed through untouched so the
// caller can tell an operator abort from a tool failure.
func (t *toolExec) run(ctx context.Context) (string, error) {
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	args := t.argv()
	log.Debugf("running %s %s in %s", t.spec.Bin, strings.Join(args, " "), t.dir)

	cmd := exec.CommandContext(ctx, t.spec.Bin, args...)
	cmd.Dir = t.dir

	start := time.Now()
	out, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return tail(out), &AssemblyExecutionError{
				Tool:     t.spec.Bin,
				Stage:    t.stage,
				TimedOut: true,
				Output:   tail(out),
				Err:      ctx.Err(),
			}
		}
		if ctx.Err() == context.Canceled {
			// operator abort, not a tool failure
			return tail(out), ctx.Err()
		}

		return tail(out), &AssemblyExecutionError{
			Tool:   t.spec.Bin,
			Stage:  t.stage,
			Output: tail(out),
			Err:    err,
		}
	}

	log.Debugf("%s finished in %s", t.spec.Bin, time.Since(start))

	return tail(out), nil
}

// tail keeps the last outputTailLimit bytes of tool output.
func tail(out []byte) string {
	if len(out) <= outputTailLimit {
		return string(out)
	}

	return "..." + string(out[len(out)-outputTailLimit:])
}
