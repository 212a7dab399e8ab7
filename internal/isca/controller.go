package isca

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	log "github.com/sirupsen/logrus"
)

// controller owns the feedback loop: gather the loci still in play, run
// them through the iteration's strategy, commit the verdicts, and keep
// going until every locus is terminal or nothing is left to try.
//
// Iteration N runs strategies[N-1] for every locus it attempts, so a
// locus that keeps failing walks the configured fallback order in
// sequence. Classification is fixed for the whole run; retries re-align
// and re-assemble the same binned reads with the next tool pair.
type controller struct {
	reg        *registry
	class      *classification
	bins       *binResult
	dirs       map[string]string
	conflicts  map[string]bool
	strategies []Strategy
	threshold  Threshold
	priority   string
	maxIter    int
	workDir    string
	vlog       *verdictLog
	drv        driverConfig

	// won holds the winning verdict per resolved locus, for the final
	// sequence extraction
	won map[string]Verdict
}

// run executes iterations until the registry is all terminal. Partial
// progress survives cancellation: verdicts committed before the abort
// stay committed, the rest of the batch is abandoned.
func (c *controller) run(ctx context.Context) error {
	if c.won == nil {
		c.won = make(map[string]Verdict)
	}

	for iter := 1; !c.reg.done(); iter++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		survivors := c.reg.unfinished()

		if iter > len(c.strategies) {
			return c.exhaust(survivors, ReasonStrategiesExhausted)
		}
		if c.maxIter > 0 && iter > c.maxIter {
			return c.exhaust(survivors, ReasonIterationLimit)
		}

		strat := c.strategies[iter-1]
		log.WithFields(log.Fields{
			"iteration": iter,
			"strategy":  strat.Name,
			"loci":      len(survivors),
		}).Info("starting iteration")

		loci := make([]*Locus, 0, len(survivors))
		for _, id := range survivors {
			if err := c.reg.transition(id, StateInProgress); err != nil {
				return err
			}
			if c.conflicts[id] {
				if err := c.retireConflict(id, iter, strat.Name); err != nil {
					return err
				}
				continue
			}
			l, _ := c.reg.get(id)
			loci = append(loci, l)
		}

		units, noReads := partition(loci, c.class, c.bins, c.dirs, strat, iter)

		// zero read loci never reach the driver
		for _, id := range noReads {
			v := Verdict{Locus: id, Iteration: iter, Strategy: strat.Name, Reason: ReasonNoReads}
			if err := c.commit(v); err != nil {
				return err
			}
		}

		drv := c.drv
		drv.WorkDir = filepath.Join(c.workDir, fmt.Sprintf("iter_%d", iter))
		results := driveAssemblies(ctx, units, drv)

		for _, res := range results {
			if errors.Is(res.Err, context.Canceled) {
				continue
			}
			if err := c.commit(Evaluate(res, c.threshold, c.priority)); err != nil {
				return err
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		// batch barrier: every locus attempted this iteration has a
		// committed verdict before the next iteration plans
		if stuck := c.reg.byState(StateInProgress); len(stuck) > 0 {
			return fmt.Errorf("iteration %d left %d loci without a verdict: %v", iter, len(stuck), stuck)
		}

		counts := c.reg.counts()
		log.WithFields(log.Fields{
			"iteration":  iter,
			"resolved":   counts[StateResolved],
			"unresolved": counts[StateUnresolved],
		}).Info("finished iteration")
	}

	return nil
}

// commit applies one verdict: registry transition, attempt history, and
// the log line, in that order.
func (c *controller) commit(v Verdict) error {
	a := Attempt{
		Iteration: v.Iteration,
		Strategy:  v.Strategy,
		Score:     v.Score,
		Resolved:  v.Resolved,
		Reason:    v.Reason,
	}

	var err error
	if v.Resolved {
		err = c.reg.resolve(v.Locus, a)
	} else {
		err = c.reg.fail(v.Locus, a)
	}
	if err != nil {
		return err
	}

	if v.Resolved {
		c.won[v.Locus] = v
	}

	if c.vlog != nil {
		return c.vlog.append(v)
	}

	return nil
}

// retireConflict rules out a locus whose sanitized ID collides with
// another locus's directory. A collision never clears on retry, so the
// locus gets one logged verdict and leaves the rotation.
func (c *controller) retireConflict(id string, iter int, strategy string) error {
	v := Verdict{Locus: id, Iteration: iter, Strategy: strategy, Reason: ReasonNamingConflict}
	if err := c.commit(v); err != nil {
		return err
	}

	return c.reg.exhaust(id, ReasonNamingConflict)
}

// exhaust retires every survivor with the reason that ended the run.
func (c *controller) exhaust(ids []string, reason Reason) error {
	for _, id := range ids {
		if err := c.reg.exhaust(id, reason); err != nil {
			return err
		}
		log.Debugf("locus %s exhausted: %s", id, reason)
	}
	if len(ids) > 0 {
		log.WithFields(log.Fields{"loci": len(ids), "reason": reason}).Info("retired unresolved loci")
	}

	return nil
}
