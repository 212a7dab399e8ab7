package isca

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

// AssemblyResult is the outcome of one work unit's attempt: the contigs
// the strategy produced and the assessment of each against the locus's
// candidate alleles.
type AssemblyResult struct {
	// Unit this result answers
	Unit *WorkUnit

	// Contigs the assembler produced, empty when it produced none
	Contigs []Contig

	// Metrics for every assessed contig and allele pairing
	Metrics []alignMetrics

	// Elapsed wall time of the whole attempt
	Elapsed time.Duration

	// Err is the execution failure that voided the attempt, nil when
	// every tool ran
	Err error
}

// driverConfig is what the worker pool needs from the run config.
type driverConfig struct {
	// Workers bounds how many units run at once
	Workers int

	// ToolThreads substitutes {threads} in tool argument templates
	ToolThreads int

	// Timeout per aligner or assembler invocation, 0 for none
	Timeout time.Duration

	// WorkDir is this iteration's root; each unit runs in its own
	// subdirectory under it
	WorkDir string

	// Assess configures the pairwise assessment of contigs
	Assess assessorConfig

	// Alleles are supplementary reference alleles by locus ID
	Alleles map[string][]allele

	// Progress draws a terminal progress bar over the units
	Progress bool
}

// driveAssemblies runs every unit through its strategy under a bounded
// worker pool. Each unit is isolated in its own directory and its failure
// is recorded on its own result, never propagated to siblings. On
// cancellation the completed results are still returned.
func driveAssemblies(ctx context.Context, units []*WorkUnit, cfg driverConfig) []AssemblyResult {
	if len(units) == 0 {
		return nil
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}

	var pbs *mpb.Progress
	var bar *mpb.Bar
	var chDuration chan time.Duration
	var doneDuration chan int
	if cfg.Progress {
		pbs = mpb.New(mpb.WithWidth(40), mpb.WithOutput(os.Stderr))
		bar = pbs.AddBar(int64(len(units)),
			mpb.PrependDecorators(
				decor.Name("assembled loci: ", decor.WC{W: len("assembled loci: "), C: decor.DindentRight}),
				decor.Name("", decor.WCSyncSpaceR),
				decor.CountersNoUnit("%d / %d", decor.WCSyncWidth),
			),
			mpb.AppendDecorators(
				decor.Name("ETA: ", decor.WC{W: len("ETA: ")}),
				decor.EwmaETA(decor.ET_STYLE_GO, 10),
				decor.OnComplete(decor.Name(""), ". done"),
			),
		)

		chDuration = make(chan time.Duration, cfg.Workers)
		doneDuration = make(chan int)
		go func() {
			for t := range chDuration {
				bar.EwmaIncrBy(1, t)
			}
			doneDuration <- 1
		}()
	}

	type job struct {
		idx  int
		unit *WorkUnit
	}
	type result struct {
		idx int
		res AssemblyResult
	}
	jobs := make(chan job, cfg.Workers*2)
	results := make(chan result, cfg.Workers*2)

	var wg sync.WaitGroup
	wg.Add(cfg.Workers)
	for w := 0; w < cfg.Workers; w++ {
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case j, ok := <-jobs:
					if !ok {
						return
					}
					r := result{idx: j.idx, res: runAssembly(ctx, cfg, j.unit)}
					select {
					case results <- r:
					case <-ctx.Done():
						return
					}
				}
			}
		}()
	}

	// collector: completion order in, unit order out
	var collected []result
	var cwg sync.WaitGroup
	cwg.Add(1)
	go func() {
		defer cwg.Done()
		for r := range results {
			if r.res.Err != nil {
				log.Debugf("locus %s attempt %s failed: %v", r.res.Unit.Locus.ID, r.res.Unit.Strategy.Name, r.res.Err)
			} else {
				log.Debugf("locus %s attempt %s: %d contigs in %s", r.res.Unit.Locus.ID, r.res.Unit.Strategy.Name, len(r.res.Contigs), r.res.Elapsed)
			}
			collected = append(collected, r)
			if chDuration != nil {
				chDuration <- time.Duration(float64(r.res.Elapsed) / float64(cfg.Workers))
			}
		}
	}()

feed:
	for i, u := range units {
		select {
		case <-ctx.Done():
			break feed
		case jobs <- job{idx: i, unit: u}:
		}
	}

	close(jobs)
	wg.Wait()
	close(results)
	cwg.Wait()

	if bar != nil {
		close(chDuration)
		<-doneDuration
		if ctx.Err() != nil {
			bar.Abort(true)
		}
		pbs.Wait()
	}

	sort.Slice(collected, func(i, j int) bool { return collected[i].idx < collected[j].idx })
	out := make([]AssemblyResult, len(collected))
	for i, r := range collected {
		out[i] = r.res
	}

	return out
}

// runAssembly executes one unit's strategy end to end: align the unit's
// reads against its reference allele, assemble, then assess whatever
// contigs came out.
func runAssembly(ctx context.Context, cfg driverConfig, u *WorkUnit) (res AssemblyResult) {
	start := time.Now()
	res = AssemblyResult{Unit: u}
	defer func() { res.Elapsed = time.Since(start) }()

	dir := filepath.Join(cfg.WorkDir, u.Dir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		res.Err = fmt.Errorf("failed to create work dir %s: %v", dir, err)
		return res
	}

	refPath := filepath.Join(dir, "ref.fasta")
	if err := writeFasta(refPath, u.Locus.ID, u.Locus.Seq); err != nil {
		res.Err = err
		return res
	}

	alnPath := filepath.Join(dir, "aln.sam")
	subs := map[string]string{
		"{ref}":     refPath,
		"{reads}":   u.ReadsPath,
		"{aln}":     alnPath,
		"{out}":     alnPath,
		"{dir}":     dir,
		"{threads}": strconv.Itoa(cfg.ToolThreads),
	}

	aligner := &toolExec{
		spec:    u.Strategy.Aligner,
		stage:   "align",
		dir:     dir,
		subs:    subs,
		timeout: cfg.Timeout,
	}
	if _, err := aligner.run(ctx); err != nil {
		res.Err = err
		return res
	}

	assembler := &toolExec{
		spec:    u.Strategy.Assembler,
		stage:   "assemble",
		dir:     dir,
		subs:    subs,
		timeout: cfg.Timeout,
	}
	if _, err := assembler.run(ctx); err != nil {
		res.Err = err
		return res
	}

	contigs, err := readContigs(assembler.contigsPath())
	if err != nil {
		res.Err = err
		return res
	}
	res.Contigs = contigs
	if len(contigs) == 0 {
		// nothing to assess, the verdict will fall below threshold
		return res
	}

	alleles := append([]allele{{Isolate: primaryIsolate, Seq: u.Locus.Seq}}, cfg.Alleles[u.Locus.ID]...)
	metrics, err := assessContigs(ctx, dir, u, contigs, alleles, cfg.Assess)
	if err != nil {
		res.Err = err
		return res
	}
	res.Metrics = metrics

	return res
}
