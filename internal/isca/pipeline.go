// Package isca orchestrates targeted assembly of annotated loci from
// whole genome sequencing reads. Reads are classified to loci from a
// global alignment, binned, and assembled in parallel with external
// aligner/assembler pairs; assemblies that fail the identity thresholds
// are retried with the next configured tool pair until every locus is
// resolved or the strategy list runs out.
package isca

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/IGS/ISCA/config"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// RunCmd takes a cobra command (with its flags) and runs the pipeline.
func RunCmd(cmd *cobra.Command, args []string) {
	flags, conf := parseCmdFlags(cmd, args)
	if err := Run(flags, conf); err != nil {
		if errors.Is(err, context.Canceled) {
			log.Error("run interrupted")
			os.Exit(130)
		}
		log.Fatalf("run failed: %v", err)
	}
}

// ClassifyCmd classifies reads against the annotation without assembling
// anything, for sizing up a dataset before committing to a run.
func ClassifyCmd(cmd *cobra.Command, args []string) {
	flags, conf := parseCmdFlags(cmd, args)
	if err := Classify(flags, conf); err != nil {
		log.Fatalf("classification failed: %v", err)
	}
}

// FinalizeCmd rebuilds the final FASTA from an existing verdict log.
func FinalizeCmd(cmd *cobra.Command, args []string) {
	flags, conf := parseCmdFlags(cmd, args)
	if err := Finalize(flags, conf); err != nil {
		log.Fatalf("finalize failed: %v", err)
	}
}

// StrategiesCmd prints the strategy fallback order a run would use.
func StrategiesCmd(cmd *cobra.Command, args []string) {
	path, _ := cmd.Flags().GetString("strategies")
	strats, err := LoadStrategies(path)
	if err != nil {
		log.Fatalf("%v", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.TabIndent)
	fmt.Fprintln(w, "order\tname\taligner\tassembler\tinput")
	for i, s := range strats {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", i+1, s.Name, s.Aligner.Bin, s.Assembler.Bin, s.Input)
	}
	w.Flush()
}

// Run executes the whole pipeline: load the annotation, classify and bin
// the reads once, then iterate strategies over the unresolved loci until
// the registry is terminal. Deliverables land at the top of the output
// directory. A run with exhausted loci is still a successful run; the
// returned error is only for input, configuration or abort conditions.
func Run(flags *Flags, conf config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	start := time.Now()

	strategies, err := LoadStrategies(conf.Strategies)
	if err != nil {
		return err
	}

	reg, err := loadRegistry(flags.annotation, flags.reference)
	if err != nil {
		return err
	}

	var alleles map[string][]allele
	if flags.alleles != "" {
		if alleles, err = readAlleles(flags.alleles); err != nil {
			return err
		}
	}

	paths, err := makeRunDir(flags.out)
	if err != nil {
		return err
	}

	log.WithFields(log.Fields{
		"run":        paths.RunID,
		"loci":       reg.len(),
		"strategies": strings.Join(strategyNames(strategies), ","),
		"workers":    conf.Workers,
	}).Info("starting run")

	loci := registryLoci(reg)
	class, err := classifyReads(flags.alignment, loci, conf.Filter, conf.Threads)
	if err != nil {
		return err
	}
	if err := writeClassifyStats(paths.ClassStats, class.stats); err != nil {
		return err
	}

	dirs, conflicts := buildDirs(loci)
	conflicted := make(map[string]bool, len(conflicts))
	for _, nc := range conflicts {
		log.Warnf("%v", nc)
		conflicted[nc.ID] = true
	}

	bins, err := binReads(class, flags.fastq1, flags.fastq2, paths.Reads, dirs)
	if err != nil {
		return err
	}

	vlog, err := openVerdictLog(paths.VerdictLog)
	if err != nil {
		return err
	}

	ctrl := &controller{
		reg:        reg,
		class:      class,
		bins:       bins,
		dirs:       dirs,
		conflicts:  conflicted,
		strategies: strategies,
		threshold: Threshold{
			MinIdentity:       conf.Verdict.MinIdentity,
			MinLengthFraction: conf.Verdict.MinLengthFraction,
		},
		priority: conf.Priority,
		maxIter:  conf.MaxIterations,
		workDir:  paths.Work,
		vlog:     vlog,
		drv: driverConfig{
			Workers:     conf.Workers,
			ToolThreads: conf.Threads,
			Timeout:     conf.Timeout,
			Assess: assessorConfig{
				Tool:           ToolSpec{Bin: conf.Assess.Bin, Args: conf.Assess.Args},
				MinLengthRatio: conf.Assess.MinContigRatio,
				Priority:       conf.Priority,
				Timeout:        conf.Timeout,
			},
			Alleles:  alleles,
			Progress: !conf.Quiet,
		},
	}

	runErr := ctrl.run(ctx)
	if closeErr := vlog.close(); closeErr != nil && runErr == nil {
		runErr = closeErr
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}

	// deliverables reflect whatever the loop committed, canceled or not
	written, err := writeFinal(paths.Final, reg, ctrl.won, conf.Verdict.MinIdentity)
	if err != nil {
		return err
	}

	resolved, exhausted, iterations, reasons := summarize(reg)
	writeStateTable(os.Stdout, reg)

	s := runSummary{
		RunID:             paths.RunID,
		Started:           start.Format(time.RFC3339),
		WallTime:          time.Since(start).Round(time.Second).String(),
		Loci:              reg.len(),
		Resolved:          resolved,
		Exhausted:         exhausted,
		Iterations:        iterations,
		Final:             written,
		Reasons:           reasons,
		Workers:           conf.Workers,
		Timeout:           conf.Timeout.String(),
		MinIdentity:       conf.Verdict.MinIdentity,
		MinLengthFraction: conf.Verdict.MinLengthFraction,
		MaxIterations:     conf.MaxIterations,
		Strategies:        strategyNames(strategies),
		Filter:            conf.Filter,
		Priority:          conf.Priority,
	}
	if err := writeSummaryFile(paths.Summary, &s); err != nil {
		return err
	}

	// a canceled run keeps its scratch for the postmortem
	cleanRunDir(paths, conf.KeepWork || runErr != nil)

	log.WithFields(log.Fields{
		"resolved":  resolved,
		"exhausted": exhausted,
		"final":     written,
		"elapsed":   time.Since(start).Round(time.Second).String(),
	}).Info("run complete")

	return runErr
}

// Classify runs only the read classification stage and reports how many
// read templates each locus would receive.
func Classify(flags *Flags, conf config.Config) error {
	reg, err := loadRegistry(flags.annotation, flags.reference)
	if err != nil {
		return err
	}

	loci := registryLoci(reg)
	class, err := classifyReads(flags.alignment, loci, conf.Filter, conf.Threads)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(flags.out, os.ModePerm); err != nil {
		return fmt.Errorf("failed to create %s: %v", flags.out, err)
	}
	if err := writeClassifyStats(filepath.Join(flags.out, "classification.tsv"), class.stats); err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.TabIndent)
	fmt.Fprintln(w, "locus\ttemplates")
	for _, l := range loci {
		fmt.Fprintf(w, "%s\t%d\n", l.ID, len(class.readsFor(l.ID)))
	}
	w.Flush()

	st := class.stats
	log.WithFields(log.Fields{
		"templates":  st.Templates,
		"single":     st.SingleMapped,
		"multi":      st.MultiMapped,
		"discrepant": st.Discrepant,
		"malformed":  st.Malformed,
	}).Info("classification complete")

	return nil
}

// Finalize replays a verdict log into a fresh registry and rewrites the
// final FASTA, recovering each winner's sequence from its assessment
// report. It only works against a run that kept its work directory, and
// honors the current identity threshold, so a too-strict or too-loose
// run can be re-pulled without re-assembling anything.
func Finalize(flags *Flags, conf config.Config) error {
	reg, err := loadRegistry(flags.annotation, flags.reference)
	if err != nil {
		return err
	}

	verdicts, err := readVerdictLog(flags.verdicts)
	if err != nil {
		return err
	}
	if len(verdicts) == 0 {
		return fmt.Errorf("no verdicts in %s", flags.verdicts)
	}

	won := make(map[string]Verdict)
	for _, v := range verdicts {
		if err := reg.transition(v.Locus, StateInProgress); err != nil {
			return fmt.Errorf("verdict log does not match the annotation: %v", err)
		}

		a := Attempt{
			Iteration: v.Iteration,
			Strategy:  v.Strategy,
			Score:     v.Score,
			Resolved:  v.Resolved,
			Reason:    v.Reason,
		}
		if !v.Resolved {
			if err := reg.fail(v.Locus, a); err != nil {
				return err
			}
			continue
		}

		if err := reg.resolve(v.Locus, a); err != nil {
			return err
		}
		seq, serr := reportSeq(v.File)
		if serr != nil {
			log.Warnf("no sequence recovered for %s: %v", v.Locus, serr)
		}
		v.Seq = seq
		won[v.Locus] = v
	}

	if err := os.MkdirAll(flags.out, os.ModePerm); err != nil {
		return fmt.Errorf("failed to create %s: %v", flags.out, err)
	}

	_, err = writeFinal(filepath.Join(flags.out, "final.fasta"), reg, won, conf.Verdict.MinIdentity)
	return err
}

// reportSeq recovers an assembled sequence from the aligned query row of
// an assessment report. Reports for reverse strand contigs were made
// from the reverse complement, so the row is already oriented.
func reportSeq(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("verdict carries no assessment report")
	}

	_, _, _, qryAln, err := parseAssessReport(path)
	if err != nil {
		return "", err
	}

	return strings.ReplaceAll(qryAln, "-", ""), nil
}

// registryLoci returns the registry's loci in registration order.
func registryLoci(reg *registry) []*Locus {
	ids := reg.ordered()
	loci := make([]*Locus, 0, len(ids))
	for _, id := range ids {
		l, _ := reg.get(id)
		loci = append(loci, l)
	}

	return loci
}

func strategyNames(strats []Strategy) []string {
	names := make([]string, len(strats))
	for i, s := range strats {
		names[i] = s.Name
	}

	return names
}
