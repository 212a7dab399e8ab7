package cmd

import (
	"runtime"
	"time"

	"github.com/IGS/ISCA/internal/isca"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// runCmd executes the whole pipeline against one sequencing dataset.
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Classify reads per locus and assemble every locus to resolution",
	Run:   isca.RunCmd,
	PreRun: func(cmd *cobra.Command, args []string) {
		// several commands carry these keys; an init() bind from a
		// sibling would win the key, so bind at run time
		viper.BindPFlag("workers", cmd.Flags().Lookup("workers"))
		viper.BindPFlag("timeout", cmd.Flags().Lookup("timeout"))
		viper.BindPFlag("threads", cmd.Flags().Lookup("threads"))
		viper.BindPFlag("filter", cmd.Flags().Lookup("filter"))
		viper.BindPFlag("keep-work", cmd.Flags().Lookup("keep-work"))
		viper.BindPFlag("max-iterations", cmd.Flags().Lookup("max-iterations"))
		viper.BindPFlag("priority", cmd.Flags().Lookup("priority"))
		viper.BindPFlag("strategies", cmd.Flags().Lookup("strategies"))
		viper.BindPFlag("quiet", cmd.Flags().Lookup("quiet"))
		viper.BindPFlag("verdict.min-identity", cmd.Flags().Lookup("min-identity"))
		viper.BindPFlag("verdict.min-length-fraction", cmd.Flags().Lookup("min-length-fraction"))
	},
	SuggestionsMinimumDistance: 3,
	Long: `Run targeted assembly over every locus in the annotation.

Reads are classified once from the whole genome alignment: a read template
belongs to every locus its mapping overlaps, and paired mates vote together.
Each locus's reads are binned and handed to the first strategy's aligner and
assembler. Assembled contigs are scored against the locus's reference allele
(and any extra alleles given with --alleles); loci whose best contig clears
the identity and length thresholds are resolved, the rest are retried with
the next strategy until none remain.

The output directory receives final.fasta, verdicts.jsonl, summary.toml and
classification.tsv. Scratch lives under work/ and is removed unless
--keep-work is set.`,
}

func init() {
	runCmd.Flags().StringP("annotation", "a", "", "locus coordinate table (TSV: locus, ref, start, end, strand)")
	runCmd.Flags().StringP("reference", "r", "", "reference genome the annotation indexes into (FASTA)")
	runCmd.Flags().StringP("alignment", "g", "", "whole genome read alignment (SAM or BAM)")
	runCmd.Flags().StringP("reads", "1", "", "forward or interleaved reads (FASTQ, optionally gzipped)")
	runCmd.Flags().StringP("mates", "2", "", "reverse reads; guessed from --reads when omitted")
	runCmd.Flags().String("alleles", "", "known alleles to score against (FASTA, headers <isolate>.<locus>)")
	runCmd.Flags().StringP("out", "o", "", "output directory")

	runCmd.Flags().IntP("workers", "w", runtime.NumCPU(), "number of loci assembled concurrently")
	runCmd.Flags().DurationP("timeout", "t", 45*time.Minute, "wall clock limit per tool invocation")
	runCmd.Flags().Int("threads", 1, "threads handed to each aligner/assembler")
	runCmd.Flags().Bool("filter", false, "keep only read templates that map to a single locus")
	runCmd.Flags().Bool("keep-work", false, "keep the per run scratch tree")
	runCmd.Flags().Int("max-iterations", 0, "hard cap on iterations, 0 follows the strategy list")
	runCmd.Flags().String("priority", "", "isolate prefix preferred when allele identities tie")
	runCmd.Flags().String("strategies", "", "strategy list YAML, built in gsnap+spades/smalt+hga when omitted")
	runCmd.Flags().Bool("quiet", false, "suppress the per iteration progress bar")
	runCmd.Flags().Float64P("min-identity", "p", 80, "%-identity an assembly must reach to resolve its locus")
	runCmd.Flags().Float64("min-length-fraction", 0.5, "fraction of the locus length an assembly must span")

	runCmd.MarkFlagRequired("annotation")
	runCmd.MarkFlagRequired("reference")
	runCmd.MarkFlagRequired("alignment")
	runCmd.MarkFlagRequired("reads")

	RootCmd.AddCommand(runCmd)
}
