package cmd

import (
	"github.com/IGS/ISCA/internal/isca"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// finalizeCmd re-extracts final sequences from an existing verdict log.
var finalizeCmd = &cobra.Command{
	Use:   "finalize",
	Short: "Rebuild final.fasta from a kept run's verdict log",
	Run:   isca.FinalizeCmd,
	PreRun: func(cmd *cobra.Command, args []string) {
		viper.BindPFlag("verdict.min-identity", cmd.Flags().Lookup("min-identity"))
	},
	SuggestionsMinimumDistance: 3,
	Long: `Replay a verdict log and pull each resolved locus's winning sequence
from its assessment report, without re-running any aligner or assembler.

The run that produced the log must have kept its work directory
(--keep-work), and finalize must run from the same working directory so
the report paths in the log still resolve. Pass a different
--min-identity to re-pull with a stricter or looser bar than the run's.`,
}

func init() {
	finalizeCmd.Flags().StringP("annotation", "a", "", "locus coordinate table (TSV: locus, ref, start, end, strand)")
	finalizeCmd.Flags().StringP("reference", "r", "", "reference genome the annotation indexes into (FASTA)")
	finalizeCmd.Flags().String("verdicts", "", "verdict log from a previous run (JSONL)")
	finalizeCmd.Flags().StringP("out", "o", "", "output directory")
	finalizeCmd.Flags().Float64P("min-identity", "p", 80, "%-identity a winner must reach to be pulled")

	finalizeCmd.MarkFlagRequired("annotation")
	finalizeCmd.MarkFlagRequired("reference")
	finalizeCmd.MarkFlagRequired("verdicts")

	RootCmd.AddCommand(finalizeCmd)
}
