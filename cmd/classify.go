package cmd

import (
	"github.com/IGS/ISCA/internal/isca"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// classifyCmd sizes up a dataset without assembling anything.
var classifyCmd = &cobra.Command{
	Use:   "classify",
	Short: "Classify reads against the annotation without assembling",
	Run:   isca.ClassifyCmd,
	PreRun: func(cmd *cobra.Command, args []string) {
		viper.BindPFlag("filter", cmd.Flags().Lookup("filter"))
		viper.BindPFlag("threads", cmd.Flags().Lookup("threads"))
	},
	SuggestionsMinimumDistance: 3,
	Long: `Stream the whole genome alignment once and report how many read
templates each locus would receive, plus the classification accounting
(single mapped, multi mapped, discrepant mates, malformed records).

Useful before a long run: a locus with no templates here will never
assemble, and a dataset dominated by multi mapped templates may want
--filter.`,
}

func init() {
	classifyCmd.Flags().StringP("annotation", "a", "", "locus coordinate table (TSV: locus, ref, start, end, strand)")
	classifyCmd.Flags().StringP("reference", "r", "", "reference genome the annotation indexes into (FASTA)")
	classifyCmd.Flags().StringP("alignment", "g", "", "whole genome read alignment (SAM or BAM)")
	classifyCmd.Flags().StringP("out", "o", "", "directory for classification.tsv")
	classifyCmd.Flags().Bool("filter", false, "keep only read templates that map to a single locus")
	classifyCmd.Flags().Int("threads", 1, "BAM decompression threads")

	classifyCmd.MarkFlagRequired("annotation")
	classifyCmd.MarkFlagRequired("reference")
	classifyCmd.MarkFlagRequired("alignment")

	RootCmd.AddCommand(classifyCmd)
}
