package cmd

import (
	"github.com/IGS/ISCA/internal/isca"
	"github.com/spf13/cobra"
)

// strategiesCmd prints the tool pair fallback order.
var strategiesCmd = &cobra.Command{
	Use:   "strategies",
	Short: "Print the strategy fallback order a run would use",
	Run:   isca.StrategiesCmd,
	Long: `Validate and print the ordered aligner/assembler pairs. With no
--strategies file the built in order is shown: gsnap feeding SPAdes on raw
reads, then SMALT feeding HGA on the alignment.`,
	SuggestionsMinimumDistance: 3,
}

func init() {
	strategiesCmd.Flags().String("strategies", "", "strategy list YAML to validate and print")

	RootCmd.AddCommand(strategiesCmd)
}
