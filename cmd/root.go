// Package cmd is for command line interactions with the isca application
package cmd

import (
	"log"

	"github.com/IGS/ISCA/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// RootCmd represents the base command when called without any subcommands.
var RootCmd = &cobra.Command{
	Use: "isca",
	Short: `Assemble annotated loci from whole genome sequencing reads.
Reads are classified per locus and assembled with falling back tool pairs`,
	Version: "1.0.0",
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		log.Fatalf("%v", err)
	}
}

func init() {
	// settings is an optional parameter for a settings file (that overrides the defaults)
	RootCmd.PersistentFlags().StringP("settings", "s", config.RootSettingsFile, "path to a settings file")
	RootCmd.PersistentFlags().BoolP("verbose", "v", false, "whether to log debug detail to stderr")
	viper.BindPFlag("settings", RootCmd.PersistentFlags().Lookup("settings"))
	viper.BindPFlag("verbose", RootCmd.PersistentFlags().Lookup("verbose"))
}
