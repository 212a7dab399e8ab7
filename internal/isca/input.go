package isca

import (
	"fmt"
	"os"
	"strings"

	"github.com/IGS/ISCA/config"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// Flags contains parsed cobra flags like "annotation", "reads", "out"
// that are shared by the run and finalize commands.
type Flags struct {
	// the locus coordinate table, TSV
	annotation string

	// the reference genome the annotation indexes into, FASTA
	reference string

	// the whole genome read alignment, SAM or BAM
	alignment string

	// the paired read files; fastq2 may be empty for single end runs
	fastq1, fastq2 string

	// optional multi FASTA of known alleles, headers <isolate>.<locus>
	alleles string

	// the output directory
	out string

	// an existing verdict log, for finalize
	verdicts string
}

// inputParser contains methods for parsing flags from the input &cobra.Command.
type inputParser struct{}

// NewFlags makes a new flags object manually. For testing.
func NewFlags(annotation, reference, alignment, fastq1, fastq2, alleles, verdicts, out string) (*Flags, config.Config) {
	return &Flags{
		annotation: annotation,
		reference:  reference,
		alignment:  alignment,
		fastq1:     fastq1,
		fastq2:     fastq2,
		alleles:    alleles,
		verdicts:   verdicts,
		out:        out,
	}, config.New()
}

// parseCmdFlags gathers the input paths from a cobra cmd object and
// returns Flags and a Config for isca.Run or isca.Finalize.
func parseCmdFlags(cmd *cobra.Command, args []string) (*Flags, config.Config) {
	fs := &Flags{} // parsed flags
	p := inputParser{}
	c := config.New()

	if c.Verbose {
		log.SetLevel(log.DebugLevel)
	}

	fs.annotation, _ = cmd.Flags().GetString("annotation")
	fs.reference, _ = cmd.Flags().GetString("reference")
	fs.alignment, _ = cmd.Flags().GetString("alignment")
	fs.fastq1, _ = cmd.Flags().GetString("reads")
	fs.fastq2, _ = cmd.Flags().GetString("mates")
	fs.alleles, _ = cmd.Flags().GetString("alleles")
	fs.out, _ = cmd.Flags().GetString("out")
	fs.verdicts, _ = cmd.Flags().GetString("verdicts")

	if fs.out == "" {
		fs.out = "isca_output"
	}

	if fs.fastq2 == "" && fs.fastq1 != "" {
		fs.fastq2 = p.guessMate(fs.fastq1)
	}

	if err := p.checkInputs(fs, strings.ToLower(cmd.Name())); err != nil {
		cmd.Help()
		log.Fatal(err)
	}

	return fs, c
}

// checkInputs confirms every input path the command needs actually
// exists before anything is written to the output directory.
func (p *inputParser) checkInputs(fs *Flags, cmdName string) error {
	required := [][2]string{
		{"annotation", fs.annotation},
		{"reference", fs.reference},
	}

	switch cmdName {
	case "finalize":
		required = append(required, [2]string{"verdicts", fs.verdicts})
	case "classify":
		required = append(required, [2]string{"alignment", fs.alignment})
	default:
		required = append(required,
			[2]string{"alignment", fs.alignment},
			[2]string{"reads", fs.fastq1},
		)
	}

	for _, r := range required {
		flag, path := r[0], r[1]
		if path == "" {
			return fmt.Errorf("no --%s given", flag)
		}
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("failed to find --%s file %s", flag, path)
		}
	}

	if fs.fastq2 != "" {
		if _, err := os.Stat(fs.fastq2); err != nil {
			return fmt.Errorf("failed to find --mates file %s", fs.fastq2)
		}
	}
	if fs.alleles != "" {
		if _, err := os.Stat(fs.alleles); err != nil {
			return fmt.Errorf("failed to find --alleles file %s", fs.alleles)
		}
	}

	return nil
}

// guessMate derives the mate 2 path from a mate 1 path using the common
// _1/_2 and _R1/_R2 naming schemes. Returns "" when no such file exists,
// which leaves the run single ended.
func (p *inputParser) guessMate(fastq1 string) string {
	for _, sub := range [][2]string{{"_R1", "_R2"}, {"_1.", "_2."}} {
		if !strings.Contains(fastq1, sub[0]) {
			continue
		}
		mate := strings.Replace(fastq1, sub[0], sub[1], 1)
		if _, err := os.Stat(mate); err == nil {
			log.Debugf("using %s as the mate file", mate)
			return mate
		}
	}

	return ""
}
