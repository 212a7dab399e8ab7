package isca

import (
	"fmt"
	"os"
	"strings"

	"github.com/biogo/biogo/alphabet"
	"github.com/biogo/biogo/io/seqio"
	"github.com/biogo/biogo/io/seqio/fasta"
	"github.com/biogo/biogo/seq/linear"
)

// Contig is one assembled sequence from an assembler's contigs output.
type Contig struct {
	// ID from the assembler's FASTA header
	ID string

	// Seq of the contig, uppercase
	Seq string
}

// readContigs parses an assembler's contigs FASTA. A missing or empty
// file is not an error here: assemblers that find nothing are a quality
// verdict, not an execution failure.
func readContigs(path string) ([]Contig, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open contigs %s: %v", path, err)
	}
	defer f.Close()

	var contigs []Contig
	sc := seqio.NewScanner(fasta.NewReader(f, linear.NewSeq("", nil, alphabet.DNAredundant)))
	for sc.Next() {
		s := sc.Seq().(*linear.Seq)
		contigs = append(contigs, Contig{
			ID:  s.Name(),
			Seq: strings.ToUpper(s.String()),
		})
	}
	if err := sc.Error(); err != nil {
		return nil, fmt.Errorf("failed to parse contigs %s: %v", path, err)
	}

	return contigs, nil
}

// writeFasta writes a single named sequence to a FASTA file.
func writeFasta(path, id, seq string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %v", path, err)
	}
	defer f.Close()

	s := linear.NewSeq(id, alphabet.BytesToLetters([]byte(seq)), alphabet.DNAredundant)
	w := fasta.NewWriter(f, 70)
	if _, err := w.Write(s); err != nil {
		return fmt.Errorf("failed to write %s: %v", path, err)
	}

	return nil
}
