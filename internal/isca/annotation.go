package isca

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/biogo/biogo/alphabet"
	"github.com/biogo/biogo/io/seqio"
	"github.com/biogo/biogo/io/seqio/fasta"
	"github.com/biogo/biogo/seq/linear"
)

// readAnnotation parses a locus annotation table into Locus entries.
//
// The table is tab separated, one locus per row:
//
//	locus	ref	start	end	strand
//
// Coordinates are 1-based inclusive, as in GFF. The strand column is
// optional and defaults to '+'. Blank lines and '#' comments are skipped.
// Any malformed row fails the whole load: a bad annotation means every
// downstream verdict would be suspect.
func readAnnotation(path string) (loci []*Locus, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open annotation %s: %v", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		cols := strings.Split(line, "\t")
		if len(cols) < 4 {
			return nil, fmt.Errorf("failed to parse annotation %s line %d: want 4 or 5 columns, got %d", path, lineNo, len(cols))
		}

		start, err := strconv.Atoi(cols[2])
		if err != nil {
			return nil, fmt.Errorf("failed to parse annotation %s line %d: bad start %q", path, lineNo, cols[2])
		}
		end, err := strconv.Atoi(cols[3])
		if err != nil {
			return nil, fmt.Errorf("failed to parse annotation %s line %d: bad end %q", path, lineNo, cols[3])
		}
		if start < 1 || end < start {
			return nil, fmt.Errorf("failed to parse annotation %s line %d: bad range %d..%d", path, lineNo, start, end)
		}

		strand := byte('+')
		if len(cols) > 4 && cols[4] != "" {
			if cols[4] != "+" && cols[4] != "-" {
				return nil, fmt.Errorf("failed to parse annotation %s line %d: bad strand %q", path, lineNo, cols[4])
			}
			strand = cols[4][0]
		}

		loci = append(loci, &Locus{
			ID:     cols[0],
			Ref:    cols[1],
			Start:  start - 1, // to 0-based half-open
			End:    end,
			Strand: strand,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read annotation %s: %v", path, err)
	}

	if len(loci) == 0 {
		return nil, fmt.Errorf("failed to parse any loci from %s", path)
	}

	return loci, nil
}

// readReference reads a multi-FASTA of reference sequences to a map from
// sequence name to uppercase sequence.
func readReference(path string) (map[string]string, error) {
	if !filepath.IsAbs(path) {
		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("failed to create path to reference: %v", err)
		}
		path = abs
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open reference %s: %v", path, err)
	}
	defer f.Close()

	refs := make(map[string]string)
	sc := seqio.NewScanner(fasta.NewReader(f, linear.NewSeq("", nil, alphabet.DNAredundant)))
	for sc.Next() {
		s := sc.Seq().(*linear.Seq)
		refs[s.Name()] = strings.ToUpper(s.String())
	}
	if err := sc.Error(); err != nil {
		return nil, fmt.Errorf("failed to parse reference %s: %v", path, err)
	}

	if len(refs) == 0 {
		return nil, fmt.Errorf("failed to parse any sequences from %s", path)
	}

	return refs, nil
}

// extractLocusSeqs fills in each locus's reference allele sequence by
// slicing its coordinates out of the reference map. Minus strand loci are
// reverse complemented so the allele is in gene orientation.
func extractLocusSeqs(loci []*Locus, refs map[string]string) error {
	for _, l := range loci {
		ref, ok := refs[l.Ref]
		if !ok {
			return fmt.Errorf("failed to find reference sequence %s for locus %s", l.Ref, l.ID)
		}
		if l.End > len(ref) {
			return fmt.Errorf("failed to extract locus %s: %d..%d outside %s (%d bp)", l.ID, l.Start+1, l.End, l.Ref, len(ref))
		}

		seq := ref[l.Start:l.End]
		if l.Strand == '-' {
			seq = revComp(seq)
		}
		l.Seq = seq
	}

	return nil
}

// readAlleles parses a supplementary allele FASTA into extra reference
// alleles per locus. Headers are <isolate>.<locus-id>, so one locus can
// carry alleles from several isolates; contigs are assessed against all
// of them. Entries naming loci outside the annotation are kept and simply
// never consulted.
func readAlleles(path string) (map[string][]allele, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open alleles %s: %v", path, err)
	}
	defer f.Close()

	byLocus := make(map[string][]allele)
	sc := seqio.NewScanner(fasta.NewReader(f, linear.NewSeq("", nil, alphabet.DNAredundant)))
	for sc.Next() {
		s := sc.Seq().(*linear.Seq)
		name := s.Name()

		dot := strings.Index(name, ".")
		if dot <= 0 || dot == len(name)-1 {
			return nil, fmt.Errorf("failed to parse allele %q in %s: headers are <isolate>.<locus>", name, path)
		}

		isolate, locusID := name[:dot], name[dot+1:]
		byLocus[locusID] = append(byLocus[locusID], allele{
			Isolate: isolate,
			Seq:     strings.ToUpper(s.String()),
		})
	}
	if err := sc.Error(); err != nil {
		return nil, fmt.Errorf("failed to parse alleles %s: %v", path, err)
	}

	return byLocus, nil
}

// revComp reverse complements a DNA sequence. IUPAC ambiguity codes survive.
func revComp(seq string) string {
	s := linear.NewSeq("", alphabet.BytesToLetters([]byte(seq)), alphabet.DNAredundant)
	s.RevComp()
	return s.String()
}

// loadRegistry builds the locus registry from the annotation table and the
// reference FASTA. Every locus starts pending.
func loadRegistry(annotationPath, referencePath string) (*registry, error) {
	loci, err := readAnnotation(annotationPath)
	if err != nil {
		return nil, err
	}

	refs, err := readReference(referencePath)
	if err != nil {
		return nil, err
	}

	if err := extractLocusSeqs(loci, refs); err != nil {
		return nil, err
	}

	r := newRegistry()
	for _, l := range loci {
		if err := r.add(l); err != nil {
			return nil, fmt.Errorf("failed to load annotation %s: %v", annotationPath, err)
		}
	}

	return r, nil
}
