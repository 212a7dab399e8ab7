package isca

import (
	"fmt"
	"os"

	"github.com/biogo/biogo/alphabet"
	"github.com/biogo/biogo/io/seqio/fasta"
	"github.com/biogo/biogo/seq/linear"
	log "github.com/sirupsen/logrus"
)

// writeFinal pulls each resolved locus's winning contig into one
// multi-FASTA, in annotation order. Sequences were already oriented to
// the reference by the evaluator. Loci whose ruling identity sits below
// minIdentity are left out, letting an operator pull only the cleanest
// assemblies without rerunning anything.
func writeFinal(path string, reg *registry, won map[string]Verdict, minIdentity float64) (int, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("failed to create %s: %v", path, err)
	}
	defer f.Close()

	w := fasta.NewWriter(f, 70)
	written := 0
	for _, id := range reg.ordered() {
		if reg.state(id) != StateResolved {
			continue
		}

		v, ok := won[id]
		if !ok || v.Seq == "" {
			log.Debugf("resolved locus %s has no winning sequence recorded", id)
			continue
		}
		if v.Score < minIdentity {
			log.Debugf("leaving %s out of the final set: %.2f below %.2f", id, v.Score, minIdentity)
			continue
		}

		l, _ := reg.get(id)
		pct := 0.0
		if exp := l.ExpectedLen(); exp > 0 {
			pct = float64(v.RefAlignedLen) / float64(exp) * 100
		}

		s := linear.NewSeq("assembled_"+id, alphabet.BytesToLetters([]byte(v.Seq)), alphabet.DNAredundant)
		s.Desc = fmt.Sprintf("ID_to_ref=%.2f len=%d ref_len_percent=%.2f", v.Score, len(v.Seq), pct)
		if _, err := w.Write(s); err != nil {
			return written, fmt.Errorf("failed to write %s: %v", path, err)
		}
		written++
	}

	log.WithFields(log.Fields{"loci": written, "path": path}).Info("wrote final assemblies")

	return written, nil
}
