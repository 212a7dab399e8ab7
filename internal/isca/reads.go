package isca

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/biogo/biogo/alphabet"
	"github.com/biogo/biogo/io/seqio"
	"github.com/biogo/biogo/io/seqio/fastq"
	"github.com/biogo/biogo/seq/linear"
	log "github.com/sirupsen/logrus"
)

// readsFileName is the per locus read set the assemblers consume.
const readsFileName = "reads.fastq.gz"

// binResult reports what the binner wrote per locus.
type binResult struct {
	// counts of templates written per locus ID
	counts map[string]int

	// files is the reads.fastq.gz path per locus ID, only for loci
	// that received at least one template
	files map[string]string
}

// locusWriter is one open per locus reads.fastq.gz under the reads dir.
type locusWriter struct {
	f  *os.File
	gz *gzip.Writer
	w  *fastq.Writer
}

func (lw *locusWriter) close() error {
	if err := lw.gz.Close(); err != nil {
		lw.f.Close()
		return err
	}
	return lw.f.Close()
}

// binReads streams the run's FASTQ once and writes every kept template
// into the reads.fastq.gz of each locus it classified to. Pairs land
// interleaved, mate 1 then mate 2, with mate suffixes trimmed so both
// mates carry the same ID (assemblers refuse pairs whose IDs differ).
// fastq2 may be empty for single end runs. dirs maps locus IDs to their
// directories under readsDir.
func binReads(c *classification, fastq1, fastq2, readsDir string, dirs map[string]string) (*binResult, error) {
	sc1, closer1, err := openFastq(fastq1)
	if err != nil {
		return nil, err
	}
	defer closer1()

	var sc2 *seqio.Scanner
	if fastq2 != "" {
		var closer2 func()
		sc2, closer2, err = openFastq(fastq2)
		if err != nil {
			return nil, err
		}
		defer closer2()
	}

	res := &binResult{
		counts: make(map[string]int),
		files:  make(map[string]string),
	}
	writers := make(map[string]*locusWriter)

	for sc1.Next() {
		r1 := sc1.Seq().(*linear.QSeq)
		id1, _ := mateSuffix(r1.Name())

		var r2 *linear.QSeq
		if sc2 != nil {
			if !sc2.Next() {
				if err := sc2.Error(); err != nil {
					return nil, fmt.Errorf("failed to read %s: %v", fastq2, err)
				}
				return nil, fmt.Errorf("failed to pair reads: %s ran out before %s", fastq2, fastq1)
			}
			r2 = sc2.Seq().(*linear.QSeq)
			id2, _ := mateSuffix(r2.Name())
			if id1 != id2 {
				return nil, fmt.Errorf("failed to pair reads: %s and %s at the same position", r1.Name(), r2.Name())
			}
		}

		loci := c.lociOf(id1)
		if len(loci) == 0 {
			continue
		}

		// same ID on both mates
		r1.ID = id1
		if r2 != nil {
			r2.ID = id1
		}

		for _, locusID := range loci {
			// naming conflict losers have no directory to bin into
			dir, ok := dirs[locusID]
			if !ok {
				continue
			}

			lw, ok := writers[locusID]
			if !ok {
				lw, err = newLocusWriter(readsDir, dir)
				if err != nil {
					closeAll(writers)
					return nil, err
				}
				writers[locusID] = lw
				res.files[locusID] = filepath.Join(readsDir, dir, readsFileName)
			}

			if _, err := lw.w.Write(r1); err != nil {
				closeAll(writers)
				return nil, fmt.Errorf("failed to write read %s for locus %s: %v", id1, locusID, err)
			}
			if r2 != nil {
				if _, err := lw.w.Write(r2); err != nil {
					closeAll(writers)
					return nil, fmt.Errorf("failed to write read %s for locus %s: %v", id1, locusID, err)
				}
			}
			res.counts[locusID]++
		}
	}
	if err := sc1.Error(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %v", fastq1, err)
	}

	for locusID, lw := range writers {
		if err := lw.close(); err != nil {
			return nil, fmt.Errorf("failed to finish reads for locus %s: %v", locusID, err)
		}
	}

	log.Debugf("binned reads for %d loci under %s", len(res.files), readsDir)

	return res, nil
}

// openFastq opens a FASTQ file for scanning, gunzipping .gz paths.
func openFastq(path string) (*seqio.Scanner, func(), error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open reads %s: %v", path, err)
	}

	var in io.Reader = f
	closer := func() { f.Close() }
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			f.Close()
			return nil, nil, fmt.Errorf("failed to gunzip reads %s: %v", path, err)
		}
		in = gz
		closer = func() {
			gz.Close()
			f.Close()
		}
	}

	sc := seqio.NewScanner(fastq.NewReader(in, linear.NewQSeq("", nil, alphabet.DNAredundant, alphabet.Sanger)))

	return sc, closer, nil
}

// newLocusWriter creates <readsDir>/<dir>/reads.fastq.gz and a FASTQ
// writer over it.
func newLocusWriter(readsDir, dir string) (*locusWriter, error) {
	if dir == "" {
		return nil, fmt.Errorf("failed to bin reads: no directory for locus")
	}

	locusDir := filepath.Join(readsDir, dir)
	if err := os.MkdirAll(locusDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create %s: %v", locusDir, err)
	}

	f, err := os.Create(filepath.Join(locusDir, readsFileName))
	if err != nil {
		return nil, fmt.Errorf("failed to create reads file in %s: %v", locusDir, err)
	}

	gz := gzip.NewWriter(f)
	return &locusWriter{f: f, gz: gz, w: fastq.NewWriter(gz)}, nil
}

func closeAll(writers map[string]*locusWriter) {
	for _, lw := range writers {
		lw.close()
	}
}
