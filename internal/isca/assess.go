package isca

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

// alignMetrics is one pairwise assessment of an assembled contig against
// a reference allele.
type alignMetrics struct {
	// Contig assessed
	Contig string

	// Isolate naming the reference allele, "ref" for the annotation's own
	Isolate string

	// Identity percent reported by the assessor, gaps counted
	Identity float64

	// NoGapIdentity is the percent of reference bases matched exactly,
	// reference gap columns ignored
	NoGapIdentity float64

	// Coverage is reference length over assembled length; >1 means the
	// assembly is shorter than the reference
	Coverage float64

	// AssembledLen is the contig's aligned length without gaps
	AssembledLen int

	// RefAlignedLen is how many reference bases the contig's aligned
	// span covers
	RefAlignedLen int

	// Score reported by the assessor
	Score float64

	// Reverse is whether the contig aligned as its reverse complement
	Reverse bool

	// File is the assessor's report, kept for audit
	File string
}

// primaryIsolate labels the allele extracted from the annotation's own
// reference, as opposed to alleles from a supplementary isolate FASTA.
const primaryIsolate = "ref"

var (
	scoreLine    = regexp.MustCompile(`^#\sScore:\s+(\S+)`)
	identityLine = regexp.MustCompile(`^#\sIdentity:\s+\d+/\d+\s\(\s?(\d+\.\d+)%\)`)
)

// parseAssessReport reads an EMBOSS needle style pairwise report: the
// '# Score:' and '# Identity:' comment lines plus the two gapped aligned
// sequences. The first sequence in the report is the reference.
func parseAssessReport(path string) (score, identity float64, refAln, qryAln string, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, "", "", fmt.Errorf("failed to open assessment %s: %v", path, err)
	}
	defer f.Close()

	var names []string
	aligned := make(map[string]*strings.Builder)

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()

		if strings.HasPrefix(line, "#") {
			if m := scoreLine.FindStringSubmatch(line); m != nil {
				score, _ = strconv.ParseFloat(m[1], 64)
			} else if m := identityLine.FindStringSubmatch(line); m != nil {
				identity, _ = strconv.ParseFloat(m[1], 64)
			}
			continue
		}

		// alignment block rows look like: name  start  gapped-seq  end
		fields := strings.Fields(line)
		if len(fields) != 4 {
			continue
		}
		if _, err := strconv.Atoi(fields[1]); err != nil {
			continue
		}
		if _, err := strconv.Atoi(fields[3]); err != nil {
			continue
		}

		b, ok := aligned[fields[0]]
		if !ok {
			if len(names) == 2 {
				continue // consensus/marker rows under a different name
			}
			b = &strings.Builder{}
			aligned[fields[0]] = b
			names = append(names, fields[0])
		}
		b.WriteString(fields[2])
	}
	if err := scanner.Err(); err != nil {
		return 0, 0, "", "", fmt.Errorf("failed to read assessment %s: %v", path, err)
	}

	if len(names) != 2 {
		return 0, 0, "", "", fmt.Errorf("failed to parse assessment %s: found %d aligned sequences, want 2", path, len(names))
	}

	return score, identity, aligned[names[0]].String(), aligned[names[1]].String(), nil
}

// noGapIdentity is the percent of reference bases the query matches
// exactly. Columns where the reference has a gap are ignored; a query
// gap against a reference base counts as a mismatch.
func noGapIdentity(refAln, qryAln string) float64 {
	total, match := 0, 0
	for i := 0; i < len(refAln) && i < len(qryAln); i++ {
		if refAln[i] == '-' {
			continue
		}
		total++
		if refAln[i] == qryAln[i] {
			match++
		}
	}
	if total == 0 {
		return 0
	}

	return float64(match) / float64(total) * 100
}

// refAlignedLen counts the reference bases inside the query's aligned
// span: reference overhang beyond the query's leading and trailing gaps
// is trimmed first, then gaps are dropped.
func refAlignedLen(refAln, qryAln string) int {
	trimmed := refAln
	if len(refAln) > 0 && len(qryAln) > 0 {
		if refAln[0] != '-' && qryAln[0] == '-' {
			lead := len(qryAln) - len(strings.TrimLeft(qryAln, "-"))
			trimmed = trimmed[lead:]
		}
		if refAln[len(refAln)-1] != '-' && qryAln[len(qryAln)-1] == '-' {
			tailLen := len(qryAln) - len(strings.TrimRight(qryAln, "-"))
			trimmed = trimmed[:len(trimmed)-tailLen]
		}
	}

	return len(strings.ReplaceAll(trimmed, "-", ""))
}

// allele is one reference sequence a contig can be assessed against.
type allele struct {
	// Isolate the allele came from, "ref" for the annotation's own
	Isolate string

	// Seq of the allele
	Seq string
}

// assessorConfig is what the assessment step needs from the run config.
type assessorConfig struct {
	// Tool is the pairwise assessor invocation, EMBOSS needle shaped
	Tool ToolSpec

	// MinLengthRatio skips contigs shorter than this fraction of the
	// reference; tiny fragments waste assessor time
	MinLengthRatio float64

	// Priority restricts assessment to alleles whose isolate has this
	// prefix, when any match
	Priority string

	// Timeout per assessor invocation
	Timeout time.Duration
}

// assessContigs aligns every usable contig, forward and reverse
// complement, against the unit's candidate alleles and returns the
// metrics of each pairing that parsed.
func assessContigs(ctx context.Context, dir string, u *WorkUnit, contigs []Contig, alleles []allele, cfg assessorConfig) ([]alignMetrics, error) {
	candidates := alleles
	if cfg.Priority != "" {
		var preferred []allele
		for _, al := range alleles {
			if strings.HasPrefix(al.Isolate, cfg.Priority) {
				preferred = append(preferred, al)
			}
		}
		if len(preferred) > 0 {
			candidates = preferred
		}
	}

	expected := u.Locus.ExpectedLen()
	var metrics []alignMetrics
	for ci, contig := range contigs {
		if expected > 0 && float64(len(contig.Seq)) < cfg.MinLengthRatio*float64(expected) {
			log.Debugf("skipping contig %s for %s: %d bp below %.0f%% of reference", contig.ID, u.Locus.ID, len(contig.Seq), cfg.MinLengthRatio*100)
			continue
		}

		for _, rev := range []bool{false, true} {
			seq := contig.Seq
			name := fmt.Sprintf("contig_%d", ci)
			if rev {
				seq = revComp(seq)
				name += ".r"
			}

			qryPath := filepath.Join(dir, name+".fasta")
			if err := writeFasta(qryPath, contig.ID, seq); err != nil {
				return nil, err
			}

			for _, al := range candidates {
				refPath := filepath.Join(dir, al.Isolate+".allele.fasta")
				if _, err := os.Stat(refPath); err != nil {
					if err := writeFasta(refPath, al.Isolate, al.Seq); err != nil {
						return nil, err
					}
				}

				outPath := filepath.Join(dir, fmt.Sprintf("%s.%s.align.txt", al.Isolate, name))
				assess := &toolExec{
					spec:    cfg.Tool,
					stage:   "assess",
					dir:     dir,
					timeout: cfg.Timeout,
					subs: map[string]string{
						"{ref}":   refPath,
						"{query}": qryPath,
						"{out}":   outPath,
					},
				}
				if _, err := assess.run(ctx); err != nil {
					if ctx.Err() != nil {
						return nil, ctx.Err()
					}
					// one bad pairing should not void the others
					log.Debugf("assessment failed for %s vs %s: %v", contig.ID, al.Isolate, err)
					continue
				}

				score, identity, refAln, qryAln, err := parseAssessReport(outPath)
				if err != nil {
					log.Debugf("%v", err)
					continue
				}

				refLen := len(strings.ReplaceAll(refAln, "-", ""))
				qryLen := len(strings.ReplaceAll(qryAln, "-", ""))
				coverage := 0.0
				if qryLen > 0 {
					coverage = float64(refLen) / float64(qryLen)
				}

				metrics = append(metrics, alignMetrics{
					Contig:        contig.ID,
					Isolate:       al.Isolate,
					Identity:      identity,
					NoGapIdentity: noGapIdentity(refAln, qryAln),
					Coverage:      coverage,
					AssembledLen:  qryLen,
					RefAlignedLen: refAlignedLen(refAln, qryAln),
					Score:         score,
					Reverse:       rev,
					File:          outPath,
				})
			}
		}
	}

	return metrics, nil
}
