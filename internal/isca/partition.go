package isca

import (
	"encoding/hex"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/blake2b"
)

// WorkUnit is one locus ready for an assembly attempt. Units are built by
// the partitioner, owned by the driver while running, and immutable in
// between.
type WorkUnit struct {
	// Locus under assembly
	Locus *Locus

	// Dir is the locus's sanitized directory name
	Dir string

	// ReadsPath is the binned reads.fastq.gz for this locus
	ReadsPath string

	// ReadCount is the number of read templates binned
	ReadCount int

	// Digest is a blake2b digest of the ordered read IDs, recorded so a
	// rerun over the same inputs can be checked against the verdict log
	Digest string

	// Strategy is the tool pair this attempt runs
	Strategy Strategy

	// Iteration this unit belongs to, 1-based
	Iteration int
}

// LocusNamingConflictError is two locus IDs that sanitize to the same
// directory name. Dispatching either would corrupt the other's workspace.
type LocusNamingConflictError struct {
	ID    string
	Other string
	Dir   string
}

func (e *LocusNamingConflictError) Error() string {
	return fmt.Sprintf("locus ids %s and %s both map to directory %q", e.Other, e.ID, e.Dir)
}

// sanitizeLocusID makes a locus ID safe to use as a directory name.
// Letters, digits, '.', '_' and '-' pass through, everything else
// becomes '_'.
func sanitizeLocusID(id string) string {
	var b strings.Builder
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}

	return b.String()
}

// buildDirs sanitizes every locus ID to a directory name. The first
// locus to claim a directory keeps it; a later locus that sanitizes onto
// a taken directory gets no entry and is reported as a conflict, to be
// retired by the caller before any job dispatch.
func buildDirs(loci []*Locus) (map[string]string, []*LocusNamingConflictError) {
	dirs := make(map[string]string, len(loci))
	owners := make(map[string]string, len(loci))
	var conflicts []*LocusNamingConflictError
	for _, l := range loci {
		dir := sanitizeLocusID(l.ID)
		if other, taken := owners[dir]; taken {
			conflicts = append(conflicts, &LocusNamingConflictError{ID: l.ID, Other: other, Dir: dir})
			continue
		}
		owners[dir] = l.ID
		dirs[l.ID] = dir
	}

	return dirs, conflicts
}

// partition splits the loci attempted this iteration into work units for
// those with reads and a bypass list for those without. Zero read loci
// never reach the driver.
func partition(loci []*Locus, c *classification, bins *binResult, dirs map[string]string, strat Strategy, iteration int) (units []*WorkUnit, noReads []string) {
	for _, l := range loci {
		count := bins.counts[l.ID]
		if count == 0 {
			noReads = append(noReads, l.ID)
			continue
		}

		units = append(units, &WorkUnit{
			Locus:     l,
			Dir:       dirs[l.ID],
			ReadsPath: bins.files[l.ID],
			ReadCount: count,
			Digest:    readSetDigest(c.readsFor(l.ID)),
			Strategy:  strat,
			Iteration: iteration,
		})
	}

	log.Debugf("partitioned %d work units, %d loci without reads", len(units), len(noReads))

	return units, noReads
}

// readSetDigest fingerprints an ordered read ID list.
func readSetDigest(ids []string) string {
	sum := blake2b.Sum256([]byte(strings.Join(ids, "\n")))
	return hex.EncodeToString(sum[:])
}
