package isca

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// runPaths is the on-disk layout of one run. Deliverables sit at the top
// of the output directory; everything under Work is scratch, namespaced
// by the run ID so concurrent runs over the same output directory never
// collide.
type runPaths struct {
	// Out is the output directory the operator asked for
	Out string

	// RunID names this run in the summary and the scratch tree
	RunID string

	// Work is the scratch root, Out/work/<run-id>; iteration
	// directories live under it
	Work string

	// Reads is where the per locus read bins land, under Work
	Reads string

	// Final is the multi-FASTA of resolved loci
	Final string

	// VerdictLog is the JSON lines audit trail
	VerdictLog string

	// Summary is the TOML run manifest
	Summary string

	// ClassStats is the read classification accounting report
	ClassStats string
}

// makeRunDir creates the run's directory tree under the output directory.
func makeRunDir(outDir string) (*runPaths, error) {
	xuid, err := uuid.NewUUID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate a run id: %v", err)
	}
	uid := xuid.String()

	p := &runPaths{
		Out:        outDir,
		RunID:      uid,
		Work:       filepath.Join(outDir, "work", uid),
		Final:      filepath.Join(outDir, "final.fasta"),
		VerdictLog: filepath.Join(outDir, "verdicts.jsonl"),
		Summary:    filepath.Join(outDir, "summary.toml"),
		ClassStats: filepath.Join(outDir, "classification.tsv"),
	}
	p.Reads = filepath.Join(p.Work, "reads")

	if err := os.MkdirAll(p.Reads, os.ModePerm); err != nil {
		return nil, fmt.Errorf("failed to create %s: %v", p.Reads, err)
	}

	return p, nil
}

// cleanRunDir removes the run's scratch tree unless the operator asked to
// keep it. The deliverables at the top of the output directory stay.
func cleanRunDir(p *runPaths, keep bool) {
	if keep {
		log.Debugf("keeping work directory %s", p.Work)
		return
	}

	if err := os.RemoveAll(p.Work); err != nil {
		log.Debugf("failed to remove %s: %v", p.Work, err)
		return
	}
	// drop Out/work too if this was its only run
	os.Remove(filepath.Dir(p.Work))
}
