package isca

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func fakeAlignerSpec() ToolSpec {
	return ToolSpec{Bin: "sh", Args: []string{"-c", "echo aligned > {out}"}}
}

func fakeAssemblerSpec() ToolSpec {
	return ToolSpec{
		Bin:     "sh",
		Args:    []string{"-c", "mkdir -p {dir}/asm && printf '>c1\\nACGTAACGT\\n' > {dir}/asm/contigs.fasta"},
		Contigs: "{dir}/asm/contigs.fasta",
	}
}

func fakeDriverConfig(t *testing.T) driverConfig {
	t.Helper()

	report := writeTestFile(t, "canned.align.txt", needleReport)
	return driverConfig{
		Workers:     2,
		ToolThreads: 1,
		Timeout:     10 * time.Second,
		WorkDir:     t.TempDir(),
		Assess: assessorConfig{
			Tool:    ToolSpec{Bin: "sh", Args: []string{"-c", "cp " + report + " {out}"}},
			Timeout: 10 * time.Second,
		},
	}
}

func fakeUnits(t *testing.T, strat Strategy, ids ...string) []*WorkUnit {
	t.Helper()

	reads := writeTestFile(t, "reads.fastq.gz", "unread by the fake tools")
	units := make([]*WorkUnit, len(ids))
	for i, id := range ids {
		units[i] = &WorkUnit{
			Locus:     &Locus{ID: id, Seq: "ACGTACGT"},
			Dir:       id,
			ReadsPath: reads,
			ReadCount: 3,
			Strategy:  strat,
			Iteration: 1,
		}
	}

	return units
}

func Test_driveAssemblies(t *testing.T) {
	cfg := fakeDriverConfig(t)
	strat := Strategy{Name: "fake", Aligner: fakeAlignerSpec(), Assembler: fakeAssemblerSpec(), Input: InputReads}
	units := fakeUnits(t, strat, "dnaA", "rpoB", "gyrA")

	results := driveAssemblies(context.Background(), units, cfg)

	if len(results) != len(units) {
		t.Fatalf("driveAssemblies() returned %d results, want %d", len(results), len(units))
	}
	for i, r := range results {
		if r.Unit.Locus.ID != units[i].Locus.ID {
			t.Errorf("result %d is for %s, want %s", i, r.Unit.Locus.ID, units[i].Locus.ID)
		}
		if r.Err != nil {
			t.Errorf("locus %s: unexpected error %v", r.Unit.Locus.ID, r.Err)
		}
		if len(r.Contigs) != 1 || r.Contigs[0].ID != "c1" {
			t.Errorf("locus %s: contigs = %+v", r.Unit.Locus.ID, r.Contigs)
		}
		// one contig, both orientations, primary allele only
		if len(r.Metrics) != 2 {
			t.Errorf("locus %s: %d metrics, want 2", r.Unit.Locus.ID, len(r.Metrics))
		}

		dir := filepath.Join(cfg.WorkDir, r.Unit.Dir)
		for _, name := range []string{"ref.fasta", "aln.sam"} {
			if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
				t.Errorf("locus %s: missing %s: %v", r.Unit.Locus.ID, name, err)
			}
		}
	}
}

func Test_driveAssemblies_failureIsolation(t *testing.T) {
	cfg := fakeDriverConfig(t)
	good := Strategy{Name: "fake", Aligner: fakeAlignerSpec(), Assembler: fakeAssemblerSpec()}
	bad := good
	bad.Assembler = ToolSpec{Bin: "sh", Args: []string{"-c", "echo broken >&2; exit 3"}, Contigs: "{dir}/never"}

	units := fakeUnits(t, bad, "dnaA")
	units = append(units, fakeUnits(t, good, "rpoB")...)

	results := driveAssemblies(context.Background(), units, cfg)
	if len(results) != 2 {
		t.Fatalf("driveAssemblies() returned %d results, want 2", len(results))
	}

	var execErr *AssemblyExecutionError
	if !errors.As(results[0].Err, &execErr) {
		t.Fatalf("dnaA error = %v, want AssemblyExecutionError", results[0].Err)
	}
	if execErr.Stage != "assemble" || execErr.TimedOut {
		t.Errorf("dnaA error = %+v", execErr)
	}

	if results[1].Err != nil {
		t.Errorf("rpoB was contaminated by dnaA's failure: %v", results[1].Err)
	}
	if len(results[1].Contigs) != 1 {
		t.Errorf("rpoB contigs = %+v", results[1].Contigs)
	}
}

func Test_driveAssemblies_timeout(t *testing.T) {
	cfg := fakeDriverConfig(t)
	cfg.Timeout = 50 * time.Millisecond
	slow := Strategy{
		Name:      "slow",
		Aligner:   ToolSpec{Bin: "sh", Args: []string{"-c", "sleep 5"}},
		Assembler: fakeAssemblerSpec(),
	}

	results := driveAssemblies(context.Background(), fakeUnits(t, slow, "dnaA"), cfg)
	if len(results) != 1 {
		t.Fatalf("driveAssemblies() returned %d results, want 1", len(results))
	}

	var execErr *AssemblyExecutionError
	if !errors.As(results[0].Err, &execErr) {
		t.Fatalf("error = %v, want AssemblyExecutionError", results[0].Err)
	}
	if !execErr.TimedOut || execErr.Stage != "align" {
		t.Errorf("error = %+v, want align timeout", execErr)
	}
}

func Test_driveAssemblies_canceled(t *testing.T) {
	cfg := fakeDriverConfig(t)
	strat := Strategy{Name: "fake", Aligner: fakeAlignerSpec(), Assembler: fakeAssemblerSpec()}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	units := fakeUnits(t, strat, "dnaA", "rpoB")
	results := driveAssemblies(ctx, units, cfg)
	if len(results) > len(units) {
		t.Fatalf("driveAssemblies() returned %d results for %d units", len(results), len(units))
	}
	// units picked up before the pool noticed the cancel carry the
	// cancellation, not a fabricated tool failure
	for _, r := range results {
		if !errors.Is(r.Err, context.Canceled) {
			t.Errorf("locus %s error = %v, want context.Canceled", r.Unit.Locus.ID, r.Err)
		}
	}
}

func Test_runAssembly_noContigs(t *testing.T) {
	cfg := fakeDriverConfig(t)
	strat := Strategy{
		Name:      "empty",
		Aligner:   fakeAlignerSpec(),
		Assembler: ToolSpec{Bin: "sh", Args: []string{"-c", "true"}, Contigs: "{dir}/asm/contigs.fasta"},
	}

	res := runAssembly(context.Background(), cfg, fakeUnits(t, strat, "dnaA")[0])
	if res.Err != nil {
		t.Fatalf("runAssembly() error = %v", res.Err)
	}
	if len(res.Contigs) != 0 || len(res.Metrics) != 0 {
		t.Errorf("runAssembly() = %d contigs, %d metrics, want none", len(res.Contigs), len(res.Metrics))
	}
	if res.Elapsed <= 0 {
		t.Error("runAssembly() did not record elapsed time")
	}
}
