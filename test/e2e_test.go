package test

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/IGS/ISCA/config"
	"github.com/IGS/ISCA/internal/isca"
	"github.com/pelletier/go-toml/v2"
)

// needleReport is a canned EMBOSS needle report the fake assessor copies
// into place: 8/9 identity, one reference gap, score 35.5.
const needleReport = `########################################
# Program: needle
# Rundate: Mon 12 Jan 2026 10:00:00
# Report_file: contig.align.txt
########################################
#=======================================
#
# Aligned_sequences: 2
# 1: ref
# 2: contig1
# Matrix: EDNAFULL
# Gap_penalty: 10.0
# Extend_penalty: 0.5
#
# Length: 9
# Identity:       8/9 (88.9%)
# Similarity:     8/9 (88.9%)
# Gaps:           1/9 (11.1%)
# Score: 35.5
#
#=======================================

ref                1 ACGT-ACGT      8
                     |||| ||||
contig1            1 ACGTAACGT      9

#---------------------------------------
#---------------------------------------
`

// pipelineInputs writes a complete tiny dataset: three loci on one
// reference, reads covering two of them, and a strategy file whose first
// assembler fails for rpoB so the fallback pass has work to do.
func pipelineInputs(t *testing.T) (annotation, reference, alignment, fastq1, fastq2, alleles string, conf config.Config) {
	t.Helper()
	dir := t.TempDir()

	write := func(name, contents string) string {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
			t.Fatalf("failed to write %s: %v", name, err)
		}
		return path
	}

	annotation = write("loci.tsv", "# targeted loci\n"+
		"dnaA\tchr1\t11\t30\t+\n"+
		"rpoB\tchr1\t61\t80\t+\n"+
		"tufA\tchr1\t121\t140\t+\n")

	reference = write("ref.fasta", ">chr1\n"+strings.Repeat("ACGTT", 32)+"\n")

	alignment = write("aln.sam", "@HD\tVN:1.6\tSO:coordinate\n"+
		"@SQ\tSN:chr1\tLN:160\n"+
		"t1.1\t99\tchr1\t11\t60\t10M\t=\t16\t15\tACGTACGTAC\tIIIIIIIIII\n"+
		"t1.2\t147\tchr1\t16\t60\t10M\t=\t11\t-15\tACGTACGTAC\tIIIIIIIIII\n"+
		"t2.1\t99\tchr1\t21\t60\t10M\t=\t26\t15\tACGTACGTAC\tIIIIIIIIII\n"+
		"t2.2\t147\tchr1\t26\t60\t10M\t=\t21\t-15\tACGTACGTAC\tIIIIIIIIII\n"+
		"t3.1\t99\tchr1\t61\t60\t10M\t=\t66\t15\tACGTACGTAC\tIIIIIIIIII\n"+
		"t3.2\t147\tchr1\t66\t60\t10M\t=\t61\t-15\tACGTACGTAC\tIIIIIIIIII\n"+
		"t4.1\t77\t*\t0\t0\t*\t*\t0\t0\tACGTACGTAC\tIIIIIIIIII\n"+
		"t4.2\t141\t*\t0\t0\t*\t*\t0\t0\tACGTACGTAC\tIIIIIIIIII\n")

	entry := func(id string) string {
		return fmt.Sprintf("@%s\nACGTACGTAC\n+\nIIIIIIIIII\n", id)
	}
	fastq1 = write("reads_1.fastq", entry("t1.1")+entry("t2.1")+entry("t3.1")+entry("t4.1"))
	fastq2 = write("reads_2.fastq", entry("t1.2")+entry("t2.2")+entry("t3.2")+entry("t4.2"))

	alleles = write("alleles.fasta", ">3D7.dnaA\nACGTTACGTTACGTTACGTT\n")

	strategies := write("strategies.yaml", `strategies:
  - name: first
    aligner:
      bin: sh
      args: ["-c", "echo aligned > {out}"]
    assembler:
      bin: sh
      args: ["-c", "case {dir} in */rpoB*) exit 3;; *) mkdir -p {dir}/asm && { echo '>c1'; echo ACGTAACGT; } > {dir}/asm/contigs.fasta;; esac"]
      contigs: "{dir}/asm/contigs.fasta"
    input: reads
  - name: fallback
    aligner:
      bin: sh
      args: ["-c", "echo aligned > {out}"]
    assembler:
      bin: sh
      args: ["-c", "mkdir -p {dir}/asm && { echo '>c1'; echo ACGTAACGT; } > {dir}/asm/contigs.fasta"]
      contigs: "{dir}/asm/contigs.fasta"
    input: alignment
`)

	report := write("canned.align.txt", needleReport)

	conf = config.Config{
		Workers: 2,
		Timeout: 30 * time.Second,
		Threads: 1,
		Quiet:   true,
		Verdict: config.VerdictConfig{
			MinIdentity:       85,
			MinLengthFraction: 0.3,
		},
		Assess: config.AssessConfig{
			Bin:            "sh",
			Args:           []string{"-c", "cp " + report + " {out}"},
			MinContigRatio: 0.25,
		},
		Strategies: strategies,
	}
	if err := conf.Validate(); err != nil {
		t.Fatalf("test config invalid: %v", err)
	}

	return annotation, reference, alignment, fastq1, fastq2, alleles, conf
}

// verdictLine is the subset of a verdict log record the assertions read.
type verdictLine struct {
	Locus     string  `json:"locus"`
	Iteration int     `json:"iteration"`
	Strategy  string  `json:"strategy"`
	Resolved  bool    `json:"resolved"`
	Reason    string  `json:"reason"`
	Score     float64 `json:"score"`
	ReadCount int     `json:"read_count"`
}

func readVerdictLines(t *testing.T, path string) []verdictLine {
	t.Helper()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read %s: %v", path, err)
	}

	var lines []verdictLine
	for _, raw := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		var v verdictLine
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			t.Fatalf("failed to decode verdict line %q: %v", raw, err)
		}
		lines = append(lines, v)
	}
	return lines
}

func Test_Run(t *testing.T) {
	annotation, reference, alignment, fastq1, fastq2, alleles, conf := pipelineInputs(t)
	out := filepath.Join(t.TempDir(), "out")

	flags, _ := isca.NewFlags(annotation, reference, alignment, fastq1, fastq2, alleles, "", out)
	if err := isca.Run(flags, conf); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	// dnaA resolves on the first pass, rpoB on the fallback, tufA never
	// receives a read and retires once the strategies run out
	lines := readVerdictLines(t, filepath.Join(out, "verdicts.jsonl"))
	wantOrder := []struct {
		locus     string
		iteration int
		strategy  string
		resolved  bool
		reason    string
	}{
		{"tufA", 1, "first", false, "NO_READS"},
		{"dnaA", 1, "first", true, ""},
		{"rpoB", 1, "first", false, "EXECUTION_FAILED"},
		{"tufA", 2, "fallback", false, "NO_READS"},
		{"rpoB", 2, "fallback", true, ""},
	}
	if len(lines) != len(wantOrder) {
		t.Fatalf("verdict log has %d lines, want %d", len(lines), len(wantOrder))
	}
	for i, want := range wantOrder {
		got := lines[i]
		if got.Locus != want.locus || got.Iteration != want.iteration ||
			got.Strategy != want.strategy || got.Resolved != want.resolved || got.Reason != want.reason {
			t.Errorf("verdict %d = %+v, want %+v", i, got, want)
		}
	}
	if lines[1].ReadCount != 2 || lines[4].ReadCount != 1 {
		t.Errorf("read counts = %d, %d, want 2, 1", lines[1].ReadCount, lines[4].ReadCount)
	}
	if lines[1].Score != 88.9 {
		t.Errorf("dnaA score = %v, want 88.9 (gapped identity)", lines[1].Score)
	}
	if lines[4].Score != 100 {
		t.Errorf("rpoB score = %v, want 100 (no-gap identity for an alignment fed assembler)", lines[4].Score)
	}

	final, err := os.ReadFile(filepath.Join(out, "final.fasta"))
	if err != nil {
		t.Fatalf("failed to read final.fasta: %v", err)
	}
	for _, want := range []string{
		">assembled_dnaA ID_to_ref=88.90 len=9 ref_len_percent=40.00\nACGTAACGT\n",
		">assembled_rpoB ID_to_ref=100.00 len=9 ref_len_percent=40.00\nACGTAACGT\n",
	} {
		if !strings.Contains(string(final), want) {
			t.Errorf("final.fasta missing %q in:\n%s", want, final)
		}
	}
	if strings.Contains(string(final), "tufA") {
		t.Errorf("final.fasta contains the exhausted locus:\n%s", final)
	}

	var summary struct {
		Loci       int            `toml:"loci"`
		Resolved   int            `toml:"resolved"`
		Exhausted  int            `toml:"exhausted"`
		Iterations int            `toml:"iterations"`
		Final      int            `toml:"final-sequences"`
		Reasons    map[string]int `toml:"reasons"`
	}
	sdata, err := os.ReadFile(filepath.Join(out, "summary.toml"))
	if err != nil {
		t.Fatalf("failed to read summary.toml: %v", err)
	}
	if err := toml.Unmarshal(sdata, &summary); err != nil {
		t.Fatalf("failed to decode summary.toml: %v", err)
	}
	if summary.Loci != 3 || summary.Resolved != 2 || summary.Exhausted != 1 ||
		summary.Iterations != 2 || summary.Final != 2 {
		t.Errorf("summary = %+v, want 3 loci, 2 resolved, 1 exhausted, 2 iterations, 2 final", summary)
	}
	if summary.Reasons["NO_READS"] != 1 {
		t.Errorf("summary reasons = %v, want NO_READS: 1", summary.Reasons)
	}

	stats, err := os.ReadFile(filepath.Join(out, "classification.tsv"))
	if err != nil {
		t.Fatalf("failed to read classification.tsv: %v", err)
	}
	for _, want := range []string{"templates\t3", "single_map\t3", "records_unmapped\t2"} {
		if !strings.Contains(string(stats), want) {
			t.Errorf("classification.tsv missing %q in:\n%s", want, stats)
		}
	}

	// scratch is cleaned up when the run is not keeping work
	if _, err := os.Stat(filepath.Join(out, "work")); !os.IsNotExist(err) {
		t.Errorf("work directory still present after cleanup")
	}
}

func Test_Finalize(t *testing.T) {
	annotation, reference, alignment, fastq1, fastq2, alleles, conf := pipelineInputs(t)
	out := filepath.Join(t.TempDir(), "out")

	conf.KeepWork = true
	flags, _ := isca.NewFlags(annotation, reference, alignment, fastq1, fastq2, alleles, "", out)
	if err := isca.Run(flags, conf); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	// re-pull at a stricter identity: only rpoB's 100% winner survives
	pullDir := filepath.Join(t.TempDir(), "repull")
	conf.Verdict.MinIdentity = 95

	verdicts := filepath.Join(out, "verdicts.jsonl")
	reflags, _ := isca.NewFlags(annotation, reference, "", "", "", "", verdicts, pullDir)
	if err := isca.Finalize(reflags, conf); err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}

	final, err := os.ReadFile(filepath.Join(pullDir, "final.fasta"))
	if err != nil {
		t.Fatalf("failed to read re-pulled final.fasta: %v", err)
	}
	if !strings.Contains(string(final), ">assembled_rpoB ID_to_ref=100.00 len=9 ref_len_percent=40.00\nACGTAACGT\n") {
		t.Errorf("re-pulled final.fasta missing rpoB:\n%s", final)
	}
	if strings.Contains(string(final), "dnaA") {
		t.Errorf("re-pulled final.fasta should drop dnaA below 95%% identity:\n%s", final)
	}
}
