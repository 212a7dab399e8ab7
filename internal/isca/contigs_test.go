package isca

import (
	"path/filepath"
	"reflect"
	"testing"
)

func Test_readContigs(t *testing.T) {
	path := writeTestFile(t, "contigs.fasta", `>NODE_1_length_231_cov_12.3
acgtacgtAA
CGT
>NODE_2_length_88_cov_4.1
TTTTGGGG
`)

	contigs, err := readContigs(path)
	if err != nil {
		t.Fatalf("readContigs() error = %v", err)
	}

	want := []Contig{
		{ID: "NODE_1_length_231_cov_12.3", Seq: "ACGTACGTAACGT"},
		{ID: "NODE_2_length_88_cov_4.1", Seq: "TTTTGGGG"},
	}
	if !reflect.DeepEqual(contigs, want) {
		t.Errorf("readContigs() = %+v, want %+v", contigs, want)
	}
}

func Test_readContigs_missing(t *testing.T) {
	contigs, err := readContigs(filepath.Join(t.TempDir(), "never-written.fasta"))
	if err != nil {
		t.Fatalf("readContigs() on a missing file error = %v", err)
	}
	if contigs != nil {
		t.Errorf("readContigs() on a missing file = %+v, want nil", contigs)
	}
}

func Test_readContigs_empty(t *testing.T) {
	path := writeTestFile(t, "contigs.fasta", "")

	contigs, err := readContigs(path)
	if err != nil {
		t.Fatalf("readContigs() on an empty file error = %v", err)
	}
	if len(contigs) != 0 {
		t.Errorf("readContigs() on an empty file = %+v", contigs)
	}
}

func Test_writeFasta(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.fasta")

	if err := writeFasta(path, "dnaA", "ACGTACGT"); err != nil {
		t.Fatalf("writeFasta() error = %v", err)
	}

	contigs, err := readContigs(path)
	if err != nil {
		t.Fatal(err)
	}
	want := []Contig{{ID: "dnaA", Seq: "ACGTACGT"}}
	if !reflect.DeepEqual(contigs, want) {
		t.Errorf("round trip = %+v, want %+v", contigs, want)
	}
}
