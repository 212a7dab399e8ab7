package isca

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// AssemblerInput names what a strategy's assembler consumes.
type AssemblerInput string

const (
	// InputReads feeds the assembler the locus's binned FASTQ
	InputReads AssemblerInput = "reads"

	// InputAlignment feeds the assembler the per locus alignment the
	// strategy's aligner produced
	InputAlignment AssemblerInput = "alignment"
)

// ToolSpec is the invocation template for one external tool. Args may hold
// placeholders that are substituted per work unit: {ref}, {reads}, {aln},
// {out}, {dir}, {query} and {threads}.
type ToolSpec struct {
	// Bin is the executable name or path
	Bin string `yaml:"bin"`

	// Args passed to Bin, after placeholder substitution
	Args []string `yaml:"args"`

	// Contigs is where the tool leaves its assembled contigs, relative
	// to the same placeholders. Only meaningful on assemblers.
	Contigs string `yaml:"contigs,omitempty"`
}

// Strategy is one (aligner, assembler) pairing in the ordered fallback
// list. Loci that fail with one strategy are retried with the next.
type Strategy struct {
	// Name identifies the strategy in the verdict log, eg "gsnap+spades"
	Name string `yaml:"name"`

	// Aligner maps the locus's reads against its reference allele
	Aligner ToolSpec `yaml:"aligner"`

	// Assembler builds contigs from the reads or the alignment
	Assembler ToolSpec `yaml:"assembler"`

	// Input selects what the assembler consumes, "reads" by default
	Input AssemblerInput `yaml:"input,omitempty"`
}

// strategyFile is the YAML document shape for a strategy list.
type strategyFile struct {
	Strategies []Strategy `yaml:"strategies"`
}

// ParseStrategiesYAML decodes, validates and normalizes a strategy list
// payload.
func ParseStrategiesYAML(data []byte) ([]Strategy, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("failed to parse strategies: empty file")
	}

	var f strategyFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse strategies: %v", err)
	}

	if err := validateStrategies(f.Strategies); err != nil {
		return nil, err
	}

	out := make([]Strategy, len(f.Strategies))
	for i, s := range f.Strategies {
		out[i] = s.normalized()
	}

	return out, nil
}

// LoadStrategies reads a strategy list from a YAML file, or returns the
// built in defaults when no path is given.
func LoadStrategies(path string) ([]Strategy, error) {
	if path == "" {
		return defaultStrategies(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read strategies %s: %v", path, err)
	}

	strats, err := ParseStrategiesYAML(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %v", path, err)
	}

	return strats, nil
}

// validateStrategies checks a parsed list before anything runs with it.
func validateStrategies(strats []Strategy) error {
	if len(strats) == 0 {
		return fmt.Errorf("failed to parse strategies: no strategies defined")
	}

	names := make(map[string]bool, len(strats))
	for i, s := range strats {
		name := strings.TrimSpace(s.Name)
		if name == "" {
			return fmt.Errorf("strategy %d: missing name", i+1)
		}
		if names[name] {
			return fmt.Errorf("strategy %d: duplicate name %q", i+1, name)
		}
		names[name] = true

		if strings.TrimSpace(s.Aligner.Bin) == "" {
			return fmt.Errorf("strategy %q: missing aligner bin", name)
		}
		if strings.TrimSpace(s.Assembler.Bin) == "" {
			return fmt.Errorf("strategy %q: missing assembler bin", name)
		}
		if strings.TrimSpace(s.Assembler.Contigs) == "" {
			return fmt.Errorf("strategy %q: missing assembler contigs path", name)
		}
		if s.Input != "" && s.Input != InputReads && s.Input != InputAlignment {
			return fmt.Errorf("strategy %q: input must be %q or %q", name, InputReads, InputAlignment)
		}
	}

	return nil
}

// normalized fills strategy defaults and trims whitespace.
func (s Strategy) normalized() Strategy {
	s.Name = strings.TrimSpace(s.Name)
	s.Aligner.Bin = strings.TrimSpace(s.Aligner.Bin)
	s.Assembler.Bin = strings.TrimSpace(s.Assembler.Bin)
	if s.Input == "" {
		s.Input = InputReads
	}

	return s
}

// defaultStrategies is the stock fallback order: a sensitive short read
// aligner with SPAdes first, then SMALT feeding HGA for loci SPAdes
// cannot close. Sites with different installed tools override this with
// a strategies file.
func defaultStrategies() []Strategy {
	return []Strategy{
		{
			Name: "gsnap+spades",
			Aligner: ToolSpec{
				Bin:  "gsnap",
				Args: []string{"--gunzip", "-t", "{threads}", "-A", "sam", "-o", "{out}", "{ref}", "{reads}"},
			},
			Assembler: ToolSpec{
				Bin:     "spades.py",
				Args:    []string{"--12", "{reads}", "--only-assembler", "--careful", "-t", "{threads}", "-o", "{dir}/spades"},
				Contigs: "{dir}/spades/contigs.fasta",
			},
			Input: InputReads,
		},
		{
			Name: "smalt+hga",
			Aligner: ToolSpec{
				Bin:  "smalt",
				Args: []string{"map", "-n", "{threads}", "-f", "sam", "-o", "{out}", "{ref}", "{reads}"},
			},
			Assembler: ToolSpec{
				Bin:     "HGA.py",
				Args:    []string{"--reads", "{reads}", "--alignment", "{aln}", "--threads", "{threads}", "--out", "{dir}/hga"},
				Contigs: "{dir}/hga/contigs.fasta",
			},
			Input: InputAlignment,
		},
	}
}
