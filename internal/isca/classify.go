package isca

import (
	"fmt"
	"os"
	"sort"

	itree "github.com/rdleal/intervalst/interval"
	log "github.com/sirupsen/logrus"
)

// locusIndex answers "which loci does this mapping overlap" with one
// interval tree per reference sequence. Any overlap counts, including a
// single base at a locus boundary.
type locusIndex struct {
	trees map[string]*itree.MultiValueSearchTree[string, int]
}

var cmpInts = func(x, y int) int { return x - y }

// newLocusIndex builds the index over the loci passed. Tree intervals are
// closed, so half-open locus coordinates go in as [start, end-1].
func newLocusIndex(loci []*Locus) *locusIndex {
	idx := &locusIndex{trees: make(map[string]*itree.MultiValueSearchTree[string, int])}
	for _, l := range loci {
		t, ok := idx.trees[l.Ref]
		if !ok {
			t = itree.NewMultiValueSearchTree[string, int](cmpInts)
			idx.trees[l.Ref] = t
		}
		t.Insert(l.Start, l.End-1, l.ID)
	}

	return idx
}

// overlapping returns the IDs of every locus the mapping [start, end)
// on ref overlaps.
func (idx *locusIndex) overlapping(ref string, start, end int) []string {
	t, ok := idx.trees[ref]
	if !ok || end <= start {
		return nil
	}

	ids, ok := t.AllIntersections(start, end-1)
	if !ok {
		return nil
	}
	return ids
}

// template accumulates the mapping evidence for one read template, both
// mates of a pair or a single unpaired read.
type template struct {
	id string

	// loci overlapped per mate, deduped, in first-overlap order.
	// unpaired reads accumulate under m1.
	m1, m2 []string
}

// mateClass is the concordance verdict for a template.
type mateClass int

const (
	// classUnassigned templates mapped but overlapped no locus
	classUnassigned mateClass = iota

	// classSingle templates map to exactly one locus, mates agreeing
	classSingle

	// classMulti templates map to more than one locus, mates agreeing
	classMulti

	// classDiscrepant templates have mates that disagree about their loci
	classDiscrepant
)

// classifyStats is the accounting for one classification pass. Every
// alignment record and every read template lands in exactly one bucket.
type classifyStats struct {
	alignStats

	// Templates seen in the stream
	Templates int

	// SingleMapped templates: one locus, mates agree
	SingleMapped int

	// MultiMapped templates: multiple loci, mates agree
	MultiMapped int

	// Discrepant templates: mates disagree about their loci
	Discrepant int

	// Unassigned templates: mapped somewhere no locus covers
	Unassigned int

	// Filtered templates dropped by the single-map filter at binning
	Filtered int
}

// classification routes read templates to loci. It is built from one
// alignment stream and then read by the binner and the partitioner.
type classification struct {
	// byLocus holds template IDs per locus, in first-overlap order
	byLocus map[string][]string

	// templates by ID
	templates map[string]*template

	// filter drops templates that are not single mapped
	filter bool

	stats classifyStats
}

// classifyReads streams an aligner's output once and routes every primary
// mapped record to the loci it overlaps. A template overlapping several
// loci is routed to all of them. With filter set, templates that are not
// single mapped are kept out of every locus's read list.
func classifyReads(path string, loci []*Locus, filter bool, threads int) (*classification, error) {
	idx := newLocusIndex(loci)
	c := &classification{
		byLocus:   make(map[string][]string),
		templates: make(map[string]*template),
		filter:    filter,
	}

	// which templates each locus has already claimed
	claimed := make(map[string]map[string]bool)

	stats, err := streamAlignments(path, threads, func(rec alignRecord) {
		tpl, ok := c.templates[rec.ReadID]
		if !ok {
			tpl = &template{id: rec.ReadID}
			c.templates[rec.ReadID] = tpl
		}

		hits := idx.overlapping(rec.Ref, rec.Start, rec.End)
		for _, locusID := range hits {
			if rec.Mate == 2 {
				tpl.m2 = appendUnique(tpl.m2, locusID)
			} else {
				tpl.m1 = appendUnique(tpl.m1, locusID)
			}

			seen := claimed[locusID]
			if seen == nil {
				seen = make(map[string]bool)
				claimed[locusID] = seen
			}
			if !seen[rec.ReadID] {
				seen[rec.ReadID] = true
				c.byLocus[locusID] = append(c.byLocus[locusID], rec.ReadID)
			}
		}
	})
	if err != nil {
		return nil, err
	}

	c.stats.alignStats = stats
	c.tallyTemplates()

	log.WithFields(log.Fields{
		"templates":  c.stats.Templates,
		"single":     c.stats.SingleMapped,
		"multi":      c.stats.MultiMapped,
		"discrepant": c.stats.Discrepant,
		"malformed":  c.stats.Malformed,
	}).Debug("classified reads")

	return c, nil
}

// tallyTemplates computes the per-template concordance stats after the
// stream is done.
func (c *classification) tallyTemplates() {
	c.stats.Templates = len(c.templates)
	for _, tpl := range c.templates {
		cls := tpl.class()
		switch cls {
		case classSingle:
			c.stats.SingleMapped++
		case classMulti:
			c.stats.MultiMapped++
		case classDiscrepant:
			c.stats.Discrepant++
		default:
			c.stats.Unassigned++
		}
		if c.filter && (cls == classMulti || cls == classDiscrepant) {
			c.stats.Filtered++
		}
	}
}

// class is the concordance verdict for this template. Mates that both
// mapped must agree on their locus set; a lone mate speaks for the
// template.
func (t *template) class() mateClass {
	switch {
	case len(t.m1) > 0 && len(t.m2) > 0:
		if !sameSet(t.m1, t.m2) {
			return classDiscrepant
		}
		if len(t.m1) == 1 {
			return classSingle
		}
		return classMulti
	case len(t.m1) > 0:
		if len(t.m1) == 1 {
			return classSingle
		}
		return classMulti
	case len(t.m2) > 0:
		if len(t.m2) == 1 {
			return classSingle
		}
		return classMulti
	}

	return classUnassigned
}

// loci is the union of both mates' locus sets, sorted.
func (t *template) loci() []string {
	union := append([]string{}, t.m1...)
	for _, l := range t.m2 {
		union = appendUnique(union, l)
	}
	sort.Strings(union)

	return union
}

// keep is whether a template survives the single-map filter. Without the
// filter every assigned template is kept.
func (c *classification) keep(templateID string) bool {
	tpl, ok := c.templates[templateID]
	if !ok {
		return false
	}
	if !c.filter {
		return tpl.class() != classUnassigned
	}

	return tpl.class() == classSingle
}

// lociOf returns the loci a template is routed to, after the filter.
func (c *classification) lociOf(templateID string) []string {
	if !c.keep(templateID) {
		return nil
	}

	return c.templates[templateID].loci()
}

// readsFor returns the template IDs routed to a locus, in first-overlap
// order, after the filter. The order is reproducible for identical input.
func (c *classification) readsFor(locusID string) (ids []string) {
	for _, id := range c.byLocus[locusID] {
		if c.keep(id) {
			ids = append(ids, id)
		}
	}

	return
}

// writeClassifyStats writes the classification accounting to a small
// report file next to the binned reads.
func writeClassifyStats(path string, stats classifyStats) error {
	report := fmt.Sprintf(
		"records_mapped\t%d\nrecords_unmapped\t%d\nrecords_secondary\t%d\nrecords_malformed\t%d\n"+
			"templates\t%d\nsingle_map\t%d\nmulti_map\t%d\ndiscrepant\t%d\nunassigned\t%d\nfiltered\t%d\n",
		stats.Mapped, stats.Unmapped, stats.Secondary, stats.Malformed,
		stats.Templates, stats.SingleMapped, stats.MultiMapped, stats.Discrepant, stats.Unassigned, stats.Filtered,
	)

	if err := os.WriteFile(path, []byte(report), 0644); err != nil {
		return fmt.Errorf("failed to write classification stats: %v", err)
	}

	return nil
}

// appendUnique appends s to list if it is not already present.
func appendUnique(list []string, s string) []string {
	for _, have := range list {
		if have == s {
			return list
		}
	}

	return append(list, s)
}

// sameSet is whether two small string slices hold the same members,
// ignoring order.
func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}

	as := append([]string{}, a...)
	bs := append([]string{}, b...)
	sort.Strings(as)
	sort.Strings(bs)
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}

	return true
}
