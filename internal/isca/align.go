package isca

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/biogo/hts/bam"
	"github.com/biogo/hts/sam"
	log "github.com/sirupsen/logrus"
)

// alignRecord is one mapped read observation from an aligner's output.
// Coordinates are 0-based half-open on the named reference sequence.
type alignRecord struct {
	// ReadID with any mate suffix removed
	ReadID string

	// Mate is 1 or 2 for paired reads, 0 for unpaired
	Mate int

	// Ref the read mapped to
	Ref string

	// Start of the mapping on Ref
	Start int

	// End of the mapping on Ref
	End int

	// Reverse is whether the read mapped to the minus strand
	Reverse bool
}

// alignStats counts what happened to every record in an alignment stream.
// Every input record lands in exactly one of these buckets.
type alignStats struct {
	// Mapped records passed to the caller
	Mapped int

	// Unmapped records, skipped
	Unmapped int

	// Secondary and supplementary placements, skipped
	Secondary int

	// Malformed records, skipped and counted
	Malformed int
}

// MalformedAlignmentRecordError is a record the aligner emitted that is
// missing required fields. These are skipped and counted, never fatal.
type MalformedAlignmentRecordError struct {
	Record int
	Err    error
}

func (e *MalformedAlignmentRecordError) Error() string {
	return fmt.Sprintf("malformed alignment record %d: %v", e.Record, e.Err)
}

func (e *MalformedAlignmentRecordError) Unwrap() error { return e.Err }

// maxDecodeFailures caps consecutive undecodable records before the stream
// itself is considered broken rather than a record within it.
const maxDecodeFailures = 100

// streamAlignments reads an aligner's SAM or BAM output and calls fn once
// per primary mapped record. Unmapped, secondary and malformed records are
// tallied in the returned stats. The format comes from the file extension:
// .bam is binary, anything else is SAM text, gunzipped first for .gz.
func streamAlignments(path string, threads int, fn func(alignRecord)) (stats alignStats, err error) {
	f, err := os.Open(path)
	if err != nil {
		return stats, fmt.Errorf("failed to open alignments %s: %v", path, err)
	}
	defer f.Close()

	if strings.HasSuffix(path, ".bam") {
		br, err := bam.NewReader(f, threads)
		if err != nil {
			return stats, fmt.Errorf("failed to read BAM header of %s: %v", path, err)
		}
		defer br.Close()

		for {
			rec, err := br.Read()
			if err == io.EOF {
				break
			}
			if err != nil {
				// a BAM decode error poisons the rest of the stream
				return stats, fmt.Errorf("failed to read BAM record from %s: %v", path, err)
			}
			tally(rec, &stats, fn)
		}

		return stats, nil
	}

	var in io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return stats, fmt.Errorf("failed to gunzip alignments %s: %v", path, err)
		}
		defer gz.Close()
		in = gz
	}

	sr, err := sam.NewReader(in)
	if err != nil {
		return stats, fmt.Errorf("failed to read SAM header of %s: %v", path, err)
	}

	failures := 0 // consecutive
	record := 0
	for {
		rec, err := sr.Read()
		if err == io.EOF {
			break
		}
		record++
		if err != nil {
			// one bad line: skip it, count it, keep going
			stats.Malformed++
			failures++
			log.Debugf("%v", &MalformedAlignmentRecordError{Record: record, Err: err})
			if failures >= maxDecodeFailures {
				return stats, fmt.Errorf("failed to parse %s: %d consecutive malformed records", path, failures)
			}
			continue
		}
		failures = 0
		tally(rec, &stats, fn)
	}

	return stats, nil
}

// tally routes one decoded record into the stats buckets, calling fn for
// primary mapped placements.
func tally(rec *sam.Record, stats *alignStats, fn func(alignRecord)) {
	if rec.Flags&sam.Unmapped != 0 || rec.Ref == nil || rec.Pos < 0 {
		stats.Unmapped++
		return
	}
	if rec.Flags&(sam.Secondary|sam.Supplementary) != 0 {
		stats.Secondary++
		return
	}

	end := rec.End()
	if end <= rec.Pos {
		// no usable CIGAR, fall back to the read length
		end = rec.Pos + rec.Seq.Length
	}

	id, mate := mateSuffix(rec.Name)
	if mate == 0 {
		if rec.Flags&sam.Read1 != 0 {
			mate = 1
		} else if rec.Flags&sam.Read2 != 0 {
			mate = 2
		}
	}

	stats.Mapped++
	fn(alignRecord{
		ReadID:  id,
		Mate:    mate,
		Ref:     rec.Ref.Name(),
		Start:   rec.Pos,
		End:     end,
		Reverse: rec.Flags&sam.Reverse != 0,
	})
}

// mateSuffix splits a read name from its mate suffix: "read.1" and
// "read/1" both mean mate 1 of template "read". Reads without a
// recognized suffix return mate 0.
func mateSuffix(name string) (string, int) {
	if len(name) < 2 {
		return name, 0
	}

	sep := name[len(name)-2]
	if sep != '.' && sep != '/' {
		return name, 0
	}

	switch name[len(name)-1] {
	case '1':
		return name[:len(name)-2], 1
	case '2':
		return name[:len(name)-2], 2
	}

	return name, 0
}
