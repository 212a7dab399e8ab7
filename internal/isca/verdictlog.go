package isca

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
)

// verdictLog is the append-only JSON lines audit trail of the run: one
// line per locus per attempted iteration, written at the batch barrier.
type verdictLog struct {
	f   *os.File
	enc *json.Encoder
}

// openVerdictLog opens the log for appending, creating it on first use.
func openVerdictLog(path string) (*verdictLog, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open verdict log %s: %v", path, err)
	}

	return &verdictLog{f: f, enc: json.NewEncoder(f)}, nil
}

// append writes one verdict line.
func (l *verdictLog) append(v Verdict) error {
	if err := l.enc.Encode(v); err != nil {
		return fmt.Errorf("failed to append verdict for %s: %v", v.Locus, err)
	}

	return nil
}

func (l *verdictLog) close() error {
	return l.f.Close()
}

// readVerdictLog loads every verdict in the log, in append order.
func readVerdictLog(path string) ([]Verdict, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open verdict log %s: %v", path, err)
	}
	defer f.Close()

	var verdicts []Verdict
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var v Verdict
		if err := json.Unmarshal(line, &v); err != nil {
			return nil, fmt.Errorf("failed to parse verdict log %s line %d: %v", path, len(verdicts)+1, err)
		}
		verdicts = append(verdicts, v)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read verdict log %s: %v", path, err)
	}

	return verdicts, nil
}
