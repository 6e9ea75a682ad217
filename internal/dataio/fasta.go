package dataio

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/heispv/biotrainer/internal/model"
)

// Attribute keys the dataset builder recognizes in FASTA headers. Headers
// may carry arbitrary additional KEY=VALUE pairs; keys match
// case-insensitively.
const (
	AttrTarget     = "target"
	AttrSet        = "set"
	AttrValidation = "validation"
)

const fastaLineWidth = 60

// Record is one FASTA entry. Label and mask files share the format: their
// "sequence" is a per-residue label or 0/1 mask string keyed by the same
// ids as the sequence file.
type Record struct {
	ID         string
	Attributes map[string]string
	Sequence   string
}

// Attr looks up a header attribute, matching the key case-insensitively.
func (r Record) Attr(key string) (string, bool) {
	value, ok := r.Attributes[strings.ToLower(key)]
	return value, ok
}

func ReadFASTAFile(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	records, err := ReadFASTA(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return records, nil
}

func ReadFASTA(r io.Reader) ([]Record, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)

	records := make([]Record, 0, 64)
	seen := make(map[string]int)
	var current *Record
	headerLine := 0
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		if strings.HasPrefix(text, ">") {
			if current != nil && current.Sequence == "" {
				return nil, fmt.Errorf("%w: line %d: record %s has no sequence data", model.ErrData, headerLine, current.ID)
			}
			record, err := parseFASTAHeader(text, line)
			if err != nil {
				return nil, err
			}
			if first, ok := seen[record.ID]; ok {
				return nil, fmt.Errorf("%w: line %d: duplicate record id %s (first seen on line %d)", model.ErrData, line, record.ID, first)
			}
			seen[record.ID] = line
			records = append(records, record)
			current = &records[len(records)-1]
			headerLine = line
			continue
		}
		if current == nil {
			return nil, fmt.Errorf("%w: line %d: sequence data before the first header", model.ErrData, line)
		}
		current.Sequence += text
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if current != nil && current.Sequence == "" {
		return nil, fmt.Errorf("%w: line %d: record %s has no sequence data", model.ErrData, headerLine, current.ID)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: no records found", model.ErrData)
	}
	return records, nil
}

func parseFASTAHeader(text string, line int) (Record, error) {
	fields := strings.Fields(text[1:])
	if len(fields) == 0 {
		return Record{}, fmt.Errorf("%w: line %d: header is missing an id", model.ErrData, line)
	}
	record := Record{ID: fields[0]}
	for _, field := range fields[1:] {
		key, value, ok := strings.Cut(field, "=")
		if !ok || key == "" {
			return Record{}, fmt.Errorf("%w: line %d: malformed header attribute %q", model.ErrData, line, field)
		}
		lowered := strings.ToLower(key)
		if record.Attributes == nil {
			record.Attributes = make(map[string]string)
		}
		if _, exists := record.Attributes[lowered]; exists {
			return Record{}, fmt.Errorf("%w: line %d: duplicate header attribute %s", model.ErrData, line, key)
		}
		record.Attributes[lowered] = value
	}
	return record, nil
}

func WriteFASTAFile(path string, records []Record) error {
	var buf bytes.Buffer
	if err := WriteFASTA(&buf, records); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

func WriteFASTA(w io.Writer, records []Record) error {
	for _, record := range records {
		if record.ID == "" {
			return fmt.Errorf("%w: record id is required", model.ErrData)
		}
		if strings.ContainsAny(record.ID, " \t") {
			return fmt.Errorf("%w: record id %q contains whitespace", model.ErrData, record.ID)
		}
		if record.Sequence == "" {
			return fmt.Errorf("%w: record %s has no sequence data", model.ErrData, record.ID)
		}

		keys := make([]string, 0, len(record.Attributes))
		for key := range record.Attributes {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		header := ">" + record.ID
		for _, key := range keys {
			value := record.Attributes[key]
			if value == "" || strings.ContainsAny(value, " \t") {
				return fmt.Errorf("%w: record %s attribute %s has unwritable value %q", model.ErrData, record.ID, key, value)
			}
			header += " " + strings.ToUpper(key) + "=" + value
		}
		if _, err := fmt.Fprintln(w, header); err != nil {
			return err
		}
		for start := 0; start < len(record.Sequence); start += fastaLineWidth {
			end := start + fastaLineWidth
			if end > len(record.Sequence) {
				end = len(record.Sequence)
			}
			if _, err := fmt.Fprintln(w, record.Sequence[start:end]); err != nil {
				return err
			}
		}
	}
	return nil
}
