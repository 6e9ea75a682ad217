package dataio

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/heispv/biotrainer/internal/dataset"
	"github.com/heispv/biotrainer/internal/model"
	"github.com/heispv/biotrainer/internal/protocol"
)

// BuildInputs carries the parsed source files for one dataset build.
// Labels and Masks are per-residue companions keyed by sequence id.
type BuildInputs struct {
	Sequences  []Record
	Labels     []Record
	Masks      []Record
	Embeddings EmbeddingFile
}

// Split is a built dataset: validated partitions per SET/VALIDATION
// attribute, plus the stable class name table mapping textual labels to
// class ids. ClassNames is nil for regression protocols.
type Split struct {
	Train      *dataset.Partition
	Val        *dataset.Partition
	Test       *dataset.Partition
	ClassNames []string
}

// BuildPartitions joins sequence records, residue labels, masks, and
// embeddings into train/val/test partitions. Ids must line up across all
// inputs; mismatches are data errors.
func BuildPartitions(proto protocol.Protocol, in BuildInputs) (Split, error) {
	desc, err := protocol.Describe(proto)
	if err != nil {
		return Split{}, err
	}
	if desc.Pairwise {
		return Split{}, fmt.Errorf("%w: %s labels have no FASTA form; construct partitions programmatically or use the synthetic generator", model.ErrConfiguration, desc.Name)
	}
	if len(in.Sequences) == 0 {
		return Split{}, fmt.Errorf("%w: no sequence records", model.ErrData)
	}
	if !desc.PerResidue && len(in.Labels) > 0 {
		return Split{}, fmt.Errorf("%w: %s reads TARGET header attributes, not a label file", model.ErrConfiguration, desc.Name)
	}
	if !desc.PerResidue && len(in.Masks) > 0 {
		return Split{}, fmt.Errorf("%w: %s does not take residue masks", model.ErrConfiguration, desc.Name)
	}
	if desc.PerResidue && len(in.Labels) == 0 {
		return Split{}, fmt.Errorf("%w: %s requires a label file", model.ErrConfiguration, desc.Name)
	}

	seqRecords := make(map[string]Record, len(in.Sequences))
	for _, rec := range in.Sequences {
		seqRecords[rec.ID] = rec
	}

	labels := make(map[string]Record, len(in.Labels))
	for _, rec := range in.Labels {
		if _, ok := seqRecords[rec.ID]; !ok {
			return Split{}, fmt.Errorf("%w: label record %s has no matching sequence", model.ErrData, rec.ID)
		}
		labels[rec.ID] = rec
	}
	masks, err := parseMasks(in.Masks, seqRecords)
	if err != nil {
		return Split{}, err
	}

	classNames, classIndex, err := buildClassTable(desc, in.Sequences, labels, masks)
	if err != nil {
		return Split{}, err
	}

	var train, val, test []dataset.Sample
	for _, rec := range in.Sequences {
		sample, err := buildSample(desc, rec, labels, masks, classIndex, in.Embeddings)
		if err != nil {
			return Split{}, err
		}
		split, err := recordSplit(rec)
		if err != nil {
			return Split{}, err
		}
		switch split {
		case "train":
			train = append(train, sample)
		case "val":
			val = append(val, sample)
		case "test":
			test = append(test, sample)
		}
	}
	if len(train) == 0 {
		return Split{}, fmt.Errorf("%w: no records assigned to the train split", model.ErrData)
	}

	trainPart, err := dataset.NewPartition(proto, train)
	if err != nil {
		return Split{}, err
	}
	valPart, err := dataset.NewPartition(proto, val)
	if err != nil {
		return Split{}, err
	}
	testPart, err := dataset.NewPartition(proto, test)
	if err != nil {
		return Split{}, err
	}
	return Split{Train: trainPart, Val: valPart, Test: testPart, ClassNames: classNames}, nil
}

// buildClassTable derives the stable textual-label table over every
// record, so class ids agree across splits. Residue label strings are
// single-byte alphabets.
func buildClassTable(desc protocol.Descriptor, sequences []Record, labels map[string]Record, masks map[string][]bool) ([]string, map[string]int, error) {
	set := make(map[string]struct{})
	switch desc.Name {
	case protocol.SequenceToClass:
		for _, rec := range sequences {
			target, ok := rec.Attr(AttrTarget)
			if !ok || target == "" {
				return nil, nil, fmt.Errorf("%w: record %s is missing a TARGET attribute", model.ErrData, rec.ID)
			}
			set[target] = struct{}{}
		}
	case protocol.ResidueToClass:
		for _, rec := range sequences {
			label, ok := labels[rec.ID]
			if !ok {
				return nil, nil, fmt.Errorf("%w: label missing for record %s", model.ErrData, rec.ID)
			}
			if len(label.Sequence) != len(rec.Sequence) {
				return nil, nil, fmt.Errorf("%w: label %s length: got=%d want=%d", model.ErrData, rec.ID, len(label.Sequence), len(rec.Sequence))
			}
			mask := masks[rec.ID]
			for i := 0; i < len(label.Sequence); i++ {
				if mask != nil && !mask[i] {
					continue
				}
				set[string(label.Sequence[i])] = struct{}{}
			}
		}
		if len(set) == 0 {
			return nil, nil, fmt.Errorf("%w: no valid residue labels", model.ErrData)
		}
	default:
		return nil, nil, nil
	}

	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	sort.Strings(names)
	index := make(map[string]int, len(names))
	for i, name := range names {
		index[name] = i
	}
	return names, index, nil
}

func buildSample(desc protocol.Descriptor, rec Record, labels map[string]Record, masks map[string][]bool, classIndex map[string]int, emb EmbeddingFile) (dataset.Sample, error) {
	rows, ok := emb.Embeddings[rec.ID]
	if !ok {
		return dataset.Sample{}, fmt.Errorf("%w: embedding missing for record %s", model.ErrData, rec.ID)
	}

	sample := dataset.Sample{ID: rec.ID}
	if desc.PerResidue {
		if !emb.PerResidue {
			return dataset.Sample{}, fmt.Errorf("%w: %s needs per-residue embeddings, the embedding file is pooled", model.ErrConfiguration, desc.Name)
		}
		if len(rows) != len(rec.Sequence) {
			return dataset.Sample{}, fmt.Errorf("%w: embedding %s length: got=%d want=%d", model.ErrData, rec.ID, len(rows), len(rec.Sequence))
		}
		sample.Embedding = rows
		sample.Mask = masks[rec.ID]
	} else if emb.PerResidue {
		sample.Embedding = [][]float64{MeanPool(rows)}
	} else {
		sample.Embedding = rows
	}

	switch desc.Name {
	case protocol.SequenceToClass:
		target, _ := rec.Attr(AttrTarget)
		sample.Class = classIndex[target]
	case protocol.SequenceToValue:
		target, ok := rec.Attr(AttrTarget)
		if !ok || target == "" {
			return dataset.Sample{}, fmt.Errorf("%w: record %s is missing a TARGET attribute", model.ErrData, rec.ID)
		}
		value, err := strconv.ParseFloat(target, 64)
		if err != nil {
			return dataset.Sample{}, fmt.Errorf("%w: record %s TARGET %q is not numeric", model.ErrData, rec.ID, target)
		}
		sample.Value = value
	case protocol.ResidueToClass:
		label := labels[rec.ID]
		mask := masks[rec.ID]
		classes := make([]int, len(label.Sequence))
		for i := 0; i < len(label.Sequence); i++ {
			class, known := classIndex[string(label.Sequence[i])]
			switch {
			case known:
				classes[i] = class
			case mask != nil && !mask[i]:
				classes[i] = dataset.IgnoreLabel
			default:
				return dataset.Sample{}, fmt.Errorf("%w: label %s position %d: unknown class %q", model.ErrData, rec.ID, i, string(label.Sequence[i]))
			}
		}
		sample.ResidueClasses = classes
	case protocol.ResidueToValue:
		label, ok := labels[rec.ID]
		if !ok {
			return dataset.Sample{}, fmt.Errorf("%w: label missing for record %s", model.ErrData, rec.ID)
		}
		values, err := parseValueLabels(rec.ID, label.Sequence)
		if err != nil {
			return dataset.Sample{}, err
		}
		if len(values) != len(rec.Sequence) {
			return dataset.Sample{}, fmt.Errorf("%w: label %s length: got=%d want=%d", model.ErrData, rec.ID, len(values), len(rec.Sequence))
		}
		sample.ResidueValues = values
	}
	return sample, nil
}

// recordSplit resolves SET/VALIDATION attributes to a split name. The
// legacy convention SET=train VALIDATION=True marks validation records.
func recordSplit(rec Record) (string, error) {
	set, ok := rec.Attr(AttrSet)
	if !ok || set == "" {
		return "", fmt.Errorf("%w: record %s is missing a SET attribute", model.ErrData, rec.ID)
	}
	validation := false
	if raw, ok := rec.Attr(AttrValidation); ok {
		switch strings.ToLower(raw) {
		case "true":
			validation = true
		case "false":
		default:
			return "", fmt.Errorf("%w: record %s has invalid VALIDATION value %q", model.ErrData, rec.ID, raw)
		}
	}
	switch strings.ToLower(set) {
	case "train":
		if validation {
			return "val", nil
		}
		return "train", nil
	case "val", "validation":
		return "val", nil
	case "test":
		if validation {
			return "", fmt.Errorf("%w: record %s: VALIDATION=True conflicts with SET=test", model.ErrData, rec.ID)
		}
		return "test", nil
	default:
		return "", fmt.Errorf("%w: record %s has unknown SET value %q", model.ErrData, rec.ID, set)
	}
}

func parseMasks(maskRecords []Record, seqRecords map[string]Record) (map[string][]bool, error) {
	if len(maskRecords) == 0 {
		return nil, nil
	}
	masks := make(map[string][]bool, len(maskRecords))
	for _, rec := range maskRecords {
		seq, ok := seqRecords[rec.ID]
		if !ok {
			return nil, fmt.Errorf("%w: mask record %s has no matching sequence", model.ErrData, rec.ID)
		}
		if len(rec.Sequence) != len(seq.Sequence) {
			return nil, fmt.Errorf("%w: mask %s length: got=%d want=%d", model.ErrData, rec.ID, len(rec.Sequence), len(seq.Sequence))
		}
		bits := make([]bool, len(rec.Sequence))
		for i := 0; i < len(rec.Sequence); i++ {
			switch rec.Sequence[i] {
			case '1':
				bits[i] = true
			case '0':
			default:
				return nil, fmt.Errorf("%w: mask %s position %d: invalid character %q", model.ErrData, rec.ID, i, string(rec.Sequence[i]))
			}
		}
		masks[rec.ID] = bits
	}
	return masks, nil
}

func parseValueLabels(id, body string) ([]float64, error) {
	parts := strings.Split(body, ",")
	values := make([]float64, 0, len(parts))
	for i, part := range parts {
		value, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: label %s position %d: %q is not numeric", model.ErrData, id, i, part)
		}
		values = append(values, value)
	}
	return values, nil
}
