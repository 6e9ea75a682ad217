package dataio

import (
	"fmt"
	"math/rand"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/heispv/biotrainer/internal/dataset"
	"github.com/heispv/biotrainer/internal/model"
	"github.com/heispv/biotrainer/internal/protocol"
)

const (
	residueAlphabet = "ACDEFGHIKLMNPQRSTVWY"
	classAlphabet   = "ABCDEFGHIJKLMNOPQRST"

	noiseScale  = 0.35
	centerScale = 2.0
	maskRate    = 0.08
)

// GenerateConfig sizes a synthetic dataset. Zero values take defaults.
// Fabrication is deterministic per seed; class and value signal is
// planted in the vectors so trained models beat the baselines.
type GenerateConfig struct {
	Protocol protocol.Protocol
	Samples  int
	Dim      int
	MinLen   int
	MaxLen   int
	Classes  int
	Embedder string
	Seed     int64
}

func (c GenerateConfig) Normalized() (GenerateConfig, error) {
	if c.Protocol == "" {
		return c, fmt.Errorf("%w: generate: protocol is required", model.ErrConfiguration)
	}
	desc, err := protocol.Describe(c.Protocol)
	if err != nil {
		return c, err
	}
	if c.Samples == 0 {
		c.Samples = 60
	}
	if c.Dim == 0 {
		c.Dim = 8
	}
	if c.MinLen == 0 {
		c.MinLen = 12
	}
	if c.MaxLen == 0 {
		c.MaxLen = 30
	}
	if c.Embedder == "" {
		c.Embedder = "synthetic"
	}

	if c.Samples < 10 {
		return c, fmt.Errorf("%w: generate: samples must be >= 10, got %d", model.ErrConfiguration, c.Samples)
	}
	if c.Dim < 1 {
		return c, fmt.Errorf("%w: generate: dim must be >= 1, got %d", model.ErrConfiguration, c.Dim)
	}
	if c.MinLen < 1 || c.MaxLen < c.MinLen {
		return c, fmt.Errorf("%w: generate: invalid length range [%d, %d]", model.ErrConfiguration, c.MinLen, c.MaxLen)
	}
	if desc.Classification {
		if c.Classes == 0 {
			c.Classes = 2
		}
		if desc.Pairwise && c.Classes != 2 {
			return c, fmt.Errorf("%w: generate: %s contact labels are binary, got %d classes", model.ErrConfiguration, desc.Name, c.Classes)
		}
		if c.Classes < 2 || c.Classes > len(classAlphabet) {
			return c, fmt.Errorf("%w: generate: classes must be in [2, %d], got %d", model.ErrConfiguration, len(classAlphabet), c.Classes)
		}
	} else if c.Classes != 0 {
		return c, fmt.Errorf("%w: generate: classes only apply to classification protocols", model.ErrConfiguration)
	}
	return c, nil
}

// Files is a generated dataset in its on-disk shape. Labels and Masks
// are empty for sequence-level protocols.
type Files struct {
	Sequences  []Record
	Labels     []Record
	Masks      []Record
	Embeddings EmbeddingFile
}

// GenerateFiles fabricates a FASTA + embeddings dataset. The pairwise
// protocol has no file form; use GeneratePartitions for it.
func GenerateFiles(cfg GenerateConfig) (Files, error) {
	cfg, err := cfg.Normalized()
	if err != nil {
		return Files{}, err
	}
	desc := protocol.MustDescribe(cfg.Protocol)
	if desc.Pairwise {
		return Files{}, fmt.Errorf("%w: %s has no FASTA form; use GeneratePartitions", model.ErrConfiguration, desc.Name)
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	centers := drawCenters(rng, desc, cfg)
	weights := drawWeights(rng, desc, cfg)

	files := Files{Embeddings: NewEmbeddingFile(cfg.Embedder, cfg.Dim, true)}
	for i := 0; i < cfg.Samples; i++ {
		id := fmt.Sprintf("S%04d", i+1)
		length := cfg.MinLen + rng.Intn(cfg.MaxLen-cfg.MinLen+1)
		attrs := splitAttributes(i, cfg.Samples)
		rows := make([][]float64, length)

		switch desc.Name {
		case protocol.SequenceToClass:
			class := i % cfg.Classes
			for j := range rows {
				rows[j] = noisyRow(rng, centers[class])
			}
			attrs[AttrTarget] = "C" + strconv.Itoa(class)
		case protocol.SequenceToValue:
			base := randomCenter(rng, cfg.Dim)
			for j := range rows {
				rows[j] = noisyRow(rng, base)
			}
			attrs[AttrTarget] = strconv.FormatFloat(dot(MeanPool(rows), weights), 'g', -1, 64)
		case protocol.ResidueToClass:
			var labelBody, maskBody strings.Builder
			for j := range rows {
				class := rng.Intn(cfg.Classes)
				rows[j] = noisyRow(rng, centers[class])
				if j > 0 && rng.Float64() < maskRate {
					labelBody.WriteByte('X')
					maskBody.WriteByte('0')
				} else {
					labelBody.WriteByte(classAlphabet[class])
					maskBody.WriteByte('1')
				}
			}
			files.Labels = append(files.Labels, Record{ID: id, Sequence: labelBody.String()})
			files.Masks = append(files.Masks, Record{ID: id, Sequence: maskBody.String()})
		case protocol.ResidueToValue:
			base := randomCenter(rng, cfg.Dim)
			parts := make([]string, length)
			var maskBody strings.Builder
			for j := range rows {
				rows[j] = noisyRow(rng, base)
				parts[j] = strconv.FormatFloat(dot(rows[j], weights), 'g', -1, 64)
				if j > 0 && rng.Float64() < maskRate {
					maskBody.WriteByte('0')
				} else {
					maskBody.WriteByte('1')
				}
			}
			files.Labels = append(files.Labels, Record{ID: id, Sequence: strings.Join(parts, ",")})
			files.Masks = append(files.Masks, Record{ID: id, Sequence: maskBody.String()})
		}

		files.Embeddings.Embeddings[id] = rows
		files.Sequences = append(files.Sequences, Record{ID: id, Attributes: attrs, Sequence: randomResidues(rng, length)})
	}
	return files, nil
}

// GeneratePartitions fabricates a built dataset for any protocol,
// including the pairwise one. File-expressible protocols round-trip
// through the builder.
func GeneratePartitions(cfg GenerateConfig) (Split, error) {
	cfg, err := cfg.Normalized()
	if err != nil {
		return Split{}, err
	}
	desc := protocol.MustDescribe(cfg.Protocol)
	if !desc.Pairwise {
		files, err := GenerateFiles(cfg)
		if err != nil {
			return Split{}, err
		}
		return BuildPartitions(cfg.Protocol, BuildInputs{
			Sequences:  files.Sequences,
			Labels:     files.Labels,
			Masks:      files.Masks,
			Embeddings: files.Embeddings,
		})
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	centers := [][]float64{randomCenter(rng, cfg.Dim), randomCenter(rng, cfg.Dim)}

	var train, val, test []dataset.Sample
	for i := 0; i < cfg.Samples; i++ {
		id := fmt.Sprintf("S%04d", i+1)
		length := cfg.MinLen + rng.Intn(cfg.MaxLen-cfg.MinLen+1)
		groups := make([]int, length)
		rows := make([][]float64, length)
		for j := range rows {
			groups[j] = rng.Intn(2)
			rows[j] = noisyRow(rng, centers[groups[j]])
		}
		pair := make([][]int, length)
		for a := range pair {
			pair[a] = make([]int, length)
			for b := range pair[a] {
				if groups[a] == groups[b] {
					pair[a][b] = 1
				}
			}
		}
		sample := dataset.Sample{ID: id, Embedding: rows, PairClasses: pair}
		switch splitName(i, cfg.Samples) {
		case "train":
			train = append(train, sample)
		case "val":
			val = append(val, sample)
		default:
			test = append(test, sample)
		}
	}

	trainPart, err := dataset.NewPartition(cfg.Protocol, train)
	if err != nil {
		return Split{}, err
	}
	valPart, err := dataset.NewPartition(cfg.Protocol, val)
	if err != nil {
		return Split{}, err
	}
	testPart, err := dataset.NewPartition(cfg.Protocol, test)
	if err != nil {
		return Split{}, err
	}
	return Split{Train: trainPart, Val: valPart, Test: testPart}, nil
}

// FilePaths locates the files WriteFiles produced. Absent companions
// stay empty.
type FilePaths struct {
	Sequences  string
	Labels     string
	Masks      string
	Embeddings string
}

func WriteFiles(dir string, files Files) (FilePaths, error) {
	if strings.TrimSpace(dir) == "" {
		return FilePaths{}, fmt.Errorf("%w: output directory is required", model.ErrConfiguration)
	}
	paths := FilePaths{
		Sequences:  filepath.Join(dir, "sequences.fasta"),
		Embeddings: filepath.Join(dir, "embeddings.json"),
	}
	if err := WriteFASTAFile(paths.Sequences, files.Sequences); err != nil {
		return FilePaths{}, err
	}
	if len(files.Labels) > 0 {
		paths.Labels = filepath.Join(dir, "labels.fasta")
		if err := WriteFASTAFile(paths.Labels, files.Labels); err != nil {
			return FilePaths{}, err
		}
	}
	if len(files.Masks) > 0 {
		paths.Masks = filepath.Join(dir, "masks.fasta")
		if err := WriteFASTAFile(paths.Masks, files.Masks); err != nil {
			return FilePaths{}, err
		}
	}
	if err := WriteEmbeddingsFile(paths.Embeddings, files.Embeddings); err != nil {
		return FilePaths{}, err
	}
	return paths, nil
}

// splitName assigns contiguous 70/15/15 train/val/test blocks; classes
// cycle inside each block so every split sees every class.
func splitName(i, samples int) string {
	trainEnd := samples * 70 / 100
	valEnd := trainEnd + samples*15/100
	if valEnd == trainEnd {
		valEnd = trainEnd + 1
	}
	switch {
	case i < trainEnd:
		return "train"
	case i < valEnd:
		return "val"
	default:
		return "test"
	}
}

func splitAttributes(i, samples int) map[string]string {
	attrs := make(map[string]string, 3)
	switch splitName(i, samples) {
	case "train":
		attrs[AttrSet] = "train"
		attrs[AttrValidation] = "False"
	case "val":
		attrs[AttrSet] = "train"
		attrs[AttrValidation] = "True"
	default:
		attrs[AttrSet] = "test"
	}
	return attrs
}

func drawCenters(rng *rand.Rand, desc protocol.Descriptor, cfg GenerateConfig) [][]float64 {
	if !desc.Classification {
		return nil
	}
	centers := make([][]float64, cfg.Classes)
	for c := range centers {
		centers[c] = randomCenter(rng, cfg.Dim)
	}
	return centers
}

func drawWeights(rng *rand.Rand, desc protocol.Descriptor, cfg GenerateConfig) []float64 {
	if desc.Classification {
		return nil
	}
	weights := make([]float64, cfg.Dim)
	for d := range weights {
		weights[d] = rng.NormFloat64()
	}
	return weights
}

func randomCenter(rng *rand.Rand, dim int) []float64 {
	center := make([]float64, dim)
	for d := range center {
		center[d] = rng.NormFloat64() * centerScale
	}
	return center
}

func noisyRow(rng *rand.Rand, center []float64) []float64 {
	row := make([]float64, len(center))
	for d := range row {
		row[d] = center[d] + rng.NormFloat64()*noiseScale
	}
	return row
}

func randomResidues(rng *rand.Rand, length int) string {
	var b strings.Builder
	b.Grow(length)
	for i := 0; i < length; i++ {
		b.WriteByte(residueAlphabet[rng.Intn(len(residueAlphabet))])
	}
	return b.String()
}

func dot(a, b []float64) float64 {
	sum := 0.0
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}
