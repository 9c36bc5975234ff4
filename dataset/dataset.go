package dataset

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"log/slog"
	"mtl_platform/config"
	"mtl_platform/storage"
	"mtl_platform/utils/logging"
	"path/filepath"
	"slices"
	"strconv"
	"time"

	"github.com/samber/lo"
)

type Stage int

const (
	StageLoaded Stage = iota
	StageSplit
	StageVocabReady
	StageRecordsWritten
	// Only the basic frequency dict was written, used by merges.
	StageVocabOnly
)

func (s Stage) String() string {
	switch s {
	case StageLoaded:
		return "loaded"
	case StageSplit:
		return "split"
	case StageVocabReady:
		return "vocab_ready"
	case StageRecordsWritten:
		return "records_written"
	case StageVocabOnly:
		return "vocab_only"
	default:
		return "unknown"
	}
}

const (
	VocabPrivate    = "private"
	VocabShared     = "shared"
	VocabPretrained = "pretrained"
)

const (
	MetadataFile  = "args_dict.json"
	VocabSizeFile = "vocab_size.txt"
)

// Metadata is what the training side needs to size its layers, plus the
// options the records were built with.
type Metadata struct {
	Dataset           string `json:"dataset"`
	NumClasses        int    `json:"num_classes"`
	MaxDocumentLength int    `json:"max_document_length"`
	VocabSize         int    `json:"vocab_size"`
	MinFrequency      int    `json:"min_frequency"`
	MaxFrequency      int    `json:"max_frequency"`
	MaxVocabSize      int    `json:"max_vocab_size"`
	RandomSeed        int64  `json:"random_seed"`
	Encoding          string `json:"encoding"`
	TrainSize         int    `json:"train_size"`
	ValidSize         int    `json:"valid_size"`
	TestSize          int    `json:"test_size"`
	VocabSource       string `json:"vocab_source"`
}

func LoadMetadata(store storage.Storage, dir string) (*Metadata, error) {
	var meta Metadata
	if err := readJSON(store, filepath.Join(dir, MetadataFile), &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

// Dataset prepares the records of one dataset directory. Its steps must run in
// order: Load, Split, then either WriteBasicVocab, or BuildVocabulary /
// UseVocabulary followed by WriteRecords.
type Dataset struct {
	store storage.Storage
	dir   string
	name  string
	cfg   *config.PrepConfig

	fields            Fields
	examples          []Example
	splits            Splits
	maxDocumentLength int
	vocab             *Vocabulary
	vocabSource       string

	stage Stage
}

// Load reads the examples of dataDir. cfg must already be validated.
func Load(store storage.Storage, dataDir string, cfg *config.PrepConfig) (*Dataset, error) {
	start := time.Now()
	defer observeStage(StageLoaded, start)

	fields, err := ResolveFields(store, dataDir, cfg)
	if err != nil {
		slog.Error("error resolving fields", "data_dir", dataDir, "error", err, "code", logging.DATA_LOAD)
		return nil, fmt.Errorf("error resolving fields of %v: %w", dataDir, err)
	}

	examples, err := LoadExamples(store, dataDir, fields, *cfg.Preproc)
	if err != nil {
		return nil, err
	}

	return &Dataset{
		store:    store,
		dir:      dataDir,
		name:     filepath.Base(filepath.Clean(dataDir)),
		cfg:      cfg,
		fields:   fields,
		examples: examples,
		stage:    StageLoaded,
	}, nil
}

func (d *Dataset) expectStage(op string, stage Stage) error {
	if d.stage != stage {
		return fmt.Errorf("%w: %v needs stage %v, dataset %v is at %v", ErrBadStage, op, stage, d.name, d.stage)
	}
	return nil
}

func (d *Dataset) Name() string            { return d.name }
func (d *Dataset) Dir() string             { return d.dir }
func (d *Dataset) Stage() Stage            { return d.stage }
func (d *Dataset) Examples() []Example     { return d.examples }
func (d *Dataset) Splits() Splits          { return d.splits }
func (d *Dataset) Vocabulary() *Vocabulary { return d.vocab }
func (d *Dataset) MaxDocumentLength() int  { return d.maxDocumentLength }
func (d *Dataset) NumClasses() int         { return NumClasses(d.examples) }

// Split computes the train/valid/test sets, honoring the directory's
// index.json.gz when present, and fixes the document length.
func (d *Dataset) Split() error {
	if err := d.expectStage("split", StageLoaded); err != nil {
		return err
	}
	start := time.Now()
	defer observeStage(StageSplit, start)

	given, err := LoadSplitFile(d.store, d.dir)
	if err != nil {
		return fmt.Errorf("error loading split of %v: %w", d.name, err)
	}

	splits, err := BuildSplits(len(d.examples), given, SplitOptions{
		TrainRatio: *d.cfg.TrainRatio,
		ValidRatio: *d.cfg.ValidRatio,
		Seed:       *d.cfg.RandomSeed,
		ScaleRatio: d.cfg.ScaleRatio,
	})
	if err != nil {
		slog.Error("invalid split", "dataset", d.name, "error", err, "code", logging.DATA_SPLIT)
		return fmt.Errorf("error splitting %v: %w", d.name, err)
	}
	d.splits = splits

	if d.cfg.MaxDocumentLength > 0 {
		d.maxDocumentLength = d.cfg.MaxDocumentLength
	} else {
		d.maxDocumentLength = MaxDocumentLength(d.examples)
	}

	train, valid, test := splits.Sizes()
	slog.Info("split dataset", "dataset", d.name, "train", train, "valid", valid, "test", test, "given", given != nil, "max_document_length", d.maxDocumentLength, "code", logging.DATA_SPLIT)

	d.stage = StageSplit
	return nil
}

func (d *Dataset) texts(index []int) []string {
	texts := make([]string, len(index))
	for i, idx := range index {
		texts[i] = d.examples[idx].Text
	}
	return texts
}

func (d *Dataset) vocabIndex() []int {
	if d.cfg.VocabAll {
		return lo.Range(len(d.examples))
	}
	return d.splits.Train
}

func (d *Dataset) vocabTexts() []string {
	return d.texts(d.vocabIndex())
}

// BasicFreqSourceFile sits next to the basic frequency dict and records which
// examples it was counted from.
const BasicFreqSourceFile = "vocab_freq_dict_source.json"

type basicVocabSource struct {
	TextFields  []string `json:"text_fields"`
	Preproc     bool     `json:"preproc"`
	NumExamples int      `json:"num_examples"`
	// sha256 of the counted example indices, in order.
	Examples string `json:"examples"`
}

func (s basicVocabSource) equal(other basicVocabSource) bool {
	return slices.Equal(s.TextFields, other.TextFields) &&
		s.Preproc == other.Preproc &&
		s.NumExamples == other.NumExamples &&
		s.Examples == other.Examples
}

func (d *Dataset) basicVocabSource() basicVocabSource {
	h := sha256.New()
	buf := make([]byte, 8)
	for _, index := range d.vocabIndex() {
		binary.LittleEndian.PutUint64(buf, uint64(index))
		h.Write(buf)
	}
	return basicVocabSource{
		TextFields:  d.fields.Text,
		Preproc:     *d.cfg.Preproc,
		NumExamples: len(d.examples),
		Examples:    hex.EncodeToString(h.Sum(nil)),
	}
}

// savedBasicVocab returns the basic frequency dict in vocabDir if it was
// counted from the same examples, nil otherwise.
func (d *Dataset) savedBasicVocab(vocabDir string, source basicVocabSource) (*FreqDict, error) {
	path := filepath.Join(vocabDir, BasicFreqDictFile)
	sourcePath := filepath.Join(vocabDir, BasicFreqSourceFile)

	for _, file := range []string{path, sourcePath} {
		exists, err := d.store.Exists(file)
		if err != nil {
			return nil, fmt.Errorf("error checking for %v: %w", file, err)
		}
		if !exists {
			return nil, nil
		}
	}

	var saved basicVocabSource
	if err := readJSON(d.store, sourcePath, &saved); err != nil {
		return nil, err
	}
	if !saved.equal(source) {
		slog.Info("saved basic vocabulary was counted from other examples, recounting", "dataset", d.name, "path", path, "code", logging.VOCAB_LOAD)
		return nil, nil
	}

	return LoadFreqDict(d.store, path)
}

// WriteBasicVocab persists the untrimmed frequency dict of the vocabulary
// texts to vocabDir and stops the dataset there. With ReuseExisting an already
// saved dict is loaded instead of recounted, as long as it was counted from
// the same examples.
func (d *Dataset) WriteBasicVocab(vocabDir string) (*FreqDict, error) {
	if err := d.expectStage("write basic vocab", StageSplit); err != nil {
		return nil, err
	}
	start := time.Now()
	defer observeStage(StageVocabOnly, start)

	path := filepath.Join(vocabDir, BasicFreqDictFile)
	source := d.basicVocabSource()

	if d.cfg.ReuseExisting {
		freq, err := d.savedBasicVocab(vocabDir, source)
		if err != nil {
			return nil, err
		}
		if freq != nil {
			slog.Info("reusing basic vocabulary", "dataset", d.name, "path", path, "tokens", freq.Len(), "code", logging.VOCAB_LOAD)
			d.stage = StageVocabOnly
			return freq, nil
		}
	}

	freq := BuildFreqDict(d.vocabTexts())
	if err := SaveFreqDict(d.store, path, freq); err != nil {
		return nil, fmt.Errorf("error saving basic vocabulary of %v: %w", d.name, err)
	}
	if err := writeJSON(d.store, filepath.Join(vocabDir, BasicFreqSourceFile), source); err != nil {
		slog.Error("error saving basic vocabulary source", "dataset", d.name, "error", err, "code", logging.VOCAB_BUILD)
		return nil, err
	}
	slog.Info("saved basic vocabulary", "dataset", d.name, "path", path, "tokens", freq.Len(), "code", logging.VOCAB_BUILD)

	d.stage = StageVocabOnly
	return freq, nil
}

// BuildVocabulary builds this dataset's own vocabulary and saves it to
// vocabDir. A configured pretrained file initializes or expands it.
func (d *Dataset) BuildVocabulary(vocabDir string) error {
	if err := d.expectStage("build vocabulary", StageSplit); err != nil {
		return err
	}
	start := time.Now()
	defer observeStage(StageVocabReady, start)

	freq := BuildFreqDict(d.vocabTexts())
	vocab := Trim(freq, d.cfg.MinFrequency, *d.cfg.MaxFrequency, d.cfg.MaxVocabSize)
	source := VocabPrivate

	if d.cfg.PretrainedFile != "" {
		pretrained, err := LoadPretrainedFile(d.store, d.cfg.PretrainedFile)
		if err != nil {
			return err
		}
		vocab = FromPretrained(pretrained, vocab, d.cfg.MaxVocabSize, d.cfg.ExpandVocab)
		source = VocabPretrained
	}

	if err := SaveVocabulary(d.store, vocabDir, d.cfg.MinFrequency, vocab); err != nil {
		return fmt.Errorf("error saving vocabulary of %v: %w", d.name, err)
	}

	d.setVocabulary(vocab, source)
	return nil
}

// LoadSavedVocabulary reads a vocabulary from dir. A frozen vocabulary saved
// for minFrequency is used as is. Otherwise the basic frequency dict in dir is
// trimmed with the given bounds.
func LoadSavedVocabulary(store storage.Storage, dir string, minFrequency, maxFrequency, maxVocabSize int) (*Vocabulary, error) {
	frozen := true
	for _, file := range []string{FreqDictFile(minFrequency), V2iFile(minFrequency), I2vFile(minFrequency)} {
		exists, err := store.Exists(filepath.Join(dir, file))
		if err != nil {
			return nil, fmt.Errorf("error checking for %v: %w", file, err)
		}
		frozen = frozen && exists
	}
	if frozen {
		return LoadVocabulary(store, dir, minFrequency)
	}

	path := filepath.Join(dir, BasicFreqDictFile)
	exists, err := store.Exists(path)
	if err != nil {
		return nil, fmt.Errorf("error checking for %v: %w", path, err)
	}
	if !exists {
		slog.Error("no saved vocabulary found", "dir", dir, "min_frequency", minFrequency, "code", logging.VOCAB_LOAD)
		return nil, configError("no vocabulary for min_frequency %d or basic frequency dict in %v", minFrequency, dir)
	}

	freq, err := LoadFreqDict(store, path)
	if err != nil {
		return nil, err
	}
	return Trim(freq, minFrequency, maxFrequency, maxVocabSize), nil
}

// UseSavedVocabulary maps the texts with the vocabulary saved in givenDir and
// writes a copy of it to vocabDir next to the records.
func (d *Dataset) UseSavedVocabulary(givenDir, vocabDir string) error {
	if err := d.expectStage("use saved vocabulary", StageSplit); err != nil {
		return err
	}
	start := time.Now()
	defer observeStage(StageVocabReady, start)

	vocab, err := LoadSavedVocabulary(d.store, givenDir, d.cfg.MinFrequency, *d.cfg.MaxFrequency, d.cfg.MaxVocabSize)
	if err != nil {
		return fmt.Errorf("error loading vocabulary for %v: %w", d.name, err)
	}

	if filepath.Clean(givenDir) != filepath.Clean(vocabDir) {
		if err := SaveVocabulary(d.store, vocabDir, d.cfg.MinFrequency, vocab); err != nil {
			return fmt.Errorf("error saving vocabulary of %v: %w", d.name, err)
		}
	}

	d.setVocabulary(vocab, VocabShared)
	return nil
}

// UseVocabulary adopts a vocabulary built elsewhere, usually shared by a
// group of datasets. Tokens it lacks map to the unknown id.
func (d *Dataset) UseVocabulary(vocab *Vocabulary, source string) error {
	if err := d.expectStage("use vocabulary", StageSplit); err != nil {
		return err
	}
	d.setVocabulary(vocab, source)
	return nil
}

func (d *Dataset) setVocabulary(vocab *Vocabulary, source string) {
	d.vocab = vocab
	d.vocabSource = source
	vocabularySize.WithLabelValues(d.name).Set(float64(vocab.Size()))
	slog.Info("vocabulary ready", "dataset", d.name, "source", source, "vocab_size", vocab.Size(), "code", logging.VOCAB_BUILD)
	d.stage = StageVocabReady
}

func (d *Dataset) metadata() *Metadata {
	train, valid, test := d.splits.Sizes()
	return &Metadata{
		Dataset:           d.name,
		NumClasses:        d.NumClasses(),
		MaxDocumentLength: d.maxDocumentLength,
		VocabSize:         d.vocab.Size(),
		MinFrequency:      d.cfg.MinFrequency,
		MaxFrequency:      *d.cfg.MaxFrequency,
		MaxVocabSize:      d.cfg.MaxVocabSize,
		RandomSeed:        *d.cfg.RandomSeed,
		Encoding:          d.cfg.Encoding,
		TrainSize:         train,
		ValidSize:         valid,
		TestSize:          test,
		VocabSource:       d.vocabSource,
	}
}

func (d *Dataset) checkFreeSpace(outDir string) {
	usage, err := d.store.Usage()
	if err != nil {
		slog.Warn("unable to check free disk space", "dir", outDir, "error", err, "code", logging.RECORD_WRITE)
		return
	}

	perRecord := uint64(8*d.maxDocumentLength + 32)
	if d.cfg.WriteBagOfWords() {
		perRecord += uint64(4 * d.vocab.Size())
	}
	train, valid, test := d.splits.Sizes()
	estimate := perRecord * uint64(train+valid+test)
	if estimate > usage.FreeBytes {
		slog.Warn("records may not fit on disk", "dir", outDir, "estimated_bytes", estimate, "free_bytes", usage.FreeBytes, "code", logging.RECORD_WRITE)
	}
}

// WriteRecords writes train.tf, valid.tf and test.tf into outDir along with
// args_dict.json and vocab_size.txt.
func (d *Dataset) WriteRecords(outDir string) (*Metadata, error) {
	if err := d.expectStage("write records", StageVocabReady); err != nil {
		return nil, err
	}
	start := time.Now()
	defer observeStage(StageRecordsWritten, start)

	d.checkFreeSpace(outDir)

	bow := d.cfg.WriteBagOfWords()
	for _, split := range []struct {
		name  string
		index []int
	}{
		{TrainSplit, d.splits.Train},
		{ValidSplit, d.splits.Valid},
		{TestSplit, d.splits.Test},
	} {
		path := filepath.Join(outDir, split.name+".tf")
		if err := WriteSplitFile(d.store, path, split.index, d.examples, d.vocab, d.maxDocumentLength, bow); err != nil {
			return nil, fmt.Errorf("error writing %v records of %v: %w", split.name, d.name, err)
		}
		recordsWritten.WithLabelValues(split.name).Add(float64(len(split.index)))
	}

	meta := d.metadata()
	if err := writeJSON(d.store, filepath.Join(outDir, MetadataFile), meta); err != nil {
		slog.Error("error saving metadata", "dir", outDir, "error", err, "code", logging.RECORD_WRITE)
		return nil, err
	}
	if err := writeText(d.store, filepath.Join(outDir, VocabSizeFile), strconv.Itoa(meta.VocabSize)); err != nil {
		slog.Error("error saving vocab size", "dir", outDir, "error", err, "code", logging.RECORD_WRITE)
		return nil, err
	}

	datasetsPrepped.Inc()
	slog.Info("dataset prepared", "dataset", d.name, "dir", outDir, "num_classes", meta.NumClasses, "vocab_size", meta.VocabSize, "code", logging.RECORD_WRITE)

	d.stage = StageRecordsWritten
	return meta, nil
}

// Prepare runs every step for a single dataset, writing vocabulary, records
// and metadata into outDir. The vocabulary is the dataset's own unless
// cfg.VocabDir names a saved one.
func Prepare(store storage.Storage, dataDir, outDir string, cfg *config.PrepConfig) (*Metadata, error) {
	d, err := Load(store, dataDir, cfg)
	if err != nil {
		return nil, err
	}
	if err := d.Split(); err != nil {
		return nil, err
	}
	if cfg.VocabDir != "" {
		err = d.UseSavedVocabulary(cfg.VocabDir, outDir)
	} else {
		err = d.BuildVocabulary(outDir)
	}
	if err != nil {
		return nil, err
	}
	return d.WriteRecords(outDir)
}
