package dataset

import (
	"fmt"
	"log/slog"
	"mtl_platform/config"
	"mtl_platform/storage"
	"mtl_platform/utils/logging"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/samber/lo"
)

// SingleDir is where a dataset keeps its own basic frequency dict.
const SingleDir = "single"

type MergeOptions struct {
	DataDirs []string
	// Root the combined directory is created under.
	OutputRoot string
	// Optional per dataset record directories. When set they must pair up
	// with DataDirs by basename, otherwise records go to <combined>/<name>.
	RecordDirs []string
}

type MergeResult struct {
	Dir               string
	Vocabulary        *Vocabulary
	MaxDocumentLength int
	Datasets          []*Metadata

	// Record directory of each entry in Datasets.
	RecordDirs []string
}

func datasetName(dir string) string {
	return filepath.Base(filepath.Clean(dir))
}

// CombinedName joins the sorted dataset names with "_", so the name does not
// depend on the order the datasets were given in.
func CombinedName(dataDirs []string) string {
	names := lo.Map(dataDirs, func(dir string, _ int) string { return datasetName(dir) })
	slices.Sort(names)
	return strings.Join(names, "_")
}

// CheckDirPairs verifies that the i-th record dir belongs to the i-th data dir.
func CheckDirPairs(dataDirs, recordDirs []string) error {
	if len(dataDirs) != len(recordDirs) {
		return configError("got %d dataset directories but %d record directories", len(dataDirs), len(recordDirs))
	}
	for i := range dataDirs {
		if datasetName(dataDirs[i]) != datasetName(recordDirs[i]) {
			return configError("dataset directory %v does not match record directory %v", dataDirs[i], recordDirs[i])
		}
	}
	return nil
}

// MergeDatasets prepares several datasets with one shared vocabulary. Each
// dataset first saves its untrimmed train frequency dict, the dicts are merged
// and trimmed (or combined with a pretrained vocabulary), then every dataset
// writes its records with the shared vocabulary and the longest document
// length of the group.
func MergeDatasets(store storage.Storage, opts MergeOptions, cfg *config.PrepConfig) (*MergeResult, error) {
	if len(opts.DataDirs) == 0 {
		return nil, configError("no datasets to merge")
	}
	if opts.RecordDirs != nil {
		if err := CheckDirPairs(opts.DataDirs, opts.RecordDirs); err != nil {
			return nil, err
		}
	}

	dupes := lo.FindDuplicates(lo.Map(opts.DataDirs, func(dir string, _ int) string { return datasetName(dir) }))
	if len(dupes) > 0 {
		return nil, configError("dataset names must be unique, found duplicates %v", dupes)
	}

	order := lo.Range(len(opts.DataDirs))
	slices.SortFunc(order, func(a, b int) int {
		return strings.Compare(datasetName(opts.DataDirs[a]), datasetName(opts.DataDirs[b]))
	})

	combinedDir := filepath.Join(opts.OutputRoot, CombinedName(opts.DataDirs), cfg.OutputDirName())
	slog.Info("merging datasets", "datasets", len(opts.DataDirs), "dir", combinedDir, "code", logging.VOCAB_MERGE)

	start := time.Now()
	freqs := make([]*FreqDict, 0, len(order))
	maxLength := 0
	for _, i := range order {
		dataDir := opts.DataDirs[i]
		d, err := Load(store, dataDir, cfg)
		if err != nil {
			return nil, err
		}
		if err := d.Split(); err != nil {
			return nil, err
		}
		freq, err := d.WriteBasicVocab(filepath.Join(dataDir, SingleDir))
		if err != nil {
			return nil, err
		}
		freqs = append(freqs, freq)
		maxLength = max(maxLength, d.MaxDocumentLength())
	}

	merged := MergeAll(freqs...)
	if err := SaveFreqDict(store, filepath.Join(combinedDir, BasicFreqDictFile), merged); err != nil {
		return nil, fmt.Errorf("error saving merged frequency dict: %w", err)
	}

	var shared *Vocabulary
	source := VocabShared
	switch {
	case cfg.VocabDir != "":
		var err error
		shared, err = LoadSavedVocabulary(store, cfg.VocabDir, cfg.MinFrequency, *cfg.MaxFrequency, cfg.MaxVocabSize)
		if err != nil {
			return nil, fmt.Errorf("error loading shared vocabulary: %w", err)
		}
	case cfg.PretrainedFile != "":
		pretrained, err := LoadPretrainedFile(store, cfg.PretrainedFile)
		if err != nil {
			return nil, err
		}
		shared = FromPretrained(pretrained, Trim(merged, cfg.MinFrequency, *cfg.MaxFrequency, cfg.MaxVocabSize), cfg.MaxVocabSize, cfg.ExpandVocab)
		source = VocabPretrained
	default:
		shared = Trim(merged, cfg.MinFrequency, *cfg.MaxFrequency, cfg.MaxVocabSize)
	}
	if err := SaveVocabulary(store, combinedDir, cfg.MinFrequency, shared); err != nil {
		return nil, fmt.Errorf("error saving shared vocabulary: %w", err)
	}
	observeStage(StageVocabOnly, start)

	slog.Info("built shared vocabulary", "tokens", merged.Len(), "vocab_size", shared.Size(), "source", source, "max_document_length", maxLength, "code", logging.VOCAB_MERGE)

	full := *cfg
	full.MaxDocumentLength = maxLength

	result := &MergeResult{Dir: combinedDir, Vocabulary: shared, MaxDocumentLength: maxLength}
	for _, i := range order {
		dataDir := opts.DataDirs[i]
		recordDir := filepath.Join(combinedDir, datasetName(dataDir))
		if opts.RecordDirs != nil {
			recordDir = opts.RecordDirs[i]
		}

		d, err := Load(store, dataDir, &full)
		if err != nil {
			return nil, err
		}
		if err := d.Split(); err != nil {
			return nil, err
		}
		if err := d.UseVocabulary(shared, source); err != nil {
			return nil, err
		}
		meta, err := d.WriteRecords(recordDir)
		if err != nil {
			return nil, err
		}
		result.Datasets = append(result.Datasets, meta)
		result.RecordDirs = append(result.RecordDirs, recordDir)
	}

	return result, nil
}
