package dataset

import (
	"fmt"
	"log/slog"
	"mtl_platform/storage"
	"mtl_platform/utils/logging"
	"path/filepath"
	"strings"

	"github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"
	"github.com/samber/lo"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

type CombineOptions struct {
	// Number of synthetic positives kept for training.
	PosNum int
	// Split gold into balanced dev and test halves. Otherwise all gold goes
	// to dev.
	Half       bool
	Seed       int64
	LabelField string
	Layout     SyntheticLayout
}

// Combined is a new example collection with a split that uses the synthetic
// examples for training and the gold examples for validation and testing.
type Combined struct {
	Data   []byte
	Splits Splits
}

func parseCollection(data []byte, labelField, what string) ([]gjson.Result, []int, error) {
	if !gjson.ValidBytes(data) {
		return nil, nil, configError("malformed %v collection", what)
	}
	root := gjson.ParseBytes(data)
	if !root.IsArray() {
		return nil, nil, configError("%v collection must be a json array", what)
	}

	items := root.Array()
	labels := make([]int, len(items))
	for i, item := range items {
		label, ok := topLevel(item)[labelField]
		if !ok {
			return nil, nil, configError("%v example %d has no label field '%v'", what, i, labelField)
		}
		labelID, ok := parseLabel(label)
		if !ok {
			return nil, nil, configError("%v example %d has non integer label %v", what, i, label.Raw)
		}
		labels[i] = labelID
	}
	return items, labels, nil
}

// CombineGoldSynthetic concatenates the kept synthetic examples, the gold dev
// examples and the gold test examples, renumbering the index field of each
// object. One generator seeded with opts.Seed is consumed for the gold
// positives, then the gold negatives, then the synthetic positives.
func CombineGoldSynthetic(gold, syn []byte, opts CombineOptions) (*Combined, error) {
	goldItems, goldLabels, err := parseCollection(gold, opts.LabelField, "gold")
	if err != nil {
		return nil, err
	}
	synItems, synLabels, err := parseCollection(syn, opts.LabelField, "synthetic")
	if err != nil {
		return nil, err
	}

	rng := NewRand(opts.Seed)
	dev, test := GoldHeldOut(goldLabels, opts.Half, rng)
	train, err := SyntheticTrain(synLabels, opts.PosNum, opts.Layout, rng)
	if err != nil {
		slog.Error("synthetic collection has an unexpected layout", "error", err, "code", logging.DATA_COMBINE)
		return nil, err
	}

	picked := make([]string, 0, len(train)+len(dev)+len(test))
	picked = append(picked, lo.Map(train, func(i int, _ int) string { return synItems[i].Raw })...)
	picked = append(picked, lo.Map(dev, func(i int, _ int) string { return goldItems[i].Raw })...)
	picked = append(picked, lo.Map(test, func(i int, _ int) string { return goldItems[i].Raw })...)

	for i, raw := range picked {
		updated, err := sjson.Set(raw, "index", i)
		if err != nil {
			return nil, fmt.Errorf("error setting index of example %d: %w", i, err)
		}
		picked[i] = updated
	}

	nTrain, nDev := len(train), len(dev)
	return &Combined{
		Data: []byte("[" + strings.Join(picked, ",") + "]"),
		Splits: Splits{
			Train: lo.Range(nTrain),
			Valid: lo.RangeFrom(nTrain, nDev),
			Test:  lo.RangeFrom(nTrain+nDev, len(test)),
		},
	}, nil
}

func writeGzip(store storage.Storage, path string, data []byte) (err error) {
	file, err := store.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			file.Abort(err)
		}
		if closeErr := file.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("error closing %v: %w", path, closeErr)
		}
	}()

	writer := gzip.NewWriter(file)
	if _, err := writer.Write(data); err != nil {
		return fmt.Errorf("error compressing %v: %w", path, err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("error compressing %v: %w", path, err)
	}
	return nil
}

// CombineDirs reads goldDir and synDir, and writes the combined data.json.gz
// and index.json.gz into outDir.
func CombineDirs(store storage.Storage, goldDir, synDir, outDir string, opts CombineOptions) (*Splits, error) {
	gold, err := readGzip(store, filepath.Join(goldDir, DataFile))
	if err != nil {
		slog.Error("error reading gold data", "dir", goldDir, "error", err, "code", logging.DATA_COMBINE)
		return nil, fmt.Errorf("error reading gold data from %v: %w", goldDir, err)
	}
	syn, err := readGzip(store, filepath.Join(synDir, DataFile))
	if err != nil {
		slog.Error("error reading synthetic data", "dir", synDir, "error", err, "code", logging.DATA_COMBINE)
		return nil, fmt.Errorf("error reading synthetic data from %v: %w", synDir, err)
	}

	combined, err := CombineGoldSynthetic(gold, syn, opts)
	if err != nil {
		return nil, fmt.Errorf("error combining %v and %v: %w", goldDir, synDir, err)
	}

	index, err := json.Marshal(combined.Splits)
	if err != nil {
		return nil, fmt.Errorf("error encoding split: %w", err)
	}

	if err := writeGzip(store, filepath.Join(outDir, DataFile), combined.Data); err != nil {
		slog.Error("error writing combined data", "dir", outDir, "error", err, "code", logging.DATA_COMBINE)
		return nil, err
	}
	if err := writeGzip(store, filepath.Join(outDir, IndexFile), index); err != nil {
		slog.Error("error writing combined split", "dir", outDir, "error", err, "code", logging.DATA_COMBINE)
		return nil, err
	}

	train, valid, test := combined.Splits.Sizes()
	slog.Info("combined gold and synthetic data", "gold", goldDir, "synthetic", synDir, "out", outDir, "train", train, "valid", valid, "test", test, "code", logging.DATA_COMBINE)
	return &combined.Splits, nil
}
