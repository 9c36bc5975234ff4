package dataset

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mtl_platform/storage"
	"mtl_platform/utils/logging"
)

const (
	LabelFeature  = "label"
	WordIDFeature = "word_id"
	BowFeature    = "bow"
)

// Record is the serialized form of one example. BOW is nil unless bag of words
// encoding was requested.
type Record struct {
	Label    int64     `json:"label"`
	TokenIDs []int64   `json:"word_id"`
	BOW      []float32 `json:"bow,omitempty"`
}

func (r Record) features() map[string]feature {
	features := map[string]feature{
		LabelFeature:  {ints: []int64{r.Label}},
		WordIDFeature: {ints: r.TokenIDs},
	}
	if r.BOW != nil {
		features[BowFeature] = feature{floats: r.BOW}
	}
	return features
}

func NewRecord(example Example, vocab *Vocabulary, maxLen int, bow bool) Record {
	record := Record{
		Label:    int64(example.Label),
		TokenIDs: vocab.Map(example.Text, maxLen),
	}
	if bow {
		record.BOW = BagOfWords(record.TokenIDs, vocab.Size())
	}
	return record
}

func WriteRecord(w io.Writer, record Record) error {
	return writeFrame(w, encodeExample(record.features()))
}

// WriteRecords writes one record per index of split, in split order.
func WriteRecords(w io.Writer, split []int, examples []Example, vocab *Vocabulary, maxLen int, bow bool) error {
	for _, index := range split {
		if index < 0 || index >= len(examples) {
			return &InvalidSplitError{Split: "record", Index: index, Reason: fmt.Sprintf("is outside [0, %d)", len(examples))}
		}
		if err := WriteRecord(w, NewRecord(examples[index], vocab, maxLen, bow)); err != nil {
			return fmt.Errorf("error writing record for example %d: %w", index, err)
		}
	}
	return nil
}

// WriteSplitFile replaces path with the records of split. On failure the
// previous file, if any, is left untouched.
func WriteSplitFile(store storage.Storage, path string, split []int, examples []Example, vocab *Vocabulary, maxLen int, bow bool) (err error) {
	file, err := store.Create(path)
	if err != nil {
		slog.Error("error creating record file", "path", path, "error", err, "code", logging.RECORD_WRITE)
		return fmt.Errorf("error creating record file %v: %w", path, err)
	}
	defer func() {
		if err != nil {
			file.Abort(err)
		}
		if closeErr := file.Close(); closeErr != nil && err == nil {
			slog.Error("error closing record file", "path", path, "error", closeErr, "code", logging.RECORD_WRITE)
			err = fmt.Errorf("error closing record file %v: %w", path, closeErr)
		}
	}()

	buffered := bufio.NewWriter(file)
	if err := WriteRecords(buffered, split, examples, vocab, maxLen, bow); err != nil {
		slog.Error("error writing records", "path", path, "error", err, "code", logging.RECORD_WRITE)
		return fmt.Errorf("error writing records to %v: %w", path, err)
	}
	if err := buffered.Flush(); err != nil {
		slog.Error("error flushing record file", "path", path, "error", err, "code", logging.RECORD_WRITE)
		return fmt.Errorf("error flushing record file %v: %w", path, err)
	}

	slog.Info("wrote records", "path", path, "records", len(split), "code", logging.RECORD_WRITE)
	return nil
}

func recordFromFeatures(features map[string]feature) (Record, error) {
	label, ok := features[LabelFeature]
	if !ok || len(label.ints) != 1 {
		return Record{}, fmt.Errorf("%w: missing or malformed %v feature", ErrInvalidRecord, LabelFeature)
	}
	ids, ok := features[WordIDFeature]
	if !ok || ids.ints == nil {
		return Record{}, fmt.Errorf("%w: missing or malformed %v feature", ErrInvalidRecord, WordIDFeature)
	}

	record := Record{Label: label.ints[0], TokenIDs: ids.ints}
	if bow, ok := features[BowFeature]; ok {
		if bow.floats == nil {
			return Record{}, fmt.Errorf("%w: malformed %v feature", ErrInvalidRecord, BowFeature)
		}
		record.BOW = bow.floats
	}
	return record, nil
}

// RecordReader decodes the records of a TFRecord stream, checking both crcs of
// every frame.
type RecordReader struct {
	r     *bufio.Reader
	count int
}

func NewRecordReader(r io.Reader) *RecordReader {
	return &RecordReader{r: bufio.NewReader(r)}
}

// Next returns io.EOF after the last record.
func (rr *RecordReader) Next() (Record, error) {
	payload, err := readFrame(rr.r)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return Record{}, io.EOF
		}
		return Record{}, fmt.Errorf("record %d: %w", rr.count, err)
	}

	features, err := decodeExample(payload)
	if err != nil {
		return Record{}, fmt.Errorf("record %d: %w", rr.count, err)
	}
	record, err := recordFromFeatures(features)
	if err != nil {
		return Record{}, fmt.Errorf("record %d: %w", rr.count, err)
	}
	rr.count++
	return record, nil
}

func ReadRecords(r io.Reader) ([]Record, error) {
	reader := NewRecordReader(r)
	records := make([]Record, 0)
	for {
		record, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return records, nil
		}
		if err != nil {
			slog.Error("error reading records", "error", err, "code", logging.RECORD_READ)
			return nil, err
		}
		records = append(records, record)
	}
}
