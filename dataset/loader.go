package dataset

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"math"
	"mtl_platform/config"
	"mtl_platform/storage"
	"mtl_platform/utils/logging"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/tidwall/gjson"
)

const (
	DataFile  = "data.json.gz"
	IndexFile = "index.json.gz"

	LabelFieldNameFile = "label_field_name"
	TextFieldNamesFile = "text_field_names"
)

// Example is one labeled instance. Text is the space joined (and usually
// cleaned) text fields, Index the position in the source collection.
type Example struct {
	Text  string
	Label int
	Index int
}

type Fields struct {
	Text  []string
	Label string
}

func readFirstLine(store storage.Storage, path string) (string, bool, error) {
	exists, err := store.Exists(path)
	if err != nil {
		return "", false, err
	}
	if !exists {
		return "", false, nil
	}

	file, err := store.Read(path)
	if err != nil {
		return "", false, err
	}
	defer file.Close()

	line, err := bufio.NewReader(file).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", false, fmt.Errorf("error reading %v: %w", path, err)
	}
	return strings.TrimSpace(line), true, nil
}

// ResolveFields picks the text and label fields of the data in dataDir. Values
// set in cfg win, then the label_field_name / text_field_names files of the
// directory, then "label" / ["text"].
func ResolveFields(store storage.Storage, dataDir string, cfg *config.PrepConfig) (Fields, error) {
	fields := Fields{Text: cfg.TextFieldNames, Label: cfg.LabelFieldName}

	if fields.Label == "" {
		fields.Label = config.DefaultLabelFieldName
		line, ok, err := readFirstLine(store, filepath.Join(dataDir, LabelFieldNameFile))
		if err != nil {
			return Fields{}, err
		}
		if ok && line != "" {
			fields.Label = line
		}
	}

	if len(fields.Text) == 0 {
		fields.Text = []string{config.DefaultTextFieldName}
		line, ok, err := readFirstLine(store, filepath.Join(dataDir, TextFieldNamesFile))
		if err != nil {
			return Fields{}, err
		}
		if ok && len(strings.Fields(line)) > 0 {
			fields.Text = strings.Fields(line)
		}
	}

	slog.Debug("resolved fields", "data_dir", dataDir, "text", fields.Text, "label", fields.Label, "code", logging.DATA_LOAD)
	return fields, nil
}

func readGzip(store storage.Storage, path string) ([]byte, error) {
	file, err := store.Read(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader, err := gzip.NewReader(file)
	if err != nil {
		return nil, fmt.Errorf("%w: %v is not gzip compressed: %v", ErrInvalidConfig, path, err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("%w: error decompressing %v: %v", ErrInvalidConfig, path, err)
	}
	return data, nil
}

// topLevel indexes the fields of obj by their literal key, so field names
// containing path characters such as '.' need no escaping.
func topLevel(obj gjson.Result) map[string]gjson.Result {
	values := make(map[string]gjson.Result)
	obj.ForEach(func(key, value gjson.Result) bool {
		values[key.String()] = value
		return true
	})
	return values
}

// parseLabel accepts integral numbers and strings holding one, e.g. 1 or "1".
func parseLabel(value gjson.Result) (int, bool) {
	switch value.Type {
	case gjson.Number:
		if value.Num != math.Trunc(value.Num) {
			return 0, false
		}
		return int(value.Int()), true
	case gjson.String:
		label, err := strconv.Atoi(strings.TrimSpace(value.Str))
		return label, err == nil
	default:
		return 0, false
	}
}

// ParseExamples decodes a json array of objects. clean is applied to the joined
// text fields when non nil.
func ParseExamples(data []byte, fields Fields, clean func(string) string) ([]Example, error) {
	if !gjson.ValidBytes(data) {
		return nil, configError("malformed json example collection")
	}
	root := gjson.ParseBytes(data)
	if !root.IsArray() {
		return nil, configError("example collection must be a json array")
	}

	items := root.Array()
	examples := make([]Example, 0, len(items))
	texts := make([]string, len(fields.Text))
	for i, item := range items {
		if !item.IsObject() {
			return nil, configError("example %d is not a json object", i)
		}

		values := topLevel(item)

		label, ok := values[fields.Label]
		if !ok {
			return nil, configError("example %d has no label field '%v'", i, fields.Label)
		}
		labelID, ok := parseLabel(label)
		if !ok {
			return nil, configError("example %d has non integer label %v", i, label.Raw)
		}

		for j, name := range fields.Text {
			value, ok := values[name]
			if !ok {
				return nil, configError("example %d has no text field '%v'", i, name)
			}
			texts[j] = value.String()
		}

		text := JoinFields(texts)
		if clean != nil {
			text = clean(text)
		}
		examples = append(examples, Example{Text: text, Label: labelID, Index: i})
	}
	return examples, nil
}

// LoadExamples reads data.json.gz from dataDir.
func LoadExamples(store storage.Storage, dataDir string, fields Fields, preproc bool) ([]Example, error) {
	path := filepath.Join(dataDir, DataFile)
	data, err := readGzip(store, path)
	if err != nil {
		slog.Error("error reading examples", "path", path, "error", err, "code", logging.DATA_LOAD)
		return nil, fmt.Errorf("error reading examples from %v: %w", dataDir, err)
	}

	var clean func(string) string
	if preproc {
		clean = NewCleaner().Clean
	}

	examples, err := ParseExamples(data, fields, clean)
	if err != nil {
		slog.Error("error parsing examples", "path", path, "error", err, "code", logging.DATA_LOAD)
		return nil, fmt.Errorf("error parsing %v: %w", path, err)
	}

	examplesLoaded.Add(float64(len(examples)))
	slog.Info("loaded examples", "path", path, "examples", len(examples), "code", logging.DATA_LOAD)
	return examples, nil
}

// LoadSplitFile reads the optional index.json.gz of dataDir. It returns nil
// without an error when the directory has no split file.
func LoadSplitFile(store storage.Storage, dataDir string) (*Splits, error) {
	path := filepath.Join(dataDir, IndexFile)
	exists, err := store.Exists(path)
	if err != nil {
		return nil, err
	}
	if !exists {
		slog.Info("no split file, using a random split", "data_dir", dataDir, "code", logging.DATA_SPLIT)
		return nil, nil
	}

	data, err := readGzip(store, path)
	if err != nil {
		slog.Error("error reading split file", "path", path, "error", err, "code", logging.DATA_SPLIT)
		return nil, err
	}
	splits, err := LoadSplits(bytes.NewReader(data))
	if err != nil {
		slog.Error("error decoding split file", "path", path, "error", err, "code", logging.DATA_SPLIT)
		return nil, fmt.Errorf("error loading %v: %w", path, err)
	}
	return splits, nil
}

func Labels(examples []Example) []int {
	labels := make([]int, len(examples))
	for i, example := range examples {
		labels[i] = example.Label
	}
	return labels
}

// NumClasses counts the distinct labels.
func NumClasses(examples []Example) int {
	seen := make(map[int]bool)
	for _, example := range examples {
		seen[example.Label] = true
	}
	return len(seen)
}

// MaxDocumentLength is the largest token count over examples.
func MaxDocumentLength(examples []Example) int {
	longest := 0
	for _, example := range examples {
		longest = max(longest, len(Tokenize(example.Text)))
	}
	return longest
}
