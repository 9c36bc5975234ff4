package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-json"
	"gopkg.in/yaml.v3"
)

const (
	EncodingNone = "none"
	EncodingBow  = "bow"
)

// TweetTokenizer is the only tokenizer records are built with.
const TweetTokenizer = "tweet_tokenizer"

const (
	DefaultLabelFieldName = "label"
	DefaultTextFieldName  = "text"

	defaultTrainRatio   = 0.8
	defaultValidRatio   = 0.1
	defaultRandomSeed   = 42
	defaultMaxFrequency = -1
)

// PrepConfig holds the options for preparing one dataset, or a group of datasets
// sharing a vocabulary. It is read from args_<dataset>.json / args_merged.json
// (or the yaml equivalent).
type PrepConfig struct {
	// Empty means: read the data dir's text_field_names / label_field_name
	// files, falling back to ["text"] / "label".
	TextFieldNames []string `json:"text_field_names" yaml:"text_field_names"`
	LabelFieldName string   `json:"label_field_name" yaml:"label_field_name"`

	// 0 means the max token count over all texts.
	MaxDocumentLength int `json:"max_document_length" yaml:"max_document_length"`
	// 0 means no cap.
	MaxVocabSize int  `json:"max_vocab_size" yaml:"max_vocab_size"`
	MinFrequency int  `json:"min_frequency" yaml:"min_frequency"`
	MaxFrequency *int `json:"max_frequency" yaml:"max_frequency"`

	TrainRatio *float64 `json:"train_ratio" yaml:"train_ratio"`
	ValidRatio *float64 `json:"valid_ratio" yaml:"valid_ratio"`
	RandomSeed *int64   `json:"random_seed" yaml:"random_seed"`
	// 0 or >= 1 disables scaling.
	ScaleRatio float64 `json:"scale_ratio" yaml:"scale_ratio"`
	// Older spelling of scale_ratio.
	SubsampleRatio float64 `json:"subsample_ratio" yaml:"subsample_ratio"`

	Encoding string `json:"encoding" yaml:"encoding"`
	// Legacy flag from older args files, equivalent to encoding "bow".
	WriteBow bool `json:"write_bow" yaml:"write_bow"`

	// Keys of older args files, accepted only with the values matching how
	// records are written.
	WriteTfidf bool   `json:"write_tfidf" yaml:"write_tfidf"`
	Padding    *bool  `json:"padding" yaml:"padding"`
	Tokenizer  string `json:"tokenizer" yaml:"tokenizer"`

	Preproc  *bool `json:"preproc" yaml:"preproc"`
	VocabAll bool  `json:"vocab_all" yaml:"vocab_all"`

	PretrainedFile string `json:"pretrained_file" yaml:"pretrained_file"`
	ExpandVocab    bool   `json:"expand_vocab" yaml:"expand_vocab"`

	// Directory of a previously saved vocabulary. When set the texts are mapped
	// with it instead of a vocabulary built from this dataset.
	VocabDir string `json:"vocab_dir" yaml:"vocab_dir"`

	ReuseExisting bool `json:"reuse_existing" yaml:"reuse_existing"`
}

func LoadPrepConfig(path string) (*PrepConfig, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading prep config %v: %w", path, err)
	}

	var cfg PrepConfig
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		decoder := yaml.NewDecoder(bytes.NewReader(content))
		decoder.KnownFields(true)
		if err = decoder.Decode(&cfg); errors.Is(err, io.EOF) {
			err = nil
		}
	default:
		decoder := json.NewDecoder(bytes.NewReader(content))
		decoder.DisallowUnknownFields()
		err = decoder.Decode(&cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("error parsing prep config %v: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid prep config %v: %w", path, err)
	}

	return &cfg, nil
}

func (c *PrepConfig) Validate() error {
	allErrors := make([]error, 0)

	if c.MaxFrequency == nil {
		maxFreq := defaultMaxFrequency
		c.MaxFrequency = &maxFreq
	}
	if c.TrainRatio == nil {
		ratio := defaultTrainRatio
		c.TrainRatio = &ratio
	}
	if c.ValidRatio == nil {
		ratio := defaultValidRatio
		c.ValidRatio = &ratio
	}
	if c.RandomSeed == nil {
		seed := int64(defaultRandomSeed)
		c.RandomSeed = &seed
	}
	if c.Preproc == nil {
		preproc := true
		c.Preproc = &preproc
	}

	if c.Encoding == "" {
		c.Encoding = EncodingNone
		if c.WriteBow {
			c.Encoding = EncodingBow
		}
	}
	if c.Encoding != EncodingNone && c.Encoding != EncodingBow {
		allErrors = append(allErrors, fmt.Errorf("invalid encoding '%v', must be '%v' or '%v'", c.Encoding, EncodingNone, EncodingBow))
	}

	if c.WriteTfidf {
		allErrors = append(allErrors, fmt.Errorf("write_tfidf is not supported, use encoding '%v'", EncodingBow))
	}
	if c.Padding != nil && !*c.Padding {
		allErrors = append(allErrors, fmt.Errorf("padding cannot be disabled, token ids are always padded to max_document_length"))
	}
	if c.Tokenizer != "" && c.Tokenizer != TweetTokenizer {
		allErrors = append(allErrors, fmt.Errorf("unsupported tokenizer '%v', only '%v' is available", c.Tokenizer, TweetTokenizer))
	}

	if c.SubsampleRatio != 0 {
		if c.ScaleRatio == 0 {
			c.ScaleRatio = c.SubsampleRatio
		} else if c.ScaleRatio != c.SubsampleRatio {
			allErrors = append(allErrors, fmt.Errorf("scale_ratio %v and subsample_ratio %v disagree", c.ScaleRatio, c.SubsampleRatio))
		}
	}

	if c.MinFrequency < 0 {
		allErrors = append(allErrors, fmt.Errorf("min_frequency must be >= 0"))
	}
	if *c.MaxFrequency != -1 && *c.MaxFrequency <= c.MinFrequency+1 {
		allErrors = append(allErrors, fmt.Errorf("max_frequency must be -1 or greater than min_frequency+1, no token could be kept with min=%d max=%d", c.MinFrequency, *c.MaxFrequency))
	}
	if c.MaxVocabSize < 0 {
		allErrors = append(allErrors, fmt.Errorf("max_vocab_size must be >= 0"))
	}
	if c.MaxDocumentLength < 0 {
		allErrors = append(allErrors, fmt.Errorf("max_document_length must be >= 0"))
	}

	if *c.TrainRatio < 0 || *c.ValidRatio < 0 || *c.TrainRatio+*c.ValidRatio > 1 {
		allErrors = append(allErrors, fmt.Errorf("train_ratio and valid_ratio must be non-negative and sum to at most 1"))
	}
	if c.ScaleRatio < 0 {
		allErrors = append(allErrors, fmt.Errorf("scale_ratio must be >= 0"))
	}

	for _, name := range c.TextFieldNames {
		if strings.TrimSpace(name) == "" {
			allErrors = append(allErrors, fmt.Errorf("text_field_names cannot contain empty names"))
			break
		}
	}

	if c.ExpandVocab && c.PretrainedFile == "" {
		allErrors = append(allErrors, fmt.Errorf("expand_vocab requires pretrained_file"))
	}
	if c.VocabDir != "" && c.PretrainedFile != "" {
		allErrors = append(allErrors, fmt.Errorf("vocab_dir and pretrained_file cannot both be set"))
	}

	return errors.Join(allErrors...)
}

func (c *PrepConfig) WriteBagOfWords() bool {
	return c.Encoding == EncodingBow
}

// PretrainedName is the pretrained vocabulary file name without its extension.
func (c *PrepConfig) PretrainedName() string {
	if c.PretrainedFile == "" {
		return ""
	}
	name := filepath.Base(c.PretrainedFile)
	return strings.TrimSuffix(name, filepath.Ext(name))
}

// OutputDirName names the record directory for this configuration, e.g.
// min_0_max_-1_vocab_10000, with a _<pretrained>_init or _<pretrained>_expand
// suffix when a pretrained vocabulary is used.
func (c *PrepConfig) OutputDirName() string {
	name := fmt.Sprintf("min_%d_max_%d_vocab_%d", c.MinFrequency, *c.MaxFrequency, c.MaxVocabSize)
	if c.PretrainedFile == "" {
		return name
	}
	if c.ExpandVocab {
		return name + "_" + c.PretrainedName() + "_expand"
	}
	return name + "_" + c.PretrainedName() + "_init"
}
