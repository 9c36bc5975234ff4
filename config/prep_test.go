package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrepConfigDefaults(t *testing.T) {
	var cfg PrepConfig
	require.NoError(t, cfg.Validate())

	assert.Equal(t, -1, *cfg.MaxFrequency)
	assert.Equal(t, 0.8, *cfg.TrainRatio)
	assert.Equal(t, 0.1, *cfg.ValidRatio)
	assert.Equal(t, int64(42), *cfg.RandomSeed)
	assert.True(t, *cfg.Preproc)
	assert.Equal(t, EncodingNone, cfg.Encoding)
	assert.False(t, cfg.WriteBagOfWords())
	assert.Equal(t, "min_0_max_-1_vocab_0", cfg.OutputDirName())
}

func TestPrepConfigLegacyWriteBow(t *testing.T) {
	cfg := PrepConfig{WriteBow: true}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, EncodingBow, cfg.Encoding)
	assert.True(t, cfg.WriteBagOfWords())
}

func TestPrepConfigValidationErrors(t *testing.T) {
	maxFreq := 2
	train := 0.9
	valid := 0.2
	cfg := PrepConfig{
		MinFrequency: 1,
		MaxFrequency: &maxFreq,
		TrainRatio:   &train,
		ValidRatio:   &valid,
		Encoding:     "tfidf",
		ExpandVocab:  true,
	}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid encoding")
	assert.Contains(t, err.Error(), "max_frequency")
	assert.Contains(t, err.Error(), "sum to at most 1")
	assert.Contains(t, err.Error(), "expand_vocab requires pretrained_file")
}

func TestOutputDirNamePretrained(t *testing.T) {
	cfg := PrepConfig{PretrainedFile: "/vectors/glove.6B.txt", MaxVocabSize: 500}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "glove.6B", cfg.PretrainedName())
	assert.Equal(t, "min_0_max_-1_vocab_500_glove.6B_init", cfg.OutputDirName())

	cfg.ExpandVocab = true
	assert.Equal(t, "min_0_max_-1_vocab_500_glove.6B_expand", cfg.OutputDirName())
}

func TestLoadPrepConfigJsonAndYaml(t *testing.T) {
	dir := t.TempDir()

	jsonPath := filepath.Join(dir, "args_IMDB.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`{
		"text_field_names": ["title", "description"],
		"label_field_name": "stars",
		"min_frequency": 1,
		"max_frequency": 100,
		"max_vocab_size": 1000,
		"train_ratio": 0.7,
		"valid_ratio": 0,
		"random_seed": 7,
		"encoding": "bow"
	}`), 0666))

	cfg, err := LoadPrepConfig(jsonPath)
	require.NoError(t, err)
	assert.Equal(t, []string{"title", "description"}, cfg.TextFieldNames)
	assert.Equal(t, "stars", cfg.LabelFieldName)
	assert.Equal(t, 100, *cfg.MaxFrequency)
	assert.Equal(t, 0.7, *cfg.TrainRatio)
	assert.Equal(t, 0.0, *cfg.ValidRatio)
	assert.Equal(t, int64(7), *cfg.RandomSeed)
	assert.True(t, cfg.WriteBagOfWords())
	assert.Equal(t, "min_1_max_100_vocab_1000", cfg.OutputDirName())

	yamlPath := filepath.Join(dir, "args_merged.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte("min_frequency: 2\npreproc: false\nscale_ratio: 0.5\n"), 0666))

	cfg, err = LoadPrepConfig(yamlPath)
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.MinFrequency)
	assert.False(t, *cfg.Preproc)
	assert.Equal(t, 0.5, cfg.ScaleRatio)
}

func TestLoadPrepConfigMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "args.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"min_frequency": `), 0666))

	_, err := LoadPrepConfig(path)
	assert.Error(t, err)
}

func TestLoadPrepConfigLegacyKeys(t *testing.T) {
	dir := t.TempDir()

	path := filepath.Join(dir, "args_SSTb.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"min_frequency": 0,
		"max_frequency": -1,
		"subsample_ratio": 0.1,
		"padding": true,
		"write_bow": true,
		"write_tfidf": false,
		"tokenizer": "tweet_tokenizer"
	}`), 0666))

	cfg, err := LoadPrepConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 0.1, cfg.ScaleRatio)
	assert.Equal(t, EncodingBow, cfg.Encoding)

	for _, content := range []string{
		`{"write_tfidf": true}`,
		`{"padding": false}`,
		`{"tokenizer": "whitespace"}`,
		`{"scale_ratio": 0.5, "subsample_ratio": 0.1}`,
	} {
		require.NoError(t, os.WriteFile(path, []byte(content), 0666))
		_, err := LoadPrepConfig(path)
		assert.Error(t, err, content)
	}
}

func TestLoadPrepConfigUnknownKeys(t *testing.T) {
	dir := t.TempDir()

	jsonPath := filepath.Join(dir, "args.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`{"min_frequency": 1, "subsample": 0.1}`), 0666))
	_, err := LoadPrepConfig(jsonPath)
	assert.ErrorContains(t, err, "subsample")

	yamlPath := filepath.Join(dir, "args.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte("min_frequency: 1\nvocab_size: 10\n"), 0666))
	_, err = LoadPrepConfig(yamlPath)
	assert.ErrorContains(t, err, "vocab_size")

	require.NoError(t, os.WriteFile(yamlPath, []byte(""), 0666))
	cfg, err := LoadPrepConfig(yamlPath)
	require.NoError(t, err)
	assert.Equal(t, -1, *cfg.MaxFrequency)
}

func TestPrepConfigVocabDirExcludesPretrained(t *testing.T) {
	cfg := PrepConfig{VocabDir: "shared", PretrainedFile: "glove.txt"}
	assert.ErrorContains(t, cfg.Validate(), "vocab_dir and pretrained_file")

	cfg = PrepConfig{VocabDir: "shared"}
	assert.NoError(t, cfg.Validate())
}

func TestLoadPrepEnv(t *testing.T) {
	t.Setenv("MTL_DATA_ROOT", "/srv/data")
	t.Setenv("MTL_LOG_LEVEL", "debug")

	env, err := LoadPrepEnv()
	require.NoError(t, err)
	assert.Equal(t, "/srv/data", env.DataRoot)
	assert.Equal(t, "debug", env.LogLevel)
	assert.Equal(t, "data/json", env.JsonDir)
	assert.Equal(t, "data/tf", env.RecordDir)
	assert.Empty(t, env.RegistryDb)
}

func TestLoadRegistryEnvRequiresSecret(t *testing.T) {
	t.Setenv("MTL_JWT_SECRET", "")
	_, err := LoadRegistryEnv()
	assert.Error(t, err)

	t.Setenv("MTL_JWT_SECRET", "s3cret")
	env, err := LoadRegistryEnv()
	require.NoError(t, err)
	assert.Equal(t, "registry.db", env.RegistryDb)
}
