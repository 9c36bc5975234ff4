package dataset

import (
	"mtl_platform/config"
	"mtl_platform/storage"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readRecordFile(t *testing.T, path string) []Record {
	t.Helper()
	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()

	records, err := ReadRecords(file)
	require.NoError(t, err)
	return records
}

func TestPrepareSingleDataset(t *testing.T) {
	root := t.TempDir()
	store := storage.NewSharedDisk(root)
	writeDataset(t, root, "imdb", makeItems(20, 0), nil)

	cfg := testConfig(t, nil)
	meta, err := Prepare(store, "imdb", "out", cfg)
	require.NoError(t, err)

	assert.Equal(t, "imdb", meta.Dataset)
	assert.Equal(t, 2, meta.NumClasses)
	assert.Equal(t, 5, meta.MaxDocumentLength)
	assert.Equal(t, []int{16, 2, 2}, []int{meta.TrainSize, meta.ValidSize, meta.TestSize})
	assert.Equal(t, int64(42), meta.RandomSeed)
	assert.Equal(t, -1, meta.MaxFrequency)
	assert.Equal(t, VocabPrivate, meta.VocabSource)

	out := filepath.Join(root, "out")
	for _, file := range []string{"train.tf", "valid.tf", "test.tf", MetadataFile, VocabSizeFile, FreqDictFile(0), V2iFile(0), I2vFile(0)} {
		assert.FileExists(t, filepath.Join(out, file))
	}

	loaded, err := LoadMetadata(store, "out")
	require.NoError(t, err)
	assert.Equal(t, meta, loaded)

	size, err := os.ReadFile(filepath.Join(out, VocabSizeFile))
	require.NoError(t, err)
	vocab, err := LoadVocabulary(store, "out", 0)
	require.NoError(t, err)
	assert.Equal(t, vocab.Size(), meta.VocabSize)
	assert.Equal(t, strconv.Itoa(meta.VocabSize), strings.TrimSpace(string(size)))

	train := readRecordFile(t, filepath.Join(out, "train.tf"))
	require.Len(t, train, 16)
	for _, record := range train {
		assert.Len(t, record.TokenIDs, 5)
		assert.Nil(t, record.BOW)
	}
	assert.Len(t, readRecordFile(t, filepath.Join(out, "valid.tf")), 2)
	assert.Len(t, readRecordFile(t, filepath.Join(out, "test.tf")), 2)
}

func TestPrepareIsIdempotent(t *testing.T) {
	root := t.TempDir()
	store := storage.NewSharedDisk(root)
	writeDataset(t, root, "sst", makeItems(30, 3), nil)

	cfg := testConfig(t, func(cfg *config.PrepConfig) { cfg.Encoding = config.EncodingBow })

	_, err := Prepare(store, "sst", "out1", cfg)
	require.NoError(t, err)
	_, err = Prepare(store, "sst", "out2", cfg)
	require.NoError(t, err)

	for _, file := range []string{"train.tf", "valid.tf", "test.tf", V2iFile(0), I2vFile(0), FreqDictFile(0)} {
		first, err := os.ReadFile(filepath.Join(root, "out1", file))
		require.NoError(t, err)
		second, err := os.ReadFile(filepath.Join(root, "out2", file))
		require.NoError(t, err)
		assert.Equal(t, first, second, file)
	}

	vocab, err := LoadVocabulary(store, "out1", 0)
	require.NoError(t, err)
	for _, record := range readRecordFile(t, filepath.Join(root, "out1", "train.tf")) {
		require.Len(t, record.BOW, vocab.Size())
		assert.Equal(t, BagOfWords(record.TokenIDs, vocab.Size()), record.BOW)
	}
}

func TestDatasetStageOrder(t *testing.T) {
	root := t.TempDir()
	store := storage.NewSharedDisk(root)
	writeDataset(t, root, "ag", makeItems(10, 0), nil)
	cfg := testConfig(t, nil)

	d, err := Load(store, "ag", cfg)
	require.NoError(t, err)
	assert.Equal(t, StageLoaded, d.Stage())

	_, err = d.WriteRecords("out")
	assert.ErrorIs(t, err, ErrBadStage)
	assert.ErrorIs(t, d.BuildVocabulary("out"), ErrBadStage)

	require.NoError(t, d.Split())
	assert.ErrorIs(t, d.Split(), ErrBadStage)

	_, err = d.WriteBasicVocab("single")
	require.NoError(t, err)
	assert.Equal(t, StageVocabOnly, d.Stage())

	assert.ErrorIs(t, d.UseVocabulary(sampleVocab(), VocabShared), ErrBadStage)
	_, err = d.WriteRecords("out")
	assert.ErrorIs(t, err, ErrBadStage)
}

func TestDatasetUsesGivenVocabulary(t *testing.T) {
	root := t.TempDir()
	store := storage.NewSharedDisk(root)
	writeDataset(t, root, "ag", makeItems(10, 0), nil)
	cfg := testConfig(t, func(cfg *config.PrepConfig) { cfg.MaxDocumentLength = 3 })

	d, err := Load(store, "ag", cfg)
	require.NoError(t, err)
	require.NoError(t, d.Split())
	assert.Equal(t, 3, d.MaxDocumentLength())

	shared := Trim(BuildFreqDict([]string{"good movie"}), 0, -1, 0)
	require.NoError(t, d.UseVocabulary(shared, VocabShared))

	meta, err := d.WriteRecords("out")
	require.NoError(t, err)
	assert.Equal(t, 4, meta.VocabSize)
	assert.Equal(t, VocabShared, meta.VocabSource)

	for _, record := range readRecordFile(t, filepath.Join(root, "out", "train.tf")) {
		require.Len(t, record.TokenIDs, 3)
		for _, id := range record.TokenIDs {
			assert.Less(t, id, int64(4))
		}
	}
}

func TestPrepareWithSavedVocabulary(t *testing.T) {
	root := t.TempDir()
	store := storage.NewSharedDisk(root)
	writeDataset(t, root, "imdb", makeItems(20, 0), nil)

	shared := Trim(BuildFreqDict([]string{"good movie plot"}), 0, -1, 0)
	require.NoError(t, SaveVocabulary(store, "sharedvocab", 0, shared))

	meta, err := Prepare(store, "imdb", "out", testConfig(t, func(cfg *config.PrepConfig) { cfg.VocabDir = "sharedvocab" }))
	require.NoError(t, err)
	assert.Equal(t, VocabShared, meta.VocabSource)
	assert.Equal(t, shared.Size(), meta.VocabSize)

	// the vocabulary is copied next to the records
	copied, err := LoadVocabulary(store, "out", 0)
	require.NoError(t, err)
	assert.Equal(t, shared.Size(), copied.Size())
	assert.Equal(t, shared.ID("plot"), copied.ID("plot"))

	for _, record := range readRecordFile(t, filepath.Join(root, "out", "train.tf")) {
		for _, id := range record.TokenIDs {
			assert.Less(t, id, int64(shared.Size()))
		}
	}
}

func TestPrepareWithSavedBasicVocabulary(t *testing.T) {
	root := t.TempDir()
	store := storage.NewSharedDisk(root)
	writeDataset(t, root, "imdb", makeItems(20, 0), nil)

	require.NoError(t, SaveFreqDict(store, filepath.Join("basic", BasicFreqDictFile), freqOf("good", 3, "movie", 1, "plot", 2)))

	cfg := testConfig(t, func(cfg *config.PrepConfig) {
		cfg.VocabDir = "basic"
		cfg.MinFrequency = 1
	})
	meta, err := Prepare(store, "imdb", "out", cfg)
	require.NoError(t, err)
	assert.Equal(t, VocabShared, meta.VocabSource)
	// movie is trimmed by min_frequency
	assert.Equal(t, 4, meta.VocabSize)

	vocab, err := LoadVocabulary(store, "out", 1)
	require.NoError(t, err)
	assert.False(t, vocab.Contains("movie"))
	assert.True(t, vocab.Contains("good"))

	_, err = Prepare(store, "imdb", "out2", testConfig(t, func(cfg *config.PrepConfig) { cfg.VocabDir = "missing" }))
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestGivenSplitIsAuthoritative(t *testing.T) {
	root := t.TempDir()
	store := storage.NewSharedDisk(root)
	writeDataset(t, root, "gold", makeItems(20, 0), map[string][]int{
		"train": lo.Range(16),
		"test":  lo.RangeFrom(16, 4),
	})
	cfg := testConfig(t, nil)

	d, err := Load(store, "gold", cfg)
	require.NoError(t, err)
	require.NoError(t, d.Split())

	s := d.Splits()
	assert.Len(t, s.Valid, 1)
	assert.Len(t, s.Train, 15)
	assert.Equal(t, lo.RangeFrom(16, 4), s.Test)
	assert.Subset(t, lo.Range(16), s.Valid)
}

func TestGivenSplitOverlapIsFatal(t *testing.T) {
	root := t.TempDir()
	store := storage.NewSharedDisk(root)
	writeDataset(t, root, "bad", makeItems(5, 0), map[string][]int{
		"train": {0, 1, 2},
		"valid": {2},
		"test":  {3, 4},
	})

	d, err := Load(store, "bad", testConfig(t, nil))
	require.NoError(t, err)
	err = d.Split()
	assert.ErrorIs(t, err, ErrInvalidSplit)
	assert.Contains(t, err.Error(), "index 2")
}

func TestFieldOverrides(t *testing.T) {
	root := t.TempDir()
	store := storage.NewSharedDisk(root)

	items := []map[string]interface{}{
		{"title": "Great", "body": "loved it", "stars": 1},
		{"title": "Awful", "body": "hated it", "stars": 0},
	}
	writeDataset(t, root, "reviews", items, nil)
	require.NoError(t, os.WriteFile(filepath.Join(root, "reviews", LabelFieldNameFile), []byte("stars\n"), 0666))
	require.NoError(t, os.WriteFile(filepath.Join(root, "reviews", TextFieldNamesFile), []byte("title body\n"), 0666))

	d, err := Load(store, "reviews", testConfig(t, nil))
	require.NoError(t, err)
	assert.Equal(t, "great loved it", d.Examples()[0].Text)
	assert.Equal(t, 0, d.Examples()[1].Label)

	// configured fields win over the override files
	d, err = Load(store, "reviews", testConfig(t, func(cfg *config.PrepConfig) {
		cfg.TextFieldNames = []string{"body"}
		cfg.Preproc = lo.ToPtr(false)
	}))
	require.NoError(t, err)
	assert.Equal(t, "loved it", d.Examples()[0].Text)
}

func TestLoadErrors(t *testing.T) {
	root := t.TempDir()
	store := storage.NewSharedDisk(root)

	writeDataset(t, root, "nolabel", []map[string]interface{}{{"text": "hi"}}, nil)
	_, err := Load(store, "nolabel", testConfig(t, nil))
	assert.ErrorIs(t, err, ErrInvalidConfig)

	writeDataset(t, root, "notext", []map[string]interface{}{{"label": 1}}, nil)
	_, err = Load(store, "notext", testConfig(t, nil))
	assert.ErrorIs(t, err, ErrInvalidConfig)

	writeGzFile(t, filepath.Join(root, "malformed", DataFile), []byte(`[{"text": "hi", "label": `))
	_, err = Load(store, "malformed", testConfig(t, nil))
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = Load(store, "missing", testConfig(t, nil))
	assert.Error(t, err)
}

func TestWriteBasicVocabReuse(t *testing.T) {
	root := t.TempDir()
	store := storage.NewSharedDisk(root)
	writeDataset(t, root, "ds", makeItems(10, 0), nil)

	run := func(reuse bool) *FreqDict {
		d, err := Load(store, "ds", testConfig(t, func(cfg *config.PrepConfig) { cfg.ReuseExisting = reuse }))
		require.NoError(t, err)
		require.NoError(t, d.Split())
		freq, err := d.WriteBasicVocab("ds/single")
		require.NoError(t, err)
		return freq
	}

	computed := run(false)
	assert.Greater(t, computed.Len(), 0)

	stale := freqOf("stale", 1)
	require.NoError(t, SaveFreqDict(store, "ds/single/"+BasicFreqDictFile, stale))

	assert.True(t, run(true).Equal(stale))
	assert.True(t, run(false).Equal(computed))

	saved, err := LoadFreqDict(store, "ds/single/"+BasicFreqDictFile)
	require.NoError(t, err)
	assert.True(t, saved.Equal(computed))
}

func TestWriteBasicVocabReuseChecksSource(t *testing.T) {
	root := t.TempDir()
	store := storage.NewSharedDisk(root)
	writeDataset(t, root, "ds", makeItems(10, 0), nil)

	run := func(modify func(cfg *config.PrepConfig)) *FreqDict {
		d, err := Load(store, "ds", testConfig(t, func(cfg *config.PrepConfig) {
			cfg.ReuseExisting = true
			modify(cfg)
		}))
		require.NoError(t, err)
		require.NoError(t, d.Split())
		freq, err := d.WriteBasicVocab("ds/single")
		require.NoError(t, err)
		return freq
	}
	path := filepath.Join("ds", "single", BasicFreqDictFile)

	run(func(cfg *config.PrepConfig) {})
	stale := freqOf("stale", 1)
	require.NoError(t, SaveFreqDict(store, path, stale))

	// same examples, the saved dict is kept
	assert.True(t, run(func(cfg *config.PrepConfig) {}).Equal(stale))

	// another seed picks another train split
	reseeded := run(func(cfg *config.PrepConfig) { cfg.RandomSeed = lo.ToPtr(int64(7)) })
	assert.False(t, reseeded.Equal(stale))
	saved, err := LoadFreqDict(store, path)
	require.NoError(t, err)
	assert.True(t, saved.Equal(reseeded))

	require.NoError(t, SaveFreqDict(store, path, stale))
	assert.False(t, run(func(cfg *config.PrepConfig) {
		cfg.RandomSeed = lo.ToPtr(int64(7))
		cfg.VocabAll = true
	}).Equal(stale))

	require.NoError(t, SaveFreqDict(store, path, stale))
	assert.False(t, run(func(cfg *config.PrepConfig) {
		cfg.VocabAll = true
		cfg.Preproc = lo.ToPtr(false)
	}).Equal(stale))

	// a dict without a recorded source is recounted
	require.NoError(t, store.Delete(filepath.Join("ds", "single", BasicFreqSourceFile)))
	require.NoError(t, SaveFreqDict(store, path, stale))
	assert.False(t, run(func(cfg *config.PrepConfig) {}).Equal(stale))
}

func TestVocabAllUsesEveryExample(t *testing.T) {
	root := t.TempDir()
	store := storage.NewSharedDisk(root)
	writeDataset(t, root, "ds", makeItems(12, 0), map[string][]int{
		"train": {0},
		"valid": {1},
		"test":  lo.RangeFrom(2, 10),
	})

	d, err := Load(store, "ds", testConfig(t, func(cfg *config.PrepConfig) { cfg.VocabAll = true }))
	require.NoError(t, err)
	require.NoError(t, d.Split())
	freq, err := d.WriteBasicVocab("single")
	require.NoError(t, err)

	all := BuildFreqDict(lo.Map(d.Examples(), func(e Example, _ int) string { return e.Text }))
	assert.True(t, freq.Equal(all))
}
