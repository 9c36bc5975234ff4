package dataset

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"mtl_platform/storage"
	"mtl_platform/utils/logging"
	"path/filepath"
	"slices"
	"strings"
)

const (
	PadToken = "<PAD>"
	UnkToken = "<UNK>"

	PadID = 0
	UnkID = 1
)

// Vocabulary is a frozen token <-> id mapping. Ids 0 and 1 are always the
// padding and unknown tokens, real tokens start at 2.
type Vocabulary struct {
	freq   *FreqDict
	ids    map[string]int
	tokens []string
}

func newVocabulary(freq *FreqDict, tokens []string) *Vocabulary {
	v := &Vocabulary{
		freq:   freq,
		ids:    make(map[string]int, len(tokens)+2),
		tokens: make([]string, 0, len(tokens)+2),
	}
	v.add(PadToken)
	v.add(UnkToken)
	for _, token := range tokens {
		v.add(token)
	}
	return v
}

func (v *Vocabulary) add(token string) {
	if _, ok := v.ids[token]; ok {
		return
	}
	v.ids[token] = len(v.tokens)
	v.tokens = append(v.tokens, token)
}

// Trim freezes freq into a vocabulary. Tokens with count <= minFrequency, or
// count >= maxFrequency when maxFrequency != -1, are dropped. A positive
// maxVocabSize keeps only that many of the most frequent remaining tokens.
// Ids follow the first-seen order of freq.
func Trim(freq *FreqDict, minFrequency, maxFrequency, maxVocabSize int) *Vocabulary {
	kept := make([]string, 0, freq.Len())
	for _, token := range freq.tokens {
		count := freq.counts[token]
		if count <= minFrequency {
			continue
		}
		if maxFrequency != -1 && count >= maxFrequency {
			continue
		}
		kept = append(kept, token)
	}

	if maxVocabSize > 0 && len(kept) > maxVocabSize {
		byCount := slices.Clone(kept)
		slices.SortStableFunc(byCount, func(a, b string) int {
			return freq.counts[b] - freq.counts[a]
		})
		top := make(map[string]bool, maxVocabSize)
		for _, token := range byCount[:maxVocabSize] {
			top[token] = true
		}
		kept = slices.DeleteFunc(kept, func(token string) bool { return !top[token] })
	}

	slog.Debug("trimmed vocabulary", "tokens", freq.Len(), "kept", len(kept), "min_frequency", minFrequency, "max_frequency", maxFrequency, "code", logging.VOCAB_BUILD)

	return newVocabulary(freq, kept)
}

// FromPretrained builds a vocabulary out of a pretrained token list. Without
// expand only the pretrained tokens are used (the first maxVocabSize of them
// when maxVocabSize > 0). With expand, the tokens of trimmed that the
// pretrained list lacks are appended after it.
func FromPretrained(pretrained []string, trimmed *Vocabulary, maxVocabSize int, expand bool) *Vocabulary {
	tokens := pretrained
	if maxVocabSize > 0 && len(tokens) > maxVocabSize {
		tokens = tokens[:maxVocabSize]
	}

	v := newVocabulary(trimmed.freq, tokens)
	if expand {
		for _, token := range trimmed.tokens[2:] {
			v.add(token)
		}
	}
	return v
}

// LoadPretrainedTokens reads a text vocabulary with one entry per line, such as
// a glove vector file, keeping the first whitespace field of each line.
func LoadPretrainedTokens(r io.Reader) ([]string, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	seen := make(map[string]bool)
	tokens := make([]string, 0)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		token := fields[0]
		if token == PadToken || token == UnkToken || seen[token] {
			continue
		}
		seen[token] = true
		tokens = append(tokens, token)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading pretrained vocabulary: %w", err)
	}
	return tokens, nil
}

func LoadPretrainedFile(store storage.Storage, path string) ([]string, error) {
	file, err := store.Read(path)
	if err != nil {
		return nil, fmt.Errorf("%w: cannot open pretrained vocabulary: %v", ErrInvalidConfig, err)
	}
	defer file.Close()

	tokens, err := LoadPretrainedTokens(file)
	if err != nil {
		return nil, err
	}
	slog.Info("loaded pretrained vocabulary", "path", path, "tokens", len(tokens), "code", logging.VOCAB_LOAD)
	return tokens, nil
}

// Size counts the reserved ids too.
func (v *Vocabulary) Size() int {
	return len(v.tokens)
}

func (v *Vocabulary) Freq() *FreqDict {
	return v.freq
}

// ID returns the id of token, UnkID when it is not in the vocabulary.
func (v *Vocabulary) ID(token string) int {
	if id, ok := v.ids[token]; ok {
		return id
	}
	return UnkID
}

func (v *Vocabulary) Contains(token string) bool {
	_, ok := v.ids[token]
	return ok
}

func (v *Vocabulary) Token(id int) (string, bool) {
	if id < 0 || id >= len(v.tokens) {
		return "", false
	}
	return v.tokens[id], true
}

// Map converts text to exactly maxLen ids, truncating or right padding with
// PadID.
func (v *Vocabulary) Map(text string, maxLen int) []int64 {
	ids := make([]int64, maxLen)
	for i, token := range Tokenize(text) {
		if i >= maxLen {
			break
		}
		ids[i] = int64(v.ID(token))
	}
	return ids
}

// Tokens maps ids back to tokens, dropping padding.
func (v *Vocabulary) Tokens(ids []int64) []string {
	tokens := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == PadID {
			continue
		}
		token, ok := v.Token(int(id))
		if !ok {
			token = UnkToken
		}
		tokens = append(tokens, token)
	}
	return tokens
}

// BagOfWords returns a vocabSize vector holding the count of every non padding
// id in ids.
func BagOfWords(ids []int64, vocabSize int) []float32 {
	bow := make([]float32, vocabSize)
	for _, id := range ids {
		if id == PadID || id < 0 || int(id) >= vocabSize {
			continue
		}
		bow[id]++
	}
	return bow
}

func FreqDictFile(minFrequency int) string {
	return fmt.Sprintf("vocab_freq_dict_%d.json", minFrequency)
}

func V2iFile(minFrequency int) string {
	return fmt.Sprintf("vocab_v2i_dict_%d.json", minFrequency)
}

func I2vFile(minFrequency int) string {
	return fmt.Sprintf("vocab_i2v_list_%d.json", minFrequency)
}

// BasicFreqDictFile holds the untrimmed train split counts used for merging.
const BasicFreqDictFile = "vocab_freq_dict.json"

func SaveFreqDict(store storage.Storage, path string, freq *FreqDict) error {
	if err := writeJSON(store, path, freq); err != nil {
		slog.Error("error saving frequency dict", "path", path, "error", err, "code", logging.VOCAB_BUILD)
		return err
	}
	return nil
}

func LoadFreqDict(store storage.Storage, path string) (*FreqDict, error) {
	freq := NewFreqDict()
	if err := readJSON(store, path, freq); err != nil {
		slog.Error("error loading frequency dict", "path", path, "error", err, "code", logging.VOCAB_LOAD)
		return nil, err
	}
	return freq, nil
}

// SaveVocabulary writes the frequency dict, the token -> id mapping and the
// id -> token list of v into dir as three separate files.
func SaveVocabulary(store storage.Storage, dir string, minFrequency int, v *Vocabulary) error {
	if err := SaveFreqDict(store, filepath.Join(dir, FreqDictFile(minFrequency)), v.freq); err != nil {
		return err
	}
	if err := writeJSON(store, filepath.Join(dir, V2iFile(minFrequency)), v.ids); err != nil {
		slog.Error("error saving vocabulary mapping", "dir", dir, "error", err, "code", logging.VOCAB_BUILD)
		return err
	}
	if err := writeJSON(store, filepath.Join(dir, I2vFile(minFrequency)), v.tokens); err != nil {
		slog.Error("error saving reverse vocabulary mapping", "dir", dir, "error", err, "code", logging.VOCAB_BUILD)
		return err
	}
	slog.Info("saved vocabulary", "dir", dir, "vocab_size", v.Size(), "code", logging.VOCAB_BUILD)
	return nil
}

// LoadVocabulary rebuilds a vocabulary saved by SaveVocabulary and checks that
// the mapping and reverse mapping agree.
func LoadVocabulary(store storage.Storage, dir string, minFrequency int) (*Vocabulary, error) {
	freq, err := LoadFreqDict(store, filepath.Join(dir, FreqDictFile(minFrequency)))
	if err != nil {
		return nil, err
	}

	var ids map[string]int
	if err := readJSON(store, filepath.Join(dir, V2iFile(minFrequency)), &ids); err != nil {
		slog.Error("error loading vocabulary mapping", "dir", dir, "error", err, "code", logging.VOCAB_LOAD)
		return nil, err
	}

	var tokens []string
	if err := readJSON(store, filepath.Join(dir, I2vFile(minFrequency)), &tokens); err != nil {
		slog.Error("error loading reverse vocabulary mapping", "dir", dir, "error", err, "code", logging.VOCAB_LOAD)
		return nil, err
	}

	if len(tokens) < 2 || tokens[PadID] != PadToken || tokens[UnkID] != UnkToken {
		return nil, fmt.Errorf("%w: vocabulary in %v is missing the reserved tokens", ErrInvalidConfig, dir)
	}
	if len(ids) != len(tokens) {
		return nil, fmt.Errorf("%w: vocabulary in %v has %d ids but %d tokens", ErrInvalidConfig, dir, len(ids), len(tokens))
	}
	for id, token := range tokens {
		if ids[token] != id {
			return nil, fmt.Errorf("%w: vocabulary in %v maps %q to %d, reverse list has it at %d", ErrInvalidConfig, dir, token, ids[token], id)
		}
	}

	return &Vocabulary{freq: freq, ids: ids, tokens: tokens}, nil
}
