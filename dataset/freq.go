package dataset

import (
	"fmt"
	"strings"

	"github.com/goccy/go-json"
)

// FreqDict counts tokens while remembering the order in which each token was
// first seen. That order decides id assignment when the dict is trimmed.
type FreqDict struct {
	tokens []string
	counts map[string]int
}

func NewFreqDict() *FreqDict {
	return &FreqDict{counts: make(map[string]int)}
}

func (d *FreqDict) Add(token string, count int) {
	if _, ok := d.counts[token]; !ok {
		d.tokens = append(d.tokens, token)
	}
	d.counts[token] += count
}

func (d *FreqDict) Count(token string) int {
	return d.counts[token]
}

func (d *FreqDict) Contains(token string) bool {
	_, ok := d.counts[token]
	return ok
}

func (d *FreqDict) Len() int {
	return len(d.tokens)
}

// Tokens returns the tokens in first-seen order.
func (d *FreqDict) Tokens() []string {
	return append([]string{}, d.tokens...)
}

// Equal reports whether both dicts hold the same counts, ignoring order.
func (d *FreqDict) Equal(other *FreqDict) bool {
	if d.Len() != other.Len() {
		return false
	}
	for token, count := range d.counts {
		if c, ok := other.counts[token]; !ok || c != count {
			return false
		}
	}
	return true
}

func (d *FreqDict) Clone() *FreqDict {
	out := NewFreqDict()
	for _, token := range d.tokens {
		out.Add(token, d.counts[token])
	}
	return out
}

// Tokenize splits cleaned text on whitespace.
func Tokenize(text string) []string {
	return strings.Fields(text)
}

// BuildFreqDict counts every whitespace token of texts. No trimming happens here.
func BuildFreqDict(texts []string) *FreqDict {
	dict := NewFreqDict()
	for _, text := range texts {
		for _, token := range Tokenize(text) {
			dict.Add(token, 1)
		}
	}
	return dict
}

// MergeFreqDicts returns the union of a and b with counts summed. Tokens keep
// a's order followed by the tokens only b has, in b's order.
func MergeFreqDicts(a, b *FreqDict) *FreqDict {
	out := a.Clone()
	for _, token := range b.tokens {
		out.Add(token, b.counts[token])
	}
	return out
}

func MergeAll(dicts ...*FreqDict) *FreqDict {
	out := NewFreqDict()
	for _, dict := range dicts {
		out = MergeFreqDicts(out, dict)
	}
	return out
}

// The json form is a list of [token, count] pairs so the order survives a
// round trip.
func (d *FreqDict) MarshalJSON() ([]byte, error) {
	pairs := make([][2]interface{}, 0, len(d.tokens))
	for _, token := range d.tokens {
		pairs = append(pairs, [2]interface{}{token, d.counts[token]})
	}
	return json.Marshal(pairs)
}

func (d *FreqDict) UnmarshalJSON(data []byte) error {
	var pairs []json.RawMessage
	if err := json.Unmarshal(data, &pairs); err != nil {
		return fmt.Errorf("error decoding frequency dict: %w", err)
	}

	d.tokens = make([]string, 0, len(pairs))
	d.counts = make(map[string]int, len(pairs))
	for i, raw := range pairs {
		var pair []json.RawMessage
		if err := json.Unmarshal(raw, &pair); err != nil || len(pair) != 2 {
			return fmt.Errorf("error decoding frequency dict entry %d: expected [token, count]", i)
		}
		var token string
		var count int
		if err := json.Unmarshal(pair[0], &token); err != nil {
			return fmt.Errorf("error decoding token of entry %d: %w", i, err)
		}
		if err := json.Unmarshal(pair[1], &count); err != nil {
			return fmt.Errorf("error decoding count of entry %d: %w", i, err)
		}
		if _, ok := d.counts[token]; ok {
			return fmt.Errorf("duplicate token %q in frequency dict", token)
		}
		d.tokens = append(d.tokens, token)
		d.counts[token] = count
	}
	return nil
}
