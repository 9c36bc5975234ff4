package dataset

import (
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

const (
	URLToken     = "<url>"
	MentionToken = "<user>"
	NumberToken  = "<num>"
)

var (
	urlRe         = regexp.MustCompile(`(?i)\b(?:https?://|www\.)\S+`)
	mentionRe     = regexp.MustCompile(`@\w+`)
	hashtagRe     = regexp.MustCompile(`#(\w+)`)
	numberRe      = regexp.MustCompile(`\b\d+(?:[.,]\d+)*\b`)
	contractionRe = regexp.MustCompile(`(\w)('s|'re|'ve|'d|'ll|'m|n't)\b`)
	punctRe       = regexp.MustCompile(`([^\p{L}\p{N}\s'<>])`)
)

// Cleaner normalizes raw social media style text into whitespace separated
// tokens.
type Cleaner struct {
	lower cases.Caser
}

func NewCleaner() *Cleaner {
	return &Cleaner{lower: cases.Lower(language.Und)}
}

func (c *Cleaner) Clean(text string) string {
	text = norm.NFKC.String(text)
	text = c.lower.String(text)

	text = urlRe.ReplaceAllString(text, " "+URLToken+" ")
	text = mentionRe.ReplaceAllString(text, " "+MentionToken+" ")
	text = hashtagRe.ReplaceAllString(text, " $1 ")
	text = numberRe.ReplaceAllString(text, " "+NumberToken+" ")
	text = squeezeRepeats(text, 3)
	text = contractionRe.ReplaceAllString(text, "$1 $2")
	text = punctRe.ReplaceAllString(text, " $1 ")

	return strings.Join(strings.Fields(text), " ")
}

// squeezeRepeats shortens every run of the same rune to at most limit runes,
// so "soooooo" and "sooo" become one token.
func squeezeRepeats(text string, limit int) string {
	var b strings.Builder
	b.Grow(len(text))

	var prev rune
	run := 0
	for _, r := range text {
		if r == prev {
			run++
		} else {
			prev, run = r, 1
		}
		if run <= limit {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// JoinFields concatenates the text fields of one example with single spaces.
func JoinFields(fields []string) string {
	return strings.Join(fields, " ")
}
