package dataset

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClean(t *testing.T) {
	c := NewCleaner()

	assert.Equal(t,
		"check this out ! ! ! <url> <user> fun <num> sooo do n't",
		c.Clean("Check THIS out!!! http://x.co/abc @bob #fun 2024 soooooo don't"),
	)
	assert.Equal(t, "it 's great , really", c.Clean("  It's   great,\treally "))
	assert.Equal(t, "fi", c.Clean("ﬁ"))
	assert.Equal(t, "", c.Clean("   "))
}

func TestSqueezeRepeats(t *testing.T) {
	assert.Equal(t, "sooo", squeezeRepeats("soooooo", 3))
	assert.Equal(t, "aab", squeezeRepeats("aab", 3))
	assert.Equal(t, "ééé", squeezeRepeats("ééééé", 3))
}

func TestJoinFields(t *testing.T) {
	assert.Equal(t, "title body", JoinFields([]string{"title", "body"}))
	assert.Equal(t, "only", JoinFields([]string{"only"}))
}
