package text

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 10))
	assert.Equal(t, "abc...", Truncate("abcdef", 3))
	assert.Equal(t, "abcdef", Truncate("abcdef", 0))
}

func TestTruncateKeepsRunes(t *testing.T) {
	s := strings.Repeat("仓", 4) // 每个 3 字节
	out := Truncate(s, 7)
	assert.Equal(t, "仓仓...", out)
}
