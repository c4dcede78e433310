package adapter

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "nerdalert/pkg/logx"
)

func TestSplitTelegramText(t *testing.T) {
	t.Parallel()
	assert.Equal(t, []string{"short"}, splitTelegramText("short", 10))

	lines := strings.Repeat("abcdefgh\n", 5) // 45 runes
	chunks := splitTelegramText(lines, 20)
	for _, c := range chunks {
		assert.LessOrEqual(t, len([]rune(c)), 20)
		assert.False(t, strings.HasPrefix(c, "\n"))
	}
	assert.Equal(t, strings.TrimRight(lines, "\n"), strings.Join(chunks, "\n"))

	// no newline: hard cut on the limit
	chunks = splitTelegramText(strings.Repeat("é", 25), 10)
	require.Len(t, chunks, 3)
	assert.Equal(t, strings.Repeat("é", 5), chunks[2])
}

func TestNewRequiresToken(t *testing.T) {
	t.Parallel()
	_, err := New(Config{Token: "  "}, logx.Nop())
	assert.Error(t, err)
}
