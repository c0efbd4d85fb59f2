package synthesis

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memvault/memvault/pkg/memory"
)

func TestNormalize(t *testing.T) {
	ctx := context.Background()

	t.Run("valid metadata parses", func(t *testing.T) {
		result := Normalize(ctx, RawResult{
			Summary:      "  a summary  ",
			MetadataJSON: `{"name": "Ada"}`,
		})
		assert.Equal(t, "a summary", result.Summary)
		assert.Equal(t, "Ada", result.Metadata["name"])
	})

	t.Run("invalid metadata degrades to empty object", func(t *testing.T) {
		result := Normalize(ctx, RawResult{
			Summary:      "still usable",
			MetadataJSON: `{not json`,
		})
		assert.Equal(t, "still usable", result.Summary)
		assert.NotNil(t, result.Metadata)
		assert.Empty(t, result.Metadata)
	})

	t.Run("empty metadata string degrades to empty object", func(t *testing.T) {
		result := Normalize(ctx, RawResult{Summary: "s"})
		assert.NotNil(t, result.Metadata)
		assert.Empty(t, result.Metadata)
	})

	t.Run("JSON null metadata degrades to empty object", func(t *testing.T) {
		result := Normalize(ctx, RawResult{MetadataJSON: "null"})
		assert.NotNil(t, result.Metadata)
	})

	t.Run("memories are trimmed and blanks dropped", func(t *testing.T) {
		result := Normalize(ctx, RawResult{
			ExtractedMemories: []string{" I like tennis ", "", "   ", "I live in Lisbon"},
		})
		assert.Equal(t, []string{"I like tennis", "I live in Lisbon"}, result.ExtractedMemories)
	})

	t.Run("memories are capped", func(t *testing.T) {
		var facts []string
		for i := 0; i < MaxExtractedMemories+5; i++ {
			facts = append(facts, fmt.Sprintf("fact %d", i))
		}
		result := Normalize(ctx, RawResult{ExtractedMemories: facts})
		assert.Len(t, result.ExtractedMemories, MaxExtractedMemories)
		assert.Equal(t, "fact 0", result.ExtractedMemories[0])
	})
}

func TestFormatMessages(t *testing.T) {
	first := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	second := first.Add(time.Hour)

	formatted := FormatMessages([]memory.UserMessage{
		{Content: "hello", CreatedAt: first},
		{Content: "I started a new job", CreatedAt: second},
	})

	blocks := strings.Split(formatted, "\n\n---\n\n")
	require.Len(t, blocks, 2)
	assert.Equal(t, "Timestamp: 2025-03-01T10:00:00Z\nUser: hello", blocks[0])
	assert.Equal(t, "Timestamp: 2025-03-01T11:00:00Z\nUser: I started a new job", blocks[1])
}

func TestFormatMessagesEmpty(t *testing.T) {
	assert.Equal(t, "", FormatMessages(nil))
}
