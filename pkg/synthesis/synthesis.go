package synthesis

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/memvault/memvault/pkg/log"
	"github.com/memvault/memvault/pkg/memory"
)

// MaxExtractedMemories caps how many facts one synthesis run may extract.
const MaxExtractedMemories = 10

// Request carries the inputs to one profile synthesis call: the current
// profile state and the batch of unprocessed messages, oldest first.
type Request struct {
	// ExistingMetadata is the current profile metadata, nil for a new user
	ExistingMetadata map[string]interface{}

	// ExistingSummary is the current profile summary, empty for a new user
	ExistingSummary string

	// Messages is the unprocessed batch in chronological order
	Messages []memory.UserMessage
}

// RawResult is what a backend returns before validation. MetadataJSON is kept
// as text because the model may emit something that does not parse; the
// caller decides how to degrade.
type RawResult struct {
	// Summary is the updated profile summary
	Summary string

	// MetadataJSON is the updated metadata as a JSON object string
	MetadataJSON string

	// ExtractedMemories are short first-person facts sourced only from the
	// batch, never from the existing profile text
	ExtractedMemories []string
}

// Result is a validated synthesis outcome.
type Result struct {
	Summary           string
	Metadata          map[string]interface{}
	ExtractedMemories []string
}

// Synthesizer is the interface for profile synthesis backends.
type Synthesizer interface {
	// Synthesize produces an updated profile from the existing state and the
	// message batch.
	Synthesize(ctx context.Context, req Request) (RawResult, error)
}

// Normalize validates a raw backend result. Metadata that does not parse as a
// JSON object degrades to an empty map rather than failing the run, since the
// summary and memories are still usable. Extracted memories are trimmed,
// de-blanked, and capped at MaxExtractedMemories.
func Normalize(ctx context.Context, raw RawResult) Result {
	result := Result{
		Summary:  strings.TrimSpace(raw.Summary),
		Metadata: map[string]interface{}{},
	}

	metadataStr := strings.TrimSpace(raw.MetadataJSON)
	if metadataStr != "" {
		var metadata map[string]interface{}
		if err := json.Unmarshal([]byte(metadataStr), &metadata); err != nil {
			log.WarnContext(ctx, "Synthesized metadata is not valid JSON, using empty object", "error", err)
		} else if metadata != nil {
			result.Metadata = metadata
		}
	}

	for _, fact := range raw.ExtractedMemories {
		fact = strings.TrimSpace(fact)
		if fact == "" {
			continue
		}
		result.ExtractedMemories = append(result.ExtractedMemories, fact)
		if len(result.ExtractedMemories) == MaxExtractedMemories {
			break
		}
	}

	return result
}

// FormatMessages renders a batch for the synthesis prompt: one
// "Timestamp / User" block per message, chronological, separated by rules.
func FormatMessages(messages []memory.UserMessage) string {
	var sb strings.Builder
	for i, msg := range messages {
		if i > 0 {
			sb.WriteString("\n\n---\n\n")
		}
		sb.WriteString("Timestamp: ")
		sb.WriteString(msg.CreatedAt.UTC().Format(time.RFC3339))
		sb.WriteString("\nUser: ")
		sb.WriteString(msg.Content)
	}
	return sb.String()
}
