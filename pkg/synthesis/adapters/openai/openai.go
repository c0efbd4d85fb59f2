package openai

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sashabaranov/go-openai"

	"github.com/memvault/memvault/pkg/errors"
	"github.com/memvault/memvault/pkg/log"
	"github.com/memvault/memvault/pkg/synthesis"
)

const systemPrompt = `You are a user profile synthesizer. You maintain a living profile of one user from their raw chat messages.

Given the user's existing profile metadata (JSON), their existing profile summary, and a chronological batch of new messages, produce:
1. "summary": an updated textual summary of the user's current context, goals, and interests. Maximum 4 paragraphs. Update the existing summary; give more weight to recent messages.
2. "metadata": an updated JSON object of user attributes (name, languages, profession, skills, interests, goals, and any other attribute the messages support). Union with the existing metadata; newer information wins; keep stable traits unless contradicted. Never fabricate.
3. "memories": up to 10 short facts worth remembering long-term, phrased in the user's first person ("I like tennis", not "The user likes tennis"). Source facts ONLY from the new messages, never from the existing profile.

Respond with a single JSON object: {"summary": string, "metadata": object, "memories": [string]}.`

// Config holds the configuration for the OpenAI synthesis adapter.
type Config struct {
	// APIKey is the OpenAI API key.
	APIKey string
	// Model is the chat model, e.g. "gpt-4o-mini".
	Model string
	// Temperature controls randomness; synthesis wants it low.
	Temperature float32
	// MaxTokens limits the response length.
	MaxTokens int
	// BaseURL overrides the API base URL (for testing).
	BaseURL string
}

// Adapter implements the synthesis.Synthesizer interface using OpenAI chat
// completions with a JSON response format.
type Adapter struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
}

// NewAdapter creates a new OpenAI synthesis adapter.
func NewAdapter(config Config) (*Adapter, error) {
	if config.APIKey == "" {
		return nil, errors.Wrap(errors.ErrConfiguration, "openai synthesis API key is required")
	}
	if config.Model == "" {
		config.Model = "gpt-4o-mini"
	}
	if config.MaxTokens <= 0 {
		config.MaxTokens = 2048
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}

	return &Adapter{
		client:      openai.NewClientWithConfig(clientConfig),
		model:       config.Model,
		temperature: config.Temperature,
		maxTokens:   config.MaxTokens,
	}, nil
}

// responseBody is the JSON shape the model is instructed to emit.
type responseBody struct {
	Summary  string          `json:"summary"`
	Metadata json.RawMessage `json:"metadata"`
	Memories []string        `json:"memories"`
}

// Synthesize implements the synthesis.Synthesizer interface.
func (a *Adapter) Synthesize(ctx context.Context, req synthesis.Request) (synthesis.RawResult, error) {
	existingMetadata := "{}"
	if len(req.ExistingMetadata) > 0 {
		data, err := json.Marshal(req.ExistingMetadata)
		if err == nil {
			existingMetadata = string(data)
		}
	}

	userPrompt := fmt.Sprintf(
		"## Existing metadata JSON\n%s\n\n## Existing summary\n%s\n\n## New user messages (chronological)\n%s",
		existingMetadata,
		req.ExistingSummary,
		synthesis.FormatMessages(req.Messages),
	)

	log.DebugContext(ctx, "Calling synthesis model",
		"model", a.model,
		"messages", len(req.Messages))

	response, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       a.model,
		Temperature: a.temperature,
		MaxTokens:   a.maxTokens,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt},
		},
	})
	if err != nil {
		return synthesis.RawResult{}, errors.Wrap(errors.ErrSynthesis, "openai chat completion failed (%v)", err)
	}
	if len(response.Choices) == 0 {
		return synthesis.RawResult{}, errors.Wrap(errors.ErrSynthesis, "no response choices returned")
	}

	var body responseBody
	if err := json.Unmarshal([]byte(response.Choices[0].Message.Content), &body); err != nil {
		return synthesis.RawResult{}, errors.Wrap(errors.ErrSynthesis, "response is not valid JSON")
	}

	return synthesis.RawResult{
		Summary:           body.Summary,
		MetadataJSON:      string(body.Metadata),
		ExtractedMemories: body.Memories,
	}, nil
}
