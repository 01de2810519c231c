package llm_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/fake"

	"github.com/xhad/newsdesk/internal/models"
	"github.com/xhad/newsdesk/internal/types"
	"github.com/xhad/newsdesk/pkg/llm"
)

// recordingModel captures every call and streams its reply word by word.
type recordingModel struct {
	reply    string
	err      error
	calls    int
	messages []llms.MessageContent
	options  llms.CallOptions
}

func (m *recordingModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	m.calls++
	m.messages = messages
	m.options = llms.CallOptions{}
	for _, opt := range options {
		opt(&m.options)
	}
	if m.err != nil {
		return nil, m.err
	}
	if m.options.StreamingFunc != nil {
		for _, word := range strings.SplitAfter(m.reply, " ") {
			if err := m.options.StreamingFunc(ctx, []byte(word)); err != nil {
				return nil, err
			}
		}
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: m.reply}}}, nil
}

func (m *recordingModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

func (m *recordingModel) humanPrompt() string {
	for _, msg := range m.messages {
		if msg.Role != llms.ChatMessageTypeHuman {
			continue
		}
		for _, part := range msg.Parts {
			if text, ok := part.(llms.TextContent); ok {
				return text.Text
			}
		}
	}
	return ""
}

var skySegment = models.Segment{
	Source: "https://news.example.com/sky",
	Text:   "The sky is blue. Water is wet.",
}

func TestNewWithConfig(t *testing.T) {
	config := llm.ChatConfig{
		Provider:    "ollama",
		Model:       "testmodel",
		Temperature: 0.5,
		MaxTokens:   1000,
		BaseURL:     "http://localhost:1234",
	}
	engine, err := llm.NewWithConfig(config)
	assert.NoError(t, err)
	assert.NotNil(t, engine)
}

func TestNewWithConfigValidation(t *testing.T) {
	_, err := llm.NewWithConfig(llm.ChatConfig{Provider: "openai"})
	assert.ErrorIs(t, err, types.ErrMissingCredential)

	_, err = llm.NewWithConfig(llm.ChatConfig{Temperature: 3, LLM: &recordingModel{}})
	assert.Error(t, err)

	_, err = llm.NewWithConfig(llm.ChatConfig{MaxTokens: -1, LLM: &recordingModel{}})
	assert.Error(t, err)
}

func TestAnswerWithFakeModel(t *testing.T) {
	engine, err := llm.NewWithConfig(llm.ChatConfig{LLM: fake.NewFakeLLM([]string{" The sky is blue. "})})
	require.NoError(t, err)

	result, err := engine.Answer(context.Background(), "What color is the sky?", []models.Segment{skySegment})
	require.NoError(t, err)

	assert.Equal(t, "The sky is blue.", result.Answer)
	assert.Equal(t, []string{"https://news.example.com/sky"}, result.Sources)
	assert.False(t, result.NoContent)
}

func TestAnswerBuildsSinglePrompt(t *testing.T) {
	model := &recordingModel{reply: "Blue."}
	engine, err := llm.NewWithConfig(llm.ChatConfig{
		Temperature: 0.9,
		MaxTokens:   500,
		LLM:         model,
	})
	require.NoError(t, err)

	segments := []models.Segment{
		skySegment,
		{Source: "https://news.example.com/sea", Text: "The sea is salty."},
	}
	_, err = engine.Answer(context.Background(), "  What color is the sky?  ", segments)
	require.NoError(t, err)

	assert.Equal(t, 1, model.calls)
	require.Len(t, model.messages, 2)
	assert.Equal(t, llms.ChatMessageTypeSystem, model.messages[0].Role)

	prompt := model.humanPrompt()
	assert.Contains(t, prompt, "Content: The sky is blue. Water is wet.\nSource: https://news.example.com/sky")
	assert.Contains(t, prompt, "Content: The sea is salty.\nSource: https://news.example.com/sea")
	assert.True(t, strings.HasSuffix(prompt, "Question: What color is the sky?\nAnswer:"))
	assert.Less(t, strings.Index(prompt, "sky is blue"), strings.Index(prompt, "sea is salty"))

	assert.Equal(t, 0.9, model.options.Temperature)
	assert.Equal(t, 500, model.options.MaxTokens)
	assert.Nil(t, model.options.StreamingFunc)
}

func TestAnswerSourcesAreDistinctInFirstSeenOrder(t *testing.T) {
	engine, err := llm.NewWithConfig(llm.ChatConfig{LLM: &recordingModel{reply: "ok"}})
	require.NoError(t, err)

	segments := []models.Segment{
		{Source: "https://b.example.com", Text: "b1"},
		{Source: "https://a.example.com", Text: "a1"},
		{Source: "https://b.example.com", Text: "b2", Order: 1},
	}
	result, err := engine.Answer(context.Background(), "question", segments)
	require.NoError(t, err)

	assert.Equal(t, []string{"https://b.example.com", "https://a.example.com"}, result.Sources)
}

func TestAnswerWithoutSegmentsSkipsModel(t *testing.T) {
	model := &recordingModel{reply: "should not be used"}
	engine, err := llm.NewWithConfig(llm.ChatConfig{LLM: model})
	require.NoError(t, err)

	result, err := engine.Answer(context.Background(), "What is the stock price?", nil)
	require.NoError(t, err)

	assert.Equal(t, 0, model.calls)
	assert.True(t, result.NoContent)
	assert.Equal(t, llm.NoContentAnswer, result.Answer)
	assert.Empty(t, result.Sources)
}

func TestAnswerRejectsBlankQuestion(t *testing.T) {
	model := &recordingModel{reply: "ok"}
	engine, err := llm.NewWithConfig(llm.ChatConfig{LLM: model})
	require.NoError(t, err)

	_, err = engine.Answer(context.Background(), " \t", []models.Segment{skySegment})
	assert.ErrorIs(t, err, types.ErrEmptyQuestion)
	assert.Equal(t, 0, model.calls)
}

func TestAnswerStreamsChunks(t *testing.T) {
	model := &recordingModel{reply: "The sky is blue."}
	engine, err := llm.NewWithConfig(llm.ChatConfig{LLM: model})
	require.NoError(t, err)

	var streamed strings.Builder
	result, err := engine.Answer(context.Background(), "What color is the sky?", []models.Segment{skySegment},
		types.WithOnChunk(func(chunk string) { streamed.WriteString(chunk) }))
	require.NoError(t, err)

	assert.Equal(t, "The sky is blue.", streamed.String())
	assert.Equal(t, "The sky is blue.", result.Answer)
	assert.Equal(t, []string{skySegment.Source}, result.Sources)
}

func TestAnswerWrapsModelErrors(t *testing.T) {
	engine, err := llm.NewWithConfig(llm.ChatConfig{LLM: &recordingModel{err: errors.New("quota exceeded")}})
	require.NoError(t, err)

	result, err := engine.Answer(context.Background(), "question", []models.Segment{skySegment})
	assert.Nil(t, result)
	assert.ErrorIs(t, err, types.ErrGeneration)
	assert.Contains(t, err.Error(), "quota exceeded")
}
