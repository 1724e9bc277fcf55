package llmservice

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/schema"

	"juris-rag/internal/models"
)

type fakeModel struct {
	messages []llms.MessageContent
	opts     llms.CallOptions
	reply    *llms.ContentResponse
	err      error
}

func (f *fakeModel) GenerateContent(_ context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	f.messages = messages
	f.opts = llms.CallOptions{}
	for _, opt := range options {
		opt(&f.opts)
	}
	return f.reply, f.err
}

func (f *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, f, prompt, options...)
}

func reply(text string) *llms.ContentResponse {
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: text}}}
}

func TestComplete_MapsRolesAndDefaults(t *testing.T) {
	m := &fakeModel{reply: reply("respuesta")}
	c := New(m, Options{MaxTokens: 1200, Temperature: 0.2})

	out, err := c.Complete(context.Background(), []Message{
		{Role: RoleSystem, Content: "reglas"},
		{Role: RoleUser, Content: "pregunta"},
		{Role: RoleAssistant, Content: "previa"},
	}, Options{})
	require.NoError(t, err)
	assert.Equal(t, "respuesta", out)

	require.Len(t, m.messages, 3)
	assert.Equal(t, schema.ChatMessageTypeSystem, m.messages[0].Role)
	assert.Equal(t, schema.ChatMessageTypeHuman, m.messages[1].Role)
	assert.Equal(t, schema.ChatMessageTypeAI, m.messages[2].Role)
	assert.Equal(t, 1200, m.opts.MaxTokens)
	assert.Equal(t, 0.2, m.opts.Temperature)
	assert.False(t, m.opts.JSONMode)
}

func TestComplete_OverridesAndJSONMode(t *testing.T) {
	m := &fakeModel{reply: reply(`{"verdict":"ok"}`)}
	c := New(m, Options{MaxTokens: 1200, Temperature: 0.2})

	_, err := c.Complete(context.Background(), []Message{{Role: RoleUser, Content: "x"}}, Options{MaxTokens: 300, JSON: true})
	require.NoError(t, err)
	assert.Equal(t, 300, m.opts.MaxTokens)
	assert.True(t, m.opts.JSONMode)
}

func TestComplete_ProviderFailure(t *testing.T) {
	c := New(&fakeModel{err: errors.New("timeout")}, Options{})
	_, err := c.Complete(context.Background(), []Message{{Role: RoleUser, Content: "x"}}, Options{})
	assert.ErrorIs(t, err, models.ErrProviderFailure)

	c = New(&fakeModel{reply: &llms.ContentResponse{}}, Options{})
	_, err = c.Complete(context.Background(), []Message{{Role: RoleUser, Content: "x"}}, Options{})
	assert.ErrorIs(t, err, models.ErrProviderFailure)
}
