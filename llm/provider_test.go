package llm

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProviderReturnsOpenAICompatRegardlessOfLabel(t *testing.T) {
	for _, label := range []string{"openai", "groq", "xai", "gemini", "ollama", "lmstudio", "openrouter", "anything"} {
		t.Run(label, func(t *testing.T) {
			p, err := NewProvider(Config{Provider: label, Model: "test-model", BaseURL: "http://localhost:9999"})
			require.NoError(t, err)
			assert.IsType(t, &openAICompatProvider{}, p)
		})
	}
}

func TestNewProviderEmptyProviderErrors(t *testing.T) {
	_, err := NewProvider(Config{Provider: "", BaseURL: "http://localhost:9999"})
	require.Error(t, err)
	assert.Equal(t, "llm provider not specified", err.Error())
}

func TestNewProviderEmptyBaseURLErrors(t *testing.T) {
	_, err := NewProvider(Config{Provider: "openai", Model: "test-model"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "base_url not configured")
}

func TestNewProviderConfigPassesThrough(t *testing.T) {
	p, err := NewProvider(Config{
		Provider: "openai",
		Model:    "gpt-4o-mini",
		BaseURL:  "https://api.openai.com",
		APIKey:   "sk-test-key-123",
	})
	require.NoError(t, err)

	v := reflect.ValueOf(p).Elem()
	base := v.FieldByName("base")
	cfgField := base.FieldByName("cfg")

	assert.Equal(t, "gpt-4o-mini", cfgField.FieldByName("Model").String())
	assert.Equal(t, "https://api.openai.com", cfgField.FieldByName("BaseURL").String())
	assert.Equal(t, "sk-test-key-123", cfgField.FieldByName("APIKey").String())
}

func TestNewProviderSatisfiesProviderInterface(t *testing.T) {
	p, err := NewProvider(Config{Provider: "openai", Model: "m", BaseURL: "http://localhost:9999"})
	require.NoError(t, err)
	var _ Provider = p
	assert.NotNil(t, p)
}

func TestNewProviderSatisfiesVisionProviderInterface(t *testing.T) {
	p, err := NewProvider(Config{Provider: "openai", Model: "m", BaseURL: "http://localhost:9999"})
	require.NoError(t, err)
	_, ok := p.(VisionProvider)
	assert.True(t, ok, "openAICompatProvider should also satisfy VisionProvider")
}
