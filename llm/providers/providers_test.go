package providers

import (
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/semheal/llm"
)

var screenshot = llm.Image{MediaType: "image/png", Data: []byte("png")}

func TestProviders_Registered(t *testing.T) {
	assert.Equal(t, []string{"anthropic", "gemini", "ollama", "openai"}, llm.ListProviders())
}

func TestProviders_BuildURL(t *testing.T) {
	tests := []struct {
		name     string
		provider llm.Provider
		baseURL  string
		model    string
		want     string
	}{
		{"anthropic default", &AnthropicProvider{}, "", "claude", "https://api.anthropic.com/v1/messages"},
		{"anthropic trailing slash", &AnthropicProvider{}, "https://proxy.local/", "claude", "https://proxy.local/v1/messages"},
		{"ollama default", &OllamaProvider{}, "", "qwen", "http://localhost:11434/v1/chat/completions"},
		{"ollama full path kept", &OllamaProvider{}, "http://gpu:8000/v1/chat/completions", "qwen", "http://gpu:8000/v1/chat/completions"},
		{"openai default", &OpenAIProvider{}, "", "gpt-4o", "https://api.openai.com/v1/chat/completions"},
		{"openrouter", &OpenAIProvider{}, "https://openrouter.ai/api/v1/", "x", "https://openrouter.ai/api/v1/chat/completions"},
		{"gemini default", &GeminiProvider{}, "", "gemini-2.5-pro", "https://generativelanguage.googleapis.com/v1beta/models/gemini-2.5-pro:generateContent"},
		{"gemini custom base", &GeminiProvider{}, "http://127.0.0.1:9000/", "gemini-2.5-flash", "http://127.0.0.1:9000/v1beta/models/gemini-2.5-flash:generateContent"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.provider.BuildURL(tt.baseURL, tt.model))
		})
	}
}

func TestProviders_SetHeaders(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "g-key")
	t.Setenv("ANTHROPIC_API_KEY", "a-key")
	t.Setenv("OPENAI_API_KEY", "o-key")
	t.Setenv("OPENROUTER_SITE_NAME", "semheal")

	req := httptest.NewRequest("POST", "/", nil)
	(&GeminiProvider{}).SetHeaders(req)
	assert.Equal(t, "g-key", req.Header.Get("X-goog-api-key"))

	req = httptest.NewRequest("POST", "/", nil)
	(&AnthropicProvider{}).SetHeaders(req)
	assert.Equal(t, "a-key", req.Header.Get("x-api-key"))
	assert.Equal(t, anthropicVersion, req.Header.Get("anthropic-version"))

	req = httptest.NewRequest("POST", "/", nil)
	(&OpenAIProvider{}).SetHeaders(req)
	assert.Equal(t, "Bearer o-key", req.Header.Get("Authorization"))
	assert.Equal(t, "semheal", req.Header.Get("X-Title"))
}

func TestAnthropic_BuildRequestBody(t *testing.T) {
	p := &AnthropicProvider{}
	temp := 0.0

	body, err := p.BuildRequestBody("claude", []llm.Message{
		{Role: "system", Content: "You write Playwright tests."},
		{Role: "user", Content: "Fix it.", Images: []llm.Image{screenshot}},
	}, &temp, 0)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, "You write Playwright tests.", got["system"])
	assert.Equal(t, float64(8192), got["max_tokens"])
	assert.Equal(t, float64(0), got["temperature"])

	messages := got["messages"].([]any)
	require.Len(t, messages, 1)
	blocks := messages[0].(map[string]any)["content"].([]any)
	require.Len(t, blocks, 2)
	image := blocks[0].(map[string]any)
	assert.Equal(t, "image", image["type"])
	assert.Equal(t, "cG5n", image["source"].(map[string]any)["data"])
	assert.Equal(t, "Fix it.", blocks[1].(map[string]any)["text"])
}

func TestAnthropic_ParseResponse(t *testing.T) {
	resp, err := (&AnthropicProvider{}).ParseResponse([]byte(`{
		"content": [{"type": "text", "text": "part one "}, {"type": "tool_use"}, {"type": "text", "text": "part two"}],
		"model": "claude-sonnet",
		"stop_reason": "end_turn",
		"usage": {"input_tokens": 15, "output_tokens": 8}
	}`), "claude")
	require.NoError(t, err)

	assert.Equal(t, "part one part two", resp.Content)
	assert.Equal(t, 23, resp.Usage.TotalTokens)
	assert.Equal(t, "end_turn", resp.FinishReason)
}

func TestOllama_BuildRequestBody(t *testing.T) {
	p := &OllamaProvider{}

	plain, err := p.BuildRequestBody("qwen", []llm.Message{{Role: "user", Content: "Hello"}}, nil, 0)
	require.NoError(t, err)
	assert.JSONEq(t, `{"model":"qwen","messages":[{"role":"user","content":"Hello"}]}`, string(plain))

	withImage, err := p.BuildRequestBody("qwen", []llm.Message{{Role: "user", Content: "Fix it.", Images: []llm.Image{screenshot}}}, nil, 512)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"model": "qwen",
		"max_tokens": 512,
		"messages": [{"role": "user", "content": [
			{"type": "text", "text": "Fix it."},
			{"type": "image_url", "image_url": {"url": "data:image/png;base64,cG5n"}}
		]}]
	}`, string(withImage))
}

func TestOllama_ParseResponse(t *testing.T) {
	p := &OllamaProvider{}

	resp, err := p.ParseResponse([]byte(`{
		"model": "qwen",
		"choices": [{"message": {"role": "assistant", "content": "code"}, "finish_reason": "stop"}],
		"usage": {"prompt_tokens": 10, "completion_tokens": 6, "total_tokens": 16}
	}`), "qwen")
	require.NoError(t, err)
	assert.Equal(t, "code", resp.Content)
	assert.Equal(t, 16, resp.Usage.TotalTokens)

	_, err = p.ParseResponse([]byte(`{"choices": []}`), "qwen")
	assert.Error(t, err)
}

func TestGemini_BuildRequestBody(t *testing.T) {
	p := &GeminiProvider{}
	temp := 0.2

	body, err := p.BuildRequestBody("gemini-2.5-pro", []llm.Message{
		{Role: "system", Content: "Be terse."},
		{Role: "user", Content: "Write a test."},
		{Role: "assistant", Content: "test('x')"},
		{Role: "user", Content: "Fix it.", Images: []llm.Image{screenshot}},
	}, &temp, 1024)
	require.NoError(t, err)

	assert.JSONEq(t, `{
		"systemInstruction": {"parts": [{"text": "Be terse."}]},
		"contents": [
			{"role": "user", "parts": [{"text": "Write a test."}]},
			{"role": "model", "parts": [{"text": "test('x')"}]},
			{"role": "user", "parts": [{"text": "Fix it."}, {"inline_data": {"mime_type": "image/png", "data": "cG5n"}}]}
		],
		"generationConfig": {"temperature": 0.2, "maxOutputTokens": 1024}
	}`, string(body))
}

func TestGemini_ParseResponse(t *testing.T) {
	p := &GeminiProvider{}

	resp, err := p.ParseResponse([]byte(`{
		"candidates": [{"content": {"parts": [{"text": "import "}, {"text": "x"}]}, "finishReason": "STOP"}],
		"usageMetadata": {"promptTokenCount": 4, "candidatesTokenCount": 2, "totalTokenCount": 6}
	}`), "gemini-2.5-pro")
	require.NoError(t, err)
	assert.Equal(t, "import x", resp.Content)
	assert.Equal(t, "gemini-2.5-pro", resp.Model)
	assert.Equal(t, 6, resp.Usage.TotalTokens)

	_, err = p.ParseResponse([]byte(`{"promptFeedback": {"blockReason": "SAFETY"}}`), "gemini-2.5-pro")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SAFETY")
}
