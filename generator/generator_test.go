package generator

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/semheal/llm"
	"github.com/c360studio/semheal/llm/testutil"
	"github.com/c360studio/semheal/model"
)

func TestExtractCode(t *testing.T) {
	tests := []struct {
		name     string
		response string
		expected string
	}{
		{
			name:     "plain code",
			response: "  test('a', async () => {});\n\n",
			expected: "test('a', async () => {});",
		},
		{
			name:     "fenced with tag",
			response: "Here you go:\n```javascript\nconst a = 1;\n```\nEnjoy.",
			expected: "const a = 1;",
		},
		{
			name:     "fenced without tag",
			response: "```\nconst b = 2;\n```",
			expected: "const b = 2;",
		},
		{
			name:     "first of sibling blocks",
			response: "```ts\nfirst();\n```\nand\n```js\nsecond();\n```",
			expected: "first();",
		},
		{
			name:     "nested block",
			response: "```markdown\nIntro\n```javascript\ninner();\n```\n```",
			expected: "inner();",
		},
		{
			name:     "truncated fence",
			response: "```js\nconst c = 3;",
			expected: "const c = 3;",
		},
		{
			name:     "leading line comments",
			response: "```js\n// Generated test\n// for TC001\n\nimport { test } from '@playwright/test';\n```",
			expected: "import { test } from '@playwright/test';",
		},
		{
			name:     "leading block comment",
			response: "/**\n * TC001\n */\ntest('x', () => {}); // trailing kept",
			expected: "test('x', () => {}); // trailing kept",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractCode(tt.response)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestExtractCode_Empty(t *testing.T) {
	for _, response := range []string{"", "   \n", "```js\n```", "// only a comment"} {
		_, err := ExtractCode(response)
		assert.ErrorIs(t, err, ErrEmptyResponse, "response %q", response)
	}
}

func TestGenerator_Generate(t *testing.T) {
	mock := &testutil.MockLLMClient{
		Responses: []*llm.Response{{Content: "```js\ntest('ok', async () => {});\n```", Model: "gemini"}},
	}
	gen := New(mock, model.CapabilityHealing, WithTemperature(0), WithMaxTokens(2048))

	image := &llm.Image{MediaType: "image/png", Data: []byte{1, 2, 3}}
	code, err := gen.Generate(context.Background(), "Fix it.", image)
	require.NoError(t, err)
	assert.Equal(t, "test('ok', async () => {});", code)

	reqs := mock.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "healing", reqs[0].Capability)
	require.NotNil(t, reqs[0].Temperature)
	assert.Zero(t, *reqs[0].Temperature)
	assert.Equal(t, 2048, reqs[0].MaxTokens)
	require.Len(t, reqs[0].Messages, 1)
	assert.Equal(t, "Fix it.", reqs[0].Messages[0].Content)
	assert.Equal(t, []llm.Image{*image}, reqs[0].Messages[0].Images)
}

func TestGenerator_Errors(t *testing.T) {
	unreachable := &testutil.MockLLMClient{Err: errors.New("all endpoints failed")}
	_, err := New(unreachable, model.CapabilityGeneration).Generate(context.Background(), "p", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "all endpoints failed")

	empty := &testutil.MockLLMClient{Responses: []*llm.Response{{Content: "  "}}}
	_, err = New(empty, model.CapabilityGeneration).Generate(context.Background(), "p", nil)
	assert.ErrorIs(t, err, ErrEmptyResponse)
	assert.Empty(t, empty.Requests()[0].Messages[0].Images)
}
