package prompts

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/c360studio/semheal/testcase"
)

func TestStartURL(t *testing.T) {
	tests := []struct {
		name     string
		tc       testcase.TestCase
		expected string
	}{
		{
			name:     "test data first",
			tc:       testcase.TestCase{TestData: []string{"user: alice", "url: https://shop.example.com/login."}},
			expected: "https://shop.example.com/login",
		},
		{
			name: "step test data before actions",
			tc: testcase.TestCase{Steps: []testcase.Step{
				{Action: "Open http://action.example.com"},
				{Action: "Log in", TestData: []string{"https://data.example.com"}},
			}},
			expected: "https://data.example.com",
		},
		{
			name:     "expected result last",
			tc:       testcase.TestCase{Steps: []testcase.Step{{Action: "Click", ExpectedResult: "Redirects to https://example.com/home"}}},
			expected: "https://example.com/home",
		},
		{
			name:     "none",
			tc:       testcase.TestCase{Steps: []testcase.Step{{Action: "Open the app"}}},
			expected: BlankPage,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, StartURL(tt.tc))
		})
	}
}

func TestGeneration(t *testing.T) {
	tc := testcase.TestCase{
		ID:          "TC001",
		Description: "Login works",
		TestData:    []string{"https://example.com/login"},
		Steps: []testcase.Step{
			{Number: 1, Action: "Enter credentials", ExpectedResult: "Fields filled"},
			{Number: 2, Action: "Click login"},
		},
	}

	prompt := Generation(tc, "")
	assert.True(t, strings.HasPrefix(prompt, "You are a Playwright test generator.\n"))
	assert.Contains(t, prompt, "TestCaseID: TC001\nDescription: Login works\nStartURL: https://example.com/login\n")
	assert.Contains(t, prompt, "Steps:\n- Enter credentials\n- Click login\n")
	assert.True(t, strings.HasSuffix(prompt, "ExpectedResults:\n- Fields filled"))
	assert.NotContains(t, prompt, "Start page content")

	defaults := Generation(testcase.TestCase{}, "")
	assert.Contains(t, defaults, "TestCaseID: Unknown\nDescription: N/A\nStartURL: about:blank")
}

type fakePages struct {
	content string
	err     error
	urls    []string
}

func (f *fakePages) Fetch(_ context.Context, url string) (string, error) {
	f.urls = append(f.urls, url)
	return f.content, f.err
}

func TestBuilder_Generation(t *testing.T) {
	tc := testcase.TestCase{ID: "TC1", TestData: []string{"https://example.com"}}

	pages := &fakePages{content: "# Example Domain"}
	prompt := NewBuilder(pages, nil).Generation(context.Background(), tc)
	assert.Equal(t, []string{"https://example.com"}, pages.urls)
	assert.True(t, strings.HasSuffix(prompt, "Start page content (Markdown, may be truncated):\n# Example Domain"))

	failing := &fakePages{err: errors.New("dial tcp: refused")}
	assert.Equal(t, Generation(tc, ""), NewBuilder(failing, nil).Generation(context.Background(), tc))

	blank := &fakePages{content: "unused"}
	NewBuilder(blank, nil).Generation(context.Background(), testcase.TestCase{ID: "TC2"})
	assert.Empty(t, blank.urls, "about:blank is never fetched")
}

func TestRepair(t *testing.T) {
	prompt := Repair("await page.click('#go');", "locator.click: Timeout", false)
	assert.Equal(t, "The following Playwright test failed. Fix it.\n"+
		"Return only the corrected JavaScript file content for @playwright/test (no markdown fences).\n\n"+
		"Existing failing code:\n```javascript\nawait page.click('#go');\n```\n\n"+
		"Error message:\nlocator.click: Timeout", prompt)

	assert.Contains(t, Repair("x", "y", true), "screenshot")
}
