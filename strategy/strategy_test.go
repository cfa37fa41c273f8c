package strategy

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/semheal/artifact"
	"github.com/c360studio/semheal/llm"
)

const loginScript = `import { test, expect } from '@playwright/test';

test('login', async ({ page }) => {
  await page.goto('https://example.com/login');
  await page.locator('#login-btn').click();
  await page.locator('#user_name').fill('alice');
});
`

func TestForAttempt(t *testing.T) {
	tests := []struct {
		failed   int
		expected artifact.Version
		ok       bool
	}{
		{1, artifact.VersionLocal, true},
		{2, artifact.VersionModel, true},
		{3, artifact.VersionAdvanced, true},
		{4, "", false},
		{0, "", false},
		{-1, "", false},
	}
	for _, tt := range tests {
		v, ok := ForAttempt(tt.failed)
		assert.Equal(t, tt.ok, ok, "attempt %d", tt.failed)
		assert.Equal(t, tt.expected, v, "attempt %d", tt.failed)
	}
}

func TestSet_ForAttempt(t *testing.T) {
	set := NewSet(NewLocal(nil), NewAdvanced(nil))

	s, ok := set.ForAttempt(1)
	require.True(t, ok)
	assert.Equal(t, artifact.VersionLocal, s.Name())

	_, ok = set.ForAttempt(2)
	assert.False(t, ok, "model strategy not registered")

	_, ok = set.ForAttempt(0)
	assert.False(t, ok, "no strategy before the first failure")
}

func TestFinalize(t *testing.T) {
	withImport := "import { test } from '@playwright/test'\ntest('x', async () => {});"
	assert.Equal(t, withImport, Finalize(withImport))

	withRequire := "const { test } = require('@playwright/test');\n"
	assert.Equal(t, withRequire, Finalize(withRequire))

	bare := "\ntest('x', async ({ page }) => {});"
	assert.Equal(t, PlaywrightImport+"\n\ntest('x', async ({ page }) => {});", Finalize(bare))
	assert.Equal(t, Finalize(bare), Finalize(Finalize(bare)))
}

func TestLocal_RewritesChainedLookups(t *testing.T) {
	local := NewLocal(nil)

	got, err := local.Apply(context.Background(), Input{
		Source:       loginScript,
		ErrorSummary: "TimeoutError: locator.click: Timeout 30000ms exceeded.",
	})
	require.NoError(t, err)

	expected := `import { test, expect } from '@playwright/test';

test('login', async ({ page }) => {
  await page.goto('https://example.com/login', { waitUntil: 'domcontentloaded', timeout: 60000 });
  await page.waitForLoadState('networkidle');
  await page.getByRole('button', { name: /login/i }).or(page.getByText(/login/i)).first().click();
  await page.getByRole('textbox', { name: /user[\s_-]*name/i }).or(page.getByPlaceholder(/user[\s_-]*name/i)).first().fill('alice');
});
`
	assert.Equal(t, expected, got.Source)
	assert.Equal(t, 4, got.Edits)
	assert.Empty(t, got.Prompt)
}

func TestLocal_TargetsNamedSelector(t *testing.T) {
	src := `test('t', async ({ page }) => {
  await page.locator('#submit').click();
  await page.locator('#other').click();
  await page.locator('[data-testid="cart"]').click();
});`

	got, err := NewLocal(nil).Apply(context.Background(), Input{
		Source:       src,
		ErrorSummary: "Error: waiting for locator('#submit') to be visible",
	})
	require.NoError(t, err)

	assert.Contains(t, got.Source, "page.getByRole('button', { name: /submit/i }).or(page.getByText(/submit/i)).first().click()")
	assert.Contains(t, got.Source, "page.locator('#other').click()")
	assert.Contains(t, got.Source, `page.locator('[data-testid="cart"]').click()`)
	assert.True(t, strings.HasPrefix(got.Source, PlaywrightImport))
}

func TestLocal_RewritesPageShorthands(t *testing.T) {
	src := `test('t', async ({ page }) => {
  if (ok) await page.click('#a');
  await page.fill('#user_name', 'alice', { timeout: 5000 });
  await page.press('#search', 'Enter');
  const field = page.getByLabel('Email');
  await field.fill('bob@example.com');
});`

	got, err := NewLocal(nil).Apply(context.Background(), Input{
		Source:       src,
		ErrorSummary: "TimeoutError: page.click: Timeout 30000ms exceeded.",
	})
	require.NoError(t, err)

	assert.Contains(t, got.Source, "if (ok) await page.getByRole('button', { name: /a/i }).or(page.getByText(/a/i)).first().click();")
	assert.Contains(t, got.Source, "page.getByRole('textbox', { name: /user[\\s_-]*name/i }).or(page.getByPlaceholder(/user[\\s_-]*name/i)).first().fill('alice', { timeout: 5000 });")
	assert.Contains(t, got.Source, ".or(page.getByPlaceholder(/search/i)).first().press('Enter');")
	assert.Contains(t, got.Source, "await field.fill('bob@example.com');")
	assert.Equal(t, 3, got.Edits)

	again, err := NewLocal(nil).Apply(context.Background(), Input{
		Source:       got.Source,
		ErrorSummary: "TimeoutError: page.click: Timeout 30000ms exceeded.",
	})
	require.NoError(t, err)
	assert.Equal(t, got.Source, again.Source)
	assert.Zero(t, again.Edits)
}

func TestLocal_TargetsNamedShorthand(t *testing.T) {
	src := `test('t', async ({ page }) => {
  await page.click('#submit');
  await page.click('#other');
});`

	got, err := NewLocal(nil).Apply(context.Background(), Input{
		Source:       src,
		ErrorSummary: "Error: waiting for locator('#submit') to be visible",
	})
	require.NoError(t, err)

	assert.Contains(t, got.Source, "page.getByRole('button', { name: /submit/i }).or(page.getByText(/submit/i)).first().click()")
	assert.Contains(t, got.Source, "page.click('#other')")
}

func TestLocal_AttributeSelectors(t *testing.T) {
	tests := []struct {
		selector string
		expected string
	}{
		{`[data-testid="cart"]`, "page.getByTestId('cart')"},
		{`input[placeholder='Email']`, "page.getByPlaceholder('Email')"},
		{`[aria-label="Close dialog"]`, "page.getByLabel('Close dialog')"},
		{`text=Sign in`, "page.getByText('Sign in').first()"},
		{`button:has-text("Save")`, "page.getByText('Save').first()"},
	}

	for _, tt := range tests {
		t.Run(tt.selector, func(t *testing.T) {
			src := "await page.locator(" + jsString(tt.selector) + ").click();\n"
			got, err := NewLocal(nil).Apply(context.Background(), Input{
				Source:       src,
				ErrorSummary: "strict mode violation",
			})
			require.NoError(t, err)
			assert.Contains(t, got.Source, tt.expected+".click();")
		})
	}
}

func TestLocal_NoSelectorSignalOnlyWidensNavigation(t *testing.T) {
	got, err := NewLocal(nil).Apply(context.Background(), Input{
		Source:       loginScript,
		ErrorSummary: "Test timeout of 30000ms exceeded.",
	})
	require.NoError(t, err)

	assert.Contains(t, got.Source, navigationOptions)
	assert.Contains(t, got.Source, "page.locator('#login-btn').click()")
	assert.Equal(t, 2, got.Edits)
}

func TestLocal_Idempotent(t *testing.T) {
	errs := []string{
		"TimeoutError: locator.click: Timeout 30000ms exceeded.",
		"Error: waiting for locator('#login-btn')",
		"Test timeout of 30000ms exceeded.",
		"Unknown error",
	}
	local := NewLocal(nil)

	for _, e := range errs {
		t.Run(e, func(t *testing.T) {
			once, err := local.Apply(context.Background(), Input{Source: loginScript, ErrorSummary: e})
			require.NoError(t, err)
			twice, err := local.Apply(context.Background(), Input{Source: once.Source, ErrorSummary: e})
			require.NoError(t, err)

			assert.Equal(t, once.Source, twice.Source)
			assert.Zero(t, twice.Edits)
		})
	}
}

func TestLocal_KeepsExistingLoadStateWait(t *testing.T) {
	src := `await page.goto('https://example.com');
await page.waitForLoadState('networkidle');
`
	got, err := NewLocal(nil).Apply(context.Background(), Input{Source: src})
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(got.Source, "waitForLoadState"))
}

func TestRewrite_RejectsSyntaxErrors(t *testing.T) {
	src := []byte("await page.click('#a');\n")
	s, err := parseScript(context.Background(), src)
	require.NoError(t, err)
	defer s.Close()

	out, applied := rewrite(context.Background(), s, []edit{{start: 0, end: 0, text: "))) {"}})
	assert.Equal(t, string(src), out)
	assert.Zero(t, applied)
}

func TestApplyEdits_DropsOverlaps(t *testing.T) {
	out, applied := applyEdits([]byte("abcdef"), []edit{
		{start: 1, end: 3, text: "X"},
		{start: 2, end: 4, text: "Y"},
		{start: 6, end: 6, text: "!"},
	})
	assert.Equal(t, "aXdef!", string(out))
	assert.Equal(t, 2, applied)
}

const advancedInput = `test('t', async ({ page }) => {
  await page.goto('https://example.com');
  await page.getByText('Go').click();
  await expect(page).toHaveTitle(/Example/);
});
`

func TestAdvanced_GuardsPageActions(t *testing.T) {
	got, err := NewAdvanced(nil).Apply(context.Background(), Input{Source: advancedInput})
	require.NoError(t, err)

	expected := PlaywrightImport + "\n\n" + `test('t', async ({ page }) => {
  try {
    await page.goto('https://example.com', { waitUntil: 'domcontentloaded', timeout: 60000 });
  } catch (healError) {
    await page.waitForTimeout(1000);
    await page.goto('https://example.com', { waitUntil: 'domcontentloaded', timeout: 60000 });
  }
  await page.waitForLoadState('networkidle');
  try {
    await page.getByText('Go').click();
  } catch (healError) {
    await page.waitForTimeout(1000);
    await page.getByText('Go').click({ force: true });
  }
  await expect(page).toHaveTitle(/Example/);
});
`
	assert.Equal(t, expected, got.Source)
	assert.Equal(t, 4, got.Edits)
}

func TestAdvanced_Idempotent(t *testing.T) {
	adv := NewAdvanced(nil)
	once, err := adv.Apply(context.Background(), Input{Source: advancedInput})
	require.NoError(t, err)
	twice, err := adv.Apply(context.Background(), Input{Source: once.Source})
	require.NoError(t, err)

	assert.Equal(t, once.Source, twice.Source)
	assert.Zero(t, twice.Edits)
}

func TestAdvanced_KeepsOriginalActions(t *testing.T) {
	got, err := NewAdvanced(nil).Apply(context.Background(), Input{Source: loginScript})
	require.NoError(t, err)

	assert.Contains(t, got.Source, "await page.locator('#login-btn').click();")
	assert.Contains(t, got.Source, "await page.locator('#user_name').fill('alice');")
	assert.Equal(t, 3, strings.Count(got.Source, "} catch (healError) {"))
}

type fakeGenerator struct {
	code   string
	err    error
	prompt string
	image  *llm.Image
}

func (f *fakeGenerator) Generate(_ context.Context, prompt string, image *llm.Image) (string, error) {
	f.prompt = prompt
	f.image = image
	return f.code, f.err
}

func TestModel_SendsScreenshot(t *testing.T) {
	dir := t.TempDir()
	shot := filepath.Join(dir, "failure.png")
	png := append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 32)...)
	require.NoError(t, os.WriteFile(shot, png, 0o644))

	gen := &fakeGenerator{code: "test('fixed', async () => {});"}
	got, err := NewModel(gen, nil).Apply(context.Background(), Input{
		Source:       "await page.click('#a');",
		ErrorSummary: "locator.click: Timeout",
		ArtifactPath: shot,
	})
	require.NoError(t, err)

	require.NotNil(t, gen.image)
	assert.Equal(t, "image/png", gen.image.MediaType)
	assert.True(t, got.ScreenshotUsed)
	assert.Equal(t, gen.prompt, got.Prompt)
	assert.Contains(t, got.Prompt, "await page.click('#a');")
	assert.Contains(t, got.Prompt, "locator.click: Timeout")
	assert.Equal(t, Finalize(gen.code), got.Source)
}

func TestModel_MissingScreenshot(t *testing.T) {
	gen := &fakeGenerator{code: PlaywrightImport + "\ntest('ok', async () => {});"}
	got, err := NewModel(gen, nil).Apply(context.Background(), Input{
		Source:       "x",
		ErrorSummary: "boom",
		ArtifactPath: filepath.Join(t.TempDir(), "missing.png"),
	})
	require.NoError(t, err)

	assert.Nil(t, gen.image)
	assert.False(t, got.ScreenshotUsed)
	assert.Equal(t, gen.code, got.Source)
}

func TestModel_NoCandidate(t *testing.T) {
	tests := []struct {
		name string
		gen  *fakeGenerator
	}{
		{"generator error", &fakeGenerator{err: errors.New("unreachable")}},
		{"empty text", &fakeGenerator{code: "  \n"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewModel(tt.gen, nil).Apply(context.Background(), Input{Source: "x"})
			assert.Nil(t, got)
			assert.ErrorIs(t, err, ErrNoCandidate)
		})
	}
}
