package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/semheal/batch"
	"github.com/c360studio/semheal/config"
	"github.com/c360studio/semheal/model"
)

const generatedScript = "```javascript\n" +
	"const { test, expect } = require('@playwright/test');\n" +
	"test('login', async ({ page }) => {\n" +
	"  await page.goto('https://example.com/login');\n" +
	"});\n" +
	"```"

// newMockModel serves OpenAI-compatible completions that always return
// generatedScript.
func newMockModel(t *testing.T) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":    "chatcmpl-test",
			"model": "mock-coder",
			"choices": []map[string]any{{
				"index":         0,
				"message":       map[string]string{"role": "assistant", "content": generatedScript},
				"finish_reason": "stop",
			}},
			"usage": map[string]int{"prompt_tokens": 10, "completion_tokens": 20, "total_tokens": 30},
		})
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func testConfig(t *testing.T, project, modelURL, command string) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Runner.ProjectDir = project
	cfg.Runner.Command = command
	cfg.Runner.Timeout = 10 * time.Second
	cfg.LLM.Retry.MaxAttempts = 1
	cfg.Models = &model.RegistryConfig{
		Capabilities: map[string]*model.CapabilityConfig{
			"generation": {Preferred: []string{"mock"}},
			"healing":    {Preferred: []string{"mock"}},
		},
		Endpoints: map[string]*model.EndpointConfig{
			"mock": {Provider: "openai", URL: modelURL + "/v1", Model: "mock-coder"},
		},
	}
	require.NoError(t, cfg.Validate())
	return cfg
}

func writeTestCase(t *testing.T, dir, id string) {
	t.Helper()
	body := `{"TestCaseID":"` + id + `","Title":"Login","Steps":[{"StepNo":1,"Action":"Open https://example.com/login"}]}`
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, id+".json"), []byte(body), 0644))
}

func decodeEvents(t *testing.T, out []byte) []map[string]any {
	t.Helper()
	var events []map[string]any
	sc := bufio.NewScanner(bytes.NewReader(out))
	sc.Buffer(make([]byte, 1<<20), 1<<20)
	for sc.Scan() {
		var ev map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &ev), "line %q", sc.Text())
		events = append(events, ev)
	}
	return events
}

func eventKinds(events []map[string]any) []string {
	kinds := make([]string, len(events))
	for i, ev := range events {
		kinds[i], _ = ev["event"].(string)
	}
	return kinds
}

func requireShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("uses sh")
	}
}

func TestAppRunPassingBatch(t *testing.T) {
	requireShell(t)
	project := t.TempDir()
	writeTestCase(t, filepath.Join(project, "testcases"), "TC001")
	writeTestCase(t, filepath.Join(project, "testcases"), "TC002")

	srv, calls := newMockModel(t)
	cfg := testConfig(t, project, srv.URL, "true")

	var out bytes.Buffer
	app, err := NewApp(cfg, &out, nil)
	require.NoError(t, err)
	defer app.Close()

	summary, err := app.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Total)
	assert.Equal(t, 2, summary.Passed)
	assert.Equal(t, int32(2), calls.Load())

	script, err := os.ReadFile(filepath.Join(project, "tests", "TC001.spec.js"))
	require.NoError(t, err)
	assert.Contains(t, string(script), "page.goto('https://example.com/login')")
	assert.NotContains(t, string(script), "```")

	kinds := eventKinds(decodeEvents(t, out.Bytes()))
	assert.Equal(t, "info", kinds[0])
	assert.Contains(t, kinds, "test_passed")
	assert.Equal(t, "all_tests_completed", kinds[len(kinds)-1])
}

func TestAppRunHealsThenGivesUp(t *testing.T) {
	requireShell(t)
	project := t.TempDir()
	writeTestCase(t, filepath.Join(project, "testcases"), "TC010")

	srv, _ := newMockModel(t)
	cfg := testConfig(t, project, srv.URL, "sh -c 'exit 1'")

	var out bytes.Buffer
	app, err := NewApp(cfg, &out, nil)
	require.NoError(t, err)
	defer app.Close()

	summary, err := app.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Total)
	assert.Zero(t, summary.Passed)
	assert.Equal(t, 1, summary.Failed+summary.Aborted)

	kinds := eventKinds(decodeEvents(t, out.Bytes()))
	assert.Contains(t, kinds, "test_failed")
	assert.Contains(t, kinds, "self_healing_started")
	assert.Equal(t, "all_tests_completed", kinds[len(kinds)-1])
}

func TestAppRunWithoutTestCases(t *testing.T) {
	project := t.TempDir()
	srv, calls := newMockModel(t)
	cfg := testConfig(t, project, srv.URL, "true")

	var out bytes.Buffer
	app, err := NewApp(cfg, &out, nil)
	require.NoError(t, err)
	defer app.Close()

	summary, err := app.Run(context.Background())
	require.NoError(t, err)

	assert.Zero(t, summary.Total)
	assert.Zero(t, calls.Load())
	assert.Contains(t, out.String(), batch.NoTestCasesMessage)
}

func TestAppRunRejectsCollidingScriptNames(t *testing.T) {
	project := t.TempDir()
	dir := filepath.Join(project, "testcases")
	require.NoError(t, os.MkdirAll(dir, 0755))
	for file, id := range map[string]string{"a.json": "TC 1", "b.json": "TC.1"} {
		body := `{"TestCaseID":"` + id + `","Title":"Login","Steps":[{"StepNo":1,"Action":"Open https://example.com"}]}`
		require.NoError(t, os.WriteFile(filepath.Join(dir, file), []byte(body), 0644))
	}

	srv, calls := newMockModel(t)
	cfg := testConfig(t, project, srv.URL, "true")

	app, err := NewApp(cfg, &bytes.Buffer{}, nil)
	require.NoError(t, err)
	defer app.Close()

	_, err = app.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TC_1.spec.js")
	assert.Zero(t, calls.Load(), "no script may be generated")
}

func TestAppRunClearsStaleStopFile(t *testing.T) {
	requireShell(t)
	project := t.TempDir()
	writeTestCase(t, filepath.Join(project, "testcases"), "TC001")
	require.NoError(t, os.WriteFile(filepath.Join(project, "stop.txt"), []byte("stop"), 0644))

	srv, _ := newMockModel(t)
	cfg := testConfig(t, project, srv.URL, "true")

	var out bytes.Buffer
	app, err := NewApp(cfg, &out, nil)
	require.NoError(t, err)
	defer app.Close()

	summary, err := app.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Passed)
	assert.Zero(t, summary.Skipped)
	_, statErr := os.Stat(filepath.Join(project, "stop.txt"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestAppServesMetrics(t *testing.T) {
	requireShell(t)
	project := t.TempDir()
	writeTestCase(t, filepath.Join(project, "testcases"), "TC001")

	srv, _ := newMockModel(t)
	cfg := testConfig(t, project, srv.URL, "true")

	app, err := NewApp(cfg, &bytes.Buffer{}, nil)
	require.NoError(t, err)
	defer app.Close()

	_, err = app.Run(context.Background())
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	app.Metrics().Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	assert.Contains(t, body, `semheal_sessions_total{outcome="passed"} 1`)
	assert.Contains(t, body, "semheal_llm_calls_total")
}

func TestAppRunStopsMetricsServerWithBatch(t *testing.T) {
	requireShell(t)
	project := t.TempDir()
	writeTestCase(t, filepath.Join(project, "testcases"), "TC001")

	srv, _ := newMockModel(t)
	cfg := testConfig(t, project, srv.URL, "true")
	cfg.Metrics.Addr = "127.0.0.1:0"

	app, err := NewApp(cfg, &bytes.Buffer{}, nil)
	require.NoError(t, err)
	defer app.Close()

	done := make(chan error, 1)
	go func() {
		_, err := app.Run(context.Background())
		done <- err
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(30 * time.Second):
		t.Fatal("Run did not return after the batch finished")
	}
}

func TestStopCommandWritesSentinel(t *testing.T) {
	project := t.TempDir()

	var out bytes.Buffer
	cmd := rootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"stop", "--dir", project, "--log-level", "error"})
	require.NoError(t, cmd.Execute())

	_, err := os.Stat(filepath.Join(project, "stop.txt"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out.String(), "Stop requested: "))
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	cmd := rootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})
	require.NoError(t, cmd.Execute())

	assert.Equal(t, "semheal version "+Version+" (build: "+BuildTime+")\n", out.String())
}

func TestLoadConfigRejectsMissingProjectDir(t *testing.T) {
	_, err := loadConfig("", filepath.Join(t.TempDir(), "missing"), nil)
	require.Error(t, err)
}
