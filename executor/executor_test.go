package executor

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func skipOnWindows(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("uses sh")
	}
}

func TestRun_PassWritesReport(t *testing.T) {
	skipOnWindows(t)
	dir := t.TempDir()
	p := New(Config{
		ProjectDir: dir,
		Command:    `sh -c 'echo "{\"file\":\"$0\"}"' {file}`,
	}, nil)

	res, err := p.Run(context.Background(), filepath.Join(dir, "tests", "TC001.spec.js"))
	require.NoError(t, err)
	assert.True(t, res.Passed)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, filepath.Join(dir, DefaultReportFile), res.ReportPath)

	data, err := os.ReadFile(res.ReportPath)
	require.NoError(t, err)
	assert.Equal(t, `{"file":"tests/TC001.spec.js"}`+"\n", string(data))
}

func TestRun_FailureKeepsExitCode(t *testing.T) {
	skipOnWindows(t)
	dir := t.TempDir()
	p := New(Config{ProjectDir: dir, Command: "sh -c 'echo boom >&2; exit 3'"}, nil)

	res, err := p.Run(context.Background(), filepath.Join(dir, "x.spec.js"))
	require.NoError(t, err)
	assert.False(t, res.Passed)
	assert.Equal(t, 3, res.ExitCode)
	assert.Equal(t, "boom\n", res.Stderr)
}

func TestRun_TruncatesReportEachInvocation(t *testing.T) {
	skipOnWindows(t)
	dir := t.TempDir()
	report := filepath.Join(dir, DefaultReportFile)
	require.NoError(t, os.WriteFile(report, []byte("stale report content that is long"), 0o644))

	p := New(Config{ProjectDir: dir, Command: "sh -c 'printf new'"}, nil)
	_, err := p.Run(context.Background(), "a.spec.js")
	require.NoError(t, err)

	data, err := os.ReadFile(report)
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))
}

func TestRun_Timeout(t *testing.T) {
	skipOnWindows(t)
	dir := t.TempDir()
	p := New(Config{ProjectDir: dir, Command: "sh -c 'sleep 5' {file}", Timeout: 100 * time.Millisecond}, nil)

	res, err := p.Run(context.Background(), "a.spec.js")
	require.NoError(t, err)
	assert.False(t, res.Passed)
	assert.True(t, res.TimedOut)
	assert.Less(t, res.Duration, 2*time.Second, "timed-out run should return promptly")
}

func TestRun_TimeoutKillsDescendants(t *testing.T) {
	skipOnWindows(t)
	dir := t.TempDir()
	report := filepath.Join(dir, DefaultReportFile)

	// The background subshell inherits stdout and would write into the
	// report after the next invocation truncated it.
	slow := New(Config{
		ProjectDir: dir,
		Command:    "sh -c '(sleep 1; echo LATE) & sleep 5' {file}",
		Timeout:    100 * time.Millisecond,
	}, nil)
	res, err := slow.Run(context.Background(), "a.spec.js")
	require.NoError(t, err)
	require.True(t, res.TimedOut)
	assert.Less(t, res.Duration, 2*time.Second)

	next := New(Config{ProjectDir: dir, Command: "sh -c 'echo second' {file}"}, nil)
	_, err = next.Run(context.Background(), "a.spec.js")
	require.NoError(t, err)

	time.Sleep(1500 * time.Millisecond)

	data, err := os.ReadFile(report)
	require.NoError(t, err)
	assert.Equal(t, "second\n", string(data))
}

func TestRun_SpawnFailure(t *testing.T) {
	dir := t.TempDir()
	p := New(Config{ProjectDir: dir, Command: "definitely-not-a-real-binary-semheal"}, nil)

	res, err := p.Run(context.Background(), "a.spec.js")
	require.NoError(t, err)
	assert.False(t, res.Passed)
	assert.Equal(t, -1, res.ExitCode)
}

func TestRun_ParentCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := New(Config{ProjectDir: t.TempDir(), Command: "true"}, nil)
	_, err := p.Run(ctx, "a.spec.js")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCommandLine(t *testing.T) {
	p := New(Config{ProjectDir: "/proj"}, nil)
	assert.Equal(t,
		[]string{"npx", "playwright", "test", "tests/TC001.spec.js", "--reporter=json"},
		p.commandLine("/proj/tests/TC001.spec.js"))

	p = New(Config{ProjectDir: "/proj", Command: "node run.js"}, nil)
	assert.Equal(t, []string{"node", "run.js", "/elsewhere/a.spec.js"}, p.commandLine("/elsewhere/a.spec.js"))
}

func TestSplitCommand(t *testing.T) {
	assert.Equal(t, []string{"sh", "-c", "echo a b"}, splitCommand(`sh -c 'echo a b'`))
	assert.Equal(t, []string{"a", "b c"}, splitCommand(`a  "b c"`))
	assert.Empty(t, splitCommand("   "))
}

func TestTailBuffer(t *testing.T) {
	b := &tailBuffer{limit: 4}
	_, _ = b.Write([]byte("abc"))
	_, _ = b.Write([]byte("defg"))
	assert.Equal(t, "defg", b.String())
}
