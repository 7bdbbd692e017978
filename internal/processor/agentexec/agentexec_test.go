package agentexec

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestBuildFullPromptWithoutContext(t *testing.T) {
	require.Equal(t, "hello", BuildFullPrompt("hello", ""))
}

func TestBuildFullPromptWithContext(t *testing.T) {
	got := BuildFullPrompt("latest", "ctx-block")
	require.Contains(t, got, "Here is the conversation thread for context:")
	require.Contains(t, got, "ctx-block")
	require.Contains(t, got, "Latest message (respond to this):\nlatest")
}

// Scenario A — ANSI stripping & truncation.
func TestStripANSI(t *testing.T) {
	require.Equal(t, "Red text", StripANSI("\x1b[31mRed text\x1b[0m"))
}

func TestTruncateOutputUnderLimit(t *testing.T) {
	require.Equal(t, "short", TruncateOutput("short", 4000))
}

func TestTruncateOutputOverLimit(t *testing.T) {
	input := strings.Repeat("a", 5000)
	out := TruncateOutput(input, 4000)
	require.LessOrEqual(t, len(out), 4000)
	require.True(t, strings.HasSuffix(out, "... (output truncated)"))
}

func TestDetectPhasePriorityOrder(t *testing.T) {
	require.Equal(t, "OBSERVE", detectPhase("now we OBSERVE and THINK"))
	require.Equal(t, "THINK", detectPhase("time to think it over"))
	require.Equal(t, "", detectPhase("nothing relevant here"))
}

func writeStubCLI(t *testing.T, script string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "stub-cli.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755))
	return path
}

func TestRunSuccessStreamsProgressAndStripsANSI(t *testing.T) {
	cli := writeStubCLI(t, `printf 'OBSERVE phase\n'
sleep 0.2
printf '\033[31mRed text\033[0m\n'
sleep 0.2
printf 'EXECUTE phase\n'
exit 0
`)

	var phases []string
	inv := Invocation{
		CLIPath:        cli,
		WorkingDir:     t.TempDir(),
		Prompt:         "do something",
		MaxOutputChars: 4000,
		OnProgress:     func(p string) { phases = append(phases, p) },
	}

	res, err := Run(context.Background(), inv, zerolog.Nop())
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Contains(t, res.Output, "Red text")
	require.NotContains(t, res.Output, "\x1b")
	require.Equal(t, []string{"OBSERVE", "EXECUTE"}, phases)
}

// Scenario G — dead-letter on agent failure.
func TestRunFailureReturnsStderr(t *testing.T) {
	cli := writeStubCLI(t, `echo "boom" >&2
exit 1
`)

	inv := Invocation{CLIPath: cli, WorkingDir: t.TempDir(), Prompt: "x"}
	res, err := Run(context.Background(), inv, zerolog.Nop())
	require.NoError(t, err)
	require.False(t, res.Success)
	require.Equal(t, "boom", res.Error)
}

func TestRunTruncatesLongOutput(t *testing.T) {
	cli := writeStubCLI(t, `yes a | head -c 5000
exit 0
`)
	inv := Invocation{CLIPath: cli, WorkingDir: t.TempDir(), Prompt: "x", MaxOutputChars: 4000}
	res, err := Run(context.Background(), inv, zerolog.Nop())
	require.NoError(t, err)
	require.True(t, res.Success)
	require.LessOrEqual(t, len(res.Output), 4000)
	require.True(t, strings.HasSuffix(res.Output, "... (output truncated)"))
}
