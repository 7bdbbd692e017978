// Package agentexec invokes the external agent CLI and streams its
// stdout for incremental phase-progress detection. See SPEC_FULL.md
// §4.C.1 for the full contract: argv shape, prompt templating, no
// subprocess timeout, ANSI stripping, output truncation.
package agentexec

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ansiEscape matches terminal control sequences in CLI output.
var ansiEscape = regexp.MustCompile("\x1b(?:[@-Z\\\\-_]|\\[[0-?]*[ -/]*[@-~])")

// phasePattern pairs a phase name with its case-insensitive detector,
// in the fixed priority order spec.md mandates.
type phasePattern struct {
	name string
	re   *regexp.Regexp
}

var phasePatterns = []phasePattern{
	{"OBSERVE", regexp.MustCompile(`(?i)observe`)},
	{"THINK", regexp.MustCompile(`(?i)think`)},
	{"EXECUTE", regexp.MustCompile(`(?i)execute`)},
	{"VERIFY", regexp.MustCompile(`(?i)verify`)},
	{"COMPLETE", regexp.MustCompile(`(?i)complete`)},
	{"Planning", regexp.MustCompile(`(?i)planning`)},
	{"Implementing", regexp.MustCompile(`(?i)implementing`)},
	{"Testing", regexp.MustCompile(`(?i)testing`)},
	{"Reviewing", regexp.MustCompile(`(?i)reviewing`)},
}

// detectPhase returns the first-priority phase pattern matching
// anywhere in chunk, or "" if none match.
func detectPhase(chunk string) string {
	for _, p := range phasePatterns {
		if p.re.MatchString(chunk) {
			return p.name
		}
	}
	return ""
}

// Invocation describes a single agent CLI call.
type Invocation struct {
	CLIPath         string
	WorkingDir      string
	Prompt          string
	ThreadContext   string
	MaxOutputChars  int
	OnProgress      func(phase string)
}

// Result is the outcome of an agent CLI invocation.
type Result struct {
	Success  bool
	Output   string
	Error    string
	Duration time.Duration
}

// BuildFullPrompt renders the prompt the CLI receives, prepending the
// thread context block when non-empty.
func BuildFullPrompt(prompt, threadContext string) string {
	if threadContext == "" {
		return prompt
	}
	return fmt.Sprintf("Here is the conversation thread for context:\n\n%s\n\n---\n\nLatest message (respond to this):\n%s", threadContext, prompt)
}

// StripANSI removes terminal escape sequences from s.
func StripANSI(s string) string {
	return ansiEscape.ReplaceAllString(s, "")
}

// TruncateOutput truncates s to at most maxChars, replacing the tail
// with a fixed marker when truncation occurs.
func TruncateOutput(s string, maxChars int) string {
	if len(s) <= maxChars {
		return s
	}
	const suffix = "\n\n... (output truncated)"
	cut := maxChars - len(suffix)
	if cut < 0 {
		cut = 0
	}
	return s[:cut] + suffix
}

// Run invokes the agent CLI per the §4.C.1 contract. The subprocess is
// never given a timeout or deadline: the queue exists to host
// long-running tasks, and premature termination defeats the design.
// Cancelling ctx (host shutdown) kills the child process; it is the
// only way the call ends early.
func Run(ctx context.Context, inv Invocation, logger zerolog.Logger) (*Result, error) {
	start := time.Now()
	fullPrompt := BuildFullPrompt(inv.Prompt, inv.ThreadContext)

	cmd := exec.CommandContext(ctx, inv.CLIPath, "--print", "--continue", "--dangerously-skip-permissions", fullPrompt)
	cmd.Dir = inv.WorkingDir

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("agentexec: stdout pipe: %w", err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("agentexec: stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("agentexec: start: %w", err)
	}

	var accum strings.Builder
	lastPhase := ""

	reader := bufio.NewReaderSize(stdout, 64*1024)
	buf := make([]byte, 4096)
	for {
		n, readErr := reader.Read(buf)
		if n > 0 {
			chunk := string(buf[:n])
			accum.WriteString(chunk)
			if phase := detectPhase(chunk); phase != "" && phase != lastPhase {
				lastPhase = phase
				if inv.OnProgress != nil {
					inv.OnProgress(phase)
				}
			}
		}
		if readErr != nil {
			if readErr != io.EOF {
				logger.Warn().Err(readErr).Msg("agentexec: stdout read error")
			}
			break
		}
	}

	stderrBytes, _ := io.ReadAll(stderrPipe)

	waitErr := cmd.Wait()
	duration := time.Since(start)

	if waitErr != nil {
		errMsg := strings.TrimSpace(string(stderrBytes))
		if errMsg == "" {
			errMsg = fmt.Sprintf("Claude CLI exited with code %d", cmd.ProcessState.ExitCode())
		}
		return &Result{Success: false, Error: errMsg, Duration: duration}, nil
	}

	output := StripANSI(accum.String())
	maxChars := inv.MaxOutputChars
	if maxChars <= 0 {
		maxChars = 4000
	}
	output = TruncateOutput(output, maxChars)

	return &Result{Success: true, Output: output, Duration: duration}, nil
}
