// Package processor runs the long-lived loop that claims queued jobs,
// invokes the external agent CLI, and posts results back to the chat
// platform. Exactly one processor runs per deployment, strictly
// serial: one job at a time, no retry inside the processor.
package processor

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/platform-agent/internal/jobhistory"
	"github.com/p-blackswan/platform-agent/internal/metrics"
	"github.com/p-blackswan/platform-agent/internal/processor/agentexec"
	"github.com/p-blackswan/platform-agent/internal/queue"
	"github.com/p-blackswan/platform-agent/internal/threadstore"
)

// cleanupEveryCycles triggers thread-store GC once every N loop
// iterations.
const cleanupEveryCycles = 100

const (
	assistantName = "pai-slack-bridge"

	ackFailureFormat = "Sorry, I encountered an error processing your request: %s"
)

// truncateAssistantReplyChars bounds how much of an assistant reply is
// persisted to the thread store (separate from the agent's own
// max-output-chars budget, which bounds what's posted to chat).
const truncateAssistantReplyChars = 500

// Poster is the subset of chat-platform capability the processor needs
// to post progress and results.
type Poster interface {
	PostMessage(channel, threadTS, text string) error
}

// Config configures a Processor.
type Config struct {
	CLIPath          string
	WorkingDir       string
	MaxOutputChars   int
	PollInterval     time.Duration
	ThreadMaxAgeHrs  int
}

// Processor owns the main claim/execute/post loop.
type Processor struct {
	cfg     Config
	queue   *queue.Queue
	store   *threadstore.Store
	poster  Poster
	history *jobhistory.Store
	metrics *metrics.Metrics
	logger  zerolog.Logger

	cycle int
}

// New constructs a Processor. Defaults are applied for zero-value
// Config fields. history and m may be nil to disable audit recording
// and metrics respectively.
func New(cfg Config, q *queue.Queue, store *threadstore.Store, poster Poster, history *jobhistory.Store, m *metrics.Metrics, logger zerolog.Logger) *Processor {
	if cfg.CLIPath == "" {
		cfg.CLIPath = "claude"
	}
	if cfg.MaxOutputChars <= 0 {
		cfg.MaxOutputChars = 4000
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.ThreadMaxAgeHrs <= 0 {
		cfg.ThreadMaxAgeHrs = 72
	}
	return &Processor{
		cfg:     cfg,
		queue:   q,
		store:   store,
		poster:  poster,
		history: history,
		metrics: m,
		logger:  logger.With().Str("component", "processor").Logger(),
	}
}

// Run executes the startup sequence (ensure dirs, crash recovery) and
// then the main loop until ctx is cancelled.
func (p *Processor) Run(ctx context.Context) error {
	if err := p.queue.EnsureDirs(); err != nil {
		return fmt.Errorf("processor: startup: %w", err)
	}
	recovered, err := p.queue.RecoverCrashed()
	if err != nil {
		return fmt.Errorf("processor: startup: crash recovery: %w", err)
	}
	if recovered > 0 {
		p.logger.Info().Int("count", recovered).Msg("recovered jobs from processing/ at startup")
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		p.runCycle(ctx)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(p.cfg.PollInterval):
		}
	}
}

func (p *Processor) runCycle(ctx context.Context) {
	files, err := p.queue.ListPending()
	if err != nil {
		p.logger.Warn().Err(err).Msg("list pending failed, will retry next cycle")
		return
	}

	for _, f := range files {
		p.processOne(ctx, f)
	}

	p.cycle++
	if p.cycle%cleanupEveryCycles == 0 {
		n := p.store.Cleanup(p.cfg.ThreadMaxAgeHrs)
		if n > 0 {
			p.logger.Info().Int("deleted", n).Msg("thread store cleanup")
		}
	}
}

// processOne claims and executes a single pending job file. It
// implements §4.C's process_one contract.
func (p *Processor) processOne(ctx context.Context, file string) {
	claimed, err := p.queue.Claim(file)
	if err != nil {
		p.logger.Warn().Err(err).Str("file", file).Msg("claim failed")
		return
	}
	if !claimed {
		return // lost the race
	}

	j, err := p.queue.ReadProcessing(file)
	if err != nil {
		p.logger.Error().Err(err).Str("file", file).Msg("failed to parse claimed job")
		return
	}

	if j.IsSimpleNotification() {
		p.processSimpleNotification(file, j)
		return
	}

	p.processAgentJob(ctx, file, j)
}

func (p *Processor) processSimpleNotification(file string, j *queue.Job) {
	startedAt := time.Now().UnixMilli()
	p.history.RecordStarted(j.ID, startedAt)

	if err := p.poster.PostMessage(j.Channel, j.ThreadTS, j.Text); err != nil {
		p.logger.Warn().Err(err).Str("job", j.ID).Msg("failed to post simple notification")
	}
	now := time.Now().UnixMilli()
	j.CompletedAt = &now
	if err := p.queue.Complete(file, j); err != nil {
		p.logger.Error().Err(err).Str("job", j.ID).Msg("failed to archive notification")
	}
	p.history.RecordCompleted(j.ID, now)
	p.metrics.ObserveJobOutcome("completed")
}

func validateAgentJob(j *queue.Job) error {
	missing := []string{}
	if j.ID == "" {
		missing = append(missing, "id")
	}
	if j.Channel == "" {
		missing = append(missing, "channel")
	}
	if j.ThreadTS == "" {
		missing = append(missing, "thread_ts")
	}
	if j.User == "" {
		missing = append(missing, "user")
	}
	if j.Prompt == "" {
		missing = append(missing, "prompt")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required field(s): %v", missing)
	}
	return nil
}

func (p *Processor) processAgentJob(ctx context.Context, file string, j *queue.Job) {
	if err := validateAgentJob(j); err != nil {
		p.failJob(file, j, err.Error())
		return
	}

	now := time.Now().UnixMilli()
	j.StartedAt = &now
	p.history.RecordStarted(j.ID, now)

	onProgress := func(phase string) {
		if err := p.poster.PostMessage(j.Channel, j.ThreadTS, fmt.Sprintf("[%s]", phase)); err != nil {
			p.logger.Warn().Err(err).Str("job", j.ID).Str("phase", phase).Msg("progress post failed")
		}
	}

	inv := agentexec.Invocation{
		CLIPath:        p.cfg.CLIPath,
		WorkingDir:     p.cfg.WorkingDir,
		Prompt:         j.Prompt,
		ThreadContext:  j.ThreadContext,
		MaxOutputChars: p.cfg.MaxOutputChars,
		OnProgress:     onProgress,
	}

	result, err := agentexec.Run(ctx, inv, p.logger)
	if err != nil {
		p.failJob(file, j, err.Error())
		return
	}
	p.metrics.ObserveAgentDuration(result.Duration.Seconds())
	if !result.Success {
		p.failJob(file, j, result.Error)
		return
	}

	if err := p.poster.PostMessage(j.Channel, j.ThreadTS, result.Output); err != nil {
		p.logger.Warn().Err(err).Str("job", j.ID).Msg("failed to post agent result")
	}

	stored := threadstore.TruncateAtNaturalBoundary(result.Output, truncateAssistantReplyChars)
	msg := threadstore.ThreadMessage{
		Role: "assistant",
		Name: assistantName,
		Text: stored,
		Ts:   fmt.Sprintf("%d", time.Now().Unix()),
	}
	if _, err := p.store.Append(j.ThreadTS, j.Channel, msg); err != nil {
		p.logger.Warn().Err(err).Str("job", j.ID).Msg("failed to append assistant reply")
	}

	completedAt := time.Now().UnixMilli()
	j.CompletedAt = &completedAt
	if err := p.queue.Complete(file, j); err != nil {
		p.logger.Error().Err(err).Str("job", j.ID).Msg("failed to archive completed job")
	}
	p.history.RecordCompleted(j.ID, completedAt)
	p.metrics.ObserveJobOutcome("completed")
}

func (p *Processor) failJob(file string, j *queue.Job, reason string) {
	if err := p.queue.Fail(file, j, reason); err != nil {
		p.logger.Error().Err(err).Str("job", j.ID).Msg("failed to dead-letter job")
	}
	failedAt := time.Now().UnixMilli()
	p.history.RecordFailed(j.ID, reason, failedAt)
	p.metrics.ObserveJobOutcome("failed")
	if j.Channel != "" && j.ThreadTS != "" {
		msg := fmt.Sprintf(ackFailureFormat, reason)
		if err := p.poster.PostMessage(j.Channel, j.ThreadTS, msg); err != nil {
			p.logger.Warn().Err(err).Str("job", j.ID).Msg("failed to post failure notice")
		}
	}
}
