// Package config loads application configuration from environment
// variables via envconfig, following the teacher's Load()-wraps-Process
// pattern.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration loaded from environment
// variables (SPEC_FULL.md "Configuration surface").
type Config struct {
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	Debug    bool   `envconfig:"DEBUG" default:"false"`

	SlackBotToken        string `envconfig:"SLACK_BOT_TOKEN" required:"true"`
	SlackAppToken        string `envconfig:"SLACK_APP_TOKEN" required:"true"`
	SlackSigningSecret   string `envconfig:"SLACK_SIGNING_SECRET"`
	SlackAllowedUsers    string `envconfig:"SLACK_ALLOWED_USERS"`
	SlackAllowedChannels string `envconfig:"SLACK_ALLOWED_CHANNELS"`

	AgentCLIPath        string `envconfig:"AGENT_CLI_PATH" default:"claude"`
	AgentMaxOutputChars int    `envconfig:"AGENT_MAX_OUTPUT_CHARS" default:"4000"`
	AgentWorkingDir     string `envconfig:"AGENT_WORKING_DIR" default:"."`

	QueueBaseDir string `envconfig:"QUEUE_BASE_DIR" default:"/tmp/pai-slack-queue"`

	ThreadStoreDir     string `envconfig:"THREAD_STORE_DIR"`
	ThreadMaxAgeHours  int    `envconfig:"THREAD_MAX_AGE_HOURS" default:"72"`
	ContextBudgetChars int    `envconfig:"CONTEXT_BUDGET_CHARS" default:"6000"`

	PollIntervalMS int `envconfig:"POLL_INTERVAL_MS" default:"2000"`

	JobHistoryDBPath string `envconfig:"JOB_HISTORY_DB_PATH" default:"/tmp/pai-slack-queue/jobhistory.db"`

	AdminListenAddr string `envconfig:"ADMIN_LISTEN_ADDR" default:":8090"`
	AdminAPIKey     string `envconfig:"ADMIN_API_KEY"`

	MetricsEnabled bool `envconfig:"METRICS_ENABLED" default:"true"`
}

// AllowedUserList returns the parsed SLACK_ALLOWED_USERS set. Empty
// means allow-all (no allowlist configured).
func (c *Config) AllowedUserList() map[string]bool {
	return parseCSVSet(c.SlackAllowedUsers)
}

// AllowedChannelList returns the parsed SLACK_ALLOWED_CHANNELS set used
// for intake filtering. Empty means allow-all for intake purposes; the
// Slack client's post-allowlist (slackbridge.Client) enforces
// separately and fails closed on empty.
func (c *Config) AllowedChannelList() map[string]bool {
	return parseCSVSet(c.SlackAllowedChannels)
}

// AllowedChannelSlice is the slice form slackbridge.NewClient expects.
func (c *Config) AllowedChannelSlice() []string {
	if c.SlackAllowedChannels == "" {
		return nil
	}
	parts := strings.Split(c.SlackAllowedChannels, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseCSVSet(raw string) map[string]bool {
	if raw == "" {
		return nil
	}
	out := map[string]bool{}
	for _, p := range strings.Split(raw, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			out[p] = true
		}
	}
	return out
}

// PollInterval is POLL_INTERVAL_MS as a time.Duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMS) * time.Millisecond
}

// AdminAuthEnabled reports whether the admin API should require a
// bearer token.
func (c *Config) AdminAuthEnabled() bool {
	return c.AdminAPIKey != ""
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return &cfg, nil
}
