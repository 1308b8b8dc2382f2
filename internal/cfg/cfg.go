package cfg

import (
	"errors"
	"flag"
	"fmt"
	"strings"
)

// Config adds workflow-specific configuration fields to the
// common cfg.Registerable and cfg.Validatable interfaces
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int
	APIToken              string
	DatabaseURL           string
	RedisAddr             string
	CooldownSeconds       int
	PerSourceCooldown     bool
	EscalateAfterSeconds  int
	SweepSeconds          int
	MaxPending            int
	Dispatchers           string
	EvidenceRetentionDays int
	ClaudeAPIKey          string
	ClaudeModel           string
	SlackWebhookURL       string
	WebhookURL            string
	WebhookToken          string
	FCMCredentialsFile    string
	FCMTopic              string
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.StringVar(&c.APIToken, "api-token", "", "bearer token required on API requests")
	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL (empty = in-memory store)")
	fs.StringVar(&c.RedisAddr, "redis-addr", "", "Redis address for the shared cooldown gate (empty = in-process gate)")
	fs.IntVar(&c.CooldownSeconds, "cooldown-seconds", 60, "cooldown window between admitted signals in seconds (1..86400)")
	fs.BoolVar(&c.PerSourceCooldown, "per-source-cooldown", false, "scope the cooldown window per signal source instead of globally")
	fs.IntVar(&c.EscalateAfterSeconds, "escalate-after-seconds", 300, "seconds a pending alert may wait before auto-escalation (1..86400)")
	fs.IntVar(&c.SweepSeconds, "sweep-seconds", 30, "watchdog sweep interval in seconds (1..3600)")
	fs.IntVar(&c.MaxPending, "max-pending-alerts", 10, "advisory pending backlog limit, 0 disables the check")
	fs.StringVar(&c.Dispatchers, "dispatchers", "", "comma-separated dispatcher IDs for round-robin auto-assignment (empty = manual assignment)")
	fs.IntVar(&c.EvidenceRetentionDays, "evidence-retention-days", 30, "days to keep evidence rows before pruning, 0 disables pruning (0..3650)")
	fs.StringVar(&c.ClaudeAPIKey, "claude-api-key", "", "API key for the Claude situation-brief composer (empty = briefs disabled)")
	fs.StringVar(&c.ClaudeModel, "claude-model", "claude-sonnet-4-20250514", "Claude model to use")
	fs.StringVar(&c.SlackWebhookURL, "slack-webhook-url", "", "Slack webhook URL for notifications")
	fs.StringVar(&c.WebhookURL, "webhook-url", "", "outbound webhook URL for lifecycle events")
	fs.StringVar(&c.WebhookToken, "webhook-token", "", "bearer token sent with outbound webhook deliveries")
	fs.StringVar(&c.FCMCredentialsFile, "fcm-credentials-file", "", "Firebase service account file for push notifications (empty = push disabled)")
	fs.StringVar(&c.FCMTopic, "fcm-topic", "", "FCM topic dispatcher apps subscribe to (empty = warden-dispatchers)")
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}

	// Shutdown budget must be greater than drain time
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	// API port must be valid TCP port number
	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	// The API mutates dispatch state, so the bearer token is not optional
	if c.APIToken == "" {
		errs = append(errs, errors.New("API_TOKEN is required"))
	}

	if c.CooldownSeconds <= 0 || c.CooldownSeconds > 86400 {
		errs = append(errs, fmt.Errorf("invalid COOLDOWN_SECONDS %d (must be 1..86400)", c.CooldownSeconds))
	}
	if c.EscalateAfterSeconds <= 0 || c.EscalateAfterSeconds > 86400 {
		errs = append(errs, fmt.Errorf("invalid ESCALATE_AFTER_SECONDS %d (must be 1..86400)", c.EscalateAfterSeconds))
	}
	if c.SweepSeconds <= 0 || c.SweepSeconds > 3600 {
		errs = append(errs, fmt.Errorf("invalid SWEEP_SECONDS %d (must be 1..3600)", c.SweepSeconds))
	}
	if c.MaxPending < 0 {
		errs = append(errs, fmt.Errorf("invalid MAX_PENDING_ALERTS %d (must be >= 0)", c.MaxPending))
	}
	if c.EvidenceRetentionDays < 0 || c.EvidenceRetentionDays > 3650 {
		errs = append(errs, fmt.Errorf("invalid EVIDENCE_RETENTION_DAYS %d (must be 0..3650)", c.EvidenceRetentionDays))
	}

	// Roster entries must survive trimming; a stray comma would
	// otherwise rotate alerts onto a dispatcher named ""
	if c.Dispatchers != "" {
		for _, id := range strings.Split(c.Dispatchers, ",") {
			if strings.TrimSpace(id) == "" {
				errs = append(errs, fmt.Errorf("invalid DISPATCHERS %q (empty dispatcher ID)", c.Dispatchers))
				break
			}
		}
	}

	// A model only matters alongside a key
	if c.ClaudeAPIKey != "" && c.ClaudeModel == "" {
		errs = append(errs, errors.New("CLAUDE_MODEL is required when CLAUDE_API_KEY is set"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// DispatcherRoster returns the parsed dispatcher IDs, nil when
// auto-assignment is disabled.
func (c *Config) DispatcherRoster() []string {
	if c.Dispatchers == "" {
		return nil
	}
	var ids []string
	for _, id := range strings.Split(c.Dispatchers, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}
