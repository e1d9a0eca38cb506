package cfg

import (
	"errors"
	"flag"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Store media selected by configuration.
const (
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
	StoreMemory   = "memory"
)

const (
	maxImageDelay     = time.Minute
	maxChannelNameLen = 63
)

// Config adds app-specific configuration fields to the
// common cfg.Registerable and cfg.Validatable interfaces
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int
	DatabaseURL           string
	SQLitePath            string
	SyncChannel           string
	OperatorToken         string
	AllowedOrigins        string
	PartnerWebhookURL     string
	SlackWebhookURL       string
	ClinicianName         string
	ImageAckDelay         time.Duration
	ImageAnalysisDelay    time.Duration
	DBLogThreshold        time.Duration
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL for the shared case store")
	fs.StringVar(&c.SQLitePath, "sqlite-path", "", "SQLite file for a single-device case store (empty with no database-url = in-memory)")
	fs.StringVar(&c.SyncChannel, "sync-channel", "carebridge_events", "Postgres LISTEN/NOTIFY channel for cross-process viewer sync")
	fs.StringVar(&c.OperatorToken, "operator-token", "", "bearer token for operator endpoints (empty disables them)")
	fs.StringVar(&c.AllowedOrigins, "allowed-origins", "", "comma-separated origin patterns accepted on the event stream")
	fs.StringVar(&c.PartnerWebhookURL, "partner-webhook-url", "", "URL that receives partner alert POSTs")
	fs.StringVar(&c.SlackWebhookURL, "slack-webhook-url", "", "Slack webhook URL for pending review notifications")
	fs.StringVar(&c.ClinicianName, "clinician-name", "Dr. Sharma", "reviewing clinician named in bot replies")
	fs.DurationVar(&c.ImageAckDelay, "image-ack-delay", time.Second, "delay before acknowledging an uploaded image")
	fs.DurationVar(&c.ImageAnalysisDelay, "image-analysis-delay", 2*time.Second, "delay between acknowledgement and image verdict")
	fs.DurationVar(&c.DBLogThreshold, "db-log-threshold", 50*time.Millisecond, "log database queries slower than this")
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

	// One store medium at a time
	if c.DatabaseURL != "" && c.SQLitePath != "" {
		errs = append(errs, errors.New("DATABASE_URL and SQLITE_PATH are mutually exclusive"))
	}

	if c.SyncChannel == "" || len(c.SyncChannel) > maxChannelNameLen {
		errs = append(errs, fmt.Errorf("invalid SYNC_CHANNEL %q (must be 1..%d chars)", c.SyncChannel, maxChannelNameLen))
	}

	if strings.TrimSpace(c.ClinicianName) == "" {
		errs = append(errs, errors.New("CLINICIAN_NAME is required"))
	}

	if c.ImageAckDelay < 0 || c.ImageAckDelay > maxImageDelay {
		errs = append(errs, fmt.Errorf("invalid IMAGE_ACK_DELAY %s (must be 0..%s)", c.ImageAckDelay, maxImageDelay))
	}
	if c.ImageAnalysisDelay < 0 || c.ImageAnalysisDelay > maxImageDelay {
		errs = append(errs, fmt.Errorf("invalid IMAGE_ANALYSIS_DELAY %s (must be 0..%s)", c.ImageAnalysisDelay, maxImageDelay))
	}
	if c.DBLogThreshold < 0 {
		errs = append(errs, fmt.Errorf("invalid DB_LOG_THRESHOLD %s (must not be negative)", c.DBLogThreshold))
	}

	// Webhook URLs are optional but must be absolute http(s) when set
	if err := checkWebhookURL("PARTNER_WEBHOOK_URL", c.PartnerWebhookURL); err != nil {
		errs = append(errs, err)
	}
	if err := checkWebhookURL("SLACK_WEBHOOK_URL", c.SlackWebhookURL); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// StoreKind reports which case store medium the configuration selects.
func (c *Config) StoreKind() string {
	switch {
	case c.DatabaseURL != "":
		return StorePostgres
	case c.SQLitePath != "":
		return StoreSQLite
	default:
		return StoreMemory
	}
}

// OriginPatterns splits AllowedOrigins into trimmed, non-empty patterns.
func (c *Config) OriginPatterns() []string {
	var out []string
	for _, p := range strings.Split(c.AllowedOrigins, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func checkWebhookURL(name, raw string) error {
	if raw == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", name, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid %s %q (must be an absolute http(s) URL)", name, raw)
	}
	return nil
}
