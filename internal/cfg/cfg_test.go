package cfg

import (
	"flag"
	"math"
	"reflect"
	"strings"
	"testing"
	"time"
)

// validBase returns a Config with all required fields set to valid values.
func validBase() Config {
	return Config{
		DrainSeconds:          60,
		ShutdownBudgetSeconds: 90,
		APIPort:               8080,
		SyncChannel:           "carebridge_events",
		ClinicianName:         "Dr. Sharma",
		ImageAckDelay:         time.Second,
		ImageAnalysisDelay:    2 * time.Second,
	}
}

// with returns validBase modified by fn.
func with(fn func(*Config)) Config {
	c := validBase()
	fn(&c)
	return c
}

func TestRegisterFlags_Defaults(t *testing.T) {
	t.Parallel()

	var c Config
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	c.RegisterFlags(fs)

	if err := fs.Parse(nil); err != nil {
		t.Fatalf("parse empty args: %v", err)
	}

	if c.DrainSeconds != 60 {
		t.Errorf("DrainSeconds = %d, want 60", c.DrainSeconds)
	}
	if c.ShutdownBudgetSeconds != 90 {
		t.Errorf("ShutdownBudgetSeconds = %d, want 90", c.ShutdownBudgetSeconds)
	}
	if c.APIPort != 8080 {
		t.Errorf("APIPort = %d, want 8080", c.APIPort)
	}
	if c.ClinicianName != "Dr. Sharma" {
		t.Errorf("ClinicianName = %q, want %q", c.ClinicianName, "Dr. Sharma")
	}
	if c.ImageAckDelay != time.Second || c.ImageAnalysisDelay != 2*time.Second {
		t.Errorf("image delays = %s/%s, want 1s/2s", c.ImageAckDelay, c.ImageAnalysisDelay)
	}
	if c.StoreKind() != StoreMemory {
		t.Errorf("StoreKind = %s, want %s", c.StoreKind(), StoreMemory)
	}
	if err := c.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestRegisterFlags_Override(t *testing.T) {
	t.Parallel()

	var c Config
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	c.RegisterFlags(fs)

	args := []string{
		"-drain-seconds", "30",
		"-shutdown-budget-seconds", "120",
		"-http-port", "9090",
		"-sqlite-path", "/var/lib/carebridge/cases.db",
		"-operator-token", "tok",
		"-clinician-name", "Dr. Rao",
		"-image-ack-delay", "250ms",
		"-image-analysis-delay", "0s",
	}
	if err := fs.Parse(args); err != nil {
		t.Fatalf("parse args: %v", err)
	}

	if c.DrainSeconds != 30 {
		t.Errorf("DrainSeconds = %d, want 30", c.DrainSeconds)
	}
	if c.ShutdownBudgetSeconds != 120 {
		t.Errorf("ShutdownBudgetSeconds = %d, want 120", c.ShutdownBudgetSeconds)
	}
	if c.APIPort != 9090 {
		t.Errorf("APIPort = %d, want 9090", c.APIPort)
	}
	if c.StoreKind() != StoreSQLite {
		t.Errorf("StoreKind = %s, want %s", c.StoreKind(), StoreSQLite)
	}
	if c.OperatorToken != "tok" || c.ClinicianName != "Dr. Rao" {
		t.Errorf("OperatorToken/ClinicianName = %q/%q", c.OperatorToken, c.ClinicianName)
	}
	if c.ImageAckDelay != 250*time.Millisecond || c.ImageAnalysisDelay != 0 {
		t.Errorf("image delays = %s/%s", c.ImageAckDelay, c.ImageAnalysisDelay)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		cfg       Config
		wantErr   bool
		errSubstr []string // substrings that must appear in error message
	}{
		{
			name:    "defaults are valid",
			cfg:     validBase(),
			wantErr: false,
		},
		{
			name:    "minimum valid values",
			cfg:     with(func(c *Config) { c.DrainSeconds, c.ShutdownBudgetSeconds, c.APIPort = 1, 2, 1 }),
			wantErr: false,
		},
		{
			name:    "maximum valid values",
			cfg:     with(func(c *Config) { c.DrainSeconds, c.ShutdownBudgetSeconds, c.APIPort = 299, 300, 65535 }),
			wantErr: false,
		},
		// DrainSeconds boundaries
		{
			name:      "drain zero",
			cfg:       with(func(c *Config) { c.DrainSeconds = 0 }),
			wantErr:   true,
			errSubstr: []string{"DRAIN_SECONDS"},
		},
		{
			name:      "drain negative",
			cfg:       with(func(c *Config) { c.DrainSeconds = -1 }),
			wantErr:   true,
			errSubstr: []string{"DRAIN_SECONDS"},
		},
		{
			name:      "drain above max",
			cfg:       with(func(c *Config) { c.DrainSeconds, c.ShutdownBudgetSeconds = 301, 302 }),
			wantErr:   true,
			errSubstr: []string{"DRAIN_SECONDS"},
		},
		{
			name:    "drain at upper bound",
			cfg:     with(func(c *Config) { c.DrainSeconds, c.ShutdownBudgetSeconds = 300, 300 }),
			wantErr: true, // budget must be greater than drain
		},
		// ShutdownBudgetSeconds boundaries
		{
			name:      "budget zero",
			cfg:       with(func(c *Config) { c.ShutdownBudgetSeconds = 0 }),
			wantErr:   true,
			errSubstr: []string{"SHUTDOWN_BUDGET_SECONDS"},
		},
		{
			name:      "budget above max",
			cfg:       with(func(c *Config) { c.ShutdownBudgetSeconds = 301 }),
			wantErr:   true,
			errSubstr: []string{"SHUTDOWN_BUDGET_SECONDS"},
		},
		// Cross-field: budget vs drain
		{
			name:      "budget equals drain",
			cfg:       with(func(c *Config) { c.ShutdownBudgetSeconds = 60 }),
			wantErr:   true,
			errSubstr: []string{"must be greater than"},
		},
		{
			name:    "budget is drain plus one",
			cfg:     with(func(c *Config) { c.ShutdownBudgetSeconds = 61 }),
			wantErr: false,
		},
		// APIPort boundaries
		{
			name:      "port zero",
			cfg:       with(func(c *Config) { c.APIPort = 0 }),
			wantErr:   true,
			errSubstr: []string{"HTTP_PORT"},
		},
		{
			name:      "port above max",
			cfg:       with(func(c *Config) { c.APIPort = 65536 }),
			wantErr:   true,
			errSubstr: []string{"HTTP_PORT"},
		},
		// Store selection
		{
			name: "both stores configured",
			cfg: with(func(c *Config) {
				c.DatabaseURL = "postgres://localhost/carebridge"
				c.SQLitePath = "cases.db"
			}),
			wantErr:   true,
			errSubstr: []string{"mutually exclusive"},
		},
		// Sync channel
		{
			name:      "empty sync channel",
			cfg:       with(func(c *Config) { c.SyncChannel = "" }),
			wantErr:   true,
			errSubstr: []string{"SYNC_CHANNEL"},
		},
		{
			name:      "sync channel too long",
			cfg:       with(func(c *Config) { c.SyncChannel = strings.Repeat("c", 64) }),
			wantErr:   true,
			errSubstr: []string{"SYNC_CHANNEL"},
		},
		// Engine
		{
			name:      "blank clinician name",
			cfg:       with(func(c *Config) { c.ClinicianName = "  " }),
			wantErr:   true,
			errSubstr: []string{"CLINICIAN_NAME"},
		},
		{
			name:    "zero image delays",
			cfg:     with(func(c *Config) { c.ImageAckDelay, c.ImageAnalysisDelay = 0, 0 }),
			wantErr: false,
		},
		{
			name:      "negative image delay",
			cfg:       with(func(c *Config) { c.ImageAckDelay = -time.Second }),
			wantErr:   true,
			errSubstr: []string{"IMAGE_ACK_DELAY"},
		},
		{
			name:      "image delay above max",
			cfg:       with(func(c *Config) { c.ImageAnalysisDelay = 2 * time.Minute }),
			wantErr:   true,
			errSubstr: []string{"IMAGE_ANALYSIS_DELAY"},
		},
		{
			name:      "negative db log threshold",
			cfg:       with(func(c *Config) { c.DBLogThreshold = -1 }),
			wantErr:   true,
			errSubstr: []string{"DB_LOG_THRESHOLD"},
		},
		// Webhooks
		{
			name: "valid webhooks",
			cfg: with(func(c *Config) {
				c.PartnerWebhookURL = "https://partner.example/alerts"
				c.SlackWebhookURL = "https://hooks.slack.com/services/T/B/X"
			}),
			wantErr: false,
		},
		{
			name:      "relative partner webhook",
			cfg:       with(func(c *Config) { c.PartnerWebhookURL = "/alerts" }),
			wantErr:   true,
			errSubstr: []string{"PARTNER_WEBHOOK_URL"},
		},
		{
			name:      "non-http slack webhook",
			cfg:       with(func(c *Config) { c.SlackWebhookURL = "ftp://hooks.example" }),
			wantErr:   true,
			errSubstr: []string{"SLACK_WEBHOOK_URL"},
		},
		// Error accumulation: all fields invalid
		{
			name:      "all fields invalid",
			cfg:       Config{ImageAckDelay: -1, ImageAnalysisDelay: -1},
			wantErr:   true,
			errSubstr: []string{"DRAIN_SECONDS", "SHUTDOWN_BUDGET_SECONDS", "HTTP_PORT", "SYNC_CHANNEL", "CLINICIAN_NAME", "IMAGE_ACK_DELAY", "IMAGE_ANALYSIS_DELAY"},
		},
		// Extreme values
		{
			name: "extreme negative values",
			cfg: with(func(c *Config) {
				c.DrainSeconds, c.ShutdownBudgetSeconds, c.APIPort = math.MinInt32, math.MinInt32, math.MinInt32
			}),
			wantErr:   true,
			errSubstr: []string{"DRAIN_SECONDS", "SHUTDOWN_BUDGET_SECONDS", "HTTP_PORT"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				errMsg := err.Error()
				for _, sub := range tt.errSubstr {
					if !strings.Contains(errMsg, sub) {
						t.Errorf("error %q does not contain %q", errMsg, sub)
					}
				}
			}
		})
	}
}

func TestStoreKind(t *testing.T) {
	t.Parallel()

	tests := []struct {
		dbURL, sqlite string
		want          string
	}{
		{"", "", StoreMemory},
		{"", "cases.db", StoreSQLite},
		{"postgres://x", "", StorePostgres},
	}
	for _, tt := range tests {
		c := Config{DatabaseURL: tt.dbURL, SQLitePath: tt.sqlite}
		if got := c.StoreKind(); got != tt.want {
			t.Errorf("StoreKind(%q, %q) = %s, want %s", tt.dbURL, tt.sqlite, got, tt.want)
		}
	}
}

func TestOriginPatterns(t *testing.T) {
	t.Parallel()

	tests := map[string][]string{
		"":                               nil,
		"example.com":                    {"example.com"},
		" a.example , ,*.b.example ":     {"a.example", "*.b.example"},
		"localhost:5173,127.0.0.1:5173,": {"localhost:5173", "127.0.0.1:5173"},
	}
	for in, want := range tests {
		c := Config{AllowedOrigins: in}
		if got := c.OriginPatterns(); !reflect.DeepEqual(got, want) {
			t.Errorf("OriginPatterns(%q) = %v, want %v", in, got, want)
		}
	}
}

func FuzzValidate(f *testing.F) {
	// Seeds: defaults, boundaries, extremes
	seeds := []struct {
		drain, budget, port int
		channel, clinician  string
	}{
		{60, 90, 8080, "carebridge_events", "Dr. Sharma"},
		{1, 2, 1, "c", "d"},
		{299, 300, 65535, "c", "d"},
		{0, 0, 0, "", ""},
		{-1, -1, -1, "", " "},
		{300, 300, 65535, "c", "d"},
		{301, 302, 65536, "", ""},
		{150, 100, 8080, "c", "d"},
		{math.MinInt32, math.MinInt32, math.MinInt32, "", ""},
		{math.MaxInt32, math.MaxInt32, math.MaxInt32, strings.Repeat("x", 70), ""},
	}
	for _, s := range seeds {
		f.Add(s.drain, s.budget, s.port, s.channel, s.clinician)
	}

	f.Fuzz(func(t *testing.T, drain, budget, port int, channel, clinician string) {
		c := Config{
			DrainSeconds:          drain,
			ShutdownBudgetSeconds: budget,
			APIPort:               port,
			SyncChannel:           channel,
			ClinicianName:         clinician,
		}
		err := c.Validate()

		drainOK := drain >= 1 && drain <= 300
		budgetOK := budget >= 1 && budget <= 300
		portOK := port >= 1 && port <= 65535
		crossOK := budget > drain
		channelOK := channel != "" && len(channel) <= 63
		clinicianOK := strings.TrimSpace(clinician) != ""

		allValid := drainOK && budgetOK && portOK && crossOK && channelOK && clinicianOK

		if allValid && err != nil {
			t.Errorf("expected no error for valid config %+v, got: %v", c, err)
		}
		if !allValid && err == nil {
			t.Errorf("expected error for invalid config %+v, got nil", c)
		}
	})
}
