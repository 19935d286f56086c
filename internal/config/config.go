package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"habitsync/internal/core"
	"habitsync/internal/log"
)

// Summary backends.
const (
	BackendNotion = "notion"
	BackendSheets = "sheets"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

const maxPrecision = 10

type Config struct {
	// Notion
	NotionToken             string
	NotionAPIURL            string
	NotionVersion           string
	NotionTimeout           time.Duration
	NotionSourceDatabaseID  string
	NotionParentPageID      string
	NotionSummaryDatabaseID string

	// Habit extraction
	DateProperty  string
	Habits        []string
	SkipMalformed bool

	// Summary
	SummaryTitle     string
	SummaryPrecision int
	SummaryBackend   string

	// SQLite
	SQLiteDBPath string

	// Google Sheets
	GoogleSpreadsheetID       string
	GoogleServiceAccountJSON  string
	GoogleServiceAccountFile  string
	GoogleApplicationCredFile string

	// AMQP (optional)
	AMQPURL        string
	AMQPExchange   string
	AMQPRoutingKey string

	LogLevel string
}

func Load() *Config {
	cfg := &Config{
		NotionToken:             getEnv("NOTION_TOKEN", ""),
		NotionAPIURL:            getEnv("NOTION_API_URL", "https://api.notion.com"),
		NotionVersion:           getEnv("NOTION_VERSION", "2022-06-28"),
		NotionTimeout:           getEnvDuration("NOTION_TIMEOUT", 30*time.Second),
		NotionSourceDatabaseID:  getEnv("NOTION_SOURCE_DATABASE_ID", ""),
		NotionParentPageID:      getEnv("NOTION_PARENT_PAGE_ID", ""),
		NotionSummaryDatabaseID: getEnv("NOTION_SUMMARY_DATABASE_ID", ""),

		DateProperty:  getEnv("HABIT_DATE_PROPERTY", "Date"),
		Habits:        getEnvList("HABIT_PROPERTIES"),
		SkipMalformed: getEnvBool("HABIT_SKIP_MALFORMED", false),

		SummaryTitle:     getEnv("SUMMARY_TITLE", "Monthly Aggregate Summary"),
		SummaryPrecision: getEnvInt("SUMMARY_PRECISION", 2),
		SummaryBackend:   strings.ToLower(getEnv("SUMMARY_BACKEND", BackendNotion)),

		SQLiteDBPath: getEnv("SQLITE_DB_PATH", "./data/habits.db"),

		GoogleSpreadsheetID:       getEnv("GOOGLE_SPREADSHEET_ID", ""),
		GoogleServiceAccountJSON:  getEnv("GOOGLE_SERVICE_ACCOUNT_JSON", ""),
		GoogleServiceAccountFile:  getEnv("GOOGLE_SERVICE_ACCOUNT_FILE", ""),
		GoogleApplicationCredFile: getEnv("GOOGLE_APPLICATION_CREDENTIALS", ""),

		AMQPURL:        getEnv("AMQP_URL", ""),
		AMQPExchange:   getEnv("AMQP_EXCHANGE", "habitsync"),
		AMQPRoutingKey: getEnv("AMQP_ROUTING_KEY", "summary.updated"),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	return cfg
}

// Validate checks every setting and reports all problems at once as a
// *core.ConfigurationError.
func (c *Config) Validate() error {
	var errors []string

	if strings.TrimSpace(c.NotionToken) == "" {
		errors = append(errors, "NOTION_TOKEN is required")
	}
	if strings.TrimSpace(c.NotionSourceDatabaseID) == "" {
		errors = append(errors, "NOTION_SOURCE_DATABASE_ID is required")
	}
	if u, err := url.Parse(c.NotionAPIURL); err != nil || u.Scheme == "" || u.Host == "" {
		errors = append(errors, fmt.Sprintf("invalid NOTION_API_URL '%s': must be an absolute URL", c.NotionAPIURL))
	}
	if c.NotionTimeout <= 0 {
		errors = append(errors, fmt.Sprintf("invalid NOTION_TIMEOUT %v: must be positive", c.NotionTimeout))
	}
	if strings.TrimSpace(c.DateProperty) == "" {
		errors = append(errors, "HABIT_DATE_PROPERTY cannot be empty")
	}
	for _, h := range c.Habits {
		if strings.EqualFold(h, c.DateProperty) {
			errors = append(errors, fmt.Sprintf("HABIT_PROPERTIES cannot include the date property '%s'", h))
		}
	}
	if c.SummaryPrecision < 0 || c.SummaryPrecision > maxPrecision {
		errors = append(errors, fmt.Sprintf("invalid SUMMARY_PRECISION %d: must be between 0 and %d", c.SummaryPrecision, maxPrecision))
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errors = append(errors, fmt.Sprintf("invalid LOG_LEVEL '%s': must be one of debug, info, warn, error", c.LogLevel))
	}

	validBackends := []string{BackendNotion, BackendSheets, BackendSQLite, BackendMemory}
	isValidBackend := false
	for _, backend := range validBackends {
		if c.SummaryBackend == backend {
			isValidBackend = true
			break
		}
	}
	if !isValidBackend {
		errors = append(errors, fmt.Sprintf("invalid summary backend '%s': must be one of %v", c.SummaryBackend, validBackends))
	}

	switch c.SummaryBackend {
	case BackendNotion:
		if strings.TrimSpace(c.NotionParentPageID) == "" && strings.TrimSpace(c.NotionSummaryDatabaseID) == "" {
			errors = append(errors, "either NOTION_PARENT_PAGE_ID or NOTION_SUMMARY_DATABASE_ID must be provided for the notion backend")
		}
	case BackendSheets:
		if strings.TrimSpace(c.GoogleSpreadsheetID) == "" {
			errors = append(errors, "GOOGLE_SPREADSHEET_ID is required when using the sheets backend")
		}
		if c.GoogleServiceAccountJSON == "" && c.GoogleServiceAccountFile == "" && c.GoogleApplicationCredFile == "" {
			errors = append(errors, "one of GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE or GOOGLE_APPLICATION_CREDENTIALS must be provided for the sheets backend")
		}
		if f := c.credentialsFile(); f != "" && c.GoogleServiceAccountJSON == "" {
			if _, err := os.Stat(f); os.IsNotExist(err) {
				errors = append(errors, fmt.Sprintf("Google service account file does not exist: %s", f))
			}
		}
	case BackendSQLite:
		if strings.TrimSpace(c.SQLiteDBPath) == "" {
			errors = append(errors, "SQLITE_DB_PATH cannot be empty when using the sqlite backend")
		}
	}

	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
	}

	if len(errors) > 0 {
		return &core.ConfigurationError{Reason: fmt.Sprintf("validation failed:\n- %s", strings.Join(errors, "\n- "))}
	}

	return nil
}

// SummaryParent returns the identifier under which the summary resource is
// looked up for the selected backend.
func (c *Config) SummaryParent() string {
	switch c.SummaryBackend {
	case BackendNotion:
		return c.NotionParentPageID
	case BackendSheets:
		return c.GoogleSpreadsheetID
	default:
		return c.NotionSourceDatabaseID
	}
}

// SummaryResource returns an explicitly configured summary resource, if any.
func (c *Config) SummaryResource() string {
	if c.SummaryBackend == BackendNotion {
		return c.NotionSummaryDatabaseID
	}
	return ""
}

func (c *Config) credentialsFile() string {
	if c.GoogleServiceAccountFile != "" {
		return c.GoogleServiceAccountFile
	}
	return c.GoogleApplicationCredFile
}

func getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(strings.TrimSpace(value)); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvList splits a comma-separated variable, dropping empty and repeated
// entries.
func getEnvList(key string) []string {
	var out []string
	seen := map[string]bool{}
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if p := strings.TrimSpace(part); p != "" && !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}
