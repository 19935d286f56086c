package cli

import (
	"errors"
	"strings"

	"github.com/spf13/cobra"

	"habitsync/internal/backend"
	"habitsync/internal/config"
	"habitsync/internal/core"
	"habitsync/internal/habits"
	"habitsync/internal/log"
	"habitsync/internal/pipeline"
)

// options holds the persistent flags. Flags override the environment only
// when set explicitly.
type options struct {
	envFile       string
	source        string
	parent        string
	summaryID     string
	spreadsheetID string
	backend       string
	dbPath        string
	habits        []string
	precision     int
	skipMalformed bool
	logLevel      string
	logFormat     string
	jsonOutput    bool
	dryRun        bool
}

// NewRootCommand builds the habitsync command tree.
func NewRootCommand() *cobra.Command {
	o := &options{}
	root := &cobra.Command{
		Use:   "habitsync",
		Short: "Summarize a Notion habit tracker into monthly averages",
		Long: `habitsync reads every entry of a Notion habit tracking database, builds a
date-ordered table of daily habit values and computes per-month averages
(checkboxes count as 1 or 0). The averages are written to a summary
database, one entry per month, replacing the entry of a month that was
already summarized.

Settings come from the environment (and a .env file); flags override them.`,
		Example: `  # Summarize into a Notion database under the configured parent page
  habitsync run

  # Preview the monthly averages without writing anything
  habitsync run --dry-run

  # Inspect the daily table of another tracker as JSON
  habitsync daily --source 0f3c... --json

  # Keep the summary in a local SQLite file instead
  habitsync run --backend sqlite --db ./data/habits.db`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&o.envFile, "env-file", "", "load variables from this file (default ./.env when present)")
	pf.StringVar(&o.source, "source", "", "source habit database id (NOTION_SOURCE_DATABASE_ID)")
	pf.StringVar(&o.parent, "parent", "", "Notion page holding the summary database (NOTION_PARENT_PAGE_ID)")
	pf.StringVar(&o.summaryID, "summary", "", "existing Notion summary database id (NOTION_SUMMARY_DATABASE_ID)")
	pf.StringVar(&o.spreadsheetID, "spreadsheet", "", "spreadsheet for the sheets backend (GOOGLE_SPREADSHEET_ID)")
	pf.StringVar(&o.backend, "backend", "", "summary backend: "+strings.Join(backend.GetBackendTypeStrings(), ", ")+" (SUMMARY_BACKEND)")
	pf.StringVar(&o.dbPath, "db", "", "SQLite database path for the sqlite backend (SQLITE_DB_PATH)")
	pf.StringSliceVar(&o.habits, "habits", nil, "habit properties to read, default all non-date properties (HABIT_PROPERTIES)")
	pf.IntVar(&o.precision, "precision", 2, "decimal places kept in averages (SUMMARY_PRECISION)")
	pf.BoolVar(&o.skipMalformed, "skip-malformed", false, "skip records without a valid date instead of failing (HABIT_SKIP_MALFORMED)")
	pf.StringVar(&o.logLevel, "log-level", "", "debug, info, warn or error (LOG_LEVEL)")
	pf.StringVar(&o.logFormat, "log-format", "text", "log format: text or json")
	pf.BoolVar(&o.jsonOutput, "json", false, "output in JSON format")

	root.AddCommand(
		newRunCommand(o),
		newDailyCommand(o),
		newMonthlyCommand(o),
		newShowCommand(o),
	)
	return root
}

// Execute runs the root command.
func Execute() error {
	return NewRootCommand().Execute()
}

// ExitCode maps an error to the process exit status: 2 for configuration
// problems, 1 for anything else.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var cfgErr *core.ConfigurationError
	if errors.As(err, &cfgErr) {
		return 2
	}
	return 1
}

// setup loads the environment, applies flag overrides, validates and
// installs the logger. readOnly commands and dry runs never write a summary,
// so they are validated against the memory backend and publish nothing.
func (o *options) setup(cmd *cobra.Command, readOnly bool) (*config.Config, *log.Logger, error) {
	if err := LoadEnvFile(o.envFile); err != nil {
		return nil, nil, &core.ConfigurationError{Field: "env file", Reason: err.Error()}
	}

	cfg := config.Load()
	o.apply(cmd, cfg)
	if readOnly || o.dryRun {
		cfg.SummaryBackend = config.BackendMemory
		cfg.AMQPURL = ""
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	logger, err := SetupLogger(cfg.LogLevel, o.logFormat, cmd.ErrOrStderr())
	if err != nil {
		return nil, nil, &core.ConfigurationError{Field: "LOG_LEVEL", Reason: err.Error()}
	}
	logger.Debug("Configuration loaded",
		log.FieldBackend, cfg.SummaryBackend,
		log.FieldDatabaseID, cfg.NotionSourceDatabaseID,
		log.FieldParentID, cfg.SummaryParent())
	return cfg, logger, nil
}

func (o *options) apply(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("source") {
		cfg.NotionSourceDatabaseID = o.source
	}
	if flags.Changed("parent") {
		cfg.NotionParentPageID = o.parent
	}
	if flags.Changed("summary") {
		cfg.NotionSummaryDatabaseID = o.summaryID
	}
	if flags.Changed("spreadsheet") {
		cfg.GoogleSpreadsheetID = o.spreadsheetID
	}
	if flags.Changed("backend") {
		cfg.SummaryBackend = strings.ToLower(o.backend)
	}
	if flags.Changed("db") {
		cfg.SQLiteDBPath = o.dbPath
	}
	if flags.Changed("habits") {
		cfg.Habits = o.habits
	}
	if flags.Changed("precision") {
		cfg.SummaryPrecision = o.precision
	}
	if flags.Changed("skip-malformed") {
		cfg.SkipMalformed = o.skipMalformed
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = o.logLevel
	}
}

func pipelineConfig(cfg *config.Config, logger *log.Logger) pipeline.Config {
	pc := pipeline.DefaultConfig()
	pc.Mapper = habits.Options{
		DateProperty:  cfg.DateProperty,
		Habits:        cfg.Habits,
		SkipMalformed: cfg.SkipMalformed,
	}
	pc.Precision = cfg.SummaryPrecision
	pc.Backend = cfg.SummaryBackend
	pc.Logger = logger
	return pc
}

func request(cfg *config.Config) pipeline.Request {
	return pipeline.Request{
		SourceDatabaseID: cfg.NotionSourceDatabaseID,
		ParentID:         cfg.SummaryParent(),
		SummaryID:        cfg.SummaryResource(),
	}
}
