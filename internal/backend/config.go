package backend

import (
	"fmt"

	"habitsync/internal/config"
	"habitsync/internal/notion"
)

// FromAppConfig converts the application config to backend config
func FromAppConfig(appConfig *config.Config, nc *notion.Client) (Config, error) {
	if appConfig == nil {
		return Config{}, fmt.Errorf("app config is nil")
	}

	backendType := BackendType(appConfig.SummaryBackend)
	if !backendType.IsValid() {
		return Config{}, fmt.Errorf("invalid backend type in config: %s", appConfig.SummaryBackend)
	}

	return Config{
		Type:         backendType,
		SummaryTitle: appConfig.SummaryTitle,
		Notion:       nc,
		SQLiteDBPath: appConfig.SQLiteDBPath,
	}, nil
}

// Validate validates the backend configuration
func (c Config) Validate() error {
	if !c.Type.IsValid() {
		return fmt.Errorf("invalid backend type: %s", c.Type)
	}

	switch c.Type {
	case NotionBackend:
		if c.Notion == nil {
			return fmt.Errorf("notion client is required for notion backend")
		}
	case SQLiteBackend:
		if c.SQLiteDBPath == "" {
			return fmt.Errorf("SQLite database path is required for sqlite backend")
		}
	case SheetsBackend, MemoryBackend:
		// Sheets credentials are resolved from the environment at creation.
	}

	return nil
}

// GetBackendTypes returns all valid backend types
func GetBackendTypes() []BackendType {
	return []BackendType{NotionBackend, SheetsBackend, SQLiteBackend, MemoryBackend}
}

// GetBackendTypeStrings returns all valid backend type strings
func GetBackendTypeStrings() []string {
	types := GetBackendTypes()
	strings := make([]string, len(types))
	for i, t := range types {
		strings[i] = t.String()
	}
	return strings
}
