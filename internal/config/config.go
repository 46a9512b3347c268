// Package config loads the Chameleon Engine configuration from
// $HOME/.chameleon/config/config.yaml with sensible defaults.
// Precedence: CLI flags > config file > defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ServerConfig holds transport and logging settings.
type ServerConfig struct {
	Transport string `yaml:"transport"` // stdio or sse
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	LogLevel  string `yaml:"log_level"` // DEBUG, INFO, WARNING, ERROR, CRITICAL
	LogsDir   string `yaml:"logs_dir"`
	Persona   string `yaml:"persona"` // persona whose catalogue is served
}

// DatabaseConfig is a connection target: URL plus optional schema qualifier.
type DatabaseConfig struct {
	URL    string `yaml:"url"`
	Schema string `yaml:"schema"`
}

// TablesConfig allows per-entity table name overrides.
type TablesConfig struct {
	CodeVault        string `yaml:"code_vault"`
	ToolRegistry     string `yaml:"tool_registry"`
	ResourceRegistry string `yaml:"resource_registry"`
	PromptRegistry   string `yaml:"prompt_registry"`
	MacroRegistry    string `yaml:"macro_registry"`
	SecurityPolicy   string `yaml:"security_policy"`
	IconRegistry     string `yaml:"icon_registry"`
	ExecutionLog     string `yaml:"execution_log"`
	AgentNotebook    string `yaml:"agent_notebook"`
	NotebookHistory  string `yaml:"notebook_history"`
	NotebookAudit    string `yaml:"notebook_audit"`
	SalesPerDay      string `yaml:"sales_per_day"`
}

// UIConfig controls the dashboard hosting feature.
type UIConfig struct {
	Enabled bool   `yaml:"enabled"`
	AppsDir string `yaml:"apps_dir"`
	BaseURL string `yaml:"base_url"`
}

// FeaturesConfig groups optional feature toggles.
type FeaturesConfig struct {
	ChameleonUI UIConfig `yaml:"chameleon_ui"`
	// SelfCorrection enables the reflexive learning hook: failed tool
	// executions append a summary to the self_correction notebook domain.
	SelfCorrection bool `yaml:"self_correction"`
	// NotebookAudit enables read/write access trail rows for the notebook.
	NotebookAudit bool `yaml:"notebook_audit"`
}

// Config is the full engine configuration.
type Config struct {
	Server           ServerConfig   `yaml:"server"`
	MetadataDatabase DatabaseConfig `yaml:"metadata_database"`
	DataDatabase     DatabaseConfig `yaml:"data_database"`
	Tables           TablesConfig   `yaml:"tables"`
	Features         FeaturesConfig `yaml:"features"`
}

// Default returns the built-in configuration values.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Transport: "stdio",
			Host:      "0.0.0.0",
			Port:      8000,
			LogLevel:  "INFO",
			LogsDir:   "logs",
			Persona:   "default",
		},
		MetadataDatabase: DatabaseConfig{URL: "sqlite:///chameleon_meta.db"},
		DataDatabase:     DatabaseConfig{URL: "sqlite:///chameleon_data.db"},
		Tables: TablesConfig{
			CodeVault:        "codevault",
			ToolRegistry:     "toolregistry",
			ResourceRegistry: "resourceregistry",
			PromptRegistry:   "promptregistry",
			MacroRegistry:    "macroregistry",
			SecurityPolicy:   "securitypolicy",
			IconRegistry:     "iconregistry",
			ExecutionLog:     "executionlog",
			AgentNotebook:    "agentnotebook",
			NotebookHistory:  "notebookhistory",
			NotebookAudit:    "notebookaudit",
			SalesPerDay:      "sales_per_day",
		},
		Features: FeaturesConfig{
			ChameleonUI: UIConfig{
				Enabled: true,
				AppsDir: "ui_apps",
				BaseURL: "http://localhost:8501",
			},
			SelfCorrection: true,
		},
	}
}

// DefaultPath returns the canonical config file location.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".chameleon", "config", "config.yaml")
	}
	return filepath.Join(home, ".chameleon", "config", "config.yaml")
}

// Load reads configuration from path, merged over defaults. A missing file
// is not an error; a malformed file is.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	// Unmarshal over the prefilled struct so absent keys keep defaults.
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// ValidLogLevels lists the accepted log_level values.
var ValidLogLevels = []string{"DEBUG", "INFO", "WARNING", "ERROR", "CRITICAL"}

// Validate checks values that have a closed set of options.
func (c *Config) Validate() error {
	switch c.Server.Transport {
	case "stdio", "sse":
	default:
		return fmt.Errorf("server.transport must be stdio or sse, got %q", c.Server.Transport)
	}
	for _, lvl := range ValidLogLevels {
		if c.Server.LogLevel == lvl {
			return nil
		}
	}
	return fmt.Errorf("server.log_level must be one of %v, got %q", ValidLogLevels, c.Server.LogLevel)
}
