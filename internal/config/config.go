// Package config handles datalookup configuration loading.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from --config flag) is checked first.
// Then: ./config.yaml, ~/.config/datalookup/config.yaml, /etc/datalookup/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "datalookup", "config.yaml"))
	}

	paths = append(paths, "/etc/datalookup/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all datalookup configuration.
type Config struct {
	Listen      ListenConfig                 `yaml:"listen"`
	Model       ModelConfig                  `yaml:"model"`
	Database    DatabaseConfig               `yaml:"database"`
	Agent       AgentConfig                  `yaml:"agent"`
	Roles       map[string]RoleConfig        `yaml:"roles"`
	Denials     map[string]map[string]string `yaml:"denials"`
	Suggestions SuggestionsConfig            `yaml:"suggestions"`
	Audit       AuditConfig                  `yaml:"audit"`
	Telemetry   TelemetryConfig              `yaml:"telemetry"`
	LogLevel    string                       `yaml:"log_level"`

	// MaxConcurrent caps agent invocations running at once in serve
	// mode. Requests beyond it wait for a slot.
	MaxConcurrent int `yaml:"max_concurrent"`
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// Addr returns the host:port the server binds to.
func (l ListenConfig) Addr() string {
	return fmt.Sprintf("%s:%d", l.Address, l.Port)
}

// ModelConfig selects the language model backend.
type ModelConfig struct {
	// Provider is "ollama" or "groq". Empty picks groq when an API key
	// is set and ollama otherwise.
	Provider string `yaml:"provider"`
	// BaseURL is the server root, e.g. http://localhost:11434.
	BaseURL string `yaml:"base_url"`
	// URL is a full generation endpoint such as
	// http://host:11434/api/generate. Used only when BaseURL is empty.
	URL     string        `yaml:"url"`
	Name    string        `yaml:"name"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`

	Temperature float64 `yaml:"temperature"`
	NumCtx      int     `yaml:"num_ctx"`
	NumPredict  int     `yaml:"num_predict"`
	KeepAlive   string  `yaml:"keep_alive"`

	// SuppressReasoning sends the no-reasoning directive on short
	// prompts.
	SuppressReasoning bool `yaml:"suppress_reasoning"`
	// NativeTools passes tool definitions to the backend and accepts
	// plain prose as the final answer.
	NativeTools bool `yaml:"native_tools"`
}

// ResolvedProvider returns the provider after applying the API key
// fallback.
func (m ModelConfig) ResolvedProvider() string {
	if p := strings.ToLower(strings.TrimSpace(m.Provider)); p != "" {
		return p
	}
	if m.APIKey != "" {
		return "groq"
	}
	return "ollama"
}

// DatabaseConfig defines the queried database.
type DatabaseConfig struct {
	Driver       string        `yaml:"driver"` // postgres or sqlite
	URL          string        `yaml:"url"`
	Schema       string        `yaml:"schema"`
	MaxConns     int32         `yaml:"max_conns"`
	QueryTimeout time.Duration `yaml:"query_timeout"`
}

// AgentConfig bounds the reasoning loop and what each observation may
// carry back to the model.
type AgentConfig struct {
	MaxIterations       int `yaml:"max_iterations"`
	MaxObservationRows  int `yaml:"max_observation_rows"`
	MaxObservationBytes int `yaml:"max_observation_bytes"`
	DefaultLimit        int `yaml:"default_limit"`
	// SampleRows is how many example rows the schema tool shows per
	// table. Zero disables samples.
	SampleRows int `yaml:"sample_rows"`
}

// RoleConfig is one role's allowlist and prompt material.
type RoleConfig struct {
	Tables       []string `yaml:"tables"`
	Persona      string   `yaml:"persona"`
	SchemaGuide  string   `yaml:"schema_guide"`
	Instructions []string `yaml:"instructions"`
}

// SuggestionsConfig overrides the built-in follow-up suggestions and
// clarification terms. Empty maps keep the built-ins.
type SuggestionsConfig struct {
	FollowUps    map[string][]string        `yaml:"followups"`
	Starters     map[string][]string        `yaml:"starters"`
	Ambiguous    map[string]AmbiguityConfig `yaml:"ambiguous"`
	HiddenTopics map[string][]string        `yaml:"hidden_topics"`
	Max          int                        `yaml:"max"`
}

// AmbiguityConfig is the clarification offered for one vague term.
type AmbiguityConfig struct {
	Clarification string   `yaml:"clarification"`
	Options       []string `yaml:"options"`
}

// AuditConfig enables the append-only audit log of guard verdicts and
// executions.
type AuditConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// TelemetryConfig configures OTLP trace export. An empty endpoint
// disables export.
type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	Insecure     bool   `yaml:"insecure"`
	ServiceName  string `yaml:"service_name"`
}

// Load reads configuration from a YAML file on top of [Default], then
// applies environment overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	cfg.Roles = nil
	cfg.Denials = nil
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	defaults := Default()
	if len(cfg.Roles) == 0 {
		cfg.Roles = defaults.Roles
		if cfg.Denials == nil {
			cfg.Denials = defaults.Denials
		}
	}
	cfg.normalizeRoles()
	cfg.ApplyEnv(os.Getenv)

	return cfg, nil
}

// ApplyEnv overrides config values from environment variables. getenv
// is usually os.Getenv.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := getenv("OLLAMA_BASE_URL"); v != "" {
		c.Model.BaseURL = v
	}
	if v := getenv("OLLAMA_URL"); v != "" {
		c.Model.URL = v
	}
	if v := getenv("OLLAMA_MODEL"); v != "" && c.Model.ResolvedProvider() == "ollama" {
		c.Model.Name = v
	}
	if v := getenv("GROQ_API_KEY"); v != "" {
		c.Model.APIKey = v
	}
	if v := getenv("GROQ_MODEL"); v != "" && c.Model.ResolvedProvider() == "groq" {
		c.Model.Name = v
	}
	if v := getenv("DATABASE_URL"); v != "" {
		c.Database.URL = v
	}
	if v := getenv("DATALOOKUP_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
}

// normalizeRoles uppercases role names in roles and denials.
func (c *Config) normalizeRoles() {
	roles := make(map[string]RoleConfig, len(c.Roles))
	for name, rc := range c.Roles {
		roles[strings.ToUpper(strings.TrimSpace(name))] = rc
	}
	c.Roles = roles

	denials := make(map[string]map[string]string, len(c.Denials))
	for name, d := range c.Denials {
		denials[strings.ToUpper(strings.TrimSpace(name))] = d
	}
	c.Denials = denials
}

// RoleNames returns the configured role names, sorted.
func (c *Config) RoleNames() []string {
	names := make([]string, 0, len(c.Roles))
	for name := range c.Roles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate reports every missing or out-of-range setting at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Model.Name == "" {
		errs = append(errs, errors.New("model.name is required"))
	}
	switch c.Model.ResolvedProvider() {
	case "ollama":
	case "groq", "openai":
		if c.Model.APIKey == "" {
			errs = append(errs, fmt.Errorf("model.api_key is required for provider %q", c.Model.ResolvedProvider()))
		}
	default:
		errs = append(errs, fmt.Errorf("model.provider %q is not supported (valid: ollama, groq)", c.Model.Provider))
	}

	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("database.driver %q is not supported (valid: postgres, sqlite)", c.Database.Driver))
	}
	if c.Database.URL == "" {
		errs = append(errs, errors.New("database.url is required (or set DATABASE_URL)"))
	}

	if c.Agent.MaxIterations < 1 {
		errs = append(errs, errors.New("agent.max_iterations must be at least 1"))
	}
	if c.Agent.MaxObservationRows < 1 || c.Agent.MaxObservationBytes < 1 {
		errs = append(errs, errors.New("agent.max_observation_rows and agent.max_observation_bytes must be positive"))
	}
	if c.Agent.DefaultLimit < 1 {
		errs = append(errs, errors.New("agent.default_limit must be positive"))
	}
	if c.Agent.SampleRows < 0 {
		errs = append(errs, errors.New("agent.sample_rows must not be negative"))
	}

	if len(c.Roles) == 0 {
		errs = append(errs, errors.New("at least one role is required"))
	}
	for _, name := range c.RoleNames() {
		if len(c.Roles[name].Tables) == 0 {
			errs = append(errs, fmt.Errorf("roles.%s.tables must list at least one table", name))
		}
	}
	for name := range c.Denials {
		if _, ok := c.Roles[name]; !ok {
			errs = append(errs, fmt.Errorf("denials.%s names an unknown role", name))
		}
	}

	if c.Audit.Enabled && c.Audit.Path == "" {
		errs = append(errs, errors.New("audit.path is required when audit is enabled"))
	}
	if c.MaxConcurrent < 1 {
		errs = append(errs, errors.New("max_concurrent must be at least 1"))
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// Default returns a default configuration.
func Default() *Config {
	return &Config{
		Listen: ListenConfig{Port: 8000},
		Model: ModelConfig{
			Name:              "qwen3:4b",
			Timeout:           120 * time.Second,
			Temperature:       0.1,
			NumCtx:            16384,
			NumPredict:        4096,
			KeepAlive:         "10m",
			SuppressReasoning: true,
		},
		Database: DatabaseConfig{
			Driver:       "postgres",
			QueryTimeout: 30 * time.Second,
		},
		Agent: AgentConfig{
			MaxIterations:       10,
			MaxObservationRows:  50,
			MaxObservationBytes: 4000,
			DefaultLimit:        100,
			SampleRows:          3,
		},
		Roles: map[string]RoleConfig{
			"ADMIN": {
				Tables: []string{
					"Project", "Trip", "TruckDetails", "Expenses", "CashFlow",
					"product_category", "product", "Quotation", "QuotationItem",
					"ExpensesTableTemplate", "ExpensesColumn", "ExpensesCellValue",
					"CashFlowCustomTable", "CashFlowColumn", "CashFlowCellValue",
					"Billing",
				},
				Persona: "You are a data assistant for an Administrator, who has full access to all system data: " +
					"pending approvals, fleet status, quotations, products, financial reports and project summaries.",
			},
			"ENCODER": {
				Tables: []string{
					"Project", "Expenses", "ExpensesTableTemplate", "ExpensesColumn",
					"ExpensesCellValue", "Quotation", "QuotationItem", "Trip",
					"TruckDetails", "product", "product_category",
				},
				Persona: "You are a data assistant for an Encoder, who handles data entry: quotation drafts, trip drafts, " +
					"expense entries and product information. Cash flow, billing and financial reports belong to the Accountant role.",
			},
			"ACCOUNTANT": {
				Tables: []string{
					"Project", "Expenses", "ExpensesTableTemplate", "ExpensesColumn",
					"ExpensesCellValue", "CashFlow", "CashFlowCustomTable",
					"CashFlowColumn", "CashFlowCellValue", "Quotation",
					"QuotationItem", "Billing",
				},
				Persona: "You are a data assistant for an Accountant, who handles financial verification, cash flow, " +
					"the ledger, billing and reports. Fleet management, trips and products belong to the Dispatcher and Admin roles.",
			},
		},
		Denials: map[string]map[string]string{
			"ENCODER": {
				"CashFlow":            "Cash flow data is managed by the Accountant. Please contact your accountant for cash flow information.",
				"CashFlowCustomTable": "Cash flow data is managed by the Accountant.",
				"CashFlowColumn":      "Cash flow data is managed by the Accountant.",
				"CashFlowCellValue":   "Cash flow data is managed by the Accountant.",
				"Billing":             "Billing records are managed by the Accountant. Please contact your accountant for billing information.",
			},
			"ACCOUNTANT": {
				"Trip":             "Trip management is handled by the Dispatcher. Please contact your dispatcher for trip information.",
				"TruckDetails":     "Fleet management is handled by the Dispatcher and Admin.",
				"product":          "Product management is handled by the Admin.",
				"product_category": "Product categories are managed by the Admin.",
			},
		},
		Audit:         AuditConfig{Path: "datalookup-audit.db"},
		Telemetry:     TelemetryConfig{ServiceName: "datalookup"},
		MaxConcurrent: 4,
	}
}
