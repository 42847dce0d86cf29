// Package config loads kernel configuration from an optional YAML file
// with ANVIL_* environment overrides on top. Environment always wins so
// deployments can tweak a shared file without editing it.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/forgeworks/anvil/internal/core/domain"
)

// Duration parses YAML duration strings like "15m" or "90s".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

type BudgetConfig struct {
	// MaxCostPerProject caps total spend per job in USD; zero means no cap.
	MaxCostPerProject float64 `yaml:"max_cost_per_project"`
	// MaxCostPerHour caps global spend per wall-clock hour; zero means no cap.
	MaxCostPerHour float64 `yaml:"max_cost_per_hour"`
	// AlertThreshold is the warning fraction of either cap (default 0.8).
	AlertThreshold float64 `yaml:"alert_threshold"`
}

type TimeoutConfig struct {
	Phase Duration `yaml:"phase"`
	Issue Duration `yaml:"issue"`
}

type AgentConfig struct {
	// BaseURL points at any OpenAI-compatible endpoint.
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
}

type Config struct {
	Listen            string        `yaml:"listen"`
	DBPath            string        `yaml:"db_path"`
	WorkspaceDir      string        `yaml:"workspace_dir"`
	MaxConcurrentJobs int64         `yaml:"max_concurrent_jobs"`
	EstimatedUnitCost float64       `yaml:"estimated_unit_cost"`
	Budget            BudgetConfig  `yaml:"budget"`
	Timeouts          TimeoutConfig `yaml:"timeouts"`
	Agent             AgentConfig   `yaml:"agent"`

	// Pricing overrides or extends the built-in per-model price table.
	Pricing map[string]domain.ModelPrice `yaml:"pricing"`
}

func Default() Config {
	return Config{
		Listen:            ":8080",
		DBPath:            "anvil.db",
		MaxConcurrentJobs: 10,
		Budget: BudgetConfig{
			AlertThreshold: 0.8,
		},
		Timeouts: TimeoutConfig{
			Phase: Duration(15 * time.Minute),
			Issue: Duration(10 * time.Minute),
		},
	}
}

// Load reads the file at path when it exists, then applies environment
// overrides. A missing file is not an error; a malformed one is.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// Defaults plus environment only.
		case err != nil:
			return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		}
	}

	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setFloat := func(key string, dst *float64) {
		if v := os.Getenv(key); v != "" {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				*dst = f
			}
		}
	}

	setString("ANVIL_LISTEN", &cfg.Listen)
	setString("ANVIL_DB_PATH", &cfg.DBPath)
	setString("ANVIL_WORKSPACE_DIR", &cfg.WorkspaceDir)
	setString("ANVIL_AGENT_BASE_URL", &cfg.Agent.BaseURL)
	setString("ANVIL_AGENT_API_KEY", &cfg.Agent.APIKey)
	setString("ANVIL_AGENT_MODEL", &cfg.Agent.Model)
	setFloat("ANVIL_MAX_COST_PER_PROJECT", &cfg.Budget.MaxCostPerProject)
	setFloat("ANVIL_MAX_COST_PER_HOUR", &cfg.Budget.MaxCostPerHour)
	if v := os.Getenv("ANVIL_MAX_CONCURRENT_JOBS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			cfg.MaxConcurrentJobs = n
		}
	}
}

// MaskSecret returns a masked version safe for logs: "****abcd".
func MaskSecret(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 4 {
		return "****"
	}
	return "****" + secret[len(secret)-4:]
}
