package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"piplan/internal/domain"
)

// Config models piplan.yml.
type Config struct {
	Project struct {
		ID string `yaml:"id"`
	} `yaml:"project"`
	Planning PlanningConfig  `yaml:"planning"`
	Teams    []domain.Team   `yaml:"teams"`
	Log      LogConfig       `yaml:"log"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

type PlanningConfig struct {
	CapacityBuffer  float64  `yaml:"capacity_buffer"`
	MaxRounds       int      `yaml:"max_rounds"`
	DefaultEffort   float64  `yaml:"default_effort"`
	DefaultCapacity float64  `yaml:"default_capacity"`
	Iterations      []string `yaml:"iterations"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Secret         string   `yaml:"secret"`
	Events         []string `yaml:"events"`
	Enabled        *bool    `yaml:"enabled"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with piplan config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Project.ID == "" {
		return fmt.Errorf("config.project.id is required")
	}
	p := c.Planning
	if p.CapacityBuffer < 0 || p.CapacityBuffer >= 1 {
		return fmt.Errorf("config.planning.capacity_buffer must be in [0,1), got %.2f", p.CapacityBuffer)
	}
	if p.MaxRounds < 1 {
		return fmt.Errorf("config.planning.max_rounds must be at least 1")
	}
	if p.DefaultEffort <= 0 {
		return fmt.Errorf("config.planning.default_effort must be positive")
	}
	if p.DefaultCapacity < 0 {
		return fmt.Errorf("config.planning.default_capacity must not be negative")
	}
	seen := make(map[string]struct{}, len(p.Iterations))
	for _, it := range p.Iterations {
		if strings.TrimSpace(it) == "" {
			return fmt.Errorf("config.planning.iterations contains an empty name")
		}
		if _, dup := seen[it]; dup {
			return fmt.Errorf("iteration %s listed twice", it)
		}
		seen[it] = struct{}{}
	}
	teamIDs := make(map[string]struct{}, len(c.Teams))
	for _, t := range c.Teams {
		if t.ID == "" {
			return fmt.Errorf("config.teams contains a team without id")
		}
		if _, dup := teamIDs[t.ID]; dup {
			return fmt.Errorf("team %s listed twice", t.ID)
		}
		teamIDs[t.ID] = struct{}{}
		if t.Capacity < 0 {
			return fmt.Errorf("team %s has negative capacity", t.ID)
		}
		for it, capacity := range t.CapacityPerIteration {
			if capacity < 0 {
				return fmt.Errorf("team %s has negative capacity for %s", t.ID, it)
			}
		}
	}
	if c.Log.Format != "" && c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("config.log.format must be text or json")
	}
	for i, hook := range c.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("webhook %d has empty url", i)
		}
	}
	return nil
}

// ApplyDefaults fills zero values that have a documented default.
func (c *Config) ApplyDefaults() {
	if c.Planning.MaxRounds == 0 {
		c.Planning.MaxRounds = 3
	}
	if c.Planning.DefaultEffort == 0 {
		c.Planning.DefaultEffort = 5
	}
	if c.Planning.DefaultCapacity == 0 {
		c.Planning.DefaultCapacity = 40
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	for i := range c.Teams {
		if c.Teams[i].Name == "" {
			c.Teams[i].Name = c.Teams[i].ID
		}
		if c.Teams[i].Capacity == 0 {
			c.Teams[i].Capacity = c.Planning.DefaultCapacity
		}
	}
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "piplan.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(projectID string) string {
	return fmt.Sprintf(defaultTemplate, projectID)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct for a project.
func Default(projectID string) *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(GenerateDefault(projectID))).Decode(&cfg)
	cfg.Project.ID = projectID
	cfg.ApplyDefaults()
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. The capacity
// buffer defaults to 0.20 only when the key is absent, so an explicit 0 holds.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	cfg.Planning.CapacityBuffer = 0.20
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `project:
  id: %s

planning:
  capacity_buffer: 0.20
  max_rounds: 3
  default_effort: 5
  default_capacity: 40
  iterations:
    - Sprint 1
    - Sprint 2
    - Sprint 3
    - Sprint 4
    - Sprint 5

teams:
  - id: team-a
    name: Team Alpha
    capacity: 40
  - id: team-b
    name: Team Beta
    capacity: 40

log:
  level: info
  format: text

webhooks: []
`
