package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"worktime/internal/calendar"
	"worktime/internal/engine"
)

const FileName = "worktime.yml"

// Config models worktime.yml.
type Config struct {
	Tracker struct {
		BaseURL           string        `yaml:"base_url"`
		Timeout           time.Duration `yaml:"timeout"`
		Concurrency       int           `yaml:"concurrency"`
		SessionCookieName string        `yaml:"session_cookie_name"`
	} `yaml:"tracker"`
	Calendar struct {
		UTCOffset string `yaml:"utc_offset"`
		DayStart  string `yaml:"day_start"`
		DayEnd    string `yaml:"day_end"`
	} `yaml:"calendar"`
	Report struct {
		Status          string            `yaml:"status"`
		OpenInterval    string            `yaml:"open_interval"`
		RowOrder        string            `yaml:"row_order"`
		UnassignedLabel string            `yaml:"unassigned_label"`
		StatusAliases   map[string]string `yaml:"status_aliases"`
		Filename        string            `yaml:"filename"`
	} `yaml:"report"`
	Server struct {
		Addr           string   `yaml:"addr"`
		BasePath       string   `yaml:"base_path"`
		JWTSecret      string   `yaml:"jwt_secret"`
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"server"`
	Cache struct {
		Driver    string        `yaml:"driver"`
		TTL       time.Duration `yaml:"ttl"`
		RedisAddr string        `yaml:"redis_addr"`
		RedisDB   int           `yaml:"redis_db"`
	} `yaml:"cache"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Tracker.BaseURL) == "" {
		return fmt.Errorf("config.tracker.base_url is required")
	}
	if c.Tracker.Concurrency < 1 {
		return fmt.Errorf("config.tracker.concurrency must be at least 1")
	}
	if c.Tracker.Timeout < 0 {
		return fmt.Errorf("config.tracker.timeout must not be negative")
	}
	if _, err := c.BusinessCalendar(); err != nil {
		return fmt.Errorf("config.calendar: %w", err)
	}
	if strings.TrimSpace(c.Report.Status) == "" {
		return fmt.Errorf("config.report.status is required")
	}
	if _, err := engine.ParseOpenIntervalPolicy(c.Report.OpenInterval); err != nil {
		return fmt.Errorf("config.report.open_interval: %w", err)
	}
	if _, err := engine.ParseRowOrder(c.Report.RowOrder); err != nil {
		return fmt.Errorf("config.report.row_order: %w", err)
	}
	for alias, canonical := range c.Report.StatusAliases {
		if alias == "" || canonical == "" {
			return fmt.Errorf("config.report.status_aliases has an empty entry")
		}
	}
	if !strings.HasSuffix(strings.ToLower(c.Report.Filename), ".xlsx") {
		return fmt.Errorf("config.report.filename must end with .xlsx")
	}
	switch c.Cache.Driver {
	case "", "none", "sqlite":
	case "redis":
		if c.Cache.RedisAddr == "" {
			return fmt.Errorf("config.cache.redis_addr is required for the redis driver")
		}
	default:
		return fmt.Errorf("config.cache.driver must be none, sqlite or redis")
	}
	if c.Cache.TTL < 0 {
		return fmt.Errorf("config.cache.ttl must not be negative")
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("config.log.format must be text or json")
	}
	return nil
}

// BusinessCalendar builds the working-hours calendar from the calendar section.
func (c *Config) BusinessCalendar() (calendar.Calendar, error) {
	return calendar.New(c.Calendar.UTCOffset, c.Calendar.DayStart, c.Calendar.DayEnd)
}

// Engine builds a report engine configured from the report section.
func (c *Config) Engine(cal calendar.Calendar) engine.Engine {
	e := engine.New(cal, nil)
	e.OpenInterval, _ = engine.ParseOpenIntervalPolicy(c.Report.OpenInterval)
	e.Order, _ = engine.ParseRowOrder(c.Report.RowOrder)
	e.Aliases = c.Report.StatusAliases
	if c.Report.UnassignedLabel != "" {
		e.Unassigned = c.Report.UnassignedLabel
	}
	return e
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, FileName)
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with wt config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional falls back to Default if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the built-in configuration.
func Default() *Config {
	var cfg Config
	if err := yaml.Unmarshal([]byte(defaultTemplate), &cfg); err != nil {
		panic(fmt.Sprintf("default config: %v", err))
	}
	return &cfg
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// FromYAML parses config on top of the defaults and validates it.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `tracker:
  base_url: https://storm.alabuga.space
  timeout: 30s
  concurrency: 4
  session_cookie_name: session

calendar:
  utc_offset: "+03:00"
  day_start: "08:00"
  day_end: "17:00"

report:
  status: in progress
  # period_end closes a still-open interval at the end of the latest period,
  # now closes it at generation time.
  open_interval: period_end
  row_order: key
  unassigned_label: Unassigned
  status_aliases: {}
  filename: report.xlsx

server:
  addr: 127.0.0.1:8000
  base_path: /api
  jwt_secret: ""
  allowed_origins:
    - http://localhost:3000
    - http://localhost:5173

cache:
  driver: sqlite
  ttl: 10m
  redis_addr: ""
  redis_db: 0

log:
  level: info
  format: text
`
