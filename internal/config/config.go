package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/eracle/linkreach/internal/models"
)

// Account binds a handle to its isolated storage and browser session
// artifacts. One database per account; no cross-account reads.
type Account struct {
	Handle     string `yaml:"handle"`
	DBPath     string `yaml:"db_path"`
	CookiePath string `yaml:"cookie_path"`
}

type Config struct {
	LinkedIn struct {
		BaseURL string `yaml:"base_url"`
	} `yaml:"linkedin"`
	Campaign struct {
		Name     string   `yaml:"name"`
		InputCSV string   `yaml:"input_csv"`
		Actions  []string `yaml:"actions"`
		// MaxRetries bounds recoverable failures per step before the
		// profile is failed; 0 retries forever.
		MaxRetries      int `yaml:"max_retries"`
		TickIntervalMin int `yaml:"tick_interval_minutes"`
	} `yaml:"campaign"`
	Accounts []Account `yaml:"accounts"`
	Limits   struct {
		MaxConnectionsPerDay int `yaml:"max_connections_per_day"`
		MaxMessagesPerDay    int `yaml:"max_messages_per_day"`
	} `yaml:"limits"`
	Stealth struct {
		Headless          bool   `yaml:"headless"`
		UserAgent         string `yaml:"user_agent"`
		MinDelayMs        int    `yaml:"min_delay_ms"`
		MaxDelayMs        int    `yaml:"max_delay_ms"`
		ViewportWidthMin  int    `yaml:"viewport_width_min"`
		ViewportWidthMax  int    `yaml:"viewport_width_max"`
		ViewportHeightMin int    `yaml:"viewport_height_min"`
		ViewportHeightMax int    `yaml:"viewport_height_max"`
		ActiveStart       string `yaml:"active_start"`
		ActiveEnd         string `yaml:"active_end"`
	} `yaml:"stealth"`
	Templates struct {
		ConnectionNote string `yaml:"connection_note_template"`
		FollowUp       string `yaml:"follow_up_message_template"`
	} `yaml:"templates"`
	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

func Load(path string) (*Config, error) {
	_ = godotenv.Load() // optional
	cfg := defaultConfig()
	if b, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	applyEnvOverrides(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// AccountByHandle returns the account section for handle.
func (c *Config) AccountByHandle(handle string) (Account, error) {
	for _, a := range c.Accounts {
		if a.Handle == handle {
			return a, nil
		}
	}
	return Account{}, fmt.Errorf("unknown account handle: %q", handle)
}

func defaultConfig() Config {
	var cfg Config
	cfg.LinkedIn.BaseURL = "https://www.linkedin.com/"
	cfg.Campaign.Name = "connect_follow_up"
	cfg.Campaign.InputCSV = "assets/inputs/urls.csv"
	cfg.Campaign.Actions = []string{
		string(models.ActionEnrich),
		string(models.ActionConnect),
		string(models.ActionCheckAcceptance),
		string(models.ActionFollowUp),
	}
	cfg.Campaign.MaxRetries = 3
	cfg.Campaign.TickIntervalMin = 360
	cfg.Accounts = []Account{{
		Handle:     "default",
		DBPath:     "linkreach-default.db",
		CookiePath: ".cache/cookies-default.json",
	}}
	cfg.Limits.MaxConnectionsPerDay = 20
	cfg.Limits.MaxMessagesPerDay = 50
	cfg.Stealth.Headless = false
	cfg.Stealth.MinDelayMs = 120
	cfg.Stealth.MaxDelayMs = 900
	cfg.Stealth.ViewportWidthMin = 1280
	cfg.Stealth.ViewportWidthMax = 1680
	cfg.Stealth.ViewportHeightMin = 720
	cfg.Stealth.ViewportHeightMax = 1050
	cfg.Stealth.ActiveStart = "09:00"
	cfg.Stealth.ActiveEnd = "18:00"
	cfg.Logging.Level = "info"
	cfg.Templates.ConnectionNote = "Hi {{FirstName}}, noticed your work at {{Company}} as {{Title}} - would love to connect."
	cfg.Templates.FollowUp = "Thanks for connecting, {{FirstName}}! Happy to share ideas whenever useful."
	return cfg
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LINKREACH_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("LINKREACH_HEADLESS"); v == "1" || v == "true" {
		cfg.Stealth.Headless = true
	}
	if v := os.Getenv("LINKREACH_INPUT_CSV"); v != "" {
		cfg.Campaign.InputCSV = v
	}
}

func validate(cfg *Config) error {
	if cfg.LinkedIn.BaseURL == "" {
		return errors.New("linkedin.base_url is required")
	}
	if cfg.Campaign.Name == "" {
		return errors.New("campaign.name is required")
	}
	if cfg.Campaign.InputCSV == "" {
		return errors.New("campaign.input_csv is required")
	}
	if cfg.Campaign.MaxRetries < 0 {
		return errors.New("campaign.max_retries must be >= 0")
	}
	// Unknown action kinds are a config error, not a dispatch error.
	for _, a := range cfg.Campaign.Actions {
		if _, err := models.ParseActionKind(a); err != nil {
			return fmt.Errorf("campaign.actions: %w", err)
		}
	}
	if len(cfg.Accounts) == 0 {
		return errors.New("at least one account is required")
	}
	seen := map[string]bool{}
	for _, a := range cfg.Accounts {
		if a.Handle == "" || a.DBPath == "" {
			return errors.New("every account needs handle and db_path")
		}
		if seen[a.Handle] {
			return fmt.Errorf("duplicate account handle: %q", a.Handle)
		}
		seen[a.Handle] = true
	}
	if cfg.Limits.MaxConnectionsPerDay <= 0 {
		return errors.New("limits.max_connections_per_day must be > 0")
	}
	if cfg.Limits.MaxMessagesPerDay <= 0 {
		return errors.New("limits.max_messages_per_day must be > 0")
	}
	for name, v := range map[string]string{
		"stealth.active_start": cfg.Stealth.ActiveStart,
		"stealth.active_end":   cfg.Stealth.ActiveEnd,
	} {
		if _, err := time.Parse("15:04", v); err != nil {
			return fmt.Errorf("%s: %q is not HH:MM", name, v)
		}
	}
	return nil
}
