package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
}

type MQConfig struct {
	URL string `yaml:"url"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type JWTConfig struct {
	Secret string `yaml:"secret"`
}

type ServerConfig struct {
	Port string `yaml:"port"`
}

// CrewConfig points at the crew gateway that runs the AI analysis crews.
type CrewConfig struct {
	BaseURL        string        `yaml:"base_url"`
	SubmitTimeout  time.Duration `yaml:"submit_timeout"`
	RunMaxDuration time.Duration `yaml:"run_max_duration"`
}

func (c *CrewConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		BaseURL        string `yaml:"base_url"`
		SubmitTimeout  string `yaml:"submit_timeout"`
		RunMaxDuration string `yaml:"run_max_duration"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}

	c.BaseURL = raw.BaseURL

	var err error
	if c.SubmitTimeout, err = parseDuration(raw.SubmitTimeout); err != nil {
		return fmt.Errorf("crew.submit_timeout: %w", err)
	}
	if c.RunMaxDuration, err = parseDuration(raw.RunMaxDuration); err != nil {
		return fmt.Errorf("crew.run_max_duration: %w", err)
	}
	return nil
}

// GateConfig holds the published gate thresholds. They are configuration,
// never literals in evaluator logic.
type GateConfig struct {
	ProblemResonanceMin float64 `yaml:"problem_resonance_min"`
	ZombieRatioMax      float64 `yaml:"zombie_ratio_max"`
	LTVCACProfitableMin float64 `yaml:"ltv_cac_profitable_min"`
	LTVCACUnderwaterMax float64 `yaml:"ltv_cac_underwater_max"`
}

// EscalationConfig holds the checkpoint escalation tier durations, measured
// from checkpoint creation. A zero duration disables that tier.
type EscalationConfig struct {
	Reminder   time.Duration `yaml:"reminder"`
	Urgent     time.Duration `yaml:"urgent"`
	AutoPause  time.Duration `yaml:"auto_pause"`
	AutoExpire time.Duration `yaml:"auto_expire"`
}

func (e *EscalationConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		Reminder   string `yaml:"reminder"`
		Urgent     string `yaml:"urgent"`
		AutoPause  string `yaml:"auto_pause"`
		AutoExpire string `yaml:"auto_expire"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}

	var err error
	if e.Reminder, err = parseDuration(raw.Reminder); err != nil {
		return fmt.Errorf("escalation.reminder: %w", err)
	}
	if e.Urgent, err = parseDuration(raw.Urgent); err != nil {
		return fmt.Errorf("escalation.urgent: %w", err)
	}
	if e.AutoPause, err = parseDuration(raw.AutoPause); err != nil {
		return fmt.Errorf("escalation.auto_pause: %w", err)
	}
	if e.AutoExpire, err = parseDuration(raw.AutoExpire); err != nil {
		return fmt.Errorf("escalation.auto_expire: %w", err)
	}
	return nil
}

// parseDuration treats an absent value as zero so optional tiers can be
// left out of the config file.
func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	return time.ParseDuration(s)
}

type OtelConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
}

type Config struct {
	DB         DBConfig         `yaml:"db"`
	MQ         MQConfig         `yaml:"mq"`
	Redis      RedisConfig      `yaml:"redis"`
	JWT        JWTConfig        `yaml:"jwt"`
	Server     ServerConfig     `yaml:"server"`
	Crew       CrewConfig       `yaml:"crew"`
	Gates      GateConfig       `yaml:"gates"`
	Escalation EscalationConfig `yaml:"escalation"`
	Otel       OtelConfig       `yaml:"otel"`
}

// Load reads config.yaml (path overridable via CONFIG_PATH) and applies
// environment variable overrides on top.
func Load() (*Config, error) {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config.yaml"
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	var cfg Config
	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}

	overrideFromEnv(&cfg)
	applyDefaults(&cfg)

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Crew.SubmitTimeout == 0 {
		cfg.Crew.SubmitTimeout = 5 * time.Second
	}
	if cfg.Crew.RunMaxDuration == 0 {
		cfg.Crew.RunMaxDuration = 30 * time.Minute
	}
	if cfg.Escalation.Reminder == 0 {
		cfg.Escalation.Reminder = 24 * time.Hour
	}
	if cfg.Escalation.Urgent == 0 {
		cfg.Escalation.Urgent = 72 * time.Hour
	}
	if cfg.Escalation.AutoPause == 0 {
		cfg.Escalation.AutoPause = 7 * 24 * time.Hour
	}
	// AutoExpire intentionally has no default: zero keeps the hard-expire
	// tier disabled unless a deployment opts in.
}

func overrideFromEnv(cfg *Config) {
	if host := os.Getenv("DB_HOST"); host != "" {
		cfg.DB.Host = host
	}
	if port := os.Getenv("DB_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.DB.Port = p
		}
	}
	if user := os.Getenv("DB_USER"); user != "" {
		cfg.DB.User = user
	}
	if password := os.Getenv("DB_PASSWORD"); password != "" {
		cfg.DB.Password = password
	}
	if name := os.Getenv("DB_NAME"); name != "" {
		cfg.DB.Name = name
	}

	if url := os.Getenv("MQ_URL"); url != "" {
		cfg.MQ.URL = url
	}

	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Redis.Addr = addr
	}
	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		cfg.Redis.Password = password
	}

	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		cfg.JWT.Secret = secret
	}

	if port := os.Getenv("SERVER_PORT"); port != "" {
		cfg.Server.Port = port
	}

	if url := os.Getenv("CREW_BASE_URL"); url != "" {
		cfg.Crew.BaseURL = url
	}

	if endpoint := os.Getenv("OTEL_ENDPOINT"); endpoint != "" {
		cfg.Otel.Endpoint = endpoint
		cfg.Otel.Enabled = true
	}
}
