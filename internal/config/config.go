// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"longform-pipeline/internal/infra/security"
)

type RuntimeConfig struct {
	Dev bool
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`  // async endpoints
	SyncTimeout     time.Duration `yaml:"sync_timeout"`     // sync generation requests
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"` // graceful drain
	SubmitLimit     int           `yaml:"submit_limit"`     // per org per window; 0 disables
	SubmitWindow    time.Duration `yaml:"submit_window"`
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type DatabaseConfig struct {
	Driver     string `yaml:"driver"` // memory|postgres|firestore
	URL        string `yaml:"url"`
	MaxConns   int    `yaml:"max_conns"`
	Migrate    bool   `yaml:"migrate"`
	ProjectID  string `yaml:"project_id"` // firestore
	Collection string `yaml:"collection"` // firestore
}

type RedisConfig struct {
	URL      string        `yaml:"url"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"` // job snapshot cache
}

type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
}

// ProviderConfig declares one provider instance. Kind selects the adapter.
type ProviderConfig struct {
	Name                    string        `yaml:"name"`
	Kind                    string        `yaml:"kind"` // openai|gemini|compat|data|static
	APIKey                  string        `yaml:"api_key"`
	BaseURL                 string        `yaml:"base_url"`
	Model                   string        `yaml:"model"`
	MaxOutputTokens         int           `yaml:"max_output_tokens"`
	Timeout                 time.Duration `yaml:"timeout"`
	MaxConcurrent           int           `yaml:"max_concurrent"`
	InputPriceMicrosPerTok  int64         `yaml:"input_price_micros"`
	OutputPriceMicrosPerTok int64         `yaml:"output_price_micros"`
	CallPriceMicros         int64         `yaml:"call_price_micros"` // flat fee, structured-data providers
	// Script drives the static provider: "ok", "timeout", "rate_limited", ... consumed per call.
	Script []string `yaml:"script"`
}

type AIConfig struct {
	Providers []ProviderConfig `yaml:"providers"`
}

type PipelineConfig struct {
	MaxAttempts         int                 `yaml:"max_attempts"` // per provider, for timeouts and invalid responses
	RetryBackoff        time.Duration       `yaml:"retry_backoff"`
	CallTimeout         time.Duration       `yaml:"call_timeout"`
	RunDeadline         time.Duration       `yaml:"run_deadline"`
	MaxRunDeadline      time.Duration       `yaml:"max_run_deadline"`
	EvidenceTTL         time.Duration       `yaml:"evidence_ttl"`
	GenerationTTL       time.Duration       `yaml:"generation_ttl"`
	AllowSharedEvidence bool                `yaml:"allow_shared_evidence"`
	StageEstimate       time.Duration       `yaml:"stage_estimate"`
	CacheSweep          time.Duration       `yaml:"cache_sweep"`
	LockTTL             time.Duration       `yaml:"lock_ttl"`
	Stages              map[string][]string `yaml:"stages"` // stage -> provider preference order
}

type WorkerConfig struct {
	Count        int           `yaml:"count"`
	QueueSize    int           `yaml:"queue_size"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Auth     AuthConfig     `yaml:"auth"`
	AI       AIConfig       `yaml:"ai"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Worker   WorkerConfig   `yaml:"worker"`

	Runtime RuntimeConfig `yaml:"-"`
}

// LoadConfig reads the YAML file (optional when path is empty), overlays
// environment variables (a .env file is loaded first if present), applies
// defaults and validates.
func LoadConfig(path string, dev bool) (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	cfg.applyEnv()
	if err := cfg.unseal(os.Getenv("SECRETS_KEY")); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	cfg.Runtime.Dev = dev

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	setIf := func(dst *string, key string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	setIf(&c.Database.URL, "DATABASE_URL")
	setIf(&c.Database.ProjectID, "FIRESTORE_PROJECT_ID")
	setIf(&c.Redis.URL, "REDIS_URL")
	setIf(&c.Redis.Password, "REDIS_PASSWORD")
	setIf(&c.Auth.JWTSecret, "JWT_SECRET")
	setIf(&c.Server.Addr, "HTTP_ADDR")
	for i := range c.AI.Providers {
		p := &c.AI.Providers[i]
		switch p.Kind {
		case "openai":
			setIf(&p.APIKey, "OPENAI_API_KEY")
		case "gemini":
			setIf(&p.APIKey, "GEMINI_API_KEY")
		case "compat":
			setIf(&p.APIKey, "COMPAT_API_KEY")
		case "data":
			setIf(&p.APIKey, "SERP_API_KEY")
		}
	}
}

// unseal decrypts "enc:" values in place. Plain values are left alone, so a
// key is only needed when the file carries sealed secrets.
func (c *Config) unseal(key string) error {
	var sealer *security.Sealer
	if key != "" {
		s, err := security.NewSealer(key)
		if err != nil {
			return fmt.Errorf("SECRETS_KEY: %w", err)
		}
		sealer = s
	}
	fields := []struct {
		name string
		dst  *string
	}{
		{"database.url", &c.Database.URL},
		{"redis.password", &c.Redis.Password},
		{"auth.jwt_secret", &c.Auth.JWTSecret},
	}
	for i := range c.AI.Providers {
		p := &c.AI.Providers[i]
		fields = append(fields, struct {
			name string
			dst  *string
		}{"ai.providers." + p.Name + ".api_key", &p.APIKey})
	}
	for _, f := range fields {
		v, err := sealer.Unseal(*f.dst)
		if err != nil {
			return fmt.Errorf("unseal %s: %w", f.name, err)
		}
		*f.dst = v
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.RequestTimeout <= 0 {
		c.Server.RequestTimeout = 10 * time.Second
	}
	if c.Server.SyncTimeout <= 0 {
		c.Server.SyncTimeout = 5 * time.Minute
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = 15 * time.Second
	}
	if c.Server.SubmitWindow <= 0 {
		c.Server.SubmitWindow = time.Minute
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "memory"
	}
	if c.Database.MaxConns <= 0 {
		c.Database.MaxConns = 10
	}
	if c.Database.Collection == "" {
		c.Database.Collection = "generation_jobs"
	}
	c.Redis.TTL = normalizeTTL(c.Redis.TTL)
	if c.Auth.TokenTTL <= 0 {
		c.Auth.TokenTTL = 24 * time.Hour
	}
	for i := range c.AI.Providers {
		p := &c.AI.Providers[i]
		if p.Name == "" {
			p.Name = p.Kind
		}
	}

	pc := &c.Pipeline
	if pc.MaxAttempts <= 0 {
		pc.MaxAttempts = 2
	}
	if pc.RetryBackoff <= 0 {
		pc.RetryBackoff = 250 * time.Millisecond
	}
	if pc.CallTimeout <= 0 {
		pc.CallTimeout = 60 * time.Second
	}
	if pc.MaxRunDeadline <= 0 {
		pc.MaxRunDeadline = 15 * time.Minute
	}
	if pc.EvidenceTTL <= 0 {
		pc.EvidenceTTL = 24 * time.Hour
	}
	if pc.GenerationTTL <= 0 {
		pc.GenerationTTL = 6 * time.Hour
	}
	if pc.StageEstimate <= 0 {
		pc.StageEstimate = 20 * time.Second
	}
	if pc.LockTTL <= 0 {
		pc.LockTTL = 90 * time.Second
	}
	for i := range c.AI.Providers {
		if c.AI.Providers[i].Timeout <= 0 {
			c.AI.Providers[i].Timeout = pc.CallTimeout
		}
	}

	if c.Worker.Count <= 0 {
		c.Worker.Count = 4
	}
	if c.Worker.QueueSize <= 0 {
		c.Worker.QueueSize = c.Worker.Count * 4
	}
	if c.Worker.PollInterval <= 0 {
		c.Worker.PollInterval = 2 * time.Second
	}
}

// Validate performs minimal validation of settings the app cannot run without.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "memory":
	case "postgres":
		if c.Database.URL == "" {
			return errors.New("database.url is required for the postgres driver")
		}
	case "firestore":
		if c.Database.ProjectID == "" {
			return errors.New("database.project_id is required for the firestore driver")
		}
	default:
		return fmt.Errorf("database.driver %q is not supported", c.Database.Driver)
	}
	if len(c.AI.Providers) == 0 {
		return errors.New("ai.providers must declare at least one provider")
	}
	known := make(map[string]struct{}, len(c.AI.Providers))
	for _, p := range c.AI.Providers {
		if p.Name == "" {
			return errors.New("ai.providers: name or kind is required")
		}
		if _, dup := known[p.Name]; dup {
			return fmt.Errorf("ai.providers: duplicate name %q", p.Name)
		}
		known[p.Name] = struct{}{}
	}
	for stage, names := range c.Pipeline.Stages {
		for _, n := range names {
			if _, ok := known[n]; !ok {
				return fmt.Errorf("pipeline.stages.%s references unknown provider %q", stage, n)
			}
		}
	}
	if c.Pipeline.RunDeadline > c.Pipeline.MaxRunDeadline {
		return errors.New("pipeline.run_deadline exceeds pipeline.max_run_deadline")
	}
	return nil
}

func normalizeTTL(d time.Duration) time.Duration {
	if d <= 0 {
		return time.Hour
	}
	return d
}
