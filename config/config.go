package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

type Config struct {
	ListenAddress string `toml:"ListenAddress"`
	// DataDir holds the LevelDB ledger. Empty keeps state in memory.
	DataDir     string `toml:"DataDir"`
	Environment string `toml:"Environment"`

	ReadTimeout  int `toml:"ReadTimeout"`
	WriteTimeout int `toml:"WriteTimeout"`
	// TLSCertFile and TLSKeyFile enable HTTPS when both are set.
	TLSCertFile string `toml:"TLSCertFile"`
	TLSKeyFile  string `toml:"TLSKeyFile"`

	Log           Log           `toml:"log"`
	Arbitration   Arbitration   `toml:"arbitration"`
	Consensus     Consensus     `toml:"consensus"`
	Evidence      Evidence      `toml:"evidence"`
	Auth          Auth          `toml:"auth"`
	RateLimit     RateLimit     `toml:"rate_limit"`
	Webhook       Webhook       `toml:"webhook"`
	Observability Observability `toml:"observability"`
}

// Load loads the configuration from the given path, writing a default file
// first when none exists.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}
	cfg := Default()
	defaults := cfg.Consensus.Validators
	// toml decodes array tables into existing slice entries by position.
	cfg.Consensus.Validators = nil
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	if len(cfg.Consensus.Validators) == 0 {
		cfg.Consensus.Validators = defaults
	}
	cfg.normalise()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration written for a fresh install: three
// validators on the default provider, each with a model-backed judge.
func Default() *Config {
	return &Config{
		ListenAddress: ":8088",
		DataDir:       "./escrow-data",
		Environment:   "local",
		ReadTimeout:   15,
		WriteTimeout:  120,
		Log:           Log{Level: "info", MaxSizeMB: 100, MaxBackups: 5, MaxAgeDays: 14},
		Arbitration: Arbitration{
			TimeoutSeconds: 90,
			Model: Model{
				Provider:    "openai",
				Model:       "gpt-4o-mini",
				APIKeyEnv:   "OPENAI_API_KEY",
				Temperature: 0.2,
				MaxTokens:   512,
			},
		},
		Consensus: Consensus{
			Validators: []Validator{
				{ID: "validator-0", Judge: JudgeModel},
				{ID: "validator-1", Judge: JudgeModel},
				{ID: "validator-2", Judge: JudgeModel},
			},
		},
		Evidence: Evidence{
			TimeoutSeconds: 10,
			MaxBodyBytes:   1 << 20,
			RatePerSecond:  2,
			Burst:          3,
			Attempts:       2,
		},
		Auth: Auth{
			HMACSecretEnv: "ESCROW_JWT_SECRET",
			Issuer:        "p2pescrow",
			Audience:      "escrowd",
		},
		RateLimit: RateLimit{RequestsPerSecond: 5, Burst: 10},
		Webhook:   Webhook{SecretEnv: "ESCROW_WEBHOOK_SECRET", MaxAttempts: 5, QueueSize: 256},
		Observability: Observability{
			ServiceName: "escrowd",
			SampleRatio: 1,
		},
	}
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := Default()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

func (c *Config) normalise() {
	c.ListenAddress = strings.TrimSpace(c.ListenAddress)
	c.DataDir = strings.TrimSpace(c.DataDir)
	c.Webhook.URL = strings.TrimSpace(c.Webhook.URL)
	for i := range c.Consensus.Validators {
		v := &c.Consensus.Validators[i]
		v.ID = strings.TrimSpace(v.ID)
		v.Judge = strings.ToLower(strings.TrimSpace(v.Judge))
		if v.Judge == "" {
			v.Judge = JudgeStructural
		}
	}
}

// ValidatorModel returns the validator's model settings with unset fields
// taken from the arbitration defaults.
func (c *Config) ValidatorModel(v Validator) Model {
	return v.Model.merged(c.Arbitration.Model)
}
