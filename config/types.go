package config

import (
	"fmt"
	"os"
	"strings"
)

// Log controls the structured logger.
type Log struct {
	Level      string `toml:"Level"`
	File       string `toml:"File"`
	MaxSizeMB  int    `toml:"MaxSizeMB"`
	MaxBackups int    `toml:"MaxBackups"`
	MaxAgeDays int    `toml:"MaxAgeDays"`
	Compress   bool   `toml:"Compress"`
}

// Model selects a decision-procedure provider. The API key is read from the
// named environment variable and never stored in the file.
type Model struct {
	Provider    string   `toml:"Provider"`
	Model       string   `toml:"Model"`
	APIKeyEnv   string   `toml:"APIKeyEnv"`
	BaseURL     string   `toml:"BaseURL"`
	Temperature float64  `toml:"Temperature"`
	MaxTokens   int      `toml:"MaxTokens"`
	Script      []string `toml:"Script,omitempty"`
}

// APIKey resolves the provider key from the environment.
func (m Model) APIKey() string {
	if strings.TrimSpace(m.APIKeyEnv) == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(m.APIKeyEnv))
}

// merged fills unset fields from def.
func (m Model) merged(def Model) Model {
	if m.Provider == "" {
		m.Provider = def.Provider
	}
	if m.Model == "" {
		m.Model = def.Model
	}
	if m.APIKeyEnv == "" {
		m.APIKeyEnv = def.APIKeyEnv
	}
	if m.BaseURL == "" {
		m.BaseURL = def.BaseURL
	}
	if m.Temperature == 0 {
		m.Temperature = def.Temperature
	}
	if m.MaxTokens == 0 {
		m.MaxTokens = def.MaxTokens
	}
	if len(m.Script) == 0 {
		m.Script = def.Script
	}
	return m
}

// Arbitration holds the defaults every validator inherits.
type Arbitration struct {
	SystemPrompt   string `toml:"SystemPrompt"`
	TimeoutSeconds int    `toml:"TimeoutSeconds"`
	Model          Model  `toml:"model"`
}

// Judge names accepted by the consensus section.
const (
	JudgeStructural = "structural"
	JudgeModel      = "model"
)

// Validator is one member of the equivalence validator set.
type Validator struct {
	ID    string `toml:"ID"`
	Judge string `toml:"Judge"`
	Model Model  `toml:"model"`
}

// Consensus configures the validator set. Quorum zero means two thirds plus
// one.
type Consensus struct {
	Quorum     int         `toml:"Quorum"`
	Validators []Validator `toml:"validators"`
}

// Evidence configures the document fetcher. Reference and size bounds are
// fixed by the arbitration package.
type Evidence struct {
	TimeoutSeconds int     `toml:"TimeoutSeconds"`
	MaxBodyBytes   int64   `toml:"MaxBodyBytes"`
	RatePerSecond  float64 `toml:"RatePerSecond"`
	Burst          int     `toml:"Burst"`
	Attempts       int     `toml:"Attempts"`
	UserAgent      string  `toml:"UserAgent"`
}

// Auth configures bearer token verification.
type Auth struct {
	HMACSecretEnv string `toml:"HMACSecretEnv"`
	Issuer        string `toml:"Issuer"`
	Audience      string `toml:"Audience"`
	// AllowAnonymousReads exposes the read-only views without a token.
	AllowAnonymousReads bool `toml:"AllowAnonymousReads"`
}

// Secret resolves the HMAC secret from the environment.
func (a Auth) Secret() ([]byte, error) {
	value := strings.TrimSpace(os.Getenv(a.HMACSecretEnv))
	if value == "" {
		return nil, fmt.Errorf("config: auth secret env %s is empty", a.HMACSecretEnv)
	}
	return []byte(value), nil
}

// RateLimit bounds requests per authenticated caller.
type RateLimit struct {
	RequestsPerSecond float64 `toml:"RequestsPerSecond"`
	Burst             int     `toml:"Burst"`
}

// Observability configures tracing and metrics export.
type Observability struct {
	ServiceName  string  `toml:"ServiceName"`
	OTLPEndpoint string  `toml:"OTLPEndpoint"`
	OTLPHeaders  string  `toml:"OTLPHeaders"`
	Insecure     bool    `toml:"Insecure"`
	Traces       bool    `toml:"Traces"`
	Metrics      bool    `toml:"Metrics"`
	SampleRatio  float64 `toml:"SampleRatio"`
}

// Webhook forwards committed escrow events. Empty URL disables delivery.
type Webhook struct {
	URL         string `toml:"URL"`
	SecretEnv   string `toml:"SecretEnv"`
	MaxAttempts int    `toml:"MaxAttempts"`
	QueueSize   int    `toml:"QueueSize"`
}

// Secret resolves the signing secret from the environment.
func (w Webhook) Secret() ([]byte, error) {
	value := strings.TrimSpace(os.Getenv(w.SecretEnv))
	if value == "" {
		return nil, fmt.Errorf("config: webhook secret env %s is empty", w.SecretEnv)
	}
	return []byte(value), nil
}
