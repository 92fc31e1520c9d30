package config

import (
	"errors"
	"fmt"
	"strings"
)

var (
	MaxValidators = 64
)

// Validate rejects configurations the service cannot start with.
func (c *Config) Validate() error {
	var errs []error
	if c.ListenAddress == "" {
		errs = append(errs, fmt.Errorf("listen address required"))
	}
	if c.ReadTimeout < 0 || c.WriteTimeout < 0 {
		errs = append(errs, fmt.Errorf("timeouts must be non-negative"))
	}
	if (c.TLSCertFile == "") != (c.TLSKeyFile == "") {
		errs = append(errs, fmt.Errorf("TLSCertFile and TLSKeyFile must be set together"))
	}

	n := len(c.Consensus.Validators)
	switch {
	case n == 0:
		errs = append(errs, fmt.Errorf("consensus: at least one validator required"))
	case n > MaxValidators:
		errs = append(errs, fmt.Errorf("consensus: %d validators exceeds limit %d", n, MaxValidators))
	}
	if c.Consensus.Quorum < 0 || c.Consensus.Quorum > n {
		errs = append(errs, fmt.Errorf("consensus: quorum %d out of range for %d validators", c.Consensus.Quorum, n))
	}
	seen := make(map[string]struct{}, n)
	for i, v := range c.Consensus.Validators {
		if v.ID == "" {
			errs = append(errs, fmt.Errorf("consensus: validator %d has no ID", i))
			continue
		}
		if _, dup := seen[v.ID]; dup {
			errs = append(errs, fmt.Errorf("consensus: duplicate validator %q", v.ID))
		}
		seen[v.ID] = struct{}{}
		if v.Judge != JudgeStructural && v.Judge != JudgeModel {
			errs = append(errs, fmt.Errorf("consensus: validator %q has unknown judge %q", v.ID, v.Judge))
		}
		if strings.TrimSpace(c.ValidatorModel(v).Provider) == "" {
			errs = append(errs, fmt.Errorf("consensus: validator %q has no provider", v.ID))
		}
	}

	if c.Evidence.TimeoutSeconds < 0 || c.Evidence.Attempts < 0 || c.Evidence.RatePerSecond < 0 || c.Evidence.Burst < 0 {
		errs = append(errs, fmt.Errorf("evidence: limits must be non-negative"))
	}
	if strings.TrimSpace(c.Auth.HMACSecretEnv) == "" {
		errs = append(errs, fmt.Errorf("auth: HMACSecretEnv required"))
	}
	if c.RateLimit.RequestsPerSecond < 0 || c.RateLimit.Burst < 0 {
		errs = append(errs, fmt.Errorf("rate_limit: values must be non-negative"))
	}
	if c.Webhook.URL != "" && strings.TrimSpace(c.Webhook.SecretEnv) == "" {
		errs = append(errs, fmt.Errorf("webhook: SecretEnv required when URL is set"))
	}
	if r := c.Observability.SampleRatio; r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("observability: sample ratio %v outside [0,1]", r))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}
