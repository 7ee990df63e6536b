package runtimeresource

import (
	"fmt"
	"os"
	"regexp"
	"time"
)

// Environment variable names.
const (
	envKnowledgeBaseID = "KNOWLEDGE_BASE_ID"
	envAWSRegion       = "AWS_REGION"
	envPollInitial     = "RECONCILE_POLL_INITIAL"
	envPollMax         = "RECONCILE_POLL_MAX"
	envResponseMargin  = "RESPONSE_MARGIN"
	envLogStreamName   = "AWS_LAMBDA_LOG_STREAM_NAME"
	envLogLevel        = "LOG_LEVEL"
)

// Polling and deadline defaults. The poll interval starts short and is
// capped at a few seconds; the response margin is the trailing slice of
// the invocation budget reserved for delivering the response.
const (
	defaultPollInitial    = 2 * time.Second
	defaultPollMax        = 5 * time.Second
	defaultResponseMargin = 10 * time.Second

	// defaultReconcileBudget bounds reconciliation when the invocation
	// context carries no deadline (local harness runs).
	defaultReconcileBudget = 10 * time.Minute
)

// maxPollAttempts caps the polling loop independently of the deadline.
const maxPollAttempts = 120

// regionRE matches an AWS region identifier.
var regionRE = regexp.MustCompile(`^[a-z]{2}-[a-z]+-\d+$`)

// Config holds all handler configuration parsed from environment variables.
type Config struct {
	KnowledgeBaseID string
	Region          string
	PollInitial     time.Duration
	PollMax         time.Duration
	ResponseMargin  time.Duration
	LogStreamName   string
	LogLevel        string
}

// loadConfig reads configuration from environment variables.
// KNOWLEDGE_BASE_ID and AWS_REGION are required; all others have defaults.
func loadConfig() (*Config, error) {
	cfg := &Config{
		KnowledgeBaseID: os.Getenv(envKnowledgeBaseID),
		Region:          os.Getenv(envAWSRegion),
		PollInitial:     defaultPollInitial,
		PollMax:         defaultPollMax,
		ResponseMargin:  defaultResponseMargin,
		LogStreamName:   os.Getenv(envLogStreamName),
		LogLevel:        os.Getenv(envLogLevel),
	}

	if cfg.KnowledgeBaseID == "" {
		return nil, fmt.Errorf("%s is required", envKnowledgeBaseID)
	}
	if cfg.Region == "" {
		return nil, fmt.Errorf("%s is required", envAWSRegion)
	}
	if !regionRE.MatchString(cfg.Region) {
		return nil, fmt.Errorf("%s %q does not match expected format (e.g. us-east-1)", envAWSRegion, cfg.Region)
	}

	for _, override := range []struct {
		env  string
		dest *time.Duration
	}{
		{envPollInitial, &cfg.PollInitial},
		{envPollMax, &cfg.PollMax},
		{envResponseMargin, &cfg.ResponseMargin},
	} {
		raw := os.Getenv(override.env)
		if raw == "" {
			continue
		}
		d, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid %s %q: %w", override.env, raw, err)
		}
		if d <= 0 {
			return nil, fmt.Errorf("invalid %s %q: must be positive", override.env, raw)
		}
		*override.dest = d
	}

	if cfg.PollMax < cfg.PollInitial {
		return nil, fmt.Errorf("%s must not be smaller than %s", envPollMax, envPollInitial)
	}

	return cfg, nil
}

// RuntimeEnvVars returns the environment variables injected into every
// agent runtime so the agent container can reach its knowledge base.
func (c *Config) RuntimeEnvVars() map[string]string {
	return map[string]string{
		envKnowledgeBaseID: c.KnowledgeBaseID,
		envAWSRegion:       c.Region,
	}
}
