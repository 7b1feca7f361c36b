package am

import (
	"regexp"
	"strings"

	"github.com/teranos/upilookup/errors"
)

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	// Lookup endpoint must carry the placeholder, or every request hits the same URL
	if c.Lookup.Endpoint == "" {
		return errors.New("lookup.endpoint cannot be empty")
	}
	if !strings.Contains(c.Lookup.Endpoint, "{upi_id}") {
		return errors.WithHint(
			errors.Newf("lookup.endpoint %q has no {upi_id} placeholder", c.Lookup.Endpoint),
			`e.g. "https://host/upi.php?upi_id={upi_id}"`)
	}
	if c.Lookup.TimeoutSeconds <= 0 {
		return errors.Newf("lookup.timeout_seconds must be > 0, got %d", c.Lookup.TimeoutSeconds)
	}
	if c.Lookup.MaxAttempts < 1 {
		return errors.Newf("lookup.max_attempts must be >= 1, got %d", c.Lookup.MaxAttempts)
	}
	if c.Lookup.BackoffBaseMS < 0 {
		return errors.Newf("lookup.backoff_base_ms must be >= 0, got %d", c.Lookup.BackoffBaseMS)
	}
	if c.Lookup.BackoffMaxMS < c.Lookup.BackoffBaseMS {
		return errors.Newf("lookup.backoff_max_ms (%d) must be >= backoff_base_ms (%d)",
			c.Lookup.BackoffMaxMS, c.Lookup.BackoffBaseMS)
	}

	// Rate limit: zero would stall every worker forever
	if c.RateLimit.CallsPerSecond <= 0 {
		return errors.WithHint(
			errors.Newf("rate_limit.calls_per_second must be > 0, got %d", c.RateLimit.CallsPerSecond),
			"set rate_limit.calls_per_second in am.toml")
	}
	if c.RateLimit.WindowMS <= 0 {
		return errors.Newf("rate_limit.window_ms must be > 0, got %d", c.RateLimit.WindowMS)
	}
	switch c.RateLimit.Policy {
	case PolicySlidingWindow, PolicyTokenBucket:
	default:
		return errors.Newf("rate_limit.policy must be %q or %q, got %q",
			PolicySlidingWindow, PolicyTokenBucket, c.RateLimit.Policy)
	}

	if c.Pool.Workers < 1 || c.Pool.Workers > MaxWorkers {
		return errors.Newf("pool.workers must be between 1 and %d, got %d", MaxWorkers, c.Pool.Workers)
	}

	if c.Input.Pattern != "" {
		if _, err := regexp.Compile(c.Input.Pattern); err != nil {
			return errors.Wrapf(err, "input.pattern %q", c.Input.Pattern)
		}
	} else {
		if c.Input.MinDigits < 1 {
			return errors.Newf("input.min_digits must be >= 1, got %d", c.Input.MinDigits)
		}
		if c.Input.MaxDigits < c.Input.MinDigits {
			return errors.Newf("input.max_digits (%d) must be >= min_digits (%d)",
				c.Input.MaxDigits, c.Input.MinDigits)
		}
	}

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return errors.Newf("server.port out of range: %d", c.Server.Port)
	}

	return nil
}
