package config

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/wesleyorama2/ridestorm/internal/loadtest/executor"
	"github.com/wesleyorama2/ridestorm/internal/loadtest/ride"
	"github.com/wesleyorama2/ridestorm/internal/loadtest/threshold"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors struct {
	Errors []*ValidationError
}

func (e *ValidationErrors) Error() string {
	if len(e.Errors) == 0 {
		return "no validation errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d validation errors:\n", len(e.Errors))
	for i, err := range e.Errors {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, err.Error())
	}
	return sb.String()
}

// Add adds an error to the collection.
func (e *ValidationErrors) Add(field, message string) {
	e.Errors = append(e.Errors, &ValidationError{Field: field, Message: message})
}

// HasErrors returns true if there are any errors.
func (e *ValidationErrors) HasErrors() bool {
	return len(e.Errors) > 0
}

// Validate validates the run configuration.
//
// Returns nil if valid, or a *ValidationErrors containing every problem found.
func (c *TestConfig) Validate() error {
	errs := &ValidationErrors{}

	if c.BaseURL != "" {
		validateBaseURL(c.BaseURL, errs)
	}

	if !executor.IsSupported(c.Executor) {
		errs.Add("executor", fmt.Sprintf("unknown executor type %q", c.Executor))
	}

	validateDurations(c, errs)

	if c.Timeout < 0 {
		errs.Add("timeout", "cannot be negative")
	}
	if c.LogEvery < 0 {
		errs.Add("logEvery", "cannot be negative")
	}

	for name := range c.Headers {
		if strings.TrimSpace(name) == "" {
			errs.Add("headers", "header name cannot be empty")
		}
	}

	validateThresholds(c.Thresholds, errs)

	if c.Catalog != nil {
		if err := c.Catalog.Validate(); err != nil {
			errs.Add("catalog", err.Error())
		}
	}

	if c.ResponseSchema != "" {
		if _, err := ride.MatchesSchema(c.ResponseSchema); err != nil {
			errs.Add("responseSchema", err.Error())
		}
	}

	// Executor rules only make sense once every field parsed.
	if !errs.HasErrors() {
		if cfg, err := c.ExecutorConfig(); err != nil {
			errs.Add("", err.Error())
		} else if err := cfg.Validate(); err != nil {
			var ve *executor.ValidationError
			if errors.As(err, &ve) {
				errs.Add(ve.Field, ve.Message)
			} else {
				errs.Add("", err.Error())
			}
		}
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

func validateBaseURL(raw string, errs *ValidationErrors) {
	u, err := url.Parse(raw)
	if err != nil {
		errs.Add("baseUrl", fmt.Sprintf("invalid URL: %v", err))
		return
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		errs.Add("baseUrl", "scheme must be http or https")
	}
	if u.Host == "" {
		errs.Add("baseUrl", "host is required")
	}
}

func validateDurations(c *TestConfig, errs *ValidationErrors) {
	check := func(field, value string) {
		d, err := ParseDurationString(value)
		if err != nil {
			errs.Add(field, err.Error())
		} else if d < 0 {
			errs.Add(field, "cannot be negative")
		}
	}

	check("duration", c.Duration)
	check("gracefulStop", c.GracefulStop)
	check("sleep", c.Sleep)
	for i, s := range c.Stages {
		check(fmt.Sprintf("stages[%d].duration", i), s.Duration)
	}
}

func validateThresholds(thresholds map[string][]string, errs *ValidationErrors) {
	metrics := make([]string, 0, len(thresholds))
	for m := range thresholds {
		metrics = append(metrics, m)
	}
	sort.Strings(metrics)

	for _, m := range metrics {
		for i, expr := range thresholds[m] {
			if _, err := threshold.ParseFor(m, expr); err != nil {
				errs.Add(fmt.Sprintf("thresholds.%s[%d]", m, i), err.Error())
			}
		}
	}
}
