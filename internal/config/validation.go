package config

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// InvalidField is one configuration key with an unusable value.
type InvalidField struct {
	Key    string
	Value  string
	Reason string
}

// ValidationErrors collects all validation errors
type ValidationErrors struct {
	InvalidFields []InvalidField
}

func (e *ValidationErrors) add(key string, value any, reason string) {
	e.InvalidFields = append(e.InvalidFields, InvalidField{Key: key, Value: fmt.Sprint(value), Reason: reason})
}

// HasErrors returns true if any validation errors exist
func (e *ValidationErrors) HasErrors() bool {
	return len(e.InvalidFields) > 0
}

// Error formats all validation errors into a clear message
func (e *ValidationErrors) Error() string {
	var sb strings.Builder
	sb.WriteString("configuration validation failed:\n")
	for _, f := range e.InvalidFields {
		sb.WriteString(fmt.Sprintf("  - %s=%q: %s\n", f.Key, f.Value, f.Reason))
	}
	return sb.String()
}

// Validate checks every setting and reports all problems at once.
func (c *Config) Validate() error {
	errs := &ValidationErrors{}

	u, err := url.Parse(c.Server.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs.add("server.base_url", c.Server.BaseURL, "must be an http(s) URL")
	}
	if c.Server.TimeoutSec < 1 {
		errs.add("server.timeout_sec", c.Server.TimeoutSec, "must be >= 1")
	}
	if c.Server.RetryCount < 0 {
		errs.add("server.retry_count", c.Server.RetryCount, "must be >= 0")
	}
	if c.Server.RatePerSecond < 1 {
		errs.add("server.rate_per_second", c.Server.RatePerSecond, "must be >= 1")
	}

	if c.Capture.Interval <= 0 {
		errs.add("capture.interval", c.Capture.Interval, "must be positive")
	}
	if c.Capture.MaxWidth < 1 || c.Capture.MaxHeight < 1 {
		errs.add("capture.max_width/max_height", fmt.Sprintf("%dx%d", c.Capture.MaxWidth, c.Capture.MaxHeight), "must be >= 1")
	}
	if c.Capture.MaxFrameRate <= 0 {
		errs.add("capture.max_frame_rate", c.Capture.MaxFrameRate, "must be positive")
	}
	if !ValidSources[c.Capture.Source] {
		errs.add("capture.source", c.Capture.Source, "valid sources: "+validList(ValidSources))
	}
	if c.Capture.Source == SourceDir && c.Capture.Dir == "" {
		errs.add("capture.dir", c.Capture.Dir, "required when capture.source=dir")
	}

	if c.Viewer.PollInterval <= 0 {
		errs.add("viewer.poll_interval", c.Viewer.PollInterval, "must be positive")
	}
	if _, ok := ValidProtocols[c.Viewer.Protocol]; !ok {
		errs.add("viewer.protocol", c.Viewer.Protocol, "valid protocols: "+validList(ValidProtocols))
	}
	if !ValidLogLevels[c.Logging.Level] {
		errs.add("logging.level", c.Logging.Level, "valid levels: "+validList(ValidLogLevels))
	}
	if c.Notify.Enabled && c.Notify.Topic == "" {
		errs.add("notify.topic", "", "required when notify.enabled=true")
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

func validList[K ~string, V any](m map[K]V) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, string(k))
	}
	sort.Strings(keys)
	return strings.Join(keys, ", ")
}
