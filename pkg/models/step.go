package models

import (
	"math"
	"strconv"
	"time"
)

// Reserved step config keys carrying per-step policies.
const (
	RetryConfigKey       = "_retry"
	ErrorPolicyConfigKey = "_errorPolicy"
)

const (
	DefaultMaxRetries     = 3
	DefaultInitialDelayMs = 1000
)

// Step is a single unit of work inside a workflow.
type Step struct {
	ID          string         `json:"id"`
	Type        string         `json:"type"                   validate:"required"`
	Order       int            `json:"order"                  validate:"gte=0"`
	Config      map[string]any `json:"config"`
	Retry       *RetryPolicy   `json:"retry,omitempty"`
	ErrorPolicy *ErrorPolicy   `json:"error_policy,omitempty"`
}

// RetryPolicy bounds how often a failing step is re-attempted.
type RetryPolicy struct {
	MaxRetries     int `json:"max_retries"`
	InitialDelayMs int `json:"initial_delay_ms"`
}

// ErrorPolicyMode decides what happens after a step exhausts its retries.
type ErrorPolicyMode string

const (
	ErrorPolicyFail       ErrorPolicyMode = "fail"
	ErrorPolicyPause      ErrorPolicyMode = "pause"
	ErrorPolicyPauseUntil ErrorPolicyMode = "pause-until"
)

type ErrorPolicy struct {
	Mode     ErrorPolicyMode `json:"mode"`
	ResumeAt *time.Time      `json:"resume_at,omitempty"`
}

// DefaultRetryPolicy returns three retries starting at one second.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: DefaultMaxRetries, InitialDelayMs: DefaultInitialDelayMs}
}

// Attempts is the total number of invocations allowed, including the first.
func (r RetryPolicy) Attempts() int {
	return r.MaxRetries + 1
}

// Delay returns the wait before the retry following the given zero-based attempt.
func (r RetryPolicy) Delay(attempt int) time.Duration {
	if r.InitialDelayMs <= 0 {
		return 0
	}

	return time.Duration(float64(r.InitialDelayMs)*math.Pow(2, float64(attempt))) * time.Millisecond
}

// Normalized falls back to fail for any pause-until without a resume time and
// for modes it does not know.
func (p ErrorPolicy) Normalized() ErrorPolicy {
	switch p.Mode {
	case ErrorPolicyPause:
		return ErrorPolicy{Mode: ErrorPolicyPause}
	case ErrorPolicyPauseUntil:
		if p.ResumeAt == nil {
			return ErrorPolicy{Mode: ErrorPolicyFail}
		}

		return p
	default:
		return ErrorPolicy{Mode: ErrorPolicyFail}
	}
}

// EffectiveRetryPolicy resolves the effective retry policy. The explicit field wins over
// the reserved config key.
func (s *Step) EffectiveRetryPolicy() RetryPolicy {
	if s.Retry != nil {
		return clampRetry(*s.Retry)
	}

	policy := DefaultRetryPolicy()

	raw, ok := s.Config[RetryConfigKey].(map[string]any)
	if !ok {
		return policy
	}

	if v, ok := toInt(raw["maxRetries"]); ok {
		policy.MaxRetries = v
	}

	if v, ok := toInt(raw["initialDelay"]); ok {
		policy.InitialDelayMs = v
	}

	return clampRetry(policy)
}

// EffectiveErrorPolicy resolves the effective, normalized error policy.
func (s *Step) EffectiveErrorPolicy() ErrorPolicy {
	if s.ErrorPolicy != nil {
		return s.ErrorPolicy.Normalized()
	}

	raw, ok := s.Config[ErrorPolicyConfigKey].(map[string]any)
	if !ok {
		return ErrorPolicy{Mode: ErrorPolicyFail}
	}

	mode, _ := raw["mode"].(string)
	policy := ErrorPolicy{Mode: ErrorPolicyMode(mode)}

	switch v := raw["resumeAt"].(type) {
	case string:
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			policy.ResumeAt = &t
		}
	case time.Time:
		policy.ResumeAt = &v
	}

	return policy.Normalized()
}

// ExecutorConfig returns the step config without the reserved policy keys.
func (s *Step) ExecutorConfig() map[string]any {
	config := make(map[string]any, len(s.Config))

	for k, v := range s.Config {
		if k == RetryConfigKey || k == ErrorPolicyConfigKey {
			continue
		}

		config[k] = v
	}

	return config
}

func clampRetry(policy RetryPolicy) RetryPolicy {
	if policy.MaxRetries < 0 {
		policy.MaxRetries = 0
	}

	if policy.InitialDelayMs < 0 {
		policy.InitialDelayMs = 0
	}

	return policy
}

func toInt(value any) (int, bool) {
	switch v := value.(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	case string:
		n, err := strconv.Atoi(v)

		return n, err == nil
	default:
		return 0, false
	}
}
