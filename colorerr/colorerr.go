// Package colorerr defines the error taxonomy shared by the conversion layers.
//
// Fatal errors carry enough context (profile length, format codes, intent,
// flags) to reconstruct the failing call without re-running it.
package colorerr

import (
	"fmt"
	"strings"
	"time"
)

// ConfigurationError reports a caller mistake detected before any engine
// interaction: missing profile bytes, unresolved bit depth, missing
// endianness for 16-bit data. It is never retried.
type ConfigurationError struct {
	Field   string
	Message string
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return "configuration error: " + e.Message
	}
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Message)
}

// Configf builds a ConfigurationError for field.
func Configf(field, format string, args ...interface{}) *ConfigurationError {
	return &ConfigurationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// EngineError reports a null handle returned by the engine.
type EngineError struct {
	Op           string
	ProfileSize  int
	ProfileType  string
	InputFormat  uint32
	OutputFormat uint32
	Intent       uint32
	Flags        uint32
	Err          error
}

func (e *EngineError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "engine error: %s failed", e.Op)
	if e.ProfileSize > 0 || e.ProfileType != "" {
		fmt.Fprintf(&b, " (profile %d bytes, type %q)", e.ProfileSize, e.ProfileType)
	}
	if e.InputFormat != 0 || e.OutputFormat != 0 {
		fmt.Fprintf(&b, " [in=0x%08x out=0x%08x intent=%d flags=0x%08x]", e.InputFormat, e.OutputFormat, e.Intent, e.Flags)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *EngineError) Unwrap() error { return e.Err }

// PolicyViolation reports matched rules with error severity that the active
// recovery strategy refused to tolerate.
type PolicyViolation struct {
	Domain   string
	Messages []string
}

func (e *PolicyViolation) Error() string {
	domain := e.Domain
	if domain == "" {
		domain = "default"
	}
	return fmt.Sprintf("policy violation (%s): %s", domain, strings.Join(e.Messages, "; "))
}

// PoolTimeoutError reports worker contexts that did not signal readiness.
type PoolTimeoutError struct {
	Timeout time.Duration
	Ready   int
	Total   int
}

func (e *PoolTimeoutError) Error() string {
	return fmt.Sprintf("worker pool: %d/%d contexts ready after %s", e.Ready, e.Total, e.Timeout)
}
