// Package task defines the messages exchanged with worker contexts.
//
// Tasks own their payload buffers: once submitted, the caller must not touch
// Pixels or Payload again, and the worker may hand them on without copying.
package task

import (
	"time"

	"github.com/wudi/colorkit/cmm"
	"github.com/wudi/colorkit/format"
)

// Type discriminates tasks.
type Type string

const (
	TypeTransform     Type = "transform"
	TypeImage         Type = "image"
	TypeContentStream Type = "content-stream"
	TypeBenchmark     Type = "benchmark"
)

// ProfileRef names a profile across the worker boundary: a built-in, inline
// bytes, a location the worker loads through the shared profile pool, or the
// key of a profile previously broadcast with SharedConfig.
type ProfileRef struct {
	Builtin  cmm.Builtin
	Data     []byte
	Location string
	Key      string
}

// IsZero reports an empty reference.
func (r ProfileRef) IsZero() bool {
	return r.Builtin == cmm.BuiltinNone && len(r.Data) == 0 && r.Location == "" && r.Key == ""
}

// Task is one unit of work for a worker context.
type Task struct {
	// ID is assigned by the pool before dispatch.
	ID   uint64
	Type Type

	Source        ProfileRef
	Destination   ProfileRef
	Intermediates []ProfileRef

	Format                 format.Options
	RenderingIntent        cmm.Intent
	BlackPointCompensation bool
	AdaptiveClamping       bool

	// Pixels is the raw buffer for transform and benchmark tasks.
	Pixels []byte
	// Payload is a Flate-compressed pixel buffer for image tasks, or a
	// content stream for content-stream tasks.
	Payload []byte
	// Iterations repeats a benchmark task.
	Iterations int
}

// Result answers a task. ID mirrors the task's ID.
type Result struct {
	ID      uint64
	Success bool
	Error   string
	// Err keeps the typed error for in-process callers.
	Err error

	Output       []byte
	PixelCount   int
	Replacements int
	Clamping     *cmm.ClampingStats
	Duration     time.Duration
}

// Failed builds an unsuccessful result.
func Failed(id uint64, err error) *Result {
	return &Result{ID: id, Error: err.Error(), Err: err}
}

// SharedConfig primes a worker context's profile cache. It is never
// answered.
type SharedConfig struct {
	Profiles map[string][]byte
}
