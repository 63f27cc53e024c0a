package convert

import (
	"github.com/wudi/colorkit/cmm"
	"github.com/wudi/colorkit/format"
)

// Cache is the storage contract behind a Converter's profile, transform and
// chain caches. Caches belong to exactly one converter and are not
// synchronized.
type Cache[K comparable, V any] interface {
	Get(key K) (V, bool)
	Put(key K, v V)
	Range(fn func(key K, v V))
	Len() int
	Clear()
}

// MapCache is the default unbounded Cache.
type MapCache[K comparable, V any] struct {
	m map[K]V
}

func NewMapCache[K comparable, V any]() *MapCache[K, V] {
	return &MapCache[K, V]{m: make(map[K]V)}
}

func (c *MapCache[K, V]) Get(key K) (V, bool) {
	v, ok := c.m[key]
	return v, ok
}

func (c *MapCache[K, V]) Put(key K, v V) { c.m[key] = v }

func (c *MapCache[K, V]) Range(fn func(K, V)) {
	for k, v := range c.m {
		fn(k, v)
	}
}

func (c *MapCache[K, V]) Len() int { return len(c.m) }

func (c *MapCache[K, V]) Clear() { clear(c.m) }

// ProfileEntry is a cached profile handle.
type ProfileEntry struct {
	Key    string
	Handle cmm.Handle
	Space  format.ColorSpace
	Size   int
	// PoolKey is set when the bytes hold a shared pool reference.
	PoolKey string
}

// TransformKey identifies a pairwise transform.
type TransformKey struct {
	Source       string
	Destination  string
	InputFormat  format.Code
	OutputFormat format.Code
	Intent       cmm.Intent
	Flags        cmm.Flags
}

// TransformEntry is a cached transform handle.
type TransformEntry struct {
	Handle              cmm.Handle
	InputFormat         format.Code
	OutputFormat        format.Code
	ClampingInitialized bool
	// clampingTried records a failed upgrade so it is not retried.
	clampingTried bool
}

// ChainKey identifies a multi-profile path.
type ChainKey struct {
	Profiles     string
	InputFormat  format.Code
	OutputFormat format.Code
	Intent       cmm.Intent
	Flags        cmm.Flags
}

// Stage is one pairwise step of a chained path.
type Stage struct {
	Transform    *TransformEntry
	InputFormat  format.Code
	OutputFormat format.Code
	Intent       cmm.Intent
}

// ChainEntry is either a native multi-profile handle or an ordered list of
// stages. Stage transforms are owned by the transform cache.
type ChainEntry struct {
	Native cmm.Handle
	Stages []Stage
}

// StageCount returns 1 for native paths.
func (e *ChainEntry) StageCount() int {
	if e.Native != 0 {
		return 1
	}
	return len(e.Stages)
}

type (
	ProfileCache   = Cache[string, *ProfileEntry]
	TransformCache = Cache[TransformKey, *TransformEntry]
	ChainCache     = Cache[ChainKey, *ChainEntry]
)
