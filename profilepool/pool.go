// Package profilepool shares ICC profile bytes between converters and worker
// contexts.
//
// Entries are immutable once loaded. Each lookup takes a reference that the
// caller gives back with ReleaseProfile; RegisterConsumer ties the release to
// a consumer becoming unreachable as a best-effort backstop. Only entries with
// no outstanding references are evicted.
package profilepool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/wudi/colorkit/observability"
)

// Profile is a pooled profile buffer. Data must not be modified. Whether it
// is shared with other callers or a private copy is reported by
// IsSharedMemory; callers must not depend on either.
type Profile struct {
	Data           []byte
	IsSharedMemory bool
	Key            string
}

// Stats is a snapshot of the pool.
type Stats struct {
	Entries   int
	Bytes     int64
	InUse     int
	Hits      uint64
	Misses    uint64
	Loads     uint64
	Evictions uint64
}

// Config bounds the pool.
type Config struct {
	// MaxBytes and MaxEntries are eviction ceilings; zero disables a bound.
	MaxBytes   int64
	MaxEntries int
	// PrivateCopies hands every caller its own copy instead of the shared
	// buffer.
	PrivateCopies bool
	// Loader resolves source strings. Defaults to a FileLoader.
	Loader Loader
	Logger observability.Logger
}

// DefaultConfig returns a 64 MB, 64 entry pool reading profiles from disk.
func DefaultConfig() Config {
	return Config{
		MaxBytes:   64 * 1024 * 1024,
		MaxEntries: 64,
	}
}

type entry struct {
	data         []byte
	refCount     int
	lastAccessed time.Time
	seq          uint64
}

// Pool is safe for concurrent use.
type Pool struct {
	cfg    Config
	loader Loader
	logger observability.Logger
	group  singleflight.Group

	mu      sync.Mutex
	entries map[string]*entry
	total   int64
	seq     uint64
	stats   Stats
}

// New creates a pool.
func New(cfg Config) *Pool {
	loader := cfg.Loader
	if loader == nil {
		loader = &FileLoader{}
	}
	return &Pool{
		cfg:     cfg,
		loader:  loader,
		logger:  observability.OrNop(cfg.Logger).With(observability.String("component", "profilepool")),
		entries: make(map[string]*entry),
	}
}

// GetProfile returns the profile for a source string, loading it once per
// key even under concurrent callers. The source string is the key.
func (p *Pool) GetProfile(ctx context.Context, source string) (Profile, error) {
	if source == "" {
		return Profile{}, fmt.Errorf("profilepool: empty source")
	}
	if prof, ok := p.lookup(source); ok {
		return prof, nil
	}

	// The load outlives any single caller; each caller stops waiting on its
	// own context.
	loadCtx := context.WithoutCancel(ctx)
	ch := p.group.DoChan(source, func() (interface{}, error) {
		p.mu.Lock()
		if e, ok := p.entries[source]; ok {
			p.mu.Unlock()
			return e.data, nil
		}
		p.stats.Loads++
		p.mu.Unlock()
		data, err := p.loader.Load(loadCtx, source)
		if err != nil {
			return nil, err
		}
		p.logger.Debug("profile loaded", observability.String("source", source), observability.Int("bytes", len(data)))
		// Insert before the flight ends so late callers hit the cache.
		p.mu.Lock()
		p.insert(source, data, false)
		p.mu.Unlock()
		return data, nil
	})
	select {
	case <-ctx.Done():
		return Profile{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Profile{}, fmt.Errorf("profilepool: load %s: %w", source, res.Err)
		}
		return p.acquire(source, res.Val.([]byte), false), nil
	}
}

// GetProfileBytes pools a caller-supplied buffer under its content key.
func (p *Pool) GetProfileBytes(data []byte) Profile {
	key := KeyForBytes(data)
	if prof, ok := p.lookup(key); ok {
		return prof
	}
	return p.acquire(key, data, true)
}

// ReleaseProfile drops one reference taken for key (a source string or a
// Profile.Key).
func (p *Pool) ReleaseProfile(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.entries[key]; ok && e.refCount > 0 {
		e.refCount--
	}
}

// Stats returns a snapshot of the pool counters.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.stats
	s.Entries = len(p.entries)
	s.Bytes = p.total
	for _, e := range p.entries {
		if e.refCount > 0 {
			s.InUse++
		}
	}
	return s
}

// RefCount reports the outstanding references for key.
func (p *Pool) RefCount(key string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.entries[key]; ok {
		return e.refCount
	}
	return 0
}

// Contains reports whether key is cached.
func (p *Pool) Contains(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.entries[key]
	return ok
}

func (p *Pool) lookup(key string) (Profile, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[key]
	if !ok {
		p.stats.Misses++
		return Profile{}, false
	}
	p.stats.Hits++
	p.touch(e)
	return p.profile(key, e), true
}

// acquire inserts data under key if absent, then takes a reference.
func (p *Pool) acquire(key string, data []byte, copyIn bool) Profile {
	p.mu.Lock()
	defer p.mu.Unlock()
	e := p.insert(key, data, copyIn)
	p.touch(e)
	return p.profile(key, e)
}

// insert returns the entry for key, adding an unreferenced one for data when
// absent. Called with mu held.
func (p *Pool) insert(key string, data []byte, copyIn bool) *entry {
	if e, ok := p.entries[key]; ok {
		return e
	}
	p.evictFor(int64(len(data)))
	if copyIn {
		data = append([]byte(nil), data...)
	}
	e := &entry{data: data}
	p.entries[key] = e
	p.total += int64(len(data))
	return e
}

func (p *Pool) touch(e *entry) {
	p.seq++
	e.seq = p.seq
	e.refCount++
	e.lastAccessed = time.Now()
}

func (p *Pool) profile(key string, e *entry) Profile {
	if p.cfg.PrivateCopies {
		return Profile{Data: append([]byte(nil), e.data...), Key: key}
	}
	return Profile{Data: e.data, IsSharedMemory: true, Key: key}
}

// evictFor removes least recently used unreferenced entries until an
// incoming buffer of size n fits under both ceilings, or nothing evictable
// remains. Called with mu held.
func (p *Pool) evictFor(n int64) {
	over := func() bool {
		if p.cfg.MaxBytes > 0 && p.total+n > p.cfg.MaxBytes {
			return true
		}
		return p.cfg.MaxEntries > 0 && len(p.entries)+1 > p.cfg.MaxEntries
	}
	for over() {
		var (
			victim string
			oldest *entry
		)
		for k, e := range p.entries {
			if e.refCount > 0 {
				continue
			}
			if oldest == nil || e.seq < oldest.seq {
				victim, oldest = k, e
			}
		}
		if oldest == nil {
			p.logger.Debug("pool over capacity with every entry in use",
				observability.Int("entries", len(p.entries)), observability.Int64("bytes", p.total))
			return
		}
		delete(p.entries, victim)
		p.total -= int64(len(oldest.data))
		p.stats.Evictions++
		p.logger.Debug("profile evicted",
			observability.String("key", victim),
			observability.Uint64(observability.MetricProfileEvicted, p.stats.Evictions))
	}
}
