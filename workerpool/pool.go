// Package workerpool fans conversion tasks across a fixed set of goroutine
// contexts. Each context owns its own engine and converter; the only state
// they share is the profile pool and the broadcast profile set.
package workerpool

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wudi/colorkit/colorerr"
	"github.com/wudi/colorkit/convert"
	"github.com/wudi/colorkit/observability"
	"github.com/wudi/colorkit/profilepool"
	"github.com/wudi/colorkit/task"
)

// State is the pool lifecycle position.
type State int

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateTerminated:
		return "terminated"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// ErrNotReady is returned when tasks are submitted outside the ready state.
var ErrNotReady = errors.New("workerpool: pool is not ready")

// Executor runs tasks inside one context.
type Executor interface {
	Prime(cfg *task.SharedConfig)
	Execute(ctx context.Context, t *task.Task) *task.Result
	Close() error
}

// ExecutorFactory opens the executor of context worker.
type ExecutorFactory func(worker int) (Executor, error)

// DefaultInitTimeout bounds Initialize.
const DefaultInitTimeout = 30 * time.Second

// Config configures a Pool.
type Config struct {
	// Workers defaults to half the CPUs, at least one.
	Workers     int
	InitTimeout time.Duration
	// EagerInit opens each context's executor before it signals readiness
	// instead of on its first task.
	EagerInit bool
	// NewExecutor defaults to convert.NewExecutor with Executor as template.
	NewExecutor ExecutorFactory
	Executor    convert.ExecutorConfig
	// Profiles backs broadcast profiles and location loads. Defaults to a
	// private pool.
	Profiles *profilepool.Pool
	// Diagnostics returns an optional per-context event sink. Sinks that
	// implement io.Closer are closed on Terminate.
	Diagnostics func(worker int) io.Writer
	Logger      observability.Logger
}

// DefaultWorkers is max(1, NumCPU/2).
func DefaultWorkers() int {
	return max(1, runtime.NumCPU()/2)
}

// Pool dispatches tasks FIFO to idle contexts.
type Pool struct {
	cfg      Config
	id       string
	profiles *profilepool.Pool
	logger   observability.Logger

	mu        sync.Mutex
	state     State
	nextID    uint64
	workers   []*worker
	idle      []*worker
	queue     []*job
	pending   map[uint64]chan *task.Result
	shared    *task.SharedConfig
	sharedGen int
	// broadcast maps content keys of broadcast profiles to their names.
	broadcast   map[string]string
	sharedKeys  []string
	broadcasted bool
	wg          sync.WaitGroup
}

type job struct {
	t         *task.Task
	shared    *task.SharedConfig
	sharedGen int
}

// New returns an uninitialized pool.
func New(cfg Config) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers()
	}
	if cfg.InitTimeout <= 0 {
		cfg.InitTimeout = DefaultInitTimeout
	}
	p := &Pool{
		cfg:      cfg,
		id:       uuid.NewString(),
		profiles: cfg.Profiles,
	}
	if p.profiles == nil {
		p.profiles = profilepool.New(profilepool.DefaultConfig())
	}
	p.logger = observability.OrNop(cfg.Logger).With(
		observability.String("component", "workerpool"),
		observability.String("pool", p.id))
	if p.cfg.NewExecutor == nil {
		tmpl := cfg.Executor
		tmpl.Pool = p.profiles
		if tmpl.Logger == nil {
			tmpl.Logger = cfg.Logger
		}
		p.cfg.NewExecutor = func(int) (Executor, error) {
			return convert.NewExecutor(tmpl)
		}
	}
	return p
}

// ID identifies the pool instance.
func (p *Pool) ID() string { return p.id }

// State reports the lifecycle state.
func (p *Pool) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Size is the configured context count.
func (p *Pool) Size() int { return p.cfg.Workers }

// Queued reports tasks waiting for a context.
func (p *Pool) Queued() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// Initialize starts the contexts and blocks until each has signalled
// readiness. A terminated pool may be initialized again.
func (p *Pool) Initialize(ctx context.Context) error {
	p.mu.Lock()
	switch p.state {
	case StateReady:
		p.mu.Unlock()
		return nil
	case StateInitializing:
		p.mu.Unlock()
		return errors.New("workerpool: initialization already in progress")
	}
	p.state = StateInitializing
	p.pending = make(map[uint64]chan *task.Result)
	n := p.cfg.Workers
	ready := make(chan int, n)
	workers := make([]*worker, n)
	for i := range workers {
		w := &worker{pool: p, index: i, in: make(chan *job, 1)}
		if p.cfg.Diagnostics != nil {
			if out := p.cfg.Diagnostics(i); out != nil {
				w.diag = &sink{w: out}
			}
		}
		workers[i] = w
		p.wg.Add(1)
		go w.loop(ready)
	}
	p.workers = workers
	p.mu.Unlock()

	timer := time.NewTimer(p.cfg.InitTimeout)
	defer timer.Stop()
	count := 0
	if ctx.Err() == nil {
	wait:
		for count < n {
			select {
			case <-ready:
				count++
			case <-timer.C:
				break wait
			case <-ctx.Done():
				break wait
			}
		}
	}
	if count < n {
		p.shutdown()
		p.mu.Lock()
		p.state = StateUninitialized
		p.mu.Unlock()
		err := &colorerr.PoolTimeoutError{Timeout: p.cfg.InitTimeout, Ready: count, Total: n}
		p.logger.Error("worker pool initialization failed", observability.Error("error", err))
		return err
	}

	p.mu.Lock()
	p.state = StateReady
	p.idle = append(p.idle[:0], workers...)
	p.mu.Unlock()
	p.logger.Info("worker pool ready", observability.Int("workers", n))
	return nil
}

// SubmitTask assigns t an ID and dispatches it to an idle context, or
// queues it. t and its buffers belong to the pool from here on. The
// returned channel receives exactly one result unless the pool is
// terminated while t is still queued.
func (p *Pool) SubmitTask(t *task.Task) (<-chan *task.Result, error) {
	if t == nil {
		return nil, errors.New("workerpool: nil task")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StateReady {
		return nil, fmt.Errorf("%w (state %s)", ErrNotReady, p.state)
	}
	p.nextID++
	t.ID = p.nextID
	p.strip(t)

	ch := make(chan *task.Result, 1)
	p.pending[t.ID] = ch
	j := &job{t: t}
	if len(p.idle) > 0 {
		w := p.idle[len(p.idle)-1]
		p.idle = p.idle[:len(p.idle)-1]
		p.dispatch(w, j)
	} else {
		p.queue = append(p.queue, j)
		p.logger.Debug("task queued",
			observability.Uint64("task", t.ID),
			observability.Int(observability.MetricTaskQueued, len(p.queue)))
	}
	return ch, nil
}

// dispatch hands j to an idle worker. Callers hold p.mu.
func (p *Pool) dispatch(w *worker, j *job) {
	j.shared, j.sharedGen = p.shared, p.sharedGen
	w.in <- j
}

// strip replaces inline profile bytes that were broadcast with their key.
// Callers hold p.mu.
func (p *Pool) strip(t *task.Task) {
	if len(p.broadcast) == 0 {
		return
	}
	ref := func(r *task.ProfileRef) {
		if len(r.Data) == 0 {
			return
		}
		name, ok := p.broadcast[profilepool.KeyForBytes(r.Data)]
		if ok && bytes.Equal(p.shared.Profiles[name], r.Data) {
			*r = task.ProfileRef{Key: name}
		}
	}
	ref(&t.Source)
	ref(&t.Destination)
	for i := range t.Intermediates {
		ref(&t.Intermediates[i])
	}
}

// complete routes res to its caller and returns w to service.
func (p *Pool) complete(w *worker, res *task.Result) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ch, ok := p.pending[res.ID]; ok {
		delete(p.pending, res.ID)
		ch <- res
	}
	if p.state != StateReady {
		return
	}
	if len(p.queue) > 0 {
		j := p.queue[0]
		p.queue[0] = nil
		p.queue = p.queue[1:]
		p.dispatch(w, j)
		return
	}
	p.idle = append(p.idle, w)
}

// BroadcastSharedProfiles sends profiles to every context once. Later calls
// are no-ops until the pool is terminated. Tasks carrying identical bytes
// inline are sent by key instead.
func (p *Pool) BroadcastSharedProfiles(profiles map[string][]byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StateReady {
		return fmt.Errorf("%w (state %s)", ErrNotReady, p.state)
	}
	if p.broadcasted {
		return nil
	}
	p.broadcasted = true
	cfg := &task.SharedConfig{Profiles: make(map[string][]byte, len(profiles))}
	p.broadcast = make(map[string]string, len(profiles))
	for name, data := range profiles {
		prof := p.profiles.GetProfileBytes(data)
		cfg.Profiles[name] = prof.Data
		p.broadcast[prof.Key] = name
		p.sharedKeys = append(p.sharedKeys, prof.Key)
	}
	p.shared = cfg
	p.sharedGen++
	p.logger.Debug("shared profiles broadcast", observability.Int("profiles", len(profiles)))
	return nil
}

// Terminate waits for in-flight tasks, drops queued ones, closes executors
// and diagnostics sinks, and clears pool state.
func (p *Pool) Terminate() error {
	p.mu.Lock()
	if p.state != StateReady {
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()
	err := p.shutdown()

	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = StateTerminated
	for _, k := range p.sharedKeys {
		p.profiles.ReleaseProfile(k)
	}
	p.shared, p.sharedGen, p.broadcast, p.sharedKeys, p.broadcasted = nil, 0, nil, nil, false
	p.logger.Info("worker pool terminated")
	return err
}

// shutdown stops every worker and waits for them.
func (p *Pool) shutdown() error {
	p.mu.Lock()
	p.state = StateTerminated
	if n := len(p.queue); n > 0 {
		p.logger.Debug("dropping queued tasks", observability.Int("tasks", n))
	}
	for _, j := range p.queue {
		delete(p.pending, j.t.ID)
	}
	p.queue, p.idle = nil, nil
	workers := p.workers
	p.workers = nil
	for _, w := range workers {
		close(w.in)
	}
	p.mu.Unlock()

	p.wg.Wait()
	var errs []error
	for _, w := range workers {
		errs = append(errs, w.err)
	}
	p.mu.Lock()
	p.pending = nil
	p.mu.Unlock()
	return errors.Join(errs...)
}

// worker is one execution context.
type worker struct {
	pool  *Pool
	index int
	in    chan *job
	diag  *sink

	exec      Executor
	sharedGen int
	err       error
}

func (w *worker) loop(ready chan<- int) {
	defer w.pool.wg.Done()
	defer w.close()

	if w.pool.cfg.EagerInit {
		if err := w.open(); err != nil {
			w.pool.logger.Warn("eager executor initialization failed",
				observability.Int("worker", w.index),
				observability.Error("error", err))
		}
	}
	w.event(Event{Kind: EventReady})
	ready <- w.index

	for j := range w.in {
		res := w.run(j)
		w.event(Event{
			Kind:     EventTask,
			TaskID:   res.ID,
			TaskType: string(j.t.Type),
			Success:  res.Success,
			Micros:   res.Duration.Microseconds(),
			Error:    res.Error,
		})
		w.pool.complete(w, res)
	}
}

func (w *worker) open() error {
	if w.exec != nil {
		return nil
	}
	exec, err := w.pool.cfg.NewExecutor(w.index)
	if err != nil {
		return err
	}
	w.exec = exec
	return nil
}

// run executes one task. Panics fail only that task.
func (w *worker) run(j *job) (res *task.Result) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("worker %d: task %d panicked: %v", w.index, j.t.ID, r)
			w.pool.logger.Error("task panicked",
				observability.Error("error", err),
				observability.String("stack", string(debug.Stack())))
			w.event(Event{Kind: EventPanic, TaskID: j.t.ID, Error: err.Error()})
			res = task.Failed(j.t.ID, err)
			res.Duration = time.Since(start)
		}
	}()
	if err := w.open(); err != nil {
		return task.Failed(j.t.ID, fmt.Errorf("worker %d: open executor: %w", w.index, err))
	}
	if j.shared != nil && j.sharedGen > w.sharedGen {
		w.exec.Prime(j.shared)
		w.sharedGen = j.sharedGen
	}
	res = w.exec.Execute(context.Background(), j.t)
	if res == nil {
		res = task.Failed(j.t.ID, errors.New("executor returned no result"))
	}
	res.ID = j.t.ID
	w.pool.logger.Debug("task finished",
		observability.Uint64("task", res.ID),
		observability.Bool("success", res.Success),
		observability.Duration(observability.MetricTaskTime, time.Since(start)))
	return res
}

func (w *worker) close() {
	if w.exec != nil {
		w.err = w.exec.Close()
		w.exec = nil
	}
	w.event(Event{Kind: EventTerminated})
	if err := w.diag.close(); err != nil && w.err == nil {
		w.err = err
	}
}

func (w *worker) event(ev Event) {
	if w.diag == nil {
		return
	}
	ev.Pool, ev.Worker = w.pool.id, w.index
	if err := w.diag.write(ev); err != nil {
		w.pool.logger.Debug("diagnostics write failed", observability.Error("error", err))
	}
}

// Await waits for a result or ctx.
func Await(ctx context.Context, ch <-chan *task.Result) (*task.Result, error) {
	select {
	case res := <-ch:
		return res, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
