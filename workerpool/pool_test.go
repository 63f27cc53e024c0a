package workerpool

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/wudi/colorkit/cmm"
	"github.com/wudi/colorkit/colorerr"
	"github.com/wudi/colorkit/format"
	"github.com/wudi/colorkit/task"
)

type recorder struct {
	mu      sync.Mutex
	order   []uint64
	refs    []task.ProfileRef
	primes  int
	opened  int
	closed  int
	gate    chan struct{}
	gateFor uint64
}

func (r *recorder) factory(int) (Executor, error) {
	r.mu.Lock()
	r.opened++
	r.mu.Unlock()
	return &fakeExec{r: r}, nil
}

type fakeExec struct{ r *recorder }

func (f *fakeExec) Prime(*task.SharedConfig) {
	f.r.mu.Lock()
	f.r.primes++
	f.r.mu.Unlock()
}

func (f *fakeExec) Execute(_ context.Context, t *task.Task) *task.Result {
	f.r.mu.Lock()
	f.r.order = append(f.r.order, t.ID)
	f.r.refs = append(f.r.refs, t.Destination)
	gate := f.r.gate
	if f.r.gateFor != t.ID {
		gate = nil
	}
	f.r.mu.Unlock()
	if gate != nil {
		<-gate
	}
	switch t.Type {
	case "panic":
		panic("engine exploded")
	case "fail":
		return task.Failed(t.ID, errors.New("bad pixels"))
	}
	return &task.Result{ID: t.ID, Success: true, Output: t.Pixels}
}

func (f *fakeExec) Close() error {
	f.r.mu.Lock()
	f.r.closed++
	f.r.mu.Unlock()
	return nil
}

func newPool(t *testing.T, r *recorder, workers int) *Pool {
	t.Helper()
	p := New(Config{Workers: workers, NewExecutor: r.factory})
	if err := p.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	t.Cleanup(func() { p.Terminate() })
	return p
}

func await(t *testing.T, ch <-chan *task.Result) *task.Result {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := Await(ctx, ch)
	if err != nil {
		t.Fatalf("no result: %v", err)
	}
	return res
}

func waitQueued(t *testing.T, p *Pool, n int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for p.Queued() != n {
		if time.Now().After(deadline) {
			t.Fatalf("queue length %d, want %d", p.Queued(), n)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestFIFOWithSingleContext(t *testing.T) {
	r := &recorder{gate: make(chan struct{}), gateFor: 1}
	p := newPool(t, r, 1)

	var chans []<-chan *task.Result
	for i := 0; i < 5; i++ {
		ch, err := p.SubmitTask(&task.Task{Type: task.TypeTransform, Pixels: []byte{byte(i)}})
		if err != nil {
			t.Fatal(err)
		}
		chans = append(chans, ch)
	}
	waitQueued(t, p, 4)
	close(r.gate)

	for i, ch := range chans {
		res := await(t, ch)
		if res.ID != uint64(i+1) || !res.Success || res.Output[0] != byte(i) {
			t.Errorf("result %d = %+v", i, res)
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, id := range r.order {
		if id != uint64(i+1) {
			t.Fatalf("execution order %v", r.order)
		}
	}
	if r.opened != 1 {
		t.Errorf("executor opened %d times", r.opened)
	}
}

func TestNoLossAcrossContexts(t *testing.T) {
	r := &recorder{}
	p := newPool(t, r, 4)
	const n = 200
	chans := make([]<-chan *task.Result, n)
	for i := range chans {
		ch, err := p.SubmitTask(&task.Task{Type: task.TypeTransform})
		if err != nil {
			t.Fatal(err)
		}
		chans[i] = ch
	}
	seen := make(map[uint64]bool)
	for _, ch := range chans {
		res := await(t, ch)
		if !res.Success || seen[res.ID] {
			t.Fatalf("bad or duplicate result %+v", res)
		}
		seen[res.ID] = true
	}
	if len(seen) != n {
		t.Errorf("got %d results", len(seen))
	}
	if r.opened > 4 {
		t.Errorf("opened %d executors for 4 contexts", r.opened)
	}
}

func TestErrorIsolation(t *testing.T) {
	r := &recorder{}
	p := newPool(t, r, 1)

	for _, typ := range []task.Type{"panic", "fail"} {
		ch, err := p.SubmitTask(&task.Task{Type: typ})
		if err != nil {
			t.Fatal(err)
		}
		if res := await(t, ch); res.Success || res.Error == "" || res.Err == nil {
			t.Errorf("%s: result = %+v", typ, res)
		}
	}
	ch, err := p.SubmitTask(&task.Task{Type: task.TypeTransform})
	if err != nil {
		t.Fatal(err)
	}
	if res := await(t, ch); !res.Success || res.ID != 3 {
		t.Errorf("pool did not recover: %+v", res)
	}
	if p.State() != StateReady {
		t.Errorf("state = %v", p.State())
	}
}

func TestTerminateAndReinitialize(t *testing.T) {
	r := &recorder{}
	p := New(Config{Workers: 2, NewExecutor: r.factory})
	if _, err := p.SubmitTask(&task.Task{}); !errors.Is(err, ErrNotReady) {
		t.Fatalf("expected ErrNotReady before Initialize, got %v", err)
	}
	if err := p.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}
	ch, _ := p.SubmitTask(&task.Task{Type: task.TypeTransform})
	await(t, ch)
	if err := p.Terminate(); err != nil {
		t.Fatal(err)
	}
	if p.State() != StateTerminated {
		t.Fatalf("state = %v", p.State())
	}
	if _, err := p.SubmitTask(&task.Task{}); !errors.Is(err, ErrNotReady) {
		t.Fatalf("expected ErrNotReady after Terminate, got %v", err)
	}
	r.mu.Lock()
	if r.closed != r.opened {
		t.Errorf("closed %d of %d executors", r.closed, r.opened)
	}
	r.mu.Unlock()

	if err := p.Initialize(context.Background()); err != nil {
		t.Fatalf("re-initialize: %v", err)
	}
	defer p.Terminate()
	ch, err := p.SubmitTask(&task.Task{Type: task.TypeTransform})
	if err != nil {
		t.Fatal(err)
	}
	if res := await(t, ch); !res.Success || res.ID != 2 {
		t.Errorf("IDs must keep increasing across runs: %+v", res)
	}
}

func TestTerminateDropsQueuedTasks(t *testing.T) {
	r := &recorder{gate: make(chan struct{}), gateFor: 1}
	p := New(Config{Workers: 1, NewExecutor: r.factory})
	if err := p.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}
	first, _ := p.SubmitTask(&task.Task{Type: task.TypeTransform})
	queued, _ := p.SubmitTask(&task.Task{Type: task.TypeTransform})
	waitQueued(t, p, 1)

	done := make(chan error)
	go func() { done <- p.Terminate() }()
	for p.State() != StateTerminated {
		time.Sleep(time.Millisecond)
	}
	close(r.gate)
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	if res := await(t, first); !res.Success {
		t.Errorf("in-flight task = %+v", res)
	}
	select {
	case res := <-queued:
		t.Errorf("queued task settled: %+v", res)
	default:
	}
}

func TestInitializeTimeout(t *testing.T) {
	slow := func(int) (Executor, error) {
		time.Sleep(200 * time.Millisecond)
		return &fakeExec{r: &recorder{}}, nil
	}
	p := New(Config{Workers: 2, InitTimeout: 20 * time.Millisecond, EagerInit: true, NewExecutor: slow})
	err := p.Initialize(context.Background())
	var te *colorerr.PoolTimeoutError
	if !errors.As(err, &te) || te.Total != 2 || te.Ready != 0 {
		t.Fatalf("expected PoolTimeoutError, got %v", err)
	}
	if p.State() != StateUninitialized {
		t.Errorf("state = %v", p.State())
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p = New(Config{Workers: 1, NewExecutor: (&recorder{}).factory})
	if err := p.Initialize(ctx); !errors.As(err, &te) {
		t.Errorf("cancelled context must fail initialization, got %v", err)
	}
}

func TestBroadcastSharedProfiles(t *testing.T) {
	r := &recorder{}
	p := newPool(t, r, 1)
	profile := []byte("icc profile bytes")
	if err := p.BroadcastSharedProfiles(map[string][]byte{"press": profile}); err != nil {
		t.Fatal(err)
	}
	if err := p.BroadcastSharedProfiles(map[string][]byte{"other": []byte("x")}); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 2; i++ {
		ch, err := p.SubmitTask(&task.Task{
			Type:        task.TypeTransform,
			Destination: task.ProfileRef{Data: append([]byte(nil), profile...)},
		})
		if err != nil {
			t.Fatal(err)
		}
		await(t, ch)
	}
	ch, _ := p.SubmitTask(&task.Task{Type: task.TypeTransform, Destination: task.ProfileRef{Data: []byte("x")}})
	await(t, ch)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.primes != 1 {
		t.Errorf("primed %d times", r.primes)
	}
	if r.refs[0].Key != "press" || r.refs[0].Data != nil || r.refs[1].Key != "press" {
		t.Errorf("broadcast bytes not stripped: %+v", r.refs[:2])
	}
	if r.refs[2].Key != "" || string(r.refs[2].Data) != "x" {
		t.Errorf("second broadcast must be a no-op: %+v", r.refs[2])
	}
}

type closingBuffer struct {
	bytes.Buffer
	closed bool
}

func (b *closingBuffer) Close() error {
	b.closed = true
	return nil
}

func TestDiagnostics(t *testing.T) {
	r := &recorder{}
	buf := &closingBuffer{}
	p := New(Config{Workers: 1, NewExecutor: r.factory, Diagnostics: func(int) io.Writer { return buf }})
	if err := p.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}
	ch, _ := p.SubmitTask(&task.Task{Type: "fail"})
	await(t, ch)
	if err := p.Terminate(); err != nil {
		t.Fatal(err)
	}
	if !buf.closed {
		t.Errorf("sink not closed")
	}

	var kinds []string
	for {
		ev, err := ReadEvent(&buf.Buffer)
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		if ev.Pool != p.ID() {
			t.Errorf("event pool %q", ev.Pool)
		}
		if ev.Kind == EventTask && (ev.TaskID != 1 || ev.Success || ev.Error == "") {
			t.Errorf("task event = %+v", ev)
		}
		kinds = append(kinds, ev.Kind)
	}
	want := []string{EventReady, EventTask, EventTerminated}
	if len(kinds) != len(want) {
		t.Fatalf("events = %v", kinds)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("events = %v", kinds)
		}
	}
}

func TestEndToEndWithReferenceEngine(t *testing.T) {
	p := New(Config{Workers: 2})
	if err := p.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer p.Terminate()

	cmyk := cmm.NewProfileBuilder("prtr", "CMYK", "Lab ").Tag("desc", cmm.TextTagData("naive cmyk")).Bytes()
	if err := p.BroadcastSharedProfiles(map[string][]byte{"press": cmyk}); err != nil {
		t.Fatal(err)
	}
	var chans []<-chan *task.Result
	for i := 0; i < 6; i++ {
		ch, err := p.SubmitTask(&task.Task{
			Type:            task.TypeTransform,
			Source:          task.ProfileRef{Builtin: cmm.BuiltinSRGB},
			Destination:     task.ProfileRef{Data: cmyk},
			Format:          format.Options{InputColorSpace: format.RGB, OutputColorSpace: format.CMYK, BitsPerComponent: 8},
			RenderingIntent: cmm.IntentRelativeColorimetric,
			Pixels:          []byte{0, 0, 0, 255, 255, 255},
		})
		if err != nil {
			t.Fatal(err)
		}
		chans = append(chans, ch)
	}
	for _, ch := range chans {
		res := await(t, ch)
		if !res.Success || len(res.Output) != 8 || res.Output[3] < 250 {
			t.Fatalf("result = %+v", res)
		}
	}
}
