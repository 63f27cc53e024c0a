package convert

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/wudi/colorkit/cmm"
	"github.com/wudi/colorkit/colorerr"
	"github.com/wudi/colorkit/filters"
	"github.com/wudi/colorkit/format"
	"github.com/wudi/colorkit/task"
)

func newTestExecutor(t *testing.T) *Executor {
	t.Helper()
	e, err := NewExecutor(ExecutorConfig{})
	if err != nil {
		t.Fatalf("NewExecutor: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

func rgbToCMYKTask(typ task.Type) *task.Task {
	return &task.Task{
		ID:              7,
		Type:            typ,
		Source:          task.ProfileRef{Builtin: cmm.BuiltinSRGB},
		Destination:     task.ProfileRef{Data: cmykProfile()},
		Format:          format.Options{InputColorSpace: format.RGB, OutputColorSpace: format.CMYK, BitsPerComponent: 8},
		RenderingIntent: cmm.IntentRelativeColorimetric,
	}
}

func TestExecutorTransform(t *testing.T) {
	e := newTestExecutor(t)
	tsk := rgbToCMYKTask(task.TypeTransform)
	tsk.Pixels = []byte{0, 0, 0, 255, 255, 255}
	res := e.Execute(context.Background(), tsk)
	if !res.Success || res.ID != 7 || res.PixelCount != 2 || len(res.Output) != 8 {
		t.Fatalf("result = %+v", res)
	}
	if res.Output[3] < 250 {
		t.Errorf("black K = %d", res.Output[3])
	}
}

func TestExecutorBenchmark(t *testing.T) {
	e := newTestExecutor(t)
	tsk := rgbToCMYKTask(task.TypeBenchmark)
	tsk.Pixels = []byte{10, 20, 30}
	tsk.Iterations = 5
	res := e.Execute(context.Background(), tsk)
	if !res.Success || res.PixelCount != 1 || res.Duration <= 0 {
		t.Fatalf("result = %+v", res)
	}
}

func TestExecutorImage(t *testing.T) {
	e := newTestExecutor(t)
	p := filters.NewDefaultPipeline(filters.DefaultLimits())
	payload, err := p.Encode(context.Background(), []byte{255, 255, 255, 0, 0, 0}, []string{"FlateDecode"})
	if err != nil {
		t.Fatal(err)
	}
	tsk := rgbToCMYKTask(task.TypeImage)
	tsk.Payload = payload
	res := e.Execute(context.Background(), tsk)
	if !res.Success {
		t.Fatalf("image task failed: %s", res.Error)
	}
	out, err := p.Decode(context.Background(), res.Output, []string{"FlateDecode"})
	if err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if len(out) != 8 || out[3] > 2 || out[7] < 250 {
		t.Errorf("decoded output = %v", out)
	}

	tsk = rgbToCMYKTask(task.TypeImage)
	tsk.Payload = []byte("not flate")
	if res := e.Execute(context.Background(), tsk); res.Success || res.Error == "" {
		t.Errorf("corrupt payload must fail: %+v", res)
	}
}

func TestExecutorContentStream(t *testing.T) {
	e := newTestExecutor(t)
	tsk := rgbToCMYKTask(task.TypeContentStream)
	tsk.Format.BitsPerComponent = 0
	tsk.Payload = []byte("q 0 0 0 rg 0 0 5 5 re f 1 1 1 RG Q")
	res := e.Execute(context.Background(), tsk)
	if !res.Success {
		t.Fatalf("content-stream task failed: %s", res.Error)
	}
	if res.Replacements != 2 {
		t.Errorf("replacements = %d", res.Replacements)
	}
	out := string(res.Output)
	if strings.Contains(out, "rg") || strings.Contains(out, "RG") || !strings.Contains(out, " 1 k ") || !strings.HasSuffix(out, " K Q") {
		t.Errorf("rewritten stream = %q", out)
	}
}

func TestExecutorSharedProfiles(t *testing.T) {
	e := newTestExecutor(t)
	tsk := rgbToCMYKTask(task.TypeTransform)
	tsk.Destination = task.ProfileRef{Key: "press"}
	tsk.Pixels = []byte{1, 2, 3}

	res := e.Execute(context.Background(), tsk)
	var cfgErr *colorerr.ConfigurationError
	if res.Success || !errors.As(res.Err, &cfgErr) {
		t.Fatalf("unprimed key must fail with ConfigurationError: %+v", res)
	}

	e.Prime(&task.SharedConfig{Profiles: map[string][]byte{"press": cmykProfile()}})
	tsk.Pixels = []byte{1, 2, 3}
	if res := e.Execute(context.Background(), tsk); !res.Success {
		t.Fatalf("primed key failed: %s", res.Error)
	}
}

func TestExecutorUnknownType(t *testing.T) {
	e := newTestExecutor(t)
	res := e.Execute(context.Background(), rgbToCMYKTask("thumbnail"))
	if res.Success || res.ID != 7 {
		t.Errorf("result = %+v", res)
	}
}

func TestExecutorProviderError(t *testing.T) {
	boom := errors.New("no engine")
	_, err := NewExecutor(ExecutorConfig{NewProvider: func() (cmm.Provider, error) { return nil, boom }})
	if !errors.Is(err, boom) {
		t.Errorf("expected wrapped provider error, got %v", err)
	}
}
