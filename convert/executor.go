package convert

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wudi/colorkit/cmm"
	"github.com/wudi/colorkit/colorerr"
	"github.com/wudi/colorkit/contentstream"
	"github.com/wudi/colorkit/filters"
	"github.com/wudi/colorkit/format"
	"github.com/wudi/colorkit/observability"
	"github.com/wudi/colorkit/policy"
	"github.com/wudi/colorkit/profilepool"
	"github.com/wudi/colorkit/recovery"
	"github.com/wudi/colorkit/task"
)

// ExecutorConfig configures the worker-side task runner.
type ExecutorConfig struct {
	// NewProvider opens the executor's private engine. Defaults to the
	// reference engine.
	NewProvider func() (cmm.Provider, error)

	Rules            *policy.RuleSet
	Domain           string
	PredicateTimeout time.Duration
	Recovery         recovery.Strategy

	// Pool is shared by every executor of a worker pool.
	Pool               *profilepool.Pool
	Limits             filters.Limits
	AlwaysPreSwapInput bool
	Logger             observability.Logger
}

// Executor runs tasks inside one worker context. It owns an engine, a policy
// and a converter, and is not safe for concurrent use.
type Executor struct {
	provider cmm.Provider
	conv     *Converter
	pipeline *filters.Pipeline
	shared   map[string][]byte
	logger   observability.Logger
}

// NewExecutor opens an engine and builds the converter around it.
func NewExecutor(cfg ExecutorConfig) (*Executor, error) {
	newProvider := cfg.NewProvider
	if newProvider == nil {
		newProvider = func() (cmm.Provider, error) {
			return cmm.NewEngine(cmm.EngineConfig{Logger: cfg.Logger}), nil
		}
	}
	provider, err := newProvider()
	if err != nil {
		return nil, fmt.Errorf("open color engine: %w", err)
	}
	conv, err := New(Config{
		Provider:           provider,
		Rules:              cfg.Rules,
		Domain:             cfg.Domain,
		PredicateTimeout:   cfg.PredicateTimeout,
		Recovery:           cfg.Recovery,
		Pool:               cfg.Pool,
		AlwaysPreSwapInput: cfg.AlwaysPreSwapInput,
		Logger:             cfg.Logger,
	})
	if err != nil {
		provider.Close()
		return nil, err
	}
	limits := cfg.Limits
	if limits == (filters.Limits{}) {
		limits = filters.DefaultLimits()
	}
	return &Executor{
		provider: provider,
		conv:     conv,
		pipeline: filters.NewDefaultPipeline(limits),
		shared:   make(map[string][]byte),
		logger:   observability.OrNop(cfg.Logger).With(observability.String("component", "executor")),
	}, nil
}

// Prime stores broadcast profiles for later reference by key.
func (e *Executor) Prime(cfg *task.SharedConfig) {
	if cfg == nil {
		return
	}
	for k, data := range cfg.Profiles {
		e.shared[k] = data
	}
	e.logger.Debug("shared profiles primed", observability.Int("profiles", len(cfg.Profiles)))
}

// Execute runs t and always answers with a result carrying t's ID.
func (e *Executor) Execute(ctx context.Context, t *task.Task) *task.Result {
	start := time.Now()
	res, err := e.execute(ctx, t)
	if err != nil {
		e.logger.Debug("task failed",
			observability.Uint64("task", t.ID),
			observability.String("type", string(t.Type)),
			observability.Error("error", err))
		res = task.Failed(t.ID, err)
	} else {
		res.ID = t.ID
		res.Success = true
	}
	res.Duration = time.Since(start)
	return res
}

func (e *Executor) execute(ctx context.Context, t *task.Task) (*task.Result, error) {
	opts, err := e.options(t)
	if err != nil {
		return nil, err
	}
	switch t.Type {
	case task.TypeTransform:
		r, err := e.conv.Convert(ctx, t.Pixels, opts)
		if err != nil {
			return nil, err
		}
		return &task.Result{Output: r.Output, PixelCount: r.PixelCount, Clamping: r.Clamping}, nil

	case task.TypeBenchmark:
		var r *Result
		for i := 0; i < max(1, t.Iterations); i++ {
			if r, err = e.conv.Convert(ctx, t.Pixels, opts); err != nil {
				return nil, err
			}
		}
		return &task.Result{Output: r.Output, PixelCount: r.PixelCount, Clamping: r.Clamping}, nil

	case task.TypeImage:
		pixels, err := e.pipeline.Decode(ctx, t.Payload, []string{"FlateDecode"})
		if err != nil {
			return nil, fmt.Errorf("decode image payload: %w", err)
		}
		r, err := e.conv.Convert(ctx, pixels, opts)
		if err != nil {
			return nil, err
		}
		out, err := e.pipeline.Encode(ctx, r.Output, []string{"FlateDecode"})
		if err != nil {
			return nil, fmt.Errorf("encode image output: %w", err)
		}
		return &task.Result{Output: out, PixelCount: r.PixelCount, Clamping: r.Clamping}, nil

	case task.TypeContentStream:
		from, to := opts.InputColorSpace, opts.OutputColorSpace
		out, n, err := contentstream.RewriteColors(ctx, t.Payload, from, to, e.operatorConverter(opts))
		if err != nil {
			return nil, err
		}
		return &task.Result{Output: out, Replacements: n}, nil
	}
	return nil, colorerr.Configf("type", "unknown task type %q", t.Type)
}

// operatorConverter converts operator operands through float samples. Float
// CMYK runs 0..100 on the engine side while operators use 0..1.
func (e *Executor) operatorConverter(opts Options) contentstream.ColorConverter {
	o := opts
	o.BitsPerComponent, o.InputBitsPerComponent, o.OutputBitsPerComponent = 32, 32, 32
	o.Endianness, o.InputEndianness, o.OutputEndianness = format.EndianUnspecified, format.EndianUnspecified, format.EndianUnspecified
	o.Layout, o.InputLayout, o.OutputLayout = format.Packed, "", ""
	o.ChannelOrder, o.InputChannelOrder, o.OutputChannelOrder = format.OrderNatural, "", ""
	o.InputHasAlpha, o.OutputHasAlpha = false, false
	inScale, outScale := cmykScale(o.InputColorSpace), cmykScale(o.OutputColorSpace)
	return func(ctx context.Context, values []float64, count int) ([]float64, error) {
		samples := make([]float32, len(values))
		for i, v := range values {
			samples[i] = float32(v * inScale)
		}
		r, err := e.conv.ConvertFloat32(ctx, samples, o)
		if err != nil {
			return nil, err
		}
		out := Float32s(r.Output)
		vals := make([]float64, len(out))
		for i, v := range out {
			vals[i] = float64(v) / outScale
		}
		return vals, nil
	}
}

func cmykScale(cs format.ColorSpace) float64 {
	if cs == format.CMYK {
		return 100
	}
	return 1
}

func (e *Executor) options(t *task.Task) (Options, error) {
	opts := Options{
		Options:                t.Format,
		RenderingIntent:        t.RenderingIntent,
		BlackPointCompensation: t.BlackPointCompensation,
		AdaptiveClamping:       t.AdaptiveClamping,
	}
	var err error
	if opts.SourceProfile, err = e.source(t.Source, "source"); err != nil {
		return opts, err
	}
	if opts.DestinationProfile, err = e.source(t.Destination, "destination"); err != nil {
		return opts, err
	}
	for i, ref := range t.Intermediates {
		s, err := e.source(ref, fmt.Sprintf("intermediates[%d]", i))
		if err != nil {
			return opts, err
		}
		opts.IntermediateProfiles = append(opts.IntermediateProfiles, s)
	}
	return opts, nil
}

// source resolves a reference. Broadcast keys win over every other form.
func (e *Executor) source(ref task.ProfileRef, field string) (cmm.ProfileSource, error) {
	switch {
	case ref.Key != "":
		data, ok := e.shared[ref.Key]
		if !ok {
			return cmm.ProfileSource{}, colorerr.Configf(field, "profile %q was not broadcast to this worker", ref.Key)
		}
		return cmm.BytesSource(data), nil
	case ref.Builtin != cmm.BuiltinNone:
		return cmm.ProfileSource{Builtin: ref.Builtin}, nil
	case len(ref.Data) > 0:
		return cmm.BytesSource(ref.Data), nil
	case ref.Location != "":
		return cmm.LocationSource(ref.Location), nil
	}
	return cmm.ProfileSource{}, nil
}

// Close releases the converter and the engine.
func (e *Executor) Close() error {
	return errors.Join(e.conv.Close(), e.provider.Close())
}
