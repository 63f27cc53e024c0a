// Package convert orchestrates color conversions: it resolves formats and
// rules through a Policy, caches engine handles, plans single, native
// multi-profile or chained transforms, and runs them.
package convert

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wudi/colorkit/cmm"
	"github.com/wudi/colorkit/colorerr"
	"github.com/wudi/colorkit/format"
	"github.com/wudi/colorkit/observability"
	"github.com/wudi/colorkit/policy"
	"github.com/wudi/colorkit/profilepool"
	"github.com/wudi/colorkit/recovery"
)

// Options describe one conversion.
type Options struct {
	format.Options

	SourceProfile      cmm.ProfileSource
	DestinationProfile cmm.ProfileSource
	// IntermediateProfiles force a multi-profile path. When empty, the
	// policy's required intermediates apply.
	IntermediateProfiles []cmm.ProfileSource

	RenderingIntent        cmm.Intent
	BlackPointCompensation bool
	// AdaptiveClamping upgrades black point compensated transforms with
	// boundary clamping. Setting cmm.FlagBPCClamping in Flags is equivalent.
	AdaptiveClamping bool
	Flags            cmm.Flags
}

// Result of a conversion. Output is laid out per OutputFormat.
type Result struct {
	Output         []byte
	PixelCount     int
	InputChannels  int
	OutputChannels int
	InputFormat    format.Code
	OutputFormat   format.Code
	Intent         cmm.Intent
	Flags          cmm.Flags
	// Stages is 1 for single and native multi-profile transforms.
	Stages     int
	Clamping   *cmm.ClampingStats
	Evaluation policy.Evaluation
}

// Config configures a Converter.
type Config struct {
	// Provider is required. The converter does not close it.
	Provider cmm.Provider
	// Policy defaults to one built from Rules and Domain for the provider.
	Policy *policy.Policy
	Rules  *policy.RuleSet
	Domain string
	// PredicateTimeout bounds rule `when` expressions of the default policy.
	PredicateTimeout time.Duration

	// Recovery decides whether error-severity rules abort. Defaults to
	// strict.
	Recovery recovery.Strategy
	// Pool resolves location sources. Defaults to a private pool.
	Pool *profilepool.Pool

	Profiles   ProfileCache
	Transforms TransformCache
	Chains     ChainCache

	// AlwaysPreSwapInput byte-swaps swapped 16-bit input before every
	// transform, not only those producing float output.
	AlwaysPreSwapInput bool

	Logger observability.Logger
	Tracer observability.Tracer
}

// Converter is not safe for concurrent use. Its caches are touched only by
// its own call path.
type Converter struct {
	id         string
	provider   cmm.Provider
	caps       cmm.Capabilities
	policy     *policy.Policy
	recovery   recovery.Strategy
	pool       *profilepool.Pool
	profiles   ProfileCache
	transforms TransformCache
	chains     ChainCache
	preSwap    bool
	logger     observability.Logger
	tracer     observability.Tracer
	closed     bool

	created, hits uint64
}

// CacheStats counts cached handles and transform lookups.
type CacheStats struct {
	Profiles, Transforms, Chains int
	TransformsCreated            uint64
	TransformHits                uint64
}

// Stats reports the converter's caches.
func (c *Converter) Stats() CacheStats {
	return CacheStats{
		Profiles:          c.profiles.Len(),
		Transforms:        c.transforms.Len(),
		Chains:            c.chains.Len(),
		TransformsCreated: c.created,
		TransformHits:     c.hits,
	}
}

// New builds a converter.
func New(cfg Config) (*Converter, error) {
	if cfg.Provider == nil {
		return nil, colorerr.Configf("provider", "a color engine provider is required")
	}
	id := uuid.NewString()
	logger := observability.OrNop(cfg.Logger).With(
		observability.String("component", "convert"),
		observability.String("converter", id))

	pol := cfg.Policy
	if pol == nil {
		var err error
		pol, err = policy.New(policy.Config{
			Rules:            cfg.Rules,
			EngineIdentifier: cfg.Provider.Identifier(),
			EngineEndianness: cfg.Provider.MemoryEndianness(),
			Domain:           cfg.Domain,
			PredicateTimeout: cfg.PredicateTimeout,
			Logger:           cfg.Logger,
		})
		if err != nil {
			return nil, err
		}
	}
	c := &Converter{
		id:         id,
		provider:   cfg.Provider,
		caps:       cfg.Provider.Capabilities(),
		policy:     pol,
		recovery:   cfg.Recovery,
		pool:       cfg.Pool,
		profiles:   cfg.Profiles,
		transforms: cfg.Transforms,
		chains:     cfg.Chains,
		preSwap:    cfg.AlwaysPreSwapInput,
		logger:     logger,
		tracer:     cfg.Tracer,
	}
	if c.recovery == nil {
		c.recovery = recovery.NewStrictStrategy()
	}
	if c.pool == nil {
		c.pool = profilepool.New(profilepool.DefaultConfig())
	}
	if c.profiles == nil {
		c.profiles = NewMapCache[string, *ProfileEntry]()
	}
	if c.transforms == nil {
		c.transforms = NewMapCache[TransformKey, *TransformEntry]()
	}
	if c.chains == nil {
		c.chains = NewMapCache[ChainKey, *ChainEntry]()
	}
	if c.tracer == nil {
		c.tracer = observability.NopTracer()
	}
	return c, nil
}

// ID identifies the converter in logs.
func (c *Converter) ID() string { return c.id }

// Policy returns the converter's policy.
func (c *Converter) Policy() *policy.Policy { return c.policy }

// Convert transforms a packed or planar byte buffer.
func (c *Converter) Convert(ctx context.Context, buf []byte, opts Options) (*Result, error) {
	return c.convert(ctx, buf, -1, opts)
}

// plan is the resolved form of a call.
type plan struct {
	inFmt, outFmt format.Code
	intent        cmm.Intent
	flags         cmm.Flags
	clamp         bool
	source        cmm.ProfileSource
	destination   cmm.ProfileSource
	intermediates []cmm.ProfileSource
	multi         bool
	eval          policy.Evaluation
}

func (c *Converter) convert(ctx context.Context, buf []byte, elements int, opts Options) (res *Result, err error) {
	if c.closed {
		return nil, errors.New("convert: converter is closed")
	}
	ctx, span := c.tracer.StartSpan(ctx, "convert")
	defer func() {
		if err != nil {
			span.SetError(err)
		}
		span.Finish()
	}()
	start := time.Now()

	p, err := c.plan(ctx, opts)
	if err != nil {
		return nil, err
	}

	if p.inFmt.Swapped() && (p.outFmt.IsFloat() || c.preSwap) {
		buf = swap16(buf)
		p.inFmt = p.inFmt.WithoutSwap()
	}

	pixels, err := pixelCount(buf, elements, p.inFmt)
	if err != nil {
		return nil, err
	}

	res = &Result{
		Output:         make([]byte, pixels*p.outFmt.BytesPerPixel()),
		PixelCount:     pixels,
		InputChannels:  p.inFmt.TotalChannels(),
		OutputChannels: p.outFmt.TotalChannels(),
		InputFormat:    p.inFmt,
		OutputFormat:   p.outFmt,
		Intent:         p.intent,
		Flags:          p.flags,
		Stages:         1,
		Evaluation:     p.eval,
	}

	src, err := c.openProfile(ctx, p.source, "sourceProfile")
	if err != nil {
		return nil, err
	}
	dst, err := c.openProfile(ctx, p.destination, "destinationProfile")
	if err != nil {
		return nil, err
	}

	if p.multi {
		chain := []*ProfileEntry{src}
		for i, s := range p.intermediates {
			e, err := c.openProfile(ctx, s, fmt.Sprintf("intermediateProfiles[%d]", i))
			if err != nil {
				return nil, err
			}
			chain = append(chain, e)
		}
		chain = append(chain, dst)
		entry, err := c.chain(chain, p)
		if err != nil {
			return nil, err
		}
		res.Stages = entry.StageCount()
		if err := c.runChain(entry, buf, res.Output, pixels); err != nil {
			return nil, err
		}
	} else {
		t, err := c.transform(src, dst, p.inFmt, p.outFmt, p.intent, p.flags)
		if err != nil {
			return nil, err
		}
		if res.Clamping, err = c.run(t, p, buf, res.Output, pixels); err != nil {
			return nil, err
		}
	}

	span.SetTag(observability.MetricConvertedPixels, pixels)
	span.SetTag(observability.MetricChainStages, res.Stages)
	span.SetTag(observability.MetricConvertTime, time.Since(start))
	span.SetTag(observability.MetricTransformCreated, c.created)
	span.SetTag(observability.MetricTransformCacheHit, c.hits)
	return res, nil
}

// plan resolves formats, evaluates rules and validates profile sources. It
// never calls the engine.
func (c *Converter) plan(ctx context.Context, opts Options) (plan, error) {
	var p plan
	var err error
	if p.inFmt, err = c.policy.ResolveInputFormat(opts.Options); err != nil {
		return p, err
	}
	if p.outFmt, err = c.policy.ResolveOutputFormat(opts.Options); err != nil {
		return p, err
	}

	p.eval = c.policy.EvaluateConversion(policy.ConversionDescriptor{
		SourceColorSpace:       opts.InputColorSpace,
		DestinationColorSpace:  opts.OutputColorSpace,
		RenderingIntent:        opts.RenderingIntent,
		BlackPointCompensation: opts.BlackPointCompensation,
		SourceProfile:          opts.SourceProfile,
		DestinationProfile:     opts.DestinationProfile,
	})
	if !p.eval.Valid {
		verr := p.eval.Violation()
		action := c.recovery.OnViolation(ctx, verr, recovery.Location{
			Component:   "convert",
			Source:      string(opts.InputColorSpace),
			Destination: string(opts.OutputColorSpace),
			Intent:      opts.RenderingIntent.String(),
			Domain:      c.policy.Domain(),
		})
		if action == recovery.ActionFail {
			return p, verr
		}
	}
	ov := p.eval.Overrides

	p.intent = opts.RenderingIntent
	if i, ok := ov.Intent(); ok {
		p.intent = i
	}
	p.flags = opts.Flags &^ cmm.FlagBPCClamping
	p.clamp = opts.AdaptiveClamping || opts.Flags.Has(cmm.FlagBPCClamping)
	if opts.BlackPointCompensation {
		p.flags |= cmm.FlagBlackPointCompensation
	}
	if ov.MultiprofileBlackpointScaling != nil && *ov.MultiprofileBlackpointScaling {
		p.flags |= cmm.FlagMultiprofileBlackpointScaling
	}

	if p.source, err = c.checkSource(opts.SourceProfile, opts.InputColorSpace, "sourceProfile"); err != nil {
		return p, err
	}
	if p.destination, err = c.checkSource(opts.DestinationProfile, opts.OutputColorSpace, "destinationProfile"); err != nil {
		return p, err
	}
	p.intermediates = opts.IntermediateProfiles
	if len(p.intermediates) == 0 {
		for _, ref := range ov.RequiredIntermediateProfiles {
			p.intermediates = append(p.intermediates, cmm.ParseSource(ref))
		}
	}
	for i, s := range p.intermediates {
		if s.IsZero() {
			return p, colorerr.Configf(fmt.Sprintf("intermediateProfiles[%d]", i), "empty profile source")
		}
		if _, err := c.checkSource(s, "", fmt.Sprintf("intermediateProfiles[%d]", i)); err != nil {
			return p, err
		}
	}

	// Only an explicit true override selects a multi-profile path without
	// intermediates; an unset override never does.
	required := ov.RequiresMultiprofileTransform
	p.multi = len(p.intermediates) > 0 || (required != nil && *required)
	return p, nil
}

// checkSource applies the no-fallback rule: only Lab data may omit a
// profile.
func (c *Converter) checkSource(s cmm.ProfileSource, space format.ColorSpace, field string) (cmm.ProfileSource, error) {
	if s.IsZero() {
		if space == format.Lab {
			return cmm.LabSource(), nil
		}
		return s, colorerr.Configf(field, "%s data requires profile bytes; no fallback profile is substituted", space)
	}
	if s.Builtin == cmm.BuiltinSRGB && !c.caps.SRGB {
		return s, colorerr.Configf(field, "the built-in sRGB profile is not available in this build")
	}
	return s, nil
}

func pixelCount(buf []byte, elements int, f format.Code) (int, error) {
	if elements >= 0 {
		ch := f.TotalChannels()
		if elements%ch != 0 {
			return 0, colorerr.Configf("buffer", "%d samples is not a multiple of %d channels", elements, ch)
		}
		return elements / ch, nil
	}
	bpp := f.BytesPerPixel()
	if bpp == 0 || len(buf)%bpp != 0 {
		return 0, colorerr.Configf("buffer", "%d bytes is not a multiple of %d bytes per pixel", len(buf), bpp)
	}
	return len(buf) / bpp, nil
}

func swap16(buf []byte) []byte {
	out := make([]byte, len(buf))
	for i := 0; i+1 < len(buf); i += 2 {
		out[i], out[i+1] = buf[i+1], buf[i]
	}
	return out
}

func (c *Converter) openProfile(ctx context.Context, s cmm.ProfileSource, field string) (*ProfileEntry, error) {
	key := s.Key()
	if e, ok := c.profiles.Get(key); ok {
		return e, nil
	}

	e := &ProfileEntry{Key: key}
	var (
		h   cmm.Handle
		err error
		op  string
	)
	switch {
	case s.Builtin == cmm.BuiltinLab:
		op, e.Space = "CreateLab4Profile", format.Lab
		h, err = c.provider.CreateLab4Profile()
	case s.Builtin == cmm.BuiltinSRGB:
		op, e.Space = "CreateSRGBProfile", format.RGB
		h, err = c.provider.CreateSRGBProfile()
	default:
		data := s.Data
		if len(data) == 0 {
			prof, perr := c.pool.GetProfile(ctx, s.Location)
			if perr != nil {
				return nil, colorerr.Configf(field, "%v", perr)
			}
			data, e.PoolKey = prof.Data, prof.Key
		}
		e.Size = len(data)
		e.Space = headerSpace(data)
		op = "OpenProfileFromMem"
		h, err = c.provider.OpenProfileFromMem(data)
	}
	if err != nil || h == 0 {
		if e.PoolKey != "" {
			c.pool.ReleaseProfile(e.PoolKey)
		}
		return nil, &colorerr.EngineError{Op: op, ProfileSize: e.Size, ProfileType: string(e.Space), Err: err}
	}
	e.Handle = h
	c.profiles.Put(key, e)
	return e, nil
}

func headerSpace(data []byte) format.ColorSpace {
	p, err := cmm.ParseICCProfile(data)
	if err != nil {
		return ""
	}
	switch p.ColorSpace() {
	case "GRAY":
		return format.Gray
	case "RGB ":
		return format.RGB
	case "CMYK":
		return format.CMYK
	case "Lab ":
		return format.Lab
	}
	return ""
}

func (c *Converter) transform(src, dst *ProfileEntry, in, out format.Code, intent cmm.Intent, flags cmm.Flags) (*TransformEntry, error) {
	key := TransformKey{
		Source:       src.Key,
		Destination:  dst.Key,
		InputFormat:  in,
		OutputFormat: out,
		Intent:       intent,
		Flags:        flags,
	}
	if e, ok := c.transforms.Get(key); ok {
		c.hits++
		return e, nil
	}
	h, err := c.provider.CreateTransform(src.Handle, in, dst.Handle, out, intent, flags)
	if err != nil || h == 0 {
		return nil, &colorerr.EngineError{
			Op:           "CreateTransform",
			ProfileSize:  src.Size,
			ProfileType:  fmt.Sprintf("%s->%s", src.Space, dst.Space),
			InputFormat:  uint32(in),
			OutputFormat: uint32(out),
			Intent:       uint32(intent),
			Flags:        uint32(flags),
			Err:          err,
		}
	}
	e := &TransformEntry{Handle: h, InputFormat: in, OutputFormat: out}
	c.transforms.Put(key, e)
	c.created++
	c.logger.Debug("transform created",
		observability.String("format_in", in.String()),
		observability.String("format_out", out.String()),
		observability.String("intent", intent.String()),
		observability.Uint64("flags", uint64(flags)))
	return e, nil
}

// run executes a single transform, upgrading it with adaptive clamping the
// first time a call asks for it.
func (c *Converter) run(t *TransformEntry, p plan, in, out []byte, pixels int) (*cmm.ClampingStats, error) {
	if pixels == 0 {
		return nil, nil
	}
	if p.clamp && p.flags.Has(cmm.FlagBlackPointCompensation) && c.caps.AdaptiveClamping {
		if !t.ClampingInitialized && !t.clampingTried {
			t.clampingTried = true
			t.ClampingInitialized = c.provider.InitAdaptiveClamping(t.Handle, p.inFmt.TotalChannels(), p.outFmt.TotalChannels())
			if !t.ClampingInitialized {
				c.logger.Debug("adaptive clamping unavailable for transform")
			}
		}
		if t.ClampingInitialized {
			stats, err := c.provider.TransformBufferAdaptive(t.Handle, in, out, pixels)
			if err != nil {
				return nil, &colorerr.EngineError{Op: "TransformBufferAdaptive", InputFormat: uint32(t.InputFormat), OutputFormat: uint32(t.OutputFormat), Err: err}
			}
			return stats, nil
		}
	}
	if err := c.provider.TransformBuffer(t.Handle, in, out, pixels); err != nil {
		return nil, &colorerr.EngineError{Op: "TransformBuffer", InputFormat: uint32(t.InputFormat), OutputFormat: uint32(t.OutputFormat), Err: err}
	}
	return nil, nil
}

// chain returns the memoized multi-profile path for profiles, trying a
// native transform first and falling back to pairwise stages.
func (c *Converter) chain(profiles []*ProfileEntry, p plan) (*ChainEntry, error) {
	keys := make([]string, len(profiles))
	for i, e := range profiles {
		keys[i] = e.Key
	}
	key := ChainKey{
		Profiles:     strings.Join(keys, "|"),
		InputFormat:  p.inFmt,
		OutputFormat: p.outFmt,
		Intent:       p.intent,
		Flags:        p.flags,
	}
	if e, ok := c.chains.Get(key); ok {
		return e, nil
	}

	native := len(profiles) > 2 || p.flags.Has(cmm.FlagMultiprofileBlackpointScaling)
	if native && c.caps.MultiProfile {
		handles := make([]cmm.Handle, len(profiles))
		for i, e := range profiles {
			handles[i] = e.Handle
		}
		h, err := c.provider.CreateMultiprofileTransform(handles, p.inFmt, p.outFmt, p.intent, p.flags)
		if err == nil && h != 0 {
			e := &ChainEntry{Native: h}
			c.chains.Put(key, e)
			return e, nil
		}
		c.logger.Debug("native multi-profile transform failed, chaining", observability.Error("error", err))
	}

	entry := &ChainEntry{}
	stageFlags := p.flags &^ cmm.FlagMultiprofileBlackpointScaling
	for i := 0; i+1 < len(profiles); i++ {
		last := i+2 == len(profiles)
		in, out, intent := p.inFmt, p.outFmt, p.intent
		if i > 0 {
			in = entry.Stages[i-1].OutputFormat
		}
		if !last {
			intent = cmm.IntentRelativeColorimetric
			var err error
			if out, err = c.intermediateFormat(profiles[i+1]); err != nil {
				return nil, err
			}
		}
		t, err := c.transform(profiles[i], profiles[i+1], in, out, intent, stageFlags)
		if err != nil {
			return nil, err
		}
		entry.Stages = append(entry.Stages, Stage{Transform: t, InputFormat: in, OutputFormat: out, Intent: intent})
	}
	c.chains.Put(key, entry)
	return entry, nil
}

// intermediateFormat is packed float in the profile's own color space.
func (c *Converter) intermediateFormat(e *ProfileEntry) (format.Code, error) {
	if e.Space == "" {
		return 0, &colorerr.EngineError{Op: "intermediate profile", ProfileSize: e.Size, Err: errors.New("unrecognized profile color space")}
	}
	return c.policy.Resolver().Resolve(format.Descriptor{ColorSpace: e.Space, BitsPerComponent: 32})
}

func (c *Converter) runChain(e *ChainEntry, in, out []byte, pixels int) error {
	if pixels == 0 {
		return nil
	}
	if e.Native != 0 {
		if err := c.provider.TransformBuffer(e.Native, in, out, pixels); err != nil {
			return &colorerr.EngineError{Op: "TransformBuffer", Err: err}
		}
		return nil
	}
	src := in
	for i, st := range e.Stages {
		dst := out
		if i < len(e.Stages)-1 {
			dst = make([]byte, pixels*st.OutputFormat.BytesPerPixel())
		}
		if err := c.provider.TransformBuffer(st.Transform.Handle, src, dst, pixels); err != nil {
			return &colorerr.EngineError{Op: fmt.Sprintf("TransformBuffer stage %d", i), InputFormat: uint32(st.InputFormat), OutputFormat: uint32(st.OutputFormat), Intent: uint32(st.Intent), Err: err}
		}
		src = dst
	}
	return nil
}

// Close releases every cached engine handle and pool reference. The
// provider itself stays open.
func (c *Converter) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	var errs []error
	c.chains.Range(func(_ ChainKey, e *ChainEntry) {
		if e.Native != 0 {
			errs = append(errs, c.provider.DeleteTransform(e.Native))
		}
	})
	c.transforms.Range(func(_ TransformKey, e *TransformEntry) {
		errs = append(errs, c.provider.DeleteTransform(e.Handle))
	})
	c.profiles.Range(func(_ string, e *ProfileEntry) {
		errs = append(errs, c.provider.CloseProfile(e.Handle))
		if e.PoolKey != "" {
			c.pool.ReleaseProfile(e.PoolKey)
		}
	})
	c.chains.Clear()
	c.transforms.Clear()
	c.profiles.Clear()
	return errors.Join(errs...)
}
