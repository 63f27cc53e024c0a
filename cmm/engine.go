package cmm

import (
	"errors"
	"fmt"
	"sync"

	"github.com/wudi/colorkit/format"
	"github.com/wudi/colorkit/observability"
)

// EngineConfig configures the reference engine.
type EngineConfig struct {
	Logger observability.Logger
	// DisableMultiProfile hides the native multi-profile capability so
	// callers exercise chained fallbacks.
	DisableMultiProfile bool
	// DisableAdaptiveClamping hides the adaptive clamping capability.
	DisableAdaptiveClamping bool
	// NeutralTolerance is the chroma at or below which the K-only intent
	// treats a color as neutral. Zero means 1.0.
	NeutralTolerance float64
}

// Engine is a pure-Go Provider. It is safe for concurrent use, though the
// orchestration layers give each goroutine its own engine.
type Engine struct {
	cfg    EngineConfig
	logger observability.Logger
	srgb   *matrixTRCModel

	mu         sync.Mutex
	next       Handle
	profiles   map[Handle]*engineProfile
	transforms map[Handle]*transform
	closed     bool
}

type engineProfile struct {
	icc     *ICCProfile // nil for the built-in Lab profile
	builtin Builtin
}

func (p *engineProfile) space() string {
	if p.icc == nil {
		return "Lab "
	}
	return p.icc.ColorSpace()
}

func (p *engineProfile) model(intent Intent, srgb *matrixTRCModel) (deviceModel, error) {
	if p.icc == nil {
		return labModel{}, nil
	}
	return modelFor(p.icc, intent, srgb)
}

func (p *engineProfile) whitePoint() [3]float64 {
	if p.icc == nil {
		return d50
	}
	return p.icc.MediaWhitePoint()
}

// NewEngine returns a reference engine.
func NewEngine(cfg EngineConfig) *Engine {
	if cfg.NeutralTolerance == 0 {
		cfg.NeutralTolerance = 1.0
	}
	srgb, err := newMatrixTRC(mustParse(srgbProfileBytes()))
	if err != nil {
		panic("cmm: built-in sRGB model: " + err.Error())
	}
	return &Engine{
		cfg:        cfg,
		logger:     observability.OrNop(cfg.Logger).With(observability.String("component", "cmm")),
		srgb:       srgb,
		profiles:   make(map[Handle]*engineProfile),
		transforms: make(map[Handle]*transform),
	}
}

func mustParse(data []byte) *ICCProfile {
	p, err := ParseICCProfile(data)
	if err != nil {
		panic("cmm: built-in profile: " + err.Error())
	}
	return p
}

var errClosed = errors.New("cmm: engine closed")

func (e *Engine) Identifier() string { return "colorkit-reference-1" }

func (e *Engine) MemoryEndianness() format.Endianness { return format.HostEndianness() }

func (e *Engine) Capabilities() Capabilities {
	return Capabilities{
		MultiProfile:     !e.cfg.DisableMultiProfile,
		AdaptiveClamping: !e.cfg.DisableAdaptiveClamping,
		SRGB:             srgbAvailable,
		KOnlyGCR:         true,
	}
}

func (e *Engine) register(p *engineProfile) (Handle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return 0, errClosed
	}
	e.next++
	e.profiles[e.next] = p
	return e.next, nil
}

// OpenProfileFromMem parses data. The engine keeps a reference to data, so
// callers must not mutate it while the handle is open.
func (e *Engine) OpenProfileFromMem(data []byte) (Handle, error) {
	icc, err := ParseICCProfile(data)
	if err != nil {
		return 0, err
	}
	return e.register(&engineProfile{icc: icc})
}

func (e *Engine) CreateLab4Profile() (Handle, error) {
	return e.register(&engineProfile{builtin: BuiltinLab})
}

func (e *Engine) CreateSRGBProfile() (Handle, error) {
	if !srgbAvailable {
		return 0, errors.New("cmm: built-in sRGB profile is not available in this build")
	}
	icc, err := ParseICCProfile(srgbProfileBytes())
	if err != nil {
		return 0, err
	}
	return e.register(&engineProfile{icc: icc, builtin: BuiltinSRGB})
}

func (e *Engine) CloseProfile(h Handle) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.profiles[h]; !ok {
		return ErrInvalidHandle
	}
	delete(e.profiles, h)
	return nil
}

func (e *Engine) lookupProfiles(hs []Handle) ([]*engineProfile, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, errClosed
	}
	out := make([]*engineProfile, len(hs))
	for i, h := range hs {
		p, ok := e.profiles[h]
		if !ok {
			return nil, fmt.Errorf("profile %d: %w", h, ErrInvalidHandle)
		}
		out[i] = p
	}
	return out, nil
}

func (e *Engine) CreateTransform(src Handle, inFmt format.Code, dst Handle, outFmt format.Code, intent Intent, flags Flags) (Handle, error) {
	return e.createTransform([]Handle{src, dst}, inFmt, outFmt, intent, flags)
}

// CreateMultiprofileTransform chains profiles through the PCS in a single
// transform. Two-profile chains are accepted only with
// FlagMultiprofileBlackpointScaling, matching CreateTransform otherwise.
func (e *Engine) CreateMultiprofileTransform(profiles []Handle, inFmt, outFmt format.Code, intent Intent, flags Flags) (Handle, error) {
	if e.cfg.DisableMultiProfile {
		return 0, ErrMultiProfileUnavailable
	}
	if len(profiles) < 2 || (len(profiles) == 2 && !flags.Has(FlagMultiprofileBlackpointScaling)) {
		return 0, fmt.Errorf("cmm: multi-profile transform needs 3 or more profiles, got %d", len(profiles))
	}
	return e.createTransform(profiles, inFmt, outFmt, intent, flags)
}

func (e *Engine) createTransform(hs []Handle, inFmt, outFmt format.Code, intent Intent, flags Flags) (Handle, error) {
	profiles, err := e.lookupProfiles(hs)
	if err != nil {
		return 0, err
	}
	t, err := e.buildTransform(profiles, inFmt, outFmt, intent, flags)
	if err != nil {
		return 0, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return 0, errClosed
	}
	e.next++
	e.transforms[e.next] = t
	if flags.Has(FlagDebug) {
		e.logger.Debug("transform created",
			observability.Int("handle", int(e.next)),
			observability.Int("profiles", len(hs)),
			observability.String("intent", intent.String()),
			observability.String("input", inFmt.String()),
			observability.String("output", outFmt.String()))
	}
	return e.next, nil
}

func (e *Engine) DeleteTransform(h Handle) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.transforms[h]; !ok {
		return ErrInvalidHandle
	}
	delete(e.transforms, h)
	return nil
}

func (e *Engine) lookupTransform(h Handle) (*transform, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.transforms[h]
	if !ok {
		return nil, fmt.Errorf("transform %d: %w", h, ErrInvalidHandle)
	}
	return t, nil
}

func (e *Engine) TransformBuffer(h Handle, in, out []byte, pixelCount int) error {
	t, err := e.lookupTransform(h)
	if err != nil {
		return err
	}
	return t.run(in, out, pixelCount)
}

func (e *Engine) InitAdaptiveClamping(h Handle, inChannels, outChannels int) bool {
	if e.cfg.DisableAdaptiveClamping {
		return false
	}
	t, err := e.lookupTransform(h)
	if err != nil {
		return false
	}
	return t.initClamping(inChannels, outChannels)
}

func (e *Engine) TransformBufferAdaptive(h Handle, in, out []byte, pixelCount int) (*ClampingStats, error) {
	t, err := e.lookupTransform(h)
	if err != nil {
		return nil, err
	}
	return t.runAdaptive(in, out, pixelCount)
}

// Close releases every handle. Further calls fail.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	e.profiles = map[Handle]*engineProfile{}
	e.transforms = map[Handle]*transform{}
	return nil
}
