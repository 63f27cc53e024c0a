// Package cmm defines the color engine contract the orchestration layers
// consume, together with a pure-Go reference engine implementing it.
package cmm

import (
	"errors"
	"fmt"
	"strings"

	"github.com/wudi/colorkit/format"
)

// Handle identifies a profile or transform owned by a Provider. Zero is the
// null handle.
type Handle uint32

// Intent is a rendering intent code.
type Intent uint32

const (
	IntentPerceptual           Intent = 0
	IntentRelativeColorimetric Intent = 1
	IntentSaturation           Intent = 2
	IntentAbsoluteColorimetric Intent = 3
	// IntentKOnlyGCR maps neutral colors to K-only CMYK output and uses
	// relative colorimetric for everything else.
	IntentKOnlyGCR Intent = 20
)

var intentNames = map[Intent]string{
	IntentPerceptual:           "perceptual",
	IntentRelativeColorimetric: "relative-colorimetric",
	IntentSaturation:           "saturation",
	IntentAbsoluteColorimetric: "absolute-colorimetric",
	IntentKOnlyGCR:             "preserve-k-only-relative-colorimetric-gcr",
}

func (i Intent) String() string {
	if s, ok := intentNames[i]; ok {
		return s
	}
	return fmt.Sprintf("intent(%d)", uint32(i))
}

// ParseIntent accepts the hyphenated names used in rule files.
func ParseIntent(s string) (Intent, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range intentNames {
		if name == s {
			return i, nil
		}
	}
	return 0, fmt.Errorf("unknown rendering intent %q", s)
}

// Flags are transform creation flags.
type Flags uint32

const (
	FlagNoCache                       Flags = 0x0040
	FlagNoOptimize                    Flags = 0x0100
	FlagHighResPrecalc                Flags = 0x0400
	FlagBlackPointCompensation        Flags = 0x2000
	FlagMultiprofileBlackpointScaling Flags = 0x20000000
	FlagDebug                         Flags = 0x40000000
	// FlagBPCClamping asks for adaptive boundary clamping. It is never
	// part of a transform's identity; callers enable it on an existing
	// transform through InitAdaptiveClamping.
	FlagBPCClamping Flags = 0x80000000
)

// Has reports whether all bits of f2 are set.
func (f Flags) Has(f2 Flags) bool { return f&f2 == f2 }

// Capabilities are reported once by a Provider and consulted instead of
// probing for optional methods.
type Capabilities struct {
	MultiProfile     bool
	AdaptiveClamping bool
	SRGB             bool
	KOnlyGCR         bool
}

// ClampingStats describes one adaptive transform call.
type ClampingStats struct {
	Transformed int
	Minimum     int
	Maximum     int
	Skipped     bool
}

// Adaptive clamping only engages on buffers of at least ClampingMinPixels,
// and only when the first ClampingSampleSize pixels are all boundary values.
const (
	ClampingMinPixels  = 2_000_000
	ClampingSampleSize = 256
)

// ErrMultiProfileUnavailable is returned when a provider cannot build a
// single transform across more than two profiles.
var ErrMultiProfileUnavailable = errors.New("cmm: multi-profile transforms unavailable")

// ErrInvalidHandle is returned for unknown or already released handles.
var ErrInvalidHandle = errors.New("cmm: invalid handle")

// Provider is the color engine contract.
type Provider interface {
	OpenProfileFromMem(data []byte) (Handle, error)
	CreateLab4Profile() (Handle, error)
	// CreateSRGBProfile fails when Capabilities().SRGB is false.
	CreateSRGBProfile() (Handle, error)
	CloseProfile(h Handle) error

	CreateTransform(src Handle, inFmt format.Code, dst Handle, outFmt format.Code, intent Intent, flags Flags) (Handle, error)
	CreateMultiprofileTransform(profiles []Handle, inFmt, outFmt format.Code, intent Intent, flags Flags) (Handle, error)
	DeleteTransform(h Handle) error

	TransformBuffer(h Handle, in, out []byte, pixelCount int) error
	InitAdaptiveClamping(h Handle, inChannels, outChannels int) bool
	TransformBufferAdaptive(h Handle, in, out []byte, pixelCount int) (*ClampingStats, error)

	Capabilities() Capabilities
	MemoryEndianness() format.Endianness
	Identifier() string
	Close() error
}
