package cmm

import (
	"fmt"
	"hash/fnv"
)

// Builtin names a profile the engine synthesizes itself.
type Builtin string

const (
	BuiltinNone Builtin = ""
	BuiltinLab  Builtin = "Lab"
	BuiltinSRGB Builtin = "sRGB"
)

// ProfileSource is where a profile comes from: raw ICC bytes, a built-in, or
// a location string resolved through a loader.
type ProfileSource struct {
	Builtin  Builtin
	Data     []byte
	Location string
}

func LabSource() ProfileSource              { return ProfileSource{Builtin: BuiltinLab} }
func SRGBSource() ProfileSource             { return ProfileSource{Builtin: BuiltinSRGB} }
func BytesSource(data []byte) ProfileSource { return ProfileSource{Data: data} }
func LocationSource(loc string) ProfileSource {
	return ProfileSource{Location: loc}
}

// ParseSource maps the literal names "Lab" and "sRGB" to built-ins and
// treats anything else as a location.
func ParseSource(s string) ProfileSource {
	switch s {
	case string(BuiltinLab):
		return LabSource()
	case string(BuiltinSRGB):
		return SRGBSource()
	}
	return LocationSource(s)
}

// IsZero reports whether no source was given.
func (s ProfileSource) IsZero() bool {
	return s.Builtin == BuiltinNone && len(s.Data) == 0 && s.Location == ""
}

// Key identifies the source for caching. Byte sources are keyed by content.
func (s ProfileSource) Key() string {
	switch {
	case s.Builtin != BuiltinNone:
		return "builtin:" + string(s.Builtin)
	case len(s.Data) > 0:
		h := fnv.New64a()
		h.Write(s.Data)
		return fmt.Sprintf("bytes:%016x:%d", h.Sum64(), len(s.Data))
	case s.Location != "":
		return "loc:" + s.Location
	}
	return ""
}

func (s ProfileSource) String() string {
	switch {
	case s.Builtin != BuiltinNone:
		return string(s.Builtin)
	case len(s.Data) > 0:
		return fmt.Sprintf("<%d bytes>", len(s.Data))
	}
	return s.Location
}
