package cmm

import (
	"encoding/binary"
	"math"
	"unicode/utf16"
)

// ProfileBuilder assembles minimal ICC profiles. It is used for the
// built-in profiles and for test fixtures.
type ProfileBuilder struct {
	class, space, pcs string
	version           uint32
	tags              []builtTag
}

type builtTag struct {
	sig  string
	data []byte
}

// NewProfileBuilder starts a version 4.3 profile. Signatures are padded or
// truncated to four bytes.
func NewProfileBuilder(class, space, pcs string) *ProfileBuilder {
	return &ProfileBuilder{class: sig4(class), space: sig4(space), pcs: sig4(pcs), version: 0x04300000}
}

// Version sets the raw header version field, e.g. 0x02100000.
func (b *ProfileBuilder) Version(v uint32) *ProfileBuilder {
	b.version = v
	return b
}

// Tag appends a tag. Later tags with the same signature replace earlier ones.
func (b *ProfileBuilder) Tag(sig string, data []byte) *ProfileBuilder {
	sig = sig4(sig)
	for i := range b.tags {
		if b.tags[i].sig == sig {
			b.tags[i].data = data
			return b
		}
	}
	b.tags = append(b.tags, builtTag{sig: sig, data: data})
	return b
}

// Bytes serializes the profile with 4-byte aligned tag data.
func (b *ProfileBuilder) Bytes() []byte {
	tableEnd := iccHeaderSize + 4 + 12*len(b.tags)
	size := align4(tableEnd)
	offsets := make([]int, len(b.tags))
	for i, t := range b.tags {
		offsets[i] = size
		size = align4(size + len(t.data))
	}

	out := make([]byte, size)
	be := binary.BigEndian
	be.PutUint32(out[0:4], uint32(size))
	copy(out[4:8], "ckit")
	be.PutUint32(out[8:12], b.version)
	copy(out[12:16], b.class)
	copy(out[16:20], b.space)
	copy(out[20:24], b.pcs)
	copy(out[36:40], "acsp")
	be.PutUint32(out[68:72], floatToS15Fixed16(D50X))
	be.PutUint32(out[72:76], floatToS15Fixed16(D50Y))
	be.PutUint32(out[76:80], floatToS15Fixed16(D50Z))
	copy(out[80:84], "ckit")

	be.PutUint32(out[128:132], uint32(len(b.tags)))
	for i, t := range b.tags {
		e := out[132+12*i:]
		copy(e[0:4], t.sig)
		be.PutUint32(e[4:8], uint32(offsets[i]))
		be.PutUint32(e[8:12], uint32(len(t.data)))
		copy(out[offsets[i]:], t.data)
	}
	return out
}

func sig4(s string) string {
	for len(s) < 4 {
		s += " "
	}
	return s[:4]
}

func align4(n int) int { return (n + 3) &^ 3 }

// XYZTagData encodes an XYZType tag.
func XYZTagData(x, y, z float64) []byte {
	d := make([]byte, 20)
	copy(d, "XYZ ")
	binary.BigEndian.PutUint32(d[8:], floatToS15Fixed16(x))
	binary.BigEndian.PutUint32(d[12:], floatToS15Fixed16(y))
	binary.BigEndian.PutUint32(d[16:], floatToS15Fixed16(z))
	return d
}

// GammaTagData encodes a single-gamma curv tag.
func GammaTagData(gamma float64) []byte {
	d := make([]byte, 14)
	copy(d, "curv")
	binary.BigEndian.PutUint32(d[8:], 1)
	binary.BigEndian.PutUint16(d[12:], uint16(math.Round(gamma*256)))
	return d
}

// ParametricTagData encodes a para tag of the given function type.
func ParametricTagData(fn uint16, params ...float64) []byte {
	d := make([]byte, 12+4*len(params))
	copy(d, "para")
	binary.BigEndian.PutUint16(d[8:], fn)
	for i, p := range params {
		binary.BigEndian.PutUint32(d[12+4*i:], floatToS15Fixed16(p))
	}
	return d
}

// TextTagData encodes an mluc tag with a single en-US record.
func TextTagData(s string) []byte {
	u := utf16.Encode([]rune(s))
	d := make([]byte, 28+2*len(u))
	copy(d, "mluc")
	binary.BigEndian.PutUint32(d[8:], 1)
	binary.BigEndian.PutUint32(d[12:], 12)
	copy(d[16:20], "enUS")
	binary.BigEndian.PutUint32(d[20:], uint32(2*len(u)))
	binary.BigEndian.PutUint32(d[24:], 28)
	for i, r := range u {
		binary.BigEndian.PutUint16(d[28+2*i:], r)
	}
	return d
}

// LUT16TagData encodes an mft2 tag with identity input and output curves.
// grid holds gridPoints^in*out samples in [0,1], first input slowest.
func LUT16TagData(in, out, gridPoints int, grid []float64) []byte {
	const entries = 2
	size := 52 + in*entries*2 + len(grid)*2 + out*entries*2
	d := make([]byte, size)
	copy(d, "mft2")
	d[8], d[9], d[10] = byte(in), byte(out), byte(gridPoints)
	for i := 0; i < 3; i++ {
		binary.BigEndian.PutUint32(d[12+16*i:], floatToS15Fixed16(1))
	}
	binary.BigEndian.PutUint16(d[48:], entries)
	binary.BigEndian.PutUint16(d[50:], entries)
	off := 52
	put := func(v float64) {
		binary.BigEndian.PutUint16(d[off:], uint16(math.Round(clamp01(v)*65535)))
		off += 2
	}
	for c := 0; c < in; c++ {
		put(0)
		put(1)
	}
	for _, v := range grid {
		put(v)
	}
	for c := 0; c < out; c++ {
		put(0)
		put(1)
	}
	return d
}
