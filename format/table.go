package format

type tableKey struct {
	cs    ColorSpace
	bits  int
	alpha bool
	swap  bool
}

// Named codes for the packed, natural-order formats. Float formats never
// carry the endian bit.
var (
	TypeGray8      = colorSpaceSH(PixelTypeGray) | channelsSH(1) | bytesSH(1)
	TypeGray16     = colorSpaceSH(PixelTypeGray) | channelsSH(1) | bytesSH(2)
	TypeGray16SE   = TypeGray16 | endian16SH(1)
	TypeGrayA8     = TypeGray8 | extraSH(1)
	TypeGrayA16    = TypeGray16 | extraSH(1)
	TypeGrayA16SE  = TypeGrayA16 | endian16SH(1)
	TypeGrayFloat  = floatSH(1) | colorSpaceSH(PixelTypeGray) | channelsSH(1) | bytesSH(4)
	TypeRGB8       = colorSpaceSH(PixelTypeRGB) | channelsSH(3) | bytesSH(1)
	TypeRGB16      = colorSpaceSH(PixelTypeRGB) | channelsSH(3) | bytesSH(2)
	TypeRGB16SE    = TypeRGB16 | endian16SH(1)
	TypeRGBA8      = TypeRGB8 | extraSH(1)
	TypeRGBA16     = TypeRGB16 | extraSH(1)
	TypeRGBA16SE   = TypeRGBA16 | endian16SH(1)
	TypeRGBFloat   = floatSH(1) | colorSpaceSH(PixelTypeRGB) | channelsSH(3) | bytesSH(4)
	TypeRGBAFloat  = TypeRGBFloat | extraSH(1)
	TypeCMYK8      = colorSpaceSH(PixelTypeCMYK) | channelsSH(4) | bytesSH(1)
	TypeCMYK16     = colorSpaceSH(PixelTypeCMYK) | channelsSH(4) | bytesSH(2)
	TypeCMYK16SE   = TypeCMYK16 | endian16SH(1)
	TypeCMYKA8     = TypeCMYK8 | extraSH(1)
	TypeCMYKFloat  = floatSH(1) | colorSpaceSH(PixelTypeCMYK) | channelsSH(4) | bytesSH(4)
	TypeLab8       = colorSpaceSH(PixelTypeLab) | channelsSH(3) | bytesSH(1)
	TypeLab16      = colorSpaceSH(PixelTypeLab) | channelsSH(3) | bytesSH(2)
	TypeLab16SE    = TypeLab16 | endian16SH(1)
	TypeLabFloat   = floatSH(1) | colorSpaceSH(PixelTypeLab) | channelsSH(3) | bytesSH(4)
	TypeGrayAFloat = TypeGrayFloat | extraSH(1)
)

var commonFormats = map[tableKey]Code{
	{Gray, 8, false, false}:  TypeGray8,
	{Gray, 8, true, false}:   TypeGrayA8,
	{Gray, 16, false, false}: TypeGray16,
	{Gray, 16, false, true}:  TypeGray16SE,
	{Gray, 16, true, false}:  TypeGrayA16,
	{Gray, 16, true, true}:   TypeGrayA16SE,
	{Gray, 32, false, false}: TypeGrayFloat,
	{Gray, 32, true, false}:  TypeGrayAFloat,
	{RGB, 8, false, false}:   TypeRGB8,
	{RGB, 8, true, false}:    TypeRGBA8,
	{RGB, 16, false, false}:  TypeRGB16,
	{RGB, 16, false, true}:   TypeRGB16SE,
	{RGB, 16, true, false}:   TypeRGBA16,
	{RGB, 16, true, true}:    TypeRGBA16SE,
	{RGB, 32, false, false}:  TypeRGBFloat,
	{RGB, 32, true, false}:   TypeRGBAFloat,
	{CMYK, 8, false, false}:  TypeCMYK8,
	{CMYK, 8, true, false}:   TypeCMYKA8,
	{CMYK, 16, false, false}: TypeCMYK16,
	{CMYK, 16, false, true}:  TypeCMYK16SE,
	{CMYK, 32, false, false}: TypeCMYKFloat,
	{Lab, 8, false, false}:   TypeLab8,
	{Lab, 16, false, false}:  TypeLab16,
	{Lab, 16, false, true}:   TypeLab16SE,
	{Lab, 32, false, false}:  TypeLabFloat,
}
