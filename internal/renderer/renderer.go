// Package renderer holds the pure, stateless pixel-compositing and color
// conversion logic shared by the PPU. It has no notion of scanlines, dots,
// or VRAM access timing: given two already-fetched pixels and a backdrop
// color, it says which color lands in the frame buffer. Keeping this
// logic side-effect free lets it be unit tested independently of the
// PPU's per-cycle stepping.
package renderer

// Pixel is a single rendered sample from either the background or sprite
// pipeline, prior to compositing.
type Pixel struct {
	ColorIndex   uint8  // 0-3, where 0 is transparent
	PaletteIndex uint8  // which of the 4 palettes this pixel selects
	RGB          uint32 // resolved RGB color
	SpriteIndex  int8   // originating sprite (0-63), or -1 for background
	Priority     bool   // sprite priority bit: true = behind background
	Transparent  bool   // true when ColorIndex == 0
}

// Composite resolves the final RGB color for a dot given its background
// and sprite samples, following the 2C02's priority multiplexer:
// transparent sprite falls through to background, transparent background
// falls through to sprite, and when both are opaque the sprite's
// priority bit decides unless background rendering is off.
func Composite(background, sprite Pixel, backgroundEnabled bool, backdropRGB uint32) uint32 {
	if sprite.Transparent {
		if background.Transparent {
			return backdropRGB
		}
		return background.RGB
	}

	if background.Transparent {
		return sprite.RGB
	}

	if sprite.Priority && backgroundEnabled {
		return background.RGB
	}
	return sprite.RGB
}

// nesPalette is the NES 2C02 NTSC color palette (64 entries), stored as
// 0xAARRGGBB with a fully opaque alpha channel.
var nesPalette = [64]uint32{
	// Row 0 (0x00-0x0F)
	0xFF666666, 0xFF002A88, 0xFF1412A7, 0xFF3B00A4, 0xFF5C007E, 0xFF6E0040, 0xFF6C0600, 0xFF561D00,
	0xFF333500, 0xFF0B4800, 0xFF005200, 0xFF004F08, 0xFF00404D, 0xFF000000, 0xFF000000, 0xFF000000,
	// Row 1 (0x10-0x1F)
	0xFFADADAD, 0xFF155FD9, 0xFF4240FF, 0xFF7527FE, 0xFFA01ACC, 0xFFB71E7B, 0xFFB53120, 0xFF994E00,
	0xFF6B6D00, 0xFF388700, 0xFF0C9300, 0xFF008F32, 0xFF007C8D, 0xFF000000, 0xFF000000, 0xFF000000,
	// Row 2 (0x20-0x2F)
	0xFFFFFEFF, 0xFF64B0FF, 0xFF9290FF, 0xFFC676FF, 0xFFF36AFF, 0xFFFE6ECC, 0xFFFE8170, 0xFFEA9E22,
	0xFFBCBE00, 0xFF88D800, 0xFF5CE430, 0xFF45E082, 0xFF48CDDE, 0xFF4F4F4F, 0xFF000000, 0xFF000000,
	// Row 3 (0x30-0x3F)
	0xFFFFFEFF, 0xFFC0DFFF, 0xFFD3D2FF, 0xFFE8C8FF, 0xFFFBC2FF, 0xFFFEC4EA, 0xFFFECCC5, 0xFFF7D8A5,
	0xFFE4E594, 0xFFCFF29B, 0xFFBEFBB3, 0xFFB8F8D8, 0xFFB8F8F8, 0xFF000000, 0xFF000000, 0xFF000000,
}

// ColorToRGB converts a 6-bit NES palette index into a 0x00RRGGBB color.
// Out-of-range indices resolve to black rather than panicking, since a
// corrupt palette byte should degrade gracefully, not crash the PPU.
func ColorToRGB(colorIndex uint8) uint32 {
	if colorIndex >= uint8(len(nesPalette)) {
		return 0x000000
	}
	return nesPalette[colorIndex] & 0x00FFFFFF
}
