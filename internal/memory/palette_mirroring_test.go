package memory

import "testing"

func TestPaletteRAMAddressMapping(t *testing.T) {
	cart := &MockCartridge{}
	ppuMem := NewPPUMemory(cart, MirrorHorizontal)

	tests := []struct {
		name        string
		address     uint16
		value       uint8
		description string
	}{
		{"Palette Start", 0x3F00, 0x0F, "$3F00 should be a valid palette address"},
		{"Background Palette 0", 0x3F01, 0x16, "$3F01 should be a valid background palette address"},
		{"Background Palette 3", 0x3F0F, 0x30, "$3F0F should be a valid background palette address"},
		{"Sprite Palette 0", 0x3F10, 0x16, "$3F10 should be a valid sprite palette address"},
		{"Sprite Palette 3", 0x3F1F, 0x30, "$3F1F should be a valid sprite palette address"},
		{"After Palette Range", 0x3F20, 0x16, "$3F20 should mirror into the palette"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ppuMem.Write(tt.address, tt.value)
			got := ppuMem.Read(tt.address)
			if got != tt.value {
				t.Errorf("%s: wrote 0x%02X to $%04X, read back 0x%02X", tt.description, tt.value, tt.address, got)
			}
		})
	}
}

// Universal background entries ($3F10/$3F14/$3F18/$3F1C) mirror their
// $3F00/$3F04/$3F08/$3F0C base, per the PPU's palette mirroring rule.
func TestPaletteUniversalBackgroundMirrors(t *testing.T) {
	cart := &MockCartridge{}
	ppuMem := NewPPUMemory(cart, MirrorHorizontal)

	bases := []uint16{0x3F00, 0x3F04, 0x3F08, 0x3F0C}
	for i, base := range bases {
		mirror := base + 0x10
		ppuMem.Write(base, uint8(0x10+i))
		if got := ppuMem.Read(mirror); got != uint8(0x10+i) {
			t.Errorf("mirror $%04X of base $%04X: got 0x%02X, want 0x%02X", mirror, base, got, 0x10+i)
		}
	}
}
