// Package app provides save state functionality for the NES emulator.
package app

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"nescore/internal/bus"
	"nescore/internal/nerr"
)

// StateManager manages save states
type StateManager struct {
	saveDirectory string
	maxSlots      int
	initialized   bool
}

// SaveState represents a saved emulator state
type SaveState struct {
	// Metadata
	Version     string    `json:"version"`
	Timestamp   time.Time `json:"timestamp"`
	ROMPath     string    `json:"rom_path"`
	ROMChecksum string    `json:"rom_checksum"`
	SlotNumber  int       `json:"slot_number"`
	Description string    `json:"description"`

	// Emulator state
	CPUState    CPUStateData `json:"cpu_state"`
	PPUState    PPUStateData `json:"ppu_state"`
	APUState    APUStateData `json:"apu_state"`
	MemoryState MemoryData   `json:"memory_state"`

	// Frame information
	FrameCount uint64 `json:"frame_count"`
	CycleCount uint64 `json:"cycle_count"`

	// Screenshot (base64 encoded)
	Screenshot string `json:"screenshot,omitempty"`
}

// CPUStateData represents CPU state for save files
type CPUStateData struct {
	PC      uint16       `json:"pc"`
	A       uint8        `json:"a"`
	X       uint8        `json:"x"`
	Y       uint8        `json:"y"`
	SP      uint8        `json:"sp"`
	Cycles  uint64       `json:"cycles"`
	Running bool         `json:"running"`
	Flags   CPUFlagsData `json:"flags"`
}

// CPUFlagsData represents CPU flags for save files
type CPUFlagsData struct {
	N bool `json:"n"`
	V bool `json:"v"`
	B bool `json:"b"`
	D bool `json:"d"`
	I bool `json:"i"`
	Z bool `json:"z"`
	C bool `json:"c"`
}

// PPUStateData represents PPU state for save files: the CPU-visible
// registers, the internal scroll/address latches, and timing position.
type PPUStateData struct {
	PPUCtrl    uint8  `json:"ppu_ctrl"`
	PPUMask    uint8  `json:"ppu_mask"`
	PPUStatus  uint8  `json:"ppu_status"`
	OAMAddr    uint8  `json:"oam_addr"`
	OAMData    uint8  `json:"oam_data"`
	PPUScroll  uint8  `json:"ppu_scroll"`
	PPUAddr    uint8  `json:"ppu_addr"`
	PPUData    uint8  `json:"ppu_data"`
	V          uint16 `json:"v"`
	T          uint16 `json:"t"`
	X          uint8  `json:"x"`
	W          bool   `json:"w"`
	Scanline   int    `json:"scanline"`
	Cycle      int    `json:"cycle"`
	FrameCount uint64 `json:"frame_count"`
	OddFrame   bool   `json:"odd_frame"`
	ReadBuffer uint8  `json:"read_buffer"`

	SpriteCount    uint8 `json:"sprite_count"`
	Sprite0Hit     bool  `json:"sprite0_hit"`
	SpriteOverflow bool  `json:"sprite_overflow"`

	BackgroundEnabled bool `json:"background_enabled"`
	SpritesEnabled    bool `json:"sprites_enabled"`
	RenderingEnabled  bool `json:"rendering_enabled"`

	// Retained for compatibility with older save files and quick
	// status checks without decoding the full register set.
	VBlankFlag bool `json:"vblank_flag"`
	NMIEnabled bool `json:"nmi_enabled"`
}

// APUStateData represents APU state for save files
type APUStateData struct {
	// The APU itself is out of scope (see §1's Non-goals); emulators
	// built on this core may extend this struct once one is wired in.
	Enabled    bool `json:"enabled"`
	SampleRate int  `json:"sample_rate"`
}

// MemoryData represents the raw RAM/VRAM/OAM/palette contents captured
// from a save state. NROM (mapper 0) has no bank-select state to save.
type MemoryData struct {
	RAMData     []uint8 `json:"ram_data"`
	VRAMData    []uint8 `json:"vram_data"`
	OAMData     []uint8 `json:"oam_data"`
	PaletteData []uint8 `json:"palette_data"`
}

// StateSlotInfo contains information about a save state slot
type StateSlotInfo struct {
	SlotNumber  int       `json:"slot_number"`
	Used        bool      `json:"used"`
	Timestamp   time.Time `json:"timestamp"`
	ROMPath     string    `json:"rom_path"`
	Description string    `json:"description"`
	FilePath    string    `json:"file_path"`
	FileSize    int64     `json:"file_size"`
}

// NewStateManager creates a new state manager
func NewStateManager(saveDirectory string) *StateManager {
	manager := &StateManager{
		saveDirectory: saveDirectory,
		maxSlots:      10, // Default to 10 save slots
		initialized:   false,
	}

	if err := manager.initialize(); err != nil {
		// Log error but continue
		fmt.Printf("Warning: State manager initialization failed: %v\n", err)
	}

	return manager
}

// initialize initializes the state manager
func (sm *StateManager) initialize() error {
	// Create save directory if it doesn't exist
	if err := os.MkdirAll(sm.saveDirectory, 0755); err != nil {
		return fmt.Errorf("failed to create save directory: %v", err)
	}

	sm.initialized = true
	return nil
}

// captureState builds a SaveState from the bus's current snapshot. slot is
// -1 for an export (which doesn't occupy a numbered slot).
func (sm *StateManager) captureState(bus *bus.Bus, romPath string, slot int, description string) *SaveState {
	saveState := &SaveState{
		Version:     "1.0",
		Timestamp:   time.Now(),
		ROMPath:     romPath,
		ROMChecksum: sm.calculateROMChecksum(romPath),
		SlotNumber:  slot,
		Description: description,
		FrameCount:  bus.GetFrameCount(),
		CycleCount:  bus.GetCycleCount(),
	}

	snap := bus.Snapshot()

	saveState.CPUState = CPUStateData{
		PC:      snap.CPU.PC,
		A:       snap.CPU.A,
		X:       snap.CPU.X,
		Y:       snap.CPU.Y,
		SP:      snap.CPU.SP,
		Cycles:  snap.CPU.Cycles,
		Running: snap.CPU.Running,
		Flags: CPUFlagsData{
			N: snap.CPU.N,
			V: snap.CPU.V,
			B: snap.CPU.B,
			D: snap.CPU.D,
			I: snap.CPU.I,
			Z: snap.CPU.Z,
			C: snap.CPU.C,
		},
	}

	saveState.PPUState = PPUStateData{
		PPUCtrl:    snap.PPU.PPUCtrl,
		PPUMask:    snap.PPU.PPUMask,
		PPUStatus:  snap.PPU.PPUStatus,
		OAMAddr:    snap.PPU.OAMAddr,
		OAMData:    snap.PPU.OAMData,
		PPUScroll:  snap.PPU.PPUScroll,
		PPUAddr:    snap.PPU.PPUAddr,
		PPUData:    snap.PPU.PPUData,
		V:          snap.PPU.V,
		T:          snap.PPU.T,
		X:          snap.PPU.X,
		W:          snap.PPU.W,
		Scanline:   snap.PPU.Scanline,
		Cycle:      snap.PPU.Cycle,
		FrameCount: snap.PPU.FrameCount,
		OddFrame:   snap.PPU.OddFrame,
		ReadBuffer: snap.PPU.ReadBuffer,

		SpriteCount:    snap.PPU.SpriteCount,
		Sprite0Hit:     snap.PPU.Sprite0Hit,
		SpriteOverflow: snap.PPU.SpriteOverflow,

		BackgroundEnabled: snap.PPU.BackgroundEnabled,
		SpritesEnabled:    snap.PPU.SpritesEnabled,
		RenderingEnabled:  snap.PPU.RenderingEnabled,

		VBlankFlag: (snap.PPU.PPUStatus & 0x80) != 0,
		NMIEnabled: (snap.PPU.PPUCtrl & 0x80) != 0,
	}

	// The APU is out of scope for this core; record only the port's
	// nominal on/off state so save files stay forward-compatible.
	saveState.APUState = APUStateData{
		Enabled:    true,
		SampleRate: 44100,
	}

	saveState.MemoryState = MemoryData{
		RAMData:     snap.RAM[:],
		VRAMData:    snap.PPU.VRAM[:],
		OAMData:     snap.PPU.OAM[:],
		PaletteData: snap.PPU.Palette[:],
	}

	return saveState
}

// SaveState saves the current emulator state to a slot
func (sm *StateManager) SaveState(bus *bus.Bus, slot int, romPath string) error {
	if !sm.initialized {
		return fmt.Errorf("state manager not initialized")
	}

	if slot < 0 || slot >= sm.maxSlots {
		return fmt.Errorf("invalid save slot: %d (must be 0-%d)", slot, sm.maxSlots-1)
	}

	if bus == nil {
		return fmt.Errorf("bus cannot be nil")
	}

	saveState := sm.captureState(bus, romPath, slot, fmt.Sprintf("Auto-save %s", time.Now().Format("2006-01-02 15:04:05")))

	// Generate file path
	filePath := sm.getSlotFilePath(slot, romPath)

	// Save to file
	if err := sm.saveToFile(saveState, filePath); err != nil {
		return fmt.Errorf("failed to save state: %v", err)
	}

	return nil
}

// LoadState loads a saved state from a slot
func (sm *StateManager) LoadState(bus *bus.Bus, slot int, romPath string) error {
	if !sm.initialized {
		return fmt.Errorf("state manager not initialized")
	}

	if slot < 0 || slot >= sm.maxSlots {
		return fmt.Errorf("invalid save slot: %d (must be 0-%d)", slot, sm.maxSlots-1)
	}

	if bus == nil {
		return fmt.Errorf("bus cannot be nil")
	}

	// Generate file path
	filePath := sm.getSlotFilePath(slot, romPath)

	// Check if file exists
	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		return fmt.Errorf("save state not found in slot %d", slot)
	}

	// Load from file
	saveState, err := sm.loadFromFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to load state: %v", err)
	}

	// Validate save state
	if err := sm.validateSaveState(saveState, romPath); err != nil {
		return fmt.Errorf("invalid save state: %v", err)
	}

	// Restore state to bus
	if err := sm.restoreState(bus, saveState); err != nil {
		return fmt.Errorf("failed to restore state: %v", err)
	}

	return nil
}

// saveToFile saves a state to a file
func (sm *StateManager) saveToFile(state *SaveState, filePath string) error {
	// Ensure directory exists
	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %v", err)
	}

	// Marshal to JSON
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %v", err)
	}

	// Write to file
	if err := os.WriteFile(filePath, data, 0644); err != nil {
		return &nerr.IoError{Operation: "write", Path: filePath, Err: err}
	}

	return nil
}

// loadFromFile loads a state from a file
func (sm *StateManager) loadFromFile(filePath string) (*SaveState, error) {
	// Read file
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, &nerr.IoError{Operation: "read", Path: filePath, Err: err}
	}

	// Unmarshal JSON
	var state SaveState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state: %v", err)
	}

	return &state, nil
}

// validateSaveState validates a loaded save state
func (sm *StateManager) validateSaveState(state *SaveState, currentROMPath string) error {
	if state.Version == "" {
		return fmt.Errorf("missing version information")
	}

	if state.ROMPath != currentROMPath {
		return fmt.Errorf("save state is for a different ROM")
	}

	if state.ROMChecksum != "" {
		if currentChecksum := sm.calculateROMChecksum(currentROMPath); currentChecksum != "" &&
			currentChecksum != state.ROMChecksum {
			return fmt.Errorf("save state ROM checksum does not match current ROM file")
		}
	}

	return nil
}

// restoreState restores emulator state from a save state
func (sm *StateManager) restoreState(bus *bus.Bus, state *SaveState) error {
	if len(state.MemoryState.RAMData) != 0x800 {
		return fmt.Errorf("corrupt save state: RAM data is %d bytes, want %d", len(state.MemoryState.RAMData), 0x800)
	}
	if len(state.MemoryState.VRAMData) != 0x1000 {
		return fmt.Errorf("corrupt save state: VRAM data is %d bytes, want %d", len(state.MemoryState.VRAMData), 0x1000)
	}
	if len(state.MemoryState.OAMData) != 256 {
		return fmt.Errorf("corrupt save state: OAM data is %d bytes, want 256", len(state.MemoryState.OAMData))
	}
	if len(state.MemoryState.PaletteData) != 32 {
		return fmt.Errorf("corrupt save state: palette data is %d bytes, want 32", len(state.MemoryState.PaletteData))
	}

	snap := bus.Snapshot() // seeds fields this save format doesn't track (e.g. DMA debt)
	c := state.CPUState
	snap.CPU.PC = c.PC
	snap.CPU.A = c.A
	snap.CPU.X = c.X
	snap.CPU.Y = c.Y
	snap.CPU.SP = c.SP
	snap.CPU.C = c.Flags.C
	snap.CPU.Z = c.Flags.Z
	snap.CPU.I = c.Flags.I
	snap.CPU.D = c.Flags.D
	snap.CPU.B = c.Flags.B
	snap.CPU.V = c.Flags.V
	snap.CPU.N = c.Flags.N
	snap.CPU.Running = c.Running
	snap.CPU.Cycles = c.Cycles

	p := state.PPUState
	snap.PPU.PPUCtrl = p.PPUCtrl
	snap.PPU.PPUMask = p.PPUMask
	snap.PPU.PPUStatus = p.PPUStatus
	snap.PPU.OAMAddr = p.OAMAddr
	snap.PPU.OAMData = p.OAMData
	snap.PPU.PPUScroll = p.PPUScroll
	snap.PPU.PPUAddr = p.PPUAddr
	snap.PPU.PPUData = p.PPUData
	snap.PPU.V = p.V
	snap.PPU.T = p.T
	snap.PPU.X = p.X
	snap.PPU.W = p.W
	snap.PPU.Scanline = p.Scanline
	snap.PPU.Cycle = p.Cycle
	snap.PPU.FrameCount = p.FrameCount
	snap.PPU.OddFrame = p.OddFrame
	snap.PPU.ReadBuffer = p.ReadBuffer
	snap.PPU.SpriteCount = p.SpriteCount
	snap.PPU.Sprite0Hit = p.Sprite0Hit
	snap.PPU.SpriteOverflow = p.SpriteOverflow
	snap.PPU.BackgroundEnabled = p.BackgroundEnabled
	snap.PPU.SpritesEnabled = p.SpritesEnabled
	snap.PPU.RenderingEnabled = p.RenderingEnabled

	copy(snap.RAM[:], state.MemoryState.RAMData)
	copy(snap.PPU.VRAM[:], state.MemoryState.VRAMData)
	copy(snap.PPU.OAM[:], state.MemoryState.OAMData)
	copy(snap.PPU.Palette[:], state.MemoryState.PaletteData)

	snap.FrameCount = state.FrameCount
	snap.CPUCycles = state.CycleCount

	bus.Restore(snap)

	return nil
}

// getSlotFilePath generates the file path for a save slot
func (sm *StateManager) getSlotFilePath(slot int, romPath string) string {
	romName := filepath.Base(romPath)
	romNameWithoutExt := romName[:len(romName)-len(filepath.Ext(romName))]
	fileName := fmt.Sprintf("%s_slot_%d.save", romNameWithoutExt, slot)
	return filepath.Join(sm.saveDirectory, fileName)
}

// calculateROMChecksum returns the SHA-256 digest of the ROM file at romPath,
// hex-encoded. Returns an empty string if the ROM can't be read, so a save
// made against a since-moved or deleted ROM doesn't fail outright.
func (sm *StateManager) calculateROMChecksum(romPath string) string {
	f, err := os.Open(romPath)
	if err != nil {
		return ""
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return ""
	}
	return hex.EncodeToString(h.Sum(nil))
}

// GetSlotInfo returns information about all save slots
func (sm *StateManager) GetSlotInfo(romPath string) []StateSlotInfo {
	slots := make([]StateSlotInfo, sm.maxSlots)

	for i := 0; i < sm.maxSlots; i++ {
		slotInfo := StateSlotInfo{
			SlotNumber: i,
			Used:       false,
		}

		filePath := sm.getSlotFilePath(i, romPath)
		if stat, err := os.Stat(filePath); err == nil {
			// File exists
			slotInfo.Used = true
			slotInfo.FilePath = filePath
			slotInfo.FileSize = stat.Size()
			slotInfo.Timestamp = stat.ModTime()

			// Try to load basic info from the save state
			if state, err := sm.loadFromFile(filePath); err == nil {
				slotInfo.ROMPath = state.ROMPath
				slotInfo.Description = state.Description
				slotInfo.Timestamp = state.Timestamp
			}
		}

		slots[i] = slotInfo
	}

	return slots
}

// DeleteState deletes a save state from a slot
func (sm *StateManager) DeleteState(slot int, romPath string) error {
	if !sm.initialized {
		return fmt.Errorf("state manager not initialized")
	}

	if slot < 0 || slot >= sm.maxSlots {
		return fmt.Errorf("invalid save slot: %d", slot)
	}

	filePath := sm.getSlotFilePath(slot, romPath)

	// Check if file exists
	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		return fmt.Errorf("save state not found in slot %d", slot)
	}

	// Delete file
	if err := os.Remove(filePath); err != nil {
		return fmt.Errorf("failed to delete save state: %v", err)
	}

	return nil
}

// HasSaveState checks if a save state exists in a slot
func (sm *StateManager) HasSaveState(slot int, romPath string) bool {
	if slot < 0 || slot >= sm.maxSlots {
		return false
	}

	filePath := sm.getSlotFilePath(slot, romPath)
	_, err := os.Stat(filePath)
	return err == nil
}

// GetMaxSlots returns the maximum number of save slots
func (sm *StateManager) GetMaxSlots() int {
	return sm.maxSlots
}

// SetMaxSlots sets the maximum number of save slots
func (sm *StateManager) SetMaxSlots(slots int) {
	if slots > 0 {
		sm.maxSlots = slots
	}
}

// GetSaveDirectory returns the save directory path
func (sm *StateManager) GetSaveDirectory() string {
	return sm.saveDirectory
}

// SetSaveDirectory sets the save directory path
func (sm *StateManager) SetSaveDirectory(directory string) error {
	sm.saveDirectory = directory
	return sm.initialize()
}

// ExportState exports a save state to a specific file
func (sm *StateManager) ExportState(bus *bus.Bus, filePath string, romPath string) error {
	saveState := sm.captureState(bus, romPath, -1, fmt.Sprintf("Export %s", time.Now().Format("2006-01-02 15:04:05")))
	return sm.saveToFile(saveState, filePath)
}

// ImportState imports a save state from a specific file
func (sm *StateManager) ImportState(bus *bus.Bus, filePath string, romPath string) error {
	// Load from file
	saveState, err := sm.loadFromFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to import state: %v", err)
	}

	// Validate and restore
	if err := sm.validateSaveState(saveState, romPath); err != nil {
		return fmt.Errorf("invalid imported state: %v", err)
	}

	return sm.restoreState(bus, saveState)
}

// Cleanup cleans up state manager resources
func (sm *StateManager) Cleanup() error {
	sm.initialized = false
	return nil
}

// GetStateManagerStats returns statistics about the state manager
func (sm *StateManager) GetStateManagerStats(romPath string) StateManagerStats {
	slots := sm.GetSlotInfo(romPath)

	var usedSlots int
	var totalSize int64
	for _, slot := range slots {
		if slot.Used {
			usedSlots++
			totalSize += slot.FileSize
		}
	}

	return StateManagerStats{
		MaxSlots:      sm.maxSlots,
		UsedSlots:     usedSlots,
		FreeSlots:     sm.maxSlots - usedSlots,
		TotalSize:     totalSize,
		SaveDirectory: sm.saveDirectory,
		Initialized:   sm.initialized,
	}
}

// StateManagerStats contains state manager statistics
type StateManagerStats struct {
	MaxSlots      int    `json:"max_slots"`
	UsedSlots     int    `json:"used_slots"`
	FreeSlots     int    `json:"free_slots"`
	TotalSize     int64  `json:"total_size"`
	SaveDirectory string `json:"save_directory"`
	Initialized   bool   `json:"initialized"`
}
