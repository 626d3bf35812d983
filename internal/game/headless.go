package game

import (
	"maps"
	"sync"

	"github.com/1ureka/meshlobby/internal/geom"
	"github.com/1ureka/meshlobby/internal/protocol"
	"github.com/1ureka/meshlobby/internal/util"
)

// HeadlessWorld is a World with no level behind it. It records what it was
// told so a headless peer can print and tests can inspect it.
type HeadlessWorld struct {
	mu        sync.Mutex
	seed      int32
	clock     float32
	weather   string
	hazard    *Hazard
	drops     map[string]int
	seedLoads int
}

func NewHeadlessWorld(seed int32) *HeadlessWorld {
	return &HeadlessWorld{seed: seed, drops: make(map[string]int)}
}

func (w *HeadlessWorld) Seed() int32 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.seed
}

func (w *HeadlessWorld) LoadSeed(seed int32) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.seed = seed
	w.seedLoads++
}

// SeedLoads counts how many times a new seed was loaded.
func (w *HeadlessWorld) SeedLoads() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.seedLoads
}

func (w *HeadlessWorld) SetState(clock float32, weather string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.clock, w.weather = clock, weather
}

// State returns the last synced clock and weather.
func (w *HeadlessWorld) State() (float32, string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.clock, w.weather
}

func (w *HeadlessWorld) Hazard() (Hazard, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.hazard == nil {
		return Hazard{}, false
	}
	return *w.hazard, true
}

func (w *HeadlessWorld) LoadHazard(h Hazard) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.hazard = &h
}

func (w *HeadlessWorld) SpawnDrops(at geom.Vec3, items map[string]uint8) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for item, n := range items {
		w.drops[item] += int(n)
	}
	util.LogDebug("spawned %d drop kind(s) at (%.1f, %.1f, %.1f)", len(items), at.X, at.Y, at.Z)
}

// Drops returns the total count spawned per item.
func (w *HeadlessWorld) Drops() map[string]int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return maps.Clone(w.drops)
}

// HeadlessPlayer is a Player that only tracks its own state.
type HeadlessPlayer struct {
	mu       sync.Mutex
	factory  string
	pos      geom.Vec3
	health   float32
	impulses geom.Vec3
}

func NewHeadlessPlayer(factoryID string, health float32) *HeadlessPlayer {
	return &HeadlessPlayer{factory: factoryID, health: health}
}

func (p *HeadlessPlayer) FactoryID() string { return p.factory }

func (p *HeadlessPlayer) Position() geom.Vec3 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pos
}

// Move sets the position without counting as a teleport.
func (p *HeadlessPlayer) Move(pos geom.Vec3) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pos = pos
}

func (p *HeadlessPlayer) Teleport(pos geom.Vec3) { p.Move(pos) }

func (p *HeadlessPlayer) Damage(amount float32, kind string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.health -= amount
	util.LogInfo("took %.1f %s damage, health %.1f", amount, kind, p.health)
}

func (p *HeadlessPlayer) Health() float32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.health
}

func (p *HeadlessPlayer) AddForce(force geom.Vec3, source string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.impulses = p.impulses.Add(force)
}

// Impulse returns the sum of all forces received.
func (p *HeadlessPlayer) Impulse() geom.Vec3 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.impulses
}

// MemoryInventory is an Inventory held in a map.
type MemoryInventory struct {
	mu    sync.Mutex
	items map[string]uint8
}

func NewMemoryInventory(items map[string]uint8) *MemoryInventory {
	inv := &MemoryInventory{items: make(map[string]uint8, len(items))}
	maps.Copy(inv.items, items)
	return inv
}

func (inv *MemoryInventory) Items() map[string]uint8 {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	return maps.Clone(inv.items)
}

// Add saturates at 255.
func (inv *MemoryInventory) Add(item string, count uint8) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	total := int(inv.items[item]) + int(count)
	inv.items[item] = uint8(min(total, 255))
}

// LogConsole prints chat lines through the logger. Lines from the Special
// id are system notices.
type LogConsole struct{}

func (LogConsole) Print(from protocol.PeerID, text string) {
	if from == protocol.Special {
		util.LogInfo("%s", text)
		return
	}
	util.LogInfo("[%s] %s", from, text)
}
