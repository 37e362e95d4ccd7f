// internal/game/bomb/world.go
package bomb

import "sort"

// Entity is an opaque id into the world's component stores.
type Entity int

// Direction is a cardinal movement/facing direction.
type Direction string

const (
	DirNone  Direction = "none"
	DirUp    Direction = "up"
	DirDown  Direction = "down"
	DirLeft  Direction = "left"
	DirRight Direction = "right"
)

// delta returns the tile offset for a direction.
func (d Direction) delta() (int, int) {
	switch d {
	case DirUp:
		return 0, -1
	case DirDown:
		return 0, 1
	case DirLeft:
		return -1, 0
	case DirRight:
		return 1, 0
	}
	return 0, 0
}

// cardinals is the fixed propagation/iteration order for directional
// work (explosions, spawn rings). Order matters for determinism.
var cardinals = [4]Direction{DirUp, DirDown, DirLeft, DirRight}

// BlockKind is a destructible soft-block variant.
type BlockKind string

const (
	BlockBrick  BlockKind = "brick"
	BlockCrate  BlockKind = "crate"
	BlockBarrel BlockKind = "barrel"
)

// PowerupKind is a collectible upgrade.
type PowerupKind string

const (
	PowerupBombUp   PowerupKind = "bomb_up"
	PowerupFlameUp  PowerupKind = "flame_up"
	PowerupSpeedUp  PowerupKind = "speed_up"
	PowerupRemote   PowerupKind = "remote_detonator"
	PowerupKick     PowerupKind = "kick_bombs"
	PowerupThrow    PowerupKind = "throw_bombs"
)

// powerupKinds is the fixed draw table for random drops.
var powerupKinds = []PowerupKind{
	PowerupBombUp, PowerupFlameUp, PowerupSpeedUp,
	PowerupRemote, PowerupKick, PowerupThrow,
}

// Position is a tile coordinate component.
type Position struct {
	X, Y int
}

// PlayerComp holds a player's simulation state, including pending
// intents queued by ApplyInput and consumed by the systems.
type PlayerComp struct {
	PlayerID string
	Nickname string
	Alive    bool
	Facing   Direction

	// Pending intents for the next tick's systems.
	WantDir      Direction
	WantBomb     bool
	WantThrow    bool
	WantDetonate bool

	// Progression stats. Numeric stats are monotonic and capped;
	// capability flags never downgrade.
	BombLimit   int
	BlastRadius int
	SpeedTier   int
	CanKick     bool
	CanThrow    bool
	CanRemote   bool

	ActiveBombs int

	// Interpolated-transit bookkeeping. The player occupies the from
	// tile until the transit completes.
	Transit         bool
	TransitDir      Direction
	TransitProgress int
	TransitTotal    int

	EliminatedAtTick int64
	KilledBy         string
}

// BombComp is a ticking bomb.
type BombComp struct {
	Owner      Entity
	OwnerID    string
	Fuse       int
	Radius     int
	PlacedTick int64
	Sliding    bool
	SlideDir   Direction
}

// DestructibleComp marks a soft block.
type DestructibleComp struct {
	Kind BlockKind
}

// FlameComp is a burning tile. Multiple flames may overlap one tile.
type FlameComp struct {
	TicksLeft int
	OwnerID   string
}

// PowerupComp is a dropped upgrade. Pending drops are staged invisible
// until the flame over their tile fully clears.
type PowerupComp struct {
	Kind    PowerupKind
	Pending bool
}

// World is the component arena. Stores are hash maps keyed by entity id
// for O(1) add/remove/lookup; every system iterates entities in
// ascending id order (creation order) so the per-room RNG stream is
// consumed deterministically.
type World struct {
	nextEntity Entity

	Positions     map[Entity]*Position
	Players       map[Entity]*PlayerComp
	Bombs         map[Entity]*BombComp
	Destructibles map[Entity]*DestructibleComp
	Flames        map[Entity]*FlameComp
	Powerups      map[Entity]*PowerupComp
}

// NewWorld returns an empty world.
func NewWorld() *World {
	return &World{
		nextEntity:    1,
		Positions:     make(map[Entity]*Position),
		Players:       make(map[Entity]*PlayerComp),
		Bombs:         make(map[Entity]*BombComp),
		Destructibles: make(map[Entity]*DestructibleComp),
		Flames:        make(map[Entity]*FlameComp),
		Powerups:      make(map[Entity]*PowerupComp),
	}
}

// Spawn allocates a fresh entity id.
func (w *World) Spawn() Entity {
	e := w.nextEntity
	w.nextEntity++
	return e
}

// Despawn removes an entity from every store.
func (w *World) Despawn(e Entity) {
	delete(w.Positions, e)
	delete(w.Players, e)
	delete(w.Bombs, e)
	delete(w.Destructibles, e)
	delete(w.Flames, e)
	delete(w.Powerups, e)
}

// sortedKeys returns the entities of a store in ascending id order.
func sortedKeys[T any](store map[Entity]*T) []Entity {
	keys := make([]Entity, 0, len(store))
	for e := range store {
		keys = append(keys, e)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// PlayerEntities returns player entities in ascending id order.
func (w *World) PlayerEntities() []Entity { return sortedKeys(w.Players) }

// BombEntities returns bomb entities in ascending id order.
func (w *World) BombEntities() []Entity { return sortedKeys(w.Bombs) }

// FlameEntities returns flame entities in ascending id order.
func (w *World) FlameEntities() []Entity { return sortedKeys(w.Flames) }

// DestructibleAt finds the soft block on a tile, if any.
func (w *World) DestructibleAt(x, y int) (Entity, *DestructibleComp, bool) {
	for _, e := range sortedKeys(w.Destructibles) {
		p := w.Positions[e]
		if p != nil && p.X == x && p.Y == y {
			return e, w.Destructibles[e], true
		}
	}
	return 0, nil, false
}

// BombAt finds the bomb on a tile, if any. At most one bomb occupies a
// tile (placement refuses to stack).
func (w *World) BombAt(x, y int) (Entity, *BombComp, bool) {
	for _, e := range w.BombEntities() {
		p := w.Positions[e]
		if p != nil && p.X == x && p.Y == y {
			return e, w.Bombs[e], true
		}
	}
	return 0, nil, false
}

// FlameAt reports whether any live flame covers the tile.
func (w *World) FlameAt(x, y int) bool {
	for e, f := range w.Flames {
		if f.TicksLeft <= 0 {
			continue
		}
		p := w.Positions[e]
		if p != nil && p.X == x && p.Y == y {
			return true
		}
	}
	return false
}

// PlayerAt reports whether a living player occupies the tile.
func (w *World) PlayerAt(x, y int) bool {
	for e, pl := range w.Players {
		if !pl.Alive {
			continue
		}
		p := w.Positions[e]
		if p != nil && p.X == x && p.Y == y {
			return true
		}
	}
	return false
}
