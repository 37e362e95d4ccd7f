// internal/game/bomb/game.go
package bomb

import (
	"encoding/json"
	"fmt"
	"math/rand"

	"github.com/blastparty/blastparty/internal/engine"
)

// GameID is the id clients vote for to select this module.
const GameID = "bomberman"

// End reasons reported in the round.ended event and the results.
const (
	EndReasonLastPlayerStanding = "last_player_standing"
	EndReasonTickLimit          = "tick_limit"
)

// Game is one deterministic bomb-arena round. All chance draws consume
// the single seeded RNG stream in system order, so an identical seed
// and input sequence replays byte-identically.
type Game struct {
	opts  Options
	rng   *rand.Rand
	world *World
	walls [][]bool

	tick        int64
	events      []engine.Event
	nextEventID int64

	// playerOrder fixes seat order for iteration and results.
	playerOrder []Entity
	byPlayerID  map[string]Entity

	over      bool
	endReason string
	winner    string
}

// Module plugs the bomb arena into the engine registry.
type Module struct{}

// NewModule returns the bomb-arena module.
func NewModule() Module { return Module{} }

func (Module) ID() string { return GameID }

// NewGame builds a fresh seeded world: hard walls, players at their
// spawns, then the randomized soft-block sprinkle.
func (Module) NewGame(cfg engine.Config, seed int64) (engine.Game, error) {
	opts, err := decodeOptions(cfg.Options)
	if err != nil {
		return nil, fmt.Errorf("decode options: %w", err)
	}
	spawns := spawnPoints(opts.Width, opts.Height)
	if len(cfg.Seats) < 2 {
		return nil, fmt.Errorf("need at least 2 players, got %d", len(cfg.Seats))
	}
	if len(cfg.Seats) > len(spawns) {
		return nil, fmt.Errorf("at most %d players supported, got %d", len(spawns), len(cfg.Seats))
	}

	g := &Game{
		opts:       opts,
		rng:        rand.New(rand.NewSource(seed)),
		world:      NewWorld(),
		walls:      generateWalls(opts.Width, opts.Height),
		byPlayerID: make(map[string]Entity),
	}

	for i, seat := range cfg.Seats {
		e := g.world.Spawn()
		g.world.Positions[e] = &Position{X: spawns[i].X, Y: spawns[i].Y}
		g.world.Players[e] = &PlayerComp{
			PlayerID:    seat.PlayerID,
			Nickname:    seat.Nickname,
			Alive:       true,
			Facing:      DirDown,
			WantDir:     DirNone,
			BombLimit:   startBombLimit,
			BlastRadius: startBlastRadius,
			SpeedTier:   startSpeedTier,
		}
		g.playerOrder = append(g.playerOrder, e)
		g.byPlayerID[seat.PlayerID] = e
	}

	generateSoftBlocks(g.world, g.rng, g.walls, spawns[:len(cfg.Seats)], opts.SoftBlockDensity)
	return g, nil
}

// Input is the decoded wire input for this module.
type Input struct {
	Type      string    `json:"type"`
	Direction Direction `json:"direction,omitempty"`
}

// Input types.
const (
	InputMoveIntent   = "move.intent"
	InputBombPlace    = "bomb.place"
	InputBombThrow    = "bomb.throw"
	InputBombDetonate = "bomb.detonate"
)

// ValidateInput checks shape without mutating state.
func (g *Game) ValidateInput(raw json.RawMessage) error {
	var in Input
	if err := json.Unmarshal(raw, &in); err != nil {
		return fmt.Errorf("malformed input: %w", err)
	}
	switch in.Type {
	case InputMoveIntent:
		switch in.Direction {
		case DirNone, DirUp, DirDown, DirLeft, DirRight:
			return nil
		default:
			return fmt.Errorf("unknown direction %q", in.Direction)
		}
	case InputBombPlace, InputBombThrow, InputBombDetonate:
		return nil
	default:
		return fmt.Errorf("unknown input type %q", in.Type)
	}
}

// ApplyInput queues a player's intent for the next tick's systems.
// Inputs from unknown or eliminated players are ignored.
func (g *Game) ApplyInput(playerID string, raw json.RawMessage, tick int64) {
	e, ok := g.byPlayerID[playerID]
	if !ok {
		return
	}
	pl := g.world.Players[e]
	if !pl.Alive {
		return
	}
	var in Input
	if err := json.Unmarshal(raw, &in); err != nil {
		return
	}
	switch in.Type {
	case InputMoveIntent:
		pl.WantDir = in.Direction
		if in.Direction != DirNone {
			pl.Facing = in.Direction
		}
	case InputBombPlace:
		pl.WantBomb = true
	case InputBombThrow:
		pl.WantThrow = true
	case InputBombDetonate:
		pl.WantDetonate = true
	}
}

// Tick runs the six systems in their fixed order. Determinism depends
// on this order and on each system iterating entities in ascending id
// order.
func (g *Game) Tick() {
	if g.over {
		return
	}
	g.tick++
	g.systemMovement()
	g.systemBombMotion()
	g.systemBombs()
	g.systemFlames()
	g.systemElimination()
	g.systemPowerups()
}

// IsOver reports whether the round ended.
func (g *Game) IsOver() bool { return g.over }

// EventsSince returns events with id > lastEventID in id order.
func (g *Game) EventsSince(lastEventID int64) []engine.Event {
	// Events append in id order, so a suffix scan suffices.
	idx := len(g.events)
	for idx > 0 && g.events[idx-1].ID > lastEventID {
		idx--
	}
	return g.events[idx:]
}

// emit appends an event with the next monotonic id.
func (g *Game) emit(name string, data interface{}) {
	g.nextEventID++
	ev := engine.Event{ID: g.nextEventID, Tick: g.tick, Name: name}
	if data != nil {
		if buf, err := json.Marshal(data); err == nil {
			ev.Data = buf
		}
	}
	g.events = append(g.events, ev)
}

// Results ranks players alive-first, then later-eliminated-first, ties
// by playerId; score is the number of players ranked below.
func (g *Game) Results() json.RawMessage {
	order := make([]Entity, len(g.playerOrder))
	copy(order, g.playerOrder)
	players := g.world.Players
	sortEntities(order, func(a, b Entity) bool {
		pa, pb := players[a], players[b]
		if pa.Alive != pb.Alive {
			return pa.Alive
		}
		if !pa.Alive && pa.EliminatedAtTick != pb.EliminatedAtTick {
			return pa.EliminatedAtTick > pb.EliminatedAtTick
		}
		return pa.PlayerID < pb.PlayerID
	})

	res := engine.Results{Reason: g.endReason, WinnerPlayerID: g.winner}
	for i, e := range order {
		pl := players[e]
		res.Rankings = append(res.Rankings, engine.PlayerResult{
			PlayerID: pl.PlayerID,
			Nickname: pl.Nickname,
			Rank:     i + 1,
			Score:    len(order) - i - 1,
			Alive:    pl.Alive,
		})
	}
	buf, _ := json.Marshal(res)
	return buf
}

// sortEntities is a tiny insertion sort; player counts are single
// digits and this avoids pulling sort.Slice closures into hot paths.
func sortEntities(es []Entity, less func(a, b Entity) bool) {
	for i := 1; i < len(es); i++ {
		for j := i; j > 0 && less(es[j], es[j-1]); j-- {
			es[j], es[j-1] = es[j-1], es[j]
		}
	}
}

// wallAt reports whether a tile is a hard wall or out of bounds.
func (g *Game) wallAt(x, y int) bool {
	if y < 0 || y >= g.opts.Height || x < 0 || x >= g.opts.Width {
		return true
	}
	return g.walls[y][x]
}

// finish locks in the end state. The round.ended event carries the
// reason and winner.
func (g *Game) finish(reason, winner string) {
	g.over = true
	g.endReason = reason
	g.winner = winner
	g.emit("round.ended", map[string]interface{}{
		"reason":         reason,
		"winnerPlayerId": winner,
	})
}
