// internal/game/bomb/snapshot.go
package bomb

import (
	"encoding/json"
	"sort"
)

// Snapshot fully re-derives the serializable world view. Every slice
// has a fixed sort order (soft blocks and powerups by tile then kind,
// players by id, bombs by y,x,owner, flames by y,x), so structurally
// identical world states always serialize byte-identically.
type snapshotView struct {
	Tick       int64          `json:"tick"`
	Width      int            `json:"width"`
	Height     int            `json:"height"`
	Walls      []string       `json:"walls"`
	SoftBlocks []blockView    `json:"softBlocks"`
	Players    []playerView   `json:"players"`
	Bombs      []bombView     `json:"bombs"`
	Flames     []flameView    `json:"flames"`
	Powerups   []powerupView  `json:"powerups"`
}

type blockView struct {
	X    int       `json:"x"`
	Y    int       `json:"y"`
	Kind BlockKind `json:"kind"`
}

type playerView struct {
	PlayerID    string    `json:"playerId"`
	Nickname    string    `json:"nickname"`
	X           int       `json:"x"`
	Y           int       `json:"y"`
	Facing      Direction `json:"facing"`
	Alive       bool      `json:"alive"`
	BombLimit   int       `json:"bombLimit"`
	BlastRadius int       `json:"blastRadius"`
	SpeedTier   int       `json:"speedTier"`
	CanKick     bool      `json:"canKick"`
	CanThrow    bool      `json:"canThrow"`
	CanRemote   bool      `json:"canRemote"`
}

type bombView struct {
	X       int    `json:"x"`
	Y       int    `json:"y"`
	OwnerID string `json:"ownerId"`
	Fuse    int    `json:"fuse"`
	Radius  int    `json:"radius"`
}

type flameView struct {
	X         int    `json:"x"`
	Y         int    `json:"y"`
	TicksLeft int    `json:"ticksLeft"`
	OwnerID   string `json:"ownerId"`
}

type powerupView struct {
	X    int         `json:"x"`
	Y    int         `json:"y"`
	Kind PowerupKind `json:"kind"`
}

// Snapshot implements engine.Game.
func (g *Game) Snapshot() json.RawMessage {
	view := snapshotView{
		Tick:       g.tick,
		Width:      g.opts.Width,
		Height:     g.opts.Height,
		Walls:      g.wallRows(),
		SoftBlocks: []blockView{},
		Players:    []playerView{},
		Bombs:      []bombView{},
		Flames:     []flameView{},
		Powerups:   []powerupView{},
	}

	for e, block := range g.world.Destructibles {
		pos := g.world.Positions[e]
		view.SoftBlocks = append(view.SoftBlocks, blockView{X: pos.X, Y: pos.Y, Kind: block.Kind})
	}
	sort.Slice(view.SoftBlocks, func(i, j int) bool {
		a, b := view.SoftBlocks[i], view.SoftBlocks[j]
		if a.Y != b.Y {
			return a.Y < b.Y
		}
		if a.X != b.X {
			return a.X < b.X
		}
		return a.Kind < b.Kind
	})

	for e, pl := range g.world.Players {
		pos := g.world.Positions[e]
		view.Players = append(view.Players, playerView{
			PlayerID:    pl.PlayerID,
			Nickname:    pl.Nickname,
			X:           pos.X,
			Y:           pos.Y,
			Facing:      pl.Facing,
			Alive:       pl.Alive,
			BombLimit:   pl.BombLimit,
			BlastRadius: pl.BlastRadius,
			SpeedTier:   pl.SpeedTier,
			CanKick:     pl.CanKick,
			CanThrow:    pl.CanThrow,
			CanRemote:   pl.CanRemote,
		})
	}
	sort.Slice(view.Players, func(i, j int) bool {
		return view.Players[i].PlayerID < view.Players[j].PlayerID
	})

	for e, bomb := range g.world.Bombs {
		pos := g.world.Positions[e]
		view.Bombs = append(view.Bombs, bombView{
			X: pos.X, Y: pos.Y, OwnerID: bomb.OwnerID, Fuse: bomb.Fuse, Radius: bomb.Radius,
		})
	}
	sort.Slice(view.Bombs, func(i, j int) bool {
		a, b := view.Bombs[i], view.Bombs[j]
		if a.Y != b.Y {
			return a.Y < b.Y
		}
		if a.X != b.X {
			return a.X < b.X
		}
		return a.OwnerID < b.OwnerID
	})

	for e, flame := range g.world.Flames {
		pos := g.world.Positions[e]
		view.Flames = append(view.Flames, flameView{
			X: pos.X, Y: pos.Y, TicksLeft: flame.TicksLeft, OwnerID: flame.OwnerID,
		})
	}
	sort.Slice(view.Flames, func(i, j int) bool {
		a, b := view.Flames[i], view.Flames[j]
		if a.Y != b.Y {
			return a.Y < b.Y
		}
		if a.X != b.X {
			return a.X < b.X
		}
		if a.OwnerID != b.OwnerID {
			return a.OwnerID < b.OwnerID
		}
		return a.TicksLeft < b.TicksLeft
	})

	// Pending drops stay invisible until their tile clears.
	for e, pw := range g.world.Powerups {
		if pw.Pending {
			continue
		}
		pos := g.world.Positions[e]
		view.Powerups = append(view.Powerups, powerupView{X: pos.X, Y: pos.Y, Kind: pw.Kind})
	}
	sort.Slice(view.Powerups, func(i, j int) bool {
		a, b := view.Powerups[i], view.Powerups[j]
		if a.Y != b.Y {
			return a.Y < b.Y
		}
		if a.X != b.X {
			return a.X < b.X
		}
		return a.Kind < b.Kind
	})

	buf, _ := json.Marshal(view)
	return buf
}

// wallRows encodes the static wall grid as one string per row, '#' for
// wall and '.' for open, compact enough to ship in every snapshot.
func (g *Game) wallRows() []string {
	rows := make([]string, g.opts.Height)
	for y := 0; y < g.opts.Height; y++ {
		row := make([]byte, g.opts.Width)
		for x := 0; x < g.opts.Width; x++ {
			if g.walls[y][x] {
				row[x] = '#'
			} else {
				row[x] = '.'
			}
		}
		rows[y] = string(row)
	}
	return rows
}
