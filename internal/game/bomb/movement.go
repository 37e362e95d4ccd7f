// internal/game/bomb/movement.go
package bomb

// systemMovement resolves each player's desired direction into a tile
// move, in ascending entity order. A move is blocked by hard walls,
// soft blocks, and bombs; a bomb never blocks leaving its own tile, so
// the owner can step off a just-placed bomb, but stepping back on is
// blocked like anyone else's move. Colliding with a bomb while holding
// the kick capability shoves it into sliding motion instead.
func (g *Game) systemMovement() {
	for _, e := range g.world.PlayerEntities() {
		pl := g.world.Players[e]
		if !pl.Alive {
			continue
		}
		pos := g.world.Positions[e]

		if pl.Transit {
			g.advanceTransit(e, pl, pos)
			continue
		}

		dir := pl.WantDir
		if dir == DirNone {
			continue
		}

		dx, dy := dir.delta()
		tx, ty := pos.X+dx, pos.Y+dy

		if g.wallAt(tx, ty) {
			continue
		}
		if _, _, ok := g.world.DestructibleAt(tx, ty); ok {
			continue
		}
		if be, bomb, ok := g.world.BombAt(tx, ty); ok {
			if pl.CanKick && !bomb.Sliding {
				bomb.Sliding = true
				bomb.SlideDir = dir
				g.emit("bomb.kicked", map[string]interface{}{
					"playerId":  pl.PlayerID,
					"bomb":      int(be),
					"direction": dir,
				})
			}
			continue
		}

		if g.opts.Movement == MovementInterpolated {
			pl.Transit = true
			pl.TransitDir = dir
			pl.TransitProgress = 1
			pl.TransitTotal = transitTicks(pl.SpeedTier)
			if pl.TransitProgress >= pl.TransitTotal {
				g.completeTransit(e, pl, pos)
			}
			continue
		}

		g.moveTo(pl, pos, tx, ty, dir)
	}
}

// advanceTransit progresses a multi-tick tile transit; the player
// occupies the from tile until completion.
func (g *Game) advanceTransit(e Entity, pl *PlayerComp, pos *Position) {
	pl.TransitProgress++
	if pl.TransitProgress >= pl.TransitTotal {
		g.completeTransit(e, pl, pos)
	}
}

// completeTransit lands the transit, re-checking the target tile since
// the world may have changed mid-transit.
func (g *Game) completeTransit(e Entity, pl *PlayerComp, pos *Position) {
	pl.Transit = false
	dx, dy := pl.TransitDir.delta()
	tx, ty := pos.X+dx, pos.Y+dy
	if g.wallAt(tx, ty) {
		return
	}
	if _, _, ok := g.world.DestructibleAt(tx, ty); ok {
		return
	}
	if _, _, ok := g.world.BombAt(tx, ty); ok {
		return
	}
	g.moveTo(pl, pos, tx, ty, pl.TransitDir)
}

// moveTo commits a move and reports it.
func (g *Game) moveTo(pl *PlayerComp, pos *Position, tx, ty int, dir Direction) {
	from := *pos
	pos.X, pos.Y = tx, ty
	pl.Facing = dir
	g.emit("player.moved", map[string]interface{}{
		"playerId":  pl.PlayerID,
		"from":      map[string]int{"x": from.X, "y": from.Y},
		"to":        map[string]int{"x": tx, "y": ty},
		"direction": dir,
	})
}

// systemBombMotion advances every sliding bomb one tile, in ascending
// entity order. Sliding stops against walls, soft blocks, other bombs,
// and players.
func (g *Game) systemBombMotion() {
	for _, e := range g.world.BombEntities() {
		bomb := g.world.Bombs[e]
		if !bomb.Sliding {
			continue
		}
		pos := g.world.Positions[e]
		dx, dy := bomb.SlideDir.delta()
		tx, ty := pos.X+dx, pos.Y+dy

		blocked := g.wallAt(tx, ty) || g.world.PlayerAt(tx, ty)
		if !blocked {
			if _, _, ok := g.world.DestructibleAt(tx, ty); ok {
				blocked = true
			}
		}
		if !blocked {
			if _, _, ok := g.world.BombAt(tx, ty); ok {
				blocked = true
			}
		}
		if blocked {
			bomb.Sliding = false
			continue
		}
		pos.X, pos.Y = tx, ty
	}
}
