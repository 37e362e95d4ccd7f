// internal/game/bomb/flames.go
package bomb

// systemFlames ages every flame tile and removes the ones that burned
// out. When the last flame over a tile clears, any powerup staged
// pending for that tile materializes.
func (g *Game) systemFlames() {
	var clearedTiles []Position
	for _, e := range g.world.FlameEntities() {
		flame := g.world.Flames[e]
		flame.TicksLeft--
		if flame.TicksLeft > 0 {
			continue
		}
		pos := *g.world.Positions[e]
		g.world.Despawn(e)
		clearedTiles = append(clearedTiles, pos)
	}

	for _, pos := range clearedTiles {
		if g.world.FlameAt(pos.X, pos.Y) {
			// Another flame still covers the tile; keep drops pending.
			continue
		}
		g.materializePendingAt(pos.X, pos.Y)
	}
}

// materializePendingAt flips pending powerups on a tile to collectible.
func (g *Game) materializePendingAt(x, y int) {
	for _, e := range sortedKeys(g.world.Powerups) {
		pw := g.world.Powerups[e]
		if !pw.Pending {
			continue
		}
		pos := g.world.Positions[e]
		if pos.X != x || pos.Y != y {
			continue
		}
		pw.Pending = false
		g.emit("powerup.spawned", map[string]interface{}{
			"x":    x,
			"y":    y,
			"kind": pw.Kind,
		})
	}
}

// systemElimination computes flame occupancy per tile and instantly
// eliminates any living player standing in fire, crediting the
// lexicographically-smallest overlapping flame owner as the killer.
// It then checks the end conditions.
func (g *Game) systemElimination() {
	type tile struct{ x, y int }
	killers := make(map[tile]string)
	for _, e := range g.world.FlameEntities() {
		flame := g.world.Flames[e]
		if flame.TicksLeft <= 0 {
			continue
		}
		pos := g.world.Positions[e]
		key := tile{pos.X, pos.Y}
		if cur, ok := killers[key]; !ok || flame.OwnerID < cur {
			killers[key] = flame.OwnerID
		}
	}

	for _, e := range g.world.PlayerEntities() {
		pl := g.world.Players[e]
		if !pl.Alive {
			continue
		}
		pos := g.world.Positions[e]
		killer, burning := killers[tile{pos.X, pos.Y}]
		if !burning {
			continue
		}
		pl.Alive = false
		pl.EliminatedAtTick = g.tick
		pl.KilledBy = killer
		g.emit("player.eliminated", map[string]interface{}{
			"playerId": pl.PlayerID,
			"by":       killer,
			"tick":     g.tick,
		})
	}

	g.checkEndConditions()
}

// checkEndConditions ends the round once at most one player remains
// alive, or once the tick limit is hit.
func (g *Game) checkEndConditions() {
	if g.over {
		return
	}
	var alive []*PlayerComp
	for _, e := range g.world.PlayerEntities() {
		if pl := g.world.Players[e]; pl.Alive {
			alive = append(alive, pl)
		}
	}

	if len(alive) <= 1 {
		winner := ""
		if len(alive) == 1 {
			winner = alive[0].PlayerID
		}
		g.finish(EndReasonLastPlayerStanding, winner)
		return
	}

	if g.tick >= g.opts.TickLimit {
		// A sole survivor would have ended the round above, so with the
		// limit reached and several players alive there is no winner.
		g.finish(EndReasonTickLimit, "")
	}
}
