// internal/game/bomb/powerups.go
package bomb

// systemPowerups grants materialized powerups to living players
// standing on them. Numeric stats progress monotonically up to their
// caps; capability flags are one-shot and never downgrade, so picking
// a capability up twice is a no-op.
func (g *Game) systemPowerups() {
	for _, e := range g.world.PlayerEntities() {
		pl := g.world.Players[e]
		if !pl.Alive {
			continue
		}
		pos := g.world.Positions[e]
		for _, pe := range sortedKeys(g.world.Powerups) {
			pw := g.world.Powerups[pe]
			if pw.Pending {
				continue
			}
			ppos := g.world.Positions[pe]
			if ppos.X != pos.X || ppos.Y != pos.Y {
				continue
			}
			g.applyPowerup(pl, pw.Kind)
			g.world.Despawn(pe)
			g.emit("powerup.collected", map[string]interface{}{
				"playerId": pl.PlayerID,
				"kind":     pw.Kind,
			})
		}
	}
}

func (g *Game) applyPowerup(pl *PlayerComp, kind PowerupKind) {
	switch kind {
	case PowerupBombUp:
		if pl.BombLimit < maxBombLimit {
			pl.BombLimit++
		}
	case PowerupFlameUp:
		if pl.BlastRadius < maxBlastRadius {
			pl.BlastRadius++
		}
	case PowerupSpeedUp:
		if pl.SpeedTier < maxSpeedTier {
			pl.SpeedTier++
		}
	case PowerupRemote:
		pl.CanRemote = true
	case PowerupKick:
		pl.CanKick = true
	case PowerupThrow:
		pl.CanThrow = true
	}
}
