// internal/game/bomb/bombs.go
package bomb

// systemBombs handles the whole bomb lifecycle for a tick: placements,
// queued throws, queued remote detonations, fuse decrement, then the
// chained detonation pass.
func (g *Game) systemBombs() {
	g.placeQueuedBombs()
	g.resolveQueuedThrows()
	g.resolveQueuedDetonations()

	// Fuse countdown, then collect everything due: fuse at zero or
	// standing in live flame.
	var due []Entity
	for _, e := range g.world.BombEntities() {
		bomb := g.world.Bombs[e]
		bomb.Fuse--
		pos := g.world.Positions[e]
		if bomb.Fuse <= 0 || g.world.FlameAt(pos.X, pos.Y) {
			due = append(due, e)
		}
	}
	g.detonate(due)
}

// placeQueuedBombs creates bombs queued by input, in ascending player
// entity order, respecting the per-player active limit and refusing to
// stack on an occupied tile.
func (g *Game) placeQueuedBombs() {
	for _, e := range g.world.PlayerEntities() {
		pl := g.world.Players[e]
		if !pl.WantBomb {
			continue
		}
		pl.WantBomb = false
		if !pl.Alive || pl.ActiveBombs >= pl.BombLimit {
			continue
		}
		pos := g.world.Positions[e]
		if _, _, ok := g.world.BombAt(pos.X, pos.Y); ok {
			continue
		}
		be := g.world.Spawn()
		g.world.Positions[be] = &Position{X: pos.X, Y: pos.Y}
		g.world.Bombs[be] = &BombComp{
			Owner:      e,
			OwnerID:    pl.PlayerID,
			Fuse:       g.opts.FuseTicks,
			Radius:     pl.BlastRadius,
			PlacedTick: g.tick,
		}
		pl.ActiveBombs++
		g.emit("bomb.placed", map[string]interface{}{
			"playerId": pl.PlayerID,
			"x":        pos.X,
			"y":        pos.Y,
			"fuse":     g.opts.FuseTicks,
		})
	}
}

// resolveQueuedThrows relocates the bomb under a throwing player to the
// furthest open tile along their facing direction, up to the max throw
// range. With no own bomb underfoot or no open tile, the throw fizzles.
func (g *Game) resolveQueuedThrows() {
	for _, e := range g.world.PlayerEntities() {
		pl := g.world.Players[e]
		if !pl.WantThrow {
			continue
		}
		pl.WantThrow = false
		if !pl.Alive || !pl.CanThrow {
			continue
		}
		pos := g.world.Positions[e]
		be, bomb, ok := g.world.BombAt(pos.X, pos.Y)
		if !ok || bomb.OwnerID != pl.PlayerID {
			continue
		}

		dx, dy := pl.Facing.delta()
		var dest *Position
		for step := 1; step <= throwMaxRange; step++ {
			tx, ty := pos.X+dx*step, pos.Y+dy*step
			if g.wallAt(tx, ty) {
				break
			}
			if _, _, blocked := g.world.DestructibleAt(tx, ty); blocked {
				break
			}
			if _, _, blocked := g.world.BombAt(tx, ty); blocked {
				break
			}
			if g.world.PlayerAt(tx, ty) {
				break
			}
			dest = &Position{X: tx, Y: ty}
		}
		if dest == nil {
			continue
		}
		bombPos := g.world.Positions[be]
		bombPos.X, bombPos.Y = dest.X, dest.Y
		bomb.Sliding = false
		g.emit("bomb.thrown", map[string]interface{}{
			"playerId": pl.PlayerID,
			"x":        dest.X,
			"y":        dest.Y,
		})
	}
}

// resolveQueuedDetonations fires remote detonations: always the
// requester's oldest still-active bomb by placement tick, ties broken
// by entity id.
func (g *Game) resolveQueuedDetonations() {
	for _, e := range g.world.PlayerEntities() {
		pl := g.world.Players[e]
		if !pl.WantDetonate {
			continue
		}
		pl.WantDetonate = false
		if !pl.Alive || !pl.CanRemote {
			continue
		}
		var oldest Entity
		var oldestBomb *BombComp
		for _, be := range g.world.BombEntities() {
			bomb := g.world.Bombs[be]
			if bomb.OwnerID != pl.PlayerID {
				continue
			}
			if oldestBomb == nil ||
				bomb.PlacedTick < oldestBomb.PlacedTick ||
				(bomb.PlacedTick == oldestBomb.PlacedTick && be < oldest) {
				oldest = be
				oldestBomb = bomb
			}
		}
		if oldestBomb != nil {
			oldestBomb.Fuse = 0
		}
	}
}

// detonate runs the chained explosion pass over a work queue. Each bomb
// explodes exactly once; any bomb caught in an affected tile joins the
// queue, so mutually-in-range bombs all go off in the same pass.
func (g *Game) detonate(due []Entity) {
	if len(due) == 0 {
		return
	}
	exploded := make(map[Entity]bool)
	queue := append([]Entity(nil), due...)

	for len(queue) > 0 {
		be := queue[0]
		queue = queue[1:]
		if exploded[be] {
			continue
		}
		bomb, ok := g.world.Bombs[be]
		if !ok {
			continue
		}
		exploded[be] = true

		pos := *g.world.Positions[be]
		owner := bomb.OwnerID
		radius := bomb.Radius
		if pl, ok := g.world.Players[bomb.Owner]; ok {
			pl.ActiveBombs--
		}
		g.world.Despawn(be)

		g.emit("bomb.exploded", map[string]interface{}{
			"playerId": owner,
			"x":        pos.X,
			"y":        pos.Y,
			"radius":   radius,
		})

		g.igniteTile(pos.X, pos.Y, owner, &queue)
		for _, dir := range cardinals {
			dx, dy := dir.delta()
			for step := 1; step <= radius; step++ {
				tx, ty := pos.X+dx*step, pos.Y+dy*step
				if g.wallAt(tx, ty) {
					break
				}
				stop := g.igniteTile(tx, ty, owner, &queue)
				if stop {
					break
				}
			}
		}
	}
}

// igniteTile puts flame on a tile, destroys any soft block there
// (rolling its weighted powerup drop), and chains into any bomb on the
// tile. Returns true when propagation must stop at this tile, which is
// the case for soft blocks: the flame covers the block and goes no
// further.
func (g *Game) igniteTile(x, y int, ownerID string, queue *[]Entity) bool {
	stop := false

	if de, block, ok := g.world.DestructibleAt(x, y); ok {
		kind := block.Kind
		g.world.Despawn(de)
		g.emit("block.destroyed", map[string]interface{}{
			"x":    x,
			"y":    y,
			"kind": kind,
		})
		if g.rng.Intn(100) < dropChancePct[kind] {
			g.stagePendingPowerup(x, y)
		}
		stop = true
	}

	if be, _, ok := g.world.BombAt(x, y); ok {
		*queue = append(*queue, be)
	}

	fe := g.world.Spawn()
	g.world.Positions[fe] = &Position{X: x, Y: y}
	g.world.Flames[fe] = &FlameComp{TicksLeft: g.opts.FlameTicks, OwnerID: ownerID}
	return stop
}

// stagePendingPowerup drops a random powerup on a tile in the pending
// state; it materializes only once the flame over it fully clears, so
// nothing spawns under live fire.
func (g *Game) stagePendingPowerup(x, y int) {
	kind := powerupKinds[g.rng.Intn(len(powerupKinds))]
	pe := g.world.Spawn()
	g.world.Positions[pe] = &Position{X: x, Y: y}
	g.world.Powerups[pe] = &PowerupComp{Kind: kind, Pending: true}
}
