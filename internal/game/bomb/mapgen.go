// internal/game/bomb/mapgen.go
package bomb

import "math/rand"

// spawnPoints returns the fixed spawn tiles in seat order: the four
// corners first, then edge midpoints for larger rooms. All coordinates
// are odd-adjacent so they never land on the hard-wall grid.
func spawnPoints(width, height int) []Position {
	return []Position{
		{X: 1, Y: 1},
		{X: width - 2, Y: height - 2},
		{X: width - 2, Y: 1},
		{X: 1, Y: height - 2},
		{X: width / 2, Y: 1},
		{X: width / 2, Y: height - 2},
		{X: 1, Y: height / 2},
		{X: width - 2, Y: height / 2},
	}
}

// generateWalls lays the static hard-wall grid: the full perimeter plus
// every even/even interior tile.
func generateWalls(width, height int) [][]bool {
	walls := make([][]bool, height)
	for y := 0; y < height; y++ {
		walls[y] = make([]bool, width)
		for x := 0; x < width; x++ {
			if x == 0 || y == 0 || x == width-1 || y == height-1 {
				walls[y][x] = true
				continue
			}
			if x%2 == 0 && y%2 == 0 {
				walls[y][x] = true
			}
		}
	}
	return walls
}

// generateSoftBlocks sprinkles destructible blocks onto the world.
// Each open tile outside every spawn's safety ring draws once for
// presence at the configured density, then once more for its kind via
// the weighted table. Draw order is row-major, so the same seed always
// produces the same map.
func generateSoftBlocks(w *World, rng *rand.Rand, walls [][]bool, spawns []Position, density float64) {
	height := len(walls)
	width := len(walls[0])
	for y := 1; y < height-1; y++ {
		for x := 1; x < width-1; x++ {
			if walls[y][x] || inSafetyRing(x, y, spawns) {
				continue
			}
			if rng.Float64() >= density {
				continue
			}
			kind := drawBlockKind(rng)
			e := w.Spawn()
			w.Positions[e] = &Position{X: x, Y: y}
			w.Destructibles[e] = &DestructibleComp{Kind: kind}
		}
	}
}

// inSafetyRing reports whether a tile is a spawn or one of its 4
// neighbors, which always stay clear so players are never boxed in at
// tick 0.
func inSafetyRing(x, y int, spawns []Position) bool {
	for _, s := range spawns {
		if x == s.X && y == s.Y {
			return true
		}
		for _, d := range cardinals {
			dx, dy := d.delta()
			if x == s.X+dx*safetyRingRadius && y == s.Y+dy*safetyRingRadius {
				return true
			}
		}
	}
	return false
}

// drawBlockKind consumes one RNG draw against the cumulative weight
// table: brick 60% / crate 25% / barrel 15%.
func drawBlockKind(rng *rand.Rand) BlockKind {
	roll := rng.Intn(100)
	for _, bw := range blockWeights {
		if roll < bw.cumPct {
			return bw.kind
		}
	}
	return BlockBrick
}
