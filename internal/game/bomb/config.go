// internal/game/bomb/config.go
package bomb

import "encoding/json"

// Movement strategies. Instant snaps a player one tile per intent;
// interpolated spreads the transit over several ticks scaled by the
// player's speed tier.
const (
	MovementInstant      = "instant"
	MovementInterpolated = "interpolated"
)

// Options is the per-room tuning block decoded from engine.Config.
// Zero values take the defaults below.
type Options struct {
	Width            int     `json:"width,omitempty"`
	Height           int     `json:"height,omitempty"`
	SoftBlockDensity float64 `json:"softBlockDensity,omitempty"`
	FuseTicks        int     `json:"fuseTicks,omitempty"`
	FlameTicks       int     `json:"flameTicks,omitempty"`
	TickLimit        int64   `json:"tickLimit,omitempty"`
	Movement         string  `json:"movement,omitempty"`
}

// Balance tables. Numeric stat caps bound powerup progression; the
// weighted tables drive soft-block kinds and their drop chances.
const (
	defaultWidth            = 13
	defaultHeight           = 11
	defaultSoftBlockDensity = 0.55
	defaultFuseTicks        = 16
	defaultFlameTicks       = 4
	defaultTickLimit        = 2400
	defaultMovement         = MovementInstant

	startBombLimit   = 1
	startBlastRadius = 2
	startSpeedTier   = 1

	maxBombLimit   = 8
	maxBlastRadius = 10
	maxSpeedTier   = 3

	throwMaxRange = 3

	// Interpolated transit takes baseTransitTicks at speed tier 1 and
	// one tick less per tier, floored at 1.
	baseTransitTicks = 4

	safetyRingRadius = 1 // spawn plus its 4 neighbors stay clear
)

// blockWeights is the cumulative percent table for soft-block kinds:
// brick 60, crate 25, barrel 15.
var blockWeights = []struct {
	kind   BlockKind
	cumPct int
}{
	{BlockBrick, 60},
	{BlockCrate, 85},
	{BlockBarrel, 100},
}

// dropChancePct is the per-kind percent chance a destroyed block drops
// a powerup.
var dropChancePct = map[BlockKind]int{
	BlockBrick:  30,
	BlockCrate:  40,
	BlockBarrel: 50,
}

// decodeOptions applies defaults over a raw options block. A nil or
// empty block yields pure defaults; unknown fields are ignored.
func decodeOptions(raw json.RawMessage) (Options, error) {
	var o Options
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &o); err != nil {
			return o, err
		}
	}
	if o.Width <= 0 {
		o.Width = defaultWidth
	}
	if o.Height <= 0 {
		o.Height = defaultHeight
	}
	if o.SoftBlockDensity <= 0 {
		o.SoftBlockDensity = defaultSoftBlockDensity
	}
	if o.FuseTicks <= 0 {
		o.FuseTicks = defaultFuseTicks
	}
	if o.FlameTicks <= 0 {
		o.FlameTicks = defaultFlameTicks
	}
	if o.TickLimit <= 0 {
		o.TickLimit = defaultTickLimit
	}
	if o.Movement == "" {
		o.Movement = defaultMovement
	}
	return o, nil
}

// transitTicks is how many ticks one tile of interpolated movement
// takes at a given speed tier.
func transitTicks(speedTier int) int {
	t := baseTransitTicks - (speedTier - 1)
	if t < 1 {
		t = 1
	}
	return t
}
