package game

import "math/rand"

// targetedActionCards lists the action cards that must name a target
// player when played. Punishment cards always target the opponent.
var targetedActionCards = map[string]bool{
	"badsight": true,
}

// Policy holds the deterministic decision functions that drive the
// agent's automatic play. Only guess generation is randomized.
type Policy struct {
	rng *rand.Rand
}

// NewPolicy creates a policy with its own random source.
func NewPolicy(rng *rand.Rand) *Policy {
	return &Policy{rng: rng}
}

// ChooseRoundCard picks the round card to submit: always the first
// card in the inventory. Returns false if the inventory is empty.
func (p *Policy) ChooseRoundCard(roundCards []string) (string, bool) {
	if len(roundCards) == 0 {
		return "", false
	}
	return roundCards[0], true
}

// ChooseActionCard builds the play command for the agent's held action
// card. The single held card is played unconditionally; targeted cards
// aim at the opponent. Returns false if no card is held.
func (p *Policy) ChooseActionCard(actionCards []string, opponentToken string) (PlayActionCardCommand, bool) {
	if len(actionCards) == 0 {
		return PlayActionCardCommand{}, false
	}
	cmd := PlayActionCardCommand{ActionCardID: actionCards[0]}
	if targetedActionCards[cmd.ActionCardID] {
		cmd.TargetPlayerToken = opponentToken
	}
	return cmd, true
}

// GenerateGuess derives a guess from the true target location: one
// offset magnitude drawn uniformly from [0,10) is applied to both
// axes with independently chosen signs, then the result is clamped to
// valid coordinate ranges.
func (p *Policy) GenerateGuess(target LatLon) LatLon {
	off := p.rng.Float64() * 10

	lat := target.Lat + off
	if p.rng.Float64() > 0.5 {
		lat = target.Lat - off
	}
	lon := target.Lon + off
	if p.rng.Float64() > 0.5 {
		lon = target.Lon - off
	}

	return LatLon{
		Lat: clamp(lat, -90, 90),
		Lon: clamp(lon, -180, 180),
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
