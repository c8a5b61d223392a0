package game

// Screen is the client's model of which stage of a round the game is
// in. The zero value means no screen is known yet.
type Screen string

const (
	ScreenNone       Screen = ""
	ScreenRoundCard  Screen = "ROUNDCARD"
	ScreenActionCard Screen = "ACTIONCARD"
	ScreenGuess      Screen = "GUESS"
	ScreenReveal     Screen = "REVEAL"
	ScreenGameOver   Screen = "GAMEOVER"
)

// RoundResult records one finished round.
type RoundResult struct {
	Username string
	Distance float64
}

// Mirror is the per-agent local snapshot of authoritative server
// state. It is mutated only from the owning agent's goroutine, only in
// reaction to inbound messages; timers never change it except for the
// single documented forced transition to REVEAL.
type Mirror struct {
	CurrentRound       int
	CurrentScreen      Screen
	ActivePlayerToken  string
	RoundCardInPlay    string
	RoundCardSubmitter string

	// ActionCardsPlayed maps player token to the card id played this
	// round.
	ActionCardsPlayed map[string]string

	RoundCards  []string
	ActionCards []string

	TimeLimitSeconds int
	TargetLocation   *LatLon
	LastResolve      []byte

	RoundWinners []RoundResult
	GameWinner   string
}

// NewMirror returns an empty mirror for the start of a session.
func NewMirror() *Mirror {
	return &Mirror{ActionCardsPlayed: make(map[string]string)}
}

// ResetRoundTracking clears per-round fields when a new round begins.
func (m *Mirror) ResetRoundTracking() {
	m.ActionCardsPlayed = make(map[string]string)
	m.RoundCardInPlay = ""
	m.RoundCardSubmitter = ""
}

// WinnerNames returns the round winners in order.
func (m *Mirror) WinnerNames() []string {
	names := make([]string, len(m.RoundWinners))
	for i, w := range m.RoundWinners {
		names[i] = w.Username
	}
	return names
}
