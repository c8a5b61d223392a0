package game

import "time"

// defaultGuessTimeSeconds is assumed when the server omits the round
// time limit.
const defaultGuessTimeSeconds = 30

// Timings collects every delay and deadline the agent uses. Tests
// compress these to milliseconds; production uses DefaultTimings.
type Timings struct {
	// CountdownTick is the guess countdown resolution. Phase deadlines
	// derived from a server time limit scale with it.
	CountdownTick time.Duration

	// Automatic action delays. The jitter spreads the two agents apart
	// so their commands do not collide on the server.
	RoundCardSelectDelay time.Duration
	ActionCardMinDelay   time.Duration
	ActionCardJitter     time.Duration
	AutoGuessMinDelay    time.Duration
	AutoGuessJitter      time.Duration

	// Command lock forced-release deadlines.
	RoundCardLockDeadline  time.Duration
	ActionCardLockDeadline time.Duration
	GuessLockDeadline      time.Duration

	// Action card phase recovery: wait at most ActionPhaseMaxWait for
	// the server to close the phase, then signal completion ourselves;
	// re-request state if no transition within ActionCompleteVerify.
	ActionPhaseMaxWait   time.Duration
	ActionCompleteVerify time.Duration

	// Guess phase recovery chain.
	GuessPhaseBuffer  time.Duration // grace past the server time limit
	ExpireSettleDelay time.Duration // let local guesses land first
	ExpireVerifyWait  time.Duration // then re-request state
	ExpireForceWait   time.Duration // then force REVEAL locally

	// RevealStateRequestDelay defers the next-round state request
	// after a round winner is announced.
	RevealStateRequestDelay time.Duration
}

// DefaultTimings returns the production values.
func DefaultTimings() Timings {
	return Timings{
		CountdownTick:           time.Second,
		RoundCardSelectDelay:    500 * time.Millisecond,
		ActionCardMinDelay:      time.Second,
		ActionCardJitter:        time.Second,
		AutoGuessMinDelay:       2 * time.Second,
		AutoGuessJitter:         3 * time.Second,
		RoundCardLockDeadline:   5 * time.Second,
		ActionCardLockDeadline:  5 * time.Second,
		GuessLockDeadline:       2 * time.Second,
		ActionPhaseMaxWait:      8 * time.Second,
		ActionCompleteVerify:    2 * time.Second,
		GuessPhaseBuffer:        time.Second,
		ExpireSettleDelay:       500 * time.Millisecond,
		ExpireVerifyWait:        5 * time.Second,
		ExpireForceWait:         3 * time.Second,
		RevealStateRequestDelay: time.Second,
	}
}
