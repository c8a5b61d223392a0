package game

import (
	"time"

	"github.com/sirupsen/logrus"
)

// The timer-owning agent drives the shared guess countdown and the
// phase-deadline recovery chains below. A stalled server transition is
// escalated in steps: first the plain completion signal, then a state
// re-request, and for the guess phase finally a local forced move to
// the reveal screen. Every step revalidates the current screen before
// acting, so a server transition that arrives mid-chain aborts it (the
// transition cancelled the chain's timers anyway).

// startGuessCountdown arms the per-tick countdown for the guess phase.
// When it reaches zero both agents are forced to submit their guesses.
func (a *Agent) startGuessCountdown(limitSeconds int) {
	a.countdownRemaining = limitSeconds
	a.countdownActive = true
	a.log.WithField("seconds", limitSeconds).Info("starting guess countdown")
	a.scheduleCountdownTick()
}

func (a *Agent) scheduleCountdownTick() {
	a.timers.After(TimerKey{ScreenGuess, "countdown-tick"}, a.timings.CountdownTick, func() {
		if !a.countdownActive || a.mirror.CurrentScreen != ScreenGuess {
			return
		}
		a.countdownRemaining--
		if a.countdownRemaining > 0 {
			a.scheduleCountdownTick()
			return
		}
		a.countdownActive = false
		a.log.Info("guess countdown expired")
		a.ensureGuessSubmitted()
		if a.EnsurePeerGuessFn != nil {
			a.EnsurePeerGuessFn()
		}
	})
}

// scheduleGuessPhaseDeadline arms the guess phase watchdog: the server
// time limit plus a grace buffer. If the server has not moved the game
// on by then, the expiry chain starts.
func (a *Agent) scheduleGuessPhaseDeadline(limitSeconds int) {
	d := time.Duration(limitSeconds)*a.timings.CountdownTick + a.timings.GuessPhaseBuffer
	a.timers.After(TimerKey{ScreenGuess, "phase-deadline"}, d, a.signalRoundTimeExpired)
}

// signalRoundTimeExpired runs the guess phase expiry chain. Both
// guesses are forced first; after a short settle the expiry signal is
// published, then escalation: re-request state, and as a last resort
// move to the reveal screen locally so the session cannot hang.
func (a *Agent) signalRoundTimeExpired() {
	if a.mirror.CurrentScreen != ScreenGuess {
		return
	}
	a.log.Info("guess phase deadline reached")
	a.ensureGuessSubmitted()
	if a.EnsurePeerGuessFn != nil {
		a.EnsurePeerGuessFn()
	}

	a.timers.After(TimerKey{ScreenGuess, "expire-publish"}, a.timings.ExpireSettleDelay, func() {
		if a.mirror.CurrentScreen != ScreenGuess {
			return
		}
		a.log.Info("signalling round time expired")
		a.publish(a.dest.RoundTimeExpired(), nil)

		a.timers.After(TimerKey{ScreenGuess, "expire-verify"}, a.timings.ExpireVerifyWait, func() {
			if a.mirror.CurrentScreen != ScreenGuess {
				return
			}
			a.log.Warn("still in guess phase after expiry signal, re-requesting state")
			a.requestState()

			a.timers.After(TimerKey{ScreenGuess, "expire-force"}, a.timings.ExpireForceWait, func() {
				if a.mirror.CurrentScreen != ScreenGuess {
					return
				}
				a.log.Warn("forcing local transition to reveal screen")
				a.transitionScreen(ScreenReveal)
				a.resetGuessTracking()
				a.requestState()
			})
		})
	})
}

// scheduleActionPhaseDeadline arms the action card phase watchdog. The
// wait is the server time limit capped at ActionPhaseMaxWait; with no
// limit the cap alone applies.
func (a *Agent) scheduleActionPhaseDeadline(serverLimitSeconds int) {
	d := a.timings.ActionPhaseMaxWait
	if serverLimitSeconds > 0 {
		if limit := time.Duration(serverLimitSeconds) * a.timings.CountdownTick; limit < d {
			d = limit
		}
	}
	a.timers.After(TimerKey{ScreenActionCard, "phase-deadline"}, d, a.signalActionCardsComplete)
}

// signalActionCardsComplete publishes the action phase completion
// signal and escalates to a state re-request if the server still has
// not moved on.
func (a *Agent) signalActionCardsComplete() {
	if a.mirror.CurrentScreen != ScreenActionCard {
		return
	}
	a.log.WithFields(logrus.Fields{
		"played": len(a.mirror.ActionCardsPlayed),
	}).Info("signalling action cards complete")
	a.publish(a.dest.ActionCardsComplete(), nil)
	a.resetActionCardTracking()

	a.timers.After(TimerKey{ScreenActionCard, "complete-verify"}, a.timings.ActionCompleteVerify, func() {
		if a.mirror.CurrentScreen != ScreenActionCard {
			return
		}
		a.log.Warn("still in action phase after completion signal, re-requesting state")
		a.requestState()
	})
}
