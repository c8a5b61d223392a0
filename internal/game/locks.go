package game

import (
	"time"

	"github.com/sirupsen/logrus"
)

// LockKind names a per-agent command category. At most one command of
// a given kind may be in flight at any time.
type LockKind string

const (
	LockRoundCardSelect LockKind = "roundCardSelection"
	LockActionCardPlay  LockKind = "actionCardPlay"
	LockGuessSubmit     LockKind = "guessSubmission"
)

type lockState struct {
	held bool
	// gen increments on every acquisition so a deadline callback that
	// was already queued when the lock turned over cannot release the
	// newer acquisition.
	gen     uint64
	release *time.Timer
}

// LockSet guards duplicate command submission for one agent. Every
// acquisition schedules a forced release after the kind's deadline, so
// a lost acknowledgment can never permanently wedge the agent. All
// methods must be called from the agent's run queue; the forced
// release is delivered through exec onto that same queue.
type LockSet struct {
	locks     map[LockKind]*lockState
	deadlines map[LockKind]time.Duration
	exec      func(func())
	log       *logrus.Entry
}

// NewLockSet creates the three command locks with their deadlines.
func NewLockSet(t Timings, exec func(func()), log *logrus.Entry) *LockSet {
	return &LockSet{
		locks: map[LockKind]*lockState{
			LockRoundCardSelect: {},
			LockActionCardPlay:  {},
			LockGuessSubmit:     {},
		},
		deadlines: map[LockKind]time.Duration{
			LockRoundCardSelect: t.RoundCardLockDeadline,
			LockActionCardPlay:  t.ActionCardLockDeadline,
			LockGuessSubmit:     t.GuessLockDeadline,
		},
		exec: exec,
		log:  log,
	}
}

// TryAcquire takes the lock, returning false without side effects if
// it is already held.
func (ls *LockSet) TryAcquire(kind LockKind) bool {
	st := ls.locks[kind]
	if st.held {
		return false
	}
	st.held = true
	st.gen++
	gen := st.gen
	deadline := ls.deadlines[kind]
	st.release = time.AfterFunc(deadline, func() {
		ls.exec(func() {
			if st.held && st.gen == gen {
				ls.log.WithField("lock", kind).Warn("releasing command lock after deadline")
				ls.Release(kind)
			}
		})
	})
	return true
}

// Release frees the lock. Releasing a free lock is a no-op.
func (ls *LockSet) Release(kind LockKind) {
	st := ls.locks[kind]
	if !st.held {
		return
	}
	st.held = false
	if st.release != nil {
		st.release.Stop()
		st.release = nil
	}
}

// Held reports whether the lock is currently taken.
func (ls *LockSet) Held(kind LockKind) bool {
	return ls.locks[kind].held
}

// ReleaseAll frees every lock, e.g. when a round ends.
func (ls *LockSet) ReleaseAll() {
	for kind := range ls.locks {
		ls.Release(kind)
	}
}
