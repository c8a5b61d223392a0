package game

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runQueue is the test stand-in for an agent's serialized executor.
type runQueue struct {
	ch   chan func()
	stop chan struct{}
}

func newRunQueue(t *testing.T) *runQueue {
	q := &runQueue{ch: make(chan func(), 64), stop: make(chan struct{})}
	t.Cleanup(func() { close(q.stop) })
	go func() {
		for {
			select {
			case fn := <-q.ch:
				fn()
			case <-q.stop:
				return
			}
		}
	}()
	return q
}

func (q *runQueue) exec(fn func()) {
	select {
	case q.ch <- fn:
	case <-q.stop:
	}
}

func TestSchedulerFires(t *testing.T) {
	q := newRunQueue(t)
	s := NewScheduler(q.exec)

	fired := make(chan struct{})
	s.After(TimerKey{ScreenGuess, "tick"}, 5*time.Millisecond, func() { close(fired) })

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("timer never fired")
	}
	assert.False(t, s.Active(TimerKey{ScreenGuess, "tick"}))
}

func TestSchedulerReplacesSameKey(t *testing.T) {
	q := newRunQueue(t)
	s := NewScheduler(q.exec)

	key := TimerKey{ScreenGuess, "deadline"}
	first := make(chan struct{})
	second := make(chan struct{})
	s.After(key, 10*time.Millisecond, func() { close(first) })
	s.After(key, 30*time.Millisecond, func() { close(second) })

	select {
	case <-second:
	case <-time.After(time.Second):
		t.Fatal("replacement timer never fired")
	}
	select {
	case <-first:
		t.Fatal("replaced timer must not fire")
	default:
	}
}

func TestSchedulerCancel(t *testing.T) {
	q := newRunQueue(t)
	s := NewScheduler(q.exec)

	key := TimerKey{ScreenActionCard, "auto-play"}
	fired := make(chan struct{})
	s.After(key, 20*time.Millisecond, func() { close(fired) })
	require.True(t, s.Active(key))
	s.Cancel(key)
	require.False(t, s.Active(key))

	time.Sleep(60 * time.Millisecond)
	select {
	case <-fired:
		t.Fatal("cancelled timer must not fire")
	default:
	}
}

func TestSchedulerCancelScreen(t *testing.T) {
	q := newRunQueue(t)
	s := NewScheduler(q.exec)

	guessFired := make(chan struct{})
	otherFired := make(chan struct{})
	s.After(TimerKey{ScreenGuess, "a"}, 15*time.Millisecond, func() { close(guessFired) })
	s.After(TimerKey{ScreenGuess, "b"}, 15*time.Millisecond, func() {})
	s.After(TimerKey{ScreenReveal, "c"}, 15*time.Millisecond, func() { close(otherFired) })
	assert.Equal(t, 3, s.ActiveCount())

	s.CancelScreen(ScreenGuess)
	assert.Equal(t, 1, s.ActiveCount())

	select {
	case <-otherFired:
	case <-time.After(time.Second):
		t.Fatal("unrelated screen's timer must survive")
	}
	select {
	case <-guessFired:
		t.Fatal("cancelled screen's timer must not fire")
	default:
	}
}

func TestSchedulerCancelAll(t *testing.T) {
	q := newRunQueue(t)
	s := NewScheduler(q.exec)

	for _, p := range []string{"a", "b", "c"} {
		s.After(TimerKey{ScreenGuess, p}, 10*time.Millisecond, func() {
			t.Error("timer fired after CancelAll")
		})
	}
	s.CancelAll()
	assert.Zero(t, s.ActiveCount())
	time.Sleep(40 * time.Millisecond)
}
