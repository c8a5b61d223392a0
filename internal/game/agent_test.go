package game

import (
	"context"
	"encoding/json"
	"io"
	"math"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SoPra-FS25-Group-15/sopra-fs25-group-15-client/internal/history"
)

// fakeSession captures publishes and lets tests inject inbound frames.
type fakeSession struct {
	mu        sync.Mutex
	handlers  map[string]func([]byte)
	published []publishedFrame
}

type publishedFrame struct {
	Destination string
	Body        []byte
}

func newFakeSession() *fakeSession {
	return &fakeSession{handlers: make(map[string]func([]byte))}
}

func (f *fakeSession) Subscribe(_ context.Context, destination string, handler func(body []byte)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[destination] = handler
	return nil
}

func (f *fakeSession) Publish(destination string, body []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, publishedFrame{destination, body})
	return nil
}

func (f *fakeSession) Close() error { return nil }

// deliver injects an inbound envelope on a destination's handler.
func (f *fakeSession) deliver(t *testing.T, destination string, typ EventType, payload interface{}) {
	t.Helper()
	env := Envelope{Type: typ}
	if payload != nil {
		data, err := json.Marshal(payload)
		require.NoError(t, err)
		env.Payload = data
	}
	body, err := json.Marshal(env)
	require.NoError(t, err)

	f.mu.Lock()
	handler := f.handlers[destination]
	f.mu.Unlock()
	require.NotNil(t, handler, "no subscription for %s", destination)
	handler(body)
}

func (f *fakeSession) count(destination string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, p := range f.published {
		if p.Destination == destination {
			n++
		}
	}
	return n
}

func (f *fakeSession) last(destination string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.published) - 1; i >= 0; i-- {
		if f.published[i].Destination == destination {
			return f.published[i].Body, true
		}
	}
	return nil, false
}

func (f *fakeSession) waitCount(t *testing.T, destination string, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return f.count(destination) >= n
	}, 2*time.Second, 2*time.Millisecond, "expected %d publishes on %s, got %d", n, destination, f.count(destination))
}

// testTimings compresses every delay so a full round runs in
// milliseconds. Jitters are zero to keep timing deterministic.
func testTimings() Timings {
	return Timings{
		CountdownTick:           20 * time.Millisecond,
		RoundCardSelectDelay:    5 * time.Millisecond,
		ActionCardMinDelay:      5 * time.Millisecond,
		AutoGuessMinDelay:       5 * time.Millisecond,
		RoundCardLockDeadline:   300 * time.Millisecond,
		ActionCardLockDeadline:  300 * time.Millisecond,
		GuessLockDeadline:       150 * time.Millisecond,
		ActionPhaseMaxWait:      60 * time.Millisecond,
		ActionCompleteVerify:    30 * time.Millisecond,
		GuessPhaseBuffer:        20 * time.Millisecond,
		ExpireSettleDelay:       10 * time.Millisecond,
		ExpireVerifyWait:        30 * time.Millisecond,
		ExpireForceWait:         30 * time.Millisecond,
		RevealStateRequestDelay: 10 * time.Millisecond,
	}
}

func quietLog() *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logrus.NewEntry(logger)
}

func newTestAgent(t *testing.T, timerOwner bool) (*Agent, *fakeSession) {
	t.Helper()
	sess := newFakeSession()
	a := NewAgent(AgentConfig{
		Name:          "A",
		Token:         "token-a",
		OpponentToken: "token-b",
		LobbyID:       "lobby-1",
		TimerOwner:    timerOwner,
		Session:       sess,
		Recorder:      history.NewRecorder(quietLog()),
		Log:           quietLog(),
		Timings:       testTimings(),
		Rand:          rand.New(rand.NewSource(1)),
	})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	a.Start(ctx)
	require.NoError(t, a.Attach(ctx))
	return a, sess
}

func screenOf(a *Agent) Screen {
	var s Screen
	a.do(func() { s = a.mirror.CurrentScreen })
	return s
}

// sync waits until every previously delivered frame has been handled.
func syncAgent(a *Agent) {
	a.do(func() {})
}

func TestFullRoundFlow(t *testing.T) {
	a, sess := newTestAgent(t, true)
	d := a.dest

	var gameOverWinner string
	overCh := make(chan string, 1)
	a.OnGameOver = func(winner string) { overCh <- winner }

	sess.deliver(t, d.GameTopic(), EventGameStart, nil)
	syncAgent(a)
	assert.Equal(t, ScreenRoundCard, screenOf(a))

	// Our turn with a round card in hand: the agent selects it.
	sess.deliver(t, d.StateQueue(), EventGameState, StateSnapshot{
		CurrentScreen:          ScreenRoundCard,
		CurrentRound:           1,
		CurrentTurnPlayerToken: "token-a",
		Inventory:              &InventoryPayload{RoundCards: []string{"world", "flash"}},
	})
	sess.waitCount(t, d.SelectRoundCard(), 1)

	body, ok := sess.last(d.SelectRoundCard())
	require.True(t, ok)
	var sel SelectRoundCardCommand
	require.NoError(t, json.Unmarshal(body, &sel))
	assert.Equal(t, "world", sel.RoundCardID)

	sess.deliver(t, d.GameTopic(), EventRoundCardSelected, RoundCardSelectedPayload{
		RoundCard: RoundCard{ID: "world"},
	})
	syncAgent(a)
	a.do(func() {
		assert.Equal(t, "world", a.mirror.RoundCardInPlay)
		assert.False(t, a.locks.Held(LockRoundCardSelect))
	})

	// Personal action card grant, then the action phase.
	sess.deliver(t, d.ActionCardQueue(), EventActionCardAssigned, ActionCardGrantPayload{ID: "badsight"})
	syncAgent(a)

	sess.deliver(t, d.GameTopic(), EventActionCardPhaseStart, ActionCardPhaseStartPayload{
		TimeLimit:   10,
		Coordinates: &LatLon{Lat: 47.4, Lon: 8.5},
	})
	sess.waitCount(t, d.PlayActionCard(), 1)

	body, ok = sess.last(d.PlayActionCard())
	require.True(t, ok)
	var play PlayActionCardCommand
	require.NoError(t, json.Unmarshal(body, &play))
	assert.Equal(t, "badsight", play.ActionCardID)
	assert.Equal(t, "token-b", play.TargetPlayerToken, "punishment card must target the opponent")

	// Guessing phase: one automatic guess near the target.
	sess.deliver(t, d.GameTopic(), EventRoundStart, RoundStartPayload{
		RoundData:       &RoundData{Round: 1, Latitude: 47.4, Longitude: 8.5, RoundTime: 30},
		StartGuessTimer: true,
	})
	sess.waitCount(t, d.Guess(), 1)

	body, ok = sess.last(d.Guess())
	require.True(t, ok)
	var guess GuessCommand
	require.NoError(t, json.Unmarshal(body, &guess))
	assert.LessOrEqual(t, math.Abs(guess.Guess.Lat-47.4), 10.0)
	assert.LessOrEqual(t, math.Abs(guess.Guess.Lon-8.5), 10.0)

	sess.deliver(t, d.GameTopic(), EventRoundWinner, RoundWinnerPayload{
		WinnerUsername: "alice", Round: 1, Distance: 1.2,
	})
	syncAgent(a)
	assert.Equal(t, ScreenReveal, screenOf(a))
	a.do(func() {
		require.Len(t, a.mirror.RoundWinners, 1)
		assert.Equal(t, "alice", a.mirror.RoundWinners[0].Username)
	})

	sess.deliver(t, d.GameTopic(), EventGameWinner, GameWinnerPayload{Username: "alice"})
	syncAgent(a)
	assert.Equal(t, ScreenGameOver, screenOf(a))

	select {
	case gameOverWinner = <-overCh:
	case <-time.After(time.Second):
		t.Fatal("game over callback never fired")
	}
	assert.Equal(t, "alice", gameOverWinner)
}

func TestGuessSubmittedOncePerRound(t *testing.T) {
	a, sess := newTestAgent(t, false)
	d := a.dest

	sess.deliver(t, d.GameTopic(), EventGameStart, nil)
	sess.deliver(t, d.GameTopic(), EventRoundStart, RoundStartPayload{
		RoundData:       &RoundData{Round: 1, Latitude: 10, Longitude: 20, RoundTime: 30},
		StartGuessTimer: true,
	})
	sess.waitCount(t, d.Guess(), 1)

	// A snapshot on the same screen must not trigger a second guess.
	sess.deliver(t, d.StateQueue(), EventGameState, StateSnapshot{
		CurrentScreen: ScreenGuess,
		GuessScreenAttributes: &GuessScreenAttributes{
			Time: 30, GuessLocation: &LatLon{Lat: 10, Lon: 20},
		},
	})
	syncAgent(a)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, sess.count(d.Guess()))
}

func TestScreenTransitionCancelsTimers(t *testing.T) {
	a, sess := newTestAgent(t, true)
	d := a.dest

	sess.deliver(t, d.GameTopic(), EventGameStart, nil)
	sess.deliver(t, d.GameTopic(), EventRoundStart, RoundStartPayload{
		RoundData:       &RoundData{Round: 1, Latitude: 10, Longitude: 20, RoundTime: 3},
		StartGuessTimer: true,
	})
	sess.waitCount(t, d.Guess(), 1)

	// The server resolves the round before the local deadline.
	sess.deliver(t, d.GameTopic(), EventRoundWinner, RoundWinnerPayload{WinnerUsername: "bob", Round: 1})
	syncAgent(a)
	assert.Equal(t, ScreenReveal, screenOf(a))

	// Well past where the guess deadline would have fired.
	time.Sleep(150 * time.Millisecond)
	assert.Zero(t, sess.count(d.RoundTimeExpired()),
		"cancelled guess deadline must not fire after leaving the screen")
}

func TestRepeatedScreenChangeClearsAndRearmsTimers(t *testing.T) {
	a, sess := newTestAgent(t, true)
	d := a.dest

	sess.deliver(t, d.GameTopic(), EventGameStart, nil)
	sess.deliver(t, d.GameTopic(), EventRoundStart, RoundStartPayload{
		RoundData:       &RoundData{Round: 1, Latitude: 10, Longitude: 20, RoundTime: 1},
		StartGuessTimer: true,
	})
	sess.waitCount(t, d.Guess(), 1)

	// A screen announcement repeating the current screen still clears
	// every pending timer, and the phase watchdogs come back armed so
	// recovery is not lost.
	sess.deliver(t, d.GameTopic(), EventScreenChange, ScreenChangePayload{Screen: ScreenGuess})
	syncAgent(a)
	a.do(func() {
		assert.True(t, a.countdownActive)
		assert.True(t, a.timers.Active(TimerKey{ScreenGuess, "phase-deadline"}))
	})
	sess.waitCount(t, d.RoundTimeExpired(), 1)
}

func TestGuessPhaseRecoveryChain(t *testing.T) {
	a, sess := newTestAgent(t, true)
	d := a.dest

	sess.deliver(t, d.GameTopic(), EventGameStart, nil)
	sess.deliver(t, d.GameTopic(), EventRoundStart, RoundStartPayload{
		RoundData:       &RoundData{Round: 1, Latitude: 10, Longitude: 20, RoundTime: 1},
		StartGuessTimer: true,
	})

	// No server transition ever arrives: the agent must escalate on
	// its own. First the expiry signal, then a state re-request, then
	// the forced local move to the reveal screen.
	sess.waitCount(t, d.Guess(), 1)
	sess.waitCount(t, d.RoundTimeExpired(), 1)
	sess.waitCount(t, d.StateRequest(), 1)
	require.Eventually(t, func() bool {
		return screenOf(a) == ScreenReveal
	}, 2*time.Second, 5*time.Millisecond, "expected forced transition to reveal")
}

func TestActionPhaseRecovery(t *testing.T) {
	a, sess := newTestAgent(t, true)
	d := a.dest

	sess.deliver(t, d.GameTopic(), EventGameStart, nil)
	sess.deliver(t, d.GameTopic(), EventActionCardPhaseStart, ActionCardPhaseStartPayload{TimeLimit: 0})
	syncAgent(a)
	assert.Equal(t, ScreenActionCard, screenOf(a))

	// The server never closes the phase: the agent signals completion
	// itself and then re-requests state.
	sess.waitCount(t, d.ActionCardsComplete(), 1)
	sess.waitCount(t, d.StateRequest(), 1)
	assert.Equal(t, ScreenActionCard, screenOf(a), "only the server moves the game past the action phase")
}

func TestSnapshotScreenDivergenceReconciles(t *testing.T) {
	a, sess := newTestAgent(t, true)
	d := a.dest

	sess.deliver(t, d.GameTopic(), EventGameStart, nil)
	syncAgent(a)
	assert.Equal(t, ScreenRoundCard, screenOf(a))

	// A snapshot carrying a different screen acts like a screen change
	// before the rest of the state applies.
	sess.deliver(t, d.StateQueue(), EventGameState, StateSnapshot{
		CurrentScreen: ScreenGuess,
		GuessScreenAttributes: &GuessScreenAttributes{
			Time: 30, GuessLocation: &LatLon{Lat: -33.9, Lon: 18.4},
		},
	})
	syncAgent(a)
	assert.Equal(t, ScreenGuess, screenOf(a))
	sess.waitCount(t, d.Guess(), 1)
}

func TestAlreadyPlayedErrorIsBenign(t *testing.T) {
	a, sess := newTestAgent(t, false)
	d := a.dest

	sess.deliver(t, d.GameTopic(), EventGameStart, nil)
	sess.deliver(t, d.GameTopic(), EventError, "action card already played this round")
	syncAgent(a)

	a.do(func() {
		assert.True(t, a.actionCardAttempted, "duplicate-play rejection counts as done")
		assert.False(t, a.locks.Held(LockActionCardPlay))
	})
	assert.Zero(t, sess.count(d.StateRequest()), "benign errors must not trigger a state request")
}

func TestRoundCardErrorRefreshesState(t *testing.T) {
	a, sess := newTestAgent(t, false)
	d := a.dest

	sess.deliver(t, d.GameTopic(), EventGameStart, nil)
	sess.deliver(t, d.GameTopic(), EventError, "round card not found")
	syncAgent(a)

	a.do(func() {
		assert.False(t, a.locks.Held(LockRoundCardSelect))
	})
	sess.waitCount(t, d.StateRequest(), 1)
}

func TestMalformedFramesAreDropped(t *testing.T) {
	a, sess := newTestAgent(t, false)
	d := a.dest

	sess.mu.Lock()
	handler := sess.handlers[d.GameTopic()]
	sess.mu.Unlock()
	handler([]byte("{not json"))
	handler([]byte(`{"payload":{}}`))

	sess.deliver(t, d.GameTopic(), EventGameStart, nil)
	syncAgent(a)
	assert.Equal(t, ScreenRoundCard, screenOf(a), "agent survives malformed frames")
}

func TestRoundCardSelectionOnlyOnOwnTurn(t *testing.T) {
	a, sess := newTestAgent(t, false)
	d := a.dest

	sess.deliver(t, d.GameTopic(), EventGameStart, nil)
	sess.deliver(t, d.StateQueue(), EventGameState, StateSnapshot{
		CurrentScreen:          ScreenRoundCard,
		CurrentTurnPlayerToken: "token-b",
		Inventory:              &InventoryPayload{RoundCards: []string{"world"}},
	})
	syncAgent(a)
	time.Sleep(30 * time.Millisecond)
	assert.Zero(t, sess.count(d.SelectRoundCard()))
}
