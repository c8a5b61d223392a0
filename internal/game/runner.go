package game

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/SoPra-FS25-Group-15/sopra-fs25-group-15-client/internal/history"
	"github.com/SoPra-FS25-Group-15/sopra-fs25-group-15-client/internal/transport"
)

// joinRetryDelays spaces agent B's join attempts. The first publish
// goes out immediately; retries stop once the join is confirmed.
var joinRetryDelays = []time.Duration{time.Second, 3 * time.Second, 7 * time.Second}

// postStartStateDelays staggers the state re-requests both agents send
// after the game starts, covering a lost GAME_START broadcast.
var postStartStateDelays = []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second}

// startSettleDelay separates the second join confirmation from the
// start command so the server has its lobby roster settled.
const startSettleDelay = 2 * time.Second

// RunnerConfig describes one full two-agent session.
type RunnerConfig struct {
	LobbyID   string
	LobbyCode string

	TokenA string
	TokenB string

	SessionA transport.Session
	SessionB transport.Session

	Recorder *history.Recorder
	Log      *logrus.Entry
	Timings  Timings
	Rand     *rand.Rand
}

// Runner drives both agents through one complete game: join, start,
// play every round, and finalize the history once both agents reach
// the terminal screen.
type Runner struct {
	cfg    RunnerConfig
	agentA *Agent
	agentB *Agent
	log    *logrus.Entry

	mu             sync.Mutex
	aJoined        bool
	bJoined        bool
	startAttempted bool

	gameOver chan string // buffered, one per agent
}

// NewRunner wires both agents together. Agent A is the lobby host and
// the timer owner.
func NewRunner(cfg RunnerConfig) *Runner {
	if cfg.Rand == nil {
		cfg.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	r := &Runner{
		cfg:      cfg,
		log:      cfg.Log,
		gameOver: make(chan string, 2),
	}

	r.agentA = NewAgent(AgentConfig{
		Name:          "A",
		Token:         cfg.TokenA,
		OpponentToken: cfg.TokenB,
		LobbyID:       cfg.LobbyID,
		TimerOwner:    true,
		Session:       cfg.SessionA,
		Recorder:      cfg.Recorder,
		Log:           cfg.Log.WithField("agent", "A"),
		Timings:       cfg.Timings,
		Rand:          rand.New(rand.NewSource(cfg.Rand.Int63())),
	})
	r.agentB = NewAgent(AgentConfig{
		Name:          "B",
		Token:         cfg.TokenB,
		OpponentToken: cfg.TokenA,
		LobbyID:       cfg.LobbyID,
		TimerOwner:    false,
		Session:       cfg.SessionB,
		Recorder:      cfg.Recorder,
		Log:           cfg.Log.WithField("agent", "B"),
		Timings:       cfg.Timings,
		Rand:          rand.New(rand.NewSource(cfg.Rand.Int63())),
	})

	// The countdown owner nudges the peer when time runs out.
	r.agentA.EnsurePeerGuessFn = r.agentB.EnsureGuess
	r.agentB.EnsurePeerGuessFn = r.agentA.EnsureGuess

	r.agentA.OnSelfJoined = func() { r.markJoined(true) }
	r.agentB.OnSelfJoined = func() { r.markJoined(false) }
	// The host also learns of B's arrival from the lobby broadcast, in
	// case B's personal confirmation is lost.
	r.agentA.OnUserJoined = func(username string) {
		r.log.WithField("username", username).Info("user joined lobby")
		r.markJoined(false)
	}

	// A rejected join gets one immediate re-publish on top of the
	// fixed retry schedule.
	r.agentB.OnJoinError = func() {
		r.mu.Lock()
		joined := r.bJoined
		r.mu.Unlock()
		if !joined {
			r.agentB.PublishJoin(cfg.LobbyCode)
		}
	}

	r.agentA.OnGameOver = func(winner string) { r.gameOver <- winner }
	r.agentB.OnGameOver = func(winner string) { r.gameOver <- winner }

	return r
}

// Run plays one full game session. It blocks until both agents reach
// the terminal screen or ctx is cancelled, then finalizes the history.
func (r *Runner) Run(ctx context.Context) error {
	r.agentA.Start(ctx)
	r.agentB.Start(ctx)

	if err := r.agentA.Attach(ctx); err != nil {
		return err
	}
	if err := r.agentB.Attach(ctx); err != nil {
		return err
	}

	// The host created the lobby over REST and is already a member.
	r.markJoined(true)
	time.AfterFunc(time.Second, r.agentA.RequestState)

	r.joinAgentB(ctx)

	finished := 0
	for finished < 2 {
		select {
		case winner := <-r.gameOver:
			finished++
			if finished == 2 {
				r.log.WithField("winner", winner).Info("both agents reached game over")
			}
		case <-ctx.Done():
			r.log.Warn("session cancelled before game over")
			r.finalize()
			return ctx.Err()
		}
	}

	r.finalize()
	return nil
}

// joinAgentB publishes B's join immediately and retries on a fixed
// schedule until confirmed.
func (r *Runner) joinAgentB(ctx context.Context) {
	r.agentB.PublishJoin(r.cfg.LobbyCode)
	for _, d := range joinRetryDelays {
		delay := d
		time.AfterFunc(delay, func() {
			if ctx.Err() != nil {
				return
			}
			r.mu.Lock()
			joined := r.bJoined
			r.mu.Unlock()
			if joined {
				return
			}
			r.log.WithField("after", delay).Info("retrying lobby join for agent B")
			r.agentB.PublishJoin(r.cfg.LobbyCode)
		})
	}
}

// markJoined records a join confirmation and, once both agents are in,
// schedules the game start exactly once.
func (r *Runner) markJoined(isA bool) {
	r.mu.Lock()
	if isA {
		r.aJoined = true
	} else {
		r.bJoined = true
	}
	ready := r.aJoined && r.bJoined && !r.startAttempted
	if ready {
		r.startAttempted = true
	}
	r.mu.Unlock()

	if !ready {
		return
	}
	r.log.Info("both agents joined, starting game")
	time.AfterFunc(startSettleDelay, r.startGame)
}

// startGame publishes the host's start command and arms the staggered
// state re-requests that cover a lost start broadcast.
func (r *Runner) startGame() {
	r.agentA.PublishStartGame()
	for _, d := range postStartStateDelays {
		time.AfterFunc(d, r.agentA.RequestState)
		time.AfterFunc(d, r.agentB.RequestState)
	}
}

// finalize writes the session summary from the host's mirror.
func (r *Runner) finalize() {
	winners, gameWinner, rounds := r.agentA.Snapshot()
	r.cfg.Recorder.Finalize(winners, gameWinner, rounds)
}
