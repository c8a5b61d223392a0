package game

import (
	"context"
	"encoding/json"
	"math/rand"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/SoPra-FS25-Group-15/sopra-fs25-group-15-client/internal/history"
	"github.com/SoPra-FS25-Group-15/sopra-fs25-group-15-client/internal/transport"
)

// AgentConfig wires one agent to its credential, transport session and
// collaborators.
type AgentConfig struct {
	Name          string // "A" or "B", used in logs and history records
	Token         string // bearer credential
	OpponentToken string
	LobbyID       string

	// TimerOwner marks the single agent (the lobby host) that drives
	// the shared countdown and phase-deadline timers.
	TimerOwner bool

	Session  transport.Session
	Recorder *history.Recorder
	Log      *logrus.Entry
	Timings  Timings
	Rand     *rand.Rand
}

// Agent is one autonomous player. It is a single-goroutine actor:
// inbound messages and timer callbacks are posted onto its run queue
// and executed one at a time, so no handler ever races with another.
// All unexported methods below assume they run on that queue.
type Agent struct {
	name       string
	token      string
	oppToken   string
	timerOwner bool
	dest       Destinations

	session  transport.Session
	recorder *history.Recorder
	log      *logrus.Entry
	timings  Timings
	policy   *Policy

	mirror *Mirror
	locks  *LockSet
	timers *Scheduler

	// Per-round tracking flags.
	actionCardAttempted bool
	guessSubmitted      bool

	// Guess countdown, driven only by the timer owner.
	countdownRemaining int
	countdownActive    bool

	finished bool

	inbox chan func()
	done  chan struct{}

	// EnsurePeerGuessFn nudges the other agent to submit its guess
	// when the shared countdown or phase deadline fires. Runs on the
	// peer's run queue, never on this agent's.
	EnsurePeerGuessFn func()

	// OnSelfJoined fires when this agent's lobby join is confirmed.
	OnSelfJoined func()
	// OnUserJoined fires for lobby membership broadcasts.
	OnUserJoined func(username string)
	// OnJoinError fires when the lobby join is rejected.
	OnJoinError func()
	// OnGameOver fires once when the terminal screen is reached.
	OnGameOver func(winner string)
}

// NewAgent builds an agent. Call Start before delivering anything.
func NewAgent(cfg AgentConfig) *Agent {
	if cfg.Rand == nil {
		cfg.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	a := &Agent{
		name:       cfg.Name,
		token:      cfg.Token,
		oppToken:   cfg.OpponentToken,
		timerOwner: cfg.TimerOwner,
		dest:       Destinations{LobbyID: cfg.LobbyID},
		session:    cfg.Session,
		recorder:   cfg.Recorder,
		log:        cfg.Log,
		timings:    cfg.Timings,
		policy:     NewPolicy(cfg.Rand),
		mirror:     NewMirror(),
		inbox:      make(chan func(), 256),
		done:       make(chan struct{}),
	}
	a.locks = NewLockSet(cfg.Timings, a.post, cfg.Log)
	a.timers = NewScheduler(a.post)
	return a
}

// Start launches the run queue. It returns immediately; the agent
// stops when ctx is cancelled.
func (a *Agent) Start(ctx context.Context) {
	go func() {
		defer close(a.done)
		for {
			select {
			case fn := <-a.inbox:
				fn()
			case <-ctx.Done():
				a.timers.CancelAll()
				return
			}
		}
	}()
}

// post enqueues fn on the run queue. Safe from any goroutine; a no-op
// once the agent has stopped.
func (a *Agent) post(fn func()) {
	select {
	case a.inbox <- fn:
	case <-a.done:
	}
}

// do runs fn on the run queue and waits for it. Used by the runner
// (and tests) to read agent state without racing the actor.
func (a *Agent) do(fn func()) {
	ran := make(chan struct{})
	a.post(func() {
		fn()
		close(ran)
	})
	select {
	case <-ran:
	case <-a.done:
	}
}

// Attach subscribes the agent to its five inbound channels. Handlers
// only enqueue work; everything runs on the run queue.
func (a *Agent) Attach(ctx context.Context) error {
	subs := []struct {
		destination string
		handler     func([]byte)
	}{
		{a.dest.GameTopic(), a.handleGameFrame},
		{a.dest.StateQueue(), a.handleStateFrame},
		{a.dest.ActionCardQueue(), a.handleActionCardFrame},
		{a.dest.UsersTopic(), a.handleUsersFrame},
		{a.dest.JoinResultQueue(), a.handleJoinResultFrame},
	}
	for _, s := range subs {
		if err := a.session.Subscribe(ctx, s.destination, s.handler); err != nil {
			return err
		}
	}
	return nil
}

// --- inbound frame entry points (transport goroutines) ---

func (a *Agent) handleGameFrame(body []byte) {
	env, ok := a.decode(body)
	if !ok {
		return
	}
	a.post(func() { a.applyGameEvent(env) })
}

func (a *Agent) handleStateFrame(body []byte) {
	env, ok := a.decode(body)
	if !ok {
		return
	}
	if env.Type != EventGameState {
		return
	}
	var snap StateSnapshot
	if err := json.Unmarshal(env.Payload, &snap); err != nil {
		a.log.WithError(err).Warn("dropping malformed state snapshot")
		return
	}
	a.recorder.RecordState(a.name, env.Payload)
	a.post(func() { a.applySnapshot(snap) })
}

func (a *Agent) handleActionCardFrame(body []byte) {
	env, ok := a.decode(body)
	if !ok {
		return
	}
	if env.Type != EventActionCardAssigned && env.Type != EventActionCardReplacement {
		return
	}
	var grant ActionCardGrantPayload
	if err := json.Unmarshal(env.Payload, &grant); err != nil || grant.ID == "" {
		return
	}
	a.recorder.RecordEvent(a.name, string(env.Type), grant)
	a.post(func() {
		a.mirror.ActionCards = []string{grant.ID}
		a.log.WithField("card", grant.ID).Info("received action card")
	})
}

func (a *Agent) handleUsersFrame(body []byte) {
	env, ok := a.decode(body)
	if !ok {
		return
	}
	var user UserPayload
	if err := json.Unmarshal(env.Payload, &user); err != nil {
		return
	}
	a.recorder.RecordEvent(a.name, string(env.Type), user)
	if env.Type == EventUserJoined && a.OnUserJoined != nil {
		a.OnUserJoined(user.Username)
	}
}

func (a *Agent) handleJoinResultFrame(body []byte) {
	env, ok := a.decode(body)
	if !ok {
		return
	}
	a.recorder.RecordEvent(a.name, string(env.Type), json.RawMessage(env.Payload))
	switch env.Type {
	case EventJoinSuccess:
		a.log.Info("lobby join confirmed")
		if a.OnSelfJoined != nil {
			a.OnSelfJoined()
		}
	case EventJoinError:
		a.log.WithField("payload", string(env.Payload)).Warn("lobby join rejected")
		if a.OnJoinError != nil {
			a.OnJoinError()
		}
	}
}

// decode parses an envelope; malformed frames are logged and dropped
// so a bad message never takes the agent down.
func (a *Agent) decode(body []byte) (Envelope, bool) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		a.log.WithError(err).Warn("dropping malformed frame")
		return Envelope{}, false
	}
	if env.Type == "" {
		a.log.Warn("dropping frame without type")
		return Envelope{}, false
	}
	return env, true
}

// --- event reconciliation (run queue) ---

// applyGameEvent dispatches a broadcast event through the transition
// table.
func (a *Agent) applyGameEvent(env Envelope) {
	a.recorder.RecordEvent(a.name, string(env.Type), json.RawMessage(env.Payload))

	switch env.Type {
	case EventGameStart:
		a.onGameStart()
	case EventScreenChange:
		var p ScreenChangePayload
		if a.unmarshalPayload(env, &p) {
			a.onScreenChange(p)
		}
	case EventRoundStart:
		var p RoundStartPayload
		if a.unmarshalPayload(env, &p) {
			a.onRoundStart(p)
		}
	case EventRoundCardSelected:
		var p RoundCardSelectedPayload
		if a.unmarshalPayload(env, &p) {
			a.onRoundCardSelected(p)
		}
	case EventActionCardPhaseStart:
		var p ActionCardPhaseStartPayload
		if a.unmarshalPayload(env, &p) {
			a.onActionCardPhaseStart(p)
		}
	case EventActionCardPlayed:
		var p ActionCardPlayedPayload
		if a.unmarshalPayload(env, &p) {
			a.mirror.ActionCardsPlayed[p.PlayerToken] = p.CardID
		}
	case EventActionCardSkipped:
		// Audit only; no mirror mutation.
	case EventRoundWinner:
		var p RoundWinnerPayload
		if a.unmarshalPayload(env, &p) {
			a.onRoundWinner(p)
		}
	case EventGameWinner:
		var p GameWinnerPayload
		if a.unmarshalPayload(env, &p) {
			a.onGameWinner(p)
		}
	case EventError:
		a.onServerError(env.Payload)
	default:
		a.log.WithField("type", env.Type).Debug("unhandled event type")
	}
}

func (a *Agent) unmarshalPayload(env Envelope, v interface{}) bool {
	if err := json.Unmarshal(env.Payload, v); err != nil {
		a.log.WithError(err).WithField("type", env.Type).Warn("dropping event with malformed payload")
		return false
	}
	return true
}

// transitionScreen moves the mirror to a new screen. Every live timer
// is cancelled before the new screen's entry actions run, so a stale
// timer can never fire into a phase it no longer applies to. Returns
// false when the screen is unchanged.
func (a *Agent) transitionScreen(next Screen) bool {
	if next == ScreenNone || next == a.mirror.CurrentScreen {
		return false
	}
	prev := a.mirror.CurrentScreen
	a.timers.CancelAll()
	a.countdownActive = false
	a.mirror.CurrentScreen = next
	a.log.WithFields(logrus.Fields{"from": prev, "to": next}).Info("screen transition")
	return true
}

func (a *Agent) onGameStart() {
	a.timers.CancelAll()
	a.locks.ReleaseAll()
	a.resetActionCardTracking()
	a.resetGuessTracking()
	a.countdownActive = false
	a.mirror.ResetRoundTracking()
	a.mirror.CurrentScreen = ScreenRoundCard
	a.mirror.CurrentRound = 1
	a.log.Info("game started")
}

func (a *Agent) onScreenChange(p ScreenChangePayload) {
	if p.Screen == ScreenNone {
		return
	}
	// An authoritative screen announcement clears every pending timer,
	// even when it repeats the current screen; armCurrentScreen then
	// restores whatever the screen needs.
	if !a.transitionScreen(p.Screen) {
		a.timers.CancelAll()
		a.countdownActive = false
	}

	switch {
	case p.Screen == ScreenActionCard && p.RoundCardComplete:
		a.resetActionCardTracking()
	case p.Screen == ScreenGuess && p.ActionCardsComplete:
		a.resetGuessTracking()
		// The snapshot carries the round timing; fetch it.
		if a.timerOwner {
			a.timers.After(TimerKey{ScreenGuess, "state-refresh"}, a.timings.ExpireSettleDelay, a.requestState)
		}
	}

	a.armCurrentScreen()
}

func (a *Agent) onRoundStart(p RoundStartPayload) {
	a.transitionScreen(ScreenGuess)
	a.resetGuessTracking()

	if rd := p.RoundData; rd != nil {
		if rd.Round > 0 {
			a.mirror.CurrentRound = rd.Round
		}
		limit := rd.RoundTime
		if limit <= 0 {
			limit = defaultGuessTimeSeconds
		}
		a.mirror.TimeLimitSeconds = limit
		a.mirror.TargetLocation = &LatLon{Lat: rd.Latitude, Lon: rd.Longitude}
		a.log.WithFields(logrus.Fields{
			"round": rd.Round, "lat": rd.Latitude, "lon": rd.Longitude, "time": limit,
		}).Info("round started")
	}

	limit := a.mirror.TimeLimitSeconds
	if limit <= 0 {
		limit = defaultGuessTimeSeconds
	}
	if p.StartGuessTimer && a.timerOwner {
		a.startGuessCountdown(limit)
		a.scheduleGuessPhaseDeadline(limit)
	}
	a.scheduleAutoGuess()
}

func (a *Agent) onRoundCardSelected(p RoundCardSelectedPayload) {
	if p.RoundCard.ID != "" {
		a.mirror.RoundCardInPlay = p.RoundCard.ID
	}
	if p.Username != "" {
		a.mirror.RoundCardSubmitter = p.Username
	}
	// The selection is server-acknowledged, whichever agent made it.
	a.locks.Release(LockRoundCardSelect)
}

func (a *Agent) onActionCardPhaseStart(p ActionCardPhaseStartPayload) {
	a.transitionScreen(ScreenActionCard)
	a.resetActionCardTracking()
	if p.Coordinates != nil {
		a.mirror.TargetLocation = p.Coordinates
	}

	delay := a.timings.ActionCardMinDelay + a.jitter(a.timings.ActionCardJitter)
	a.timers.After(TimerKey{ScreenActionCard, "auto-play"}, delay, a.playActionCard)

	if a.timerOwner {
		a.scheduleActionPhaseDeadline(p.TimeLimit)
	}
}

func (a *Agent) onRoundWinner(p RoundWinnerPayload) {
	a.mirror.RoundWinners = append(a.mirror.RoundWinners, RoundResult{
		Username: p.Winner(),
		Distance: p.Distance,
	})
	a.log.WithFields(logrus.Fields{
		"winner": p.Winner(), "round": p.Round, "distance": p.Distance,
	}).Info("round winner")

	a.transitionScreen(ScreenReveal)
	a.resetActionCardTracking()
	a.resetGuessTracking()
	a.locks.ReleaseAll()
	a.mirror.ResetRoundTracking()

	// Ask for the next round's setup shortly after the reveal.
	a.timers.After(TimerKey{ScreenReveal, "state-refresh"}, a.timings.RevealStateRequestDelay, a.requestState)
}

func (a *Agent) onGameWinner(p GameWinnerPayload) {
	a.mirror.GameWinner = p.Username
	a.transitionScreen(ScreenGameOver)
	a.log.WithField("winner", p.Username).Info("game over")
	a.finishGame()
}

// onServerError classifies an ERROR event by its payload text. A
// duplicate-play rejection is treated as success so the agent does not
// retry forever; a round card problem releases the selection lock and
// refreshes state.
func (a *Agent) onServerError(payload json.RawMessage) {
	text := errorText(payload)
	switch {
	case isAlreadyPlayedError(text):
		a.actionCardAttempted = true
		a.locks.Release(LockActionCardPlay)
		a.log.Warn("server rejected action card as already played")
	case isRoundCardError(text):
		a.locks.Release(LockRoundCardSelect)
		a.requestState()
		a.log.WithField("error", text).Warn("round card problem, refreshing state")
	default:
		a.log.WithField("error", text).Warn("server error")
	}
}

// applySnapshot reconciles a full state snapshot into the mirror. A
// snapshot carrying a different screen is treated exactly like a
// SCREEN_CHANGE before any other field is applied.
func (a *Agent) applySnapshot(s StateSnapshot) {
	if s.CurrentScreen != ScreenNone && s.CurrentScreen != a.mirror.CurrentScreen {
		a.transitionScreen(s.CurrentScreen)
		if s.CurrentScreen == ScreenGuess {
			a.resetGuessTracking()
		}
	}

	if s.CurrentRound > 0 {
		a.mirror.CurrentRound = s.CurrentRound
	}
	a.mirror.ActivePlayerToken = s.CurrentTurnPlayerToken
	if s.ActiveRoundCard != "" {
		a.mirror.RoundCardInPlay = s.ActiveRoundCard
	}
	if s.RoundCardSubmitter != "" {
		a.mirror.RoundCardSubmitter = s.RoundCardSubmitter
	}
	if attrs := s.GuessScreenAttributes; attrs != nil {
		if attrs.Time > 0 {
			a.mirror.TimeLimitSeconds = attrs.Time
		}
		if attrs.GuessLocation != nil {
			a.mirror.TargetLocation = attrs.GuessLocation
		}
		if len(attrs.ResolveResponse) > 0 {
			a.mirror.LastResolve = attrs.ResolveResponse
		}
	}
	if inv := s.Inventory; inv != nil {
		a.mirror.RoundCards = inv.RoundCards
		a.mirror.ActionCards = inv.ActionCards
	}

	if a.mirror.CurrentScreen == ScreenReveal {
		a.resetActionCardTracking()
		a.resetGuessTracking()
	}
	a.armCurrentScreen()
}

// armCurrentScreen arms the timers and automatic actions the current
// screen needs. Locks, tracking flags and key-replacing timers make
// repeated invocation safe: an event handler and a snapshot handler in
// the same tick produce at most one command.
func (a *Agent) armCurrentScreen() {
	switch a.mirror.CurrentScreen {
	case ScreenRoundCard:
		myTurn := a.mirror.ActivePlayerToken == a.token
		if myTurn && len(a.mirror.RoundCards) > 0 && !a.locks.Held(LockRoundCardSelect) {
			a.log.Info("my turn to select a round card")
			a.timers.After(TimerKey{ScreenRoundCard, "auto-select"}, a.timings.RoundCardSelectDelay, a.selectRoundCard)
		}

	case ScreenActionCard:
		if !a.actionCardAttempted && !a.locks.Held(LockActionCardPlay) {
			a.timers.After(TimerKey{ScreenActionCard, "auto-play"}, a.timings.ActionCardMinDelay, a.playActionCard)
		}
		if a.timerOwner && !a.timers.Active(TimerKey{ScreenActionCard, "phase-deadline"}) {
			a.scheduleActionPhaseDeadline(0)
		}

	case ScreenGuess:
		limit := a.mirror.TimeLimitSeconds
		if limit <= 0 {
			limit = defaultGuessTimeSeconds
		}
		if a.timerOwner && !a.countdownActive {
			a.startGuessCountdown(limit)
			a.scheduleGuessPhaseDeadline(limit)
		}
		a.scheduleAutoGuess()

	case ScreenReveal:
		if !a.timers.Active(TimerKey{ScreenReveal, "state-refresh"}) {
			a.timers.After(TimerKey{ScreenReveal, "state-refresh"}, a.timings.RevealStateRequestDelay, a.requestState)
		}

	case ScreenGameOver:
		a.finishGame()
	}
}

// --- automatic actions (run queue) ---

// selectRoundCard submits this agent's round card choice, guarded by
// the selection lock.
func (a *Agent) selectRoundCard() {
	if a.mirror.CurrentScreen != ScreenRoundCard {
		return
	}
	cardID, ok := a.policy.ChooseRoundCard(a.mirror.RoundCards)
	if !ok {
		a.log.Warn("no round cards available to play")
		return
	}
	if !a.locks.TryAcquire(LockRoundCardSelect) {
		return
	}
	a.log.WithField("card", cardID).Info("selecting round card")
	a.recorder.RecordEvent(a.name, "SELECTING_ROUND_CARD", SelectRoundCardCommand{RoundCardID: cardID})
	a.publish(a.dest.SelectRoundCard(), SelectRoundCardCommand{RoundCardID: cardID})
}

// playActionCard plays the held action card once per round.
func (a *Agent) playActionCard() {
	if a.actionCardAttempted {
		return
	}
	if !a.locks.TryAcquire(LockActionCardPlay) {
		return
	}
	a.actionCardAttempted = true

	cmd, ok := a.policy.ChooseActionCard(a.mirror.ActionCards, a.oppToken)
	if !ok {
		a.log.Warn("no action card held, skipping")
		a.locks.Release(LockActionCardPlay)
		return
	}
	a.log.WithFields(logrus.Fields{
		"card": cmd.ActionCardID, "target": cmd.TargetPlayerToken,
	}).Info("playing action card")
	a.recorder.RecordEvent(a.name, "PLAYING_ACTION_CARD", cmd)
	a.publish(a.dest.PlayActionCard(), cmd)
}

// submitAutomaticGuess publishes this round's single guess.
func (a *Agent) submitAutomaticGuess() {
	if a.guessSubmitted {
		return
	}
	if a.mirror.TargetLocation == nil {
		a.log.Error("cannot submit guess, no target location known")
		return
	}
	if !a.locks.TryAcquire(LockGuessSubmit) {
		return
	}
	a.guessSubmitted = true

	cmd := GuessCommand{Guess: a.policy.GenerateGuess(*a.mirror.TargetLocation)}
	a.log.WithFields(logrus.Fields{"lat": cmd.Guess.Lat, "lon": cmd.Guess.Lon}).Info("submitting guess")
	a.recorder.RecordEvent(a.name, "SUBMITTING_GUESS", cmd)
	a.publish(a.dest.Guess(), cmd)
}

// ensureGuessSubmitted force-submits if no guess went out yet.
func (a *Agent) ensureGuessSubmitted() {
	if a.guessSubmitted {
		return
	}
	a.log.Info("no guess submitted yet, forcing automatic guess")
	a.submitAutomaticGuess()
}

// scheduleAutoGuess arms the randomized-delay guess timer unless a
// guess already went out this round.
func (a *Agent) scheduleAutoGuess() {
	if a.guessSubmitted {
		return
	}
	delay := a.timings.AutoGuessMinDelay + a.jitter(a.timings.AutoGuessJitter)
	a.timers.After(TimerKey{ScreenGuess, "auto-guess"}, delay, a.submitAutomaticGuess)
}

func (a *Agent) resetActionCardTracking() {
	a.actionCardAttempted = false
}

func (a *Agent) resetGuessTracking() {
	a.guessSubmitted = false
	a.timers.Cancel(TimerKey{ScreenGuess, "auto-guess"})
}

func (a *Agent) finishGame() {
	if a.finished {
		return
	}
	a.finished = true
	a.timers.CancelAll()
	a.countdownActive = false
	if a.OnGameOver != nil {
		a.OnGameOver(a.mirror.GameWinner)
	}
}

func (a *Agent) jitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(a.policy.rng.Int63n(int64(max)))
}

// --- outbound (safe from any goroutine) ---

// publish marshals and sends a command. Transport faults are logged;
// in-flight locks self-release on their deadlines.
func (a *Agent) publish(destination string, body interface{}) {
	var data []byte
	if body != nil {
		var err error
		data, err = json.Marshal(body)
		if err != nil {
			a.log.WithError(err).Error("marshalling outbound command")
			return
		}
	}
	if err := a.session.Publish(destination, data); err != nil {
		a.log.WithError(err).WithField("destination", destination).Error("publish failed")
	}
}

// requestState asks the server for a fresh full snapshot.
func (a *Agent) requestState() {
	a.publish(a.dest.StateRequest(), nil)
}

// RequestState enqueues a state request from outside the run queue.
func (a *Agent) RequestState() {
	a.post(a.requestState)
}

// PublishJoin sends the lobby join command for this agent.
func (a *Agent) PublishJoin(code string) {
	a.publish(a.dest.Join(code), nil)
}

// PublishStartGame sends the game start command (host only).
func (a *Agent) PublishStartGame() {
	a.publish(a.dest.StartGame(), nil)
}

// EnsureGuess enqueues a forced guess submission. Used by the peer's
// shared countdown.
func (a *Agent) EnsureGuess() {
	a.post(a.ensureGuessSubmitted)
}

// Snapshot copies the fields the runner needs for the final summary.
func (a *Agent) Snapshot() (winners []string, gameWinner string, rounds int) {
	a.do(func() {
		winners = a.mirror.WinnerNames()
		gameWinner = a.mirror.GameWinner
		rounds = len(a.mirror.RoundWinners)
	})
	return winners, gameWinner, rounds
}
