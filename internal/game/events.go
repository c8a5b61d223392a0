// Package game implements the client-side game loop: the per-agent
// state mirror, the event reconciler, command locks, timers and the
// automatic action policy that plays the game without human input.
package game

import (
	"encoding/json"
	"fmt"
	"strings"
)

// EventType identifies an inbound game event on the broadcast topic.
type EventType string

const (
	EventGameStart            EventType = "GAME_START"
	EventScreenChange         EventType = "SCREEN_CHANGE"
	EventRoundStart           EventType = "ROUND_START"
	EventRoundCardSelected    EventType = "ROUND_CARD_SELECTED"
	EventActionCardPhaseStart EventType = "ACTION_CARD_PHASE_START"
	EventActionCardPlayed     EventType = "ACTION_CARD_PLAYED"
	EventActionCardSkipped    EventType = "ACTION_CARD_SKIPPED"
	EventRoundWinner          EventType = "ROUND_WINNER"
	EventGameWinner           EventType = "GAME_WINNER"
	EventError                EventType = "ERROR"

	EventGameState             EventType = "GAME_STATE"
	EventActionCardAssigned    EventType = "ACTION_CARD_ASSIGNED"
	EventActionCardReplacement EventType = "ACTION_CARD_REPLACEMENT"
	EventUserJoined            EventType = "USER_JOINED"
	EventUserLeft              EventType = "USER_LEFT"
	EventJoinSuccess           EventType = "JOIN_SUCCESS"
	EventJoinError             EventType = "JOIN_ERROR"
)

// Envelope is the wire frame on every pub/sub channel.
type Envelope struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// LatLon is a geographic coordinate.
type LatLon struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// ScreenChangePayload carries an authoritative screen override. The
// completion flags tell the client which phase just finished.
type ScreenChangePayload struct {
	Screen              Screen `json:"screen"`
	RoundCardComplete   bool   `json:"roundCardComplete,omitempty"`
	ActionCardsComplete bool   `json:"actionCardsComplete,omitempty"`
}

// RoundData describes the new round inside a ROUND_START payload.
type RoundData struct {
	Round     int     `json:"round"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	RoundTime int     `json:"roundTime"`
}

// RoundStartPayload starts the guessing phase. The countdown begins
// only when StartGuessTimer is set.
type RoundStartPayload struct {
	RoundData         *RoundData `json:"roundData,omitempty"`
	StartGuessTimer   bool       `json:"startGuessTimer,omitempty"`
	ActiveActionCards []string   `json:"activeActionCards,omitempty"`
}

// RoundCard identifies a round card on the wire.
type RoundCard struct {
	ID string `json:"id"`
}

// RoundCardSelectedPayload acknowledges a round card selection.
type RoundCardSelectedPayload struct {
	RoundCard RoundCard `json:"roundCard"`
	Username  string    `json:"username,omitempty"`
}

// ActionCardPhaseStartPayload opens the action card phase.
type ActionCardPhaseStartPayload struct {
	TimeLimit   int     `json:"timeLimit"`
	Coordinates *LatLon `json:"coordinates,omitempty"`
}

// ActionCardPlayedPayload reports another player's action card play.
type ActionCardPlayedPayload struct {
	CardID      string `json:"cardId"`
	PlayerToken string `json:"playerToken"`
	Effect      string `json:"effect,omitempty"`
}

// RoundWinnerPayload announces the round result. Older server builds
// use `username`, newer ones `winnerUsername`; accept both.
type RoundWinnerPayload struct {
	WinnerUsername string  `json:"winnerUsername,omitempty"`
	Username       string  `json:"username,omitempty"`
	Round          int     `json:"round,omitempty"`
	Distance       float64 `json:"distance,omitempty"`
}

// Winner returns whichever username field the server populated.
func (p RoundWinnerPayload) Winner() string {
	if p.WinnerUsername != "" {
		return p.WinnerUsername
	}
	return p.Username
}

// GameWinnerPayload announces the overall winner.
type GameWinnerPayload struct {
	Username string `json:"username"`
}

// ActionCardGrantPayload delivers a personal action card.
type ActionCardGrantPayload struct {
	ID string `json:"id"`
}

// UserPayload describes a user joining or leaving the lobby.
type UserPayload struct {
	Username string `json:"username"`
	Token    string `json:"token,omitempty"`
}

// GuessScreenAttributes carries the guessing-phase parameters inside a
// state snapshot.
type GuessScreenAttributes struct {
	Time            int             `json:"time,omitempty"`
	GuessLocation   *LatLon         `json:"guessLocation,omitempty"`
	ResolveResponse json.RawMessage `json:"resolveResponse,omitempty"`
}

// InventoryPayload lists this agent's current cards.
type InventoryPayload struct {
	RoundCards  []string `json:"roundCards,omitempty"`
	ActionCards []string `json:"actionCards,omitempty"`
}

// StateSnapshot is the full per-agent state pushed on the personal
// state queue. Absent fields leave the mirror untouched.
type StateSnapshot struct {
	CurrentRound           int                    `json:"currentRound,omitempty"`
	CurrentScreen          Screen                 `json:"currentScreen,omitempty"`
	CurrentTurnPlayerToken string                 `json:"currentTurnPlayerToken,omitempty"`
	ActiveRoundCard        string                 `json:"activeRoundCard,omitempty"`
	RoundCardSubmitter     string                 `json:"roundCardSubmitter,omitempty"`
	GuessScreenAttributes  *GuessScreenAttributes `json:"guessScreenAttributes,omitempty"`
	Inventory              *InventoryPayload      `json:"inventory,omitempty"`
}

// Outbound command bodies.

// SelectRoundCardCommand picks the round card to play.
type SelectRoundCardCommand struct {
	RoundCardID string `json:"roundCardId"`
}

// PlayActionCardCommand plays an action card, optionally at a target.
type PlayActionCardCommand struct {
	ActionCardID      string `json:"actionCardId"`
	TargetPlayerToken string `json:"targetPlayerToken,omitempty"`
}

// GuessCommand submits a location guess.
type GuessCommand struct {
	Guess LatLon `json:"guess"`
}

// Destinations for a lobby. The server is a Spring STOMP broker:
// broadcasts on /topic, personal queues on /user/queue, commands on
// /app.
type Destinations struct {
	LobbyID string
}

func (d Destinations) GameTopic() string       { return fmt.Sprintf("/topic/lobby/%s/game", d.LobbyID) }
func (d Destinations) UsersTopic() string      { return fmt.Sprintf("/topic/lobby/%s/users", d.LobbyID) }
func (d Destinations) StateQueue() string      { return fmt.Sprintf("/user/queue/lobby/%s/game/state", d.LobbyID) }
func (d Destinations) ActionCardQueue() string { return fmt.Sprintf("/user/queue/lobby/%s/game/action-card", d.LobbyID) }
func (d Destinations) JoinResultQueue() string { return "/user/topic/lobby/join/result" }

func (d Destinations) Join(code string) string { return fmt.Sprintf("/app/lobby/join/%s", code) }
func (d Destinations) StateRequest() string    { return fmt.Sprintf("/app/lobby/%s/game/state", d.LobbyID) }
func (d Destinations) StartGame() string       { return fmt.Sprintf("/app/lobby/%s/game/start", d.LobbyID) }
func (d Destinations) SelectRoundCard() string {
	return fmt.Sprintf("/app/lobby/%s/game/select-round-card", d.LobbyID)
}
func (d Destinations) PlayActionCard() string {
	return fmt.Sprintf("/app/lobby/%s/game/play-action-card", d.LobbyID)
}
func (d Destinations) ActionCardsComplete() string {
	return fmt.Sprintf("/app/lobby/%s/game/action-cards-complete", d.LobbyID)
}
func (d Destinations) RoundTimeExpired() string {
	return fmt.Sprintf("/app/lobby/%s/game/round-time-expired", d.LobbyID)
}
func (d Destinations) Guess() string { return fmt.Sprintf("/app/lobby/%s/game/guess", d.LobbyID) }

// errorText extracts a human-readable message from an ERROR payload,
// which the server sends either as a bare JSON string or an object.
func errorText(payload json.RawMessage) string {
	var s string
	if err := json.Unmarshal(payload, &s); err == nil {
		return s
	}
	var obj map[string]interface{}
	if err := json.Unmarshal(payload, &obj); err == nil {
		if msg, ok := obj["message"].(string); ok {
			return msg
		}
	}
	return string(payload)
}

// Substring classification of server errors. The strings are the
// server's de facto, unversioned contract; keep the checks narrow.
func isAlreadyPlayedError(text string) bool {
	return strings.Contains(text, "already played")
}

func isRoundCardError(text string) bool {
	return strings.Contains(text, "round card") || strings.Contains(text, "not found")
}
