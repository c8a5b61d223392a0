// Package lobby creates the shared game lobby over the REST channel.
package lobby

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/sirupsen/logrus"
)

// CreateRequest is the lobby creation payload.
type CreateRequest struct {
	MaxPlayers     int  `json:"maxPlayers"`
	PlayersPerTeam int  `json:"playersPerTeam"`
	Private        bool `json:"private"`
}

// Lobby identifies a created lobby: the id used on every pub/sub
// destination and the human-shareable join code.
type Lobby struct {
	LobbyID string `json:"lobbyId"`
	Code    string `json:"code"`
}

// Client creates lobbies against the REST base URL.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Log     *logrus.Entry
}

// Create POSTs /lobbies with the host credential. A failed attempt is
// retried exactly once with the alternate auth header form (raw token,
// no Bearer prefix); a second failure is fatal to the run.
func (c *Client) Create(ctx context.Context, token string, req CreateRequest) (Lobby, error) {
	lob, err := c.create(ctx, "Bearer "+token, req)
	if err == nil {
		return lob, nil
	}
	c.Log.WithError(err).Warn("lobby creation failed, retrying with alternate auth header")

	lob, retryErr := c.create(ctx, token, req)
	if retryErr != nil {
		return Lobby{}, fmt.Errorf("lobby: creation failed after retry: %w (first attempt: %v)", retryErr, err)
	}
	return lob, nil
}

func (c *Client) create(ctx context.Context, authHeader string, req CreateRequest) (Lobby, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Lobby{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/lobbies", bytes.NewReader(body))
	if err != nil {
		return Lobby{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", authHeader)

	resp, err := c.HTTP.Do(httpReq)
	if err != nil {
		return Lobby{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return Lobby{}, fmt.Errorf("lobby: server returned %d: %s", resp.StatusCode, data)
	}

	var lob Lobby
	if err := json.NewDecoder(resp.Body).Decode(&lob); err != nil {
		return Lobby{}, fmt.Errorf("lobby: decoding response: %w", err)
	}
	if lob.LobbyID == "" {
		return Lobby{}, fmt.Errorf("lobby: response missing lobbyId")
	}
	return lob, nil
}
