package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"pickup-chat/internal/models"
)

// Client is the backend REST client: auth, games, friends, profile and
// the message history endpoint that seeds chat sessions.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// New creates a new API client. token may be empty for the auth endpoints.
func New(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// SetToken installs the bearer token after a login or register.
func (c *Client) SetToken(token string) {
	c.token = token
}

// AuthResponse is the payload of a successful login or register.
type AuthResponse struct {
	Token string      `json:"token"`
	User  models.User `json:"user"`
}

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Register creates an account and returns the issued token.
func (c *Client) Register(ctx context.Context, username, password string) (*AuthResponse, error) {
	var resp AuthResponse
	if err := c.post(ctx, "/auth/register", credentialsRequest{Username: username, Password: password}, &resp); err != nil {
		return nil, fmt.Errorf("api.Register: %w", err)
	}
	return &resp, nil
}

// Login authenticates and returns the issued token.
func (c *Client) Login(ctx context.Context, username, password string) (*AuthResponse, error) {
	var resp AuthResponse
	if err := c.post(ctx, "/auth/login", credentialsRequest{Username: username, Password: password}, &resp); err != nil {
		return nil, fmt.Errorf("api.Login: %w", err)
	}
	return &resp, nil
}

// GetUser fetches a user by ID.
func (c *Client) GetUser(ctx context.Context, id string) (*models.User, error) {
	var u models.User
	if err := c.get(ctx, "/auth/user/"+url.PathEscape(id), &u); err != nil {
		return nil, fmt.Errorf("api.GetUser: %w", err)
	}
	return &u, nil
}

// GetMessages returns the persisted message log for a game. The backend
// answers either a bare array or {"messages":[...]}; both are accepted.
func (c *Client) GetMessages(ctx context.Context, gameID string) ([]models.Message, error) {
	var raw json.RawMessage
	if err := c.get(ctx, "/message/"+url.PathEscape(gameID), &raw); err != nil {
		return nil, fmt.Errorf("api.GetMessages: %w", err)
	}

	var msgs []models.Message
	if err := json.Unmarshal(raw, &msgs); err == nil {
		return msgs, nil
	}
	var wrapped struct {
		Messages []models.Message `json:"messages"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, fmt.Errorf("api.GetMessages: decode response: %w", err)
	}
	return wrapped.Messages, nil
}

// PostMessage persists (and server-side broadcasts) a message. Used when
// the realtime channel round-trips through the backend.
func (c *Client) PostMessage(ctx context.Context, gameID, userID, body string, kind models.MessageKind) error {
	payload := map[string]any{
		"gameId":      gameID,
		"userId":      userID,
		"message":     body,
		"messageType": kind,
	}
	if err := c.post(ctx, "/message", payload, nil); err != nil {
		return fmt.Errorf("api.PostMessage: %w", err)
	}
	return nil
}

// CreateGameRequest is the payload for creating a game.
type CreateGameRequest struct {
	Name        string    `json:"name"`
	Date        time.Time `json:"date"`
	Location    string    `json:"location"`
	FsqID       string    `json:"fsq_id"`
	Sport       string    `json:"sport"`
	Leader      string    `json:"leader"`
	Description string    `json:"description,omitempty"`
}

// CreateGame schedules a new pickup game.
func (c *Client) CreateGame(ctx context.Context, req CreateGameRequest) (*models.Game, error) {
	var g models.Game
	if err := c.post(ctx, "/game", req, &g); err != nil {
		return nil, fmt.Errorf("api.CreateGame: %w", err)
	}
	return &g, nil
}

// GetGame fetches a single game by ID.
func (c *Client) GetGame(ctx context.Context, id string) (*models.Game, error) {
	var g models.Game
	if err := c.get(ctx, "/game/id/"+url.PathEscape(id), &g); err != nil {
		return nil, fmt.Errorf("api.GetGame: %w", err)
	}
	return &g, nil
}

// DeleteGame removes a game.
func (c *Client) DeleteGame(ctx context.Context, id string) error {
	if err := c.doRequest(ctx, http.MethodDelete, "/game/"+url.PathEscape(id), nil, nil); err != nil {
		return fmt.Errorf("api.DeleteGame: %w", err)
	}
	return nil
}

// GamesForLocation lists games at a venue by Foursquare place ID.
func (c *Client) GamesForLocation(ctx context.Context, fsqID string) ([]models.Game, error) {
	var games []models.Game
	if err := c.get(ctx, "/game/location/"+url.PathEscape(fsqID), &games); err != nil {
		return nil, fmt.Errorf("api.GamesForLocation: %w", err)
	}
	return games, nil
}

// GamesLedBy lists the games a user leads.
func (c *Client) GamesLedBy(ctx context.Context, userID string) ([]models.Game, error) {
	var games []models.Game
	if err := c.get(ctx, "/game/user/lead/"+url.PathEscape(userID), &games); err != nil {
		return nil, fmt.Errorf("api.GamesLedBy: %w", err)
	}
	return games, nil
}

// GamesMemberOf lists the games a user has joined.
func (c *Client) GamesMemberOf(ctx context.Context, userID string) ([]models.Game, error) {
	var games []models.Game
	if err := c.get(ctx, "/game/user/member/"+url.PathEscape(userID), &games); err != nil {
		return nil, fmt.Errorf("api.GamesMemberOf: %w", err)
	}
	return games, nil
}

// AddGameMember joins a user to a game.
func (c *Client) AddGameMember(ctx context.Context, gameID, userID string) error {
	payload := map[string]string{"gameid": gameID, "gameMember": userID}
	if err := c.doRequest(ctx, http.MethodPatch, "/game/member", payload, nil); err != nil {
		return fmt.Errorf("api.AddGameMember: %w", err)
	}
	return nil
}

// RemoveGameMember removes a user from a game.
func (c *Client) RemoveGameMember(ctx context.Context, gameID, userID string) error {
	payload := map[string]string{"gameid": gameID, "gameMember": userID}
	if err := c.doRequest(ctx, http.MethodPatch, "/game/removeMember", payload, nil); err != nil {
		return fmt.Errorf("api.RemoveGameMember: %w", err)
	}
	return nil
}

// UpdateProfile sets a user's profile description.
func (c *Client) UpdateProfile(ctx context.Context, userID, description string) error {
	payload := map[string]string{"userid": userID, "description": description}
	if err := c.doRequest(ctx, http.MethodPatch, "/profile/updateProfile", payload, nil); err != nil {
		return fmt.Errorf("api.UpdateProfile: %w", err)
	}
	return nil
}

// AddFriend adds friendid to userid's friend list.
func (c *Client) AddFriend(ctx context.Context, userID, friendID string) error {
	payload := map[string]string{"userid": userID, "friendid": friendID}
	if err := c.doRequest(ctx, http.MethodPatch, "/friend/add", payload, nil); err != nil {
		return fmt.Errorf("api.AddFriend: %w", err)
	}
	return nil
}

// RemoveFriend removes friendid from userid's friend list.
func (c *Client) RemoveFriend(ctx context.Context, userID, friendID string) error {
	payload := map[string]string{"userid": userID, "friendid": friendID}
	if err := c.doRequest(ctx, http.MethodPatch, "/friend/remove", payload, nil); err != nil {
		return fmt.Errorf("api.RemoveFriend: %w", err)
	}
	return nil
}

// GetFriends lists a user's friends.
func (c *Client) GetFriends(ctx context.Context, userID string) ([]models.User, error) {
	var friends []models.User
	if err := c.get(ctx, "/friend/"+url.PathEscape(userID), &friends); err != nil {
		return nil, fmt.Errorf("api.GetFriends: %w", err)
	}
	return friends, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	return c.doRequest(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	return c.doRequest(ctx, http.MethodPost, path, body, out)
}

func (c *Client) doRequest(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := readErrorMessage(resp.Body)
		return &HTTPError{StatusCode: resp.StatusCode, Message: msg}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func readErrorMessage(r io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil {
		return "unreadable error body"
	}
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &payload); err == nil && payload.Error != "" {
		return payload.Error
	}
	return string(bytes.TrimSpace(raw))
}
