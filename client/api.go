package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mahaj/snappy-realtime/pkg/model"
)

type LoginResponse struct {
	Token string `json:"token"`
}

// StatusError is a non-2xx answer from the API.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("api returned %d: %s", e.Code, strings.TrimSpace(e.Body))
}

// APIClient calls the REST boundary as one user.
type APIClient struct {
	base  string
	token string
	http  *http.Client
}

func NewAPIClient(base string) *APIClient {
	return &APIClient{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *APIClient) Login(ctx context.Context, userID string) (string, error) {
	var resp LoginResponse
	if err := c.call(ctx, http.MethodPost, "/login", map[string]string{"user_id": userID}, &resp); err != nil {
		return "", fmt.Errorf("login failed: %w", err)
	}
	c.token = resp.Token
	return resp.Token, nil
}

func (c *APIClient) ListChats(ctx context.Context) ([]model.ChatListing, error) {
	var chats []model.ChatListing
	err := c.call(ctx, http.MethodGet, "/chats", nil, &chats)
	return chats, err
}

// OpenDirect returns the direct chat with user, creating it if needed.
func (c *APIClient) OpenDirect(ctx context.Context, user string) (model.Chat, error) {
	var chat model.Chat
	err := c.call(ctx, http.MethodPost, "/chats", map[string]any{"members": []string{user}}, &chat)
	return chat, err
}

func (c *APIClient) CreateGroup(ctx context.Context, name string, members []string) (model.Chat, error) {
	var chat model.Chat
	err := c.call(ctx, http.MethodPost, "/chats", map[string]any{"name": name, "is_group": true, "members": members}, &chat)
	return chat, err
}

func (c *APIClient) FetchMessages(ctx context.Context, chatID string) ([]model.Message, error) {
	var msgs []model.Message
	err := c.call(ctx, http.MethodGet, "/chats/"+url.PathEscape(chatID)+"/messages", nil, &msgs)
	return msgs, err
}

func (c *APIClient) SendMessage(ctx context.Context, chatID string, body model.Body) (model.Message, error) {
	var msg model.Message
	err := c.call(ctx, http.MethodPost, "/chats/"+url.PathEscape(chatID)+"/messages", body, &msg)
	return msg, err
}

func (c *APIClient) MarkRead(ctx context.Context, chatID string) error {
	return c.call(ctx, http.MethodPost, "/chats/"+url.PathEscape(chatID)+"/read", nil, nil)
}

func (c *APIClient) DeleteMessage(ctx context.Context, chatID, messageID string) (model.Message, error) {
	var msg model.Message
	path := "/chats/" + url.PathEscape(chatID) + "/messages/" + url.PathEscape(messageID) + "/delete"
	err := c.call(ctx, http.MethodPost, path, nil, &msg)
	return msg, err
}

func (c *APIClient) OnlineUsers(ctx context.Context) ([]string, error) {
	var users []string
	err := c.call(ctx, http.MethodGet, "/presence", nil, &users)
	return users, err
}

// IsOnline reports whether one user is online.
func (c *APIClient) IsOnline(ctx context.Context, user string) (bool, error) {
	var resp struct {
		Online bool `json:"online"`
	}
	err := c.call(ctx, http.MethodGet, "/presence/"+url.PathEscape(user), nil, &resp)
	return resp.Online, err
}

func (c *APIClient) call(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{Code: resp.StatusCode, Body: string(msg)}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
