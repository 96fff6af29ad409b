package main

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mahaj/snappy-realtime/pkg/auth"
)

// Membership answers whether a user belongs to a chat. The gateway keeps no
// chat data of its own.
type Membership interface {
	IsMember(ctx context.Context, chatID, user string) (bool, error)
}

// APIMembership asks the API for the chat on the user's behalf. The API
// answers 200 to members and 403 or 404 to everyone else.
type APIMembership struct {
	base   string
	issuer *auth.Issuer
	http   *http.Client
}

func NewAPIMembership(base string, issuer *auth.Issuer) *APIMembership {
	return &APIMembership{
		base:   strings.TrimRight(base, "/"),
		issuer: issuer,
		http:   &http.Client{Timeout: 5 * time.Second},
	}
}

func (m *APIMembership) IsMember(ctx context.Context, chatID, user string) (bool, error) {
	token, err := m.issuer.GenerateToken(user)
	if err != nil {
		return false, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.base+"/chats/"+url.PathEscape(chatID), nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := m.http.Do(req)
	if err != nil {
		return false, fmt.Errorf("check membership of %s in %s: %w", user, chatID, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusForbidden, http.StatusNotFound:
		return false, nil
	default:
		return false, fmt.Errorf("check membership of %s in %s: api returned %d", user, chatID, resp.StatusCode)
	}
}
