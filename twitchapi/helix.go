// Package twitchapi wraps the Twitch identity and Helix endpoints the service
// needs: the bot's OAuth grant and refresh, app tokens, and user lookups.
package twitchapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
)

// DefaultHelixURL is the Helix API root.
const DefaultHelixURL = "https://api.twitch.tv/helix"

// User is a Helix user.
type User struct {
	ID          string `json:"id"`
	Login       string `json:"login"`
	DisplayName string `json:"display_name"`
}

// HelixClient calls Helix with an app token.
type HelixClient struct {
	BaseURL    string
	ClientID   string
	Tokens     oauth2.TokenSource
	HTTPClient *http.Client
}

func (hc *HelixClient) http() *http.Client {
	if hc.HTTPClient != nil {
		return hc.HTTPClient
	}
	return http.DefaultClient
}

// GetUsers looks users up by login. Unknown logins are omitted.
func (hc *HelixClient) GetUsers(ctx context.Context, logins ...string) ([]User, error) {
	if len(logins) == 0 {
		return nil, nil
	}
	tok, err := hc.Tokens.Token()
	if err != nil {
		return nil, fmt.Errorf("app token: %w", err)
	}
	base := hc.BaseURL
	if base == "" {
		base = DefaultHelixURL
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(base, "/")+"/users", nil)
	if err != nil {
		return nil, err
	}
	q := req.URL.Query()
	for _, l := range logins {
		q.Add("login", strings.ToLower(strings.TrimPrefix(l, "@")))
	}
	req.URL.RawQuery = q.Encode()
	req.Header.Set("Client-Id", hc.ClientID)
	req.Header.Set("Authorization", "Bearer "+tok.AccessToken)
	resp, err := hc.http().Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("helix users: %s", resp.Status)
	}
	var body struct {
		Data []User `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}
	return body.Data, nil
}

// GetUserID resolves a login name to its user ID.
func (hc *HelixClient) GetUserID(ctx context.Context, login string) (string, error) {
	if login == "" {
		return "", fmt.Errorf("login empty")
	}
	users, err := hc.GetUsers(ctx, login)
	if err != nil {
		return "", err
	}
	if len(users) == 0 {
		return "", fmt.Errorf("user %q not found", login)
	}
	return users[0].ID, nil
}
