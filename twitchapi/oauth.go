package twitchapi

import (
	"context"
	"errors"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// BotOAuth holds the settings for the chat bot's user authorization.
type BotOAuth struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	Scopes       string
	// AuthURL and TokenURL default to the Twitch endpoints.
	AuthURL  string
	TokenURL string
}

func (b BotOAuth) config() *oauth2.Config {
	ep := oauth2.Endpoint{AuthURL: DefaultAuthURL, TokenURL: DefaultTokenURL, AuthStyle: oauth2.AuthStyleInParams}
	if b.AuthURL != "" {
		ep.AuthURL = b.AuthURL
	}
	if b.TokenURL != "" {
		ep.TokenURL = b.TokenURL
	}
	return &oauth2.Config{
		ClientID:     b.ClientID,
		ClientSecret: b.ClientSecret,
		RedirectURL:  b.RedirectURI,
		Scopes:       strings.Fields(strings.ReplaceAll(b.Scopes, ",", " ")),
		Endpoint:     ep,
	}
}

// AuthorizeURL builds the consent URL carrying state.
func (b BotOAuth) AuthorizeURL(state string) (string, error) {
	if b.ClientID == "" || b.RedirectURI == "" {
		return "", errors.New("missing clientID or redirectURI")
	}
	return b.config().AuthCodeURL(state), nil
}

// Exchange trades an authorization code for the bot's tokens.
func (b BotOAuth) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	if b.ClientID == "" || b.ClientSecret == "" || code == "" || b.RedirectURI == "" {
		return nil, errors.New("missing required parameter for auth code exchange")
	}
	return b.config().Exchange(ctx, code)
}

// Refresh exchanges refreshToken for a new token.
func (b BotOAuth) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	if b.ClientID == "" || b.ClientSecret == "" || refreshToken == "" {
		return nil, errors.New("missing clientID/clientSecret/refreshToken")
	}
	expired := &oauth2.Token{RefreshToken: refreshToken, Expiry: time.Unix(1, 0)}
	return b.config().TokenSource(ctx, expired).Token()
}

// Scope returns the granted scopes of tok as a space separated list. Twitch
// reports them as a JSON array.
func Scope(tok *oauth2.Token) string {
	switch v := tok.Extra("scope").(type) {
	case string:
		return v
	case []any:
		parts := make([]string, 0, len(v))
		for _, s := range v {
			if str, ok := s.(string); ok {
				parts = append(parts, str)
			}
		}
		return strings.Join(parts, " ")
	}
	return ""
}
