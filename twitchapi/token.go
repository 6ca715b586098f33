package twitchapi

import (
	"context"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// Twitch identity endpoints.
const (
	DefaultAuthURL  = "https://id.twitch.tv/oauth2/authorize"
	DefaultTokenURL = "https://id.twitch.tv/oauth2/token"
)

// AppTokenSource returns a cached client-credentials token source for Helix
// calls. App tokens cannot join IRC; chat uses the bot's user token.
// tokenURL may be empty for the Twitch default.
func AppTokenSource(ctx context.Context, clientID, clientSecret, tokenURL string, hc *http.Client) oauth2.TokenSource {
	if tokenURL == "" {
		tokenURL = DefaultTokenURL
	}
	if hc != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, hc)
	}
	cc := &clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     tokenURL,
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	return oauth2.ReuseTokenSource(nil, cc.TokenSource(ctx))
}
