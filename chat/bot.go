package chat

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	twitch "github.com/gempir/go-twitch-irc/v4"

	"github.com/onnwee/task-overlay/telemetry"
)

// TokenFunc returns the bot's current user access token.
type TokenFunc func(ctx context.Context) (string, error)

// Bot connects a Dispatcher to a channel's chat.
type Bot struct {
	Channel    string
	Username   string
	Token      TokenFunc
	Dispatcher *Dispatcher
	// IRCAddress overrides the Twitch IRC server, for tests.
	IRCAddress string
}

// Run joins the channel and answers commands until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	if b.Channel == "" || b.Username == "" {
		return errors.New("chat bot needs a channel and a username")
	}
	tok, err := b.Token(ctx)
	if err != nil {
		return err
	}
	if tok == "" {
		return errors.New("no chat token available")
	}
	if !strings.HasPrefix(tok, "oauth:") {
		tok = "oauth:" + tok
	}
	client := twitch.NewClient(b.Username, tok)
	if b.IRCAddress != "" {
		client.IrcAddress = b.IRCAddress
		client.TLS = false
	}
	log := slog.Default().With(slog.String("component", "chat"), slog.String("channel", b.Channel))

	client.OnPrivateMessage(func(msg twitch.PrivateMessage) {
		if _, ok := Parse(msg.Message); !ok {
			return
		}
		mctx := telemetry.WithCorrelation(ctx, msg.ID)
		reply := b.Dispatcher.Handle(mctx, Message{ID: msg.ID, Login: msg.User.Name, Badges: msg.User.Badges, Text: msg.Message})
		if reply != "" {
			client.Say(msg.Channel, reply)
		}
	})
	client.OnConnect(func() { log.Info("chat bot connected") })

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = client.Disconnect()
		case <-done:
		}
	}()
	defer close(done)

	client.Join(b.Channel)
	err = client.Connect()
	if ctx.Err() != nil || errors.Is(err, twitch.ErrClientDisconnected) {
		return nil
	}
	return err
}
