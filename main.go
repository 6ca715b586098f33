// Command task-overlay runs the Twitch extension backend for the Notion task
// board. It:
//   - Loads configuration and initializes structured logging.
//   - Connects to Postgres and runs migrations for channel configuration and
//     bot tokens.
//   - Starts the periodic schema sync, the chat bot and the bot token refresher.
//   - Serves the extension, setup, admin and health routes.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // G108: pprof endpoints enabled only when ENABLE_PPROF=1
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/oauth2"

	"github.com/onnwee/task-overlay/auth"
	"github.com/onnwee/task-overlay/channels"
	"github.com/onnwee/task-overlay/chat"
	"github.com/onnwee/task-overlay/config"
	"github.com/onnwee/task-overlay/contentfilter"
	"github.com/onnwee/task-overlay/db"
	"github.com/onnwee/task-overlay/notion"
	"github.com/onnwee/task-overlay/oauth"
	"github.com/onnwee/task-overlay/provision"
	"github.com/onnwee/task-overlay/server"
	"github.com/onnwee/task-overlay/tasks"
	"github.com/onnwee/task-overlay/telemetry"
	"github.com/onnwee/task-overlay/twitchapi"
)

const botProvider = "twitch"

func setupLogging() {
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	format := strings.ToLower(os.Getenv("LOG_FORMAT")) // text | json
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	} else {
		format = "text"
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()), slog.String("format", format))
}

func main() {
	// local dev convenience only; production relies on real env
	_ = godotenv.Load()
	setupLogging()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}

	telemetry.Init()
	shutdown, err := telemetry.InitTracing("task-overlay", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdown()

	database, err := db.Connect(cfg.DBDsn)
	if err != nil {
		slog.Error("failed to open db", slog.Any("err", err))
		os.Exit(1)
	}
	defer func() {
		if err := database.Close(); err != nil {
			slog.Error("failed to close database", slog.Any("err", err))
		}
	}()

	slog.Info("running database migrations", slog.String("component", "db_migrate"))
	if err := db.RunMigrations(database); err != nil {
		slog.Warn("versioned migrations failed, falling back to embedded SQL", slog.Any("err", err), slog.String("component", "db_migrate"))
		if err := db.Migrate(context.Background(), database); err != nil {
			slog.Error("failed to migrate db", slog.Any("err", err))
			os.Exit(1)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	filter := contentfilter.Default()
	if cfg.ContentFilterFile != "" {
		if filter, err = contentfilter.LoadFile(cfg.ContentFilterFile); err != nil {
			slog.Error("content filter load failed", slog.Any("err", err), slog.String("path", cfg.ContentFilterFile))
			os.Exit(1)
		}
		slog.Info("content filter loaded", slog.Int("patterns", filter.Len()))
	}

	pool := notion.NewPool(notion.Options{
		BaseURL:           cfg.NotionBaseURL,
		Version:           cfg.NotionVersion,
		RequestsPerSecond: cfg.NotionRPS,
	})
	registry := channels.New(channels.DBSource{DB: database}, pool, channels.Defaults{
		NotionAPIKey:       cfg.NotionAPIKey,
		ParentPageID:       cfg.ParentPageID,
		StreamerDatabaseID: cfg.StreamerDatabaseID,
		ViewerDatabaseID:   cfg.ViewerDatabaseID,
	}, filter)

	go provision.StartSyncJob(ctx, database, cfg.SchemaSyncInterval, cfg.SyncOnStart, registry.Targets)

	tokens := &db.TokenStore{DB: database}
	bot := twitchapi.BotOAuth{
		ClientID:     cfg.TwitchClientID,
		ClientSecret: cfg.TwitchClientSecret,
		RedirectURI:  cfg.TwitchRedirectURI,
		Scopes:       cfg.TwitchScopes,
	}

	if cfg.TwitchClientID != "" && cfg.TwitchClientSecret != "" {
		r := &oauth.Refresher{
			Store:    tokens,
			Provider: botProvider,
			Interval: 5 * time.Minute,
			Window:   15 * time.Minute,
			Refresh: func(rctx context.Context, refreshToken string) (*oauth2.Token, string, error) {
				tok, err := bot.Refresh(rctx, refreshToken)
				if err != nil {
					return nil, "", err
				}
				return tok, twitchapi.Scope(tok), nil
			},
		}
		r.Start(ctx)
	}

	if err := cfg.ValidateChatReady(); err == nil {
		go runChatBot(ctx, cfg, registry, tokens)
	} else {
		slog.Info("chat bot disabled", slog.Any("reason", err))
	}

	if os.Getenv("ENABLE_PPROF") == "1" {
		pprofAddr := os.Getenv("PPROF_ADDR")
		if pprofAddr == "" {
			pprofAddr = "localhost:6060"
		}
		go func() {
			slog.Info("pprof profiling enabled", slog.String("addr", pprofAddr))
			srv := &http.Server{
				Addr:              pprofAddr,
				ReadHeaderTimeout: 5 * time.Second,
				ReadTimeout:       10 * time.Second,
				WriteTimeout:      10 * time.Second,
				IdleTimeout:       60 * time.Second,
			}
			if err := srv.ListenAndServe(); err != nil {
				slog.Error("pprof server error", slog.Any("err", err))
			}
		}()
	}

	opts := server.Options{
		DB:       database,
		Registry: registry,
		Tokens:   tokens,
		Breakers: pool,
	}
	if cfg.TwitchClientID != "" && cfg.TwitchRedirectURI != "" {
		opts.BotOAuth = &bot
	}
	if err := cfg.ValidateExtensionReady(); err != nil {
		slog.Error("extension routes need a secret", slog.Any("err", err))
		os.Exit(1)
	}
	verifier, err := auth.NewVerifier(cfg.ExtensionSecret)
	if err != nil {
		slog.Error("invalid extension secret", slog.Any("err", err))
		os.Exit(1)
	}
	opts.Verifier = verifier

	go func() {
		if err := server.Start(ctx, cfg.HTTPAddr, opts); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")
}

// runChatBot answers chat commands for the configured channel. The channel's
// task board is keyed by the broadcaster's user id when Helix can resolve it,
// and by the default channel otherwise.
func runChatBot(ctx context.Context, cfg *config.Config, registry *channels.Registry, tokens oauth.TokenStore) {
	log := slog.Default().With(slog.String("component", "chat"))
	channelID := config.DefaultChannel
	if cfg.TwitchClientID != "" && cfg.TwitchClientSecret != "" {
		hc := &twitchapi.HelixClient{
			ClientID: cfg.TwitchClientID,
			Tokens:   twitchapi.AppTokenSource(ctx, cfg.TwitchClientID, cfg.TwitchClientSecret, "", nil),
		}
		lctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		id, err := hc.GetUserID(lctx, cfg.TwitchChannel)
		cancel()
		if err != nil {
			log.Warn("resolve broadcaster id, using default channel", slog.Any("err", err))
		} else {
			channelID = id
		}
	}

	b := &chat.Bot{
		Channel:  cfg.TwitchChannel,
		Username: cfg.TwitchBotUsername,
		Token: func(tctx context.Context) (string, error) {
			access, _, _, _, err := tokens.GetOAuthToken(tctx, botProvider)
			if err == nil && access != "" {
				return access, nil
			}
			return cfg.TwitchOAuthToken, nil
		},
		Dispatcher: &chat.Dispatcher{
			ChannelID: channelID,
			Service: func(sctx context.Context) (*tasks.Service, error) {
				ch, err := registry.Resolve(sctx, channelID)
				if err != nil {
					return nil, err
				}
				return registry.Tasks(ch), nil
			},
		},
	}

	backoff := 5 * time.Second
	for ctx.Err() == nil {
		err := b.Run(ctx)
		if err == nil || errors.Is(err, context.Canceled) {
			return
		}
		log.Warn("chat bot disconnected, retrying", slog.Any("err", err), slog.Duration("in", backoff))
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff < 2*time.Minute {
			backoff *= 2
		}
	}
}
