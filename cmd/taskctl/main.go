// Command taskctl runs the task board's maintenance operations from a shell:
// connection checks, schema sync, record migrations, moderation sweeps and
// re-sealing stored Notion keys.
package main

import (
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()
	lvl := slog.LevelInfo
	if strings.EqualFold(os.Getenv("LOG_LEVEL"), "debug") {
		lvl = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))

	if err := newRootCmd(nil).Execute(); err != nil {
		os.Exit(1)
	}
}
