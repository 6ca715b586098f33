package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/onnwee/task-overlay/channels"
	"github.com/onnwee/task-overlay/config"
	"github.com/onnwee/task-overlay/contentfilter"
	"github.com/onnwee/task-overlay/db"
	"github.com/onnwee/task-overlay/notion"
	"github.com/onnwee/task-overlay/provision"
	"github.com/onnwee/task-overlay/schema"
	"github.com/onnwee/task-overlay/tasks"
)

// app carries what every command needs. Tests build one directly; the binary
// builds it from the environment in the root command's pre-run. out is the
// running command's output.
type app struct {
	db  *sql.DB
	reg *channels.Registry
	out io.Writer
}

var (
	channelFlag string
	allFlag     bool
	pageFlag    string
	keyFlag     string
)

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:          "taskctl",
		Short:        "Maintain the Notion task board behind the Twitch extension",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if a != nil {
				return nil
			}
			built, err := appFromEnv(cmd.Context())
			if err != nil {
				return err
			}
			a = built
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a != nil && a.db != nil {
				_ = a.db.Close()
			}
		},
	}
	root.PersistentFlags().StringVarP(&channelFlag, "channel", "c", config.DefaultChannel, "channel id (empty for the env-configured channel)")

	run := func(fn func(context.Context, *app, []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			a.out = cmd.OutOrStdout()
			return fn(cmd.Context(), a, args)
		}
	}

	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Test the Notion key against the parent page and report schema drift",
		RunE:  run(runCheck),
	}
	checkCmd.Flags().StringVar(&pageFlag, "page", "", "parent page id or URL (defaults to the configured page)")

	setupCmd := &cobra.Command{
		Use:   "setup",
		Short: "Find or create both task databases under a page and save the channel",
		RunE:  run(runSetup),
	}
	setupCmd.Flags().StringVar(&pageFlag, "page", "", "parent page id or URL")
	setupCmd.Flags().StringVar(&keyFlag, "key", "", "Notion integration key (defaults to the stored key)")

	syncCmd := &cobra.Command{
		Use:   "sync",
		Short: "Reconcile database schemas and migrate existing records",
		RunE:  run(runSync),
	}
	syncCmd.Flags().BoolVar(&allFlag, "all", false, "sync every configured channel")

	root.AddCommand(
		checkCmd,
		setupCmd,
		syncCmd,
		&cobra.Command{
			Use:   "backfill",
			Short: "Fill default values into records missing schema fields",
			RunE:  run(runBackfill),
		},
		&cobra.Command{
			Use:   "fill-approval",
			Short: "Derive Approval Status from legacy Status values",
			RunE:  run(runFillApproval),
		},
		&cobra.Command{
			Use:   "reject-prohibited",
			Short: "Reject and archive viewer tasks that fail the content filter",
			RunE:  run(runRejectProhibited),
		},
		&cobra.Command{
			Use:   "approve-pending",
			Short: "Run every pending viewer task through approval",
			RunE:  run(runApprovePending),
		},
		&cobra.Command{
			Use:   "seal-keys",
			Short: "Re-encrypt stored Notion keys and bot tokens with ENCRYPTION_KEY",
			RunE:  run(runSealKeys),
		},
	)
	return root
}

func appFromEnv(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	database, err := db.Connect(cfg.DBDsn)
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}
	if err := db.RunMigrations(database); err != nil {
		if err := db.Migrate(ctx, database); err != nil {
			_ = database.Close()
			return nil, fmt.Errorf("migrate db: %w", err)
		}
	}
	filter := contentfilter.Default()
	if cfg.ContentFilterFile != "" {
		if filter, err = contentfilter.LoadFile(cfg.ContentFilterFile); err != nil {
			_ = database.Close()
			return nil, err
		}
	}
	pool := notion.NewPool(notion.Options{BaseURL: cfg.NotionBaseURL, Version: cfg.NotionVersion, RequestsPerSecond: cfg.NotionRPS})
	reg := channels.New(channels.DBSource{DB: database}, pool, channels.Defaults{
		NotionAPIKey:       cfg.NotionAPIKey,
		ParentPageID:       cfg.ParentPageID,
		StreamerDatabaseID: cfg.StreamerDatabaseID,
		ViewerDatabaseID:   cfg.ViewerDatabaseID,
	}, filter)
	return &app{db: database, reg: reg}, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runCheck(ctx context.Context, a *app, _ []string) error {
	ch, err := a.reg.Resolve(ctx, channelFlag)
	if err != nil {
		return err
	}
	page := ch.Config.ParentPageID
	if pageFlag != "" {
		if page, err = provision.ExtractPageID(pageFlag); err != nil {
			return err
		}
	}
	if page != "" {
		if err := provision.NewProvisioner(ch.Store, nil).TestConnection(ctx, page); err != nil {
			return err
		}
		fmt.Fprintf(a.out, "connection: ok (page %s)\n", page)
	} else {
		fmt.Fprintln(a.out, "connection: skipped (no parent page configured)")
	}

	drift := false
	for _, c := range []struct {
		id string
		s  schema.Schema
	}{{ch.Collections.Streamer, schema.Streamer()}, {ch.Collections.Viewer, schema.Viewer()}} {
		if c.id == "" {
			fmt.Fprintf(a.out, "%s: not configured\n", c.s.Name)
			continue
		}
		d, err := ch.Store.RetrieveDatabase(ctx, c.id)
		if err != nil {
			return fmt.Errorf("%s: %w", c.s.Name, err)
		}
		if missing := provision.Mismatches(d.Properties, c.s); len(missing) > 0 {
			drift = true
			fmt.Fprintf(a.out, "%s: drift in %s\n", c.s.Name, strings.Join(missing, ", "))
			continue
		}
		fmt.Fprintf(a.out, "%s: ok\n", c.s.Name)
	}
	if drift {
		return errors.New("schema drift found; run taskctl sync")
	}
	return nil
}

func runSetup(ctx context.Context, a *app, _ []string) error {
	page, err := provision.ExtractPageID(pageFlag)
	if err != nil {
		return err
	}
	cur, _, err := a.reg.Config(ctx, channelFlag)
	if err != nil {
		return err
	}
	key := strings.TrimSpace(keyFlag)
	if key == "" {
		key = cur.NotionKey
	}
	if key == "" {
		return errors.New("no notion key stored; pass --key")
	}
	res, err := provision.NewProvisioner(a.reg.Open(key), nil).Run(ctx, page, provision.Preferred{
		Streamer: cur.StreamerDatabaseID,
		Viewer:   cur.ViewerDatabaseID,
	})
	if err != nil {
		return err
	}
	cols := res.Collections()
	if err := a.reg.Save(ctx, db.ChannelConfig{
		ChannelID:          channelFlag,
		NotionKey:          strings.TrimSpace(keyFlag),
		ParentPageID:       page,
		StreamerDatabaseID: cols.Streamer,
		ViewerDatabaseID:   cols.Viewer,
		SetupComplete:      true,
	}); err != nil {
		return err
	}
	return printJSON(a.out, res)
}

func runSync(ctx context.Context, a *app, _ []string) error {
	if allFlag {
		return provision.SyncAll(ctx, a.db, a.reg.Targets)
	}
	ch, err := a.reg.Resolve(ctx, channelFlag)
	if err != nil {
		return err
	}
	rep, err := provision.Sync(ctx, ch.Store, ch.Collections, nil)
	if perr := printJSON(a.out, rep); perr != nil {
		return perr
	}
	return err
}

func runBackfill(ctx context.Context, a *app, _ []string) error {
	ch, err := a.reg.Resolve(ctx, channelFlag)
	if err != nil {
		return err
	}
	mig := provision.NewMigrator(ch.Store)
	out := map[string]provision.SweepResult{}
	var errs []error
	if ch.Collections.Streamer != "" {
		res, err := mig.Backfill(ctx, ch.Collections.Streamer, schema.Streamer())
		out["streamer"] = res
		errs = append(errs, err)
	}
	if ch.Collections.Viewer != "" {
		res, err := mig.Backfill(ctx, ch.Collections.Viewer, schema.Viewer())
		out["viewer"] = res
		errs = append(errs, err)
	}
	if err := printJSON(a.out, out); err != nil {
		return err
	}
	return errors.Join(errs...)
}

func runFillApproval(ctx context.Context, a *app, _ []string) error {
	ch, err := a.reg.Resolve(ctx, channelFlag)
	if err != nil {
		return err
	}
	if ch.Collections.Viewer == "" {
		return channels.ErrNotConfigured
	}
	res, err := provision.NewMigrator(ch.Store).FillLegacyApproval(ctx, ch.Collections.Viewer)
	if perr := printJSON(a.out, res); perr != nil {
		return perr
	}
	return err
}

func runSweep(ctx context.Context, a *app, fn func(*tasks.Service) (tasks.BulkResult, error)) error {
	ch, err := a.reg.Resolve(ctx, channelFlag)
	if err != nil {
		return err
	}
	res, err := fn(a.reg.Tasks(ch))
	if err != nil {
		return err
	}
	return printJSON(a.out, res)
}

func runRejectProhibited(ctx context.Context, a *app, _ []string) error {
	return runSweep(ctx, a, func(s *tasks.Service) (tasks.BulkResult, error) { return s.RejectProhibited(ctx) })
}

func runApprovePending(ctx context.Context, a *app, _ []string) error {
	return runSweep(ctx, a, func(s *tasks.Service) (tasks.BulkResult, error) { return s.ApprovePending(ctx) })
}

func runSealKeys(ctx context.Context, a *app, _ []string) error {
	if a.db == nil {
		return errors.New("seal-keys needs a database")
	}
	n, err := db.ResealChannelKeys(ctx, a.db)
	if err != nil {
		return err
	}
	ts := &db.TokenStore{DB: a.db}
	access, refresh, exp, scope, err := ts.GetOAuthToken(ctx, "twitch")
	if err != nil {
		return err
	}
	tokens := 0
	if access != "" || refresh != "" {
		if err := ts.UpsertOAuthToken(ctx, "twitch", access, refresh, exp, scope); err != nil {
			return err
		}
		tokens = 1
	}
	fmt.Fprintf(a.out, "resealed %d channel key(s) and %d bot token(s)\n", n, tokens)
	return nil
}
