package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/jhusain/pocket-reader/internal/api"
	"github.com/jhusain/pocket-reader/internal/app"
	"github.com/jhusain/pocket-reader/internal/config"
	"github.com/jhusain/pocket-reader/internal/domain"
	"github.com/jhusain/pocket-reader/internal/logger"
)

// session is the runtime a command works against.
type session struct {
	cfg    *config.Config
	log    logger.Logger
	reader *app.Reader
}

// withSession loads config, the logger and the collection, runs fn and closes the store.
func withSession(cmd *cobra.Command, fn func(ctx context.Context, s *session) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
		cfg.HTTPAddr = addr
	}

	log, err := logger.Init(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Close()

	logger.InfoObj("reader starting", "session", map[string]any{
		"command":      cmd.Name(),
		"storage_type": cfg.StorageType,
		"bbolt_path":   cfg.BBoltPath,
		"seeds_file":   cfg.SeedsFile,
	})

	ctx := cmd.Context()
	r, err := app.NewReader(ctx, cfg, log)
	if err != nil {
		logger.ErrorObj("failed to initialize reader", "error", err.Error())
		return err
	}
	defer r.Close()

	if err := r.Start(ctx); err != nil {
		return err
	}
	err = fn(ctx, &session{cfg: cfg, log: log, reader: r})
	logger.DebugObj("reader command finished", "command", cmd.Name())
	return err
}

// warnIfDiverged tells the user that the last store write failed, so what
// was printed may not survive a restart.
func warnIfDiverged(w io.Writer, persistErr error) {
	if persistErr == nil {
		return
	}
	logger.WarnObj("collection differs from store", "persist_error", persistErr.Error())
	fmt.Fprintf(w, "warning: changes are not saved: %v\n", persistErr)
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "reader",
		Short:         "Keep a reading list and read simplified pages offline",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newListCmd(),
		newAddCmd(),
		newDeleteCmd(),
		newOpenCmd(),
		newRefreshCmd(),
		newFetchCmd(),
		newImportCmd(),
		newServeCmd(),
	)
	return root
}

func newListCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tracked URLs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withSession(cmd, func(_ context.Context, s *session) error {
				records := s.reader.Collection().Records()
				warnIfDiverged(cmd.ErrOrStderr(), s.reader.Collection().LastPersistError())
				if asJSON {
					return writeJSON(cmd.OutOrStdout(), records)
				}
				return writeTable(cmd.OutOrStdout(), records)
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print records as JSON")
	return cmd
}

func newAddCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add <url>...",
		Short: "Add one or more URLs",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(ctx context.Context, s *session) error {
				if len(args) == 1 {
					rec, err := s.reader.Collection().Add(ctx, args[0])
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "added %s\n", rec.URL)
					return nil
				}
				added, err := s.reader.Collection().AddMany(ctx, args)
				fmt.Fprintf(cmd.OutOrStdout(), "added %d of %d urls\n", len(added), len(args))
				return err
			})
		},
	}
}

func newDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <url>",
		Short: "Stop tracking a URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(ctx context.Context, s *session) error {
				if err := s.reader.Collection().Delete(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
				return nil
			})
		},
	}
}

func newOpenCmd() *cobra.Command {
	return newReadCmd("open <url>", "Load a URL's content if needed and print it", false)
}

func newRefreshCmd() *cobra.Command {
	return newReadCmd("refresh <url>", "Re-fetch a URL's content and print it", true)
}

func newReadCmd(use, short string, force bool) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(ctx context.Context, s *session) error {
				svc := s.reader.Service()
				open := svc.Open
				if force {
					open = svc.Refresh
				}
				rec, err := open(ctx, args[0])
				if err != nil {
					return err
				}
				if rec.Status == domain.StatusError {
					return fmt.Errorf("load %s: %s", rec.URL, rec.ErrorMessage)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\n\n%s\n", rec.Title, rec.Content)
				return nil
			})
		},
	}
}

func newFetchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fetch",
		Short: "Fetch every URL that has not been loaded yet",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withSession(cmd, func(ctx context.Context, s *session) error {
				n, err := s.reader.Service().FetchPending(ctx)
				if err != nil {
					return err
				}
				return writeTableSummary(cmd.OutOrStdout(), n, s.reader.Collection().Records())
			})
		},
	}
}

func newImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <sitemap-url>",
		Short: "Add every URL listed in a sitemap",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(ctx context.Context, s *session) error {
				added, err := s.reader.Import(ctx, args[0])
				fmt.Fprintf(cmd.OutOrStdout(), "imported %d urls\n", len(added))
				return err
			})
		},
	}
}

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the reading list over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withSession(cmd, func(ctx context.Context, s *session) error {
				srv := api.NewServer(
					s.reader.Collection(),
					s.reader.Service(),
					s.reader,
					s.reader.Metrics(),
					s.log,
				)
				return srv.ListenAndServe(ctx, s.cfg.HTTPAddr)
			})
		},
	}
	cmd.Flags().AddFlagSet(serveFlags())
	return cmd
}

func serveFlags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("serve", pflag.ContinueOnError)
	fs.String("addr", "", "listen address (overrides HTTP_ADDR)")
	return fs
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeTable(w io.Writer, records []domain.Record) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STATUS\tURL\tTITLE")
	for _, r := range records {
		title := r.Title
		if r.Status == domain.StatusError {
			title = r.ErrorMessage
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", r.Status, r.URL, title)
	}
	return tw.Flush()
}

func writeTableSummary(w io.Writer, started int, records []domain.Record) error {
	fmt.Fprintf(w, "fetched %d urls\n", started)
	return writeTable(w, records)
}
