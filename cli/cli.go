// Package cli defines the photoreport commands.
package cli

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"photoreport/caption"
	"photoreport/config"
	"photoreport/feature"
	"photoreport/index"
	"photoreport/ingest"
	"photoreport/logging"
	"photoreport/phase"
	"photoreport/photo"
	"photoreport/report"
	"photoreport/store"
	"photoreport/watch"
	"photoreport/web"

	"github.com/spf13/cobra"
)

// NewRootCmd creates the root cobra command.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "photoreport",
		Short: "Files site-inspection photos and pairs before/after shots",
		Long: `photoreport ingests site-inspection photos from a chat channel into a
monthly photo tree and proposes before/after pairings by visual
similarity for the report renderer.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newIngestCmd())
	rootCmd.AddCommand(newReportCmd())
	rootCmd.AddCommand(newWatchCmd())

	return rootCmd
}

// Execute runs the CLI.
func Execute() error {
	return NewRootCmd().Execute()
}

// runtimeDeps bundles the components every command needs.
type runtimeDeps struct {
	cfg        *config.Config
	log        *slog.Logger
	locator    *store.Locator
	classifier *phase.Classifier
	db         *sql.DB
}

func setup() (*runtimeDeps, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	log := logging.Setup(cfg.LogLevel, cfg.LogFormat)

	locator, err := store.NewLocator(cfg.SaveRoot)
	if err != nil {
		return nil, err
	}
	classifier, err := phase.NewClassifier(cfg.BeforeHour, cfg.AfterHour)
	if err != nil {
		return nil, err
	}
	db, err := index.Open(cfg.IndexPath)
	if err != nil {
		return nil, fmt.Errorf("cannot open placement index %s: %w", cfg.IndexPath, err)
	}

	return &runtimeDeps{cfg: cfg, log: log, locator: locator, classifier: classifier, db: db}, nil
}

func (d *runtimeDeps) ingestService() *ingest.Service {
	return ingest.New(d.classifier, d.locator, caption.DefaultSites(), d.db, d.log)
}

func (d *runtimeDeps) builder(useTree bool) *report.Builder {
	var source report.Source
	if useTree {
		source = report.NewTreeSource(d.cfg.SaveRoot)
	} else {
		source = report.NewIndexSource(d.db)
	}
	extractor := feature.NewExtractor(d.cfg.MaxSide, d.cfg.NFeatures)
	return report.NewBuilder(*d.cfg, source, extractor)
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP upload and report API",
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := setup()
			if err != nil {
				return err
			}
			defer deps.db.Close()

			server := web.NewServer(deps.builder(false), deps.ingestService(), deps.db, deps.log)
			return server.Run(deps.cfg.HTTPAddr)
		},
	}
}

func newIngestCmd() *cobra.Command {
	var (
		site       string
		task       string
		capt       string
		capturedAt string
	)

	cmd := &cobra.Command{
		Use:   "ingest <photo-file>",
		Short: "File a single photo into the tree",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := setup()
			if err != nil {
				return err
			}
			defer deps.db.Close()

			path := args[0]
			buf, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("cannot read %s: %w", path, err)
			}

			req := ingest.Request{
				Bytes:    buf,
				Filename: path,
				Caption:  capt,
				Site:     site,
				Task:     task,
			}
			if capturedAt != "" {
				ts, err := time.ParseInLocation(time.RFC3339, capturedAt, time.Local)
				if err != nil {
					return fmt.Errorf("invalid --captured-at (want RFC3339): %w", err)
				}
				req.CapturedAt = ts
			}

			ctx, cancel := signalContext()
			defer cancel()

			out, err := deps.ingestService().Ingest(ctx, req)
			if err != nil {
				return err
			}
			if !out.Stored {
				fmt.Printf("Rejected: %s\n", out.Reason)
				return nil
			}
			fmt.Printf("Saved: %s\n", out.Path)
			return nil
		},
	}

	cmd.Flags().StringVar(&site, "site", "", "site name (detected from caption if omitted)")
	cmd.Flags().StringVar(&task, "task", "", "task name (detected from caption if omitted)")
	cmd.Flags().StringVar(&capt, "caption", "", "chat caption accompanying the photo")
	cmd.Flags().StringVar(&capturedAt, "captured-at", "", "capture timestamp, RFC3339 (EXIF if omitted)")

	return cmd
}

func newReportCmd() *cobra.Command {
	var (
		fromMonth string
		toMonth   string
		useTree   bool
	)

	cmd := &cobra.Command{
		Use:   "report <site> <task>",
		Short: "Build the before/after assignment for a group",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := setup()
			if err != nil {
				return err
			}
			defer deps.db.Close()

			ctx, cancel := signalContext()
			defer cancel()

			g := photo.Group{Site: args[0], Task: args[1], FromMonth: fromMonth, ToMonth: toMonth}
			progress := report.NewProgress()

			start := time.Now()
			result, err := deps.builder(useTree).Build(ctx, g, progress)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(result); err != nil {
				return err
			}

			fmt.Fprintf(os.Stderr, "%d pairs, %d unmatched before, %d unmatched after, %d failed in %v\n",
				len(result.Assignment.Pairs),
				len(result.Assignment.UnmatchedBefore),
				len(result.Assignment.UnmatchedAfter),
				len(result.Failures),
				time.Since(start).Round(time.Millisecond))
			return nil
		},
	}

	cmd.Flags().StringVar(&fromMonth, "from", "", "first month to include (YYYY-MM)")
	cmd.Flags().StringVar(&toMonth, "to", "", "last month to include (YYYY-MM)")
	cmd.Flags().BoolVar(&useTree, "tree", false, "list photos from the directory tree instead of the index")

	return cmd
}

func newWatchCmd() *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Ingest photos dropped into a spool directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := setup()
			if err != nil {
				return err
			}
			defer deps.db.Close()

			if dir == "" {
				dir = deps.cfg.WatchDir
			}
			watcher, err := watch.New(dir, deps.ingestService(), deps.log)
			if err != nil {
				return err
			}

			ctx, cancel := signalContext()
			defer cancel()

			if err := watcher.Run(ctx); err != nil && ctx.Err() == nil {
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&dir, "dir", "", "spool directory (defaults to WATCH_DIR)")

	return cmd
}
