package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/itxrex07/rexwa-sub000/ingest"
	"github.com/itxrex07/rexwa-sub000/internal/fsstore"
	"github.com/itxrex07/rexwa-sub000/internal/logutil"
	"github.com/itxrex07/rexwa-sub000/internal/statepaths"
	"github.com/itxrex07/rexwa-sub000/observe"
	"github.com/itxrex07/rexwa-sub000/session"
	"github.com/itxrex07/rexwa-sub000/store"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the cache and execution runtime",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := logutil.LoggerFromViper()
			if err != nil {
				return err
			}
			slog.SetDefault(logger)

			storeDir := statepaths.StoreDir()
			if err := fsstore.EnsureDir(storeDir, 0o700); err != nil {
				return fmt.Errorf("ensure store dir: %w", err)
			}

			st := store.New(store.Config{
				MaxMessagesPerChat: viper.GetInt("store.max_messages_per_chat"),
				MaxChats:           viper.GetInt("store.max_chats"),
				RecentCacheSize:    viper.GetInt("store.recent_cache_size"),
				ChatCleanupDelay:   viper.GetDuration("store.chat_cleanup_delay"),
				PresenceMaxAge:     viper.GetDuration("store.presence_max_age"),
				NotifyWindow:       viper.GetDuration("store.notify_window"),
				Logger:             logger,
			})
			defer st.Close()

			fileStore, err := store.NewFileStore(storeDir, store.FileStoreOptions{
				Encoding: store.Encoding(viper.GetString("snapshot.encoding")),
				Compress: viper.GetBool("snapshot.compress"),
				Logger:   logger,
			})
			if err != nil {
				return err
			}
			snap, found, err := fileStore.Load()
			if err != nil {
				logger.Warn("snapshot_load_failed_starting_empty", "error", err.Error())
			}
			if found {
				st.Restore(snap)
				logger.Info("snapshot_restored",
					"messages", snap.Stats.Messages,
					"chats", snap.Stats.Chats,
					"contacts", snap.Stats.Contacts,
				)
			}

			mgr, err := session.NewManager(session.Config{
				MaxConcurrent: viper.GetInt("sessions.max_concurrent"),
				JobTimeout:    viper.GetDuration("sessions.job_timeout"),
				MaxIdleAge:    viper.GetDuration("sessions.max_idle_age"),
				ReapInterval:  viper.GetDuration("sessions.reap_interval"),
				WorkDir:       statepaths.WorkDir(),
				Logger:        logger,
			})
			if err != nil {
				return err
			}

			adapter := ingest.NewAdapter(st, mgr, ingest.Config{
				CommandPrefix: viper.GetString("ingest.command_prefix"),
				Logger:        logger,
			})
			registerBuiltinCommands(adapter, st, logger)

			observeSrv, err := observe.NewServer(st, mgr, observe.Config{
				Addr:   fmt.Sprintf("%s:%d", viper.GetString("observe.bind"), viper.GetInt("observe.port")),
				Logger: logger,
			})
			if err != nil {
				return err
			}

			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			g, ctx := errgroup.WithContext(runCtx)
			g.Go(func() error {
				return observeSrv.Run(ctx)
			})
			g.Go(func() error {
				err := st.RunJanitor(ctx, store.JanitorConfig{
					CleanupInterval:   viper.GetDuration("janitor.cleanup_interval"),
					MemCheckInterval:  viper.GetDuration("janitor.mem_check_interval"),
					MemThresholdBytes: uint64(viper.GetInt64("janitor.mem_threshold_bytes")),
				})
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			})
			g.Go(func() error {
				return runSnapshotTimer(ctx, st, fileStore, viper.GetDuration("snapshot.interval"), logger)
			})
			if feedURL := strings.TrimSpace(viper.GetString("ingest.feed_url")); feedURL != "" {
				feed, err := ingest.NewFeed(adapter, ingest.FeedConfig{
					URL:            feedURL,
					ReconnectDelay: viper.GetDuration("ingest.reconnect_delay"),
					Logger:         logger,
				})
				if err != nil {
					return err
				}
				g.Go(func() error {
					return feed.Run(ctx)
				})
			} else {
				logger.Warn("feed_disabled", "reason", "ingest.feed_url is empty")
			}

			logger.Info("rexwa_start",
				"store_dir", storeDir,
				"work_dir", statepaths.WorkDir(),
				"max_concurrent", viper.GetInt("sessions.max_concurrent"),
				"observe_addr", fmt.Sprintf("%s:%d", viper.GetString("observe.bind"), viper.GetInt("observe.port")),
			)

			runErr := g.Wait()

			adapter.Wait()
			mgr.Shutdown()
			if err := fileStore.Save(st.Snapshot()); err != nil {
				logger.Warn("snapshot_final_save_error", "error", err.Error())
			}
			logger.Info("rexwa_stop")
			return runErr
		},
	}

	cmd.Flags().String("feed-url", "", "Websocket URL of the protocol client's event feed.")
	_ = viper.BindPFlag("ingest.feed_url", cmd.Flags().Lookup("feed-url"))
	cmd.Flags().Int("observe-port", 0, "Observe server port (health, metrics, event stream).")
	_ = viper.BindPFlag("observe.port", cmd.Flags().Lookup("observe-port"))

	return cmd
}

// runSnapshotTimer saves the store periodically; the final save happens at
// shutdown in the serve path.
func runSnapshotTimer(ctx context.Context, st *store.Store, fs *store.FileStore, interval time.Duration, logger *slog.Logger) error {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := fs.Save(st.Snapshot()); err != nil {
				logger.Warn("snapshot_save_error", "error", err.Error())
			}
		}
	}
}

// Built-in diagnostics commands. Real bot commands (AI replies, media
// conversion) live with the excluded collaborators and register themselves
// the same way.
func registerBuiltinCommands(adapter *ingest.Adapter, st *store.Store, logger *slog.Logger) {
	adapter.RegisterCommand("ping", func(ctx context.Context, sess *session.Session, cmd ingest.CommandContext) error {
		logger.Info("command_ping", "actor", sess.ActorID(), "chat", cmd.ChatJID)
		return nil
	})
	adapter.RegisterCommand("stats", func(ctx context.Context, sess *session.Session, cmd ingest.CommandContext) error {
		counts := st.Counts()
		logger.Info("command_stats",
			"actor", sess.ActorID(),
			"chat", cmd.ChatJID,
			"messages", counts["messages"],
			"chats", counts["chats"],
			"contacts", counts["contacts"],
		)
		return nil
	})
}
