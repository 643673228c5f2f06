package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/itxrex07/rexwa-sub000/internal/fsstore"
)

type defaultConfig struct {
	StateDir string `yaml:"state_dir"`
	Logging  struct {
		Level     string `yaml:"level"`
		Format    string `yaml:"format"`
		AddSource bool   `yaml:"add_source"`
	} `yaml:"logging"`
	Store struct {
		MaxMessagesPerChat int    `yaml:"max_messages_per_chat"`
		MaxChats           int    `yaml:"max_chats"`
		RecentCacheSize    int    `yaml:"recent_cache_size"`
		ChatCleanupDelay   string `yaml:"chat_cleanup_delay"`
		PresenceMaxAge     string `yaml:"presence_max_age"`
		NotifyWindow       string `yaml:"notify_window"`
	} `yaml:"store"`
	Snapshot struct {
		Encoding string `yaml:"encoding"`
		Compress bool   `yaml:"compress"`
		Interval string `yaml:"interval"`
	} `yaml:"snapshot"`
	Janitor struct {
		CleanupInterval   string `yaml:"cleanup_interval"`
		MemCheckInterval  string `yaml:"mem_check_interval"`
		MemThresholdBytes int64  `yaml:"mem_threshold_bytes"`
	} `yaml:"janitor"`
	Sessions struct {
		MaxConcurrent int    `yaml:"max_concurrent"`
		JobTimeout    string `yaml:"job_timeout"`
		MaxIdleAge    string `yaml:"max_idle_age"`
		ReapInterval  string `yaml:"reap_interval"`
	} `yaml:"sessions"`
	Ingest struct {
		CommandPrefix  string `yaml:"command_prefix"`
		FeedURL        string `yaml:"feed_url"`
		ReconnectDelay string `yaml:"reconnect_delay"`
	} `yaml:"ingest"`
	Observe struct {
		Bind string `yaml:"bind"`
		Port int    `yaml:"port"`
	} `yaml:"observe"`
}

func renderDefaultConfig() ([]byte, error) {
	var cfg defaultConfig
	cfg.StateDir = "~/.rexwa"
	cfg.Logging.Level = "info"
	cfg.Logging.Format = "text"
	cfg.Store.MaxMessagesPerChat = 1000
	cfg.Store.MaxChats = 500
	cfg.Store.RecentCacheSize = 200
	cfg.Store.ChatCleanupDelay = "2s"
	cfg.Store.PresenceMaxAge = "12h"
	cfg.Store.NotifyWindow = "100ms"
	cfg.Snapshot.Encoding = "json"
	cfg.Snapshot.Interval = "5m"
	cfg.Janitor.CleanupInterval = "5m"
	cfg.Janitor.MemCheckInterval = "30s"
	cfg.Janitor.MemThresholdBytes = 512 * 1024 * 1024
	cfg.Sessions.MaxConcurrent = 5
	cfg.Sessions.JobTimeout = "30s"
	cfg.Sessions.MaxIdleAge = "5m"
	cfg.Sessions.ReapInterval = "60s"
	cfg.Ingest.CommandPrefix = "!"
	cfg.Ingest.FeedURL = "ws://127.0.0.1:8799/events"
	cfg.Ingest.ReconnectDelay = "2s"
	cfg.Observe.Bind = "127.0.0.1"
	cfg.Observe.Port = 8480
	return yaml.Marshal(cfg)
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration helpers",
	}
	cmd.AddCommand(newConfigInitCmd())
	return cmd
}

func newConfigInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init [dir]",
		Short: "Write a default config.yaml",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "~/.rexwa"
			if len(args) == 1 && strings.TrimSpace(args[0]) != "" {
				dir = args[0]
			}
			dir = filepath.Clean(fsstore.ExpandHomePath(dir))
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return err
			}

			cfgPath := filepath.Join(dir, "config.yaml")
			if _, err := os.Stat(cfgPath); err == nil {
				return fmt.Errorf("config already exists: %s", cfgPath)
			}
			body, err := renderDefaultConfig()
			if err != nil {
				return err
			}
			if err := os.WriteFile(cfgPath, body, 0o644); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", cfgPath)
			return nil
		},
	}
}
