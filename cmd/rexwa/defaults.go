package main

import (
	"time"

	"github.com/spf13/viper"
)

func initViperDefaults() {
	// Global
	viper.SetDefault("state_dir", "~/.rexwa")
	viper.SetDefault("logging.format", "text")
	viper.SetDefault("logging.add_source", false)

	// Store
	viper.SetDefault("store.dir_name", "store")
	viper.SetDefault("store.max_messages_per_chat", 1000)
	viper.SetDefault("store.max_chats", 500)
	viper.SetDefault("store.recent_cache_size", 200)
	viper.SetDefault("store.chat_cleanup_delay", 2*time.Second)
	viper.SetDefault("store.presence_max_age", 12*time.Hour)
	viper.SetDefault("store.notify_window", 100*time.Millisecond)

	// Snapshot persistence
	viper.SetDefault("snapshot.encoding", "json")
	viper.SetDefault("snapshot.compress", false)
	viper.SetDefault("snapshot.interval", 5*time.Minute)

	// Janitor
	viper.SetDefault("janitor.cleanup_interval", 5*time.Minute)
	viper.SetDefault("janitor.mem_check_interval", 30*time.Second)
	viper.SetDefault("janitor.mem_threshold_bytes", int64(512*1024*1024))

	// Sessions
	viper.SetDefault("sessions.dir_name", "work")
	viper.SetDefault("sessions.max_concurrent", 5)
	viper.SetDefault("sessions.job_timeout", 30*time.Second)
	viper.SetDefault("sessions.max_idle_age", 5*time.Minute)
	viper.SetDefault("sessions.reap_interval", 60*time.Second)

	// Ingest
	viper.SetDefault("ingest.command_prefix", "!")
	viper.SetDefault("ingest.feed_url", "")
	viper.SetDefault("ingest.reconnect_delay", 2*time.Second)

	// Observe server
	viper.SetDefault("observe.bind", "127.0.0.1")
	viper.SetDefault("observe.port", 8480)
}
