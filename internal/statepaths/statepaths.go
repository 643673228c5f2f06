package statepaths

import (
	"path/filepath"
	"strings"

	"github.com/itxrex07/rexwa-sub000/internal/fsstore"
	"github.com/spf13/viper"
)

func StateDir() string {
	dir := strings.TrimSpace(viper.GetString("state_dir"))
	if dir == "" {
		dir = "~/.rexwa"
	}
	return filepath.Clean(fsstore.ExpandHomePath(dir))
}

func StoreDir() string {
	return childDir(viper.GetString("store.dir_name"), "store")
}

func WorkDir() string {
	return childDir(viper.GetString("sessions.dir_name"), "work")
}

func childDir(name string, fallback string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		name = fallback
	}
	return filepath.Join(StateDir(), name)
}
