package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fxamacker/cbor/v2"
	"github.com/itxrex07/rexwa-sub000/internal/fsstore"
	"github.com/itxrex07/rexwa-sub000/internal/metrics"
	"github.com/klauspost/compress/gzip"
)

type Encoding string

const (
	EncodingJSON Encoding = "json"
	EncodingCBOR Encoding = "cbor"
)

var gzipMagic = []byte{0x1f, 0x8b}

type FileStoreOptions struct {
	Encoding Encoding // json (default) or cbor
	Compress bool     // gzip the encoded snapshot
	Logger   *slog.Logger
}

// FileStore persists snapshots durably: each save writes a temp file, rotates
// the previous snapshot to a .backup sibling, then renames into place. Load
// prefers the primary file and falls back to the backup, so a crash mid-write
// never loses the last good snapshot.
type FileStore struct {
	mu       sync.Mutex
	path     string
	backup   string
	encoding Encoding
	compress bool
	logger   *slog.Logger
}

func NewFileStore(dir string, opts FileStoreOptions) (*FileStore, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, fmt.Errorf("store dir is required")
	}
	encoding := opts.Encoding
	switch encoding {
	case "":
		encoding = EncodingJSON
	case EncodingJSON, EncodingCBOR:
	default:
		return nil, fmt.Errorf("unknown snapshot encoding: %s", encoding)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	name := "store." + string(encoding)
	if opts.Compress {
		name += ".gz"
	}
	path := filepath.Join(filepath.Clean(dir), name)
	return &FileStore{
		path:     path,
		backup:   path + ".backup",
		encoding: encoding,
		compress: opts.Compress,
		logger:   logger,
	}, nil
}

func (f *FileStore) Path() string {
	return f.path
}

func (f *FileStore) Save(snap Snapshot) error {
	if snap.Version == 0 {
		snap.Version = snapshotFormatVersion
	}
	data, err := f.encode(snap)
	if err != nil {
		metrics.SnapshotOpsTotal.WithLabelValues("save", "error").Inc()
		return err
	}

	f.mu.Lock()
	err = fsstore.WriteAtomicRotate(f.path, f.backup, data, fsstore.FileOptions{})
	f.mu.Unlock()
	if err != nil {
		metrics.SnapshotOpsTotal.WithLabelValues("save", "error").Inc()
		return fmt.Errorf("save snapshot: %w", err)
	}
	metrics.SnapshotOpsTotal.WithLabelValues("save", "ok").Inc()
	f.logger.Debug("snapshot_saved", "path", f.path, "bytes", len(data), "messages", snap.Stats.Messages)
	return nil
}

// Load returns (snapshot, found, err). found is false both for a fresh state
// dir and for a total parse failure; the error reports the latter so callers
// can log it and start with an empty store either way.
func (f *FileStore) Load() (Snapshot, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	snap, found, primaryErr := f.loadPath(f.path)
	if found {
		metrics.SnapshotOpsTotal.WithLabelValues("load", "ok").Inc()
		return snap, true, nil
	}
	if primaryErr != nil {
		f.logger.Warn("snapshot_load_error", "path", f.path, "error", primaryErr.Error())
	}

	snap, found, backupErr := f.loadPath(f.backup)
	if found {
		metrics.SnapshotOpsTotal.WithLabelValues("load", "backup").Inc()
		f.logger.Warn("snapshot_recovered_from_backup", "path", f.backup)
		return snap, true, nil
	}
	if backupErr != nil {
		f.logger.Warn("snapshot_load_error", "path", f.backup, "error", backupErr.Error())
	}

	if primaryErr == nil && backupErr == nil {
		metrics.SnapshotOpsTotal.WithLabelValues("load", "missing").Inc()
		return Snapshot{}, false, nil
	}
	metrics.SnapshotOpsTotal.WithLabelValues("load", "error").Inc()
	err := primaryErr
	if err == nil {
		err = backupErr
	}
	return Snapshot{}, false, err
}

func (f *FileStore) loadPath(path string) (Snapshot, bool, error) {
	data, exists, err := fsstore.ReadBytes(path)
	if err != nil {
		return Snapshot{}, false, err
	}
	if !exists || len(bytes.TrimSpace(data)) == 0 {
		return Snapshot{}, false, nil
	}
	snap, err := decodeSnapshot(data)
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("decode snapshot %s: %w", path, err)
	}
	return snap, true, nil
}

func (f *FileStore) encode(snap Snapshot) ([]byte, error) {
	var data []byte
	var err error
	switch f.encoding {
	case EncodingCBOR:
		data, err = cbor.Marshal(snap)
	default:
		data, err = json.MarshalIndent(snap, "", "  ")
		if err == nil {
			data = append(data, '\n')
		}
	}
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	if !f.compress {
		return data, nil
	}

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		_ = zw.Close()
		return nil, fmt.Errorf("compress snapshot: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("compress snapshot: %w", err)
	}
	return buf.Bytes(), nil
}

// decodeSnapshot sniffs the on-disk format instead of trusting config, so an
// encoding or compression change keeps prior snapshots loadable.
func decodeSnapshot(data []byte) (Snapshot, error) {
	if bytes.HasPrefix(data, gzipMagic) {
		zr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return Snapshot{}, err
		}
		raw, err := io.ReadAll(zr)
		closeErr := zr.Close()
		if err != nil {
			return Snapshot{}, err
		}
		if closeErr != nil {
			return Snapshot{}, closeErr
		}
		data = raw
	}

	var snap Snapshot
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		if err := json.Unmarshal(trimmed, &snap); err != nil {
			return Snapshot{}, err
		}
	} else {
		if err := cbor.Unmarshal(data, &snap); err != nil {
			return Snapshot{}, err
		}
	}
	if snap.Version <= 0 || snap.Version > snapshotFormatVersion {
		return Snapshot{}, fmt.Errorf("unsupported snapshot version: %d", snap.Version)
	}
	return snap, nil
}
