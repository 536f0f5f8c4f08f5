// Package worker holds background jobs that react to ledger change events.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"spesebook/internal/amqp"
	"spesebook/internal/core"
	"spesebook/internal/log"
)

const (
	backupPrefix = "spese-backup-"
	backupSuffix = ".json"
	// Lexical order of names is chronological order.
	backupStamp = "20060102-150405.000"
)

// Snapshotter produces the export document. *services.LedgerService
// implements it.
type Snapshotter interface {
	ExportSnapshot(ctx context.Context) (core.Snapshot, error)
}

// Recorder receives backup metrics. *metrics.Metrics implements it.
type Recorder interface {
	IncrBackupWritten()
}

// BackupWorker writes a snapshot to disk a little while after the ledger
// stops changing. Bursts of change messages collapse into one backup.
type BackupWorker struct {
	source   Snapshotter
	dir      string
	debounce time.Duration
	keep     int
	metrics  Recorder
	logger   *log.Logger
	now      func() time.Time

	dirty chan struct{}
	mu    sync.Mutex // serializes writes and pruning
}

type BackupConfig struct {
	Dir      string
	Debounce time.Duration
	// Keep is how many backups survive pruning; at least one.
	Keep    int
	Metrics Recorder
	Logger  *log.Logger
}

func NewBackupWorker(source Snapshotter, cfg BackupConfig) *BackupWorker {
	logger := cfg.Logger
	if logger == nil {
		logger = log.FromContext(context.Background())
	}
	keep := cfg.Keep
	if keep < 1 {
		keep = 1
	}
	return &BackupWorker{
		source:   source,
		dir:      cfg.Dir,
		debounce: cfg.Debounce,
		keep:     keep,
		metrics:  cfg.Metrics,
		logger:   logger.WithComponent(log.ComponentWorker),
		now:      time.Now,
		dirty:    make(chan struct{}, 1),
	}
}

// HandleChange marks the ledger as changed. It never blocks and never
// fails, so the message is always acknowledged.
func (w *BackupWorker) HandleChange(ctx context.Context, msg *amqp.ChangeMessage) error {
	w.logger.DebugContext(ctx, "Change received",
		"collection", msg.Collection,
		"op", msg.Op,
		"id", msg.ID)
	w.markDirty()
	return nil
}

func (w *BackupWorker) markDirty() {
	select {
	case w.dirty <- struct{}{}:
	default:
	}
}

// Run writes a backup once no change has arrived for the debounce period.
// Pending changes are flushed before Run returns on cancellation.
func (w *BackupWorker) Run(ctx context.Context) error {
	var (
		timer   *time.Timer
		timerC  <-chan time.Time
		pending bool
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			select {
			case <-w.dirty:
				pending = true
			default:
			}
			if pending {
				if _, err := w.WriteBackup(context.WithoutCancel(ctx)); err != nil {
					w.logger.Error("Final backup failed", log.FieldError, err)
				}
			}
			return ctx.Err()

		case <-w.dirty:
			pending = true
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}
			timerC = timer.C

		case <-timerC:
			timerC = nil
			pending = false
			if _, err := w.WriteBackup(ctx); err != nil {
				w.logger.ErrorContext(ctx, "Backup failed", log.FieldError, err)
				// Retry on the next change.
			}
		}
	}
}

// WriteBackup exports the ledger, writes it atomically into the backup
// directory and prunes old files. It returns the new file's path.
func (w *BackupWorker) WriteBackup(ctx context.Context) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	snap, err := w.source.ExportSnapshot(ctx)
	if err != nil {
		return "", fmt.Errorf("export snapshot: %w", err)
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode snapshot: %w", err)
	}

	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return "", fmt.Errorf("create backup dir: %w", err)
	}
	name := backupPrefix + w.now().UTC().Format(backupStamp) + backupSuffix
	path := filepath.Join(w.dir, name)

	tmp, err := os.CreateTemp(w.dir, ".tmp-"+backupPrefix+"*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("write backup: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("close backup: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("rename backup: %w", err)
	}

	if w.metrics != nil {
		w.metrics.IncrBackupWritten()
	}
	w.logger.InfoContext(ctx, "Backup written",
		log.FieldPath, path,
		"groups", len(snap.Parents),
		"entries", len(snap.Entries))

	if err := w.prune(); err != nil {
		w.logger.WarnContext(ctx, "Failed to prune old backups", log.FieldError, err)
	}
	return path, nil
}

// Backups lists backup file names, oldest first.
func (w *BackupWorker) Backups() ([]string, error) {
	entries, err := os.ReadDir(w.dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read backup dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if n := e.Name(); strings.HasPrefix(n, backupPrefix) && strings.HasSuffix(n, backupSuffix) {
			names = append(names, n)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (w *BackupWorker) prune() error {
	names, err := w.Backups()
	if err != nil {
		return err
	}
	if len(names) <= w.keep {
		return nil
	}
	for _, n := range names[:len(names)-w.keep] {
		if err := os.Remove(filepath.Join(w.dir, n)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove %s: %w", n, err)
		}
	}
	return nil
}

// StartupBackup writes a backup when the directory holds none yet.
func (w *BackupWorker) StartupBackup(ctx context.Context) error {
	names, err := w.Backups()
	if err != nil {
		return err
	}
	if len(names) > 0 {
		w.logger.InfoContext(ctx, "Existing backups found", "count", len(names), "latest", names[len(names)-1])
		return nil
	}
	_, err = w.WriteBackup(ctx)
	return err
}
