// Package journal is the append-only trade event log. Each entry is one
// JSON line; the file is opened O_APPEND so a crash mid-run can at worst
// truncate the final line, never corrupt earlier ones. Replay at startup
// rebuilds the ledger from the surviving lines.
package journal

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/crossvenue/arbot/internal/config"
	"github.com/crossvenue/arbot/internal/domain"
)

// Writer appends trade events to a JSONL file, rotating it when the
// configured byte threshold is crossed. Rotated segments are handed to
// the archiver when one is attached.
type Writer struct {
	logger *slog.Logger
	cfg    config.JournalConfig

	mu       sync.Mutex
	f        *os.File
	size     int64
	closed   bool
	onRotate func(path string)
	now      func() time.Time
}

var _ domain.Journal = (*Writer)(nil)

// NewWriter opens (or creates) the journal file for appending.
func NewWriter(cfg config.JournalConfig, logger *slog.Logger) (*Writer, error) {
	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("journal: create dir: %w", err)
		}
	}
	f, err := os.OpenFile(cfg.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", cfg.Path, err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("journal: stat %s: %w", cfg.Path, err)
	}
	return &Writer{
		logger: logger.With(slog.String("component", "journal")),
		cfg:    cfg,
		f:      f,
		size:   st.Size(),
		now:    time.Now,
	}, nil
}

// OnRotate registers a callback invoked with the path of each rotated
// segment. Attach it before the engine starts ticking.
func (w *Writer) OnRotate(fn func(path string)) {
	w.mu.Lock()
	w.onRotate = fn
	w.mu.Unlock()
}

// Append writes one entry as a single JSON line and syncs it to disk.
// The write is atomic at the line level: the entry is marshaled first,
// so a marshal failure never leaves a partial line behind.
func (w *Writer) Append(ctx context.Context, e domain.JournalEntry) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("journal: append: %w", err)
	}
	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("journal: marshal %s entry: %w", e.Type, err)
	}
	line = append(line, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return domain.ErrJournalClosed
	}
	if _, err := w.f.Write(line); err != nil {
		return fmt.Errorf("journal: write %s entry: %w", e.Type, err)
	}
	if err := w.f.Sync(); err != nil {
		return fmt.Errorf("journal: sync: %w", err)
	}
	w.size += int64(len(line))
	if w.cfg.RotateBytes > 0 && w.size >= w.cfg.RotateBytes {
		if err := w.rotateLocked(); err != nil {
			// The active file is still valid; rotation retries on the
			// next append.
			w.logger.Error("rotate failed", slog.String("error", err.Error()))
		}
	}
	return nil
}

// rotateLocked moves the active file aside and reopens a fresh one.
// OPEN lines whose positions were never closed are rewritten into the
// fresh file first, so replaying the active file alone always restores
// every open position no matter how many segments rotated away.
func (w *Writer) rotateLocked() error {
	if err := w.f.Close(); err != nil {
		return fmt.Errorf("close active: %w", err)
	}
	carried, err := unresolvedOpens(w.cfg.Path)
	if err != nil {
		f, oerr := os.OpenFile(w.cfg.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if oerr != nil {
			return fmt.Errorf("reopen after failed scan: %w", oerr)
		}
		w.f = f
		return fmt.Errorf("scan for open positions: %w", err)
	}
	rotated := fmt.Sprintf("%s.%s", w.cfg.Path, w.now().UTC().Format("20060102T150405"))
	if err := os.Rename(w.cfg.Path, rotated); err != nil {
		f, oerr := os.OpenFile(w.cfg.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if oerr != nil {
			return fmt.Errorf("reopen after failed rename: %w", oerr)
		}
		w.f = f
		return fmt.Errorf("rename: %w", err)
	}
	f, err := os.OpenFile(w.cfg.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("reopen: %w", err)
	}
	w.f = f
	w.size = 0
	for _, line := range carried {
		if _, err := w.f.Write(line); err != nil {
			return fmt.Errorf("carry open position forward: %w", err)
		}
		w.size += int64(len(line))
	}
	if len(carried) > 0 {
		if err := w.f.Sync(); err != nil {
			return fmt.Errorf("sync carried positions: %w", err)
		}
	}
	w.logger.Info("journal rotated",
		slog.String("segment", rotated),
		slog.Int("open_positions_carried", len(carried)))
	if w.onRotate != nil {
		go w.onRotate(rotated)
	}
	return nil
}

// unresolvedOpens returns the raw OPEN lines in the file at path whose
// positions have no later CLOSE, in their original order. Lines that do
// not decode are ignored; replay counts those from the segment itself.
func unresolvedOpens(path string) ([][]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	index := make(map[string]int)
	var lines [][]byte
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var e domain.JournalEntry
		if err := json.Unmarshal(line, &e); err != nil {
			continue
		}
		switch e.Type {
		case domain.EventOpen:
			index[e.Position.ID] = len(lines)
			kept := make([]byte, 0, len(line)+1)
			kept = append(kept, line...)
			lines = append(lines, append(kept, '\n'))
		case domain.EventClose:
			if i, ok := index[e.Position.ID]; ok {
				lines[i] = nil
				delete(index, e.Position.ID)
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	carried := lines[:0]
	for _, l := range lines {
		if l != nil {
			carried = append(carried, l)
		}
	}
	return carried, nil
}

// Close flushes and closes the journal. Appends after Close fail with
// ErrJournalClosed.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	if err := w.f.Sync(); err != nil {
		w.f.Close()
		return fmt.Errorf("journal: sync on close: %w", err)
	}
	return w.f.Close()
}
