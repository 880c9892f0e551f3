package journal

import (
	"context"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/crossvenue/arbot/internal/domain"
)

// Archiver uploads rotated journal segments to object storage and
// removes the local copy once the upload lands. Wire its Archive method
// to Writer.OnRotate.
type Archiver struct {
	logger *slog.Logger
	blob   domain.BlobWriter
	prefix string
}

// NewArchiver builds an archiver that stores segments under prefix.
func NewArchiver(blob domain.BlobWriter, prefix string, logger *slog.Logger) *Archiver {
	return &Archiver{
		logger: logger.With(slog.String("component", "journal_archiver")),
		blob:   blob,
		prefix: prefix,
	}
}

// Archive uploads one rotated segment. Failures leave the local file in
// place so nothing durable is lost; the segment just stays on disk.
func (a *Archiver) Archive(segment string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	data, err := os.ReadFile(segment)
	if err != nil {
		a.logger.Error("read rotated segment",
			slog.String("segment", segment),
			slog.String("error", err.Error()))
		return
	}

	key := path.Join(a.prefix, filepath.Base(segment))
	if err := a.blob.Put(ctx, key, data, "application/x-ndjson"); err != nil {
		a.logger.Error("upload rotated segment",
			slog.String("segment", segment),
			slog.String("key", key),
			slog.String("error", err.Error()))
		return
	}
	if err := os.Remove(segment); err != nil {
		a.logger.Warn("remove archived segment",
			slog.String("segment", segment),
			slog.String("error", err.Error()))
		return
	}
	a.logger.Info("journal segment archived",
		slog.String("key", key),
		slog.Int("bytes", len(data)))
}
