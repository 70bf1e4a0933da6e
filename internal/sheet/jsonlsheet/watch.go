package jsonlsheet

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch calls fn with the name of every sheet whose file is written, created,
// removed or renamed, until ctx is done. Writes made through d are reported
// too.
func (d *Dir) Watch(ctx context.Context, fn func(name string)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = w.Close() }()
	if err := w.Add(d.root); err != nil {
		return fmt.Errorf("failed to watch %s: %w", d.root, err)
	}
	const ops = fsnotify.Write | fsnotify.Create | fsnotify.Remove | fsnotify.Rename
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			if event.Op&ops == 0 {
				continue
			}
			if name, ok := sheetName(filepath.Base(event.Name)); ok {
				fn(name)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			slog.WarnContext(ctx, "jsonlsheet: watch error", "dir", d.root, "err", err)
		}
	}
}
