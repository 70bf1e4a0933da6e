// Copies a document to another directory, committing into git when possible.

package jsonlsheet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// CopyTo implements sheet.Document. dest is a directory, created if needed.
// When dest lies inside a git working tree, the copied files are committed.
func (d *Dir) CopyTo(ctx context.Context, dest string) error {
	if dest == "" {
		return errors.New("empty copy destination")
	}
	if err := os.MkdirAll(dest, 0o755); err != nil { //nolint:gosec // G301: 0o755 is intentional for data directories
		return fmt.Errorf("failed to create %s: %w", dest, err)
	}
	dst, err := realPath(dest)
	if err != nil {
		return err
	}
	src, err := realPath(d.root)
	if err != nil {
		return err
	}
	if dst == src {
		return fmt.Errorf("cannot copy %s onto itself", d.root)
	}
	names, err := d.Sheets(ctx)
	if err != nil {
		return err
	}

	d.mu.Lock()
	files := make([]string, 0, len(names))
	for _, name := range names {
		data, err := os.ReadFile(d.path(name))
		if err == nil {
			p := filepath.Join(dst, name+ext)
			err = os.WriteFile(p, data, 0o644) //nolint:gosec // G306: sheet files are not secret
			files = append(files, p)
		}
		if err != nil {
			d.mu.Unlock()
			return fmt.Errorf("failed to copy sheet %q: %w", name, err)
		}
	}
	d.mu.Unlock()
	return d.commit(ctx, dst, files)
}

// commit records files in the git repository containing dir, if any.
func (d *Dir) commit(ctx context.Context, dir string, files []string) error {
	repo, err := gogit.PlainOpenWithOptions(dir, &gogit.PlainOpenOptions{DetectDotGit: true})
	if errors.Is(err, gogit.ErrRepositoryNotExists) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to open git repository at %s: %w", dir, err)
	}
	w, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("failed to get worktree: %w", err)
	}
	root := w.Filesystem.Root()
	rels := make([]string, 0, len(files))
	for _, f := range files {
		rel, err := filepath.Rel(root, f)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if _, err := w.Add(rel); err != nil {
			return fmt.Errorf("failed to stage %s: %w", rel, err)
		}
		rels = append(rels, rel)
	}

	status, err := w.Status()
	if err != nil {
		return fmt.Errorf("failed to get worktree status: %w", err)
	}
	changed := false
	for _, rel := range rels {
		if s, ok := status[rel]; ok && s.Staging != gogit.Unmodified && s.Staging != gogit.Untracked {
			changed = true
		}
	}
	if !changed {
		return nil
	}

	now := time.Now()
	sig := &object.Signature{Name: d.opts.Author, Email: d.opts.Email, When: now}
	msg := fmt.Sprintf("Archive %s\n\n%d sheets copied at %s.", filepath.Base(d.root), len(rels), now.UTC().Format(time.RFC3339))
	h, err := w.Commit(msg, &gogit.CommitOptions{Author: sig, Committer: sig})
	if err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	slog.InfoContext(ctx, "jsonlsheet: committed archive", "repo", root, "commit", h.String(), "sheets", len(rels))
	return nil
}

func realPath(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}
	return filepath.EvalSymlinks(abs)
}
