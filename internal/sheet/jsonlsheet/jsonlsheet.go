// Package jsonlsheet implements sheet.Document on a directory of JSONL files.
//
// Each sheet is stored in <name>.jsonl with one JSON array per line, line N
// holding row N. Blank rows are written as []. Every call reads the file
// again, so edits made by other processes are seen on the next call.
//
// Locks are files under .locks/ holding the owner's ksid, which also dates
// the acquisition. Every write holds the sheet's write lock,
// .locks/<name>.write, from the read of the file to the rename of its
// replacement, so processes sharing the directory never lose each other's
// writes.
package jsonlsheet

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/maruel/sheetdb/internal/sheet"
)

const (
	ext     = ".jsonl"
	lockDir = ".locks"
	// writeStale is the age after which a write lock is assumed abandoned by
	// a crashed process.
	writeStale = time.Minute
)

// Options configures a Dir.
type Options struct {
	// StaleLock is the age after which a lock file is considered abandoned and
	// removed. 0 never breaks locks.
	StaleLock time.Duration
	// PollInterval is the delay between lock attempts. Defaults to 20ms.
	PollInterval time.Duration
	// WriteTimeout bounds the wait for a sheet's write lock. Defaults to 30s.
	WriteTimeout time.Duration
	// Author and Email sign archive commits.
	Author string
	Email  string
}

// Dir is a document stored in a directory.
type Dir struct {
	root string
	opts Options
	// mu serializes read-modify-write cycles within the process.
	mu sync.Mutex
}

// Open returns the document rooted at root, creating the directory.
func Open(root string, opts *Options) (*Dir, error) {
	if err := os.MkdirAll(root, 0o755); err != nil { //nolint:gosec // G301: 0o755 is intentional for data directories
		return nil, fmt.Errorf("failed to create %s: %w", root, err)
	}
	d := &Dir{root: root}
	if opts != nil {
		d.opts = *opts
	}
	if d.opts.PollInterval <= 0 {
		d.opts.PollInterval = 20 * time.Millisecond
	}
	if d.opts.WriteTimeout <= 0 {
		d.opts.WriteTimeout = 30 * time.Second
	}
	if d.opts.Author == "" {
		d.opts.Author = "sheetdb"
	}
	if d.opts.Email == "" {
		d.opts.Email = "sheetdb@localhost"
	}
	return d, nil
}

// Root returns the document directory.
func (d *Dir) Root() string {
	return d.root
}

// Sheets implements sheet.Document. Sheets are in file name order.
func (d *Dir) Sheets(context.Context) ([]string, error) {
	entries, err := os.ReadDir(d.root)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", d.root, err)
	}
	var names []string
	for _, e := range entries {
		if name, ok := sheetName(e.Name()); ok && e.Type().IsRegular() {
			names = append(names, name)
		}
	}
	return names, nil
}

// Sheet implements sheet.Document.
func (d *Dir) Sheet(_ context.Context, name string) (sheet.Sheet, error) {
	if err := validName(name); err != nil {
		return nil, err
	}
	if _, err := os.Stat(d.path(name)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%q: %w", name, sheet.ErrSheetNotFound)
		}
		return nil, err
	}
	return &fileSheet{d: d, name: name}, nil
}

// Create adds the sheet name with a header row. It fails if the sheet exists.
func (d *Dir) Create(ctx context.Context, name string, headers []string) error {
	if err := validName(name); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.locked(ctx, name, func() error {
		if _, err := os.Stat(d.path(name)); err == nil {
			return fmt.Errorf("sheet %q: %w", name, fs.ErrExist)
		}
		row := make([]any, len(headers))
		for i, h := range headers {
			row[i] = h
		}
		return d.save(name, sheet.Grid{row})
	})
}

// Lock implements sheet.Document. Each call returns a new handle; handles of
// the same name exclude each other across processes.
func (d *Dir) Lock(name string) sheet.Lock {
	return &fileLock{d: d, name: name, path: filepath.Join(d.root, lockDir, name+".lock"), stale: d.opts.StaleLock}
}

// writeLock returns a handle on the lock guarding writes to the sheet name.
func (d *Dir) writeLock(name string) *fileLock {
	return &fileLock{d: d, name: name + " write", path: filepath.Join(d.root, lockDir, name+".write"), stale: writeStale}
}

// locked runs fn while holding the write lock of the sheet name. d.mu must be
// held.
func (d *Dir) locked(ctx context.Context, name string, fn func() error) (err error) {
	l := d.writeLock(name)
	ok, err := l.TryLock(ctx, d.opts.WriteTimeout)
	if err != nil {
		return fmt.Errorf("sheet %q: %w", name, err)
	}
	if !ok {
		return fmt.Errorf("sheet %q: write lock not acquired within %s", name, d.opts.WriteTimeout)
	}
	defer func() {
		err = errors.Join(err, l.Unlock(context.WithoutCancel(ctx)))
	}()
	return fn()
}

func (d *Dir) path(name string) string {
	return filepath.Join(d.root, name+ext)
}

// load reads the sheet file. Empty lines are blank rows.
func (d *Dir) load(name string) (sheet.Grid, error) {
	f, err := os.Open(d.path(name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%q: %w", name, sheet.ErrSheetNotFound)
		}
		return nil, fmt.Errorf("failed to open sheet %q: %w", name, err)
	}
	defer func() {
		_ = f.Close()
	}()

	var g sheet.Grid
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16<<20)
	for n := 1; scanner.Scan(); n++ {
		line := scanner.Bytes()
		if len(line) == 0 {
			g = append(g, nil)
			continue
		}
		var row []any
		if err := json.Unmarshal(line, &row); err != nil {
			return nil, fmt.Errorf("failed to unmarshal %s line %d: %w", d.path(name), n, err)
		}
		g = append(g, row)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read sheet %q: %w", name, err)
	}
	return g, nil
}

// save atomically replaces the sheet file with the used area of g.
func (d *Dir) save(name string, g sheet.Grid) error {
	f, err := os.CreateTemp(d.root, "."+name+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create sheet %q: %w", name, err)
	}
	tmp := f.Name()
	w := bufio.NewWriter(f)
	err = writeRows(w, g[:g.LastRow()])
	if err == nil {
		err = w.Flush()
	}
	if err = errors.Join(err, f.Close()); err == nil {
		err = os.Rename(tmp, d.path(name))
	}
	if err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to write sheet %q: %w", name, err)
	}
	return nil
}

// appendLine writes row at the end of the file, which must not end with
// blank rows.
func (d *Dir) appendLine(name string, row []any) error {
	f, err := os.OpenFile(d.path(name), os.O_APPEND|os.O_WRONLY, 0o644) //nolint:gosec // G302: sheet files are not secret
	if err != nil {
		return fmt.Errorf("failed to open sheet %q for append: %w", name, err)
	}
	w := bufio.NewWriter(f)
	err = writeRows(w, sheet.Grid{row})
	if err == nil {
		err = w.Flush()
	}
	if err = errors.Join(err, f.Close()); err != nil {
		return fmt.Errorf("failed to append to sheet %q: %w", name, err)
	}
	return nil
}

// view runs fn on the current content of the sheet.
func (d *Dir) view(ctx context.Context, name string, fn func(sheet.Grid) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	g, err := d.load(name)
	if err != nil {
		return err
	}
	return fn(g)
}

// update runs fn on the current content of the sheet and saves the result.
func (d *Dir) update(ctx context.Context, name string, fn func(*sheet.Grid) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.locked(ctx, name, func() error {
		g, err := d.load(name)
		if err != nil {
			return err
		}
		if err := fn(&g); err != nil {
			return err
		}
		return d.save(name, g)
	})
}

func writeRows(w *bufio.Writer, rows sheet.Grid) error {
	for _, row := range rows {
		end := len(row)
		for end > 0 && sheet.IsBlank(row[end-1]) {
			end--
		}
		line := row[:end]
		if line == nil {
			line = []any{}
		}
		data, err := json.Marshal(line)
		if err != nil {
			return fmt.Errorf("failed to marshal row: %w", err)
		}
		if _, err := w.Write(data); err != nil {
			return err
		}
		if err := w.WriteByte('\n'); err != nil {
			return err
		}
	}
	return nil
}

// sheetName returns the sheet stored in the file base, if any.
func sheetName(base string) (string, bool) {
	if strings.HasPrefix(base, ".") || !strings.HasSuffix(base, ext) {
		return "", false
	}
	name := strings.TrimSuffix(base, ext)
	return name, name != ""
}

func validName(name string) error {
	if name == "" || strings.HasPrefix(name, ".") || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("invalid sheet name %q", name)
	}
	return nil
}
