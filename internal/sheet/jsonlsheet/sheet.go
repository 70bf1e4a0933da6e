package jsonlsheet

import (
	"context"

	"github.com/maruel/sheetdb/internal/sheet"
)

type fileSheet struct {
	d    *Dir
	name string
}

func (s *fileSheet) Name() string {
	return s.name
}

func (s *fileSheet) ReadRange(ctx context.Context, row, col, rows, cols int) ([][]any, error) {
	var out [][]any
	err := s.d.view(ctx, s.name, func(g sheet.Grid) error {
		var err error
		out, err = g.Read(row, col, rows, cols)
		return err
	})
	return out, err
}

func (s *fileSheet) WriteRange(ctx context.Context, row, col int, values [][]any) error {
	return s.d.update(ctx, s.name, func(g *sheet.Grid) error {
		return g.Write(row, col, values)
	})
}

// AppendRow appends a line to the file unless it ends with blank rows, in
// which case the file is rewritten.
func (s *fileSheet) AppendRow(ctx context.Context, values []any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	return s.d.locked(ctx, s.name, func() error {
		g, err := s.d.load(s.name)
		if err != nil {
			return err
		}
		if g.LastRow() == len(g) {
			return s.d.appendLine(s.name, values)
		}
		if err := g.Append(values); err != nil {
			return err
		}
		return s.d.save(s.name, g)
	})
}

func (s *fileSheet) LastRow(ctx context.Context) (int, error) {
	n := 0
	err := s.d.view(ctx, s.name, func(g sheet.Grid) error {
		n = g.LastRow()
		return nil
	})
	return n, err
}

func (s *fileSheet) LastColumn(ctx context.Context) (int, error) {
	n := 0
	err := s.d.view(ctx, s.name, func(g sheet.Grid) error {
		n = g.LastColumn()
		return nil
	})
	return n, err
}

func (s *fileSheet) ClearRows(ctx context.Context, row, n int) error {
	return s.d.update(ctx, s.name, func(g *sheet.Grid) error {
		return g.Clear(row, n)
	})
}

func (s *fileSheet) DeleteRows(ctx context.Context, row, n int) error {
	return s.d.update(ctx, s.name, func(g *sheet.Grid) error {
		return g.Delete(row, n)
	})
}

func (s *fileSheet) Find(ctx context.Context, query string, opts sheet.FindOptions) ([]sheet.Cell, error) {
	var cells []sheet.Cell
	err := s.d.view(ctx, s.name, func(g sheet.Grid) error {
		var err error
		cells, err = g.Find(query, opts)
		return err
	})
	return cells, err
}
