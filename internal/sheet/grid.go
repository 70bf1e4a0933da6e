package sheet

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Grid is a sparse-at-the-edges rectangular cell buffer implementing the cell
// arithmetic shared by the Sheet implementations in this module. Rows may be
// ragged; missing cells read as nil.
//
// Grid is not safe for concurrent use.
type Grid [][]any

// Read returns rows × cols values starting at the 1-based (row, col).
func (g Grid) Read(row, col, rows, cols int) ([][]any, error) {
	if err := checkPos(row, col); err != nil {
		return nil, err
	}
	if rows < 0 || cols < 0 {
		return nil, fmt.Errorf("invalid range size %dx%d", rows, cols)
	}
	out := make([][]any, rows)
	for i := range out {
		out[i] = make([]any, cols)
		r := row - 1 + i
		if r >= len(g) {
			continue
		}
		for j := range cols {
			if c := col - 1 + j; c < len(g[r]) {
				out[i][j] = g[r][c]
			}
		}
	}
	return out, nil
}

// Write assigns values starting at the 1-based (row, col), growing the grid as
// needed.
func (g *Grid) Write(row, col int, values [][]any) error {
	if err := checkPos(row, col); err != nil {
		return err
	}
	for i, vals := range values {
		r := row - 1 + i
		for len(*g) <= r {
			*g = append(*g, nil)
		}
		line := (*g)[r]
		for len(line) < col-1+len(vals) {
			line = append(line, nil)
		}
		for j, v := range vals {
			line[col-1+j] = normalize(v)
		}
		(*g)[r] = line
	}
	return nil
}

// Append writes values on the row after LastRow.
func (g *Grid) Append(values []any) error {
	return g.Write(g.LastRow()+1, 1, [][]any{values})
}

// LastRow returns the highest 1-based row holding a non-blank cell.
func (g Grid) LastRow() int {
	for r := len(g) - 1; r >= 0; r-- {
		for _, v := range g[r] {
			if !IsBlank(v) {
				return r + 1
			}
		}
	}
	return 0
}

// LastColumn returns the highest 1-based column holding a non-blank cell.
func (g Grid) LastColumn() int {
	last := 0
	for _, line := range g {
		for c := len(line) - 1; c >= last; c-- {
			if !IsBlank(line[c]) {
				last = c + 1
				break
			}
		}
	}
	return last
}

// Clear blanks n rows starting at the 1-based row.
func (g Grid) Clear(row, n int) error {
	if err := checkPos(row, 1); err != nil {
		return err
	}
	for r := row - 1; r < row-1+n && r < len(g); r++ {
		g[r] = nil
	}
	return nil
}

// Delete removes n rows starting at the 1-based row.
func (g *Grid) Delete(row, n int) error {
	if err := checkPos(row, 1); err != nil {
		return err
	}
	start := row - 1
	if start >= len(*g) || n <= 0 {
		return nil
	}
	end := min(start+n, len(*g))
	*g = append((*g)[:start], (*g)[end:]...)
	return nil
}

// Find returns every cell matching query in row-major order.
func (g Grid) Find(query string, opts FindOptions) ([]Cell, error) {
	match, err := NewMatcher(query, opts)
	if err != nil {
		return nil, err
	}
	var cells []Cell
	for r, line := range g {
		for c, v := range line {
			if !IsBlank(v) && match(CellString(v)) {
				cells = append(cells, Cell{Row: r + 1, Col: c + 1})
			}
		}
	}
	return cells, nil
}

// Clone returns a deep copy of the grid.
func (g Grid) Clone() Grid {
	out := make(Grid, len(g))
	for i, line := range g {
		out[i] = append([]any(nil), line...)
	}
	return out
}

// NewMatcher compiles query into a predicate over cell text.
func NewMatcher(query string, opts FindOptions) (func(string) bool, error) {
	if opts.Regex {
		expr := query
		if opts.MatchCell {
			expr = "^(?:" + expr + ")$"
		}
		if !opts.MatchCase {
			expr = "(?i)" + expr
		}
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("invalid search pattern %q: %w", query, err)
		}
		return re.MatchString, nil
	}
	if !opts.MatchCase {
		query = strings.ToLower(query)
	}
	return func(s string) bool {
		if !opts.MatchCase {
			s = strings.ToLower(s)
		}
		if opts.MatchCell {
			return s == query
		}
		return strings.Contains(s, query)
	}, nil
}

// IsBlank reports whether v is an empty cell.
func IsBlank(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	default:
		return false
	}
}

// CellString returns the display text of a cell value. Whole floats print
// without a fractional part so that 2 and "2" render identically.
func CellString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}

// normalize stores integers as float64, the way a JSON round trip would.
func normalize(v any) any {
	switch t := v.(type) {
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case int32:
		return float64(t)
	case float32:
		return float64(t)
	case string:
		if t == "" {
			return nil
		}
		return t
	default:
		return v
	}
}

func checkPos(row, col int) error {
	if row < 1 || col < 1 {
		return fmt.Errorf("invalid cell position R%dC%d", row, col)
	}
	return nil
}
