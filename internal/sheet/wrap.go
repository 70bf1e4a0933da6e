// Wraps a Document so every backing-store call goes through a hook.

package sheet

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"
)

// Hook intercepts one backing-store call. op names the call ("ReadRange",
// "WriteRange", ...). The hook must call call at most once and return its
// error.
type Hook func(ctx context.Context, sheet, op string, call func() error) error

// Wrap returns a Document whose sheet and document calls go through hook.
// Locks are returned unwrapped.
func Wrap(doc Document, hook Hook) Document {
	return &hooked{doc: doc, hook: hook}
}

// Throttle limits the rate of calls to doc. Each call waits on lim, so a
// cancelled context aborts the wait.
func Throttle(doc Document, lim *rate.Limiter) Document {
	return Wrap(doc, func(ctx context.Context, _, _ string, call func() error) error {
		if err := lim.Wait(ctx); err != nil {
			return err
		}
		return call()
	})
}

var (
	callsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sheetdb_store_calls_total",
		Help: "Number of backing-store calls by operation and outcome.",
	}, []string{"op", "status"})
	callSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sheetdb_store_call_seconds",
		Help:    "Latency of backing-store calls.",
		Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
	}, []string{"op"})
)

// Collectors returns the metrics updated by Instrument, for registration.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{callsTotal, callSeconds}
}

// Instrument records call counts and latency of doc in the package metrics.
func Instrument(doc Document) Document {
	return Wrap(doc, func(_ context.Context, _, op string, call func() error) error {
		start := time.Now()
		err := call()
		callSeconds.WithLabelValues(op).Observe(time.Since(start).Seconds())
		status := "ok"
		if err != nil {
			status = "error"
		}
		callsTotal.WithLabelValues(op, status).Inc()
		return err
	})
}

type hooked struct {
	doc  Document
	hook Hook
}

func (h *hooked) Sheets(ctx context.Context) ([]string, error) {
	var names []string
	err := h.hook(ctx, "", "Sheets", func() error {
		var err error
		names, err = h.doc.Sheets(ctx)
		return err
	})
	return names, err
}

func (h *hooked) Sheet(ctx context.Context, name string) (Sheet, error) {
	s, err := h.doc.Sheet(ctx, name)
	if err != nil {
		return nil, err
	}
	return &hookedSheet{s: s, hook: h.hook}, nil
}

func (h *hooked) CopyTo(ctx context.Context, dest string) error {
	return h.hook(ctx, "", "CopyTo", func() error { return h.doc.CopyTo(ctx, dest) })
}

func (h *hooked) Lock(name string) Lock {
	return h.doc.Lock(name)
}

type hookedSheet struct {
	s    Sheet
	hook Hook
}

func (h *hookedSheet) Name() string {
	return h.s.Name()
}

func (h *hookedSheet) ReadRange(ctx context.Context, row, col, rows, cols int) ([][]any, error) {
	var out [][]any
	err := h.hook(ctx, h.s.Name(), "ReadRange", func() error {
		var err error
		out, err = h.s.ReadRange(ctx, row, col, rows, cols)
		return err
	})
	return out, err
}

func (h *hookedSheet) WriteRange(ctx context.Context, row, col int, values [][]any) error {
	return h.hook(ctx, h.s.Name(), "WriteRange", func() error { return h.s.WriteRange(ctx, row, col, values) })
}

func (h *hookedSheet) AppendRow(ctx context.Context, values []any) error {
	return h.hook(ctx, h.s.Name(), "AppendRow", func() error { return h.s.AppendRow(ctx, values) })
}

func (h *hookedSheet) LastRow(ctx context.Context) (int, error) {
	var n int
	err := h.hook(ctx, h.s.Name(), "LastRow", func() error {
		var err error
		n, err = h.s.LastRow(ctx)
		return err
	})
	return n, err
}

func (h *hookedSheet) LastColumn(ctx context.Context) (int, error) {
	var n int
	err := h.hook(ctx, h.s.Name(), "LastColumn", func() error {
		var err error
		n, err = h.s.LastColumn(ctx)
		return err
	})
	return n, err
}

func (h *hookedSheet) ClearRows(ctx context.Context, row, n int) error {
	return h.hook(ctx, h.s.Name(), "ClearRows", func() error { return h.s.ClearRows(ctx, row, n) })
}

func (h *hookedSheet) DeleteRows(ctx context.Context, row, n int) error {
	return h.hook(ctx, h.s.Name(), "DeleteRows", func() error { return h.s.DeleteRows(ctx, row, n) })
}

func (h *hookedSheet) Find(ctx context.Context, query string, opts FindOptions) ([]Cell, error) {
	var cells []Cell
	err := h.hook(ctx, h.s.Name(), "Find", func() error {
		var err error
		cells, err = h.s.Find(ctx, query, opts)
		return err
	})
	return cells, err
}
