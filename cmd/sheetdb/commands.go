package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/maruel/sheetdb/internal/sheet"
	"github.com/maruel/sheetdb/internal/sheetdb"
	"github.com/olekukonko/tablewriter"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type command struct {
	args string
	help string
	run  func(ctx context.Context, e *env, args []string) error
}

var commands map[string]command

func init() {
	commands = map[string]command{
		"inspect": {"", "Print cell usage per collection", cmdInspect},
		"dump":    {"<collection>", "Print every record as JSON lines", cmdDump},
		"find":    {"<collection> <field> <value>", "Print the record whose field equals value", cmdFind},
		"search":  {"[-regex] [-cell] [-case] <collection> <query>", "Full-text search a collection", cmdSearch},
		"load":    {"[-mode upsert|batch|add] <collection>", "Write JSON records read from stdin", cmdLoad},
		"defrag":  {"[collection...]", "Remove blank rows", cmdDefrag},
		"sort":    {"[-desc] <collection> <field>", "Sort a collection by field", cmdSort},
		"wipe":    {"-yes [collection...]", "Delete every record, keeping headers", cmdWipe},
		"archive": {"<dest>", "Copy the document to dest, then wipe it", cmdArchive},
		"watch":   {"", "Log out-of-band edits until interrupted", cmdWatch},
	}
}

// Replaced in tests.
var (
	stdin  io.Reader = os.Stdin
	stdout io.Writer = os.Stdout
)

func wantArgs(args []string, n int, usage string) error {
	if len(args) != n {
		return fmt.Errorf("expected arguments: %s", usage)
	}
	return nil
}

func cmdInspect(ctx context.Context, e *env, args []string) error {
	if err := wantArgs(args, 0, ""); err != nil {
		return err
	}
	rep, err := e.reg.Inspect(ctx)
	if err != nil {
		return err
	}
	table := tablewriter.NewWriter(stdout)
	table.Header("Collection", "Columns", "Rows", "Cells", "Usage")
	for _, u := range rep.Collections {
		if err := table.Append([]string{
			u.Collection,
			strconv.Itoa(u.Columns),
			humanize.Comma(int64(u.Rows)),
			humanize.Comma(int64(u.Cells)),
			fmt.Sprintf("%.2f%%", u.Percent),
		}); err != nil {
			return err
		}
	}
	table.Footer("Total", strconv.Itoa(rep.Columns), humanize.Comma(int64(rep.Rows)), humanize.Comma(int64(rep.Cells)), fmt.Sprintf("%.2f%% of %s", rep.Percent, humanize.Comma(int64(rep.Capacity))))
	return table.Render()
}

func cmdDump(ctx context.Context, e *env, args []string) error {
	if err := wantArgs(args, 1, "<collection>"); err != nil {
		return err
	}
	c, err := e.collection(args[0])
	if err != nil {
		return err
	}
	data, err := c.Data(ctx)
	if err != nil {
		return err
	}
	return printRecords(data)
}

func cmdFind(ctx context.Context, e *env, args []string) error {
	if err := wantArgs(args, 3, "<collection> <field> <value>"); err != nil {
		return err
	}
	c, err := e.collection(args[0])
	if err != nil {
		return err
	}
	rec, err := c.Find(ctx, args[2], args[1])
	if err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("%s: no record with %s=%q: %w", args[0], args[1], args[2], sheetdb.ErrNotFound)
	}
	return printRecords([]*sheetdb.Record{rec})
}

func cmdSearch(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("search", flag.ContinueOnError)
	var opts sheet.FindOptions
	fs.BoolVar(&opts.Regex, "regex", false, "Query is a regular expression")
	fs.BoolVar(&opts.MatchCell, "cell", false, "Match whole cells")
	fs.BoolVar(&opts.MatchCase, "case", false, "Case sensitive")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := wantArgs(fs.Args(), 2, "<collection> <query>"); err != nil {
		return err
	}
	c, err := e.collection(fs.Arg(0))
	if err != nil {
		return err
	}
	recs, err := c.FTS(ctx, fs.Arg(1), opts)
	if err != nil {
		return err
	}
	return printRecords(recs)
}

func cmdLoad(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("load", flag.ContinueOnError)
	mode := fs.String("mode", "upsert", "Write mode: upsert, batch or add")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := wantArgs(fs.Args(), 1, "<collection>"); err != nil {
		return err
	}
	c, err := e.collection(fs.Arg(0))
	if err != nil {
		return err
	}
	recs, err := readRecords(stdin)
	if err != nil {
		return err
	}
	tx, err := c.Prepare(ctx, recs)
	if err != nil {
		return err
	}
	var out []*sheetdb.Record
	switch *mode {
	case "upsert":
		out, err = tx.Upsert(ctx)
	case "batch":
		out, err = tx.Batch(ctx)
	case "add":
		out, err = tx.Add(ctx)
	default:
		return fmt.Errorf("unknown mode %q", *mode)
	}
	if err != nil {
		return err
	}
	slog.InfoContext(ctx, "Loaded", "collection", c.Name(), "records", len(out), "mode", *mode)
	return printRecords(out)
}

func cmdDefrag(ctx context.Context, e *env, args []string) error {
	cs, err := e.collections(args)
	if err != nil {
		return err
	}
	for _, c := range cs {
		n, err := c.Defrag(ctx)
		if err != nil {
			return err
		}
		slog.InfoContext(ctx, "Defragmented", "collection", c.Name(), "removed", n)
	}
	return nil
}

func cmdSort(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("sort", flag.ContinueOnError)
	desc := fs.Bool("desc", false, "Sort in descending order")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := wantArgs(fs.Args(), 2, "<collection> <field>"); err != nil {
		return err
	}
	c, err := e.collection(fs.Arg(0))
	if err != nil {
		return err
	}
	return c.Sort(ctx, fs.Arg(1), *desc)
}

func cmdWipe(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("wipe", flag.ContinueOnError)
	yes := fs.Bool("yes", false, "Confirm deleting records")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if !*yes {
		return errors.New("wipe deletes every record; pass -yes to confirm")
	}
	cs, err := e.collections(fs.Args())
	if err != nil {
		return err
	}
	for _, c := range cs {
		if err := c.Wipe(ctx); err != nil {
			return err
		}
		slog.InfoContext(ctx, "Wiped", "collection", c.Name())
	}
	return nil
}

func cmdArchive(ctx context.Context, e *env, args []string) error {
	if err := wantArgs(args, 1, "<dest>"); err != nil {
		return err
	}
	return e.reg.Archive(ctx, args[0])
}

// cmdWatch drops the cache of every collection edited on disk and logs its
// new usage. It serves metrics when metrics_addr is configured.
func cmdWatch(ctx context.Context, e *env, args []string) error {
	if err := wantArgs(args, 0, ""); err != nil {
		return err
	}
	if addr := e.cfg.MetricsAddr; addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(e.metrics, promhttp.HandlerOpts{}))
		srv := &http.Server{
			Addr:              addr,
			Handler:           mux,
			BaseContext:       func(_ net.Listener) context.Context { return ctx },
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			slog.InfoContext(ctx, "Serving metrics", "addr", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.ErrorContext(ctx, "Metrics server failed", "err", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}
	slog.InfoContext(ctx, "Watching", "dir", e.dir.Root())
	return e.dir.Watch(ctx, func(name string) {
		c := e.reg.Collection(name)
		if c == nil {
			return
		}
		c.Clear()
		u, err := c.Inspect(ctx, e.cfg.Capacity)
		if err != nil {
			slog.WarnContext(ctx, "Failed to inspect", "collection", name, "err", err)
			return
		}
		slog.InfoContext(ctx, "Changed", "collection", name, "rows", u.Rows, "cells", u.Cells)
	})
}

func printRecords(recs []*sheetdb.Record) error {
	enc := json.NewEncoder(stdout)
	for _, r := range recs {
		if err := enc.Encode(r); err != nil {
			return err
		}
	}
	return nil
}

// readRecords decodes a stream of JSON objects.
func readRecords(r io.Reader) ([]*sheetdb.Record, error) {
	dec := json.NewDecoder(r)
	var out []*sheetdb.Record
	for {
		rec := &sheetdb.Record{}
		if err := dec.Decode(rec); err != nil {
			if errors.Is(err, io.EOF) {
				return out, nil
			}
			return nil, fmt.Errorf("record %d: %w", len(out)+1, err)
		}
		out = append(out, rec)
	}
}
