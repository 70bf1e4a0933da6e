// Package main is the sheetdb command line tool.
//
// sheetdb inspects and maintains a document of JSONL sheets: usage reports,
// record dumps and lookups, bulk loads, compaction, sorting, archiving, and
// cache invalidation on out-of-band edits. Configuration is read from
// sheetdb.yaml and CLI flags.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"

	"github.com/lmittmann/tint"
	"github.com/maruel/sheetdb/internal/config"
	"github.com/maruel/sheetdb/internal/schema"
	"github.com/maruel/sheetdb/internal/sheet"
	"github.com/maruel/sheetdb/internal/sheet/etcdlock"
	"github.com/maruel/sheetdb/internal/sheet/jsonlsheet"
	"github.com/maruel/sheetdb/internal/sheetdb"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/prometheus/client_golang/prometheus"
	clientv3 "go.etcd.io/etcd/client/v3"
	"golang.org/x/time/rate"
)

func main() {
	if err := mainImpl(); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "sheetdb: %v\n", err)
		os.Exit(1)
	}
}

func mainImpl() error {
	configPath := flag.String("config", "sheetdb.yaml", "Configuration file; defaults apply when it does not exist")
	dir := flag.String("dir", "", "Document directory (overrides dir)")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	lockTimeout := flag.Duration("lock-timeout", 0, "Batch lock timeout (overrides lock_timeout)")
	rateLimit := flag.Float64("rate", 0, "Store calls per second, 0 for unlimited (overrides rate)")
	flag.Usage = usage
	flag.Parse()
	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		return errors.New("missing command")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	defer stop()
	ll := &slog.LevelVar{}
	ll.Set(slog.LevelInfo)
	logger := slog.New(tint.NewHandler(colorable.NewColorable(os.Stderr), &tint.Options{
		Level:      ll,
		TimeFormat: "15:04:05.000", // Like time.TimeOnly plus milliseconds.
		NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			// Drop empty values.
			switch t := a.Value.Any().(type) {
			case string:
				if t == "" {
					return slog.Attr{}
				}
			case nil:
				return slog.Attr{}
			}
			return a
		},
	}))
	slog.SetDefault(logger)
	switch *logLevel {
	case "debug":
		ll.Set(slog.LevelDebug)
	case "info":
	case "warn":
		ll.Set(slog.LevelWarn)
	case "error":
		ll.Set(slog.LevelError)
	default:
		return fmt.Errorf("unknown log level: %q", *logLevel)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	// Flags explicitly set override the configuration file.
	set := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})
	if set["dir"] {
		cfg.Dir = *dir
	}
	if set["lock-timeout"] {
		cfg.LockTimeout = *lockTimeout
	}
	if set["rate"] {
		cfg.Rate = *rateLimit
		if cfg.Burst < 1 {
			cfg.Burst = 1
		}
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	cmd, ok := commands[args[0]]
	if !ok {
		return fmt.Errorf("unknown command %q", args[0])
	}
	e, err := openEnv(ctx, cfg)
	if err != nil {
		return err
	}
	defer e.close(ctx)
	return cmd.run(ctx, e, args[1:])
}

// env is what every command runs against.
type env struct {
	cfg     *config.Config
	dir     *jsonlsheet.Dir
	reg     *sheetdb.Registry
	metrics *prometheus.Registry
	etcd    *clientv3.Client
}

// openEnv opens the document described by cfg. The store is wrapped, from
// the inside out, with etcd locks, the rate limiter and instrumentation.
func openEnv(ctx context.Context, cfg *config.Config) (*env, error) {
	d, err := jsonlsheet.Open(cfg.Dir, &jsonlsheet.Options{StaleLock: cfg.StaleLock})
	if err != nil {
		return nil, err
	}
	e := &env{cfg: cfg, dir: d, metrics: prometheus.NewRegistry()}
	var doc sheet.Document = d
	if cfg.Etcd != nil {
		e.etcd, err = clientv3.New(clientv3.Config{Endpoints: cfg.Etcd.Endpoints, DialTimeout: cfg.Etcd.DialTimeout})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to etcd: %w", err)
		}
		doc = etcdlock.Wrap(doc, etcdlock.New(e.etcd, cfg.Etcd.Prefix, cfg.Etcd.TTL))
		slog.DebugContext(ctx, "Using etcd locks", "endpoints", strings.Join(cfg.Etcd.Endpoints, ","))
	}
	if cfg.Rate > 0 {
		doc = sheet.Throttle(doc, rate.NewLimiter(rate.Limit(cfg.Rate), cfg.Burst))
	}
	e.metrics.MustRegister(sheet.Collectors()...)
	doc = sheet.Instrument(doc)

	opts, err := cfg.Options()
	if err != nil {
		e.close(ctx)
		return nil, err
	}
	if e.reg, err = sheetdb.Open(ctx, doc, opts); err != nil {
		e.close(ctx)
		return nil, err
	}
	for name, s := range opts.Schemas {
		ts, ok := s.(*schema.Schema)
		c := e.reg.Collection(name)
		if !ok || c == nil {
			continue
		}
		headers, err := c.Headers(ctx)
		if err != nil {
			e.close(ctx)
			return nil, err
		}
		if missing := ts.Missing(headers); len(missing) > 0 {
			slog.WarnContext(ctx, "Columns missing from sheet", "collection", name, "columns", strings.Join(missing, ","))
		}
	}
	return e, nil
}

// collection returns the named collection or an error listing the known
// ones.
func (e *env) collection(name string) (*sheetdb.Collection, error) {
	if c := e.reg.Collection(name); c != nil {
		return c, nil
	}
	return nil, fmt.Errorf("unknown collection %q; known: %s", name, strings.Join(e.reg.Names(), ", "))
}

// collections resolves names, or every collection when names is empty.
func (e *env) collections(names []string) ([]*sheetdb.Collection, error) {
	if len(names) == 0 {
		names = e.reg.Names()
	}
	out := make([]*sheetdb.Collection, 0, len(names))
	for _, n := range names {
		c, err := e.collection(n)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// close logs the store call counters and releases the etcd client.
func (e *env) close(ctx context.Context) {
	if mfs, err := e.metrics.Gather(); err == nil {
		for _, mf := range mfs {
			if mf.GetName() != "sheetdb_store_calls_total" {
				continue
			}
			for _, m := range mf.GetMetric() {
				attrs := []any{"calls", int64(m.GetCounter().GetValue())}
				for _, lp := range m.GetLabel() {
					attrs = append(attrs, lp.GetName(), lp.GetValue())
				}
				slog.DebugContext(ctx, "Store calls", attrs...)
			}
		}
	}
	if e.etcd != nil {
		_ = e.etcd.Close()
	}
}

func usage() {
	out := flag.CommandLine.Output()
	fmt.Fprintf(out, "usage: sheetdb [flags] <command> [args]\n\nCommands:\n")
	names := make([]string, 0, len(commands))
	for n := range commands {
		names = append(names, n)
	}
	slices.Sort(names)
	for _, n := range names {
		fmt.Fprintf(out, "  %-40s %s\n", n+" "+commands[n].args, commands[n].help)
	}
	fmt.Fprintf(out, "\nFlags:\n")
	flag.PrintDefaults()
}
