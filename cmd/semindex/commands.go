package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/hupe1980/semindex"
	"github.com/hupe1980/semindex/snapshot"
	"github.com/hupe1980/semindex/storage"
	"github.com/hupe1980/semindex/watch"
)

// errUsage reports a flag parse failure that the flag set already printed.
var errUsage = errors.New("usage")

// errVerifyFailed is returned by verify when the report has issues.
var errVerifyFailed = errors.New("integrity check failed")

type flags struct {
	*flag.FlagSet
	config string
}

func newFlags(name string) *flags {
	fs := &flags{FlagSet: flag.NewFlagSet(name, flag.ContinueOnError)}
	fs.StringVar(&fs.config, "config", "", "path to the config file")
	return fs
}

func (fs *flags) parse(args []string) (*Config, error) {
	if err := fs.Parse(args); err != nil {
		return nil, errUsage
	}
	return LoadConfig(fs.config)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func cmdIndex(ctx context.Context, args []string, stdout io.Writer) error {
	cfg, err := newFlags("index").parse(args)
	if err != nil {
		return err
	}
	idx, closeFn, err := openIndex(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer closeFn()

	report, err := idx.Reconcile(ctx)
	if err != nil {
		return err
	}
	if err := idx.WaitIdle(ctx); err != nil {
		return err
	}
	st, err := idx.Stats(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "scanned %d, enqueued %d, removed %d; %d documents, %d segments, %d failed tasks\n",
		report.Scanned, report.Enqueued, report.Removed, st.Documents, st.Segments, st.FailedTasks)
	return nil
}

func cmdSearch(ctx context.Context, args []string, stdout io.Writer) error {
	fs := newFlags("search")
	k := fs.Int("k", 0, "number of results (default from config)")
	mode := fs.String("mode", "", "hybrid, dense or lexical (default from config)")
	folder := fs.String("folder", "", "restrict results to a folder")
	asJSON := fs.Bool("json", false, "print results as JSON")
	cfg, err := fs.parse(args)
	if err != nil {
		return err
	}
	query := strings.Join(fs.Args(), " ")
	if strings.TrimSpace(query) == "" {
		return errors.New("query is required")
	}

	idx, closeFn, err := openIndex(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer closeFn()

	qb := idx.Query(query)
	if *k > 0 {
		qb.K(*k)
	}
	if *mode != "" {
		m, err := semindex.ParseMode(*mode)
		if err != nil {
			return err
		}
		qb.Mode(m)
	}
	if *folder != "" {
		qb.InFolder(*folder)
	}
	results, err := qb.Execute(ctx)
	if err != nil {
		return err
	}

	if *asJSON {
		return writeJSON(stdout, results)
	}
	if len(results) == 0 {
		fmt.Fprintln(stdout, "no results")
		return nil
	}
	for i, r := range results {
		fmt.Fprintf(stdout, "%2d. %s  (%.4f, %s)\n", i+1, r.Path, r.Score, r.MatchType)
		if snippet := strings.Join(strings.Fields(r.Snippet), " "); snippet != "" {
			fmt.Fprintf(stdout, "    %s\n", snippet)
		}
	}
	return nil
}

func cmdVerify(ctx context.Context, args []string, stdout io.Writer) error {
	cfg, err := newFlags("verify").parse(args)
	if err != nil {
		return err
	}
	idx, closeFn, err := openIndex(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer closeFn()

	report, err := idx.Verify(ctx)
	if err != nil {
		return err
	}
	if err := writeJSON(stdout, report); err != nil {
		return err
	}
	if !report.OK {
		return errVerifyFailed
	}
	return nil
}

func cmdRebuild(ctx context.Context, args []string, stdout io.Writer) error {
	cfg, err := newFlags("rebuild").parse(args)
	if err != nil {
		return err
	}
	idx, closeFn, err := openIndex(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer closeFn()

	n, err := idx.Rebuild(ctx)
	if err != nil {
		return err
	}
	if err := idx.WaitIdle(ctx); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "rebuilt %d documents\n", n)
	return nil
}

func cmdStats(ctx context.Context, args []string, stdout io.Writer) error {
	cfg, err := newFlags("stats").parse(args)
	if err != nil {
		return err
	}
	idx, closeFn, err := openIndex(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer closeFn()

	st, err := idx.Stats(ctx)
	if err != nil {
		return err
	}
	m := idx.Model()

	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "model\t%s (%d dims, %s)\n", m.ID, m.Dims, m.DType)
	fmt.Fprintf(tw, "documents\t%d\n", st.Documents)
	fmt.Fprintf(tw, "segments\t%d\n", st.Segments)
	fmt.Fprintf(tw, "rows\t%d (%d live)\n", st.Rows, st.LiveRows)
	fmt.Fprintf(tw, "lexical chunks\t%d\n", st.LexicalDocs)
	fmt.Fprintf(tw, "queued tasks\t%d\n", st.QueuedTasks)
	fmt.Fprintf(tw, "memory\t%d / %d bytes\n", st.MemoryUsage, st.MemoryLimit)
	return tw.Flush()
}

func cmdWatch(ctx context.Context, args []string, stdout io.Writer) error {
	cfg, err := newFlags("watch").parse(args)
	if err != nil {
		return err
	}
	idx, closeFn, err := openIndex(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer closeFn()

	if _, err := idx.Reconcile(ctx); err != nil {
		return err
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	w, err := watch.New(cfg.Docs, idx,
		watch.WithDebounce(cfg.Watch.Debounce, cfg.Watch.MaxDelay),
		watch.WithLogger(logger.WithComponent("watch").Logger),
		watch.WithResync(func(ctx context.Context) error {
			_, err := idx.Reconcile(ctx)
			return err
		}),
	)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "watching %s (ctrl-c to stop)\n", cfg.Docs)
	if err := w.Run(ctx); err != nil {
		return err
	}
	st := w.Stats()
	fmt.Fprintf(stdout, "stopped: %d events, %d enqueued, %d removed\n", st.Events, st.Enqueued, st.Removed)
	return nil
}

func cmdExport(ctx context.Context, args []string, stdout io.Writer) error {
	fs := newFlags("export")
	prefix := fs.String("prefix", "", "snapshot prefix (default remote.prefix)")
	cfg, err := fs.parse(args)
	if err != nil {
		return err
	}
	dst, err := remoteStore(ctx, cfg.Remote)
	if err != nil {
		return err
	}
	opts, err := snapshotOptions(cfg.Remote, *prefix)
	if err != nil {
		return err
	}

	idx, closeFn, err := openIndex(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer closeFn()

	snap, err := idx.Export(ctx, dst, opts...)
	if err != nil {
		return err
	}
	raw, stored := snap.Bytes()
	fmt.Fprintf(stdout, "exported %d segments (%d rows), %d files, %d bytes stored for %d raw\n",
		snap.Segments, snap.Rows, len(snap.Files), stored, raw)
	return nil
}

func cmdImport(ctx context.Context, args []string, stdout io.Writer) error {
	fs := newFlags("import")
	prefix := fs.String("prefix", "", "snapshot prefix (default remote.prefix)")
	overwrite := fs.Bool("overwrite", false, "replace an existing index")
	cfg, err := fs.parse(args)
	if err != nil {
		return err
	}
	src, err := remoteStore(ctx, cfg.Remote)
	if err != nil {
		return err
	}
	snapOpts, err := snapshotOptions(cfg.Remote, *prefix)
	if err != nil {
		return err
	}
	if *overwrite {
		snapOpts = append(snapOpts, snapshot.WithOverwrite())
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	opts, err := indexOptions(cfg, logger)
	if err != nil {
		return err
	}
	snap, err := semindex.Import(ctx, src, storage.NewLocalStore(cfg.Docs), opts, snapOpts...)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "imported %d segments (%d rows) built with %s\n", snap.Segments, snap.Rows, snap.Model.ID)
	return nil
}
