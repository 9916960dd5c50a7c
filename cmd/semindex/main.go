// Command semindex indexes a directory of markdown notes and searches it.
//
// Usage:
//
//	semindex <command> [-config semindex.yaml] [flags] [args]
//
// Commands:
//
//	index     reconcile the index with the documents and wait until idle
//	search    run a hybrid, dense or lexical query
//	verify    check the index files and print the report
//	rebuild   wipe the index and reindex every document
//	stats     print index statistics
//	watch     keep the index current while files change
//	export    copy the index to the configured remote store
//	import    restore the index from the configured remote store
//
// A .env file in the working directory is loaded first, so OPENAI_API_KEY
// and SEMINDEX_* variables can live there.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

type command struct {
	name  string
	usage string
	run   func(ctx context.Context, args []string, stdout io.Writer) error
}

var commands = []command{
	{"index", "reconcile the index with the documents", cmdIndex},
	{"search", "search the index: search [-k n] [-mode m] [-folder f] [-json] <query>", cmdSearch},
	{"verify", "check the index files", cmdVerify},
	{"rebuild", "wipe the index and reindex every document", cmdRebuild},
	{"stats", "print index statistics", cmdStats},
	{"watch", "keep the index current while files change", cmdWatch},
	{"export", "copy the index to the remote store: export [-prefix p]", cmdExport},
	{"import", "restore the index from the remote store: import [-prefix p] [-overwrite]", cmdImport},
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 || args[0] == "-h" || args[0] == "help" || args[0] == "--help" {
		usage(stderr)
		return 2
	}
	for _, c := range commands {
		if c.name != args[0] {
			continue
		}
		if err := c.run(ctx, args[1:], stdout); err != nil {
			if err == errUsage {
				return 2
			}
			fmt.Fprintf(stderr, "semindex %s: %v\n", c.name, err)
			return 1
		}
		return 0
	}
	fmt.Fprintf(stderr, "semindex: unknown command %q\n\n", args[0])
	usage(stderr)
	return 2
}

func usage(w io.Writer) {
	fmt.Fprintf(w, "Usage: semindex <command> [-config file] [flags] [args]\n\nCommands:\n")
	for _, c := range commands {
		fmt.Fprintf(w, "  %-8s %s\n", c.name, c.usage)
	}
}
