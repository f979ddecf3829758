// Command bridge-admin is the read-mostly operator CLI: inspect pending
// and dead-lettered messages, trigger cleanup, export dead letters, print
// a performance report, or launch the live monitor dashboard.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/lithammer/fuzzysearch/fuzzy"
	"go.uber.org/zap"

	"github.com/flyingrobots/protocol-bridge/internal/buffer"
	"github.com/flyingrobots/protocol-bridge/internal/config"
	"github.com/flyingrobots/protocol-bridge/internal/message"
	"github.com/flyingrobots/protocol-bridge/internal/operator"
	"github.com/flyingrobots/protocol-bridge/internal/store"
	"github.com/flyingrobots/protocol-bridge/internal/tui"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the bridge's configuration file")
	flag.Parse()
	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal("load config: %v", err)
	}
	log := zap.NewNop()
	st, err := store.Open(cfg.Buffer.DBPath, cfg.Buffer.WALEnabled, log)
	if err != nil {
		fatal("open store: %v", err)
	}
	defer st.Close()
	buf := buffer.New(st, cfg.Buffer, log)

	ctx := context.Background()
	switch args[0] {
	case "stats":
		cmdStats(ctx, buf)
	case "pending":
		cmdPending(ctx, buf, args[1:])
	case "failed":
		cmdFailed(ctx, buf, args[1:])
	case "cleanup":
		cmdCleanup(ctx, buf, args[1:])
	case "export":
		cmdExport(ctx, buf, args[1:])
	case "report":
		cmdReport(ctx, st, args[1:])
	case "monitor":
		cmdMonitor(ctx, buf, st, cfg, args[1:])
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: bridge-admin <command> [flags]

commands:
  stats                         print aggregate buffer statistics
  pending [--limit N] [--grep P]  list pending messages, optionally fuzzy-filtered
  failed  [--limit N] [--grep P]  list dead-lettered messages
  cleanup                       sweep expired messages and trim old terminal rows
  export --output PATH          write dead letters as newline-delimited JSON
  report --output PATH          write a performance report as JSON
  monitor [--interval DUR]      launch the live terminal dashboard`)
}

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func cmdStats(ctx context.Context, buf *buffer.Buffer) {
	stats, err := buf.Stats(ctx)
	if err != nil {
		fatal("stats: %v", err)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(stats)
}

func cmdPending(ctx context.Context, buf *buffer.Buffer, args []string) {
	fs := flag.NewFlagSet("pending", flag.ExitOnError)
	limit := fs.Int("limit", 50, "max rows to print")
	grep := fs.String("grep", "", "fuzzy-filter by topic/node address")
	fs.Parse(args)

	msgs, err := buf.PendingPreview(ctx, *limit)
	if err != nil {
		fatal("pending: %v", err)
	}
	printMessages(filterMessages(msgs, *grep))
}

func filterMessages(msgs []message.Message, grep string) []message.Message {
	if grep == "" {
		return msgs
	}
	var out []message.Message
	for _, m := range msgs {
		if fuzzy.MatchFold(grep, m.TopicOrNode) {
			out = append(out, m)
		}
	}
	return out
}

func printMessages(msgs []message.Message) {
	enc := json.NewEncoder(os.Stdout)
	for _, m := range msgs {
		_ = enc.Encode(m)
	}
}

func cmdFailed(ctx context.Context, buf *buffer.Buffer, args []string) {
	fs := flag.NewFlagSet("failed", flag.ExitOnError)
	limit := fs.Int("limit", 50, "max rows to print")
	grep := fs.String("grep", "", "fuzzy-filter by topic/node address")
	fs.Parse(args)

	dl, err := buf.ExportDeadLetters(ctx, *limit)
	if err != nil {
		fatal("failed: %v", err)
	}
	enc := json.NewEncoder(os.Stdout)
	for _, d := range dl {
		if *grep != "" && !fuzzy.MatchFold(*grep, d.TopicOrNode) {
			continue
		}
		_ = enc.Encode(d)
	}
}

func cmdCleanup(ctx context.Context, buf *buffer.Buffer, args []string) {
	if err := buf.Sweep(ctx); err != nil {
		fatal("cleanup: %v", err)
	}
	fmt.Println("cleanup complete")
}

func cmdExport(ctx context.Context, buf *buffer.Buffer, args []string) {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	output := fs.String("output", "", "output file path")
	fs.Parse(args)
	if *output == "" {
		fatal("export: --output is required")
	}

	dl, err := buf.ExportDeadLetters(ctx, 1_000_000)
	if err != nil {
		fatal("export: %v", err)
	}
	f, err := os.Create(*output)
	if err != nil {
		fatal("export: %v", err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	for _, d := range dl {
		if err := enc.Encode(d); err != nil {
			fatal("export: %v", err)
		}
	}
	fmt.Printf("exported %d dead letter(s) to %s\n", len(dl), *output)
}

func cmdReport(ctx context.Context, st *store.Store, args []string) {
	fs := flag.NewFlagSet("report", flag.ExitOnError)
	output := fs.String("output", "", "output file path (stdout if empty)")
	windowHours := fs.Int("hours", 24, "report window in hours")
	fs.Parse(args)

	rep, err := operator.NewReporter(st).Generate(ctx, *windowHours)
	if err != nil {
		fatal("report: %v", err)
	}

	w := os.Stdout
	if *output != "" {
		f, err := os.Create(*output)
		if err != nil {
			fatal("report: %v", err)
		}
		defer f.Close()
		w = f
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(rep)
}

func cmdMonitor(ctx context.Context, buf *buffer.Buffer, st *store.Store, cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("monitor", flag.ExitOnError)
	interval := fs.Duration("interval", 2*time.Second, "refresh interval")
	fs.Parse(args)

	detector := operator.NewDetector(st, operator.Thresholds{
		StuckProcessingAge:       5 * time.Minute,
		HighFailureRateWarn:      0.10,
		HighFailureRateHigh:      0.25,
		QueueBuildupDepthWarn:    1000,
		QueueBuildupDepthHigh:    5000,
		RouteCongestionDepthWarn: 100,
		RouteCongestionDepthHigh: 500,
		SlowProcessingSec:        10,
		WorkerUnstableCount:      cfg.Monitoring.WorkerUnstableCount,
	})
	if err := tui.Run(buf, detector, *interval); err != nil {
		fatal("monitor: %v", err)
	}
}
