// Command bridge runs the protocol bridge daemon: ingress adapters feeding
// the durable buffer, egress worker pools draining it toward each
// destination, and the scheduler driving periodic sweeps, reports, and
// anomaly scans.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/flyingrobots/protocol-bridge/internal/adapter"
	"github.com/flyingrobots/protocol-bridge/internal/adapter/enterprise"
	"github.com/flyingrobots/protocol-bridge/internal/adapter/pubsub"
	"github.com/flyingrobots/protocol-bridge/internal/adapter/variable"
	"github.com/flyingrobots/protocol-bridge/internal/archive"
	"github.com/flyingrobots/protocol-bridge/internal/breaker"
	"github.com/flyingrobots/protocol-bridge/internal/buffer"
	"github.com/flyingrobots/protocol-bridge/internal/config"
	"github.com/flyingrobots/protocol-bridge/internal/egress"
	"github.com/flyingrobots/protocol-bridge/internal/ingress"
	"github.com/flyingrobots/protocol-bridge/internal/mapping"
	"github.com/flyingrobots/protocol-bridge/internal/message"
	"github.com/flyingrobots/protocol-bridge/internal/obs"
	"github.com/flyingrobots/protocol-bridge/internal/operator"
	"github.com/flyingrobots/protocol-bridge/internal/scheduler"
	"github.com/flyingrobots/protocol-bridge/internal/store"
	"github.com/flyingrobots/protocol-bridge/internal/transform"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the bridge's configuration file")
	role := flag.String("role", "all", "which role to run: ingress, egress, or all")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	log, err := obs.NewLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if _, err := obs.MaybeInitTracing(ctx, cfg.Tracing); err != nil {
		log.Warn("tracing disabled due to init failure", obs.Err(err))
	}

	st, err := store.Open(cfg.Buffer.DBPath, cfg.Buffer.WALEnabled, log)
	if err != nil {
		log.Fatal("open store", obs.Err(err))
	}
	defer st.Close()

	buf := buffer.New(st, cfg.Buffer, log)
	if n, err := buf.ResetProcessing(ctx); err != nil {
		log.Fatal("reset processing", obs.Err(err))
	} else if n > 0 {
		log.Info("recovered crashed leases", obs.Int64("count", n))
	}

	registry, err := mapping.Load(cfg.Mappings)
	if err != nil {
		log.Fatal("load mapping registry", obs.Err(err))
	}
	tr := transform.New()

	ready := func() error { return st.DB().PingContext(ctx) }
	httpSrv := obs.StartHTTPServer(cfg.Monitoring.MetricsPort, ready)
	defer httpSrv.Shutdown(context.Background())

	pubsubAdapter, err := pubsub.Dial(cfg.PubSub.URL)
	if err != nil {
		log.Fatal("dial pubsub", obs.Err(err))
	}
	defer pubsubAdapter.Close()

	variableAdapter := variable.NewClient(cfg.Variable.PollInterval)
	defer variableAdapter.Close()

	enterpriseAdapter := enterprise.NewClient(cfg.Enterprise.BaseURL, cfg.Enterprise.PollInterval, cfg.Enterprise.RateLimitRPS)
	defer enterpriseAdapter.Close()

	sides := map[message.Side]adapter.Adapter{
		message.SidePubSub:     pubsubAdapter,
		message.SideVariable:   variableAdapter,
		message.SideEnterprise: enterpriseAdapter,
	}

	sched := scheduler.New(log)
	registerScheduledJobs(sched, buf, st, cfg, log)
	sched.Start()
	defer sched.Stop(context.Background())

	runAll := *role == "all"

	if runAll || *role == "ingress" {
		for side, a := range sides {
			r := ingress.New(side, a, registry, buf, log)
			go func(side message.Side, r *ingress.Runner) {
				if err := r.Run(ctx); err != nil {
					log.Error("ingress runner stopped", obs.String("side", string(side)), obs.Err(err))
				}
			}(side, r)
		}
	}

	if runAll || *role == "egress" {
		for side, a := range sides {
			brk := breaker.New(breaker.Config{
				Window: cfg.Optimization.BreakerWindow, Cooldown: cfg.Optimization.BreakerCooldown,
				FailureThreshold: cfg.Optimization.BreakerFailureThreshold, MinSamples: cfg.Optimization.BreakerMinSamples,
			})
			pool := egress.New(side, a, buf, brk, registry, tr, log,
				egress.WithWorkers(cfg.Buffer.WorkerThreads), egress.WithBatchSize(cfg.Buffer.BatchSize),
				egress.WithPollEvery(cfg.Optimization.PollBackoff))
			go func(side message.Side, p *egress.Pool) {
				if err := p.Run(ctx); err != nil {
					log.Error("egress pool stopped", obs.String("destination", string(side)), obs.Err(err))
				}
			}(side, pool)
		}
	}

	log.Info("bridge started", obs.String("role", *role))
	<-ctx.Done()
	log.Info("shutting down")
	time.Sleep(200 * time.Millisecond) // allow in-flight leases to finish their current batch
}

func registerScheduledJobs(sched *scheduler.Scheduler, buf *buffer.Buffer, st *store.Store, cfg *config.Config, log *zap.Logger) {
	cleanupSpec := fmt.Sprintf("@every %s", cfg.Buffer.CleanupInterval)
	if err := sched.Every(cleanupSpec, "sweep", func(ctx context.Context) error {
		return buf.Sweep(ctx)
	}); err != nil {
		log.Error("register sweep job", obs.Err(err))
	}

	reportSpec := fmt.Sprintf("@every %s", cfg.Monitoring.ReportInterval)
	reporter := operator.NewReporter(st)
	if err := sched.Every(reportSpec, "report", func(ctx context.Context) error {
		_, err := reporter.Generate(ctx, 24)
		return err
	}); err != nil {
		log.Error("register report job", obs.Err(err))
	}

	anomalySpec := fmt.Sprintf("@every %s", cfg.Monitoring.AnomalyInterval)
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
		WorkerUnstableWindow:     cfg.Monitoring.WorkerUnstableWindow,
	})
	if err := sched.Every(anomalySpec, "anomaly-scan", func(ctx context.Context) error {
		anomalies, err := detector.Scan(ctx)
		if err != nil {
			return err
		}
		for _, a := range anomalies {
			log.Warn("anomaly detected", obs.String("kind", a.Kind), obs.String("severity", string(a.Severity)), obs.String("detail", a.Message))
		}
		return nil
	}); err != nil {
		log.Error("register anomaly job", obs.Err(err))
	}

	if cfg.Monitoring.ArchiveBackend != "" {
		sink, err := archive.New(cfg.Monitoring.ArchiveBackend, archive.Config{
			Path: cfg.Monitoring.ArchivePath, Compress: cfg.Monitoring.ArchiveCompress,
			ClickHouseDSN: cfg.Monitoring.ClickHouseDSN, ClickHouseDatabase: cfg.Monitoring.ClickHouseDatabase, ClickHouseTable: cfg.Monitoring.ClickHouseTable,
			S3Bucket: cfg.Monitoring.S3Bucket, S3Region: cfg.Monitoring.S3Region, S3KeyPrefix: cfg.Monitoring.S3KeyPrefix,
			PostgresDSN: cfg.Monitoring.PostgresDSN,
		})
		if err != nil {
			log.Error("archive sink unavailable, skipping archival job", obs.Err(err))
			return
		}
		if err := sched.Every("@every 1h", "archive", func(ctx context.Context) error {
			dl, err := buf.ExportDeadLetters(ctx, 1000)
			if err != nil {
				return err
			}
			batch := make([]message.Message, 0, len(dl))
			for _, d := range dl {
				batch = append(batch, message.Message{
					ID: d.OriginalID, Source: d.Source, Destination: d.Destination,
					TopicOrNode: d.TopicOrNode, Value: d.Value, Status: message.StatusFailed,
					CreatedAt: d.FailedAt,
				})
			}
			return sink.Write(ctx, batch)
		}); err != nil {
			log.Error("register archive job", obs.Err(err))
		}
	}
}
