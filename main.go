package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"propflow/api"
	"propflow/config"
	"propflow/httputil"
	"propflow/logging"
	"propflow/media"
	"propflow/notify"
	"propflow/pipeline"
	"propflow/queue"
	"propflow/report"
	"propflow/scheduler"
	"propflow/services"
	"propflow/storage"
	"propflow/workers"
)

var (
	sweepNow = flag.Bool("sweep", false, "Run one stale-execution sweep and exit")
	migrate  = flag.Bool("migrate", false, "Run database migrations and exit")
)

func main() {
	flag.Parse()
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	logFile, err := logging.Setup("daemon.log")
	if err != nil {
		log.Printf("Warning: could not set up file logging: %v", err)
	} else {
		defer logFile.Close()
	}

	log.Println("Starting propflow...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	log.Printf("Loaded %d report type configs", len(cfg.Reports))

	clients := httputil.NewClients()
	ctx := context.Background()

	pgStore, err := storage.NewPostgresStore(ctx, cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to Postgres: %v", err)
	}
	defer pgStore.Close()
	log.Printf("Connected to Postgres: %s", maskConnectionString(cfg.Database.URL))

	if err := pgStore.Migrate(ctx); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}
	if *migrate {
		log.Println("Migrations complete!")
		return
	}

	s3Store, err := storage.NewS3Store(ctx, storage.S3Config{
		Bucket:          cfg.Storage.Bucket,
		Region:          cfg.Storage.Region,
		Endpoint:        cfg.Storage.Endpoint,
		AccessKeyID:     cfg.Storage.AccessKeyID,
		SecretAccessKey: cfg.Storage.SecretAccessKey,
	})
	if err != nil {
		log.Fatalf("Failed to set up object storage: %v", err)
	}

	// SQLite holds operational data: command queue and the pipeline journal.
	sqliteStore, err := storage.NewSQLiteStore(cfg.OpsDBPath)
	if err != nil {
		log.Fatalf("Failed to open SQLite: %v", err)
	}
	defer sqliteStore.Close()
	log.Printf("SQLite database: %s", cfg.OpsDBPath)

	sender := notify.NewProviderClient(cfg.Email.APIBase, cfg.Email.APIKey, cfg.Email.FromEmail, cfg.Email.FromName, clients.Provider)
	dispatcher := notify.NewDispatcher(sender, pgStore)
	synthesizer := report.NewSynthesizer(cfg.AI, cfg.Reports, clients.Provider)
	renderer := report.NewRenderer()
	relocator := media.NewRelocator(s3Store, clients.Media, cfg.Storage.StagingPrefix, cfg.Pipeline.MediaMaxBytes)

	orchestrator := pipeline.NewOrchestrator(pgStore, relocator, s3Store, dispatcher, synthesizer, renderer, pipeline.Options{
		MaxAttempts: cfg.Pipeline.MaxAttempts,
		BackoffBase: cfg.Pipeline.BackoffBase,
		PresignTTL:  cfg.Storage.PresignTTL,
	})
	orchestrator.SetOpsLog(sqliteStore)
	log.Println("Pipeline initialized")

	if *sweepNow {
		log.Println("Running sweep...")
		resumed, err := orchestrator.ResumeStale(ctx, cfg.Pipeline.SweepAfter, 100)
		if err != nil {
			log.Fatalf("Sweep failed: %v", err)
		}
		log.Printf("Sweep complete, resumed %d executions", resumed)
		return
	}

	// Daemon mode
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	producer, err := queue.NewProducer(cfg.Queue.Brokers)
	if err != nil {
		log.Fatalf("Failed to create producer: %v", err)
	}
	defer producer.Close()

	consumer, err := queue.NewConsumer(cfg.Queue.Brokers, cfg.Queue.GroupID, []string{cfg.Queue.ListingsTopic, cfg.Queue.ReportsTopic})
	if err != nil {
		log.Fatalf("Failed to create consumer: %v", err)
	}
	defer consumer.Close()

	ingestWorker := workers.NewIngestWorker(consumer, orchestrator, cfg.Queue.ListingsTopic, cfg.Queue.ReportsTopic)
	go ingestWorker.Run(ctx)

	resumeWorker := workers.NewResumeWorker(orchestrator, cfg.Pipeline.SweepAfter, 50)
	go resumeWorker.Run(ctx)

	sched := scheduler.New(cfg, orchestrator, sqliteStore, resumeWorker)
	if err := sched.Start(ctx); err != nil {
		log.Fatalf("Failed to start scheduler: %v", err)
	}

	reviewService := services.NewReviewService(pgStore, s3Store, dispatcher)
	accountService := services.NewAccountService(pgStore, dispatcher)
	server := api.NewServer(cfg, pgStore, sqliteStore, producer, orchestrator, reviewService, accountService)
	go func() {
		if err := server.Start(ctx); err != nil {
			log.Printf("API server error: %v", err)
			cancel()
		}
	}()

	log.Println("Daemon running. Press Ctrl+C to stop.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
	case <-ctx.Done():
	}

	log.Println("Shutting down...")
	cancel()
	sched.Stop()
	log.Println("Goodbye!")
}

// maskConnectionString masks password in connection string for logging
func maskConnectionString(connStr string) string {
	start := 0
	for i := 0; i < len(connStr)-3; i++ {
		if connStr[i:i+3] == "://" {
			start = i + 3
			break
		}
	}
	if start == 0 {
		return connStr
	}

	colonIdx := -1
	atIdx := -1
	for i := start; i < len(connStr); i++ {
		if connStr[i] == ':' && colonIdx == -1 {
			colonIdx = i
		}
		if connStr[i] == '@' {
			atIdx = i
			break
		}
	}

	if colonIdx > 0 && atIdx > colonIdx {
		return connStr[:colonIdx+1] + "****" + connStr[atIdx:]
	}
	return connStr
}
