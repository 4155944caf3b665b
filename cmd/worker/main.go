package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mkarwoski/userdeck/internal/config"
	"github.com/mkarwoski/userdeck/internal/db"
	"github.com/mkarwoski/userdeck/internal/mail"
	"github.com/mkarwoski/userdeck/internal/observability"
	"github.com/mkarwoski/userdeck/internal/queue/worker"
	"github.com/mkarwoski/userdeck/internal/repo/postgres"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()

	log := observability.NewLogger(cfg.Env)

	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)

	defer stop()

	pool, err := db.NewPool(cfg.DBURL)

	if err != nil {
		log.Error("db connect failed", "err", err)
		os.Exit(1)
	}

	defer pool.Close()

	registry := prometheus.NewRegistry()
	prom := observability.NewProm(registry)

	jobsRepo := postgres.NewJobsRepo(pool, prom)
	deliveriesRepo := postgres.NewMailDeliveriesRepo(pool, prom)

	// SMTP when configured, log-only delivery otherwise. Either way the
	// circuit breaker sits in front so a dead relay cannot wedge the loop.
	var inner mail.Mailer

	if cfg.SMTPHost != "" {
		inner = mail.NewSMTPMailer(mail.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			User:     cfg.SMTPUser,
			Password: cfg.SMTPPassword,
			From:     cfg.MailFrom,
		})
	} else {
		log.Info("no SMTP host configured, mail goes to the log")
		inner = mail.NewLogMailer()
	}

	mailer := mail.NewProtectedMailer(inner, mail.ProtectedMailerConfig{})

	host, _ := os.Hostname()
	workerID := host + "-" + strconv.Itoa(os.Getpid())

	w := worker.New(worker.Config{
		PollInterval: 200 * time.Millisecond,
		WorkerID:     workerID,
		LockTTL:      60 * time.Second,
		LoginURL:     cfg.PublicBaseURL,
	}, jobsRepo, deliveriesRepo, mailer, prom, log)

	// health endpoints on a side port
	healthSrv := &http.Server{
		Addr:              ":" + strconv.Itoa(getHealthPort()),
		Handler:           worker.HealthHandler(pool),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		err := healthSrv.ListenAndServe()

		if err != nil && err != http.ErrServerClosed {
			log.Error("worker health server failed", "err", err)
		}
	}()

	log.Info("worker started", "worker_id", workerID)

	if err := w.Run(ctx); err != nil {
		log.Error("worker stopped with error", "err", err)
	}

	shutdownCtx, cancel := config.WithTimeout(5 * time.Second)
	defer cancel()

	_ = healthSrv.Shutdown(shutdownCtx)

	log.Info("worker shutdown complete")
}

func getHealthPort() int {
	if v := os.Getenv("WORKER_HEALTH_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}

	return 8081
}
