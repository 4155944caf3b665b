package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/mkarwoski/userdeck/internal/domain/job"
	"github.com/mkarwoski/userdeck/internal/mail"
	"github.com/mkarwoski/userdeck/internal/observability"
)

type JobsRepository interface {
	ClaimNext(ctx context.Context, workerID string) (job.Job, error)
	MarkDone(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, errMsg string) error
	Reschedule(ctx context.Context, id string, runAt time.Time, errMsg string) error
	RequeueStaleProcessing(ctx context.Context, lockTTL time.Duration) (int64, error)
}

type DeliveryStore interface {
	TryStart(ctx context.Context, kind, userID, jobID, recipient string) error
	MarkSent(ctx context.Context, kind, userID, jobID string) error
	MarkFailed(ctx context.Context, kind, userID, jobID, errMsg string) error
}

type Config struct {
	PollInterval time.Duration
	WorkerID     string
	LockTTL      time.Duration
	LoginURL     string
}

type Worker struct {
	cfg        Config
	repo       JobsRepository
	deliveries DeliveryStore
	mailer     mail.Mailer
	prom       *observability.Prom
	log        *slog.Logger
}

func New(cfg Config, repo JobsRepository, deliveries DeliveryStore, mailer mail.Mailer, prom *observability.Prom, log *slog.Logger) *Worker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 200 * time.Millisecond
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 60 * time.Second
	}

	return &Worker{
		cfg:        cfg,
		repo:       repo,
		deliveries: deliveries,
		mailer:     mailer,
		prom:       prom,
		log:        log,
	}
}

func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	staleTicker := time.NewTicker(w.cfg.LockTTL)
	defer staleTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info("worker received shutdown signal")
			return nil

		case <-staleTicker.C:
			n, err := w.repo.RequeueStaleProcessing(ctx, w.cfg.LockTTL)

			if err != nil {
				w.log.Error("requeue stale jobs failed", "err", err)
				continue
			}

			if n > 0 {
				w.log.Warn("requeued stale jobs", "count", n)
			}

		case <-ticker.C:
			// drain everything runnable before going back to sleep
			for {
				processed, err := w.ProcessOne(ctx)

				if err != nil {
					w.log.Error("process job failed", "err", err)
					break
				}

				if !processed {
					break
				}
			}
		}
	}
}

func (w *Worker) ProcessOne(ctx context.Context) (bool, error) {
	claimCtx, cancel := context.WithTimeout(ctx, 2*time.Second)

	j, err := w.repo.ClaimNext(claimCtx, w.cfg.WorkerID)
	cancel()

	if err != nil {
		if errors.Is(err, job.ErrJobNotFound) {
			return false, nil
		}

		return false, err
	}

	if w.prom != nil {
		w.prom.JobsInFlight.Inc()
		defer w.prom.JobsInFlight.Dec()
	}

	start := time.Now()
	err = w.execute(ctx, j)
	elapsed := time.Since(start)

	if err != nil {
		w.handleFailure(ctx, j, elapsed, err)
		return true, nil
	}

	w.observeResult(j.Type, "done", elapsed)

	err = w.repo.MarkDone(ctx, j.ID)

	if err != nil {
		_ = w.repo.MarkFailed(ctx, j.ID, "mark_done_failed: "+err.Error())
		return true, err
	}

	return true, nil
}

func (w *Worker) handleFailure(ctx context.Context, j job.Job, elapsed time.Duration, cause error) {
	// attempts is the count before this run
	if j.Attempts+1 >= j.MaxAttempts {
		w.observeResult(j.Type, "failed", elapsed)
		w.log.Error("job dead-lettered", "job_id", j.ID, "type", j.Type, "err", cause)

		if err := w.repo.MarkFailed(ctx, j.ID, cause.Error()); err != nil {
			w.log.Error("mark failed error", "job_id", j.ID, "err", err)
		}
		return
	}

	w.observeResult(j.Type, "retry", elapsed)

	runAt := time.Now().UTC().Add(ExponentialBackoff(j.Attempts))

	if err := w.repo.Reschedule(ctx, j.ID, runAt, cause.Error()); err != nil {
		w.log.Error("reschedule error", "job_id", j.ID, "err", err)
	}
}

func (w *Worker) observeResult(jobType, result string, elapsed time.Duration) {
	if w.prom == nil {
		return
	}
	w.prom.JobResults.WithLabelValues(jobType, result).Inc()
	w.prom.JobDuration.WithLabelValues(jobType, result).Observe(elapsed.Seconds())
}
