package syncup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/labops/relay/internal/repository"
	"github.com/labops/relay/internal/util"
	"go.uber.org/zap"
)

type WorkerConfig struct {
	PollInterval time.Duration
	BatchSize    int
	Limit        int // per lookup key; 0 = bridge default
}

// Worker drains PENDING sync_up_requests through the Bridge. Each lookup key
// runs in its own transaction. A request is COMPLETED after one pass even if
// some keys failed; failed keys are logged, not retried.
type Worker struct {
	db     *sqlx.DB
	repo   repository.SyncUpRepository
	bridge *Bridge
	cfg    WorkerConfig
	log    *zap.Logger
	now    func() time.Time
}

func NewWorker(db *sqlx.DB, repo repository.SyncUpRepository, bridge *Bridge, cfg WorkerConfig, log *zap.Logger) *Worker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 20
	}
	return &Worker{
		db:     db,
		repo:   repo,
		bridge: bridge,
		cfg:    cfg,
		log:    log.With(zap.String("component", "syncup-worker")),
		now:    time.Now,
	}
}

func (w *Worker) Run(ctx context.Context) error {
	w.log.Info("sync-up worker started", zap.Duration("poll_interval", w.cfg.PollInterval))

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
			if err := w.Tick(ctx); err != nil && !errors.Is(err, context.Canceled) {
				w.log.Error("sync-up tick failed", zap.Error(err))
			}
			timer.Reset(w.cfg.PollInterval)
		}
	}
}

// Tick processes one batch of pending requests.
func (w *Worker) Tick(ctx context.Context) error {
	reqs, err := w.repo.ListPending(ctx, w.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("list pending sync-up requests: %w", err)
	}

	for _, req := range reqs {
		if err := ctx.Err(); err != nil {
			return err
		}
		log := w.log.With(zap.String("request_id", req.ID), zap.String("source_service", req.SourceService))

		keys, err := req.LookupKeys()
		if err != nil {
			log.Error("undecodable lookup keys, completing request", zap.Error(err))
		}

		failed := 0
		for _, key := range util.NormalizeLookupKeys(keys) {
			if err := w.syncKey(ctx, key); err != nil {
				failed++
				log.Error("sync-up key failed", zap.String("lookup_key", key), zap.Error(err))
			}
		}

		if _, err := w.repo.MarkCompleted(ctx, req.ID, w.now().UTC()); err != nil {
			return fmt.Errorf("complete sync-up request %s: %w", req.ID, err)
		}
		log.Info("sync-up request completed", zap.Int("keys", len(keys)), zap.Int("failed", failed))
	}
	return nil
}

func (w *Worker) syncKey(ctx context.Context, key string) error {
	tx, err := w.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := w.bridge.Sync(ctx, tx, key, w.cfg.Limit); err != nil {
		return err
	}
	return tx.Commit()
}
