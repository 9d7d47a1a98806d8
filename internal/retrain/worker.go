// Package retrain refits the renewal model on a schedule.
package retrain

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kalambet/crmai/internal/prediction"
)

// Trainer refits the model from the upstream contract list.
type Trainer interface {
	Train(ctx context.Context, source string) (prediction.TrainStatus, error)
}

// Worker periodically retrains the model until its context is cancelled.
type Worker struct {
	trainer  Trainer
	interval time.Duration
	atStart  bool
	logger   *slog.Logger
}

// NewWorker creates a Worker. When atStart is true the first training
// happens as soon as Run begins. If interval is <= 0 Run returns after
// that optional first pass.
func NewWorker(trainer Trainer, interval time.Duration, atStart bool) *Worker {
	return &Worker{
		trainer:  trainer,
		interval: interval,
		atStart:  atStart,
		logger:   slog.Default(),
	}
}

// Run trains on every tick until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	if w.atStart {
		if _, err := w.RunOnce(ctx); err != nil {
			w.logger.Warn("scheduled training failed", "error", err)
		}
	}
	if w.interval <= 0 {
		return
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.RunOnce(ctx); err != nil {
				w.logger.Warn("scheduled training failed", "error", err)
			}
		}
	}
}

// RunOnce performs a single training pass.
// Returns true if a new model was installed.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	st, err := w.trainer.Train(ctx, prediction.SourceScheduler)
	if err != nil {
		return false, fmt.Errorf("retraining: %w", err)
	}
	if !st.Trained {
		w.logger.Info("scheduled training skipped, batch too small", "contracts_used", st.ContractsUsed)
	}
	return st.Trained, nil
}
