// Package prediction connects the renewal model to the upstream CRM.
package prediction

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/crmai/internal/crm"
	"github.com/kalambet/crmai/internal/metrics"
	"github.com/kalambet/crmai/internal/renewal"
	"github.com/kalambet/crmai/internal/storage"
)

// StatusTrainingDone is reported after every completed training call,
// whether or not the batch was large enough to replace the model.
const StatusTrainingDone = "model training completed"

// Training sources recorded with each run.
const (
	SourceAPI       = "api"
	SourceMCP       = "mcp"
	SourceScheduler = "scheduler"
)

// ContractSource reads contracts from the upstream CRM.
type ContractSource interface {
	Contract(ctx context.Context, id int64) (crm.Contract, error)
	TrainingContracts(ctx context.Context) ([]crm.Contract, error)
}

// RunRecorder persists training runs.
type RunRecorder interface {
	SaveTrainingRun(r storage.TrainingRun) error
}

// TrainStatus is returned by Train.
type TrainStatus struct {
	Status        string `json:"status"`
	ContractsUsed int    `json:"contracts_used"`
	Trained       bool   `json:"trained"`
}

// Service serves predictions and retrains the model on demand.
type Service struct {
	source   ContractSource
	model    *renewal.Model
	recorder RunRecorder
	logger   *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithRecorder stores every training attempt through r.
func WithRecorder(r RunRecorder) Option {
	return func(s *Service) { s.recorder = r }
}

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func NewService(source ContractSource, model *renewal.Model, opts ...Option) *Service {
	s := &Service{source: source, model: model, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Predict fetches the contract and scores it.
func (s *Service) Predict(ctx context.Context, contractID int64) (renewal.Result, error) {
	c, err := s.source.Contract(ctx, contractID)
	if err != nil {
		return renewal.Result{}, fmt.Errorf("fetching contract %d: %w", contractID, err)
	}
	res := s.model.Predict(c)
	metrics.ObservePrediction(res.Action)
	s.logger.Debug("prediction served", "contract_id", contractID, "confidence", res.Confidence, "action", res.Action)
	return res, nil
}

// Train refits the model on the full upstream contract list. source names
// the caller for the training-run log.
func (s *Service) Train(ctx context.Context, source string) (TrainStatus, error) {
	contracts, err := s.source.TrainingContracts(ctx)
	if err != nil {
		metrics.ObserveTraining("error", false)
		s.record(source, renewal.TrainResult{}, err)
		return TrainStatus{}, fmt.Errorf("fetching training contracts: %w", err)
	}

	res := s.model.Train(contracts)
	outcome := "trained"
	if !res.Trained {
		outcome = "insufficient"
	}
	metrics.ObserveTraining(outcome, res.Trained)
	s.record(source, res, nil)

	s.logger.Info("training finished",
		"source", source,
		"contracts_used", res.Used,
		"positives", res.Positives,
		"trained", res.Trained,
	)
	return TrainStatus{
		Status:        StatusTrainingDone,
		ContractsUsed: res.Used,
		Trained:       res.Trained,
	}, nil
}

// Status describes the installed model.
func (s *Service) Status() renewal.Status {
	return s.model.Status()
}

func (s *Service) record(source string, res renewal.TrainResult, trainErr error) {
	if s.recorder == nil {
		return
	}
	run := storage.TrainingRun{
		ID:            uuid.New().String(),
		CreatedAt:     time.Now().UTC(),
		Source:        source,
		ContractsUsed: res.Used,
		Positives:     res.Positives,
		Trained:       res.Trained,
	}
	if trainErr != nil {
		run.Error = trainErr.Error()
	}
	if err := s.recorder.SaveTrainingRun(run); err != nil {
		s.logger.Warn("recording training run", "error", err)
	}
}
