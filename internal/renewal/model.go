// Package renewal scores how likely a contract is to be renewed.
package renewal

import (
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kalambet/crmai/internal/crm"
	"github.com/kalambet/crmai/internal/features"
)

const (
	// MinTrainingRecords is the largest batch size that is still too small
	// to train on; training needs strictly more records.
	MinTrainingRecords = 5

	// RenewThreshold is the probability above which a contract is expected to renew.
	RenewThreshold = 0.6

	defaultTrees = 50
	defaultSeed  = 42
)

// Actions returned alongside a prediction.
const (
	ActionPremium   = "loyal client, offer premium upgrade"
	ActionRetention = "contact for retention"
	ActionUrgent    = "high risk, urgent action"

	PredictionInsufficient = "insufficient data"
	ActionCollectMore      = "collect more data"
)

// Result is the outcome of a single prediction. An untrained model fills
// Prediction and leaves WillRenew nil.
type Result struct {
	Prediction string  `json:"prediction,omitempty"`
	WillRenew  *bool   `json:"will_renew,omitempty"`
	Confidence float64 `json:"confidence"`
	Action     string  `json:"action"`
}

// TrainResult reports what a Train call did.
type TrainResult struct {
	Trained   bool // a new state was installed by this call
	Used      int
	Positives int
}

// Status describes the currently installed model state.
type Status struct {
	Trained   bool      `json:"trained"`
	TrainedAt time.Time `json:"trained_at,omitzero"`
	Records   int       `json:"records"`
	Positives int       `json:"positives"`
	Trees     int       `json:"trees"`
}

// state pairs the normalization statistics with the classifier fitted on
// them. It is never mutated after construction.
type state struct {
	stats     features.Stats
	forest    *forest
	trainedAt time.Time
	records   int
	positives int
}

// Model holds the process-wide renewal classifier. Predict is lock-free;
// Train builds a complete state and installs it with a single pointer swap.
type Model struct {
	trainMu sync.Mutex
	current atomic.Pointer[state]

	trees int
	seed  uint64
	now   func() time.Time
}

// Option configures a Model.
type Option func(*Model)

// WithTrees sets the number of trees in the forest. Values <= 0 keep the default (50).
func WithTrees(n int) Option {
	return func(m *Model) {
		if n > 0 {
			m.trees = n
		}
	}
}

// WithSeed sets the RNG seed used for bootstrap sampling and feature selection.
func WithSeed(seed uint64) Option {
	return func(m *Model) { m.seed = seed }
}

// NewModel returns an untrained Model.
func NewModel(opts ...Option) *Model {
	m := &Model{trees: defaultTrees, seed: defaultSeed, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Trained reports whether a state has been installed.
func (m *Model) Trained() bool {
	return m.current.Load() != nil
}

// Status returns a description of the installed state.
func (m *Model) Status() Status {
	st := Status{Trees: m.trees}
	if s := m.current.Load(); s != nil {
		st.Trained = true
		st.TrainedAt = s.trainedAt
		st.Records = s.records
		st.Positives = s.positives
	}
	return st
}

// Train fits a fresh model on contracts, labelled by their Renewed flag.
// Batches of MinTrainingRecords or fewer leave the current state untouched.
func (m *Model) Train(contracts []crm.Contract) TrainResult {
	res := TrainResult{Used: len(contracts)}
	xs := make([]features.Vector, len(contracts))
	ys := make([]bool, len(contracts))
	for i, c := range contracts {
		xs[i] = features.Extract(c)
		ys[i] = c.Renewed
		if c.Renewed {
			res.Positives++
		}
	}
	if len(xs) <= MinTrainingRecords {
		return res
	}

	m.trainMu.Lock()
	defer m.trainMu.Unlock()

	stats := features.Fit(xs)
	rng := rand.New(rand.NewPCG(m.seed, m.seed^0x9e3779b97f4a7c15))
	next := &state{
		stats:     stats,
		forest:    fitForest(stats.ApplyAll(xs), ys, m.trees, rng),
		trainedAt: m.now().UTC(),
		records:   len(xs),
		positives: res.Positives,
	}
	m.current.Store(next)

	res.Trained = true
	return res
}

// Predict scores a single contract. An untrained model returns the
// insufficient-data sentinel without touching any numeric state.
func (m *Model) Predict(c crm.Contract) Result {
	s := m.current.Load()
	if s == nil {
		return Result{
			Prediction: PredictionInsufficient,
			Confidence: 0,
			Action:     ActionCollectMore,
		}
	}

	p := s.forest.probability(s.stats.Apply(features.Extract(c)))
	return Score(p)
}

// Score builds the Result for a renewal probability p.
func Score(p float64) Result {
	willRenew := WillRenew(p)
	return Result{
		WillRenew:  &willRenew,
		Confidence: p,
		Action:     Action(p),
	}
}

// WillRenew reports whether p is strictly above RenewThreshold.
func WillRenew(p float64) bool {
	return p > RenewThreshold
}

// Action maps a renewal probability to the recommended follow-up.
func Action(p float64) string {
	switch {
	case p > 0.8:
		return ActionPremium
	case p > 0.5:
		return ActionRetention
	default:
		return ActionUrgent
	}
}
