// Package snapshot assembles a point-in-time view of the CRM data that
// tolerates any subset of the upstream reads failing.
package snapshot

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/crmai/internal/crm"
	"github.com/kalambet/crmai/internal/metrics"
)

const (
	// MaxItems caps the clients and contracts kept in a Snapshot.
	MaxItems = 5

	defaultTimeout = 3 * time.Second
)

// Domain names used in logs, metrics and reports.
const (
	DomainStats     = "stats"
	DomainClients   = "clients"
	DomainContracts = "contracts"
)

// Source is the upstream data service.
type Source interface {
	Stats(ctx context.Context) (crm.Stats, error)
	Clients(ctx context.Context) ([]crm.Client, error)
	Contracts(ctx context.Context) ([]crm.Contract, error)
}

// Snapshot is a partially populated view of the CRM. A nil field means the
// corresponding read failed; that is an expected state.
type Snapshot struct {
	Stats     *crm.Stats
	Clients   []crm.Client
	Contracts []crm.Contract
}

// Empty reports whether no domain could be read.
func (s Snapshot) Empty() bool {
	return s.Stats == nil && s.Clients == nil && s.Contracts == nil
}

// Result is the outcome of one domain read.
type Result[T any] struct {
	Value T
	Err   error
}

// OK reports whether the read succeeded.
func (r Result[T]) OK() bool { return r.Err == nil }

// Report carries the raw per-domain results of one Fetch, before truncation.
type Report struct {
	Stats     Result[crm.Stats]
	Clients   Result[[]crm.Client]
	Contracts Result[[]crm.Contract]
}

// Errors maps each failed domain to its error message.
func (r Report) Errors() map[string]string {
	out := make(map[string]string)
	if r.Stats.Err != nil {
		out[DomainStats] = r.Stats.Err.Error()
	}
	if r.Clients.Err != nil {
		out[DomainClients] = r.Clients.Err.Error()
	}
	if r.Contracts.Err != nil {
		out[DomainContracts] = r.Contracts.Err.Error()
	}
	return out
}

// Snapshot converts the report into a Snapshot, truncating the lists.
func (r Report) Snapshot() Snapshot {
	var s Snapshot
	if r.Stats.OK() {
		stats := r.Stats.Value
		s.Stats = &stats
	}
	if r.Clients.OK() {
		s.Clients = truncate(r.Clients.Value)
	}
	if r.Contracts.OK() {
		s.Contracts = truncate(r.Contracts.Value)
	}
	return s
}

// Aggregator reads the three CRM domains concurrently, each under its own timeout.
type Aggregator struct {
	source  Source
	timeout time.Duration
	logger  *slog.Logger
}

// NewAggregator creates an Aggregator. A timeout <= 0 uses the default (3s).
func NewAggregator(source Source, timeout time.Duration) *Aggregator {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Aggregator{source: source, timeout: timeout, logger: slog.Default()}
}

// Fetch returns whatever could be read. It never fails.
func (a *Aggregator) Fetch(ctx context.Context) Snapshot {
	return a.FetchReport(ctx).Snapshot()
}

// FetchReport runs the three reads and returns their individual outcomes.
func (a *Aggregator) FetchReport(ctx context.Context) Report {
	var r Report

	// Goroutines always return nil so one failed domain never cancels the others.
	var g errgroup.Group
	g.Go(func() error {
		r.Stats = fetch(ctx, a, DomainStats, a.source.Stats)
		return nil
	})
	g.Go(func() error {
		r.Clients = fetch(ctx, a, DomainClients, a.source.Clients)
		if r.Clients.OK() && r.Clients.Value == nil {
			r.Clients.Value = []crm.Client{}
		}
		return nil
	})
	g.Go(func() error {
		r.Contracts = fetch(ctx, a, DomainContracts, a.source.Contracts)
		if r.Contracts.OK() && r.Contracts.Value == nil {
			r.Contracts.Value = []crm.Contract{}
		}
		return nil
	})
	_ = g.Wait()

	return r
}

func fetch[T any](ctx context.Context, a *Aggregator, domain string, read func(context.Context) (T, error)) Result[T] {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	start := time.Now()
	v, err := runBounded(ctx, read)
	metrics.ObserveUpstreamFetch(domain, err, time.Since(start))
	if err != nil {
		a.logger.Warn("snapshot: domain unavailable", "domain", domain, "error", err)
		return Result[T]{Err: err}
	}
	return Result[T]{Value: v}
}

// runBounded returns when read does or when ctx expires, whichever comes
// first, so a Source that ignores its context cannot stall the snapshot.
func runBounded[T any](ctx context.Context, read func(context.Context) (T, error)) (T, error) {
	type outcome struct {
		v   T
		err error
	}
	ch := make(chan outcome, 1)
	go func() {
		v, err := read(ctx)
		ch <- outcome{v, err}
	}()

	select {
	case o := <-ch:
		return o.v, o.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

func truncate[T any](items []T) []T {
	if len(items) > MaxItems {
		items = items[:MaxItems]
	}
	out := make([]T, len(items))
	copy(out, items)
	return out
}
