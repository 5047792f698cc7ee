package ingest

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// RunFunc runs ingestion for one client.
type RunFunc func(ctx context.Context, clientID string) error

// Runner collapses concurrent runs of the same client into one; different
// clients run independently.
type Runner struct {
	run   RunFunc
	group singleflight.Group
}

func NewRunner(run RunFunc) *Runner {
	return &Runner{run: run}
}

// Run starts a run for clientID or joins the one already in flight. shared
// reports whether the result came from another caller's run.
func (r *Runner) Run(ctx context.Context, clientID string) (shared bool, err error) {
	_, err, shared = r.group.Do(clientID, func() (any, error) {
		return nil, r.run(ctx, clientID)
	})
	return shared, err
}

// RunAll runs every client in parallel and joins their errors.
func (r *Runner) RunAll(ctx context.Context, clientIDs []string) error {
	errs := make([]error, len(clientIDs))
	var g errgroup.Group
	for i, id := range clientIDs {
		g.Go(func() error {
			_, errs[i] = r.Run(ctx, id)
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// ClientLister enumerates client ids when none are configured.
type ClientLister interface {
	List(ctx context.Context) ([]*ExternalClient, error)
}

// Scheduler triggers RunAll on a fixed interval.
type Scheduler struct {
	runner    *Runner
	clients   ClientLister
	clientIDs []string
	interval  time.Duration
	logger    zerolog.Logger
}

// NewScheduler runs clientIDs every interval; an empty clientIDs means every
// stored client.
func NewScheduler(runner *Runner, clients ClientLister, clientIDs []string, interval time.Duration, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		runner:    runner,
		clients:   clients,
		clientIDs: clientIDs,
		interval:  interval,
		logger:    logger,
	}
}

// Start runs until ctx is cancelled. A non-positive interval disables it.
func (s *Scheduler) Start(ctx context.Context) {
	if s.interval <= 0 {
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.tick(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	ids, err := s.targets(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("ingestion scheduler could not list clients")
		return
	}
	if err := s.runner.RunAll(ctx, ids); err != nil {
		s.logger.Warn().Err(err).Int("clients", len(ids)).Msg("scheduled ingestion finished with failures")
		return
	}
	s.logger.Info().Int("clients", len(ids)).Msg("scheduled ingestion finished")
}

func (s *Scheduler) targets(ctx context.Context) ([]string, error) {
	if len(s.clientIDs) > 0 {
		return s.clientIDs, nil
	}
	clients, err := s.clients.List(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(clients))
	for _, c := range clients {
		ids = append(ids, c.ID)
	}
	return ids, nil
}
