package scheduler

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"ticker-panel/internal/watchlist"
)

// Refresher is the part of the watchlist manager driven by the timer.
type Refresher interface {
	RefreshAll(ctx context.Context) watchlist.RefreshReport
	RefreshHistory(ctx context.Context) watchlist.HistoryReport
}

// Scheduler fires refresh ticks. Each job runs in its own goroutine, so a
// slow tick may overlap the next one.
type Scheduler struct {
	cron *cron.Cron
	wl   Refresher
	ctx  context.Context
	now  sync.WaitGroup
}

func New(ctx context.Context, wl Refresher) *Scheduler {
	return &Scheduler{
		cron: cron.New(cron.WithSeconds()),
		wl:   wl,
		ctx:  ctx,
	}
}

// Register adds the price tick and, when historySpec is non-empty, the
// periodic history refresh.
func (s *Scheduler) Register(refreshSpec, historySpec string) error {
	if _, err := s.cron.AddFunc(refreshSpec, s.priceTick); err != nil {
		return fmt.Errorf("register refresh task: %w", err)
	}
	if historySpec == "" {
		return nil
	}
	if _, err := s.cron.AddFunc(historySpec, s.historyTick); err != nil {
		return fmt.Errorf("register history task: %w", err)
	}
	return nil
}

// Start runs one immediate tick in the background and starts the timer.
func (s *Scheduler) Start() {
	s.now.Add(1)
	go func() {
		defer s.now.Done()
		s.RunNow()
	}()
	s.cron.Start()
	log.Info().Str("component", "scheduler").Int("jobs", len(s.cron.Entries())).Msg("scheduler started")
}

// Stop stops scheduling and waits for running jobs.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.now.Wait()
	log.Info().Str("component", "scheduler").Msg("scheduler stopped")
}

// RunNow runs one price tick and one history refresh synchronously.
func (s *Scheduler) RunNow() {
	s.historyTick()
	s.priceTick()
}

func (s *Scheduler) priceTick() {
	r := s.wl.RefreshAll(s.ctx)
	log.Debug().Str("component", "scheduler").
		Int("updated", r.Updated).Int("failed", r.Failed).Int("discarded", r.Discarded).
		Msg("price tick")
}

func (s *Scheduler) historyTick() {
	r := s.wl.RefreshHistory(s.ctx)
	log.Debug().Str("component", "scheduler").
		Int("fetched", r.Fetched).Int("failed", r.Failed).Bool("discarded", r.Discarded).
		Msg("history tick")
}
