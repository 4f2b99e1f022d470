package mailing

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Scheduler polls for due posts and hands them to the fan-out in the
// background, decoupled from the HTTP process that scheduled them.
type Scheduler struct {
	logger *slog.Logger
	store  *Store
	fanout *Fanout
	cron   *cron.Cron
}

// NewScheduler creates a mailing scheduler.
func NewScheduler(log *slog.Logger, store *Store, fanout *Fanout) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		logger: log.With(slog.String("component", "mailing_scheduler")),
		store:  store,
		fanout: fanout,
		cron:   cron.New(),
	}
}

// Start begins polling every minute.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc("@every 1m", s.tick); err != nil {
		return err
	}
	s.cron.Start()
	s.logger.Info("mailing scheduler started")
	return nil
}

// Stop halts polling and waits for running jobs.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("mailing scheduler stopped")
}

func (s *Scheduler) tick() {
	ctx := context.Background()
	posts, err := s.store.ClaimDuePosts(ctx)
	if err != nil {
		s.logger.Error("claim due posts", slog.Any("error", err))
		return
	}
	for _, post := range posts {
		go func() {
			if err := s.fanout.Send(ctx, post.ID); err != nil {
				s.logger.Error("scheduled fan-out failed",
					slog.Int64("post_id", post.ID), slog.Any("error", err))
			}
		}()
	}
}
