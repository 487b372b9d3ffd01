package importer

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"problembot/internal/domain"
	"problembot/internal/notify"
	"problembot/internal/source"
)

type StatsFetcher interface {
	Stats(ctx context.Context, period source.StatPeriod) (domain.StatSummary, error)
}

type DigestComposer interface {
	Digest(period string, date string, st domain.StatSummary) string
}

// DigestJob sends a daily summary to "daily"-mode subscriptions on a cron
// schedule. Failures are logged; the next run is unaffected.
type DigestJob struct {
	Task      string
	Scope     notify.Scope
	Router    Resolver
	Stats     StatsFetcher
	Composer  DigestComposer
	Transport notify.Transport

	now func() time.Time
}

func NewDigestJob(task string, scope notify.Scope, router Resolver, stats StatsFetcher, composer DigestComposer, transport notify.Transport) *DigestJob {
	return &DigestJob{
		Task:      task,
		Scope:     scope,
		Router:    router,
		Stats:     stats,
		Composer:  composer,
		Transport: transport,
		now:       time.Now,
	}
}

// Schedule registers the job on the given cron runner.
func (j *DigestJob) Schedule(c *cron.Cron, spec string) (cron.EntryID, error) {
	return c.AddFunc(spec, func() {
		if err := j.Run(context.Background()); err != nil {
			log.Error().Err(err).Str("task", j.Task).Msg("digest run failed")
		}
	})
}

func (j *DigestJob) Run(ctx context.Context) error {
	subs, err := j.Router.Resolve(ctx, j.Scope, domain.ModeDaily)
	if err != nil {
		return err
	}
	if len(subs) == 0 {
		log.Info().Str("task", j.Task).Msg("no daily subscriptions, digest skipped")
		return nil
	}

	stats, err := j.Stats.Stats(ctx, source.PeriodDaily)
	if err != nil {
		return err
	}
	body := j.Composer.Digest("daily", j.now().Format("02.01.2006"), stats)

	for _, sub := range subs {
		if err := j.Transport.Send(ctx, sub.ChatID, body, nil); err != nil {
			log.Error().Err(err).Str("task", j.Task).Int64("chat", sub.ChatID).Msg("digest send failed")
		}
	}
	return nil
}
