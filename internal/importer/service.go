// Package importer orchestrates fetch/compose/fan-out cycles per tenant
// task and owns the run-overlap guard and the watermark commit.
package importer

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"problembot/internal/domain"
	"problembot/internal/notify"
)

// ErrCycleRunning reports that a previous cycle for the same scope has not
// finished; the new invocation is a no-op.
var ErrCycleRunning = errors.New("previous import cycle still running")

// DefaultStaleLease bounds how long a crashed cycle can hold the started
// phase before the scope is reclaimed.
const DefaultStaleLease = 30 * time.Minute

type Fetcher interface {
	Fetch(ctx context.Context, afterID int64) ([]domain.Record, error)
}

type Resolver interface {
	Resolve(ctx context.Context, scope notify.Scope, mode domain.SubscriptionMode) ([]domain.Subscription, error)
}

type Sender interface {
	Send(ctx context.Context, sub domain.Subscription, record domain.Record) error
}

type WatermarkStore interface {
	Get(ctx context.Context, task string) (domain.Watermark, bool, error)
	Set(ctx context.Context, task string, w domain.Watermark) error
}

type RunStateStore interface {
	Get(ctx context.Context, task string) (domain.RunState, bool, error)
	Set(ctx context.Context, task string, rs domain.RunState) error
}

// Service runs import cycles for one tenant task.
type Service struct {
	Task       string
	Scope      notify.Scope
	Watermarks WatermarkStore
	RunStates  RunStateStore
	Router     Resolver
	Fetcher    Fetcher
	Dispatcher Sender
	Interval   time.Duration
	StaleLease time.Duration

	stop chan struct{}
	now  func() time.Time
}

func NewService(task string, scope notify.Scope, wm WatermarkStore, rs RunStateStore, router Resolver, fetcher Fetcher, dispatcher Sender, interval time.Duration) *Service {
	return &Service{
		Task:       task,
		Scope:      scope,
		Watermarks: wm,
		RunStates:  rs,
		Router:     router,
		Fetcher:    fetcher,
		Dispatcher: dispatcher,
		Interval:   interval,
		StaleLease: DefaultStaleLease,
		stop:       make(chan struct{}),
		now:        time.Now,
	}
}

// Start runs one cycle immediately and then on a fixed interval until the
// context is canceled or Stop is called. Overlapping firings are suppressed
// by the run-state guard, not by canceling the ticker.
func (s *Service) Start(ctx context.Context) {
	log.Info().Str("task", s.Task).Dur("interval", s.Interval).Msg("importer started")

	if _, err := s.RunOnce(ctx, 0); err != nil && !errors.Is(err, ErrCycleRunning) {
		log.Error().Err(err).Str("task", s.Task).Msg("initial import cycle failed")
	}

	t := time.NewTicker(s.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-t.C:
			if _, err := s.RunOnce(ctx, 0); err != nil && !errors.Is(err, ErrCycleRunning) {
				log.Error().Err(err).Str("task", s.Task).Msg("import cycle failed")
			}
		}
	}
}

func (s *Service) Stop() { close(s.stop) }

// RunOnce executes a single cycle. afterOverride > 0 forces the fetch
// position, bypassing the stored watermark (explicit backfill).
func (s *Service) RunOnce(ctx context.Context, afterOverride int64) (domain.CycleSummary, error) {
	var summary domain.CycleSummary

	prev, _, err := s.RunStates.Get(ctx, s.Task)
	if err != nil {
		log.Error().Err(err).Str("task", s.Task).Msg("run state read failed, assuming idle")
	}
	if prev.Phase == domain.PhaseStarted {
		age := s.now().Sub(prev.StartedAt)
		if age < s.StaleLease {
			log.Warn().
				Str("task", s.Task).
				Time("started_at", prev.StartedAt).
				Dur("age", age).
				Msg("previous import cycle not finished, skipping")
			return summary, ErrCycleRunning
		}
		// The holder is presumed dead; reclaim the scope.
		log.Warn().
			Str("task", s.Task).
			Time("started_at", prev.StartedAt).
			Dur("age", age).
			Msg("stale run lease expired, reclaiming scope")
	}

	runID := uuid.NewString()
	s.setPhase(ctx, domain.PhaseStarted)
	defer s.setPhase(ctx, domain.PhaseFinished)

	log.Info().Str("task", s.Task).Str("run", runID).Msg("import cycle started")

	subs, err := s.Router.Resolve(ctx, s.Scope, domain.ModeEvery)
	if err != nil {
		log.Error().Err(err).Str("task", s.Task).Msg("subscription resolve failed")
		return summary, err
	}
	if len(subs) == 0 {
		// No destinations: skip the fetch entirely and leave the watermark
		// alone so backlog is delivered once someone subscribes.
		log.Info().Str("task", s.Task).Msg("no subscriptions, import canceled")
		return summary, nil
	}

	afterID := afterOverride
	if afterID <= 0 {
		w, ok, err := s.Watermarks.Get(ctx, s.Task)
		if err != nil {
			log.Error().Err(err).Str("task", s.Task).Msg("watermark read failed, assuming absent")
		}
		if ok {
			afterID = w.LastID
		}
	}

	records, err := s.Fetcher.Fetch(ctx, afterID)
	if err != nil {
		log.Error().Err(err).Str("task", s.Task).Msg("fetch failed, skipping cycle")
		return summary, err
	}
	if len(records) == 0 {
		log.Info().Str("task", s.Task).Msg("no new records")
		return summary, nil
	}

	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })
	maxID := records[len(records)-1].ID

	for _, record := range records {
		allSent := true
		for _, sub := range subs {
			if err := s.Dispatcher.Send(ctx, sub, record); err != nil {
				allSent = false
				summary.Failed = append(summary.Failed, domain.SendOutcome{
					RecordID: record.ID,
					ChatID:   sub.ChatID,
					Err:      err,
				})
			}
		}
		if allSent {
			summary.SentCount++
			summary.SentIDs = append(summary.SentIDs, record.ID)
		}
	}

	// The watermark reflects "attempted", not "fully delivered": it advances
	// to the batch maximum even when some destinations failed.
	if err := s.Watermarks.Set(ctx, s.Task, domain.Watermark{LastID: maxID, UpdatedAt: s.now()}); err != nil {
		log.Error().Err(err).Str("task", s.Task).Int64("last_id", maxID).Msg("watermark write failed")
	} else {
		log.Info().Str("task", s.Task).Int64("last_id", maxID).Msg("watermark committed")
	}

	log.Info().
		Str("task", s.Task).
		Str("run", runID).
		Int("records", len(records)).
		Int("sent", summary.SentCount).
		Ints64("sent_ids", summary.SentIDs).
		Msg("import cycle finished")

	return summary, nil
}

func (s *Service) setPhase(ctx context.Context, phase domain.RunPhase) {
	err := s.RunStates.Set(ctx, s.Task, domain.RunState{Phase: phase, StartedAt: s.now()})
	if err != nil {
		log.Error().Err(err).Str("task", s.Task).Str("phase", string(phase)).Msg("run state write failed")
	}
}
