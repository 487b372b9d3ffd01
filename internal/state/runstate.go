package state

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"

	"problembot/internal/domain"
)

const runStateSuffix = "_last_run"

type runStateRow struct {
	TM    int64  `json:"tm"`
	State string `json:"state"`
}

// RunStateStore persists the run phase per tenant task. It backs the
// overlap guard: a cycle may only begin while the stored phase is not
// "started".
type RunStateStore struct {
	kv     KV
	prefix string
}

func NewRunStateStore(kv KV) *RunStateStore {
	return &RunStateStore{kv: kv, prefix: DefaultPrefix}
}

func (s *RunStateStore) key(task string) string {
	return s.prefix + task + runStateSuffix
}

func (s *RunStateStore) Get(ctx context.Context, task string) (domain.RunState, bool, error) {
	raw, err := s.kv.Get(ctx, s.key(task))
	if err != nil {
		if err == ErrNotFound {
			return domain.RunState{Phase: domain.PhaseIdle}, false, nil
		}
		return domain.RunState{Phase: domain.PhaseIdle}, false, err
	}
	var row runStateRow
	if err := json.Unmarshal([]byte(raw), &row); err != nil {
		log.Warn().Str("task", task).Msg("malformed run state, treating as idle")
		return domain.RunState{Phase: domain.PhaseIdle}, false, nil
	}
	return domain.RunState{
		Phase:     domain.RunPhase(row.State),
		StartedAt: time.UnixMilli(row.TM),
	}, true, nil
}

func (s *RunStateStore) Set(ctx context.Context, task string, rs domain.RunState) error {
	raw, err := json.Marshal(runStateRow{
		TM:    rs.StartedAt.UnixMilli(),
		State: string(rs.Phase),
	})
	if err != nil {
		return err
	}
	return s.kv.Set(ctx, s.key(task), string(raw))
}
