package state

import (
	"context"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"problembot/internal/domain"
)

// DefaultPrefix namespaces import-task keys in the shared store.
const DefaultPrefix = "vkbot_import_"

const watermarkSuffix = "_last_sended_problem_id"

// WatermarkStore persists the last processed record id per tenant task.
// Reads fail open: a missing or malformed value reports "absent" so a bad
// payload never blocks the importer.
type WatermarkStore struct {
	kv     KV
	prefix string
}

func NewWatermarkStore(kv KV) *WatermarkStore {
	return &WatermarkStore{kv: kv, prefix: DefaultPrefix}
}

func (s *WatermarkStore) key(task string) string {
	return s.prefix + task + watermarkSuffix
}

// Get returns the stored watermark for the task, or ok=false when absent.
// Store errors are returned alongside ok=false so callers can log and
// continue with "unknown watermark".
func (s *WatermarkStore) Get(ctx context.Context, task string) (domain.Watermark, bool, error) {
	raw, err := s.kv.Get(ctx, s.key(task))
	if err != nil {
		if err == ErrNotFound {
			return domain.Watermark{}, false, nil
		}
		return domain.Watermark{}, false, err
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		log.Warn().Str("task", task).Str("value", raw).Msg("malformed watermark, treating as absent")
		return domain.Watermark{}, false, nil
	}
	return domain.Watermark{LastID: id, UpdatedAt: time.Now()}, true, nil
}

// Set overwrites the watermark. Best effort: the caller keeps its in-memory
// progress even when the write fails.
func (s *WatermarkStore) Set(ctx context.Context, task string, w domain.Watermark) error {
	return s.kv.Set(ctx, s.key(task), strconv.FormatInt(w.LastID, 10))
}
