package state

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"problembot/internal/domain"
)

func openTestKV(t *testing.T) KV {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	db.SetMaxOpenConns(1)
	require.NoError(t, EnsureSchema(db))
	return NewSQLiteKV(db)
}

func TestKVRoundTrip(t *testing.T) {
	kv := openTestKV(t)
	ctx := context.Background()

	_, err := kv.Get(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, kv.Set(ctx, "a", "1"))
	require.NoError(t, kv.Set(ctx, "a", "2"))
	got, err := kv.Get(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, "2", got)
}

func TestWatermarkRoundTrip(t *testing.T) {
	ws := NewWatermarkStore(openTestKV(t))
	ctx := context.Background()

	_, ok, err := ws.Get(ctx, "city")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, ws.Set(ctx, "city", domain.Watermark{LastID: 3768973}))
	w, ok, err := ws.Get(ctx, "city")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(3768973), w.LastID)
}

func TestWatermarkCorruptedValueIsAbsent(t *testing.T) {
	kv := openTestKV(t)
	ws := NewWatermarkStore(kv)
	ctx := context.Background()

	require.NoError(t, kv.Set(ctx, "vkbot_import_city_last_sended_problem_id", "not-a-number"))
	_, ok, err := ws.Get(ctx, "city")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRunStateRoundTrip(t *testing.T) {
	rs := NewRunStateStore(openTestKV(t))
	ctx := context.Background()

	st, ok, err := rs.Get(ctx, "city")
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, domain.PhaseIdle, st.Phase)

	require.NoError(t, rs.Set(ctx, "city", domain.RunState{Phase: domain.PhaseStarted}))
	st, ok, err = rs.Get(ctx, "city")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, domain.PhaseStarted, st.Phase)
}

func TestRunStateCorruptedValueIsIdle(t *testing.T) {
	kv := openTestKV(t)
	rs := NewRunStateStore(kv)
	ctx := context.Background()

	require.NoError(t, kv.Set(ctx, "vkbot_import_city_last_run", "{broken"))
	st, ok, err := rs.Get(ctx, "city")
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, domain.PhaseIdle, st.Phase)
}

func TestDedupCheckIsIdempotent(t *testing.T) {
	dc := NewDedupCache(openTestKV(t))
	ctx := context.Background()

	fresh, err := dc.Check(ctx, "city", "evt-1")
	require.NoError(t, err)
	require.True(t, fresh)

	fresh, err = dc.Check(ctx, "city", "evt-1")
	require.NoError(t, err)
	require.False(t, fresh)

	require.True(t, dc.Seen(ctx, "city", "evt-1"))
	require.False(t, dc.Seen(ctx, "city", "evt-2"))
}

func TestDedupMarkSeenAppendOnly(t *testing.T) {
	kv := openTestKV(t)
	dc := NewDedupCache(kv)
	ctx := context.Background()

	require.NoError(t, dc.MarkSeen(ctx, "city", "a"))
	require.NoError(t, dc.MarkSeen(ctx, "city", "b"))
	require.NoError(t, dc.MarkSeen(ctx, "city", "a"))

	raw, err := kv.Get(ctx, "vkbot_city_message_events")
	require.NoError(t, err)
	require.JSONEq(t, `["a","b"]`, raw)
}

type failingKV struct{}

func (failingKV) Get(context.Context, string) (string, error) {
	return "", errors.New("store down")
}
func (failingKV) Set(context.Context, string, string) error {
	return errors.New("store down")
}

func TestDedupFailsOpenOnReadError(t *testing.T) {
	dc := NewDedupCache(failingKV{})
	require.False(t, dc.Seen(context.Background(), "city", "evt-1"))
}
