package importer

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"problembot/internal/domain"
	"problembot/internal/notify"
	"problembot/internal/source"
)

type memWatermarks struct {
	values map[string]domain.Watermark
	getErr error
	setErr error
}

func newMemWatermarks() *memWatermarks {
	return &memWatermarks{values: map[string]domain.Watermark{}}
}

func (m *memWatermarks) Get(_ context.Context, task string) (domain.Watermark, bool, error) {
	if m.getErr != nil {
		return domain.Watermark{}, false, m.getErr
	}
	w, ok := m.values[task]
	return w, ok, nil
}

func (m *memWatermarks) Set(_ context.Context, task string, w domain.Watermark) error {
	if m.setErr != nil {
		return m.setErr
	}
	m.values[task] = w
	return nil
}

type memRunStates struct {
	values map[string]domain.RunState
}

func newMemRunStates() *memRunStates {
	return &memRunStates{values: map[string]domain.RunState{}}
}

func (m *memRunStates) Get(_ context.Context, task string) (domain.RunState, bool, error) {
	rs, ok := m.values[task]
	if !ok {
		return domain.RunState{Phase: domain.PhaseIdle}, false, nil
	}
	return rs, true, nil
}

func (m *memRunStates) Set(_ context.Context, task string, rs domain.RunState) error {
	m.values[task] = rs
	return nil
}

type fakeResolver struct {
	subs  []domain.Subscription
	err   error
	calls int
}

func (f *fakeResolver) Resolve(_ context.Context, _ notify.Scope, mode domain.SubscriptionMode) ([]domain.Subscription, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	var out []domain.Subscription
	for _, s := range f.subs {
		if s.Mode == mode {
			out = append(out, s)
		}
	}
	return out, nil
}

type fakeFetcher struct {
	records  []domain.Record
	err      error
	calls    int
	gotAfter int64
}

func (f *fakeFetcher) Fetch(_ context.Context, afterID int64) ([]domain.Record, error) {
	f.calls++
	f.gotAfter = afterID
	return f.records, f.err
}

type sendKey struct {
	record int64
	chat   int64
}

type fakeSender struct {
	calls []sendKey
	fail  map[sendKey]error
}

func (f *fakeSender) Send(_ context.Context, sub domain.Subscription, record domain.Record) error {
	k := sendKey{record: record.ID, chat: sub.ChatID}
	f.calls = append(f.calls, k)
	if err, ok := f.fail[k]; ok {
		return err
	}
	return nil
}

func everySubs(chats ...int64) []domain.Subscription {
	var subs []domain.Subscription
	for i, c := range chats {
		subs = append(subs, domain.Subscription{ID: int64(i + 1), ChatID: c, Mode: domain.ModeEvery})
	}
	return subs
}

func newTestService(wm *memWatermarks, rs *memRunStates, router *fakeResolver, fetcher *fakeFetcher, sender *fakeSender) *Service {
	return NewService("city", notify.Scope{BotID: 10}, wm, rs, router, fetcher, sender, time.Minute)
}

func TestRunOnceZeroSubscriptionsShortCircuits(t *testing.T) {
	wm := newMemWatermarks()
	wm.values["city"] = domain.Watermark{LastID: 50}
	fetcher := &fakeFetcher{}
	sender := &fakeSender{}
	svc := newTestService(wm, newMemRunStates(), &fakeResolver{}, fetcher, sender)

	summary, err := svc.RunOnce(context.Background(), 0)
	require.NoError(t, err)
	require.Zero(t, summary.SentCount)
	require.Zero(t, fetcher.calls, "fetch must not run without subscriptions")
	require.Empty(t, sender.calls)
	require.Equal(t, int64(50), wm.values["city"].LastID, "watermark must not move")
}

func TestRunOnceFanOutOrderAndWatermark(t *testing.T) {
	wm := newMemWatermarks()
	wm.values["city"] = domain.Watermark{LastID: 2}
	router := &fakeResolver{subs: everySubs(100, 200)}
	fetcher := &fakeFetcher{records: []domain.Record{{ID: 5}, {ID: 3}, {ID: 9}}}
	sender := &fakeSender{}
	svc := newTestService(wm, newMemRunStates(), router, fetcher, sender)

	summary, err := svc.RunOnce(context.Background(), 0)
	require.NoError(t, err)

	require.Equal(t, int64(2), fetcher.gotAfter)
	// N records x M destinations, ascending record order.
	require.Equal(t, []sendKey{
		{3, 100}, {3, 200},
		{5, 100}, {5, 200},
		{9, 100}, {9, 200},
	}, sender.calls)
	require.Equal(t, 3, summary.SentCount)
	require.Equal(t, []int64{3, 5, 9}, summary.SentIDs)
	require.Equal(t, int64(9), wm.values["city"].LastID)
}

func TestRunOncePartialFailureAccounting(t *testing.T) {
	// Records 5,3,9 with two destinations; destination B fails for id 9.
	wm := newMemWatermarks()
	router := &fakeResolver{subs: everySubs(100, 200)}
	fetcher := &fakeFetcher{records: []domain.Record{{ID: 5}, {ID: 3}, {ID: 9}}}
	sender := &fakeSender{fail: map[sendKey]error{{9, 200}: errors.New("kicked")}}
	svc := newTestService(wm, newMemRunStates(), router, fetcher, sender)

	summary, err := svc.RunOnce(context.Background(), 1)
	require.NoError(t, err)

	require.Equal(t, []sendKey{
		{3, 100}, {3, 200},
		{5, 100}, {5, 200},
		{9, 100}, {9, 200},
	}, sender.calls, "one destination failing must not abort the rest")
	require.Equal(t, 2, summary.SentCount)
	require.Equal(t, []int64{3, 5}, summary.SentIDs)
	require.Len(t, summary.Failed, 1)
	require.Equal(t, int64(9), summary.Failed[0].RecordID)
	require.Equal(t, int64(9), wm.values["city"].LastID, "watermark reflects attempted, not delivered")
}

func TestRunOnceGuardSkipsOverlappingCycle(t *testing.T) {
	rs := newMemRunStates()
	started := time.Now().Add(-3 * time.Minute)
	rs.values["city"] = domain.RunState{Phase: domain.PhaseStarted, StartedAt: started}

	router := &fakeResolver{subs: everySubs(100)}
	fetcher := &fakeFetcher{records: []domain.Record{{ID: 5}}}
	sender := &fakeSender{}
	svc := newTestService(newMemWatermarks(), rs, router, fetcher, sender)

	_, err := svc.RunOnce(context.Background(), 0)
	require.ErrorIs(t, err, ErrCycleRunning)
	require.Zero(t, router.calls)
	require.Zero(t, fetcher.calls)
	require.Empty(t, sender.calls)
	require.Equal(t, domain.PhaseStarted, rs.values["city"].Phase, "state unchanged")
	require.Equal(t, started, rs.values["city"].StartedAt)
}

func TestRunOnceStaleLeaseIsReclaimed(t *testing.T) {
	rs := newMemRunStates()
	rs.values["city"] = domain.RunState{
		Phase:     domain.PhaseStarted,
		StartedAt: time.Now().Add(-DefaultStaleLease - time.Minute),
	}
	fetcher := &fakeFetcher{records: []domain.Record{{ID: 5}}}
	sender := &fakeSender{}
	svc := newTestService(newMemWatermarks(), rs, &fakeResolver{subs: everySubs(100)}, fetcher, sender)

	summary, err := svc.RunOnce(context.Background(), 0)
	require.NoError(t, err)
	require.Equal(t, 1, summary.SentCount)
	require.Equal(t, domain.PhaseFinished, rs.values["city"].Phase)
}

func TestRunOnceFinishedStateAllowsNextCycle(t *testing.T) {
	rs := newMemRunStates()
	rs.values["city"] = domain.RunState{Phase: domain.PhaseFinished}
	svc := newTestService(newMemWatermarks(), rs, &fakeResolver{subs: everySubs(100)},
		&fakeFetcher{}, &fakeSender{})

	_, err := svc.RunOnce(context.Background(), 0)
	require.NoError(t, err)
	require.Equal(t, domain.PhaseFinished, rs.values["city"].Phase)
}

func TestRunOnceFetchFailureSkipsCycle(t *testing.T) {
	wm := newMemWatermarks()
	wm.values["city"] = domain.Watermark{LastID: 7}
	rs := newMemRunStates()
	sender := &fakeSender{}
	svc := newTestService(wm, rs, &fakeResolver{subs: everySubs(100)},
		&fakeFetcher{err: fmt.Errorf("upstream down")}, sender)

	_, err := svc.RunOnce(context.Background(), 0)
	require.Error(t, err)
	require.Empty(t, sender.calls)
	require.Equal(t, int64(7), wm.values["city"].LastID)
	require.Equal(t, domain.PhaseFinished, rs.values["city"].Phase, "cycle must still close")
}

func TestRunOnceAfterOverrideBypassesWatermark(t *testing.T) {
	wm := newMemWatermarks()
	wm.values["city"] = domain.Watermark{LastID: 500}
	fetcher := &fakeFetcher{}
	svc := newTestService(wm, newMemRunStates(), &fakeResolver{subs: everySubs(100)}, fetcher, &fakeSender{})

	_, err := svc.RunOnce(context.Background(), 42)
	require.NoError(t, err)
	require.Equal(t, int64(42), fetcher.gotAfter)
}

func TestRunOnceWatermarkReadFailureIsNonFatal(t *testing.T) {
	wm := newMemWatermarks()
	wm.getErr = errors.New("store down")
	fetcher := &fakeFetcher{}
	svc := newTestService(wm, newMemRunStates(), &fakeResolver{subs: everySubs(100)}, fetcher, &fakeSender{})

	_, err := svc.RunOnce(context.Background(), 0)
	require.NoError(t, err)
	require.Zero(t, fetcher.gotAfter, "unknown watermark passes zero to the fetcher")
}

func TestRunOnceWatermarkWriteFailureKeepsSummary(t *testing.T) {
	wm := newMemWatermarks()
	wm.setErr = errors.New("disk full")
	svc := newTestService(wm, newMemRunStates(), &fakeResolver{subs: everySubs(100)},
		&fakeFetcher{records: []domain.Record{{ID: 4}}}, &fakeSender{})

	summary, err := svc.RunOnce(context.Background(), 0)
	require.NoError(t, err)
	require.Equal(t, 1, summary.SentCount)
	require.Equal(t, []int64{4}, summary.SentIDs)
}

type fakeStats struct {
	sum domain.StatSummary
	err error
}

func (f *fakeStats) Stats(_ context.Context, _ source.StatPeriod) (domain.StatSummary, error) {
	return f.sum, f.err
}

type fakeDigestComposer struct{}

func (fakeDigestComposer) Digest(period, date string, st domain.StatSummary) string {
	return fmt.Sprintf("digest %s %d/%d", period, st.Resolved, st.Total)
}

type fakeTransport struct {
	sent map[int64]string
}

func (f *fakeTransport) Send(_ context.Context, chatID int64, body string, _ []string) error {
	if f.sent == nil {
		f.sent = map[int64]string{}
	}
	f.sent[chatID] = body
	return nil
}

func TestDigestRunSendsToDailySubscribers(t *testing.T) {
	router := &fakeResolver{subs: []domain.Subscription{
		{ChatID: 100, Mode: domain.ModeDaily},
		{ChatID: 200, Mode: domain.ModeEvery},
	}}
	tr := &fakeTransport{}
	job := NewDigestJob("city", notify.Scope{BotID: 10}, router,
		&fakeStats{sum: domain.StatSummary{Total: 12, Resolved: 3}}, fakeDigestComposer{}, tr)

	require.NoError(t, job.Run(context.Background()))
	require.Len(t, tr.sent, 1)
	require.Equal(t, "digest daily 3/12", tr.sent[100])
}

func TestDigestRunSkipsWithoutSubscribers(t *testing.T) {
	tr := &fakeTransport{}
	job := NewDigestJob("city", notify.Scope{BotID: 10}, &fakeResolver{},
		&fakeStats{}, fakeDigestComposer{}, tr)

	require.NoError(t, job.Run(context.Background()))
	require.Empty(t, tr.sent)
}
