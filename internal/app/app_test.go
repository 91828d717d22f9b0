package app

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slotwatch/internal/config"
	"slotwatch/internal/eventbus"
	"slotwatch/internal/notifier"
	"slotwatch/internal/poll"
	"slotwatch/internal/slots"
	"slotwatch/internal/storage"
	kit "slotwatch/internal/transport"
	logx "slotwatch/pkg/logx"
)

const calendarBody = `{"centers":[{"center_id":1,"name":"PHC Dwarka","address":"Sector 10","sessions":[
  {"session_id":"a","date":"10-05-2021","available_capacity_dose1":5,"min_age_limit":18}
]}]}`

type fakeAdapter struct {
	mu    sync.Mutex
	sent  []kit.ChatTarget
	texts []string
}

func (f *fakeAdapter) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, to)
	f.texts = append(f.texts, text)
	return kit.MessageRef{ChatID: to.ChatID, MessageID: len(f.sent)}, nil
}

func (f *fakeAdapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (f *fakeAdapter) Stop(context.Context) error                     { return nil }

func (f *fakeAdapter) sentTo() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]int64, 0, len(f.sent))
	for _, t := range f.sent {
		out = append(out, t.ChatID)
	}
	return out
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestAppPollsAndNotifiesSubscribers(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "110077", r.URL.Query().Get("pincode"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(calendarBody))
	}))
	defer srv.Close()

	storePath := filepath.Join(t.TempDir(), "audit")
	path := writeConfig(t, `
telegram:
  token: "123:abc"
logging:
  level: ERROR
poll:
  interval: 1h
source:
  base_url: "`+srv.URL+`"
  timeout: 2s
storage:
  driver: file
  path: "`+storePath+`"
watch:
  - kind: pincode
    code: 110077
    subscribers: [11, 22]
`)

	cfgm := config.NewManager(path)
	cfg, err := cfgm.Load()
	require.NoError(t, err)

	ad := &fakeAdapter{}
	a, err := build(Options{ConfigPath: path}, cfgm, cfg, ad)
	require.NoError(t, err)

	require.NoError(t, a.Start(context.Background()))
	require.Eventually(t, func() bool { return len(ad.sentTo()) == 2 }, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, []int64{11, 22}, ad.sentTo())
	assert.Contains(t, ad.texts[0], "PHC Dwarka")

	st, ok := a.sched.State(slots.Key{Kind: slots.KindPincode, Code: "110077"})
	require.True(t, ok)
	assert.NotEmpty(t, st.Fingerprint)

	// Give the audit recorder a moment before shutdown.
	require.Eventually(t, func() bool {
		b, err := os.ReadFile(storePath + ".passes.jsonl")
		return err == nil && len(b) > 0
	}, 5*time.Second, 20*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, a.Stop(ctx, StopAppStop))
	assert.NoError(t, a.Err())
	assert.EqualValues(t, 1, hits.Load())

	b, err := os.ReadFile(storePath + ".dispatch.jsonl")
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(string(b), "\n"))
}

func TestApplyConfigSwapsWatchList(t *testing.T) {
	path := writeConfig(t, `
telegram: {token: "123:abc"}
logging: {level: ERROR}
poll: {interval: 1h}
watch:
  - {kind: pincode, code: "110077", subscribers: [1]}
`)
	cfgm := config.NewManager(path)
	cfg, err := cfgm.Load()
	require.NoError(t, err)
	a, err := build(Options{ConfigPath: path}, cfgm, cfg, &fakeAdapter{})
	require.NoError(t, err)

	next := *cfg
	next.Watch = append(append([]config.WatchConfig(nil), cfg.Watch...), config.WatchConfig{
		Kind: "district", Code: "294", Subscribers: []int64{2},
	})
	a.applyConfig(cfg, &next)

	// Swaps land at the next pass boundary.
	a.sched.RunPass(cancelled())
	assert.Len(t, a.sched.Snapshot().Keys, 2)
}

func cancelled() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return ctx
}

func TestMapPollConfigIntervalOverride(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{Poll: config.PollConfig{Interval: "5m"}}
	pc, err := mapPollConfig(cfg, "30s")
	require.NoError(t, err)
	assert.Equal(t, poll.Every(30*time.Second), pc.Schedule)
	assert.Equal(t, "Asia/Kolkata", pc.Location.String())

	pc, err = mapPollConfig(cfg, "60")
	require.NoError(t, err)
	assert.Equal(t, poll.Every(time.Minute), pc.Schedule)

	_, err = mapPollConfig(cfg, "-1s")
	assert.Error(t, err)
}

func TestOverrideIntervalValidatesFlagNotFile(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
telegram: {token: "123:abc"}
poll: {interval: "not a schedule"}
`)
	_, err := config.NewManager(path).Load()
	require.Error(t, err)

	m := config.NewManager(path)
	m.SetValidator(overrideInterval("45s"))
	_, err = m.Load()
	assert.NoError(t, err)
}

func TestMapStorageConfig(t *testing.T) {
	t.Parallel()

	_, on, err := mapStorageConfig(&config.Config{})
	require.NoError(t, err)
	assert.False(t, on)

	_, on, err = mapStorageConfig(&config.Config{Storage: &config.StorageConfig{Driver: "None"}})
	require.NoError(t, err)
	assert.False(t, on)

	sc, on, err := mapStorageConfig(&config.Config{Storage: &config.StorageConfig{Driver: " SQLite ", Path: "x.db"}})
	require.NoError(t, err)
	assert.True(t, on)
	assert.Equal(t, storage.Config{Driver: "sqlite", Path: "x.db", BusyTimeout: time.Second}, sc)

	_, _, err = mapStorageConfig(&config.Config{Storage: &config.StorageConfig{Driver: "file", BusyTimeout: "soon"}})
	assert.Error(t, err)
}

func TestMapNotifierConfigRoutesAlertsToOperators(t *testing.T) {
	t.Parallel()

	nc := mapNotifierConfig(&config.Config{Telegram: config.TelegramConfig{OperatorChatIDs: []int64{-100, 5}}})
	assert.Equal(t, kit.Targets([]int64{-100, 5}), nc.Operators)
	assert.Equal(t, kit.ParseModeMarkdown, nc.ParseMode)
}

func TestLogTarget(t *testing.T) {
	t.Parallel()

	assert.Equal(t, int64(-1001), logTarget(&config.Config{Telegram: config.TelegramConfig{GroupLog: " -1001 "}}))
	assert.Zero(t, logTarget(&config.Config{}))
}

type memStore struct {
	mu       sync.Mutex
	dispatch []storage.DispatchEntry
	passes   []storage.PassEntry
}

func (m *memStore) AppendDispatch(_ context.Context, e storage.DispatchEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dispatch = append(m.dispatch, e)
	return nil
}

func (m *memStore) AppendPass(_ context.Context, e storage.PassEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.passes = append(m.passes, e)
	return nil
}

func (m *memStore) Close() error { return nil }

func TestRecordAuditMapsEvents(t *testing.T) {
	t.Parallel()

	st := &memStore{}
	events := make(chan eventbus.Event, 4)
	at := time.Date(2021, 5, 10, 9, 0, 0, 0, time.UTC)
	events <- eventbus.Event{Type: eventbus.TypeNotifyFailed, Time: at, Data: notifier.NotificationEvent{
		Key: "pincode:110077", ChatID: 7, At: at, Bytes: 12, Error: "blocked",
	}}
	events <- eventbus.Event{Type: eventbus.TypePassCompleted, Time: at, Data: poll.PassEvent{
		ID: "p1", Keys: 3, Notified: 1, Failed: 1, Took: 1500 * time.Millisecond,
	}}
	events <- eventbus.Event{Type: eventbus.TypePollEmpty, Time: at, Data: poll.CycleEvent{}}
	close(events)

	recordAudit(context.Background(), events, func() uint64 { return 0 }, st, logx.Nop())

	require.Len(t, st.dispatch, 1)
	assert.False(t, st.dispatch[0].OK)
	assert.Equal(t, "blocked", st.dispatch[0].Error)
	assert.Equal(t, int64(7), st.dispatch[0].ChatID)
	require.Len(t, st.passes, 1)
	assert.Equal(t, storage.PassEntry{At: at, ID: "p1", Keys: 3, Notified: 1, Failed: 1, TookMS: 1500}, st.passes[0])
}

func TestRecordAuditReportsDroppedEvents(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := logx.FromZerolog(zerolog.New(&buf))

	bus := eventbus.New()
	events, unsub := bus.Subscribe(1)
	bus.Publish(eventbus.Event{Type: eventbus.TypeNotifySent, Data: notifier.NotificationEvent{Key: "k", ChatID: 1}})
	bus.Publish(eventbus.Event{Type: eventbus.TypeNotifySent, Data: notifier.NotificationEvent{Key: "k", ChatID: 2}})
	unsub()

	st := &memStore{}
	recordAudit(context.Background(), events, bus.Dropped, st, log)

	assert.Len(t, st.dispatch, 1)
	assert.Contains(t, buf.String(), "audit log is incomplete")
	assert.Contains(t, buf.String(), `"dropped":1`)
}
