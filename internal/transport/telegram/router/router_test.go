package router

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slotwatch/internal/notifier"
	"slotwatch/internal/poll"
	"slotwatch/internal/slots"
	kit "slotwatch/internal/transport"
	logx "slotwatch/pkg/logx"
)

type sent struct {
	to   kit.ChatTarget
	text string
}

type fakeSender struct {
	mu   sync.Mutex
	out  []sent
	menu []kit.BotCommand
}

func (f *fakeSender) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.out = append(f.out, sent{to: to, text: text})
	return kit.MessageRef{ChatID: to.ChatID}, nil
}

func (f *fakeSender) UpdateMenuCommands(_ context.Context, cmds []kit.BotCommand) error {
	f.menu = cmds
	return nil
}

func (f *fakeSender) last(t *testing.T) sent {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.out)
	return f.out[len(f.out)-1]
}

type fakePoll struct{ snap poll.Snapshot }

func (f fakePoll) Snapshot() poll.Snapshot { return f.snap }

type fakeHistory []notifier.HistoryItem

func (f fakeHistory) Snapshot() []notifier.HistoryItem { return f }

func message(from, chat int64, text string) kit.Update {
	return kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ChatID: chat, FromID: from, Text: text}}
}

func newTestRouter(t *testing.T) (*Router, *fakeSender) {
	t.Helper()
	at := time.Date(2021, 5, 10, 4, 0, 0, 0, time.UTC)
	ps := fakePoll{snap: poll.Snapshot{
		Schedule: "1m0s",
		Workers:  1,
		Passes:   3,
		Keys: []poll.KeyStatus{
			{Key: slots.Key{Kind: slots.KindPincode, Code: "110077"}, Subscribers: 2, LastOutcome: poll.OutcomeNotified, LastPollAt: at, LastSentAt: at, LastMatches: 1, Fingerprint: slots.Digest("x")},
			{Key: slots.Key{Kind: slots.KindDistrict, Code: "294"}, Subscribers: 1, LastOutcome: poll.OutcomeFetchFailed, LastPollAt: at, LastError: "status 403"},
		},
	}}
	hist := fakeHistory{{At: at, Key: "pincode:110077", Sent: 2}}

	s := &fakeSender{}
	r := New(logx.Nop(), s, []int64{99})
	r.Register(Builtins(ps, hist, time.UTC)...)
	return r, s
}

// run routes one update and executes the queued job inline.
func run(t *testing.T, r *Router, up kit.Update) {
	t.Helper()
	r.Route(context.Background(), up)
	select {
	case job := <-r.jobs:
		job()
	default:
	}
}

func TestIDCommandRepliesWithChat(t *testing.T) {
	t.Parallel()
	r, s := newTestRouter(t)

	run(t, r, message(5, -1001, "/id@slotwatch_bot"))
	got := s.last(t)
	assert.Equal(t, int64(-1001), got.to.ChatID)
	assert.Contains(t, got.text, "chat_id: -1001")
	assert.Contains(t, got.text, "user_id: 5")

	run(t, r, message(5, 5, "/whoami"))
	assert.Contains(t, s.last(t).text, "chat_id: 5")
}

func TestStatusIsOwnerOnly(t *testing.T) {
	t.Parallel()
	r, s := newTestRouter(t)

	run(t, r, message(5, 5, "/status"))
	assert.Equal(t, "unauthorized", s.last(t).text)

	run(t, r, message(99, 99, "/status"))
	text := s.last(t).text
	assert.Contains(t, text, "passes: 3")
	assert.Contains(t, text, "pincode:110077: notified")
	assert.Contains(t, text, "district:294: fetch_failed")
	assert.Contains(t, text, "error: status 403")
	assert.Contains(t, text, "sent=2 failed=0")
}

func TestWatchesListsKeys(t *testing.T) {
	t.Parallel()
	r, s := newTestRouter(t)

	run(t, r, message(5, 5, "/watches"))
	text := s.last(t).text
	assert.Contains(t, text, "Watching 2 keys")
	assert.Contains(t, text, "- pincode:110077 (2 subscribers)")
}

func TestHelpHidesOwnerCommands(t *testing.T) {
	t.Parallel()
	r, s := newTestRouter(t)

	run(t, r, message(5, 5, "/help"))
	assert.NotContains(t, s.last(t).text, "/status")

	run(t, r, message(99, 99, "/help"))
	assert.Contains(t, s.last(t).text, "/status")
}

func TestUnknownAndPlainText(t *testing.T) {
	t.Parallel()
	r, s := newTestRouter(t)

	run(t, r, message(5, 5, "hello"))
	assert.Empty(t, s.out)

	group := message(5, -1, "/other")
	group.Message.IsGroup = true
	run(t, r, group)
	assert.Empty(t, s.out)

	run(t, r, message(5, 5, "/other"))
	assert.Equal(t, "unknown command, try /help", s.last(t).text)
}

func TestSyncMenuSkipsOwnerCommands(t *testing.T) {
	t.Parallel()
	r, s := newTestRouter(t)

	require.NoError(t, r.SyncMenu(context.Background()))
	var names []string
	for _, c := range s.menu {
		names = append(names, c.Command)
	}
	assert.Equal(t, []string{"start", "id", "watches", "help"}, names)
}

func TestDispatchLoopRunsCommands(t *testing.T) {
	t.Parallel()
	r, s := newTestRouter(t)

	ctx, cancel := context.WithCancel(context.Background())
	updates := make(chan kit.Update, 1)
	done := make(chan error, 1)
	go func() { done <- r.DispatchLoop(ctx, updates) }()

	updates <- message(5, 5, "/start")
	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return len(s.out) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Contains(t, s.last(t).text, "This chat's id is 5")

	cancel()
	assert.NoError(t, <-done)
}

func TestSanitizeCommand(t *testing.T) {
	t.Parallel()
	cases := map[string]string{
		"Status":      "status",
		"/id":         "id",
		"who-am i":    "who_am_i",
		"9lives":      "",
		"__x__":       "x",
		"":            "",
		"ünïcode_cmd": "ncode_cmd",
	}
	for in, want := range cases {
		assert.Equal(t, want, sanitizeCommand(in), in)
	}
}
