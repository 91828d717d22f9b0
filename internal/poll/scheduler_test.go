package poll

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"slotwatch/internal/notifier"
	"slotwatch/internal/slots"
	kit "slotwatch/internal/transport"
	"slotwatch/pkg/logx"
)

func watches(keys ...slots.Key) []Watch {
	out := make([]Watch, 0, len(keys))
	for i, k := range keys {
		out = append(out, Watch{Key: k, Subscribers: kit.Targets([]int64{int64(100 + i)})})
	}
	return out
}

func newTestScheduler(cfg Config, ws []Watch, src Source, disp Dispatcher, al Alerter) *Scheduler {
	if cfg.Location == nil {
		cfg.Location = ist
	}
	return NewScheduler(cfg, ws, Deps{Source: src, Dispatcher: disp, Alerter: al, Now: clock()}, logx.Nop())
}

func TestSchedulerFailingKeyDoesNotTouchOthers(t *testing.T) {
	ctrl := gomock.NewController(t)
	src := NewMockSource(ctrl)
	disp := NewMockDispatcher(ctrl)

	src.EXPECT().Fetch(gomock.Any(), slots.KindPincode, "110077", gomock.Any()).Return(nil, errors.New("timeout")).Times(2)
	src.EXPECT().Fetch(gomock.Any(), slots.KindDistrict, "294", gomock.Any()).Return(centersWith(4), nil).Times(2)
	disp.EXPECT().Notify(gomock.Any(), gomock.Any()).Return(notifier.Result{Sent: 1}).Times(1)

	s := newTestScheduler(Config{}, watches(pinKey, districtKey), src, disp, nil)
	s.RunPass(context.Background())
	s.RunPass(context.Background())

	pin, ok := s.State(pinKey)
	require.True(t, ok)
	assert.Equal(t, slots.NoFingerprint, pin.Fingerprint)

	district, ok := s.State(districtKey)
	require.True(t, ok)
	assert.NotEqual(t, slots.NoFingerprint, district.Fingerprint)
}

func TestSchedulerRecoversPanickingKeyAndAlerts(t *testing.T) {
	ctrl := gomock.NewController(t)
	src := NewMockSource(ctrl)
	disp := NewMockDispatcher(ctrl)
	al := NewMockAlerter(ctrl)

	src.EXPECT().Fetch(gomock.Any(), slots.KindPincode, gomock.Any(), gomock.Any()).
		DoAndReturn(func(context.Context, slots.Kind, string, time.Time) ([]slots.Center, error) {
			panic("decoder exploded")
		})
	src.EXPECT().Fetch(gomock.Any(), slots.KindDistrict, gomock.Any(), gomock.Any()).Return(centersWith(4), nil)
	disp.EXPECT().Notify(gomock.Any(), gomock.Any()).Return(notifier.Result{Sent: 1})
	al.EXPECT().Alert(gomock.Any(), gomock.Any()).Do(func(_ context.Context, text string) {
		assert.True(t, strings.HasPrefix(text, "slotwatch: poll pincode:110077 failed:"), text)
		assert.Contains(t, text, "decoder exploded")
	})

	s := newTestScheduler(Config{}, watches(pinKey, districtKey), src, disp, al)
	require.NotPanics(t, func() { s.RunPass(context.Background()) })

	snap := s.Snapshot()
	require.Len(t, snap.Keys, 2)
	assert.Equal(t, OutcomePanic, snap.Keys[0].LastOutcome)
	assert.Equal(t, OutcomeNotified, snap.Keys[1].LastOutcome)
	assert.Equal(t, uint64(1), snap.Passes)
}

// flakyStringSchedule panics the first time it is rendered.
type flakyStringSchedule struct {
	Every
	rendered atomic.Bool
}

func (f *flakyStringSchedule) String() string {
	if !f.rendered.Swap(true) {
		panic("render failed")
	}
	return f.Every.String()
}

func TestSchedulerPassPanicReleasesLock(t *testing.T) {
	ctrl := gomock.NewController(t)
	al := NewMockAlerter(ctrl)
	al.EXPECT().Alert(gomock.Any(), gomock.Any()).Do(func(_ context.Context, text string) {
		assert.Contains(t, text, "slotwatch: poll pass failed: render failed")
	})

	debug := logx.FromZerolog(zerolog.New(io.Discard).Level(zerolog.DebugLevel))
	s := NewScheduler(
		Config{Schedule: &flakyStringSchedule{Every: Every(time.Minute)}, Location: ist},
		nil,
		Deps{Source: NewMockSource(ctrl), Dispatcher: NewMockDispatcher(ctrl), Alerter: al, Now: clock()},
		debug,
	)
	s.SetWatches(watches(pinKey))
	require.NotPanics(t, func() { s.RunPass(context.Background()) })

	done := make(chan Snapshot, 1)
	go func() {
		s.SetWatches(nil)
		done <- s.Snapshot()
	}()
	select {
	case snap := <-done:
		assert.Len(t, snap.Keys, 1)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler lock still held after a recovered pass panic")
	}
}

func TestSchedulerGroupsByKindKeepingOrder(t *testing.T) {
	ctrl := gomock.NewController(t)
	src := NewMockSource(ctrl)

	var seen []string
	src.EXPECT().Fetch(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, k slots.Kind, code string, _ time.Time) ([]slots.Center, error) {
			seen = append(seen, slots.Key{Kind: k, Code: code}.String())
			return nil, nil
		}).Times(4)

	d2 := slots.Key{Kind: slots.KindDistrict, Code: "141"}
	p2 := slots.Key{Kind: slots.KindPincode, Code: "560001"}
	s := newTestScheduler(Config{}, watches(districtKey, pinKey, d2, p2), src, NewMockDispatcher(ctrl), nil)
	s.RunPass(context.Background())

	assert.Equal(t, []string{"pincode:110077", "pincode:560001", "district:294", "district:141"}, seen)
}

func TestSchedulerSetWatchesKeepsSurvivingState(t *testing.T) {
	ctrl := gomock.NewController(t)
	src := NewMockSource(ctrl)
	disp := NewMockDispatcher(ctrl)

	src.EXPECT().Fetch(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(centersWith(4), nil).AnyTimes()
	// pass 1: pin and district notify; pass 2: only the new key notifies.
	disp.EXPECT().Notify(gomock.Any(), gomock.Any()).Return(notifier.Result{Sent: 1}).Times(3)

	s := newTestScheduler(Config{}, watches(pinKey, districtKey), src, disp, nil)
	s.RunPass(context.Background())
	kept, _ := s.State(pinKey)

	fresh := slots.Key{Kind: slots.KindPincode, Code: "400001"}
	s.SetWatches(watches(pinKey, fresh))

	// Not applied until the next pass.
	_, ok := s.State(districtKey)
	assert.True(t, ok)

	s.RunPass(context.Background())
	got, ok := s.State(pinKey)
	require.True(t, ok)
	assert.Equal(t, kept, got)

	_, ok = s.State(districtKey)
	assert.False(t, ok)

	st, ok := s.State(fresh)
	require.True(t, ok)
	assert.NotEqual(t, slots.NoFingerprint, st.Fingerprint)
}

func TestSchedulerParallelPassPollsEveryKeyOnce(t *testing.T) {
	ctrl := gomock.NewController(t)
	src := NewMockSource(ctrl)

	var calls atomic.Int32
	src.EXPECT().Fetch(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(context.Context, slots.Kind, string, time.Time) ([]slots.Center, error) {
			calls.Add(1)
			return nil, errors.New("down")
		}).Times(3)

	keys := []slots.Key{pinKey, districtKey, {Kind: slots.KindPincode, Code: "1"}}
	s := newTestScheduler(Config{Workers: 3}, watches(keys...), src, NewMockDispatcher(ctrl), nil)
	s.RunPass(context.Background())

	assert.Equal(t, int32(3), calls.Load())
	for _, ks := range s.Snapshot().Keys {
		assert.Equal(t, OutcomeFetchFailed, ks.LastOutcome)
	}
}

func TestSchedulerRunStopsDuringSleep(t *testing.T) {
	ctrl := gomock.NewController(t)
	src := NewMockSource(ctrl)
	src.EXPECT().Fetch(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, nil).Times(1)

	s := NewScheduler(Config{Schedule: Every(time.Hour), Location: ist}, watches(pinKey),
		Deps{Source: src, Dispatcher: NewMockDispatcher(ctrl)}, logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return s.Snapshot().Passes == 1 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop during sleep")
	}
}

func TestSchedulerRunWithCancelledContextDoesNothing(t *testing.T) {
	ctrl := gomock.NewController(t)
	s := newTestScheduler(Config{}, watches(pinKey), NewMockSource(ctrl), NewMockDispatcher(ctrl), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, s.Run(ctx))
	assert.Equal(t, uint64(0), s.Snapshot().Passes)
}
