package scheduler

import (
	"context"
	"fmt"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/rtlamr2mqtt/internal/infrastructure/config"
	"github.com/nerrad567/rtlamr2mqtt/internal/process"
	"github.com/nerrad567/rtlamr2mqtt/internal/reading"
	"github.com/nerrad567/rtlamr2mqtt/internal/supervisor"
)

type fakeSupervisor struct {
	lines         []string
	tunerErr      error
	decoderErr    error
	startedOnce   bool
	restartAt     int // ReadLine call that reports a fresh decoder on the next Ensure
	reads         int
	shutdowns     int
	decoderStarts int
	pendingStart  bool
	onEnsure      func()
	healthErr     error
}

func (f *fakeSupervisor) EnsureTuner(context.Context) error { return f.tunerErr }

func (f *fakeSupervisor) EnsureDecoder(context.Context) (bool, error) {
	if f.onEnsure != nil {
		f.onEnsure()
	}
	if f.decoderErr != nil {
		return false, f.decoderErr
	}
	if !f.startedOnce || f.pendingStart {
		f.startedOnce = true
		f.pendingStart = false
		f.decoderStarts++
		return true, nil
	}
	return false, nil
}

func (f *fakeSupervisor) ReadLine() (string, bool) {
	f.reads++
	if f.restartAt > 0 && f.reads == f.restartAt {
		f.pendingStart = true
	}
	if len(f.lines) == 0 {
		return "", false
	}
	line := f.lines[0]
	f.lines = f.lines[1:]
	return line, true
}

func (f *fakeSupervisor) Health() error { return f.healthErr }

func (f *fakeSupervisor) Shutdown() error {
	f.shutdowns++
	f.startedOnce = false
	return nil
}

type fakePublisher struct {
	known     map[string]bool
	order     []string
	observed  []string
	published []reading.Reading
	resyncs   int
}

func newFakePublisher(ids ...string) *fakePublisher {
	p := &fakePublisher{known: map[string]bool{}}
	for _, id := range ids {
		p.known[id] = true
		p.order = append(p.order, id)
	}
	return p
}

func (p *fakePublisher) Observe(_ context.Context, r reading.Reading) error {
	p.observed = append(p.observed, r.MeterID)
	if !p.known[r.MeterID] {
		p.known[r.MeterID] = true
		p.order = append(p.order, r.MeterID)
	}
	return nil
}

func (p *fakePublisher) Known(id string) bool { return p.known[id] }
func (p *fakePublisher) KnownCount() int      { return len(p.known) }
func (p *fakePublisher) PublishReading(r reading.Reading) {
	p.published = append(p.published, r)
}

func (p *fakePublisher) Resync() { p.resyncs++ }

func line(id string, consumption int) string {
	return `{"Time":"2025-06-01T12:00:00Z","Type":"SCM","Message":{"ID":` + id +
		`,"Type":12,"Consumption":` + strconv.Itoa(consumption) + `}}`
}

type sleepRecord struct {
	d     time.Duration
	state State
}

// harness runs the scheduler until the poll sleep has been called limit
// times, then cancels.
type harness struct {
	s      *Scheduler
	sup    *fakeSupervisor
	pub    *fakePublisher
	sleeps []sleepRecord
}

func newHarness(t *testing.T, sleepFor time.Duration, limit int, sup *fakeSupervisor, pub *fakePublisher) (*harness, context.Context) {
	t.Helper()
	cfg := &config.Config{}
	cfg.General.SleepFor = config.Duration(sleepFor)
	cfg.General.PollInterval = config.Duration(time.Second)

	h := &harness{sup: sup, pub: pub}
	h.s = New(cfg, sup, pub, nil)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	h.s.sleep = func(ctx context.Context, d time.Duration) error {
		h.sleeps = append(h.sleeps, sleepRecord{d: d, state: h.s.State()})
		if len(h.sleeps) >= limit {
			cancel()
		}
		return ctx.Err()
	}
	return h, ctx
}

func (h *harness) durations() []time.Duration {
	out := make([]time.Duration, len(h.sleeps))
	for i, s := range h.sleeps {
		out[i] = s.d
	}
	return out
}

func TestRun_PublishesConfiguredMeter(t *testing.T) {
	sup := &fakeSupervisor{lines: []string{line("111", 100)}}
	pub := newFakePublisher("111", "222")
	h, ctx := newHarness(t, 0, 3, sup, pub)

	require.NoError(t, h.s.Run(ctx))

	require.Len(t, pub.published, 1)
	assert.Equal(t, "111", pub.published[0].MeterID)
	assert.Equal(t, int64(100), pub.published[0].Consumption)
	assert.Equal(t, []string{"111"}, pub.observed)
	assert.Equal(t, []time.Duration{time.Second, time.Second, time.Second}, h.durations())
	assert.Equal(t, 1, sup.shutdowns)
	assert.Equal(t, StateShuttingDown, h.s.State())
}

func TestRun_DiscoversThenPublishes(t *testing.T) {
	sup := &fakeSupervisor{lines: []string{line("333", 7)}}
	pub := newFakePublisher()
	h, ctx := newHarness(t, 0, 1, sup, pub)

	require.NoError(t, h.s.Run(ctx))

	assert.Equal(t, []string{"333"}, pub.observed)
	require.Len(t, pub.published, 1)
	assert.Equal(t, "333", pub.published[0].MeterID)
}

func TestRun_GarbageLinesIgnored(t *testing.T) {
	sup := &fakeSupervisor{lines: []string{"GainCount: 29", "not json", `{"Message":{}}`}}
	pub := newFakePublisher("111")
	h, ctx := newHarness(t, 0, 3, sup, pub)

	require.NoError(t, h.s.Run(ctx))

	assert.Empty(t, pub.observed)
	assert.Empty(t, pub.published)
}

func TestRun_CycleCompletesWhenAllMetersReport(t *testing.T) {
	sup := &fakeSupervisor{lines: []string{
		line("111", 1),
		line("111", 2),
		line("222", 3),
	}}
	pub := newFakePublisher("111", "222")
	h, ctx := newHarness(t, time.Hour, 4, sup, pub)

	require.NoError(t, h.s.Run(ctx))

	assert.Equal(t, []time.Duration{time.Second, time.Second, time.Hour, time.Second}, h.durations())
	assert.Equal(t, StateSleeping, h.sleeps[2].state)
	assert.Len(t, pub.published, 3)
	// One shutdown for the cycle, one on exit.
	assert.Equal(t, 2, sup.shutdowns)
	assert.Equal(t, 2, sup.decoderStarts)
	assert.Equal(t, 0, h.s.counter.Len())
}

func TestRun_NoSleepWithoutSleepFor(t *testing.T) {
	sup := &fakeSupervisor{lines: []string{line("111", 1)}}
	pub := newFakePublisher("111")
	h, ctx := newHarness(t, 0, 2, sup, pub)

	require.NoError(t, h.s.Run(ctx))

	assert.Equal(t, []time.Duration{time.Second, time.Second}, h.durations())
	assert.Equal(t, 1, sup.shutdowns)
}

func TestRun_DecoderRestartResetsCounter(t *testing.T) {
	sup := &fakeSupervisor{
		lines:     []string{line("111", 1), "", line("222", 2)},
		restartAt: 2,
	}
	pub := newFakePublisher("111", "222")
	h, ctx := newHarness(t, time.Hour, 3, sup, pub)

	require.NoError(t, h.s.Run(ctx))

	// 111 was counted before the restart, so 222 alone does not finish
	// the cycle.
	for _, r := range h.sleeps {
		assert.NotEqual(t, time.Hour, r.d)
	}
	assert.Equal(t, 2, sup.decoderStarts)
	assert.Equal(t, 1, h.s.counter.Len())
	assert.Contains(t, h.s.counter.ids, "222")
}

func TestRun_StartFailureIsFatal(t *testing.T) {
	errStart := fmt.Errorf("%w: %s: %w", supervisor.ErrStartFailed, supervisor.DecoderName, process.ErrExited)

	t.Run("tuner", func(t *testing.T) {
		sup := &fakeSupervisor{tunerErr: errStart}
		h, ctx := newHarness(t, 0, 10, sup, newFakePublisher())
		assert.ErrorIs(t, h.s.Run(ctx), supervisor.ErrStartFailed)
		assert.Equal(t, 1, sup.shutdowns)
		assert.Empty(t, h.sleeps)
	})

	t.Run("decoder", func(t *testing.T) {
		sup := &fakeSupervisor{decoderErr: errStart}
		h, ctx := newHarness(t, 0, 10, sup, newFakePublisher())

		err := h.s.Run(ctx)
		assert.ErrorIs(t, err, supervisor.ErrStartFailed)
		assert.ErrorIs(t, err, process.ErrExited)
		assert.Equal(t, 1, sup.shutdowns, "processes are stopped before the error is returned")
		assert.Equal(t, StateShuttingDown, h.s.State())
		assert.ErrorIs(t, h.s.Health(), ErrStopped)
	})
}

func TestHealth(t *testing.T) {
	sup := &fakeSupervisor{}
	h, ctx := newHarness(t, 0, 1, sup, newFakePublisher())

	assert.NoError(t, h.s.Health())

	sup.healthErr = supervisor.ErrProcessDead
	assert.ErrorIs(t, h.s.Health(), supervisor.ErrProcessDead)

	sup.healthErr = nil
	require.NoError(t, h.s.Run(ctx))
	assert.ErrorIs(t, h.s.Health(), ErrStopped)
}

func TestRun_CancelledStartIsClean(t *testing.T) {
	sup := &fakeSupervisor{decoderErr: context.Canceled}
	h, ctx := newHarness(t, 0, 10, sup, newFakePublisher())

	cctx, cancel := context.WithCancel(ctx)
	sup.onEnsure = cancel

	assert.NoError(t, h.s.Run(cctx))
	assert.Equal(t, 1, sup.shutdowns)
}

func TestRun_InboxTriggersResync(t *testing.T) {
	sup := &fakeSupervisor{}
	pub := newFakePublisher("111")
	h, ctx := newHarness(t, 0, 1, sup, pub)

	assert.True(t, h.s.Offer("online"))
	assert.True(t, h.s.Offer("online"))

	require.NoError(t, h.s.Run(ctx))
	assert.Equal(t, 2, pub.resyncs)
}

func TestOffer_DropsWhenFull(t *testing.T) {
	h, _ := newHarness(t, 0, 1, &fakeSupervisor{}, newFakePublisher())

	for i := 0; i < InboxSize; i++ {
		require.True(t, h.s.Offer("online"))
	}
	assert.False(t, h.s.Offer("online"))
	assert.Len(t, h.s.inbox, InboxSize)
}

func TestCycleCounter(t *testing.T) {
	c := NewCycleCounter()
	c.Add("1")
	c.Add("1")
	c.Add("2")
	assert.Equal(t, 2, c.Len())
	assert.Contains(t, c.ids, "2")

	c.Reset()
	assert.Equal(t, 0, c.Len())
	assert.NotContains(t, c.ids, "1")
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "provisioning", StateProvisioning.String())
	assert.Equal(t, "polling", StatePolling.String())
	assert.Equal(t, "cycle_complete", StateCycleComplete.String())
	assert.Equal(t, "sleeping", StateSleeping.String())
	assert.Equal(t, "shutting_down", StateShuttingDown.String())
	assert.Equal(t, "unknown", State(99).String())
}
