package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/csai/cyborg-arviz-agent/internal/gameapi"
	"github.com/csai/cyborg-arviz-agent/internal/graph"
	"github.com/csai/cyborg-arviz-agent/internal/metrics"
	"github.com/csai/cyborg-arviz-agent/internal/state"
)

type call struct {
	op     string
	gameID string
	step   int
}

type fakeTransport struct {
	mu       sync.Mutex
	calls    []call
	gameID   string
	startErr error
	stepErr  error
	endErr   error
	block    chan struct{}
	entered  chan struct{}
	panicOn  string
}

func newFakeTransport() *fakeTransport { return &fakeTransport{gameID: "g1"} }

func snapshotFor(step int) *graph.Snapshot {
	label := []byte(`"step-` + string(rune('0'+step)) + `"`)
	return &graph.Snapshot{Red: graph.Side{ActionInfo: label}, Blue: graph.Side{ActionInfo: label}, Raw: label}
}

func (f *fakeTransport) record(c call) {
	f.mu.Lock()
	f.calls = append(f.calls, c)
	f.mu.Unlock()
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.block != nil {
		<-f.block
	}
	if f.panicOn == c.op {
		panic("transport exploded")
	}
}

func (f *fakeTransport) Start(_ context.Context, req gameapi.StartRequest) (string, error) {
	f.record(call{op: "start", step: req.MaxSteps})
	if f.startErr != nil {
		return "", f.startErr
	}
	return f.gameID, nil
}

func (f *fakeTransport) Advance(_ context.Context, gameID string) (*graph.Snapshot, error) {
	f.record(call{op: "advance", gameID: gameID})
	if f.stepErr != nil {
		return nil, f.stepErr
	}
	f.mu.Lock()
	n := 0
	for _, c := range f.calls {
		if c.op == "advance" {
			n++
		}
	}
	f.mu.Unlock()
	return snapshotFor(n), nil
}

func (f *fakeTransport) FetchHistorical(_ context.Context, gameID string, step int) (*graph.Snapshot, error) {
	f.record(call{op: "fetch_historical", gameID: gameID, step: step})
	if f.stepErr != nil {
		return nil, f.stepErr
	}
	return snapshotFor(step), nil
}

func (f *fakeTransport) End(_ context.Context, gameID string) (string, error) {
	f.record(call{op: "end", gameID: gameID})
	if f.endErr != nil {
		return "", f.endErr
	}
	return "ok", nil
}

func (f *fakeTransport) ops() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call(nil), f.calls...)
}

type memStore struct {
	mu   sync.Mutex
	recs map[string]state.SessionRecord
}

func newMemStore() *memStore { return &memStore{recs: map[string]state.SessionRecord{}} }

func (m *memStore) Get(_ context.Context, profile string) (state.SessionRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.recs[profile]
	return r, ok, nil
}
func (m *memStore) Upsert(_ context.Context, rec state.SessionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs[rec.Profile] = rec
	return nil
}
func (m *memStore) Delete(_ context.Context, profile string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.recs, profile)
	return nil
}
func (m *memStore) Ping(context.Context) error { return nil }

func newTestController(t *testing.T, tr *fakeTransport, st state.Store) *Controller {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c, err := NewController(context.Background(), tr, st, graph.NewView(), Options{Profile: "default", Logger: logger, Metrics: metrics.New()})
	require.NoError(t, err)
	return c
}

func protocolErr(op string) error {
	return &gameapi.Error{Op: op, Kind: gameapi.KindProtocol, Status: 500}
}

func TestFullSessionScenario(t *testing.T) {
	ctx := context.Background()
	tr := newFakeTransport()
	store := newMemStore()
	c := newTestController(t, tr, store)

	st, err := c.Start(ctx, "B_lineAgent", "BlueRemove", 10)
	require.NoError(t, err)
	assert.Equal(t, State{GameID: "g1", RedAgent: "B_lineAgent", BlueAgent: "BlueRemove", MaxSteps: 10}, st)
	assert.Nil(t, c.View().Current())

	st, err = c.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.CurrentStep)
	assert.Equal(t, 1, st.LatestStep)

	st, err = c.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, st.CurrentStep)
	assert.Equal(t, 2, st.LatestStep)

	st, err = c.Previous(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.CurrentStep)
	assert.Equal(t, 2, st.LatestStep, "rewind never touches latest")
	assert.Equal(t, `"step-1"`, string(c.View().Current().Raw))

	st, err = c.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, st.CurrentStep)
	assert.Equal(t, 2, st.LatestStep)

	rec, ok, _ := store.Get(ctx, "default")
	require.True(t, ok)
	assert.Equal(t, 2, rec.CurrentStep)

	st, msg, err := c.End(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ok", msg)
	assert.Equal(t, State{}, st)
	assert.Nil(t, c.View().Current())
	_, ok, _ = store.Get(ctx, "default")
	assert.False(t, ok)

	assert.Equal(t, []call{
		{op: "start", step: 10},
		{op: "advance", gameID: "g1"},
		{op: "advance", gameID: "g1"},
		{op: "fetch_historical", gameID: "g1", step: 1},
		{op: "fetch_historical", gameID: "g1", step: 2},
		{op: "end", gameID: "g1"},
	}, tr.ops())
	assert.False(t, c.Loading())
}

func TestStartFailureLeavesNoGame(t *testing.T) {
	tr := newFakeTransport()
	tr.startErr = protocolErr(gameapi.OpStart)
	store := newMemStore()
	c := newTestController(t, tr, store)

	st, err := c.Start(context.Background(), "r", "b", 5)
	require.ErrorIs(t, err, gameapi.ErrProtocol)
	assert.False(t, st.Active())
	assert.Equal(t, PhaseNoGame, c.Status().Phase)
	assert.Empty(t, store.recs)
}

func TestStartWhileActiveIsRejected(t *testing.T) {
	tr := newFakeTransport()
	c := newTestController(t, tr, newMemStore())
	_, err := c.Start(context.Background(), "r", "b", 5)
	require.NoError(t, err)

	_, err = c.Start(context.Background(), "r", "b", 5)
	require.ErrorIs(t, err, ErrGameActive)
	assert.Len(t, tr.ops(), 1)
}

func TestStepFailureIsIsolated(t *testing.T) {
	ctx := context.Background()
	tr := newFakeTransport()
	c := newTestController(t, tr, newMemStore())
	_, err := c.Start(ctx, "r", "b", 5)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err = c.Next(ctx)
		require.NoError(t, err)
	}
	_, err = c.Previous(ctx)
	require.NoError(t, err)
	before := c.State()
	require.Equal(t, 2, before.CurrentStep)
	require.Equal(t, 3, before.LatestStep)
	shown := c.View().Current()

	for _, kind := range []gameapi.Kind{gameapi.KindTransport, gameapi.KindProtocol, gameapi.KindDecode} {
		tr.stepErr = &gameapi.Error{Op: gameapi.OpAdvance, Kind: kind, Err: errors.New("boom")}
		st, err := c.Next(ctx)
		require.Error(t, err)
		assert.Equal(t, before, st)
		assert.Equal(t, before, c.State())
		assert.Same(t, shown, c.View().Current())

		st, err = c.Previous(ctx)
		require.Error(t, err)
		assert.Equal(t, before, st)
		assert.Same(t, shown, c.View().Current())
	}
	assert.False(t, c.Loading())
}

func TestAdvanceFailureDoesNotBumpLatest(t *testing.T) {
	ctx := context.Background()
	tr := newFakeTransport()
	c := newTestController(t, tr, newMemStore())
	_, err := c.Start(ctx, "r", "b", 5)
	require.NoError(t, err)

	tr.stepErr = protocolErr(gameapi.OpAdvance)
	_, err = c.Next(ctx)
	require.Error(t, err)
	assert.Equal(t, 0, c.State().LatestStep)

	tr.stepErr = nil
	st, err := c.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.LatestStep)
	assert.Equal(t, "advance", tr.ops()[len(tr.ops())-1].op, "retry must mint, not replay")
}

func TestBoundaryRejectionsMakeNoCalls(t *testing.T) {
	ctx := context.Background()
	tr := newFakeTransport()
	c := newTestController(t, tr, newMemStore())

	_, err := c.Next(ctx)
	assert.ErrorIs(t, err, ErrNoGame)
	_, err = c.Previous(ctx)
	assert.ErrorIs(t, err, ErrNoGame)
	_, _, err = c.End(ctx)
	assert.ErrorIs(t, err, ErrNoGame)
	assert.Empty(t, tr.ops())

	_, err = c.Start(ctx, "r", "b", 1)
	require.NoError(t, err)
	_, err = c.Previous(ctx)
	assert.ErrorIs(t, err, ErrFirstStep)
	_, err = c.Next(ctx)
	require.NoError(t, err)
	_, err = c.Previous(ctx)
	assert.ErrorIs(t, err, ErrFirstStep)
	st, err := c.Next(ctx)
	assert.ErrorIs(t, err, ErrFinalStep)
	assert.Equal(t, 1, st.CurrentStep)
	assert.Equal(t, "Reached Round 1, End of Game!", c.Status().Headline)

	assert.Len(t, tr.ops(), 2)
	assert.False(t, c.Loading())
}

func TestEndFailureKeepsGame(t *testing.T) {
	ctx := context.Background()
	tr := newFakeTransport()
	store := newMemStore()
	c := newTestController(t, tr, store)
	_, err := c.Start(ctx, "r", "b", 5)
	require.NoError(t, err)
	_, err = c.Next(ctx)
	require.NoError(t, err)

	tr.endErr = &gameapi.Error{Op: gameapi.OpEnd, Kind: gameapi.KindTransport, Err: errors.New("unreachable")}
	st, msg, err := c.End(ctx)
	require.ErrorIs(t, err, gameapi.ErrTransport)
	assert.Empty(t, msg)
	assert.Equal(t, "g1", st.GameID)
	assert.Equal(t, 1, c.State().CurrentStep)
	assert.NotNil(t, c.View().Current())
	_, ok, _ := store.Get(ctx, "default")
	assert.True(t, ok)
}

func TestConcurrentOperationIsBusy(t *testing.T) {
	ctx := context.Background()
	tr := newFakeTransport()
	c := newTestController(t, tr, newMemStore())
	_, err := c.Start(ctx, "r", "b", 5)
	require.NoError(t, err)

	tr.block = make(chan struct{})
	tr.entered = make(chan struct{}, 1)
	done := make(chan error, 1)
	go func() {
		_, err := c.Next(ctx)
		done <- err
	}()

	select {
	case <-tr.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("first operation never reached the transport")
	}
	assert.True(t, c.Loading())
	assert.True(t, c.Status().Loading)

	_, err = c.Next(ctx)
	assert.ErrorIs(t, err, ErrBusy)
	_, _, err = c.End(ctx)
	assert.ErrorIs(t, err, ErrBusy)

	close(tr.block)
	require.NoError(t, <-done)
	assert.False(t, c.Loading())
	assert.Equal(t, 1, c.State().CurrentStep)
}

func TestPanicReleasesLoading(t *testing.T) {
	ctx := context.Background()
	tr := newFakeTransport()
	c := newTestController(t, tr, newMemStore())
	_, err := c.Start(ctx, "r", "b", 5)
	require.NoError(t, err)

	tr.panicOn = "advance"
	func() {
		defer func() { _ = recover() }()
		_, _ = c.Next(ctx)
	}()
	assert.False(t, c.Loading())
	assert.Equal(t, 0, c.State().CurrentStep)
}

func TestRestoreAndResume(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	require.NoError(t, store.Upsert(ctx, state.SessionRecord{Profile: "default", GameID: "g9", RedAgent: "r", BlueAgent: "b", MaxSteps: 10, CurrentStep: 3, LatestStep: 5}))

	tr := newFakeTransport()
	c := newTestController(t, tr, store)
	assert.Equal(t, State{GameID: "g9", RedAgent: "r", BlueAgent: "b", MaxSteps: 10, CurrentStep: 3, LatestStep: 5}, c.State())
	assert.Nil(t, c.View().Current())

	require.NoError(t, c.Resume(ctx))
	require.NotNil(t, c.View().Current())
	assert.Equal(t, []call{{op: "fetch_historical", gameID: "g9", step: 3}}, tr.ops())

	require.NoError(t, c.Resume(ctx))
	assert.Len(t, tr.ops(), 1, "resume is a no-op once a graph is shown")

	st, err := c.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, st.CurrentStep)
	assert.Equal(t, "fetch_historical", tr.ops()[1].op)
}

func TestResumeWithoutGameIsNoop(t *testing.T) {
	tr := newFakeTransport()
	c := newTestController(t, tr, newMemStore())
	require.NoError(t, c.Resume(context.Background()))
	assert.Empty(t, tr.ops())
}
