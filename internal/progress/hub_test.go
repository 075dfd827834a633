package progress

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestHubBatchBySize(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{BufferSize: 8, MaxBatchEvents: 2, MaxBatchWait: time.Minute}, sink)
	defer func() {
		require.NoError(t, hub.Close(context.Background()))
	}()

	hub.Emit(sampleEvent(StageFetchDone))
	hub.Emit(sampleEvent(StageFetchDone))
	require.Eventually(t, func() bool {
		b := sink.Batches()
		return len(b) == 1 && len(b[0]) == 2
	}, time.Second, 10*time.Millisecond)
}

func TestHubBatchByTimer(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{BufferSize: 4, MaxBatchEvents: 10, MaxBatchWait: 20 * time.Millisecond}, sink)
	defer func() {
		require.NoError(t, hub.Close(context.Background()))
	}()

	hub.Emit(sampleEvent(StageRunStart))
	require.Eventually(t, func() bool {
		return len(sink.Batches()) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestHubEmitNonBlockingWhenFull(t *testing.T) {
	t.Parallel()

	hub := &Hub{events: make(chan Event), logger: zap.NewNop()}
	start := time.Now()
	hub.Emit(sampleEvent(StageRunStart))
	require.Less(t, time.Since(start), 50*time.Millisecond)
	require.EqualValues(t, 1, hub.Dropped())
}

func TestHubDiscardsInvalidEvents(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{MaxBatchWait: time.Minute}, sink)
	hub.Emit(Event{Stage: StageFetchDone})
	require.NoError(t, hub.Close(context.Background()))
	require.Empty(t, sink.Batches())
	require.True(t, sink.Closed())
}

func TestHubFlushOnClose(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{BufferSize: 4, MaxBatchEvents: 100, MaxBatchWait: time.Minute}, sink)
	hub.Emit(sampleEvent(StageRunDone))

	require.NoError(t, hub.Close(context.Background()))
	require.NoError(t, hub.Close(context.Background()))
	require.Len(t, sink.Batches(), 1)
	require.Len(t, sink.Batches()[0], 1)

	hub.Emit(sampleEvent(StageRunDone))
	require.Len(t, sink.Batches(), 1)
}

func TestEventValidate(t *testing.T) {
	t.Parallel()

	require.NoError(t, sampleEvent(StageFetchDone).Validate())

	evt := sampleEvent(StageFetchError)
	evt.StationID = ""
	require.Error(t, evt.Validate())

	evt = sampleEvent(StageRunDone)
	evt.Stage = "BOGUS"
	require.Error(t, evt.Validate())

	evt = sampleEvent(StageRunDone)
	evt.Dur = -time.Second
	require.Error(t, evt.Validate())
}

type stubSink struct {
	mu      sync.Mutex
	batches [][]Event
	closed  bool
}

func newStubSink() *stubSink {
	return &stubSink{}
}

func (s *stubSink) Consume(_ context.Context, batch []Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, append([]Event(nil), batch...))
	return nil
}

func (s *stubSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *stubSink) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *stubSink) Batches() [][]Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]Event, len(s.batches))
	for i, b := range s.batches {
		out[i] = append([]Event(nil), b...)
	}
	return out
}

func sampleEvent(stage Stage) Event {
	return Event{
		RunID:     uuid.New(),
		TS:        time.Now(),
		Stage:     stage,
		StationID: "YPDN",
		Hour:      "00",
	}
}

func TestHubFlushDeliversPendingEvents(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{BufferSize: 16, MaxBatchEvents: 100, MaxBatchWait: time.Minute}, sink)
	defer func() {
		require.NoError(t, hub.Close(context.Background()))
	}()

	for range 3 {
		hub.Emit(sampleEvent(StageFetchDone))
	}
	require.NoError(t, hub.Flush(context.Background()))

	total := 0
	for _, b := range sink.Batches() {
		total += len(b)
	}
	require.Equal(t, 3, total)
}
