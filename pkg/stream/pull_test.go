package stream_test

import (
	"context"
	"errors"
	"io"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/phinze/serialdetect/pkg/stream"
	"github.com/phinze/serialdetect/pkg/stream/streamtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nextPayload(t *testing.T, s *stream.Stream) any {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	rec, err := s.Next(ctx)
	require.NoError(t, err)
	return rec.Payload
}

func TestStreamNextInOrder(t *testing.T) {
	s, err := stream.Open(streamtest.Replay(nil, "A", "B", "C"))
	require.NoError(t, err)

	assert.Equal(t, "A", nextPayload(t, s))
	assert.Equal(t, "B", nextPayload(t, s))
	assert.Equal(t, "C", nextPayload(t, s))

	ctx := context.Background()
	_, err = s.Next(ctx)
	assert.ErrorIs(t, err, io.EOF)
	_, err = s.Next(ctx)
	assert.ErrorIs(t, err, stream.EndOfStream)

	out := waitOutcome(t, s.Completion())
	assert.Equal(t, stream.Completed, out.Kind)
	assert.Equal(t, uint64(3), s.Handle().Delivered())
}

func TestStreamNextAfterFailure(t *testing.T) {
	boom := errors.New("read failed")
	s, err := stream.Open(streamtest.Replay(boom, "A"))
	require.NoError(t, err)

	assert.Equal(t, "A", nextPayload(t, s))

	ctx := context.Background()
	_, err = s.Next(ctx)
	var srcErr *stream.SourceError
	require.ErrorAs(t, err, &srcErr)
	assert.ErrorIs(t, err, boom)

	_, err = s.Next(ctx)
	assert.ErrorIs(t, err, boom, "failure is repeated")

	out := waitOutcome(t, s.Completion())
	assert.Equal(t, stream.Failed, out.Kind)
}

func TestStreamIgnoresRecordsAfterFailure(t *testing.T) {
	boom := errors.New("read failed")
	src := streamtest.NewSource()
	s, err := stream.Open(src)
	require.NoError(t, err)

	src.Emit("A")
	src.Fail(boom)
	src.Emit("B")
	src.End()

	assert.Equal(t, "A", nextPayload(t, s))

	ctx := context.Background()
	for range 2 {
		_, err = s.Next(ctx)
		var srcErr *stream.SourceError
		require.ErrorAs(t, err, &srcErr)
		assert.ErrorIs(t, err, boom)
	}

	out := waitOutcome(t, s.Completion())
	assert.Equal(t, stream.Failed, out.Kind)
	assert.Equal(t, uint64(1), s.Handle().Delivered())
}

func TestStreamSeqWithConcurrentProducers(t *testing.T) {
	const producers, perProducer = 8, 2000

	src := streamtest.NewSource()
	s, err := stream.Open(src, stream.WithBuffer(4096))
	require.NoError(t, err)

	go func() {
		var wg sync.WaitGroup
		for range producers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := range perProducer {
					src.Emit(i)
				}
			}()
		}
		wg.Wait()
		src.End()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var last uint64
	for rec, err := range s.All(ctx) {
		require.NoError(t, err)
		require.Greater(t, rec.Seq, last, "seq must increase")
		last = rec.Seq
	}
	assert.Equal(t, uint64(producers*perProducer), last)
}

func TestStreamAbortWakesPendingNext(t *testing.T) {
	src := streamtest.NewSource()
	s, err := stream.Open(src)
	require.NoError(t, err)

	result := make(chan error, 1)
	go func() {
		_, err := s.Next(context.Background())
		result <- err
	}()

	time.Sleep(20 * time.Millisecond)
	s.Abort()

	select {
	case err := <-result:
		assert.ErrorIs(t, err, stream.EndOfStream)
	case <-time.After(time.Second):
		t.Fatal("pending Next did not return after abort")
	}

	out := waitOutcome(t, s.Completion())
	assert.Equal(t, stream.Canceled, out.Kind)

	_, err = s.Next(context.Background())
	assert.ErrorIs(t, err, stream.EndOfStream)
}

func TestStreamAbortDropsBuffered(t *testing.T) {
	src := streamtest.NewSource()
	s, err := stream.Open(src)
	require.NoError(t, err)

	src.Emit("A", "B", "C")
	s.Abort()
	waitOutcome(t, s.Completion())

	assert.Equal(t, uint64(3), s.Handle().Dropped())
	assert.Zero(t, s.Handle().Delivered())

	_, err = s.Next(context.Background())
	assert.ErrorIs(t, err, stream.EndOfStream)
}

func TestStreamConcurrentNext(t *testing.T) {
	src := streamtest.NewSource()
	s, err := stream.Open(src)
	require.NoError(t, err)

	first := make(chan error, 1)
	go func() {
		for {
			_, err := s.Next(context.Background())
			if !errors.Is(err, stream.ErrConcurrentNext) {
				first <- err
				return
			}
			runtime.Gosched()
		}
	}()

	require.Eventually(t, func() bool {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
		defer cancel()
		_, err := s.Next(ctx)
		return errors.Is(err, stream.ErrConcurrentNext)
	}, time.Second, 10*time.Millisecond)

	s.Abort()
	assert.ErrorIs(t, <-first, stream.EndOfStream)
}

func TestStreamNextContextCanceled(t *testing.T) {
	src := streamtest.NewSource()
	s, err := stream.Open(src)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, stream.Active, s.Handle().State())

	src.Emit("A")
	assert.Equal(t, "A", nextPayload(t, s))
	s.Abort()
}

func TestStreamAll(t *testing.T) {
	s, err := stream.Open(streamtest.Replay(nil, "A", "B"))
	require.NoError(t, err)

	var got []any
	for rec, err := range s.All(context.Background()) {
		require.NoError(t, err)
		got = append(got, rec.Payload)
	}
	assert.Equal(t, []any{"A", "B"}, got)
}

func TestStreamAllYieldsFailure(t *testing.T) {
	boom := errors.New("gone")
	s, err := stream.Open(streamtest.Replay(boom, "A"))
	require.NoError(t, err)

	var errs []error
	for _, err := range s.All(context.Background()) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], boom)
}

func TestOverflowPolicies(t *testing.T) {
	tests := []struct {
		name    string
		policy  stream.OverflowPolicy
		want    []any
		dropped uint64
	}{
		{name: "drop oldest", policy: stream.DropOldest, want: []any{"C", "D"}, dropped: 2},
		{name: "drop newest", policy: stream.DropNewest, want: []any{"A", "B"}, dropped: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := streamtest.NewSource()
			s, err := stream.Open(src, stream.WithBuffer(2), stream.WithOverflow(tt.policy))
			require.NoError(t, err)

			src.Emit("A", "B", "C", "D")
			src.End()

			var got []any
			for rec, err := range s.All(context.Background()) {
				require.NoError(t, err)
				got = append(got, rec.Payload)
			}
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.dropped, s.Handle().Dropped())
		})
	}
}

func TestOverflowKeepsTerminal(t *testing.T) {
	boom := errors.New("late failure")
	src := streamtest.NewSource()
	s, err := stream.Open(src, stream.WithBuffer(1), stream.WithOverflow(stream.DropOldest))
	require.NoError(t, err)

	src.Emit("A", "B")
	src.Fail(boom)

	assert.Equal(t, "B", nextPayload(t, s))
	_, err = s.Next(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestBlockPolicyWaitsForConsumer(t *testing.T) {
	src := streamtest.NewSource()
	s, err := stream.Open(src, stream.WithBuffer(1))
	require.NoError(t, err)

	src.Emit("A")
	emitted := make(chan struct{})
	go func() {
		src.Emit("B")
		close(emitted)
	}()

	assert.Never(t, func() bool {
		select {
		case <-emitted:
			return true
		default:
			return false
		}
	}, 50*time.Millisecond, 5*time.Millisecond)

	assert.Equal(t, "A", nextPayload(t, s))
	assert.Equal(t, "B", nextPayload(t, s))
	<-emitted
	assert.Zero(t, s.Handle().Dropped())
	s.Abort()
}

func TestAbortReleasesBlockedProducer(t *testing.T) {
	src := streamtest.NewSource()
	s, err := stream.Open(src, stream.WithBuffer(1))
	require.NoError(t, err)

	src.Emit("A")
	emitted := make(chan struct{})
	go func() {
		src.Emit("B")
		close(emitted)
	}()

	time.Sleep(20 * time.Millisecond)
	s.Abort()

	select {
	case <-emitted:
	case <-time.After(time.Second):
		t.Fatal("producer still blocked after abort")
	}
	waitOutcome(t, s.Completion())
}

func TestOpenSubscribeError(t *testing.T) {
	boom := errors.New("permission denied")
	src := streamtest.NewSource()
	src.SubscribeErr = boom

	s, err := stream.Open(src)
	assert.ErrorIs(t, err, stream.ErrSubscribe)
	assert.ErrorIs(t, err, boom)
	assert.Nil(t, s)
}

func TestStreamIgnoresLateRecordsAfterDetach(t *testing.T) {
	src := streamtest.NewSource()
	src.StopDelay = 5 * time.Second

	s, err := stream.Open(src, stream.WithStopTimeout(50*time.Millisecond))
	require.NoError(t, err)
	<-src.Subscribed()

	s.Abort()
	out := waitOutcome(t, s.Completion())
	assert.Equal(t, stream.Canceled, out.Kind)

	src.Emit("late")
	src.End()

	_, err = s.Next(context.Background())
	assert.ErrorIs(t, err, stream.EndOfStream)
	assert.Zero(t, s.Handle().Delivered())
	assert.Zero(t, s.Handle().Dropped())
}
