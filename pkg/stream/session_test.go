package stream

import (
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTarget struct {
	mu       sync.Mutex
	text     strings.Builder
	revision uint64
	canceled bool
	released bool
}

func (f *fakeTarget) ID() string { return "pending" }

func (f *fakeTarget) Append(delta string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.canceled {
		return false, nil
	}
	if f.released {
		return false, errors.New("frozen")
	}
	f.text.WriteString(delta)
	f.revision++
	return true, nil
}

func (f *fakeTarget) Cancel() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.canceled = true
}

func (f *fakeTarget) Release() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = true
}

func (f *fakeTarget) Text() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.text.String()
}

func (f *fakeTarget) Revision() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.revision
}

// chunkReader hands out one chunk per Read and counts reads.
type chunkReader struct {
	mu     sync.Mutex
	chunks []string
	reads  int
	closed bool
}

func (c *chunkReader) Read(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reads++
	if c.closed {
		return 0, errors.New("read on closed body")
	}
	if len(c.chunks) == 0 {
		return 0, io.EOF
	}
	n := copy(p, c.chunks[0])
	c.chunks = c.chunks[1:]
	return n, nil
}

func (c *chunkReader) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *chunkReader) Reads() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reads
}

// blockingReader returns its chunks and then blocks until closed.
type blockingReader struct {
	chunks chan string
	closed chan struct{}
	once   sync.Once
}

func newBlockingReader() *blockingReader {
	return &blockingReader{chunks: make(chan string, 16), closed: make(chan struct{})}
}

func (b *blockingReader) Read(p []byte) (int, error) {
	select {
	case s := <-b.chunks:
		return copy(p, s), nil
	case <-b.closed:
		return 0, errors.New("body closed")
	}
}

func (b *blockingReader) Close() error {
	b.once.Do(func() { close(b.closed) })
	return nil
}

func okOpen(body io.ReadCloser) OpenFunc {
	return func(ctx context.Context) (*Response, error) {
		return &Response{OK: true, StatusCode: 200, Body: body}, nil
	}
}

func bindTo(target Target) (BindFunc, *int) {
	calls := 0
	return func() (Target, error) {
		calls++
		return target, nil
	}, &calls
}

func TestSessionAccumulatesDeltasUntilSentinel(t *testing.T) {
	body := &chunkReader{chunks: []string{deltaRecord("Hel"), deltaRecord("lo"), "data: [DONE]\n"}}
	target := &fakeTarget{}
	bind, _ := bindTo(target)

	h, err := Begin(context.Background(), okOpen(body), bind)
	require.NoError(t, err)

	res, err := h.Wait()
	require.NoError(t, err)
	assert.Equal(t, "Hello", res.Text)
	assert.Equal(t, ReasonDone, res.Reason)
	assert.NoError(t, res.Cause)
	assert.Equal(t, Stats{Records: 3, Skipped: 0, Deltas: 2}, res.Stats)
	assert.Equal(t, StateCompleted, h.State())
	assert.True(t, target.released)
}

func TestSessionSkipsMalformedRecords(t *testing.T) {
	body := &chunkReader{chunks: []string{
		deltaRecord("Hel"),
		"data: {broken\n",
		deltaRecord("lo"),
		"data: [DONE]\n",
	}}
	target := &fakeTarget{}
	bind, _ := bindTo(target)

	h, err := Begin(context.Background(), okOpen(body), bind)
	require.NoError(t, err)

	res, err := h.Wait()
	require.NoError(t, err)
	assert.Equal(t, "Hello", res.Text)
	assert.Equal(t, 1, res.Stats.Skipped)
}

func TestSessionIgnoresEventStreamComments(t *testing.T) {
	body := &chunkReader{chunks: []string{
		": keep-alive\n",
		"event: message\n" + deltaRecord("Hi"),
		"data: [DONE]\n",
	}}
	target := &fakeTarget{}
	bind, _ := bindTo(target)

	h, err := Begin(context.Background(), okOpen(body), bind)
	require.NoError(t, err)

	res, err := h.Wait()
	require.NoError(t, err)
	assert.Equal(t, "Hi", res.Text)
	assert.Equal(t, Stats{Records: 4, Skipped: 0, Deltas: 1}, res.Stats)
}

func TestSessionStopsReadingAtSentinel(t *testing.T) {
	body := &chunkReader{chunks: []string{
		deltaRecord("a") + "data: [DONE]\n",
		deltaRecord("never"),
	}}
	target := &fakeTarget{}
	bind, _ := bindTo(target)

	h, err := Begin(context.Background(), okOpen(body), bind)
	require.NoError(t, err)

	res, err := h.Wait()
	require.NoError(t, err)
	assert.Equal(t, "a", res.Text)
	assert.Equal(t, 1, body.Reads())
}

func TestSessionExhaustionWithoutSentinelIsAborted(t *testing.T) {
	body := &chunkReader{chunks: []string{deltaRecord("par"), deltaRecord("tial")}}
	target := &fakeTarget{}
	bind, _ := bindTo(target)

	h, err := Begin(context.Background(), okOpen(body), bind)
	require.NoError(t, err)

	res, err := h.Wait()
	require.NoError(t, err)
	assert.Equal(t, "partial", res.Text)
	assert.Equal(t, ReasonAborted, res.Reason)
	assert.True(t, errors.Is(res.Cause, ErrStreamAborted))
	assert.Equal(t, StateCompleted, h.State())
}

func TestSessionUnavailableNeverBinds(t *testing.T) {
	target := &fakeTarget{}
	bind, calls := bindTo(target)

	tests := []struct {
		name string
		resp *Response
	}{
		{name: "nil response", resp: nil},
		{name: "not ok", resp: &Response{OK: false, StatusCode: 429, ErrorPayload: "rate limited"}},
		{name: "missing body", resp: &Response{OK: true, StatusCode: 200}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			open := func(ctx context.Context) (*Response, error) { return tt.resp, nil }
			h, err := Begin(context.Background(), open, bind)
			assert.Nil(t, h)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrStreamUnavailable))
		})
	}
	assert.Equal(t, 0, *calls)

	var uerr *UnavailableError
	_, err := Begin(context.Background(), func(ctx context.Context) (*Response, error) {
		return &Response{StatusCode: 401, ErrorPayload: "bad key"}, nil
	}, bind)
	require.True(t, errors.As(err, &uerr))
	assert.Equal(t, 401, uerr.StatusCode)
	assert.Equal(t, "bad key", uerr.Payload)
}

func TestSessionCancelMakesLaterDeltasNoOps(t *testing.T) {
	body := newBlockingReader()
	target := &fakeTarget{}
	bind, _ := bindTo(target)

	h, err := Begin(context.Background(), okOpen(body), bind)
	require.NoError(t, err)

	body.chunks <- deltaRecord("kept")
	require.Eventually(t, func() bool { return target.Text() == "kept" }, time.Second, time.Millisecond)

	h.Cancel()
	applied, err := target.Append("late")
	require.NoError(t, err)
	assert.False(t, applied)

	res, err := h.Wait()
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, ReasonCanceled, res.Reason)
	assert.Equal(t, "kept", res.Text)
	assert.Equal(t, StateFailed, h.State())
}

func TestSessionParentContextCancel(t *testing.T) {
	body := newBlockingReader()
	target := &fakeTarget{}
	bind, _ := bindTo(target)

	ctx, cancel := context.WithCancel(context.Background())
	h, err := Begin(ctx, okOpen(body), bind)
	require.NoError(t, err)

	cancel()
	select {
	case <-h.Done():
	case <-time.After(time.Second):
		t.Fatal("session did not stop")
	}
	res, err := h.Wait()
	assert.Error(t, err)
	assert.Equal(t, ReasonCanceled, res.Reason)
}

func TestSessionPublishesSnapshots(t *testing.T) {
	body := newBlockingReader()
	target := &fakeTarget{}
	bind, _ := bindTo(target)

	var mu sync.Mutex
	var snapshots []Snapshot
	sink := SnapshotSinkFunc(func(s Snapshot) error {
		mu.Lock()
		defer mu.Unlock()
		snapshots = append(snapshots, s)
		return nil
	})

	h, err := Begin(context.Background(), okOpen(body), bind,
		WithSink(sink), WithTickInterval(5*time.Millisecond))
	require.NoError(t, err)

	body.chunks <- deltaRecord("Hel")
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(snapshots) > 0 && snapshots[len(snapshots)-1].Text == "Hel"
	}, time.Second, time.Millisecond)

	body.chunks <- deltaRecord("lo") + "data: [DONE]\n"
	_, err = h.Wait()
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	last := snapshots[len(snapshots)-1]
	assert.True(t, last.Final)
	assert.Equal(t, "Hello", last.Text)
	assert.Equal(t, "pending", last.NodeID)

	// ticks only publish changed content
	for i := 1; i < len(snapshots)-1; i++ {
		assert.NotEqual(t, snapshots[i-1].Text, snapshots[i].Text)
	}
}

func TestSessionOpenErrorIsReturned(t *testing.T) {
	bind, calls := bindTo(&fakeTarget{})
	boom := errors.New("boom")
	_, err := Begin(context.Background(), func(ctx context.Context) (*Response, error) {
		return nil, boom
	}, bind)
	assert.True(t, errors.Is(err, boom))
	assert.Equal(t, 0, *calls)
}
