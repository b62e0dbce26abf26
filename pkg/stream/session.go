package stream

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

type State int32

const (
	StateIdle State = iota
	StateAwaitingHeader
	StateStreaming
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingHeader:
		return "awaiting-header"
	case StateStreaming:
		return "streaming"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

type Reason string

const (
	ReasonDone     Reason = "done"
	ReasonAborted  Reason = "aborted"
	ReasonCanceled Reason = "canceled"
)

// Target is the pending node a session writes into.
type Target interface {
	ID() string
	// Append reports false once the target has been canceled.
	Append(delta string) (bool, error)
	Cancel()
	// Release freezes the target content.
	Release()
	Text() string
	Revision() uint64
}

type Snapshot struct {
	NodeID   string `json:"node_id"`
	Text     string `json:"text"`
	Revision uint64 `json:"revision"`
	Final    bool   `json:"final"`
}

type SnapshotSink interface {
	PublishSnapshot(s Snapshot) error
}

type SnapshotSinkFunc func(s Snapshot) error

func (f SnapshotSinkFunc) PublishSnapshot(s Snapshot) error {
	return f(s)
}

type Stats struct {
	Records int `json:"records"`
	Skipped int `json:"skipped"`
	Deltas  int `json:"deltas"`
}

type Result struct {
	NodeID string
	Text   string
	Reason Reason
	// Cause is ErrStreamAborted for ReasonAborted and context.Canceled for ReasonCanceled.
	Cause error
	Stats Stats
}

type OpenFunc func(ctx context.Context) (*Response, error)

// BindFunc creates the pending node. It is only called once the response is known to be live.
type BindFunc func() (Target, error)

const DefaultTickInterval = 100 * time.Millisecond

type config struct {
	sink         SnapshotSink
	tickInterval time.Duration
	deltaPath    string
}

type Option func(*config)

func WithSink(sink SnapshotSink) Option {
	return func(c *config) {
		c.sink = sink
	}
}

func WithTickInterval(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.tickInterval = d
		}
	}
}

func WithDeltaPath(path string) Option {
	return func(c *config) {
		if path != "" {
			c.deltaPath = path
		}
	}
}

// Handle is a running stream session.
type Handle struct {
	cfg    config
	target Target
	cancel context.CancelFunc
	state  atomic.Int32
	done   chan struct{}

	mu     sync.Mutex
	result *Result
}

// Begin opens the stream and, once the response is confirmed live, binds the pending
// node and starts accumulating into it. A rejected response fails with an error
// matching ErrStreamUnavailable and bind is never called.
func Begin(ctx context.Context, open OpenFunc, bind BindFunc, options ...Option) (*Handle, error) {
	cfg := config{
		tickInterval: DefaultTickInterval,
		deltaPath:    DefaultDeltaPath,
	}
	for _, option := range options {
		option(&cfg)
	}

	h := &Handle{
		cfg:  cfg,
		done: make(chan struct{}),
	}
	h.setState(StateAwaitingHeader)

	resp, err := open(ctx)
	if err != nil {
		h.setState(StateFailed)
		return nil, errors.Wrap(err, "could not open stream")
	}
	if resp == nil || !resp.OK || resp.Body == nil {
		h.setState(StateFailed)
		uerr := &UnavailableError{}
		if resp != nil {
			uerr.StatusCode = resp.StatusCode
			uerr.Payload = resp.ErrorPayload
			if resp.Body != nil {
				_ = resp.Body.Close()
			}
		}
		return nil, uerr
	}

	target, err := bind()
	if err != nil {
		h.setState(StateFailed)
		_ = resp.Body.Close()
		return nil, errors.Wrap(err, "could not bind pending node")
	}
	h.target = target

	ctx, cancel := context.WithCancel(ctx)
	h.cancel = cancel
	h.setState(StateStreaming)

	go h.run(ctx, resp.Body)

	return h, nil
}

func (h *Handle) setState(s State) {
	h.state.Store(int32(s))
}

func (h *Handle) State() State {
	return State(h.state.Load())
}

func (h *Handle) NodeID() string {
	return h.target.ID()
}

// Cancel stops the session. Deltas read after Cancel returns are not applied.
func (h *Handle) Cancel() {
	h.target.Cancel()
	h.cancel()
}

func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the session ends. The error is non-nil only for a canceled session.
func (h *Handle) Wait() (*Result, error) {
	<-h.done
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.result.Reason == ReasonCanceled {
		return h.result, h.result.Cause
	}
	return h.result, nil
}

func (h *Handle) run(ctx context.Context, body io.ReadCloser) {
	defer close(h.done)
	defer h.cancel()

	// unblock a pending Read when the caller goes away
	stop := context.AfterFunc(ctx, func() {
		h.target.Cancel()
		_ = body.Close()
	})
	defer stop()

	var (
		reason Reason
		cause  error
		stats  Stats
	)
	readerDone := make(chan struct{})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(readerDone)
		reason, cause = h.read(gctx, NewReaderSource(body), &stats)
		return nil
	})
	g.Go(func() error {
		h.tick(gctx, readerDone)
		return nil
	})
	_ = g.Wait()
	_ = body.Close()

	h.target.Release()

	state := StateCompleted
	if reason == ReasonCanceled {
		state = StateFailed
	}
	h.setState(state)

	result := &Result{
		NodeID: h.target.ID(),
		Text:   h.target.Text(),
		Reason: reason,
		Cause:  cause,
		Stats:  stats,
	}
	h.mu.Lock()
	h.result = result
	h.mu.Unlock()

	h.publish(Snapshot{
		NodeID:   result.NodeID,
		Text:     result.Text,
		Revision: h.target.Revision(),
		Final:    true,
	})

	log.Debug().
		Str("node", result.NodeID).
		Str("reason", string(reason)).
		Int("records", stats.Records).
		Int("skipped", stats.Skipped).
		Int("deltas", stats.Deltas).
		Int("length", len(result.Text)).
		Msg("stream finished")
}

func (h *Handle) read(ctx context.Context, src Source, stats *Stats) (Reason, error) {
	dec := NewDecoder(h.cfg.deltaPath)

	for {
		if err := ctx.Err(); err != nil {
			return ReasonCanceled, err
		}

		chunk, readErr := src.Next(ctx)
		records := dec.Feed(chunk.Data)
		if chunk.Done || readErr != nil {
			records = append(records, dec.Flush()...)
		}

		for _, r := range records {
			if h.apply(r, stats) {
				return ReasonDone, nil
			}
		}

		if readErr != nil {
			if err := ctx.Err(); err != nil {
				return ReasonCanceled, err
			}
			log.Warn().Err(readErr).Str("node", h.target.ID()).Msg("stream read failed")
			return ReasonAborted, errors.Wrapf(ErrStreamAborted, "read: %v", readErr)
		}
		if chunk.Done {
			return ReasonAborted, ErrStreamAborted
		}
	}
}

// apply returns true when r is the sentinel.
func (h *Handle) apply(r Record, stats *Stats) bool {
	stats.Records++

	switch r.Kind {
	case RecordDone:
		return true
	case RecordSkip:
		stats.Skipped++
		log.Warn().Err(r.Err).Str("node", h.target.ID()).Msg("skipping stream record")
	case RecordDelta:
		applied, err := h.target.Append(r.Delta)
		if err != nil {
			log.Error().Err(err).Str("node", h.target.ID()).Msg("could not append delta")
			return false
		}
		if applied {
			stats.Deltas++
		}
	case RecordEmpty:
	}
	return false
}

func (h *Handle) tick(ctx context.Context, readerDone <-chan struct{}) {
	if h.cfg.sink == nil {
		return
	}

	ticker := time.NewTicker(h.cfg.tickInterval)
	defer ticker.Stop()

	last := h.target.Text()
	for {
		select {
		case <-ctx.Done():
			return
		case <-readerDone:
			return
		case <-ticker.C:
			text := h.target.Text()
			if text == last {
				continue
			}
			last = text
			h.publish(Snapshot{
				NodeID:   h.target.ID(),
				Text:     text,
				Revision: h.target.Revision(),
			})
		}
	}
}

func (h *Handle) publish(s Snapshot) {
	if h.cfg.sink == nil {
		return
	}
	if err := h.cfg.sink.PublishSnapshot(s); err != nil {
		log.Warn().Err(err).Str("node", s.NodeID).Msg("could not publish snapshot")
	}
}
