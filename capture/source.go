package capture

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/RyanBlaney/tonewatch/logging"
)

// Frame is one block of exactly FrameSize mono samples in 16-bit full-scale
// units (-32768..32767), independent of the input encoding.
type Frame struct {
	Seq       uint64    `json:"seq"`
	Samples   []float64 `json:"-"`
	Timestamp time.Time `json:"timestamp"`
	// Padded is set on a trailing frame that was completed with zeros.
	Padded bool `json:"padded,omitempty"`
}

// Source yields consecutive frames. NextFrame blocks until a frame is ready,
// ctx is done, or the source's read timeout elapses. End of input is io.EOF.
type Source interface {
	NextFrame(ctx context.Context) (*Frame, error)
	Close() error
}

// OverflowPolicy decides what happens when frames arrive faster than they are
// consumed and the queue is full.
type OverflowPolicy string

const (
	// OverflowBlock applies back-pressure to the producer.
	OverflowBlock OverflowPolicy = "block"
	// OverflowDrop discards the oldest queued frame.
	OverflowDrop OverflowPolicy = "drop"
	// OverflowReport drops like OverflowDrop and also surfaces a recoverable
	// OVERFLOW error on the next NextFrame call.
	OverflowReport OverflowPolicy = "report"
)

// ParseOverflowPolicy maps a configuration string to a policy. Empty selects
// OverflowBlock.
func ParseOverflowPolicy(s string) (OverflowPolicy, error) {
	switch OverflowPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", OverflowBlock:
		return OverflowBlock, nil
	case OverflowDrop:
		return OverflowDrop, nil
	case OverflowReport:
		return OverflowReport, nil
	default:
		return "", fmt.Errorf("unknown overflow policy %q", s)
	}
}

// frameQueue is the bounded hand-off between a source's reader goroutine and
// NextFrame. The producer calls push for each frame and finish exactly once.
type frameQueue struct {
	name    string
	frames  chan *Frame
	policy  OverflowPolicy
	timeout time.Duration

	done      chan struct{}
	closeOnce sync.Once

	mu  sync.Mutex
	err error

	seq        atomic.Uint64
	dropped    atomic.Uint64
	overflowed atomic.Bool

	logger logging.Logger
}

func newFrameQueue(name string, capacity int, policy OverflowPolicy, timeout time.Duration, logger logging.Logger) *frameQueue {
	if capacity < 1 {
		capacity = 1
	}
	if policy == "" {
		policy = OverflowBlock
	}
	return &frameQueue{
		name:    name,
		frames:  make(chan *Frame, capacity),
		policy:  policy,
		timeout: timeout,
		done:    make(chan struct{}),
		logger:  logger,
	}
}

// push enqueues samples as the next frame. It returns false once the queue
// has been closed, which tells the producer to stop.
func (q *frameQueue) push(samples []float64, padded bool) bool {
	frame := &Frame{
		Seq:       q.seq.Add(1) - 1,
		Samples:   samples,
		Timestamp: time.Now(),
		Padded:    padded,
	}

	if q.policy == OverflowBlock {
		select {
		case q.frames <- frame:
			return true
		case <-q.done:
			return false
		}
	}

	for {
		select {
		case q.frames <- frame:
			return true
		case <-q.done:
			return false
		default:
		}

		select {
		case old := <-q.frames:
			total := q.dropped.Add(1)
			if q.policy == OverflowReport {
				q.overflowed.Store(true)
			}
			q.logger.Warn("Frame queue overflow, dropping oldest frame", logging.Fields{
				"dropped_seq":   old.Seq,
				"dropped_total": total,
			})
		default:
		}
	}
}

// finish ends the stream. err == nil means clean end of input.
func (q *frameQueue) finish(err error) {
	q.mu.Lock()
	if err == nil {
		err = io.EOF
	}
	q.err = err
	q.mu.Unlock()
	close(q.frames)
}

func (q *frameQueue) terminalErr() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.err
}

func (q *frameQueue) next(ctx context.Context) (*Frame, error) {
	select {
	case <-q.done:
		return nil, NewCaptureError(q.name, ErrCodeClosed, "source is closed", nil)
	default:
	}

	if q.overflowed.CompareAndSwap(true, false) {
		return nil, NewCaptureError(q.name, ErrCodeOverflow,
			fmt.Sprintf("input overflow, %d frames dropped so far", q.dropped.Load()), nil)
	}

	var timeout <-chan time.Time
	if q.timeout > 0 {
		timer := time.NewTimer(q.timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case frame, ok := <-q.frames:
		if !ok {
			return nil, q.terminalErr()
		}
		return frame, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timeout:
		return nil, NewCaptureError(q.name, ErrCodeUnderflow,
			fmt.Sprintf("no frame within %s", q.timeout), nil)
	case <-q.done:
		return nil, NewCaptureError(q.name, ErrCodeClosed, "source is closed", nil)
	}
}

// close releases a producer blocked in push. Safe to call more than once.
func (q *frameQueue) close() {
	q.closeOnce.Do(func() { close(q.done) })
}

func (q *frameQueue) Dropped() uint64 {
	return q.dropped.Load()
}
