package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-hub/internal/device"
)

// DefaultDeviceTimeout is the deadline of a device timer.
const DefaultDeviceTimeout = 10 * time.Second

// ErrSessionClosed is returned when arming a timer on a completed session.
var ErrSessionClosed = errors.New("session: session already completed")

// Logger defines the logging interface used by the package.
type Logger interface {
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Warn(string, ...any) {}

// Target is the device a timer watches.
type Target interface {
	ID() string
	Offline() bool
}

// Sink receives the single result of a session.
type Sink func(out map[string]any, err error)

// Options configure a Session.
type Options struct {
	// Timeout is the device timer deadline. Zero means DefaultDeviceTimeout.
	Timeout time.Duration
	Logger  Logger
}

// Session wraps one operation and its completion sink.
type Session struct {
	topic   string
	sink    Sink
	timeout time.Duration
	logger  Logger
	started time.Time

	ctx    context.Context
	cancel context.CancelFunc

	once sync.Once
	done chan struct{}

	mu     sync.Mutex
	timers map[string]*Timer
	closed bool
}

// New creates a session for topic. The session's context derives from ctx
// and is cancelled on completion or timer expiry.
func New(ctx context.Context, topic string, sink Sink, opts Options) *Session {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultDeviceTimeout
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}
	sctx, cancel := context.WithCancel(ctx)
	return &Session{
		topic:   topic,
		sink:    sink,
		timeout: opts.Timeout,
		logger:  opts.Logger,
		started: time.Now(),
		ctx:     sctx,
		cancel:  cancel,
		done:    make(chan struct{}),
		timers:  make(map[string]*Timer),
	}
}

// Context returns the context operations of this session should use.
func (s *Session) Context() context.Context { return s.ctx }

// Done is closed once the session has completed.
func (s *Session) Done() <-chan struct{} { return s.done }

// Elapsed returns the time since the session was created.
func (s *Session) Elapsed() time.Duration { return time.Since(s.started) }

// Complete delivers the result to the sink if the session has not
// completed yet. It reports whether this call delivered. Remaining timers
// are cleared.
func (s *Session) Complete(out map[string]any, err error) bool {
	delivered := false
	s.once.Do(func() {
		delivered = true

		s.mu.Lock()
		s.closed = true
		for id, t := range s.timers {
			t.stop(TimerCleared)
			delete(s.timers, id)
		}
		s.mu.Unlock()

		s.cancel()
		if s.sink != nil {
			s.sink(out, err)
		}
		close(s.done)
	})
	return delivered
}

// SetDeviceTimer arms a timer for target. It fails at once if the target
// is known to be offline.
func (s *Session) SetDeviceTimer(target Target) (*Timer, error) {
	if target.Offline() {
		return nil, device.ProtocolError(s.topic, device.ErrDeviceOffline, fmt.Sprintf("device %s is offline", target.ID()))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrSessionClosed
	}

	t := &Timer{
		id:       uuid.NewString(),
		deviceID: target.ID(),
		deadline: time.Now().Add(s.timeout),
		session:  s,
		state:    TimerArmed,
	}
	t.timer = time.AfterFunc(s.timeout, t.expire)
	s.timers[t.id] = t
	return t, nil
}

// ClearDeviceTimer disarms t. It reports whether t was still registered
// with the session.
func (s *Session) ClearDeviceTimer(t *Timer) bool {
	if t == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.timers[t.id]; !ok {
		return false
	}
	delete(s.timers, t.id)
	t.stop(TimerCleared)
	return true
}

// ActiveTimers returns the number of armed timers.
func (s *Session) ActiveTimers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Run executes fn under a new session with one device timer and waits for
// the result. A result fn produces after the timer fired is logged and
// dropped. Panics in fn are reported as driver errors.
func Run(ctx context.Context, target Target, topic string, opts Options, fn func(ctx context.Context) (map[string]any, error)) (map[string]any, error) {
	type result struct {
		out map[string]any
		err error
	}
	ch := make(chan result, 1)
	s := New(ctx, topic, func(out map[string]any, err error) { ch <- result{out, err} }, opts)

	timer, err := s.SetDeviceTimer(target)
	if err != nil {
		s.Complete(nil, err)
		r := <-ch
		return r.out, r.err
	}

	go func() {
		out, err := call(s.Context(), topic, fn)
		s.ClearDeviceTimer(timer)
		if !s.Complete(out, err) {
			s.logger.Warn("late device completion discarded",
				"device_id", target.ID(),
				"topic", topic,
				"elapsed", s.Elapsed(),
				"error", err,
			)
		}
	}()

	r := <-ch
	return r.out, r.err
}

func call(ctx context.Context, topic string, fn func(context.Context) (map[string]any, error)) (out map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, device.DriverError(topic, nil, fmt.Errorf("panic: %v", r))
		}
	}()
	return fn(ctx)
}
