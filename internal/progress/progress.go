// Package progress is the run's append-only progress log.
//
// The coordinator appends one fragment per finished iteration and flips the
// crashed flag at most once. Listeners (the store, a Kafka topic) see every
// event in order; a bounded tail is kept in memory for live views.
package progress

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gammazero/deque"
)

// DefaultTailSize is the number of recent events kept in memory.
const DefaultTailSize = 64

// EventKind distinguishes progress events.
type EventKind string

const (
	// EventFragment is a text fragment such as "Iteration 3: 12s".
	EventFragment EventKind = "fragment"
	// EventCrashed is emitted once, when the run is marked crashed.
	EventCrashed EventKind = "crashed"
)

// Event is one entry of the progress log.
type Event struct {
	RunID     string    `json:"run_id"`
	Seq       int       `json:"seq"`
	Kind      EventKind `json:"kind"`
	Text      string    `json:"text,omitempty"`
	Iteration int       `json:"iteration,omitempty"`
	At        time.Time `json:"at"`
}

// Listener receives every event. Listener errors are logged, never fatal.
type Listener interface {
	Notify(ctx context.Context, ev Event) error
}

// Sink collects progress for one run.
//
// Thread-safety: All methods are safe for concurrent use.
type Sink struct {
	runID     string
	now       func() time.Time
	logger    *slog.Logger
	tailSize  int
	listeners []Listener

	mu        sync.Mutex
	seq       int
	fragments []string
	tail      *deque.Deque[Event]
	crashed   bool
}

// Option configures a Sink.
type Option func(*Sink)

// WithListener adds a listener.
func WithListener(l Listener) Option {
	return func(s *Sink) { s.listeners = append(s.listeners, l) }
}

// WithTailSize bounds the in-memory tail.
func WithTailSize(n int) Option {
	return func(s *Sink) { s.tailSize = n }
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Sink) { s.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Sink) { s.logger = l }
}

// NewSink creates the progress sink of runID.
func NewSink(runID string, opts ...Option) *Sink {
	s := &Sink{
		runID:    runID,
		now:      time.Now,
		logger:   slog.Default(),
		tailSize: DefaultTailSize,
		tail:     deque.New[Event](),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.tailSize < 1 {
		s.tailSize = 1
	}
	return s
}

// IterationFragment formats the fragment for a finished iteration.
func IterationFragment(iteration, seconds int) string {
	return fmt.Sprintf("Iteration %d: %ds", iteration, seconds)
}

// IterationFinished appends the fragment of a finished iteration.
func (s *Sink) IterationFinished(ctx context.Context, iteration int, elapsed time.Duration) {
	secs := int(elapsed.Round(time.Second) / time.Second)
	s.emit(ctx, Event{Kind: EventFragment, Text: IterationFragment(iteration, secs), Iteration: iteration})
}

// Append adds a free-form text fragment.
func (s *Sink) Append(ctx context.Context, text string) {
	s.emit(ctx, Event{Kind: EventFragment, Text: text})
}

// MarkCrashed sets the crashed flag. Only the first call has an effect and
// returns true.
func (s *Sink) MarkCrashed(ctx context.Context) bool {
	s.mu.Lock()
	if s.crashed {
		s.mu.Unlock()
		return false
	}
	s.crashed = true
	s.mu.Unlock()

	s.emit(ctx, Event{Kind: EventCrashed})
	return true
}

// Crashed reports whether the run was marked crashed.
func (s *Sink) Crashed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.crashed
}

// Text returns every fragment so far, one per line.
func (s *Sink) Text() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return strings.Join(s.fragments, "\n")
}

// Tail returns up to n of the most recent events, oldest first.
func (s *Sink) Tail(n int) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	size := s.tail.Len()
	if n > size || n < 0 {
		n = size
	}
	out := make([]Event, 0, n)
	for i := size - n; i < size; i++ {
		out = append(out, s.tail.At(i))
	}
	return out
}

func (s *Sink) emit(ctx context.Context, ev Event) {
	// The lock is held while listeners run so they observe events in
	// sequence order.
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	ev.RunID = s.runID
	ev.Seq = s.seq
	ev.At = s.now()
	if ev.Kind == EventFragment {
		s.fragments = append(s.fragments, ev.Text)
	}
	s.tail.PushBack(ev)
	for s.tail.Len() > s.tailSize {
		s.tail.PopFront()
	}

	for _, l := range s.listeners {
		if err := l.Notify(ctx, ev); err != nil {
			s.logger.Warn("progress listener failed", "run_id", s.runID, "seq", ev.Seq, "error", err)
		}
	}
}

// Close closes every listener that implements io.Closer.
func (s *Sink) Close() error {
	var errs []error
	for _, l := range s.listeners {
		if c, ok := l.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
