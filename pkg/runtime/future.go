package runtime

import (
	"context"
	"iter"
	"strings"
	"sync"

	"github.com/wilhg/toolagent/pkg/agent"
)

// Future is the result of work running on another goroutine.
type Future[T any] struct {
	done chan struct{}
	val  T
	err  error
}

func goFuture[T any](fn func() (T, error)) *Future[T] {
	f := &Future[T]{done: make(chan struct{})}
	go func() {
		defer close(f.done)
		f.val, f.err = fn()
	}()
	return f
}

// Done is closed once the result is available.
func (f *Future[T]) Done() <-chan struct{} { return f.done }

// Wait blocks until the result is available or ctx is done. Giving up on the wait does not
// stop the work; cancel the context the work was started with for that.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// StreamingResponse yields text deltas while a turn runs and the final Response once it ends.
// Deltas are buffered, so a slow or absent reader never stalls the turn.
type StreamingResponse struct {
	mu     sync.Mutex
	chunks []string
	notify chan struct{}
	closed bool

	done chan struct{}
	resp *agent.Response
	err  error
}

func newStreamingResponse() *StreamingResponse {
	return &StreamingResponse{notify: make(chan struct{}), done: make(chan struct{})}
}

func (s *StreamingResponse) push(delta string) {
	if delta == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.chunks = append(s.chunks, delta)
	close(s.notify)
	s.notify = make(chan struct{})
}

func (s *StreamingResponse) finish(resp *agent.Response, err error) {
	s.mu.Lock()
	s.closed = true
	close(s.notify)
	s.resp, s.err = resp, err
	s.mu.Unlock()
	close(s.done)
}

// Deltas yields every delta from the start of the turn, blocking for new ones until the turn
// ends. It can be ranged over more than once.
func (s *StreamingResponse) Deltas() iter.Seq[string] {
	return func(yield func(string) bool) {
		for i := 0; ; {
			s.mu.Lock()
			if i < len(s.chunks) {
				c := s.chunks[i]
				i++
				s.mu.Unlock()
				if !yield(c) {
					return
				}
				continue
			}
			if s.closed {
				s.mu.Unlock()
				return
			}
			ch := s.notify
			s.mu.Unlock()
			<-ch
		}
	}
}

// Text returns the text streamed so far.
func (s *StreamingResponse) Text() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return strings.Join(s.chunks, "")
}

// Done is closed when the turn has ended.
func (s *StreamingResponse) Done() <-chan struct{} { return s.done }

// Wait blocks until the turn ends and returns its Response or error.
func (s *StreamingResponse) Wait(ctx context.Context) (*agent.Response, error) {
	select {
	case <-s.done:
		return s.resp, s.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
