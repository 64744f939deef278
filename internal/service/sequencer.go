package service

import "context"

// sequencer lets concurrent batch tasks run their ordered step by batch
// index: step i starts only after step i-1 has finished.
type sequencer struct {
	turns []chan struct{}
}

func newSequencer(n int) *sequencer {
	s := &sequencer{turns: make([]chan struct{}, n+1)}
	for i := range s.turns {
		s.turns[i] = make(chan struct{})
	}
	close(s.turns[0])
	return s
}

// do waits for turn i, runs fn, then passes the turn to i+1 even if fn fails.
func (s *sequencer) do(ctx context.Context, i int, fn func() error) error {
	select {
	case <-s.turns[i]:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer close(s.turns[i+1])
	return fn()
}
