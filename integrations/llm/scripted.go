package llm

import (
	"context"
	"errors"
	"sync"
)

func init() {
	RegisterProvider("scripted", func(cfg FactoryConfig) (Client, error) {
		if len(cfg.Script) == 0 {
			return nil, errors.New("scripted: script is empty")
		}
		return NewScripted(cfg.Script...), nil
	}, "static")
}

// Scripted replays a fixed list of responses, cycling once exhausted. It
// stands in for a model in local networks and tests.
type Scripted struct {
	mu        sync.Mutex
	responses []string
	next      int
	prompts   []Request
}

// NewScripted returns a client that answers with responses in order.
func NewScripted(responses ...string) *Scripted {
	return &Scripted{responses: append([]string(nil), responses...)}
}

// Invoke implements Client.
func (s *Scripted) Invoke(ctx context.Context, req Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompts = append(s.prompts, req)
	if len(s.responses) == 0 {
		return "", ErrEmptyResponse
	}
	out := s.responses[s.next%len(s.responses)]
	s.next++
	return out, nil
}

// Requests returns every request received so far.
func (s *Scripted) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.prompts...)
}

// Calls reports how many times Invoke ran.
func (s *Scripted) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.prompts)
}

// Func adapts an ordinary function to the Client interface.
type Func func(ctx context.Context, req Request) (string, error)

// Invoke implements Client.
func (f Func) Invoke(ctx context.Context, req Request) (string, error) { return f(ctx, req) }
