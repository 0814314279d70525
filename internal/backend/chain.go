package backend

import (
	"context"
	"errors"

	"github.com/SolSoCoG/mirage/internal/session"
)

// Chain tries generators in order. The first one that recognizes the input
// wins; ErrNotFound falls through to the next. Connect is answered by the
// first generator.
type Chain struct {
	generators []ResponseGenerator
}

// NewChain wires generators front to back.
func NewChain(generators ...ResponseGenerator) *Chain {
	return &Chain{generators: generators}
}

// Connect implements ResponseGenerator.
func (c *Chain) Connect(ctx context.Context, auth AuthInfo) (*session.Session, error) {
	if len(c.generators) == 0 {
		return nil, errors.New("empty chain")
	}
	return c.generators[0].Connect(ctx, auth)
}

// Query implements ResponseGenerator.
func (c *Chain) Query(ctx context.Context, command string, s *session.Session) (Response, error) {
	var lastErr error = ErrNotFound
	for _, g := range c.generators {
		resp, err := g.Query(ctx, command, s)
		if err == nil {
			return resp, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return resp, err
		}
		lastErr = err
	}
	return Response{}, lastErr
}

// Request implements ResponseGenerator.
func (c *Chain) Request(ctx context.Context, info RequestInfo, s *session.Session) (Response, error) {
	var lastErr error = ErrNotFound
	for _, g := range c.generators {
		resp, err := g.Request(ctx, info, s)
		if err == nil {
			return resp, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return resp, err
		}
		lastErr = err
	}
	return Response{}, lastErr
}
