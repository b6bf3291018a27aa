package llm

import (
	"context"
)

// Middleware represents a function that wraps a Backend with additional behavior.
// Middleware functions are composed using Chain() to create a processing pipeline.
type Middleware func(next Backend) Backend

// backendFunc adapts plain functions to the Backend interface.
type backendFunc struct {
	complete func(context.Context, Request) (Response, error)
	name     func() string
}

func (f backendFunc) Complete(ctx context.Context, req Request) (Response, error) {
	return f.complete(ctx, req)
}

func (f backendFunc) Name() string {
	return f.name()
}

// WrapBackend creates a Backend from function implementations.
// This is a helper for middleware implementations that need to wrap behavior.
func WrapBackend(
	complete func(context.Context, Request) (Response, error),
	name func() string,
) Backend {
	return backendFunc{complete: complete, name: name}
}

// Chain composes multiple middlewares around a base Backend.
// Middlewares are applied in order, with earlier middlewares being outermost.
//
// For example: Chain(b, mw1, mw2, mw3) creates the call stack:
//
//	mw1 -> mw2 -> mw3 -> b
func Chain(base Backend, middlewares ...Middleware) Backend {
	backend := base
	for i := len(middlewares) - 1; i >= 0; i-- {
		if middlewares[i] == nil {
			continue
		}
		backend = middlewares[i](backend)
	}
	return backend
}
