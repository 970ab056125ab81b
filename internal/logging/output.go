package logging

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// output holds a module's current handler chain. Initialize swaps the chain
// in place, so loggers created before it switch format and outputs too.
type output struct {
	chain atomic.Pointer[chain]
}

type chain struct {
	h slog.Handler
}

func newOutput(h slog.Handler) *output {
	o := &output{}
	o.set(h)
	return o
}

func (o *output) set(h slog.Handler) {
	o.chain.Store(&chain{h: h})
}

func (o *output) handler() slog.Handler {
	return &swapHandler{out: o, derived: &atomic.Pointer[derivedChain]{}}
}

// derivedChain caches ops applied to one particular chain.
type derivedChain struct {
	base *chain
	h    slog.Handler
}

// swapHandler replays its WithAttrs and WithGroup calls onto whatever chain
// the output currently holds.
type swapHandler struct {
	out     *output
	ops     []func(slog.Handler) slog.Handler
	derived *atomic.Pointer[derivedChain]
}

func (s *swapHandler) current() slog.Handler {
	base := s.out.chain.Load()
	if len(s.ops) == 0 {
		return base.h
	}
	if d := s.derived.Load(); d != nil && d.base == base {
		return d.h
	}
	h := base.h
	for _, op := range s.ops {
		h = op(h)
	}
	s.derived.Store(&derivedChain{base: base, h: h})
	return h
}

func (s *swapHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return s.current().Enabled(ctx, level)
}

func (s *swapHandler) Handle(ctx context.Context, r slog.Record) error {
	return s.current().Handle(ctx, r)
}

func (s *swapHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return s
	}
	return s.with(func(h slog.Handler) slog.Handler { return h.WithAttrs(attrs) })
}

func (s *swapHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return s
	}
	return s.with(func(h slog.Handler) slog.Handler { return h.WithGroup(name) })
}

func (s *swapHandler) with(op func(slog.Handler) slog.Handler) *swapHandler {
	ops := make([]func(slog.Handler) slog.Handler, len(s.ops), len(s.ops)+1)
	copy(ops, s.ops)
	return &swapHandler{
		out:     s.out,
		ops:     append(ops, op),
		derived: &atomic.Pointer[derivedChain]{},
	}
}
