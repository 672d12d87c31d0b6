// Package continuum drives the Event Continuum described in spec §4.5:
// a handler returns a Next value that selects what happens at the next
// step — continue into another handler, stream a lazy sequence back to
// the requester, end with a final value, or end with nothing. The
// runtime loops until it reaches a terminal Next.
//
// This replaces the source system's "return a function, the runtime
// keeps calling it" duck typing (spec §9 DESIGN NOTES) with an
// explicit sum type, the idiomatic Go shape for a closed set of
// alternatives.
package continuum

import (
	"context"
)

// Handler is a single step of a continuum chain. It receives the event
// being processed and the shared, mutable Context for this dispatch,
// and returns the Next step.
type Handler func(ctx context.Context, event any, cctx *Context) Next

// Kind distinguishes the four Next alternatives.
type Kind int

const (
	// KindContinue carries another Handler to invoke with the same
	// event and context.
	KindContinue Kind = iota
	// KindStream carries a Sequence to return to the requester as a
	// lazy stream.
	KindStream
	// KindDone carries a final value.
	KindDone
	// KindEnd terminates the flow with no value (bare return).
	KindEnd
)

// Next is the sum type handlers return. Use the constructors below
// rather than building one by hand.
type Next struct {
	kind     Kind
	next     Handler
	sequence Sequence
	value    any
}

// Continue signals that next should be invoked with the same event and
// context.
func Continue(next Handler) Next { return Next{kind: KindContinue, next: next} }

// Stream signals that seq should be returned to the requester as a
// lazy sequence.
func Stream(seq Sequence) Next { return Next{kind: KindStream, sequence: seq} }

// Done signals the flow is finished with a final value.
func Done(value any) Next { return Next{kind: KindDone, value: value} }

// End signals the flow is finished with no value.
func End() Next { return Next{kind: KindEnd} }

// Kind reports which alternative this Next holds.
func (n Next) Kind() Kind { return n.kind }

// Sequence is a lazy sequence producer: values are pulled on demand,
// the sequence may be finite or infinite, and it is not restartable
// (spec §3, §9). Next returns io.EOF-like termination via ok=false.
type Sequence interface {
	// Next returns the next value in the sequence, or ok=false when
	// the sequence is exhausted.
	Next(ctx context.Context) (value any, ok bool, err error)
	// Close releases any resources held by the sequence. Called when
	// the consumer stops pulling, including early abandonment.
	Close() error
}

// Context is the mutable per-dispatch state threaded through a
// continuum chain. It is scoped to exactly one top-level dispatch and
// discarded on completion (spec §3) — callers MUST NOT reuse one
// across separate events.
type Context struct {
	// Extras absorbs dynamic additions a handler wants downstream
	// handlers to see, mirroring the source's mutable context object
	// (spec §9 DESIGN NOTES) but as an explicit, typed field rather
	// than prototype extension.
	Extras map[string]any
}

// NewContext returns a ready-to-use, empty continuum Context.
func NewContext() *Context {
	return &Context{Extras: make(map[string]any)}
}

// Get reads an extras value.
func (c *Context) Get(key string) (any, bool) {
	v, ok := c.Extras[key]
	return v, ok
}

// Set writes an extras value.
func (c *Context) Set(key string, value any) {
	c.Extras[key] = value
}

// Run drives the continuum: it repeatedly invokes handlers until it
// reaches a terminal Next (Done, End, or Stream), implementing
//
//	while (typeof current === "function") current = await current(event, context)
//	return current
//
// from spec §4.5. Run itself recovers nothing: a handler signals an
// error by calling Fail, which panics with the error value. An
// enclosing WithErrorHandler recovers that panic and hands the error
// to its onError handler; without one the panic propagates out of Run
// (pkg/node's dispatcher recovers error-valued panics around Run).
func Run(ctx context.Context, first Handler, event any, cctx *Context) Result {
	current := first
	for {
		next := current(ctx, event, cctx)
		switch next.kind {
		case KindContinue:
			current = next.next
			continue
		case KindStream:
			return Result{Stream: next.sequence}
		case KindDone:
			return Result{Value: next.value, HasValue: true}
		case KindEnd:
			return Result{}
		default:
			return Result{}
		}
	}
}

// Result is what a completed continuum dispatch produced: either a
// final value, a lazy stream, or nothing.
type Result struct {
	Value    any
	HasValue bool
	Stream   Sequence
}
