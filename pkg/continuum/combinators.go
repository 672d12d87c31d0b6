package continuum

import "context"

// Compose tries handlers in order; the first one to return anything
// other than End() wins (spec §4.5). If every handler ends, Compose
// ends too.
func Compose(handlers ...Handler) Handler {
	return func(ctx context.Context, event any, cctx *Context) Next {
		for _, h := range handlers {
			next := h(ctx, event, cctx)
			if next.kind != KindEnd {
				return next
			}
		}
		return End()
	}
}

// Conditional lets a predicate select the next handler. If pred is
// false and elseH is nil, the flow ends.
func Conditional(pred func(event any, cctx *Context) bool, thenH Handler, elseH Handler) Handler {
	return func(ctx context.Context, event any, cctx *Context) Next {
		if pred(event, cctx) {
			return Continue(thenH)
		}
		if elseH != nil {
			return Continue(elseH)
		}
		return End()
	}
}

// Tap invokes a side effect and continues with next, or ends if next
// is nil.
func Tap(sideEffect func(event any, cctx *Context), next Handler) Handler {
	return func(ctx context.Context, event any, cctx *Context) Next {
		sideEffect(event, cctx)
		if next == nil {
			return End()
		}
		return Continue(next)
	}
}

// ErrorHandler is invoked when h panics with a recoverable error
// value, or when h's own logic calls Fail to signal a handled error
// (see Fail below). Its return value becomes the continuum's next
// step.
type ErrorHandler func(err error, event any, cctx *Context) Next

// WithErrorHandler wraps h so that a panic raised with an error value
// is caught and handed to onError, whose return becomes the next step
// (spec §4.5). Panics with non-error values are not a continuum error
// channel and are re-panicked, since they indicate a programming bug
// rather than a handled failure.
func WithErrorHandler(h Handler, onError ErrorHandler) Handler {
	return func(ctx context.Context, event any, cctx *Context) (result Next) {
		defer func() {
			if r := recover(); r != nil {
				err, ok := r.(error)
				if !ok {
					panic(r)
				}
				result = onError(err, event, cctx)
			}
		}()
		return h(ctx, event, cctx)
	}
}

// Fail panics with err so that the nearest enclosing WithErrorHandler
// catches it. This is the continuum's sanctioned way for a Handler to
// signal a recoverable error without going through Go's usual
// multi-return error convention, since Handler's signature (driven by
// spec §4.5's single-return Next contract) has no room for a second
// return value.
func Fail(err error) {
	panic(err)
}
