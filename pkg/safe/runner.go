package safe

import (
	"context"
	"fmt"
	"runtime/debug"

	"go.uber.org/zap"

	"boarcore.com/pkg/logger"
)

// Go starts fn on a new goroutine and logs, instead of crashing on, a panic.
func Go(fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logPanic(context.Background(), r)
			}
		}()
		fn()
	}()
}

// GoCtx is Go with ctx passed through so panic logs keep its fields.
func GoCtx(ctx context.Context, fn func(ctx context.Context)) {
	if ctx == nil {
		ctx = context.Background()
	}
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logPanic(ctx, r)
			}
		}()
		fn(ctx)
	}()
}

// Call runs fn on the current goroutine and turns a panic into an error.
func Call(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return fn()
}

// PanicError is returned by Call when fn panicked.
type PanicError struct {
	Value any
	Stack []byte
}

func (p *PanicError) Error() string { return fmt.Sprintf("panic: %v", p.Value) }

func logPanic(ctx context.Context, r any) {
	logger.Error(ctx, "goroutine panic recovered",
		zap.Any("panic", r),
		zap.String("stack", string(debug.Stack())),
	)
}
