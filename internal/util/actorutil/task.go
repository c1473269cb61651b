package actorutil

import (
	"context"
	"errors"
	"time"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/primetalk/goio/io"
)

// SafeBackgroundTask runs a function away from the actor goroutine and turns
// its result, error or timeout into a message.
type SafeBackgroundTask[T any] struct {
	ctx       actor.Context
	fn        func(context.Context) (*T, error)
	timeout   *time.Duration
	recover   func(error) T
	onSuccess func(T)
}

// NewBackgroundTaskCtx passes fn a context that is cancelled when the task
// timeout expires. Failures are dropped unless Recover is set.
func NewBackgroundTaskCtx[T any](ctx actor.Context, fn func(context.Context) (*T, error)) *SafeBackgroundTask[T] {
	return &SafeBackgroundTask[T]{
		ctx: ctx,
		fn:  fn,
	}
}

func (t *SafeBackgroundTask[T]) WithTimeout(timeout time.Duration) *SafeBackgroundTask[T] {
	t.timeout = &timeout
	return t
}

func (t *SafeBackgroundTask[T]) Recover(fn func(error) T) *SafeBackgroundTask[T] {
	t.recover = fn
	return t
}

// PipeTo runs the task in its own goroutine and sends the final value to pid.
func (t *SafeBackgroundTask[T]) PipeTo(pid *actor.PID) {
	root := t.ctx.ActorSystem().Root
	t.onSuccess = func(value T) {
		root.Send(pid, value)
	}
	go t.Run()
}

// Run blocks until the task finishes.
func (t *SafeBackgroundTask[T]) Run() {
	runCtx := context.Background()
	if t.timeout != nil {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(runCtx, *t.timeout)
		defer cancel()
	}
	bgFn := io.Eval(func() (*T, error) {
		return t.fn(runCtx)
	})
	bg := io.Map(bgFn, func(a *T) T {
		if a != nil {
			return *a
		}
		panic(errors.New("result is nil"))
	})
	if t.timeout != nil {
		bg = io.WithTimeout[T](*t.timeout)(bg)
	}
	result := io.RunSync(bg)
	var finalValue *T
	if result.Error != nil {
		if t.recover == nil {
			return
		}
		a := t.recover(result.Error)
		finalValue = &a
	}
	if finalValue == nil {
		finalValue = &result.Value
	}

	if t.onSuccess != nil {
		t.onSuccess(*finalValue)
	}
}
