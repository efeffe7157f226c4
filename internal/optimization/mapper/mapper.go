// Package mapper provides order-preserving apply-to-many execution.
//
// A Mapper runs n independent tasks, identified by index, either in the
// caller's goroutine or on a bounded pool. Results are written by index,
// so output order never depends on completion order. Any task failure
// aborts the whole map and is reported as a *Error matching
// optimization.ErrMapper.
package mapper

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"

	stackerr "github.com/copyleftdev/latticeopt/internal/errors"
	"github.com/copyleftdev/latticeopt/internal/optimization"
)

// Task is one unit of mapped work.
type Task func(ctx context.Context, index int) error

// Mapper executes tasks 0..n-1.
type Mapper interface {
	Map(ctx context.Context, n int, task Task) error
}

// Error is the MapperError: it names the failing input and unwraps to
// the cause.
type Error struct {
	Index int
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%v: task %d: %v", optimization.ErrMapper, e.Index, e.Err)
}

// Unwrap returns the task failure.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches optimization.ErrMapper.
func (e *Error) Is(target error) bool {
	return target == optimization.ErrMapper
}

// Apply maps fn over inputs with m. out[i] is fn(inputs[i]).
func Apply[In, Out any](ctx context.Context, m Mapper, fn func(context.Context, In) (Out, error), inputs []In) ([]Out, error) {
	out := make([]Out, len(inputs))
	err := m.Map(ctx, len(inputs), func(ctx context.Context, i int) error {
		v, err := fn(ctx, inputs[i])
		if err != nil {
			return err
		}
		out[i] = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// run executes one task, converting a panic into a stack-carrying error.
func run(ctx context.Context, task Task, i int) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = stackerr.Recovered(rec).WithOperation(fmt.Sprintf("task %d", i)).WithComponent("mapper")
		}
	}()
	return task(ctx, i)
}

type serial struct{}

// Serial returns a Mapper that runs tasks in order in the calling
// goroutine and stops at the first failure.
func Serial() Mapper {
	return serial{}
}

func (serial) Map(ctx context.Context, n int, task Task) error {
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return &Error{Index: i, Err: err}
		}
		if err := run(ctx, task, i); err != nil {
			return &Error{Index: i, Err: err}
		}
	}
	return nil
}

func (serial) String() string { return "serial" }

// Pool runs tasks concurrently on at most Workers goroutines.
type Pool struct {
	Workers int
}

// NewPool returns a pool mapper. workers <= 0 means runtime.GOMAXPROCS(0).
func NewPool(workers int) *Pool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Pool{Workers: workers}
}

// Map implements Mapper. The first failure cancels the context seen by
// the remaining tasks; the reported failure is the lowest-index one that
// was not caused by that cancellation.
func (p *Pool) Map(ctx context.Context, n int, task Task) error {
	if n == 0 {
		return nil
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.Workers)

	errs := make([]error, n)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				errs[i] = err
				return err
			}
			errs[i] = run(gctx, task, i)
			return errs[i]
		})
	}
	waitErr := g.Wait()
	if waitErr == nil {
		return nil
	}

	// Cancellation by the caller is reported as such.
	if ctx.Err() != nil {
		for i, err := range errs {
			if err != nil {
				return &Error{Index: i, Err: ctx.Err()}
			}
		}
	}
	for i, err := range errs {
		if err != nil && !errors.Is(err, context.Canceled) {
			return &Error{Index: i, Err: err}
		}
	}
	for i, err := range errs {
		if err != nil {
			return &Error{Index: i, Err: err}
		}
	}
	return &Error{Index: -1, Err: waitErr}
}

func (p *Pool) String() string {
	return fmt.Sprintf("pool(%d)", p.Workers)
}
