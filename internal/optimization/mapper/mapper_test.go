package mapper

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	stackerr "github.com/copyleftdev/latticeopt/internal/errors"
	"github.com/copyleftdev/latticeopt/internal/optimization"
)

func mappers() map[string]Mapper {
	return map[string]Mapper{
		"serial": Serial(),
		"pool1":  NewPool(1),
		"pool4":  NewPool(4),
		"pool0":  NewPool(0),
	}
}

func TestApplyPreservesOrder(t *testing.T) {
	inputs := make([]int, 50)
	for i := range inputs {
		inputs[i] = i
	}

	for name, m := range mappers() {
		t.Run(name, func(t *testing.T) {
			out, err := Apply(context.Background(), m, func(_ context.Context, v int) (string, error) {
				// Later inputs finish first on a pool.
				time.Sleep(time.Duration(50-v) * 10 * time.Microsecond)
				return fmt.Sprintf("cell-%d", v), nil
			}, inputs)
			require.NoError(t, err)
			require.Len(t, out, len(inputs))
			for i, v := range out {
				assert.Equal(t, fmt.Sprintf("cell-%d", i), v)
			}
		})
	}
}

func TestApplyEmpty(t *testing.T) {
	for name, m := range mappers() {
		t.Run(name, func(t *testing.T) {
			out, err := Apply(context.Background(), m, func(_ context.Context, v int) (int, error) {
				return v, nil
			}, nil)
			require.NoError(t, err)
			assert.Empty(t, out)
		})
	}
}

func TestFailureSurfacesAsMapperError(t *testing.T) {
	cause := errors.New("objective exploded")

	for name, m := range mappers() {
		t.Run(name, func(t *testing.T) {
			out, err := Apply(context.Background(), m, func(ctx context.Context, v int) (int, error) {
				if v == 3 {
					return 0, cause
				}
				return v, nil
			}, []int{0, 1, 2, 3, 4, 5})

			require.Error(t, err)
			assert.Nil(t, out, "no partial results")
			assert.True(t, errors.Is(err, optimization.ErrMapper))
			assert.True(t, errors.Is(err, cause))

			var merr *Error
			require.True(t, errors.As(err, &merr))
			assert.Equal(t, 3, merr.Index)
		})
	}
}

func TestPoolReportsLowestGenuineFailure(t *testing.T) {
	started := make(chan struct{})
	err := NewPool(2).Map(context.Background(), 2, func(ctx context.Context, i int) error {
		if i == 1 {
			<-started
			return errors.New("cell 1 failed")
		}
		close(started)
		// Task 0 only fails because task 1 cancelled the group.
		<-ctx.Done()
		return ctx.Err()
	})

	var merr *Error
	require.True(t, errors.As(err, &merr))
	assert.Equal(t, 1, merr.Index)
	assert.EqualError(t, merr.Err, "cell 1 failed")
}

func TestPanicIsRecovered(t *testing.T) {
	for name, m := range mappers() {
		t.Run(name, func(t *testing.T) {
			err := m.Map(context.Background(), 3, func(_ context.Context, i int) error {
				if i == 2 {
					var cells []int
					_ = cells[i]
				}
				return nil
			})
			require.Error(t, err)
			assert.True(t, errors.Is(err, optimization.ErrMapper))

			var serr *stackerr.Error
			require.True(t, errors.As(err, &serr))
			assert.NotEmpty(t, serr.StackTrace())
			assert.Equal(t, "mapper", serr.Component)
		})
	}
}

func TestPoolRespectsWorkerLimit(t *testing.T) {
	var active, peak atomic.Int32
	err := NewPool(3).Map(context.Background(), 24, func(_ context.Context, _ int) error {
		n := active.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		active.Add(-1)
		return nil
	})
	require.NoError(t, err)
	assert.LessOrEqual(t, peak.Load(), int32(3))
	assert.GreaterOrEqual(t, peak.Load(), int32(1))
}

func TestCallerCancellation(t *testing.T) {
	for name, m := range mappers() {
		t.Run(name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			cancel()

			var ran atomic.Int32
			err := m.Map(ctx, 5, func(ctx context.Context, _ int) error {
				ran.Add(1)
				return nil
			})
			require.Error(t, err)
			assert.True(t, errors.Is(err, context.Canceled))
			assert.True(t, errors.Is(err, optimization.ErrMapper))
			assert.Zero(t, ran.Load())
		})
	}
}
