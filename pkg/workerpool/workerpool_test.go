package workerpool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunExecutesAllJobs(t *testing.T) {
	var count int64
	jobs := make([]Job, 50)
	for i := range jobs {
		jobs[i] = func(ctx context.Context) error {
			atomic.AddInt64(&count, 1)
			return nil
		}
	}

	require.NoError(t, Run(context.Background(), 4, jobs))
	assert.Equal(t, int64(50), count)
}

func TestWaitCollectsAllErrors(t *testing.T) {
	boom := errors.New("boom")
	jobs := []Job{
		func(ctx context.Context) error { return boom },
		func(ctx context.Context) error { return nil },
		func(ctx context.Context) error { return boom },
	}

	p := New(context.Background(), 2)
	for _, j := range jobs {
		p.Submit(j)
	}
	err := p.Wait()
	require.Error(t, err)
	assert.Len(t, p.Errors(), 2)
}

func TestSingleWorkerProcessesSequentially(t *testing.T) {
	var order []int
	p := New(context.Background(), 1)
	for i := 0; i < 5; i++ {
		i := i
		p.Submit(func(ctx context.Context) error {
			order = append(order, i)
			return nil
		})
	}
	require.NoError(t, p.Wait())
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}
