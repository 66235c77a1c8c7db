package workerpool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/INLOpen/diskbfs/core"
)

func TestRunProcessesEveryJob(t *testing.T) {
	p := New(4, 16, nil)
	var processed int64

	err := p.Run(context.Background(), func(ctx context.Context, job Job) error {
		atomic.AddInt64(&processed, int64(job.Record[0]))
		return nil
	}, func(submit func(Job) error) error {
		for i := byte(0); i < 10; i++ {
			if err := submit(Job{Record: []byte{i}, Frame: core.Frame(i)}); err != nil {
				return err
			}
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, int64(45), atomic.LoadInt64(&processed)) // sum 0..9
}

func TestRunPropagatesFirstHandlerError(t *testing.T) {
	p := New(2, 4, nil)
	boom := errors.New("boom")

	err := p.Run(context.Background(), func(ctx context.Context, job Job) error {
		if job.Record[0] == 3 {
			return boom
		}
		return nil
	}, func(submit func(Job) error) error {
		for i := byte(0); i < 20; i++ {
			_ = submit(Job{Record: []byte{i}})
			time.Sleep(time.Millisecond) // give workers a chance to hit the failing job
		}
		return nil
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
}

func TestRunPropagatesFeedError(t *testing.T) {
	p := New(2, 4, nil)
	boom := errors.New("feed failed")

	err := p.Run(context.Background(), func(ctx context.Context, job Job) error {
		return nil
	}, func(submit func(Job) error) error {
		_ = submit(Job{Record: []byte{1}})
		return boom
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
}

func TestRunWaitsForAllWorkersBeforeReturning(t *testing.T) {
	p := New(8, 32, nil)
	var active int32

	err := p.Run(context.Background(), func(ctx context.Context, job Job) error {
		atomic.AddInt32(&active, 1)
		time.Sleep(time.Millisecond)
		atomic.AddInt32(&active, -1)
		return nil
	}, func(submit func(Job) error) error {
		for i := 0; i < 50; i++ {
			if err := submit(Job{Record: []byte{0}}); err != nil {
				return err
			}
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, int32(0), atomic.LoadInt32(&active))
}
