package scheduler

import (
	"bytes"
	"context"
	"errors"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

type countingSyncer struct {
	calls atomic.Int32
	err   error
}

func (c *countingSyncer) SyncShippingStatuses(ctx context.Context) (int, error) {
	c.calls.Add(1)
	if _, ok := ctx.Deadline(); !ok {
		return 0, errors.New("expected a deadline")
	}
	return 1, c.err
}

func TestStartRunsTheJob(t *testing.T) {
	syncer := &countingSyncer{}
	s := New(syncer)

	assert.NoError(t, s.Start("@every 1s"))
	defer s.Stop()

	assert.Eventually(t, func() bool { return syncer.calls.Load() > 0 }, 3*time.Second, 50*time.Millisecond)
}

func TestStartRejectsBadSpec(t *testing.T) {
	s := New(&countingSyncer{})
	assert.Error(t, s.Start("not a schedule"))
}

func TestSyncShippingSurvivesErrors(t *testing.T) {
	syncer := &countingSyncer{err: errors.New("boom")}
	s := New(syncer)

	assert.NotPanics(t, s.syncShipping)
	assert.Equal(t, int32(1), syncer.calls.Load())
}

func TestCronLogsThroughLogrus(t *testing.T) {
	var buf bytes.Buffer
	logrus.SetOutput(&buf)
	defer logrus.SetOutput(os.Stderr)

	s := New(&countingSyncer{})
	s.logger.Error(errors.New("boom"), "job failed")

	assert.Contains(t, buf.String(), "boom")
	assert.Contains(t, buf.String(), "component=cron")
}
