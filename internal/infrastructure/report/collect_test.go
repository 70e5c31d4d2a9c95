package report

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirillkom/docflow/internal/core/domain"
)

type sourceFake struct {
	historyLimit int
	queueErr     error
}

func (f *sourceFake) Status(context.Context) (domain.WorkerStatus, error) {
	return domain.WorkerStatus{QueueSize: 1}, nil
}

func (f *sourceFake) Queue(context.Context) ([]domain.BackoffEntry, error) {
	if f.queueErr != nil {
		return nil, f.queueErr
	}
	return []domain.BackoffEntry{{DocumentID: 42, Attempts: 1}}, nil
}

func (f *sourceFake) Skipped(context.Context) ([]domain.SkippedEntry, error) {
	return []domain.SkippedEntry{{DocumentID: 9}}, nil
}

func (f *sourceFake) History(_ context.Context, limit int) ([]domain.ProcessingRecord, error) {
	f.historyLimit = limit
	return []domain.ProcessingRecord{{DocumentID: 7}}, nil
}

func TestCollect(t *testing.T) {
	src := &sourceFake{}
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.FixedZone("CET", 3600))

	data, err := Collect(context.Background(), src, 250, now)
	require.NoError(t, err)
	assert.Equal(t, 250, src.historyLimit)
	assert.Equal(t, time.UTC, data.GeneratedAt.Location())
	assert.Equal(t, 1, data.Status.QueueSize)
	assert.Len(t, data.History, 1)
	assert.Len(t, data.Queue, 1)
	assert.Len(t, data.Skipped, 1)
}

func TestCollectPropagatesErrors(t *testing.T) {
	_, err := Collect(context.Background(), &sourceFake{queueErr: errors.New("db locked")}, 10, time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "collect queue")
}
