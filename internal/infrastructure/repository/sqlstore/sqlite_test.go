package sqlstore

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/kirillkom/docflow/internal/core/domain"
)

var testNow = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

func openTestDB(t *testing.T, path string) *DB {
	t.Helper()
	if path == "" {
		path = filepath.Join(t.TempDir(), "docflow.db")
	}
	db, err := OpenSQLite(context.Background(), path, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestBackoffRepositoryFollowsSchedule(t *testing.T) {
	ctx := context.Background()
	repo := NewBackoffRepository(openTestDB(t, ""))
	schedule := domain.DefaultBackoffSchedule

	wantDelays := []time.Duration{time.Minute, 5 * time.Minute, 15 * time.Minute, 15 * time.Minute}
	for i, want := range wantDelays {
		now := testNow.Add(time.Duration(i) * time.Hour)
		attempts, next, err := repo.Upsert(ctx, 7, "boom", now, schedule)
		require.NoError(t, err)
		assert.Equal(t, i+1, attempts)
		assert.Equal(t, now.Add(want), next, "attempt %d", i+1)
	}

	entry, err := repo.Get(ctx, 7)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, 4, entry.Attempts)
	assert.Equal(t, "boom", entry.LastError)
	assert.Equal(t, testNow, entry.CreatedAt)

	missing, err := repo.Get(ctx, 8)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestBackoffRepositoryResetAndClear(t *testing.T) {
	ctx := context.Background()
	repo := NewBackoffRepository(openTestDB(t, ""))

	for _, id := range []int64{1, 2, 3} {
		_, _, err := repo.Upsert(ctx, id, "x", testNow, nil)
		require.NoError(t, err)
	}
	_, _, err := repo.Upsert(ctx, 2, "y", testNow, nil)
	require.NoError(t, err)

	ready, err := repo.ListReady(ctx, testNow.Add(59*time.Second))
	require.NoError(t, err)
	assert.Empty(t, ready)
	ready, err = repo.ListReady(ctx, testNow.Add(time.Minute))
	require.NoError(t, err)
	assert.Len(t, ready, 2)

	later := testNow.Add(time.Hour)
	n, err := repo.ResetAll(ctx, later)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	entries, err := repo.List(ctx)
	require.NoError(t, err)
	for _, e := range entries {
		assert.Zero(t, e.Attempts)
		assert.Equal(t, later, e.NextRetryAt)
	}

	attempts, next, err := repo.Upsert(ctx, 2, "again", later, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, later.Add(time.Minute), next)

	require.NoError(t, repo.Delete(ctx, 1))
	count, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	n, err = repo.DeleteAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestProcessingRepositoryLatestAndUpdate(t *testing.T) {
	ctx := context.Background()
	repo := NewProcessingRepository(openTestDB(t, ""))

	first := &domain.ProcessingRecord{DocumentID: 5, WorkflowSlug: "receipts", Status: domain.ProcessingCompleted, CreatedAt: testNow, UpdatedAt: testNow}
	require.NoError(t, repo.Insert(ctx, first))
	second := &domain.ProcessingRecord{DocumentID: 5, WorkflowSlug: "receipts", Status: domain.ProcessingDetected, CreatedAt: testNow.Add(time.Minute), UpdatedAt: testNow.Add(time.Minute)}
	require.NoError(t, repo.Insert(ctx, second))
	assert.Greater(t, second.ID, first.ID)

	latest, err := repo.Latest(ctx, 5)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, second.ID, latest.ID)
	assert.Nil(t, latest.ExtractedPayload)

	latest.Status = domain.ProcessingRetrying
	latest.Progress = 50
	latest.ExtractedPayload = json.RawMessage(`[{"vendor":"Acme"}]`)
	latest.UpdatedAt = testNow.Add(2 * time.Minute)
	require.NoError(t, repo.Update(ctx, latest))

	got, err := repo.Latest(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, domain.ProcessingRetrying, got.Status)
	assert.JSONEq(t, `[{"vendor":"Acme"}]`, string(got.ExtractedPayload))
	assert.True(t, got.Reusable())

	none, err := repo.Latest(ctx, 99)
	require.NoError(t, err)
	assert.Nil(t, none)

	recent, err := repo.ListRecent(ctx, 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, second.ID, recent[0].ID)

	err = repo.Update(ctx, &domain.ProcessingRecord{ID: 999})
	assert.Error(t, err)
}

func TestSkippedRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewSkippedRepository(openTestDB(t, ""))

	require.NoError(t, repo.Upsert(ctx, domain.SkippedEntry{DocumentID: 3, Reason: domain.SkipReasonNoData, SkippedAt: testNow}))
	require.NoError(t, repo.Upsert(ctx, domain.SkippedEntry{DocumentID: 3, Reason: "blank page", FileName: "scan.pdf", SkippedAt: testNow.Add(time.Minute)}))

	ok, err := repo.Exists(ctx, 3)
	require.NoError(t, err)
	assert.True(t, ok)

	entries, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "blank page", entries[0].Reason)
	assert.Equal(t, "scan.pdf", entries[0].FileName)

	require.NoError(t, repo.Delete(ctx, 3))
	ok, err = repo.Exists(ctx, 3)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestWorkflowRepositoryCRUD(t *testing.T) {
	ctx := context.Background()
	repo := NewWorkflowRepository(openTestDB(t, ""))

	wf := &domain.Workflow{
		Name:             "Receipts",
		Slug:             "receipts",
		TriggerLabel:     "receipt",
		Priority:         5,
		Enabled:          true,
		ExtractionSchema: json.RawMessage(`{"type":"object","properties":{"vendor":{"type":"string"}}}`),
		OutputMapping: domain.OutputMapping{
			CorrespondentField: "vendor",
			CustomFields:       map[string]string{"Extracted Data": domain.AllFieldsSentinel},
		},
		ProcessedLabel: "receipt-done",
		CreatedAt:      testNow,
		UpdatedAt:      testNow,
	}
	require.NoError(t, repo.Create(ctx, wf))
	assert.NotZero(t, wf.ID)

	dup := *wf
	err := repo.Create(ctx, &dup)
	assert.True(t, domain.IsKind(err, domain.ErrConflict), "got %v", err)

	other := &domain.Workflow{Name: "Invoices", Slug: "invoices", TriggerLabel: "invoice", Priority: 10,
		ExtractionSchema: json.RawMessage(`{}`), ProcessedLabel: "invoice-done", IsBuiltIn: true, CreatedAt: testNow, UpdatedAt: testNow}
	require.NoError(t, repo.Create(ctx, other))

	list, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "invoices", list[0].Slug)
	assert.True(t, list[0].IsBuiltIn)
	assert.False(t, list[0].Enabled)

	wf.Enabled = false
	wf.PromptInstructions = "only the total"
	require.NoError(t, repo.Update(ctx, wf))
	got, err := repo.GetBySlug(ctx, "receipts")
	require.NoError(t, err)
	assert.False(t, got.Enabled)
	assert.Equal(t, "only the total", got.PromptInstructions)
	assert.Equal(t, "vendor", got.OutputMapping.CorrespondentField)
	assert.Equal(t, domain.AllFieldsSentinel, got.OutputMapping.CustomFields["Extracted Data"])

	_, err = repo.GetBySlug(ctx, "missing")
	assert.True(t, domain.IsKind(err, domain.ErrWorkflowNotFound))
	assert.True(t, domain.IsKind(repo.Delete(ctx, "missing"), domain.ErrWorkflowNotFound))
	require.NoError(t, repo.Delete(ctx, "receipts"))
}

func TestWorkerStateRepositoryPauseAndScan(t *testing.T) {
	ctx := context.Background()
	repo := NewWorkerStateRepository(openTestDB(t, ""))

	state, err := repo.Get(ctx)
	require.NoError(t, err)
	assert.False(t, state.IsPaused)
	assert.Nil(t, state.LastScan)

	require.NoError(t, repo.SetPaused(ctx, true, "maintenance", testNow))
	state, err = repo.Get(ctx)
	require.NoError(t, err)
	assert.True(t, state.IsPaused)
	assert.Equal(t, "maintenance", state.PauseReason)
	require.NotNil(t, state.PausedAt)
	assert.Equal(t, testNow, *state.PausedAt)

	require.NoError(t, repo.SetPaused(ctx, false, "", testNow))
	require.NoError(t, repo.RequestScan(ctx, testNow))
	state, err = repo.Get(ctx)
	require.NoError(t, err)
	assert.False(t, state.IsPaused)
	assert.Nil(t, state.PausedAt)
	assert.True(t, state.ScanPending())

	require.NoError(t, repo.MarkScanStarted(ctx, testNow.Add(time.Second)))
	summary := domain.ScanSummary{StartedAt: testNow.Add(time.Second), FinishedAt: testNow.Add(2 * time.Second), Discovered: 3, Succeeded: 2, Skipped: 1}
	require.NoError(t, repo.MarkScanCompleted(ctx, summary))

	state, err = repo.Get(ctx)
	require.NoError(t, err)
	assert.False(t, state.ScanPending())
	require.NotNil(t, state.LastScan)
	assert.Equal(t, 3, state.LastScan.Discovered)
	assert.Equal(t, testNow.Add(2*time.Second), *state.LastScanCompletedAt)
}

func TestWorkerStateLeaseIsSharedAcrossHandles(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "shared.db")
	worker := NewWorkerStateRepository(openTestDB(t, path))
	other := NewWorkerStateRepository(openTestDB(t, path))

	ok, err := worker.AcquireCycleLease(ctx, "worker", testNow, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = other.AcquireCycleLease(ctx, "other", testNow.Add(30*time.Second), time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "lease still held")

	ok, err = worker.AcquireCycleLease(ctx, "worker", testNow.Add(30*time.Second), time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "owner may renew")

	ok, err = other.AcquireCycleLease(ctx, "other", testNow.Add(2*time.Minute), time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "expired lease can be taken over")

	require.NoError(t, worker.ReleaseCycleLease(ctx, "worker"))
	state, err := other.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "other", state.CycleOwner, "release by a non-owner is a no-op")

	require.NoError(t, other.SetPaused(ctx, true, "from ctl", testNow))
	state, err = worker.Get(ctx)
	require.NoError(t, err)
	assert.True(t, state.IsPaused)
}

func TestEnsureSchemaIsIdempotent(t *testing.T) {
	db := openTestDB(t, "")
	require.NoError(t, db.EnsureSchema(context.Background()))
	require.NoError(t, db.EnsureSchema(context.Background()))
}
