package usecase

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/kirillkom/docflow/internal/core/domain"
	"github.com/kirillkom/docflow/internal/core/ports"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type backoffRepoFake struct {
	mu      sync.Mutex
	entries map[int64]*domain.BackoffEntry
	err     error
}

func newBackoffRepoFake() *backoffRepoFake {
	return &backoffRepoFake{entries: make(map[int64]*domain.BackoffEntry)}
}

func (f *backoffRepoFake) Upsert(_ context.Context, id int64, lastError string, now time.Time, schedule []time.Duration) (int, time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, time.Time{}, f.err
	}
	e, ok := f.entries[id]
	if !ok {
		e = &domain.BackoffEntry{DocumentID: id, CreatedAt: now}
		f.entries[id] = e
	}
	e.Attempts++
	e.LastError = lastError
	e.NextRetryAt = now.Add(domain.BackoffDelay(schedule, e.Attempts))
	e.UpdatedAt = now
	return e.Attempts, e.NextRetryAt, nil
}

func (f *backoffRepoFake) Get(_ context.Context, id int64) (*domain.BackoffEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	e, ok := f.entries[id]
	if !ok {
		return nil, nil
	}
	copyEntry := *e
	return &copyEntry, nil
}

func (f *backoffRepoFake) ListReady(_ context.Context, now time.Time) ([]domain.BackoffEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.BackoffEntry
	for _, e := range f.entries {
		if !e.NextRetryAt.After(now) {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NextRetryAt.Before(out[j].NextRetryAt) })
	return out, nil
}

func (f *backoffRepoFake) List(_ context.Context) ([]domain.BackoffEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.BackoffEntry, 0, len(f.entries))
	for _, e := range f.entries {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DocumentID < out[j].DocumentID })
	return out, nil
}

func (f *backoffRepoFake) Delete(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.entries, id)
	return nil
}

func (f *backoffRepoFake) ResetAll(_ context.Context, now time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.entries {
		e.Attempts = 0
		e.NextRetryAt = now
	}
	return len(f.entries), nil
}

func (f *backoffRepoFake) DeleteAll(_ context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := len(f.entries)
	f.entries = make(map[int64]*domain.BackoffEntry)
	return n, nil
}

func (f *backoffRepoFake) Count(_ context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entries), nil
}

type processingRepoFake struct {
	mu      sync.Mutex
	records []domain.ProcessingRecord
	nextID  int64
}

func (f *processingRepoFake) Latest(_ context.Context, id int64) (*domain.ProcessingRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.records) - 1; i >= 0; i-- {
		if f.records[i].DocumentID == id {
			rec := f.records[i]
			return &rec, nil
		}
	}
	return nil, nil
}

func (f *processingRepoFake) Insert(_ context.Context, rec *domain.ProcessingRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	rec.ID = f.nextID
	f.records = append(f.records, *rec)
	return nil
}

func (f *processingRepoFake) Update(_ context.Context, rec *domain.ProcessingRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.records {
		if f.records[i].ID == rec.ID {
			f.records[i] = *rec
			return nil
		}
	}
	return errors.Newf("record %d not found", rec.ID)
}

func (f *processingRepoFake) ListRecent(_ context.Context, limit int) ([]domain.ProcessingRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.ProcessingRecord
	for i := len(f.records) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, f.records[i])
	}
	return out, nil
}

func (f *processingRepoFake) statuses(documentID int64) []domain.ProcessingStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.ProcessingStatus
	for _, rec := range f.records {
		if rec.DocumentID == documentID {
			out = append(out, rec.Status)
		}
	}
	return out
}

type skippedRepoFake struct {
	mu      sync.Mutex
	entries map[int64]domain.SkippedEntry
}

func newSkippedRepoFake() *skippedRepoFake {
	return &skippedRepoFake{entries: make(map[int64]domain.SkippedEntry)}
}

func (f *skippedRepoFake) Upsert(_ context.Context, e domain.SkippedEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[e.DocumentID] = e
	return nil
}

func (f *skippedRepoFake) Exists(_ context.Context, id int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.entries[id]
	return ok, nil
}

func (f *skippedRepoFake) Delete(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.entries, id)
	return nil
}

func (f *skippedRepoFake) List(_ context.Context) ([]domain.SkippedEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.SkippedEntry, 0, len(f.entries))
	for _, e := range f.entries {
		out = append(out, e)
	}
	return out, nil
}

type workflowRepoFake struct {
	mu        sync.Mutex
	workflows map[string]domain.Workflow
	nextID    int64
	listErr   error
}

func newWorkflowRepoFake(workflows ...domain.Workflow) *workflowRepoFake {
	f := &workflowRepoFake{workflows: make(map[string]domain.Workflow)}
	for _, wf := range workflows {
		f.nextID++
		if wf.ID == 0 {
			wf.ID = f.nextID
		}
		f.workflows[wf.Slug] = wf
	}
	return f
}

func (f *workflowRepoFake) Create(_ context.Context, wf *domain.Workflow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.workflows[wf.Slug]; ok {
		return domain.WrapError(domain.ErrConflict, "create workflow", errors.New("duplicate slug"))
	}
	f.nextID++
	wf.ID = f.nextID
	f.workflows[wf.Slug] = *wf
	return nil
}

func (f *workflowRepoFake) Update(_ context.Context, wf *domain.Workflow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.workflows[wf.Slug] = *wf
	return nil
}

func (f *workflowRepoFake) Delete(_ context.Context, slug string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.workflows, slug)
	return nil
}

func (f *workflowRepoFake) GetBySlug(_ context.Context, slug string) (*domain.Workflow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	wf, ok := f.workflows[slug]
	if !ok {
		return nil, domain.WrapError(domain.ErrWorkflowNotFound, "get workflow", errors.Newf("slug %q", slug))
	}
	return &wf, nil
}

func (f *workflowRepoFake) List(_ context.Context) ([]domain.Workflow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]domain.Workflow, 0, len(f.workflows))
	for _, wf := range f.workflows {
		out = append(out, wf)
	}
	return out, nil
}

type stateRepoFake struct {
	mu    sync.Mutex
	state domain.WorkerState
	// onGet runs on every Get; tests use it to simulate the worker process.
	onGet func(*domain.WorkerState)
}

func (f *stateRepoFake) Get(_ context.Context) (domain.WorkerState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.onGet != nil {
		f.onGet(&f.state)
	}
	return f.state, nil
}

func (f *stateRepoFake) SetPaused(_ context.Context, paused bool, reason string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state.IsPaused = paused
	f.state.PauseReason = reason
	if paused {
		f.state.PausedAt = &at
	} else {
		f.state.PausedAt = nil
	}
	return nil
}

func (f *stateRepoFake) RequestScan(_ context.Context, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state.ScanRequestedAt = &at
	return nil
}

func (f *stateRepoFake) MarkScanStarted(_ context.Context, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state.LastScanStartedAt = &at
	return nil
}

func (f *stateRepoFake) MarkScanCompleted(_ context.Context, summary domain.ScanSummary) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	at := summary.FinishedAt
	f.state.LastScanCompletedAt = &at
	f.state.LastScan = &summary
	return nil
}

func (f *stateRepoFake) AcquireCycleLease(_ context.Context, owner string, now time.Time, ttl time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state.CycleOwner != "" && f.state.CycleOwner != owner && f.state.CycleLeaseUntil != nil && f.state.CycleLeaseUntil.After(now) {
		return false, nil
	}
	until := now.Add(ttl)
	f.state.CycleOwner = owner
	f.state.CycleLeaseUntil = &until
	return true, nil
}

func (f *stateRepoFake) ReleaseCycleLease(_ context.Context, owner string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state.CycleOwner == owner {
		f.state.CycleOwner = ""
		f.state.CycleLeaseUntil = nil
	}
	return nil
}

// storeFake is an in-memory document store with unique entity names per kind.
type storeFake struct {
	mu sync.Mutex

	docs     map[int64]*domain.Document
	entities map[domain.EntityKind][]domain.Entity
	nextID   int64

	thumbErr    error
	thumb       domain.Blob
	original    domain.Blob
	listErr     error
	entitiesErr error
	updateErr   error
	noteErr     error
	createDelay time.Duration

	updates     []domain.DocumentUpdate
	notes       []string
	createCalls int
	findCalls   int
	listCalls   int
}

func newStoreFake() *storeFake {
	return &storeFake{
		docs:     make(map[int64]*domain.Document),
		entities: make(map[domain.EntityKind][]domain.Entity),
		nextID:   100,
		thumb:    domain.Blob{Data: []byte{0x89, 'P', 'N', 'G'}, ContentType: "image/png"},
	}
}

func (f *storeFake) addDoc(doc domain.Document) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d := doc
	f.docs[doc.ID] = &d
}

func (f *storeFake) addEntity(kind domain.EntityKind, name string) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.entities[kind] = append(f.entities[kind], domain.Entity{Kind: kind, ID: f.nextID, Name: name})
	return f.nextID
}

func (f *storeFake) entityID(kind domain.EntityKind, name string) (int64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.entities[kind] {
		if strings.EqualFold(e.Name, name) {
			return e.ID, true
		}
	}
	return 0, false
}

func (f *storeFake) count(kind domain.EntityKind, name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.entities[kind] {
		if strings.EqualFold(e.Name, name) {
			n++
		}
	}
	return n
}

func (f *storeFake) doc(id int64) domain.Document {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.docs[id]
}

func (f *storeFake) ListDocuments(_ context.Context, q domain.DocumentQuery) ([]domain.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []domain.Document
	for _, d := range f.docs {
		if hasAll(d, q.AllTagIDs) && hasNone(d, q.NoneTagIDs) {
			out = append(out, *d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func hasAll(d *domain.Document, ids []int64) bool {
	for _, id := range ids {
		if !d.HasTag(id) {
			return false
		}
	}
	return true
}

func hasNone(d *domain.Document, ids []int64) bool {
	for _, id := range ids {
		if d.HasTag(id) {
			return false
		}
	}
	return true
}

func (f *storeFake) GetDocument(_ context.Context, id int64) (*domain.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.docs[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrDocumentNotFound, "get document", errors.Newf("id %d", id))
	}
	copyDoc := *d
	copyDoc.TagIDs = append([]int64(nil), d.TagIDs...)
	return &copyDoc, nil
}

func (f *storeFake) Thumbnail(_ context.Context, _ int64) (domain.Blob, error) {
	if f.thumbErr != nil {
		return domain.Blob{}, f.thumbErr
	}
	return f.thumb, nil
}

func (f *storeFake) Download(_ context.Context, _ int64) (domain.Blob, error) {
	return f.original, nil
}

func (f *storeFake) UpdateDocument(_ context.Context, id int64, u domain.DocumentUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return f.updateErr
	}
	f.updates = append(f.updates, u)
	d, ok := f.docs[id]
	if !ok {
		return domain.WrapError(domain.ErrDocumentNotFound, "update document", errors.Newf("id %d", id))
	}
	if u.Title != nil {
		d.Title = *u.Title
	}
	if u.Created != nil {
		d.Created = *u.Created
	}
	if u.CorrespondentID != nil {
		id := *u.CorrespondentID
		d.CorrespondentID = &id
	}
	if u.TagIDs != nil {
		d.TagIDs = append([]int64(nil), u.TagIDs...)
	}
	if u.Content != nil {
		d.Content = *u.Content
	}
	if u.CustomFields != nil {
		d.CustomFields = u.CustomFields
	}
	return nil
}

func (f *storeFake) AddNote(_ context.Context, _ int64, note string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.noteErr != nil {
		return f.noteErr
	}
	f.notes = append(f.notes, note)
	return nil
}

func (f *storeFake) ListEntities(_ context.Context, kind domain.EntityKind) ([]domain.Entity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if f.entitiesErr != nil {
		return nil, f.entitiesErr
	}
	return append([]domain.Entity(nil), f.entities[kind]...), nil
}

func (f *storeFake) FindEntity(_ context.Context, kind domain.EntityKind, name string) (*domain.Entity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.findCalls++
	for _, e := range f.entities[kind] {
		if strings.EqualFold(e.Name, name) {
			found := e
			return &found, nil
		}
	}
	return nil, nil
}

func (f *storeFake) CreateEntity(_ context.Context, kind domain.EntityKind, name string, attrs map[string]any) (*domain.Entity, error) {
	if f.createDelay > 0 {
		time.Sleep(f.createDelay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	for _, e := range f.entities[kind] {
		if strings.EqualFold(e.Name, name) {
			return nil, domain.WrapError(domain.ErrConflict, "create entity", errors.Newf("%s %q already exists", kind, name))
		}
	}
	f.nextID++
	e := domain.Entity{Kind: kind, ID: f.nextID, Name: name, Attributes: attrs}
	f.entities[kind] = append(f.entities[kind], e)
	return &e, nil
}

type extractorFake struct {
	mu    sync.Mutex
	items []map[string]any
	err   error
	calls int
	last  ports.ExtractionRequest
}

func (f *extractorFake) Extract(_ context.Context, req ports.ExtractionRequest) ([]map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.last = req
	if f.err != nil {
		return nil, f.err
	}
	return f.items, nil
}

func (f *extractorFake) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type pdfTextFake struct {
	text string
	err  error
}

func (f pdfTextFake) ExtractText(context.Context, []byte) (string, error) {
	return f.text, f.err
}

type publisherFake struct {
	mu     sync.Mutex
	events []domain.Event
	err    error
}

func (f *publisherFake) PublishEvent(_ context.Context, e domain.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, e)
	return f.err
}

func (f *publisherFake) types() []domain.EventType {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.EventType, 0, len(f.events))
	for _, e := range f.events {
		out = append(out, e.Type)
	}
	return out
}

// docHasTag calls the pointer-receiver HasTag on a Document value.
func docHasTag(d domain.Document, id int64) bool {
	return d.HasTag(id)
}
