// SPDX-License-Identifier: Apache-2.0

package executor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/finchley/docflow/internal/blob"
	"github.com/finchley/docflow/internal/domain"
	"github.com/finchley/docflow/internal/fieldextract"
	"github.com/finchley/docflow/internal/notify"
	"github.com/finchley/docflow/internal/textextract"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memStore implements every executor store interface in memory. All copies
// are defensive so the engine's local mutations never alias stored state.
type memStore struct {
	mu        sync.Mutex
	docs      map[uuid.UUID]*domain.Document
	workflows map[uuid.UUID]*domain.WorkflowDefinition
	approvals map[uuid.UUID]*domain.ApprovalRequest
	events    []string
	runCounts map[uuid.UUID]int
	casWins   int
}

func newMemStore() *memStore {
	return &memStore{
		docs:      make(map[uuid.UUID]*domain.Document),
		workflows: make(map[uuid.UUID]*domain.WorkflowDefinition),
		approvals: make(map[uuid.UUID]*domain.ApprovalRequest),
		runCounts: make(map[uuid.UUID]int),
	}
}

func copyExecution(e *domain.WorkflowExecutionState) *domain.WorkflowExecutionState {
	if e == nil {
		return nil
	}
	cp := *e
	cp.Steps = append([]domain.StepResult(nil), e.Steps...)
	if e.PendingApprovalID != nil {
		id := *e.PendingApprovalID
		cp.PendingApprovalID = &id
	}
	return &cp
}

func copyDoc(d *domain.Document) *domain.Document {
	cp := *d
	cp.Execution = copyExecution(d.Execution)
	return &cp
}

func (m *memStore) GetDocument(ctx context.Context, id uuid.UUID) (*domain.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[id]
	if !ok {
		return nil, domain.ErrDocumentNotFound
	}
	return copyDoc(d), nil
}

func (m *memStore) UpdateDocumentStatus(ctx context.Context, id uuid.UUID, status domain.DocumentStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[id]
	if !ok {
		return domain.ErrDocumentNotFound
	}
	d.Status = status
	return nil
}

func (m *memStore) SaveExtraction(ctx context.Context, id uuid.UUID, text string, stats domain.ExtractionStats) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[id]
	if !ok {
		return domain.ErrDocumentNotFound
	}
	d.ExtractedText = text
	d.ExtractionStats = &stats
	return nil
}

func (m *memStore) SaveStructuredFields(ctx context.Context, id uuid.UUID, fields map[string]domain.FieldValue) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[id]
	if !ok {
		return domain.ErrDocumentNotFound
	}
	d.StructuredFields = fields
	return nil
}

func (m *memStore) SaveExecutionState(ctx context.Context, id uuid.UUID, state *domain.WorkflowExecutionState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[id]
	if !ok {
		return domain.ErrDocumentNotFound
	}
	d.Execution = copyExecution(state)
	return nil
}

func (m *memStore) AttachExecution(ctx context.Context, id uuid.UUID, workflowID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[id]
	if !ok {
		return false, domain.ErrDocumentNotFound
	}
	if d.Execution != nil {
		return false, nil
	}
	d.Execution = &domain.WorkflowExecutionState{
		WorkflowID: workflowID,
		Status:     domain.ExecutionPending,
	}
	return true, nil
}

func (m *memStore) MarkExecutionRunning(ctx context.Context, id uuid.UUID, startedAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[id]
	if !ok {
		return false, domain.ErrDocumentNotFound
	}
	if d.Execution == nil || d.Execution.Status != domain.ExecutionPending {
		return false, nil
	}
	d.Execution.Status = domain.ExecutionRunning
	d.Execution.StartedAt = &startedAt
	m.casWins++
	return true, nil
}

func (m *memStore) GetWorkflow(ctx context.Context, id uuid.UUID) (*domain.WorkflowDefinition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wf, ok := m.workflows[id]
	if !ok {
		return nil, domain.ErrWorkflowNotFound
	}
	cp := *wf
	cp.Steps = append([]domain.Step(nil), wf.Steps...)
	return &cp, nil
}

func (m *memStore) RecordWorkflowRun(ctx context.Context, id uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runCounts[id]++
	return nil
}

func (m *memStore) CreateApproval(ctx context.Context, a *domain.ApprovalRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *a
	m.approvals[a.ID] = &cp
	return nil
}

func (m *memStore) GetApproval(ctx context.Context, id uuid.UUID) (*domain.ApprovalRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.approvals[id]
	if !ok {
		return nil, domain.ErrApprovalNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *memStore) UpdateApproval(ctx context.Context, a *domain.ApprovalRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.approvals[a.ID]
	if !ok || stored.Status != domain.ApprovalPending {
		return domain.ErrApprovalNotPending
	}
	cp := *a
	m.approvals[a.ID] = &cp
	return nil
}

func (m *memStore) ListOverdueApprovals(ctx context.Context, now time.Time, limit int) ([]*domain.ApprovalRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.ApprovalRequest
	for _, a := range m.approvals {
		if a.Status == domain.ApprovalPending && a.Overdue(now) {
			cp := *a
			out = append(out, &cp)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (m *memStore) AppendEvent(ctx context.Context, documentID uuid.UUID, eventType string, payload map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, eventType)
	return nil
}

func (m *memStore) eventTypes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.events...)
}

// memBlobs is an in-memory blob.Store.
type memBlobs struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

func newMemBlobs() *memBlobs {
	return &memBlobs{blobs: make(map[string][]byte)}
}

func (b *memBlobs) Upload(ctx context.Context, key string, reader io.Reader, contentType string) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.blobs[key] = data
	return nil
}

func (b *memBlobs) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.blobs[key]
	if !ok {
		return nil, blob.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (b *memBlobs) Delete(ctx context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.blobs[key]; !ok {
		return blob.ErrNotFound
	}
	delete(b.blobs, key)
	return nil
}

func (b *memBlobs) Exists(ctx context.Context, key string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.blobs[key]
	return ok, nil
}

// countingText wraps the real pipeline and counts invocations so tests can
// assert that completed steps are never re-executed.
type countingText struct {
	mu       sync.Mutex
	pipeline *textextract.Pipeline
	calls    int
}

func (c *countingText) Extract(ctx context.Context, data []byte, mimeType string) textextract.Result {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	return c.pipeline.Extract(ctx, data, mimeType)
}

func (c *countingText) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// panicFields simulates a broken field extraction layer.
type panicFields struct{}

func (panicFields) Extract(ctx context.Context, text, category string) fieldextract.Result {
	panic("field extraction blew up")
}

// recordingNotifier captures postings; fail makes every delivery error.
type recordingNotifier struct {
	mu      sync.Mutex
	posts   []string
	updates []string
	fail    bool
}

func (n *recordingNotifier) PostMessage(ctx context.Context, channel string, msg notify.Message) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail {
		return "", fmt.Errorf("channel %s unreachable", channel)
	}
	ref := fmt.Sprintf("ref-%d", len(n.posts)+1)
	n.posts = append(n.posts, channel)
	return ref, nil
}

func (n *recordingNotifier) UpdateMessage(ctx context.Context, channel, ref string, msg notify.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail {
		return fmt.Errorf("channel %s unreachable", channel)
	}
	n.updates = append(n.updates, ref)
	return nil
}

// fixture bundles a fully wired engine and gate over in-memory stores.
type fixture struct {
	store    *memStore
	blobs    *memBlobs
	text     *countingText
	notifier *recordingNotifier
	engine   *Engine
	gate     *Gate
	now      time.Time
	nowMu    sync.Mutex
}

func (f *fixture) clock() time.Time {
	f.nowMu.Lock()
	defer f.nowMu.Unlock()
	return f.now
}

func (f *fixture) advance(d time.Duration) {
	f.nowMu.Lock()
	defer f.nowMu.Unlock()
	f.now = f.now.Add(d)
}

func newFixture(cfg Config) *fixture {
	f := &fixture{
		store:    newMemStore(),
		blobs:    newMemBlobs(),
		notifier: &recordingNotifier{},
		now:      time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC),
	}
	f.text = &countingText{pipeline: textextract.NewPipeline(textextract.Config{}, nil, testLogger())}

	deps := Deps{
		Documents: f.store,
		Workflows: f.store,
		Approvals: f.store,
		Events:    f.store,
		Blobs:     f.blobs,
		Text:      f.text,
		Fields:    fieldextract.NewEngine(fieldextract.Config{}, nil, testLogger()),
		Notifier:  f.notifier,
		Logger:    testLogger(),
		Now:       f.clock,
	}
	f.engine, f.gate = New(cfg, deps)
	return f
}

const invoiceText = "INVOICE #1001\nAcme Corporation\n123 Main Street\nDue Date: 2026-09-30\nTotal: $250.00\nThank you for your business."

func (f *fixture) addDocument(text string) *domain.Document {
	doc := &domain.Document{
		ID:         uuid.New(),
		StorageKey: "docs/test.txt",
		Filename:   "invoice-1001.txt",
		MimeType:   "text/plain",
		SizeBytes:  int64(len(text)),
		Status:     domain.DocumentUploaded,
		CreatedAt:  f.clock(),
	}
	_ = f.blobs.Upload(context.Background(), doc.StorageKey, bytes.NewReader([]byte(text)), doc.MimeType)
	f.store.docs[doc.ID] = doc
	return doc
}

func (f *fixture) addWorkflow(steps ...domain.Step) *domain.WorkflowDefinition {
	wf := &domain.WorkflowDefinition{
		ID:      uuid.New(),
		Name:    "test-workflow",
		Status:  domain.WorkflowActive,
		Trigger: domain.TriggerRule{Category: "invoice"},
		Steps:   steps,
	}
	f.store.workflows[wf.ID] = wf
	return wf
}

func step(name string, t domain.StepType, pos int) domain.Step {
	return domain.Step{Name: name, Type: t, Position: pos, Enabled: true}
}
