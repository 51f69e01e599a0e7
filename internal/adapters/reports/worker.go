// Package reports renders analytics and greenhouse summaries into JSON and CSV
// artifacts on a background worker and stores them in the blob store.
package reports

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	blobcore "greenhouse/internal/blob/core"
	"greenhouse/internal/core"
)

// Status is the lifecycle stage of an export.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Kind selects which report is rendered.
type Kind string

const (
	KindAnalytics   Kind = "analytics"
	KindGreenhouses Kind = "greenhouses"
)

// Format is an artifact encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
)

// DefaultPrefix is the blob key prefix for artifacts.
const DefaultPrefix = "reports"

// ErrQueueFull is returned when the worker cannot accept more exports.
var ErrQueueFull = errors.New("report queue full")

// ErrStopped is returned by Enqueue after Stop and recorded on exports that
// were still queued when the worker stopped.
var ErrStopped = errors.New("report worker stopped")

// Artifact is one stored rendering.
type Artifact struct {
	Name        string    `json:"name"`
	Key         string    `json:"key"`
	Kind        Kind      `json:"kind"`
	Format      Format    `json:"format"`
	ContentType string    `json:"content_type"`
	SizeBytes   int64     `json:"size_bytes"`
	URL         string    `json:"url,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Export tracks a request and the artifacts it produced.
type Export struct {
	ID          string     `json:"id"`
	Kinds       []Kind     `json:"kinds"`
	Formats     []Format   `json:"formats"`
	Status      Status     `json:"status"`
	Error       string     `json:"error,omitempty"`
	Artifacts   []Artifact `json:"artifacts,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

func (e Export) copy() Export {
	dup := e
	dup.Kinds = append([]Kind(nil), e.Kinds...)
	dup.Formats = append([]Format(nil), e.Formats...)
	if e.Artifacts != nil {
		dup.Artifacts = append([]Artifact(nil), e.Artifacts...)
	}
	if e.CompletedAt != nil {
		at := *e.CompletedAt
		dup.CompletedAt = &at
	}
	return dup
}

// Request selects reports and formats. Empty slices mean all of them.
type Request struct {
	Kinds   []Kind   `json:"kinds"`
	Formats []Format `json:"formats"`
}

// Source provides the data rendered into reports.
type Source interface {
	Analytics(ctx context.Context) (core.AnalyticsReport, error)
	ListGreenhouseSummaries(ctx context.Context) ([]core.GreenhouseSummary, error)
}

// StatusRecorder is told when an export reaches a final status.
type StatusRecorder interface {
	ExportFinished(status string)
}

type noopStatus struct{}

func (noopStatus) ExportFinished(string) {}

// Option configures a Worker.
type Option func(*Worker)

// WithQueueSize bounds the number of pending exports.
func WithQueueSize(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.queue = make(chan string, n)
		}
	}
}

// WithPrefix sets the blob key prefix.
func WithPrefix(prefix string) Option {
	return func(w *Worker) {
		if prefix != "" {
			w.prefix = prefix
		}
	}
}

// WithLogger sets the worker logger.
func WithLogger(logger core.Logger) Option {
	return func(w *Worker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithStatusRecorder sets the final-status sink.
func WithStatusRecorder(rec StatusRecorder) Option {
	return func(w *Worker) {
		if rec != nil {
			w.metrics = rec
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(w *Worker) {
		if now != nil {
			w.now = now
		}
	}
}

// Worker executes exports one at a time on a background goroutine.
type Worker struct {
	source  Source
	store   blobcore.Store
	prefix  string
	logger  core.Logger
	metrics StatusRecorder
	now     func() time.Time

	queue chan string
	mu    sync.RWMutex
	jobs  map[string]*Export

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewWorker constructs a worker; call Start before enqueuing.
func NewWorker(source Source, store blobcore.Store, opts ...Option) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	w := &Worker{
		source:  source,
		store:   store,
		prefix:  DefaultPrefix,
		logger:  nopLogger{},
		metrics: noopStatus{},
		now:     func() time.Time { return time.Now().UTC() },
		queue:   make(chan string, 32),
		jobs:    make(map[string]*Export),
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start launches the processing goroutine.
func (w *Worker) Start() {
	w.wg.Add(1)
	go w.loop()
}

// Stop cancels processing and waits for the goroutine or ctx, whichever is
// first. Exports still queued are marked failed.
func (w *Worker) Stop(ctx context.Context) error {
	w.stopOnce.Do(w.cancel)
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	w.drainQueued()
	return err
}

func (w *Worker) drainQueued() {
	// wait out any Enqueue that passed the stop check before cancel
	w.mu.Lock()
	w.mu.Unlock() //nolint:staticcheck // empty critical section is a barrier
	for {
		select {
		case id := <-w.queue:
			w.fail(id, ErrStopped)
		default:
			return
		}
	}
}

func (w *Worker) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case id := <-w.queue:
			w.process(id)
		}
	}
}

// Enqueue validates req and schedules an export.
func (w *Worker) Enqueue(_ context.Context, req Request) (Export, error) {
	kinds, err := normalizeKinds(req.Kinds)
	if err != nil {
		return Export{}, err
	}
	formats, err := normalizeFormats(req.Formats)
	if err != nil {
		return Export{}, err
	}
	now := w.now()
	export := &Export{
		ID:        uuid.NewString(),
		Kinds:     kinds,
		Formats:   formats,
		Status:    StatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}

	// the stop check and the send share the lock so Stop cannot miss a job
	w.mu.Lock()
	if w.ctx.Err() != nil {
		w.mu.Unlock()
		return Export{}, ErrStopped
	}
	select {
	case w.queue <- export.ID:
	default:
		w.mu.Unlock()
		return Export{}, ErrQueueFull
	}
	w.jobs[export.ID] = export
	snapshot := export.copy()
	w.mu.Unlock()
	w.logger.Info("report export queued", "export_id", export.ID)
	return snapshot, nil
}

// Get returns a snapshot of an export.
func (w *Worker) Get(id string) (Export, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	export, ok := w.jobs[id]
	if !ok {
		return Export{}, false
	}
	return export.copy(), true
}

// OpenArtifact streams a finished artifact by export id and artifact name.
func (w *Worker) OpenArtifact(ctx context.Context, id, name string) (Artifact, io.ReadCloser, error) {
	export, ok := w.Get(id)
	if !ok {
		return Artifact{}, nil, fmt.Errorf("report %s: %w", id, blobcore.ErrNotFound)
	}
	for _, artifact := range export.Artifacts {
		if artifact.Name == name {
			_, rc, err := w.store.Get(ctx, artifact.Key)
			if err != nil {
				return Artifact{}, nil, err
			}
			return artifact, rc, nil
		}
	}
	return Artifact{}, nil, fmt.Errorf("report %s artifact %s: %w", id, name, blobcore.ErrNotFound)
}

func (w *Worker) process(id string) {
	export, ok := w.Get(id)
	if !ok {
		return
	}
	w.setStatus(id, StatusRunning, "")

	analytics, err := w.source.Analytics(w.ctx)
	if err != nil {
		w.fail(id, fmt.Errorf("load analytics: %w", err))
		return
	}
	greenhouses, err := w.source.ListGreenhouseSummaries(w.ctx)
	if err != nil {
		w.fail(id, fmt.Errorf("load greenhouses: %w", err))
		return
	}

	artifacts := make([]Artifact, 0, len(export.Kinds)*len(export.Formats))
	for _, kind := range export.Kinds {
		for _, format := range export.Formats {
			payload, contentType, err := render(kind, format, analytics, greenhouses)
			if err != nil {
				w.fail(id, fmt.Errorf("render %s %s: %w", kind, format, err))
				return
			}
			artifact, err := w.storeArtifact(id, kind, format, contentType, payload)
			if err != nil {
				w.fail(id, err)
				return
			}
			artifacts = append(artifacts, artifact)
		}
	}
	w.complete(id, artifacts)
}

// storeArtifact writes one artifact and resolves its URL when the backend offers one.
func (w *Worker) storeArtifact(id string, kind Kind, format Format, contentType string, payload []byte) (Artifact, error) {
	name := string(kind) + "." + string(format)
	key := path.Join(w.prefix, id, name)
	obj, err := w.store.Put(w.ctx, key, bytes.NewReader(payload), blobcore.PutOptions{
		ContentType: contentType,
		Metadata:    map[string]string{"export_id": id, "kind": string(kind)},
	})
	if err != nil {
		return Artifact{}, fmt.Errorf("store %s: %w", name, err)
	}
	artifact := Artifact{
		Name:        name,
		Key:         obj.Key,
		Kind:        kind,
		Format:      format,
		ContentType: contentType,
		SizeBytes:   obj.Size,
		CreatedAt:   w.now(),
	}
	if url, err := w.store.URL(w.ctx, obj.Key, 0); err == nil {
		artifact.URL = url
	} else if !errors.Is(err, blobcore.ErrUnsupported) {
		w.logger.Warn("artifact url unavailable", "export_id", id, "key", obj.Key, "error", err)
	}
	return artifact, nil
}

func (w *Worker) setStatus(id string, status Status, message string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if export, ok := w.jobs[id]; ok {
		export.Status = status
		export.Error = message
		export.UpdatedAt = w.now()
	}
}

func (w *Worker) complete(id string, artifacts []Artifact) {
	now := w.now()
	w.mu.Lock()
	if export, ok := w.jobs[id]; ok {
		export.Status = StatusSucceeded
		export.Error = ""
		export.Artifacts = artifacts
		export.UpdatedAt = now
		export.CompletedAt = &now
	}
	w.mu.Unlock()
	w.metrics.ExportFinished(string(StatusSucceeded))
	w.logger.Info("report export finished", "export_id", id, "artifacts", len(artifacts))
}

func (w *Worker) fail(id string, err error) {
	now := w.now()
	w.mu.Lock()
	if export, ok := w.jobs[id]; ok {
		export.Status = StatusFailed
		export.Error = err.Error()
		export.UpdatedAt = now
		export.CompletedAt = &now
	}
	w.mu.Unlock()
	w.metrics.ExportFinished(string(StatusFailed))
	w.logger.Error("report export failed", "export_id", id, "error", err)
}

func normalizeKinds(in []Kind) ([]Kind, error) {
	if len(in) == 0 {
		return []Kind{KindAnalytics, KindGreenhouses}, nil
	}
	out := make([]Kind, 0, len(in))
	seen := make(map[Kind]bool, len(in))
	for _, kind := range in {
		if kind != KindAnalytics && kind != KindGreenhouses {
			return nil, fmt.Errorf("unknown report kind %q", kind)
		}
		if !seen[kind] {
			seen[kind] = true
			out = append(out, kind)
		}
	}
	return out, nil
}

func normalizeFormats(in []Format) ([]Format, error) {
	if len(in) == 0 {
		return []Format{FormatJSON, FormatCSV}, nil
	}
	out := make([]Format, 0, len(in))
	seen := make(map[Format]bool, len(in))
	for _, format := range in {
		if format != FormatJSON && format != FormatCSV {
			return nil, fmt.Errorf("unsupported report format %q", format)
		}
		if !seen[format] {
			seen[format] = true
			out = append(out, format)
		}
	}
	return out, nil
}

func render(kind Kind, format Format, analytics core.AnalyticsReport, greenhouses []core.GreenhouseSummary) ([]byte, string, error) {
	if format == FormatJSON {
		var v any = analytics
		if kind == KindGreenhouses {
			v = greenhouses
		}
		payload, err := json.MarshalIndent(v, "", "  ")
		return payload, "application/json", err
	}

	var rows [][]string
	switch kind {
	case KindAnalytics:
		rows = append(rows, []string{"name", "count", "average_success", "total_profit"})
		for _, seed := range analytics.Seeds {
			rows = append(rows, []string{seed.Name, strconv.Itoa(seed.Count), formatFloat(seed.AverageSuccess), formatFloat(seed.TotalProfit)})
		}
	case KindGreenhouses:
		rows = append(rows, []string{"id", "name", "capacity", "seed_count", "remaining_capacity", "supply_cost", "seed_supply_cost", "total_profit"})
		for _, s := range greenhouses {
			rows = append(rows, []string{
				s.Greenhouse.ID,
				s.Greenhouse.Name,
				strconv.Itoa(s.Greenhouse.Capacity),
				strconv.Itoa(s.SeedCount),
				strconv.Itoa(s.RemainingCapacity),
				formatFloat(s.SupplyCost),
				formatFloat(s.SeedSupplyCost),
				formatFloat(s.TotalProfit),
			})
		}
	}
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)
	if err := writer.WriteAll(rows); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), "text/csv", nil
}

func formatFloat(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
