package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/JonMunkholm/ledgersync/internal/logging"
	"github.com/JonMunkholm/ledgersync/internal/model"
)

// SourceSelector picks the source types a collection workflow reads.
// Empty Types means the configured auto-collection sources, or every
// registered source when none are configured.
type SourceSelector struct {
	Types   []string `json:"types"`
	Options Options  `json:"options"`
}

// RunDataEntryWorkflow processes the given documents and returns the results.
// Rejected documents are reported in Results.Errors; they never fail the run.
func (e *Engine) RunDataEntryWorkflow(ctx context.Context, docs []model.Document, opts Options) (model.Results, error) {
	if !e.IsInitialized() {
		return model.Results{}, ErrNotInitialized
	}
	if !e.settings.Workflows.DataEntry {
		return model.Results{}, fmt.Errorf("data entry: %w", ErrWorkflowDisabled)
	}
	opts, err := e.prepareOptions(opts)
	if err != nil {
		return model.Results{}, err
	}

	if err := e.limiter.Acquire(ctx); err != nil {
		return model.Results{}, err
	}
	defer e.limiter.Release()

	items := make([]workItem, len(docs))
	for i := range docs {
		items[i] = workItem{doc: docs[i]}
	}
	run, err := e.execute(ctx, model.WorkflowDataEntry, items, opts)
	wf := run.snapshot()
	if wf.Results == nil {
		return model.Results{}, err
	}
	return *wf.Results, err
}

// RunCollectionWorkflow lists the selected sources, fetches and processes
// every available document, then acknowledges the fetched ones.
func (e *Engine) RunCollectionWorkflow(ctx context.Context, sel SourceSelector) (*model.Workflow, error) {
	if !e.IsInitialized() {
		return nil, ErrNotInitialized
	}
	if !e.settings.Workflows.AutoCollection {
		return nil, fmt.Errorf("collection: %w", ErrWorkflowDisabled)
	}
	opts, err := e.prepareOptions(sel.Options)
	if err != nil {
		return nil, err
	}

	types := sel.Types
	if len(types) == 0 {
		types = e.settings.AutoCollection.Sources
	}
	if len(types) == 0 {
		types = e.sources.Types()
	}

	var refs []model.DocumentRef
	for _, t := range types {
		found, err := e.sources.ListAvailable(ctx, t)
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", t, err)
		}
		refs = append(refs, found...)
	}

	if err := e.limiter.Acquire(ctx); err != nil {
		return nil, err
	}
	defer e.limiter.Release()

	wf, _, err := e.collect(ctx, refs, opts)
	return wf, err
}

// collect runs a collection workflow over refs and acknowledges the ones it
// fetched. It also returns the refs that were never fetched. The caller holds
// a limiter slot.
func (e *Engine) collect(ctx context.Context, refs []model.DocumentRef, opts Options) (*model.Workflow, []model.DocumentRef, error) {
	items := make([]workItem, len(refs))
	for i := range refs {
		ref := refs[i]
		items[i] = workItem{ref: &ref}
	}

	run, err := e.execute(ctx, model.WorkflowCollection, items, opts)

	fetched := run.fetchedRefs()
	if len(fetched) > 0 {
		if ackErr := e.sources.Ack(context.WithoutCancel(ctx), fetched); ackErr != nil {
			slog.Warn("acknowledge collected documents failed", "workflow_id", run.id, "error", ackErr)
		}
	}

	done := make(map[string]bool, len(fetched))
	for _, ref := range fetched {
		done[ref.SourceType+"/"+ref.Key] = true
	}
	var unfetched []model.DocumentRef
	for _, ref := range refs {
		if !done[ref.SourceType+"/"+ref.Key] {
			unfetched = append(unfetched, ref)
		}
	}

	wf := run.snapshot()
	return &wf, unfetched, err
}

// prepareOptions fills empty options from settings and validates them.
func (e *Engine) prepareOptions(opts Options) (Options, error) {
	if opts.ValidationLevel == "" {
		opts.ValidationLevel = e.settings.Workflows.ValidationLevel
	}
	if opts.ConflictResolution == "" {
		opts.ConflictResolution = e.settings.RealTimeSync.ConflictResolution
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = e.settings.Workflows.BatchSize
	}
	if err := validateStruct(opts); err != nil {
		return Options{}, err
	}
	return opts.withDefaults(), nil
}

// workItem is a document to process, or a ref to fetch first.
type workItem struct {
	doc model.Document
	ref *model.DocumentRef
}

// outcome is the result of processing one work item.
type outcome struct {
	voucher    *model.LedgerVoucher
	failure    *model.DocumentError
	confidence float64
	fetched    *model.Document
	ref        *model.DocumentRef
	synced     bool
	queued     bool
}

// workflowRun is the mutable state of one workflow. Progress is published
// while pubMu is held so subscribers see processed counts in order.
type workflowRun struct {
	id    string
	typ   model.WorkflowType
	start time.Time

	pubMu sync.Mutex

	mu          sync.Mutex
	status      model.WorkflowStatus
	end         *time.Time
	docs        []model.Document
	outcomes    []*outcome
	processed   int
	successful  int
	failed      int
	accuracySum float64
	results     *model.Results
	errMsg      string
}

func newWorkflowRun(typ model.WorkflowType, items []workItem) *workflowRun {
	run := &workflowRun{
		id:       uuid.NewString(),
		typ:      typ,
		start:    time.Now().UTC(),
		status:   model.WorkflowRunning,
		outcomes: make([]*outcome, len(items)),
	}
	for _, it := range items {
		if it.ref == nil {
			run.docs = append(run.docs, it.doc)
		}
	}
	return run
}

// record stores the outcome of item i and publishes progress.
func (r *workflowRun) record(i int, out *outcome, bus *EventBus) {
	r.pubMu.Lock()
	defer r.pubMu.Unlock()

	r.mu.Lock()
	r.outcomes[i] = out
	r.processed++
	if out.voucher != nil {
		r.successful++
		r.accuracySum += out.confidence
	} else {
		r.failed++
	}
	payload := ProgressPayload{
		WorkflowID:      r.id,
		Processed:       r.processed,
		Total:           len(r.outcomes),
		Accuracy:        r.accuracyLocked(),
		ProgressPercent: r.percentLocked(),
	}
	r.mu.Unlock()

	bus.Publish(EventWorkflowProgress, payload)
}

func (r *workflowRun) accuracyLocked() float64 {
	if r.successful == 0 {
		return 0
	}
	return r.accuracySum / float64(r.successful)
}

func (r *workflowRun) percentLocked() int {
	if len(r.outcomes) == 0 {
		return 100
	}
	return r.processed * 100 / len(r.outcomes)
}

// finish freezes the results. Outcomes are reported in item order.
func (r *workflowRun) finish(status model.WorkflowStatus, runErr error) model.Results {
	r.mu.Lock()
	defer r.mu.Unlock()

	res := model.Results{
		Total:      len(r.outcomes),
		Processed:  r.processed,
		Successful: r.successful,
		Failed:     r.failed,
		Accuracy:   r.accuracyLocked(),
		MappedData: []model.LedgerVoucher{},
		Errors:     []model.DocumentError{},
	}
	for _, out := range r.outcomes {
		if out == nil {
			continue
		}
		if out.fetched != nil {
			r.docs = append(r.docs, *out.fetched)
		}
		if out.voucher != nil {
			res.MappedData = append(res.MappedData, *out.voucher)
		}
		if out.failure != nil {
			res.Errors = append(res.Errors, *out.failure)
		}
		if out.synced {
			res.Synced++
		}
		if out.queued {
			res.Queued++
		}
	}

	end := time.Now().UTC()
	res.Duration = end.Sub(r.start)
	r.end = &end
	r.status = status
	if runErr != nil {
		r.errMsg = runErr.Error()
	}
	r.results = &res
	return res
}

func (r *workflowRun) snapshot() model.Workflow {
	r.mu.Lock()
	defer r.mu.Unlock()

	wf := model.Workflow{
		ID:        r.id,
		Type:      r.typ,
		Status:    r.status,
		Progress:  r.percentLocked(),
		StartTime: r.start,
		EndTime:   r.end,
		Documents: append([]model.Document(nil), r.docs...),
		Error:     r.errMsg,
	}
	if r.results != nil {
		res := *r.results
		wf.Results = &res
	}
	return wf
}

func (r *workflowRun) fetchedRefs() []model.DocumentRef {
	r.mu.Lock()
	defer r.mu.Unlock()

	var refs []model.DocumentRef
	for _, out := range r.outcomes {
		if out != nil && out.ref != nil && out.fetched != nil {
			refs = append(refs, *out.ref)
		}
	}
	return refs
}

// execute runs items in fixed-size batches. Documents within a batch run
// concurrently; the next batch starts only after the current one finishes.
func (e *Engine) execute(ctx context.Context, typ model.WorkflowType, items []workItem, opts Options) (*workflowRun, error) {
	run := newWorkflowRun(typ, items)
	ctx = logging.WithWorkflow(ctx, run.id)
	log := logging.FromContext(ctx)

	ctx, span := tracer.Start(ctx, "workflow."+string(typ), trace.WithAttributes(
		attribute.String("workflow.id", run.id),
		attribute.Int("workflow.total", len(items)),
		attribute.Int("workflow.batch_size", opts.BatchSize),
	))
	defer span.End()

	e.track(run)
	e.events.Publish(EventWorkflowStarted, WorkflowStartedPayload{
		WorkflowID: run.id,
		Type:       typ,
		Total:      len(items),
	})
	log.Info("workflow started", "type", typ, "total", len(items), "batch_size", opts.BatchSize)

	runErr := e.runBatches(ctx, run, items, opts)

	status := model.WorkflowCompleted
	if runErr != nil {
		status = model.WorkflowError
	}
	results := run.finish(status, runErr)
	e.metrics.RecordWorkflow(typ, status, results)
	e.archive(run)

	span.SetAttributes(
		attribute.Int("workflow.successful", results.Successful),
		attribute.Int("workflow.failed", results.Failed),
	)

	if runErr != nil {
		span.RecordError(runErr)
		span.SetStatus(codes.Error, runErr.Error())
		e.events.Publish(EventWorkflowError, WorkflowErrorPayload{WorkflowID: run.id, Error: runErr.Error()})
		log.Error("workflow failed", "error", runErr, "processed", results.Processed, "total", results.Total)
		return run, runErr
	}

	e.events.Publish(EventWorkflowCompleted, WorkflowCompletedPayload{WorkflowID: run.id, Results: results})
	log.Info("workflow completed",
		"processed", results.Processed,
		"successful", results.Successful,
		"failed", results.Failed,
		"accuracy", results.Accuracy,
		"duration_ms", results.Duration.Milliseconds(),
	)
	return run, nil
}

func (e *Engine) runBatches(ctx context.Context, run *workflowRun, items []workItem, opts Options) error {
	pause := e.settings.Workflows.BatchPause

	for start := 0; start < len(items); start += opts.BatchSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := min(start+opts.BatchSize, len(items))

		var g errgroup.Group
		g.SetLimit(opts.BatchSize)
		for i := start; i < end; i++ {
			g.Go(func() error {
				run.record(i, e.processItem(ctx, items[i], opts), e.events)
				return nil
			})
		}
		_ = g.Wait()

		if end < len(items) && pause > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(pause):
			}
		}
	}
	return nil
}

func (e *Engine) processItem(ctx context.Context, item workItem, opts Options) *outcome {
	if item.ref == nil {
		return e.processDocument(ctx, item.doc, opts)
	}

	doc, err := e.sources.Fetch(ctx, *item.ref)
	if err != nil {
		return &outcome{failure: &model.DocumentError{
			DocumentID: item.ref.Key,
			FileName:   item.ref.Name,
			Reason:     fmt.Sprintf("fetch failed: %v", err),
		}}
	}
	out := e.processDocument(ctx, doc, opts)
	out.fetched = &doc
	out.ref = item.ref
	return out
}

// processDocument runs classify, map, validate, transform and then either
// sends the voucher or queues it.
func (e *Engine) processDocument(ctx context.Context, doc model.Document, opts Options) *outcome {
	log := logging.FromContext(ctx).With("document_id", doc.ID)

	cls := e.classifier.Classify(doc)
	typed := doc
	typed.Category = cls.Category
	if typed.Subcategory == "" {
		typed.Subcategory = cls.Subcategory
	}

	candidate := e.mapper.MapFields(typed)
	result := e.validator.Validate(candidate, opts.ValidationLevel)
	if !result.Accepted() {
		log.Debug("document rejected", "issues", result.Issues, "confidence", result.Confidence)
		return &outcome{failure: &model.DocumentError{
			DocumentID: doc.ID,
			FileName:   doc.FileName,
			Reason:     "validation failed",
			Issues:     result.Issues,
		}}
	}

	v := ToLedgerVoucher(candidate, cls.Category)
	if v.DocumentID == "" {
		v.DocumentID = doc.ID
	}
	if v.Date.IsZero() && !doc.ReceivedAt.IsZero() {
		v.Date = calendarDate(doc.ReceivedAt)
	}
	v.ConflictPolicy = opts.ConflictResolution

	out := &outcome{voucher: &v, confidence: result.Confidence}

	if opts.AutoSync {
		sent := e.client.Send(ctx, v)
		if sent.Success {
			v.SyncStatus = model.SyncSynced
			v.ExternalID = sent.ExternalID
			out.synced = true
			log.Debug("voucher synced", "voucher_id", v.ID, "external_id", sent.ExternalID)
			return out
		}
		v.SyncStatus = model.SyncFailed
		v.Attempts = 1
		v.LastError = sent.Error
		v.Permanent = v.Attempts >= e.settings.RealTimeSync.RetryAttempts
		log.Warn("voucher send failed, queued for retry", "voucher_id", v.ID, "error", sent.Error)
	}

	if err := e.queue.Enqueue(context.WithoutCancel(ctx), v); err != nil {
		return &outcome{failure: &model.DocumentError{
			DocumentID: doc.ID,
			FileName:   doc.FileName,
			Reason:     fmt.Sprintf("enqueue failed: %v", err),
		}}
	}
	out.queued = true
	return out
}

// IsCancelled reports whether err is a context cancellation or timeout.
func IsCancelled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
