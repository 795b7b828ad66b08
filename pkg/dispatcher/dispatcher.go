// Package dispatcher executes a plan's layers in order, running each
// layer's jobs with a bounded worker pool: upstream-failure short-circuit,
// condition-gated input resolution, system input injection, blob write plus
// event append per produced artefact, and cooperative cancellation between
// layers.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/scenegraph/pipeline/pkg/blobstore"
	"github.com/scenegraph/pipeline/pkg/condition"
	"github.com/scenegraph/pipeline/pkg/eventlog"
	"github.com/scenegraph/pipeline/pkg/ident"
	"github.com/scenegraph/pipeline/pkg/manifest"
	"github.com/scenegraph/pipeline/pkg/produce"
	"github.com/scenegraph/pipeline/pkg/resolver"
	"github.com/scenegraph/pipeline/pkg/schemas"
)

// Options controls one Execute call beyond the plan itself.
type Options struct {
	Concurrency int
	OnProgress  func(Event)
}

// Event is one progress notification emitted during Execute.
type Event struct {
	Type       string // layer-start | layer-skipped | job-complete | layer-complete | execution-complete
	LayerIndex int
	JobID      string
	Status     schemas.ArtefactStatus
	Reason     string
	Succeeded  int
	Failed     int
	Skipped    int
}

// RunContext is the movie-scoped collaborators a run needs: the base
// manifest it diffs against, and the stores/services it writes through.
type RunContext struct {
	MovieID          string
	ManifestBaseHash string
	Blobs            *blobstore.Store
	Log              *eventlog.Log
	Manifest         *manifest.Service
	Producer         *produce.Producer

	StorageRoot     string
	StorageBasePath string
}

// RunResult is Execute's outcome.
type RunResult struct {
	RunID         string
	Status        string // succeeded | failed
	FailureReason string
	Manifest      schemas.Manifest
}

// Dispatcher holds the cross-cutting collaborators threaded through every
// run: structured logging and per-job tracing.
type Dispatcher struct {
	logger *zap.Logger
	tracer trace.Tracer
}

// New builds a Dispatcher. A nil logger/tracer falls back to a no-op
// implementation so callers that don't care about observability don't have
// to construct one.
func New(logger *zap.Logger, tracer trace.Tracer) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if tracer == nil {
		tracer = trace.NewNoopTracerProvider().Tracer("dispatcher")
	}
	return &Dispatcher{logger: logger, tracer: tracer}
}

// Execute runs plan's layers strictly in order, with up to opts.Concurrency
// jobs running at once within a layer.
func (d *Dispatcher) Execute(ctx context.Context, rc RunContext, plan schemas.Plan, opts Options) (RunResult, error) {
	if opts.Concurrency < 1 {
		return RunResult{}, &schemas.EngineError{
			Code:    schemas.ErrInvalidRerunFromValue,
			Message: fmt.Sprintf("concurrency must be >= 1, got %d", opts.Concurrency),
		}
	}

	runID := uuid.NewString()
	emit := func(e Event) {
		if opts.OnProgress != nil {
			opts.OnProgress(e)
		}
	}

	skippedByLayer := map[int][]schemas.Job{}
	for _, j := range plan.SkippedJobs {
		skippedByLayer[j.LayerHint] = append(skippedByLayer[j.LayerHint], j)
	}

	d.logger.Info("execution-start", zap.String("movieId", rc.MovieID), zap.String("runId", runID))

	for layerIdx, layer := range plan.Layers {
		if len(layer) == 0 {
			if skipped, ok := skippedByLayer[layerIdx]; ok && len(skipped) > 0 {
				emit(Event{Type: "layer-skipped", LayerIndex: layerIdx, Reason: "reRunFrom", Skipped: len(skipped)})
				d.logger.Info("layer-skipped", zap.Int("layer", layerIdx), zap.Int("jobs", len(skipped)))
				continue
			}
			emit(Event{Type: "layer-start", LayerIndex: layerIdx})
			emit(Event{Type: "layer-complete", LayerIndex: layerIdx})
			continue
		}

		emit(Event{Type: "layer-start", LayerIndex: layerIdx})
		d.logger.Info("layer-start", zap.Int("layer", layerIdx), zap.Int("jobs", len(layer)))

		if ctx.Err() != nil {
			return d.cancelledResult(runID, ctx), nil
		}

		counts := d.runLayer(ctx, rc, layerIdx, layer, opts.Concurrency, emit)

		emit(Event{Type: "layer-complete", LayerIndex: layerIdx,
			Succeeded: counts[schemas.ArtefactSucceeded],
			Failed:    counts[schemas.ArtefactFailed],
			Skipped:   counts[schemas.ArtefactSkipped]})
		d.logger.Info("layer-complete", zap.Int("layer", layerIdx),
			zap.Int("succeeded", counts[schemas.ArtefactSucceeded]),
			zap.Int("failed", counts[schemas.ArtefactFailed]),
			zap.Int("skipped", counts[schemas.ArtefactSkipped]))

		if ctx.Err() != nil {
			return d.cancelledResult(runID, ctx), nil
		}
	}

	finalManifest, err := d.finalizeManifest(rc, plan)
	if err != nil {
		return RunResult{RunID: runID, Status: "failed", FailureReason: err.Error()}, err
	}

	emit(Event{Type: "execution-complete"})
	d.logger.Info("execution-complete", zap.String("runId", runID), zap.String("revision", finalManifest.Revision))
	return RunResult{RunID: runID, Status: "succeeded", Manifest: finalManifest}, nil
}

func (d *Dispatcher) cancelledResult(runID string, ctx context.Context) RunResult {
	d.logger.Warn("execution-cancelled", zap.String("runId", runID), zap.Error(ctx.Err()))
	return RunResult{RunID: runID, Status: "failed", FailureReason: "cancelled: " + ctx.Err().Error()}
}

// runLayer spawns up to concurrency workers bounded by a weighted semaphore,
// each pulling one job, and waits for all of them to finish before returning.
func (d *Dispatcher) runLayer(ctx context.Context, rc RunContext, layerIdx int, layer []schemas.Job, concurrency int, emit func(Event)) map[schemas.ArtefactStatus]int {
	sem := semaphore.NewWeighted(int64(concurrency))
	g, gctx := errgroup.WithContext(ctx)

	var mu sync.Mutex
	counts := map[schemas.ArtefactStatus]int{}

	for _, job := range layer {
		job := job
		if err := sem.Acquire(gctx, 1); err != nil {
			// context canceled while waiting for a slot: stop launching new jobs
			// in this layer, but let already-dispatched ones finish.
			break
		}
		g.Go(func() error {
			defer sem.Release(1)
			status := d.runJob(gctx, rc, layerIdx, job)
			mu.Lock()
			counts[status]++
			mu.Unlock()
			emit(Event{Type: "job-complete", LayerIndex: layerIdx, JobID: job.JobID, Status: status})
			return nil
		})
	}
	_ = g.Wait()
	return counts
}

// runJob resolves a job's inputs, calls produce, and appends one artefact
// event per produced artefact. It never returns an error: failures and
// skips are recorded as artefact events, matching spec's "non-succeeded
// result is terminal for this run, not a dispatcher-level error."
func (d *Dispatcher) runJob(ctx context.Context, rc RunContext, layerIdx int, job schemas.Job) schemas.ArtefactStatus {
	spanCtx, span := d.tracer.Start(ctx, "dispatcher.job",
		trace.WithAttributes(attribute.String("job.id", job.JobID), attribute.Int("layer", layerIdx)))
	defer span.End()

	failed, err := resolver.FindFailedArtefacts(rc.Log, job.DeclaredInputs)
	if err != nil {
		d.recordJobFailure(rc, job, fmt.Sprintf("failed to check upstream status: %v", err))
		return schemas.ArtefactFailed
	}
	if len(failed) > 0 {
		d.recordJobSkip(rc, job, fmt.Sprintf("upstream artefact(s) failed: %v", failed))
		return schemas.ArtefactSkipped
	}

	resolved, err := resolver.Resolve(rc.Log, rc.Blobs, resolver.Request{ArtifactIDs: job.DeclaredInputs})
	if err != nil {
		d.recordJobFailure(rc, job, fmt.Sprintf("failed to resolve inputs: %v", err))
		return schemas.ArtefactFailed
	}

	// InputConditions is keyed by the canonical ID of the conditioned source,
	// matching how the expander attaches a connection's condition. A job's
	// input is materialized only if every attached condition for it is
	// satisfied; if a dropped input is required (it backs an InputBindings
	// entry), the whole job is skipped, not just that input.
	for canonicalID, cond := range job.InputConditions {
		node, ok := cond.Clause.(condition.Node)
		if !ok {
			continue
		}
		result, err := condition.Evaluate(node, cond.Dims, resolved)
		if err != nil {
			d.recordJobFailure(rc, job, fmt.Sprintf("condition evaluation failed for %s: %v", canonicalID, err))
			return schemas.ArtefactFailed
		}
		if result.Satisfied {
			continue
		}
		delete(resolved, canonicalID)
		if bare, err := ident.ExtractKind(canonicalID); err == nil {
			delete(resolved, bare)
		}
		if cond.Required {
			d.recordJobSkip(rc, job, fmt.Sprintf("required input %s dropped by unsatisfied condition", canonicalID))
			return schemas.ArtefactSkipped
		}
	}

	for localName, canonicalID := range job.InputBindings {
		if _, ok := resolved[canonicalID]; !ok {
			d.recordJobSkip(rc, job, fmt.Sprintf("required input %s (%s) unresolved", localName, canonicalID))
			return schemas.ArtefactSkipped
		}
	}

	injectSystemInputs(resolved, rc, job)

	result, err := rc.Producer.Produce(spanCtx, produce.Request{
		MovieID:        rc.MovieID,
		Job:            job,
		LayerIndex:     layerIdx,
		Attempt:        1,
		ResolvedInputs: resolved,
	})
	if err != nil {
		d.recordJobFailure(rc, job, fmt.Sprintf("produce failed: %v", err))
		return schemas.ArtefactFailed
	}

	for _, artefact := range result.Artefacts {
		event := schemas.ArtefactEvent{ArtefactID: artefact.ArtefactID, Status: artefact.Status}
		if artefact.Blob != nil {
			ref, err := rc.Blobs.Write(artefact.Blob.Data, artefact.Blob.MimeType)
			if err != nil {
				event.Status = schemas.ArtefactFailed
				event.Output = schemas.ArtefactOutput{Failure: &schemas.FailureInfo{Message: err.Error()}}
			} else {
				event.Output = schemas.ArtefactOutput{Blob: &schemas.BlobRef{Hash: ref.Hash, Size: ref.Size, MimeType: artefact.Blob.MimeType}}
			}
		} else if artefact.Status != schemas.ArtefactSucceeded {
			event.Output = schemas.ArtefactOutput{
				Failure: &schemas.FailureInfo{Message: artefact.Diagnostics},
			}
		}
		if appendErr := rc.Log.AppendArtefact(event); appendErr != nil {
			d.logger.Error("failed to append artefact event", zap.String("jobId", job.JobID), zap.Error(appendErr))
		}
	}

	return result.Status
}

func (d *Dispatcher) recordJobFailure(rc RunContext, job schemas.Job, reason string) {
	d.logger.Error("job-failed", zap.String("jobId", job.JobID), zap.String("reason", reason))
	for _, artefactID := range job.Produces {
		_ = rc.Log.AppendArtefact(schemas.ArtefactEvent{
			ArtefactID: artefactID,
			Status:     schemas.ArtefactFailed,
			Output:     schemas.ArtefactOutput{Failure: &schemas.FailureInfo{Code: schemas.ErrGraphExpansionError, Message: reason}},
		})
	}
}

func (d *Dispatcher) recordJobSkip(rc RunContext, job schemas.Job, reason string) {
	d.logger.Warn("job-skipped", zap.String("jobId", job.JobID), zap.String("reason", reason))
	for _, artefactID := range job.Produces {
		_ = rc.Log.AppendArtefact(schemas.ArtefactEvent{
			ArtefactID: artefactID,
			Status:     schemas.ArtefactSkipped,
			Output:     schemas.ArtefactOutput{Skipped: &schemas.SkipInfo{Reason: reason}},
		})
	}
}

// injectSystemInputs fills in MovieId, StorageRoot, StorageBasePath, and the
// derived SegmentDuration (Duration/NumOfSegments) whenever the caller
// hasn't already supplied them.
func injectSystemInputs(resolved map[string]interface{}, rc RunContext, job schemas.Job) {
	if _, ok := resolved["MovieId"]; !ok {
		resolved["MovieId"] = rc.MovieID
	}
	if _, ok := resolved["StorageRoot"]; !ok {
		resolved["StorageRoot"] = rc.StorageRoot
	}
	if _, ok := resolved["StorageBasePath"]; !ok {
		resolved["StorageBasePath"] = rc.StorageBasePath
	}
	if _, ok := resolved["SegmentDuration"]; ok {
		return
	}

	total, hasDuration := resolved["Duration"]
	segments, hasSegments := resolved["NumOfSegments"]
	if !hasDuration || !hasSegments {
		return
	}
	totalSeconds, ok := toFloat(total)
	if !ok {
		return
	}
	numSegments, ok := toFloat(segments)
	if !ok || numSegments == 0 {
		return
	}
	resolved["SegmentDuration"] = totalSeconds / numSegments
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// finalizeManifest builds the manifest from the accumulated event-log
// deltas — via the same selection manifest.RebuildFromEvents uses, so a
// live-saved manifest and one later rebuilt from the log are
// byte-identical — and saves it, rotating current.json.
func (d *Dispatcher) finalizeManifest(rc RunContext, plan schemas.Plan) (schemas.Manifest, error) {
	m, err := manifest.BuildManifestFromLog(rc.Log)
	if err != nil {
		return schemas.Manifest{}, fmt.Errorf("building manifest from event log: %w", err)
	}
	return rc.Manifest.SaveManifest(m, rc.ManifestBaseHash)
}
