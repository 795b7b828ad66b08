// Package planner diffs a prior manifest against a target revision's
// pending edits to compute the dirty set, then topologically layers the
// producer graph's jobs for the dispatcher, applying reRunFrom/upToLayer
// filters.
package planner

import (
	"fmt"
	"sort"

	"github.com/scenegraph/pipeline/pkg/schemas"
)

// Options controls planning beyond the graph diff itself.
type Options struct {
	ReRunFrom             *int
	UpToLayer             *int
	ArtifactRegenerations []string // artifact IDs to force-regenerate regardless of dirtiness
}

// Plan computes the execution plan for jobs given priorManifest (possibly
// nil for a first run), the consolidated input set with any pending edits
// already merged in (keyed by canonical Input: ID, valued by payload
// digest), and opts.
func Plan(jobs []schemas.Job, priorManifest *schemas.Manifest, pendingInputDigests map[string]string, opts Options) (schemas.Plan, error) {
	if err := validateOptions(opts); err != nil {
		return schemas.Plan{}, err
	}

	dirtyInputs := computeDirtyInputs(priorManifest, pendingInputDigests)
	dirtyArtifacts := computeDirtyArtifacts(jobs, dirtyInputs, opts.ArtifactRegenerations)

	layers := topologicalLayers(jobs)
	blueprintLayerCount := len(layers)

	if err := checkRerunConsistency(opts, blueprintLayerCount); err != nil {
		return schemas.Plan{}, err
	}

	layers = filterCacheHits(layers, priorManifest, dirtyArtifacts)
	layers, skipped := applyReRunFrom(layers, opts.ReRunFrom)
	layers = applyUpToLayer(layers, opts.UpToLayer)

	return schemas.Plan{
		Layers:              layers,
		BlueprintLayerCount: blueprintLayerCount,
		SkippedJobs:         skipped,
	}, nil
}

func validateOptions(opts Options) error {
	if opts.ReRunFrom != nil && *opts.ReRunFrom < 0 {
		return &schemas.EngineError{Code: schemas.ErrInvalidRerunFromValue, Message: fmt.Sprintf("reRunFrom must be non-negative, got %d", *opts.ReRunFrom)}
	}
	if opts.UpToLayer != nil && *opts.UpToLayer < 0 {
		return &schemas.EngineError{Code: schemas.ErrInvalidRerunFromValue, Message: fmt.Sprintf("upToLayer must be non-negative, got %d", *opts.UpToLayer)}
	}
	return nil
}

func checkRerunConsistency(opts Options, blueprintLayerCount int) error {
	if opts.ReRunFrom == nil {
		return nil
	}
	from := *opts.ReRunFrom
	if from > blueprintLayerCount-1 {
		return &schemas.EngineError{Code: schemas.ErrRerunFromExceedsLayers, Message: fmt.Sprintf("reRunFrom %d exceeds blueprint layer count %d", from, blueprintLayerCount)}
	}
	if opts.UpToLayer != nil && from > *opts.UpToLayer {
		return &schemas.EngineError{Code: schemas.ErrRerunFromGreaterThanUp, Message: fmt.Sprintf("reRunFrom %d greater than upToLayer %d", from, *opts.UpToLayer)}
	}
	return nil
}

// computeDirtyInputs diffs payload digests between the base manifest and
// the consolidated (base + pending edits) input set.
func computeDirtyInputs(prior *schemas.Manifest, pendingDigests map[string]string) map[string]bool {
	dirty := map[string]bool{}
	var baseInputs map[string]schemas.ManifestInput
	if prior != nil {
		baseInputs = prior.Inputs
	}
	for id, digest := range pendingDigests {
		base, ok := baseInputs[id]
		if !ok || base.PayloadDigest != digest {
			dirty[id] = true
		}
	}
	return dirty
}

// computeDirtyArtifacts performs a BFS from dirty inputs through the
// producer graph: a job is dirty if any declared input is dirty, any
// upstream producer is dirty, or it produces a regeneration target.
func computeDirtyArtifacts(jobs []schemas.Job, dirtyInputs map[string]bool, regenTargets []string) map[string]bool {
	producerOf := map[string]string{}
	for _, j := range jobs {
		for _, a := range j.Produces {
			producerOf[a] = j.JobID
		}
	}

	regen := map[string]bool{}
	for _, a := range regenTargets {
		regen[a] = true
	}

	consumersOf := map[string][]string{} // jobID (producer) -> jobIDs that consume one of its artifacts
	for _, j := range jobs {
		for _, in := range j.DeclaredInputs {
			if upstream, ok := producerOf[in]; ok {
				consumersOf[upstream] = append(consumersOf[upstream], j.JobID)
			}
		}
	}

	dirtyJob := map[string]bool{}
	queue := []string{}
	for _, j := range jobs {
		isDirty := false
		for _, in := range j.DeclaredInputs {
			if dirtyInputs[in] {
				isDirty = true
			}
		}
		for _, a := range j.Produces {
			if regen[a] {
				isDirty = true
			}
		}
		if isDirty && !dirtyJob[j.JobID] {
			dirtyJob[j.JobID] = true
			queue = append(queue, j.JobID)
		}
	}

	for len(queue) > 0 {
		jobID := queue[0]
		queue = queue[1:]
		for _, downstream := range consumersOf[jobID] {
			if !dirtyJob[downstream] {
				dirtyJob[downstream] = true
				queue = append(queue, downstream)
			}
		}
	}

	dirtyArtifacts := map[string]bool{}
	for _, j := range jobs {
		if dirtyJob[j.JobID] {
			for _, a := range j.Produces {
				dirtyArtifacts[a] = true
			}
		}
	}
	return dirtyArtifacts
}

// topologicalLayers assigns layer(job) = 1 + max(layer(upstream)), with
// independent jobs at layer 0, breaking ties lexicographically by JobID
// within a layer for stable output.
func topologicalLayers(jobs []schemas.Job) [][]schemas.Job {
	producerOf := map[string]string{}
	byJob := map[string]schemas.Job{}
	for _, j := range jobs {
		byJob[j.JobID] = j
		for _, a := range j.Produces {
			producerOf[a] = j.JobID
		}
	}

	layerOf := map[string]int{}

	var computeLayer func(jobID string, visiting map[string]bool) int
	computeLayer = func(jobID string, visiting map[string]bool) int {
		if l, ok := layerOf[jobID]; ok {
			return l
		}
		visiting[jobID] = true
		max := -1
		for _, in := range byJob[jobID].DeclaredInputs {
			upstream, ok := producerOf[in]
			if !ok || visiting[upstream] {
				continue
			}
			if l := computeLayer(upstream, visiting); l > max {
				max = l
			}
		}
		delete(visiting, jobID)
		layer := max + 1
		layerOf[jobID] = layer
		return layer
	}

	maxLayer := 0
	for _, j := range jobs {
		if l := computeLayer(j.JobID, map[string]bool{}); l > maxLayer {
			maxLayer = l
		}
	}

	layers := make([][]schemas.Job, maxLayer+1)
	for _, j := range jobs {
		l := layerOf[j.JobID]
		j.LayerHint = l
		layers[l] = append(layers[l], j)
	}
	for i := range layers {
		sort.Slice(layers[i], func(a, b int) bool { return layers[i][a].JobID < layers[i][b].JobID })
	}
	return layers
}

// filterCacheHits drops jobs whose produced artifacts are all already
// present in the prior manifest and not dirty.
func filterCacheHits(layers [][]schemas.Job, prior *schemas.Manifest, dirtyArtifacts map[string]bool) [][]schemas.Job {
	if prior == nil {
		return layers
	}
	out := make([][]schemas.Job, len(layers))
	for i, layer := range layers {
		var kept []schemas.Job
		for _, j := range layer {
			if isCacheHit(j, prior, dirtyArtifacts) {
				continue
			}
			kept = append(kept, j)
		}
		out[i] = kept
	}
	return out
}

func isCacheHit(j schemas.Job, prior *schemas.Manifest, dirtyArtifacts map[string]bool) bool {
	if len(j.Produces) == 0 {
		return false
	}
	for _, a := range j.Produces {
		if dirtyArtifacts[a] {
			return false
		}
		entry, ok := prior.Artefacts[a]
		if !ok || entry.Status != schemas.ArtefactSucceeded {
			return false
		}
	}
	return true
}

// applyReRunFrom marks layers below the cutoff as skipped (kept for
// traceability) rather than dropping them silently.
func applyReRunFrom(layers [][]schemas.Job, reRunFrom *int) ([][]schemas.Job, []schemas.Job) {
	if reRunFrom == nil {
		return layers, nil
	}
	var skipped []schemas.Job
	for i := 0; i < *reRunFrom && i < len(layers); i++ {
		for _, j := range layers[i] {
			j.LayerHint = i
			skipped = append(skipped, j)
		}
		layers[i] = nil
	}
	return layers, skipped
}

// applyUpToLayer drops all layers beyond the cutoff entirely.
func applyUpToLayer(layers [][]schemas.Job, upToLayer *int) [][]schemas.Job {
	if upToLayer == nil {
		return layers
	}
	if *upToLayer+1 < len(layers) {
		return layers[:*upToLayer+1]
	}
	return layers
}
