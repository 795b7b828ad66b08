// Package resolver materializes a job's declared inputs from the event
// log: a single streaming pass that decodes each resolved artifact's blob
// and keys the result under both its full canonical ID and its bare kind.
package resolver

import (
	"github.com/scenegraph/pipeline/pkg/blobstore"
	"github.com/scenegraph/pipeline/pkg/eventlog"
	"github.com/scenegraph/pipeline/pkg/ident"
	"github.com/scenegraph/pipeline/pkg/schemas"
)

// Request describes what to resolve: the set of artifact IDs a job (or the
// condition evaluator) needs materialized from the current movie state.
type Request struct {
	ArtifactIDs []string
}

// Resolve performs the single-pass resolution described in spec.md §4.9,
// returning decoded payloads keyed by both full canonical ID and bare kind.
func Resolve(log *eventlog.Log, blobs *blobstore.Store, req Request) (map[string]interface{}, error) {
	wanted := make(map[string]bool, len(req.ArtifactIDs))
	for _, id := range req.ArtifactIDs {
		wanted[id] = true
	}

	latest := map[string]schemas.ArtefactEvent{}
	err := log.StreamArtefacts(func(e schemas.ArtefactEvent) {
		if !wanted[e.ArtefactID] || e.Status != schemas.ArtefactSucceeded {
			return
		}
		latest[e.ArtefactID] = e
	})
	if err != nil {
		return nil, err
	}

	out := map[string]interface{}{}
	for id, event := range latest {
		if event.Output.Blob == nil {
			continue
		}
		decoded, err := blobs.ReadDecoded(event.Output.Blob.Hash, event.Output.Blob.MimeType)
		if err != nil {
			return nil, err
		}
		out[id] = decoded
		if bare, err := ident.ExtractKind(id); err == nil {
			out[bare] = decoded
		}
	}
	return out, nil
}

// FindFailedArtefacts returns the subset of req.ArtifactIDs whose latest
// event (of any status) is "failed" — used by the dispatcher to
// short-circuit a job whose upstream artefact failed.
func FindFailedArtefacts(log *eventlog.Log, artifactIDs []string) ([]string, error) {
	wanted := make(map[string]bool, len(artifactIDs))
	for _, id := range artifactIDs {
		wanted[id] = true
	}

	latest := map[string]schemas.ArtefactEvent{}
	err := log.StreamArtefacts(func(e schemas.ArtefactEvent) {
		if wanted[e.ArtefactID] {
			latest[e.ArtefactID] = e
		}
	})
	if err != nil {
		return nil, err
	}

	var failed []string
	for id, e := range latest {
		if e.Status == schemas.ArtefactFailed {
			failed = append(failed, id)
		}
	}
	return failed, nil
}
